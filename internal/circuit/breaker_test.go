package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	werrors "github.com/wincachefs/wincachefs/pkg/errors"
)

func transportErr() error {
	return werrors.New(werrors.ErrCodeUpstreamIO, "share unreachable")
}

func fatalErr() error {
	return werrors.New(werrors.ErrCodeAccessDenied, "share refused credentials")
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Execute(context.Background(), func(context.Context) error {
			return transportErr()
		})
		require.Error(t, err)
	}
}

func TestTripsAfterConsecutiveTransportFailures(t *testing.T) {
	b := New("upstream.test", Config{FailureThreshold: 3, Timeout: time.Minute})

	failN(t, b, 2)
	require.Equal(t, StateClosed, b.State())

	failN(t, b, 1)
	require.Equal(t, StateOpen, b.State())
}

func TestOpenFailsFastWithRetryableCircuitOpenError(t *testing.T) {
	b := New("upstream.test", Config{FailureThreshold: 1, Timeout: time.Minute})
	failN(t, b, 1)

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.False(t, called, "open breaker must not touch the network")

	var wfErr *werrors.Error
	require.ErrorAs(t, err, &wfErr)
	require.Equal(t, werrors.ErrCodeCircuitOpen, wfErr.Code)
	// A wrapping Retryer classifies this as retryable, so its backoff
	// can ride out the cool-down instead of surfacing immediately.
	require.True(t, wfErr.Retryable)
}

func TestFatalErrorProvesReachabilityAndResetsStreak(t *testing.T) {
	b := New("upstream.test", Config{FailureThreshold: 3, Timeout: time.Minute})

	failN(t, b, 2)
	err := b.Execute(context.Background(), func(context.Context) error {
		return fatalErr()
	})
	require.Error(t, err)

	// The fatal error completed a round trip, so two more transport
	// failures start a fresh streak below the threshold.
	failN(t, b, 2)
	require.Equal(t, StateClosed, b.State())
}

func TestCancelledCallDoesNotCount(t *testing.T) {
	b := New("upstream.test", Config{FailureThreshold: 1, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	err := b.Execute(ctx, func(context.Context) error {
		cancel()
		return transportErr()
	})
	require.Error(t, err)
	require.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAdmitsOneProbeAtATime(t *testing.T) {
	b := New("upstream.test", Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond})
	failN(t, b, 1)
	time.Sleep(15 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	require.Equal(t, StateHalfOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	var wfErr *werrors.Error
	require.ErrorAs(t, err, &wfErr)
	require.Equal(t, werrors.ErrCodeCircuitOpen, wfErr.Code)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, StateClosed, b.State())
}

func TestProbeFailureReopens(t *testing.T) {
	b := New("upstream.test", Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond})
	failN(t, b, 1)
	time.Sleep(15 * time.Millisecond)

	failN(t, b, 1) // the probe
	require.Equal(t, StateOpen, b.State())
}

func TestStateHookObservesTransitions(t *testing.T) {
	b := New("upstream.test", Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond})

	type hop struct{ from, to State }
	var hops []hop
	b.SetStateHook(func(from, to State) { hops = append(hops, hop{from, to}) })

	failN(t, b, 1)
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))

	require.Equal(t, []hop{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, hops)
}

func TestDefaultsApplied(t *testing.T) {
	b := New("upstream.test", Config{})
	require.Equal(t, 5, b.cfg.FailureThreshold)
	require.Equal(t, 30*time.Second, b.cfg.Timeout)
}
