package download

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wincachefs/wincachefs/pkg/types"
)

// TestSingleFlight queues 5 downloads of the same vp to a 3-worker
// manager; exactly one performs I/O, the other four receive InProgress.
func TestSingleFlight(t *testing.T) {
	var ioCount int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, loc types.UpstreamLocation) ([]byte, error) {
		atomic.AddInt32(&ioCount, 1)
		<-release
		return []byte("payload"), nil
	}

	m := New(3, fetch)
	defer m.Shutdown()

	var wg sync.WaitGroup
	statuses := make([]Status, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done := make(chan struct{})
			status := m.QueueDownload(Task{
				VirtualPath:      "/x",
				UpstreamLocation: "loc",
				Completion: func(s Status, data []byte, err error) {
					statuses[i] = s
					close(done)
				},
			})
			if status == StatusPending {
				<-done
			} else {
				statuses[i] = status
			}
		}(i)
	}

	// Give the first queued task time to be picked up before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&ioCount))

	pendingOrOk, inProgress := 0, 0
	for _, s := range statuses {
		switch s {
		case StatusOk:
			pendingOrOk++
		case StatusInProgress:
			inProgress++
		}
	}
	require.Equal(t, 1, pendingOrOk)
	require.Equal(t, 4, inProgress)
}

func TestQueueDownloadReturnsCancelledAfterShutdown(t *testing.T) {
	m := New(1, func(ctx context.Context, loc types.UpstreamLocation) ([]byte, error) { return nil, nil })
	m.Shutdown()

	done := make(chan Status, 1)
	status := m.QueueDownload(Task{
		VirtualPath: "/y",
		Completion:  func(s Status, data []byte, err error) { done <- s },
	})
	require.Equal(t, StatusCancelled, status)
	require.Equal(t, StatusCancelled, <-done)
}

func TestNeverCachePolicyBypassesFetch(t *testing.T) {
	fetchCalled := false
	m := New(1, func(ctx context.Context, loc types.UpstreamLocation) ([]byte, error) {
		fetchCalled = true
		return []byte("x"), nil
	})
	defer m.Shutdown()

	done := make(chan Status, 1)
	m.QueueDownload(Task{
		VirtualPath: "/z",
		Policy:      types.NeverCache,
		Completion:  func(s Status, data []byte, err error) { done <- s },
	})
	require.Equal(t, StatusOk, <-done)
	require.False(t, fetchCalled)
}

func TestCancelAllowsRequeue(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	m := New(1, func(ctx context.Context, loc types.UpstreamLocation) ([]byte, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-block
		}
		return []byte("ok"), nil
	})
	defer func() {
		close(block)
		m.Shutdown()
	}()

	done1 := make(chan Status, 1)
	m.QueueDownload(Task{VirtualPath: "/w", Completion: func(s Status, d []byte, e error) { done1 <- s }})

	// While in flight, cancel releases it from the active set.
	time.Sleep(20 * time.Millisecond)
	m.Cancel("/w")

	done2 := make(chan Status, 1)
	status := m.QueueDownload(Task{VirtualPath: "/w", Completion: func(s Status, d []byte, e error) { done2 <- s }})
	require.Equal(t, StatusPending, status)
}

func TestShutdownCancelsQueuedTasks(t *testing.T) {
	block := make(chan struct{})
	m := New(1, func(ctx context.Context, loc types.UpstreamLocation) ([]byte, error) {
		<-block
		return nil, nil
	})

	done1 := make(chan Status, 1)
	m.QueueDownload(Task{VirtualPath: "/a", Completion: func(s Status, d []byte, e error) { done1 <- s }})
	time.Sleep(20 * time.Millisecond) // ensure worker has popped /a

	done2 := make(chan Status, 1)
	m.QueueDownload(Task{VirtualPath: "/b", Completion: func(s Status, d []byte, e error) { done2 <- s }})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	m.Shutdown()

	require.Equal(t, StatusCancelled, <-done2)
}
