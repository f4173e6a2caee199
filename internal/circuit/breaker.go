// Package circuit sheds load from a faltering network share. The
// breaker guards one upstream.Reader's calls: a run of transport
// failures opens it, open calls fail fast without touching the network,
// and after a cool-down a single probe decides whether it closes again.
//
// Failure classification is shared with pkg/retry through pkg/errors:
// only errors the error package marks retryable (unreachable, timeout,
// upstream I/O) count toward the trip. A call that completes with a
// fatal error, say a missing object, proves the share is reachable and
// resets the streak. A context-cancelled call says nothing about share
// health, so neither counts.
package circuit

import (
	"context"
	stderr "errors"
	"sync"
	"time"

	"github.com/wincachefs/wincachefs/pkg/errors"
)

// State is the breaker's admission state. The numeric values are stable:
// the metrics collector exports them directly as a gauge.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateHalfOpen admits one probe at a time.
	StateHalfOpen
	// StateOpen fails every call fast until the cool-down elapses.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config carries the failure_threshold and timeout knobs of the
// `network.circuit_breaker` config section.
type Config struct {
	// FailureThreshold is the run of consecutive transport failures
	// that opens the breaker. Zero means 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// Timeout is how long the breaker stays open before admitting a
	// probe. Zero means 30 seconds.
	Timeout time.Duration `yaml:"timeout"`
}

// Breaker guards one upstream reader's network calls.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	consecutive int
	openedAt    time.Time
	probing     bool

	onStateChange func(from, to State)
}

// New constructs a closed Breaker. name tags the fail-fast error's
// component field.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg}
}

// SetStateHook wires an observation callback invoked on every state
// transition, outside the breaker's lock.
func (b *Breaker) SetStateHook(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// State returns the current admission state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the breaker admits it and counts the outcome.
// When the breaker is open (or a probe is already in flight), fn is not
// run and the error carries ErrCodeCircuitOpen, a code pkg/retry's
// default allowlist treats as retryable, so a wrapping Retryer's
// backoff can ride out the cool-down.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(ctx, err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.Timeout {
			b.mu.Unlock()
			return b.openErr("cool-down in progress")
		}
		hook := b.transition(StateHalfOpen)
		b.probing = true
		b.mu.Unlock()
		if hook != nil {
			hook(StateOpen, StateHalfOpen)
		}
		return nil

	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return b.openErr("probe already in flight")
		}
		b.probing = true
		b.mu.Unlock()
		return nil

	default:
		b.mu.Unlock()
		return nil
	}
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.probing = false
	}

	if !countsAsOutage(ctx, err) {
		// The share answered, even if the answer was an error: the
		// failure streak is over.
		b.consecutive = 0
		var hook func(from, to State)
		if b.state == StateHalfOpen {
			hook = b.transition(StateClosed)
		}
		b.mu.Unlock()
		if hook != nil {
			hook(StateHalfOpen, StateClosed)
		}
		return
	}

	b.consecutive++
	var from State
	var hook func(from, to State)
	switch b.state {
	case StateHalfOpen:
		from = StateHalfOpen
		hook = b.transition(StateOpen)
		b.openedAt = time.Now()
	case StateClosed:
		if b.consecutive >= b.cfg.FailureThreshold {
			from = StateClosed
			hook = b.transition(StateOpen)
			b.openedAt = time.Now()
		}
	}
	b.mu.Unlock()
	if hook != nil {
		hook(from, StateOpen)
	}
}

// transition requires b.mu held. It flips the state and returns the
// hook to invoke after unlocking, or nil when nothing is wired.
func (b *Breaker) transition(to State) func(from, to State) {
	b.state = to
	b.consecutive = 0
	return b.onStateChange
}

func (b *Breaker) openErr(detail string) error {
	return errors.New(errors.ErrCodeCircuitOpen, "upstream circuit open: "+detail).
		WithComponent(b.name)
}

// countsAsOutage decides whether a call outcome says the share is down.
// Cancellation is the caller's choice, and a fatal error still required
// a completed round trip, so only transport-shaped (retryable) errors
// count.
func countsAsOutage(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	var wfErr *errors.Error
	if stderr.As(err, &wfErr) {
		return wfErr.Retryable
	}
	// An error no layer classified: assume the worst about the share.
	return true
}
