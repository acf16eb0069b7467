package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned without calling out while the breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned while the half-open probe budget is in use
	ErrProbeInFlight = errors.New("circuit breaker is probing")
)

// State of a breaker
type State int32

const (
	StateClosed State = iota
	StateHalfOpen
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

// Settings tune a breaker. Zero values take the defaults noted per field.
type Settings struct {
	// Threshold is the run of consecutive failures that opens the breaker (5)
	Threshold uint32
	// Cooldown is how long the breaker stays open before probing (30s)
	Cooldown time.Duration
	// Probes is the number of concurrent trial calls while half-open, and
	// the number of successes that close the breaker again (1)
	Probes uint32
	// IsFailure classifies a call error. By default a cancelled context is
	// not a failure: the caller gave up, the service did not.
	IsFailure func(err error) bool
	// OnStateChange is called with the breaker lock held
	OnStateChange func(name string, from, to State)
	// Now is the breaker clock (time.Now)
	Now func() time.Time
}

// Counts are running totals since the breaker was created
type Counts struct {
	Calls               uint64
	Failures            uint64
	Rejected            uint64
	ConsecutiveFailures uint32
}

// Breaker stops calls to a model service after it fails repeatedly, then
// lets a few probes through once the cooldown has passed.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped on every transition, stale outcomes are ignored
	streak   uint32
	inflight uint32
	wins     uint32
	openedAt time.Time
	counts   Counts
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Breaker{name: name, settings: settings}
}

func (b *Breaker) Name() string {
	return b.name
}

// State reports the current state, moving an expired open breaker to half-open
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh(b.settings.Now())
	return b.state
}

// Counts returns a snapshot of the running totals
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.counts
	c.ConsecutiveFailures = b.streak
	return c
}

// Call runs fn through b. A panic in fn counts as a failure and is re-raised.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	epoch, err := b.admit()
	if err != nil {
		return zero, err
	}

	settled := false
	defer func() {
		if !settled {
			b.settle(epoch, true)
		}
	}()

	result, err := fn(ctx)
	settled = true
	b.settle(epoch, b.settings.IsFailure(err))
	return result, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh(b.settings.Now())
	switch b.state {
	case StateOpen:
		b.counts.Rejected++
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if b.inflight >= b.settings.Probes {
			b.counts.Rejected++
			return 0, ErrProbeInFlight
		}
		b.inflight++
	}
	b.counts.Calls++
	return b.epoch, nil
}

func (b *Breaker) settle(epoch uint64, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.counts.Failures++
	}
	if epoch != b.epoch {
		return
	}
	if b.state == StateHalfOpen {
		b.inflight--
	}

	now := b.settings.Now()
	if failed {
		b.streak++
		if b.state == StateHalfOpen || b.streak >= b.settings.Threshold {
			b.transition(StateOpen, now)
		}
		return
	}
	b.streak = 0
	if b.state == StateHalfOpen {
		b.wins++
		if b.wins >= b.settings.Probes {
			b.transition(StateClosed, now)
		}
	}
}

// refresh requires b.mu
func (b *Breaker) refresh(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.Cooldown {
		b.transition(StateHalfOpen, now)
	}
}

// transition requires b.mu
func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	b.state = to
	b.epoch++
	b.inflight, b.wins = 0, 0
	if to == StateOpen {
		b.openedAt = now
	} else {
		b.streak = 0
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
