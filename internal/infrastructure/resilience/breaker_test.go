package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errModelDown = errors.New("model service unavailable")

func succeed(context.Context) (string, error) { return "ok", nil }
func fail(context.Context) (string, error)    { return "", errModelDown }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newBreaker(s Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s.Now = clock.Now
	return New("model", s), clock
}

func run(b *Breaker, outcomes ...bool) {
	for _, ok := range outcomes {
		fn := fail
		if ok {
			fn = succeed
		}
		_, _ = Call(context.Background(), b, fn)
	}
}

func TestBreakerOpensOnFailureRun(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool
		want     State
	}{
		{"successes keep it closed", []bool{true, true, true}, StateClosed},
		{"threshold failures open it", []bool{false, false, false}, StateOpen},
		{"a success resets the run", []bool{false, false, true, false, false}, StateClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBreaker(Settings{Threshold: 3})
			run(b, tt.outcomes...)
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New("model", Settings{})
	assert.Equal(t, uint32(5), b.settings.Threshold)
	assert.Equal(t, 30*time.Second, b.settings.Cooldown)
	assert.Equal(t, uint32(1), b.settings.Probes)
	assert.Equal(t, "model", b.Name())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCounts(t *testing.T) {
	b, _ := newBreaker(Settings{Threshold: 2})

	got, err := Call(context.Background(), b, succeed)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	_, err = Call(context.Background(), b, fail)
	assert.ErrorIs(t, err, errModelDown)
	assert.Equal(t, Counts{Calls: 2, Failures: 1, ConsecutiveFailures: 1}, b.Counts())

	run(b, false, false)
	counts := b.Counts()
	assert.Equal(t, uint64(3), counts.Calls)
	assert.Equal(t, uint64(1), counts.Rejected)
	assert.Equal(t, uint32(2), counts.ConsecutiveFailures)
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	b, _ := newBreaker(Settings{Threshold: 2})
	run(b, false, false)
	require.Equal(t, StateOpen, b.State())

	called := false
	_, err := Call(context.Background(), b, func(context.Context) (string, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerRecoversThroughProbes(t *testing.T) {
	b, clock := newBreaker(Settings{Threshold: 1, Cooldown: time.Minute, Probes: 2})
	run(b, false)
	require.Equal(t, StateOpen, b.State())

	clock.advance(59 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	clock.advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	run(b, true)
	assert.Equal(t, StateHalfOpen, b.State())
	run(b, true)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, clock := newBreaker(Settings{Threshold: 1, Cooldown: time.Second})
	run(b, false)
	clock.advance(time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	run(b, false)
	assert.Equal(t, StateOpen, b.State())

	// the cooldown restarts from the failed probe
	clock.advance(500 * time.Millisecond)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerLimitsConcurrentProbes(t *testing.T) {
	b, clock := newBreaker(Settings{Threshold: 1, Cooldown: time.Second})
	run(b, false)
	clock.advance(time.Second)

	release := make(chan struct{})
	done := make(chan error)
	started := make(chan struct{})
	go func() {
		_, err := Call(context.Background(), b, func(context.Context) (string, error) {
			close(started)
			<-release
			return "ok", nil
		})
		done <- err
	}()
	<-started

	_, err := Call(context.Background(), b, succeed)
	assert.ErrorIs(t, err, ErrProbeInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestStaleOutcomeIgnored(t *testing.T) {
	b, _ := newBreaker(Settings{Threshold: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = Call(context.Background(), b, func(context.Context) (string, error) {
			close(started)
			<-release
			return "", errModelDown
		})
		close(done)
	}()
	<-started

	// the breaker opens while the slow call is out
	run(b, false)
	require.Equal(t, StateOpen, b.State())

	close(release)
	<-done
	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures, "late failure belongs to an earlier state")
	assert.Equal(t, uint64(2), counts.Failures)
}

func TestCancellationIsNotAFailure(t *testing.T) {
	b, _ := newBreaker(Settings{Threshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Call(ctx, b, func(ctx context.Context) (string, error) {
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().Failures)
}

func TestBreakerReportsTransitions(t *testing.T) {
	var transitions []string
	b, clock := newBreaker(Settings{
		Threshold: 2,
		Cooldown:  10 * time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	run(b, false, false)
	clock.advance(10 * time.Second)
	run(b, true)

	assert.Equal(t, []string{
		"model:closed->open",
		"model:open->half-open",
		"model:half-open->closed",
	}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newBreaker(Settings{Threshold: 1})
	assert.Panics(t, func() {
		_, _ = Call(context.Background(), b, func(context.Context) (int, error) {
			panic("boom")
		})
	})
	assert.Equal(t, uint64(1), b.Counts().Failures)
	assert.Equal(t, StateOpen, b.State())
}
