// Package circuit provides a circuit breaker guarding the networked tier
// backends. A tripped breaker short-circuits round trips so a down backend
// degrades to instant tier-local misses instead of a timeout per lookup.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// Closed passes requests through and counts outcomes.
	Closed State = iota
	// Open rejects requests until the cooldown elapses.
	Open
	// HalfOpen admits a bounded number of probe requests.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Do when the breaker rejects the call.
var ErrOpen = errors.New("circuit breaker open")

// Counts holds the outcome counters for the current window.
type Counts struct {
	Requests            uint32
	Successes           uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// Config tunes the breaker. Zero values fall back to defaults suited to a
// cache backend: trip after 5 consecutive failures, probe again after 10s.
type Config struct {
	// MaxProbes bounds the concurrent requests admitted while half-open.
	MaxProbes uint32

	// Window is the closed-state period after which counters reset.
	Window time.Duration

	// Cooldown is how long an open breaker waits before going half-open.
	Cooldown time.Duration

	// ReadyToTrip decides, after each counted failure, whether the closed
	// breaker opens.
	ReadyToTrip func(Counts) bool

	// IsFailure classifies an error. A nil classifier counts every non-nil
	// error as a failure.
	IsFailure func(error) bool

	// OnStateChange is invoked after every transition.
	OnStateChange func(from, to State)
}

// Breaker implements the circuit breaker state machine.
type Breaker struct {
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a closed breaker.
func New(config Config) *Breaker {
	if config.MaxProbes == 0 {
		config.MaxProbes = 1
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 10 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &Breaker{
		config: config,
		state:  Closed,
		expiry: time.Now().Add(config.Window),
	}
}

// Do runs fn if the breaker admits it, returning ErrOpen otherwise. The
// outcome of fn feeds the state machine.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

// State reports the current state, advancing open->half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advance(time.Now())
}

// Counts returns a copy of the current window's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset forces the breaker closed and clears the counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed, time.Now())
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.advance(now) {
	case Open:
		return ErrOpen
	case HalfOpen:
		if b.counts.Requests >= b.config.MaxProbes {
			return ErrOpen
		}
	}

	b.counts.Requests++
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.advance(now)

	if b.config.IsFailure(err) {
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		switch state {
		case Closed:
			if b.config.ReadyToTrip(b.counts) {
				b.transition(Open, now)
			}
		case HalfOpen:
			b.transition(Open, now)
		}
		return
	}

	b.counts.Successes++
	b.counts.ConsecutiveFailures = 0
	if state == HalfOpen {
		b.transition(Closed, now)
	}
}

// advance applies time-driven transitions and returns the effective state.
// Callers hold b.mu.
func (b *Breaker) advance(now time.Time) State {
	switch b.state {
	case Closed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.config.Window)
		}
	case Open:
		if b.expiry.Before(now) {
			b.transition(HalfOpen, now)
		}
	}
	return b.state
}

// transition changes state and resets the window. Callers hold b.mu.
func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	from := b.state
	b.state = state
	b.counts = Counts{}

	switch state {
	case Closed:
		b.expiry = now.Add(b.config.Window)
	case Open:
		b.expiry = now.Add(b.config.Cooldown)
	case HalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(from, state)
	}
}
