// Package circuit provides a circuit breaker for calls to the relay's
// supporting services (Kafka, Redis, InfluxDB).
package circuit

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/bardlex/gomp-relay/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls until OpenTimeout elapses
	StateOpen
	// StateHalfOpen lets one probe call through at a time
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	Name            string
	MaxFailures     int           // consecutive failures inside FailureWindow before opening
	SuccessRequired int           // probe successes needed to close from half-open
	OpenTimeout     time.Duration // time spent open before probing
	FailureWindow   time.Duration // failures older than this are forgotten
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:            name,
		MaxFailures:     5,
		SuccessRequired: 2,
		OpenTimeout:     15 * time.Second,
		FailureWindow:   60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config *Config
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probing     bool
	openedAt    time.Time
	windowStart time.Time
	rejected    uint64

	onStateChange func(from, to State)
}

// New creates a breaker. A nil config uses DefaultConfig("default").
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	b := &Breaker{
		config: config,
		now:    time.Now,
	}
	b.windowStart = b.now()
	return b
}

// OnStateChange registers fn to be called, outside the lock, on every transition
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Execute runs fn unless the circuit is open. Context cancellation is not
// counted as a failure of the protected service.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// ExecuteWithResult is Execute for functions that return a value
func ExecuteWithResult[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	from := b.state
	now := b.now()

	var rejected bool
	switch b.state {
	case StateClosed:
		if now.Sub(b.windowStart) > b.config.FailureWindow {
			b.failures = 0
			b.windowStart = now
		}
	case StateOpen:
		if now.Sub(b.openedAt) >= b.config.OpenTimeout {
			b.state = StateHalfOpen
			b.successes = 0
			b.probing = true
		} else {
			rejected = true
		}
	case StateHalfOpen:
		if b.probing {
			rejected = true
		} else {
			b.probing = true
		}
	}
	if rejected {
		b.rejected++
	}
	to := b.state
	hook := b.onStateChange
	b.mu.Unlock()

	if from != to && hook != nil {
		hook(from, to)
	}
	if rejected {
		return errors.New(errors.ErrorTypeUnavailable, "circuit_breaker", "circuit breaker is open").
			WithContext("breaker", b.config.Name).
			WithContext("state", to.String())
	}
	return nil
}

func (b *Breaker) record(err error) {
	if stderrors.Is(err, context.Canceled) {
		b.mu.Lock()
		b.probing = false
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	from := b.state
	now := b.now()
	b.probing = false

	if err != nil {
		b.failures++
		switch b.state {
		case StateClosed:
			if b.failures >= b.config.MaxFailures {
				b.trip(now)
			}
		case StateHalfOpen:
			b.trip(now)
		}
	} else {
		switch b.state {
		case StateHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessRequired {
				b.state = StateClosed
				b.failures = 0
				b.successes = 0
				b.windowStart = now
			}
		case StateClosed:
			b.failures = 0
		}
	}
	to := b.state
	hook := b.onStateChange
	b.mu.Unlock()

	if from != to && hook != nil {
		hook(from, to)
	}
}

// trip opens the circuit; mu must be held
func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.successes = 0
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name     string
	State    State
	Failures int
	Rejected uint64
	OpenedAt time.Time
}

// Stats returns a snapshot of the breaker
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:     b.config.Name,
		State:    b.state,
		Failures: b.failures,
		Rejected: b.rejected,
		OpenedAt: b.openedAt,
	}
}

// Reset forces the breaker closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probing = false
	b.windowStart = b.now()
}
