package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration
	// MaxProbes caps concurrent calls while half-open
	MaxProbes int
}

// DefaultBreakerConfig returns defaults tuned for object storage calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxProbes:        1,
	}
}

// Breaker guards calls to a remote dependency.
type Breaker struct {
	name string
	cfg  BreakerConfig
	log  *zap.Logger
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// NewBreaker creates a closed breaker. A nil logger disables logging.
func NewBreaker(name string, cfg BreakerConfig, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		log:   log.With(zap.String("breaker", name)),
		now:   time.Now,
		state: StateClosed,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// must hold b.mu
func (b *Breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the circuit is open. Context errors from fn are not
// counted as dependency failures.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.state == StateOpen {
			b.transition(StateHalfOpen)
		}
		if b.probes >= b.cfg.MaxProbes {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		b.successes = 0
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// must hold b.mu
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.log.Warn("circuit state change",
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	)
	b.state = to
	b.probes = 0
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probes = 0
}
