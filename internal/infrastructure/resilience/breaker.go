package resilience

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// StateObserver receives circuit breaker state transitions.
type StateObserver interface {
	BreakerStateChanged(name string, state string)
}

// BreakerConfig configures a circuit breaker guarding a downstream dependency.
type BreakerConfig struct {
	Name string

	// MaxRequests allowed through while half-open. Default: 1
	MaxRequests uint32

	// Interval clears the closed-state counts. Zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing. Default: 30s
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker. Default: 5
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns defaults for the named dependency.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker wraps gobreaker with domain error mapping.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	logger   zerolog.Logger
	observer StateObserver
}

// NewBreaker creates a circuit breaker. observer may be nil.
func NewBreaker(cfg BreakerConfig, observer StateObserver, logger zerolog.Logger) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}

	b := &Breaker{
		logger:   logger.With().Str("breaker", cfg.Name).Logger(),
		observer: observer,
	}

	threshold := cfg.ConsecutiveFailures
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := b.logger.Info()
			if to == gobreaker.StateOpen {
				event = b.logger.Warn()
			}
			event.Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			if b.observer != nil {
				b.observer.BreakerStateChanged(name, to.String())
			}
		},
	})

	return b
}

// Execute runs fn through the breaker. Rejected calls return domain.ErrCircuitOpen.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.ErrCircuitOpen
	}
	return err
}

// State returns the current breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
