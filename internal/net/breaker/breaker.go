// Package breaker wraps sony/gobreaker with the trip policy used for every
// outbound relay.
package breaker

import (
	"time"

	cb "github.com/sony/gobreaker"
)

// ErrOpen is returned without calling through while the breaker is open
var ErrOpen = cb.ErrOpenState

type Config struct {
	// ConsecutiveFailures trips the breaker outright
	ConsecutiveFailures uint32
	// MinRequests before the failure ratio is considered
	MinRequests  uint32
	FailureRatio float64

	// Interval clears counts while closed; Timeout is the open period
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.5,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
	}
}

type Breaker struct{ cb *cb.CircuitBreaker }

func New(name string, cfg Config) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = cfg.Interval
	st.Timeout = cfg.Timeout
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		if counts.Requests < cfg.MinRequests || cfg.FailureRatio <= 0 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > cfg.FailureRatio
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// State is "closed", "half-open" or "open"
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Name() string { return b.cb.Name() }
