// Package broadcast submits a signed transaction batch: first as one bundle
// through an ordered list of relays, then transaction by transaction to the
// base network when every relay declines.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

// Broadcaster is one submission strategy
type Broadcaster interface {
	Name() string
	Broadcast(ctx context.Context, txs []launch.SignedTx) (launch.BroadcastProof, error)
}

// Step is a strategy with its attempt timeout; zero means no extra bound.
// Relay marks bundle relays, whose attempts are reported per relay.
type Step struct {
	Broadcaster Broadcaster
	Timeout     time.Duration
	Relay       bool
}

// Attempt records one failed strategy
type Attempt struct {
	Name     string
	Err      error
	Duration time.Duration
}

// ChainError lists every attempt of a FirstSuccess run that did not succeed
type ChainError struct {
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	if len(e.Attempts) == 0 {
		return "no broadcast strategies configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Name, a.Err)
	}
	return "all broadcast strategies failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes attempt errors to errors.Is and errors.As
func (e *ChainError) Unwrap() []error {
	out := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Err
	}
	return out
}

// AttemptFunc observes each strategy outcome
type AttemptFunc func(step Step, err error, elapsed time.Duration)

// FirstSuccess tries steps in order, each under its own timeout, and returns
// the first proof. It stops early only when ctx itself is done.
func FirstSuccess(ctx context.Context, txs []launch.SignedTx, steps []Step, observe AttemptFunc) (launch.BroadcastProof, error) {
	chain := &ChainError{}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			chain.Attempts = append(chain.Attempts, Attempt{Name: step.Broadcaster.Name(), Err: err})
			break
		}

		start := time.Now()
		proof, err := attempt(ctx, step, txs)
		elapsed := time.Since(start)
		if observe != nil {
			observe(step, err, elapsed)
		}
		if err == nil {
			return proof, nil
		}
		chain.Attempts = append(chain.Attempts, Attempt{Name: step.Broadcaster.Name(), Err: err, Duration: elapsed})
	}
	return launch.BroadcastProof{}, chain
}

func attempt(ctx context.Context, step Step, txs []launch.SignedTx) (launch.BroadcastProof, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	proof, err := step.Broadcaster.Broadcast(ctx, txs)
	if err != nil {
		return launch.BroadcastProof{}, err
	}
	if proof.ID == "" {
		return launch.BroadcastProof{}, errors.New("strategy returned an empty proof")
	}
	return proof, nil
}
