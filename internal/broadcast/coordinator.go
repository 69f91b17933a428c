package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

// Observer receives one call per strategy attempt and one per finished batch
type Observer interface {
	RelayAttempt(relay string, ok bool, elapsed time.Duration)
	BroadcastPath(path launch.ProofKind)
}

// Coordinator runs relays in order and falls back to direct submission
type Coordinator struct {
	steps    []Step
	observer Observer
}

// NewCoordinator bounds each relay by relayTimeout; direct submission is
// bounded by its own confirmation timeout
func NewCoordinator(relays []*Relay, relayTimeout time.Duration, direct *DirectSubmitter, observer Observer) *Coordinator {
	steps := make([]Step, 0, len(relays)+1)
	for _, r := range relays {
		steps = append(steps, Step{Broadcaster: r, Timeout: relayTimeout, Relay: true})
	}
	if direct != nil {
		steps = append(steps, Step{Broadcaster: direct})
	}
	return &Coordinator{steps: steps, observer: observer}
}

// NewCoordinatorFromSteps is used when strategies are not the stock relay and
// direct clients
func NewCoordinatorFromSteps(steps []Step, observer Observer) *Coordinator {
	return &Coordinator{steps: steps, observer: observer}
}

// Broadcast submits txs and returns proof of acceptance. It fails with
// BroadcastFailure only when every strategy failed.
func (c *Coordinator) Broadcast(ctx context.Context, txs []launch.SignedTx) (launch.BroadcastProof, error) {
	proof, err := FirstSuccess(ctx, txs, c.steps, c.observe)
	if err != nil {
		return launch.BroadcastProof{}, launch.Wrap(launch.KindBroadcast, err, fmt.Sprintf("%d strategies exhausted", len(c.steps)))
	}
	if c.observer != nil {
		c.observer.BroadcastPath(proof.Kind)
	}
	log.Info().
		Str("path", string(proof.Kind)).
		Str("proof", proof.ID).
		Str("endpoint", proof.Endpoint).
		Msg("Batch accepted")
	return proof, nil
}

func (c *Coordinator) observe(step Step, err error, elapsed time.Duration) {
	name := step.Broadcaster.Name()
	if err != nil {
		log.Warn().Err(err).Str("strategy", name).Dur("elapsed", elapsed).Msg("Broadcast strategy failed")
	}
	if c.observer != nil && step.Relay {
		c.observer.RelayAttempt(name, err == nil, elapsed)
	}
}
