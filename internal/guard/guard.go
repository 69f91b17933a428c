// Package guard decides whether a validated launch request may proceed:
// symbols are unique, each post launches at most once and each agent waits
// out a cooldown between confirmed launches.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/persistence"
)

// DefaultCooldown is the minimum spacing between two launches of one agent
const DefaultCooldown = 7 * 24 * time.Hour

// Guard admits requests against the ledger
type Guard struct {
	ledger   persistence.Ledger
	cooldown time.Duration
	now      func() time.Time
}

// New creates a guard; cooldown <= 0 selects DefaultCooldown
func New(ledger persistence.Ledger, cooldown time.Duration) *Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Guard{ledger: ledger, cooldown: cooldown, now: time.Now}
}

// WithClock replaces the time source
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Admit checks req and reserves its symbol and post in one atomic step.
// Nothing is written when the request is rejected.
func (g *Guard) Admit(ctx context.Context, req launch.Request) (persistence.Reservation, error) {
	claim := persistence.Claim{
		PostID:  req.SourcePostID,
		AgentID: req.RequestingAgentID,
		Symbol:  req.Symbol,
	}

	res, err := g.ledger.Admit(ctx, claim, func(snap persistence.Snapshot) error {
		return Evaluate(claim, snap, g.now(), g.cooldown)
	})
	if err != nil {
		var le *launch.Error
		if errors.As(err, &le) {
			log.Debug().
				Str("post_id", claim.PostID).
				Str("symbol", claim.Symbol).
				Str("kind", string(le.Kind)).
				Msg("Launch rejected at admission")
			return persistence.Reservation{}, le
		}
		return persistence.Reservation{}, launch.Wrap(launch.KindLedger, err, "admission failed")
	}
	return res, nil
}

// CheckCooldown rejects a launch confirmed at `at` when the agent's previous
// confirmed launch is less than the cooldown before it. The ledger runs it
// when appending, so a resumed launch cannot land inside a newer cooldown.
func (g *Guard) CheckCooldown(at, lastConfirmed time.Time) error {
	return cooldown(lastConfirmed, at, g.cooldown)
}

// Evaluate applies the admission rules in order: symbol, post, cooldown,
// in-flight. A post that was ever admitted is reported as a duplicate post
// even when its symbol has since been taken by another post.
func Evaluate(claim persistence.Claim, snap persistence.Snapshot, now time.Time, cooldownPeriod time.Duration) error {
	if snap.SymbolHolder != "" && !snap.PostSeen() {
		return launch.Errorf(launch.KindDuplicateSymbol,
			"symbol %s is already taken", launch.SymbolKey(claim.Symbol))
	}

	if snap.PostSeen() {
		return launch.Errorf(launch.KindDuplicatePost,
			"post %s has already been used for a launch", claim.PostID)
	}

	if err := cooldown(snap.LastConfirmed, now, cooldownPeriod); err != nil {
		return err
	}

	if snap.InFlightPost != "" {
		return launch.Errorf(launch.KindInProgress,
			"launch from post %s is still in progress", snap.InFlightPost)
	}
	return nil
}

func cooldown(last, at time.Time, period time.Duration) error {
	if last.IsZero() {
		return nil
	}
	if remaining := last.Add(period).Sub(at); remaining > 0 {
		return launch.RateLimited(remaining)
	}
	return nil
}
