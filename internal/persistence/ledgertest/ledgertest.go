// Package ledgertest holds the behaviour every persistence.Ledger must share.
// Backends call Run from their own tests.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/persistence"
)

// Factory returns an empty ledger; it is closed by the caller's cleanup
type Factory func(t *testing.T) persistence.Ledger

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func allow(persistence.Snapshot) error { return nil }

// Record builds a confirmed record fixture
func Record(agent, post, symbol, asset string, at time.Time) launch.Record {
	return launch.Record{
		AssetID:            asset,
		AgentID:            agent,
		Name:               symbol + " coin",
		Symbol:             symbol,
		Description:        "fixture",
		ImageRef:           "https://img.example/" + symbol + ".png",
		BeneficiaryAddress: "So11111111111111111111111111111111111111112",
		SourcePostID:       post,
		MetadataURI:        "https://meta.example/" + asset,
		BroadcastProof:     launch.BroadcastProof{Kind: launch.ProofBundle, ID: "bundle-" + asset, Endpoint: "relay-a"},
		CreatedAt:          at,
	}
}

// Confirm drives a claim through admission, creation and append
func Confirm(t *testing.T, l persistence.Ledger, rec launch.Record) {
	t.Helper()
	ctx := context.Background()
	_, err := l.Admit(ctx, persistence.Claim{PostID: rec.SourcePostID, AgentID: rec.AgentID, Symbol: rec.Symbol}, allow)
	require.NoError(t, err)
	require.NoError(t, l.MarkCreated(ctx, rec.SourcePostID, rec.AssetID))
	require.NoError(t, l.Append(ctx, rec, nil))
}

func snapshotFor(t *testing.T, l persistence.Ledger, claim persistence.Claim) persistence.Snapshot {
	t.Helper()
	var snap persistence.Snapshot
	sentinel := errors.New("inspect only")
	_, err := l.Admit(context.Background(), claim, func(s persistence.Snapshot) error {
		snap = s
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	return snap
}

// Run executes the shared ledger behaviour against newLedger
func Run(t *testing.T, newLedger Factory) {
	t.Run("AdmitReserves", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		r, err := l.Admit(ctx, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"}, allow)
		require.NoError(t, err)
		assert.Equal(t, persistence.StatusAdmitted, r.Status)

		got, err := l.Reservation(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.AgentID)
		assert.Equal(t, "FOO", got.Symbol)
		assert.Equal(t, persistence.StatusAdmitted, got.Status)

		snap := snapshotFor(t, l, persistence.Claim{PostID: "p2", AgentID: "a1", Symbol: "foo"})
		assert.Equal(t, "p1", snap.SymbolHolder, "symbol match is case-insensitive")
		assert.Equal(t, "p1", snap.InFlightPost)
		assert.False(t, snap.PostSeen())

		snap = snapshotFor(t, l, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"})
		assert.Equal(t, persistence.StatusAdmitted, snap.PostStatus)
		assert.Empty(t, snap.InFlightPost, "a post is not in flight against itself")
	})

	t.Run("RejectedCheckWritesNothing", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		boom := launch.Errorf(launch.KindRateLimited, "cooldown")
		_, err := l.Admit(ctx, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"}, func(persistence.Snapshot) error { return boom })
		assert.ErrorIs(t, err, boom)

		_, err = l.Reservation(ctx, "p1")
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("ReleaseFreesSymbolKeepsPost", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		_, err := l.Admit(ctx, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"}, allow)
		require.NoError(t, err)
		require.NoError(t, l.Release(ctx, "p1", "upload failed"))

		snap := snapshotFor(t, l, persistence.Claim{PostID: "p2", AgentID: "a2", Symbol: "FOO"})
		assert.Empty(t, snap.SymbolHolder)

		snap = snapshotFor(t, l, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"})
		assert.Equal(t, persistence.StatusReleased, snap.PostStatus)
		assert.True(t, snap.PostSeen())

		_, err = l.Admit(ctx, persistence.Claim{PostID: "p2", AgentID: "a2", Symbol: "FOO"}, allow)
		assert.NoError(t, err, "released symbol can be claimed again")
	})

	t.Run("StalledHoldsSymbolButNotInFlight", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		_, err := l.Admit(ctx, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"}, allow)
		require.NoError(t, err)
		require.NoError(t, l.MarkCreated(ctx, "p1", "asset-1"))
		require.NoError(t, l.MarkStalled(ctx, "p1", "relays down"))

		r, err := l.Reservation(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, persistence.StatusStalled, r.Status)
		assert.Equal(t, "asset-1", r.AssetID)
		assert.Equal(t, "relays down", r.Detail)

		snap := snapshotFor(t, l, persistence.Claim{PostID: "p2", AgentID: "a1", Symbol: "FOO"})
		assert.Equal(t, "p1", snap.SymbolHolder)
		assert.Empty(t, snap.InFlightPost)

		stalled, err := l.ListReservations(ctx, persistence.StatusStalled)
		require.NoError(t, err)
		require.Len(t, stalled, 1)
		assert.Equal(t, "p1", stalled[0].PostID)
	})

	t.Run("Transitions", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		assert.ErrorIs(t, l.MarkCreated(ctx, "ghost", "x"), persistence.ErrNotFound)

		_, err := l.Admit(ctx, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"}, allow)
		require.NoError(t, err)
		require.NoError(t, l.MarkCreated(ctx, "p1", "asset-1"))

		assert.ErrorIs(t, l.Release(ctx, "p1", "late"), persistence.ErrInvalidTransition, "created assets are never released")
		assert.ErrorIs(t, l.MarkCreated(ctx, "p1", "asset-2"), persistence.ErrInvalidTransition)

		_, err = l.Admit(ctx, persistence.Claim{PostID: "p2", AgentID: "a2", Symbol: "BAR"}, allow)
		require.NoError(t, err)
		assert.ErrorIs(t, l.Append(ctx, Record("a2", "p2", "BAR", "asset-2", base), nil), persistence.ErrInvalidTransition,
			"append requires an allocated asset")
	})

	t.Run("AppendConfirmsAndIndexes", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		rec := Record("a1", "p1", "Foo", "asset-1", base)
		Confirm(t, l, rec)

		r, err := l.Reservation(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, persistence.StatusConfirmed, r.Status)

		for name, lookup := range map[string]func() (launch.Record, error){
			"asset":  func() (launch.Record, error) { return l.ByAsset(ctx, "asset-1") },
			"symbol": func() (launch.Record, error) { return l.BySymbol(ctx, "FOO") },
			"post":   func() (launch.Record, error) { return l.ByPost(ctx, "p1") },
			"agent":  func() (launch.Record, error) { return l.LatestByAgent(ctx, "a1") },
		} {
			got, err := lookup()
			require.NoError(t, err, name)
			assert.Equal(t, rec.AssetID, got.AssetID, name)
			assert.Equal(t, rec.BroadcastProof, got.BroadcastProof, name)
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt), name)
		}

		_, err = l.ByAsset(ctx, "nope")
		assert.ErrorIs(t, err, persistence.ErrNotFound)

		snap := snapshotFor(t, l, persistence.Claim{PostID: "p9", AgentID: "a1", Symbol: "NEW"})
		assert.True(t, snap.LastConfirmed.Equal(base))

		snap = snapshotFor(t, l, persistence.Claim{PostID: "p9", AgentID: "a2", Symbol: "foo"})
		assert.Equal(t, "p1", snap.SymbolHolder)
		assert.True(t, snap.LastConfirmed.IsZero())
	})

	t.Run("AppendRejectsDuplicates", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		Confirm(t, l, Record("a1", "p1", "FOO", "asset-1", base))

		_, err := l.Admit(ctx, persistence.Claim{PostID: "p2", AgentID: "a2", Symbol: "BAR"}, allow)
		require.NoError(t, err)
		require.NoError(t, l.MarkCreated(ctx, "p2", "asset-1"))

		assert.ErrorIs(t, l.Append(ctx, Record("a2", "p2", "BAR", "asset-1", base), nil), persistence.ErrConflict)

		recs, err := l.List(ctx, persistence.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("AppendRunsCommitCheck", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		Confirm(t, l, Record("a1", "p3", "BAR", "asset-3", base))

		_, err := l.Admit(ctx, persistence.Claim{PostID: "p1", AgentID: "a1", Symbol: "FOO"}, allow)
		require.NoError(t, err)
		require.NoError(t, l.MarkCreated(ctx, "p1", "asset-1"))
		require.NoError(t, l.MarkStalled(ctx, "p1", "broadcast failed"))

		rejected := errors.New("cooldown")
		var seenAt, seenLast time.Time
		err = l.Append(ctx, Record("a1", "p1", "FOO", "asset-1", base.Add(time.Hour)), func(at, last time.Time) error {
			seenAt, seenLast = at, last
			return rejected
		})
		assert.ErrorIs(t, err, rejected)
		assert.True(t, seenAt.Equal(base.Add(time.Hour)))
		assert.True(t, seenLast.Equal(base))

		r, err := l.Reservation(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, persistence.StatusStalled, r.Status, "a rejected append leaves the reservation untouched")
		_, err = l.ByPost(ctx, "p1")
		assert.ErrorIs(t, err, persistence.ErrNotFound)

		recs, err := l.List(ctx, persistence.ListFilter{AgentID: "a1"})
		require.NoError(t, err)
		assert.Len(t, recs, 1)

		_, err = l.Admit(ctx, persistence.Claim{PostID: "p4", AgentID: "a4", Symbol: "NEW"}, allow)
		require.NoError(t, err)
		require.NoError(t, l.MarkCreated(ctx, "p4", "asset-4"))
		err = l.Append(ctx, Record("a4", "p4", "NEW", "asset-4", base), func(at, last time.Time) error {
			assert.True(t, last.IsZero(), "first launch of an agent has no previous record")
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		Confirm(t, l, Record("a1", "p1", "AAA", "asset-1", base))
		Confirm(t, l, Record("a2", "p2", "BBB", "asset-2", base.Add(time.Hour)))
		Confirm(t, l, Record("a1", "p3", "CCC", "asset-3", base.Add(200*time.Hour)))

		all, err := l.List(ctx, persistence.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"asset-3", "asset-2", "asset-1"}, []string{all[0].AssetID, all[1].AssetID, all[2].AssetID})

		mine, err := l.List(ctx, persistence.ListFilter{AgentID: "a1", Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "asset-1", mine[0].AssetID)

		latest, err := l.LatestByAgent(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "asset-3", latest.AssetID)

		_, err = l.LatestByAgent(ctx, "nobody")
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("ConcurrentAdmitsForOneSymbol", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				claim := persistence.Claim{PostID: "p" + string(rune('a'+i)), AgentID: "agent-" + string(rune('a'+i)), Symbol: "RACE"}
				_, err := l.Admit(ctx, claim, func(s persistence.Snapshot) error {
					if s.SymbolHolder != "" {
						return launch.Errorf(launch.KindDuplicateSymbol, "held by %s", s.SymbolHolder)
					}
					return nil
				})
				if err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newLedger(t).Ping(context.Background()))
	})
}
