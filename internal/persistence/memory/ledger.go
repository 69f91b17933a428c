// Package memory is an in-process ledger for tests and single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/persistence"
)

// Ledger keeps reservations and records in maps behind one mutex
type Ledger struct {
	mu           sync.Mutex
	reservations map[string]*persistence.Reservation
	records      []launch.Record
	byAsset      map[string]int
	bySymbol     map[string]int
	byPost       map[string]int
	now          func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		reservations: make(map[string]*persistence.Reservation),
		byAsset:      make(map[string]int),
		bySymbol:     make(map[string]int),
		byPost:       make(map[string]int),
		now:          time.Now,
	}
}

func (l *Ledger) Admit(ctx context.Context, claim persistence.Claim, check persistence.AdmitCheck) (persistence.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return persistence.Reservation{}, err
	}
	if err := check(l.snapshot(claim)); err != nil {
		return persistence.Reservation{}, err
	}
	if _, ok := l.reservations[claim.PostID]; ok {
		return persistence.Reservation{}, persistence.ErrConflict
	}
	if holder := l.symbolHolder(launch.SymbolKey(claim.Symbol)); holder != "" {
		return persistence.Reservation{}, persistence.ErrConflict
	}

	now := l.now().UTC()
	r := &persistence.Reservation{
		PostID:    claim.PostID,
		AgentID:   claim.AgentID,
		Symbol:    claim.Symbol,
		Status:    persistence.StatusAdmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.reservations[claim.PostID] = r
	return *r, nil
}

func (l *Ledger) snapshot(claim persistence.Claim) persistence.Snapshot {
	var snap persistence.Snapshot
	snap.SymbolHolder = l.symbolHolder(launch.SymbolKey(claim.Symbol))
	if r, ok := l.reservations[claim.PostID]; ok {
		snap.PostStatus = r.Status
	}
	_, snap.PostRecorded = l.byPost[claim.PostID]

	snap.LastConfirmed = l.lastConfirmed(claim.AgentID)
	for _, r := range l.reservations {
		if r.AgentID == claim.AgentID && r.Status.InFlight() && r.PostID != claim.PostID {
			snap.InFlightPost = r.PostID
			break
		}
	}
	return snap
}

func (l *Ledger) lastConfirmed(agentID string) time.Time {
	var last time.Time
	for _, rec := range l.records {
		if rec.AgentID == agentID && rec.CreatedAt.After(last) {
			last = rec.CreatedAt
		}
	}
	return last
}

func (l *Ledger) symbolHolder(key string) string {
	for _, r := range l.reservations {
		if r.Status.HoldsSymbol() && launch.SymbolKey(r.Symbol) == key {
			return r.PostID
		}
	}
	if i, ok := l.bySymbol[key]; ok {
		return l.records[i].SourcePostID
	}
	return ""
}

// transition moves a reservation to status when its current state is in from
func (l *Ledger) transition(postID string, to persistence.ReservationStatus, from []persistence.ReservationStatus, mutate func(*persistence.Reservation)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[postID]
	if !ok {
		return persistence.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if r.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return persistence.ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = l.now().UTC()
	if mutate != nil {
		mutate(r)
	}
	return nil
}

func (l *Ledger) MarkCreated(ctx context.Context, postID, assetID string) error {
	return l.transition(postID, persistence.StatusCreated,
		[]persistence.ReservationStatus{persistence.StatusAdmitted},
		func(r *persistence.Reservation) { r.AssetID = assetID })
}

func (l *Ledger) MarkStalled(ctx context.Context, postID, detail string) error {
	return l.transition(postID, persistence.StatusStalled,
		[]persistence.ReservationStatus{persistence.StatusAdmitted, persistence.StatusCreated, persistence.StatusStalled},
		func(r *persistence.Reservation) { r.Detail = detail })
}

func (l *Ledger) Release(ctx context.Context, postID, detail string) error {
	return l.transition(postID, persistence.StatusReleased,
		[]persistence.ReservationStatus{persistence.StatusAdmitted},
		func(r *persistence.Reservation) { r.Detail = detail })
}

func (l *Ledger) Append(ctx context.Context, rec launch.Record, check persistence.CommitCheck) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if check != nil {
		if err := check(rec.CreatedAt, l.lastConfirmed(rec.AgentID)); err != nil {
			return err
		}
	}

	key := launch.SymbolKey(rec.Symbol)
	if _, ok := l.byAsset[rec.AssetID]; ok {
		return persistence.ErrConflict
	}
	if _, ok := l.bySymbol[key]; ok {
		return persistence.ErrConflict
	}
	if _, ok := l.byPost[rec.SourcePostID]; ok {
		return persistence.ErrConflict
	}

	r, ok := l.reservations[rec.SourcePostID]
	if !ok {
		return persistence.ErrNotFound
	}
	if r.Status != persistence.StatusCreated && r.Status != persistence.StatusStalled {
		return persistence.ErrInvalidTransition
	}
	r.Status = persistence.StatusConfirmed
	r.AssetID = rec.AssetID
	r.Detail = ""
	r.UpdatedAt = l.now().UTC()

	l.records = append(l.records, rec)
	i := len(l.records) - 1
	l.byAsset[rec.AssetID] = i
	l.bySymbol[key] = i
	l.byPost[rec.SourcePostID] = i
	return nil
}

func (l *Ledger) Reservation(ctx context.Context, postID string) (persistence.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[postID]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	return *r, nil
}

func (l *Ledger) ListReservations(ctx context.Context, status persistence.ReservationStatus) ([]persistence.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]persistence.Reservation, 0)
	for _, r := range l.reservations {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (l *Ledger) lookup(index map[string]int, key string) (launch.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := index[key]
	if !ok {
		return launch.Record{}, persistence.ErrNotFound
	}
	return l.records[i], nil
}

func (l *Ledger) ByAsset(ctx context.Context, assetID string) (launch.Record, error) {
	return l.lookup(l.byAsset, assetID)
}

func (l *Ledger) BySymbol(ctx context.Context, symbol string) (launch.Record, error) {
	return l.lookup(l.bySymbol, launch.SymbolKey(symbol))
}

func (l *Ledger) ByPost(ctx context.Context, postID string) (launch.Record, error) {
	return l.lookup(l.byPost, postID)
}

func (l *Ledger) LatestByAgent(ctx context.Context, agentID string) (launch.Record, error) {
	recs, err := l.List(ctx, persistence.ListFilter{AgentID: agentID, Limit: 1})
	if err != nil {
		return launch.Record{}, err
	}
	if len(recs) == 0 {
		return launch.Record{}, persistence.ErrNotFound
	}
	return recs[0], nil
}

// List returns records newest first
func (l *Ledger) List(ctx context.Context, filter persistence.ListFilter) ([]launch.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]launch.Record, 0)
	for i := len(l.records) - 1; i >= 0; i-- {
		if filter.AgentID == "" || l.records[i].AgentID == filter.AgentID {
			out = append(out, l.records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []launch.Record{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (l *Ledger) Close() error {
	return nil
}

var _ persistence.Ledger = (*Ledger)(nil)
