// Package journal keeps the state a launch needs to be broadcast again after
// the asset was created: the request, metadata URI, asset id and the signed
// batch. The one-time asset secret is never part of an entry.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

// ErrNotFound is returned when no entry exists for a post
var ErrNotFound = errors.New("journal entry not found")

// Entry is the resumable state of one launch, keyed by source post id
type Entry struct {
	PostID      string            `json:"post_id"`
	AgentID     string            `json:"agent_id"`
	Request     launch.Request    `json:"request"`
	MetadataURI string            `json:"metadata_uri"`
	AssetID     string            `json:"asset_id"`
	SignedTxs   []launch.SignedTx `json:"signed_txs"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Journal stores entries until the launch is confirmed
type Journal interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, postID string) (Entry, error)
	Delete(ctx context.Context, postID string) error
}

// Memory is an in-process journal for single-node runs and tests
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	if e.PostID == "" {
		return errors.New("journal entry without post id")
	}
	txs := make([]launch.SignedTx, len(e.SignedTxs))
	copy(txs, e.SignedTxs)
	e.SignedTxs = txs

	m.mu.Lock()
	m.entries[e.PostID] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, postID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[postID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) Delete(_ context.Context, postID string) error {
	m.mu.Lock()
	delete(m.entries, postID)
	m.mu.Unlock()
	return nil
}
