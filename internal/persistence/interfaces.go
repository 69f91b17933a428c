// Package persistence defines the launch ledger: per-post reservations that
// serialize admission, and the append-only record of confirmed launches.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would break a uniqueness rule
	ErrConflict = errors.New("uniqueness conflict")
	// ErrInvalidTransition is returned when a reservation is not in a state
	// that allows the requested change
	ErrInvalidTransition = errors.New("invalid reservation transition")
)

// ReservationStatus is the lifecycle state of a post's reservation
type ReservationStatus string

const (
	// StatusAdmitted holds the symbol while the asset has not been created yet
	StatusAdmitted ReservationStatus = "admitted"
	// StatusCreated means the creation service allocated an asset
	StatusCreated ReservationStatus = "created"
	// StatusStalled means the asset may exist but was never confirmed
	StatusStalled ReservationStatus = "stalled"
	// StatusReleased frees the symbol; the post stays burned
	StatusReleased ReservationStatus = "released"
	// StatusConfirmed mirrors a ledger record
	StatusConfirmed ReservationStatus = "confirmed"
)

// HoldsSymbol reports whether a reservation in this state keeps its symbol
func (s ReservationStatus) HoldsSymbol() bool {
	return s != StatusReleased && s != ""
}

// InFlight reports whether a launch in this state is still being processed
func (s ReservationStatus) InFlight() bool {
	return s == StatusAdmitted || s == StatusCreated
}

// Reservation is the admission marker written for every admitted post
type Reservation struct {
	PostID    string            `json:"post_id" db:"post_id"`
	AgentID   string            `json:"agent_id" db:"agent_id"`
	Symbol    string            `json:"symbol" db:"symbol"`
	Status    ReservationStatus `json:"status" db:"status"`
	AssetID   string            `json:"asset_id,omitempty" db:"asset_id"`
	Detail    string            `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time         `json:"created_at" db:"-"`
	UpdatedAt time.Time         `json:"updated_at" db:"-"`
}

// Claim is what admission asks the ledger to reserve
type Claim struct {
	PostID  string
	AgentID string
	Symbol  string
}

// Snapshot is the ledger state relevant to one claim, read inside the
// admission critical section
type Snapshot struct {
	// SymbolHolder is the post currently holding the claim's symbol, if any
	SymbolHolder string
	// PostStatus is the status of an existing reservation for the post
	PostStatus ReservationStatus
	// PostRecorded is true when a ledger record cites the post
	PostRecorded bool
	// LastConfirmed is the creation time of the agent's latest record
	LastConfirmed time.Time
	// InFlightPost is another post of the same agent still being processed
	InFlightPost string
}

// PostSeen reports whether the post was ever admitted or recorded
func (s Snapshot) PostSeen() bool {
	return s.PostStatus != "" || s.PostRecorded
}

// AdmitCheck decides whether a claim may be reserved given the snapshot
type AdmitCheck func(Snapshot) error

// CommitCheck decides whether a record created at `at` may be appended given
// the agent's latest confirmed launch (zero when there is none)
type CommitCheck func(at, lastConfirmed time.Time) error

// ListFilter narrows record listings
type ListFilter struct {
	AgentID string
	Limit   int
	Offset  int
}

// Ledger is the launch ledger
type Ledger interface {
	// Admit evaluates check against a consistent snapshot and, if it passes,
	// reserves the claim. Concurrent admissions are serialized.
	Admit(ctx context.Context, claim Claim, check AdmitCheck) (Reservation, error)

	// MarkCreated records the allocated asset on an admitted reservation
	MarkCreated(ctx context.Context, postID, assetID string) error

	// MarkStalled keeps the symbol held for a launch that may have an asset
	MarkStalled(ctx context.Context, postID, detail string) error

	// Release frees the symbol of a reservation that never reached creation
	Release(ctx context.Context, postID, detail string) error

	// Append writes the record and confirms its reservation atomically.
	// A non-nil check runs inside the same critical section as Admit.
	Append(ctx context.Context, rec launch.Record, check CommitCheck) error

	Reservation(ctx context.Context, postID string) (Reservation, error)
	ListReservations(ctx context.Context, status ReservationStatus) ([]Reservation, error)

	ByAsset(ctx context.Context, assetID string) (launch.Record, error)
	BySymbol(ctx context.Context, symbol string) (launch.Record, error)
	ByPost(ctx context.Context, postID string) (launch.Record, error)
	LatestByAgent(ctx context.Context, agentID string) (launch.Record, error)
	List(ctx context.Context, filter ListFilter) ([]launch.Record, error)

	Ping(ctx context.Context) error
	Close() error
}
