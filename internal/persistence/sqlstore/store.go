// Package sqlstore implements the launch ledger on Postgres or SQLite via sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/persistence"
)

// Dialect selects the SQL backend
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// admitLockKey serializes admissions across every service instance sharing
// one Postgres database
const admitLockKey int64 = 0x706c61756e6368

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store is a sqlx-backed persistence.Ledger
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	timeout time.Duration
	now     func() time.Time

	// SQLite has no advisory locks; admissions and appends are serialized
	// in process
	admitMu sync.Mutex
}

// New wraps an open connection. Call Migrate before first use.
func New(db *sqlx.DB, dialect Dialect, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, dialect: dialect, timeout: timeout, now: time.Now}
}

// Open connects to dsn with the dialect's driver, pings and migrates
func Open(ctx context.Context, dialect Dialect, dsn string, timeout time.Duration) (*Store, error) {
	driver := string(dialect)
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unsupported ledger dialect %q", dialect)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s ledger: %w", dialect, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}

	s := New(db, dialect, timeout)
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s ledger: %w", dialect, err)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the ledger tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for health reporting
func (s *Store) DB() *sqlx.DB {
	return s.db
}

type reservationRow struct {
	PostID    string `db:"post_id"`
	AgentID   string `db:"agent_id"`
	Symbol    string `db:"symbol"`
	SymbolKey string `db:"symbol_key"`
	Status    string `db:"status"`
	AssetID   string `db:"asset_id"`
	Detail    string `db:"detail"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r reservationRow) reservation() persistence.Reservation {
	return persistence.Reservation{
		PostID:    r.PostID,
		AgentID:   r.AgentID,
		Symbol:    r.Symbol,
		Status:    persistence.ReservationStatus(r.Status),
		AssetID:   r.AssetID,
		Detail:    r.Detail,
		CreatedAt: time.UnixMicro(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMicro(r.UpdatedAt).UTC(),
	}
}

type recordRow struct {
	AssetID            string `db:"asset_id"`
	AgentID            string `db:"agent_id"`
	Name               string `db:"name"`
	Symbol             string `db:"symbol"`
	SymbolKey          string `db:"symbol_key"`
	Description        string `db:"description"`
	ImageRef           string `db:"image_ref"`
	BeneficiaryAddress string `db:"beneficiary_address"`
	SourcePostID       string `db:"source_post_id"`
	MetadataURI        string `db:"metadata_uri"`
	ProofKind          string `db:"proof_kind"`
	ProofID            string `db:"proof_id"`
	ProofEndpoint      string `db:"proof_endpoint"`
	CreatedAt          int64  `db:"created_at"`
}

func newRecordRow(rec launch.Record) recordRow {
	return recordRow{
		AssetID:            rec.AssetID,
		AgentID:            rec.AgentID,
		Name:               rec.Name,
		Symbol:             rec.Symbol,
		SymbolKey:          launch.SymbolKey(rec.Symbol),
		Description:        rec.Description,
		ImageRef:           rec.ImageRef,
		BeneficiaryAddress: rec.BeneficiaryAddress,
		SourcePostID:       rec.SourcePostID,
		MetadataURI:        rec.MetadataURI,
		ProofKind:          string(rec.BroadcastProof.Kind),
		ProofID:            rec.BroadcastProof.ID,
		ProofEndpoint:      rec.BroadcastProof.Endpoint,
		CreatedAt:          rec.CreatedAt.UnixMicro(),
	}
}

func (r recordRow) record() launch.Record {
	return launch.Record{
		AssetID:            r.AssetID,
		AgentID:            r.AgentID,
		Name:               r.Name,
		Symbol:             r.Symbol,
		Description:        r.Description,
		ImageRef:           r.ImageRef,
		BeneficiaryAddress: r.BeneficiaryAddress,
		SourcePostID:       r.SourcePostID,
		MetadataURI:        r.MetadataURI,
		BroadcastProof: launch.BroadcastProof{
			Kind:     launch.ProofKind(r.ProofKind),
			ID:       r.ProofID,
			Endpoint: r.ProofEndpoint,
		},
		CreatedAt: time.UnixMicro(r.CreatedAt).UTC(),
	}
}

const recordColumns = `asset_id, agent_id, name, symbol, symbol_key, description, image_ref,
	beneficiary_address, source_post_id, metadata_uri, proof_kind, proof_id, proof_endpoint, created_at`

const reservationColumns = `post_id, agent_id, symbol, symbol_key, status, asset_id, detail, created_at, updated_at`

// Admit runs check and the reservation insert in one transaction
func (s *Store) Admit(ctx context.Context, claim persistence.Claim, check persistence.AdmitCheck) (persistence.Reservation, error) {
	if s.dialect == SQLite {
		s.admitMu.Lock()
		defer s.admitMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistence.Reservation{}, fmt.Errorf("failed to begin admission: %w", err)
	}
	defer tx.Rollback()

	if err := s.lock(ctx, tx); err != nil {
		return persistence.Reservation{}, err
	}

	snap, err := s.snapshot(ctx, tx, claim)
	if err != nil {
		return persistence.Reservation{}, err
	}
	if err := check(snap); err != nil {
		return persistence.Reservation{}, err
	}

	now := s.now().UTC()
	row := reservationRow{
		PostID:    claim.PostID,
		AgentID:   claim.AgentID,
		Symbol:    claim.Symbol,
		SymbolKey: launch.SymbolKey(claim.Symbol),
		Status:    string(persistence.StatusAdmitted),
		CreatedAt: now.UnixMicro(),
		UpdatedAt: now.UnixMicro(),
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO launch_reservations (`+reservationColumns+`)
		VALUES (:post_id, :agent_id, :symbol, :symbol_key, :status, :asset_id, :detail, :created_at, :updated_at)`, row)
	if err != nil {
		return persistence.Reservation{}, s.classify(err, "insert reservation")
	}

	if err := tx.Commit(); err != nil {
		return persistence.Reservation{}, s.classify(err, "commit admission")
	}
	return row.reservation(), nil
}

// lock takes the Postgres advisory lock shared by admission and append
func (s *Store) lock(ctx context.Context, tx *sqlx.Tx) error {
	if s.dialect != Postgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, admitLockKey); err != nil {
		return fmt.Errorf("failed to take ledger lock: %w", err)
	}
	return nil
}

func (s *Store) lastConfirmed(ctx context.Context, tx *sqlx.Tx, agentID string) (time.Time, error) {
	var last sql.NullInt64
	if err := tx.GetContext(ctx, &last, tx.Rebind(`
		SELECT MAX(created_at) FROM launch_records WHERE agent_id = ?`), agentID); err != nil {
		return time.Time{}, fmt.Errorf("failed to read last launch: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return time.UnixMicro(last.Int64).UTC(), nil
}

func (s *Store) snapshot(ctx context.Context, tx *sqlx.Tx, claim persistence.Claim) (persistence.Snapshot, error) {
	var snap persistence.Snapshot
	key := launch.SymbolKey(claim.Symbol)

	holder, err := optionalString(tx.GetContext(ctx, &snap.SymbolHolder, tx.Rebind(`
		SELECT post_id FROM launch_reservations
		WHERE symbol_key = ? AND status <> 'released' LIMIT 1`), key))
	if err != nil {
		return snap, fmt.Errorf("failed to read symbol holder: %w", err)
	}
	if !holder {
		if _, err := optionalString(tx.GetContext(ctx, &snap.SymbolHolder, tx.Rebind(`
			SELECT source_post_id FROM launch_records WHERE symbol_key = ?`), key)); err != nil {
			return snap, fmt.Errorf("failed to read symbol record: %w", err)
		}
	}

	var status string
	if _, err := optionalString(tx.GetContext(ctx, &status, tx.Rebind(`
		SELECT status FROM launch_reservations WHERE post_id = ?`), claim.PostID)); err != nil {
		return snap, fmt.Errorf("failed to read post reservation: %w", err)
	}
	snap.PostStatus = persistence.ReservationStatus(status)

	var recorded int
	if err := tx.GetContext(ctx, &recorded, tx.Rebind(`
		SELECT COUNT(*) FROM launch_records WHERE source_post_id = ?`), claim.PostID); err != nil {
		return snap, fmt.Errorf("failed to read post record: %w", err)
	}
	snap.PostRecorded = recorded > 0

	if snap.LastConfirmed, err = s.lastConfirmed(ctx, tx, claim.AgentID); err != nil {
		return snap, err
	}

	if _, err := optionalString(tx.GetContext(ctx, &snap.InFlightPost, tx.Rebind(`
		SELECT post_id FROM launch_reservations
		WHERE agent_id = ? AND post_id <> ? AND status IN ('admitted', 'created') LIMIT 1`),
		claim.AgentID, claim.PostID)); err != nil {
		return snap, fmt.Errorf("failed to read in-flight launches: %w", err)
	}
	return snap, nil
}

// optionalString turns sql.ErrNoRows into found=false
func optionalString(err error) (bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) transition(ctx context.Context, postID string, to persistence.ReservationStatus, from []persistence.ReservationStatus, assetID, detail *string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query, args, err := sqlx.In(`
		UPDATE launch_reservations
		SET status = ?, asset_id = COALESCE(?, asset_id), detail = COALESCE(?, detail), updated_at = ?
		WHERE post_id = ? AND status IN (?)`,
		string(to), assetID, detail, s.now().UTC().UnixMicro(), postID, statusStrings(from))
	if err != nil {
		return fmt.Errorf("failed to build transition: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return s.classify(err, "update reservation")
	}
	return s.expectOne(ctx, s.db, res, postID)
}

// expectOne maps a zero-row update to ErrNotFound or ErrInvalidTransition
func (s *Store) expectOne(ctx context.Context, q sqlx.QueryerContext, res sql.Result, postID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var count int
	if err := sqlx.GetContext(ctx, q, &count, s.db.Rebind(`SELECT COUNT(*) FROM launch_reservations WHERE post_id = ?`), postID); err != nil {
		return fmt.Errorf("failed to check reservation: %w", err)
	}
	if count == 0 {
		return persistence.ErrNotFound
	}
	return persistence.ErrInvalidTransition
}

func statusStrings(in []persistence.ReservationStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func (s *Store) MarkCreated(ctx context.Context, postID, assetID string) error {
	return s.transition(ctx, postID, persistence.StatusCreated,
		[]persistence.ReservationStatus{persistence.StatusAdmitted}, &assetID, nil)
}

func (s *Store) MarkStalled(ctx context.Context, postID, detail string) error {
	return s.transition(ctx, postID, persistence.StatusStalled,
		[]persistence.ReservationStatus{persistence.StatusAdmitted, persistence.StatusCreated, persistence.StatusStalled}, nil, &detail)
}

func (s *Store) Release(ctx context.Context, postID, detail string) error {
	return s.transition(ctx, postID, persistence.StatusReleased,
		[]persistence.ReservationStatus{persistence.StatusAdmitted}, nil, &detail)
}

// Append inserts the record and confirms the reservation in one transaction,
// serialized with admissions
func (s *Store) Append(ctx context.Context, rec launch.Record, check persistence.CommitCheck) error {
	if s.dialect == SQLite {
		s.admitMu.Lock()
		defer s.admitMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	if err := s.lock(ctx, tx); err != nil {
		return err
	}
	if check != nil {
		last, err := s.lastConfirmed(ctx, tx, rec.AgentID)
		if err != nil {
			return err
		}
		if err := check(rec.CreatedAt, last); err != nil {
			return err
		}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO launch_records (`+recordColumns+`)
		VALUES (:asset_id, :agent_id, :name, :symbol, :symbol_key, :description, :image_ref,
			:beneficiary_address, :source_post_id, :metadata_uri, :proof_kind, :proof_id, :proof_endpoint, :created_at)`,
		newRecordRow(rec))
	if err != nil {
		return s.classify(err, "insert record")
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE launch_reservations
		SET status = 'confirmed', asset_id = ?, detail = '', updated_at = ?
		WHERE post_id = ? AND status IN ('created', 'stalled')`),
		rec.AssetID, s.now().UTC().UnixMicro(), rec.SourcePostID)
	if err != nil {
		return s.classify(err, "confirm reservation")
	}
	if err := s.expectOne(ctx, tx, res, rec.SourcePostID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.classify(err, "commit append")
	}
	return nil
}

func (s *Store) Reservation(ctx context.Context, postID string) (persistence.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row reservationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+reservationColumns+` FROM launch_reservations WHERE post_id = ?`), postID)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Reservation{}, fmt.Errorf("failed to get reservation: %w", err)
	}
	return row.reservation(), nil
}

func (s *Store) ListReservations(ctx context.Context, status persistence.ReservationStatus) ([]persistence.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + reservationColumns + ` FROM launch_reservations`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	var rows []reservationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	out := make([]persistence.Reservation, len(rows))
	for i, r := range rows {
		out[i] = r.reservation()
	}
	return out, nil
}

func (s *Store) getRecord(ctx context.Context, where string, arg interface{}) (launch.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row recordRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+recordColumns+` FROM launch_records WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return launch.Record{}, persistence.ErrNotFound
	}
	if err != nil {
		return launch.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return row.record(), nil
}

func (s *Store) ByAsset(ctx context.Context, assetID string) (launch.Record, error) {
	return s.getRecord(ctx, `asset_id = ?`, assetID)
}

func (s *Store) BySymbol(ctx context.Context, symbol string) (launch.Record, error) {
	return s.getRecord(ctx, `symbol_key = ?`, launch.SymbolKey(symbol))
}

func (s *Store) ByPost(ctx context.Context, postID string) (launch.Record, error) {
	return s.getRecord(ctx, `source_post_id = ?`, postID)
}

func (s *Store) LatestByAgent(ctx context.Context, agentID string) (launch.Record, error) {
	return s.getRecord(ctx, `agent_id = ? ORDER BY created_at DESC LIMIT 1`, agentID)
}

// List returns records newest first
func (s *Store) List(ctx context.Context, filter persistence.ListFilter) ([]launch.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM launch_records`
	var args []interface{}
	if filter.AgentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, filter.AgentID)
	}
	query += ` ORDER BY created_at DESC, asset_id`
	limit := filter.Limit
	if limit <= 0 && filter.Offset > 0 {
		limit = math.MaxInt32
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	out := make([]launch.Record, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// classify maps driver uniqueness violations to persistence.ErrConflict
func (s *Store) classify(err error, op string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, persistence.ErrConflict)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

var _ persistence.Ledger = (*Store)(nil)
