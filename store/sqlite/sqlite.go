/*
Package sqlite provides a SQLite-backed implementation of the ledger storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.RunStore using SQLite. In production the
  same statements run on PostgreSQL with minor dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:    inventory ledger events
  ledger.RunStore: sync run history

KEY TABLES:
  inventory_ledger_events: one row per natural key
  sync_runs:               one row per sync attempt

NATURAL KEY:
  idx_ledger_natural_key is a unique expression index over
    (fnsku, asin, event_date, event_type,
     COALESCE(reference_id, ''), COALESCE(fulfillment_center, ''))
  so a NULL and an empty reference id collide like any other duplicate.
  A concurrent insert of the same movement fails with ledger.ErrDuplicateKey.

ENCODING:
  event_date is stored as YYYY-MM-DD. Timestamps are fixed-width UTC strings
  so that string comparison orders them correctly.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. A ":memory:" database is pinned to a
  single connection; every pooled connection would otherwise see its own
  empty database.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/reimbursement-engine/ledger"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store and ledger.RunStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inventory_ledger_events (
		id TEXT PRIMARY KEY,
		event_date TEXT NOT NULL,
		fnsku TEXT NOT NULL,
		asin TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		product_title TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		reference_id TEXT,
		quantity INTEGER NOT NULL,
		fulfillment_center TEXT,
		disposition TEXT,
		reason TEXT,
		reconciled_quantity INTEGER NOT NULL DEFAULT 0,
		unreconciled_quantity INTEGER NOT NULL DEFAULT 0,
		country TEXT NOT NULL DEFAULT 'US',
		raw_timestamp TEXT NOT NULL,
		store_id TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one row per physical movement
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_natural_key
		ON inventory_ledger_events(fnsku, asin, event_date, event_type,
			COALESCE(reference_id, ''), COALESCE(fulfillment_center, ''));

	-- Sweeps and dashboard listings by status (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_status_date
		ON inventory_ledger_events(status, event_date DESC);

	CREATE INDEX IF NOT EXISTS idx_ledger_event_date
		ON inventory_ledger_events(event_date DESC, created_at DESC);

	CREATE INDEX IF NOT EXISTS idx_ledger_store
		ON inventory_ledger_events(store_id) WHERE store_id IS NOT NULL;

	-- Sync history
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		data_start TEXT NOT NULL,
		data_end TEXT NOT NULL,
		status TEXT NOT NULL,
		report_id TEXT,
		processed_count INTEGER NOT NULL DEFAULT 0,
		new_events_count INTEGER NOT NULL DEFAULT 0,
		updated_events_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started
		ON sync_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENT STORE (ledger.Store interface)
// =============================================================================

const eventColumns = `id, event_date, fnsku, asin, sku, product_title, event_type, reference_id,
	quantity, fulfillment_center, disposition, reason, reconciled_quantity,
	unreconciled_quantity, country, raw_timestamp, store_id, status, created_at, updated_at`

// FindByKey returns the event for a natural key.
func (s *Store) FindByKey(ctx context.Context, key ledger.NaturalKey) (ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + eventColumns + ` FROM inventory_ledger_events
		WHERE fnsku = ? AND asin = ? AND event_date = ? AND event_type = ?
			AND COALESCE(reference_id, '') = ? AND COALESCE(fulfillment_center, '') = ?`

	row := s.db.QueryRowContext(ctx, query,
		key.FNSKU, key.ASIN, formatDate(key.EventDate), key.EventType,
		key.ReferenceID, key.FulfillmentCenter,
	)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Event{}, ledger.ErrEventNotFound
	}
	if err != nil {
		return ledger.Event{}, &ledger.PersistenceError{Op: "find", Key: key.String(), Err: err}
	}
	return e, nil
}

// Insert persists a new event.
func (s *Store) Insert(ctx context.Context, e ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO inventory_ledger_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		formatDate(e.EventDate),
		e.FNSKU,
		e.ASIN,
		e.SKU,
		e.ProductTitle,
		e.EventType,
		nullable(e.ReferenceID),
		e.Quantity,
		nullable(e.FulfillmentCenter),
		nullable(e.Disposition),
		nullable(e.Reason),
		e.ReconciledQuantity,
		e.UnreconciledQuantity,
		e.Country,
		formatTime(e.RawTimestamp),
		nullable(e.StoreID),
		string(e.Status),
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateKey
		}
		return &ledger.PersistenceError{Op: "insert", Key: e.Key().String(), Err: err}
	}
	return nil
}

// Update overwrites the mutable fields and status of an existing event.
func (s *Store) Update(ctx context.Context, e ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE inventory_ledger_events SET
			quantity = ?, reconciled_quantity = ?, unreconciled_quantity = ?,
			disposition = ?, product_title = ?, status = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		e.Quantity, e.ReconciledQuantity, e.UnreconciledQuantity,
		nullable(e.Disposition), e.ProductTitle, string(e.Status), formatTime(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return &ledger.PersistenceError{Op: "update", Key: e.ID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrEventNotFound
	}
	return nil
}

// Get returns an event by id.
func (s *Store) Get(ctx context.Context, id string) (ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (ledger.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM inventory_ledger_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Event{}, ledger.ErrEventNotFound
	}
	if err != nil {
		return ledger.Event{}, &ledger.PersistenceError{Op: "get", Key: id, Err: err}
	}
	return e, nil
}

// List returns one page of matching events, newest event date first.
func (s *Store) List(ctx context.Context, filter ledger.Filter, page ledger.Page) ([]ledger.Event, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildFilter(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_ledger_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, &ledger.PersistenceError{Op: "count", Err: err}
	}

	query := `SELECT ` + eventColumns + ` FROM inventory_ledger_events` + where +
		` ORDER BY event_date DESC, created_at DESC`
	if page.Size > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Size, page.Offset())
	}

	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, 0, &ledger.PersistenceError{Op: "list", Err: err}
	}
	return events, total, nil
}

// ListByStatus returns up to limit events in status, newest event date first.
func (s *Store) ListByStatus(ctx context.Context, status ledger.Status, limit int) ([]ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + eventColumns + ` FROM inventory_ledger_events
		WHERE status = ? ORDER BY event_date DESC, created_at DESC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "list by status", Key: string(status), Err: err}
	}
	return events, nil
}

// PromoteWaiting moves aged, unreconciled WAITING events to CLAIMABLE.
func (s *Store) PromoteWaiting(ctx context.Context, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE inventory_ledger_events SET status = ?, updated_at = ?
		WHERE status = ? AND event_date <= ? AND unreconciled_quantity > 0
	`
	return s.exec(ctx, "promote waiting", query,
		string(ledger.StatusClaimable), formatTime(now), string(ledger.StatusWaiting), formatDate(cutoff))
}

// ResolveClaimable moves fully reconciled CLAIMABLE events to RESOLVED.
func (s *Store) ResolveClaimable(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE inventory_ledger_events SET status = ?, updated_at = ?
		WHERE status = ? AND unreconciled_quantity = 0
	`
	return s.exec(ctx, "resolve claimable", query,
		string(ledger.StatusResolved), formatTime(now), string(ledger.StatusClaimable))
}

// TransitionStatus moves one event from one status to another.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to ledger.Status, now time.Time) (ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE inventory_ledger_events SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(now), id, string(from),
	)
	if err != nil {
		return ledger.Event{}, &ledger.PersistenceError{Op: "transition", Key: id, Err: err}
	}

	n, _ := res.RowsAffected()
	current, err := s.get(ctx, id)
	if err != nil {
		return ledger.Event{}, err
	}
	if n == 0 {
		return ledger.Event{}, &ledger.TransitionError{EventID: id, From: current.Status, To: to}
	}
	return current, nil
}

// CountByStatus aggregates event counts and unreconciled units per status.
func (s *Store) CountByStatus(ctx context.Context) (map[ledger.Status]ledger.StatusTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(unreconciled_quantity), 0)
		FROM inventory_ledger_events GROUP BY status
	`)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "count by status", Err: err}
	}
	defer rows.Close()

	totals := make(map[ledger.Status]ledger.StatusTotals)
	for rows.Next() {
		var status string
		var t ledger.StatusTotals
		if err := rows.Scan(&status, &t.Count, &t.Units); err != nil {
			return nil, &ledger.PersistenceError{Op: "count by status", Err: err}
		}
		totals[ledger.Status(status)] = t
	}
	return totals, rows.Err()
}

// DeleteResolvedBefore removes RESOLVED events last updated before cutoff.
func (s *Store) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exec(ctx, "delete resolved",
		`DELETE FROM inventory_ledger_events WHERE status = ? AND updated_at < ?`,
		string(ledger.StatusResolved), formatTime(cutoff))
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &ledger.PersistenceError{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &ledger.PersistenceError{Op: op, Err: err}
	}
	return int(n), nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]ledger.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []ledger.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (ledger.Event, error) {
	var e ledger.Event
	var eventDate, rawTS, status, createdAt, updatedAt string
	var referenceID, fc, disposition, reason, storeID sql.NullString
	err := row.Scan(
		&e.ID, &eventDate, &e.FNSKU, &e.ASIN, &e.SKU, &e.ProductTitle, &e.EventType, &referenceID,
		&e.Quantity, &fc, &disposition, &reason, &e.ReconciledQuantity,
		&e.UnreconciledQuantity, &e.Country, &rawTS, &storeID, &status, &createdAt, &updatedAt,
	)
	if err != nil {
		return ledger.Event{}, err
	}

	e.EventDate, _ = time.Parse(ledger.DateLayout, eventDate)
	e.RawTimestamp, _ = time.Parse(timeLayout, rawTS)
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	e.Status = ledger.Status(status)
	e.ReferenceID = fromNull(referenceID)
	e.FulfillmentCenter = fromNull(fc)
	e.Disposition = fromNull(disposition)
	e.Reason = fromNull(reason)
	e.StoreID = fromNull(storeID)
	return e, nil
}

func buildFilter(f ledger.Filter) (string, []any) {
	var clauses []string
	var args []any

	in := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		clauses = append(clauses, column+" IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")+")")
		for _, v := range values {
			args = append(args, v)
		}
	}
	like := func(column, needle string) {
		if needle == "" {
			return
		}
		clauses = append(clauses, "LOWER("+column+") LIKE '%' || LOWER(?) || '%'")
		args = append(args, needle)
	}

	statuses := make([]string, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	in("status", statuses)
	in("event_type", f.EventTypes)
	in("fulfillment_center", f.FulfillmentCenters)
	if f.DateFrom != nil {
		clauses = append(clauses, "event_date >= ?")
		args = append(args, formatDate(*f.DateFrom))
	}
	if f.DateTo != nil {
		clauses = append(clauses, "event_date <= ?")
		args = append(args, formatDate(*f.DateTo))
	}
	like("fnsku", f.FNSKU)
	like("asin", f.ASIN)
	like("sku", f.SKU)

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// =============================================================================
// SYNC RUNS (ledger.RunStore interface)
// =============================================================================

// SaveRun inserts or replaces a run by ID.
func (s *Store) SaveRun(ctx context.Context, r ledger.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sync_runs (id, kind, data_start, data_end, status, report_id,
			processed_count, new_events_count, updated_events_count, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			report_id = excluded.report_id,
			processed_count = excluded.processed_count,
			new_events_count = excluded.new_events_count,
			updated_events_count = excluded.updated_events_count,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		c := formatTime(*r.CompletedAt)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Kind, formatTime(r.DataStart), formatTime(r.DataEnd), string(r.State),
		nullString(r.ReportID), r.Counts.ProcessedCount, r.Counts.NewEventsCount,
		r.Counts.UpdatedEventsCount, nullString(r.Error), formatTime(r.StartedAt), completedAt,
	)
	if err != nil {
		return &ledger.PersistenceError{Op: "save run", Key: r.ID, Err: err}
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, kind, data_start, data_end, status, report_id, processed_count,
			new_events_count, updated_events_count, error, started_at, completed_at
		FROM sync_runs
		ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	runs := []ledger.RunRecord{}
	for rows.Next() {
		var r ledger.RunRecord
		var dataStart, dataEnd, status, startedAt string
		var reportID, runErr, completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Kind, &dataStart, &dataEnd, &status, &reportID, &r.Counts.ProcessedCount,
			&r.Counts.NewEventsCount, &r.Counts.UpdatedEventsCount, &runErr, &startedAt, &completedAt,
		); err != nil {
			return nil, &ledger.PersistenceError{Op: "list runs", Err: err}
		}

		r.DataStart, _ = time.Parse(timeLayout, dataStart)
		r.DataEnd, _ = time.Parse(timeLayout, dataEnd)
		r.StartedAt, _ = time.Parse(timeLayout, startedAt)
		r.State = ledger.RunState(status)
		r.ReportID = reportID.String
		r.Error = runErr.String
		if completedAt.Valid {
			t, _ := time.Parse(timeLayout, completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// Helper functions

func formatDate(t time.Time) string {
	return ledger.Day(t).Format(ledger.DateLayout)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return &ns.String
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
