/*
Package sqlite provides a SQLite-backed lifecycle.Repository.

PURPOSE:
  Persists request aggregates so the server survives restarts. The same
  layout works on PostgreSQL with minor dialect changes.

KEY TABLES:
  requests:       one row per request; items, exceptions, allocations,
                  action records, stamps and attributes as JSON columns,
                  plus an optimistic version counter
  request_events: the audit log, one row per transition

APPEND-ONLY ENFORCEMENT:
  - request_events rows are only ever INSERTed; there is no UPDATE or
    DELETE statement for that table
  - Update inserts only the events beyond what was already stored, after
    lifecycle.CheckAppendOnly has verified the prefix is untouched
  - (request_id, sequence) is unique, so a replayed event cannot be stored
    twice

CONCURRENCY:
  A sync.RWMutex serializes writers in-process. Update also runs
  "UPDATE ... WHERE version = ?" inside a SQL transaction, so a second
  process writing the same file gets lifecycle.ErrConcurrentModification
  instead of a lost update.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/wms.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  flow := lifecycle.NewWorkflow(store, ts, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - lifecycle/store.go: Repository contract
  - lifecycle/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/wms-engine/lifecycle"
)

// timeFormat has a fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements lifecycle.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ lifecycle.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and writers
	// are serialized anyway.
	db.SetMaxOpenConns(1)

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		version INTEGER NOT NULL,
		items_json TEXT NOT NULL,
		exceptions_json TEXT NOT NULL,
		allocations_json TEXT NOT NULL,
		records_json TEXT NOT NULL,
		stamps_json TEXT NOT NULL,
		attributes_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_kind_status
		ON requests(kind, status);
	CREATE INDEX IF NOT EXISTS idx_requests_created_at
		ON requests(created_at, id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS request_events (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES requests(id),
		sequence INTEGER NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor TEXT,
		reason TEXT,
		occurred_at TEXT NOT NULL,
		UNIQUE(request_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_request_events_request
		ON request_events(request_id, sequence);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REPOSITORY
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create stores a new aggregate with version 1.
func (s *Store) Create(ctx context.Context, agg *lifecycle.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols, err := encode(agg)
	if err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO requests (id, kind, status, priority, version, items_json, exceptions_json,
			allocations_json, records_json, stamps_json, attributes_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = sqlTx.ExecContext(ctx, query,
		agg.ID, agg.Kind, agg.Status, agg.Priority,
		cols.items, cols.exceptions, cols.allocations, cols.records, cols.stamps, cols.attributes,
		agg.CreatedAt.UTC().Format(timeFormat), agg.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return lifecycle.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	if err := insertEvents(ctx, sqlTx, agg.Events); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Get loads an aggregate with its events.
func (s *Store) Get(ctx context.Context, id lifecycle.RequestID) (*lifecycle.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return load(ctx, s.db, id)
}

// List returns aggregates ordered by creation time, then id.
func (s *Store) List(ctx context.Context, filter lifecycle.Filter) ([]*lifecycle.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.CreatedAfter.UTC().Format(timeFormat))
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.CreatedBefore.UTC().Format(timeFormat))
	}

	query := "SELECT id FROM requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	var ids []lifecycle.RequestID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, lifecycle.RequestID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*lifecycle.Aggregate, 0, len(ids))
	for _, id := range ids {
		agg, err := load(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		result = append(result, agg)
	}
	return result, nil
}

// Update runs fn inside a SQL transaction and stores its result. Events fn
// appended are inserted; the row is rewritten only if its version is still
// the one fn saw.
func (s *Store) Update(ctx context.Context, id lifecycle.RequestID, fn lifecycle.UpdateFunc) (*lifecycle.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	cur, err := load(ctx, sqlTx, id)
	if err != nil {
		return nil, err
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckAppendOnly(cur, next); err != nil {
		return nil, err
	}

	cols, err := encode(next)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE requests SET status = ?, priority = ?, version = version + 1,
			items_json = ?, exceptions_json = ?, allocations_json = ?, records_json = ?,
			stamps_json = ?, attributes_json = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := sqlTx.ExecContext(ctx, query,
		next.Status, next.Priority,
		cols.items, cols.exceptions, cols.allocations, cols.records, cols.stamps, cols.attributes,
		next.UpdatedAt.UTC().Format(timeFormat),
		id, cur.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update request %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, lifecycle.ErrConcurrentModification
	}

	if err := insertEvents(ctx, sqlTx, next.Events[len(cur.Events):]); err != nil {
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit request %s: %w", id, err)
	}

	stored := next.Clone()
	stored.Version = cur.Version + 1
	return stored, nil
}

// Events returns the audit log of a request straight from request_events.
func (s *Store) Events(ctx context.Context, id lifecycle.RequestID) ([]lifecycle.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEvents(ctx, s.db, id)
}

// =============================================================================
// ROW ENCODING
// =============================================================================

type columns struct {
	items, exceptions, allocations, records, stamps, attributes string
}

func encode(agg *lifecycle.Aggregate) (columns, error) {
	var c columns
	fields := []struct {
		dst *string
		v   any
	}{
		{&c.items, agg.Items},
		{&c.exceptions, agg.Exceptions},
		{&c.allocations, agg.Allocations},
		{&c.records, agg.Records},
		{&c.stamps, agg.Stamps},
		{&c.attributes, agg.Attributes},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return columns{}, fmt.Errorf("failed to encode request %s: %w", agg.ID, err)
		}
		*f.dst = string(b)
	}
	return c, nil
}

func load(ctx context.Context, q querier, id lifecycle.RequestID) (*lifecycle.Aggregate, error) {
	query := `
		SELECT id, kind, status, priority, version, items_json, exceptions_json,
			allocations_json, records_json, stamps_json, attributes_json, created_at, updated_at
		FROM requests WHERE id = ?
	`
	var agg lifecycle.Aggregate
	var c columns
	var createdAt, updatedAt string
	err := q.QueryRowContext(ctx, query, id).Scan(
		&agg.ID, &agg.Kind, &agg.Status, &agg.Priority, &agg.Version,
		&c.items, &c.exceptions, &c.allocations, &c.records, &c.stamps, &c.attributes,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &lifecycle.NotFoundError{RequestID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request %s: %w", id, err)
	}

	fields := []struct {
		src string
		dst any
	}{
		{c.items, &agg.Items},
		{c.exceptions, &agg.Exceptions},
		{c.allocations, &agg.Allocations},
		{c.records, &agg.Records},
		{c.stamps, &agg.Stamps},
		{c.attributes, &agg.Attributes},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode request %s: %w", id, err)
		}
	}
	agg.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	agg.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	agg.Events, err = loadEvents(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func loadEvents(ctx context.Context, q querier, id lifecycle.RequestID) ([]lifecycle.Event, error) {
	query := `
		SELECT id, request_id, sequence, from_status, to_status, actor, reason, occurred_at
		FROM request_events WHERE request_id = ?
		ORDER BY sequence ASC
	`
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", id, err)
	}
	defer rows.Close()

	var events []lifecycle.Event
	for rows.Next() {
		var ev lifecycle.Event
		var actor, reason sql.NullString
		var occurredAt string
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.Sequence, &ev.From, &ev.To, &actor, &reason, &occurredAt); err != nil {
			return nil, err
		}
		ev.Actor = actor.String
		ev.Reason = reason.String
		ev.Timestamp, _ = time.Parse(timeFormat, occurredAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func insertEvents(ctx context.Context, db execer, events []lifecycle.Event) error {
	query := `
		INSERT INTO request_events (id, request_id, sequence, from_status, to_status, actor, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, ev := range events {
		_, err := db.ExecContext(ctx, query,
			ev.ID, ev.RequestID, ev.Sequence, ev.From, ev.To,
			nullString(ev.Actor), nullString(ev.Reason),
			ev.Timestamp.UTC().Format(timeFormat),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return lifecycle.ErrConcurrentModification
			}
			return fmt.Errorf("failed to append event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
