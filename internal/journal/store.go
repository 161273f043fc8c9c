package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/event"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one stored event.
type Entry struct {
	ID int64 `json:"id"`
	event.Event
}

// Query filters Recent. Zero values mean no filter and the default limit.
type Query struct {
	Limit int
	Kind  event.Kind
}

// Store reads and writes the relay_events table.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert stores one event.
func (s *Store) Insert(ctx context.Context, e event.Event) error {
	if e.Kind == "" {
		return errors.New("event kind is required")
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_events
		   (kind, state, relay_number, relay_id, active, run_id, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind),
		e.State,
		nullInt(e.RelayNumber),
		nullString(e.RelayID),
		boolToInt(e.Active),
		nullString(e.RunID),
		nullDuration(e.Duration),
		e.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting relay event: %w", err)
	}
	return nil
}

// Recent returns stored events, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := `SELECT id, kind, state, relay_number, relay_id, active, run_id, duration_ms, created_at
	          FROM relay_events`
	args := make([]any, 0, 2)
	if q.Kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(q.Kind))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying relay events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry      Entry
			kind       string
			relayNum   sql.NullInt64
			relayID    sql.NullString
			active     int
			runID      sql.NullString
			durationMS sql.NullInt64
			createdAt  string
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.State, &relayNum, &relayID, &active, &runID, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning relay event: %w", err)
		}

		ts, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}

		entry.Kind = event.Kind(kind)
		entry.Time = ts
		entry.RelayNumber = int(relayNum.Int64)
		entry.RelayID = relayID.String
		entry.Active = active != 0
		entry.RunID = runID.String
		entry.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relay events: %w", err)
	}
	return entries, nil
}

// Prune deletes events created before now minus olderThan.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, "DELETE FROM relay_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning relay events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullDuration(d time.Duration) sql.NullInt64 {
	return sql.NullInt64{Int64: d.Milliseconds(), Valid: d != 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
