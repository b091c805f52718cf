// Package ledger records per-product pipeline state in a SQLite database
// inside the output directory, so later runs can report what is still
// pending.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// State is the last known pipeline state of an item.
type State string

const (
	StateKept       State = "kept"
	StateCulled     State = "culled"
	StateDownloaded State = "downloaded"
	StateOffline    State = "offline"
	StateFailed     State = "failed"
	StateExpanded   State = "expanded"
	StateComposited State = "composited"
)

// DirName is the pipeline's private directory inside the output directory.
const DirName = ".s2batch"

//go:embed schema.sql
var schema string

// Entry is the current record of one item, keyed by product name.
type Entry struct {
	Name      string
	ProductID string
	State     State
	Message   string
	RunID     string
	UpdatedAt time.Time
}

// Store persists ledger entries in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// DefaultPath returns the ledger location for an output directory.
func DefaultPath(outputDir string) string {
	return filepath.Join(outputDir, DirName, "ledger.db")
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Fetch and composite workers record concurrently; one connection
	// serialises writers instead of surfacing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record upserts the item's current state and appends a transition row.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("ledger is not configured")
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return fmt.Errorf("item name is required")
	}
	if e.State == "" {
		return fmt.Errorf("state is required")
	}
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO items (name, product_id, state, message, run_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   product_id = CASE WHEN excluded.product_id <> '' THEN excluded.product_id ELSE items.product_id END,
		   state = excluded.state,
		   message = excluded.message,
		   run_id = excluded.run_id,
		   updated_at = excluded.updated_at`,
		name, e.ProductID, string(e.State), e.Message, e.RunID, toMillis(updatedAt),
	); err != nil {
		return fmt.Errorf("upsert ledger item: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transitions (name, state, message, run_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, string(e.State), e.Message, e.RunID, toMillis(updatedAt),
	); err != nil {
		return fmt.Errorf("insert ledger transition: %w", err)
	}
	return tx.Commit()
}

// Get returns the entry for name. The boolean is false when none exists.
func (s *Store) Get(ctx context.Context, name string) (Entry, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT name, product_id, state, message, run_id, updated_at FROM items WHERE name = ?`, name)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get ledger item: %w", err)
	}
	return e, true, nil
}

// ListByState returns entries currently in state, oldest first.
func (s *Store) ListByState(ctx context.Context, state State) ([]Entry, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name, product_id, state, message, run_id, updated_at FROM items
		 WHERE state = ? ORDER BY updated_at, name`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list ledger items: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger item: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// History returns the transitions recorded for name, oldest first.
func (s *Store) History(ctx context.Context, name string) ([]Entry, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name, state, message, run_id, created_at FROM transitions WHERE name = ? ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("list ledger transitions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			state   string
			created int64
		)
		if err := rows.Scan(&e.Name, &state, &e.Message, &e.RunID, &created); err != nil {
			return nil, fmt.Errorf("scan ledger transition: %w", err)
		}
		e.State = State(state)
		e.UpdatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e       Entry
		state   string
		updated int64
	)
	if err := row.Scan(&e.Name, &e.ProductID, &state, &e.Message, &e.RunID, &updated); err != nil {
		return Entry{}, err
	}
	e.State = State(state)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}
