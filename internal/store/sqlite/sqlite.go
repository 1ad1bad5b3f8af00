// Package sqlite provides the SQLite-backed app.ChainStore. Update files are
// executed against the same database that carries the chain bookkeeping
// tables, so the reached position and the applied statements commit together.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/haukened/lockstep/internal/app"
	"github.com/haukened/lockstep/internal/domain"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var _ app.ChainStore = (*Store)(nil)

// DefaultHistoryLimit bounds History when the caller passes no limit.
const DefaultHistoryLimit = 20

// Store implements app.ChainStore using SQLite (via database/sql). It is safe
// for concurrent use; database/sql manages connection pooling.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New constructs a Store, initializing the bookkeeping schema if absent.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `CREATE TABLE IF NOT EXISTS chain_position (
id INTEGER PRIMARY KEY CHECK (id = 1),
token TEXT NOT NULL,
updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS applied_files (
seq INTEGER PRIMARY KEY AUTOINCREMENT,
name TEXT NOT NULL,
token TEXT NOT NULL,
run_id TEXT NOT NULL,
applied_at INTEGER NOT NULL,
statements INTEGER NOT NULL
);`
	_, err := s.db.Exec(schema)
	return err
}

// Position returns the reached chain position, or domain.None when no file
// has ever been applied.
func (s *Store) Position(ctx context.Context) (domain.Token, error) {
	const q = `SELECT token FROM chain_position WHERE id = 1`
	var tok string
	if err := s.db.QueryRowContext(ctx, q).Scan(&tok); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.None, nil
		}
		return domain.None, err
	}
	return domain.Token(tok), nil
}

// Apply streams the file's statements into one transaction together with the
// history row and the position advance. Either everything commits or the
// database is untouched. It returns the number of statements executed.
func (s *Store) Apply(ctx context.Context, name string, src io.Reader, token domain.Token, runID string) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	sc := newScanner(src)
	for sc.Scan() {
		if _, err = tx.ExecContext(ctx, sc.Statement()); err != nil {
			return 0, fmt.Errorf("statement %d: %w", n+1, err)
		}
		n++
	}
	if err = sc.Err(); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrSourceRead, name, err)
	}

	now := s.now().UTC().Unix()
	const ins = `INSERT INTO applied_files (name, token, run_id, applied_at, statements) VALUES (?,?,?,?,?)`
	if _, err = tx.ExecContext(ctx, ins, name, string(token), runID, now, n); err != nil {
		return 0, err
	}
	const up = `INSERT INTO chain_position (id, token, updated_at) VALUES (1,?,?)
ON CONFLICT(id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`
	if _, err = tx.ExecContext(ctx, up, string(token), now); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// History returns recently applied files, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]app.AppliedFile, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	const q = `SELECT name, token, run_id, applied_at, statements FROM applied_files ORDER BY seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []app.AppliedFile
	for rows.Next() {
		var (
			af        app.AppliedFile
			tok       string
			appliedAt int64
		)
		if err = rows.Scan(&af.Name, &tok, &af.RunID, &appliedAt, &af.Statements); err != nil {
			return nil, err
		}
		af.Token = domain.Token(tok)
		af.AppliedAt = time.Unix(appliedAt, 0).UTC()
		out = append(out, af)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
