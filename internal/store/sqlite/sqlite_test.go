package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/lockstep/internal/domain"
)

// openTestDB opens a transient SQLite database file in a temp dir with WAL enabled.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "test.db?_busy_timeout=5000&cache=shared")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err = db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, db
}

const widgetFile = `-- Increment timestamp: 20160129_192339
-- Previous timestamp: 20160128_192500

CREATE TABLE widgets (
    id INTEGER PRIMARY KEY,
    label TEXT NOT NULL
);

INSERT INTO widgets (id, label) VALUES (1, 'first; widget');
`

func TestPositionEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	tok, err := s.Position(context.Background())
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !tok.IsZero() {
		t.Fatalf("fresh store position = %q", tok)
	}
}

func TestApplyExecutesAndAdvances(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	n, err := s.Apply(ctx, "001_widgets.sql", strings.NewReader(widgetFile), "20160129_192339", "run-1")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 2 {
		t.Fatalf("statements = %d", n)
	}
	var label string
	if err := db.QueryRow(`SELECT label FROM widgets WHERE id = 1`).Scan(&label); err != nil {
		t.Fatalf("widgets row: %v", err)
	}
	if label != "first; widget" {
		t.Fatalf("label = %q", label)
	}
	tok, err := s.Position(ctx)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if tok != "20160129_192339" {
		t.Fatalf("position = %q", tok)
	}
	hist, err := s.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history = %+v", hist)
	}
	af := hist[0]
	if af.Name != "001_widgets.sql" || af.Token != "20160129_192339" || af.RunID != "run-1" || af.Statements != 2 {
		t.Fatalf("history row = %+v", af)
	}
	if af.AppliedAt.IsZero() {
		t.Fatalf("applied_at not recorded")
	}
}

func TestApplyRollsBackOnBadStatement(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	file := "CREATE TABLE good (id INTEGER);\nINSERT INTO missing VALUES (1);\n"
	_, err := s.Apply(ctx, "002_broken.sql", strings.NewReader(file), "tok_bad", "run-2")
	if err == nil {
		t.Fatalf("expected apply failure")
	}
	if !strings.Contains(err.Error(), "statement 2") {
		t.Fatalf("failing statement not numbered: %v", err)
	}
	// The CREATE before the failure must be rolled back.
	var name string
	scanErr := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='good'`).Scan(&name)
	if !errors.Is(scanErr, sql.ErrNoRows) {
		t.Fatalf("partial apply leaked: %v / %q", scanErr, name)
	}
	tok, err := s.Position(ctx)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !tok.IsZero() {
		t.Fatalf("position advanced on failed apply: %q", tok)
	}
	hist, err := s.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("history written on failed apply: %+v", hist)
	}
}

func TestApplySourceReadError(t *testing.T) {
	s, _ := newTestStore(t)
	boom := errors.New("stream torn")
	src := &failingReader{data: "CREATE TABLE half (id INTEGER);\nINSERT INTO ", err: boom}
	_, err := s.Apply(context.Background(), "003_torn.sql", src, "tok_torn", "run-3")
	if !errors.Is(err, domain.ErrSourceRead) {
		t.Fatalf("want ErrSourceRead, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause lost: %v", err)
	}
	tok, posErr := s.Position(context.Background())
	if posErr != nil || !tok.IsZero() {
		t.Fatalf("position after torn read = %q, %v", tok, posErr)
	}
}

func TestApplyAdvancesPerFile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	files := []struct {
		name  string
		token domain.Token
		body  string
	}{
		{"001.sql", "tok_a", "CREATE TABLE t1 (id INTEGER);"},
		{"002.sql", "tok_b", "CREATE TABLE t2 (id INTEGER);"},
		{"003.sql", "tok_c", "CREATE TABLE t3 (id INTEGER);"},
	}
	for _, f := range files {
		if _, err := s.Apply(ctx, f.name, strings.NewReader(f.body), f.token, "run-4"); err != nil {
			t.Fatalf("Apply %s: %v", f.name, err)
		}
		tok, err := s.Position(ctx)
		if err != nil {
			t.Fatalf("Position: %v", err)
		}
		if tok != f.token {
			t.Fatalf("position after %s = %q", f.name, tok)
		}
	}
	hist, err := s.History(ctx, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %+v", hist)
	}
	// Newest first.
	if hist[0].Name != "003.sql" || hist[1].Name != "002.sql" {
		t.Fatalf("history order = %+v", hist)
	}
}

func TestSchemaSurvivesReopen(t *testing.T) {
	db := openTestDB(t)
	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Apply(context.Background(), "001.sql", strings.NewReader("SELECT 1;"), "tok_a", "run-5"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// A second New over the same handle must not clobber state.
	s2, err := New(db)
	if err != nil {
		t.Fatalf("New again: %v", err)
	}
	tok, err := s2.Position(context.Background())
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if tok != "tok_a" {
		t.Fatalf("position = %q", tok)
	}
}

func TestPing(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
