// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the lockstep use-cases depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (directory source, SQLite store, watch
// daemon) provide concrete implementations. No I/O, SQL, or flag parsing
// belongs here.
package app

import (
	"context"
	"io"
	"time"

	"github.com/haukened/lockstep/internal/chain"
	"github.com/haukened/lockstep/internal/domain"
)

// Source enumerates and opens candidate update files. Listing order carries
// no meaning; the chain sorts names itself.
type Source interface {
	// List returns the names of all candidate files in the source.
	List() ([]string, error)

	// Open opens a named file for reading. The caller owns the ReadCloser
	// and must close it on every path.
	Open(name string) (io.ReadCloser, error)
}

// Runner validates file names against a baseline chain position.
// *chain.Validator is the production implementation.
type Runner interface {
	Run(ctx context.Context, names []string, baseline domain.Token) (chain.Result, error)
}

// ChainStore persists the reached chain position and the files applied to get
// there. Apply MUST be atomic: the file's statements, its history row, and
// the position advance all commit together or not at all.
type ChainStore interface {
	// Position returns the current chain position, or domain.None when no
	// file has ever been applied.
	Position(ctx context.Context) (domain.Token, error)

	// Apply executes the SQL statements streamed from src, records the file
	// under runID, and advances the chain position to token. It returns the
	// number of statements executed.
	Apply(ctx context.Context, name string, src io.Reader, token domain.Token, runID string) (int, error)

	// History returns recently applied files, newest first, at most limit.
	History(ctx context.Context, limit int) ([]AppliedFile, error)
}

// AppliedFile is one row of apply history.
type AppliedFile struct {
	Name       string
	Token      domain.Token
	RunID      string
	AppliedAt  time.Time
	Statements int
}

// Clock abstracts time to enable deterministic testing.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}
