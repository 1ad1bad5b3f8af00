// Package chain validates that a set of update files forms an unbroken
// sequence of chain positions. Files are processed strictly one at a time in
// sorted name order; a file is accepted only when the previous position it
// declares matches the position the chain has reached.
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/zyedidia/glob"

	"github.com/haukened/lockstep/internal/domain"
)

// DefaultIgnore is the glob applied when no ignore patterns are configured.
const DefaultIgnore = ".gitkeep"

// Opener opens a named update file for reading.
type Opener interface {
	Open(name string) (io.ReadCloser, error)
}

// Extractor pulls the header pair out of an opened update file.
type Extractor interface {
	Extract(r io.Reader) (domain.HeaderPair, error)
}

// Policy selects how a chain mismatch is handled.
type Policy int

const (
	// PolicySkip records the mismatch and keeps going.
	PolicySkip Policy = iota
	// PolicyStrict halts the run on the first mismatch.
	PolicyStrict
)

// Config carries the dependencies and knobs for a Validator.
type Config struct {
	Opener    Opener
	Extractor Extractor
	Ignore    []string // glob patterns; empty means DefaultIgnore
	Policy    Policy
	Log       *slog.Logger
}

// Validator walks update files in order and tracks the chain position.
type Validator struct {
	opener  Opener
	extract Extractor
	ignore  []*glob.Glob
	policy  Policy
	log     *slog.Logger
}

// New builds a Validator from cfg. Ignore patterns are compiled up front so a
// bad pattern fails construction rather than a run.
func New(cfg Config) (*Validator, error) {
	if cfg.Opener == nil {
		return nil, errors.New("opener is required")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	patterns := cfg.Ignore
	if len(patterns) == 0 {
		patterns = []string{DefaultIgnore}
	}
	globs := make([]*glob.Glob, 0, len(patterns))
	for _, pat := range patterns {
		g, err := glob.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("bad ignore pattern %q: %w", pat, err)
		}
		globs = append(globs, g)
	}
	return &Validator{
		opener:  cfg.Opener,
		extract: cfg.Extractor,
		ignore:  globs,
		policy:  cfg.Policy,
		log:     cfg.Log.With("domain", "chain"),
	}, nil
}

// Entry records one accepted file and the chain position it reached.
type Entry struct {
	Name  string
	Token domain.Token
}

// Rejection records a file whose declared previous position did not match
// the position the chain had reached when the file was evaluated.
type Rejection struct {
	Name string
	Want domain.Token
	Got  domain.Token
}

// Halt records the file that ended a run early and why.
type Halt struct {
	Name string
	Err  error
}

// Result is everything a validation run produced. When Halt is set the other
// fields hold the partial outcome up to the offending file.
type Result struct {
	Accepted []Entry
	Rejected []Rejection
	Ignored  int
	Latest   domain.Token
	Halt     *Halt
}

// Run validates names against the chain starting at baseline. A zero baseline
// means no position has been reached yet, so the first file is accepted
// unconditionally. Names are sorted on a copy; the caller's slice is left
// alone. The returned error is nil for a clean run and otherwise mirrors
// Result.Halt.Err. Cancellation is honored between files, never mid-file.
func (v *Validator) Run(ctx context.Context, names []string, baseline domain.Token) (Result, error) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	res := Result{Latest: baseline}
	for _, name := range sorted {
		if err := ctx.Err(); err != nil {
			res.Halt = &Halt{Name: name, Err: err}
			return res, err
		}
		if v.ignored(name) {
			res.Ignored++
			v.log.Debug("file ignored", "file", name)
			continue
		}
		hp, err := v.readHeader(name)
		if err != nil {
			res.Halt = &Halt{Name: name, Err: err}
			v.log.Error("run halted", "file", name, "error", err)
			return res, err
		}
		if !res.Latest.IsZero() && hp.Previous != res.Latest {
			res.Rejected = append(res.Rejected, Rejection{Name: name, Want: res.Latest, Got: hp.Previous})
			v.log.Warn("chain mismatch", "file", name, "want", res.Latest, "got", hp.Previous)
			if v.policy == PolicyStrict {
				err := fmt.Errorf("%w: %s declares previous %s, chain is at %s", domain.ErrChainBroken, name, hp.Previous, res.Latest)
				res.Halt = &Halt{Name: name, Err: err}
				return res, err
			}
			continue
		}
		res.Accepted = append(res.Accepted, Entry{Name: name, Token: hp.Current})
		res.Latest = hp.Current
		v.log.Debug("file accepted", "file", name, "token", hp.Current)
	}
	return res, nil
}

// readHeader opens name, extracts the header, and closes the source on every
// path. An open failure counts as a read failure.
func (v *Validator) readHeader(name string) (domain.HeaderPair, error) {
	src, err := v.opener.Open(name)
	if err != nil {
		return domain.HeaderPair{}, fmt.Errorf("%w: open %s: %w", domain.ErrSourceRead, name, err)
	}
	defer src.Close()
	hp, err := v.extract.Extract(src)
	if err != nil {
		return domain.HeaderPair{}, fmt.Errorf("%s: %w", name, err)
	}
	return hp, nil
}

// ignored reports whether name matches any configured ignore pattern.
func (v *Validator) ignored(name string) bool {
	for _, g := range v.ignore {
		if g.MatchString(name) {
			return true
		}
	}
	return false
}
