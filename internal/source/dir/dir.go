// Package dir adapts a single filesystem directory as the source of update
// files. Listing returns regular files only; opening validates the name so
// callers can never address anything outside the root.
package dir

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/haukened/lockstep/internal/app"
	"github.com/haukened/lockstep/internal/chain"
)

// Ensure Dir satisfies the ports it is wired into.
var (
	_ app.Source   = (*Dir)(nil)
	_ chain.Opener = (*Dir)(nil)
)

// Dir is a read-only view over one directory of update files.
type Dir struct {
	root string
}

// New returns a source rooted at root. The directory must already exist.
func New(root string) (*Dir, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory this source reads from.
func (d *Dir) Root() string { return d.root }

// List returns the names of all regular files directly under the root.
// Subdirectories, symlinks, and special files are skipped.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Open opens a previously listed file by bare name.
func (d *Dir) Open(name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	// #nosec G304: path is a fixed root joined with a validated bare name; no traversal possible.
	return os.Open(filepath.Join(d.root, name))
}

// validateName rejects anything that could escape the root: separators,
// parent references, or an empty name.
func validateName(name string) error {
	if name == "" {
		return errors.New("empty file name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid file name %q", name)
	}
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}
