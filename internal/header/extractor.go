// Package header extracts the two-line increment header from the top of an
// update file. Reads are chunked and stop at the second line terminator, so
// extraction cost is independent of file size.
package header

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/haukened/lockstep/internal/domain"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 4 * 1024

// maxHeaderBytes caps the length of a single header line. A file whose first
// newline sits beyond this limit cannot carry a valid header.
const maxHeaderBytes = 1 << 20

// Prefixes holds the literal line prefixes that introduce the two header
// tokens. The token is the last whitespace-separated field after the prefix.
type Prefixes struct {
	Current  string
	Previous string
}

// DefaultPrefixes returns the prefixes written by the increment generator.
func DefaultPrefixes() Prefixes {
	return Prefixes{
		Current:  "-- Increment timestamp:",
		Previous: "-- Previous timestamp:",
	}
}

// Extractor reads the first two lines of an update file and parses them into
// a domain.HeaderPair. It never reads past the second line terminator beyond
// the chunk that contains it.
type Extractor struct {
	prefixes  Prefixes
	chunkSize int
}

// New returns an Extractor that reads in chunks of chunkSize bytes.
// Non-positive sizes and empty prefixes fall back to the defaults.
func New(p Prefixes, chunkSize int) *Extractor {
	if p.Current == "" {
		p.Current = DefaultPrefixes().Current
	}
	if p.Previous == "" {
		p.Previous = DefaultPrefixes().Previous
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Extractor{prefixes: p, chunkSize: chunkSize}
}

// Extract reads the header from r. The first line must carry the current
// token, the second the previous token. A final line terminated by EOF
// instead of a newline still counts. Read failures wrap
// domain.ErrSourceRead; every format problem wraps domain.ErrMalformedHeader.
// The caller owns r and is responsible for closing it.
func (e *Extractor) Extract(r io.Reader) (domain.HeaderPair, error) {
	lines, err := e.readLines(r)
	if err != nil {
		return domain.HeaderPair{}, err
	}
	cur, err := parseLine(lines[0], e.prefixes.Current)
	if err != nil {
		return domain.HeaderPair{}, err
	}
	prev, err := parseLine(lines[1], e.prefixes.Previous)
	if err != nil {
		return domain.HeaderPair{}, err
	}
	return domain.HeaderPair{Current: cur, Previous: prev}, nil
}

// readLines collects the first two lines of r, reading at most one chunk
// beyond the second terminator. Carriage returns before a newline are
// stripped so CRLF files parse the same as LF files.
func (e *Extractor) readLines(r io.Reader) ([2][]byte, error) {
	var (
		lines [2][]byte
		n     int    // completed lines
		acc   []byte // line in progress, spans chunk boundaries
	)
	buf := make([]byte, e.chunkSize)
	for {
		read, err := r.Read(buf)
		if read > 0 {
			rest := buf[:read]
			for len(rest) > 0 && n < 2 {
				i := bytes.IndexByte(rest, '\n')
				if i < 0 {
					acc = append(acc, rest...)
					break
				}
				lines[n] = trimCR(append(acc, rest[:i]...))
				acc = nil
				n++
				rest = rest[i+1:]
			}
			if n == 2 {
				return lines, nil
			}
			if len(acc) > maxHeaderBytes {
				return lines, fmt.Errorf("%w: header line exceeds %d bytes", domain.ErrMalformedHeader, maxHeaderBytes)
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(acc) > 0 {
				lines[n] = trimCR(acc)
				n++
			}
			if n < 2 {
				return lines, fmt.Errorf("%w: expected 2 header lines, found %d", domain.ErrMalformedHeader, n)
			}
			return lines, nil
		}
		return lines, fmt.Errorf("%w: %w", domain.ErrSourceRead, err)
	}
}

// parseLine validates the prefix and pulls the token out of one header line.
func parseLine(line []byte, prefix string) (domain.Token, error) {
	s := string(line)
	if !strings.HasPrefix(s, prefix) {
		return domain.None, fmt.Errorf("%w: line %q does not start with %q", domain.ErrMalformedHeader, snippet(s), prefix)
	}
	fields := strings.Fields(s[len(prefix):])
	if len(fields) == 0 {
		return domain.None, fmt.Errorf("%w: no token after %q", domain.ErrMalformedHeader, prefix)
	}
	return domain.Token(fields[len(fields)-1]), nil
}

// trimCR drops a trailing carriage return left behind by CRLF line endings.
func trimCR(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\r' {
		return line[:len(line)-1]
	}
	return line
}

// snippet shortens s for use in error messages.
func snippet(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
