package sqlite

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// scanner splits an update file into executable SQL statements while
// streaming, so file size never dictates memory use. It understands
// single-quoted strings with '' escapes, -- line comments, and /* */ block
// comments; a semicolon anywhere outside those ends a statement. Trailing
// content without a semicolon still yields a final statement.
type scanner struct {
	br   *bufio.Reader
	stmt string
	err  error
	done bool
}

func newScanner(r io.Reader) *scanner {
	return &scanner{br: bufio.NewReader(r)}
}

// Scan advances to the next non-empty statement. It returns false when the
// input is exhausted or a read fails; Err distinguishes the two.
func (s *scanner) Scan() bool {
	for !s.done && s.err == nil {
		stmt, ok := s.next()
		if ok {
			s.stmt = stmt
			return true
		}
	}
	return false
}

// Statement returns the statement read by the last successful Scan.
func (s *scanner) Statement() string { return s.stmt }

// Err returns the first read error other than EOF.
func (s *scanner) Err() error { return s.err }

// next reads one semicolon-terminated unit. ok is false when the unit is
// blank (whitespace or comments only) or the input ended.
func (s *scanner) next() (string, bool) {
	var (
		b        strings.Builder
		inString bool
	)
	for {
		c, err := s.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				stmt := strings.TrimSpace(b.String())
				return stmt, stmt != ""
			}
			s.err = err
			return "", false
		}
		if inString {
			b.WriteByte(c)
			if c == '\'' {
				inString = false
			}
			continue
		}
		switch c {
		case '\'':
			inString = true
			b.WriteByte(c)
		case ';':
			stmt := strings.TrimSpace(b.String())
			return stmt, stmt != ""
		case '-':
			if nxt, _ := s.br.Peek(1); len(nxt) == 1 && nxt[0] == '-' {
				_, _ = s.br.Discard(1)
				s.skipLine()
				b.WriteByte('\n')
			} else {
				b.WriteByte(c)
			}
		case '/':
			if nxt, _ := s.br.Peek(1); len(nxt) == 1 && nxt[0] == '*' {
				_, _ = s.br.Discard(1)
				s.skipBlockComment()
				b.WriteByte(' ')
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
}

// skipLine consumes bytes through the end of the current line. Errors are
// left for the main loop to re-encounter.
func (s *scanner) skipLine() {
	for {
		c, err := s.br.ReadByte()
		if err != nil || c == '\n' {
			return
		}
	}
}

// skipBlockComment consumes bytes through the closing */. An unterminated
// comment runs to EOF.
func (s *scanner) skipBlockComment() {
	var prev byte
	for {
		c, err := s.br.ReadByte()
		if err != nil {
			return
		}
		if prev == '*' && c == '/' {
			return
		}
		prev = c
	}
}
