package sqlite

import (
	"errors"
	"strings"
	"testing"
)

// scanAll drains the scanner and returns every statement.
func scanAll(t *testing.T, input string) []string {
	t.Helper()
	sc := newScanner(strings.NewReader(input))
	var out []string
	for sc.Scan() {
		out = append(out, sc.Statement())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestScannerSplitsStatements(t *testing.T) {
	stmts := scanAll(t, "CREATE TABLE a (id INTEGER);\nINSERT INTO a VALUES (1);\n")
	if len(stmts) != 2 {
		t.Fatalf("statements = %q", stmts)
	}
	if stmts[0] != "CREATE TABLE a (id INTEGER)" {
		t.Fatalf("first = %q", stmts[0])
	}
	if stmts[1] != "INSERT INTO a VALUES (1)" {
		t.Fatalf("second = %q", stmts[1])
	}
}

func TestScannerSkipsHeaderComments(t *testing.T) {
	input := "-- Increment timestamp: 20160129_192339\n" +
		"-- Previous timestamp: 20160128_192500\n" +
		"\n" +
		"SELECT 1;\n"
	stmts := scanAll(t, input)
	if len(stmts) != 1 || stmts[0] != "SELECT 1" {
		t.Fatalf("statements = %q", stmts)
	}
}

func TestScannerCommentOnlyFile(t *testing.T) {
	stmts := scanAll(t, "-- nothing here\n-- at all\n")
	if len(stmts) != 0 {
		t.Fatalf("statements = %q", stmts)
	}
}

func TestScannerEmptyInput(t *testing.T) {
	if stmts := scanAll(t, ""); len(stmts) != 0 {
		t.Fatalf("statements = %q", stmts)
	}
}

func TestScannerSemicolonInsideString(t *testing.T) {
	stmts := scanAll(t, "INSERT INTO t VALUES ('a;b');")
	if len(stmts) != 1 {
		t.Fatalf("statements = %q", stmts)
	}
	if !strings.Contains(stmts[0], "'a;b'") {
		t.Fatalf("string literal mangled: %q", stmts[0])
	}
}

func TestScannerEscapedQuote(t *testing.T) {
	stmts := scanAll(t, "INSERT INTO t VALUES ('it''s');")
	if len(stmts) != 1 || !strings.Contains(stmts[0], "'it''s'") {
		t.Fatalf("statements = %q", stmts)
	}
}

func TestScannerCommentMarkersInsideString(t *testing.T) {
	stmts := scanAll(t, "INSERT INTO t VALUES ('-- keep /* me */');")
	if len(stmts) != 1 || !strings.Contains(stmts[0], "-- keep /* me */") {
		t.Fatalf("statements = %q", stmts)
	}
}

func TestScannerMultipleStatementsOneLine(t *testing.T) {
	stmts := scanAll(t, "SELECT 1; SELECT 2;")
	if len(stmts) != 2 || stmts[0] != "SELECT 1" || stmts[1] != "SELECT 2" {
		t.Fatalf("statements = %q", stmts)
	}
}

func TestScannerBlockComments(t *testing.T) {
	input := "/* created by tooling\n   do not edit */\nSELECT 1;\nSELECT /* inline */ 2;"
	stmts := scanAll(t, input)
	if len(stmts) != 2 {
		t.Fatalf("statements = %q", stmts)
	}
	if strings.Contains(stmts[1], "inline") {
		t.Fatalf("block comment survived: %q", stmts[1])
	}
}

func TestScannerTrailingLineComment(t *testing.T) {
	stmts := scanAll(t, "SELECT 1 -- trailing note\n+ 1;")
	if len(stmts) != 1 {
		t.Fatalf("statements = %q", stmts)
	}
	if strings.Contains(stmts[0], "trailing") {
		t.Fatalf("line comment survived: %q", stmts[0])
	}
	if !strings.Contains(stmts[0], "+ 1") {
		t.Fatalf("continuation lost: %q", stmts[0])
	}
}

func TestScannerNoTrailingSemicolon(t *testing.T) {
	stmts := scanAll(t, "SELECT 42")
	if len(stmts) != 1 || stmts[0] != "SELECT 42" {
		t.Fatalf("statements = %q", stmts)
	}
}

// failingReader serves data then fails.
type failingReader struct {
	data string
	off  int
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, r.err
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func TestScannerReadError(t *testing.T) {
	boom := errors.New("boom")
	sc := newScanner(&failingReader{data: "SELECT 1;\nSELECT ", err: boom})
	if !sc.Scan() {
		t.Fatalf("first statement lost: %v", sc.Err())
	}
	if sc.Scan() {
		t.Fatalf("scan succeeded past read error")
	}
	if !errors.Is(sc.Err(), boom) {
		t.Fatalf("err = %v", sc.Err())
	}
}
