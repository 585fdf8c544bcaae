package cli

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// whatever was written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestVisualLen_StripsANSI(t *testing.T) {
	if got := visualLen("\x1b[32mPASS\x1b[0m"); got != 4 {
		t.Errorf("got %d, want 4", got)
	}
}

func TestVisualLen_PlainText(t *testing.T) {
	if got := visualLen("relays"); got != 6 {
		t.Errorf("got %d, want 6", got)
	}
}

func TestFlush_EmptyTableWritesNothing(t *testing.T) {
	out := captureStdout(t, func() {
		NewTable("ENTITY", "COUNT").Flush()
	})
	if out != "" {
		t.Errorf("expected no output for an empty table, got %q", out)
	}
}

func TestFlush_AlignsColumnsToWidestCell(t *testing.T) {
	out := captureStdout(t, func() {
		tbl := NewTable("ENTITY", "COUNT")
		tbl.Row("slaves", "3")
		tbl.Row("open activations", "12")
		tbl.Flush()
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + divider + 2 rows, got %d lines: %v", len(lines), lines)
	}

	header, divider, row1, row2 := lines[0], lines[1], lines[2], lines[3]
	if !strings.HasPrefix(header, "ENTITY") {
		t.Errorf("header line = %q", header)
	}
	if !strings.HasPrefix(divider, strings.Repeat("-", visualLen("open activations"))) {
		t.Errorf("divider not wide enough for widest cell: %q", divider)
	}
	if !strings.HasPrefix(row1, "slaves") || !strings.Contains(row1, "3") {
		t.Errorf("row1 = %q", row1)
	}
	if !strings.HasPrefix(row2, "open activations") || !strings.Contains(row2, "12") {
		t.Errorf("row2 = %q", row2)
	}
}

func TestFlush_TrimsTrailingPadding(t *testing.T) {
	out := captureStdout(t, func() {
		tbl := NewTable("ENTITY", "COUNT")
		tbl.Row("relays", "0")
		tbl.Flush()
	})

	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if strings.HasSuffix(line, " ") {
			t.Errorf("line has trailing whitespace: %q", line)
		}
	}
}

func TestFlush_MissingCellRendersBlank(t *testing.T) {
	out := captureStdout(t, func() {
		tbl := NewTable("ENTITY", "COUNT")
		tbl.Row("slaves")
		tbl.Flush()
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	row := lines[len(lines)-1]
	if strings.TrimSpace(row) != "slaves" {
		t.Errorf("row with a missing cell = %q", row)
	}
}
