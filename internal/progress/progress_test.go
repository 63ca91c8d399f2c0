package progress

import (
	"bytes"
	"io"
	"testing"

	"github.com/charmbracelet/log"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		cur, total int
		want       string
	}{
		{1, 100, "[1/100]"},
		{7, 0, "[7/?]"},
		{3, -1, "[3/?]"},
	}
	for _, tc := range tests {
		if got := Format(tc.cur, tc.total); got != tc.want {
			t.Errorf("Format(%d, %d) = %q; want %q", tc.cur, tc.total, got, tc.want)
		}
	}
}

func TestLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLine(&buf)
	l.Report(1, 2)
	l.Report(2, 2)
	if got, want := buf.String(), "[1/2]\n[2/2]\n"; got != want {
		t.Fatalf("got %q; want %q", got, want)
	}
}

func TestSafe_RecoversPanic(t *testing.T) {
	var logs bytes.Buffer
	logger := log.New(&logs)
	calls := 0
	r := Safe(Func(func(int, int) {
		calls++
		panic("boom")
	}), logger)

	r.Report(1, 1) // must not panic
	r.Report(2, 2)
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
	if !bytes.Contains(logs.Bytes(), []byte("progress reporter failed")) {
		t.Fatalf("expected warning, got %q", logs.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestLine_IgnoresWriteErrors(t *testing.T) {
	NewLine(failingWriter{}).Report(1, 1)
	Safe(nil, nil).Report(1, 1)
}
