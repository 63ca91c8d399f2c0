// Package progress reports fetch progress as [current/total].
package progress

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/log"
)

// Reporter receives progress after each fetched message. total <= 0 means
// the overall size is unknown.
type Reporter interface {
	Report(current, total int)
}

// Func adapts a function to a Reporter.
type Func func(current, total int)

func (f Func) Report(current, total int) { f(current, total) }

// Nop discards progress.
var Nop Reporter = Func(func(int, int) {})

// Line writes one "[current/total]" line per report.
type Line struct {
	w io.Writer
}

func NewLine(w io.Writer) *Line { return &Line{w: w} }

func (l *Line) Report(current, total int) {
	// Write errors are ignored; progress must never stop a fetch.
	_, _ = fmt.Fprintln(l.w, Format(current, total))
}

// Format renders "[current/total]", with "?" for an unknown total.
func Format(current, total int) string {
	t := "?"
	if total > 0 {
		t = strconv.Itoa(total)
	}
	return fmt.Sprintf("[%d/%s]", current, t)
}

// Safe wraps r so that a panicking reporter is logged instead of
// propagating into the fetch loop.
func Safe(r Reporter, logger *log.Logger) Reporter {
	if r == nil {
		return Nop
	}
	return safe{r: r, logger: logger}
}

type safe struct {
	r      Reporter
	logger *log.Logger
}

func (s safe) Report(current, total int) {
	defer func() {
		if v := recover(); v != nil && s.logger != nil {
			s.logger.Warn("progress reporter failed", "panic", v)
		}
	}()
	s.r.Report(current, total)
}
