// Package report renders a ranked sender report as a text table, CSV or JSON.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"sendertally/internal/model"
)

type Format string

const (
	Text Format = "text"
	CSV  Format = "csv"
	JSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case Text, CSV, JSON:
		return f, nil
	case "":
		return Text, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, csv or json)", s)
	}
}

type Options struct {
	// Top limits the number of rows per section; 0 prints everything.
	Top int
}

// Write renders r to w. Ordering is taken from r as is.
func Write(w io.Writer, f Format, r model.Report, opts Options) error {
	summary := Summary(r)
	r.Senders = top(r.Senders, opts.Top)
	r.Domains = top(r.Domains, opts.Top)
	switch f {
	case CSV:
		return writeCSV(w, r)
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return writeText(w, r, summary)
	}
}

func top(rows []model.SenderCount, n int) []model.SenderCount {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	countStyle  = cellStyle.Align(lipgloss.Right)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func writeText(w io.Writer, r model.Report, summary string) error {
	var b strings.Builder
	if r.Account.Email != "" {
		fmt.Fprintf(&b, "Authenticated as: %s\n", r.Account.Email)
	}
	if r.Account.MessagesTotal > 0 {
		fmt.Fprintf(&b, "Total messages: %d\n", r.Account.MessagesTotal)
	}
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	title := "Top senders"
	if r.Partial() {
		title += " (partial)"
	}
	fmt.Fprintf(&b, "%s:\n", title)
	if len(r.Senders) == 0 {
		b.WriteString(dimStyle.Render("no senders recorded") + "\n")
	} else {
		b.WriteString(senderTable(r.Senders).Render() + "\n")
	}

	if len(r.Domains) > 0 {
		b.WriteString("\nTop domains:\n")
		b.WriteString(domainTable(r.Domains).Render() + "\n")
	}

	b.WriteString("\n" + dimStyle.Render(summary) + "\n")
	if r.Err != "" {
		b.WriteString(errStyle.Render("error: "+r.Err) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Summary is the one-line tally of processed, recorded, skipped and excluded messages.
func Summary(r model.Report) string {
	s := fmt.Sprintf("%d messages processed, %d counted from %d senders, %d skipped",
		r.Processed, r.Recorded, len(r.Senders), r.Skipped)
	if r.Excluded > 0 {
		s += fmt.Sprintf(", %d excluded", r.Excluded)
	}
	return s
}

func styleFunc(countCol int) table.StyleFunc {
	return func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case col == countCol || col == 0:
			return countStyle
		default:
			return cellStyle
		}
	}
}

func senderTable(rows []model.SenderCount) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(styleFunc(3)).
		Headers("#", "SENDER", "NAME", "MESSAGES")
	for i, s := range rows {
		t.Row(strconv.Itoa(i+1), s.Address, s.DisplayName, strconv.Itoa(s.Count))
	}
	return t
}

func domainTable(rows []model.SenderCount) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(styleFunc(2)).
		Headers("#", "DOMAIN", "MESSAGES")
	for i, d := range rows {
		name := d.Address
		if name == "" {
			name = "(none)"
		}
		t.Row(strconv.Itoa(i+1), name, strconv.Itoa(d.Count))
	}
	return t
}

func writeCSV(w io.Writer, r model.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"kind", "rank", "address", "display_name", "count"}); err != nil {
		return err
	}
	for i, s := range r.Senders {
		if err := cw.Write([]string{"sender", strconv.Itoa(i + 1), s.Address, s.DisplayName, strconv.Itoa(s.Count)}); err != nil {
			return err
		}
	}
	for i, d := range r.Domains {
		if err := cw.Write([]string{"domain", strconv.Itoa(i + 1), d.Address, "", strconv.Itoa(d.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
