// Package ui renders tabular CLI output for the studio command.
package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// Row represents a single row of data in the table
type Row []string

// Table is a non-interactive table. Columns are sized to their widest
// cell and, when writing to a terminal, shrunk to fit its width.
type Table struct {
	headers  []string
	rows     []Row
	maxWidth []int
	header   lipgloss.Style
}

type TableOption func(*Table)

// WithMaxWidths caps the width of leading columns. Zero means no cap.
func WithMaxWidths(widths ...int) TableOption {
	return func(t *Table) {
		t.maxWidth = widths
	}
}

// Plain disables header styling.
func Plain(t *Table) {
	t.header = lipgloss.NewStyle()
}

func NewTable(headers []string, opts ...TableOption) *Table {
	t := &Table{
		headers: headers,
		header: lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			UnderlineSpaces(true).
			Foreground(lipgloss.Color("220")),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Table) Add(cells ...string) {
	t.rows = append(t.rows, Row(cells))
}

func (t *Table) Len() int {
	return len(t.rows)
}

// terminalWidth returns the width of w if it is a terminal, or 0.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}

	if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
		return width
	}

	return 80
}

func (t *Table) widths(limit int) []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}

	for _, row := range t.rows {
		for i, v := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(v))
			}
		}
	}

	for i := range widths {
		if i < len(t.maxWidth) && t.maxWidth[i] > 0 {
			widths[i] = min(widths[i], t.maxWidth[i])
		}
	}

	if limit <= 0 {
		return widths
	}

	gaps := (len(widths) - 1) * 2

	total := gaps
	for _, w := range widths {
		total += w
	}

	if total > limit {
		scale := float64(limit-gaps) / float64(total-gaps)
		for i := range widths {
			widths[i] = max(int(float64(widths[i])*scale), 10)
		}
	}

	return widths
}

func (t *Table) line(cells []string, widths []int, style *lipgloss.Style) string {
	var sb strings.Builder

	for i, w := range widths {
		if i > 0 {
			sb.WriteString("  ")
		}

		v := ""
		if i < len(cells) {
			v = cells[i]
		}

		cell := lipgloss.NewStyle().Width(w).MaxWidth(w).Inline(true)

		// runewidth miscounts escape sequences, so styled cells are left to
		// lipgloss.
		if !strings.Contains(v, "\x1b[") {
			v = runewidth.Truncate(v, w, "…")
		}

		v = cell.Render(v)
		if style != nil {
			v = style.Render(v)
		}

		sb.WriteString(v)
	}

	return strings.TrimRight(sb.String(), " ")
}

// Render returns the table as text sized for no particular terminal.
func (t *Table) Render() string {
	return t.render(0)
}

func (t *Table) render(limit int) string {
	if len(t.headers) == 0 || len(t.rows) == 0 {
		return ""
	}

	widths := t.widths(limit)

	lines := []string{t.line(t.headers, widths, &t.header)}
	for _, row := range t.rows {
		lines = append(lines, t.line(row, widths, nil))
	}

	return strings.Join(lines, "\n")
}

// WriteTo renders the table to w followed by a newline.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	out := t.render(terminalWidth(w))
	if out == "" {
		return 0, nil
	}

	n, err := io.WriteString(w, out+"\n")
	return int64(n), err
}

var (
	faint = lipgloss.NewStyle().Faint(true)
	warn  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Faint dims secondary values such as digests.
func Faint(s string) string {
	return faint.Render(s)
}

// Warn highlights values that need attention, such as missing assets.
func Warn(s string) string {
	return warn.Render(s)
}
