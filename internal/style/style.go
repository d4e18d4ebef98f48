// Package style holds the lipgloss styles and the plain-text table used by
// honk's human-readable output.
package style

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Error   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	Info    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
	ArrowPrefix   = Info.Render("→")
)

// PrintWarning writes a warning line to stderr.
func PrintWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningPrefix, fmt.Sprintf(format, args...))
}

// Align is a column alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Column describes one table column. Width is in terminal cells.
type Column struct {
	Name  string
	Width int
	Align Align
	Style lipgloss.Style
}

// Table renders fixed-width rows.
type Table struct {
	columns   []Column
	rows      [][]string
	indent    string
	headerSep bool
}

// NewTable creates a table with a header separator and two-space indent.
func NewTable(columns ...Column) *Table {
	return &Table{columns: columns, indent: "  ", headerSep: true}
}

// SetIndent sets the prefix of every line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the rule under the header.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row, padding missing cells with "".
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
	return t
}

// Render returns the table text, one line per row.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}
	var b strings.Builder

	cells := make([]string, len(t.columns))
	for i, c := range t.columns {
		cells[i] = t.pad(Bold.Render(c.Name), c.Name, c.Width, c.Align)
	}
	t.line(&b, cells)

	if t.headerSep {
		for i, c := range t.columns {
			cells[i] = Dim.Render(strings.Repeat("─", c.Width))
		}
		t.line(&b, cells)
	}

	for _, row := range t.rows {
		for i, c := range t.columns {
			plain := truncate(stripAnsi(row[i]), c.Width)
			styled := row[i]
			if plain != stripAnsi(row[i]) {
				styled = plain
			}
			styled = c.Style.Render(styled)
			cells[i] = t.pad(styled, plain, c.Width, c.Align)
		}
		t.line(&b, cells)
	}
	return b.String()
}

func (t *Table) line(b *strings.Builder, cells []string) {
	b.WriteString(t.indent)
	b.WriteString(strings.TrimRight(strings.Join(cells, " "), " "))
	b.WriteString("\n")
}

// pad aligns styled within width using the visible width of plain.
func (t *Table) pad(styled, plain string, width int, align Align) string {
	w := runewidth.StringWidth(plain)
	if w >= width {
		return styled
	}
	gap := width - w
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + styled
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", gap-left)
	default:
		return styled + strings.Repeat(" ", gap)
	}
}

func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripAnsi(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}
