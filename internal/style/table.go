package style

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/calcflow/calcflow/internal/ui"
)

// Alignment places text inside a column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Column is a fixed-width table column.
type Column struct {
	Name  string
	Width int
	Align Alignment
}

type tableRow struct {
	cells []string
	style *lipgloss.Style
}

// Table renders fixed-width columns under a bold header and a rule.
// Cells may carry ANSI styling; widths are measured in terminal cells and
// over-long cells are cut with "...".
type Table struct {
	columns []Column
	rows    []tableRow
	indent  string
}

// NewTable creates a table indented by two spaces.
func NewTable(columns ...Column) *Table {
	return &Table{columns: columns, indent: "  "}
}

// SetIndent sets the left indent for the table.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// AddRow appends a row. Missing trailing cells are left blank.
func (t *Table) AddRow(values ...string) *Table {
	t.rows = append(t.rows, tableRow{cells: values})
	return t
}

// AddRowStyled appends a row whose unstyled cells are rendered with s.
func (t *Table) AddRowStyled(s lipgloss.Style, values ...string) *Table {
	t.rows = append(t.rows, tableRow{cells: values, style: &s})
	return t
}

// Render returns the formatted table, or "" without columns.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var sb strings.Builder
	header := make([]string, len(t.columns))
	rule := 0
	for i, col := range t.columns {
		header[i] = Bold.Render(col.Name)
		rule += col.Width
	}
	rule += len(t.columns) - 1
	t.writeLine(&sb, header, nil)
	sb.WriteString(t.indent + Dim.Render(strings.Repeat("─", rule)) + "\n")

	for _, r := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			if i < len(r.cells) {
				cells[i] = fit(r.cells[i], col.Width)
			}
		}
		t.writeLine(&sb, cells, r.style)
	}
	return sb.String()
}

func (t *Table) writeLine(sb *strings.Builder, cells []string, rowStyle *lipgloss.Style) {
	sb.WriteString(t.indent)
	for i, col := range t.columns {
		cell := cells[i]
		if rowStyle != nil && cell != "" && ansi.Strip(cell) == cell {
			cell = rowStyle.Render(cell)
		}
		pad := max(0, col.Width-ansi.StringWidth(cell))
		if col.Align == AlignRight {
			sb.WriteString(strings.Repeat(" ", pad) + cell)
		} else {
			sb.WriteString(cell + strings.Repeat(" ", pad))
		}
		if i < len(t.columns)-1 {
			sb.WriteByte(' ')
		}
	}
	sb.WriteByte('\n')
}

// fit cuts s to width cells, keeping any ANSI styling intact.
func fit(s string, width int) string {
	if width <= 3 {
		return ansi.Truncate(s, width, "")
	}
	return ansi.Truncate(s, width, "...")
}

// StepRow is one plan step as shown by calcflow status.
type StepRow struct {
	Step       int
	Token      string
	State      string
	Optional   bool
	Critical   bool
	JobID      string
	Dependency string
	Note       string
}

// StepTable lays out the steps of one material's plan.
type StepTable struct {
	table *Table
}

// NewStepTable creates an empty step table.
func NewStepTable() *StepTable {
	return &StepTable{table: NewTable(
		Column{Name: "#", Width: 3, Align: AlignRight},
		Column{Name: "STEP", Width: 20},
		Column{Name: "STATE", Width: 30},
		Column{Name: "JOB", Width: 10},
		Column{Name: "AFTER", Width: 12},
		Column{Name: "NOTE", Width: 40},
	)}
}

// Add appends a step. Optional steps are tagged "(opt)"; a critical
// failure turns the whole row red, and steps not yet reached are dimmed.
func (s *StepTable) Add(r StepRow) *StepTable {
	token := r.Token
	if r.Optional {
		token += Optional.Render(" (opt)")
	}
	cells := []string{
		strconv.Itoa(r.Step),
		token,
		ui.RenderStepIcon(r.State) + " " + ui.RenderStepState(r.State, r.Critical),
		orDash(r.JobID),
		orDash(r.Dependency),
		r.Note,
	}
	switch {
	case r.Critical:
		s.table.AddRowStyled(Error, cells...)
	case r.State == "not_started":
		s.table.AddRowStyled(Dim, cells...)
	default:
		s.table.AddRow(cells...)
	}
	return s
}

// Render returns the formatted step table.
func (s *StepTable) Render() string {
	return s.table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
