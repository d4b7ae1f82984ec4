package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by values that print as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes r as a borderless, left aligned table.
func PrintTable(w io.Writer, r TableRenderer) error {
	table := newTable(w)
	table.SetHeader(r.Headers())
	table.SetAutoFormatHeaders(true)
	table.AppendBulk(r.Rows())
	table.Render()
	return nil
}

// PrintFields writes label/value pairs one per line, ibstat style:
//
//	State:          Active
//	Base lid:       7
func PrintFields(w io.Writer, fields []Field) error {
	table := newTable(w)
	for _, f := range fields {
		table.Append([]string{f.Label + ":", f.Value})
	}
	table.Render()
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// Field is one labelled value.
type Field struct {
	Label string
	Value string
}

// Table is a TableRenderer built row by row.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates an empty table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Headers() []string { return t.headers }
func (t *Table) Rows() [][]string { return t.rows }
