package output

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type portRow struct {
	Port  int    `json:"port" yaml:"port"`
	State string `json:"state" yaml:"state"`
}

type portRows []portRow

func (r portRows) Headers() []string { return []string{"Port", "State"} }

func (r portRows) Rows() [][]string {
	out := make([][]string, 0, len(r))
	for _, p := range r {
		out = append(out, []string{fmt.Sprintf("ibsim0/%d", p.Port), p.State})
	}
	return out
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"Table", FormatTable, false},
		{"json", FormatJSON, false},
		{" yml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPrinter(t *testing.T) {
	rows := portRows{{1, "Active"}, {2, "Down"}}

	t.Run("Table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatTable).Print(rows))
		out := buf.String()
		assert.Contains(t, out, "PORT")
		assert.Contains(t, out, "ibsim0/1")
		assert.Contains(t, out, "Down")
	})

	t.Run("TableFallsBackToJSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatTable).Print(map[string]int{"lid": 7}))
		assert.JSONEq(t, `{"lid": 7}`, buf.String())
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatJSON).Print(rows))
		assert.JSONEq(t, `[{"port":1,"state":"Active"},{"port":2,"state":"Down"}]`, buf.String())
	})

	t.Run("YAML", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatYAML).Print(rows[0]))
		assert.Equal(t, "port: 1\nstate: Active\n", buf.String())
	})

	t.Run("Unknown", func(t *testing.T) {
		assert.Error(t, NewPrinter(&bytes.Buffer{}, Format("xml")).Print(rows))
	})
}

func TestTable(t *testing.T) {
	table := NewTable("Device", "Port")
	table.AddRow("ibsim0", "1")
	assert.Equal(t, []string{"Device", "Port"}, table.Headers())
	assert.Equal(t, [][]string{{"ibsim0", "1"}}, table.Rows())
}

func TestPrintFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintFields(&buf, []Field{
		{"State", "Active"},
		{"Base lid", "7"},
	}))
	out := buf.String()
	assert.Contains(t, out, "State")
	assert.Contains(t, out, "Active")
	assert.Contains(t, out, "Base lid")
}

func TestPrinterFields(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON)
	require.NoError(t, p.Fields([]Field{{"Rate", "10"}}))
	assert.Contains(t, buf.String(), "Rate:")
	assert.Contains(t, buf.String(), "10")
}
