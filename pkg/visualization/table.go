// Package visualization renders run summaries for the terminal.
package visualization

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/himsangseung/cperf/pkg/digest"
	"github.com/himsangseung/cperf/pkg/logscan"
)

// Table is a model for tabular data.
type Table struct {
	headers []string
	data    [][]string
}

// NewTable creates a new model of data representation.
func NewTable(headers []string, data [][]string) *Table {
	return &Table{
		headers,
		data,
	}
}

// Append adds one data row to the table.
func (t *Table) Append(row []string) {
	t.data = append(t.data, row)
}

// DrawTable renders a table with headers and data rows to stdout.
func DrawTable(table *Table) error {
	return FprintTable(os.Stdout, table)
}

// FprintTable renders a table to the given writer.
func FprintTable(w io.Writer, table *Table) error {
	output := tablewriter.NewWriter(w)
	output.SetHeader(table.headers)
	for _, v := range table.data {
		output.Append(v)
	}
	output.Render()
	return nil
}

// SummaryTable builds the end-of-run table: one row per experiment with its
// throughput aggregates and latency digest.
func SummaryTable(names []string, summaries map[string]*logscan.Summary,
	digests map[string]*digest.Digest) *Table {
	table := NewTable([]string{
		"Experiment", "Client nodes", "Gbps/node", "Kops/node",
		"RPCs", "Avg slowdown", "P50 (us)", "P99 (us)",
	}, nil)

	for _, name := range names {
		row := []string{name, "-", "-", "-", "-", "-", "-", "-"}
		if summary, ok := summaries[name]; ok {
			row[1] = fmt.Sprintf("%d", summary.Client.Nodes)
			row[2] = fmt.Sprintf("%.2f", summary.Client.AvgGbps)
			row[3] = fmt.Sprintf("%.1f", summary.Client.AvgKops)
		}
		if d, ok := digests[name]; ok {
			row[4] = fmt.Sprintf("%d", d.TotalMessages)
			row[5] = fmt.Sprintf("%.2f", d.AvgSlowdown)
			if len(d.P50) > 0 {
				row[6] = fmt.Sprintf("%.1f", d.P50[0])
				row[7] = fmt.Sprintf("%.1f", d.P99[0])
			}
		}
		table.Append(row)
	}
	return table
}
