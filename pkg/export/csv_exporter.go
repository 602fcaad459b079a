package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Table is ordered tabular export content. Every record must line up with
// Columns positionally; staged-row audit exports depend on row order being
// preserved end to end.
type Table struct {
	Columns []string
	Records [][]string
}

// Append adds one record, padding or truncating it to the column count.
func (t *Table) Append(values ...string) {
	record := make([]string, len(t.Columns))
	copy(record, values)
	t.Records = append(t.Records, record)
}

// CSVExporter renders a Table into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes with a leading header record.
func (e *CSVExporter) Render(table Table) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(table.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, record := range table.Records {
		if len(record) != len(table.Columns) {
			return nil, fmt.Errorf("record has %d values, want %d", len(record), len(table.Columns))
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
