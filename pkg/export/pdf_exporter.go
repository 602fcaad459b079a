package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders a Table into a landscape summary document. Invalid
// staged rows carry long error strings, so the wider page orientation keeps
// the message column readable.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF with a title line and the table body. The last column
// gets double width since it typically holds validation messages.
func (e *PDFExporter) Render(table Table, title string) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("pdf requires at least one column")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 13)
		pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
		pdf.Ln(3)
	}

	widths := columnWidths(len(table.Columns), 277.0)

	pdf.SetFont("Arial", "B", 9)
	for i, column := range table.Columns {
		pdf.CellFormat(widths[i], 7, column, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, record := range table.Records {
		for i := range table.Columns {
			value := ""
			if i < len(record) {
				value = record[i]
			}
			pdf.CellFormat(widths[i], 6, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(count int, usable float64) []float64 {
	widths := make([]float64, count)
	if count == 1 {
		widths[0] = usable
		return widths
	}
	// Last column takes a double share.
	unit := usable / float64(count+1)
	for i := range widths {
		widths[i] = unit
	}
	widths[count-1] = unit * 2
	return widths
}
