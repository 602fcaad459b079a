package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/openbasket/marketplace-api/internal/models"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

const (
	columnSKU   = "sku"
	columnPrice = "price"
)

// ParsedRow is the handoff contract between the file parser and row validation.
// RawData keeps the original column values verbatim for audit; SKU and NewPrice
// are the normalized view. NewPrice is nil when the price cell was not numeric,
// with a matching parse warning attached so validation reports it per row.
// RowNumber counts non-blank data rows starting at 1; blank lines in the
// source file do not occupy a number.
type ParsedRow struct {
	RowNumber     int
	RawData       models.RawRowData
	SKU           string
	NewPrice      *float64
	ParseWarnings []models.RowError
}

// ParseResult splits structural outcomes from row data. Either the file parses
// (Rows populated, ParseErrors empty) or it does not (ParseErrors populated,
// Rows empty); the two are mutually exclusive.
type ParseResult struct {
	Rows        []ParsedRow
	TotalRows   int
	ParseErrors []string
}

// Parse decodes raw price file bytes into normalized rows. It knows nothing
// about the catalog or business rules; per-cell problems become row warnings
// while structural problems fail the whole file.
func Parse(payload []byte, kind models.ImportFileKind) ParseResult {
	var records [][]string
	var err error

	switch kind {
	case models.ImportFileKindCSV:
		records, err = readCSV(payload)
	case models.ImportFileKindXLSX:
		records, err = readXLSX(payload)
	default:
		return ParseResult{ParseErrors: []string{fmt.Sprintf("unsupported file kind %q", kind)}}
	}
	if err != nil {
		return ParseResult{ParseErrors: []string{err.Error()}}
	}

	return buildRows(records)
}

func readCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readXLSX(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from workbook: %w", err)
	}
	return records, nil
}

func buildRows(records [][]string) ParseResult {
	if len(records) == 0 {
		return ParseResult{ParseErrors: []string{"file is empty"}}
	}

	header := records[0]
	skuIdx, priceIdx := -1, -1
	for i, label := range header {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case columnSKU:
			if skuIdx < 0 {
				skuIdx = i
			}
		case columnPrice:
			if priceIdx < 0 {
				priceIdx = i
			}
		}
	}

	missing := make([]string, 0, 2)
	if skuIdx < 0 {
		missing = append(missing, "SKU")
	}
	if priceIdx < 0 {
		missing = append(missing, "Price")
	}
	if len(missing) > 0 {
		return ParseResult{ParseErrors: []string{fmt.Sprintf("missing required column(s): %s", strings.Join(missing, ", "))}}
	}

	rows := make([]ParsedRow, 0, len(records)-1)
	for _, record := range records[1:] {
		if isBlank(record) {
			continue
		}

		raw := make(models.RawRowData, len(header))
		for i, label := range header {
			key := strings.TrimSpace(label)
			if key == "" || i >= len(record) {
				continue
			}
			raw[key] = record[i]
		}

		row := ParsedRow{
			RowNumber: len(rows) + 1,
			RawData:   raw,
			SKU:       normalizeSKU(cell(record, skuIdx)),
		}

		priceText := strings.TrimSpace(cell(record, priceIdx))
		if price, err := strconv.ParseFloat(priceText, 64); err == nil {
			row.NewPrice = &price
		} else {
			row.ParseWarnings = append(row.ParseWarnings, models.RowError{
				Field:   "price",
				Message: "invalid price format",
			})
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return ParseResult{ParseErrors: []string{"file contains no data rows"}}
	}

	return ParseResult{Rows: rows, TotalRows: len(rows)}
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func isBlank(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

// normalizeSKU trims and upper-cases a SKU to the catalog's canonical case.
func normalizeSKU(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
