package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"quickmart/backend/internal/domain"
)

// ExportDateLayout renders sale timestamps in exported files.
const ExportDateLayout = "02 Jan 2006 15:04"

var exportHeader = []string{"Item", "Category", "Unit", "QtySold", "TotalPrice", "Date"}

// ExportRow is one line of the sales export.
type ExportRow struct {
	Item       string
	Category   string
	Unit       string
	QtySold    int
	TotalPrice decimal.Decimal
	Date       time.Time
}

// ExportRows flattens records into export rows, one per sale, with item names
// resolved through names and dates converted to loc.
func ExportRows(records []domain.SaleRecord, names map[string]string, loc *time.Location) []ExportRow {
	if loc == nil {
		loc = time.UTC
	}
	rows := make([]ExportRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, ExportRow{
			Item:       ItemName(names, rec.ItemID),
			Category:   categoryKey(rec.CategorySnapshot),
			Unit:       rec.UnitSnapshot,
			QtySold:    rec.QuantitySold,
			TotalPrice: rec.TotalPrice,
			Date:       rec.Timestamp.In(loc),
		})
	}
	return rows
}

func WriteSalesCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Item,
			row.Category,
			row.Unit,
			strconv.Itoa(row.QtySold),
			row.TotalPrice.String(),
			row.Date.Format(ExportDateLayout),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseSalesCSV reads a file produced by WriteSalesCSV. Dates are interpreted
// in loc.
func ParseSalesCSV(r io.Reader, loc *time.Location) ([]ExportRow, error) {
	if loc == nil {
		loc = time.UTC
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(exportHeader)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i, col := range exportHeader {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %q at position %d, want %q", header[i], i, col)
		}
	}

	rows := make([]ExportRow, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		qty, err := strconv.Atoi(record[3])
		if err != nil {
			return nil, fmt.Errorf("failed to parse quantity %q: %w", record[3], err)
		}
		total, err := decimal.NewFromString(record[4])
		if err != nil {
			return nil, fmt.Errorf("failed to parse total %q: %w", record[4], err)
		}
		date, err := time.ParseInLocation(ExportDateLayout, record[5], loc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %q: %w", record[5], err)
		}
		rows = append(rows, ExportRow{
			Item:       record[0],
			Category:   record[1],
			Unit:       record[2],
			QtySold:    qty,
			TotalPrice: total,
			Date:       date,
		})
	}
	return rows, nil
}
