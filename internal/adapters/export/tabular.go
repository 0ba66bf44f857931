// Package export renders the inventory projection and board labels into
// downloadable artifacts and runs asynchronous export jobs.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"krakefactory/pkg/domain"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// CSVFilename is the attachment name used for inventory CSV downloads.
const CSVFilename = "krake_inventory_export.csv"

// XLSXFilename is the attachment name used for inventory workbook downloads.
const XLSXFilename = "krake_inventory_export.xlsx"

// TimestampLayout formats test_datetime in tabular exports (UTC).
const TimestampLayout = time.RFC3339

// Columns is the header row shared by the CSV and XLSX exports.
var Columns = []string{
	"serial_number",
	"country",
	"lab",
	"test_datetime",
	"test_location",
	"tester",
	"firmware_version",
	"overall_result",
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json"
	}
	return "application/octet-stream"
}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	switch f {
	case FormatCSV, FormatXLSX, FormatJSON:
		return true
	}
	return false
}

// Render writes rows to w in format f.
func Render(w io.Writer, f Format, rows []domain.SummaryRow) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, rows)
	case FormatXLSX:
		return WriteXLSX(w, rows)
	case FormatJSON:
		if rows == nil {
			rows = []domain.SummaryRow{}
		}
		return json.NewEncoder(w).Encode(rows)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

func record(row domain.SummaryRow) []string {
	return []string{
		row.SerialNumber,
		deref(row.Country),
		deref(row.Lab),
		row.TestDatetime.UTC().Format(TimestampLayout),
		deref(row.TestLocation),
		deref(row.Tester),
		deref(row.FirmwareVersion),
		deref(row.OverallResult),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// WriteCSV writes the header and one line per row. Absent values are empty
// fields; quoting follows RFC 4180.
func WriteCSV(w io.Writer, rows []domain.SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(record(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SheetName is the worksheet holding the inventory.
const SheetName = "Inventory"

// WriteXLSX writes a single-sheet workbook with a bold, frozen header row and
// an autofilter over the data.
func WriteXLSX(w io.Writer, rows []domain.SummaryRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for i, name := range Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, name); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, header); err != nil {
		return err
	}
	for r, row := range rows {
		values := record(row)
		for c, v := range values {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellStr(SheetName, cell, v); err != nil {
				return err
			}
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	lastRow, err := excelize.CoordinatesToCellName(len(Columns), len(rows)+1)
	if err != nil {
		return err
	}
	if err := f.AutoFilter(SheetName, "A1:"+lastRow, nil); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "A", "H", 20); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}
