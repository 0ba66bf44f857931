package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/xuri/excelize/v2"

	"krakefactory/pkg/domain"
)

func sampleRows() []domain.SummaryRow {
	return []domain.SummaryRow{
		{
			SerialNumber:    "BRD-002",
			Country:         domain.String("NL"),
			Lab:             domain.String("Delft, bench 2"),
			TestDatetime:    time.Date(2024, 6, 2, 14, 30, 0, 0, time.UTC),
			TestLocation:    domain.String("line \"A\""),
			Tester:          domain.String("ana"),
			FirmwareVersion: domain.String("1.4.0"),
			OverallResult:   domain.String("pass"),
		},
		{
			SerialNumber: "BRD-001",
			TestDatetime: time.Date(2024, 6, 1, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
			Tester:       domain.String(""),
		},
	}
}

func TestWriteCSVMatchesGolden(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRows()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "inventory_csv", buf.Bytes())
}

func TestWriteCSVHeaderOnlyWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	want := "serial_number,country,lab,test_datetime,test_location,tester,firmware_version,overall_result\n"
	if buf.String() != want {
		t.Fatalf("unexpected csv %q", buf.String())
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sampleRows()); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(Columns, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "BRD-002" || rows[1][2] != "Delft, bench 2" || rows[1][3] != "2024-06-02T14:30:00Z" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][0] != "BRD-001" || rows[2][3] != "2024-06-01T07:00:00Z" {
		t.Fatalf("unexpected second row %v", rows[2])
	}
}

func TestRenderJSONAndFormats(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatJSON, nil); err != nil {
		t.Fatalf("render json: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", buf.String())
	}
	buf.Reset()
	if err := Render(&buf, FormatJSON, sampleRows()[:1]); err != nil {
		t.Fatalf("render json: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded[0]["serial_number"] != "BRD-002" || decoded[0]["overall_result"] != "pass" {
		t.Fatalf("unexpected json %v", decoded)
	}
	if err := Render(&buf, Format("pdf"), nil); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if !FormatXLSX.Valid() || Format("txt").Valid() {
		t.Fatalf("format validity wrong")
	}
	if FormatCSV.ContentType() != "text/csv; charset=utf-8" || Format("x").ContentType() != "application/octet-stream" {
		t.Fatalf("unexpected content types")
	}
}
