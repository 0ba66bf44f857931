// Package domain defines the board, test-run and measurement records persisted
// by krakefactory together with the persistence contracts and error kinds shared
// by every storage backend.
package domain

import "time"

// Board is a physical unit identified by its serial number. A board is created
// lazily the first time a test run references an unseen serial and is never
// updated afterwards.
type Board struct {
	ID            int64   `json:"board_id"`
	SerialNumber  string  `json:"serial_number"`
	HardwareRev   *string `json:"hardware_rev"`
	PCBRev        *string `json:"pcb_rev"`
	Batch         *string `json:"batch"`
	DateAssembled *string `json:"date_assembled"`
	AssembledBy   *string `json:"assembled_by"`
	Country       *string `json:"country"`
	Lab           *string `json:"lab"`
	Status        *string `json:"status"`
	GDTKey        *string `json:"gdt_key"`
	GDTURL        *string `json:"gdt_url"`
	Notes         *string `json:"notes"`
}

// TestRun is one recorded test session against a board. TestDatetime is
// assigned by the store when the row is inserted.
type TestRun struct {
	ID                 int64     `json:"testrun_id"`
	BoardID            int64     `json:"board_id"`
	TestDatetime       time.Time `json:"test_datetime"`
	TestLocation       *string   `json:"test_location"`
	Tester             *string   `json:"tester"`
	FirmwareVersion    *string   `json:"firmware_version"`
	TestFixtureVersion *string   `json:"test_fixture_version"`
	OverallResult      *string   `json:"overall_result"`
	Comments           *string   `json:"comments"`
}

// UnpoweredResult holds the resistance measurements captured before power is applied.
type UnpoweredResult struct {
	ID                      int64    `json:"unpowered_id"`
	TestRunID               int64    `json:"testrun_id"`
	MeterMake               *string  `json:"meter_make"`
	MeterModel              *string  `json:"meter_model"`
	MeterSN                 *string  `json:"meter_sn"`
	ResTP102TP101Vin        *float64 `json:"res_tp102_tp101_vin"`
	ResTP103TP101_5V        *float64 `json:"res_tp103_tp101_5v"`
	ResTP201TP101Vbus       *float64 `json:"res_tp201_tp101_vbus"`
	ResTP202TP101V3         *float64 `json:"res_tp202_tp101_v3"`
	ResJ103Pin2TP101CtrlVcc *float64 `json:"res_j103pin2_tp101_ctrl_vcc"`
	PassFail                *string  `json:"pass_fail"`
	Notes                   *string  `json:"notes"`
}

// PoweredResult holds the supply current and rail voltages captured with power applied.
type PoweredResult struct {
	ID                int64    `json:"powered_id"`
	TestRunID         int64    `json:"testrun_id"`
	SupplyCurrentMA   *float64 `json:"supply_current_ma"`
	VinTP102V         *float64 `json:"vin_tp102_v"`
	V5TP103V          *float64 `json:"v5_tp103_v"`
	V5ESP32U103V      *float64 `json:"v5_esp32_u103_v"`
	V3P3TabU103V      *float64 `json:"v3p3_tab_u103_v"`
	V3TP202U501V      *float64 `json:"v3_tp202_u501_v"`
	V3V3CtrlD103KV    *float64 `json:"v3v3_ctrl_d103k_v"`
	VccLCDTP401V      *float64 `json:"vcclcd_tp401_v"`
	V5DFPC505V        *float64 `json:"v5_dfp_c505_v"`
	VChargePumpPlusV  *float64 `json:"v_charge_pump_plus_v"`
	VChargePumpMinusV *float64 `json:"v_charge_pump_minus_v"`
	PassFail          *string  `json:"pass_fail"`
	Notes             *string  `json:"notes"`
}

// SummaryRow is the flattened projection used by inventory lists and exports.
type SummaryRow struct {
	SerialNumber    string    `json:"serial_number"`
	Country         *string   `json:"country"`
	Lab             *string   `json:"lab"`
	TestDatetime    time.Time `json:"test_datetime"`
	TestLocation    *string   `json:"test_location"`
	Tester          *string   `json:"tester"`
	FirmwareVersion *string   `json:"firmware_version"`
	OverallResult   *string   `json:"overall_result"`
}

// RunDetail nests the measurement sets of a run under its header.
type RunDetail struct {
	TestRun
	UnpoweredResults []UnpoweredResult `json:"unpowered_results"`
	PoweredResults   []PoweredResult   `json:"powered_results"`
}

// BoardDetail is the full history of a board. Board is nil when no board with
// the requested serial exists; TestRuns is then empty.
type BoardDetail struct {
	Board    *Board      `json:"board"`
	TestRuns []RunDetail `json:"test_runs"`
}

// Found reports whether the lookup matched a board.
func (d BoardDetail) Found() bool { return d.Board != nil }

// SubmitResult carries the identities produced by a successful submission.
type SubmitResult struct {
	BoardID   int64 `json:"board_id"`
	TestRunID int64 `json:"testrun_id"`
}

// String returns a pointer to v.
func String(v string) *string { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
