// Package report renders the monthly efficiency view as an Excel workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ukydev/fleet-insights/internal/aggregate"
)

// Sheet names.
const (
	SummarySheet     = "Summary"
	LeaderboardSheet = "Leaderboard"
	DailyFuelSheet   = "Daily Fuel"
)

// Efficiency is the data behind one month's workbook.
type Efficiency struct {
	Month        string
	Carriers     []aggregate.CarrierSummary
	Daily        *aggregate.Frame
	Leaderboards []aggregate.CarrierLeaderboard
}

type styles struct {
	header, title, total, number int
}

// Workbook builds the efficiency workbook. The caller must Close it.
func Workbook(data Efficiency) (*excelize.File, error) {
	f := excelize.NewFile()
	st, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	steps := []func(*excelize.File, Efficiency, styles) error{writeSummary, writeLeaderboard, writeDailyFuel}
	for _, step := range steps {
		if err := step(f, data, st); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// Write builds the workbook and writes it as xlsx to w.
func Write(w io.Writer, data Efficiency) error {
	f, err := Workbook(data)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func newStyles(f *excelize.File) (styles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	var st styles
	var err error
	if st.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2E7D32"}, Pattern: 1},
		Border:    border,
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err != nil {
		return st, fmt.Errorf("header style: %w", err)
	}
	if st.title, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 13},
	}); err != nil {
		return st, fmt.Errorf("title style: %w", err)
	}
	if st.total, err = f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E8F5E9"}, Pattern: 1},
		Border: border,
		NumFmt: 2,
	}); err != nil {
		return st, fmt.Errorf("total style: %w", err)
	}
	// 0.00
	if st.number, err = f.NewStyle(&excelize.Style{NumFmt: 2}); err != nil {
		return st, fmt.Errorf("number style: %w", err)
	}
	return st, nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	for i, v := range values {
		if err := f.SetCellValue(sheet, cell(i+1, row), v); err != nil {
			return err
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, row int, st styles, headers ...any) error {
	if err := writeRow(f, sheet, row, headers...); err != nil {
		return err
	}
	return f.SetCellStyle(sheet, cell(1, row), cell(len(headers), row), st.header)
}

func writeSummary(f *excelize.File, data Efficiency, st styles) error {
	const sheet = SummarySheet
	if err := f.SetCellValue(sheet, "A1", "Fuel efficiency "+data.Month); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "A1", st.title); err != nil {
		return err
	}
	headers := []any{"Carrier", "Trips", "Miles", "Fuel (gal)", "Engine hours", "MPG", "Avg speed", "Avg fuel/trip"}
	if err := writeHeader(f, sheet, 3, st, headers...); err != nil {
		return err
	}
	_ = f.SetColWidth(sheet, "A", "A", 28)
	_ = f.SetColWidth(sheet, "B", "H", 14)

	row := 4
	for _, c := range data.Carriers {
		if err := writeRow(f, sheet, row,
			c.CarrierName, c.TripsCount, c.TotalMiles, c.TotalFuel, c.TotalEngineHours,
			c.FuelEfficiency, c.AvgSpeed, c.AvgFuelPerTrip,
		); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell(3, row), cell(8, row), st.number); err != nil {
			return err
		}
		row++
	}

	if err := f.SetCellValue(sheet, cell(1, row), "TOTAL"); err != nil {
		return err
	}
	if len(data.Carriers) > 0 {
		for col := 2; col <= 5; col++ {
			letter, _ := excelize.ColumnNumberToName(col)
			formula := fmt.Sprintf("SUM(%s4:%s%d)", letter, letter, row-1)
			if err := f.SetCellFormula(sheet, cell(col, row), formula); err != nil {
				return err
			}
		}
		// fleet MPG from the totals, zero when no fuel
		if err := f.SetCellFormula(sheet, cell(6, row), fmt.Sprintf("IF(D%d=0,0,C%d/D%d)", row, row, row)); err != nil {
			return err
		}
	}
	return f.SetCellStyle(sheet, cell(1, row), cell(8, row), st.total)
}

func writeLeaderboard(f *excelize.File, data Efficiency, st styles) error {
	const sheet = LeaderboardSheet
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	_ = f.SetColWidth(sheet, "A", "A", 8)
	_ = f.SetColWidth(sheet, "B", "B", 28)
	_ = f.SetColWidth(sheet, "C", "F", 14)

	row := 1
	if len(data.Leaderboards) == 0 {
		return f.SetCellValue(sheet, "A1", "No completed trips in "+data.Month)
	}
	for _, lb := range data.Leaderboards {
		title := cell(1, row)
		if err := f.SetCellValue(sheet, title, lb.CarrierName); err != nil {
			return err
		}
		if err := f.MergeCell(sheet, title, cell(6, row)); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, title, title, st.title); err != nil {
			return err
		}
		row++
		if err := writeHeader(f, sheet, row, st, "Rank", "Driver", "Trips", "Miles", "Fuel (gal)", "MPG"); err != nil {
			return err
		}
		row++
		for i, d := range lb.Drivers {
			if err := writeRow(f, sheet, row, i+1, d.Label, d.TripsCount, d.TotalMiles, d.TotalFuel, d.FuelEfficiency); err != nil {
				return err
			}
			if err := f.SetCellStyle(sheet, cell(4, row), cell(6, row), st.number); err != nil {
				return err
			}
			row++
		}
		row++
	}
	return nil
}

func writeDailyFuel(f *excelize.File, data Efficiency, st styles) error {
	const sheet = DailyFuelSheet
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if data.Daily == nil {
		return nil
	}

	headers := []any{"Day"}
	for _, c := range data.Carriers {
		headers = append(headers, c.CarrierName)
	}
	headers = append(headers, "Total")
	if err := writeHeader(f, sheet, 1, st, headers...); err != nil {
		return err
	}
	_ = f.SetColWidth(sheet, "A", "A", 12)

	for i, b := range data.Daily.Buckets {
		row := i + 2
		values := []any{b.Label}
		for _, c := range data.Carriers {
			values = append(values, b.ByEntity[c.CarrierID])
		}
		values = append(values, b.Value)
		if err := writeRow(f, sheet, row, values...); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell(2, row), cell(len(values), row), st.number); err != nil {
			return err
		}
	}
	return nil
}
