package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/aggregate"
	"github.com/ukydev/fleet-insights/internal/models"
)

func sampleMonth(t *testing.T) Efficiency {
	t.Helper()
	month, err := aggregate.ParseMonth("2024-05", time.UTC)
	require.NoError(t, err)

	acme := models.Carrier{ID: primitive.NewObjectID(), Name: "Acme"}
	idle := models.Carrier{ID: primitive.NewObjectID(), Name: "Idle Co"}
	dana := primitive.NewObjectID()
	day := func(d int) time.Time { return time.Date(2024, 5, d, 9, 0, 0, 0, time.UTC) }
	trips := []models.Trip{
		{Status: models.TripCompleted, CarrierID: acme.ID, DriverID: dana, DriverName: "Dana", FuelUsed: 2, TotalMiles: 20, TotalEngineHours: 1, StartTime: day(1)},
		{Status: models.TripCompleted, CarrierID: acme.ID, DriverID: dana, DriverName: "Dana", FuelUsed: 3, TotalMiles: 30, TotalEngineHours: 1, StartTime: day(2)},
		{Status: models.TripCompleted, CarrierID: acme.ID, DriverID: dana, DriverName: "Dana", FuelUsed: 5, TotalMiles: 40, TotalEngineHours: 1, StartTime: day(3)},
	}
	carriers := []models.Carrier{acme, idle}
	return Efficiency{
		Month:        "2024-05",
		Carriers:     aggregate.CarrierMonthSummaries(carriers, trips, month),
		Daily:        aggregate.DailyFuelByCarrier(carriers, trips, month),
		Leaderboards: aggregate.CarrierLeaderboards(carriers, trips, month, 5),
	}
}

func raw(t *testing.T, f *excelize.File, sheet, axis string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, axis, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return v
}

func TestWorkbook(t *testing.T) {
	f, err := Workbook(sampleMonth(t))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SummarySheet, LeaderboardSheet, DailyFuelSheet}, f.GetSheetList())

	t.Run("summary", func(t *testing.T) {
		assert.Equal(t, "Fuel efficiency 2024-05", raw(t, f, SummarySheet, "A1"))
		assert.Equal(t, "Carrier", raw(t, f, SummarySheet, "A3"))
		assert.Equal(t, "Acme", raw(t, f, SummarySheet, "A4"))
		assert.Equal(t, "3", raw(t, f, SummarySheet, "B4"))
		assert.Equal(t, "90", raw(t, f, SummarySheet, "C4"))
		assert.Equal(t, "10", raw(t, f, SummarySheet, "D4"))
		assert.Equal(t, "9", raw(t, f, SummarySheet, "F4"))
		assert.Equal(t, "Idle Co", raw(t, f, SummarySheet, "A5"))
		assert.Equal(t, "0", raw(t, f, SummarySheet, "F5"))

		assert.Equal(t, "TOTAL", raw(t, f, SummarySheet, "A6"))
		formula, err := f.GetCellFormula(SummarySheet, "C6")
		require.NoError(t, err)
		assert.Equal(t, "SUM(C4:C5)", formula)
	})

	t.Run("leaderboard", func(t *testing.T) {
		assert.Equal(t, "Acme", raw(t, f, LeaderboardSheet, "A1"))
		assert.Equal(t, "Rank", raw(t, f, LeaderboardSheet, "A2"))
		assert.Equal(t, "1", raw(t, f, LeaderboardSheet, "A3"))
		assert.Equal(t, "Dana", raw(t, f, LeaderboardSheet, "B3"))
		assert.Equal(t, "90", raw(t, f, LeaderboardSheet, "D3"))
		// carriers without trips are left out
		assert.Empty(t, raw(t, f, LeaderboardSheet, "A5"))
	})

	t.Run("daily fuel", func(t *testing.T) {
		rows, err := f.GetRows(DailyFuelSheet, excelize.Options{RawCellValue: true})
		require.NoError(t, err)
		require.Len(t, rows, 32, "header plus one row per day of May")
		assert.Equal(t, []string{"Day", "Acme", "Idle Co", "Total"}, rows[0])
		assert.Equal(t, "2", rows[1][1])
		assert.Equal(t, "0", rows[1][2])
		assert.Equal(t, "5", rows[3][3])
		assert.Equal(t, "0", rows[4][3])
	})
}

func TestWorkbook_EmptyMonth(t *testing.T) {
	f, err := Workbook(Efficiency{Month: "2024-06"})
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "TOTAL", raw(t, f, SummarySheet, "A4"))
	assert.Equal(t, "No completed trips in 2024-06", raw(t, f, LeaderboardSheet, "A1"))
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleMonth(t)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "Acme", raw(t, f, SummarySheet, "A4"))
}
