package aggregate

import (
	"time"

	"github.com/ukydev/fleet-insights/internal/models"
)

// UnknownDriver labels leaderboard rows whose trips carry no driver name.
const UnknownDriver = "Unknown Driver"

// DriverMetrics returns one row per driver, in the order given, including
// zero rows for drivers without completed trips matching pred.
func DriverMetrics(drivers []models.Driver, trips []models.Trip, pred Predicate) []Row {
	byDriver := make(map[string]*Totals, len(drivers))
	for _, d := range drivers {
		byDriver[d.ID.Hex()] = &Totals{}
	}
	for _, t := range trips {
		if !t.IsCompleted() || (pred != nil && !pred(t)) {
			continue
		}
		k, ok := ByDriver(t)
		if !ok {
			continue
		}
		if tot, tracked := byDriver[k]; tracked {
			tot.Add(t)
		}
	}

	rows := make([]Row, 0, len(drivers))
	for _, d := range drivers {
		rows = append(rows, Row{
			Key:     d.ID.Hex(),
			Label:   d.DisplayName(),
			Summary: byDriver[d.ID.Hex()].Summarize(),
		})
	}
	return rows
}

// CarrierSummary is one carrier's card on the monthly efficiency view.
type CarrierSummary struct {
	CarrierID      string  `json:"carrier"`
	CarrierName    string  `json:"carrier_name"`
	AvgFuelPerTrip float64 `json:"avg_fuel_per_trip"`
	Summary
}

// CarrierMonthSummaries totals each carrier's completed trips that started in
// month. Carriers without trips get zero cards.
func CarrierMonthSummaries(carriers []models.Carrier, trips []models.Trip, month time.Time) []CarrierSummary {
	inMonth := InMonth(month, StartTime)
	out := make([]CarrierSummary, 0, len(carriers))
	for _, c := range carriers {
		var tot Totals
		for _, t := range trips {
			if t.IsCompleted() && t.CarrierID == c.ID && inMonth(t) {
				tot.Add(t)
			}
		}
		out = append(out, CarrierSummary{
			CarrierID:      c.ID.Hex(),
			CarrierName:    c.Name,
			AvgFuelPerTrip: tot.AvgFuelPerTrip(),
			Summary:        tot.Summarize(),
		})
	}
	return out
}

// CarrierLeaderboard ranks one carrier's drivers for a month.
type CarrierLeaderboard struct {
	CarrierID   string `json:"carrier"`
	CarrierName string `json:"carrier_name"`
	Drivers     []Row  `json:"drivers"`
}

// CarrierLeaderboards ranks, per carrier, the drivers who completed trips
// started in month. Carriers without such trips are omitted. limit <= 0
// keeps every driver.
func CarrierLeaderboards(carriers []models.Carrier, trips []models.Trip, month time.Time, limit int) []CarrierLeaderboard {
	inMonth := InMonth(month, StartTime)
	var out []CarrierLeaderboard
	for _, c := range carriers {
		rows := Rollup(trips, All(ForCarrier(c.ID), inMonth), ByDriver, driverLabel)
		if len(rows) == 0 {
			continue
		}
		out = append(out, CarrierLeaderboard{
			CarrierID:   c.ID.Hex(),
			CarrierName: c.Name,
			Drivers:     Leaderboard(rows, limit),
		})
	}
	return out
}

func driverLabel(t models.Trip) string {
	if t.DriverName != "" {
		return t.DriverName
	}
	return UnknownDriver
}

// DailyFuelByCarrier is the month chart of fuel per day, broken down by
// carrier id. Every carrier is present in every day bucket.
func DailyFuelByCarrier(carriers []models.Carrier, trips []models.Trip, month time.Time) *Frame {
	ids := make([]string, 0, len(carriers))
	for _, c := range carriers {
		ids = append(ids, c.ID.Hex())
	}
	f := NewMonthFrame(month)
	f.Accumulate(trips, Query{
		Stamp:    StartTime,
		Metric:   FuelUsed,
		GroupBy:  ByCarrier,
		Entities: ids,
	})
	return f
}

// DriverTrips counts completed trips per driver per day over a day window.
func DriverTrips(w Window, now time.Time, drivers []models.Driver, trips []models.Trip) *Frame {
	ids := make([]string, 0, len(drivers))
	for _, d := range drivers {
		ids = append(ids, d.ID.Hex())
	}
	f := NewFrame(w, now)
	f.Accumulate(trips, Query{
		Metric:   TripCount,
		GroupBy:  ByDriver,
		Entities: ids,
	})
	return f
}

// FuelSeries is the fuel-usage chart: per-bucket fuel plus the trend between
// the last two buckets.
type FuelSeries struct {
	*Frame
	Trend Trend `json:"trend"`
}

// FuelUsage sums fuel of completed trips matching pred per bucket of w.
func FuelUsage(w Window, now time.Time, trips []models.Trip, pred Predicate) FuelSeries {
	f := NewFrame(w, now)
	f.Accumulate(trips, Query{Metric: FuelUsed, Filter: pred})
	return FuelSeries{Frame: f, Trend: f.Trend()}
}
