package aggregate

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/models"
)

// Predicate selects trips.
type Predicate func(models.Trip) bool

// Completed keeps trips in the COMPLETED state.
func Completed(t models.Trip) bool { return t.IsCompleted() }

// Between keeps trips whose stamp falls in [start, end].
func Between(start, end time.Time, stamp Stamp) Predicate {
	if stamp == nil {
		stamp = CreatedAt
	}
	return func(t models.Trip) bool {
		at := stamp(t)
		return !at.IsZero() && !at.Before(start) && !at.After(end)
	}
}

// InFrame keeps trips whose stamp falls inside the frame.
func InFrame(f *Frame, stamp Stamp) Predicate {
	return Between(f.Start, f.End, stamp)
}

// InMonth keeps trips whose stamp falls in the calendar month starting at
// month, compared in month's location.
func InMonth(month time.Time, stamp Stamp) Predicate {
	if stamp == nil {
		stamp = StartTime
	}
	key := MonthKey(month)
	loc := month.Location()
	return func(t models.Trip) bool {
		at := stamp(t)
		return !at.IsZero() && MonthKey(at.In(loc)) == key
	}
}

// ForCarrier keeps trips of one carrier.
func ForCarrier(id primitive.ObjectID) Predicate {
	return func(t models.Trip) bool { return t.CarrierID == id }
}

// ForDriver keeps trips of one driver.
func ForDriver(id primitive.ObjectID) Predicate {
	return func(t models.Trip) bool { return t.DriverID == id }
}

// All combines predicates; nil entries are ignored.
func All(preds ...Predicate) Predicate {
	return func(t models.Trip) bool {
		for _, p := range preds {
			if p != nil && !p(t) {
				return false
			}
		}
		return true
	}
}

// Totals are the summed metrics of a set of completed trips.
type Totals struct {
	TotalMiles       float64 `json:"total_miles"`
	TotalFuel        float64 `json:"total_fuel"`
	TripsCount       int     `json:"trips_count"`
	TotalEngineHours float64 `json:"total_engine_hours"`
}

// Add accumulates one trip.
func (t *Totals) Add(trip models.Trip) {
	t.TotalMiles += trip.TotalMiles
	t.TotalFuel += trip.FuelUsed
	t.TotalEngineHours += trip.TotalEngineHours
	t.TripsCount++
}

// FuelEfficiency is miles per unit of fuel, 0 when no fuel was used.
func (t Totals) FuelEfficiency() float64 { return ratio(t.TotalMiles, t.TotalFuel) }

// AvgSpeed is miles per engine hour, 0 when no hours were logged.
func (t Totals) AvgSpeed() float64 { return ratio(t.TotalMiles, t.TotalEngineHours) }

// AvgFuelPerTrip is fuel per trip, 0 without trips.
func (t Totals) AvgFuelPerTrip() float64 { return ratio(t.TotalFuel, float64(t.TripsCount)) }

// Summary is Totals plus the derived ratios, as served to clients.
type Summary struct {
	Totals
	FuelEfficiency float64 `json:"fuel_efficiency"`
	AvgSpeed       float64 `json:"avg_speed"`
}

// Summarize computes the derived ratios.
func (t Totals) Summarize() Summary {
	return Summary{Totals: t, FuelEfficiency: t.FuelEfficiency(), AvgSpeed: t.AvgSpeed()}
}

// Summarize totals every completed trip matching pred.
func Summarize(trips []models.Trip, pred Predicate) Summary {
	var tot Totals
	for _, t := range trips {
		if !t.IsCompleted() || (pred != nil && !pred(t)) {
			continue
		}
		tot.Add(t)
	}
	return tot.Summarize()
}

// Row is one entity's rollup.
type Row struct {
	Key   string `json:"id"`
	Label string `json:"name"`
	Summary
}

// Rollup groups completed trips matching pred by key. Rows come back in
// first-seen order; trips without a key are dropped. label names a row from
// its first trip and may be nil.
func Rollup(trips []models.Trip, pred Predicate, key KeyFunc, label func(models.Trip) string) []Row {
	index := make(map[string]int)
	var rows []Row
	var totals []Totals
	for _, t := range trips {
		if !t.IsCompleted() || (pred != nil && !pred(t)) {
			continue
		}
		k, ok := key(t)
		if !ok {
			continue
		}
		i, seen := index[k]
		if !seen {
			i = len(rows)
			index[k] = i
			name := k
			if label != nil {
				name = label(t)
			}
			rows = append(rows, Row{Key: k, Label: name})
			totals = append(totals, Totals{})
		}
		totals[i].Add(t)
	}
	for i := range rows {
		rows[i].Summary = totals[i].Summarize()
	}
	return rows
}

// Leaderboard orders rows by total miles, highest first. Ties keep their
// input order. limit <= 0 keeps every row. The input is not modified.
func Leaderboard(rows []Row, limit int) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalMiles > out[j].TotalMiles
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
