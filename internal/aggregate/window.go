// Package aggregate turns already-fetched trip lists into time-bucketed
// series, per-entity rollups, and leaderboards. Every function is pure: the
// caller supplies the trips and the reference time.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Granularity is the width of one bucket.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ErrUnknownWindow is returned by ParseWindow for unsupported names.
var ErrUnknownWindow = errors.New("unknown window")

// ErrInvalidMonth is returned by ParseMonth for anything but YYYY-MM.
var ErrInvalidMonth = errors.New("invalid month")

// Window is a named trailing range made of Count buckets of one granularity.
type Window struct {
	Name        string
	Count       int
	Granularity Granularity
}

var windows = map[string]Window{
	"7d":  {Name: "7d", Count: 7, Granularity: GranularityDay},
	"30d": {Name: "30d", Count: 30, Granularity: GranularityDay},
	"90d": {Name: "90d", Count: 90, Granularity: GranularityDay},
	"4w":  {Name: "4w", Count: 4, Granularity: GranularityWeek},
	"3m":  {Name: "3m", Count: 3, Granularity: GranularityMonth},
	"6m":  {Name: "6m", Count: 6, Granularity: GranularityMonth},
}

// WindowNames lists the supported windows, shortest first.
var WindowNames = []string{"7d", "30d", "90d", "4w", "3m", "6m"}

// ParseWindow resolves a window name such as "7d" or "3m".
func ParseWindow(name string) (Window, error) {
	w, ok := windows[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Window{}, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownWindow, name, strings.Join(WindowNames, ", "))
	}
	return w, nil
}

// Label is the human description of the window, e.g. "Last 7 days".
func (w Window) Label() string {
	switch w.Granularity {
	case GranularityWeek:
		return fmt.Sprintf("Last %d weeks", w.Count)
	case GranularityMonth:
		return fmt.Sprintf("Last %d months", w.Count)
	default:
		return fmt.Sprintf("Last %d days", w.Count)
	}
}

// ParseMonth parses "YYYY-MM" into the first instant of that month in loc.
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01", strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM)", ErrInvalidMonth, s)
	}
	return t, nil
}

// MonthKey formats t as "YYYY-MM".
func MonthKey(t time.Time) string {
	return t.Format(monthLayout)
}

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// NewFrame builds the zero-valued buckets of w ending at now. Buckets are
// aligned to calendar days (or months) in now's location, and the last bucket
// always contains now.
func NewFrame(w Window, now time.Time) *Frame {
	f := &Frame{Granularity: w.Granularity, Label: w.Label(), End: now}
	today := startOfDay(now)

	switch w.Granularity {
	case GranularityMonth:
		first := startOfMonth(now)
		for i := w.Count - 1; i >= 0; i-- {
			start := first.AddDate(0, -i, 0)
			f.Buckets = append(f.Buckets, Bucket{
				Key:   start.Format(monthLayout),
				Label: start.Format("Jan 06"),
				Start: start,
				End:   start.AddDate(0, 1, 0),
			})
		}
	case GranularityWeek:
		for i := w.Count - 1; i >= 0; i-- {
			end := today.AddDate(0, 0, 1-7*i)
			start := end.AddDate(0, 0, -7)
			f.Buckets = append(f.Buckets, Bucket{
				Key:   start.Format(dayLayout),
				Label: fmt.Sprintf("Week %d", w.Count-i),
				Start: start,
				End:   end,
			})
		}
	default:
		short := w.Count <= 7
		for i := w.Count - 1; i >= 0; i-- {
			start := today.AddDate(0, 0, -i)
			label := start.Format("Jan 2")
			if short {
				label = start.Format("Mon")
			}
			f.Buckets = append(f.Buckets, Bucket{
				Key:   start.Format(dayLayout),
				Label: label,
				Start: start,
				End:   start.AddDate(0, 0, 1),
			})
		}
	}

	if len(f.Buckets) > 0 {
		f.Start = f.Buckets[0].Start
	}
	return f
}

// NewMonthFrame builds one day bucket per calendar day of the month that
// starts at month.
func NewMonthFrame(month time.Time) *Frame {
	first := startOfMonth(month)
	next := first.AddDate(0, 1, 0)
	f := &Frame{
		Granularity: GranularityDay,
		Label:       first.Format("January 2006"),
		Start:       first,
		End:         next.Add(-time.Nanosecond),
	}
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		f.Buckets = append(f.Buckets, Bucket{
			Key:   d.Format(dayLayout),
			Label: d.Format("Jan 2"),
			Start: d,
			End:   d.AddDate(0, 0, 1),
		})
	}
	return f
}
