// Package summary aggregates the activity index over calendar intervals and
// computes the Eddington number.
package summary

import (
	"fmt"
	"sort"
	"strings"
	"time"

	activityindex "github.com/lucasjlepore/activity-index"
)

// Interval is a calendar bucket width.
type Interval string

const (
	Day   Interval = "day"
	Week  Interval = "week"
	Month Interval = "month"
	Year  Interval = "year"
)

// ParseInterval accepts day|week|month|year and the short forms 1d|1w|1mo|1y.
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "1d":
		return Day, nil
	case "week", "1w":
		return Week, nil
	case "month", "1mo":
		return Month, nil
	case "year", "1y":
		return Year, nil
	}
	return "", fmt.Errorf("%w: %q (expected day|week|month|year)", activityindex.ErrUnsupportedInterval, s)
}

func (iv Interval) valid() bool {
	switch iv {
	case Day, Week, Month, Year:
		return true
	}
	return false
}

// Start returns the start of the bucket containing t, in t's location.
// Weeks start on Monday.
func (iv Interval) Start(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch iv {
	case Week:
		back := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-back, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Next returns the start of the bucket after the one starting at start.
func (iv Interval) Next(start time.Time) time.Time {
	switch iv {
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Label renders a bucket start: "2006-01-02", "w05 2006", "Jan 2006" or
// "2006".
func (iv Interval) Label(start time.Time) string {
	switch iv {
	case Week:
		return fmt.Sprintf("w%02d %d", mondayWeek(start), start.Year())
	case Month:
		return start.Format("Jan 2006")
	case Year:
		return start.Format("2006")
	default:
		return start.Format("2006-01-02")
	}
}

// mondayWeek is strftime's %W: week of the year with Monday as the first
// day, days before the first Monday in week 0.
func mondayWeek(t time.Time) int {
	yday := t.YearDay() - 1
	wday := (int(t.Weekday()) + 6) % 7
	return (yday + 7 - wday) / 7
}

// Bucket aggregates the activities starting within one interval.
type Bucket struct {
	Start         time.Time
	Label         string
	Count         int
	TotalDuration time.Duration
	TotalLengthM  float64
	// MonthNumber is year*12 + month of Start, a linear month ordering.
	MonthNumber int
}

// Summary is a gap-free ordered run of buckets.
type Summary struct {
	Interval Interval
	// Sport is the SportMain filter applied, empty for all activities.
	Sport string
	Rows  []Bucket
}

// Count sums the bucket counts.
func (s *Summary) Count() int {
	n := 0
	for _, b := range s.Rows {
		n += b.Count
	}
	return n
}

// ByInterval buckets rows by start time in loc (UTC when nil). Every bucket
// between the first and the last activity appears once, empty ones with zero
// totals.
func ByInterval(rows []activityindex.IndexRow, iv Interval, loc *time.Location) (*Summary, error) {
	if !iv.valid() {
		return nil, fmt.Errorf("%w: %q", activityindex.ErrUnsupportedInterval, iv)
	}
	if loc == nil {
		loc = time.UTC
	}
	out := &Summary{Interval: iv}
	if len(rows) == 0 {
		return out, nil
	}

	sorted := append([]activityindex.IndexRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	first := iv.Start(sorted[0].StartTime.In(loc))
	last := iv.Start(sorted[len(sorted)-1].StartTime.In(loc))
	for start := first; !start.After(last); start = iv.Next(start) {
		out.Rows = append(out.Rows, Bucket{
			Start:       start,
			Label:       iv.Label(start),
			MonthNumber: start.Year()*12 + int(start.Month()),
		})
	}

	i := 0
	for _, r := range sorted {
		start := iv.Start(r.StartTime.In(loc))
		for !out.Rows[i].Start.Equal(start) {
			i++
		}
		b := &out.Rows[i]
		b.Count++
		b.TotalDuration += r.Duration
		b.TotalLengthM += r.LengthM
	}
	return out, nil
}

// FilterSport keeps the rows whose SportMain equals sport, ignoring case. An
// empty sport keeps everything.
func FilterSport(rows []activityindex.IndexRow, sport string) []activityindex.IndexRow {
	if sport == "" {
		return rows
	}
	var out []activityindex.IndexRow
	for _, r := range rows {
		if strings.EqualFold(r.SportMain, sport) {
			out = append(out, r)
		}
	}
	return out
}

// Months is the monthly summary of one sport (all sports when empty).
func Months(rows []activityindex.IndexRow, sport string, loc *time.Location) (*Summary, error) {
	s, err := ByInterval(FilterSport(rows, sport), Month, loc)
	if err != nil {
		return nil, err
	}
	s.Sport = sport
	return s, nil
}

// Sports lists the distinct SportMain values, sorted. Activities without a
// sport are left out.
func Sports(rows []activityindex.IndexRow) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		if r.SportMain != "" {
			seen[r.SportMain] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// BySport builds one summary per sport, in Sports order.
func BySport(rows []activityindex.IndexRow, iv Interval, loc *time.Location) ([]*Summary, error) {
	var out []*Summary
	for _, sport := range Sports(rows) {
		s, err := ByInterval(FilterSport(rows, sport), iv, loc)
		if err != nil {
			return nil, err
		}
		s.Sport = sport
		out = append(out, s)
	}
	return out, nil
}

// Total is the all-time aggregate of an index.
type Total struct {
	Count    int
	Duration time.Duration
	LengthM  float64
	First    time.Time
	Last     time.Time
}

// Totals sums every row.
func Totals(rows []activityindex.IndexRow) Total {
	var t Total
	for _, r := range rows {
		t.Count++
		t.Duration += r.Duration
		t.LengthM += r.LengthM
		if t.First.IsZero() || r.StartTime.Before(t.First) {
			t.First = r.StartTime
		}
		if r.StartTime.After(t.Last) {
			t.Last = r.StartTime
		}
	}
	return t
}
