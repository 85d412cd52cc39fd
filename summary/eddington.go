package summary

import (
	"sort"
	"time"

	activityindex "github.com/lucasjlepore/activity-index"
)

// DailyDistance is the summed length of all activities starting on one day.
type DailyDistance struct {
	Day time.Time
	KM  float64
}

// DailyDistancesKM groups rows by the calendar day of their start in loc
// (UTC when nil), in day order.
func DailyDistancesKM(rows []activityindex.IndexRow, loc *time.Location) []DailyDistance {
	if loc == nil {
		loc = time.UTC
	}
	byDay := make(map[time.Time]float64)
	for _, r := range rows {
		day := Day.Start(r.StartTime.In(loc))
		byDay[day] += r.LengthM / 1000
	}
	out := make([]DailyDistance, 0, len(byDay))
	for day, km := range byDay {
		out = append(out, DailyDistance{Day: day, KM: km})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// Eddington returns the largest n such that n of the daily distances are at
// least n km.
func Eddington(dists []float64) int {
	sorted := append([]float64(nil), dists...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	e := 0
	for i, d := range sorted {
		if d < float64(i+1) {
			break
		}
		e = i + 1
	}
	return e
}

// EddingtonFromIndex computes the Eddington number over the daily totals of
// an index.
func EddingtonFromIndex(rows []activityindex.IndexRow, loc *time.Location) int {
	days := DailyDistancesKM(rows, loc)
	dists := make([]float64, len(days))
	for i, d := range days {
		dists[i] = d.KM
	}
	return Eddington(dists)
}
