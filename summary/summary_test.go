package summary

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	activityindex "github.com/lucasjlepore/activity-index"
)

func row(id string, start time.Time, minutes int, km float64, sport string) activityindex.IndexRow {
	d := time.Duration(minutes) * time.Minute
	return activityindex.IndexRow{
		ID:        id,
		StartTime: start,
		EndTime:   start.Add(d),
		Duration:  d,
		LengthM:   km * 1000,
		SportMain: sport,
	}
}

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func sampleRows() []activityindex.IndexRow {
	return []activityindex.IndexRow{
		row("c", day(2024, time.April, 2, 7), 30, 5, "running"),
		row("a", day(2024, time.January, 15, 6), 60, 20, "cycling"),
		row("b", day(2024, time.January, 20, 18), 45, 8, "running"),
		row("d", day(2024, time.April, 2, 19), 90, 40, "cycling"),
	}
}

func TestParseInterval(t *testing.T) {
	tests := map[string]Interval{"day": Day, "1d": Day, "Week": Week, "1w": Week, "month": Month, "1mo": Month, "year": Year, "1y": Year}
	for in, want := range tests {
		got, err := ParseInterval(in)
		if err != nil || got != want {
			t.Fatalf("ParseInterval(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "hour", "2w"} {
		if _, err := ParseInterval(bad); !errors.Is(err, activityindex.ErrUnsupportedInterval) {
			t.Fatalf("ParseInterval(%q) error = %v", bad, err)
		}
	}
}

func TestByIntervalGapFillsMonths(t *testing.T) {
	s, err := ByInterval(sampleRows(), Month, nil)
	if err != nil {
		t.Fatalf("ByInterval: %v", err)
	}
	var labels []string
	for _, b := range s.Rows {
		labels = append(labels, b.Label)
	}
	if diff := cmp.Diff([]string{"Jan 2024", "Feb 2024", "Mar 2024", "Apr 2024"}, labels); diff != "" {
		t.Fatalf("labels (-want +got):\n%s", diff)
	}

	jan, feb, apr := s.Rows[0], s.Rows[1], s.Rows[3]
	if jan.Count != 2 || jan.TotalDuration != 105*time.Minute || jan.TotalLengthM != 28000 {
		t.Fatalf("unexpected January bucket: %+v", jan)
	}
	if feb.Count != 0 || feb.TotalDuration != 0 || feb.TotalLengthM != 0 {
		t.Fatalf("gap bucket should be zero: %+v", feb)
	}
	if apr.Count != 2 || apr.TotalLengthM != 45000 {
		t.Fatalf("unexpected April bucket: %+v", apr)
	}
	if jan.MonthNumber != 2024*12+1 || apr.MonthNumber != 2024*12+4 {
		t.Fatalf("unexpected month numbers %d %d", jan.MonthNumber, apr.MonthNumber)
	}
}

func TestByIntervalCoversEveryBucketOnce(t *testing.T) {
	rows := sampleRows()
	for _, iv := range []Interval{Day, Week, Month, Year} {
		s, err := ByInterval(rows, iv, nil)
		if err != nil {
			t.Fatalf("%s: %v", iv, err)
		}
		if s.Count() != len(rows) {
			t.Fatalf("%s: counts sum to %d, want %d", iv, s.Count(), len(rows))
		}
		for i := 1; i < len(s.Rows); i++ {
			if want := iv.Next(s.Rows[i-1].Start); !s.Rows[i].Start.Equal(want) {
				t.Fatalf("%s: bucket %d starts %s, want %s", iv, i, s.Rows[i].Start, want)
			}
		}
		first, last := s.Rows[0].Start, s.Rows[len(s.Rows)-1].Start
		if !first.Equal(iv.Start(day(2024, time.January, 15, 6))) || !last.Equal(iv.Start(day(2024, time.April, 2, 19))) {
			t.Fatalf("%s: range %s..%s", iv, first, last)
		}
	}

	days, _ := ByInterval(rows, Day, nil)
	if len(days.Rows) != 79 {
		t.Fatalf("day buckets = %d, want 79", len(days.Rows))
	}
	if days.Rows[0].Label != "2024-01-15" {
		t.Fatalf("day label = %q", days.Rows[0].Label)
	}
}

func TestWeekLabels(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		// 2024-01-01 is a Monday: week 01 under %W.
		{day(2024, time.January, 1, 12), "w01 2024"},
		{day(2024, time.January, 7, 12), "w01 2024"},
		{day(2024, time.January, 8, 0), "w02 2024"},
		// 2023-01-01 is a Sunday: its week starts 2022-12-26, the last week of 2022.
		{day(2023, time.January, 1, 9), "w52 2022"},
		{day(2023, time.January, 2, 9), "w01 2023"},
		{day(2021, time.January, 4, 9), "w01 2021"},
	}
	for _, tt := range tests {
		start := Week.Start(tt.at)
		if start.Weekday() != time.Monday {
			t.Fatalf("week of %s starts on %s", tt.at, start.Weekday())
		}
		if got := Week.Label(start); got != tt.want {
			t.Fatalf("Week.Label(%s) = %q, want %q", start, got, tt.want)
		}
	}
}

func TestByIntervalUsesLocation(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	// 23:30 UTC on Jan 31 is already February in Zurich.
	rows := []activityindex.IndexRow{row("x", time.Date(2024, time.January, 31, 23, 30, 0, 0, time.UTC), 10, 1, "")}
	s, err := ByInterval(rows, Month, zurich)
	if err != nil {
		t.Fatalf("ByInterval: %v", err)
	}
	if len(s.Rows) != 1 || s.Rows[0].Label != "Feb 2024" {
		t.Fatalf("unexpected buckets: %+v", s.Rows)
	}
}

func TestByIntervalEmptyAndInvalid(t *testing.T) {
	s, err := ByInterval(nil, Week, nil)
	if err != nil || len(s.Rows) != 0 {
		t.Fatalf("empty index: %+v %v", s, err)
	}
	if _, err := ByInterval(sampleRows(), Interval("fortnight"), nil); !errors.Is(err, activityindex.ErrUnsupportedInterval) {
		t.Fatalf("invalid interval error = %v", err)
	}
}

func TestMonthsAndBySport(t *testing.T) {
	running, err := Months(sampleRows(), "Running", nil)
	if err != nil {
		t.Fatalf("Months: %v", err)
	}
	if running.Count() != 2 || len(running.Rows) != 4 || running.Sport != "Running" {
		t.Fatalf("unexpected running summary: %+v", running)
	}

	per, err := BySport(sampleRows(), Year, nil)
	if err != nil {
		t.Fatalf("BySport: %v", err)
	}
	if len(per) != 2 || per[0].Sport != "cycling" || per[1].Sport != "running" {
		t.Fatalf("unexpected sports: %+v", per)
	}
	if per[0].Rows[0].Label != "2024" || per[0].Rows[0].TotalLengthM != 60000 {
		t.Fatalf("unexpected cycling year: %+v", per[0].Rows[0])
	}
}

func TestTotals(t *testing.T) {
	got := Totals(sampleRows())
	want := Total{
		Count:    4,
		Duration: 225 * time.Minute,
		LengthM:  73000,
		First:    day(2024, time.January, 15, 6),
		Last:     day(2024, time.April, 2, 19),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Totals (-want +got):\n%s", diff)
	}
}

func TestEddington(t *testing.T) {
	tests := []struct {
		name  string
		dists []float64
		want  int
	}{
		{"empty", nil, 0},
		{"one long day", []float64{10, 1, 1}, 1},
		// Four days reach 4 km, the fifth does not reach 5.
		{"five days", []float64{5, 5, 5, 4, 3}, 4},
		{"unsorted", []float64{3, 5, 4, 5, 5}, 4},
		{"short days", []float64{0.5, 0.9}, 0},
		{"exact", []float64{3, 3, 3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eddington(tt.dists); got != tt.want {
				t.Fatalf("Eddington(%v) = %d, want %d", tt.dists, got, tt.want)
			}
		})
	}
}

func TestEddingtonFromIndexSumsPerDay(t *testing.T) {
	rows := []activityindex.IndexRow{
		row("a", day(2024, time.May, 1, 6), 10, 1.5, ""),
		row("b", day(2024, time.May, 1, 18), 10, 1.5, ""),
		row("c", day(2024, time.May, 2, 6), 10, 2.5, ""),
		row("d", day(2024, time.May, 3, 6), 10, 9, ""),
	}
	days := DailyDistancesKM(rows, nil)
	if len(days) != 3 || days[0].KM != 3 {
		t.Fatalf("unexpected daily totals: %+v", days)
	}
	if got := EddingtonFromIndex(rows, nil); got != 2 {
		t.Fatalf("EddingtonFromIndex = %d, want 2", got)
	}
}
