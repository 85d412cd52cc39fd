package activityindex

import (
	"sort"
	"time"
)

// IndexRow is one activity's row in the ActivityIndex.
type IndexRow struct {
	ID           string
	NPoints      int
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	LengthM      float64
	MidLat       *float64 // mean latitude in degrees, nil without coordinates
	MidLon       *float64
	SportMain    string
	SportSub     string
	SourceFormat SourceFormat
}

// Index is the ActivityIndex table. Ids are unique.
type Index struct {
	Rows []IndexRow
}

// Len returns the row count.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.Rows)
}

// Find returns the row with the given id.
func (ix *Index) Find(id string) (IndexRow, bool) {
	if ix == nil {
		return IndexRow{}, false
	}
	for _, r := range ix.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return IndexRow{}, false
}

// DuplicateIDs lists ids that occur more than once, sorted.
func DuplicateIDs(rows []IndexRow) []string {
	seen := make(map[string]int, len(rows))
	for _, r := range rows {
		seen[r.ID]++
	}
	var dups []string
	for id, n := range seen {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	sort.Strings(dups)
	return dups
}

// SortRows orders rows by start time, then id.
func SortRows(rows []IndexRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].StartTime.Equal(rows[j].StartTime) {
			return rows[i].StartTime.Before(rows[j].StartTime)
		}
		return rows[i].ID < rows[j].ID
	})
}
