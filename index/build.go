package index

import (
	activityindex "github.com/lucasjlepore/activity-index"
)

// RowFor derives an index row from an activity. MidLat and MidLon are the
// mean of the located points in degrees.
func RowFor(act *activityindex.Activity) activityindex.IndexRow {
	row := activityindex.IndexRow{
		ID:           act.ID,
		NPoints:      len(act.Points),
		StartTime:    act.StartTime,
		EndTime:      act.EndTime,
		Duration:     act.EndTime.Sub(act.StartTime),
		LengthM:      act.LengthM,
		SportMain:    act.SportMain,
		SportSub:     act.SportSub,
		SourceFormat: act.SourceFormat,
	}
	if len(act.Points) > 0 && act.StartTime.IsZero() {
		row.StartTime = act.Points[0].Time
		row.EndTime = act.Points[len(act.Points)-1].Time
		row.Duration = row.EndTime.Sub(row.StartTime)
	}

	var sumLat, sumLon float64
	n := 0
	for _, p := range act.Points {
		if !p.HasPosition() {
			continue
		}
		lat, _ := p.LatDegrees()
		lon, _ := p.LonDegrees()
		sumLat += lat
		sumLon += lon
		n++
	}
	if n > 0 {
		lat, lon := sumLat/float64(n), sumLon/float64(n)
		row.MidLat, row.MidLon = &lat, &lon
	}
	return row
}

// Build assembles a fresh index from activities. Repeated ids are rejected
// with a DuplicateKeyError.
func Build(acts []*activityindex.Activity) (*activityindex.Index, error) {
	rows := make([]activityindex.IndexRow, 0, len(acts))
	for _, act := range acts {
		rows = append(rows, RowFor(act))
	}
	return fromRows(rows)
}

// Merge joins added onto existing. Neither input is modified; any id present
// in both, or repeated within added, fails the whole merge.
func Merge(existing, added *activityindex.Index) (*activityindex.Index, error) {
	rows := make([]activityindex.IndexRow, 0, existing.Len()+added.Len())
	if existing != nil {
		rows = append(rows, existing.Rows...)
	}
	if added != nil {
		rows = append(rows, added.Rows...)
	}
	return fromRows(rows)
}

func fromRows(rows []activityindex.IndexRow) (*activityindex.Index, error) {
	if dups := activityindex.DuplicateIDs(rows); len(dups) > 0 {
		return nil, &activityindex.DuplicateKeyError{IDs: dups}
	}
	activityindex.SortRows(rows)
	return &activityindex.Index{Rows: rows}, nil
}
