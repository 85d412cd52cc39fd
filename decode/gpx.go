package decode

import (
	"fmt"
	"strings"

	"github.com/tkrajina/gpxgo/gpx"

	activityindex "github.com/lucasjlepore/activity-index"
)

// decodeGPX reads a GPX document holding exactly one track with exactly one
// segment.
func decodeGPX(path string, data []byte) (*activityindex.Activity, error) {
	fail := func(err error) (*activityindex.Activity, error) {
		return nil, &activityindex.DecodeError{Path: path, Offset: -1, Err: err}
	}

	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", activityindex.ErrMalformedFrame, err))
	}
	switch n := len(doc.Tracks); {
	case n == 0:
		return fail(activityindex.ErrNoTracks)
	case n > 1:
		return fail(fmt.Errorf("%w: found %d", activityindex.ErrMultipleTracks, n))
	}
	track := &doc.Tracks[0]
	switch n := len(track.Segments); {
	case n == 0:
		return fail(activityindex.ErrNoSegments)
	case n > 1:
		return fail(fmt.Errorf("%w: found %d", activityindex.ErrMultipleSegments, n))
	}

	seg := &track.Segments[0]
	points := make(activityindex.PointSeries, 0, len(seg.Points))
	for i := range seg.Points {
		tp := &seg.Points[i]
		if tp.Timestamp.IsZero() {
			return fail(fmt.Errorf("%w: trackpoint %d has no time", activityindex.ErrMalformedFrame, i))
		}
		lat := activityindex.DegreesToSemicircles(tp.Latitude)
		lon := activityindex.DegreesToSemicircles(tp.Longitude)
		p := activityindex.Point{
			Time: activityindex.NormalizeTime(tp.Timestamp),
			Lat:  &lat,
			Lon:  &lon,
		}
		if tp.Elevation.NotNull() {
			ele := tp.Elevation.Value()
			p.Elevation = &ele
		}
		if i > 0 && p.Time.Before(points[i-1].Time) {
			return fail(fmt.Errorf("%w: trackpoint %d", activityindex.ErrNonMonotonicTime, i))
		}
		points = append(points, p)
	}

	act := &activityindex.Activity{Points: points}
	act.ID = activityindex.IDFromPath(path)
	act.SourceFormat = activityindex.FormatGPX
	act.Track = &activityindex.TrackInfo{
		Name:        track.Name,
		Description: track.Description,
		Comment:     track.Comment,
		Type:        track.Type,
		Source:      track.Source,
	}
	act.SportMain = strings.ToLower(strings.TrimSpace(track.Type))
	act.LengthM = track.Length2D()
	length3D := track.Length3D()
	act.Length3DM = &length3D
	act.FillTimeBounds(points)
	return act, nil
}
