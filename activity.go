// Package activityindex holds the canonical activity model shared by the
// decoders, the distance engine, the index builder and the aggregators.
package activityindex

import (
	"math"
	"path/filepath"
	"strings"
	"time"
)

// SourceFormat names the file format an activity was decoded from.
type SourceFormat string

const (
	FormatFIT  SourceFormat = "fit"
	FormatGPX  SourceFormat = "gpx"
	FormatJSON SourceFormat = "json"
)

// Semicircle scale: 2^31 semicircles per 180 degrees.
const semicirclesPerDegree = float64(1<<31) / 180.0

// SemicirclesToDegrees converts a FIT fixed-point angle to degrees.
func SemicirclesToDegrees(raw int32) float64 {
	return float64(raw) / (float64(1<<32) / 360.0)
}

// DegreesToSemicircles converts degrees to the nearest semicircle value.
func DegreesToSemicircles(deg float64) int32 {
	v := math.Round(deg * semicirclesPerDegree)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// Point is one timestamped sample. Absent values are nil, never zero.
type Point struct {
	Time      time.Time `json:"time"`
	Lat       *int32    `json:"lat,omitempty"`
	Lon       *int32    `json:"lon,omitempty"`
	Elevation *float64  `json:"elevation,omitempty"`
	HeartRate *uint16   `json:"heart_rate,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
}

// HasPosition reports whether both coordinates are present.
func (p Point) HasPosition() bool {
	return p.Lat != nil && p.Lon != nil
}

// LatDegrees returns the latitude in degrees; ok is false when absent.
func (p Point) LatDegrees() (float64, bool) {
	if p.Lat == nil {
		return 0, false
	}
	return SemicirclesToDegrees(*p.Lat), true
}

// LonDegrees returns the longitude in degrees; ok is false when absent.
func (p Point) LonDegrees() (float64, bool) {
	if p.Lon == nil {
		return 0, false
	}
	return SemicirclesToDegrees(*p.Lon), true
}

// Equal compares every field, treating two nil optionals as equal.
func (p Point) Equal(o Point) bool {
	return p.Time.Equal(o.Time) &&
		eqPtr(p.Lat, o.Lat) &&
		eqPtr(p.Lon, o.Lon) &&
		eqPtr(p.Elevation, o.Elevation) &&
		eqPtr(p.HeartRate, o.HeartRate) &&
		eqPtr(p.Speed, o.Speed)
}

// PointSeries is ordered by time, first sample at index 0.
type PointSeries []Point

// Equal reports element-wise equality.
func (s PointSeries) Equal(o PointSeries) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// TrackInfo carries the track-level fields of a GPX file.
type TrackInfo struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Type        string `json:"type,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Metadata describes one activity.
type Metadata struct {
	ID           string        `json:"id"`
	SportName    string        `json:"sport_name,omitempty"`
	SportMain    string        `json:"sport_main,omitempty"`
	SportSub     string        `json:"sport_sub,omitempty"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	NPoints      int           `json:"n_points"`
	LengthM      float64       `json:"length_m"`
	Length3DM    *float64      `json:"length_3d_m,omitempty"`
	SourceFormat SourceFormat  `json:"source_format"`
	Track        *TrackInfo    `json:"track,omitempty"`
}

// sameContent compares everything but the id.
func (m Metadata) sameContent(o Metadata) bool {
	if (m.Track == nil) != (o.Track == nil) {
		return false
	}
	if m.Track != nil && *m.Track != *o.Track {
		return false
	}
	return m.SportName == o.SportName &&
		m.SportMain == o.SportMain &&
		m.SportSub == o.SportSub &&
		m.StartTime.Equal(o.StartTime) &&
		m.EndTime.Equal(o.EndTime) &&
		m.Duration == o.Duration &&
		m.NPoints == o.NPoints &&
		m.LengthM == o.LengthM &&
		eqPtr(m.Length3DM, o.Length3DM) &&
		m.SourceFormat == o.SourceFormat
}

// Activity owns one point series and its metadata. It is not mutated after
// ingestion.
type Activity struct {
	Metadata
	Points PointSeries `json:"points"`
}

// SameRecord reports whether two activities carry identical content,
// ignoring their ids.
func (a *Activity) SameRecord(b *Activity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Metadata.sameContent(b.Metadata) && a.Points.Equal(b.Points)
}

// FillTimeBounds sets start, end, duration and point count from the series.
func (m *Metadata) FillTimeBounds(points PointSeries) {
	m.NPoints = len(points)
	if len(points) == 0 {
		m.StartTime, m.EndTime, m.Duration = time.Time{}, time.Time{}, 0
		return
	}
	m.StartTime = points[0].Time
	m.EndTime = points[len(points)-1].Time
	m.Duration = m.EndTime.Sub(m.StartTime)
}

// IDFromPath derives an activity id from a file name: the base name up to the
// first dot.
func IDFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

// NormalizeTime converts to UTC at the persisted (microsecond) resolution.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
