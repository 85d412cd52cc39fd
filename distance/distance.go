// Package distance computes geodesic distance and speed along a point series.
package distance

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang/geo/s2"

	activityindex "github.com/lucasjlepore/activity-index"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

// Method selects the distance formula.
type Method string

const (
	Haversine  Method = "haversine"
	SmallAngle Method = "small_angle"
)

// ParseMethod resolves a method name.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "haversine", "":
		return Haversine, nil
	case "small_angle", "small-angle", "flat":
		return SmallAngle, nil
	default:
		return "", fmt.Errorf("%w: %q (expected haversine|small_angle)", activityindex.ErrUnsupportedMethod, name)
	}
}

// LatLng is a position in degrees.
type LatLng struct {
	Lat, Lon float64
}

// HaversineMeters is the great-circle distance between a and b.
func HaversineMeters(a, b LatLng) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// SmallAngleMeters is the flat-local approximation, valid for closely spaced
// points.
func SmallAngleMeters(a, b LatLng) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)
	x := dLon * math.Cos((lat1+lat2)/2)
	return EarthRadiusMeters * math.Sqrt(x*x+dLat*dLat)
}

// Between dispatches on m.
func (m Method) Between(a, b LatLng) (float64, error) {
	switch m {
	case Haversine:
		return HaversineMeters(a, b), nil
	case SmallAngle:
		return SmallAngleMeters(a, b), nil
	default:
		return 0, fmt.Errorf("%w: %q", activityindex.ErrUnsupportedMethod, string(m))
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Step holds the derived values for one point. The first point and points
// whose elapsed time is zero carry zero speed.
type Step struct {
	Distance   float64       // meters from the previous located point
	Cumulative float64       // meters since the first point
	Elapsed    time.Duration // time spanned by Distance
	SpeedMS    float64
	SpeedKMH   float64
	Located    bool
}

// Trace is the per-point output for a series.
type Trace struct {
	Method Method
	Steps  []Step
}

// Total is the cumulative distance at the last point.
func (t Trace) Total() float64 {
	if len(t.Steps) == 0 {
		return 0
	}
	return t.Steps[len(t.Steps)-1].Cumulative
}

// Compute walks the series once. Points without coordinates add no distance;
// the next located point measures from the last located one. A series with no
// located point fails with ErrMissingCoordinates.
func Compute(series activityindex.PointSeries, m Method) (Trace, error) {
	if _, err := m.Between(LatLng{}, LatLng{}); err != nil {
		return Trace{}, err
	}

	tr := Trace{Method: m, Steps: make([]Step, len(series))}
	var (
		prev     LatLng
		prevTime time.Time
		havePrev bool
		located  int
		total    float64
	)
	for i, p := range series {
		step := Step{}
		if i > 0 {
			step.Elapsed = p.Time.Sub(series[i-1].Time)
		}
		if p.HasPosition() {
			lat, _ := p.LatDegrees()
			lon, _ := p.LonDegrees()
			cur := LatLng{Lat: lat, Lon: lon}
			step.Located = true
			if havePrev {
				d, _ := m.Between(prev, cur)
				step.Distance = d
				step.Elapsed = p.Time.Sub(prevTime)
			}
			prev, prevTime, havePrev = cur, p.Time, true
			located++
		}
		total += step.Distance
		step.Cumulative = total
		if step.Elapsed > 0 {
			step.SpeedMS = step.Distance / step.Elapsed.Seconds()
			step.SpeedKMH = step.SpeedMS * 3.6
		}
		tr.Steps[i] = step
	}
	if located == 0 {
		return Trace{}, activityindex.ErrMissingCoordinates
	}
	return tr, nil
}

// Length is the 2D length of a series in meters; zero when no point has
// coordinates.
func Length(series activityindex.PointSeries, m Method) (float64, error) {
	tr, err := Compute(series, m)
	if errors.Is(err, activityindex.ErrMissingCoordinates) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return tr.Total(), nil
}
