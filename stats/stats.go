// Package stats derives per-activity statistics and a plain text session
// summary from a decoded point series.
package stats

import (
	"errors"
	"math"
	"time"

	activityindex "github.com/lucasjlepore/activity-index"
	"github.com/lucasjlepore/activity-index/distance"
)

// movingSpeedMS is the speed below which a step counts as stopped.
const movingSpeedMS = 0.5

// Stats summarizes one activity.
type Stats struct {
	ID       string    `json:"id"`
	Sport    string    `json:"sport,omitempty"`
	SubSport string    `json:"sub_sport,omitempty"`
	Start    time.Time `json:"start_time"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	MovingSeconds  float64 `json:"moving_seconds"`
	DistanceMeters float64 `json:"distance_m"`
	ElevationGainM float64 `json:"elevation_gain_m"`
	ElevationLossM float64 `json:"elevation_loss_m"`

	AvgHeartRate float64 `json:"avg_heart_rate"`
	MaxHeartRate float64 `json:"max_heart_rate"`
	AvgSpeedMps  float64 `json:"avg_speed_mps"`
	MaxSpeedMps  float64 `json:"max_speed_mps"`
}

// Compute walks the series once. Recorded speeds are preferred; without
// them speeds come from the distance trace.
func Compute(act *activityindex.Activity, m distance.Method) (*Stats, error) {
	s := &Stats{
		ID:       act.ID,
		Sport:    act.SportMain,
		SubSport: act.SportSub,
		Start:    act.StartTime,
	}
	if len(act.Points) == 0 {
		return s, nil
	}
	s.ElapsedSeconds = act.Points[len(act.Points)-1].Time.Sub(act.Points[0].Time).Seconds()

	trace, err := distance.Compute(act.Points, m)
	haveTrace := err == nil
	if err != nil && !errors.Is(err, activityindex.ErrMissingCoordinates) {
		return nil, err
	}
	if haveTrace {
		s.DistanceMeters = trace.Total()
	} else {
		s.DistanceMeters = act.LengthM
	}

	var (
		hr, speeds []float64
		lastEle    *float64
	)
	for i, p := range act.Points {
		if p.HeartRate != nil {
			hr = append(hr, float64(*p.HeartRate))
		}
		if p.Elevation != nil {
			if lastEle != nil {
				if d := *p.Elevation - *lastEle; d > 0 {
					s.ElevationGainM += d
				} else {
					s.ElevationLossM -= d
				}
			}
			lastEle = p.Elevation
		}

		speed := math.NaN()
		switch {
		case p.Speed != nil:
			speed = *p.Speed
		case haveTrace && i > 0 && trace.Steps[i].Located:
			speed = trace.Steps[i].SpeedMS
		}
		if isFinite(speed) {
			speeds = append(speeds, speed)
		}
		if i > 0 && isFinite(speed) && speed >= movingSpeedMS {
			s.MovingSeconds += p.Time.Sub(act.Points[i-1].Time).Seconds()
		}
	}

	s.AvgHeartRate = average(hr)
	s.MaxHeartRate = maxValue(hr)
	s.MaxSpeedMps = maxValue(speeds)
	if s.MovingSeconds > 0 && s.DistanceMeters > 0 {
		s.AvgSpeedMps = s.DistanceMeters / s.MovingSeconds
	} else {
		s.AvgSpeedMps = average(speeds)
	}
	return s, nil
}

func average(values []float64) float64 {
	total := 0.0
	count := 0
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		total += v
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func maxValue(values []float64) float64 {
	max := 0.0
	found := false
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
