package stats

import (
	"fmt"
	"math"
	"strings"
)

// Notes renders a short human readable session summary.
func Notes(s *Stats) string {
	if s == nil {
		return ""
	}
	var b strings.Builder

	sport := s.Sport
	if sport == "" {
		sport = "activity"
	}
	if s.SubSport != "" {
		fmt.Fprintf(&b, "Session: %s (%s)\n", sport, s.SubSport)
	} else {
		fmt.Fprintf(&b, "Session: %s\n", sport)
	}
	if !s.Start.IsZero() {
		fmt.Fprintf(&b, "Start: %s\n", s.Start.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(
		&b,
		"Duration %s (moving %s) | Distance %.1f km | Elevation +%.0f/-%.0f m\n",
		formatDuration(s.ElapsedSeconds),
		formatDuration(s.MovingSeconds),
		s.DistanceMeters/1000.0,
		s.ElevationGainM,
		s.ElevationLossM,
	)
	if s.MaxHeartRate > 0 {
		fmt.Fprintf(&b, "HR %.0f avg / %.0f max bpm\n", s.AvgHeartRate, s.MaxHeartRate)
	}
	if s.MaxSpeedMps > 0 {
		fmt.Fprintf(&b, "Speed %.1f avg / %.1f max km/h", mpsToKmh(s.AvgSpeedMps), mpsToKmh(s.MaxSpeedMps))
		if pace := paceMinPerKM(s.AvgSpeedMps); pace != "" {
			fmt.Fprintf(&b, " | Pace %s /km", pace)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	s := int(math.Round(seconds))
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}

func mpsToKmh(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v * 3.6
}

func paceMinPerKM(mps float64) string {
	if mps <= 0 {
		return ""
	}
	secPerKM := int(math.Round(1000 / mps))
	return fmt.Sprintf("%d:%02d", secPerKM/60, secPerKM%60)
}
