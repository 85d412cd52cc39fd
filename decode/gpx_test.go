package decode

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	activityindex "github.com/lucasjlepore/activity-index"
)

const gpxHeader = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">`

func gpxDoc(tracks ...string) string {
	return gpxHeader + strings.Join(tracks, "") + "</gpx>"
}

func gpxTrack(segments ...string) string {
	return `<trk><name>Morning Ride</name><cmt>windy</cmt><desc>loop</desc><src>watch</src><type>Cycling</type>` +
		strings.Join(segments, "") + `</trk>`
}

const gpxSegment = `<trkseg>
<trkpt lat="47.6062" lon="-122.3321"><ele>56.0</ele><time>2024-05-04T07:00:00Z</time></trkpt>
<trkpt lat="47.6067" lon="-122.3321"><ele>57.5</ele><time>2024-05-04T07:00:05Z</time></trkpt>
<trkpt lat="47.6072" lon="-122.3321"><time>2024-05-04T07:00:10Z</time></trkpt>
</trkseg>`

func TestDecodeGPX(t *testing.T) {
	act, err := Bytes("2024-05-04-ride.gpx", []byte(gpxDoc(gpxTrack(gpxSegment))), DefaultOptions())
	if err != nil {
		t.Fatalf("Bytes error: %v", err)
	}

	if act.ID != "2024-05-04-ride" || act.SourceFormat != activityindex.FormatGPX {
		t.Fatalf("unexpected identity: %q %q", act.ID, act.SourceFormat)
	}
	wantTrack := &activityindex.TrackInfo{Name: "Morning Ride", Description: "loop", Comment: "windy", Type: "Cycling", Source: "watch"}
	if diff := cmp.Diff(wantTrack, act.Track); diff != "" {
		t.Fatalf("track info mismatch (-want +got):\n%s", diff)
	}
	if act.SportMain != "cycling" {
		t.Fatalf("sport main = %q, want cycling", act.SportMain)
	}
	if act.NPoints != 3 || act.Duration != 10*time.Second {
		t.Fatalf("unexpected n_points=%d duration=%s", act.NPoints, act.Duration)
	}
	// Two ~55.6 m steps north.
	if act.LengthM < 100 || act.LengthM > 120 {
		t.Fatalf("unexpected 2D length: %.2f", act.LengthM)
	}
	if act.Length3DM == nil || *act.Length3DM <= 0 {
		t.Fatalf("unexpected 3D length: %v", act.Length3DM)
	}

	first := act.Points[0]
	lat, _ := first.LatDegrees()
	if diff := lat - 47.6062; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("unexpected latitude %.7f", lat)
	}
	if first.Elevation == nil || *first.Elevation != 56 {
		t.Fatalf("unexpected elevation: %v", first.Elevation)
	}
	if act.Points[2].Elevation != nil {
		t.Fatalf("expected absent elevation on last point")
	}
}

func TestDecodeGPXTrackShape(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{name: "no tracks", doc: gpxDoc(), want: activityindex.ErrNoTracks},
		{name: "two tracks", doc: gpxDoc(gpxTrack(gpxSegment), gpxTrack(gpxSegment)), want: activityindex.ErrMultipleTracks},
		{name: "no segments", doc: gpxDoc(gpxTrack()), want: activityindex.ErrNoSegments},
		{name: "two segments", doc: gpxDoc(gpxTrack(gpxSegment, gpxSegment)), want: activityindex.ErrMultipleSegments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bytes("shape.gpx", []byte(tt.doc), DefaultOptions())
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeCompressedGPXFile(t *testing.T) {
	packed, err := Gzip([]byte(gpxDoc(gpxTrack(gpxSegment))))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	path := filepath.Join(t.TempDir(), "walk.gpx.gz")
	if err := os.WriteFile(path, packed, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	act, err := File(path, DefaultOptions())
	if err != nil {
		t.Fatalf("File error: %v", err)
	}
	if act.ID != "walk" || act.NPoints != 3 {
		t.Fatalf("unexpected activity id=%q n=%d", act.ID, act.NPoints)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	act, err := Bytes("ride.gpx", []byte(gpxDoc(gpxTrack(gpxSegment))), DefaultOptions())
	if err != nil {
		t.Fatalf("Bytes error: %v", err)
	}

	data, err := EncodeJSON(act)
	if err != nil {
		t.Fatalf("EncodeJSON error: %v", err)
	}
	back, err := Bytes("ride.json", data, DefaultOptions())
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if diff := cmp.Diff(act, back); diff != "" {
		t.Fatalf("json round trip mismatch (-want +got):\n%s", diff)
	}
}
