package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	activityindex "github.com/lucasjlepore/activity-index"
	"github.com/lucasjlepore/activity-index/distance"
	"github.com/lucasjlepore/activity-index/table"
)

func ptr[T any](v T) *T { return &v }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gpxFile(start time.Time, lat float64) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1"><trk><type>Running</type><trkseg>`)
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&b, `<trkpt lat="%.6f" lon="8.5400"><ele>410</ele><time>%s</time></trkpt>`,
			lat+float64(i)*0.0002, start.Add(time.Duration(i)*5*time.Second).Format(time.RFC3339))
	}
	b.WriteString(`</trkseg></trk></gpx>`)
	return b.String()
}

const twoTrackGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
<trk><trkseg><trkpt lat="1" lon="1"><time>2024-01-01T00:00:00Z</time></trkpt></trkseg></trk>
<trk><trkseg><trkpt lat="1" lon="1"><time>2024-01-01T00:00:00Z</time></trkpt></trkseg></trk>
</gpx>`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func located(t0 time.Time, sec int, lat, lon int32) activityindex.Point {
	return activityindex.Point{Time: t0.Add(time.Duration(sec) * time.Second), Lat: ptr(lat), Lon: ptr(lon)}
}

func activity(id string, points ...activityindex.Point) *activityindex.Activity {
	act := &activityindex.Activity{Points: points}
	act.ID = id
	act.SourceFormat = activityindex.FormatFIT
	act.FillTimeBounds(points)
	return act
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.FIT"), "fit")
	writeFile(t, filepath.Join(dir, "a.gpx.gz"), "gz")
	writeFile(t, filepath.Join(dir, "nested", "c.json"), "{}")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "archive.gz"), "ignored")

	files, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var got []string
	for _, f := range files {
		rel, _ := filepath.Rel(dir, f.Path)
		got = append(got, rel+" "+f.Type)
	}
	want := []string{"a.gpx.gz .gpx.gz", "b.FIT .fit", filepath.Join("nested", "c.json") + " .json"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scan mismatch (-want +got):\n%s", diff)
	}
	if files[1].Size != 3 {
		t.Fatalf("size = %d, want 3", files[1].Size)
	}

	var report bytes.Buffer
	if err := ScanReport(&report, files); err != nil {
		t.Fatalf("ScanReport: %v", err)
	}
	for _, s := range []string{".gpx.gz", ".fit", ".json", "total", "3 B"} {
		if !strings.Contains(report.String(), s) {
			t.Fatalf("report missing %q:\n%s", s, report.String())
		}
	}
}

func TestBuild(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	a := activity("b",
		located(t0, 0, activityindex.DegreesToSemicircles(10), activityindex.DegreesToSemicircles(20)),
		activityindex.Point{Time: t0.Add(time.Second)},
		located(t0, 2, activityindex.DegreesToSemicircles(12), activityindex.DegreesToSemicircles(22)),
	)
	a.LengthM = 1234
	a.SportMain = "running"
	noGPS := activity("a", activityindex.Point{Time: t0.Add(-time.Hour)})

	ix, err := Build([]*activityindex.Activity{a, noGPS})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ix.Len() != 2 || ix.Rows[0].ID != "a" || ix.Rows[1].ID != "b" {
		t.Fatalf("rows not sorted by start: %+v", ix.Rows)
	}
	row := ix.Rows[1]
	if row.NPoints != 3 || row.Duration != 2*time.Second || row.LengthM != 1234 || row.SportMain != "running" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.MidLat == nil || row.MidLon == nil {
		t.Fatalf("expected mid coordinates")
	}
	if d := *row.MidLat - 11; d > 1e-6 || d < -1e-6 {
		t.Fatalf("mid lat = %f, want 11", *row.MidLat)
	}
	if d := *row.MidLon - 21; d > 1e-6 || d < -1e-6 {
		t.Fatalf("mid lon = %f, want 21", *row.MidLon)
	}
	if ix.Rows[0].MidLat != nil {
		t.Fatalf("activity without coordinates should have no midpoint")
	}

	_, err = Build([]*activityindex.Activity{a, a})
	var de *activityindex.DuplicateKeyError
	if !errors.As(err, &de) || len(de.IDs) != 1 || de.IDs[0] != "b" {
		t.Fatalf("Build duplicate error = %v", err)
	}
}

func TestMergeRejectsDuplicateIDs(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	existing := &activityindex.Index{Rows: []activityindex.IndexRow{{ID: "x", StartTime: t0}, {ID: "y", StartTime: t0.Add(time.Hour)}}}
	added := &activityindex.Index{Rows: []activityindex.IndexRow{{ID: "z", StartTime: t0.Add(-time.Hour)}}}

	merged, err := Merge(existing, added)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Len() != 3 || merged.Rows[0].ID != "z" {
		t.Fatalf("unexpected merge: %+v", merged.Rows)
	}
	if existing.Len() != 2 {
		t.Fatalf("Merge modified its input")
	}

	_, err = Merge(existing, &activityindex.Index{Rows: []activityindex.IndexRow{{ID: "y", StartTime: t0}}})
	var de *activityindex.DuplicateKeyError
	if !errors.As(err, &de) {
		t.Fatalf("Merge error = %v, want *DuplicateKeyError", err)
	}

	merged, err = Merge(nil, added)
	if err != nil || merged.Len() != 1 {
		t.Fatalf("Merge onto empty index: %v %v", merged, err)
	}
}

func TestFindDuplicates(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC)
	points := func() []activityindex.Point {
		return []activityindex.Point{located(t0, 0, 100, 200), located(t0, 1, 110, 210)}
	}
	first := activity("2024-06-01.fit", points()...)
	copyOf := activity("2024-06-01-copy", points()...)
	distinct := activity("other", located(t0, 0, 100, 200), located(t0, 1, 110, 211))

	acts := []*activityindex.Activity{copyOf, distinct, first}
	want := []Pair{{A: "2024-06-01-copy", B: "2024-06-01.fit"}}
	if diff := cmp.Diff(want, FindDuplicates(acts)); diff != "" {
		t.Fatalf("FindDuplicates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, FindDuplicatesByFingerprint(acts)); diff != "" {
		t.Fatalf("FindDuplicatesByFingerprint mismatch (-want +got):\n%s", diff)
	}
	if Fingerprint(first) != Fingerprint(copyOf) {
		t.Fatalf("identical content should share a fingerprint")
	}
	if Fingerprint(first) == Fingerprint(distinct) {
		t.Fatalf("distinct content should not share a fingerprint")
	}
}

func newTestIngester(t *testing.T, root string, mutate func(*IngestOptions)) *Ingester {
	t.Helper()
	opts := IngestOptions{
		SourceDir: filepath.Join(root, "activities"),
		PointsDir: filepath.Join(root, "points_parquet"),
		IndexPath: filepath.Join(root, "activity_index.parquet"),
		Method:    distance.Haversine,
		Verify:    true,
		Workers:   2,
		Logger:    quietLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	ing, err := NewIngester(opts)
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}
	return ing
}

func TestIngesterConvertIsIdempotent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "activities")
	t0 := time.Date(2024, 4, 2, 6, 30, 0, 0, time.UTC)
	writeFile(t, filepath.Join(src, "run-1.gpx"), gpxFile(t0, 47.37))
	writeFile(t, filepath.Join(src, "run-2.gpx"), gpxFile(t0.Add(24*time.Hour), 47.38))
	writeFile(t, filepath.Join(src, "broken.gpx"), twoTrackGPX)

	ing := newTestIngester(t, root, nil)
	report, err := ing.Convert(context.Background())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if report.Converted != 2 || report.Failed != 1 || report.Skipped != 0 {
		t.Fatalf("first run: converted=%d failed=%d skipped=%d", report.Converted, report.Failed, report.Skipped)
	}
	if report.RunID == "" {
		t.Fatalf("missing run id")
	}
	failures := report.Failures()
	if len(failures) != 1 || !errors.Is(failures[0].Err, activityindex.ErrMultipleTracks) {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	act, err := LoadActivity(ing.OutputPath("run-1"))
	if err != nil {
		t.Fatalf("LoadActivity: %v", err)
	}
	if act.NPoints != 4 || act.LengthM <= 0 || act.SportMain != "running" {
		t.Fatalf("unexpected converted activity: %+v", act.Metadata)
	}

	again, err := ing.Convert(context.Background())
	if err != nil {
		t.Fatalf("second Convert: %v", err)
	}
	if again.Converted != 0 || again.Skipped != 2 || again.Failed != 1 {
		t.Fatalf("second run: converted=%d failed=%d skipped=%d", again.Converted, again.Failed, again.Skipped)
	}
	if again.RunID == report.RunID {
		t.Fatalf("run ids should differ between runs")
	}
}

func TestIngesterConvertFilePropagatesErrors(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "activities", "broken.gpx")
	writeFile(t, path, twoTrackGPX)

	ing := newTestIngester(t, root, nil)
	_, err := ing.ConvertFile(context.Background(), path)
	var de *activityindex.DecodeError
	if !errors.As(err, &de) || !errors.Is(err, activityindex.ErrMultipleTracks) {
		t.Fatalf("ConvertFile error = %v, want DecodeError(ErrMultipleTracks)", err)
	}
}

func TestIngesterIndexRebuildAndUpdate(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "activities")
	t0 := time.Date(2024, 4, 2, 6, 30, 0, 0, time.UTC)
	writeFile(t, filepath.Join(src, "run-1.gpx"), gpxFile(t0, 47.37))

	ing := newTestIngester(t, root, nil)
	report, ix, err := ing.Index(context.Background())
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if report.Indexed != 1 || ix.Len() != 1 {
		t.Fatalf("indexed %d rows, want 1", report.Indexed)
	}

	writeFile(t, filepath.Join(src, "run-2.gpx"), gpxFile(t0.Add(-24*time.Hour), 47.38))
	updater := newTestIngester(t, root, func(o *IngestOptions) { o.Update = true })
	_, ix, err = updater.Index(context.Background())
	if err != nil {
		t.Fatalf("update Index: %v", err)
	}
	if ix.Len() != 2 || ix.Rows[0].ID != "run-2" {
		t.Fatalf("unexpected updated index: %+v", ix.Rows)
	}

	onDisk, err := table.LoadIndex(filepath.Join(root, "activity_index.parquet"))
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if diff := cmp.Diff(ix, onDisk); diff != "" {
		t.Fatalf("persisted index differs (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(root, "activity_index.parquet.lock")); !os.IsNotExist(err) {
		t.Fatalf("index lock not released: %v", err)
	}
}

func TestIngesterUpdateWithOverwriteReplacesRows(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "activities")
	t0 := time.Date(2024, 4, 2, 6, 30, 0, 0, time.UTC)
	writeFile(t, filepath.Join(src, "run-1.gpx"), gpxFile(t0, 47.37))
	writeFile(t, filepath.Join(src, "run-2.gpx"), gpxFile(t0.Add(time.Hour), 47.38))
	if _, _, err := newTestIngester(t, root, nil).Index(context.Background()); err != nil {
		t.Fatalf("Index: %v", err)
	}

	moved := t0.Add(48 * time.Hour)
	writeFile(t, filepath.Join(src, "run-1.gpx"), gpxFile(moved, 47.37))
	ing := newTestIngester(t, root, func(o *IngestOptions) {
		o.Update = true
		o.Overwrite = true
	})
	_, ix, err := ing.Index(context.Background())
	if err != nil {
		t.Fatalf("update Index: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("indexed %d rows, want 2", ix.Len())
	}
	row, ok := ix.Find("run-1")
	if !ok || !row.StartTime.Equal(moved) {
		t.Fatalf("run-1 row = %+v, want start %s", row, moved)
	}
	act, err := LoadActivity(ing.OutputPath("run-1"))
	if err != nil {
		t.Fatalf("LoadActivity: %v", err)
	}
	if !act.StartTime.Equal(row.StartTime) || act.NPoints != row.NPoints {
		t.Fatalf("index row %+v does not match points file %+v", row, act.Metadata)
	}
}

func TestIngesterJSONOutput(t *testing.T) {
	root := t.TempDir()
	t0 := time.Date(2024, 4, 2, 6, 30, 0, 0, time.UTC)
	writeFile(t, filepath.Join(root, "activities", "run-1.gpx"), gpxFile(t0, 47.37))

	ing := newTestIngester(t, root, func(o *IngestOptions) {
		o.Format = OutputJSON
		o.Compress = true
		o.PointsDir = filepath.Join(root, "points_json")
	})
	if _, _, err := ing.Index(context.Background()); err != nil {
		t.Fatalf("Index: %v", err)
	}
	out := ing.OutputPath("run-1")
	if !strings.HasSuffix(out, "run-1.json.gz") {
		t.Fatalf("unexpected output path %s", out)
	}
	acts, err := LoadActivities(filepath.Join(root, "points_json"))
	if err != nil {
		t.Fatalf("LoadActivities: %v", err)
	}
	if len(acts) != 1 || acts[0].ID != "run-1" || acts[0].NPoints != 4 {
		t.Fatalf("unexpected activities: %+v", acts)
	}
}

func TestIngesterSkipsClashingIDs(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "activities")
	t0 := time.Date(2024, 4, 2, 6, 30, 0, 0, time.UTC)
	writeFile(t, filepath.Join(src, "same.gpx"), gpxFile(t0, 47.37))
	writeFile(t, filepath.Join(src, "nested", "same.gpx"), gpxFile(t0, 47.39))

	report, err := newTestIngester(t, root, nil).Convert(context.Background())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if report.Failed != 2 {
		t.Fatalf("failed = %d, want 2", report.Failed)
	}
	var de *activityindex.DuplicateKeyError
	if !errors.As(report.Files[0].Err, &de) {
		t.Fatalf("error = %v, want *DuplicateKeyError", report.Files[0].Err)
	}
}

func TestNewIngesterRejectsBadOptions(t *testing.T) {
	if _, err := NewIngester(IngestOptions{PointsDir: "p", Method: "vincenty"}); !errors.Is(err, activityindex.ErrUnsupportedMethod) {
		t.Fatalf("method error = %v", err)
	}
	if _, err := NewIngester(IngestOptions{PointsDir: "p", Format: "csv"}); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := NewIngester(IngestOptions{}); err == nil {
		t.Fatalf("expected points dir error")
	}
}
