package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	activityindex "github.com/lucasjlepore/activity-index"
	"github.com/lucasjlepore/activity-index/decode"
	"github.com/lucasjlepore/activity-index/distance"
	"github.com/lucasjlepore/activity-index/store"
	"github.com/lucasjlepore/activity-index/table"
)

// OutputFormat selects the per-activity point file encoding.
type OutputFormat string

const (
	OutputParquet OutputFormat = "parquet"
	OutputJSON    OutputFormat = "json"
)

// IngestOptions configures bulk conversion and indexing.
type IngestOptions struct {
	SourceDir string
	PointsDir string
	IndexPath string

	Method distance.Method
	Format OutputFormat
	// Compress gzips JSON output.
	Compress bool

	Overwrite bool
	Verify    bool
	// Update merges newly converted activities onto the existing index
	// instead of rebuilding it from every point file.
	Update  bool
	Workers int

	Decode decode.Options
	Logger *slog.Logger
}

// Outcome is what happened to one source file.
type Outcome string

const (
	Converted Outcome = "converted"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// FileResult records one source file's conversion.
type FileResult struct {
	File    File
	ID      string
	Output  string
	Outcome Outcome
	Err     error
}

// Report summarizes a bulk run.
type Report struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Files     []FileResult
	Converted int
	Skipped   int
	Failed    int
	// Indexed is the row count of the index written by Index; zero after
	// Convert alone.
	Indexed int
}

// Failures returns the failed file results.
func (r *Report) Failures() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Outcome == Failed {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) tally() {
	r.Converted, r.Skipped, r.Failed = 0, 0, 0
	for _, f := range r.Files {
		switch f.Outcome {
		case Converted:
			r.Converted++
		case Skipped:
			r.Skipped++
		case Failed:
			r.Failed++
		}
	}
}

// Ingester runs bulk conversion and index maintenance.
type Ingester struct {
	opts IngestOptions
	log  *slog.Logger
}

// NewIngester validates opts and fills defaults: haversine, parquet output,
// four workers.
func NewIngester(opts IngestOptions) (*Ingester, error) {
	if opts.Method == "" {
		opts.Method = distance.Haversine
	}
	if _, err := distance.ParseMethod(string(opts.Method)); err != nil {
		return nil, err
	}
	switch opts.Format {
	case "":
		opts.Format = OutputParquet
	case OutputParquet, OutputJSON:
	default:
		return nil, fmt.Errorf("unsupported output format %q (expected parquet|json)", opts.Format)
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if strings.TrimSpace(opts.PointsDir) == "" {
		return nil, fmt.Errorf("points directory is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Decode.Logger == nil {
		opts.Decode.Logger = log
	}
	return &Ingester{opts: opts, log: log.With("component", "index")}, nil
}

// OutputPath is where the point file for id is written.
func (ing *Ingester) OutputPath(id string) string {
	ext := ".parquet"
	if ing.opts.Format == OutputJSON {
		ext = ".json"
		if ing.opts.Compress {
			ext += ".gz"
		}
	}
	return filepath.Join(ing.opts.PointsDir, id+ext)
}

// Convert decodes every importable file under SourceDir into PointsDir.
// Files whose output already exists are skipped unless Overwrite is set, so
// an interrupted run can be repeated. Per-file failures are logged and
// reported; only scan errors and cancellation fail the run.
func (ing *Ingester) Convert(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	log := ing.log.With("run_id", report.RunID)

	files, err := Scan(ing.opts.SourceDir)
	if err != nil {
		return nil, err
	}
	log.Info("conversion started", "source_dir", ing.opts.SourceDir, "files", len(files), "workers", ing.opts.Workers)

	report.Files = make([]FileResult, len(files))
	clash := idClashes(files)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.opts.Workers)
	for i, f := range files {
		id := activityindex.IDFromPath(f.Path)
		if err := gctx.Err(); err != nil {
			report.Files[i] = FileResult{File: f, ID: id, Outcome: Failed, Err: err}
			continue
		}
		if others := clash[id]; len(others) > 1 {
			err := fmt.Errorf("%s: %w", f.Path, &activityindex.DuplicateKeyError{IDs: []string{id}})
			report.Files[i] = FileResult{File: f, ID: id, Outcome: Failed, Err: err}
			log.Warn("skipping file with clashing id", "path", f.Path, "id", id, "sources", others)
			continue
		}
		g.Go(func() error {
			res := ing.convert(gctx, f)
			if res.Outcome == Failed {
				log.Warn("conversion failed", "path", f.Path, "error", res.Err)
			}
			report.Files[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report.tally()
	report.Finished = time.Now()
	log.Info("conversion finished",
		"converted", report.Converted, "skipped", report.Skipped, "failed", report.Failed,
		"elapsed", report.Finished.Sub(report.Started).Round(time.Millisecond))
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// ConvertFile converts a single source file. Unlike Convert, its failures are
// returned to the caller.
func (ing *Ingester) ConvertFile(ctx context.Context, path string) (FileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	kind, _ := decode.KindOf(path)
	res := ing.convert(ctx, File{Path: path, Size: info.Size(), Type: kind.Ext, Kind: kind})
	return res, res.Err
}

func (ing *Ingester) convert(ctx context.Context, f File) FileResult {
	res := FileResult{File: f, ID: activityindex.IDFromPath(f.Path)}
	res.Output = ing.OutputPath(res.ID)
	if err := ctx.Err(); err != nil {
		res.Outcome, res.Err = Failed, err
		return res
	}
	if !ing.opts.Overwrite && store.Exists(res.Output) {
		res.Outcome = Skipped
		return res
	}

	act, err := decode.File(f.Path, ing.opts.Decode)
	if err != nil {
		res.Outcome, res.Err = Failed, err
		return res
	}
	if act.LengthM == 0 {
		if act.LengthM, err = distance.Length(act.Points, ing.opts.Method); err != nil {
			res.Outcome, res.Err = Failed, fmt.Errorf("%s: %w", f.Path, err)
			return res
		}
	}
	res.ID = act.ID
	res.Output = ing.OutputPath(act.ID)

	if err := ing.writePoints(act, res.Output); err != nil {
		if errors.Is(err, os.ErrExist) {
			res.Outcome = Skipped
			return res
		}
		res.Outcome, res.Err = Failed, err
		return res
	}
	res.Outcome = Converted
	return res
}

func (ing *Ingester) writePoints(act *activityindex.Activity, path string) error {
	opts := store.SaveOptions{Overwrite: ing.opts.Overwrite, Verify: ing.opts.Verify}
	if ing.opts.Format == OutputParquet {
		return table.SavePoints(act, path, opts)
	}
	data, err := decode.EncodeJSON(act)
	if err != nil {
		return err
	}
	if ing.opts.Compress {
		if data, err = decode.Gzip(data); err != nil {
			return fmt.Errorf("compress %s: %w", act.ID, err)
		}
	}
	return store.Save(data, path, opts)
}

// Index converts, then writes the index under the index lock. In update mode
// only point files whose id is not yet indexed, or that this run rewrote, are
// read and merged; otherwise the index is rebuilt from every point file.
func (ing *Ingester) Index(ctx context.Context) (*Report, *activityindex.Index, error) {
	report, err := ing.Convert(ctx)
	if err != nil {
		return report, nil, err
	}
	if strings.TrimSpace(ing.opts.IndexPath) == "" {
		return report, nil, fmt.Errorf("index path is required")
	}
	log := ing.log.With("run_id", report.RunID)

	if err := os.MkdirAll(filepath.Dir(ing.opts.IndexPath), 0o755); err != nil {
		return report, nil, fmt.Errorf("create index directory: %w", err)
	}
	unlock, err := store.Lock(ing.opts.IndexPath)
	if err != nil {
		return report, nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warn("release index lock", "error", err)
		}
	}()

	var existing *activityindex.Index
	if ing.opts.Update && store.Exists(ing.opts.IndexPath) {
		if existing, err = table.LoadIndex(ing.opts.IndexPath); err != nil {
			return report, nil, err
		}
	}

	paths, err := PointFiles(ing.opts.PointsDir)
	if err != nil {
		return report, nil, err
	}
	if existing != nil {
		existing = dropConverted(existing, report)
		indexed := make(map[string]struct{}, existing.Len())
		for _, r := range existing.Rows {
			indexed[r.ID] = struct{}{}
		}
		fresh := paths[:0]
		for _, p := range paths {
			if _, ok := indexed[activityindex.IDFromPath(p)]; !ok {
				fresh = append(fresh, p)
			}
		}
		paths = fresh
	}

	acts, err := ing.loadAll(ctx, log, paths)
	if err != nil {
		return report, nil, err
	}
	added, err := Build(acts)
	if err != nil {
		return report, nil, err
	}
	ix := added
	if existing != nil {
		if ix, err = Merge(existing, added); err != nil {
			return report, nil, err
		}
	}

	if err := table.SaveIndex(ix, ing.opts.IndexPath, store.SaveOptions{Overwrite: true, Verify: ing.opts.Verify}); err != nil {
		return report, nil, fmt.Errorf("save index: %w", err)
	}
	report.Indexed = ix.Len()
	log.Info("index written", "path", ing.opts.IndexPath, "rows", ix.Len(), "added", added.Len(), "update", existing != nil)
	return report, ix, nil
}

// dropConverted removes the rows of activities this run converted, so their
// rewritten point files replace them.
func dropConverted(ix *activityindex.Index, report *Report) *activityindex.Index {
	converted := make(map[string]struct{})
	for _, f := range report.Files {
		if f.Outcome == Converted {
			converted[f.ID] = struct{}{}
		}
	}
	if len(converted) == 0 {
		return ix
	}
	kept := make([]activityindex.IndexRow, 0, ix.Len())
	for _, r := range ix.Rows {
		if _, ok := converted[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	return &activityindex.Index{Rows: kept}
}

// loadAll reads point files in parallel. Unreadable files are logged and left
// out of the index.
func (ing *Ingester) loadAll(ctx context.Context, log *slog.Logger, paths []string) ([]*activityindex.Activity, error) {
	loaded := make([]*activityindex.Activity, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.opts.Workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			act, err := LoadActivity(p)
			if err != nil {
				log.Warn("skipping unreadable point file", "path", p, "error", err)
				return nil
			}
			loaded[i] = act
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	acts := loaded[:0]
	for _, act := range loaded {
		if act != nil {
			acts = append(acts, act)
		}
	}
	return acts, nil
}

// PointFiles lists the point files in dir, sorted. A missing directory is
// empty.
func PointFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list point files: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if isPointFile(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func isPointFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".parquet") || strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".json.gz")
}

// LoadActivity reads a point file written by conversion.
func LoadActivity(path string) (*activityindex.Activity, error) {
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		return table.LoadPoints(path)
	}
	return decode.File(path, decode.DefaultOptions())
}

// LoadActivities reads every point file in dir, failing on the first
// unreadable one.
func LoadActivities(dir string) ([]*activityindex.Activity, error) {
	paths, err := PointFiles(dir)
	if err != nil {
		return nil, err
	}
	acts := make([]*activityindex.Activity, 0, len(paths))
	for _, p := range paths {
		act, err := LoadActivity(p)
		if err != nil {
			return nil, err
		}
		acts = append(acts, act)
	}
	return acts, nil
}

// idClashes maps ids shared by more than one source file to those files.
func idClashes(files []File) map[string][]string {
	byID := make(map[string][]string)
	for _, f := range files {
		id := activityindex.IDFromPath(f.Path)
		byID[id] = append(byID[id], f.Path)
	}
	for id, paths := range byID {
		if len(paths) < 2 {
			delete(byID, id)
		}
	}
	return byID
}
