package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	activityindex "github.com/lucasjlepore/activity-index"
	"github.com/lucasjlepore/activity-index/config"
	"github.com/lucasjlepore/activity-index/decode"
	"github.com/lucasjlepore/activity-index/distance"
	"github.com/lucasjlepore/activity-index/index"
	"github.com/lucasjlepore/activity-index/settings"
	"github.com/lucasjlepore/activity-index/stats"
	"github.com/lucasjlepore/activity-index/summary"
	"github.com/lucasjlepore/activity-index/table"
)

// errUsage marks command line mistakes, reported with exit status 2.
var errUsage = errors.New("usage")

const usage = `Usage: %s [-config file] <command> [flags]

Commands:
  scan        list importable files in the source directory
  decode      decode one activity file and print its metadata
  convert     convert source files into per-activity point tables
  index       convert, then rebuild or update the activity index
  summary     summarize the index by day, week, month or year
  eddington   print the Eddington number (km per day)
  dupes       list activities with identical content
  settings    list, get or set boolean preferences
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type app struct {
	cfg    config.Config
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	prog := filepath.Base(os.Args[0])
	global := flag.NewFlagSet(prog, flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv("ACTINDEX_CONFIG"), "Config file (json, yaml or toml)")
	global.Usage = func() {
		fmt.Fprintf(stderr, usage, prog)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() < 1 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	level, _ := cfg.Level()
	a := &app{
		cfg:    cfg,
		out:    stdout,
		errOut: stderr,
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
	}

	commands := map[string]func(context.Context, []string) error{
		"scan":      a.scan,
		"decode":    a.decode,
		"convert":   a.convert,
		"index":     a.index,
		"summary":   a.summary,
		"eddington": a.eddington,
		"dupes":     a.dupes,
		"settings":  a.settings,
	}
	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		global.Usage()
		return 2
	}
	if err := cmd(ctx, global.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			if !errors.Is(err, flag.ErrHelp) {
				fmt.Fprintf(stderr, "%s: %v\n", name, err)
			}
			return 2
		}
		fmt.Fprintf(stderr, "%s failed: %v\n", name, err)
		return 1
	}
	return 0
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func (a *app) scan(_ context.Context, args []string) error {
	fs := a.flags("scan")
	dir := fs.String("dir", a.cfg.SourceDir, "Folder to scan")
	list := fs.Bool("list", false, "List every file")
	if err := parse(fs, args); err != nil {
		return err
	}
	files, err := index.Scan(*dir)
	if err != nil {
		return err
	}
	if *list {
		for _, f := range files {
			fmt.Fprintf(a.out, "%-8s %10s  %s\n", f.Type, humanize.Bytes(uint64(f.Size)), f.Path)
		}
		fmt.Fprintln(a.out)
	}
	return index.ScanReport(a.out, files)
}

func (a *app) decode(_ context.Context, args []string) error {
	fs := a.flags("decode")
	noVerify := fs.Bool("no-verify", false, "Skip the FIT checksum check")
	asJSON := fs.Bool("json", false, "Print the full activity as JSON")
	method := fs.String("method", a.cfg.DistanceMethod, "Distance method: haversine|small_angle")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: decode takes one file", errUsage)
	}
	m, err := distance.ParseMethod(*method)
	if err != nil {
		return err
	}
	act, err := decode.File(fs.Arg(0), decode.Options{VerifyChecksum: !*noVerify, Logger: a.logger})
	if err != nil {
		return err
	}
	if act.LengthM == 0 {
		if act.LengthM, err = distance.Length(act.Points, m); err != nil {
			return err
		}
	}
	if *asJSON {
		data, err := decode.EncodeJSON(act)
		if err != nil {
			return err
		}
		_, err = a.out.Write(data)
		return err
	}
	st, err := stats.Compute(act, m)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (%s, %d points)\n", act.ID, act.SourceFormat, act.NPoints)
	fmt.Fprint(a.out, stats.Notes(st))
	return nil
}

// preferences reads the settings store, falling back to config values when it
// cannot be opened.
func (a *app) preferences() (verify, update bool) {
	verify = a.cfg.Verify
	s, err := settings.Open(a.cfg.SettingsPath)
	if err != nil {
		a.logger.Warn("settings unavailable, using config", "path", a.cfg.SettingsPath, "error", err)
		return verify, false
	}
	defer s.Close()
	if v, err := s.Bool(settings.KeyVerifyWrites, verify); err == nil {
		verify = v
	}
	if v, err := s.Bool(settings.KeyUpdateIndex, false); err == nil {
		update = v
	}
	return verify, update
}

type ingestFlags struct {
	overwrite *bool
	format    *string
	gzip      *bool
	workers   *int
}

func (a *app) ingestFlags(fs *flag.FlagSet) ingestFlags {
	return ingestFlags{
		overwrite: fs.Bool("overwrite", false, "Replace existing point files"),
		format:    fs.String("format", string(index.OutputParquet), "Point file format: parquet|json"),
		gzip:      fs.Bool("gzip", false, "Compress json point files"),
		workers:   fs.Int("workers", a.cfg.Workers, "Parallel conversions"),
	}
}

func (a *app) ingester(f ingestFlags, update bool) (*index.Ingester, error) {
	verify, prefUpdate := a.preferences()
	method, err := a.cfg.Method()
	if err != nil {
		return nil, err
	}
	return index.NewIngester(index.IngestOptions{
		SourceDir: a.cfg.SourceDir,
		PointsDir: a.cfg.PointsDir,
		IndexPath: a.cfg.IndexPath,
		Method:    method,
		Format:    index.OutputFormat(*f.format),
		Compress:  *f.gzip,
		Overwrite: *f.overwrite,
		Verify:    verify,
		Update:    update || prefUpdate,
		Workers:   *f.workers,
		Decode:    decode.Options{VerifyChecksum: true, Logger: a.logger},
		Logger:    a.logger,
	})
}

func (a *app) printReport(r *index.Report) {
	fmt.Fprintf(a.out, "run %s: %d converted, %d skipped, %d failed\n", r.RunID, r.Converted, r.Skipped, r.Failed)
	for _, f := range r.Failures() {
		fmt.Fprintf(a.out, "  failed %s: %v\n", f.File.Path, f.Err)
	}
}

func (a *app) convert(ctx context.Context, args []string) error {
	fs := a.flags("convert")
	f := a.ingestFlags(fs)
	file := fs.String("file", "", "Convert a single file; errors are fatal")
	if err := parse(fs, args); err != nil {
		return err
	}
	ing, err := a.ingester(f, false)
	if err != nil {
		return err
	}
	if *file != "" {
		res, err := ing.ConvertFile(ctx, *file)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s -> %s\n", res.Outcome, *file, res.Output)
		return nil
	}
	report, err := ing.Convert(ctx)
	if report != nil {
		a.printReport(report)
	}
	return err
}

func (a *app) index(ctx context.Context, args []string) error {
	fs := a.flags("index")
	f := a.ingestFlags(fs)
	update := fs.Bool("update", false, "Merge new activities onto the existing index")
	if err := parse(fs, args); err != nil {
		return err
	}
	ing, err := a.ingester(f, *update)
	if err != nil {
		return err
	}
	report, ix, err := ing.Index(ctx)
	if report != nil {
		a.printReport(report)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "index %s: %d activities\n", a.cfg.IndexPath, ix.Len())
	return nil
}

func (a *app) loadIndex() (*activityindex.Index, error) {
	return table.LoadIndex(a.cfg.IndexPath)
}

func (a *app) summary(_ context.Context, args []string) error {
	fs := a.flags("summary")
	interval := fs.String("interval", "month", "day|week|month|year")
	sport := fs.String("sport", "", "Only this sport")
	perSport := fs.Bool("per-sport", false, "One table per sport")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	iv, err := summary.ParseInterval(*interval)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	ix, err := a.loadIndex()
	if err != nil {
		return err
	}

	var out []*summary.Summary
	if *perSport {
		if out, err = summary.BySport(ix.Rows, iv, loc); err != nil {
			return err
		}
	} else {
		s, err := summary.ByInterval(summary.FilterSport(ix.Rows, *sport), iv, loc)
		if err != nil {
			return err
		}
		s.Sport = *sport
		out = append(out, s)
	}

	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if total := summary.Totals(summary.FilterSport(ix.Rows, *sport)); total.Count > 0 {
		fmt.Fprintf(a.out, "%d activities, %.1f km, %s since %s\n\n",
			total.Count, total.LengthM/1000, total.Duration.Round(time.Minute), total.First.In(loc).Format("2006-01-02"))
	}
	for _, s := range out {
		if s.Sport != "" {
			fmt.Fprintf(a.out, "%s\n", s.Sport)
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "PERIOD\tCOUNT\tKM\tDURATION\t")
		for _, b := range s.Rows {
			fmt.Fprintf(tw, "%s\t%d\t%.1f\t%s\t\n", b.Label, b.Count, b.TotalLengthM/1000, b.TotalDuration.Round(time.Minute))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(a.out)
	}
	return nil
}

func (a *app) eddington(_ context.Context, args []string) error {
	fs := a.flags("eddington")
	sport := fs.String("sport", "", "Only this sport")
	if err := parse(fs, args); err != nil {
		return err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	ix, err := a.loadIndex()
	if err != nil {
		return err
	}
	rows := summary.FilterSport(ix.Rows, *sport)
	e := summary.EddingtonFromIndex(rows, loc)
	fmt.Fprintf(a.out, "Eddington number: %d (%d days with activity)\n", e, len(summary.DailyDistancesKM(rows, loc)))
	return nil
}

func (a *app) dupes(_ context.Context, args []string) error {
	fs := a.flags("dupes")
	exhaustive := fs.Bool("exhaustive", false, "Compare every pair instead of bucketing by fingerprint")
	if err := parse(fs, args); err != nil {
		return err
	}
	acts, err := index.LoadActivities(a.cfg.PointsDir)
	if err != nil {
		return err
	}
	var pairs []index.Pair
	if *exhaustive {
		pairs = index.FindDuplicates(acts)
	} else {
		pairs = index.FindDuplicatesByFingerprint(acts)
	}
	for _, p := range pairs {
		fmt.Fprintf(a.out, "%s\t%s\n", p.A, p.B)
	}
	fmt.Fprintf(a.out, "%d duplicate pairs among %d activities\n", len(pairs), len(acts))
	return nil
}

func (a *app) settings(_ context.Context, args []string) error {
	fs := a.flags("settings")
	if err := parse(fs, args); err != nil {
		return err
	}
	s, err := settings.Open(a.cfg.SettingsPath)
	if err != nil {
		return err
	}
	defer s.Close()

	rest := fs.Args()
	if len(rest) == 0 {
		rest = []string{"list"}
	}
	switch rest[0] {
	case "list":
		data, err := s.ExportJSON()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s\n", data)
	case "get":
		if len(rest) != 2 {
			return fmt.Errorf("%w: settings get <key>", errUsage)
		}
		v, err := s.Bool(rest[1], false)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, v)
	case "set":
		if len(rest) != 3 {
			return fmt.Errorf("%w: settings set <key> <true|false>", errUsage)
		}
		v, err := strconv.ParseBool(rest[2])
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return s.Set(rest[1], v)
	case "unset":
		if len(rest) != 2 {
			return fmt.Errorf("%w: settings unset <key>", errUsage)
		}
		return s.Delete(rest[1])
	case "import":
		if len(rest) != 2 {
			return fmt.Errorf("%w: settings import <file.json>", errUsage)
		}
		data, err := os.ReadFile(rest[1])
		if err != nil {
			return err
		}
		n, err := s.ImportJSON(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "imported %d settings\n", n)
	default:
		return fmt.Errorf("%w: unknown settings action %q", errUsage, rest[0])
	}
	return nil
}
