// Package index builds and maintains the ActivityIndex: scanning source
// folders, bulk conversion into per-activity point tables, index assembly
// and merge, and duplicate detection.
package index

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/lucasjlepore/activity-index/decode"
)

// File is one importable file found by Scan.
type File struct {
	Path string
	Size int64
	Type string // matched extension, e.g. ".fit.gz"
	Kind decode.Kind
}

// Scan walks folder recursively and returns every file with a recognized
// activity extension, sorted by path.
func Scan(folder string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		kind, ok := decode.KindOf(d.Name())
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, File{Path: path, Size: info.Size(), Type: kind.Ext, Kind: kind})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", folder, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// TypeCount aggregates scanned files of one type.
type TypeCount struct {
	Type  string
	Count int
	Bytes int64
}

// CountByType groups files by Type in the order of decode.Kinds.
func CountByType(files []File) []TypeCount {
	byType := make(map[string]*TypeCount)
	for _, f := range files {
		tc, ok := byType[f.Type]
		if !ok {
			tc = &TypeCount{Type: f.Type}
			byType[f.Type] = tc
		}
		tc.Count++
		tc.Bytes += f.Size
	}
	out := make([]TypeCount, 0, len(byType))
	for _, k := range decode.Kinds {
		if tc, ok := byType[k.Ext]; ok {
			out = append(out, *tc)
		}
	}
	return out
}

// ScanReport writes a per-type table of counts and sizes.
func ScanReport(w io.Writer, files []File) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tFILES\tSIZE")
	var total int64
	for _, tc := range CountByType(files) {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", tc.Type, tc.Count, humanize.Bytes(uint64(tc.Bytes)))
		total += tc.Bytes
	}
	fmt.Fprintf(tw, "total\t%d\t%s\n", len(files), humanize.Bytes(uint64(total)))
	return tw.Flush()
}
