// Package decode turns FIT, GPX and JSON activity files (optionally gzip
// compressed) into canonical activities.
package decode

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	activityindex "github.com/lucasjlepore/activity-index"
)

// Kind is one importable file type, matched by extension.
type Kind struct {
	Ext        string
	Format     activityindex.SourceFormat
	Compressed bool
}

// Kinds lists the importable file types. Longer extensions come first so
// ".gpx.gz" is not mistaken for ".gz".
var Kinds = []Kind{
	{Ext: ".gpx.gz", Format: activityindex.FormatGPX, Compressed: true},
	{Ext: ".fit.gz", Format: activityindex.FormatFIT, Compressed: true},
	{Ext: ".json.gz", Format: activityindex.FormatJSON, Compressed: true},
	{Ext: ".gpx", Format: activityindex.FormatGPX},
	{Ext: ".fit", Format: activityindex.FormatFIT},
	{Ext: ".json", Format: activityindex.FormatJSON},
}

// KindOf matches a file name against Kinds, ignoring case.
func KindOf(name string) (Kind, bool) {
	lower := strings.ToLower(name)
	for _, k := range Kinds {
		if strings.HasSuffix(lower, k.Ext) {
			return k, true
		}
	}
	return Kind{}, false
}

// Options configures decoding.
type Options struct {
	// VerifyChecksum rejects FIT files whose CRC does not match.
	VerifyChecksum bool
	Logger         *slog.Logger
}

// DefaultOptions verifies checksums and logs through slog.Default.
func DefaultOptions() Options {
	return Options{VerifyChecksum: true}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// File reads and decodes one activity file.
func File(path string, opts Options) (*activityindex.Activity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read activity file: %w", err)
	}
	return Bytes(path, data, opts)
}

// Bytes decodes an activity from memory. name supplies the id and, through
// its extension, the format; unknown extensions are sniffed from content.
func Bytes(name string, data []byte, opts Options) (*activityindex.Activity, error) {
	kind, ok := KindOf(name)
	if !ok {
		kind, ok = sniff(data)
		if !ok {
			return nil, &activityindex.DecodeError{Path: name, Offset: 0, Err: activityindex.ErrUnknownFormat}
		}
	}

	if kind.Compressed || isGzip(data) {
		inflated, err := gunzip(data)
		if err != nil {
			return nil, &activityindex.DecodeError{Path: name, Offset: 0, Err: fmt.Errorf("%w: gzip: %v", activityindex.ErrMalformedFrame, err)}
		}
		data = inflated
	}

	var (
		act      *activityindex.Activity
		warnings []string
		err      error
	)
	switch kind.Format {
	case activityindex.FormatFIT:
		act, warnings, err = decodeFIT(name, data, opts.VerifyChecksum)
	case activityindex.FormatGPX:
		act, err = decodeGPX(name, data)
	case activityindex.FormatJSON:
		act, err = decodeJSON(name, data)
	}
	if err != nil {
		return nil, err
	}

	log := opts.logger().With("component", "decode")
	for _, w := range warnings {
		log.Warn("decode warning", "path", name, "warning", w)
	}
	log.Debug("decoded activity", "path", name, "id", act.ID, "format", act.SourceFormat, "points", act.NPoints)
	return act, nil
}

// sniff identifies content by its leading bytes.
func sniff(data []byte) (Kind, bool) {
	compressed := false
	if isGzip(data) {
		inflated, err := gunzip(data)
		if err != nil {
			return Kind{}, false
		}
		data, compressed = inflated, true
	}

	var k Kind
	trimmed := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	switch {
	case len(data) >= headerSizeNoCRC && string(data[8:12]) == ".FIT":
		k = Kind{Ext: ".fit", Format: activityindex.FormatFIT}
	case len(trimmed) > 0 && trimmed[0] == '<':
		k = Kind{Ext: ".gpx", Format: activityindex.FormatGPX}
	case len(trimmed) > 0 && trimmed[0] == '{':
		k = Kind{Ext: ".json", Format: activityindex.FormatJSON}
	default:
		return Kind{}, false
	}
	if compressed {
		k.Ext += ".gz"
		k.Compressed = true
	}
	return k, true
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Gzip compresses a payload for the .gz output variants.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
