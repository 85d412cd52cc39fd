package table

import (
	"errors"
	"fmt"
	"math"
	"time"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	activityindex "github.com/lucasjlepore/activity-index"
	"github.com/lucasjlepore/activity-index/store"
)

type indexParquetRow struct {
	ID           string   `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	NPoints      int64    `parquet:"name=n_points, type=INT64"`
	StartTime    int64    `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	EndTime      *int64   `parquet:"name=end_time, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`
	Duration     *float64 `parquet:"name=duration, type=DOUBLE, repetitiontype=OPTIONAL"`
	Length       *float64 `parquet:"name=length, type=DOUBLE, repetitiontype=OPTIONAL"`
	MidLat       *float64 `parquet:"name=mid_lat, type=DOUBLE, repetitiontype=OPTIONAL"`
	MidLon       *float64 `parquet:"name=mid_lon, type=DOUBLE, repetitiontype=OPTIONAL"`
	SportMain    *string  `parquet:"name=sport_main, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SportSub     *string  `parquet:"name=sport_sub, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SourceFormat *string  `parquet:"name=source_format, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// requiredColumns must be present with a physical type for an index to load.
var requiredColumns = []struct {
	name  string
	types []parquet.Type
}{
	{"id", []parquet.Type{parquet.Type_BYTE_ARRAY}},
	{"n_points", []parquet.Type{parquet.Type_INT64, parquet.Type_INT32}},
	{"start_time", []parquet.Type{parquet.Type_INT64}},
}

// MarshalIndex encodes the ActivityIndex table.
func MarshalIndex(ix *activityindex.Index) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(indexParquetRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range ix.Rows {
		end := r.EndTime.UnixMicro()
		duration := r.Duration.Seconds()
		length := r.LengthM
		row := indexParquetRow{
			ID:           r.ID,
			NPoints:      int64(r.NPoints),
			StartTime:    r.StartTime.UnixMicro(),
			EndTime:      &end,
			Duration:     &duration,
			Length:       &length,
			MidLat:       r.MidLat,
			MidLon:       r.MidLon,
			SportMain:    optionalString(r.SportMain),
			SportSub:     optionalString(r.SportSub),
			SourceFormat: optionalString(string(r.SourceFormat)),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

// UnmarshalIndex decodes an index table. Required columns are checked against
// the footer schema before any row is read; optional columns that are absent
// load as zero values.
func UnmarshalIndex(data []byte) (*activityindex.Index, error) {
	fr := parquetbuffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetColumnReader(fr, 4)
	if err != nil {
		return nil, fmt.Errorf("open index table: %w", err)
	}
	defer pr.ReadStop()

	// The reader renames footer elements to Go field names; the schema
	// handler keeps the names the file was written with.
	schema := make(map[string]*parquet.SchemaElement, len(pr.Footer.Schema))
	for i, el := range pr.Footer.Schema {
		if i == 0 || el == nil || i >= len(pr.SchemaHandler.Infos) {
			continue // root
		}
		schema[pr.SchemaHandler.GetExName(i)] = el
	}
	root := pr.SchemaHandler.GetRootExName()
	for _, col := range requiredColumns {
		if err := checkRequired(schema[col.name], col.name, col.types); err != nil {
			return nil, err
		}
	}

	n := pr.GetNumRows()
	rows := make([]activityindex.IndexRow, n)
	column := func(name string) ([]interface{}, error) {
		if _, ok := schema[name]; !ok || n == 0 {
			return nil, nil
		}
		values, _, _, err := pr.ReadColumnByPath(common.ReformPathStr(root+"."+name), n)
		if err != nil {
			return nil, fmt.Errorf("read column %s: %w", name, err)
		}
		return values, nil
	}

	ids, err := column("id")
	if err != nil {
		return nil, err
	}
	counts, err := column("n_points")
	if err != nil {
		return nil, err
	}
	starts, err := column("start_time")
	if err != nil {
		return nil, err
	}
	for i := range rows {
		id, _ := at(ids, i).(string)
		if id == "" {
			return nil, &activityindex.ValidationError{Column: "id", Reason: fmt.Sprintf("is null at row %d", i)}
		}
		count, ok := asInt64(at(counts, i))
		if !ok {
			return nil, &activityindex.ValidationError{Column: "n_points", Reason: fmt.Sprintf("is null at row %d", i)}
		}
		start, ok := asTime(at(starts, i), schema["start_time"])
		if !ok {
			return nil, &activityindex.ValidationError{Column: "start_time", Reason: fmt.Sprintf("is null at row %d", i)}
		}
		rows[i] = activityindex.IndexRow{ID: id, NPoints: int(count), StartTime: start}
	}

	optional := []struct {
		name  string
		apply func(r *activityindex.IndexRow, v interface{})
	}{
		{"end_time", func(r *activityindex.IndexRow, v interface{}) {
			if t, ok := asTime(v, schema["end_time"]); ok {
				r.EndTime = t
			}
		}},
		{"duration", func(r *activityindex.IndexRow, v interface{}) {
			if f, ok := asFloat(v); ok {
				r.Duration = time.Duration(math.Round(f * float64(time.Second)))
			}
		}},
		{"length", func(r *activityindex.IndexRow, v interface{}) {
			if f, ok := asFloat(v); ok {
				r.LengthM = f
			}
		}},
		{"mid_lat", func(r *activityindex.IndexRow, v interface{}) {
			if f, ok := asFloat(v); ok {
				r.MidLat = &f
			}
		}},
		{"mid_lon", func(r *activityindex.IndexRow, v interface{}) {
			if f, ok := asFloat(v); ok {
				r.MidLon = &f
			}
		}},
		{"sport_main", func(r *activityindex.IndexRow, v interface{}) {
			r.SportMain, _ = v.(string)
		}},
		{"sport_sub", func(r *activityindex.IndexRow, v interface{}) {
			r.SportSub, _ = v.(string)
		}},
		{"source_format", func(r *activityindex.IndexRow, v interface{}) {
			s, _ := v.(string)
			r.SourceFormat = activityindex.SourceFormat(s)
		}},
	}
	for _, col := range optional {
		values, err := column(col.name)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if v := at(values, i); v != nil {
				col.apply(&rows[i], v)
			}
		}
	}
	for i := range rows {
		r := &rows[i]
		if r.EndTime.IsZero() {
			r.EndTime = r.StartTime.Add(r.Duration)
		}
		if r.Duration == 0 {
			r.Duration = r.EndTime.Sub(r.StartTime)
		}
	}

	ix := &activityindex.Index{Rows: rows}
	if dups := activityindex.DuplicateIDs(rows); len(dups) > 0 {
		return nil, &activityindex.DuplicateKeyError{IDs: dups}
	}
	return ix, nil
}

// SaveIndex writes the index through store.Save.
func SaveIndex(ix *activityindex.Index, path string, opts store.SaveOptions) error {
	data, err := MarshalIndex(ix)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return store.Save(data, path, opts)
}

// LoadIndex reads and validates an index file.
func LoadIndex(path string) (*activityindex.Index, error) {
	data, err := store.Load(path)
	if err != nil {
		return nil, err
	}
	ix, err := UnmarshalIndex(data)
	if err != nil {
		var ve *activityindex.ValidationError
		if errors.As(err, &ve) {
			ve.Path = path
			return nil, ve
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ix, nil
}

func checkRequired(el *parquet.SchemaElement, name string, types []parquet.Type) error {
	if el == nil {
		return &activityindex.ValidationError{Column: name, Reason: "is missing"}
	}
	if el.Type == nil || (el.LogicalType != nil && el.LogicalType.UNKNOWN != nil) {
		return &activityindex.ValidationError{Column: name, Reason: "has a null type"}
	}
	for _, t := range types {
		if *el.Type == t {
			return nil
		}
	}
	return &activityindex.ValidationError{Column: name, Reason: fmt.Sprintf("has type %s", el.Type.String())}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func at(values []interface{}, i int) interface{} {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	}
	return 0, false
}

// asTime converts a stored timestamp using the column's declared unit;
// microseconds when undeclared.
func asTime(v interface{}, el *parquet.SchemaElement) (time.Time, bool) {
	raw, ok := asInt64(v)
	if !ok {
		return time.Time{}, false
	}
	unit := time.Microsecond
	if el != nil {
		switch {
		case el.LogicalType != nil && el.LogicalType.TIMESTAMP != nil && el.LogicalType.TIMESTAMP.Unit != nil:
			u := el.LogicalType.TIMESTAMP.Unit
			switch {
			case u.MILLIS != nil:
				unit = time.Millisecond
			case u.NANOS != nil:
				unit = time.Nanosecond
			}
		case el.ConvertedType != nil && *el.ConvertedType == parquet.ConvertedType_TIMESTAMP_MILLIS:
			unit = time.Millisecond
		}
	}
	return time.Unix(0, raw*int64(unit)).UTC(), true
}
