// Package table encodes activities and the activity index as parquet files.
package table

import (
	"encoding/json"
	"fmt"
	"time"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	activityindex "github.com/lucasjlepore/activity-index"
	"github.com/lucasjlepore/activity-index/store"
)

// metadataKey holds the activity metadata as JSON in the footer of a points
// file.
const metadataKey = "activity_metadata"

type pointParquetRow struct {
	Time      int64    `parquet:"name=time, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Lat       *int32   `parquet:"name=lat, type=INT32, repetitiontype=OPTIONAL"`
	Lon       *int32   `parquet:"name=lon, type=INT32, repetitiontype=OPTIONAL"`
	Elevation *float64 `parquet:"name=elevation, type=DOUBLE, repetitiontype=OPTIONAL"`
	HeartRate *int32   `parquet:"name=heart_rate, type=INT32, repetitiontype=OPTIONAL"`
	Speed     *float64 `parquet:"name=speed, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// MarshalPoints encodes an activity as a per-activity point table.
func MarshalPoints(act *activityindex.Activity) ([]byte, error) {
	meta, err := json.Marshal(act.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(pointParquetRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, p := range act.Points {
		row := pointParquetRow{
			Time:      p.Time.UnixMicro(),
			Lat:       p.Lat,
			Lon:       p.Lon,
			Elevation: p.Elevation,
			Speed:     p.Speed,
		}
		if p.HeartRate != nil {
			hr := int32(*p.HeartRate)
			row.HeartRate = &hr
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	metaStr := string(meta)
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: metadataKey, Value: &metaStr})
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

// UnmarshalPoints decodes a point table written by MarshalPoints.
func UnmarshalPoints(data []byte) (*activityindex.Activity, error) {
	fr := parquetbuffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(pointParquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("open point table: %w", err)
	}
	defer pr.ReadStop()

	act := &activityindex.Activity{}
	found := false
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv == nil || kv.Key != metadataKey || kv.Value == nil {
			continue
		}
		if err := json.Unmarshal([]byte(*kv.Value), &act.Metadata); err != nil {
			return nil, fmt.Errorf("decode %s: %w", metadataKey, err)
		}
		found = true
	}
	if !found {
		return nil, &activityindex.ValidationError{Column: metadataKey, Reason: "is missing from the footer"}
	}

	n := int(pr.GetNumRows())
	rows := make([]pointParquetRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("read point rows: %w", err)
		}
	}

	act.Points = make(activityindex.PointSeries, 0, n)
	for _, r := range rows {
		p := activityindex.Point{
			Time:      time.UnixMicro(r.Time).UTC(),
			Lat:       r.Lat,
			Lon:       r.Lon,
			Elevation: r.Elevation,
			Speed:     r.Speed,
		}
		if r.HeartRate != nil {
			hr := uint16(*r.HeartRate)
			p.HeartRate = &hr
		}
		act.Points = append(act.Points, p)
	}
	act.StartTime = act.StartTime.UTC()
	act.EndTime = act.EndTime.UTC()
	return act, nil
}

// SavePoints writes an activity's point table through store.Save.
func SavePoints(act *activityindex.Activity, path string, opts store.SaveOptions) error {
	data, err := MarshalPoints(act)
	if err != nil {
		return fmt.Errorf("encode points %s: %w", act.ID, err)
	}
	return store.Save(data, path, opts)
}

// LoadPoints reads a point table from disk.
func LoadPoints(path string) (*activityindex.Activity, error) {
	data, err := store.Load(path)
	if err != nil {
		return nil, err
	}
	act, err := UnmarshalPoints(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return act, nil
}
