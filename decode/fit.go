package decode

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/tormoder/fit"
	"github.com/tormoder/fit/dyncrc16"

	activityindex "github.com/lucasjlepore/activity-index"
)

const (
	compressedHeaderMask       = 0x80
	compressedLocalMesgNumMask = 0x60
	compressedTimeMask         = 0x1F
	mesgDefinitionMask         = 0x40
	devDataMask                = 0x20
	localMesgNumMask           = 0x0F

	headerSizeNoCRC = 12
	headerSizeCRC   = 14

	fieldTimestamp = 253
)

var fitEpoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

type fieldDef struct {
	number uint8
	size   uint8
	base   baseType
}

type definition struct {
	global      uint16
	arch        binary.ByteOrder
	fields      []fieldDef
	devDataSize int
}

// fitStream is the interpreter state for one forward pass over a FIT data
// section. definitions is the local message namespace; a later definition for
// the same local id replaces the earlier one.
type fitStream struct {
	data        []byte
	base        int // absolute offset of data[0] in the file
	definitions map[uint8]definition

	lastTimestamp  uint32
	lastTimeOffset int32

	points   activityindex.PointSeries
	sport    *sportInfo
	session  *sportInfo
	warnings []string
}

type sportInfo struct {
	name, main, sub string
}

// decodeFIT interprets a complete FIT file into an activity.
func decodeFIT(path string, data []byte, verify bool) (*activityindex.Activity, []string, error) {
	fail := func(off int, err error) (*activityindex.Activity, []string, error) {
		return nil, nil, &activityindex.DecodeError{Path: path, Offset: int64(off), Err: err}
	}
	if len(data) < headerSizeNoCRC {
		return fail(0, fmt.Errorf("%w: fit file too short: %d bytes", activityindex.ErrMalformedFrame, len(data)))
	}

	headerSize := int(data[0])
	if headerSize != headerSizeNoCRC && headerSize != headerSizeCRC {
		return fail(0, fmt.Errorf("%w: invalid fit header size %d", activityindex.ErrMalformedFrame, headerSize))
	}
	if len(data) < headerSize {
		return fail(0, fmt.Errorf("%w: truncated fit header", activityindex.ErrMalformedFrame))
	}
	if string(data[8:12]) != ".FIT" {
		return fail(8, fmt.Errorf("%w: invalid fit data type %q", activityindex.ErrMalformedFrame, string(data[8:12])))
	}
	dataSize := int(binary.LittleEndian.Uint32(data[4:8]))

	var warnings []string
	if headerSize == headerSizeCRC {
		stored := binary.LittleEndian.Uint16(data[12:14])
		if stored != 0 {
			if computed := dyncrc16.Checksum(data[:12]); computed != stored {
				err := fmt.Errorf("%w: header crc stored 0x%04X computed 0x%04X", activityindex.ErrChecksum, stored, computed)
				if verify {
					return fail(12, err)
				}
				warnings = append(warnings, err.Error())
			}
		}
	}

	end := headerSize + dataSize
	switch {
	case len(data) < end:
		return fail(len(data), fmt.Errorf("%w: fit file truncated: have %d bytes, need %d", activityindex.ErrMalformedFrame, len(data), end))
	case len(data) == end:
		warnings = append(warnings, "file crc missing")
	default:
		if len(data) < end+2 {
			return fail(end, fmt.Errorf("%w: truncated file crc", activityindex.ErrMalformedFrame))
		}
		stored := binary.LittleEndian.Uint16(data[end : end+2])
		if computed := dyncrc16.Checksum(data[:end]); computed != stored {
			err := fmt.Errorf("%w: file crc stored 0x%04X computed 0x%04X", activityindex.ErrChecksum, stored, computed)
			if verify {
				return fail(end, err)
			}
			warnings = append(warnings, err.Error())
		}
		if extra := len(data) - end - 2; extra > 0 {
			warnings = append(warnings, fmt.Sprintf("%d trailing bytes after file crc ignored", extra))
		}
	}

	fs := &fitStream{
		data:        data[headerSize:end],
		base:        headerSize,
		definitions: make(map[uint8]definition),
		warnings:    warnings,
	}
	if off, err := fs.run(); err != nil {
		return fail(off, err)
	}

	act := &activityindex.Activity{Points: fs.points}
	act.ID = activityindex.IDFromPath(path)
	act.SourceFormat = activityindex.FormatFIT
	if s := fs.sport; s != nil || fs.session != nil {
		if s == nil {
			s = fs.session
		}
		act.SportName, act.SportMain, act.SportSub = s.name, s.main, s.sub
	}
	act.FillTimeBounds(act.Points)
	return act, fs.warnings, nil
}

// run walks every frame once. On error it returns the absolute offset of the
// offending frame.
func (fs *fitStream) run() (int, error) {
	pos := 0
	for pos < len(fs.data) {
		start := pos
		header := fs.data[pos]
		pos++

		var err error
		switch {
		case header&compressedHeaderMask == compressedHeaderMask:
			local := (header & compressedLocalMesgNumMask) >> 5
			def, ok := fs.definitions[local]
			if !ok {
				return fs.base + start, fmt.Errorf("%w: local=%d", activityindex.ErrUndefinedLocalMessage, local)
			}
			ts := fs.advanceCompressed(header & compressedTimeMask)
			pos, err = fs.dataFrame(pos, def, &ts)
		case header&mesgDefinitionMask == mesgDefinitionMask:
			var def definition
			def, pos, err = fs.definitionFrame(pos, header)
			if err == nil {
				fs.definitions[header&localMesgNumMask] = def
			}
		default:
			local := header & localMesgNumMask
			def, ok := fs.definitions[local]
			if !ok {
				return fs.base + start, fmt.Errorf("%w: local=%d", activityindex.ErrUndefinedLocalMessage, local)
			}
			pos, err = fs.dataFrame(pos, def, nil)
		}
		if err != nil {
			return fs.base + start, err
		}
	}
	return 0, nil
}

// advanceCompressed resolves a 5-bit time offset against the last full
// timestamp. Without a reference the result is zero.
func (fs *fitStream) advanceCompressed(offset uint8) uint32 {
	if fs.lastTimestamp == 0 {
		return 0
	}
	timeOffset := int32(offset)
	fs.lastTimestamp += uint32((timeOffset - fs.lastTimeOffset) & compressedTimeMask)
	fs.lastTimeOffset = timeOffset
	return fs.lastTimestamp
}

func (fs *fitStream) read(pos, n int) ([]byte, int, error) {
	if pos+n > len(fs.data) {
		return nil, pos, fmt.Errorf("%w: frame truncated", activityindex.ErrMalformedFrame)
	}
	return fs.data[pos : pos+n], pos + n, nil
}

func (fs *fitStream) definitionFrame(pos int, header uint8) (definition, int, error) {
	fixed, pos, err := fs.read(pos, 5) // reserved, arch, global (2), field count
	if err != nil {
		return definition{}, pos, err
	}

	var def definition
	switch fixed[1] {
	case 0:
		def.arch = binary.LittleEndian
	case 1:
		def.arch = binary.BigEndian
	default:
		return definition{}, pos, fmt.Errorf("%w: invalid architecture byte %d", activityindex.ErrMalformedFrame, fixed[1])
	}
	def.global = def.arch.Uint16(fixed[2:4])

	n := int(fixed[4])
	def.fields = make([]fieldDef, 0, n)
	for i := 0; i < n; i++ {
		var raw []byte
		if raw, pos, err = fs.read(pos, 3); err != nil {
			return definition{}, pos, err
		}
		def.fields = append(def.fields, fieldDef{number: raw[0], size: raw[1], base: decompressBaseType(raw[2])})
	}

	if header&devDataMask == devDataMask {
		var countRaw []byte
		if countRaw, pos, err = fs.read(pos, 1); err != nil {
			return definition{}, pos, err
		}
		for i := 0; i < int(countRaw[0]); i++ {
			var raw []byte
			if raw, pos, err = fs.read(pos, 3); err != nil {
				return definition{}, pos, err
			}
			def.devDataSize += int(raw[1])
		}
	}
	return def, pos, nil
}

// dataFrame decodes one data message. compressedTS is set for frames with a
// compressed timestamp header.
func (fs *fitStream) dataFrame(pos int, def definition, compressedTS *uint32) (int, error) {
	msg := message{global: def.global, arch: def.arch, fields: make(map[uint8]fieldValue, len(def.fields))}
	var (
		raw []byte
		err error
	)
	for _, f := range def.fields {
		if raw, pos, err = fs.read(pos, int(f.size)); err != nil {
			return pos, err
		}
		msg.fields[f.number] = fieldValue{raw: raw, base: f.base}
		if f.number == fieldTimestamp {
			if ts, ok := decodeUint32(raw, f.base, def.arch); ok {
				fs.lastTimestamp = ts
				fs.lastTimeOffset = int32(ts & compressedTimeMask)
			}
		}
	}
	if _, pos, err = fs.read(pos, def.devDataSize); err != nil {
		return pos, err
	}

	switch fit.MesgNum(def.global) {
	case fit.MesgNumRecord:
		return pos, fs.record(msg, compressedTS)
	case fit.MesgNumSport:
		if fs.sport == nil {
			fs.sport = sportFromMessage(msg, 0, 1, 3)
		}
	case fit.MesgNumSession:
		if fs.session == nil {
			fs.session = sportFromMessage(msg, 5, 6, -1)
		}
	}
	return pos, nil
}

func (fs *fitStream) record(msg message, compressedTS *uint32) error {
	var ts uint32
	if v, ok := msg.unsigned(fieldTimestamp); ok {
		ts = v
	} else if compressedTS != nil {
		ts = *compressedTS
	}
	if ts == 0 {
		fs.warnings = append(fs.warnings, "record without timestamp skipped")
		return nil
	}

	p := activityindex.Point{Time: activityindex.NormalizeTime(fitEpoch.Add(time.Duration(ts) * time.Second))}
	if n := len(fs.points); n > 0 && p.Time.Before(fs.points[n-1].Time) {
		return fmt.Errorf("%w: %s after %s", activityindex.ErrNonMonotonicTime,
			p.Time.Format(time.RFC3339), fs.points[n-1].Time.Format(time.RFC3339))
	}
	extractRecord(msg, &p)
	fs.points = append(fs.points, p)
	return nil
}

func sportFromMessage(msg message, sportField, subField uint8, nameField int) *sportInfo {
	info := &sportInfo{}
	if v, ok := msg.unsigned(sportField); ok {
		info.main = strings.ToLower(fit.Sport(v).String())
	}
	if v, ok := msg.unsigned(subField); ok {
		info.sub = strings.ToLower(fit.SubSport(v).String())
	}
	if nameField >= 0 {
		info.name = msg.text(uint8(nameField))
	}
	if *info == (sportInfo{}) {
		return nil
	}
	return info
}
