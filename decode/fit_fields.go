package decode

import (
	"encoding/binary"
	"math"

	activityindex "github.com/lucasjlepore/activity-index"
)

type baseType uint8

const (
	baseEnum    baseType = 0x00
	baseSint8   baseType = 0x01
	baseUint8   baseType = 0x02
	baseSint16  baseType = 0x83
	baseUint16  baseType = 0x84
	baseSint32  baseType = 0x85
	baseUint32  baseType = 0x86
	baseString  baseType = 0x07
	baseFloat32 baseType = 0x88
	baseFloat64 baseType = 0x89
	baseUint8z  baseType = 0x0A
	baseUint16z baseType = 0x8B
	baseUint32z baseType = 0x8C
	baseByte    baseType = 0x0D
	baseSint64  baseType = 0x8E
	baseUint64  baseType = 0x8F
	baseUint64z baseType = 0x90
)

func baseSize(bt baseType) int {
	switch bt {
	case baseSint16, baseUint16, baseUint16z:
		return 2
	case baseSint32, baseUint32, baseUint32z, baseFloat32:
		return 4
	case baseSint64, baseUint64, baseUint64z, baseFloat64:
		return 8
	default:
		return 1
	}
}

// decompressBaseType maps a base type byte to its canonical value; some
// encoders drop the endian-ability bit.
func decompressBaseType(b byte) baseType {
	switch b & 0x1F {
	case 0x03:
		return baseSint16
	case 0x04:
		return baseUint16
	case 0x05:
		return baseSint32
	case 0x06:
		return baseUint32
	case 0x08:
		return baseFloat32
	case 0x09:
		return baseFloat64
	case 0x0B:
		return baseUint16z
	case 0x0C:
		return baseUint32z
	case 0x0E:
		return baseSint64
	case 0x0F:
		return baseUint64
	case 0x10:
		return baseUint64z
	default:
		return baseType(b & 0x1F)
	}
}

// decodeNumber decodes the first element of a numeric field. ok is false for
// the type's invalid sentinel, non-numeric types and short payloads.
func decodeNumber(raw []byte, bt baseType, arch binary.ByteOrder) (float64, bool) {
	if len(raw) < baseSize(bt) {
		return 0, false
	}
	switch bt {
	case baseEnum, baseUint8:
		return float64(raw[0]), raw[0] != 0xFF
	case baseUint8z:
		return float64(raw[0]), raw[0] != 0x00
	case baseSint8:
		v := int8(raw[0])
		return float64(v), v != 0x7F
	case baseSint16:
		v := int16(arch.Uint16(raw))
		return float64(v), v != 0x7FFF
	case baseUint16:
		v := arch.Uint16(raw)
		return float64(v), v != 0xFFFF
	case baseUint16z:
		v := arch.Uint16(raw)
		return float64(v), v != 0
	case baseSint32:
		v := int32(arch.Uint32(raw))
		return float64(v), v != 0x7FFFFFFF
	case baseUint32:
		v := arch.Uint32(raw)
		return float64(v), v != 0xFFFFFFFF
	case baseUint32z:
		v := arch.Uint32(raw)
		return float64(v), v != 0
	case baseFloat32:
		bits := arch.Uint32(raw)
		return float64(math.Float32frombits(bits)), bits != 0xFFFFFFFF
	case baseFloat64:
		bits := arch.Uint64(raw)
		return math.Float64frombits(bits), bits != 0xFFFFFFFFFFFFFFFF
	case baseSint64:
		v := int64(arch.Uint64(raw))
		return float64(v), v != 0x7FFFFFFFFFFFFFFF
	case baseUint64:
		v := arch.Uint64(raw)
		return float64(v), v != 0xFFFFFFFFFFFFFFFF
	case baseUint64z:
		v := arch.Uint64(raw)
		return float64(v), v != 0
	default:
		return 0, false
	}
}

func decodeUint32(raw []byte, bt baseType, arch binary.ByteOrder) (uint32, bool) {
	v, ok := decodeNumber(raw, bt, arch)
	if !ok || v < 0 || v > math.MaxUint32 {
		return 0, false
	}
	return uint32(v), true
}

type fieldValue struct {
	raw  []byte
	base baseType
}

// message is one decoded data frame keyed by field number.
type message struct {
	global uint16
	arch   binary.ByteOrder
	fields map[uint8]fieldValue
}

func (m message) number(num uint8) (float64, bool) {
	f, ok := m.fields[num]
	if !ok {
		return 0, false
	}
	return decodeNumber(f.raw, f.base, m.arch)
}

func (m message) unsigned(num uint8) (uint32, bool) {
	f, ok := m.fields[num]
	if !ok {
		return 0, false
	}
	return decodeUint32(f.raw, f.base, m.arch)
}

func (m message) signed(num uint8) (int32, bool) {
	v, ok := m.number(num)
	if !ok || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, false
	}
	return int32(v), true
}

func (m message) text(num uint8) string {
	f, ok := m.fields[num]
	if !ok || f.base != baseString {
		return ""
	}
	for i, b := range f.raw {
		if b == 0x00 {
			return string(f.raw[:i])
		}
	}
	return string(f.raw)
}

// Record message field numbers and scales from the FIT profile.
const (
	recordPositionLat      = 0
	recordPositionLong     = 1
	recordAltitude         = 2
	recordHeartRate        = 3
	recordSpeed            = 6
	recordEnhancedSpeed    = 73
	recordEnhancedAltitude = 78

	altitudeScale  = 5
	altitudeOffset = 500
	speedScale     = 1000
)

// extractRecord copies the supported record fields into p. The enhanced
// fields win; the 16-bit altitude and speed fields are their profile
// components and fill in when a device only writes those.
func extractRecord(msg message, p *activityindex.Point) {
	if v, ok := msg.signed(recordPositionLat); ok {
		p.Lat = &v
	}
	if v, ok := msg.signed(recordPositionLong); ok {
		p.Lon = &v
	}
	if v, ok := msg.number(recordHeartRate); ok {
		hr := uint16(v)
		p.HeartRate = &hr
	}

	alt, ok := msg.number(recordEnhancedAltitude)
	if !ok {
		alt, ok = msg.number(recordAltitude)
	}
	if ok {
		alt = alt/altitudeScale - altitudeOffset
		p.Elevation = &alt
	}

	speed, ok := msg.number(recordEnhancedSpeed)
	if !ok {
		speed, ok = msg.number(recordSpeed)
	}
	if ok {
		speed /= speedScale
		p.Speed = &speed
	}
}
