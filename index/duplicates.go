package index

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	activityindex "github.com/lucasjlepore/activity-index"
)

// Pair names two activities with identical content. A sorts before B.
type Pair struct {
	A, B string
}

func newPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// FindDuplicates compares every pair of activities in full, ignoring ids.
// It is quadratic in len(acts); FindDuplicatesByFingerprint scales better.
func FindDuplicates(acts []*activityindex.Activity) []Pair {
	var pairs []Pair
	for i := 0; i < len(acts); i++ {
		for j := i + 1; j < len(acts); j++ {
			if acts[i].SameRecord(acts[j]) {
				pairs = append(pairs, newPair(acts[i].ID, acts[j].ID))
			}
		}
	}
	sortPairs(pairs)
	return pairs
}

// Fingerprint hashes start time, point count, length and every point.
// Activities with equal content share a fingerprint.
func Fingerprint(act *activityindex.Activity) string {
	h := sha256.New()
	var buf [8]byte
	putInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	putFloat := func(v float64) { putInt(int64(math.Float64bits(v))) }
	putOpt := func(present bool, v int64) {
		if !present {
			h.Write([]byte{0})
			return
		}
		h.Write([]byte{1})
		putInt(v)
	}

	putInt(act.StartTime.UnixNano())
	putInt(int64(len(act.Points)))
	putFloat(act.LengthM)
	for _, p := range act.Points {
		putInt(p.Time.UnixNano())
		putOpt(p.Lat != nil, int64(deref(p.Lat)))
		putOpt(p.Lon != nil, int64(deref(p.Lon)))
		putOpt(p.Elevation != nil, int64(math.Float64bits(deref(p.Elevation))))
		putOpt(p.HeartRate != nil, int64(deref(p.HeartRate)))
		putOpt(p.Speed != nil, int64(math.Float64bits(deref(p.Speed))))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FindDuplicatesByFingerprint buckets activities by Fingerprint and confirms
// candidates with a full comparison. It returns the same pairs as
// FindDuplicates.
func FindDuplicatesByFingerprint(acts []*activityindex.Activity) []Pair {
	buckets := make(map[string][]*activityindex.Activity)
	for _, act := range acts {
		fp := Fingerprint(act)
		buckets[fp] = append(buckets[fp], act)
	}
	var pairs []Pair
	for _, group := range buckets {
		if len(group) > 1 {
			pairs = append(pairs, FindDuplicates(group)...)
		}
	}
	sortPairs(pairs)
	return pairs
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
