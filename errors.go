package activityindex

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Decode failure causes, wrapped by DecodeError.
var (
	ErrChecksum              = errors.New("checksum mismatch")
	ErrUndefinedLocalMessage = errors.New("data message references undefined local message type")
	ErrMalformedFrame        = errors.New("malformed frame")
	ErrNonMonotonicTime      = errors.New("point times are not monotonically non-decreasing")
	ErrNoTracks              = errors.New("file has no tracks")
	ErrMultipleTracks        = errors.New("file has more than one track")
	ErrNoSegments            = errors.New("track has no segments")
	ErrMultipleSegments      = errors.New("track has more than one segment")
	ErrUnknownFormat         = errors.New("unrecognized file format")
)

// Value errors: a caller supplied an argument outside the supported set.
var (
	ErrUnsupportedInterval = errors.New("unsupported interval")
	ErrUnsupportedMethod   = errors.New("unsupported distance method")
	ErrMissingCoordinates  = errors.New("series has no latitude/longitude")
)

// ErrVerification is wrapped by VerificationError.
var ErrVerification = errors.New("written bytes do not read back identically")

// DecodeError reports a file that could not be decoded.
type DecodeError struct {
	Path   string
	Offset int64 // byte offset in the decoded stream, -1 when unknown
	Err    error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at byte %d", e.Offset)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports a persisted table that fails its schema contract.
type ValidationError struct {
	Path   string
	Column string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid table: column %q %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("invalid table %s: column %q %s", e.Path, e.Column, e.Reason)
}

// DuplicateKeyError reports ids that would appear more than once in the index.
type DuplicateKeyError struct {
	IDs []string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate activity id(s): %s", strings.Join(e.IDs, ", "))
}

// FileExistsError reports a refused write over an existing file.
type FileExistsError struct {
	Path string
}

func (e *FileExistsError) Error() string {
	return fmt.Sprintf("%s already exists and overwrite is disabled", e.Path)
}

func (e *FileExistsError) Unwrap() error { return fs.ErrExist }

// VerificationError reports written bytes that did not read back identically.
type VerificationError struct {
	Path     string
	Expected int
	Got      int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify %s: reread %d bytes do not match %d written", e.Path, e.Got, e.Expected)
}

func (e *VerificationError) Unwrap() error { return ErrVerification }
