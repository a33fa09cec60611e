// Package codec provides the byte-level building blocks of the V2 block codec:
// a bounds-checked cursor, scalar and bit-field conversions, and the error
// taxonomy shared by the decoder and encoder.
package codec

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by the codec matches exactly one of
// these through errors.Is.
var (
	ErrUnknownBlock       = errors.New("unknown block")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrOutOfBounds        = errors.New("out of bounds")
	ErrTruncatedGroup     = errors.New("truncated group")
	ErrValueOverflow      = errors.New("value overflow")
	ErrInvalidRecord      = errors.New("invalid record")
)

// OutOfBoundsError reports a read or write that would cross the buffer end.
type OutOfBoundsError struct {
	Offset int
	Width  int
	Len    int
}

// Error implements the error interface.
func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("out of bounds: %d bytes at offset %d exceeds buffer length %d", e.Width, e.Offset, e.Len)
}

// Is reports whether target is ErrOutOfBounds.
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// TruncatedGroupError reports a repeated group whose declared element count
// needs more bytes than the buffer holds.
type TruncatedGroupError struct {
	Group       string
	Declared    int
	Recoverable int
}

// Error implements the error interface.
func (e *TruncatedGroupError) Error() string {
	name := e.Group
	if name == "" {
		name = "group"
	}
	return fmt.Sprintf("truncated group %s: declared %d elements, only %d recoverable", name, e.Declared, e.Recoverable)
}

// Is reports whether target is ErrTruncatedGroup.
func (e *TruncatedGroupError) Is(target error) bool {
	return target == ErrTruncatedGroup
}

// ValueOverflowError reports a value outside the representable range of its field.
type ValueOverflowError struct {
	Field string
	Value int64
	Min   int64
	Max   int64
}

// Error implements the error interface.
func (e *ValueOverflowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("value overflow: %d outside [%d, %d]", e.Value, e.Min, e.Max)
	}
	return fmt.Sprintf("value overflow in %s: %d outside [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

// Is reports whether target is ErrValueOverflow.
func (e *ValueOverflowError) Is(target error) bool {
	return target == ErrValueOverflow
}

// Kind returns a short stable label for err, used for metrics and reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownBlock):
		return "unknown_block"
	case errors.Is(err, ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, ErrTruncatedGroup):
		return "truncated_group"
	case errors.Is(err, ErrValueOverflow):
		return "value_overflow"
	case errors.Is(err, ErrInvalidRecord):
		return "invalid_record"
	default:
		return "other"
	}
}
