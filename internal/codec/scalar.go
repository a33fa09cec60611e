package codec

import (
	"fmt"
	"math"
	"strings"
)

// Uint decodes a big-endian unsigned integer of 1, 2 or 4 bytes.
func Uint(b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(b[0])<<8 | uint64(b[1]), nil
	case 4:
		return uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3]), nil
	default:
		return 0, fmt.Errorf("unsupported integer width: %d bytes", len(b))
	}
}

// Signed reinterprets an unsigned raw value of the given width as two's complement.
// For 4-byte values the sign bit 0x80000000 is checked and 0x100000000 subtracted.
func Signed(raw uint64, width int) int64 {
	switch width {
	case 1:
		if raw&0x80 != 0 {
			return int64(raw) - 0x100
		}
	case 2:
		if raw&0x8000 != 0 {
			return int64(raw) - 0x10000
		}
	case 4:
		if raw&0x80000000 != 0 {
			return int64(raw) - 0x100000000
		}
	}
	return int64(raw)
}

// Range returns the inclusive raw range representable in width bytes.
func Range(width int, signed bool) (lo, hi int64) {
	bits := uint(width * 8)
	if signed {
		return -(1 << (bits - 1)), 1<<(bits-1) - 1
	}
	return 0, 1<<bits - 1
}

// PutUint encodes v big-endian into width bytes. Signed values are stored in
// two's complement. Values outside the width's range yield a ValueOverflowError.
func PutUint(v int64, width int, signed bool) ([]byte, error) {
	if width != 1 && width != 2 && width != 4 {
		return nil, fmt.Errorf("unsupported integer width: %d bytes", width)
	}
	lo, hi := Range(width, signed)
	if v < lo || v > hi {
		return nil, &ValueOverflowError{Value: v, Min: lo, Max: hi}
	}

	raw := uint64(v)
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte(raw)
		raw >>= 8
	}
	return out, nil
}

// Transform is the affine mapping between raw and display values:
// display = (raw + Bias) / Scale. A zero Scale behaves as 1.
type Transform struct {
	Scale float64
	Bias  float64
}

// IsIdentity reports whether the transform leaves raw values unchanged.
func (t Transform) IsIdentity() bool {
	return (t.Scale == 0 || t.Scale == 1) && t.Bias == 0
}

func (t Transform) scale() float64 {
	if t.Scale == 0 {
		return 1
	}
	return t.Scale
}

// Apply converts a raw value to its display value.
func (t Transform) Apply(raw int64) float64 {
	return (float64(raw) + t.Bias) / t.scale()
}

// stepTolerance is how far, relative to the raw magnitude, a display value may
// sit from a raw step and still count as lying on it.
const stepTolerance = 1e-6

// InvertExact converts a display value to its raw value. ok is false when the
// display value falls between two raw steps.
func (t Transform) InvertExact(display float64) (raw int64, ok bool) {
	x := display*t.scale() - t.Bias
	r := math.Round(x)
	return int64(r), math.Abs(x-r) <= stepTolerance*math.Max(1, math.Abs(x))
}

// TrimASCII interprets b as characters and strips trailing NUL and space bytes.
// Interior bytes, printable or not, are kept as read.
func TrimASCII(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}

// PadASCII returns s as exactly width bytes, NUL padded. A trailing NUL or
// space would be trimmed on decode, so s may not end in one.
func PadASCII(s string, width int) ([]byte, error) {
	if len(s) > width {
		return nil, &ValueOverflowError{Value: int64(len(s)), Min: 0, Max: int64(width)}
	}
	if n := len(s); n > 0 && (s[n-1] == 0 || s[n-1] == ' ') {
		return nil, fmt.Errorf("%w: text %q ends in padding", ErrInvalidRecord, s)
	}
	out := make([]byte, width)
	copy(out, s)
	return out, nil
}
