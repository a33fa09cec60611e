package schema

import (
	"fmt"
	"math"
	"time"

	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/domain"
)

// Decode reads the field's value at the cursor position.
func (f *FieldSpec) Decode(c *codec.Cursor) (any, error) {
	switch f.Kind {
	case KindUint, KindInt:
		raw, err := c.ReadUint(f.Width, f.Kind == KindInt)
		if err != nil {
			return nil, err
		}
		if f.AbsentIfZero && raw == 0 {
			return domain.Absent{}, nil
		}
		t := f.Transform()
		if t.IsIdentity() {
			return raw, nil
		}
		return t.Apply(raw), nil

	case KindASCII:
		return c.ReadASCII(f.Width)

	case KindBytes:
		b, err := c.ReadBytes(f.Width)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil

	case KindEnableFlags, KindEnableCodes:
		b, err := c.ReadBytes(f.Width)
		if err != nil {
			return nil, err
		}
		codes, err := codec.EnableCodes(b, f.Slots())
		if err != nil {
			return nil, err
		}
		if f.Kind == KindEnableCodes {
			return domain.EnableCodes(codes), nil
		}
		flags := make([]bool, len(codes))
		for i, code := range codes {
			flags[i] = code != 0
		}
		return flags, nil

	case KindCellWord:
		word, err := c.ReadUint(2, false)
		if err != nil {
			return nil, err
		}
		mv, status := codec.SplitCellWord(uint16(word))
		return domain.CellReading{Millivolts: mv, Status: status}, nil

	case KindWeekdays:
		mask, err := c.ReadUint(f.Width, false)
		if err != nil {
			return nil, err
		}
		return codec.Weekdays(uint16(mask)), nil

	default:
		return nil, fmt.Errorf("field %s: kind %q cannot be decoded as a scalar", f.Name, f.Kind)
	}
}

// Encode writes v at the cursor position. Values outside the field's range
// fail with codec.ErrValueOverflow before anything is written; values of the
// wrong type fail with codec.ErrInvalidRecord.
func (f *FieldSpec) Encode(c *codec.Cursor, v any) error {
	if v == nil {
		return fmt.Errorf("%w: field %s missing", codec.ErrInvalidRecord, f.Name)
	}

	switch f.Kind {
	case KindUint, KindInt:
		raw, err := f.rawInt(v)
		if err != nil {
			return err
		}
		if err := c.WriteUint(raw, f.Width, f.Kind == KindInt); err != nil {
			return f.named(err)
		}
		return nil

	case KindASCII:
		s, ok := v.(string)
		if !ok {
			return f.mistyped(v)
		}
		b, err := codec.PadASCII(s, f.Width)
		if err != nil {
			return f.named(err)
		}
		return c.WriteBytes(b)

	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return f.mistyped(v)
		}
		if len(b) > f.Width {
			return &codec.ValueOverflowError{Field: f.Name, Value: int64(len(b)), Max: int64(f.Width)}
		}
		out := make([]byte, f.Width)
		copy(out, b)
		return c.WriteBytes(out)

	case KindEnableFlags:
		flags, ok := v.([]bool)
		if !ok {
			return f.mistyped(v)
		}
		if len(flags) != f.Slots() {
			return fmt.Errorf("%w: field %s has %d flags, want %d", codec.ErrInvalidRecord, f.Name, len(flags), f.Slots())
		}
		return c.WriteBytes(f.padTo(codec.PackEnableFlags(flags)))

	case KindEnableCodes:
		var codes []uint8
		switch x := v.(type) {
		case domain.EnableCodes:
			codes = x
		case []uint8:
			codes = x
		default:
			return f.mistyped(v)
		}
		if len(codes) != f.Slots() {
			return fmt.Errorf("%w: field %s has %d codes, want %d", codec.ErrInvalidRecord, f.Name, len(codes), f.Slots())
		}
		packed, err := codec.PackEnableCodes(codes)
		if err != nil {
			return f.named(err)
		}
		return c.WriteBytes(f.padTo(packed))

	case KindCellWord:
		cell, ok := v.(domain.CellReading)
		if !ok {
			return f.mistyped(v)
		}
		word, err := codec.JoinCellWord(cell.Millivolts, cell.Status)
		if err != nil {
			return f.named(err)
		}
		return c.WriteUint(int64(word), 2, false)

	case KindWeekdays:
		days, ok := v.([]time.Weekday)
		if !ok {
			return f.mistyped(v)
		}
		mask, err := codec.WeekdayMask(days)
		if err != nil {
			return f.named(err)
		}
		return c.WriteUint(int64(mask), f.Width, false)

	default:
		return fmt.Errorf("field %s: kind %q cannot be encoded as a scalar", f.Name, f.Kind)
	}
}

// rawInt converts a record value to the raw integer stored on the wire and
// checks it against the field's declared bounds.
func (f *FieldSpec) rawInt(v any) (int64, error) {
	if _, ok := v.(domain.Absent); ok {
		if !f.AbsentIfZero {
			return 0, fmt.Errorf("%w: field %s cannot be absent", codec.ErrInvalidRecord, f.Name)
		}
		return 0, nil
	}

	t := f.Transform()
	var raw int64
	switch n := v.(type) {
	case int64:
		raw = n
		if !t.IsIdentity() {
			r, err := f.invert(t, float64(n))
			if err != nil {
				return 0, err
			}
			raw = r
		}
	case int:
		raw = int64(n)
		if !t.IsIdentity() {
			r, err := f.invert(t, float64(n))
			if err != nil {
				return 0, err
			}
			raw = r
		}
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, f.mistyped(v)
		}
		r, err := f.invert(t, n)
		if err != nil {
			return 0, err
		}
		raw = r
	default:
		return 0, f.mistyped(v)
	}

	lo, hi := codec.Range(f.Width, f.Kind == KindInt)
	if f.Min != nil && *f.Min > lo {
		lo = *f.Min
	}
	if f.Max != nil && *f.Max < hi {
		hi = *f.Max
	}
	if f.AbsentIfZero && lo < 1 && raw == 0 {
		// Zero is reserved for the absent marker.
		return 0, &codec.ValueOverflowError{Field: f.Name, Value: raw, Min: 1, Max: hi}
	}
	if raw < lo || raw > hi {
		return 0, &codec.ValueOverflowError{Field: f.Name, Value: raw, Min: lo, Max: hi}
	}
	return raw, nil
}

// invert maps a display value onto the raw integer grid. A value between two
// raw steps would change on encode and is rejected.
func (f *FieldSpec) invert(t codec.Transform, display float64) (int64, error) {
	raw, ok := t.InvertExact(display)
	if !ok {
		return 0, fmt.Errorf("%w: field %s value %v is not a multiple of its resolution", codec.ErrInvalidRecord, f.Name, display)
	}
	return raw, nil
}

func (f *FieldSpec) padTo(b []byte) []byte {
	if len(b) >= f.Width {
		return b
	}
	out := make([]byte, f.Width)
	copy(out, b)
	return out
}

func (f *FieldSpec) mistyped(v any) error {
	return fmt.Errorf("%w: field %s (%s) cannot hold %T", codec.ErrInvalidRecord, f.Name, f.Kind, v)
}

func (f *FieldSpec) named(err error) error {
	if ov, ok := err.(*codec.ValueOverflowError); ok && ov.Field == "" {
		ov.Field = f.Name
		return ov
	}
	return fmt.Errorf("field %s: %w", f.Name, err)
}
