package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Absent marks a field whose raw value is the "sensor absent/invalid" sentinel.
type Absent struct{}

// MarshalJSON renders an absent value as null.
func (Absent) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String implements fmt.Stringer.
func (Absent) String() string { return "absent" }

// CellReading is one decoded cell voltage word.
type CellReading struct {
	Millivolts uint16 `json:"millivolts"`
	Status     uint8  `json:"status"`
}

// Volts returns the cell voltage in volts.
func (c CellReading) Volts() float64 {
	return float64(c.Millivolts) / 1000
}

// EnableCodes holds opaque two-bit enable codes, one per slot. Zero means off;
// codes 1 to 3 are passed through uninterpreted.
type EnableCodes []uint8

// MarshalJSON renders the codes as a number array rather than base64.
func (c EnableCodes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(c))
	for i, code := range c {
		ints[i] = int(code)
	}
	return json.Marshal(ints)
}

// Fields maps field names to decoded values. Values are one of:
// int64, float64, string, []byte, []bool, EnableCodes, []time.Weekday,
// CellReading, Absent, []Fields (group elements) or []any (array elements).
type Fields map[string]any

// Record is the structured result of decoding one block.
type Record struct {
	BlockID uint16 `json:"block_id"`
	Version int    `json:"version"`
	Fields  Fields `json:"fields"`
}

// NewRecord returns an empty record for a block and protocol version.
func NewRecord(blockID uint16, version int) *Record {
	return &Record{BlockID: blockID, Version: version, Fields: make(Fields)}
}

// Has reports whether the field exists.
func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// IsAbsent reports whether the field holds the absent marker.
func (f Fields) IsAbsent(name string) bool {
	_, ok := f[name].(Absent)
	return ok
}

// Int returns the field as int64.
func (f Fields) Int(name string) (int64, error) {
	v, ok := f[name]
	if !ok {
		return 0, fmt.Errorf("field %q missing", name)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("field %q has non-integer type %T", name, v)
	}
}

// Float returns the field as float64.
func (f Fields) Float(name string) (float64, error) {
	v, ok := f[name]
	if !ok {
		return 0, fmt.Errorf("field %q missing", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case Absent:
		return 0, fmt.Errorf("field %q is absent", name)
	default:
		return 0, fmt.Errorf("field %q has non-numeric type %T", name, v)
	}
}

// Text returns the field as a string.
func (f Fields) Text(name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", fmt.Errorf("field %q missing", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has non-string type %T", name, v)
	}
	return s, nil
}

// Groups returns the elements of a group field.
func (f Fields) Groups(name string) ([]Fields, error) {
	v, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("field %q missing", name)
	}
	groups, ok := v.([]Fields)
	if !ok {
		return nil, fmt.Errorf("field %q has non-group type %T", name, v)
	}
	return groups, nil
}

// Elements returns the elements of a flattened array field.
func (f Fields) Elements(name string) ([]any, error) {
	v, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("field %q missing", name)
	}
	elems, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q has non-array type %T", name, v)
	}
	return elems, nil
}

// Clone returns a deep copy of the fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for name, v := range f {
		out[name] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{BlockID: r.BlockID, Version: r.Version, Fields: r.Fields.Clone()}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return append([]byte(nil), x...)
	case []bool:
		return append([]bool(nil), x...)
	case EnableCodes:
		return append(EnableCodes(nil), x...)
	case []time.Weekday:
		return append([]time.Weekday(nil), x...)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []Fields:
		out := make([]Fields, len(x))
		for i, g := range x {
			out[i] = g.Clone()
		}
		return out
	default:
		return v
	}
}
