// Package schema defines the declarative block layout tables the codec is
// driven by, and the version-gated registry that selects among them.
package schema

import (
	"fmt"

	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/domain"
	"gopkg.in/yaml.v3"
)

// Kind is the encoding of a field.
type Kind string

// Field kinds.
const (
	KindUint        Kind = "uint"
	KindInt         Kind = "int"
	KindASCII       Kind = "ascii"
	KindBytes       Kind = "bytes"
	KindEnableFlags Kind = "enable_flags"
	KindEnableCodes Kind = "enable_codes"
	KindCellWord    Kind = "cell_word"
	KindWeekdays    Kind = "weekdays"
	KindGroup       Kind = "group"
)

// Offset locates a field. It is either a literal byte offset or a formula
//
//	end(After) + Base + value(Field) * Times
//
// where After names a prior field, group or array and Field a prior integer field.
type Offset struct {
	Base  int    `yaml:"base"`
	After string `yaml:"after"`
	Field string `yaml:"field"`
	Times int    `yaml:"times"`
}

// At returns a literal offset.
func At(n int) Offset { return Offset{Base: n} }

// IsLiteral reports whether the offset has no formula part.
func (o Offset) IsLiteral() bool {
	return o.After == "" && o.Field == ""
}

// UnmarshalYAML accepts either an integer or a formula mapping.
func (o *Offset) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var n int
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("offset: %w", err)
		}
		*o = Offset{Base: n}
		return nil
	}
	type plain Offset
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	*o = Offset(p)
	return nil
}

// String renders the offset the way it is written in the tables.
func (o Offset) String() string {
	if o.IsLiteral() {
		return fmt.Sprintf("%d", o.Base)
	}
	s := ""
	if o.After != "" {
		s = "end(" + o.After + ")"
	}
	if o.Base != 0 || s == "" {
		if s != "" {
			s += "+"
		}
		s += fmt.Sprintf("%d", o.Base)
	}
	if o.Field != "" {
		s += fmt.Sprintf("+%s*%d", o.Field, o.Times)
	}
	return s
}

// MarshalJSON renders a literal offset as a number and a formula as its
// table notation.
func (o Offset) MarshalJSON() ([]byte, error) {
	if o.IsLiteral() {
		return []byte(fmt.Sprintf("%d", o.Base)), nil
	}
	return []byte(fmt.Sprintf("%q", o.String())), nil
}

// Resolve evaluates the offset against the ends of already processed items
// and the values of already processed fields.
func (o Offset) Resolve(ends map[string]int, values domain.Fields) (int, error) {
	off := o.Base
	if o.After != "" {
		end, ok := ends[o.After]
		if !ok {
			return 0, fmt.Errorf("offset refers to unprocessed item %q", o.After)
		}
		off += end
	}
	if o.Field != "" {
		n, err := values.Int(o.Field)
		if err != nil {
			return 0, fmt.Errorf("%w: offset formula: %v", codec.ErrInvalidRecord, err)
		}
		off += int(n) * o.Times
	}
	return off, nil
}

// FieldSpec declares one field of a layout.
type FieldSpec struct {
	Name         string               `yaml:"name" json:"name"`
	Offset       Offset               `yaml:"offset" json:"offset"`
	Width        int                  `yaml:"width" json:"width,omitempty"`
	Kind         Kind                 `yaml:"kind" json:"kind"`
	Scale        float64              `yaml:"scale" json:"scale,omitempty"`
	Bias         float64              `yaml:"bias" json:"bias,omitempty"`
	AbsentIfZero bool                 `yaml:"absent_if_zero" json:"absent_if_zero,omitempty"`
	Min          *int64               `yaml:"min" json:"min,omitempty"`
	Max          *int64               `yaml:"max" json:"max,omitempty"`
	Count        int                  `yaml:"count" json:"count,omitempty"`
	Unit         string               `yaml:"unit" json:"unit,omitempty"`
	Group        *HierarchyDescriptor `yaml:"group" json:"group,omitempty"`
}

// Transform returns the field's affine transform.
func (f *FieldSpec) Transform() codec.Transform {
	return codec.Transform{Scale: f.Scale, Bias: f.Bias}
}

// Slots returns the number of two-bit slots of an enable field.
func (f *FieldSpec) Slots() int {
	if f.Count > 0 {
		return f.Count
	}
	return f.Width * 4
}

// HierarchyDescriptor describes a repeated group and the arrays its elements
// gate. Element fields use offsets relative to the element start.
type HierarchyDescriptor struct {
	Count      int         `yaml:"count" json:"count,omitempty"`
	CountField string      `yaml:"count_field" json:"count_field,omitempty"`
	Stride     int         `yaml:"stride" json:"stride,omitempty"`
	Fields     []FieldSpec `yaml:"fields" json:"fields"`
	Arrays     []ArraySpec `yaml:"arrays" json:"arrays,omitempty"`
}

// ArraySpec describes an array laid out back to back across all group
// elements, each element contributing the count held in its CountField.
type ArraySpec struct {
	Name       string    `yaml:"name" json:"name"`
	CountField string    `yaml:"count_field" json:"count_field,omitempty"`
	Offset     Offset    `yaml:"offset" json:"offset"`
	Stride     int       `yaml:"stride" json:"stride,omitempty"`
	Element    FieldSpec `yaml:"element" json:"element"`
}

// FieldLayout is the ordered field list for one block at one version tier.
type FieldLayout struct {
	MinVersion int         `yaml:"min_version" json:"min_version"`
	Fields     []FieldSpec `yaml:"fields" json:"fields"`
}

// Field returns the top-level field with the given name.
func (l *FieldLayout) Field(name string) (*FieldSpec, bool) {
	for i := range l.Fields {
		if l.Fields[i].Name == name {
			return &l.Fields[i], true
		}
	}
	return nil, false
}

// BlockSchema is one block's table entry as read from configuration.
type BlockSchema struct {
	Block       uint16        `yaml:"block" json:"block"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description,omitempty"`
	Writable    bool          `yaml:"writable" json:"writable,omitempty"`
	Layouts     []FieldLayout `yaml:"layouts" json:"layouts"`
}

// ElementCount returns the number of group elements: the literal count, or the
// value of the count field already present in fields.
func (g *HierarchyDescriptor) ElementCount(fields domain.Fields) (int, error) {
	if g.CountField == "" {
		return g.Count, nil
	}
	n, err := fields.Int(g.CountField)
	if err != nil {
		return 0, fmt.Errorf("%w: group count: %v", codec.ErrInvalidRecord, err)
	}
	if n < 0 {
		return 0, nil
	}
	return int(n), nil
}

// Counts returns the per-element counts of the array.
func (a *ArraySpec) Counts(elems []domain.Fields) ([]int, error) {
	counts := make([]int, len(elems))
	for i, e := range elems {
		n, err := e.Int(a.CountField)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d count for %s: %v", codec.ErrInvalidRecord, i, a.Name, err)
		}
		counts[i] = int(n)
	}
	return counts, nil
}
