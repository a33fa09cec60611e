package schema

import (
	"fmt"
	"sort"
)

// Validate checks a block's table entry. Every registered block must pass
// before the registry accepts it.
func (b *BlockSchema) Validate() error {
	if len(b.Layouts) == 0 {
		return fmt.Errorf("block %d: no layouts", b.Block)
	}

	seen := make(map[int]bool, len(b.Layouts))
	for i := range b.Layouts {
		l := &b.Layouts[i]
		if seen[l.MinVersion] {
			return fmt.Errorf("block %d: duplicate min_version %d", b.Block, l.MinVersion)
		}
		seen[l.MinVersion] = true

		if err := l.validate(); err != nil {
			return fmt.Errorf("block %d layout v%d: %w", b.Block, l.MinVersion, err)
		}
	}
	return nil
}

type fieldInfo struct {
	integer  bool
	identity bool
}

func (l *FieldLayout) validate() error {
	if len(l.Fields) == 0 {
		return fmt.Errorf("no fields")
	}

	known := make(map[string]fieldInfo)
	lastLiteral := -1
	for i := range l.Fields {
		f := &l.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, dup := known[f.Name]; dup {
			return fmt.Errorf("duplicate name %q", f.Name)
		}
		if err := checkOffset(f.Offset, known); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		if f.Offset.IsLiteral() {
			if f.Offset.Base < lastLiteral {
				return fmt.Errorf("field %s: literal offset %d precedes an earlier field", f.Name, f.Offset.Base)
			}
			lastLiteral = f.Offset.Base
		}

		if f.Kind == KindGroup {
			if err := f.validateGroup(known); err != nil {
				return fmt.Errorf("group %s: %w", f.Name, err)
			}
			continue
		}
		if err := f.validateScalar(); err != nil {
			return err
		}
		known[f.Name] = fieldInfo{integer: f.isInteger(), identity: f.Transform().IsIdentity()}
	}
	return nil
}

func checkOffset(o Offset, known map[string]fieldInfo) error {
	if o.Base < 0 && o.IsLiteral() {
		return fmt.Errorf("negative offset %d", o.Base)
	}
	if o.After != "" {
		if _, ok := known[o.After]; !ok {
			return fmt.Errorf("offset refers to %q which is not declared earlier", o.After)
		}
	}
	if o.Field != "" {
		info, ok := known[o.Field]
		if !ok {
			return fmt.Errorf("offset refers to %q which is not declared earlier", o.Field)
		}
		if !info.integer || !info.identity {
			return fmt.Errorf("offset formula field %q is not a plain integer", o.Field)
		}
	}
	return nil
}

func (f *FieldSpec) isInteger() bool {
	return f.Kind == KindUint || f.Kind == KindInt
}

func (f *FieldSpec) validateScalar() error {
	switch f.Kind {
	case KindUint, KindInt:
		if f.Width != 1 && f.Width != 2 && f.Width != 4 {
			return fmt.Errorf("field %s: width %d, want 1, 2 or 4", f.Name, f.Width)
		}
		if f.Scale < 0 {
			return fmt.Errorf("field %s: negative scale", f.Name)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return fmt.Errorf("field %s: min %d above max %d", f.Name, *f.Min, *f.Max)
		}
	case KindASCII, KindBytes:
		if f.Width <= 0 {
			return fmt.Errorf("field %s: width must be positive", f.Name)
		}
	case KindEnableFlags, KindEnableCodes:
		if f.Width <= 0 {
			return fmt.Errorf("field %s: width must be positive", f.Name)
		}
		if f.Count < 0 || f.Count > f.Width*4 {
			return fmt.Errorf("field %s: %d slots do not fit in %d bytes", f.Name, f.Count, f.Width)
		}
	case KindCellWord:
		if f.Width == 0 {
			f.Width = 2
		}
		if f.Width != 2 {
			return fmt.Errorf("field %s: cell word width must be 2", f.Name)
		}
	case KindWeekdays:
		if f.Width == 0 {
			f.Width = 2
		}
		if f.Width != 1 && f.Width != 2 {
			return fmt.Errorf("field %s: weekday mask width must be 1 or 2", f.Name)
		}
	case "":
		return fmt.Errorf("field %s: missing kind", f.Name)
	default:
		return fmt.Errorf("field %s: unknown kind %q", f.Name, f.Kind)
	}
	return nil
}

func (f *FieldSpec) validateGroup(known map[string]fieldInfo) error {
	g := f.Group
	if g == nil {
		return fmt.Errorf("missing group descriptor")
	}
	if g.Stride <= 0 {
		return fmt.Errorf("stride must be positive")
	}
	switch {
	case g.CountField == "" && g.Count <= 0:
		return fmt.Errorf("needs count or count_field")
	case g.CountField != "" && g.Count != 0:
		return fmt.Errorf("count and count_field are exclusive")
	case g.CountField != "":
		info, ok := known[g.CountField]
		if !ok {
			return fmt.Errorf("count_field %q is not declared earlier", g.CountField)
		}
		if !info.integer || !info.identity {
			return fmt.Errorf("count_field %q is not a plain integer", g.CountField)
		}
	}

	elem := make(map[string]fieldInfo, len(g.Fields))
	for i := range g.Fields {
		sub := &g.Fields[i]
		if sub.Name == "" {
			return fmt.Errorf("element field %d has no name", i)
		}
		if _, dup := elem[sub.Name]; dup {
			return fmt.Errorf("duplicate element field %q", sub.Name)
		}
		if !sub.Offset.IsLiteral() {
			return fmt.Errorf("element field %s: offset must be literal", sub.Name)
		}
		if sub.Kind == KindGroup {
			return fmt.Errorf("element field %s: nested groups are not supported", sub.Name)
		}
		if err := sub.validateScalar(); err != nil {
			return err
		}
		if sub.Offset.Base+sub.Width > g.Stride {
			return fmt.Errorf("element field %s ends past stride %d", sub.Name, g.Stride)
		}
		elem[sub.Name] = fieldInfo{integer: sub.isInteger(), identity: sub.Transform().IsIdentity()}
	}
	known[f.Name] = fieldInfo{}

	for i := range g.Arrays {
		a := &g.Arrays[i]
		if a.Name == "" {
			return fmt.Errorf("array %d has no name", i)
		}
		if _, dup := known[a.Name]; dup {
			return fmt.Errorf("duplicate name %q", a.Name)
		}
		info, ok := elem[a.CountField]
		if !ok || !info.integer || !info.identity {
			return fmt.Errorf("array %s: count_field %q is not a plain integer element field", a.Name, a.CountField)
		}
		if err := checkOffset(a.Offset, known); err != nil {
			return fmt.Errorf("array %s: %w", a.Name, err)
		}
		if a.Element.Kind == KindGroup {
			return fmt.Errorf("array %s: element cannot be a group", a.Name)
		}
		if a.Element.Name == "" {
			a.Element.Name = a.Name
		}
		if err := a.Element.validateScalar(); err != nil {
			return err
		}
		if a.Stride <= 0 {
			a.Stride = a.Element.Width
		}
		if a.Element.Width > a.Stride {
			return fmt.Errorf("array %s: element width %d exceeds stride %d", a.Name, a.Element.Width, a.Stride)
		}
		known[a.Name] = fieldInfo{}
	}
	return nil
}

// sortLayouts orders layouts most specific version first.
func sortLayouts(layouts []FieldLayout) {
	sort.Slice(layouts, func(i, j int) bool {
		return layouts[i].MinVersion > layouts[j].MinVersion
	})
}
