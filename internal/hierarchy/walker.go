// Package hierarchy computes the positions of nested repeated data whose
// counts are discovered mid-parse (pack -> BMU -> cell/NTC).
//
// Sibling groups lay their elements out back to back, so element j of group i
// lives at global index Starts[i]+j and byte offset Base+(Starts[i]+j)*Stride,
// where Starts is the prefix sum of the preceding groups' counts.
package hierarchy

import (
	"github.com/resident-x/go-v2blocks/internal/codec"
)

// Plan holds every offset of one array kind across all sibling groups.
type Plan struct {
	Name   string
	Base   int
	Stride int
	Counts []int
	// Starts[i] is the global index of the first element of group i.
	// Starts has len(Counts)+1 entries; the last one is the total.
	Starts []int
}

// Total returns the number of elements across all groups.
func (p Plan) Total() int {
	if len(p.Starts) == 0 {
		return 0
	}
	return p.Starts[len(p.Starts)-1]
}

// Bytes returns the number of bytes the array occupies.
func (p Plan) Bytes() int {
	return p.Total() * p.Stride
}

// End returns the offset just past the array.
func (p Plan) End() int {
	return p.Base + p.Bytes()
}

// Range returns the global index range [start, end) of group i.
func (p Plan) Range(i int) (start, end int) {
	return p.Starts[i], p.Starts[i+1]
}

// Offset returns the byte offset of element j of group i.
func (p Plan) Offset(i, j int) int {
	return p.Base + (p.Starts[i]+j)*p.Stride
}

// ElementOffset returns the byte offset of the element at a global index.
func (p Plan) ElementOffset(global int) int {
	return p.Base + global*p.Stride
}

// Walk folds counts into a Plan. A zero count contributes no elements and no
// bytes. If the array would extend past available bytes, Walk fails with a
// codec.TruncatedGroupError reporting how many whole elements would fit.
func Walk(name string, counts []int, base, stride, available int) (Plan, error) {
	plan := Plan{
		Name:   name,
		Base:   base,
		Stride: stride,
		Counts: append([]int(nil), counts...),
		Starts: make([]int, len(counts)+1),
	}
	for i, n := range counts {
		if n < 0 {
			n = 0
			plan.Counts[i] = 0
		}
		plan.Starts[i+1] = plan.Starts[i] + n
	}

	total := plan.Total()
	if total == 0 {
		return plan, nil
	}
	if base+total*stride > available {
		recoverable := 0
		if stride > 0 && available > base {
			recoverable = (available - base) / stride
		}
		return Plan{}, &codec.TruncatedGroupError{Group: name, Declared: total, Recoverable: recoverable}
	}
	return plan, nil
}

// Single plans one group of count elements, the common case of a top-level
// repeated structure.
func Single(name string, count, base, stride, available int) (Plan, error) {
	return Walk(name, []int{count}, base, stride, available)
}
