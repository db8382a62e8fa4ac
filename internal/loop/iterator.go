package loop

import "math"

// lastTolerance absorbs floating-point drift when deciding whether a tick is
// the final one. Counters are floats so that fractional --count-by values
// work; tick counts accumulate the same way and may miss an exact compare.
const lastTolerance = 0.01

// Iteration is the per-tick context handed to the step. It is immutable once
// produced.
type Iteration struct {
	// Index is the zero-based tick number.
	Index int

	// Count is the scaled counter: offset + Index*step.
	Count float64

	// Item is the current --for/stdin item. HasItem is false when the item
	// list is shorter than the tick count or empty.
	Item    string
	HasItem bool

	// Last is true on the final tick of a bounded iterator.
	Last bool
}

// Iterator produces Iterations until its bound is exceeded.
//
// The bound is, in order of precedence: an explicit count, the number of
// items, or unbounded.
type Iterator struct {
	cursor float64
	ticks  float64
	bound  float64
	step   float64
	items  []string
}

// NewIterator builds an iterator. count may be nil for "no explicit count".
// A negative count means unbounded.
func NewIterator(offset, stepSize float64, count *float64, items []string) *Iterator {
	bound := math.Inf(1)
	switch {
	case count != nil && *count >= 0:
		bound = *count
	case count != nil:
		// negative: unbounded
	case len(items) > 0:
		bound = float64(len(items))
	}
	return &Iterator{
		cursor: offset - stepSize,
		bound:  bound,
		step:   stepSize,
		items:  items,
	}
}

// Bounded reports whether the iterator will eventually be exhausted.
func (it *Iterator) Bounded() bool {
	return !math.IsInf(it.bound, 1)
}

// Bound returns the number of ticks a bounded iterator yields, or +Inf.
func (it *Iterator) Bound() float64 {
	return it.bound
}

// Next advances the iterator. It returns false once the bound is exceeded.
func (it *Iterator) Next() (Iteration, bool) {
	it.cursor += it.step
	it.ticks++
	if it.ticks > it.bound {
		return Iteration{}, false
	}

	index := int(it.ticks) - 1
	next := Iteration{
		Index: index,
		Count: it.cursor,
		Last:  math.Abs((it.ticks-1)-(it.bound-1)) <= lastTolerance,
	}
	if index < len(it.items) {
		next.Item = it.items[index]
		next.HasItem = true
	}
	return next, true
}
