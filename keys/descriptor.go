package keys

import "sort"

// Filter is one predicate of a query: field, comparison operator and the
// operand value.
type Filter struct {
	Field    string
	Operator string
	Value    any
}

// Ordering is one sort clause of a query.
type Ordering struct {
	Field     string
	Direction string
}

// QueryDescriptor is the canonical shape of one cacheable operation.
// Filters and Orderings are ordered sequences (their order is meaningful
// and affects the key); Columns is a set (its order is not).
type QueryDescriptor struct {
	Collection string
	Method     string
	Filters    []Filter
	Orderings  []Ordering
	Limit      *int
	Offset     *int
	Columns    []string
	Arguments  any
}

// normalized returns a copy with set-valued fields sorted, so that
// descriptors differing only in declaration order of set members derive
// equal keys.
func (d QueryDescriptor) normalized() QueryDescriptor {
	if len(d.Columns) > 0 {
		cols := make([]string, len(d.Columns))
		copy(cols, d.Columns)
		sort.Strings(cols)
		d.Columns = cols
	}
	return d
}
