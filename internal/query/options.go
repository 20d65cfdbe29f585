// Package query models the find options passed to entity reads.
package query

import (
	"math"
	"sort"

	sq "github.com/Masterminds/squirrel"
)

// Row is one materialized entity row keyed by field name.
type Row = map[string]interface{}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Sort orders results by one field.
type Sort struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction,omitempty"`
}

// Filter maps a field name to a predicate.
// Scalars and structured values match by equality, slices match by membership
// and nil matches NULL. Cmp and Custom express everything else.
type Filter map[string]interface{}

// Operator is a comparison operator used by Cmp.
type Operator string

const (
	OpNe   Operator = "<>"
	OpGt   Operator = ">"
	OpGte  Operator = ">="
	OpLt   Operator = "<"
	OpLte  Operator = "<="
	OpLike Operator = "LIKE"
)

// Cmp compares a field against a value with a non-equality operator.
type Cmp struct {
	Op    Operator
	Value interface{}
}

// Custom wraps an opaque SQL predicate. Custom predicates have no canonical
// form, so requests carrying one are never cached or batched.
type Custom struct {
	Sqlizer sq.Sqlizer
}

// FindOptions describes one read of an entity.
type FindOptions struct {
	Where   Filter
	OrderBy []Sort
	Limit   int
	Page    int
}

// Clone returns a copy that shares no maps or slices with o.
func (o FindOptions) Clone() FindOptions {
	out := FindOptions{Limit: o.Limit, Page: o.Page}
	if o.Where != nil {
		out.Where = make(Filter, len(o.Where))
		for k, v := range o.Where {
			out.Where[k] = v
		}
	}
	if o.OrderBy != nil {
		out.OrderBy = append([]Sort(nil), o.OrderBy...)
	}
	return out
}

// Without returns a copy of o with the predicate on field removed.
func (o FindOptions) Without(field string) FindOptions {
	out := o.Clone()
	delete(out.Where, field)
	if len(out.Where) == 0 {
		out.Where = nil
	}
	return out
}

// With returns a copy of o whose predicate on field is replaced by value.
func (o FindOptions) With(field string, value interface{}) FindOptions {
	out := o.Clone()
	if out.Where == nil {
		out.Where = make(Filter, 1)
	}
	out.Where[field] = value
	return out
}

// Paginated reports whether o restricts the number of returned rows.
func (o FindOptions) Paginated() bool {
	return o.Limit > 0 || o.Page > 1
}

// Offset returns the row offset implied by Page and Limit. An offset beyond
// the int range is clamped to math.MaxInt.
func (o FindOptions) Offset() int {
	if o.Limit <= 0 || o.Page <= 1 {
		return 0
	}
	if o.OffsetOverflows() {
		return math.MaxInt
	}
	return (o.Page - 1) * o.Limit
}

// OffsetOverflows reports whether Page and Limit imply an offset that does not
// fit in an int.
func (o FindOptions) OffsetOverflows() bool {
	if o.Limit <= 0 || o.Page <= 1 {
		return false
	}
	return o.Page-1 > math.MaxInt/o.Limit
}

// Fields returns the filtered field names in sorted order.
func (f Filter) Fields() []string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
