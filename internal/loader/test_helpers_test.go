package loader

import (
	"context"
	"sync"

	"relq/internal/query"
)

// fakeHelper serves rows from memory and records every read.
type fakeHelper struct {
	meta Metadata
	rows []query.Row
	fail func(opts query.FindOptions) error

	mu    sync.Mutex
	calls []query.FindOptions
}

func newFakeHelper(meta Metadata, rows ...query.Row) *fakeHelper {
	return &fakeHelper{meta: meta, rows: rows}
}

func (f *fakeHelper) Metadata() Metadata {
	return f.meta
}

func (f *fakeHelper) Find(ctx context.Context, opts query.FindOptions) ([]query.Row, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.fail != nil {
		if err := f.fail(opts); err != nil {
			return nil, err
		}
	}
	var out []query.Row
	for _, row := range f.rows {
		if matches(row, opts.Where) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeHelper) Calls() []query.FindOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]query.FindOptions(nil), f.calls...)
}

// callWhere returns the first recorded read whose predicate on field equals value.
func (f *fakeHelper) callWhere(field string, value interface{}) (query.FindOptions, bool) {
	for _, call := range f.Calls() {
		if call.Where[field] == value {
			return call, true
		}
	}
	return query.FindOptions{}, false
}

// matches supports equality and membership; other predicates match everything.
func matches(row query.Row, where query.Filter) bool {
	for field, want := range where {
		got, err := query.ValueKey(row[field])
		if err != nil {
			return false
		}
		if _, ok := want.(query.Cmp); ok {
			continue
		}
		if _, ok := want.(query.Custom); ok {
			continue
		}
		if values, ok := query.Values(want); ok {
			found := false
			for _, v := range values {
				if key, _ := query.ValueKey(v); key == got {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if key, _ := query.ValueKey(want); key != got {
			return false
		}
	}
	return true
}

func customerMeta() Metadata {
	return Metadata{
		Entity:   "customers",
		Relation: Relation{Name: "customer", Source: "orders", Kind: ToOne, BatchField: "id"},
	}
}

func ordersMeta() Metadata {
	return Metadata{
		Entity:   "orders",
		Relation: Relation{Name: "orders", Source: "customers", Kind: ToMany, BatchField: "customerId"},
	}
}

func ids(rows []query.Row) []interface{} {
	out := make([]interface{}, len(rows))
	for i, row := range rows {
		out[i] = row["id"]
	}
	return out
}
