package server

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"relq/internal/include"
	"relq/internal/query"
	"relq/internal/store"
)

// queryRequest is the body of POST /query.
//
// Where values are matched by equality, arrays by membership and null by
// IS NULL. An object with a single operator key ({"gt": 5}) expresses the
// other comparisons. Limit and page accept numbers or numeric strings.
type queryRequest struct {
	Entity  string                 `json:"entity"`
	Where   map[string]interface{} `json:"where,omitempty"`
	OrderBy []query.Sort           `json:"orderBy,omitempty"`
	Limit   interface{}            `json:"limit,omitempty"`
	Page    interface{}            `json:"page,omitempty"`
	Include include.Tree           `json:"include,omitempty"`
}

var operators = map[string]query.Operator{
	"ne":   query.OpNe,
	"gt":   query.OpGt,
	"gte":  query.OpGte,
	"lt":   query.OpLt,
	"lte":  query.OpLte,
	"like": query.OpLike,
}

// findOptions converts the request into find options for the root entity.
func (q *queryRequest) findOptions(defaultLimit, maxLimit int) (query.FindOptions, error) {
	var opts query.FindOptions
	where, err := normalizeFilter(q.Where)
	if err != nil {
		return opts, err
	}
	orderBy, err := normalizeSorts(q.OrderBy)
	if err != nil {
		return opts, err
	}
	limit, err := toInt("limit", q.Limit)
	if err != nil {
		return opts, err
	}
	page, err := toInt("page", q.Page)
	if err != nil {
		return opts, err
	}

	if limit == 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && (limit == 0 || limit > maxLimit) {
		limit = maxLimit
	}
	opts = query.FindOptions{Where: where, OrderBy: orderBy, Limit: limit, Page: page}
	if opts.OffsetOverflows() {
		return query.FindOptions{}, fmt.Errorf("%w: page %d is out of range", store.ErrInvalidOptions, page)
	}
	return opts, nil
}

// normalizeTree rewrites the filters and sorts of every node in place.
func normalizeTree(tree include.Tree) error {
	for name, node := range tree {
		if node == nil {
			continue
		}
		where, err := normalizeFilter(node.Where)
		if err != nil {
			return fmt.Errorf("include %s: %w", name, err)
		}
		orderBy, err := normalizeSorts(node.OrderBy)
		if err != nil {
			return fmt.Errorf("include %s: %w", name, err)
		}
		node.Where, node.OrderBy = where, orderBy
		if err := normalizeTree(node.Include); err != nil {
			return fmt.Errorf("include %s: %w", name, err)
		}
	}
	return nil
}

func normalizeFilter(raw map[string]interface{}) (query.Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(query.Filter, len(raw))
	for field, v := range raw {
		pred, err := normalizePredicate(v)
		if err != nil {
			return nil, fmt.Errorf("where %s: %w", field, err)
		}
		out[field] = pred
	}
	return out, nil
}

func normalizePredicate(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) != 1 {
			return nil, fmt.Errorf("%w: expected exactly one operator, got %d", store.ErrInvalidOptions, len(t))
		}
		for name, operand := range t {
			name = strings.ToLower(name)
			switch name {
			case "eq":
				return normalizeValue(operand)
			case "in":
				values, ok := operand.([]interface{})
				if !ok {
					return nil, fmt.Errorf("%w: in expects an array", store.ErrInvalidOptions)
				}
				return normalizeList(values)
			}
			op, ok := operators[name]
			if !ok {
				return nil, fmt.Errorf("%w: unknown operator %q", store.ErrInvalidOptions, name)
			}
			value, err := normalizeValue(operand)
			if err != nil {
				return nil, err
			}
			return query.Cmp{Op: op, Value: value}, nil
		}
	case []interface{}:
		return normalizeList(t)
	}
	return normalizeValue(v)
}

func normalizeList(values []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(values))
	for i, v := range values {
		n, err := normalizeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// normalizeValue turns decoded JSON numbers into int64 when integral and
// float64 otherwise. Composite values are rejected.
func normalizeValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", store.ErrInvalidOptions, t.String())
		}
		return f, nil
	case map[string]interface{}, []interface{}:
		return nil, fmt.Errorf("%w: unsupported nested value", store.ErrInvalidOptions)
	default:
		return v, nil
	}
}

func normalizeSorts(sorts []query.Sort) ([]query.Sort, error) {
	if len(sorts) == 0 {
		return nil, nil
	}
	out := make([]query.Sort, len(sorts))
	for i, s := range sorts {
		if s.Field == "" {
			return nil, fmt.Errorf("%w: orderBy entry without field", store.ErrInvalidOptions)
		}
		out[i] = query.Sort{Field: s.Field, Direction: query.Direction(strings.ToUpper(string(s.Direction)))}
	}
	return out, nil
}

func toInt(name string, v interface{}) (int, error) {
	if v == nil {
		return 0, nil
	}
	v, err := normalizeValue(v)
	if err != nil {
		return 0, err
	}
	n, err := cast.ToIntE(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", store.ErrInvalidOptions, name)
	}
	return n, nil
}
