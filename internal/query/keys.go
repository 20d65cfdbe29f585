package query

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
)

// ErrUnserializable indicates find options or a value have no canonical form.
var ErrUnserializable = errors.New("value cannot be serialized deterministically")

// ShapeKey returns a canonical key for opts. Two option sets produce the same
// key only when they describe the same read, regardless of map insertion order.
func ShapeKey(opts FindOptions) (string, error) {
	where, err := canonicalValue(map[string]interface{}(opts.Where))
	if err != nil {
		return "", err
	}
	order := make([]interface{}, len(opts.OrderBy))
	for i, s := range opts.OrderBy {
		dir := s.Direction
		if dir == "" {
			dir = Asc
		}
		order[i] = []interface{}{s.Field, string(dir)}
	}
	return encode(map[string]interface{}{
		"limit": opts.Limit,
		"order": order,
		"page":  opts.Page,
		"where": where,
	})
}

// ValueKey returns a canonical key for a single batch value. Values that are
// equal after normalization (int vs int64, []byte vs string) share a key.
func ValueKey(value interface{}) (string, error) {
	normalized, err := canonicalValue(value)
	if err != nil {
		return "", err
	}
	return encode(normalized)
}

// IsSingleValue reports whether a predicate selects rows by equality with one
// value, which makes it eligible for IN-list batching.
func IsSingleValue(value interface{}) bool {
	switch value.(type) {
	case nil, Cmp, *Cmp, Custom, *Custom:
		return false
	case []byte:
		return true
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array, reflect.Func, reflect.Chan:
		return false
	}
	return true
}

// Values flattens a membership predicate into its element values.
func Values(value interface{}) ([]interface{}, bool) {
	if _, ok := value.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func encode(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return string(raw), nil
}

func canonicalValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return string(v), nil
	case Custom, *Custom:
		return nil, ErrUnserializable
	case Cmp:
		inner, err := canonicalValue(v.Value)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"$op": string(v.Op), "$v": inner}, nil
	case *Cmp:
		if v == nil {
			return nil, nil
		}
		return canonicalValue(*v)
	case Filter:
		return canonicalValue(map[string]interface{}(v))
	case map[string]interface{}:
		if v == nil {
			return nil, nil
		}
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			c, err := canonicalValue(inner)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, ErrUnserializable
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			c, err := canonicalValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		if marshals(value) {
			return value, nil
		}
		return canonicalValue(rv.Elem().Interface())
	case reflect.Struct:
		// Plain structs encode without their unexported fields, so distinct
		// values could share a key.
		if !marshals(value) {
			return nil, fmt.Errorf("%w: struct %T", ErrUnserializable, value)
		}
	}
	return value, nil
}

// marshals reports whether value controls its own encoding, as time.Time does.
func marshals(value interface{}) bool {
	switch value.(type) {
	case json.Marshaler, encoding.TextMarshaler:
		return true
	}
	return false
}
