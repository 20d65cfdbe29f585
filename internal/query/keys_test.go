package query

import (
	"math"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeKey(t *testing.T) {
	t.Run("ignores map insertion order", func(t *testing.T) {
		a := FindOptions{Where: Filter{"status": "open", "region": "eu"}}
		b := FindOptions{Where: Filter{"region": "eu", "status": "open"}}

		keyA, err := ShapeKey(a)
		require.NoError(t, err)
		keyB, err := ShapeKey(b)
		require.NoError(t, err)
		assert.Equal(t, keyA, keyB)
	})

	t.Run("distinguishes predicate values", func(t *testing.T) {
		open, err := ShapeKey(FindOptions{Where: Filter{"status": "open"}})
		require.NoError(t, err)
		closed, err := ShapeKey(FindOptions{Where: Filter{"status": "closed"}})
		require.NoError(t, err)
		assert.NotEqual(t, open, closed)
	})

	t.Run("distinguishes order and pagination", func(t *testing.T) {
		base, err := ShapeKey(FindOptions{})
		require.NoError(t, err)
		ordered, err := ShapeKey(FindOptions{OrderBy: []Sort{{Field: "id", Direction: Desc}}})
		require.NoError(t, err)
		limited, err := ShapeKey(FindOptions{Limit: 10})
		require.NoError(t, err)

		assert.NotEqual(t, base, ordered)
		assert.NotEqual(t, base, limited)
		assert.NotEqual(t, ordered, limited)
	})

	t.Run("default direction equals explicit ascending", func(t *testing.T) {
		implicit, err := ShapeKey(FindOptions{OrderBy: []Sort{{Field: "id"}}})
		require.NoError(t, err)
		explicit, err := ShapeKey(FindOptions{OrderBy: []Sort{{Field: "id", Direction: Asc}}})
		require.NoError(t, err)
		assert.Equal(t, implicit, explicit)
	})

	t.Run("comparison operators are part of the key", func(t *testing.T) {
		gt, err := ShapeKey(FindOptions{Where: Filter{"total": Cmp{Op: OpGt, Value: 10}}})
		require.NoError(t, err)
		lt, err := ShapeKey(FindOptions{Where: Filter{"total": Cmp{Op: OpLt, Value: 10}}})
		require.NoError(t, err)
		assert.NotEqual(t, gt, lt)
	})

	t.Run("custom predicates are unserializable", func(t *testing.T) {
		_, err := ShapeKey(FindOptions{Where: Filter{"total": Custom{Sqlizer: sq.Expr("total > 1")}}})
		assert.ErrorIs(t, err, ErrUnserializable)
	})

	t.Run("functions are unserializable", func(t *testing.T) {
		_, err := ShapeKey(FindOptions{Where: Filter{"cb": func() {}}})
		assert.ErrorIs(t, err, ErrUnserializable)
	})
}

func TestValueKey(t *testing.T) {
	t.Run("numeric widths share a key", func(t *testing.T) {
		a, err := ValueKey(int(7))
		require.NoError(t, err)
		b, err := ValueKey(int64(7))
		require.NoError(t, err)
		c, err := ValueKey(float64(7))
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, a, c)
	})

	t.Run("bytes and strings share a key", func(t *testing.T) {
		a, err := ValueKey([]byte("abc"))
		require.NoError(t, err)
		b, err := ValueKey("abc")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("numbers and numeric strings differ", func(t *testing.T) {
		a, err := ValueKey(1)
		require.NoError(t, err)
		b, err := ValueKey("1")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("composite values compare structurally", func(t *testing.T) {
		a, err := ValueKey(map[string]interface{}{"order": 1, "line": 2})
		require.NoError(t, err)
		b, err := ValueKey(map[string]interface{}{"line": 2, "order": 1})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("plain structs have no canonical form", func(t *testing.T) {
		type lineKey struct{ order, line int }
		_, err := ValueKey(lineKey{1, 1})
		assert.ErrorIs(t, err, ErrUnserializable)
		_, err = ValueKey(&lineKey{2, 2})
		assert.ErrorIs(t, err, ErrUnserializable)
		_, err = ShapeKey(FindOptions{Where: Filter{"line": lineKey{1, 1}}})
		assert.ErrorIs(t, err, ErrUnserializable)
	})

	t.Run("self-encoding structs keep distinct keys", func(t *testing.T) {
		day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
		a, err := ValueKey(day)
		require.NoError(t, err)
		b, err := ValueKey(day.Add(time.Hour))
		require.NoError(t, err)
		c, err := ValueKey(&day)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		assert.Equal(t, a, c)
	})
}

func TestIsSingleValue(t *testing.T) {
	assert.True(t, IsSingleValue(1))
	assert.True(t, IsSingleValue("a"))
	assert.True(t, IsSingleValue([]byte("a")))
	assert.True(t, IsSingleValue(map[string]interface{}{"a": 1}))
	assert.False(t, IsSingleValue(nil))
	assert.False(t, IsSingleValue([]int{1, 2}))
	assert.False(t, IsSingleValue(Cmp{Op: OpGt, Value: 1}))
	assert.False(t, IsSingleValue(Custom{}))
}

func TestValues(t *testing.T) {
	values, ok := Values([]int{1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, []interface{}{1, 2, 3}, values)

	_, ok = Values("abc")
	assert.False(t, ok)

	_, ok = Values([]byte("abc"))
	assert.False(t, ok)
}

func TestFindOptionsCopies(t *testing.T) {
	opts := FindOptions{Where: Filter{"customerId": 1, "status": "open"}, Limit: 5}

	without := opts.Without("customerId")
	assert.Equal(t, Filter{"status": "open"}, without.Where)
	assert.Equal(t, 1, opts.Where["customerId"], "original must stay untouched")

	with := opts.With("customerId", []interface{}{1, 2})
	assert.Equal(t, []interface{}{1, 2}, with.Where["customerId"])
	assert.Equal(t, 1, opts.Where["customerId"])

	assert.Nil(t, FindOptions{Where: Filter{"a": 1}}.Without("a").Where)
	assert.True(t, opts.Paginated())
	assert.Equal(t, 10, FindOptions{Limit: 5, Page: 3}.Offset())
	assert.Equal(t, 0, FindOptions{Page: 3}.Offset())
}

func TestOffsetOverflow(t *testing.T) {
	huge := FindOptions{Limit: 1000, Page: math.MaxInt}
	assert.True(t, huge.OffsetOverflows())
	assert.Equal(t, math.MaxInt, huge.Offset(), "overflowing offsets clamp instead of wrapping")

	edge := FindOptions{Limit: 2, Page: math.MaxInt/2 + 1}
	assert.False(t, edge.OffsetOverflows())
	assert.Equal(t, math.MaxInt-1, edge.Offset())

	assert.False(t, FindOptions{Page: math.MaxInt}.OffsetOverflows(), "no limit means no offset")
}
