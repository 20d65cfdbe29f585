package server

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relq/internal/include"
	"relq/internal/query"
	"relq/internal/store"
)

func decodeRequest(t *testing.T, body string) queryRequest {
	t.Helper()
	var req queryRequest
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&req))
	return req
}

func TestFindOptions(t *testing.T) {
	req := decodeRequest(t, `{
		"entity": "orders",
		"where": {"id": 3, "total": {"lt": 2.5}, "status": {"in": ["open", "closed"]}, "note": null, "sku": {"like": "A%"}},
		"orderBy": [{"field": "id", "direction": "desc"}],
		"limit": 10,
		"page": "3"
	}`)

	opts, err := req.findOptions(100, 0)
	require.NoError(t, err)
	assert.Equal(t, query.FindOptions{
		Where: query.Filter{
			"id":     int64(3),
			"total":  query.Cmp{Op: query.OpLt, Value: 2.5},
			"status": []interface{}{"open", "closed"},
			"note":   nil,
			"sku":    query.Cmp{Op: query.OpLike, Value: "A%"},
		},
		OrderBy: []query.Sort{{Field: "id", Direction: query.Desc}},
		Limit:   10,
		Page:    3,
	}, opts)
}

func TestFindOptionsErrors(t *testing.T) {
	for name, body := range map[string]string{
		"two operators":  `{"where": {"total": {"gt": 1, "lt": 5}}}`,
		"in needs array": `{"where": {"id": {"in": 5}}}`,
		"nested value":   `{"where": {"id": {"eq": {"a": 1}}}}`,
		"nested array":   `{"where": {"id": [[1]]}}`,
		"sort field":     `{"orderBy": [{"direction": "asc"}]}`,
		"non-int limit":  `{"limit": "ten"}`,
		"page overflow":  `{"limit": 1000, "page": 9223372036854775807}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := decodeRequest(t, body)
			_, err := req.findOptions(0, 0)
			assert.ErrorIs(t, err, store.ErrInvalidOptions)
		})
	}
}

func TestNormalizeTree(t *testing.T) {
	req := decodeRequest(t, `{"include": {"orders": {"where": {"total": {"gt": 1}}, "include": {"lines": {"orderBy": [{"field": "sku", "direction": "desc"}]}}}}}`)
	require.NoError(t, normalizeTree(req.Include))

	orders := req.Include["orders"]
	assert.Equal(t, query.Filter{"total": query.Cmp{Op: query.OpGt, Value: int64(1)}}, orders.Where)
	assert.Equal(t, []query.Sort{{Field: "sku", Direction: query.Desc}}, orders.Include["lines"].OrderBy)

	bad := include.Tree{"orders": {Where: query.Filter{"total": map[string]interface{}{"near": 1}}}}
	err := normalizeTree(bad)
	assert.ErrorIs(t, err, store.ErrInvalidOptions)
	assert.Contains(t, err.Error(), "include orders")
}
