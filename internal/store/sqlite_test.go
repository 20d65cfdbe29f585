package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relq/internal/dbexec"
	"relq/internal/loader"
	"relq/internal/query"
	"relq/internal/sqlutil"
	"relq/internal/testutil"
)

func TestSQLiteFind(t *testing.T) {
	db, s := testutil.NewShopDB(t)
	st := New(dbexec.NewStandardExecutor(db), sqlutil.SQLite, s)
	ctx := context.Background()

	rows, err := st.Find(ctx, "orders", query.FindOptions{
		Where:   query.Filter{"status": "open"},
		OrderBy: []query.Sort{{Field: "total", Direction: query.Desc}},
		Limit:   2,
		Page:    1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(10), rows[0]["id"])
	assert.Equal(t, int64(12), rows[1]["id"])

	rows, err = st.Find(ctx, "orders", query.FindOptions{
		OrderBy: []query.Sort{{Field: "id"}},
		Limit:   2,
		Page:    2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(12), rows[0]["id"])

	rows, err = st.Find(ctx, "orders", query.FindOptions{
		Where: query.Filter{"total": query.Cmp{Op: query.OpLt, Value: 5}},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSQLiteRelationBatching(t *testing.T) {
	db, s := testutil.NewShopDB(t)
	st := New(dbexec.NewStandardExecutor(db), sqlutil.SQLite, s)
	ctx := context.Background()

	helper, _, err := st.RelationHelper("orders", "customer")
	require.NoError(t, err)
	counting := &countingHelper{RelationHelper: helper}

	l := loader.New()
	var results []*loader.Deferred[[]query.Row]
	for _, id := range []int64{1, 2, 2, 3, 1} {
		results = append(results, l.Load(ctx, counting, query.FindOptions{Where: query.Filter{"id": id}}))
	}
	require.NoError(t, l.ResolveAll(ctx))
	assert.Equal(t, 1, counting.calls)

	names := make([]interface{}, len(results))
	for i, d := range results {
		rows, err := d.Wait(ctx)
		require.NoError(t, err)
		if len(rows) > 0 {
			names[i] = rows[0]["name"]
		}
	}
	assert.Equal(t, []interface{}{"Ada", "Grace", "Grace", nil, "Ada"}, names)
}

type countingHelper struct {
	loader.RelationHelper
	calls int
}

func (c *countingHelper) Find(ctx context.Context, opts query.FindOptions) ([]query.Row, error) {
	c.calls++
	return c.RelationHelper.Find(ctx, opts)
}
