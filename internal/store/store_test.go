package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relq/internal/dbexec"
	"relq/internal/loader"
	"relq/internal/query"
	"relq/internal/schema"
	"relq/internal/sqlutil"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return db, mock
}

func expectQuery(t *testing.T, mock sqlmock.Sqlmock, planned SQLQuery) *sqlmock.ExpectedQuery {
	t.Helper()

	expectation := mock.ExpectQuery(regexp.QuoteMeta(planned.SQL))
	if len(planned.Args) > 0 {
		values := make([]driver.Value, len(planned.Args))
		for i, arg := range planned.Args {
			values[i] = arg
		}
		expectation = expectation.WithArgs(values...)
	}
	return expectation
}

func TestStoreFind(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	s := testSchema(t)
	st := New(dbexec.NewStandardExecutor(db), sqlutil.MySQL, s)

	opts := query.FindOptions{Where: query.Filter{"status": "open"}}
	planned, err := PlanFind(sqlutil.MySQL, mustEntity(t, s, "orders"), opts)
	require.NoError(t, err)

	expectQuery(t, mock, planned).WillReturnRows(
		sqlmock.NewRows([]string{"id", "customer_id", "status", "total"}).
			AddRow(int64(1), int64(7), []byte("open"), 12.5).
			AddRow(int64(2), nil, "open", 3.0),
	)

	rows, err := st.Find(context.Background(), "orders", opts)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "open", rows[0]["status"])
	assert.Equal(t, int64(7), rows[0]["customer_id"])
	assert.Nil(t, rows[1]["customer_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFindEmptyResult(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	s := testSchema(t)
	st := New(dbexec.NewStandardExecutor(db), sqlutil.MySQL, s)
	planned, err := PlanFind(sqlutil.MySQL, mustEntity(t, s, "customers"), query.FindOptions{})
	require.NoError(t, err)
	expectQuery(t, mock, planned).WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	rows, err := st.Find(context.Background(), "customers", query.FindOptions{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestStoreErrors(t *testing.T) {
	t.Run("unknown entity", func(t *testing.T) {
		st := New(dbexec.NewStandardExecutor(nil), sqlutil.MySQL, testSchema(t))
		_, err := st.Find(context.Background(), "invoices", query.FindOptions{})
		assert.ErrorIs(t, err, schema.ErrUnknownEntity)
	})

	t.Run("access denied is normalized", func(t *testing.T) {
		db, mock := newMockDB(t)
		defer db.Close()

		s := testSchema(t)
		st := New(dbexec.NewStandardExecutor(db), sqlutil.MySQL, s)
		planned, err := PlanFind(sqlutil.MySQL, mustEntity(t, s, "customers"), query.FindOptions{})
		require.NoError(t, err)
		expectQuery(t, mock, planned).WillReturnError(&mysql.MySQLError{Number: 1142, Message: "SELECT command denied"})

		_, err = st.Find(context.Background(), "customers", query.FindOptions{})
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("other driver errors pass through", func(t *testing.T) {
		db, mock := newMockDB(t)
		defer db.Close()

		errBoom := errors.New("connection reset")
		s := testSchema(t)
		st := New(dbexec.NewStandardExecutor(db), sqlutil.MySQL, s)
		planned, err := PlanFind(sqlutil.MySQL, mustEntity(t, s, "customers"), query.FindOptions{})
		require.NoError(t, err)
		expectQuery(t, mock, planned).WillReturnError(errBoom)

		_, err = st.Find(context.Background(), "customers", query.FindOptions{})
		assert.ErrorIs(t, err, errBoom)
		assert.NotErrorIs(t, err, ErrAccessDenied)
	})
}

func TestRelationHelper(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	s := testSchema(t)
	st := New(dbexec.NewStandardExecutor(db), sqlutil.MySQL, s)

	helper, rel, err := st.RelationHelper("orders", "customer")
	require.NoError(t, err)
	assert.Equal(t, "customer_id", rel.LocalField)

	meta := helper.Metadata()
	assert.Equal(t, "customers", meta.Entity)
	assert.Equal(t, loader.ToOne, meta.Relation.Kind)
	assert.Equal(t, "id", meta.Relation.BatchField)

	opts := query.FindOptions{Where: query.Filter{"id": []interface{}{int64(1), int64(2)}}}
	planned, err := PlanFind(sqlutil.MySQL, mustEntity(t, s, "customers"), opts)
	require.NoError(t, err)
	expectQuery(t, mock, planned).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Ada"),
	)

	rows, err := helper.Find(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	require.NoError(t, mock.ExpectationsWereMet())

	_, _, err = st.RelationHelper("orders", "invoices")
	assert.ErrorIs(t, err, schema.ErrUnknownRelation)
}
