package sqlutil

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		input    string
		expected string
	}{
		{MySQL, "users", "`users`"},
		{MySQL, "select", "`select`"},
		{MySQL, "user`data", "`user``data`"},
		{SQLite, "first name", "`first name`"},
		{Postgres, "users", `"users"`},
		{Postgres, `a"b`, `"a""b"`},
		{Postgres, "", `""`},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect)+"/"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dialect.QuoteIdentifier(tt.input))
		})
	}
}

func TestParseDialect(t *testing.T) {
	for input, want := range map[string]Dialect{
		"":           MySQL,
		"TiDB":       MySQL,
		"postgresql": Postgres,
		"sqlite3":    SQLite,
	} {
		got, err := ParseDialect(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseDialect("oracle")
	assert.Error(t, err)
}

func TestPlaceholder(t *testing.T) {
	sql, _, err := sq.Select("id").From("t").Where(sq.Eq{"a": 1}).PlaceholderFormat(Postgres.Placeholder()).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM t WHERE a = $1", sql)

	sql, _, err = sq.Select("id").From("t").Where(sq.Eq{"a": 1}).PlaceholderFormat(MySQL.Placeholder()).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM t WHERE a = ?", sql)
}
