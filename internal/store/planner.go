package store

import (
	"errors"
	"fmt"
	"reflect"

	sq "github.com/Masterminds/squirrel"

	"relq/internal/query"
	"relq/internal/schema"
	"relq/internal/sqlutil"
)

// ErrInvalidOptions indicates find options that cannot be turned into SQL.
var ErrInvalidOptions = errors.New("invalid find options")

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// PlanFind builds the SELECT statement for opts against entity.
func PlanFind(dialect sqlutil.Dialect, entity *schema.Entity, opts query.FindOptions) (SQLQuery, error) {
	columns := make([]string, len(entity.Columns))
	for i, col := range entity.Columns {
		columns[i] = dialect.QuoteIdentifier(col)
	}

	builder := sq.Select(columns...).
		From(dialect.QuoteIdentifier(entity.Table)).
		PlaceholderFormat(dialect.Placeholder())

	if len(opts.Where) > 0 {
		conditions := make(sq.And, 0, len(opts.Where))
		for _, field := range opts.Where.Fields() {
			if !entity.HasColumn(field) {
				return SQLQuery{}, fmt.Errorf("where %s.%s: %w", entity.Name, field, schema.ErrUnknownField)
			}
			cond, err := buildPredicate(dialect.QuoteIdentifier(field), opts.Where[field])
			if err != nil {
				return SQLQuery{}, fmt.Errorf("where %s.%s: %w", entity.Name, field, err)
			}
			conditions = append(conditions, cond)
		}
		builder = builder.Where(conditions)
	}

	for _, s := range opts.OrderBy {
		if !entity.HasColumn(s.Field) {
			return SQLQuery{}, fmt.Errorf("order by %s.%s: %w", entity.Name, s.Field, schema.ErrUnknownField)
		}
		dir := s.Direction
		switch dir {
		case "":
			dir = query.Asc
		case query.Asc, query.Desc:
		default:
			return SQLQuery{}, fmt.Errorf("%w: order direction %q", ErrInvalidOptions, s.Direction)
		}
		builder = builder.OrderBy(dialect.QuoteIdentifier(s.Field) + " " + string(dir))
	}

	if opts.Limit < 0 || opts.Page < 0 {
		return SQLQuery{}, fmt.Errorf("%w: limit and page must not be negative", ErrInvalidOptions)
	}
	if opts.OffsetOverflows() {
		return SQLQuery{}, fmt.Errorf("%w: page %d is out of range", ErrInvalidOptions, opts.Page)
	}
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
		if offset := opts.Offset(); offset > 0 {
			builder = builder.Offset(uint64(offset))
		}
	}

	sqlText, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlText, Args: args}, nil
}

func buildPredicate(column string, value interface{}) (sq.Sqlizer, error) {
	switch v := value.(type) {
	case nil:
		return sq.Eq{column: nil}, nil
	case []byte:
		return sq.Eq{column: v}, nil
	case query.Custom:
		if v.Sqlizer == nil {
			return nil, fmt.Errorf("%w: empty custom predicate", ErrInvalidOptions)
		}
		return v.Sqlizer, nil
	case *query.Custom:
		if v == nil {
			return nil, fmt.Errorf("%w: empty custom predicate", ErrInvalidOptions)
		}
		return buildPredicate(column, *v)
	case query.Cmp:
		return buildComparison(column, v)
	case *query.Cmp:
		if v == nil {
			return sq.Eq{column: nil}, nil
		}
		return buildComparison(column, *v)
	}

	if values, ok := query.Values(value); ok {
		for _, item := range values {
			if err := checkScalar(item); err != nil {
				return nil, err
			}
		}
		return sq.Eq{column: values}, nil
	}
	if err := checkScalar(value); err != nil {
		return nil, err
	}
	return sq.Eq{column: value}, nil
}

func buildComparison(column string, c query.Cmp) (sq.Sqlizer, error) {
	if err := checkScalar(c.Value); err != nil {
		return nil, err
	}
	switch c.Op {
	case query.OpNe:
		return sq.NotEq{column: c.Value}, nil
	case query.OpGt:
		return sq.Gt{column: c.Value}, nil
	case query.OpGte:
		return sq.GtOrEq{column: c.Value}, nil
	case query.OpLt:
		return sq.Lt{column: c.Value}, nil
	case query.OpLte:
		return sq.LtOrEq{column: c.Value}, nil
	case query.OpLike:
		return sq.Like{column: c.Value}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidOptions, c.Op)
	}
}

// checkScalar rejects values no SQL driver can bind.
func checkScalar(value interface{}) error {
	if value == nil {
		return nil
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Array:
		if _, ok := value.([]byte); ok {
			return nil
		}
		return fmt.Errorf("%w: unsupported predicate value of type %T", ErrInvalidOptions, value)
	}
	return nil
}
