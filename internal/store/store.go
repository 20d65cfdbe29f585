// Package store reads entity rows from SQL databases.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"relq/internal/dbexec"
	"relq/internal/loader"
	"relq/internal/logging"
	"relq/internal/query"
	"relq/internal/schema"
	"relq/internal/sqlutil"
)

// ErrAccessDenied indicates the database refused the read for lack of privileges.
var ErrAccessDenied = errors.New("access denied")

// MySQL/TiDB error codes for access control violations.
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	mysqlErrDBAccessDenied     = 1044 // Access denied for user to database
	mysqlErrTableAccessDenied  = 1142 // SELECT command denied to user for table
	mysqlErrColumnAccessDenied = 1143 // SELECT command denied to user for column
)

// Store runs entity reads against one database.
type Store struct {
	executor dbexec.QueryExecutor
	dialect  sqlutil.Dialect
	schema   *schema.Schema
}

// New creates a Store for the entities of s.
func New(executor dbexec.QueryExecutor, dialect sqlutil.Dialect, s *schema.Schema) *Store {
	return &Store{executor: executor, dialect: dialect, schema: s}
}

// Schema returns the schema served by the store.
func (s *Store) Schema() *schema.Schema {
	return s.schema
}

// Find reads rows of the named entity.
func (s *Store) Find(ctx context.Context, entityName string, opts query.FindOptions) ([]query.Row, error) {
	entity, err := s.schema.Entity(entityName)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, entity, opts)
}

func (s *Store) find(ctx context.Context, entity *schema.Entity, opts query.FindOptions) ([]query.Row, error) {
	planned, err := PlanFind(s.dialect, entity, opts)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("executing entity read",
		"entity", entity.Name,
		"sql", planned.SQL,
		"args", len(planned.Args),
	)

	rows, err := s.executor.QueryContext(ctx, planned.SQL, planned.Args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", entity.Name, normalizeQueryError(err))
	}
	defer rows.Close()

	results, err := scanRows(rows, entity.Columns)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", entity.Name, normalizeQueryError(err))
	}
	return results, nil
}

// RelationHelper returns the loader helper reading the target of
// entityName.relationName.
func (s *Store) RelationHelper(entityName, relationName string) (loader.RelationHelper, *schema.Relation, error) {
	source, err := s.schema.Entity(entityName)
	if err != nil {
		return nil, nil, err
	}
	rel, err := source.Relation(relationName)
	if err != nil {
		return nil, nil, err
	}
	target, err := s.schema.Entity(rel.Target)
	if err != nil {
		return nil, nil, err
	}
	return &relationHelper{store: s, target: target, relation: rel}, rel, nil
}

type relationHelper struct {
	store    *Store
	target   *schema.Entity
	relation *schema.Relation
}

func (h *relationHelper) Metadata() loader.Metadata {
	return h.relation.Metadata()
}

func (h *relationHelper) Find(ctx context.Context, opts query.FindOptions) ([]query.Row, error) {
	return h.store.find(ctx, h.target, opts)
}

func normalizeQueryError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
			return fmt.Errorf("%w: %s", ErrAccessDenied, mysqlErr.Message)
		}
	}
	return err
}

func scanRows(rows dbexec.Rows, columns []string) ([]query.Row, error) {
	results := []query.Row{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(query.Row, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

func convertValue(val interface{}) interface{} {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
