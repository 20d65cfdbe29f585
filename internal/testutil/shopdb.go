// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"relq/internal/schema"
)

// ShopEntities is the entity configuration matching the tables of NewShopDB.
func ShopEntities() []schema.EntityConfig {
	return []schema.EntityConfig{
		{
			Name:    "customers",
			Columns: []string{"id", "name"},
			Relations: []schema.RelationConfig{
				{Kind: "to_many", Target: "orders"},
			},
		},
		{
			Name:    "orders",
			Columns: []string{"id", "customer_id", "status", "total"},
			Relations: []schema.RelationConfig{
				{Kind: "to_one", Target: "customers"},
				{Name: "lines", Kind: "to_many", Target: "order_lines", ForeignField: "order_id"},
			},
		},
		{
			Name:    "order_lines",
			Columns: []string{"id", "order_id", "sku"},
			Relations: []schema.RelationConfig{
				{Kind: "to_one", Target: "orders", LocalField: "order_id"},
			},
		},
	}
}

var shopFixture = []string{
	`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
	`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, status TEXT NOT NULL, total REAL NOT NULL)`,
	`CREATE TABLE order_lines (id INTEGER PRIMARY KEY, order_id INTEGER NOT NULL, sku TEXT NOT NULL)`,
	`INSERT INTO customers (id, name) VALUES (1, 'Ada'), (2, 'Grace'), (4, 'Linus')`,
	// Customer 3 does not exist.
	`INSERT INTO orders (id, customer_id, status, total) VALUES
		(10, 1, 'open', 20.0),
		(11, 2, 'closed', 5.0),
		(12, 2, 'open', 7.5),
		(13, 3, 'open', 1.0),
		(14, 1, 'closed', 3.0)`,
	`INSERT INTO order_lines (id, order_id, sku) VALUES (100, 10, 'A'), (101, 10, 'B'), (102, 12, 'C')`,
}

// NewShopDB opens an in-memory SQLite database loaded with the shop fixture.
// Order customer ids are [1, 2, 2, 3, 1] in id order.
func NewShopDB(t *testing.T) (*sql.DB, *schema.Schema) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// Every connection gets its own in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close database connection: %v", err)
		}
	})

	LoadShopFixture(t, db)

	s, err := schema.Build(ShopEntities())
	if err != nil {
		t.Fatalf("failed to build shop schema: %v", err)
	}
	return db, s
}

// LoadShopFixture creates the shop tables in db and fills them.
func LoadShopFixture(t *testing.T, db *sql.DB) {
	t.Helper()

	for _, stmt := range shopFixture {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to load fixture: %v", err)
		}
	}
}

// ShopDBFile writes the shop fixture to a SQLite file in a temporary
// directory and returns its path.
func ShopDBFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open sqlite file: %v", err)
	}
	defer db.Close()
	LoadShopFixture(t, db)
	return path
}
