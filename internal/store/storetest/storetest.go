// Package storetest provides throwaway SQLite catalogs for tests.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// Layout matches how the catalog application writes timestamps.
const Layout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT,
	description TEXT,
	price REAL NOT NULL DEFAULT 0,
	stock INTEGER NOT NULL DEFAULT 0,
	limit_quantity INTEGER,
	image TEXT,
	allergens TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL,
	product_id INTEGER NOT NULL,
	quantity INTEGER NOT NULL,
	image TEXT,
	options TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE access_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	access_token TEXT NOT NULL,
	created_at DATETIME
);`

// Open creates a file-backed SQLite database with the catalog schema.
// It is closed when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

// Product is a row to insert into products.
type Product struct {
	Name          string
	Description   string
	Price         float64
	Stock         int
	LimitQuantity *int64
	Image         string
	Allergens     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InsertProduct inserts p. Timestamps are stored as naive wall clock in
// their own location.
func InsertProduct(t testing.TB, db *sql.DB, p Product) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO products (name, description, price, stock, limit_quantity, image, allergens, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Price, p.Stock, p.LimitQuantity, p.Image, p.Allergens,
		p.CreatedAt.Format(Layout), p.UpdatedAt.Format(Layout),
	)
	if err != nil {
		t.Fatalf("inserting product: %v", err)
	}
}

// Order is a row to insert into orders.
type Order struct {
	UUID      string
	ProductID int
	Quantity  int
	Image     string
	Options   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InsertOrder inserts o. Timestamps are stored as naive wall clock in their
// own location.
func InsertOrder(t testing.TB, db *sql.DB, o Order) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO orders (uuid, product_id, quantity, image, options, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.UUID, o.ProductID, o.Quantity, o.Image, o.Options,
		o.CreatedAt.Format(Layout), o.UpdatedAt.Format(Layout),
	)
	if err != nil {
		t.Fatalf("inserting order: %v", err)
	}
}

// InsertToken inserts an access token created at createdAt, stored as naive
// wall clock in createdAt's location.
func InsertToken(t testing.TB, db *sql.DB, token string, createdAt time.Time) {
	t.Helper()

	if _, err := db.Exec(
		"INSERT INTO access_tokens (access_token, created_at) VALUES (?, ?)",
		token, createdAt.Format(Layout),
	); err != nil {
		t.Fatalf("inserting token: %v", err)
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
