package store

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/dgnsrekt/catalog-stream/internal/config"
)

// argLayout is how time arguments are bound in queries. Both dialects compare
// it correctly against DATETIME columns written by the catalog application.
const argLayout = "2006-01-02 15:04:05"

const (
	itemColumns  = "name, description, price, stock, limit_quantity, image, allergens, created_at"
	orderColumns = "uuid, product_id, quantity, image, options, created_at"
)

// Store answers snapshot queries against the catalog database.
type Store struct {
	db     *sql.DB
	loc    *time.Location
	logger *zap.Logger
}

// Open connects to the database described by cfg and verifies the connection.
func Open(ctx context.Context, cfg *config.DBConfig, loc *time.Location, logger *zap.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Connection {
	case "sqlite":
		if !filepath.IsAbs(cfg.Database) {
			return nil, fmt.Errorf("sqlite database path must be absolute: %s", cfg.Database)
		}
		if _, statErr := os.Stat(cfg.Database); os.IsNotExist(statErr) {
			if err := os.MkdirAll(filepath.Dir(cfg.Database), 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
			logger.Warn("database file does not exist, a new one will be created",
				zap.String("path", cfg.Database),
			)
		}
		db, err = sql.Open("sqlite", cfg.Database+"?_pragma=busy_timeout(5000)")
	case "mysql":
		dsn := mysql.NewConfig()
		dsn.User = cfg.Username
		dsn.Passwd = cfg.Password
		dsn.Net = "tcp"
		dsn.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
		dsn.DBName = cfg.Database
		dsn.ParseTime = true
		dsn.Loc = loc
		db, err = sql.Open("mysql", dsn.FormatDSN())
	default:
		return nil, fmt.Errorf("unknown db connection: %s", cfg.Connection)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Connection, err)
	}

	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", cfg.Connection, err)
	}

	return New(db, loc, logger), nil
}

// New wraps an already opened database handle.
func New(db *sql.DB, loc *time.Location, logger *zap.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc, logger: logger}
}

// DB exposes the handle for collaborators sharing the database (token checks).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Location returns the timezone naive timestamps are interpreted in.
func (s *Store) Location() *time.Location {
	return s.loc
}

func (s *Store) Close() error {
	return s.db.Close()
}

// FormatArg renders t as a query argument in the store's timezone.
func (s *Store) FormatArg(t time.Time) string {
	return t.In(s.loc).Format(argLayout)
}

// Items returns every product row.
func (s *Store) Items(ctx context.Context) ([]Item, error) {
	s.logger.Debug("fetching items")
	return s.queryItems(ctx, "SELECT "+itemColumns+" FROM products")
}

// ItemsSince returns product rows updated at or after since.
func (s *Store) ItemsSince(ctx context.Context, since time.Time) ([]Item, error) {
	s.logger.Debug("fetching items since", zap.Time("since", since))
	return s.queryItems(ctx, "SELECT "+itemColumns+" FROM products WHERE updated_at >= ?", s.FormatArg(since))
}

// Orders returns every order row.
func (s *Store) Orders(ctx context.Context) ([]Order, error) {
	s.logger.Debug("fetching orders")
	return s.queryOrders(ctx, "SELECT "+orderColumns+" FROM orders")
}

// OrdersSince returns order rows updated at or after since.
func (s *Store) OrdersSince(ctx context.Context, since time.Time) ([]Order, error) {
	s.logger.Debug("fetching orders since", zap.Time("since", since))
	return s.queryOrders(ctx, "SELECT "+orderColumns+" FROM orders WHERE updated_at >= ?", s.FormatArg(since))
}

// LastUpdated returns MAX(updated_at) for the kind's table. ok is false when
// the table has no rows.
func (s *Store) LastUpdated(ctx context.Context, kind Kind) (t time.Time, ok bool, err error) {
	table := kind.Table()
	if table == "" {
		return time.Time{}, false, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}

	last := nullTime{loc: s.loc}
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM "+table).Scan(&last); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("reading last %s update: %w", table, err)
	}
	return last.Time, last.Valid, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []Item{}
	for rows.Next() {
		var (
			item      Item
			name      sql.NullString
			desc      sql.NullString
			limit     sql.NullInt64
			image     sql.NullString
			allergens sql.NullString
			createdAt = nullTime{loc: s.loc}
		)
		if err := rows.Scan(&name, &desc, &item.Price, &item.Stock, &limit, &image, &allergens, &createdAt); err != nil {
			s.logger.Warn("skipping unreadable product row", zap.Error(err))
			continue
		}

		item.Name = name.String
		item.Description = desc.String
		if limit.Valid {
			v := limit.Int64
			item.LimitQuantity = &v
		}
		item.Image = image.String
		item.Allergens = DecodeStructured(allergens)
		item.CreatedAt = createdAt.formatted()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating products: %w", err)
	}

	s.logger.Debug("items read", zap.Int("count", len(items)))
	return items, nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orders := []Order{}
	for rows.Next() {
		var (
			order     Order
			image     sql.NullString
			options   sql.NullString
			createdAt = nullTime{loc: s.loc}
		)
		if err := rows.Scan(&order.UUID, &order.ProductID, &order.Quantity, &image, &options, &createdAt); err != nil {
			s.logger.Warn("skipping unreadable order row", zap.Error(err))
			continue
		}

		order.Image = image.String
		order.Options = DecodeStructured(options)
		order.CreatedAt = createdAt.formatted()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}

	s.logger.Debug("orders read", zap.Int("count", len(orders)))
	return orders, nil
}
