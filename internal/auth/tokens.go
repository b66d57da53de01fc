package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/internal/store"
)

var (
	ErrMissingToken = errors.New("authorization header missing")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrTokenStore   = errors.New("token store unavailable")
)

// Validator checks a bearer token. A store failure is returned as an error,
// never reported as an invalid token.
type Validator interface {
	Validate(ctx context.Context, token string) (bool, error)
}

// TokenStore reads and prunes the access_tokens table shared with the
// catalog database.
type TokenStore struct {
	db       *sql.DB
	format   func(time.Time) string
	validity time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewTokenStore creates a TokenStore on st's database. Tokens older than
// validity are invalid.
func NewTokenStore(st *store.Store, validity time.Duration, clock clockwork.Clock, logger *zap.Logger) *TokenStore {
	return &TokenStore{
		db:       st.DB(),
		format:   st.FormatArg,
		validity: validity,
		clock:    clock,
		logger:   logger,
	}
}

// Validate reports whether token exists and is younger than the validity window.
func (ts *TokenStore) Validate(ctx context.Context, token string) (bool, error) {
	validSince := ts.format(ts.clock.Now().Add(-ts.validity))

	var id int64
	err := ts.db.QueryRowContext(ctx,
		"SELECT id FROM access_tokens WHERE access_token = ? AND created_at >= ? LIMIT 1",
		token, validSince,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking access token: %w", err)
	}
	return true, nil
}

// DeleteExpired removes tokens older than the validity window.
func (ts *TokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	expiry := ts.format(ts.clock.Now().Add(-ts.validity))

	result, err := ts.db.ExecContext(ctx, "DELETE FROM access_tokens WHERE created_at < ?", expiry)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		ts.logger.Info("deleted expired tokens", zap.Int64("count", n))
	}
	return n, nil
}

// Compile-time interface verification
var _ Validator = (*TokenStore)(nil)
