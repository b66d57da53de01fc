package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/catalog-stream/internal/store"
	"github.com/dgnsrekt/catalog-stream/internal/store/storetest"
)

func TestTokenStoreValidate(t *testing.T) {
	db := storetest.Open(t)
	now := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	ts := NewTokenStore(store.New(db, time.UTC, zap.NewNop()), 5*time.Minute, clock, zap.NewNop())

	storetest.InsertToken(t, db, "fresh", now.Add(-time.Minute))
	storetest.InsertToken(t, db, "stale", now.Add(-6*time.Minute))

	ok, err := ts.Validate(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ts.Validate(context.Background(), "stale")
	require.NoError(t, err)
	assert.False(t, ok, "tokens older than the validity window are rejected")

	ok, err = ts.Validate(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(5 * time.Minute)
	ok, err = ts.Validate(context.Background(), "fresh")
	require.NoError(t, err)
	assert.False(t, ok, "token expires once its age reaches the window")
}

func TestTokenStoreValidateInZone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	db := storetest.Open(t)
	// 03:00 UTC is noon in Tokyo.
	now := time.Date(2025, 2, 15, 3, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	ts := NewTokenStore(store.New(db, tokyo, zap.NewNop()), 5*time.Minute, clock, zap.NewNop())

	noon := time.Date(2025, 2, 15, 12, 0, 0, 0, tokyo)
	storetest.InsertToken(t, db, "edge", noon.Add(-5*time.Minute))
	storetest.InsertToken(t, db, "stale", noon.Add(-5*time.Minute-time.Second))
	// The current time written as UTC wall clock reads nine hours old in Tokyo.
	storetest.InsertToken(t, db, "utc-clock", now)

	ok, err := ts.Validate(context.Background(), "edge")
	require.NoError(t, err)
	assert.True(t, ok, "exactly five minutes old is still valid")

	ok, err = ts.Validate(context.Background(), "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ts.Validate(context.Background(), "utc-clock")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Second)
	ok, err = ts.Validate(context.Background(), "edge")
	require.NoError(t, err)
	assert.False(t, ok, "one second past the window")

	n, err := ts.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTokenStoreDeleteExpired(t *testing.T) {
	db := storetest.Open(t)
	now := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	ts := NewTokenStore(store.New(db, time.UTC, zap.NewNop()), 5*time.Minute, clockwork.NewFakeClockAt(now), zap.NewNop())

	storetest.InsertToken(t, db, "a", now.Add(-10*time.Minute))
	storetest.InsertToken(t, db, "b", now.Add(-6*time.Minute))
	storetest.InsertToken(t, db, "c", now)

	n, err := ts.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var remaining int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM access_tokens").Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestTokenStoreErrorIsSurfaced(t *testing.T) {
	db := storetest.Open(t)
	ts := NewTokenStore(store.New(db, time.UTC, zap.NewNop()), 5*time.Minute, clockwork.NewRealClock(), zap.NewNop())
	require.NoError(t, db.Close())

	ok, err := ts.Validate(context.Background(), "anything")
	assert.Error(t, err)
	assert.False(t, ok)
}

type stubValidator struct {
	valid map[string]bool
	err   error
	calls int
}

func (s *stubValidator) Validate(_ context.Context, token string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.valid[token], nil
}

func TestOpenAPIAuthenticator(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		validator *stubValidator
		wantErr   error
		wantCalls int
	}{
		{
			name:      "missing header",
			validator: &stubValidator{},
			wantErr:   ErrMissingToken,
		},
		{
			name:      "invalid token",
			header:    "Bearer nope",
			validator: &stubValidator{valid: map[string]bool{}},
			wantErr:   ErrInvalidToken,
			wantCalls: 1,
		},
		{
			name:      "store failure",
			header:    "Bearer tok",
			validator: &stubValidator{err: errors.New("connection refused")},
			wantErr:   ErrTokenStore,
			wantCalls: 1,
		},
		{
			name:      "valid bearer",
			header:    "Bearer tok",
			validator: &stubValidator{valid: map[string]bool{"tok": true}},
			wantCalls: 1,
		},
		{
			name:      "valid without prefix",
			header:    "tok",
			validator: &stubValidator{valid: map[string]bool{"tok": true}},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders/stream", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			authenticate := OpenAPIAuthenticator(tt.validator, zap.NewNop())
			err := authenticate(req.Context(), &openapi3filter.AuthenticationInput{
				RequestValidationInput: &openapi3filter.RequestValidationInput{Request: req},
				SecuritySchemeName:     BearerScheme,
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, tt.validator.calls)
		})
	}
}

func TestOpenAPIAuthenticatorUnknownScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/orders/stream", nil)
	validator := &stubValidator{}

	err := OpenAPIAuthenticator(validator, zap.NewNop())(req.Context(), &openapi3filter.AuthenticationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{Request: req},
		SecuritySchemeName:     "apiKey",
	})
	assert.Error(t, err)
	assert.Zero(t, validator.calls)
}

func TestRejection(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		status     int
		wantStatus int
		wantDetail string
	}{
		{
			name:       "missing header",
			message:    "security requirements failed: " + ErrMissingToken.Error(),
			status:     http.StatusUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Authorization header missing",
		},
		{
			name:       "invalid token",
			message:    "security requirements failed: " + ErrInvalidToken.Error(),
			status:     http.StatusUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Invalid or expired token",
		},
		{
			name:       "store failure",
			message:    "security requirements failed: " + ErrTokenStore.Error() + ": connection refused",
			status:     http.StatusUnauthorized,
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Database error",
		},
		{
			name:       "unknown route",
			message:    "no matching operation was found",
			status:     http.StatusNotFound,
			wantStatus: http.StatusNotFound,
			wantDetail: "no matching operation was found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := Rejection(tt.message, tt.status)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantDetail, detail)

			rec := httptest.NewRecorder()
			WriteError(rec, status, detail)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"detail":"`+tt.wantDetail+`"}`, rec.Body.String())
		})
	}
}

type countingDeleter struct {
	calls atomic.Int32
	done  chan struct{}
}

func (d *countingDeleter) DeleteExpired(context.Context) (int64, error) {
	d.calls.Add(1)
	d.done <- struct{}{}
	return 0, nil
}

func TestSweeperRunsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	deleter := &countingDeleter{done: make(chan struct{}, 4)}
	sweeper := NewSweeper(deleter, 300*time.Second, clock, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(stopped)
	}()

	waitSignal(t, deleter.done)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(300 * time.Second)
	waitSignal(t, deleter.done)
	assert.Equal(t, int32(2), deleter.calls.Load())

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sweep")
	}
}
