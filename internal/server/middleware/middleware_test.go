package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/auth"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// contextHandler captures the identity set by middleware.
type contextHandler struct {
	identity domain.Identity
	called   bool
}

func (h *contextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.identity, _ = middleware.IdentityFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func setUser(r *http.Request, userID string) *http.Request {
	ctx := middleware.WithIdentity(r.Context(), domain.Identity{UserID: userID})
	return r.WithContext(ctx)
}

// ===========================================================================
// 1. Context helpers
// ===========================================================================

func TestIdentityFromContext(t *testing.T) {
	t.Parallel()

	t.Run("present", func(t *testing.T) {
		t.Parallel()

		want := domain.Identity{UserID: "u1", Email: "u1@example.com"}
		got, ok := middleware.IdentityFromContext(middleware.WithIdentity(context.Background(), want))
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("absent", func(t *testing.T) {
		t.Parallel()

		_, ok := middleware.IdentityFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("empty user id", func(t *testing.T) {
		t.Parallel()

		ctx := context.WithValue(context.Background(), middleware.ContextKeyUserID, "")
		_, ok := middleware.IdentityFromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("wrong type", func(t *testing.T) {
		t.Parallel()

		ctx := context.WithValue(context.Background(), middleware.ContextKeyUserID, 42)
		_, ok := middleware.UserIDFromContext(ctx)
		assert.False(t, ok)
	})
}

// ===========================================================================
// 2. Rate limiting
// ===========================================================================

func TestRateLimit_NoUserInContext_PassesThrough(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimit(t.Context(), 0.001, 1)(okHandler)

	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_BurstExceeded_Returns429(t *testing.T) {
	t.Parallel()

	// Very low rate (effectively zero refill during the test) with burst of 2.
	handler := middleware.RateLimit(t.Context(), 0.001, 2)(okHandler)

	// First two requests consume the burst.
	for i := range 2 {
		req := setUser(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "u1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equalf(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	// Third request exceeds burst.
	req := setUser(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "u1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimit_IndependentPerUser(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimit(t.Context(), 0.001, 1)(okHandler)

	// Exhaust user A's burst.
	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, setUser(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "a"))
	require.Equal(t, http.StatusOK, recA.Code)

	recA2 := httptest.NewRecorder()
	handler.ServeHTTP(recA2, setUser(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "a"))
	assert.Equal(t, http.StatusTooManyRequests, recA2.Code)

	// User B should still be allowed.
	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, setUser(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "b"))
	assert.Equal(t, http.StatusOK, recB.Code)
}

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByIP(t.Context(), 0.001, 1)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "10.0.0.1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	other.RemoteAddr = "10.0.0.2"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ===========================================================================
// 3. Auth middleware
// ===========================================================================

const testJWTSecret = "test-jwt-secret-for-middleware-tests"

func TestAuth_ValidBearer_PopulatesContext(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(testJWTSecret, "u-alice", "alice@example.com", 15*time.Minute)
	require.NoError(t, err)

	capture := &contextHandler{}
	handler := middleware.Auth(testJWTSecret)(capture)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.True(t, capture.called, "inner handler must be called")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Identity{UserID: "u-alice", Email: "alice@example.com"}, capture.identity)
}

func TestAuth_SessionCookie(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(testJWTSecret, "u-bob", "bob@example.com", 15*time.Minute)
	require.NoError(t, err)

	capture := &contextHandler{}
	handler := middleware.Auth(testJWTSecret)(capture)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: token})
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.True(t, capture.called)
	assert.Equal(t, "u-bob", capture.identity.UserID)
}

func TestAuth_InvalidBearer_FallsBackToCookie(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(testJWTSecret, "u-bob", "bob@example.com", 15*time.Minute)
	require.NoError(t, err)

	capture := &contextHandler{}
	handler := middleware.Auth(testJWTSecret)(capture)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer stale.token.value")
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: token})
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-bob", capture.identity.UserID)
}

func TestAuth_Rejections(t *testing.T) {
	t.Parallel()

	expired, err := auth.IssueToken(testJWTSecret, "u1", "u1@example.com", -1*time.Second)
	require.NoError(t, err)
	wrongSecret, err := auth.IssueToken("correct-secret", "u1", "u1@example.com", 15*time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		cookie string
	}{
		{name: "no credentials"},
		{name: "invalid token", header: "Bearer totally.invalid.token"},
		{name: "expired token", header: "Bearer " + expired},
		{name: "wrong secret", header: "Bearer " + wrongSecret},
		{name: "invalid cookie", cookie: "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := middleware.Auth(testJWTSecret)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "Unauthorized")
		})
	}
}

func TestAuth_BearerFormat(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(testJWTSecret, "u1", "u1@example.com", 15*time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "uppercase Bearer", authHeader: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "lowercase bearer", authHeader: "bearer " + token, wantStatus: http.StatusOK},
		{name: "mixed case BEARER", authHeader: "BEARER " + token, wantStatus: http.StatusOK},
		{name: "Basic scheme falls through to 401", authHeader: "Basic " + token, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := middleware.Auth(testJWTSecret)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Authorization", tt.authHeader)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
