package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-insights/internal/auth"
	"github.com/ukydev/fleet-insights/internal/models"
)

func newAuth(t *testing.T) (*auth.Service, *AuthMiddleware) {
	t.Helper()
	authService, err := auth.NewService("test-secret", time.Hour)
	require.NoError(t, err)
	return authService, NewAuthMiddleware(authService)
}

func quietLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func tokenFor(t *testing.T, s *auth.Service, role models.Role) string {
	t.Helper()
	token, err := s.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: string(role) + "-user", Role: role})
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	authService, middleware := newAuth(t)

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/vehicles", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, models.RoleManager))
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			claims, ok := GetUserFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, "manager-user", claims.Username)
			assert.Equal(t, models.RoleManager, claims.Role)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing authorization header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/vehicles", nil)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handlerCalled = true })

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "Authentication credentials were not provided.", body["detail"])
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/vehicles", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handlerCalled = true })

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	for _, path := range []string{"/api/auth/login", "/api/auth/register", "/health", "/metrics"} {
		t.Run("skip "+path, func(t *testing.T) {
			req := httptest.NewRequest("POST", path, nil)
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handlerCalled = true })

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.True(t, handlerCalled)
		})
	}
}

func TestAuthMiddleware_RequireRole(t *testing.T) {
	authService, middleware := newAuth(t)

	tests := []struct {
		name     string
		role     models.Role
		required []models.Role
		want     int
	}{
		{"admin passes any role gate", models.RoleAdmin, []models.Role{models.RoleManager}, http.StatusOK},
		{"manager passes manager gate", models.RoleManager, []models.Role{models.RoleManager}, http.StatusOK},
		{"driver blocked from manager gate", models.RoleDriver, []models.Role{models.RoleManager}, http.StatusForbidden},
		{"manager blocked from admin gate", models.RoleManager, []models.Role{models.RoleAdmin}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/drivers", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, tt.role))
			w := httptest.NewRecorder()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
			middleware.Authenticate(middleware.RequireRole(tt.required...)(handler)).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthMiddleware_RequirePermission(t *testing.T) {
	authService, middleware := newAuth(t)

	tests := []struct {
		name   string
		role   models.Role
		action string
		want   int
	}{
		{"admin manages carriers", models.RoleAdmin, models.ActionManageCarriers, http.StatusOK},
		{"manager cannot manage carriers", models.RoleManager, models.ActionManageCarriers, http.StatusForbidden},
		{"manager views analytics", models.RoleManager, models.ActionViewAnalytics, http.StatusOK},
		{"driver starts trips", models.RoleDriver, models.ActionStartTrip, http.StatusOK},
		{"driver cannot view fleet", models.RoleDriver, models.ActionViewFleet, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/carriers", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, tt.role))
			w := httptest.NewRecorder()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
			middleware.Authenticate(middleware.RequirePermission(tt.action)(handler)).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("no user in context", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
		middleware.RequirePermission(models.ActionViewTrips)(handler).ServeHTTP(w, httptest.NewRequest("GET", "/api/trips", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return true, errors.New("connection refused")
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("rate limit not exceeded", func(t *testing.T) {
		mw := NewRateLimitMiddleware(NewMemoryLimiter(5, time.Minute), quietLogger())
		req := httptest.NewRequest("GET", "/api/trips", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handlerCalled = true })

		mw.RateLimit(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rate limit exceeded", func(t *testing.T) {
		mw := NewRateLimitMiddleware(NewMemoryLimiter(1, time.Minute), quietLogger())
		req := httptest.NewRequest("GET", "/api/trips", nil)
		req.RemoteAddr = "192.168.1.2:12345"

		handlerCalled := false
		handler := mw.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handlerCalled = true }))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		handlerCalled = false
		handler.ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("limiter failure lets request through", func(t *testing.T) {
		mw := NewRateLimitMiddleware(failingLimiter{}, quietLogger())
		w := httptest.NewRecorder()
		mw.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(w, httptest.NewRequest("GET", "/api/trips", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	limiter := NewMemoryLimiter(2, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := limiter.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)

	ok, _ = limiter.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, _ = limiter.Allow(ctx, "10.0.0.1")
	assert.True(t, ok)
}

func TestMemoryLimiter_DropsIdleKeys(t *testing.T) {
	limiter := NewMemoryLimiter(2, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		ok, err := limiter.Allow(ctx, fmt.Sprintf("10.0.1.%d", i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, limiter.requests, 100)

	now = now.Add(45 * time.Second)
	_, _ = limiter.Allow(ctx, "10.0.1.0")

	now = now.Add(46 * time.Second)
	_, _ = limiter.Allow(ctx, "10.0.2.1")
	assert.Len(t, limiter.requests, 2, "only keys with requests inside the window remain")
	assert.Contains(t, limiter.requests, "10.0.1.0")
	assert.Contains(t, limiter.requests, "10.0.2.1")
}

func TestRedisLimiter_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	limiter := NewRedisLimiter(client, 1, time.Minute)
	ok, err := limiter.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.1.1:5555"
	assert.Equal(t, "10.1.1.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "10.2.2.2")
	assert.Equal(t, "10.2.2.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.3.3.3, 10.4.4.4")
	assert.Equal(t, "10.3.3.3", getClientIP(req))
}

func TestGetUserFromContext(t *testing.T) {
	claims := &models.Claims{
		UserID:   "test-id",
		Username: "testuser",
		Role:     models.RoleAdmin,
	}

	retrievedClaims, ok := GetUserFromContext(WithUser(context.Background(), claims))
	assert.True(t, ok)
	assert.Equal(t, claims.UserID, retrievedClaims.UserID)
	assert.Equal(t, claims.Role, retrievedClaims.Role)

	_, ok = GetUserFromContext(context.Background())
	assert.False(t, ok)
}

func TestRequestIDAndObserve(t *testing.T) {
	r := mux.NewRouter()
	r.Use(RequestID, Recover(quietLogger()), Observe(quietLogger()))
	r.HandleFunc("/api/vehicles/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestIDFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
	r.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/vehicles/abc", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/api/vehicles/abc", nil)
	req.Header.Set("X-Request-ID", "fixed")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "fixed", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
