package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-insights/internal/config"
)

func memoryConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MQTT_BROKER", "")
	t.Setenv("RATE_LIMIT", "3")
	cfg, err := config.LoadServer()
	require.NoError(t, err)
	return cfg
}

func quiet() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSetup_MemoryBackend(t *testing.T) {
	a, err := setup(context.Background(), memoryConfig(t), quiet())
	require.NoError(t, err)
	defer a.close()

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := json.Marshal(map[string]string{
		"username": "root", "email": "root@example.com", "password": "password123", "role": "admin",
	})
	resp, err = http.Post(srv.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestSetup_RateLimited(t *testing.T) {
	a, err := setup(context.Background(), memoryConfig(t), quiet())
	require.NoError(t, err)
	defer a.close()

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, quiet()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
