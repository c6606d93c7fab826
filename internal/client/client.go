// Package client talks to the fleet REST API. Queries go through a shared
// cache.Cache; successful mutations invalidate the keys they touch.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/cache"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/models"
)

// Query lifetimes per key.
var (
	CarrierQuery   = cache.Options{StaleTime: 5 * time.Minute, CacheTime: 10 * time.Minute}
	VehicleQuery   = cache.Options{StaleTime: 10 * time.Minute, CacheTime: 15 * time.Minute}
	DriverQuery    = cache.Options{StaleTime: 5 * time.Minute, CacheTime: 10 * time.Minute}
	TripQuery      = cache.Options{StaleTime: 0, CacheTime: 5 * time.Minute}
	AnalyticsQuery = cache.Options{StaleTime: 0, CacheTime: 5 * time.Minute}
)

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Detail string
	Fields map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

// Detail returns the server's detail message carried by err, or fallback
// when err is not an API error or has no detail.
func Detail(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

// FieldErrors returns per-field messages carried by err, if any.
func FieldErrors(err error) map[string]string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Fields
	}
	return nil
}

// Client is safe for concurrent use once configured.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cache   *cache.Cache
	logger  log.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithCache shares a query cache between clients.
func WithCache(qc *cache.Cache) Option { return func(c *Client) { c.cache = qc } }

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option { return func(c *Client) { c.logger = l } }

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  log.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.cache == nil {
		c.cache = cache.New(cache.WithLogger(c.logger))
	}
	return c
}

// Cache exposes the query cache, e.g. for optimistic updates.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Token returns the current bearer token.
func (c *Client) Token() string { return c.token }

// Invalidate marks keys stale in the local cache.
func (c *Client) Invalidate(keys ...string) { c.cache.Invalidate(keys...) }

// Subscriber delivers remote invalidation events.
type Subscriber interface {
	Subscribe(fn func(events.InvalidationEvent)) error
}

// Listen invalidates local keys whenever another process announces a
// mutation.
func (c *Client) Listen(sub Subscriber) error {
	return sub.Subscribe(func(ev events.InvalidationEvent) {
		c.logger.WithFields(log.Fields{"keys": ev.Keys, "source": ev.Source}).Debug("Remote invalidation")
		c.cache.Invalidate(ev.Keys...)
	})
}

// Login authenticates and keeps the token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (models.LoginResponse, error) {
	var out models.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return out, err
	}
	c.token = out.Token
	return out, nil
}

// Register creates an account and keeps its token.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (models.LoginResponse, error) {
	var out models.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", req, &out); err != nil {
		return out, err
	}
	c.token = out.Token
	if req.Role != models.RoleAdmin {
		c.cache.Invalidate(events.KeyDrivers)
	}
	return out, nil
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (models.User, error) {
	var out models.User
	err := c.do(ctx, http.MethodGet, "/api/auth/profile", nil, &out)
	return out, err
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Detail string            `json:"detail"`
			Fields map[string]string `json:"fields"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Detail = payload.Detail
			apiErr.Fields = payload.Fields
		}
		c.logger.WithFields(log.Fields{"method": method, "path": path, "status": resp.StatusCode}).Debug("API error")
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}
