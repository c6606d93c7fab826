package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ukydev/fleet-insights/internal/aggregate"
	"github.com/ukydev/fleet-insights/internal/cache"
	"github.com/ukydev/fleet-insights/internal/events"
)

func analytics[T any](ctx context.Context, c *Client, view string, params url.Values) (T, error) {
	path := withQuery("/api/analytics/"+view, params)
	key := events.KeyAnalytics + "/" + view
	if len(params) > 0 {
		key += "?" + params.Encode()
	}
	return cache.Fetch(ctx, c.cache, key, AnalyticsQuery, func(ctx context.Context) (T, error) {
		var out T
		err := c.do(ctx, http.MethodGet, path, nil, &out)
		return out, err
	})
}

func windowParams(window string) url.Values {
	if window == "" {
		return nil
	}
	return url.Values{"window": {window}}
}

// TripsChart is completed trips per driver per bucket of window.
func (c *Client) TripsChart(ctx context.Context, window string) (aggregate.WindowResponse, error) {
	return analytics[aggregate.WindowResponse](ctx, c, "trips", windowParams(window))
}

// FuelChart is fuel per bucket of window with its trend.
func (c *Client) FuelChart(ctx context.Context, window string) (aggregate.WindowResponse, error) {
	return analytics[aggregate.WindowResponse](ctx, c, "fuel", windowParams(window))
}

// DriverMetrics is one row per driver, optionally limited to window.
func (c *Client) DriverMetrics(ctx context.Context, window string) ([]aggregate.Row, error) {
	return analytics[[]aggregate.Row](ctx, c, "drivers", windowParams(window))
}

// Efficiency is the carrier month view; month is YYYY-MM or empty for the
// current month.
func (c *Client) Efficiency(ctx context.Context, month string) (aggregate.EfficiencyResponse, error) {
	var params url.Values
	if month != "" {
		params = url.Values{"month": {month}}
	}
	return analytics[aggregate.EfficiencyResponse](ctx, c, "efficiency", params)
}

// Leaderboard ranks drivers per carrier for month. limit 0 returns every
// driver; a negative limit leaves the server default of 5.
func (c *Client) Leaderboard(ctx context.Context, month string, limit int) (aggregate.LeaderboardResponse, error) {
	params := url.Values{}
	if month != "" {
		params.Set("month", month)
	}
	if limit >= 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return analytics[aggregate.LeaderboardResponse](ctx, c, "leaderboard", params)
}
