package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
)

func TestFetchCurrent_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/real-time/AAPL", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"code":      "AAPL",
			"timestamp": 1711670340,
			"close":     150.25,
		})
	}))
	defer srv.Close()

	client := NewEODHDProvider("test-key", WithBaseURL(srv.URL))
	point, err := client.FetchCurrent(context.Background(), models.Ticker("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, models.Ticker("AAPL"), point.Ticker)
	assert.Equal(t, models.SourceProvider, point.Source)
	assert.True(t, point.Price.IsPositive())
}

func TestFetchCurrent_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewEODHDProvider("test-key", WithBaseURL(srv.URL))
	_, err := client.FetchCurrent(context.Background(), models.Ticker("ZZZZ"))
	require.Error(t, err)

	var perr *interfaces.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, interfaces.ProviderErrNotFound, perr.Kind)
}

func TestFetchCurrent_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewEODHDProvider("test-key", WithBaseURL(srv.URL))
	_, err := client.FetchCurrent(context.Background(), models.Ticker("AAPL"))
	require.Error(t, err)

	var perr *interfaces.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, interfaces.ProviderErrRateLimited, perr.Kind)
}

func TestFetchDailySeries_ParsesBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eod/IBM", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{"date": "2024-01-15", "open": 158.0, "high": 161.0, "low": 157.5, "close": 160.0, "volume": 1000},
			{"date": "2024-01-16", "open": 160.0, "high": 162.0, "low": 159.0, "close": 161.5, "volume": 1200},
		})
	}))
	defer srv.Close()

	client := NewEODHDProvider("test-key", WithBaseURL(srv.URL))
	start, _ := time.Parse("2006-01-02", "2024-01-15")
	end, _ := time.Parse("2006-01-02", "2024-01-16")
	rows, err := client.FetchDailySeries(context.Background(), models.Ticker("IBM"), start, end)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.IntervalDaily, rows[0].Interval)
	assert.NotNil(t, rows[0].OHLCV)
}
