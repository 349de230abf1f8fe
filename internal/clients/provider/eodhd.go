// Package provider implements MarketDataProvider: the cold, external tier
// behind the Market-Data Engine. EODHDProvider covers the two calls the
// engine needs, a current quote and a daily series.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
)

const (
	DefaultBaseURL = "https://eodhd.com/api"
	DefaultTimeout = 10 * time.Second
)

// EODHDProvider implements interfaces.MarketDataProvider against the EODHD
// REST API. Outbound throttling is the Market-Data Engine's job
// (internal/ratelimit), not the client's, so it carries no rate.Limiter of
// its own.
type EODHDProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
}

// Option configures an EODHDProvider.
type Option func(*EODHDProvider)

// WithBaseURL overrides the API base URL, used by tests against a httptest server.
func WithBaseURL(baseURL string) Option {
	return func(p *EODHDProvider) { p.baseURL = baseURL }
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) Option {
	return func(p *EODHDProvider) { p.logger = logger }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *EODHDProvider) { p.httpClient.Timeout = timeout }
}

// NewEODHDProvider builds a provider client for the given API key.
func NewEODHDProvider(apiKey string, opts ...Option) *EODHDProvider {
	p := &EODHDProvider{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider for logging and the secondary-fallback path.
func (p *EODHDProvider) Name() string { return "eodhd" }

type realtimeResponse struct {
	Code      string      `json:"code"`
	Timestamp int64       `json:"timestamp"`
	Close     flexFloat64 `json:"close"`
}

// FetchCurrent retrieves the latest real-time (or most recent close) quote
// for ticker.
func (p *EODHDProvider) FetchCurrent(ctx context.Context, ticker models.Ticker) (models.PricePoint, error) {
	var resp realtimeResponse
	path := fmt.Sprintf("/real-time/%s", ticker.String())
	if err := p.get(ctx, path, nil, &resp); err != nil {
		return models.PricePoint{}, err
	}
	if resp.Timestamp == 0 {
		return models.PricePoint{}, &interfaces.ProviderError{Kind: interfaces.ProviderErrNotFound, Message: "no quote for " + ticker.String()}
	}

	return models.PricePoint{
		Ticker:    ticker,
		Price:     models.MoneyFromFloat(float64(resp.Close), "USD"),
		Timestamp: time.Unix(resp.Timestamp, 0).UTC(),
		Source:    models.SourceProvider,
		Interval:  models.IntervalRealtime,
	}, nil
}

type eodBar struct {
	Date   string      `json:"date"`
	Open   flexFloat64 `json:"open"`
	High   flexFloat64 `json:"high"`
	Low    flexFloat64 `json:"low"`
	Close  flexFloat64 `json:"close"`
	Volume int64       `json:"volume"`
}

// FetchDailySeries retrieves the provider's full daily bar series in
// [start, end] for ticker.
func (p *EODHDProvider) FetchDailySeries(ctx context.Context, ticker models.Ticker, start, end time.Time) ([]models.PriceHistoryRow, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("from", start.Format("2006-01-02"))
	params.Set("to", end.Format("2006-01-02"))

	var bars []eodBar
	path := fmt.Sprintf("/eod/%s", ticker.String())
	if err := p.get(ctx, path, params, &bars); err != nil {
		return nil, err
	}

	rows := make([]models.PriceHistoryRow, 0, len(bars))
	for _, bar := range bars {
		day, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			continue
		}
		rows = append(rows, models.PriceHistoryRow{
			Ticker:    ticker,
			Timestamp: day.UTC(),
			Interval:  models.IntervalDaily,
			Price:     models.MoneyFromFloat(float64(bar.Close), "USD"),
			OHLCV: &models.OHLCV{
				Open:   float64(bar.Open),
				High:   float64(bar.High),
				Low:    float64(bar.Low),
				Close:  float64(bar.Close),
				Volume: bar.Volume,
			},
			Source:     models.SourceProvider,
			IngestedAt: time.Now().UTC(),
		})
	}
	return rows, nil
}

// get performs a GET request and classifies failures into a ProviderError.
func (p *EODHDProvider) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", p.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", p.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %s", models.ErrTransient, err.Error())
	}

	p.logger.Debug().Str("url", p.baseURL+path).Msg("eodhd provider request")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &interfaces.ProviderError{Kind: interfaces.ProviderErrTransient, Message: "deadline exceeded: " + err.Error()}
		}
		return &interfaces.ProviderError{Kind: interfaces.ProviderErrTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: decode response: %s", models.ErrTransient, err.Error())
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &interfaces.ProviderError{Kind: interfaces.ProviderErrNotFound, Message: "ticker not found"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &interfaces.ProviderError{Kind: interfaces.ProviderErrRateLimited, Message: "provider rate limit exceeded"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &interfaces.ProviderError{Kind: interfaces.ProviderErrAuth, Message: "provider authentication failed"}
	default:
		body, _ := io.ReadAll(resp.Body)
		return &interfaces.ProviderError{Kind: interfaces.ProviderErrTransient, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))}
	}
}

// flexFloat64 tolerates EODHD responses that encode a number as either a
// JSON number or a string (including "NA").
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "NA" || s == "N/A" {
			*f = 0
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(parsed)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

var _ interfaces.MarketDataProvider = (*EODHDProvider)(nil)
