package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
	"github.com/calonkonglo/rwa-lending-platform/pkg/ratelimit"
)

const defaultBaseURL = "https://api.binance.com/api/v3"

// Client fetches spot prices from the Binance public market-data API.
// Responses carry prices as decimal strings, which are parsed without any
// float round-trip.
type Client struct {
	baseURL     string
	symbol      string // exchange symbol, e.g. "BTCUSDT"
	pair        string // platform pair name, e.g. "BTC-USDT"
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiRateLimiter
}

// NewClient creates a market-data client for one trading pair. symbol is the
// exchange's concatenated form ("BTCUSDT"); pair is the platform's dashed
// form ("BTC-USDT") reported in price snapshots.
func NewClient(symbol, pair string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		symbol:  symbol,
		pair:    pair,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Binance weights ticker endpoints lightly; 10 req/s stays far under quota
		rateLimiter: ratelimit.NewMultiRateLimiter(map[string]*ratelimit.RateLimiter{
			"ticker": ratelimit.NewRateLimiter(10),
		}),
	}
}

// NewClientWithBaseURL creates a client against a custom endpoint (tests)
func NewClientWithBaseURL(baseURL, symbol, pair string) *Client {
	c := NewClient(symbol, pair)
	c.baseURL = baseURL
	return c
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice fetches the current price for the configured pair
func (c *Client) GetPrice(ctx context.Context) (model.PriceSnapshot, error) {
	if err := c.rateLimiter.Wait(ctx, "ticker"); err != nil {
		return model.PriceSnapshot{}, err
	}

	endpoint := fmt.Sprintf("%s/ticker/price?%s", c.baseURL, url.Values{"symbol": {c.symbol}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("failed to fetch ticker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.PriceSnapshot{}, fmt.Errorf("ticker request failed: status %d: %s", resp.StatusCode, body)
	}

	var ticker tickerPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("failed to decode ticker: %w", err)
	}

	rate, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("failed to parse price %q: %w", ticker.Price, err)
	}

	return model.PriceSnapshot{
		Pair: c.pair,
		Rate: rate,
		AsOf: time.Now(),
	}, nil
}
