package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/calonkonglo/rwa-lending-platform/internal/domain/model"
)

const defaultWSURL = "wss://stream.binance.com:9443/ws"

// PriceHandler receives each price snapshot observed on the stream
type PriceHandler func(model.PriceSnapshot)

// Client subscribes to the exchange's mini-ticker websocket stream and
// pushes every observed price to registered handlers. It reconnects with
// backoff until the context is cancelled. The stream is a freshness
// optimization only; the engine never depends on push updates.
type Client struct {
	wsURL  string
	symbol string
	pair   string
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers []PriceHandler

	reconnectDelay time.Duration
}

// NewClient creates a streaming price client for one pair
func NewClient(symbol, pair string, logger zerolog.Logger) *Client {
	return &Client{
		wsURL:          defaultWSURL,
		symbol:         symbol,
		pair:           pair,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
	}
}

// NewClientWithURL creates a streaming client against a custom endpoint (tests)
func NewClientWithURL(wsURL, symbol, pair string, logger zerolog.Logger) *Client {
	c := NewClient(symbol, pair, logger)
	c.wsURL = wsURL
	return c
}

// OnPrice registers a handler invoked for every streamed price
func (c *Client) OnPrice(handler PriceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type miniTickerMessage struct {
	EventType  string `json:"e"`
	Symbol     string `json:"s"`
	ClosePrice string `json:"c"`
	EventTime  int64  `json:"E"` // milliseconds
}

// Run connects and consumes the stream until ctx is cancelled, reconnecting
// on any read or dial failure.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("price stream disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.wsURL, err)
	}
	defer conn.Close()

	sub := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{strings.ToLower(c.symbol) + "@miniTicker"},
		ID:     1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.logger.Info().Str("symbol", c.symbol).Msg("price stream connected")

	// Close the connection when the context ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var msg miniTickerMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.ClosePrice == "" {
			// Subscription acks and unrelated frames are skipped
			continue
		}

		rate, err := decimal.NewFromString(msg.ClosePrice)
		if err != nil || !rate.IsPositive() {
			c.logger.Warn().Str("price", msg.ClosePrice).Msg("discarding unparseable stream price")
			continue
		}

		snap := model.PriceSnapshot{
			Pair: c.pair,
			Rate: rate,
			AsOf: time.UnixMilli(msg.EventTime),
		}
		if msg.EventTime == 0 {
			snap.AsOf = time.Now()
		}

		c.mu.RLock()
		handlers := c.handlers
		c.mu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}
	}
}
