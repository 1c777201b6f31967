// Package feed ingests the external price stream that backs the oracle.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Tick is one message of the price stream. TS is unix seconds.
type Tick struct {
	Value int64  `json:"value"`
	Round uint64 `json:"round"`
	TS    int64  `json:"ts"`
}

// subscribeCommand is sent once per connection.
type subscribeCommand struct {
	Type  string `json:"type"`
	Asset string `json:"asset"`
}

// PriceFeed connects to a websocket price stream and writes every tick into
// the price cache. It reconnects with exponential backoff until ctx ends.
type PriceFeed struct {
	wsURL  string
	asset  string
	cache  domain.PriceCache
	logger *slog.Logger

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewPriceFeed creates a feed for asset.
func NewPriceFeed(wsURL, asset string, cache domain.PriceCache, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:     wsURL,
		asset:     asset,
		cache:     cache,
		logger:    logger.With(slog.String("component", "price_feed"), slog.String("asset", asset)),
		baseDelay: reconnectDelay,
		maxDelay:  maxReconnectDelay,
	}
}

// Run blocks until ctx is cancelled.
func (f *PriceFeed) Run(ctx context.Context) error {
	delay := f.baseDelay
	for {
		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.baseDelay
		}
		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.maxDelay {
			delay = f.maxDelay
		}
	}
}

// runConnection reports whether the dial succeeded alongside the error that
// ended the connection.
func (f *PriceFeed) runConnection(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", Asset: f.asset}); err != nil {
		return true, fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("price feed subscribed", slog.String("url", f.wsURL))

	stop := make(chan struct{})
	defer close(stop)
	go f.keepAlive(ctx, conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		if err := f.handleMessage(ctx, message); err != nil {
			f.logger.Warn("dropping price tick", slog.String("error", err.Error()))
		}
	}
}

// keepAlive pings the peer and closes conn when ctx ends so the read loop
// unblocks.
func (f *PriceFeed) keepAlive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (f *PriceFeed) handleMessage(ctx context.Context, message []byte) error {
	var tick Tick
	if err := json.Unmarshal(message, &tick); err != nil {
		return fmt.Errorf("feed: decode tick: %w", err)
	}
	if tick.Round == 0 || tick.TS <= 0 {
		return errors.New("feed: tick is missing round or ts")
	}
	cur, err := f.cache.GetObservation(ctx, f.asset)
	switch {
	case err == nil && cur.Round >= tick.Round:
		f.logger.Debug("skipping replayed tick",
			slog.Uint64("round", tick.Round),
			slog.Uint64("cached_round", cur.Round),
		)
		return nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("feed: read cached round: %w", err)
	}

	obs := domain.Observation{
		Value:     tick.Value,
		Round:     tick.Round,
		UpdatedAt: time.Unix(tick.TS, 0).UTC(),
	}
	if err := f.cache.SetObservation(ctx, f.asset, obs); err != nil {
		return fmt.Errorf("feed: store tick round %d: %w", tick.Round, err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
