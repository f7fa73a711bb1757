package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/domain"
)

// streamMessage is the wire format of the market data feed: one JSON object
// per completed bar.
type streamMessage struct {
	Ticker    string  `json:"ticker"`
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// StreamConsumer maintains a websocket subscription to the market data feed
// and appends incoming bars to the feed history. It reconnects with a fixed
// delay on any read error.
type StreamConsumer struct {
	url  string
	feed *Feed
}

// NewStreamConsumer creates a consumer for the given websocket URL.
func NewStreamConsumer(url string, feed *Feed) *StreamConsumer {
	return &StreamConsumer{url: url, feed: feed}
}

// Run blocks consuming the stream until ctx is cancelled.
func (c *StreamConsumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.consumeOnce(ctx); err != nil {
			log.Warn().Err(err).Str("url", c.url).Msg("Market feed disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info().Str("url", c.url).Msg("Market feed connected")

	// Close the socket when the context ends so ReadMessage unblocks.
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
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed feed message")
			continue
		}
		c.feed.Append(ctx, msg.Ticker, domain.Bar{
			Timestamp: time.Unix(msg.Timestamp, 0).UTC(),
			Open:      msg.Open,
			High:      msg.High,
			Low:       msg.Low,
			Close:     msg.Close,
			Volume:    msg.Volume,
		})
	}
}
