package kraken

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsPingPeriod       = 15 * time.Second
	wsReadLimit        = 1 << 20
)

// TickHandler receives each last-trade price from the stream.
type TickHandler func(price float64)

// StreamTicker subscribes to the public ticker channel for one pair and
// forwards last-trade prices to the handler until the context is
// cancelled or the connection drops. Reconnecting is the caller's choice.
func StreamTicker(ctx context.Context, wsURL, pair string, handler TickHandler) error {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("kraken: dial ticker stream: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	subscribe := map[string]interface{}{
		"event": "subscribe",
		"pair":  []string{pair},
		"subscription": map[string]string{
			"name": "ticker",
		},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("kraken: subscribe ticker: %w", err)
	}
	log.Info().Str("pair", pair).Str("url", wsURL).Msg("ticker stream subscribed")

	// close the connection when the context ends so the read loop unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	pinger := time.NewTicker(wsPingPeriod)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-pinger.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			case <-done:
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kraken: read ticker stream: %w", err)
		}
		price, ok := parseTickerMessage(payload)
		if !ok {
			continue
		}
		handler(price)
	}
}

// parseTickerMessage extracts the last-trade price from a channel message.
// Event payloads (subscription status, heartbeat) are JSON objects and are
// skipped; data payloads are arrays of
// [channelID, {..."c":["price","lot"]...}, "ticker", "PAIR"].
func parseTickerMessage(payload []byte) (float64, bool) {
	if len(payload) == 0 || payload[0] != '[' {
		return 0, false
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil || len(parts) < 2 {
		return 0, false
	}
	var data struct {
		Close []json.Number `json:"c"`
	}
	if err := json.Unmarshal(parts[1], &data); err != nil || len(data.Close) == 0 {
		return 0, false
	}
	price, err := data.Close[0].Float64()
	if err != nil {
		return 0, false
	}
	return price, true
}
