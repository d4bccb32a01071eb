// Package kraken implements the market data gateway: Kraken's public and
// private REST endpoints plus a websocket ticker stream. Transient network
// failures retry with bounded exponential backoff; API-level rejections
// surface immediately.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	validator "github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://api.kraken.com"
	DefaultWSURL   = "wss://ws.kraken.com"

	requestTimeout = 10 * time.Second
	maxAttempts    = 5
	retryBase      = 1 * time.Second
	retryCap       = 10 * time.Second
)

// ErrAPI marks an error reported by the exchange itself (bad request,
// insufficient funds, invalid key). These are never retried.
var ErrAPI = errors.New("kraken api error")

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type OrderRequest struct {
	Pair       string    `validate:"required"`
	Side       Side      `validate:"required,oneof=buy sell"`
	OrderType  OrderType `validate:"required,oneof=market limit"`
	Volume     float64   `validate:"gt=0"`
	LimitPrice float64   `validate:"gte=0"`
}

type OrderRef struct {
	TxIDs       []string
	Description string
}

type Level struct {
	Price  float64
	Volume float64
}

type OrderBook struct {
	Bids []Level
	Asks []Level
}

type Client struct {
	baseURL  string
	apiKey   string
	secret   []byte
	http     *http.Client
	validate *validator.Validate
	nonce    func() string
}

// New builds a client. The secret is the base64-encoded private key from
// the exchange; decoding failure is a configuration error.
func New(baseURL, apiKey, apiSecret string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	var secret []byte
	if apiSecret != "" {
		decoded, err := base64.StdEncoding.DecodeString(apiSecret)
		if err != nil {
			return nil, fmt.Errorf("kraken: decode api secret: %w", err)
		}
		secret = decoded
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		secret:   secret,
		http:     &http.Client{Timeout: requestTimeout},
		validate: validator.New(),
		nonce: func() string {
			return strconv.FormatInt(time.Now().UnixMilli(), 10)
		},
	}, nil
}

// CurrentPrice returns the last trade close for the pair.
func (c *Client) CurrentPrice(ctx context.Context, pair string) (float64, error) {
	info, err := c.ticker(ctx, pair)
	if err != nil {
		return 0, err
	}
	if len(info.Close) == 0 {
		return 0, fmt.Errorf("kraken: ticker for %s has no close price", pair)
	}
	return strconv.ParseFloat(info.Close[0], 64)
}

// MarketVolume returns the 24h traded volume for the pair.
func (c *Client) MarketVolume(ctx context.Context, pair string) (float64, error) {
	info, err := c.ticker(ctx, pair)
	if err != nil {
		return 0, err
	}
	if len(info.Volume) < 2 {
		return 0, fmt.Errorf("kraken: ticker for %s has no 24h volume", pair)
	}
	return strconv.ParseFloat(info.Volume[1], 64)
}

type tickerInfo struct {
	Close  []string `json:"c"`
	Volume []string `json:"v"`
}

func (c *Client) ticker(ctx context.Context, pair string) (tickerInfo, error) {
	params := url.Values{"pair": {pair}}
	result, err := c.public(ctx, "Ticker", params)
	if err != nil {
		return tickerInfo{}, err
	}
	var pairs map[string]tickerInfo
	if err := json.Unmarshal(result, &pairs); err != nil {
		return tickerInfo{}, fmt.Errorf("kraken: decode ticker: %w", err)
	}
	info, ok := pairs[pair]
	if !ok {
		// Kraken answers with its canonical pair name, which may differ
		// from the requested alias
		for _, v := range pairs {
			return v, nil
		}
		return tickerInfo{}, fmt.Errorf("kraken: no ticker data for %s", pair)
	}
	return info, nil
}

// HistoricalCloses fetches OHLC candles and returns the close column,
// oldest first. since of zero fetches the default range.
func (c *Client) HistoricalCloses(ctx context.Context, pair string, intervalMinutes int, since int64) ([]float64, error) {
	params := url.Values{
		"pair":     {pair},
		"interval": {strconv.Itoa(intervalMinutes)},
	}
	if since > 0 {
		params.Set("since", strconv.FormatInt(since, 10))
	}
	result, err := c.public(ctx, "OHLC", params)
	if err != nil {
		return nil, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("kraken: decode ohlc: %w", err)
	}
	for key, raw := range payload {
		if key == "last" {
			continue
		}
		var entries [][]interface{}
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("kraken: decode ohlc entries: %w", err)
		}
		closes := make([]float64, 0, len(entries))
		for _, entry := range entries {
			if len(entry) <= 4 {
				continue
			}
			close, err := toFloat(entry[4])
			if err != nil {
				return nil, fmt.Errorf("kraken: ohlc close: %w", err)
			}
			closes = append(closes, close)
		}
		return closes, nil
	}
	return nil, fmt.Errorf("kraken: no ohlc data for %s", pair)
}

// OrderBook fetches the top depth levels for the pair.
func (c *Client) OrderBook(ctx context.Context, pair string, depth int) (OrderBook, error) {
	params := url.Values{"pair": {pair}}
	if depth > 0 {
		params.Set("count", strconv.Itoa(depth))
	}
	result, err := c.public(ctx, "Depth", params)
	if err != nil {
		return OrderBook{}, err
	}

	var payload map[string]struct {
		Bids [][]interface{} `json:"bids"`
		Asks [][]interface{} `json:"asks"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return OrderBook{}, fmt.Errorf("kraken: decode depth: %w", err)
	}
	for _, book := range payload {
		bids, err := toLevels(book.Bids)
		if err != nil {
			return OrderBook{}, err
		}
		asks, err := toLevels(book.Asks)
		if err != nil {
			return OrderBook{}, err
		}
		return OrderBook{Bids: bids, Asks: asks}, nil
	}
	return OrderBook{}, fmt.Errorf("kraken: no depth data for %s", pair)
}

// PlaceOrder submits a market or limit order. Volume and price are
// formatted with decimal to avoid float artifacts on the wire.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	if err := c.validate.Struct(req); err != nil {
		return OrderRef{}, fmt.Errorf("kraken: invalid order request: %w", err)
	}
	if req.OrderType == Limit && req.LimitPrice <= 0 {
		return OrderRef{}, errors.New("kraken: limit order requires a positive price")
	}

	data := url.Values{
		"pair":      {req.Pair},
		"type":      {string(req.Side)},
		"ordertype": {string(req.OrderType)},
		"volume":    {decimal.NewFromFloat(req.Volume).String()},
	}
	if req.OrderType == Limit {
		data.Set("price", decimal.NewFromFloat(req.LimitPrice).String())
	}

	result, err := c.private(ctx, "AddOrder", data)
	if err != nil {
		log.Error().Err(err).Str("side", string(req.Side)).Str("pair", req.Pair).
			Float64("volume", req.Volume).Msg("place order failed")
		return OrderRef{}, err
	}

	var payload struct {
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return OrderRef{}, fmt.Errorf("kraken: decode add order: %w", err)
	}

	ref := OrderRef{TxIDs: payload.TxID, Description: payload.Descr.Order}
	log.Info().Str("side", string(req.Side)).Str("pair", req.Pair).
		Float64("volume", req.Volume).Strs("txid", ref.TxIDs).
		Str("descr", ref.Description).Msg("order placed")
	return ref, nil
}

// AccountBalance returns all asset balances for the authenticated account.
func (c *Client) AccountBalance(ctx context.Context) (map[string]float64, error) {
	result, err := c.private(ctx, "Balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("kraken: decode balance: %w", err)
	}
	balances := make(map[string]float64, len(raw))
	for asset, amount := range raw {
		value, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			return nil, fmt.Errorf("kraken: balance for %s: %w", asset, err)
		}
		balances[asset] = value
	}
	return balances, nil
}

// AssetKey resolves the exchange's internal asset key for an altname
// (e.g. "ETH" -> "XETH").
func (c *Client) AssetKey(ctx context.Context, altname string) (string, error) {
	result, err := c.public(ctx, "Assets", url.Values{})
	if err != nil {
		return "", err
	}
	var assets map[string]struct {
		Altname string `json:"altname"`
	}
	if err := json.Unmarshal(result, &assets); err != nil {
		return "", fmt.Errorf("kraken: decode assets: %w", err)
	}
	for key, details := range assets {
		if details.Altname == altname {
			return key, nil
		}
	}
	return "", fmt.Errorf("kraken: asset key for %s not found", altname)
}

func (c *Client) public(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/0/public/%s", c.baseURL, method)
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "cryptobot")
		return req, nil
	})
}

func (c *Client) private(ctx context.Context, method string, data url.Values) (json.RawMessage, error) {
	if c.apiKey == "" || len(c.secret) == 0 {
		return nil, errors.New("kraken: private endpoint requires api credentials")
	}
	path := "/0/private/" + method
	endpoint := c.baseURL + path

	return c.do(ctx, func() (*http.Request, error) {
		// a fresh nonce per attempt: a retried request must not reuse one
		nonce := c.nonce()
		data.Set("nonce", nonce)
		body := data.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "cryptobot")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("API-Key", c.apiKey)
		req.Header.Set("API-Sign", c.sign(path, nonce, body))
		return req, nil
	})
}

// sign computes base64(HMAC-SHA512(secret, path + SHA256(nonce+postdata))).
func (c *Client) sign(path, nonce, postdata string) string {
	digest := sha256.Sum256([]byte(nonce + postdata))
	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// do executes the request with bounded exponential retry on network and
// server-side failures.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (json.RawMessage, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBase
	policy.MaxInterval = retryCap

	var result json.RawMessage
	operation := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("url", req.URL.Path).Msg("kraken request failed, retrying")
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			log.Warn().Int("status", resp.StatusCode).Str("url", req.URL.Path).
				Msg("kraken server error, retrying")
			return fmt.Errorf("kraken: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("kraken: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		var envelope struct {
			Error  []string        `json:"error"`
			Result json.RawMessage `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return backoff.Permanent(fmt.Errorf("kraken: decode response: %w", err))
		}
		if len(envelope.Error) > 0 {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrAPI, strings.Join(envelope.Error, ", ")))
		}
		result = envelope.Result
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func toLevels(raw [][]interface{}) ([]Level, error) {
	levels := make([]Level, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := toFloat(entry[0])
		if err != nil {
			return nil, fmt.Errorf("kraken: depth price: %w", err)
		}
		volume, err := toFloat(entry[1])
		if err != nil {
			return nil, fmt.Errorf("kraken: depth volume: %w", err)
		}
		levels = append(levels, Level{Price: price, Volume: volume})
	}
	return levels, nil
}

func toFloat(v interface{}) (float64, error) {
	switch value := v.(type) {
	case string:
		return strconv.ParseFloat(value, 64)
	case float64:
		return value, nil
	case json.Number:
		return value.Float64()
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
