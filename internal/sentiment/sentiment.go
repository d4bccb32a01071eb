// Package sentiment supplies a news-derived polarity score in [-1,1] used
// by the engine to widen or narrow its RSI thresholds. Scoring is a naive
// headline polarity average; the score is an opaque overlay signal, not a
// statistical estimate.
package sentiment

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Provider supplies the current sentiment score. Implementations never
// fail; absence of data is the neutral 0.0.
type Provider interface {
	Score(ctx context.Context) float64
}

// Static is a fixed-score provider for wiring and tests.
type Static float64

func (s Static) Score(context.Context) float64 { return float64(s) }

// DefaultCacheTTL bounds request volume against the news endpoint.
const DefaultCacheTTL = 25 * time.Minute

const maxHeadlines = 10

// Client fetches recent headlines from a JSON endpoint and averages their
// polarity. Results are cached for the configured TTL; any fetch or decode
// failure falls back to the last cached score, or neutral.
type Client struct {
	endpoint string
	ttl      time.Duration
	http     *http.Client
	now      func() time.Time

	mu        sync.Mutex
	cached    float64
	fetchedAt time.Time
}

func NewClient(endpoint string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Client{
		endpoint: endpoint,
		ttl:      ttl,
		http:     &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

func (c *Client) Score(ctx context.Context) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.cached
	}

	headlines, err := c.fetchHeadlines(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("sentiment fetch failed, keeping previous score")
		c.fetchedAt = c.now()
		return c.cached
	}

	c.cached = ScoreHeadlines(headlines)
	c.fetchedAt = c.now()
	log.Info().Float64("score", c.cached).Int("headlines", len(headlines)).
		Msg("sentiment score updated")
	return c.cached
}

// newsResponse covers the common shapes of headline feeds: a CryptoPanic
// style results list and a NewsAPI style articles list.
type newsResponse struct {
	Results []struct {
		Title string `json:"title"`
	} `json:"results"`
	Articles []struct {
		Title string `json:"title"`
	} `json:"articles"`
}

func (c *Client) fetchHeadlines(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload newsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	var headlines []string
	for _, r := range payload.Results {
		headlines = append(headlines, r.Title)
	}
	for _, a := range payload.Articles {
		headlines = append(headlines, a.Title)
	}
	if len(headlines) > maxHeadlines {
		headlines = headlines[:maxHeadlines]
	}
	return headlines, nil
}

var positiveWords = map[string]bool{
	"surge": true, "rally": true, "gain": true, "gains": true, "bullish": true,
	"soar": true, "soars": true, "record": true, "adoption": true, "growth": true,
	"rise": true, "rises": true, "up": true, "high": true, "boom": true,
}

var negativeWords = map[string]bool{
	"crash": true, "plunge": true, "plunges": true, "bearish": true, "loss": true,
	"losses": true, "hack": true, "hacked": true, "fraud": true, "ban": true,
	"drop": true, "drops": true, "down": true, "low": true, "selloff": true,
}

// ScoreHeadlines averages per-headline polarity. Each headline scores
// (positive - negative) / matched words; no headlines yields neutral 0.0.
func ScoreHeadlines(headlines []string) float64 {
	if len(headlines) == 0 {
		return 0.0
	}
	total := 0.0
	for _, h := range headlines {
		total += scoreHeadline(h)
	}
	return total / float64(len(headlines))
}

func scoreHeadline(headline string) float64 {
	words := strings.Fields(strings.ToLower(headline))
	var positive, negative int
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;\"'()")
		if positiveWords[w] {
			positive++
		} else if negativeWords[w] {
			negative++
		}
	}
	matched := positive + negative
	if matched == 0 {
		return 0.0
	}
	return float64(positive-negative) / float64(matched)
}
