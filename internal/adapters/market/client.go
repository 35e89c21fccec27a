// Package market is the one concrete, shipped implementation of
// ports.MarketClient: a thin, read-only CLOB exchange client. It never
// signs or places live orders — PlaceLimitOrder always surfaces
// domain.ErrNotImplemented, per the spec's live-mode gap. Its HTTP
// transport (rate limiting, retry-with-backoff) is adapted from the
// teacher's polymarket.Client.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/ports"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is a read-only exchange client: market discovery, order books,
// and resolution lookups only.
type Client struct {
	http        *http.Client
	baseURL     string
	booksLimit  *rate.Limiter
	generalRate *rate.Limiter
}

// NewClient builds a Client against baseURL (the exchange's CLOB REST
// root), rate-limited to stay well under documented exchange quotas.
func NewClient(baseURL string) *Client {
	return &Client{
		http:        &http.Client{Timeout: 10 * time.Second},
		baseURL:     baseURL,
		booksLimit:  rate.NewLimiter(rate.Limit(30), 5),
		generalRate: rate.NewLimiter(rate.Limit(50), 10),
	}
}

type marketSummary struct {
	ConditionID string  `json:"condition_id"`
	Question    string  `json:"question"`
	Category    string  `json:"category"`
	Volume24h   float64 `json:"volume_24h"`
	BidPrice    float64 `json:"bid_price"`
	AskPrice    float64 `json:"ask_price"`
	ResolvesAt  int64   `json:"resolves_at"`
}

// ListMarkets returns up to filter.MaxCandidates active markets.
// filter.Categories is not sent to the exchange.
func (c *Client) ListMarkets(ctx context.Context, filter ports.MarketFilter) ([]domain.Candidate, error) {
	url := fmt.Sprintf("%s/markets?limit=%d", c.baseURL, filter.MaxCandidates)
	var summaries []marketSummary
	if err := c.get(ctx, c.generalRate, url, &summaries); err != nil {
		return nil, fmt.Errorf("market.ListMarkets: %w", err)
	}

	out := make([]domain.Candidate, 0, len(summaries))
	for _, s := range summaries {
		mid := (s.BidPrice + s.AskPrice) / 2
		out = append(out, domain.Candidate{
			ConditionID: s.ConditionID,
			Question:    s.Question,
			Category:    domain.Category(s.Category),
			Volume24h:   s.Volume24h,
			BidPrice:    s.BidPrice,
			AskPrice:    s.AskPrice,
			MidPrice:    mid,
			Spread:      s.AskPrice - s.BidPrice,
			ResolvesAt:  time.Unix(s.ResolvesAt, 0).UTC(),
			ObservedAt:  time.Now().UTC(),
		})
	}
	return out, nil
}

type bookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

// GetOrderBook returns the current bid/ask depth for conditionID.
func (c *Client) GetOrderBook(ctx context.Context, conditionID string) (domain.OrderBookSnapshot, error) {
	url := fmt.Sprintf("%s/book?condition_id=%s", c.baseURL, conditionID)
	var resp bookResponse
	if err := c.get(ctx, c.booksLimit, url, &resp); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("market.GetOrderBook: %w", err)
	}
	return domain.OrderBookSnapshot{
		Bids: toLevels(resp.Bids),
		Asks: toLevels(resp.Asks),
	}, nil
}

func toLevels(src []bookLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, len(src))
	for i, l := range src {
		out[i] = domain.BookLevel{Price: l.Price, Size: l.Size}
	}
	return out
}

type resolutionResponse struct {
	Resolved  bool  `json:"resolved"`
	Outcome   int   `json:"outcome"`
	Timestamp int64 `json:"timestamp"`
}

// GetResolution returns the market's outcome if it has resolved.
func (c *Client) GetResolution(ctx context.Context, conditionID string) (ports.Resolution, bool, error) {
	url := fmt.Sprintf("%s/resolution?condition_id=%s", c.baseURL, conditionID)
	var resp resolutionResponse
	if err := c.get(ctx, c.generalRate, url, &resp); err != nil {
		return ports.Resolution{}, false, fmt.Errorf("market.GetResolution: %w", err)
	}
	if !resp.Resolved {
		return ports.Resolution{}, false, nil
	}
	return ports.Resolution{Outcome: resp.Outcome, Timestamp: resp.Timestamp}, true, nil
}

// PlaceLimitOrder is live-only and always fails: this reference adapter
// deliberately never signs a transaction.
func (c *Client) PlaceLimitOrder(ctx context.Context, conditionID string, direction domain.Direction, price, size float64, ttl int) (string, error) {
	return "", domain.ErrNotImplemented
}

func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("exchange rate limited", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
