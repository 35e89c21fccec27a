// Package oracle implements the valuation pipeline: prompt construction,
// the HTTP call to the probabilistic oracle, response parsing, and token
// cost accounting. Its HTTP transport (rate limiting, exponential backoff
// with jitter) is grounded on the teacher's polymarket.Client.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	// DefaultCacheTTL is how long a cached valuation stays usable.
	DefaultCacheTTL = 300 * time.Second
	// DefaultPriceDeltaBypass is the mid-price move (as a fraction) past
	// which the cache is bypassed even if still within TTL.
	DefaultPriceDeltaBypass = 0.02
)

// PricingConfig carries the per-token prices used for cost accounting,
// and the model name sent in every request.
type PricingConfig struct {
	ModelName string
	PriceIn   money.Money // cost per input token
	PriceOut  money.Money // cost per output token
	MaxTokens int
}

// Client is the HTTP collaborator for the oracle's messages endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	pricing PricingConfig
}

// NewClient builds a Client targeting baseURL (the oracle's host; requests
// are POSTed to baseURL + "/v1/messages"), authenticating with apiKey.
func NewClient(baseURL, apiKey string, pricing PricingConfig, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(4), 4)
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: limiter,
		pricing: pricing,
	}
}

// Request is the oracle call's prompt material. The core never interprets
// enrichment payloads; they are forwarded opaquely.
type Request struct {
	Candidate    domain.Candidate
	Enrichment   []domain.DataPoint
	PriceHistory string // pre-summarized, opaque
}

type messagesRequest struct {
	Model     string `json:"model"`
	System    string `json:"system"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type rawValuation struct {
	Probability     float64  `json:"probability"`
	Confidence      float64  `json:"confidence"`
	DataQuality     string   `json:"data_quality"`
	TimeSensitivity string   `json:"time_sensitivity"`
	Reasoning       string   `json:"reasoning"`
	KeyFactors      []string `json:"key_factors"`
}

const systemPrompt = `You are a probabilistic forecasting engine for a prediction-market trading agent. Respond with exactly one JSON object and nothing else, matching this schema:
{"probability": <0..1>, "confidence": <0..1>, "data_quality": "high"|"medium"|"low", "time_sensitivity": "hours"|"days"|"weeks", "reasoning": "<string>", "key_factors": ["<string>", ...]}
Do not wrap the JSON in markdown fences. Do not include any other text.`

func userPrompt(req Request) string {
	c := req.Candidate
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", c.Question)
	fmt.Fprintf(&sb, "Category: %s\n", c.Category)
	fmt.Fprintf(&sb, "Current mid price: %.4f (implied probability)\n", c.MidPrice)
	fmt.Fprintf(&sb, "Resolution date: %s\n", c.ResolvesAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "24h volume: %.2f\n", c.Volume24h)
	fmt.Fprintf(&sb, "Spread: %.4f\n", c.Spread)
	if req.PriceHistory != "" {
		fmt.Fprintf(&sb, "24h price history summary: %s\n", req.PriceHistory)
	}
	fmt.Fprintf(&sb, "Order book depth: %d bid levels, %d ask levels\n", len(c.Book.Bids), len(c.Book.Asks))
	if len(req.Enrichment) > 0 {
		sb.WriteString("Enrichment data points (opaque JSON payloads, use as supporting evidence):\n")
		for _, dp := range req.Enrichment {
			fmt.Fprintf(&sb, "- source=%s category=%s confidence=%.2f payload=%s\n",
				dp.Source, dp.Category, dp.Confidence, string(dp.Payload))
		}
	}
	sb.WriteString("Return your fair-value probability estimate now.")
	return sb.String()
}

// Outcome bundles the parsed Valuation together with the API Cost Record
// for the call that produced it, so the caller can persist cost before
// consuming the valuation (spec ordering guarantee).
type Outcome struct {
	Valuation domain.Valuation
	Cost      domain.APICostRecord
}

// Evaluate calls the oracle for one candidate and parses the result.
// On HTTP >=400 or malformed output it returns *domain.OracleError; the
// caller's policy is always to skip the market and continue.
func (c *Client) Evaluate(ctx context.Context, req Request, cycle int64) (Outcome, error) {
	body := messagesRequest{
		Model:     c.pricing.ModelName,
		System:    systemPrompt,
		MaxTokens: c.pricing.MaxTokens,
	}
	body.Messages = append(body.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: userPrompt(req)})

	var resp messagesResponse
	_, err := c.doWithRetry(ctx, body, &resp)
	if err != nil {
		var oe *domain.OracleError
		if errors.As(err, &oe) {
			return Outcome{}, oe
		}
		return Outcome{}, &domain.OracleError{Err: err}
	}

	if len(resp.Content) == 0 {
		return Outcome{}, &domain.OracleError{Err: fmt.Errorf("empty content in oracle response")}
	}

	raw, err := extractJSON(resp.Content[0].Text)
	if err != nil {
		return Outcome{}, &domain.OracleError{Err: fmt.Errorf("extract valuation JSON: %w", err)}
	}

	v := domain.Valuation{
		ConditionID:     req.Candidate.ConditionID,
		FairProbability: raw.Probability,
		Confidence:      raw.Confidence,
		DataQuality:     domain.DataQuality(raw.DataQuality),
		TimeSensitivity: domain.TimeSensitivity(raw.TimeSensitivity),
		Reasoning:       raw.Reasoning,
		KeyFactors:      raw.KeyFactors,
		SourceAt:        time.Now().UTC(),
	}.Clamp()

	cost := c.accountCost(resp.Usage.InputTokens, resp.Usage.OutputTokens, cycle)
	return Outcome{Valuation: v, Cost: cost}, nil
}

func (c *Client) accountCost(inputTokens, outputTokens int64, cycle int64) domain.APICostRecord {
	in := money.FromInt(inputTokens).MulFrac(c.pricing.PriceIn.Decimal())
	out := money.FromInt(outputTokens).MulFrac(c.pricing.PriceOut.Decimal())
	return domain.APICostRecord{
		Provider:     "anthropic",
		Endpoint:     "messages",
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         in.Add(out),
		Cycle:        cycle,
		Timestamp:    time.Now().UTC(),
	}
}

// extractJSON pulls the first balanced {...} object out of s and unmarshals
// it, rejecting an object that lacks a schema key or carries a tag outside
// its enumerated set (tags are compared case-insensitively). The oracle is
// instructed to return bare JSON, but defensively tolerates stray
// leading/trailing text.
func extractJSON(s string) (rawValuation, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return rawValuation{}, fmt.Errorf("no JSON object found")
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				obj := []byte(s[start : i+1])
				var rv rawValuation
				if err := json.Unmarshal(obj, &rv); err != nil {
					return rawValuation{}, err
				}
				var fields map[string]json.RawMessage
				_ = json.Unmarshal(obj, &fields) // obj already decoded cleanly into rv
				for _, k := range []string{"probability", "confidence", "data_quality", "time_sensitivity", "reasoning", "key_factors"} {
					if _, ok := fields[k]; !ok {
						return rawValuation{}, fmt.Errorf("missing key %q", k)
					}
				}
				dq, ts := strings.ToLower(rv.DataQuality), strings.ToLower(rv.TimeSensitivity)
				if (dq != "high" && dq != "medium" && dq != "low") || (ts != "hours" && ts != "days" && ts != "weeks") {
					return rawValuation{}, fmt.Errorf("tag outside enumerated set: data_quality=%q time_sensitivity=%q", rv.DataQuality, rv.TimeSensitivity)
				}
				return rv, nil
			}
		}
	}
	return rawValuation{}, fmt.Errorf("unbalanced JSON object")
}

// doWithRetry posts body to the messages endpoint with rate limiting and
// exponential backoff with jitter. It returns whether the request ever
// reached the server (used to decide whether a failed call still owes a
// cost record — it never does here, since usage tokens are unknown without
// a response).
func (c *Client) doWithRetry(ctx context.Context, body messagesRequest, out *messagesResponse) (bool, error) {
	reachedServer := false
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return reachedServer, fmt.Errorf("rate limiter: %w", err)
		}

		b, err := json.Marshal(body)
		if err != nil {
			return reachedServer, fmt.Errorf("marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(b))
		if err != nil {
			return reachedServer, fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if attempt == maxRetries {
				return reachedServer, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}
		reachedServer = true

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("oracle rate limited", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return reachedServer, fmt.Errorf("oracle server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return reachedServer, &domain.OracleError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return reachedServer, fmt.Errorf("decode oracle response: %w", err)
		}
		return reachedServer, nil
	}
	return reachedServer, fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt)))*baseRetryWait + time.Duration(rand.Int63n(int64(baseRetryWait)))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// ShouldBypassCache reports whether the cached valuation's source price
// has drifted from the candidate's current mid by more than deltaPct.
func ShouldBypassCache(cachedMid, currentMid, deltaPct float64) bool {
	if cachedMid == 0 {
		return true
	}
	diff := math.Abs(currentMid-cachedMid) / math.Abs(cachedMid)
	return diff > deltaPct
}
