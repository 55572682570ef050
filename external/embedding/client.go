// Package embedding is the client for the external embedding service
// (C4): micro-batches chunk text, respects request- and token-per-minute
// limits, and validates returned vector dimensions, with the same circuit
// breaker shape as the parser client.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ingestpipe/pipeline/external"
	"github.com/ingestpipe/pipeline/job"
)

// Config configures the embedding Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// VectorDim is the expected embedding dimension; responses whose
	// vectors don't match are treated as a content invariant violation.
	VectorDim int
	// MaxBatchSize caps how many texts go into one request regardless of
	// the token ceiling.
	MaxBatchSize int
	// MaxBatchTokens caps the estimated token count of one micro-batch.
	MaxBatchTokens int
	RequestsPerMinute int
	TokensPerMinute   int

	Timeout          time.Duration
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// Result is one chunk's embedding, aligned by index with the input texts.
type Result struct {
	Vector []float32
}

// Client talks to the external embedding service, batching requests the
// way the original Python client's _create_micro_batches/_wait_for_rate_limit
// pair does: greedily pack texts under a token estimate of len(text)/4,
// then gate each batch behind dual requests-per-minute and
// tokens-per-minute limiters before sending it.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker

	model          string
	vectorDim      int
	maxBatchSize   int
	maxBatchTokens int

	requestLimiter *rate.Limiter
	tokenLimiter   *rate.Limiter
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey)

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	recovery := cfg.RecoveryTimeout
	if recovery == 0 {
		recovery = 60 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding",
		Timeout: recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	maxBatchSize := cfg.MaxBatchSize
	if maxBatchSize == 0 {
		maxBatchSize = 256
	}
	maxBatchTokens := cfg.MaxBatchTokens
	if maxBatchTokens == 0 {
		maxBatchTokens = 8000
	}

	requestsPerMinute := cfg.RequestsPerMinute
	if requestsPerMinute == 0 {
		requestsPerMinute = 3000
	}
	tokensPerMinute := cfg.TokensPerMinute
	if tokensPerMinute == 0 {
		tokensPerMinute = 1_000_000
	}

	return &Client{
		http:           http,
		breaker:        breaker,
		model:          cfg.Model,
		vectorDim:      cfg.VectorDim,
		maxBatchSize:   maxBatchSize,
		maxBatchTokens: maxBatchTokens,
		requestLimiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), requestsPerMinute),
		tokenLimiter:   rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/60), tokensPerMinute),
	}
}

// estimateTokens mirrors the original client's rough token estimate: one
// token per four characters.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// microBatches packs texts into batches that respect both maxBatchSize and
// maxBatchTokens, splitting whenever either limit would be exceeded.
func (c *Client) microBatches(texts []string) [][]string {
	var batches [][]string
	var current []string
	currentTokens := 0

	for _, text := range texts {
		tokens := estimateTokens(text)
		if len(current) > 0 && (len(current) >= c.maxBatchSize || currentTokens+tokens > c.maxBatchTokens) {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, text)
		currentTokens += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Embed returns one vector per input text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, 0, len(texts))
	for _, batch := range c.microBatches(texts) {
		batchResults, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, batchResults...)
	}
	return results, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([]Result, error) {
	tokens := 0
	for _, t := range texts {
		tokens += estimateTokens(t)
	}
	if err := c.requestLimiter.WaitN(ctx, 1); err != nil {
		return nil, err
	}
	if err := c.tokenLimiter.WaitN(ctx, tokens); err != nil {
		return nil, err
	}

	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"model": c.model,
				"input": texts,
			}).
			SetResult(&embedResponse{}).
			Post("/v1/embeddings")
		if err != nil {
			return nil, &external.Error{Kind: job.ErrorKindTransientRemote, Err: err}
		}
		if resp.IsError() {
			return nil, &external.Error{
				Kind: external.ClassifyStatus(resp.StatusCode()),
				Err:  fmt.Errorf("embedding service returned %d: %s", resp.StatusCode(), resp.String()),
			}
		}
		return resp.Result(), nil
	})
	if err != nil {
		return nil, err
	}

	parsed := out.(*embedResponse)
	if len(parsed.Data) != len(texts) {
		return nil, &external.Error{
			Kind: job.ErrorKindContentInvariant,
			Err:  fmt.Errorf("embedding service returned %d vectors for %d texts", len(parsed.Data), len(texts)),
		}
	}

	results := make([]Result, len(parsed.Data))
	for i, d := range parsed.Data {
		if c.vectorDim > 0 && len(d.Embedding) != c.vectorDim {
			return nil, &external.Error{
				Kind: job.ErrorKindContentInvariant,
				Err:  fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(d.Embedding), c.vectorDim),
			}
		}
		results[i] = Result{Vector: d.Embedding}
	}
	return results, nil
}

// Health performs a minimal embedding request as a liveness probe and
// reports the current circuit breaker state, mirroring the original
// client's health_check/rate_limit_status behavior.
func (c *Client) Health(ctx context.Context) (bool, string, error) {
	state := c.breaker.State().String()
	if c.breaker.State() == gobreaker.StateOpen {
		return false, state, nil
	}
	if _, err := c.embedBatch(ctx, []string{"health check"}); err != nil {
		return false, c.breaker.State().String(), err
	}
	return true, c.breaker.State().String(), nil
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
