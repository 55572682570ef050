// Package parser is the client for the external document-parsing service
// (C3): submit a source document, poll its status, and sign webhook
// callbacks, with a circuit breaker protecting against a parser outage.
package parser

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/ingestpipe/pipeline/external"
	"github.com/ingestpipe/pipeline/job"
)

// Config configures the parser Client.
type Config struct {
	BaseURL         string
	APIKey          string
	WebhookSecret   string
	Timeout         time.Duration
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// SubmitResult is the parser's acknowledgement of a submitted job.
type SubmitResult struct {
	ParserJobID string
	Status      string
}

// StatusResult is the parser's current view of a previously submitted job.
type StatusResult struct {
	Status    string
	ResultURI string
	Error     string
}

// Client talks to the external parsing service over HTTP, wrapped in a
// circuit breaker so a prolonged outage fails fast instead of piling up
// blocked workers (mirrors llamaparse_client.py's failure_count/
// circuit_open bookkeeping, generalized to gobreaker).
type Client struct {
	http          *resty.Client
	breaker       *gobreaker.CircuitBreaker
	webhookSecret string
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
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
		Name:    "parser",
		Timeout: recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Client{http: http, breaker: breaker, webhookSecret: cfg.WebhookSecret}
}

// SignWebhook returns the HMAC-SHA256 signature the parsing service expects
// for a webhook callback, computed the same way the original Python client
// signs submissions: HMAC-SHA256(secret, "{job_id}:{timestamp}").
func SignWebhook(secret string, jobID string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s:%d", jobID, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Submit hands sourceURI to the parsing service for job jobID, registering
// webhookURI (if non-empty) as the callback target.
func (c *Client) Submit(ctx context.Context, jobID uuid.UUID, sourceURI, webhookURI string) (SubmitResult, error) {
	idStr := jobID.String()
	ts := time.Now().Unix()

	out, err := c.do(ctx, func() (*resty.Response, error) {
		req := c.http.R().
			SetContext(ctx).
			SetHeader("X-Parser-Timestamp", fmt.Sprintf("%d", ts)).
			SetBody(map[string]any{
				"job_id":      idStr,
				"source_uri":  sourceURI,
				"webhook_uri": webhookURI,
			}).
			SetResult(&submitResponse{})
		if c.webhookSecret != "" && webhookURI != "" {
			req.SetHeader("X-Parser-Signature", SignWebhook(c.webhookSecret, idStr, ts))
		}
		return req.Post("/v1/parse")
	})
	if err != nil {
		return SubmitResult{}, err
	}
	resp := out.(*submitResponse)
	return SubmitResult{ParserJobID: resp.ParserJobID, Status: resp.Status}, nil
}

// Status fetches the current status of a previously submitted parse job.
func (c *Client) Status(ctx context.Context, parserJobID string) (StatusResult, error) {
	out, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&statusResponse{}).
			Get("/v1/parse/" + parserJobID)
	})
	if err != nil {
		return StatusResult{}, err
	}
	resp := out.(*statusResponse)
	return StatusResult{Status: resp.Status, ResultURI: resp.ResultURI, Error: resp.Error}, nil
}

// Health reports whether the parsing service is reachable and the current
// circuit breaker state, for the worker's /healthz endpoint.
func (c *Client) Health(ctx context.Context) (bool, string, error) {
	state := c.breaker.State().String()
	if c.breaker.State() == gobreaker.StateOpen {
		return false, state, nil
	}
	_, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).Get("/v1/health")
	})
	if err != nil {
		return false, c.breaker.State().String(), err
	}
	return true, c.breaker.State().String(), nil
}

type submitResponse struct {
	ParserJobID string `json:"parser_job_id"`
	Status      string `json:"status"`
}

type statusResponse struct {
	Status    string `json:"status"`
	ResultURI string `json:"result_uri"`
	Error     string `json:"error"`
}

// do executes fn through the circuit breaker and translates HTTP/network
// failures into job.ErrorKind-classified errors the stage handlers can act
// on.
func (c *Client) do(ctx context.Context, fn func() (*resty.Response, error)) (any, error) {
	return c.breaker.Execute(func() (any, error) {
		resp, err := fn()
		if err != nil {
			return nil, &external.Error{Kind: job.ErrorKindTransientRemote, Err: err}
		}
		if resp.IsError() {
			kind := external.ClassifyStatus(resp.StatusCode())
			return nil, &external.Error{
				Kind: kind,
				Err:  fmt.Errorf("parser returned %d: %s", resp.StatusCode(), resp.String()),
			}
		}
		return resp.Result(), nil
	})
}
