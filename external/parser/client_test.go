package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestpipe/pipeline/external"
	"github.com/ingestpipe/pipeline/job"
)

func TestSignWebhookMatchesHMACOfJobIDAndTimestamp(t *testing.T) {
	sig1 := SignWebhook("secret", "job-1", 1000)
	sig2 := SignWebhook("secret", "job-1", 1000)
	sig3 := SignWebhook("secret", "job-1", 1001)
	assert.Equal(t, sig1, sig2)
	assert.NotEqual(t, sig1, sig3)
}

func TestSubmitSendsSignatureWhenWebhookPresent(t *testing.T) {
	var gotSig, gotTs string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Parser-Signature")
		gotTs = r.Header.Get("X-Parser-Timestamp")
		_ = json.NewEncoder(w).Encode(submitResponse{ParserJobID: "p-1", Status: "queued"})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, WebhookSecret: "secret"})
	res, err := c.Submit(context.Background(), uuid.New(), "s3://raw.pdf", "https://cb.example/hook")
	require.NoError(t, err)
	assert.Equal(t, "p-1", res.ParserJobID)
	assert.Equal(t, "queued", res.Status)
	assert.NotEmpty(t, gotSig)
	assert.NotEmpty(t, gotTs)
}

func TestSubmitOmitsSignatureWithoutWebhook(t *testing.T) {
	var gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Parser-Signature")
		_ = json.NewEncoder(w).Encode(submitResponse{ParserJobID: "p-1", Status: "queued"})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, WebhookSecret: "secret"})
	_, err := c.Submit(context.Background(), uuid.New(), "s3://raw.pdf", "")
	require.NoError(t, err)
	assert.Empty(t, gotSig)
}

func TestStatusReturnsParsedFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "completed", ResultURI: "s3://parsed.md"})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	res, err := c.Status(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, "s3://parsed.md", res.ResultURI)
}

func TestRetryableStatusClassifiedAsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	_, err := c.Status(context.Background(), "p-1")
	require.Error(t, err)
	assert.Equal(t, job.ErrorKindTransientRemote, external.Classify(err))
}

func TestFatalStatusClassifiedAsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	_, err := c.Status(context.Background(), "p-1")
	require.Error(t, err)
	assert.Equal(t, job.ErrorKindFatalRemote, external.Classify(err))
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, FailureThreshold: 2, RecoveryTimeout: time.Minute})
	_, _ = c.Status(context.Background(), "p-1")
	_, _ = c.Status(context.Background(), "p-1")

	healthy, state, _ := c.Health(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "open", state)
}
