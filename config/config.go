// Package config loads the worker's runtime configuration from
// environment variables and an optional config file via spf13/viper, the
// way the retrieval pack's services load their own typed settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ingestpipe/pipeline/job"
)

// Config mirrors spec §9's configuration table exactly, plus the
// connection settings needed to construct the stores and clients it
// doesn't mention by name.
type Config struct {
	TerminalStage           job.Stage     `mapstructure:"terminal_stage"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryBaseDelay          time.Duration `mapstructure:"retry_base_delay"`
	RetryJitter             float64       `mapstructure:"retry_jitter"`
	CircuitFailureThreshold uint32        `mapstructure:"circuit_failure_threshold"`
	CircuitRecoveryTimeout  time.Duration `mapstructure:"circuit_recovery_timeout"`

	EmbedModel             string `mapstructure:"embed_model"`
	EmbedVersion           string `mapstructure:"embed_version"`
	VectorDim              int    `mapstructure:"vector_dim"`
	EmbedMaxBatchSize      int    `mapstructure:"embed_max_batch_size"`
	EmbedMaxBatchTokens    int    `mapstructure:"embed_max_batch_tokens"`
	EmbedRequestsPerMinute int    `mapstructure:"embed_requests_per_minute"`
	EmbedTokensPerMinute   int    `mapstructure:"embed_tokens_per_minute"`

	ChunkerName    string `mapstructure:"chunker_name"`
	ChunkerVersion string `mapstructure:"chunker_version"`

	MaxFileSizeBytes int64 `mapstructure:"max_file_size_bytes"`

	DatabaseDSN string `mapstructure:"database_dsn"`

	ParserBaseURL       string `mapstructure:"parser_base_url"`
	ParserAPIKey        string `mapstructure:"parser_api_key"`
	ParserWebhookSecret string `mapstructure:"parser_webhook_secret"`
	ParserWebhookURL    string `mapstructure:"parser_webhook_url"`

	EmbeddingBaseURL string `mapstructure:"embedding_base_url"`
	EmbeddingAPIKey  string `mapstructure:"embedding_api_key"`

	BlobBackend       string `mapstructure:"blob_backend"` // "memory" or "s3"
	S3Bucket          string `mapstructure:"s3_bucket"`
	S3Region          string `mapstructure:"s3_region"`
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`

	HealthAddr string `mapstructure:"health_addr"`
}

func defaults() map[string]any {
	return map[string]any{
		"terminal_stage":             "embedded",
		"poll_interval":              "2s",
		"max_retries":                3,
		"retry_base_delay":           "3s",
		"retry_jitter":               0.0,
		"circuit_failure_threshold":  5,
		"circuit_recovery_timeout":   "60s",
		"embed_model":                "text-embedding-3-small",
		"embed_version":              "1",
		"vector_dim":                 1536,
		"embed_max_batch_size":       256,
		"embed_max_batch_tokens":     8000,
		"embed_requests_per_minute":  3000,
		"embed_tokens_per_minute":    1_000_000,
		"chunker_name":               "markdown-simple",
		"chunker_version":            "1",
		"max_file_size_bytes":        25 * 1024 * 1024,
		"blob_backend":               "memory",
		"health_addr":                ":8080",
	}
}

// Load reads configuration from environment variables (prefixed
// INGESTPIPE_, nested keys separated by underscore) and an optional YAML
// file at configPath, falling back to the defaults above.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("ingestpipe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	stageStr := v.GetString("terminal_stage")
	stage, err := job.ParseStage(stageStr)
	if err != nil {
		return nil, fmt.Errorf("invalid terminal_stage %q: %w", stageStr, err)
	}

	return &Config{
		TerminalStage:           stage,
		PollInterval:            v.GetDuration("poll_interval"),
		MaxRetries:              v.GetInt("max_retries"),
		RetryBaseDelay:          v.GetDuration("retry_base_delay"),
		RetryJitter:             v.GetFloat64("retry_jitter"),
		CircuitFailureThreshold: uint32(v.GetInt("circuit_failure_threshold")),
		CircuitRecoveryTimeout:  v.GetDuration("circuit_recovery_timeout"),

		EmbedModel:             v.GetString("embed_model"),
		EmbedVersion:           v.GetString("embed_version"),
		VectorDim:              v.GetInt("vector_dim"),
		EmbedMaxBatchSize:      v.GetInt("embed_max_batch_size"),
		EmbedMaxBatchTokens:    v.GetInt("embed_max_batch_tokens"),
		EmbedRequestsPerMinute: v.GetInt("embed_requests_per_minute"),
		EmbedTokensPerMinute:   v.GetInt("embed_tokens_per_minute"),

		ChunkerName:    v.GetString("chunker_name"),
		ChunkerVersion: v.GetString("chunker_version"),

		MaxFileSizeBytes: v.GetInt64("max_file_size_bytes"),

		DatabaseDSN: v.GetString("database_dsn"),

		ParserBaseURL:       v.GetString("parser_base_url"),
		ParserAPIKey:        v.GetString("parser_api_key"),
		ParserWebhookSecret: v.GetString("parser_webhook_secret"),
		ParserWebhookURL:    v.GetString("parser_webhook_url"),

		EmbeddingBaseURL: v.GetString("embedding_base_url"),
		EmbeddingAPIKey:  v.GetString("embedding_api_key"),

		BlobBackend:       v.GetString("blob_backend"),
		S3Bucket:          v.GetString("s3_bucket"),
		S3Region:          v.GetString("s3_region"),
		S3Endpoint:        v.GetString("s3_endpoint"),
		S3AccessKeyID:     v.GetString("s3_access_key_id"),
		S3SecretAccessKey: v.GetString("s3_secret_access_key"),

		HealthAddr: v.GetString("health_addr"),
	}, nil
}
