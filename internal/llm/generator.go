// Package llm provides the text generation backends consumed by pipeline
// handlers. Backends are reached through the Generator interface so handlers
// and tests never depend on a concrete server.
package llm

import (
	"context"
	"errors"
	"io"
	"time"
)

// Security limits to prevent unbounded memory usage
const (
	// MaxErrorBodySize limits how much of an error response body is read (1MB).
	MaxErrorBodySize = 1 * 1024 * 1024

	// MaxResponseSize limits a generation response body (50MB).
	MaxResponseSize = 50 * 1024 * 1024
)

// ErrEmptyPrompt is returned when a request carries no prompt.
var ErrEmptyPrompt = errors.New("llm: prompt is empty")

// readLimitedBody reads up to maxBytes from r.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// GenerateRequest is one generation call. Zero values fall back to the
// backend's configured defaults.
type GenerateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// GenerateResult is the backend's answer.
type GenerateResult struct {
	Success  bool           `json:"success"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Config contains the settings shared by generation backends.
type Config struct {
	// Endpoint is the API base URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Model is used when a request names none.
	Model string `mapstructure:"model" yaml:"model"`

	// MaxTokens default for responses.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Temperature default.
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`

	// Timeout bounds one request. Zero leaves it to the caller's context.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultConfig returns defaults for a local Ollama server.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:    "http://127.0.0.1:11434",
		Model:       "llama3.2:3b",
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}
