package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

// TimeoutConfig holds the transport timeouts for an Ollama server.
// Headers only arrive once the model is loaded, so ResponseHeaderTimeout
// must cover a cold start.
type TimeoutConfig struct {
	ConnectionTimeout     time.Duration // dial + TLS
	ResponseHeaderTimeout time.Duration // includes model loading
}

// DefaultTimeoutConfig returns timeouts tuned for a local server.
// Cold start (model loading) can take 30-90+ seconds depending on model size.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ConnectionTimeout:     30 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
	}
}

// RemoteTimeoutConfig returns timeouts for a shared remote server, where
// requests may also queue behind other users.
func RemoteTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ConnectionTimeout:     60 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
	}
}

// isRemoteEndpoint checks if the endpoint is a remote server (not localhost).
func isRemoteEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "host.docker.internal", "docker.for.mac.localhost":
		return false
	}
	return true
}

// OllamaGenerator implements Generator against Ollama's /api/generate.
type OllamaGenerator struct {
	config        Config
	client        *http.Client
	timeoutConfig TimeoutConfig
	log           zerolog.Logger
}

// OllamaOption is a functional option for configuring OllamaGenerator.
type OllamaOption func(*OllamaGenerator)

// WithTimeoutConfig sets custom transport timeouts.
func WithTimeoutConfig(cfg TimeoutConfig) OllamaOption {
	return func(g *OllamaGenerator) {
		g.timeoutConfig = cfg
		if transport, ok := g.client.Transport.(*http.Transport); ok {
			transport.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
			transport.TLSHandshakeTimeout = min(cfg.ConnectionTimeout, 10*time.Second)
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(g *OllamaGenerator) { g.client = c }
}

// WithOllamaLogger sets the logger.
func WithOllamaLogger(l zerolog.Logger) OllamaOption {
	return func(g *OllamaGenerator) { g.log = l }
}

// NewOllamaGenerator creates a generator. A nil cfg uses DefaultConfig.
func NewOllamaGenerator(cfg *Config, opts ...OllamaOption) *OllamaGenerator {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.Endpoint == "" {
		c.Endpoint = def.Endpoint
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.Model == "" {
		c.Model = def.Model
	}

	timeouts := DefaultTimeoutConfig()
	if isRemoteEndpoint(c.Endpoint) {
		timeouts = RemoteTimeoutConfig()
	}

	g := &OllamaGenerator{
		config:        c,
		timeoutConfig: timeouts,
		log:           logging.Component("llm"),
		client: &http.Client{
			// No Client.Timeout: the request context bounds the whole call and
			// ResponseHeaderTimeout catches a server that never answers.
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeouts.ResponseHeaderTimeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the backend identifier.
func (g *OllamaGenerator) Name() string {
	return "ollama"
}

// Model returns the default model.
func (g *OllamaGenerator) Model() string {
	return g.config.Model
}

// Available checks if Ollama is running and has at least one model.
func (g *OllamaGenerator) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	return len(result.Models) > 0
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
	Error           string `json:"error"`
}

// Generate sends a non-streaming generation request.
func (g *OllamaGenerator) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}
	start := time.Now()

	body := ollamaGenerateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	if body.Model == "" {
		body.Model = g.config.Model
	}
	if body.Options.Temperature == 0 {
		body.Options.Temperature = g.config.Temperature
	}
	if body.Options.NumPredict == 0 {
		body.Options.NumPredict = g.config.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	raw, err := readLimitedBody(resp.Body, MaxResponseSize+1)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(raw) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeds %d bytes", MaxResponseSize)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", out.Error)
	}

	elapsed := time.Since(start)
	g.log.Debug().
		Str("model", out.Model).
		Int("prompt_tokens", out.PromptEvalCount).
		Int("completion_tokens", out.EvalCount).
		Dur("duration", elapsed).
		Msg("Generation complete")

	return &GenerateResult{
		Success: out.Done && strings.TrimSpace(out.Response) != "",
		Text:    out.Response,
		Metadata: map[string]any{
			"backend":           g.Name(),
			"model":             out.Model,
			"prompt_tokens":     out.PromptEvalCount,
			"completion_tokens": out.EvalCount,
			"done_reason":       out.DoneReason,
			"duration_ms":       elapsed.Milliseconds(),
		},
	}, nil
}
