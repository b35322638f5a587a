package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc, cfg *Config) *OllamaGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Endpoint = server.URL
	return NewOllamaGenerator(cfg, WithOllamaLogger(logging.Nop()))
}

func TestOllamaGenerate(t *testing.T) {
	var got ollamaGenerateRequest
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:           got.Model,
			Response:        "Hello there!",
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 12,
			EvalCount:       4,
		})
	}, &Config{Model: "llama3.2:3b", Temperature: 0.7, MaxTokens: 256})

	res, err := g.Generate(context.Background(), &GenerateRequest{
		Model:  "llama3.1:8b",
		Prompt: "hello",
		System: "be brief",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "Hello there!", res.Text)
	assert.Equal(t, "llama3.1:8b", res.Metadata["model"])
	assert.Equal(t, 4, res.Metadata["completion_tokens"])

	assert.False(t, got.Stream)
	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, 0.7, got.Options.Temperature, "temperature falls back to the config")
	assert.Equal(t, 256, got.Options.NumPredict)
}

func TestOllamaGenerate_DefaultModel(t *testing.T) {
	var model string
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		model = req.Model
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Model: req.Model, Response: "ok", Done: true})
	}, &Config{Model: "qwen2.5:7b"})

	_, err := g.Generate(context.Background(), &GenerateRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", model)
	assert.Equal(t, "qwen2.5:7b", g.Model())
}

func TestOllamaGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http status", http.StatusNotFound, `{"error":"model not found"}`, "status 404"},
		{"error field", http.StatusOK, `{"error":"out of memory"}`, "out of memory"},
		{"bad json", http.StatusOK, `{"response":`, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)

			_, err := g.Generate(context.Background(), &GenerateRequest{Prompt: "x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOllamaGenerate_EmptyResponseIsUnsuccessful(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "  ", Done: true})
	}, nil)

	res, err := g.Generate(context.Background(), &GenerateRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestOllamaGenerate_EmptyPrompt(t *testing.T) {
	g := NewOllamaGenerator(nil, WithOllamaLogger(logging.Nop()))
	_, err := g.Generate(context.Background(), &GenerateRequest{Prompt: " "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	_, err = g.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestOllamaGenerate_ConfigTimeout(t *testing.T) {
	// Closed before the server's cleanup so the blocked handler can return.
	release := make(chan struct{})
	defer close(release)

	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, &Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := g.Generate(context.Background(), &GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOllamaAvailable(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"with models", `{"models":[{"name":"llama3.2:3b"}]}`, true},
		{"no models", `{"models":[]}`, false},
		{"garbage", `nope`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/tags", r.URL.Path)
				w.Write([]byte(tt.body))
			}, nil)
			assert.Equal(t, tt.want, g.Available(context.Background()))
		})
	}
}

func TestIsRemoteEndpoint(t *testing.T) {
	assert.False(t, isRemoteEndpoint("http://localhost:11434"))
	assert.False(t, isRemoteEndpoint("http://127.0.0.1:11434"))
	assert.False(t, isRemoteEndpoint("http://host.docker.internal:11434"))
	assert.True(t, isRemoteEndpoint("http://10.0.0.5:11434"))
	assert.True(t, isRemoteEndpoint("https://ollama.example.com"))
}

func TestOllamaTimeoutConfig(t *testing.T) {
	local := NewOllamaGenerator(&Config{Endpoint: "http://localhost:11434/"})
	assert.Equal(t, DefaultTimeoutConfig(), local.timeoutConfig)
	assert.Equal(t, "http://localhost:11434", local.config.Endpoint)

	remote := NewOllamaGenerator(&Config{Endpoint: "http://gpu-box:11434"})
	assert.Equal(t, RemoteTimeoutConfig(), remote.timeoutConfig)

	custom := NewOllamaGenerator(nil, WithTimeoutConfig(TimeoutConfig{
		ConnectionTimeout:     5 * time.Second,
		ResponseHeaderTimeout: 7 * time.Second,
	}))
	transport := custom.client.Transport.(*http.Transport)
	assert.Equal(t, 7*time.Second, transport.ResponseHeaderTimeout)
	assert.Equal(t, 5*time.Second, transport.TLSHandshakeTimeout)
}
