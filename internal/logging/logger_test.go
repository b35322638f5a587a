package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"unknown", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestSetup_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "modeflow.log")

	logger, err := Setup(Config{Level: "debug", FilePath: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		Close()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	logger.Info().Str("step", "generate").Msg("step finished")
	cacheLog := Component("cache")
	cacheLog.Warn().Msg("store unavailable")
	require.NoError(t, Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.True(t, strings.Contains(content, `"step":"generate"`))
	assert.True(t, strings.Contains(content, `"component":"cache"`))
	assert.True(t, strings.Contains(content, `"level":"warn"`))
}

func TestSetup_NoSinksDiscards(t *testing.T) {
	logger, err := Setup(Config{Level: "info"})
	require.NoError(t, err)
	logger.Info().Msg("goes nowhere")
}

func TestDetachContext_SurvivesCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	detached := DetachContext(parent)

	cancel()

	assert.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
}

func TestDetachContextWithTimeout(t *testing.T) {
	parent, parentCancel := context.WithCancel(context.Background())
	detached, cancel := DetachContextWithTimeout(parent, 50*time.Millisecond)
	defer cancel()

	parentCancel()
	assert.NoError(t, detached.Err())

	<-detached.Done()
	assert.ErrorIs(t, detached.Err(), context.DeadlineExceeded)
}
