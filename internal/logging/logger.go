// Package logging wires the process-wide zerolog logger used by modeflow.
// It supports console output, rotated JSON file output and per-component
// child loggers.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the logger behavior.
type Config struct {
	Level      string // debug, info, warn, error
	FilePath   string // Optional path for rotated JSON logs
	Console    bool   // Human readable output on stderr
	Colored    bool
	ShowCaller bool
	MaxSizeMB  int // Rotation size (default 10)
	MaxBackups int // Rotated files to keep (default 5)
	MaxAgeDays int // Days to keep rotated files (default 30)
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		Colored:    true,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// VerboseConfig returns a configuration for verbose troubleshooting.
func VerboseConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.ShowCaller = true
	return cfg
}

var (
	setupMu sync.Mutex
	rotator *lumberjack.Logger
)

// Setup installs the global zerolog logger and returns it.
// Calling Setup again replaces the previous sinks and closes any open file.
func Setup(cfg Config) (zerolog.Logger, error) {
	setupMu.Lock()
	defer setupMu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    !cfg.Colored,
			TimeFormat: "2006-01-02 15:04:05.000",
		})
	}

	if rotator != nil {
		rotator.Close()
		rotator = nil
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return log.Logger, err
		}
		rotator = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
			Compress:   true,
		}
		writers = append(writers, rotator)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp()
	if cfg.ShowCaller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger, nil
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	setupMu.Lock()
	defer setupMu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Nop returns a disabled logger, handy for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// ParseLevel parses a string into a zerolog level. Unknown values map to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
