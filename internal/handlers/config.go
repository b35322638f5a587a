package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

// Step configs arrive from YAML (int), TOML (int64) and JSON (float64)
// documents, so numeric accessors accept every numeric kind.

func configString(cfg map[string]any, key string) (string, bool) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func configInt(cfg map[string]any, key string) (int, bool, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, false, fmt.Errorf("%s: %v is not an integer", key, v)
		}
		return int(n), true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	}
	return 0, false, fmt.Errorf("%s: unexpected type %T", key, v)
}

func configFloat(cfg map[string]any, key string) (float64, bool, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", key, err)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%s: unexpected type %T", key, v)
}

func configBool(cfg map[string]any, key string) (bool, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("%s: unexpected type %T", key, v)
}

func configDuration(cfg map[string]any, key string) (time.Duration, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, nil
	case int, int64, float64:
		secs, _, err := configFloat(cfg, key)
		return time.Duration(secs * float64(time.Second)), err
	case time.Duration:
		return d, nil
	}
	return 0, fmt.Errorf("%s: unexpected type %T", key, v)
}

// flowInt reads an integer from the flow config, ignoring malformed values.
func flowInt(ec *pipeline.ExecutionContext, key string) (int, bool) {
	n, ok, err := configInt(ec.Config, key)
	return n, ok && err == nil
}

func flowFloat(ec *pipeline.ExecutionContext, key string) (float64, bool) {
	f, ok, err := configFloat(ec.Config, key)
	return f, ok && err == nil
}

func flowString(ec *pipeline.ExecutionContext, key string) string {
	s, _ := configString(ec.Config, key)
	return s
}
