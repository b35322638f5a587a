// Package config provides configuration management for modeflow.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.modeflow/config.yaml and is automatically
// created with defaults on first use. The file structure mirrors the Go
// structs defined in this package; the router sections embed the router's
// own config types, so every classifier table can be tuned from the file.
//
// Keys missing from the file keep their defaults. Lists present in the file
// replace the default list rather than extending it.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the MODEFLOW_ prefix. Nested fields are separated by underscores.
// A .env file next to the config file, or in the working directory, is
// loaded first; variables already exported take precedence over it.
//
// Examples:
//   - MODEFLOW_LOGGING_LEVEL=debug
//   - MODEFLOW_LLM_OLLAMA_ENDPOINT=http://gpu-box:11434
//   - MODEFLOW_CACHE_BACKEND=redis
//   - MODEFLOW_CACHE_REDIS_PASSWORD=...
//   - MODEFLOW_SELECTOR_THOROUGH_THRESHOLD=0.55
//
// # Configuration Sections
//
//   - logging: level, console output and the rotated log file
//   - intent, complexity, context, selector: the routing engine tables
//   - session: per-session history bound
//   - pipelines: definition directory, hot reload, fallback depth, mode routes
//   - cache: backend (memory, sqlite, redis), capacity and per-tier TTLs
//   - llm: the Ollama endpoint, default model and client-side limits
//   - retrieval: optional document file for the static retriever
//   - metrics: per-request metrics database and retention
//
// # Validation
//
// Validate runs the struct tag checks, then builds the router components
// from their sections so a bad regex or unbalanced weights fail at startup
// rather than on the first request.
package config
