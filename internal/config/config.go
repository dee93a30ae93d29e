// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/llmdebug/internal/secrets"
	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete llmdebug configuration.
type Config struct {
	Log           LogConfig           `yaml:"log"`
	LLM           LLMConfig           `yaml:"llm"`
	Debug         DebugConfig         `yaml:"debug"`
	Adapter       AdapterConfig       `yaml:"adapter"`
	Transcript    TranscriptConfig    `yaml:"transcript"`
	Observability ObservabilityConfig `yaml:"observability"`
	Notify        NotifyConfig        `yaml:"notify"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL, LLMDEBUG_LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: text
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// LLMConfig configures the oracle's model backend.
type LLMConfig struct {
	// Provider selects the backend (openai, anthropic).
	// Environment: LLMDEBUG_PROVIDER
	// Default: openai
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	// Environment: LLMDEBUG_MODEL
	Model string `yaml:"model,omitempty"`

	// APIKey is a literal key or a secret reference (env:NAME, keyring:NAME).
	// Environment: OPENAI_API_KEY or ANTHROPIC_API_KEY, matching Provider
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL points the provider at a compatible endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxTokens caps each response.
	// Default: 1000
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is passed to the model when set.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// RequestTimeout bounds one oracle request. Zero waits indefinitely.
	// Environment: LLMDEBUG_ORACLE_TIMEOUT
	// Default: 0
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the number of retries for transient provider failures.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// RateLimit caps oracle requests, as <count>/<unit> (e.g. 30/minute).
	// Empty disables limiting.
	RateLimit string `yaml:"rate_limit,omitempty"`
}

// DebugConfig configures the debug loop.
type DebugConfig struct {
	// Enabled turns AI-driven debugging on. A disabled loop refuses to attach.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Workspace is the root of the program under debug. Relative
	// breakpoint paths resolve against it.
	// Environment: LLMDEBUG_WORKSPACE
	// Default: current directory
	Workspace string `yaml:"workspace"`

	// Include and Exclude select the source files shown to the model
	// (doublestar patterns relative to Workspace).
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`

	// MaxFileSize skips source files larger than this many bytes.
	// Default: 256 KiB
	MaxFileSize int64 `yaml:"max_file_size"`

	// StackDepth caps the frames collected at each stop.
	// Default: 20
	StackDepth int `yaml:"stack_depth"`

	// VariableScopes lists the scope names whose variables are collected.
	// Default: Local, Closure, Exception
	VariableScopes []string `yaml:"variable_scopes,omitempty"`

	// ContinueAfterBreakpoint resumes the program after a batch that only
	// placed breakpoints.
	// Default: true
	ContinueAfterBreakpoint bool `yaml:"continue_after_breakpoint"`

	// MaxIterations ends the session after this many paused decisions.
	// Zero means unbounded.
	MaxIterations int `yaml:"max_iterations"`

	// EntryTimeout bounds the wait for the adapter's entry stop.
	// Default: 5s
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// AdapterConfig describes how to reach the debug adapter.
type AdapterConfig struct {
	// ID is sent as adapterID in the initialize request.
	// Default: node
	ID string `yaml:"id"`

	// Command launches the adapter over stdio. Mutually exclusive with Address.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	// Address connects to a running adapter over TCP.
	Address string `yaml:"address,omitempty"`

	// Launch and Attach are the adapter-specific request arguments.
	Launch map[string]any `yaml:"launch,omitempty"`
	Attach map[string]any `yaml:"attach,omitempty"`
}

// TranscriptConfig configures session persistence.
type TranscriptConfig struct {
	// Enabled records sessions to the transcript database.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	// Default: $XDG_DATA_HOME/llmdebug/transcripts.db
	Path string `yaml:"path,omitempty"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr serves Prometheus metrics at /metrics when set.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Exporter is one of none, stdout, otlp, otlphttp.
	// Default: none
	Exporter string `yaml:"exporter"`

	// Endpoint is the collector address for the OTLP exporters.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure,omitempty"`

	// SampleRate is the fraction of sessions traced (0-1). Zero traces all.
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// NotifyConfig configures where notifications are shown.
type NotifyConfig struct {
	// Console renders notifications on stderr.
	// Default: true
	Console bool `yaml:"console"`

	// WebSocketAddr streams notifications to host UIs when set.
	WebSocketAddr string `yaml:"websocket_addr,omitempty"`

	// WebSocketToken, when set, must be sent by clients in X-Auth-Token.
	WebSocketToken string `yaml:"websocket_token,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			Provider:   "openai",
			MaxTokens:  1000,
			MaxRetries: 3,
		},
		Debug: DebugConfig{
			Enabled:                 true,
			Exclude:                 []string{".git/**", "node_modules/**"},
			MaxFileSize:             256 * 1024,
			StackDepth:              20,
			VariableScopes:          []string{"Local", "Closure", "Exception"},
			ContinueAfterBreakpoint: true,
			EntryTimeout:            5 * time.Second,
		},
		Adapter: AdapterConfig{
			ID: "node",
		},
		Transcript: TranscriptConfig{
			Enabled: true,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{Exporter: "none"},
		},
		Notify: NotifyConfig{
			Console: true,
		},
	}
}

// Load reads configuration from configPath (optional), applies defaults
// and environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &llmerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &llmerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// LoadDefault loads the config file at ConfigPath if it exists.
func LoadDefault() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Load("")
	}
	if _, err := os.Stat(path); err != nil {
		return Load("")
	}
	return Load(path)
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaults.LLM.Provider
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = defaults.LLM.MaxTokens
	}
	if c.Debug.MaxFileSize == 0 {
		c.Debug.MaxFileSize = defaults.Debug.MaxFileSize
	}
	if c.Debug.StackDepth == 0 {
		c.Debug.StackDepth = defaults.Debug.StackDepth
	}
	if len(c.Debug.VariableScopes) == 0 {
		c.Debug.VariableScopes = defaults.Debug.VariableScopes
	}
	if c.Debug.EntryTimeout == 0 {
		c.Debug.EntryTimeout = defaults.Debug.EntryTimeout
	}
	if c.Adapter.ID == "" {
		c.Adapter.ID = defaults.Adapter.ID
	}
	if c.Observability.Tracing.Exporter == "" {
		c.Observability.Tracing.Exporter = defaults.Observability.Tracing.Exporter
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LLMDEBUG_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("LLMDEBUG_PROVIDER"); val != "" {
		c.LLM.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("LLMDEBUG_MODEL"); val != "" {
		c.LLM.Model = val
	}
	// The provider's conventional key variable wins over api_key. It is
	// kept as a reference so the key never sits in the config struct.
	if name := apiKeyEnv(c.LLM.Provider); name != "" && os.Getenv(name) != "" {
		c.LLM.APIKey = "env:" + name
	}
	if val := os.Getenv("LLMDEBUG_ORACLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.LLM.RequestTimeout = d
		}
	}

	if val := os.Getenv("LLMDEBUG_WORKSPACE"); val != "" {
		c.Debug.Workspace = val
	}
}

func apiKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if apiKeyEnv(c.LLM.Provider) == "" {
		errs = append(errs, fmt.Sprintf("llm.provider must be one of [openai, anthropic], got %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Sprintf("llm.max_tokens must be non-negative, got %d", c.LLM.MaxTokens))
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Sprintf("llm.temperature must be between 0 and 2, got %v", *t))
	}
	if c.LLM.RequestTimeout < 0 {
		errs = append(errs, fmt.Sprintf("llm.request_timeout must be non-negative, got %v", c.LLM.RequestTimeout))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("llm.max_retries must be non-negative, got %d", c.LLM.MaxRetries))
	}
	if c.LLM.RateLimit != "" {
		if err := validateRateLimitFormat(c.LLM.RateLimit); err != nil {
			errs = append(errs, fmt.Sprintf("llm.rate_limit: %v", err))
		}
	}

	if c.Debug.StackDepth < 0 {
		errs = append(errs, fmt.Sprintf("debug.stack_depth must be positive, got %d", c.Debug.StackDepth))
	}
	if c.Debug.MaxIterations < 0 {
		errs = append(errs, fmt.Sprintf("debug.max_iterations must be non-negative, got %d", c.Debug.MaxIterations))
	}
	if c.Debug.EntryTimeout < 0 {
		errs = append(errs, fmt.Sprintf("debug.entry_timeout must be non-negative, got %v", c.Debug.EntryTimeout))
	}

	if c.Adapter.Command != "" && c.Adapter.Address != "" {
		errs = append(errs, "adapter.command and adapter.address are mutually exclusive")
	}

	validExporters := map[string]bool{"none": true, "stdout": true, "otlp": true, "otlphttp": true}
	if !validExporters[c.Observability.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("observability.tracing.exporter must be one of [none, stdout, otlp, otlphttp], got %q", c.Observability.Tracing.Exporter))
	}
	if r := c.Observability.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Sprintf("observability.tracing.sample_rate must be between 0 and 1, got %v", r))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateRateLimitFormat validates <count>/<unit>.
func validateRateLimitFormat(rateLimit string) error {
	_, err := parseRateLimit(rateLimit)
	return err
}

func parseRateLimit(rateLimit string) (float64, error) {
	parts := strings.Split(rateLimit, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid rate_limit format %q, expected format: <count>/<unit> (e.g., 30/minute, 1/second)", rateLimit)
	}

	count, err := strconv.Atoi(parts[0])
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("invalid rate_limit count %q, must be a positive integer", parts[0])
	}

	units := map[string]time.Duration{
		"second": time.Second,
		"minute": time.Minute,
		"hour":   time.Hour,
		"day":    24 * time.Hour,
	}
	unit, ok := units[parts[1]]
	if !ok {
		return 0, fmt.Errorf("invalid rate_limit unit %q, must be one of: second, minute, hour, day", parts[1])
	}

	return float64(count) / unit.Seconds(), nil
}

// RequestsPerSecond converts RateLimit. Zero means unlimited.
func (c LLMConfig) RequestsPerSecond() float64 {
	if c.RateLimit == "" {
		return 0
	}
	rps, err := parseRateLimit(c.RateLimit)
	if err != nil {
		return 0
	}
	return rps
}

// ResolveSecrets replaces secret references with their values. It returns
// warnings for keys stored in plaintext.
func (c *Config) ResolveSecrets(ctx context.Context, r *secrets.Resolver) ([]string, error) {
	var warnings []string

	resolved, err := r.Resolve(ctx, c.LLM.APIKey)
	if err != nil {
		return nil, &llmerrors.ConfigError{
			Key:    "llm.api_key",
			Reason: "failed to resolve secret reference",
			Cause:  err,
		}
	}
	if resolved.Plaintext {
		warnings = append(warnings, fmt.Sprintf(
			"llm.api_key is stored in plaintext; use env:%s or keyring:<name> instead", apiKeyEnv(c.LLM.Provider)))
	}
	c.LLM.APIKey = resolved.Value

	return warnings, nil
}

// WorkspaceDir returns the absolute workspace root, defaulting to the
// current directory.
func (c *Config) WorkspaceDir() (string, error) {
	dir := c.Debug.Workspace
	if dir == "" {
		dir = "."
	}
	return filepath.Abs(dir)
}

// TranscriptPath returns the transcript database path.
func (c *Config) TranscriptPath() (string, error) {
	if c.Transcript.Path != "" {
		return c.Transcript.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "transcripts.db"), nil
}
