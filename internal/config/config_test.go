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
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/tombee/llmdebug/internal/secrets"
	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// clearEnv unsets every variable Load reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"LOG_LEVEL", "LLMDEBUG_LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"LLMDEBUG_PROVIDER", "LLMDEBUG_MODEL", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"LLMDEBUG_ORACLE_TIMEOUT", "LLMDEBUG_WORKSPACE",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.RequestTimeout != 0 {
		t.Errorf("expected unbounded request timeout, got %v", cfg.LLM.RequestTimeout)
	}
	if !cfg.Debug.Enabled {
		t.Error("expected debugging enabled by default")
	}
	if !cfg.Debug.ContinueAfterBreakpoint {
		t.Error("expected continue_after_breakpoint by default")
	}
	if cfg.Debug.MaxIterations != 0 {
		t.Errorf("expected unbounded iterations, got %d", cfg.Debug.MaxIterations)
	}
	if cfg.Debug.StackDepth != 20 {
		t.Errorf("expected stack depth 20, got %d", cfg.Debug.StackDepth)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
log:
  level: debug
llm:
  provider: anthropic
  model: claude-sonnet-4-5
  rate_limit: 30/minute
debug:
  workspace: /srv/app
  continue_after_breakpoint: false
  max_iterations: 12
adapter:
  command: node
  args: [dap-adapter.js]
  launch:
    program: index.js
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected default format 'text', got %q", cfg.Log.Format)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Errorf("unexpected llm config %+v", cfg.LLM)
	}
	if got := cfg.LLM.RequestsPerSecond(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5 requests/second, got %v", got)
	}
	if cfg.Debug.ContinueAfterBreakpoint {
		t.Error("expected continue_after_breakpoint false from file")
	}
	if !cfg.Debug.Enabled {
		t.Error("absent debug.enabled should keep the default")
	}
	if cfg.Debug.MaxIterations != 12 {
		t.Errorf("expected 12 iterations, got %d", cfg.Debug.MaxIterations)
	}
	if cfg.Debug.StackDepth != 20 {
		t.Errorf("expected default stack depth, got %d", cfg.Debug.StackDepth)
	}
	if cfg.Adapter.ID != "node" || cfg.Adapter.Command != "node" {
		t.Errorf("unexpected adapter config %+v", cfg.Adapter)
	}
	if cfg.Adapter.Launch["program"] != "index.js" {
		t.Errorf("expected launch program index.js, got %v", cfg.Adapter.Launch["program"])
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: openai
  api_key: sk-from-file
`)
	t.Setenv("LLMDEBUG_PROVIDER", "Anthropic")
	t.Setenv("LLMDEBUG_MODEL", "claude-opus")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("LLMDEBUG_ORACLE_TIMEOUT", "45s")
	t.Setenv("LLMDEBUG_WORKSPACE", "/work")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LLMDEBUG_LOG_LEVEL", "trace")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic', got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "claude-opus" {
		t.Errorf("expected model override, got %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "env:ANTHROPIC_API_KEY" {
		t.Errorf("expected key reference, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.RequestTimeout != 45*time.Second {
		t.Errorf("expected 45s timeout, got %v", cfg.LLM.RequestTimeout)
	}
	if cfg.Debug.Workspace != "/work" {
		t.Errorf("expected workspace /work, got %q", cfg.Debug.Workspace)
	}
	if cfg.Log.Level != "trace" {
		t.Errorf("LLMDEBUG_LOG_LEVEL should win, got %q", cfg.Log.Level)
	}
}

func TestLoad_ProviderKeyOnlyForMatchingProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("openai provider should ignore ANTHROPIC_API_KEY, got %q", cfg.LLM.APIKey)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *llmerrors.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "config_file" {
		t.Errorf("expected config_file ConfigError, got %v", err)
	}

	_, err = Load(writeConfig(t, "llm: [unterminated"))
	if err == nil || !strings.Contains(err.Error(), "failed to load") {
		t.Errorf("expected parse failure, got %v", err)
	}

	_, err = Load(writeConfig(t, "llm:\n  provider: gemini\n"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			errText: "log.level",
		},
		{
			name:    "unknown provider",
			modify:  func(c *Config) { c.LLM.Provider = "gemini" },
			errText: "llm.provider",
		},
		{
			name: "temperature out of range",
			modify: func(c *Config) {
				temp := 3.0
				c.LLM.Temperature = &temp
			},
			errText: "llm.temperature",
		},
		{
			name:    "bad rate limit unit",
			modify:  func(c *Config) { c.LLM.RateLimit = "10/week" },
			errText: "invalid rate_limit unit",
		},
		{
			name:    "bad rate limit count",
			modify:  func(c *Config) { c.LLM.RateLimit = "0/minute" },
			errText: "invalid rate_limit count",
		},
		{
			name:    "negative iterations",
			modify:  func(c *Config) { c.Debug.MaxIterations = -1 },
			errText: "debug.max_iterations",
		},
		{
			name: "command and address",
			modify: func(c *Config) {
				c.Adapter.Command = "node"
				c.Adapter.Address = "127.0.0.1:4711"
			},
			errText: "mutually exclusive",
		},
		{
			name:    "unknown exporter",
			modify:  func(c *Config) { c.Observability.Tracing.Exporter = "zipkin" },
			errText: "observability.tracing.exporter",
		},
		{
			name:    "sample rate above one",
			modify:  func(c *Config) { c.Observability.Tracing.SampleRate = 1.5 },
			errText: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.errText == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.errText)
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.errText)
			}
		})
	}
}

func TestResolveSecrets(t *testing.T) {
	keyring.MockInit()
	if err := secrets.NewKeychainBackend().Set(context.Background(), "openai", "sk-keyring"); err != nil {
		t.Fatalf("failed to seed keyring: %v", err)
	}
	r := secrets.DefaultResolver()

	cfg := Default()
	cfg.LLM.APIKey = "keyring:openai"
	warnings, err := cfg.ResolveSecrets(context.Background(), r)
	if err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if cfg.LLM.APIKey != "sk-keyring" {
		t.Errorf("expected resolved key, got %q", cfg.LLM.APIKey)
	}

	cfg = Default()
	cfg.LLM.APIKey = "sk-plain"
	warnings, err = cfg.ResolveSecrets(context.Background(), r)
	if err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "plaintext") {
		t.Errorf("expected plaintext warning, got %v", warnings)
	}

	cfg = Default()
	cfg.LLM.APIKey = "env:LLMDEBUG_TEST_UNSET_KEY"
	_, err = cfg.ResolveSecrets(context.Background(), r)
	var cfgErr *llmerrors.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "llm.api_key" {
		t.Errorf("expected llm.api_key ConfigError, got %v", err)
	}
	if !errors.Is(err, secrets.ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound in chain, got %v", err)
	}
}

func TestTranscriptPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg := Default()
	path, err := cfg.TranscriptPath()
	if err != nil {
		t.Fatalf("TranscriptPath() error = %v", err)
	}
	if filepath.Base(path) != "transcripts.db" || filepath.Base(filepath.Dir(path)) != "llmdebug" {
		t.Errorf("unexpected transcript path %q", path)
	}

	cfg.Transcript.Path = "/tmp/custom.db"
	if path, _ := cfg.TranscriptPath(); path != "/tmp/custom.db" {
		t.Errorf("expected explicit path, got %q", path)
	}
}
