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


package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tombee/llmdebug/internal/config"
	"github.com/tombee/llmdebug/internal/debugloop"
	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/internal/metrics"
	"github.com/tombee/llmdebug/internal/notify"
	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/internal/pausedstate"
	"github.com/tombee/llmdebug/internal/source"
	"github.com/tombee/llmdebug/internal/tracing"
	"github.com/tombee/llmdebug/internal/transcript"
	"github.com/tombee/llmdebug/pkg/llm"
)

// Runtime holds the collaborators shared by every session of one
// command invocation.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Oracle   oracle.Oracle
	Notifier *notify.Fanout
	Metrics  *metrics.Recorder
	Code     *source.Collector
	Tracing  *tracing.Provider
	Store    *transcript.Store

	workspace string
	console   *notify.Console
	hub       *notify.Hub
	cancel    context.CancelFunc
}

// RuntimeOptions override parts of the runtime built from config.
type RuntimeOptions struct {
	// Provider replaces the provider selected by llm.provider.
	Provider llm.Provider

	// Console receives the console display. Nil disables it.
	Console io.Writer

	Logger *slog.Logger
}

// NewRuntime builds the runtime described by cfg. Close releases it.
func NewRuntime(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	workspace, err := cfg.WorkspaceDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		Notifier:  notify.NewFanout(notify.NewLogSink(logger)),
		Metrics:   metrics.New(nil),
		workspace: workspace,
		cancel:    cancel,
	}
	if err := rt.init(ctx, opts); err != nil {
		rt.Close(context.Background())
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) init(ctx context.Context, opts RuntimeOptions) error {
	cfg := rt.Config

	provider := opts.Provider
	if provider == nil {
		p, err := llm.New(cfg.LLM.Provider, llm.Credentials{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL})
		if err != nil {
			return err
		}
		retry := llm.DefaultRetryConfig()
		retry.MaxRetries = cfg.LLM.MaxRetries
		plog := log.WithProvider(rt.Logger, p.Name())
		plog.Debug("model provider ready", "model", cfg.LLM.Model, "api_key", log.SanitizeAPIKey(cfg.LLM.APIKey))
		retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			plog.Warn("retrying model request", "attempt", attempt, "delay", delay, log.Error(err))
		}
		provider = llm.NewRetryableProvider(p, retry)
	}

	var o oracle.Oracle = oracle.New(provider, oracle.Config{
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		RequestTimeout: cfg.LLM.RequestTimeout,
		RateLimit:      cfg.LLM.RequestsPerSecond(),
	}, rt.Logger)
	o = rt.Metrics.InstrumentOracle(o)

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Exporter:       cfg.Observability.Tracing.Exporter,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		Insecure:       cfg.Observability.Tracing.Insecure,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		ServiceName:    "llmdebug",
		ServiceVersion: version(),
	})
	if err != nil {
		return err
	}
	rt.Tracing = tp
	o = tracing.WrapOracle(o, tp.Tracer("llmdebug/oracle"))

	if cfg.Transcript.Enabled {
		path, err := cfg.TranscriptPath()
		if err != nil {
			return fmt.Errorf("failed to resolve transcript path: %w", err)
		}
		store, err := transcript.Open(ctx, path, rt.Logger)
		if err != nil {
			return err
		}
		rt.Store = store
		rt.Notifier.Add(store)
		o = store.RecordOracle(o)
	}
	rt.Oracle = o

	if opts.Console != nil {
		rt.console = notify.NewConsole(opts.Console)
		rt.Notifier.Add(rt.console)
	}

	if addr := cfg.Notify.WebSocketAddr; addr != "" {
		rt.hub = notify.NewHub(notify.HubConfig{
			Addr:      addr,
			AuthToken: cfg.Notify.WebSocketToken,
			Logger:    rt.Logger,
		})
		bound, err := rt.hub.Start(ctx)
		if err != nil {
			return fmt.Errorf("failed to start notification hub: %w", err)
		}
		rt.Notifier.Add(rt.hub)
		rt.Logger.Info("notification hub listening", "addr", bound)
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		bound, errc, err := rt.Metrics.Serve(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		rt.Logger.Info("metrics listening", "addr", bound)
		go func() {
			if err := <-errc; err != nil {
				rt.Logger.Error("metrics server stopped", log.Error(err))
			}
		}()
	}

	rt.Code = source.NewCollector(source.Config{
		Root:        rt.workspace,
		Include:     cfg.Debug.Include,
		Exclude:     cfg.Debug.Exclude,
		MaxFileSize: cfg.Debug.MaxFileSize,
	}, rt.Logger)
	if err := rt.Code.Watch(ctx); err != nil {
		// The cache still works without invalidation; files are re-read per session.
		rt.Logger.Warn("source watcher unavailable", log.Error(err))
	}

	return nil
}

// NewController creates a controller wired to the runtime.
func (rt *Runtime) NewController() *debugloop.Controller {
	cfg := rt.Config
	return debugloop.New(debugloop.Config{
		Enabled:                 cfg.Debug.Enabled,
		Workspace:               rt.workspace,
		ContinueAfterBreakpoint: cfg.Debug.ContinueAfterBreakpoint,
		MaxIterations:           cfg.Debug.MaxIterations,
		State: pausedstate.Config{
			StackDepth: cfg.Debug.StackDepth,
			Scopes:     cfg.Debug.VariableScopes,
		},
	}, debugloop.Options{
		Oracle:   rt.Oracle,
		Code:     rt.Code,
		Notifier: rt.Notifier,
		Metrics:  rt.Metrics,
		Logger:   rt.Logger,
	})
}

// Close stops background servers and flushes traces and transcripts.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.cancel()

	var errs []error
	if rt.console != nil {
		rt.console.Close()
	}
	if rt.hub != nil {
		errs = append(errs, rt.hub.Shutdown(ctx))
	}
	if rt.Tracing != nil {
		errs = append(errs, rt.Tracing.Shutdown(ctx))
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	return errors.Join(errs...)
}
