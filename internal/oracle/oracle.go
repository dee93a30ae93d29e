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


// Package oracle asks an LLM for the next debugging step.
//
// The oracle is stateless: every call receives the full conversation and
// returns either tool calls parsed into actions, free text, or both.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/llmdebug/internal/actions"
	"github.com/tombee/llmdebug/internal/log"
	llmerrors "github.com/tombee/llmdebug/pkg/errors"
	"github.com/tombee/llmdebug/pkg/llm"
)

// DefaultMaxTokens caps every oracle response.
const DefaultMaxTokens = 1000

// ErrEmptyResponse is returned when the model produced neither text nor tool calls.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Oracle decides the next debugging step.
type Oracle interface {
	// Ask sends msgs to the model. When allowActions is false the model
	// is offered no tools and the decision carries text only.
	Ask(ctx context.Context, msgs []llm.Message, allowActions bool) (*Decision, error)
}

// Call is one tool call from a decision. Err is set, and Request is
// zero, when the call could not be parsed into an action.
type Call struct {
	ToolCall llm.ToolCall
	Request  actions.Request
	Err      error
}

// Decision is the oracle's answer for one stop.
type Decision struct {
	Content string
	Calls   []Call
	Usage   llm.TokenUsage
}

// HasActions reports whether the model asked for any action.
func (d *Decision) HasActions() bool {
	return d != nil && len(d.Calls) > 0
}

// AssistantMessage converts the decision back into a history entry.
func (d *Decision) AssistantMessage() llm.Message {
	msg := llm.Message{Role: llm.MessageRoleAssistant, Content: d.Content}
	for _, c := range d.Calls {
		msg.ToolCalls = append(msg.ToolCalls, c.ToolCall)
	}
	return msg
}

// Stages label oracle requests in logs, errors and spans.
const (
	StageInitial   = "initial"
	StagePaused    = "paused"
	StageException = "exception"
	StageFinal     = "final"
)

type stageKey struct{}

// WithStage tags ctx with the stage of the request made under it.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFromContext returns the stage set by WithStage, or "".
func StageFromContext(ctx context.Context) string {
	stage, _ := ctx.Value(stageKey{}).(string)
	return stage
}

type sessionKey struct{}

// WithSession tags ctx with the debug session a request belongs to.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session set by WithSession, or "".
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Config tunes an LLMOracle.
type Config struct {
	// Model overrides the provider's default model.
	Model string

	// MaxTokens caps each response. Zero selects DefaultMaxTokens.
	MaxTokens int

	// Temperature is passed through when set.
	Temperature *float64

	// RequestTimeout bounds a single Ask. Zero waits indefinitely.
	RequestTimeout time.Duration

	// RateLimit is the maximum requests per second. Zero disables limiting.
	RateLimit float64
}

// LLMOracle is an Oracle backed by an llm.Provider.
type LLMOracle struct {
	provider llm.Provider
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ Oracle = (*LLMOracle)(nil)

// New creates an oracle over provider.
func New(provider llm.Provider, cfg Config, logger *slog.Logger) *LLMOracle {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = log.Discard()
	}
	o := &LLMOracle{
		provider: provider,
		cfg:      cfg,
		logger:   log.WithProvider(log.WithComponent(logger, "oracle"), provider.Name()),
	}
	if cfg.RateLimit > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return o
}

// Ask implements Oracle.
func (o *LLMOracle) Ask(ctx context.Context, msgs []llm.Message, allowActions bool) (*Decision, error) {
	stage := StageFromContext(ctx)

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, o.fail(stage, err)
		}
	}
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	maxTokens := o.cfg.MaxTokens
	req := llm.CompletionRequest{
		Messages:    msgs,
		Model:       o.cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: o.cfg.Temperature,
		Metadata:    map[string]string{"stage": stage},
	}
	if allowActions {
		req.Tools = actions.Tools()
		req.ToolChoice = llm.ToolChoiceRequired
	}

	if n := len(msgs); n > 0 {
		log.Trace(o.logger, "oracle request",
			slog.String("stage", stage),
			slog.String("role", string(msgs[n-1].Role)),
			slog.String("content", msgs[n-1].Content))
	}

	start := time.Now()
	resp, err := o.provider.Complete(ctx, req)
	if err != nil {
		return nil, o.fail(stage, err)
	}
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil, o.fail(stage, ErrEmptyResponse)
	}

	decision := &Decision{Content: resp.Content, Usage: resp.Usage}
	if allowActions {
		for _, tc := range resp.ToolCalls {
			parsed, perr := actions.Parse(tc)
			decision.Calls = append(decision.Calls, Call{ToolCall: tc, Request: parsed, Err: perr})
		}
	} else if len(resp.ToolCalls) > 0 {
		o.logger.Warn("ignoring tool calls in text-only response", "stage", stage, "count", len(resp.ToolCalls))
	}

	if decision.Content != "" {
		log.Trace(o.logger, "oracle response", slog.String("stage", stage), slog.String("content", decision.Content))
	}
	for _, c := range decision.Calls {
		args := c.ToolCall.Arguments
		if args == "{}" {
			args = ""
		}
		log.Trace(o.logger, "oracle tool call", slog.String("stage", stage), slog.String("call", c.ToolCall.Name+"("+args+")"))
	}

	o.logger.Debug("oracle responded",
		"stage", stage,
		"actions", len(decision.Calls),
		"tokens", resp.Usage.TotalTokens,
		log.DurationKey, time.Since(start).Milliseconds())
	return decision, nil
}

func (o *LLMOracle) fail(stage string, err error) error {
	o.logger.Error("oracle request failed", "stage", stage, log.Error(err))
	return &llmerrors.OracleError{Provider: o.provider.Name(), Stage: stage, Cause: err}
}

// ToolResult renders the outcome of one executed call for the history.
func ToolResult(call Call, err error) string {
	switch {
	case call.Err != nil:
		return "Rejected: " + call.Err.Error()
	case err != nil:
		return "Failed: " + err.Error()
	default:
		return "Done: " + call.Request.String()
	}
}
