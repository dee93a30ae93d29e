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


package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/pkg/llm"
)

// Span attribute keys.
const (
	AttrStage        = "oracle.stage"
	AttrAllowActions = "oracle.allow_actions"
	AttrMessages     = "oracle.messages"
	AttrToolCalls    = "oracle.tool_calls"
	AttrInputTokens  = "llm.usage.input_tokens"
	AttrOutputTokens = "llm.usage.output_tokens"
)

// TracedOracle records a span around every Ask.
type TracedOracle struct {
	next   oracle.Oracle
	tracer trace.Tracer
}

var _ oracle.Oracle = (*TracedOracle)(nil)

// WrapOracle wraps o so each decision is traced.
func WrapOracle(o oracle.Oracle, tracer trace.Tracer) *TracedOracle {
	return &TracedOracle{next: o, tracer: tracer}
}

// Ask implements oracle.Oracle.
func (o *TracedOracle) Ask(ctx context.Context, msgs []llm.Message, allowActions bool) (*oracle.Decision, error) {
	ctx, span := o.tracer.Start(ctx, "oracle.ask",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrStage, oracle.StageFromContext(ctx)),
			attribute.Bool(AttrAllowActions, allowActions),
			attribute.Int(AttrMessages, len(msgs)),
		),
	)
	defer span.End()

	d, err := o.next.Ask(ctx, msgs, allowActions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d, err
	}

	span.SetAttributes(
		attribute.Int(AttrToolCalls, len(d.Calls)),
		attribute.Int(AttrInputTokens, d.Usage.InputTokens),
		attribute.Int(AttrOutputTokens, d.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	return d, nil
}
