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

	"github.com/tombee/llmdebug/pkg/dap"
)

// TracedSession records a span around every debug adapter request.
// Events pass through untouched.
type TracedSession struct {
	next   dap.Session
	tracer trace.Tracer
}

var _ dap.Session = (*TracedSession)(nil)

// WrapSession wraps s so each request is traced.
func WrapSession(s dap.Session, tracer trace.Tracer) *TracedSession {
	return &TracedSession{next: s, tracer: tracer}
}

func (s *TracedSession) start(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "dap."+command,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("dap.command", command))...),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *TracedSession) Threads(ctx context.Context) ([]dap.Thread, error) {
	ctx, span := s.start(ctx, "threads")
	threads, err := s.next.Threads(ctx)
	span.SetAttributes(attribute.Int("dap.threads", len(threads)))
	finish(span, err)
	return threads, err
}

func (s *TracedSession) StackTrace(ctx context.Context, threadID, levels int) ([]dap.StackFrame, error) {
	ctx, span := s.start(ctx, "stackTrace", attribute.Int("dap.thread_id", threadID))
	frames, err := s.next.StackTrace(ctx, threadID, levels)
	span.SetAttributes(attribute.Int("dap.frames", len(frames)))
	finish(span, err)
	return frames, err
}

func (s *TracedSession) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	ctx, span := s.start(ctx, "scopes", attribute.Int("dap.frame_id", frameID))
	scopes, err := s.next.Scopes(ctx, frameID)
	finish(span, err)
	return scopes, err
}

func (s *TracedSession) Variables(ctx context.Context, ref int) ([]dap.Variable, error) {
	ctx, span := s.start(ctx, "variables", attribute.Int("dap.variables_reference", ref))
	vars, err := s.next.Variables(ctx, ref)
	finish(span, err)
	return vars, err
}

func (s *TracedSession) SetBreakpoints(ctx context.Context, path string, lines []int) ([]dap.Breakpoint, error) {
	ctx, span := s.start(ctx, "setBreakpoints",
		attribute.String("dap.source_path", path),
		attribute.IntSlice("dap.lines", lines),
	)
	bps, err := s.next.SetBreakpoints(ctx, path, lines)
	finish(span, err)
	return bps, err
}

func (s *TracedSession) Next(ctx context.Context, threadID int) error {
	ctx, span := s.start(ctx, "next", attribute.Int("dap.thread_id", threadID))
	err := s.next.Next(ctx, threadID)
	finish(span, err)
	return err
}

func (s *TracedSession) StepIn(ctx context.Context, threadID int) error {
	ctx, span := s.start(ctx, "stepIn", attribute.Int("dap.thread_id", threadID))
	err := s.next.StepIn(ctx, threadID)
	finish(span, err)
	return err
}

func (s *TracedSession) StepOut(ctx context.Context, threadID int) error {
	ctx, span := s.start(ctx, "stepOut", attribute.Int("dap.thread_id", threadID))
	err := s.next.StepOut(ctx, threadID)
	finish(span, err)
	return err
}

func (s *TracedSession) Continue(ctx context.Context, threadID int) error {
	ctx, span := s.start(ctx, "continue", attribute.Int("dap.thread_id", threadID))
	err := s.next.Continue(ctx, threadID)
	finish(span, err)
	return err
}

func (s *TracedSession) Disconnect(ctx context.Context, terminate bool) error {
	ctx, span := s.start(ctx, "disconnect", attribute.Bool("dap.terminate", terminate))
	err := s.next.Disconnect(ctx, terminate)
	finish(span, err)
	return err
}

func (s *TracedSession) Events() <-chan dap.Message {
	return s.next.Events()
}
