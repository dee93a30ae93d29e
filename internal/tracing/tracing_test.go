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
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/internal/testing/mock"
	"github.com/tombee/llmdebug/pkg/llm"
)

func newTestProvider(t *testing.T) (*Provider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(context.Background(), Config{}, sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, exporter
}

func attrs(span tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestNewProvider_None(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_Stdout(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProvider(context.Background(), Config{Exporter: ExporterStdout, Writer: &buf, ServiceVersion: "test"})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "printed")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "printed")
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Exporter: "zipkin"})
	assert.ErrorContains(t, err, `unknown trace exporter "zipkin"`)
}

func TestTracedOracle(t *testing.T) {
	p, exporter := newTestProvider(t)
	provider := mock.NewLLMProvider(&mock.Response{
		Calls: []llm.ToolCall{mock.ToolCall("next", `{"reason":"step over the assignment"}`)},
	})
	o := WrapOracle(oracle.New(provider, oracle.Config{}, nil), p.Tracer("test"))

	ctx := oracle.WithStage(context.Background(), oracle.StagePaused)
	d, err := o.Ask(ctx, []llm.Message{{Role: llm.MessageRoleUser, Content: "paused"}}, true)
	require.NoError(t, err)
	require.True(t, d.HasActions())

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "oracle.ask", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	a := attrs(spans[0])
	assert.Equal(t, oracle.StagePaused, a[AttrStage].AsString())
	assert.True(t, a[AttrAllowActions].AsBool())
	assert.Equal(t, int64(1), a[AttrMessages].AsInt64())
	assert.Equal(t, int64(1), a[AttrToolCalls].AsInt64())
}

func TestTracedOracle_RecordsError(t *testing.T) {
	p, exporter := newTestProvider(t)
	provider := mock.NewLLMProvider(&mock.Response{Err: assert.AnError})
	o := WrapOracle(oracle.New(provider, oracle.Config{}, nil), p.Tracer("test"))

	_, err := o.Ask(oracle.WithStage(context.Background(), oracle.StageFinal), []llm.Message{{Role: llm.MessageRoleUser, Content: "done"}}, false)
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestTracedSession(t *testing.T) {
	p, exporter := newTestProvider(t)
	session := mock.NewSession()
	session.FailWith("stepIn", "not stopped")
	traced := WrapSession(session, p.Tracer("test"))
	ctx := context.Background()

	_, err := traced.SetBreakpoints(ctx, "/ws/app.js", []int{3, 9})
	require.NoError(t, err)
	require.Error(t, traced.StepIn(ctx, 1))
	assert.Equal(t, session.Events(), traced.Events())

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "dap.setBreakpoints", spans[0].Name)
	a := attrs(spans[0])
	assert.Equal(t, "/ws/app.js", a["dap.source_path"].AsString())
	assert.Equal(t, []int64{3, 9}, a["dap.lines"].AsInt64Slice())

	assert.Equal(t, "dap.stepIn", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)

	assert.Len(t, session.Calls("setBreakpoints", "stepIn"), 2)
}
