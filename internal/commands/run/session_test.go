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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/llmdebug/internal/config"
	"github.com/tombee/llmdebug/internal/debugloop"
	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/internal/testing/mock"
	"github.com/tombee/llmdebug/pkg/dap"
	"github.com/tombee/llmdebug/pkg/llm"
)

func testRuntime(t *testing.T, responses ...*mock.Response) (*Runtime, *mock.LLMProvider) {
	t.Helper()

	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "app.js"),
		[]byte("function main() {\n  const x = 5;\n  return x.y.z;\n}\nmain();\n"), 0o600))

	cfg := config.Default()
	cfg.Debug.Workspace = ws
	cfg.Transcript.Enabled = false

	provider := mock.NewLLMProvider(responses...)
	rt, err := NewRuntime(context.Background(), cfg, RuntimeOptions{Provider: provider})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt, provider
}

func testSession() *mock.Session {
	sess := mock.NewSession()
	sess.ThreadList = []dap.Thread{{Id: 1, Name: "main"}}
	sess.Frames = []dap.StackFrame{{Id: 1, Name: "main", Line: 3, Source: &dap.Source{Path: "app.js"}}}
	return sess
}

func initialBreakpoint() *mock.Response {
	return &mock.Response{
		When:  &mock.When{Stage: oracle.StageInitial},
		Calls: []llm.ToolCall{mock.ToolCall("setBreakpoint", `{"file":"app.js","line":3,"reason":"x.y is read here"}`)},
	}
}

func finalReport(text string) *mock.Response {
	return &mock.Response{When: &mock.When{Stage: oracle.StageFinal}, Content: text}
}

func debugWithin(t *testing.T, ctx context.Context, rt *Runtime, sess dap.Session) (*Result, error) {
	t.Helper()
	type outcome struct {
		res *Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := rt.Debug(ctx, sess, DebugOptions{Terminate: true})
		out <- outcome{res, err}
	}()
	select {
	case o := <-out:
		return o.res, o.err
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
		return nil, nil
	}
}

func TestDebug_RunsToReport(t *testing.T) {
	rt, _ := testRuntime(t, initialBreakpoint(), finalReport("Fix: check x.y first."))
	sess := testSession()
	sess.OnCommand = func(s *mock.Session, call mock.Call) {
		if call.Command == "continue" {
			s.Emit(mock.Terminated())
		}
	}

	res, err := debugWithin(t, context.Background(), rt, sess)
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "Fix: check x.y first.", res.Report)
	assert.Equal(t, debugloop.ReasonTerminated, res.Reason)
	assert.False(t, res.Interrupted)
	assert.Len(t, sess.Calls("setBreakpoints"), 1)
	assert.Len(t, sess.Calls("disconnect"), 1)
}

func TestDebug_InterruptStillReports(t *testing.T) {
	rt, provider := testRuntime(t, initialBreakpoint(), finalReport("Partial findings."))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := testSession()
	sess.OnCommand = func(s *mock.Session, call mock.Call) {
		if call.Command == "continue" {
			cancel()
		}
	}

	res, err := debugWithin(t, ctx, rt, sess)
	require.NoError(t, err)

	assert.True(t, res.Interrupted)
	assert.Equal(t, "Partial findings.", res.Report)
	assert.Contains(t, res.Reason, ReasonInterrupted)
	assert.Len(t, sess.Calls("disconnect"), 1)

	var finals int
	for _, req := range provider.Requests() {
		if req.Metadata["stage"] == oracle.StageFinal {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}

func TestDebug_Disabled(t *testing.T) {
	rt, _ := testRuntime(t)
	rt.Config.Debug.Enabled = false

	_, err := rt.Debug(context.Background(), testSession(), DebugOptions{})
	assert.ErrorIs(t, err, debugloop.ErrDisabled)
}

func TestOverrides_Apply(t *testing.T) {
	cfg := config.Default()
	cfg.Adapter.Address = "127.0.0.1:4711"

	o := overrides{
		adapter:       "node",
		adapterArgs:   []string{"dapDebugServer.js"},
		provider:      "anthropic",
		maxIterations: 5,
		noTranscript:  true,
	}
	o.apply(cfg)

	assert.Equal(t, "node", cfg.Adapter.Command)
	assert.Equal(t, []string{"dapDebugServer.js"}, cfg.Adapter.Args)
	assert.Empty(t, cfg.Adapter.Address)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Debug.MaxIterations)
	assert.False(t, cfg.Transcript.Enabled)

	unset := overrides{maxIterations: -1}
	unset.apply(cfg)
	assert.Equal(t, 5, cfg.Debug.MaxIterations, "-1 keeps the configured value")
}
