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


package debugloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/llmdebug/internal/notify"
	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/internal/source"
	"github.com/tombee/llmdebug/internal/testing/mock"
	"github.com/tombee/llmdebug/pkg/dap"
	"github.com/tombee/llmdebug/pkg/llm"
)

type staticCode []source.File

func (s staticCode) Gather() []source.File { return s }

var appCode = staticCode{{
	Path:  "app.js",
	Lines: source.SplitLines("function main() {\n  const x = 5;\n  return x.y.z;\n}\nmain();"),
}}

type harness struct {
	ctrl *Controller
	sess *mock.Session
	llm  *mock.LLMProvider
	rec  *notify.Recorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workspace = "/ws"
	return cfg
}

func newHarness(t *testing.T, cfg Config, responses ...*mock.Response) *harness {
	t.Helper()

	sess := mock.NewSession()
	sess.ThreadList = []dap.Thread{{Id: 1, Name: "main"}}
	sess.Frames = []dap.StackFrame{{
		Id:     100,
		Name:   "main",
		Line:   42,
		Column: 3,
		Source: &dap.Source{Path: "/ws/app.js"},
	}}
	sess.ScopeList = []dap.Scope{
		{Name: "Local", VariablesReference: 7},
		{Name: "Global", VariablesReference: 8},
	}
	sess.Vars[7] = []dap.Variable{{Name: "x", Value: "5"}}
	sess.Vars[8] = []dap.Variable{{Name: "process", Value: "Object"}}

	provider := mock.NewLLMProvider(responses...)
	rec := &notify.Recorder{}
	ctrl := New(cfg, Options{
		Oracle:   oracle.New(provider, oracle.Config{}, nil),
		Code:     appCode,
		Notifier: rec,
	})
	return &harness{ctrl: ctrl, sess: sess, llm: provider, rec: rec}
}

// resumeWith emits the i-th message of script after the i-th step or
// continue request.
func (h *harness) resumeWith(script ...dap.Message) {
	var n int
	h.sess.OnCommand = func(s *mock.Session, call mock.Call) {
		switch call.Command {
		case "next", "stepIn", "stepOut", "continue":
			if n < len(script) {
				s.Emit(script[n])
				n++
			}
		}
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Attach(ctx, h.sess))
	require.NoError(t, h.ctrl.Start(ctx))
}

func (h *harness) run(t *testing.T) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- h.ctrl.Run(ctx) }()
	return errc
}

func (h *harness) requests(stage string) []llm.CompletionRequest {
	var out []llm.CompletionRequest
	for _, req := range h.llm.Requests() {
		if req.Metadata["stage"] == stage {
			out = append(out, req)
		}
	}
	return out
}

func waitRun(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not finish")
	}
}

func lastPrompt(req llm.CompletionRequest) string {
	return req.Messages[len(req.Messages)-1].Content
}

func calls(name, args string) []llm.ToolCall {
	return []llm.ToolCall{mock.ToolCall(name, args)}
}

func initialBreakpoint(line string) *mock.Response {
	return &mock.Response{
		When:  &mock.When{Stage: oracle.StageInitial},
		Calls: calls("setBreakpoint", `{"file":"app.js","line":`+line+`,"reason":"x is read here"}`),
	}
}

func pausedResponse(toolCalls ...llm.ToolCall) *mock.Response {
	return &mock.Response{When: &mock.When{Stage: oracle.StagePaused}, Calls: toolCalls}
}

func finalReport(text string) *mock.Response {
	return &mock.Response{When: &mock.When{Stage: oracle.StageFinal}, Content: text}
}

func TestController_BreakpointThenTerminated(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("continue", `{"reason":"see what happens next"}`)),
		finalReport("Fix: guard x.y before reading z."),
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1), mock.Terminated())

	h.start(t)
	waitRun(t, h.run(t))

	bps := h.sess.Calls("setBreakpoints")
	require.Len(t, bps, 1)
	assert.Equal(t, "/ws/app.js", bps[0].Path)
	assert.Equal(t, []int{42}, bps[0].Lines)

	conts := h.sess.Calls("continue")
	require.Len(t, conts, 2)
	for _, c := range conts {
		assert.Equal(t, 1, c.ThreadID)
	}

	paused := h.requests(oracle.StagePaused)
	require.Len(t, paused, 1)
	prompt := lastPrompt(paused[0])
	assert.Contains(t, prompt, `"name": "main"`)
	assert.Contains(t, prompt, `"name": "x"`)
	assert.Contains(t, prompt, `"value": "5"`)
	assert.NotContains(t, prompt, "process", "global scope is excluded")
	assert.Equal(t, llm.ToolChoiceRequired, paused[0].ToolChoice)

	final := h.requests(oracle.StageFinal)
	require.Len(t, final, 1)
	assert.Contains(t, lastPrompt(final[0]), "no further stops.")
	assert.Empty(t, final[0].Tools)

	assert.Equal(t, []string{"Fix: guard x.y before reading z."}, h.rec.Reports())
	results := h.rec.All(notify.KindDebugResults)
	last := results[len(results)-1]
	assert.Equal(t, ReasonTerminated, last.Results.Reason)
	assert.Contains(t, last.Results.Reason, "no further stops.")
	assert.Equal(t, h.ctrl.SessionID(), last.SessionID)

	var inSession []bool
	for _, n := range h.rec.All(notify.KindInSession) {
		inSession = append(inSession, n.Session.InSession)
	}
	assert.Equal(t, []bool{true, false}, inSession)

	fcalls := h.rec.All(notify.KindFunctionCall)
	require.Len(t, fcalls, 2)
	assert.Equal(t, "setBreakpoint", fcalls[0].Call.Name)
	assert.Equal(t, "continue", fcalls[1].Call.Name)
	assert.Equal(t, "see what happens next", fcalls[1].Call.Reason)

	assert.True(t, h.ctrl.Flags().Finished())
	assert.False(t, h.ctrl.Flags().Live())
}

func TestController_HistoryRecordsExchanges(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(
			mock.ToolCall("jump", `{"reason":"not a tool"}`),
			mock.ToolCall("continue", `{"reason":"carry on"}`),
		),
		finalReport("done"),
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1), mock.Terminated())

	h.start(t)
	waitRun(t, h.run(t))

	assert.Len(t, h.sess.Calls("continue"), 2, "invalid call does not stop the batch")

	final := h.requests(oracle.StageFinal)
	require.Len(t, final, 1)
	msgs := final[0].Messages

	require.Len(t, msgs, 6)
	assert.Equal(t, llm.MessageRoleSystem, msgs[0].Role)
	assert.Equal(t, llm.MessageRoleUser, msgs[1].Role)
	assert.Equal(t, llm.MessageRoleAssistant, msgs[2].Role)
	assert.Len(t, msgs[2].ToolCalls, 2)
	assert.Equal(t, llm.MessageRoleTool, msgs[3].Role)
	assert.True(t, strings.HasPrefix(msgs[3].Content, "Rejected: "), msgs[3].Content)
	assert.Equal(t, llm.MessageRoleTool, msgs[4].Role)
	assert.Equal(t, "call_continue", msgs[4].ToolCallID)
	assert.Equal(t, llm.MessageRoleUser, msgs[5].Role)
}

func TestController_ExceptionBypassesDeciding(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("continue", `{"reason":"should never run"}`)),
		&mock.Response{When: &mock.When{Stage: oracle.StageException}, Content: "x.y is undefined; check it first."},
		finalReport("should never be asked"),
	)
	exception := mock.Stopped(dap.StopReasonException, 1)
	exception.Body.Text = "TypeError: Cannot read properties of undefined"
	h.resumeWith(exception)

	h.sess.Emit(mock.Output("stderr", "TypeError: boom\n"))
	h.sess.Emit(mock.Output("stdout", "starting\n"))
	h.start(t)
	waitRun(t, h.run(t))

	assert.Empty(t, h.requests(oracle.StagePaused), "exception stop never reaches the decide cycle")
	assert.Empty(t, h.requests(oracle.StageFinal))

	exc := h.requests(oracle.StageException)
	require.Len(t, exc, 1)
	prompt := lastPrompt(exc[0])
	assert.Contains(t, prompt, "TypeError: boom")
	assert.Contains(t, prompt, "starting")
	assert.Contains(t, prompt, "at main (/ws/app.js:42:3)")
	assert.Empty(t, exc[0].Tools)

	assert.Equal(t, []string{"x.y is undefined; check it first."}, h.rec.Reports())
	results := h.rec.All(notify.KindDebugResults)
	assert.Contains(t, results[len(results)-1].Results.Reason, "TypeError: Cannot read properties of undefined")
	assert.True(t, h.ctrl.Flags().Finished())
}

func TestController_ExceptionAfterStepBypassesDeciding(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("next", `{"reason":"step over"}`)),
		&mock.Response{When: &mock.When{Stage: oracle.StageException}, Content: "report"},
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1), mock.Stopped(dap.StopReasonException, 1))

	h.start(t)
	waitRun(t, h.run(t))

	assert.Len(t, h.requests(oracle.StagePaused), 1)
	assert.Len(t, h.requests(oracle.StageException), 1)
	assert.Equal(t, []string{"report"}, h.rec.Reports())
}

func TestController_ExceptionReportSurvivesOracleFailure(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		&mock.Response{When: &mock.When{Stage: oracle.StageException}, Err: errors.New("401 unauthorized")},
	)
	h.resumeWith(mock.Stopped(dap.StopReasonException, 1))

	h.start(t)
	waitRun(t, h.run(t))

	reports := h.rec.Reports()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0], "401 unauthorized")
	assert.True(t, h.ctrl.Flags().Finished())
}

func TestController_FinishIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig(), finalReport("one report"))
	h.llm.OnComplete = func(ctx context.Context, req llm.CompletionRequest) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	require.NoError(t, h.ctrl.Attach(context.Background(), h.sess))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ctrl.Finish(context.Background(), "thread exited")
		}()
	}
	wg.Wait()

	select {
	case <-h.ctrl.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("finish never completed")
	}

	assert.Len(t, h.requests(oracle.StageFinal), 1)
	assert.Equal(t, []string{"one report"}, h.rec.Reports())
	assert.True(t, h.ctrl.Flags().Finished())

	h.ctrl.Finish(context.Background(), "disconnect")
	assert.Len(t, h.requests(oracle.StageFinal), 1)
	assert.True(t, h.ctrl.Flags().Finished())
}

func TestController_TerminatedAndDisconnectProduceOneReport(t *testing.T) {
	h := newHarness(t, testConfig(), initialBreakpoint("42"), finalReport("report"))
	h.sess.OnCommand = func(s *mock.Session, call mock.Call) {
		if call.Command == "continue" {
			s.Emit(mock.Terminated())
			s.Emit(mock.ThreadExited(1))
			s.Emit(mock.DisconnectResponse())
		}
	}

	h.start(t)
	waitRun(t, h.run(t))

	assert.Len(t, h.requests(oracle.StageFinal), 1)
	assert.Equal(t, []string{"report"}, h.rec.Reports())
}

func TestController_SingleOutstandingOracleCall(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("next", `{"reason":"step"}`)),
		finalReport("done"),
	)
	h.resumeWith(
		mock.Stopped(dap.StopReasonBreakpoint, 1),
		mock.Stopped(dap.StopReasonStep, 1),
		mock.Stopped(dap.StopReasonStep, 1),
		mock.Terminated(),
	)

	var inflight, peak atomic.Int32
	h.llm.OnComplete = func(ctx context.Context, req llm.CompletionRequest) error {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	h.start(t)
	waitRun(t, h.run(t))

	assert.Equal(t, int32(1), peak.Load())
	assert.Len(t, h.requests(oracle.StagePaused), 3, "one decision per stop")
	assert.Len(t, h.sess.Calls("next"), 3)
}

func TestController_PartialStateStillAsks(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("continue", `{"reason":"go"}`)),
		finalReport("done"),
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1), mock.Terminated())
	h.sess.FailWith("variables", "variables unavailable")

	h.start(t)
	waitRun(t, h.run(t))

	paused := h.requests(oracle.StagePaused)
	require.Len(t, paused, 1)
	prompt := lastPrompt(paused[0])
	assert.Contains(t, prompt, `"name": "main"`)
	assert.Contains(t, prompt, `"topFrameVariables": []`)
}

func TestController_StopDiscardsInFlightDecision(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("continue", `{"reason":"go"}`)),
		finalReport("done"),
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1))

	asked := make(chan struct{})
	h.llm.OnComplete = func(ctx context.Context, req llm.CompletionRequest) error {
		if req.Metadata["stage"] == oracle.StagePaused {
			h.ctrl.Stop()
			close(asked)
		}
		return nil
	}

	h.start(t)
	errc := h.run(t)

	select {
	case <-asked:
	case <-time.After(5 * time.Second):
		t.Fatal("oracle was never asked")
	}
	h.sess.Emit(mock.Terminated())
	waitRun(t, errc)

	assert.Len(t, h.sess.Calls("continue"), 1, "the discarded decision is not acted on")
	assert.Empty(t, h.rec.All(notify.KindFunctionCall)[1:])

	final := h.requests(oracle.StageFinal)
	require.Len(t, final, 1)
	assert.Len(t, final[0].Messages, 2, "the discarded exchange is not recorded")
	assert.Equal(t, []string{"done"}, h.rec.Reports())
}

func TestController_ContinuesAfterPlacingBreakpoint(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("setBreakpoint", `{"file":"app.js","line":3,"reason":"z is read here"}`)),
		finalReport("done"),
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1), mock.Terminated())

	h.start(t)
	waitRun(t, h.run(t))

	bps := h.sess.Calls("setBreakpoints")
	require.Len(t, bps, 2)
	assert.Equal(t, []int{42}, bps[0].Lines)
	assert.Equal(t, []int{3}, bps[1].Lines, "the previous breakpoint is replaced")
	assert.Len(t, h.sess.Calls("continue"), 2)
}

func TestController_WaitsForDebuggerWhenNotResuming(t *testing.T) {
	cfg := testConfig()
	cfg.ContinueAfterBreakpoint = false
	h := newHarness(t, cfg,
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("setBreakpoint", `{"file":"app.js","line":3,"reason":"z is read here"}`)),
		finalReport("done"),
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1))

	h.start(t)
	errc := h.run(t)

	require.Eventually(t, func() bool { return len(h.sess.Calls("setBreakpoints")) == 2 }, 5*time.Second, 5*time.Millisecond)
	h.sess.Emit(mock.Terminated())
	waitRun(t, errc)

	assert.Len(t, h.sess.Calls("continue"), 1)
	assert.Len(t, h.requests(oracle.StagePaused), 1)
}

func TestController_TextOnlyAnswerConcludes(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		&mock.Response{When: &mock.When{Stage: oracle.StagePaused}, Content: "x.y is undefined at line 3."},
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1))

	h.start(t)
	waitRun(t, h.run(t))

	assert.Equal(t, []string{"x.y is undefined at line 3."}, h.rec.Reports())
	assert.Empty(t, h.requests(oracle.StageFinal))
}

func TestController_OracleFailureBecomesReport(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		&mock.Response{When: &mock.When{Stage: oracle.StagePaused}, Err: errors.New("connection reset")},
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1))

	h.start(t)
	waitRun(t, h.run(t))

	reports := h.rec.Reports()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0], "connection reset")
	assert.True(t, h.ctrl.Flags().Finished())
}

func TestController_InitialOracleFailure(t *testing.T) {
	h := newHarness(t, testConfig(),
		&mock.Response{When: &mock.When{Stage: oracle.StageInitial}, Err: errors.New("invalid api key")},
	)

	h.start(t)
	waitRun(t, h.run(t))

	assert.Empty(t, h.sess.Calls("continue"))
	reports := h.rec.Reports()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0], "invalid api key")
}

func TestController_DisconnectReasonIncludesOutput(t *testing.T) {
	h := newHarness(t, testConfig(), initialBreakpoint("42"), finalReport("done"))
	h.sess.OnCommand = func(s *mock.Session, call mock.Call) {
		if call.Command == "continue" {
			s.Emit(mock.Output("stdout", "hello"))
			s.Emit(mock.Output("stderr", "oops"))
			s.Emit(mock.DisconnectResponse())
		}
	}

	h.start(t)
	waitRun(t, h.run(t))

	final := h.requests(oracle.StageFinal)
	require.Len(t, final, 1)
	assert.Contains(t, lastPrompt(final[0]), "# stdout\n\nhello\n\n# stderr\n\noops")
}

func TestController_ThreadExitClearsThread(t *testing.T) {
	h := newHarness(t, testConfig(), initialBreakpoint("42"), finalReport("done"))
	h.sess.OnCommand = func(s *mock.Session, call mock.Call) {
		if call.Command == "continue" {
			s.Emit(mock.ThreadExited(1))
			s.Emit(mock.Terminated())
		}
	}

	h.start(t)
	assert.Equal(t, 1, h.ctrl.ThreadID())
	waitRun(t, h.run(t))

	assert.Equal(t, 0, h.ctrl.ThreadID())
	assert.True(t, h.ctrl.Flags().Finished())
}

func TestController_StopWithoutThreadKeepsTrackedThread(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("next", `{"reason":"step"}`)),
		finalReport("done"),
	)
	h.sess.ThreadList = []dap.Thread{{Id: 4, Name: "worker"}}
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 0), mock.Terminated())

	h.start(t)
	waitRun(t, h.run(t))

	next := h.sess.Calls("next")
	require.Len(t, next, 1)
	assert.Equal(t, 4, next[0].ThreadID)
}

func TestController_MaxIterations(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 1
	h := newHarness(t, cfg,
		initialBreakpoint("42"),
		pausedResponse(mock.ToolCall("next", `{"reason":"step"}`)),
		finalReport("done"),
	)
	h.resumeWith(mock.Stopped(dap.StopReasonBreakpoint, 1), mock.Stopped(dap.StopReasonStep, 1))

	h.start(t)
	waitRun(t, h.run(t))

	assert.Len(t, h.requests(oracle.StagePaused), 1)
	final := h.requests(oracle.StageFinal)
	require.Len(t, final, 1)
	assert.Contains(t, lastPrompt(final[0]), "Stopped after 1 debugging iterations.")
}

func TestController_EventStreamClosed(t *testing.T) {
	h := newHarness(t, testConfig(), initialBreakpoint("42"), finalReport("done"))

	h.start(t)
	errc := h.run(t)
	h.sess.CloseEvents()
	waitRun(t, errc)

	final := h.requests(oracle.StageFinal)
	require.Len(t, final, 1)
	assert.Contains(t, lastPrompt(final[0]), ReasonClosed)
}

func TestController_AttachErrors(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, Config{})
		assert.ErrorIs(t, h.ctrl.Attach(context.Background(), h.sess), ErrDisabled)
	})

	t.Run("no thread", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.sess.ThreadList = nil
		assert.ErrorIs(t, h.ctrl.Attach(context.Background(), h.sess), ErrNoThread)
	})

	t.Run("not attached", func(t *testing.T) {
		h := newHarness(t, testConfig())
		assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrNotAttached)
		assert.ErrorIs(t, h.ctrl.Run(context.Background()), ErrNotAttached)
	})
}

func TestController_AttachClearsNotifications(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.ctrl.Attach(context.Background(), h.sess))

	all := h.rec.All()
	require.Len(t, all, 2)
	assert.Equal(t, notify.KindSpinner, all[0].Type)
	assert.False(t, all[0].Spinner.Active)
	assert.Equal(t, notify.KindDebugResults, all[1].Type)
	assert.Nil(t, all[1].Results.Text)
}

func TestController_StartClearsExistingBreakpoints(t *testing.T) {
	h := newHarness(t, testConfig(),
		initialBreakpoint("42"),
		finalReport("done"),
	)
	h.start(t)
	require.NoError(t, h.ctrl.Attach(context.Background(), h.sess))
	require.NoError(t, h.ctrl.Start(context.Background()))

	bps := h.sess.Calls("setBreakpoints")
	require.Len(t, bps, 3)
	assert.Equal(t, []int{42}, bps[0].Lines)
	assert.Empty(t, bps[1].Lines, "second start clears the first placement")
	assert.Equal(t, []int{42}, bps[2].Lines)
}

func TestController_AwaitStopRejectsSecondWaiter(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.ctrl.Attach(context.Background(), h.sess))
	h.ctrl.flags.live.Store(true)
	require.NoError(t, h.ctrl.waiter.arm())

	_, err := h.ctrl.AwaitStop(context.Background())
	assert.ErrorIs(t, err, ErrWaiterArmed)
}

func TestController_AwaitStopProcessesEventsInOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.ctrl.Attach(context.Background(), h.sess))
	h.ctrl.flags.live.Store(true)

	h.sess.Emit(mock.ThreadExited(1))
	h.sess.Emit(mock.Output("stdout", "tick"))
	h.sess.Emit(&godap.StoppedEvent{
		Event: godap.Event{Event: "stopped"},
		Body:  godap.StoppedEventBody{Reason: dap.StopReasonStep, ThreadId: 9},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := h.ctrl.AwaitStop(ctx)
	require.NoError(t, err)
	assert.Equal(t, dap.StopReasonStep, ev.Body.Reason)
	assert.Equal(t, 9, h.ctrl.ThreadID())
	assert.False(t, h.ctrl.waiter.isArmed())
}
