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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/llmdebug/internal/actions"
	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/internal/notify"
	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/internal/pausedstate"
	"github.com/tombee/llmdebug/internal/source"
	"github.com/tombee/llmdebug/pkg/dap"
	llmerrors "github.com/tombee/llmdebug/pkg/errors"
	"github.com/tombee/llmdebug/pkg/llm"
)

// ErrDisabled is returned by Attach when the controller is disabled.
var ErrDisabled = errors.New("AI debugging is disabled")

// Exit reasons passed to the final report.
const (
	ReasonTerminated = "Program exited with no further stops."
	ReasonClosed     = "The debug adapter connection closed."
	ReasonException  = "The program stopped on an uncaught exception."
)

// Outcomes label how a session ended.
const (
	OutcomeFinished  = "finished"
	OutcomeException = "exception"
	OutcomeError     = "error"
)

// Config controls a Controller.
type Config struct {
	// Enabled gates the controller. A disabled controller refuses to attach.
	Enabled bool

	// Workspace resolves relative breakpoint paths.
	Workspace string

	// ContinueAfterBreakpoint resumes execution once after a paused batch
	// that placed a breakpoint without resuming.
	ContinueAfterBreakpoint bool

	// MaxIterations caps decide/act cycles per session. Zero is unbounded.
	MaxIterations int

	// State configures paused-state collection.
	State pausedstate.Config
}

// DefaultConfig returns an enabled configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		ContinueAfterBreakpoint: true,
	}
}

// CodeSource provides the workspace code shown to the oracle.
type CodeSource interface {
	Gather() []source.File
}

// Metrics receives loop events.
type Metrics interface {
	StopObserved(reason string)
	ActionApplied(action string, err error)
	SessionFinished(outcome string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) StopObserved(string)                   {}
func (nopMetrics) ActionApplied(string, error)           {}
func (nopMetrics) SessionFinished(string, time.Duration) {}

// Options are the collaborators of a Controller.
type Options struct {
	Oracle   oracle.Oracle
	Code     CodeSource
	Notifier notify.Sink
	Metrics  Metrics
	Logger   *slog.Logger
}

// Controller drives one debug session at a time through the
// stop, decide, act and wait cycle.
//
// Attach, Start and Run must be called from one goroutine, in that order.
// Stop and Finish may be called from any goroutine.
type Controller struct {
	cfg      Config
	oracle   oracle.Oracle
	code     CodeSource
	notifier notify.Sink
	metrics  Metrics
	base     *slog.Logger
	logger   *slog.Logger

	flags       Flags
	waiter      stopWaiter
	history     *oracle.History
	breakpoints *actions.BreakpointSet
	collector   *pausedstate.Collector

	mu         sync.Mutex
	sessionID  string
	session    dap.Session
	router     *Router
	executor   *actions.Executor
	threadID   int
	ending     string
	pending    *dap.StoppedEvent
	iterCancel context.CancelFunc
	iterations int
	startedAt  time.Time
	done       chan struct{}
}

var (
	_ actions.StopAwaiter    = (*Controller)(nil)
	_ actions.ThreadResolver = (*Controller)(nil)
)

// New creates an idle controller.
func New(cfg Config, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.SinkFunc(func(notify.Notification) {})
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	bps := actions.NewBreakpointSet(cfg.Workspace)
	return &Controller{
		cfg:         cfg,
		oracle:      opts.Oracle,
		code:        opts.Code,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		base:        log.WithComponent(logger, "controller"),
		logger:      log.WithComponent(logger, "controller"),
		history:     oracle.NewHistory(),
		breakpoints: bps,
		collector:   pausedstate.NewCollector(bps, cfg.State, logger),
		done:        make(chan struct{}),
	}
}

// Attach replaces the current session with sess and resolves the thread
// to follow. It fails with ErrNoThread when the debuggee reports none.
func (c *Controller) Attach(ctx context.Context, sess dap.Session) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}
	c.Reset()

	id := uuid.NewString()
	c.mu.Lock()
	c.sessionID = id
	c.session = sess
	c.router = NewRouter(sess.Events(), c.logger)
	c.executor = actions.NewExecutor(sess, c.breakpoints, c, c, c.logger)
	c.mu.Unlock()
	c.logger = c.base.With(log.SessionIDKey, id)

	c.notify(notify.Spinner(false, ""))
	c.notify(notify.ClearResults())

	threadID, err := c.ResolveThread(ctx)
	if err != nil {
		c.logger.Warn("no thread found in session", log.Error(err))
		return err
	}
	c.logger.Info("attached to debug session", log.ThreadIDKey, threadID)
	return nil
}

// SessionID identifies the attached session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Start clears existing breakpoints, asks the oracle for the initial
// placement, applies it and resumes the debuggee without waiting.
func (c *Controller) Start(ctx context.Context) error {
	sess, exec := c.attached()
	if sess == nil {
		return ErrNotAttached
	}

	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.flags.live.Store(true)
	c.notify(notify.InSession(true))
	c.logger.Info("starting debug loop")

	ctx, done := c.beginIteration(ctx)
	defer done()

	exec.ClearAll(ctx)

	c.notify(notify.Spinner(true, "Setting initial breakpoints"))
	decision, err := c.ask(ctx, oracle.StageInitial, oracle.InitialMessages(c.gatherCode()), true)
	if !c.flags.Live() {
		c.logger.Info("discarding initial decision, loop stopped")
		return nil
	}
	c.notify(notify.Spinner(false, ""))
	if err != nil {
		c.abort(fmt.Sprintf("An error occurred while choosing the initial breakpoints: %v", err))
		return nil
	}

	results := make(map[string]string, len(decision.Calls))
	if next := c.applyBatch(ctx, decision, results, false); next != nil {
		c.mu.Lock()
		c.pending = next
		c.mu.Unlock()
		return nil
	}
	if !c.flags.Live() {
		return nil
	}

	if err := exec.Resume(ctx, actions.KindContinue); err != nil {
		c.actionFailed(actions.Request{Kind: actions.KindContinue}, err)
		return nil
	}
	c.logger.Debug("initial breakpoints set, debuggee resumed", "breakpoints", c.breakpoints.Len())
	return nil
}

// Run processes session events until the session finishes or ctx is done.
// It returns nil once the final report has been emitted.
func (c *Controller) Run(ctx context.Context) error {
	r := c.currentRouter()
	if r == nil {
		return ErrNotAttached
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := c.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if ev := c.takePending(); ev != nil {
		c.handleStop(ctx, ev)
	}
	for {
		c.finishIfRequested(ctx)
		if c.flags.Finished() {
			break
		}

		obs, err := r.Next(ctx)
		if err != nil {
			if c.flags.Finished() {
				break
			}
			return err
		}
		if ev := c.observe(obs); ev != nil {
			c.handleStop(ctx, ev)
		}
	}

	<-done
	return nil
}

// Stop flips the loop off and cancels the in-flight iteration. Work that
// resumes after a suspension point is discarded. Stop does not finish
// the session.
func (c *Controller) Stop() {
	c.flags.live.Store(false)

	c.mu.Lock()
	cancel := c.iterCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Finish ends the session with reason and emits the final report. Only
// the first call does anything; use Done to wait for the report.
func (c *Controller) Finish(ctx context.Context, reason string) {
	if !c.flags.claimFinish() {
		c.logger.Debug("finish already claimed")
		return
	}
	c.Stop()
	c.logger.Info("debug session finished", log.ReasonKey, firstLine(reason))

	c.notify(notify.Spinner(true, "Debug session finished. Providing code fix and explanation"))
	text, err := c.report(ctx, oracle.StageFinal, oracle.FinalPrompt(reason))
	outcome := OutcomeFinished
	if err != nil {
		text = fmt.Sprintf("An error occurred while generating the final report: %v", err)
		outcome = OutcomeError
	}
	c.conclude(outcome, reason, text)
}

// Done is closed once the final report has been emitted.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Flags exposes the loop flags.
func (c *Controller) Flags() *Flags {
	return &c.flags
}

// ThreadID returns the tracked thread, or zero.
func (c *Controller) ThreadID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// Reset detaches the session and clears history, thread and flags.
// It must not be called while Run is active.
func (c *Controller) Reset() {
	c.Stop()
	c.waiter.cancel()
	c.history.Reset()
	c.flags.reset()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	c.session = nil
	c.router = nil
	c.executor = nil
	c.threadID = 0
	c.ending = ""
	c.pending = nil
	c.iterations = 0
	c.done = make(chan struct{})
}

// ResolveThread returns the tracked thread, fetching threads from the
// session when none is known.
func (c *Controller) ResolveThread(ctx context.Context) (int, error) {
	if id := c.ThreadID(); id != 0 {
		return id, nil
	}
	sess, _ := c.attached()
	if sess == nil {
		return 0, ErrNotAttached
	}
	threads, err := sess.Threads(ctx)
	if err != nil {
		return 0, err
	}
	if len(threads) == 0 {
		return 0, ErrNoThread
	}
	c.setThread(threads[0].Id)
	return threads[0].Id, nil
}

// AwaitStop waits for the next stopped event, processing other events in
// order while it waits. Only one wait may be outstanding.
func (c *Controller) AwaitStop(ctx context.Context) (*dap.StoppedEvent, error) {
	r := c.currentRouter()
	if r == nil {
		return nil, ErrNotAttached
	}
	if err := c.waiter.arm(); err != nil {
		return nil, err
	}
	defer c.waiter.cancel()

	for {
		if ev, ok := c.waiter.result(); ok {
			return ev, nil
		}
		if !c.flags.Live() {
			return nil, ErrSessionEnded
		}
		obs, err := r.Next(ctx)
		if err != nil {
			return nil, err
		}
		c.observe(obs)
	}
}

// observe applies an observation to controller state. It returns a stop
// that nothing is waiting for, which the caller must handle.
func (c *Controller) observe(obs Observation) *dap.StoppedEvent {
	switch obs.Kind {
	case ObsStopped:
		c.metrics.StopObserved(obs.Reason())
		if obs.ThreadID != 0 {
			c.setThread(obs.ThreadID)
		}
		if c.waiter.resolve(obs.Stopped) {
			return nil
		}
		return obs.Stopped
	case ObsThreads:
		if c.ThreadID() == 0 && len(obs.Threads) > 0 {
			c.setThread(obs.Threads[0].Id)
		}
	case ObsThreadExited:
		c.logger.Debug("thread exited", log.ThreadIDKey, obs.ThreadID)
		c.setThread(0)
	case ObsExited:
		c.logger.Info("debuggee exited", "exit_code", obs.ExitCode)
	case ObsTerminated:
		c.requestFinish(ReasonTerminated)
	case ObsDisconnected:
		c.requestFinish(c.disconnectReason())
	case ObsClosed:
		c.requestFinish(ReasonClosed)
	}
	return nil
}

// handleStop runs iterations until no stop is left to handle. Stops
// produced by actions feed the next iteration directly.
func (c *Controller) handleStop(ctx context.Context, ev *dap.StoppedEvent) {
	for ev != nil {
		if ev.Body.Reason == dap.StopReasonException {
			c.handleException(ctx, ev)
			return
		}
		if !c.flags.Live() {
			c.logger.Debug("ignoring stop, loop is not live", log.ReasonKey, ev.Body.Reason)
			return
		}
		ev = c.iterate(ctx, ev)
	}
}

func (c *Controller) iterate(ctx context.Context, ev *dap.StoppedEvent) *dap.StoppedEvent {
	c.mu.Lock()
	if limit := c.cfg.MaxIterations; limit > 0 && c.iterations >= limit {
		c.mu.Unlock()
		c.requestFinish(fmt.Sprintf("Stopped after %d debugging iterations.", limit))
		return nil
	}
	c.iterations++
	iteration := c.iterations
	c.mu.Unlock()

	ctx, done := c.beginIteration(ctx)
	defer done()
	logger := c.logger.With("iteration", iteration)
	logger.Debug("paused", log.ReasonKey, ev.Body.Reason, log.ThreadIDKey, ev.Body.ThreadId)

	if !c.shouldLoop(ctx) {
		return nil
	}
	sess, _ := c.attached()
	state := c.collector.Gather(ctx, sess, c.ThreadID())
	if !c.shouldLoop(ctx) {
		return nil
	}

	c.notify(notify.Spinner(true, "Deciding the next step to take..."))
	prompt := oracle.PausedPrompt(c.gatherCode(), &state)
	msgs := append(c.history.Messages(), llm.Message{Role: llm.MessageRoleUser, Content: prompt})
	decision, err := c.ask(ctx, oracle.StagePaused, msgs, true)
	if !c.flags.Live() {
		logger.Info("discarding decision, loop stopped")
		return nil
	}
	c.notify(notify.Spinner(false, ""))
	if err != nil {
		c.abort(fmt.Sprintf("An error occurred while deciding the next step: %v", err))
		return nil
	}

	c.history.AddUser(prompt)
	if decision.Content != "" {
		logger.Info(decision.Content)
	}
	results := make(map[string]string, len(decision.Calls))
	defer c.history.AddExchange(decision, results)

	if !decision.HasActions() {
		logger.Info("oracle answered without actions")
		c.conclusion(decision.Content)
		return nil
	}
	return c.applyBatch(ctx, decision, results, c.cfg.ContinueAfterBreakpoint)
}

// conclusion ends the session with a text-only answer as the report.
func (c *Controller) conclusion(text string) {
	if !c.flags.claimFinish() {
		return
	}
	c.Stop()
	c.conclude(OutcomeFinished, "The assistant concluded without further actions.", text)
}

// applyBatch executes the decision's calls in order. It returns the last
// stop produced by a step or continue, or nil when execution did not
// resume.
func (c *Controller) applyBatch(ctx context.Context, d *oracle.Decision, results map[string]string, continueAfter bool) *dap.StoppedEvent {
	_, exec := c.attached()
	var next *dap.StoppedEvent
	placed, resumed := false, false

	for _, call := range d.Calls {
		if !c.flags.Live() {
			break
		}
		if call.Err != nil {
			c.logger.Warn("ignoring invalid action", log.ActionKey, call.ToolCall.Name, log.Error(call.Err))
			results[call.ToolCall.ID] = oracle.ToolResult(call, nil)
			c.metrics.ActionApplied(call.ToolCall.Name, call.Err)
			continue
		}

		req := call.Request
		c.notify(notify.FunctionCall(string(req.Kind), req.Args(), req.Reason))
		stop, err := exec.Execute(ctx, req)
		results[call.ToolCall.ID] = oracle.ToolResult(call, err)
		c.metrics.ActionApplied(string(req.Kind), err)
		if err != nil {
			c.actionFailed(req, err)
			continue
		}

		if req.Kind == actions.KindSetBreakpoint {
			placed = true
		}
		if req.Resumes() {
			resumed = true
			next = stop
			if stop != nil && stop.Body.Reason == dap.StopReasonException {
				break
			}
		}
	}

	if continueAfter && placed && !resumed && c.flags.Live() {
		req := actions.Request{Kind: actions.KindContinue, Reason: "resume after placing a breakpoint"}
		stop, err := exec.Execute(ctx, req)
		c.metrics.ActionApplied(string(req.Kind), err)
		if err != nil {
			c.actionFailed(req, err)
		} else {
			next = stop
		}
	}
	return next
}

func (c *Controller) handleException(ctx context.Context, ev *dap.StoppedEvent) {
	if !c.flags.claimFinish() {
		c.logger.Debug("ignoring exception, session already finishing")
		return
	}
	c.Stop()
	c.logger.Warn("stopped on exception", log.ThreadIDKey, ev.Body.ThreadId, "text", ev.Body.Text)

	sess, _ := c.attached()
	state := c.collector.Gather(ctx, sess, c.ThreadID())

	c.notify(notify.Spinner(true, "Handling exception"))
	var stdout, stderr string
	if r := c.currentRouter(); r != nil {
		stdout, stderr = r.Stdout(), r.Stderr()
	}
	text, err := c.report(ctx, oracle.StageException, oracle.ExceptionPrompt(c.gatherCode(), &state, stderr, stdout))
	outcome := OutcomeException
	if err != nil {
		text = fmt.Sprintf("An error occurred while analysing the exception: %v", err)
		outcome = OutcomeError
	}

	reason := ReasonException
	if ev.Body.Text != "" {
		reason += " " + ev.Body.Text
	}
	c.conclude(outcome, reason, text)
}

func (c *Controller) ask(ctx context.Context, stage string, msgs []llm.Message, allowActions bool) (*oracle.Decision, error) {
	ctx = oracle.WithSession(oracle.WithStage(ctx, stage), c.SessionID())
	return c.oracle.Ask(ctx, msgs, allowActions)
}

// report asks for a text-only answer and records the exchange.
func (c *Controller) report(ctx context.Context, stage, prompt string) (string, error) {
	c.history.AddUser(prompt)
	d, err := c.ask(ctx, stage, c.history.Messages(), false)
	if err != nil {
		return "", err
	}
	c.history.Append(d.AssistantMessage())
	return d.Content, nil
}

// abort ends the session with an error message as the report.
func (c *Controller) abort(text string) {
	if !c.flags.claimFinish() {
		return
	}
	c.Stop()
	c.logger.Error("debug loop aborted", "report", text)
	c.conclude(OutcomeError, "The debugging assistant failed.", text)
}

// conclude emits the report and closes Done. Callers must hold the
// finish claim.
func (c *Controller) conclude(outcome, reason, text string) {
	c.notify(notify.Results(text, reason))
	c.notify(notify.Spinner(false, ""))
	c.notify(notify.InSession(false))

	c.mu.Lock()
	var elapsed time.Duration
	if !c.startedAt.IsZero() {
		elapsed = time.Since(c.startedAt)
	}
	done := c.done
	c.mu.Unlock()

	c.metrics.SessionFinished(outcome, elapsed)
	close(done)
}

func (c *Controller) actionFailed(req actions.Request, err error) {
	switch {
	case errors.Is(err, ErrSessionEnded), errors.Is(err, context.Canceled):
		c.logger.Debug("action interrupted", log.ActionKey, string(req.Kind), log.Error(err))
	case llmerrors.IsInvalidAction(err):
		c.logger.Warn("ignoring invalid action", log.ActionKey, string(req.Kind), log.Error(err))
	default:
		c.logger.Error("action failed", log.ActionKey, string(req.Kind), log.Error(err))
		if llmerrors.IsTransport(err) {
			if r := c.currentRouter(); r != nil {
				r.AppendError(err)
			}
		}
	}
}

func (c *Controller) shouldLoop(ctx context.Context) bool {
	if !c.flags.Live() {
		return false
	}
	if _, err := c.ResolveThread(ctx); err != nil {
		c.logger.Error("cannot resolve a thread, skipping iteration", log.Error(err))
		return false
	}
	return c.flags.Live()
}

// requestFinish records the first exit reason and stops the loop. Run
// performs the finish once the current iteration unwinds.
func (c *Controller) requestFinish(reason string) {
	c.mu.Lock()
	if c.ending == "" {
		c.ending = reason
	}
	c.mu.Unlock()
	c.Stop()
}

func (c *Controller) finishIfRequested(ctx context.Context) {
	c.mu.Lock()
	reason := c.ending
	c.mu.Unlock()
	if reason != "" {
		c.Finish(ctx, reason)
	}
}

func (c *Controller) disconnectReason() string {
	r := c.currentRouter()
	if r == nil {
		return ReasonClosed
	}
	return strings.Join([]string{"# stdout", r.Stdout(), "# stderr", r.Stderr()}, "\n\n")
}

func (c *Controller) beginIteration(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.iterCancel = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		c.iterCancel = nil
		c.mu.Unlock()
		cancel()
	}
}

func (c *Controller) notify(n notify.Notification) {
	if n.SessionID == "" {
		n.SessionID = c.SessionID()
	}
	c.notifier.Notify(n)
}

func (c *Controller) gatherCode() []source.File {
	if c.code == nil {
		return nil
	}
	return c.code.Gather()
}

func (c *Controller) attached() (dap.Session, *actions.Executor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.executor
}

func (c *Controller) currentRouter() *Router {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router
}

func (c *Controller) setThread(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threadID = id
}

func (c *Controller) takePending() *dap.StoppedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev := c.pending
	c.pending = nil
	return ev
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
