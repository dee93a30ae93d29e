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


package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/internal/pausedstate"
	"github.com/tombee/llmdebug/pkg/dap"
	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// StopAwaiter blocks until the debuggee reports its next stop.
type StopAwaiter interface {
	AwaitStop(ctx context.Context) (*dap.StoppedEvent, error)
}

// ThreadResolver returns the thread to step, fetching threads from the
// session when none is tracked.
type ThreadResolver interface {
	ResolveThread(ctx context.Context) (int, error)
}

// Executor applies oracle actions to one debug session.
type Executor struct {
	session     dap.Session
	breakpoints *BreakpointSet
	threads     ThreadResolver
	stops       StopAwaiter
	logger      *slog.Logger
}

// NewExecutor creates an executor bound to sess.
func NewExecutor(sess dap.Session, breakpoints *BreakpointSet, threads ThreadResolver, stops StopAwaiter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Executor{
		session:     sess,
		breakpoints: breakpoints,
		threads:     threads,
		stops:       stops,
		logger:      log.WithComponent(logger, "executor"),
	}
}

// Execute applies req. Stepping and continue wait for the resulting stop
// and return it; breakpoint actions return a nil stop.
func (e *Executor) Execute(ctx context.Context, req Request) (*dap.StoppedEvent, error) {
	e.logger.Debug("executing action", log.ActionKey, string(req.Kind), log.ReasonKey, req.Reason)

	switch req.Kind {
	case KindSetBreakpoint:
		return nil, e.setBreakpoint(ctx, req)
	case KindRemoveBreakpoint:
		return nil, e.removeBreakpoint(ctx, req)
	case KindNext, KindStepIn, KindStepOut, KindContinue:
		if req.Kind == KindContinue && e.breakpoints.Len() == 0 {
			return nil, &llmerrors.InvalidActionError{
				Action: string(req.Kind),
				Reason: "no active breakpoints",
			}
		}
		if err := e.Resume(ctx, req.Kind); err != nil {
			return nil, err
		}
		return e.stops.AwaitStop(ctx)
	default:
		return nil, &llmerrors.InvalidActionError{Action: string(req.Kind), Reason: "unknown action"}
	}
}

// Resume issues a step or continue on the tracked thread without waiting
// for the debuggee to stop.
func (e *Executor) Resume(ctx context.Context, kind Kind) error {
	threadID, err := e.threads.ResolveThread(ctx)
	if err != nil {
		return fmt.Errorf("cannot run %s: %w", kind, err)
	}

	switch kind {
	case KindNext:
		err = e.session.Next(ctx, threadID)
	case KindStepIn:
		err = e.session.StepIn(ctx, threadID)
	case KindStepOut:
		err = e.session.StepOut(ctx, threadID)
	case KindContinue:
		err = e.session.Continue(ctx, threadID)
	default:
		return &llmerrors.InvalidActionError{Action: string(kind), Reason: "not a resume action"}
	}
	if err != nil {
		return err
	}
	e.logger.Debug("resumed", log.ActionKey, string(kind), log.ThreadIDKey, threadID)
	return nil
}

func (e *Executor) setBreakpoint(ctx context.Context, req Request) error {
	path := e.breakpoints.Resolve(req.File)
	previous := e.breakpoints.Replace(path, req.Line)

	touched := []string{path}
	for _, bp := range previous {
		touched = append(touched, bp.Path)
	}
	if err := e.sync(ctx, touched); err != nil {
		return err
	}
	e.logger.Info("breakpoint set", "path", path, "line", req.Line, "replaced", len(previous))
	return nil
}

func (e *Executor) removeBreakpoint(ctx context.Context, req Request) error {
	removed := e.breakpoints.Remove(req.File, req.Line)
	if len(removed) == 0 {
		e.logger.Info("no matching breakpoint to remove", "file", req.File, "line", req.Line)
		return nil
	}
	if err := e.sync(ctx, paths(removed)); err != nil {
		return err
	}
	e.logger.Info("breakpoint removed", "file", req.File, "line", req.Line, "count", len(removed))
	return nil
}

// ClearAll removes every tracked breakpoint from the set and the adapter.
// Adapter failures are logged.
func (e *Executor) ClearAll(ctx context.Context) {
	previous := e.breakpoints.Clear()
	if len(previous) == 0 {
		return
	}
	if err := e.sync(ctx, paths(previous)); err != nil {
		e.logger.Warn("failed to clear breakpoints", log.Error(err))
	}
}

// sync pushes the tracked lines of each touched file to the adapter.
func (e *Executor) sync(ctx context.Context, touched []string) error {
	seen := make(map[string]bool, len(touched))
	for _, path := range touched {
		if seen[path] {
			continue
		}
		seen[path] = true

		bps, err := e.session.SetBreakpoints(ctx, path, e.breakpoints.LinesIn(path))
		if err != nil {
			return err
		}
		for _, bp := range bps {
			if !bp.Verified {
				e.logger.Debug("breakpoint not verified", "path", path, "line", bp.Line, "message", bp.Message)
			}
		}
	}
	return nil
}

func paths(bps []pausedstate.Breakpoint) []string {
	out := make([]string, 0, len(bps))
	for _, bp := range bps {
		out = append(out, bp.Path)
	}
	return out
}
