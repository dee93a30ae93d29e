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

package dap

import (
	"context"
	"errors"

	godap "github.com/google/go-dap"
)

// ErrClosed is returned for requests issued after the connection is gone.
var ErrClosed = errors.New("debug adapter connection closed")

// Protocol types shared with callers.
type (
	Message            = godap.Message
	Thread             = godap.Thread
	StackFrame         = godap.StackFrame
	Scope              = godap.Scope
	Variable           = godap.Variable
	Breakpoint         = godap.Breakpoint
	Source             = godap.Source
	StoppedEvent       = godap.StoppedEvent
	ThreadEvent        = godap.ThreadEvent
	OutputEvent        = godap.OutputEvent
	TerminatedEvent    = godap.TerminatedEvent
	ExitedEvent        = godap.ExitedEvent
	ThreadsResponse    = godap.ThreadsResponse
	DisconnectResponse = godap.DisconnectResponse
)

// Stop reasons reported in stopped events.
const (
	StopReasonBreakpoint = "breakpoint"
	StopReasonStep       = "step"
	StopReasonEntry      = "entry"
	StopReasonException  = "exception"
	StopReasonPause      = "pause"
)

// Session is the request/response and event surface of one debug session.
type Session interface {
	// Threads lists the debuggee's threads.
	Threads(ctx context.Context) ([]Thread, error)

	// StackTrace returns up to levels frames of the thread's stack, top first.
	StackTrace(ctx context.Context, threadID, levels int) ([]StackFrame, error)

	// Scopes returns the scopes visible in a stack frame.
	Scopes(ctx context.Context, frameID int) ([]Scope, error)

	// Variables expands a variables reference.
	Variables(ctx context.Context, variablesReference int) ([]Variable, error)

	// SetBreakpoints replaces every breakpoint in path with the given 1-based lines.
	SetBreakpoints(ctx context.Context, path string, lines []int) ([]Breakpoint, error)

	Next(ctx context.Context, threadID int) error
	StepIn(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error
	Continue(ctx context.Context, threadID int) error

	// Disconnect ends the session, terminating the debuggee when terminate is set.
	Disconnect(ctx context.Context, terminate bool) error

	// Events delivers events and observed responses in arrival order.
	// The channel is closed when the connection ends.
	Events() <-chan Message
}
