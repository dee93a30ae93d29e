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

package mock

import (
	"context"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/tombee/llmdebug/pkg/dap"
	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// Call records one request made against a Session.
type Call struct {
	Command  string
	ThreadID int
	Path     string
	Lines    []int
}

// Session is a scripted dap.Session. Requests are answered from its fields
// and recorded; events are pushed with Emit.
type Session struct {
	mu sync.Mutex

	ThreadList []dap.Thread
	Frames     []dap.StackFrame
	ScopeList  []dap.Scope
	Vars       map[int][]dap.Variable

	// OnCommand runs after a request is recorded and before it returns.
	// Tests use it to emit the stop a step or continue would cause.
	OnCommand func(s *Session, call Call)

	errs   map[string]error
	calls  []Call
	events chan dap.Message
	closed bool
}

var _ dap.Session = (*Session)(nil)

// NewSession creates an empty scripted session.
func NewSession() *Session {
	return &Session{
		Vars:   make(map[int][]dap.Variable),
		errs:   make(map[string]error),
		events: make(chan dap.Message, 256),
	}
}

// FailWith makes every request for command fail with a transport error.
func (s *Session) FailWith(command, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[command] = &llmerrors.TransportError{Command: command, Message: message}
}

// Emit pushes a message onto the event stream.
func (s *Session) Emit(msg dap.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- msg
}

// CloseEvents ends the event stream.
func (s *Session) CloseEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Calls returns the recorded requests, optionally filtered by command.
func (s *Session) Calls(commands ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(commands) == 0 {
		return append([]Call(nil), s.calls...)
	}
	var out []Call
	for _, c := range s.calls {
		for _, cmd := range commands {
			if c.Command == cmd {
				out = append(out, c)
			}
		}
	}
	return out
}

// Events implements dap.Session.
func (s *Session) Events() <-chan dap.Message {
	return s.events
}

func (s *Session) record(call Call) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	err := s.errs[call.Command]
	hook := s.OnCommand
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(s, call)
	}
	return nil
}

// Threads implements dap.Session. Like the real client, a successful
// response is also published as an observation.
func (s *Session) Threads(ctx context.Context) ([]dap.Thread, error) {
	if err := s.record(Call{Command: "threads"}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	threads := append([]dap.Thread(nil), s.ThreadList...)
	s.mu.Unlock()
	s.Emit(&godap.ThreadsResponse{
		Response: response("threads"),
		Body:     godap.ThreadsResponseBody{Threads: threads},
	})
	return threads, nil
}

// StackTrace implements dap.Session.
func (s *Session) StackTrace(ctx context.Context, threadID, levels int) ([]dap.StackFrame, error) {
	if err := s.record(Call{Command: "stackTrace", ThreadID: threadID}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.Frames
	if levels > 0 && len(frames) > levels {
		frames = frames[:levels]
	}
	return append([]dap.StackFrame(nil), frames...), nil
}

// Scopes implements dap.Session.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	if err := s.record(Call{Command: "scopes"}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dap.Scope(nil), s.ScopeList...), nil
}

// Variables implements dap.Session.
func (s *Session) Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	if err := s.record(Call{Command: "variables"}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dap.Variable(nil), s.Vars[variablesReference]...), nil
}

// SetBreakpoints implements dap.Session.
func (s *Session) SetBreakpoints(ctx context.Context, path string, lines []int) ([]dap.Breakpoint, error) {
	if err := s.record(Call{Command: "setBreakpoints", Path: path, Lines: append([]int(nil), lines...)}); err != nil {
		return nil, err
	}
	bps := make([]dap.Breakpoint, len(lines))
	for i, line := range lines {
		bps[i] = dap.Breakpoint{Verified: true, Line: line}
	}
	return bps, nil
}

// Next implements dap.Session.
func (s *Session) Next(ctx context.Context, threadID int) error {
	return s.record(Call{Command: "next", ThreadID: threadID})
}

// StepIn implements dap.Session.
func (s *Session) StepIn(ctx context.Context, threadID int) error {
	return s.record(Call{Command: "stepIn", ThreadID: threadID})
}

// StepOut implements dap.Session.
func (s *Session) StepOut(ctx context.Context, threadID int) error {
	return s.record(Call{Command: "stepOut", ThreadID: threadID})
}

// Continue implements dap.Session.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	return s.record(Call{Command: "continue", ThreadID: threadID})
}

// Disconnect implements dap.Session and publishes the disconnect response.
func (s *Session) Disconnect(ctx context.Context, terminate bool) error {
	if err := s.record(Call{Command: "disconnect"}); err != nil {
		return err
	}
	s.Emit(DisconnectResponse())
	return nil
}

func response(command string) godap.Response {
	return godap.Response{
		ProtocolMessage: godap.ProtocolMessage{Type: "response"},
		Command:         command,
		Success:         true,
	}
}

func event(name string) godap.Event {
	return godap.Event{ProtocolMessage: godap.ProtocolMessage{Type: "event"}, Event: name}
}

// Stopped builds a stopped event.
func Stopped(reason string, threadID int) *dap.StoppedEvent {
	return &godap.StoppedEvent{
		Event: event("stopped"),
		Body:  godap.StoppedEventBody{Reason: reason, ThreadId: threadID, AllThreadsStopped: true},
	}
}

// ThreadExited builds a thread event with reason "exited".
func ThreadExited(threadID int) *dap.ThreadEvent {
	return &godap.ThreadEvent{
		Event: event("thread"),
		Body:  godap.ThreadEventBody{Reason: "exited", ThreadId: threadID},
	}
}

// Output builds an output event.
func Output(category, text string) *dap.OutputEvent {
	return &godap.OutputEvent{
		Event: event("output"),
		Body:  godap.OutputEventBody{Category: category, Output: text},
	}
}

// Terminated builds a terminated event.
func Terminated() *dap.TerminatedEvent {
	return &godap.TerminatedEvent{Event: event("terminated")}
}

// DisconnectResponse builds a successful disconnect response.
func DisconnectResponse() *dap.DisconnectResponse {
	return &godap.DisconnectResponse{Response: response("disconnect")}
}
