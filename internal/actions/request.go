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


// Package actions defines the debugger commands the oracle may request
// and applies them to a debug session.
package actions

import (
	"encoding/json"
	"fmt"

	llmerrors "github.com/tombee/llmdebug/pkg/errors"
	"github.com/tombee/llmdebug/pkg/llm"
)

// Kind names one of the six oracle actions. The values double as tool names.
type Kind string

const (
	KindSetBreakpoint    Kind = "setBreakpoint"
	KindRemoveBreakpoint Kind = "removeBreakpoint"
	KindNext             Kind = "next"
	KindStepIn           Kind = "stepIn"
	KindStepOut          Kind = "stepOut"
	KindContinue         Kind = "continue"
)

// Kinds lists every action in the order they are offered to the oracle.
var Kinds = []Kind{
	KindSetBreakpoint,
	KindRemoveBreakpoint,
	KindNext,
	KindStepIn,
	KindStepOut,
	KindContinue,
}

// Request is a validated oracle action. File and Line are set only for
// breakpoint actions. Reason is informational.
type Request struct {
	Kind   Kind
	File   string
	Line   int
	Reason string

	// CallID is the tool-call identifier the request was parsed from.
	CallID string
}

// Resumes reports whether the action lets the debuggee run until its next stop.
func (r Request) Resumes() bool {
	switch r.Kind {
	case KindNext, KindStepIn, KindStepOut, KindContinue:
		return true
	default:
		return false
	}
}

// IsBreakpoint reports whether the action edits the breakpoint set.
func (r Request) IsBreakpoint() bool {
	return r.Kind == KindSetBreakpoint || r.Kind == KindRemoveBreakpoint
}

// Args returns the action arguments without the reason.
func (r Request) Args() map[string]any {
	if !r.IsBreakpoint() {
		return map[string]any{}
	}
	return map[string]any{"file": r.File, "line": r.Line}
}

func (r Request) String() string {
	if r.IsBreakpoint() {
		return fmt.Sprintf("%s(%s:%d)", r.Kind, r.File, r.Line)
	}
	return string(r.Kind)
}

type arguments struct {
	File   string  `json:"file"`
	Line   float64 `json:"line"`
	Reason string  `json:"reason"`
}

// Parse validates a tool call against its action schema and converts it
// to a Request. Unknown tools and invalid arguments yield an
// *errors.InvalidActionError.
func Parse(call llm.ToolCall) (Request, error) {
	kind := Kind(call.Name)
	schema, err := schemaFor(kind)
	if err != nil {
		return Request{}, err
	}
	if schema == nil {
		return Request{}, &llmerrors.InvalidActionError{Action: call.Name, Reason: "unknown action"}
	}

	raw := call.Arguments
	if raw == "" {
		raw = "{}"
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Request{}, &llmerrors.InvalidActionError{Action: call.Name, Reason: "arguments are not valid JSON", Cause: err}
	}
	if err := schema.Validate(payload); err != nil {
		return Request{}, &llmerrors.InvalidActionError{Action: call.Name, Reason: "arguments do not match schema", Cause: err}
	}

	var args arguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return Request{}, &llmerrors.InvalidActionError{Action: call.Name, Reason: "arguments could not be decoded", Cause: err}
	}

	req := Request{Kind: kind, Reason: args.Reason, CallID: call.ID}
	if req.IsBreakpoint() {
		req.File = args.File
		req.Line = int(args.Line)
	}
	return req, nil
}
