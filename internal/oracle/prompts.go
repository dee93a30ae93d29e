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


package oracle

import (
	"fmt"
	"strings"

	"github.com/tombee/llmdebug/internal/pausedstate"
	"github.com/tombee/llmdebug/internal/source"
	"github.com/tombee/llmdebug/pkg/llm"
)

// SystemPrompt opens every conversation.
const SystemPrompt = "You are an AI assistant that decides debugging steps."

const finalInstruction = "Debug session finished. Provide a code fix and explain your reasoning."

// InitialMessages is the standalone conversation used to place the first
// breakpoint. It is not part of the session history.
func InitialMessages(code []source.File) []llm.Message {
	return []llm.Message{
		{Role: llm.MessageRoleSystem, Content: SystemPrompt},
		{Role: llm.MessageRoleUser, Content: InitialBreakpointPrompt(code)},
	}
}

// InitialBreakpointPrompt asks for the first breakpoint using only the
// workspace source.
func InitialBreakpointPrompt(code []source.File) string {
	return strings.Join([]string{
		"Here is the workspace code in a structured format (filePath -> [lines]):",
		source.Serialize(code),
		"",
		"Decide on an initial breakpoint by calling setBreakpoint on a line in the code that is most likely to be the root cause of the problem.",
		"You may reference lines precisely now.",
	}, "\n")
}

// PausedPrompt describes a normal stop.
func PausedPrompt(code []source.File, state *pausedstate.State) string {
	lines := []string{"# Code:", source.Serialize(code), ""}
	if state != nil {
		lines = append(lines, "# Current Debug State:", state.JSON())
	}
	lines = append(lines,
		"# Instructions:",
		"Debugger is in paused state",
		"Choose next action by calling setBreakpoint, removeBreakpoint, next, stepIn, stepOut, or continue.",
		"Always make sure there are breakpoints set before calling continue.",
		"Once you understood the problem, instead of calling any tools, respond with a code fix and explain your reasoning.",
	)
	return strings.Join(lines, "\n")
}

// ExceptionPrompt describes an uncaught-exception stop together with the
// program output collected so far.
func ExceptionPrompt(code []source.File, state *pausedstate.State, stderr, stdout string) string {
	lines := []string{"# Code:", source.Serialize(code), ""}
	if state != nil {
		exception, ok := state.Variable("Exception", "exception")
		if !ok || exception == "" {
			exception = "Unknown exception"
		}
		lines = append(lines,
			"# Exception:",
			exception,
			"",
			"# Stack Trace:",
			StackTrace(state.PausedStack),
			"# stderr",
			stderr,
			"# stdout",
			stdout,
		)
	}
	lines = append(lines,
		"# Instructions:",
		"The program has stopped due to an uncaught exception.",
		"Analyze the code, the exception details, and the stack trace to identify the cause.",
		"Provide a code fix and explain your reasoning. Do *not* suggest further debugging actions.",
	)
	return strings.Join(lines, "\n")
}

// StackTrace renders frames as "at name (source:line:column)" lines.
func StackTrace(frames []pausedstate.Frame) string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = fmt.Sprintf("at %s (%s:%d:%d)", f.Name, f.Source, f.Line, f.Column)
	}
	return strings.Join(out, "\n")
}

// FinalPrompt asks for the closing report, prefixed by why the session ended.
func FinalPrompt(exitReason string) string {
	if exitReason == "" {
		return finalInstruction
	}
	return exitReason + "\n\n" + finalInstruction
}
