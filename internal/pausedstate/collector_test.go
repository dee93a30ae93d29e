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

package pausedstate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/llmdebug/internal/testing/mock"
	"github.com/tombee/llmdebug/pkg/dap"
)

type staticBreakpoints []Breakpoint

func (s staticBreakpoints) Breakpoints() []Breakpoint { return s }

func pausedSession() *mock.Session {
	sess := mock.NewSession()
	sess.ThreadList = []dap.Thread{{Id: 1, Name: "main"}}
	sess.Frames = []dap.StackFrame{
		{Id: 100, Name: "main", Line: 42, Column: 3, Source: &dap.Source{Path: "/work/app.js"}},
		{Id: 101, Name: "run", Line: 7, Column: 1, Source: &dap.Source{Name: "internal.js"}},
		{Id: 102, Name: "anonymous", Line: 1, Column: 1},
	}
	sess.ScopeList = []dap.Scope{
		{Name: "Local", VariablesReference: 1},
		{Name: "Global", VariablesReference: 2},
		{Name: "Closure", VariablesReference: 3},
	}
	sess.Vars[1] = []dap.Variable{{Name: "x", Value: "5"}}
	sess.Vars[2] = []dap.Variable{{Name: "process", Value: "Object"}}
	sess.Vars[3] = []dap.Variable{{Name: "count", Value: "2"}}
	return sess
}

func TestGatherFullState(t *testing.T) {
	bps := staticBreakpoints{{Type: "source", Path: "/work/app.js", Line: 42}}
	c := NewCollector(bps, Config{}, nil)

	state := c.Gather(context.Background(), pausedSession(), 1)

	assert.Equal(t, []Breakpoint(bps), state.Breakpoints)
	require.Len(t, state.PausedStack, 3)
	assert.Equal(t, Frame{Name: "main", Line: 42, Column: 3, Source: "/work/app.js"}, state.PausedStack[0])
	assert.Equal(t, "internal.js", state.PausedStack[1].Source)
	assert.Equal(t, "<unknown>", state.PausedStack[2].Source)

	require.Len(t, state.TopFrameVariables, 2, "Global scope must be excluded")
	assert.Equal(t, "Local", state.TopFrameVariables[0].ScopeName)
	assert.Equal(t, "Closure", state.TopFrameVariables[1].ScopeName)

	value, ok := state.Variable("Local", "x")
	assert.True(t, ok)
	assert.Equal(t, "5", value)
}

func TestGatherVariablesFailureKeepsStack(t *testing.T) {
	sess := pausedSession()
	sess.FailWith("variables", "frame is gone")

	state := NewCollector(nil, Config{}, nil).Gather(context.Background(), sess, 1)

	assert.NotEmpty(t, state.PausedStack)
	assert.Empty(t, state.TopFrameVariables)
	assert.NotNil(t, state.TopFrameVariables)
}

func TestGatherStackFailureKeepsBreakpoints(t *testing.T) {
	sess := pausedSession()
	sess.FailWith("stackTrace", "not paused")
	bps := staticBreakpoints{{Type: "source", Path: "/work/app.js", Line: 42}}

	state := NewCollector(bps, Config{}, nil).Gather(context.Background(), sess, 1)

	assert.Len(t, state.Breakpoints, 1)
	assert.Empty(t, state.PausedStack)
	assert.Empty(t, state.TopFrameVariables)
}

func TestGatherResolvesThreadWhenUnknown(t *testing.T) {
	sess := pausedSession()
	sess.ThreadList = []dap.Thread{{Id: 9, Name: "worker"}}

	state := NewCollector(nil, Config{}, nil).Gather(context.Background(), sess, 0)

	require.NotEmpty(t, state.PausedStack)
	for _, call := range sess.Calls("stackTrace") {
		assert.Equal(t, 9, call.ThreadID)
	}
}

func TestGatherNoThreads(t *testing.T) {
	sess := pausedSession()
	sess.ThreadList = nil

	state := NewCollector(nil, Config{}, nil).Gather(context.Background(), sess, 0)

	assert.Empty(t, state.PausedStack)
	assert.Empty(t, state.TopFrameVariables)
	assert.Empty(t, sess.Calls("stackTrace"))
}

func TestGatherStackDepth(t *testing.T) {
	state := NewCollector(nil, Config{StackDepth: 1}, nil).Gather(context.Background(), pausedSession(), 1)
	assert.Len(t, state.PausedStack, 1)
}

func TestGatherNilSession(t *testing.T) {
	state := NewCollector(nil, Config{}, nil).Gather(context.Background(), nil, 1)
	assert.Empty(t, state.Breakpoints)
	assert.Empty(t, state.PausedStack)
}

func TestStateJSON(t *testing.T) {
	state := NewCollector(nil, Config{}, nil).Gather(context.Background(), pausedSession(), 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(state.JSON()), &decoded))
	assert.Contains(t, decoded, "breakpoints")
	assert.Contains(t, decoded, "pausedStack")
	assert.Contains(t, decoded, "topFrameVariables")
}
