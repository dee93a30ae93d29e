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

// Package pausedstate snapshots a paused debuggee for the oracle.
package pausedstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/pkg/dap"
	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// DefaultStackDepth caps the frames requested from the adapter.
const DefaultStackDepth = 20

// DefaultScopes are the scope names whose variables are collected.
var DefaultScopes = []string{"Local", "Closure", "Exception"}

// Breakpoint is an enabled source breakpoint.
type Breakpoint struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Line int    `json:"line"`
}

// Frame is one stack frame, reduced to its location.
type Frame struct {
	Name   string `json:"name"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Source string `json:"source"`
}

// Variable is a name and its rendered value.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Scope groups the variables of one top-frame scope.
type Scope struct {
	ScopeName string     `json:"scopeName"`
	Variables []Variable `json:"variables"`
}

// State is the snapshot taken at a stop. An empty field means collecting
// it failed or there was nothing to collect.
type State struct {
	Breakpoints       []Breakpoint `json:"breakpoints"`
	PausedStack       []Frame      `json:"pausedStack"`
	TopFrameVariables []Scope      `json:"topFrameVariables"`
}

// JSON renders the state for prompts.
func (s State) JSON() string {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Variable looks up a variable by scope and name.
func (s State) Variable(scope, name string) (string, bool) {
	for _, sc := range s.TopFrameVariables {
		if sc.ScopeName != scope {
			continue
		}
		for _, v := range sc.Variables {
			if v.Name == name {
				return v.Value, true
			}
		}
	}
	return "", false
}

// BreakpointLister reports the currently tracked breakpoints.
type BreakpointLister interface {
	Breakpoints() []Breakpoint
}

// Config controls what the collector gathers.
type Config struct {
	// StackDepth caps the number of frames. Default: 20
	StackDepth int

	// Scopes lists the scope names whose variables are collected.
	// Default: Local, Closure, Exception
	Scopes []string
}

// Collector gathers paused-state snapshots. Each field is collected
// independently; a failure empties that field and is logged.
type Collector struct {
	breakpoints BreakpointLister
	stackDepth  int
	scopes      map[string]bool
	logger      *slog.Logger
}

// NewCollector creates a collector. breakpoints may be nil.
func NewCollector(breakpoints BreakpointLister, cfg Config, logger *slog.Logger) *Collector {
	if cfg.StackDepth <= 0 {
		cfg.StackDepth = DefaultStackDepth
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	scopes := make(map[string]bool, len(cfg.Scopes))
	for _, name := range cfg.Scopes {
		scopes[name] = true
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Collector{
		breakpoints: breakpoints,
		stackDepth:  cfg.StackDepth,
		scopes:      scopes,
		logger:      log.WithComponent(logger, "collector"),
	}
}

// Gather snapshots the session paused on threadID. A zero threadID falls
// back to the first thread the adapter reports.
func (c *Collector) Gather(ctx context.Context, sess dap.Session, threadID int) State {
	state := State{
		Breakpoints:       []Breakpoint{},
		PausedStack:       []Frame{},
		TopFrameVariables: []Scope{},
	}
	if sess == nil {
		c.logger.Error("no active debug session")
		return state
	}

	if c.breakpoints != nil {
		state.Breakpoints = append(state.Breakpoints, c.breakpoints.Breakpoints()...)
	}

	if frames, err := c.pausedStack(ctx, sess, threadID); err != nil {
		c.report(&llmerrors.PartialStateError{Field: "stack", Cause: err})
	} else {
		state.PausedStack = frames
	}

	if scopes, err := c.topFrameVariables(ctx, sess, threadID); err != nil {
		c.report(&llmerrors.PartialStateError{Field: "variables", Cause: err})
	} else {
		state.TopFrameVariables = scopes
	}

	return state
}

func (c *Collector) report(err error) {
	c.logger.Error("paused state incomplete", log.Error(err))
}

func (c *Collector) resolveThread(ctx context.Context, sess dap.Session, threadID int) (int, error) {
	if threadID != 0 {
		return threadID, nil
	}
	threads, err := sess.Threads(ctx)
	if err != nil {
		return 0, err
	}
	if len(threads) == 0 {
		return 0, fmt.Errorf("no paused thread")
	}
	return threads[0].Id, nil
}

func (c *Collector) pausedStack(ctx context.Context, sess dap.Session, threadID int) ([]Frame, error) {
	id, err := c.resolveThread(ctx, sess, threadID)
	if err != nil {
		return nil, err
	}
	frames, err := sess.StackTrace(ctx, id, c.stackDepth)
	if err != nil {
		return nil, err
	}
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		out = append(out, Frame{
			Name:   f.Name,
			Line:   f.Line,
			Column: f.Column,
			Source: sourceName(f.Source),
		})
	}
	return out, nil
}

func (c *Collector) topFrameVariables(ctx context.Context, sess dap.Session, threadID int) ([]Scope, error) {
	id, err := c.resolveThread(ctx, sess, threadID)
	if err != nil {
		return nil, err
	}
	frames, err := sess.StackTrace(ctx, id, 1)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return []Scope{}, nil
	}

	scopes, err := sess.Scopes(ctx, frames[0].Id)
	if err != nil {
		return nil, err
	}

	out := []Scope{}
	for _, scope := range scopes {
		if !c.scopes[scope.Name] {
			continue
		}
		vars, err := sess.Variables(ctx, scope.VariablesReference)
		if err != nil {
			return nil, err
		}
		simplified := make([]Variable, 0, len(vars))
		for _, v := range vars {
			simplified = append(simplified, Variable{Name: v.Name, Value: v.Value})
		}
		out = append(out, Scope{ScopeName: scope.Name, Variables: simplified})
	}
	return out, nil
}

func sourceName(src *dap.Source) string {
	switch {
	case src == nil:
		return "<unknown>"
	case src.Path != "":
		return src.Path
	case src.Name != "":
		return src.Name
	default:
		return "<unknown>"
	}
}
