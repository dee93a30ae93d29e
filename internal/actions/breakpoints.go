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
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tombee/llmdebug/internal/pausedstate"
)

// BreakpointType is the breakpoint kind reported in paused state.
const BreakpointType = "source"

// BreakpointSet tracks the breakpoints placed by the oracle. Each
// placement replaces the whole set, so at most one location is active
// after a setBreakpoint.
type BreakpointSet struct {
	mu   sync.Mutex
	root string
	bps  []pausedstate.Breakpoint
}

// NewBreakpointSet creates an empty set that resolves relative paths
// against root.
func NewBreakpointSet(root string) *BreakpointSet {
	return &BreakpointSet{root: root}
}

// Resolve returns file as an absolute path, joining relative paths to
// the workspace root.
func (s *BreakpointSet) Resolve(file string) string {
	if filepath.IsAbs(file) || s.root == "" {
		return filepath.Clean(file)
	}
	return filepath.Join(s.root, file)
}

// Replace atomically swaps the set for a single breakpoint and returns
// the breakpoints it displaced.
func (s *BreakpointSet) Replace(path string, line int) []pausedstate.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.bps
	s.bps = []pausedstate.Breakpoint{{Type: BreakpointType, Path: path, Line: line}}
	return previous
}

// Remove drops every breakpoint whose path equals or ends with file on
// the given 1-based line, and returns what was removed.
func (s *BreakpointSet) Remove(file string, line int) []pausedstate.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []pausedstate.Breakpoint
	kept := s.bps[:0:0]
	for _, bp := range s.bps {
		if bp.Line == line && (bp.Path == file || strings.HasSuffix(bp.Path, file)) {
			removed = append(removed, bp)
			continue
		}
		kept = append(kept, bp)
	}
	s.bps = kept
	return removed
}

// Clear empties the set and returns its previous contents.
func (s *BreakpointSet) Clear() []pausedstate.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.bps
	s.bps = nil
	return previous
}

// Breakpoints returns a copy of the tracked breakpoints.
func (s *BreakpointSet) Breakpoints() []pausedstate.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pausedstate.Breakpoint, len(s.bps))
	copy(out, s.bps)
	return out
}

// Len returns the number of tracked breakpoints.
func (s *BreakpointSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bps)
}

// LinesIn returns the sorted lines tracked for path.
func (s *BreakpointSet) LinesIn(path string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := []int{}
	for _, bp := range s.bps {
		if bp.Path == path {
			lines = append(lines, bp.Line)
		}
	}
	sort.Ints(lines)
	return lines
}
