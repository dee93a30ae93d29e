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
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tombee/llmdebug/pkg/dap"
)

var (
	// ErrWaiterArmed is returned when a second stop wait is requested while
	// one is outstanding.
	ErrWaiterArmed = errors.New("stop waiter already armed")

	// ErrSessionEnded is returned by operations interrupted by finish or
	// by the end of the event stream.
	ErrSessionEnded = errors.New("debug session ended")

	// ErrNoThread is returned when no thread can be resolved for a step.
	ErrNoThread = errors.New("no debuggee thread available")

	// ErrNotAttached is returned when the controller has no session.
	ErrNotAttached = errors.New("controller is not attached to a session")
)

// stopWaiter is a single-slot future for the next stopped event. It is
// armed at most once at a time.
type stopWaiter struct {
	mu    sync.Mutex
	armed bool
	stop  *dap.StoppedEvent
}

func (w *stopWaiter) arm() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armed {
		return ErrWaiterArmed
	}
	w.armed = true
	w.stop = nil
	return nil
}

// resolve hands ev to an armed waiter. It reports false when nothing is
// waiting or the waiter already holds a stop.
func (w *stopWaiter) resolve(ev *dap.StoppedEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed || w.stop != nil {
		return false
	}
	w.stop = ev
	return true
}

func (w *stopWaiter) result() (*dap.StoppedEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stop, w.stop != nil
}

func (w *stopWaiter) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = false
	w.stop = nil
}

func (w *stopWaiter) isArmed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Flags gate the loop. Live allows iterations to proceed; finished makes
// the final report fire once.
type Flags struct {
	live     atomic.Bool
	finished atomic.Bool
}

// Live reports whether the loop may keep iterating.
func (f *Flags) Live() bool { return f.live.Load() }

// Finished reports whether the final report has been claimed.
func (f *Flags) Finished() bool { return f.finished.Load() }

// claimFinish reports true for exactly one caller.
func (f *Flags) claimFinish() bool {
	return f.finished.CompareAndSwap(false, true)
}

func (f *Flags) reset() {
	f.live.Store(false)
	f.finished.Store(false)
}
