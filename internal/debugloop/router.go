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
	"log/slog"
	"strings"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/pkg/dap"
)

// ObservationKind classifies a protocol message the controller cares about.
type ObservationKind int

const (
	// ObsStopped is a stopped event.
	ObsStopped ObservationKind = iota + 1
	// ObsThreads is a successful threads response.
	ObsThreads
	// ObsThreadExited is a thread event with reason "exited".
	ObsThreadExited
	// ObsOutput is an output event. Its text is already accumulated.
	ObsOutput
	// ObsTerminated is a terminated event.
	ObsTerminated
	// ObsExited is an exited event.
	ObsExited
	// ObsDisconnected is a successful disconnect response.
	ObsDisconnected
	// ObsClosed means the event stream ended.
	ObsClosed
)

func (k ObservationKind) String() string {
	switch k {
	case ObsStopped:
		return "stopped"
	case ObsThreads:
		return "threads"
	case ObsThreadExited:
		return "thread_exited"
	case ObsOutput:
		return "output"
	case ObsTerminated:
		return "terminated"
	case ObsExited:
		return "exited"
	case ObsDisconnected:
		return "disconnected"
	case ObsClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observation is one classified protocol message.
type Observation struct {
	Kind ObservationKind

	// ThreadID is set for stopped and thread events.
	ThreadID int

	// Stopped is the original event for ObsStopped.
	Stopped *dap.StoppedEvent

	// Threads is set for ObsThreads.
	Threads []dap.Thread

	// ExitCode is set for ObsExited.
	ExitCode int
}

// Reason returns the stop reason of a stopped observation.
func (o Observation) Reason() string {
	if o.Stopped == nil {
		return ""
	}
	return o.Stopped.Body.Reason
}

// Router drains a session's event stream into an ordered queue of
// observations. The queue is unbounded so the protocol reader never
// blocks on a busy controller. The router only reports; it never touches
// controller state.
type Router struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []Observation
	ready   chan struct{}
	drained bool
	stdout  strings.Builder
	stderr  strings.Builder
}

// NewRouter starts draining events. The router stops when events is closed.
func NewRouter(events <-chan dap.Message, logger *slog.Logger) *Router {
	if logger == nil {
		logger = log.Discard()
	}
	r := &Router{
		logger: log.WithComponent(logger, "router"),
		ready:  make(chan struct{}, 1),
	}
	go r.drain(events)
	return r
}

func (r *Router) drain(events <-chan dap.Message) {
	for msg := range events {
		obs, ok := r.classify(msg)
		if !ok {
			continue
		}
		r.push(obs)
	}

	r.mu.Lock()
	r.drained = true
	r.mu.Unlock()
	r.signal()
	r.logger.Debug("event stream closed")
}

// classify turns a protocol message into an observation. Output is
// accumulated here, in arrival order.
func (r *Router) classify(msg dap.Message) (Observation, bool) {
	switch m := msg.(type) {
	case *godap.StoppedEvent:
		r.logger.Debug("stopped", log.ReasonKey, m.Body.Reason, log.ThreadIDKey, m.Body.ThreadId,
			"all_threads_stopped", m.Body.AllThreadsStopped)
		return Observation{Kind: ObsStopped, ThreadID: m.Body.ThreadId, Stopped: m}, true
	case *godap.ThreadsResponse:
		return Observation{Kind: ObsThreads, Threads: m.Body.Threads}, true
	case *godap.ThreadEvent:
		if m.Body.Reason != "exited" {
			return Observation{}, false
		}
		return Observation{Kind: ObsThreadExited, ThreadID: m.Body.ThreadId}, true
	case *godap.OutputEvent:
		if !r.appendOutput(m.Body.Category, m.Body.Output) {
			return Observation{}, false
		}
		return Observation{Kind: ObsOutput}, true
	case *godap.TerminatedEvent:
		return Observation{Kind: ObsTerminated}, true
	case *godap.ExitedEvent:
		return Observation{Kind: ObsExited, ExitCode: m.Body.ExitCode}, true
	case *godap.DisconnectResponse:
		return Observation{Kind: ObsDisconnected}, true
	default:
		r.logger.Debug("ignoring message", log.EventKey, messageName(msg))
		return Observation{}, false
	}
}

func (r *Router) appendOutput(category, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch category {
	case "stdout":
		r.stdout.WriteString(text)
	case "stderr":
		r.stderr.WriteString(text)
	default:
		return false
	}
	return true
}

// AppendError records a transport failure as stderr output.
func (r *Router) AppendError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stderr.WriteString(err.Error())
}

// Stdout returns the accumulated standard output.
func (r *Router) Stdout() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdout.String()
}

// Stderr returns the accumulated error output.
func (r *Router) Stderr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stderr.String()
}

func (r *Router) push(obs Observation) {
	r.mu.Lock()
	r.queue = append(r.queue, obs)
	r.mu.Unlock()
	r.signal()
}

func (r *Router) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued observation, blocking until one arrives
// or ctx is done. Once the stream has ended and the queue is empty, Next
// returns ObsClosed on every call.
func (r *Router) Next(ctx context.Context) (Observation, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			obs := r.queue[0]
			r.queue[0] = Observation{}
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return obs, nil
		}
		drained := r.drained
		r.mu.Unlock()
		if drained {
			return Observation{Kind: ObsClosed}, nil
		}

		select {
		case <-ctx.Done():
			return Observation{}, ctx.Err()
		case <-r.ready:
		}
	}
}

// Pending reports the number of queued observations.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func messageName(msg dap.Message) string {
	switch m := msg.(type) {
	case godap.EventMessage:
		return m.GetEvent().Event
	case godap.ResponseMessage:
		return m.GetResponse().Command
	default:
		return "unknown"
	}
}
