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


package notify

import (
	"log/slog"
	"sync"

	"github.com/tombee/llmdebug/internal/log"
)

// Sink receives notifications. Notify must not block the caller for long.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(n Notification)

// Notify implements Sink.
func (f SinkFunc) Notify(n Notification) { f(n) }

// Fanout delivers each notification to every registered sink in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewFanout creates a fanout over sinks. Nil sinks are ignored.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add registers a sink.
func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Notify implements Sink.
func (f *Fanout) Notify(n Notification) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Notify(n)
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

// Notify implements Sink.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, n)
}

// All returns the recorded notifications, optionally filtered by kind.
func (r *Recorder) All(kinds ...Kind) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(kinds) == 0 {
		return append([]Notification(nil), r.all...)
	}
	var out []Notification
	for _, n := range r.all {
		for _, k := range kinds {
			if n.Type == k {
				out = append(out, n)
			}
		}
	}
	return out
}

// Reports returns the text of every non-empty debugResults notification.
func (r *Recorder) Reports() []string {
	var out []string
	for _, n := range r.All(KindDebugResults) {
		if n.Results.Text != nil {
			out = append(out, *n.Results.Text)
		}
	}
	return out
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging at debug level, except reports which
// are logged at info.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: log.WithComponent(logger, "notify")}
}

// Notify implements Sink.
func (s *LogSink) Notify(n Notification) {
	attrs := []any{log.EventKey, string(n.Type)}
	if n.SessionID != "" {
		attrs = append(attrs, log.SessionIDKey, n.SessionID)
	}

	switch {
	case n.Spinner != nil:
		s.logger.Debug("spinner", append(attrs, "active", n.Spinner.Active, "message", n.Spinner.Message)...)
	case n.Session != nil:
		s.logger.Debug("session state", append(attrs, "in_session", n.Session.InSession)...)
	case n.Results != nil:
		if n.Results.Text == nil {
			s.logger.Debug("results cleared", attrs...)
			return
		}
		s.logger.Info("debug results", append(attrs, "results", *n.Results.Text, log.ReasonKey, n.Results.Reason)...)
	case n.Call != nil:
		s.logger.Info("oracle action", append(attrs, log.ActionKey, n.Call.Name, "args", n.Call.Args, log.ReasonKey, n.Call.Reason)...)
	}
}
