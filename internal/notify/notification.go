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


// Package notify carries passive lifecycle notifications from the debug
// loop to display surfaces. Sinks only observe; nothing flows back.
package notify

import (
	"encoding/json"
	"time"
)

// Kind identifies a notification.
type Kind string

const (
	KindSpinner      Kind = "spinner"
	KindInSession    Kind = "isInSession"
	KindDebugResults Kind = "debugResults"
	KindFunctionCall Kind = "aiFunctionCall"
)

// SpinnerPayload shows or hides a progress indicator.
type SpinnerPayload struct {
	Active  bool   `json:"active"`
	Message string `json:"message,omitempty"`
}

// SessionPayload reports whether a debug session is in progress.
type SessionPayload struct {
	InSession bool `json:"isInSession"`
}

// ResultsPayload carries the final report. A nil Text clears the display.
type ResultsPayload struct {
	Text   *string `json:"results"`
	Reason string  `json:"reason,omitempty"`
}

// CallPayload describes an action the oracle requested.
type CallPayload struct {
	Name   string         `json:"functionName"`
	Args   map[string]any `json:"args"`
	Reason string         `json:"reason,omitempty"`
}

// Notification is one lifecycle event. Exactly one payload is set,
// matching Type.
type Notification struct {
	Type      Kind      `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time"`

	Spinner *SpinnerPayload `json:"spinner,omitempty"`
	Session *SessionPayload `json:"session,omitempty"`
	Results *ResultsPayload `json:"results,omitempty"`
	Call    *CallPayload    `json:"call,omitempty"`
}

// Spinner builds a spinner notification.
func Spinner(active bool, message string) Notification {
	return Notification{Type: KindSpinner, Time: time.Now(), Spinner: &SpinnerPayload{Active: active, Message: message}}
}

// InSession builds an isInSession notification.
func InSession(inSession bool) Notification {
	return Notification{Type: KindInSession, Time: time.Now(), Session: &SessionPayload{InSession: inSession}}
}

// Results builds a debugResults notification carrying text.
func Results(text, reason string) Notification {
	return Notification{Type: KindDebugResults, Time: time.Now(), Results: &ResultsPayload{Text: &text, Reason: reason}}
}

// ClearResults builds a debugResults notification that clears the report.
func ClearResults() Notification {
	return Notification{Type: KindDebugResults, Time: time.Now(), Results: &ResultsPayload{}}
}

// FunctionCall builds an aiFunctionCall notification.
func FunctionCall(name string, args map[string]any, reason string) Notification {
	if args == nil {
		args = map[string]any{}
	}
	return Notification{Type: KindFunctionCall, Time: time.Now(), Call: &CallPayload{Name: name, Args: args, Reason: reason}}
}

// JSON encodes the notification.
func (n Notification) JSON() ([]byte, error) {
	return json.Marshal(n)
}
