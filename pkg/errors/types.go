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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "session", "transcript")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "llm.api_key")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "oracle request", "launch handshake")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ProviderError represents LLM provider failures.
// Use this for errors originating from external LLM APIs.
type ProviderError struct {
	// Provider is the name of the LLM provider (e.g., "anthropic", "openai")
	Provider string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// RequestID correlates this error with provider logs
	RequestID string

	// RetryAfter is the server's requested wait before retrying, if sent.
	RetryAfter time.Duration

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	msg = fmt.Sprintf("%s: %s", msg, e.Message)

	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the provider failure is transient.
func (e *ProviderError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TransportError represents a failed debug protocol request.
// The debug loop logs these and keeps waiting instead of aborting the session.
type TransportError struct {
	// Command is the protocol command that failed (e.g., "next", "stackTrace")
	Command string

	// Message is the adapter-supplied failure message, if any
	Message string

	// Cause is the underlying error (I/O failure, closed connection)
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("protocol request %s failed: %s: %v", e.Command, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("protocol request %s failed: %s", e.Command, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("protocol request %s failed: %v", e.Command, e.Cause)
	default:
		return fmt.Sprintf("protocol request %s failed", e.Command)
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// OracleError represents a failed decision request to the LLM.
// These are never swallowed: the session report carries the message instead.
type OracleError struct {
	// Provider is the backing LLM provider name
	Provider string

	// Stage names the request that failed (e.g., "initial", "paused", "exception", "final")
	Stage string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *OracleError) Error() string {
	prefix := "oracle"
	if e.Provider != "" {
		prefix = fmt.Sprintf("oracle %s", e.Provider)
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s request (%s) failed: %v", prefix, e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s request failed: %v", prefix, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *OracleError) Unwrap() error {
	return e.Cause
}

// InvalidActionError represents an oracle-requested action that cannot be applied.
// The executor skips the single action; the rest of the batch still runs.
type InvalidActionError struct {
	// Action is the tool name the oracle asked for
	Action string

	// Reason explains why the action was rejected
	Reason string

	// Cause is the underlying error (schema violation, decode failure)
	Cause error
}

// Error implements the error interface.
func (e *InvalidActionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid action %q: %s: %v", e.Action, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid action %q: %s", e.Action, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *InvalidActionError) Unwrap() error {
	return e.Cause
}

// PartialStateError records a failed introspection sub-query.
// Collectors recover from these locally by substituting an empty collection.
type PartialStateError struct {
	// Field is the paused-state field that could not be collected
	Field string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *PartialStateError) Error() string {
	return fmt.Sprintf("collecting %s failed: %v", e.Field, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PartialStateError) Unwrap() error {
	return e.Cause
}
