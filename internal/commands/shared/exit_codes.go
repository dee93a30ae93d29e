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


package shared

import (
	"errors"
	"fmt"
	"os"

	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitSessionFailed = 1
	ExitInvalidConfig = 2
	ExitAdapterError  = 3
	ExitInterrupted   = 130
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewSessionError creates an error for debug sessions that failed
func NewSessionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitSessionFailed, Message: msg, Cause: cause}
}

// NewConfigError creates an error for unusable configuration
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// NewAdapterError creates an error for debug adapters that could not be reached
func NewAdapterError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitAdapterError, Message: msg, Cause: cause}
}

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	code := ExitSessionFailed
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}

	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, "Error:", msg)
	}
	printSuggestion(err)

	os.Exit(code)
}

// printSuggestion prints the suggestion of the first ValidationError in
// the chain, if any.
func printSuggestion(err error) {
	var validationErr *llmerrors.ValidationError
	if errors.As(err, &validationErr) && validationErr.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", validationErr.Suggestion)
	}
}
