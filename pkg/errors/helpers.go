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
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsOracle reports whether err carries an OracleError.
func IsOracle(err error) bool {
	var target *OracleError
	return errors.As(err, &target)
}

// IsInvalidAction reports whether err carries an InvalidActionError.
func IsInvalidAction(err error) bool {
	var target *InvalidActionError
	return errors.As(err, &target)
}

// IsRetryable reports whether err is classified as transient anywhere in its chain.
func IsRetryable(err error) bool {
	var classifier interface{ IsRetryable() bool }
	if errors.As(err, &classifier) {
		return classifier.IsRetryable()
	}
	return false
}
