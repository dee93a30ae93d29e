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


// Package secrets resolves secret references used in configuration.
//
// A reference is either a literal value or a "<scheme>:<name>" pointer:
//
//	env:OPENAI_API_KEY      read from the process environment
//	keyring:openai          read from the system keychain
//
// Literal values resolve to themselves and are reported as plaintext so
// callers can warn about keys stored in config files.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSecretNotFound is returned when a referenced secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when a backend cannot be used in the current environment.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Backend reads secrets by name.
type Backend interface {
	// Scheme returns the reference prefix handled by this backend.
	Scheme() string

	// Get retrieves a secret. Returns ErrSecretNotFound if not present.
	Get(ctx context.Context, name string) (string, error)
}

// Resolver dispatches references to backends by scheme.
type Resolver struct {
	backends map[string]Backend
}

// NewResolver creates a resolver over backends.
func NewResolver(backends ...Backend) *Resolver {
	r := &Resolver{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Scheme()] = b
	}
	return r
}

// DefaultResolver resolves env: and keyring: references.
func DefaultResolver() *Resolver {
	return NewResolver(NewEnvBackend(), NewKeychainBackend())
}

// Resolved is the outcome of resolving a reference.
type Resolved struct {
	Value string

	// Plaintext is set when the reference was a literal value.
	Plaintext bool
}

// Resolve returns the value behind ref. An empty ref resolves to an empty
// value. A ref whose prefix is not a known scheme is treated as a literal.
func (r *Resolver) Resolve(ctx context.Context, ref string) (Resolved, error) {
	if ref == "" {
		return Resolved{}, nil
	}

	scheme, name, ok := strings.Cut(ref, ":")
	backend, known := r.backends[scheme]
	if !ok || !known {
		return Resolved{Value: ref, Plaintext: true}, nil
	}
	if name == "" {
		return Resolved{}, fmt.Errorf("secret reference %q has no name", ref)
	}

	value, err := backend.Get(ctx, name)
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to resolve %s secret %q: %w", scheme, name, err)
	}
	return Resolved{Value: value}, nil
}

// IsReference reports whether ref points at a backend rather than holding
// a literal value.
func (r *Resolver) IsReference(ref string) bool {
	scheme, _, ok := strings.Cut(ref, ":")
	_, known := r.backends[scheme]
	return ok && known
}
