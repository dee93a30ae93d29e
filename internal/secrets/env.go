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


package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvBackend reads secrets from environment variables.
type EnvBackend struct {
	lookup func(string) (string, bool)
}

// NewEnvBackend creates a backend over the process environment.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{lookup: os.LookupEnv}
}

// Scheme implements Backend.
func (e *EnvBackend) Scheme() string {
	return "env"
}

// Get implements Backend. A variable set to the empty string counts as
// missing.
func (e *EnvBackend) Get(ctx context.Context, name string) (string, error) {
	value, ok := e.lookup(name)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrSecretNotFound, name)
	}
	return value, nil
}
