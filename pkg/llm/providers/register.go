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

// Package providers contains the built-in LLM backends.
package providers

import "github.com/tombee/llmdebug/pkg/llm"

func init() {
	// Factories are registered at import time; llm.New instantiates them.
	llm.RegisterFactory("openai", NewOpenAIWithCredentials)
	llm.RegisterFactory("anthropic", NewAnthropicWithCredentials)
}
