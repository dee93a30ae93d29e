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


package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tombee/llmdebug/pkg/llm"
)

// When restricts a scripted response to matching requests.
type When struct {
	// Stage matches the "stage" request metadata.
	Stage string

	// PromptContains matches the last message, case-insensitively.
	PromptContains string
}

// Response is one scripted completion. A response without When is used
// only after every conditional response failed to match. Once responses
// are consumed on first use.
type Response struct {
	When    *When
	Content string
	Calls   []llm.ToolCall
	Err     error
	Once    bool
	Default bool

	used bool
}

// ToolCall builds a tool call with a generated ID.
func ToolCall(name, arguments string) llm.ToolCall {
	return llm.ToolCall{ID: "call_" + name, Name: name, Arguments: arguments}
}

// LLMProvider is a scripted llm.Provider that records every request.
type LLMProvider struct {
	mu        sync.Mutex
	responses []*Response
	requests  []llm.CompletionRequest

	// OnComplete runs before a response is chosen. A non-nil error is
	// returned to the caller. Tests use it to block or cancel requests.
	OnComplete func(ctx context.Context, req llm.CompletionRequest) error
}

var _ llm.Provider = (*LLMProvider)(nil)

// NewLLMProvider creates a provider answering with responses.
func NewLLMProvider(responses ...*Response) *LLMProvider {
	return &LLMProvider{responses: responses}
}

// Name implements llm.Provider.
func (m *LLMProvider) Name() string {
	return "mock"
}

// Requests returns the recorded requests.
func (m *LLMProvider) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.requests...)
}

// Complete implements llm.Provider.
func (m *LLMProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	hook := m.OnComplete
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	resp, err := m.findMatchingResponse(req)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	finish := llm.FinishReasonStop
	if len(resp.Calls) > 0 {
		finish = llm.FinishReasonToolCalls
	}
	return &llm.CompletionResponse{
		Content:      resp.Content,
		ToolCalls:    append([]llm.ToolCall(nil), resp.Calls...),
		FinishReason: finish,
		Model:        "mock",
	}, nil
}

// findMatchingResponse picks the first unused conditional response that
// matches, falling back to the default.
func (m *LLMProvider) findMatchingResponse(req llm.CompletionRequest) (*Response, error) {
	stage := req.Metadata["stage"]
	prompt := ""
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}

	var defaultResponse *Response
	for _, resp := range m.responses {
		if resp.used {
			continue
		}
		if resp.Default {
			if defaultResponse == nil {
				defaultResponse = resp
			}
			continue
		}
		if resp.When != nil {
			if resp.When.Stage != "" && resp.When.Stage != stage {
				continue
			}
			if resp.When.PromptContains != "" &&
				!strings.Contains(strings.ToLower(prompt), strings.ToLower(resp.When.PromptContains)) {
				continue
			}
		}
		resp.used = resp.Once
		return resp, nil
	}

	if defaultResponse != nil {
		return defaultResponse, nil
	}
	return nil, fmt.Errorf("no matching response for stage %q", stage)
}
