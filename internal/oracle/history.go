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


package oracle

import (
	"sync"

	"github.com/tombee/llmdebug/pkg/llm"
)

// History is the conversation carried across stops within one session.
// It always begins with the system prompt.
type History struct {
	mu       sync.Mutex
	messages []llm.Message
}

// NewHistory creates a history holding only the system prompt.
func NewHistory() *History {
	h := &History{}
	h.Reset()
	return h
}

// Reset drops everything but the system prompt.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = []llm.Message{{Role: llm.MessageRoleSystem, Content: SystemPrompt}}
}

// AddUser appends a user turn.
func (h *History) AddUser(content string) {
	h.Append(llm.Message{Role: llm.MessageRoleUser, Content: content})
}

// Append adds messages in order.
func (h *History) Append(msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
}

// AddExchange records a decision followed by one tool result per call.
// Calls missing from results are recorded as skipped.
func (h *History) AddExchange(d *Decision, results map[string]string) {
	if d == nil {
		return
	}
	msgs := []llm.Message{d.AssistantMessage()}
	for _, c := range d.Calls {
		content, ok := results[c.ToolCall.ID]
		if !ok {
			content = "Skipped: the session ended first."
		}
		msgs = append(msgs, llm.Message{
			Role:       llm.MessageRoleTool,
			Content:    content,
			ToolCallID: c.ToolCall.ID,
			Name:       c.ToolCall.Name,
		})
	}
	h.Append(msgs...)
}

// Messages returns a copy of the conversation.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages, including the system prompt.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
