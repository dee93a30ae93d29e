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

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	llmerrors "github.com/tombee/llmdebug/pkg/errors"
	"github.com/tombee/llmdebug/pkg/llm"
)

const (
	// DefaultAnthropicModel is used when a request names no model.
	DefaultAnthropicModel = "claude-sonnet-4-5"

	// defaultAnthropicMaxTokens is required by the Messages API.
	defaultAnthropicMaxTokens = 1000
)

// AnthropicProvider implements llm.Provider over the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(creds llm.Credentials) (*AnthropicProvider, error) {
	if err := creds.Validate(); err != nil {
		return nil, &llmerrors.ConfigError{
			Key:    "llm.api_key",
			Reason: "API key is required for Anthropic provider",
			Cause:  err,
		}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(creds.APIKey),
		// Retries are handled by llm.RetryingProvider.
		option.WithMaxRetries(0),
	}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(creds.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}, nil
}

// NewAnthropicWithCredentials adapts NewAnthropicProvider to llm.ProviderFactory.
func NewAnthropicWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	return NewAnthropicProvider(creds)
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends a Messages API request.
func (p *AnthropicProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &llmerrors.ValidationError{
			Field:   "messages",
			Message: "completion request must have at least one message",
		}
	}

	params, err := buildAnthropicParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicError(err)
	}

	out := &llm.CompletionResponse{
		FinishReason: mapAnthropicStopReason(resp.StopReason),
		Model:        string(resp.Model),
		RequestID:    resp.ID,
		Created:      time.Now(),
		Usage: llm.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: string(toolUse.Input),
			})
		}
	}
	return out, nil
}

func buildAnthropicParams(req llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := int64(defaultAnthropicMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	var system []anthropic.TextBlockParam
	for _, msg := range req.Messages {
		if msg.Role == llm.MessageRoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	params.System = system

	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return params, err
	}
	params.Messages = messages

	if len(req.Tools) > 0 && req.ToolChoice != llm.ToolChoiceNone {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			schema := anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: tool.InputSchema["properties"],
			}
			switch required := tool.InputSchema["required"].(type) {
			case []string:
				schema.Required = required
			case []interface{}:
				for _, r := range required {
					if name, ok := r.(string); ok {
						schema.Required = append(schema.Required, name)
					}
				}
			}
			union := anthropic.ToolUnionParamOfTool(schema, tool.Name)
			if union.OfTool != nil && tool.Description != "" {
				union.OfTool.Description = anthropic.String(tool.Description)
			}
			tools = append(tools, union)
		}
		params.Tools = tools

		if req.ToolChoice == llm.ToolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	return params, nil
}

// toAnthropicMessages converts the chat history. System messages move to
// the system parameter, tool results become user content blocks, and
// consecutive turns of the same role are merged so roles alternate.
func toAnthropicMessages(messages []llm.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		assistant := false

		switch msg.Role {
		case llm.MessageRoleSystem:
			continue
		case llm.MessageRoleTool:
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case llm.MessageRoleAssistant:
			assistant = true
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
		default:
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if len(content) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if assistant {
			role = anthropic.MessageParamRoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, content...)
			continue
		}
		if assistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func mapAnthropicStopReason(reason anthropic.StopReason) llm.FinishReason {
	switch reason {
	case anthropic.StopReasonMaxTokens:
		return llm.FinishReasonLength
	case anthropic.StopReasonToolUse:
		return llm.FinishReasonToolCalls
	default:
		return llm.FinishReasonStop
	}
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		out := &llmerrors.ProviderError{
			Provider:   "anthropic",
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
			RequestID:  apiErr.RequestID,
			Cause:      err,
		}
		if apiErr.Response != nil {
			out.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
		}
		return out
	}
	return err
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
// It returns zero when the header is absent or malformed.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
