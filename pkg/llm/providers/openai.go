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
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	llmerrors "github.com/tombee/llmdebug/pkg/errors"
	"github.com/tombee/llmdebug/pkg/llm"
)

// DefaultOpenAIModel is used when a request names no model.
const DefaultOpenAIModel = openai.GPT4o

// OpenAIProvider implements llm.Provider over the Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(creds llm.Credentials) (*OpenAIProvider, error) {
	if err := creds.Validate(); err != nil {
		return nil, &llmerrors.ConfigError{
			Key:    "llm.api_key",
			Reason: "API key is required for OpenAI provider",
			Cause:  err,
		}
	}

	cfg := openai.DefaultConfig(creds.APIKey)
	if creds.BaseURL != "" {
		cfg.BaseURL = creds.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}, nil
}

// NewOpenAIWithCredentials adapts NewOpenAIProvider to llm.ProviderFactory.
func NewOpenAIWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	return NewOpenAIProvider(creds)
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &llmerrors.ValidationError{
			Field:   "messages",
			Message: "completion request must have at least one message",
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, buildOpenAIRequest(req))
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llmerrors.ProviderError{
			Provider:  "openai",
			Message:   "response contained no choices",
			RequestID: resp.ID,
		}
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Model:        resp.Model,
		RequestID:    resp.ID,
		Created:      time.Unix(resp.Created, 0),
		Usage: llm.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func buildOpenAIRequest(req llm.CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = make([]openai.Tool, len(req.Tools))
		for i, tool := range req.Tools {
			chatReq.Tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.InputSchema,
				},
			}
		}
		if req.ToolChoice != "" {
			chatReq.ToolChoice = string(req.ToolChoice)
		}
	}
	return chatReq
}

func toOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		switch msg.Role {
		case llm.MessageRoleAssistant:
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		case llm.MessageRoleTool:
			oaiMsg.ToolCallID = msg.ToolCallID
			oaiMsg.Name = msg.Name
		}
		out = append(out, oaiMsg)
	}
	return out
}

func mapOpenAIFinishReason(reason openai.FinishReason) llm.FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return llm.FinishReasonStop
	case openai.FinishReasonLength:
		return llm.FinishReasonLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llm.FinishReasonToolCalls
	case openai.FinishReasonContentFilter:
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &llmerrors.ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Cause:      err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llmerrors.ProviderError{
			Provider:   "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Cause:      err,
		}
	}
	return err
}
