// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/pkg/httpclient"
)

// OpenAIChatProvider is an LLMProvider against the OpenAI (or any
// OpenAI-compatible, e.g. self-hosted) chat-completions API. Grounded
// on pkg/llms/openai.go's request/response shaping, rebuilt against
// this package's provider-agnostic ChatRequest/ChatResponse and the
// teacher's retrying pkg/httpclient.Client instead of a bare
// http.Client.
type OpenAIChatProvider struct {
	model   string
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

// NewOpenAIChatProvider constructs a provider against baseURL (e.g.
// "https://api.openai.com/v1") using model for every request.
func NewOpenAIChatProvider(model, baseURL, apiKey string) *OpenAIChatProvider {
	return &OpenAIChatProvider{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
			httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		),
	}
}

func (p *OpenAIChatProvider) Name() string { return "openai:" + p.model }

type openaiMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiChoice struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []openaiToolCall `json:"tool_calls"`
	} `json:"message"`
	Delta struct {
		Content   string           `json:"content"`
		ToolCalls []openaiToolCall `json:"tool_calls"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type openaiChatResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAIChatProvider) toRequestBody(req ChatRequest, stream bool) openaiChatRequest {
	body := openaiChatRequest{
		Model:       p.model,
		Temperature: req.Config.Temperature,
		MaxTokens:   req.Config.MaxTokens,
		TopP:        req.Config.TopP,
		Stop:        req.Config.StopSequences,
		Stream:      stream,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openaiMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	for _, t := range req.Tools {
		ot := openaiTool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.ParamSchema
		body.Tools = append(body.Tools, ot)
	}
	return body
}

func parseToolCalls(raw []openaiToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(raw))
	for _, tc := range raw {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out = append(out, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

func (p *OpenAIChatProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(p.toRequestBody(req, false))
	if err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "encode openai chat request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "build openai chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "openai chat request failed", err)
	}
	defer resp.Body.Close()

	var parsed openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "decode openai chat response", err)
	}
	if parsed.Error != nil {
		return ChatResponse{}, errs.New(errs.LLMUnavailable, "openai: "+parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return ChatResponse{}, errs.New(errs.LLMUnavailable, "openai returned no choices")
	}
	choice := parsed.Choices[0]
	return ChatResponse{
		Text:         choice.Message.Content,
		ToolCalls:    parseToolCalls(choice.Message.ToolCalls),
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIChatProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.toRequestBody(req, true))
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "encode openai stream request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "build openai stream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "openai stream request failed", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		var textDelta strings.Builder
		var toolCalls []ToolCall
		var usage Usage
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}
			var chunk openaiChatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				textDelta.WriteString(delta)
				select {
				case out <- StreamChunk{TextDelta: delta}:
				case <-ctx.Done():
					return
				}
			}
			if len(chunk.Choices[0].Delta.ToolCalls) > 0 {
				toolCalls = append(toolCalls, parseToolCalls(chunk.Choices[0].Delta.ToolCalls)...)
			}
		}
		select {
		case out <- StreamChunk{Done: true, ToolCalls: toolCalls, Usage: usage}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *OpenAIChatProvider) Close() error { return nil }

var _ LLMProvider = (*OpenAIChatProvider)(nil)
