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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/pkg/httpclient"
)

// AnthropicChatProvider is an LLMProvider against the Anthropic Messages
// API, grounded on pkg/llms/anthropic.go's hand-rolled request shaping
// (no Anthropic SDK exists in the example pack) rebuilt against this
// package's provider-agnostic types.
type AnthropicChatProvider struct {
	model   string
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

func NewAnthropicChatProvider(model, baseURL, apiKey string) *AnthropicChatProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicChatProvider{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
			httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		),
	}
}

func (p *AnthropicChatProvider) Name() string { return "anthropic:" + p.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	Tools       []anthropicTool     `json:"tools,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature,omitempty"`
	TopP        float64             `json:"top_p,omitempty"`
	StopSeqs    []string            `json:"stop_sequences,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicChatProvider) buildRequest(req ChatRequest, stream bool) anthropicRequest {
	body := anthropicRequest{
		Model:       p.model,
		MaxTokens:   req.Config.MaxTokens,
		Temperature: req.Config.Temperature,
		TopP:        req.Config.TopP,
		StopSeqs:    req.Config.StopSequences,
		Stream:      stream,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.ParamSchema})
	}
	return body
}

func parseAnthropicResponse(parsed anthropicResponse) ChatResponse {
	resp := ChatResponse{
		FinishReason: parsed.StopReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	return resp
}

func (p *AnthropicChatProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "encode anthropic request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "build anthropic request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "anthropic request failed", err)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "decode anthropic response", err)
	}
	if parsed.Error != nil {
		return ChatResponse{}, errs.New(errs.LLMUnavailable, "anthropic: "+parsed.Error.Message)
	}
	return parseAnthropicResponse(parsed), nil
}

// ChatStream is not wired to Anthropic's SSE event framing (distinct
// from OpenAI's): it runs a non-streaming Chat and replays the result as
// a single terminal chunk, keeping the LLMProvider contract uniform for
// callers that don't specifically need incremental tokens from Claude.
func (p *AnthropicChatProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk, 2)
	if resp.Text != "" {
		out <- StreamChunk{TextDelta: resp.Text}
	}
	out <- StreamChunk{Done: true, ToolCalls: resp.ToolCalls, Usage: resp.Usage}
	close(out)
	return out, nil
}

func (p *AnthropicChatProvider) Close() error { return nil }

var _ LLMProvider = (*AnthropicChatProvider)(nil)
