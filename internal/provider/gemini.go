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
	"context"

	"google.golang.org/genai"

	"github.com/latchframe/alignment-engine/internal/errs"
)

// GeminiChatProvider is an LLMProvider backed by google.golang.org/genai,
// grounded on pkg/model/gemini's client construction and
// content/config building, generalized to this package's
// provider-agnostic ChatRequest/ChatResponse.
type GeminiChatProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiChatProvider(ctx context.Context, model, apiKey string) (*GeminiChatProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "create gemini client", err)
	}
	return &GeminiChatProvider{client: client, model: model}, nil
}

func (p *GeminiChatProvider) Name() string { return "gemini:" + p.model }

func (p *GeminiChatProvider) toContents(req ChatRequest) ([]*genai.Content, *genai.Content) {
	var sys *genai.Content
	var contents []*genai.Content
	for _, m := range req.Messages {
		if m.Role == "system" {
			sys = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return contents, sys
}

func (p *GeminiChatProvider) toConfig(req ChatRequest, sys *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SystemInstruction: sys}
	if req.Config.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Config.Temperature))
	}
	if req.Config.TopP != 0 {
		cfg.TopP = genai.Ptr(float32(req.Config.TopP))
	}
	if req.Config.MaxTokens != 0 {
		cfg.MaxOutputTokens = int32(req.Config.MaxTokens)
	}
	if len(req.Config.StopSequences) > 0 {
		cfg.StopSequences = req.Config.StopSequences
	}
	for _, t := range req.Tools {
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
			}},
		})
	}
	return cfg
}

func (p *GeminiChatProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	contents, sys := p.toContents(req)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, p.toConfig(req, sys))
	if err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "gemini generate content failed", err)
	}
	return parseGeminiResponse(resp), nil
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) ChatResponse {
	var out ChatResponse
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				out.Text += part.Text
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	} else {
		out.FinishReason = "stop"
	}
	return out
}

func (p *GeminiChatProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	contents, sys := p.toContents(req)
	iterator := p.client.Models.GenerateContentStream(ctx, p.model, contents, p.toConfig(req, sys))

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		var final ChatResponse
		for resp, err := range iterator {
			if err != nil {
				return
			}
			chunk := parseGeminiResponse(resp)
			final.Usage = chunk.Usage
			if chunk.Text != "" {
				select {
				case out <- StreamChunk{TextDelta: chunk.Text}:
				case <-ctx.Done():
					return
				}
			}
			if len(chunk.ToolCalls) > 0 {
				final.ToolCalls = append(final.ToolCalls, chunk.ToolCalls...)
			}
		}
		select {
		case out <- StreamChunk{Done: true, ToolCalls: final.ToolCalls, Usage: final.Usage}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *GeminiChatProvider) Close() error { return nil }

var _ LLMProvider = (*GeminiChatProvider)(nil)

// GeminiEmbeddingProvider is an EmbeddingProvider backed by genai's
// embedding endpoint.
type GeminiEmbeddingProvider struct {
	client *genai.Client
	model  string
	dim    int
}

func NewGeminiEmbeddingProvider(ctx context.Context, model, apiKey string, dim int) (*GeminiEmbeddingProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "create gemini client", err)
	}
	return &GeminiEmbeddingProvider{client: client, model: model, dim: dim}, nil
}

func (p *GeminiEmbeddingProvider) Name() string { return "gemini-embed:" + p.model }
func (p *GeminiEmbeddingProvider) Dimension() int { return p.dim }

func (p *GeminiEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *GeminiEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "gemini embed content failed", err)
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

func (p *GeminiEmbeddingProvider) Close() error { return nil }

var _ EmbeddingProvider = (*GeminiEmbeddingProvider)(nil)
