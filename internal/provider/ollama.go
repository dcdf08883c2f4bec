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
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/pkg/ollama"
)

// OllamaChatProvider is an LLMProvider against a local Ollama server,
// grounded on pkg/llms/ollama.go's request shaping rebuilt against this
// package's provider-agnostic types and reusing pkg/ollama.Client.
type OllamaChatProvider struct {
	model  string
	client *ollama.Client
}

func NewOllamaChatProvider(model, baseURL string) *OllamaChatProvider {
	return &OllamaChatProvider{model: model, client: ollama.NewClientWithTimeout(baseURL, 120*time.Second)}
}

func (p *OllamaChatProvider) Name() string { return "ollama:" + p.model }

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done               bool `json:"done"`
	PromptEvalCount     int  `json:"prompt_eval_count"`
	EvalCount           int  `json:"eval_count"`
}

func (p *OllamaChatProvider) buildRequest(req ChatRequest, stream bool) ollamaChatRequest {
	body := ollamaChatRequest{Model: p.model, Stream: stream, Options: map[string]any{}}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	if req.Config.Temperature != 0 {
		body.Options["temperature"] = req.Config.Temperature
	}
	if req.Config.TopP != 0 {
		body.Options["top_p"] = req.Config.TopP
	}
	if req.Config.MaxTokens != 0 {
		body.Options["num_predict"] = req.Config.MaxTokens
	}
	return body
}

func (p *OllamaChatProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	resp, err := p.client.MakeRequest(ctx, "/api/chat", p.buildRequest(req, false))
	if err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "ollama chat request failed", err)
	}
	defer resp.Body.Close()

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ChatResponse{}, errs.Wrap(errs.LLMUnavailable, "decode ollama chat response", err)
	}
	return ChatResponse{
		Text:         parsed.Message.Content,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

func (p *OllamaChatProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.client.MakeStreamingRequest(ctx, "/api/chat", p.buildRequest(req, true))
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "ollama chat stream request failed", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		var usage Usage
		for scanner.Scan() {
			var chunk ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				select {
				case out <- StreamChunk{TextDelta: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				usage = Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				}
			}
		}
		select {
		case out <- StreamChunk{Done: true, Usage: usage}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *OllamaChatProvider) Close() error { return nil }

var _ LLMProvider = (*OllamaChatProvider)(nil)

// ollamaEmbedMu serializes embedding requests: Ollama's runner can crash
// on concurrent embedding calls against the same model.
var ollamaEmbedMu sync.Mutex

// OllamaEmbeddingProvider is an EmbeddingProvider against a local Ollama
// server, grounded on pkg/embedders/ollama.go including its
// serialize-all-requests workaround.
type OllamaEmbeddingProvider struct {
	model  string
	dim    int
	client *ollama.Client
}

func NewOllamaEmbeddingProvider(model, baseURL string, dim int) *OllamaEmbeddingProvider {
	return &OllamaEmbeddingProvider{model: model, dim: dim, client: ollama.NewClientWithTimeout(baseURL, 30*time.Second)}
}

func (p *OllamaEmbeddingProvider) Name() string   { return "ollama-embed:" + p.model }
func (p *OllamaEmbeddingProvider) Dimension() int { return p.dim }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *OllamaEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	resp, err := p.client.MakeRequest(ctx, "/api/embeddings", ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "ollama embed request failed", err)
	}
	defer resp.Body.Close()

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "decode ollama embed response", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, errs.New(errs.LLMUnavailable, "ollama returned an empty embedding")
	}
	return parsed.Embedding, nil
}

func (p *OllamaEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		emb, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

func (p *OllamaEmbeddingProvider) Close() error { return nil }

var _ EmbeddingProvider = (*OllamaEmbeddingProvider)(nil)
