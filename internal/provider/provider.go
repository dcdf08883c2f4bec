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

// Package provider defines the three external-model interfaces the
// pipeline depends on: LLMProvider, EmbeddingProvider, RerankProvider
// (spec §6.2). Concrete adapters live alongside this file, one per
// backend, generalizing the teacher's pkg/llms and pkg/embedder
// provider registries.
package provider

import "context"

// ChatMessage is one turn of conversation passed to an LLMProvider.
type ChatMessage struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
	// ToolCallID links a "tool" role message back to the ToolCall that
	// produced it.
	ToolCallID string
}

// ToolSpec describes a callable tool an LLMProvider may invoke, in a
// provider-agnostic shape. The pipeline stages send no ToolSpecs.
type ToolSpec struct {
	Name        string
	Description string
	ParamSchema map[string]any // JSON Schema
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// GenerateConfig mirrors the teacher's pkg/model.GenerateConfig,
// trimmed to the fields the alignment engine actually drives.
type GenerateConfig struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	StopSequences    []string
	ResponseMIMEType string // e.g. "application/json" for structured judge calls
}

// ChatRequest is one LLMProvider.Chat call's input.
type ChatRequest struct {
	Messages []ChatMessage
	Tools    []ToolSpec
	Config   GenerateConfig
}

// Usage carries token accounting back to the pipeline for
// TurnRecord.TokensUsed.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is one LLMProvider.Chat call's output. Exactly one of
// Text or ToolCalls is populated for a well-formed response; both may
// be empty only when the call finished with an error.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string // "stop" | "length" | "tool_calls" | "content_filter" | "error"
}

// StreamChunk is one partial delta from LLMProvider.ChatStream.
type StreamChunk struct {
	TextDelta string
	ToolCalls []ToolCall // populated only on the final chunk
	Done      bool
	Usage     Usage // populated only when Done
}

// LLMProvider generates chat completions, grounded on the teacher's
// pkg/llms.LLM and pkg/model.LLM interfaces (spec §6.2).
type LLMProvider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	Close() error
}

// EmbeddingProvider produces vector embeddings, grounded on the
// teacher's pkg/embedder.Embedder (spec §6.2).
type EmbeddingProvider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// RerankCandidate is one item submitted to a RerankProvider.
type RerankCandidate struct {
	ID   string
	Text string
}

// RerankResult pairs a candidate id with its reranked relevance score.
type RerankResult struct {
	ID    string
	Score float64
}

// RerankProvider reorders retrieval candidates against a query,
// grounded on the teacher's pkg/context/reranking package (spec §6.2,
// §4.4).
type RerankProvider interface {
	Name() string
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
	Close() error
}
