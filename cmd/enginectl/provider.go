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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/latchframe/alignment-engine/internal/provider"
)

// buildChatProvider selects one of the engine's LLMProvider
// implementations by name, mirroring the teacher's ServeCmd --provider
// flag handling in cmd/hector/main.go.
func buildChatProvider(ctx context.Context, cli *CLI) (provider.LLMProvider, error) {
	switch cli.Provider {
	case "anthropic":
		apiKey := firstNonEmpty(cli.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		return provider.NewAnthropicChatProvider(cli.Model, cli.BaseURL, apiKey), nil
	case "openai":
		apiKey := firstNonEmpty(cli.APIKey, os.Getenv("OPENAI_API_KEY"))
		return provider.NewOpenAIChatProvider(cli.Model, cli.BaseURL, apiKey), nil
	case "gemini":
		apiKey := firstNonEmpty(cli.APIKey, os.Getenv("GEMINI_API_KEY"))
		return provider.NewGeminiChatProvider(ctx, cli.Model, apiKey)
	case "ollama":
		baseURL := firstNonEmpty(cli.BaseURL, "http://localhost:11434")
		return provider.NewOllamaChatProvider(cli.Model, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic, openai, gemini, or ollama)", cli.Provider)
	}
}

// buildEmbeddingProvider selects one of the engine's EmbeddingProvider
// implementations, or returns (nil, nil) when the caller asked for none
// (retrieval and enforcement's grounding checks both tolerate a nil
// Embedder by scoring every candidate 0).
func buildEmbeddingProvider(ctx context.Context, cli *CLI) (provider.EmbeddingProvider, error) {
	switch cli.EmbedProvider {
	case "":
		return nil, nil
	case "gemini":
		apiKey := firstNonEmpty(cli.APIKey, os.Getenv("GEMINI_API_KEY"))
		return provider.NewGeminiEmbeddingProvider(ctx, cli.EmbedModel, apiKey, cli.EmbedDim)
	case "openai":
		apiKey := firstNonEmpty(cli.APIKey, os.Getenv("OPENAI_API_KEY"))
		return provider.NewOpenAIEmbeddingProvider(cli.EmbedModel, cli.BaseURL, apiKey, cli.EmbedDim), nil
	case "ollama":
		baseURL := firstNonEmpty(cli.BaseURL, "http://localhost:11434")
		return provider.NewOllamaEmbeddingProvider(cli.EmbedModel, baseURL, cli.EmbedDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want gemini, openai, or ollama)", cli.EmbedProvider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
