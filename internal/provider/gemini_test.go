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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// toContents/toConfig/parseGeminiResponse are exercised directly: Chat
// and ChatStream delegate to genai.Client.Models, a real SDK client with
// no local HTTP seam to point at httptest.Server, so this file covers
// the request/response shaping this provider owns.

func TestGeminiToContentsSplitsSystemMessageFromConversation(t *testing.T) {
	p := &GeminiChatProvider{model: "gemini-1.5-pro"}
	contents, sys := p.toContents(ChatRequest{Messages: []ChatMessage{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}})
	require.NotNil(t, sys)
	assert.Equal(t, "be concise", sys.Parts[0].Text)
	require.Len(t, contents, 2)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
}

func TestGeminiToConfigAppliesGenerateConfigFieldsWhenNonZero(t *testing.T) {
	p := &GeminiChatProvider{model: "gemini-1.5-pro"}
	cfg := p.toConfig(ChatRequest{Config: GenerateConfig{
		Temperature:   0.4,
		TopP:          0.9,
		MaxTokens:     256,
		StopSequences: []string{"STOP"},
	}}, nil)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.4, *cfg.Temperature, 0.0001)
	require.NotNil(t, cfg.TopP)
	assert.InDelta(t, 0.9, *cfg.TopP, 0.0001)
	assert.Equal(t, int32(256), cfg.MaxOutputTokens)
	assert.Equal(t, []string{"STOP"}, cfg.StopSequences)
}

func TestGeminiToConfigLeavesZeroValueFieldsUnset(t *testing.T) {
	p := &GeminiChatProvider{model: "gemini-1.5-pro"}
	cfg := p.toConfig(ChatRequest{}, nil)
	assert.Nil(t, cfg.Temperature)
	assert.Nil(t, cfg.TopP)
	assert.Equal(t, int32(0), cfg.MaxOutputTokens)
}

func TestGeminiToConfigTranslatesToolsToFunctionDeclarations(t *testing.T) {
	p := &GeminiChatProvider{model: "gemini-1.5-pro"}
	cfg := p.toConfig(ChatRequest{Tools: []ToolSpec{{Name: "lookup", Description: "looks things up"}}}, nil)
	require.Len(t, cfg.Tools, 1)
	require.Len(t, cfg.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "lookup", cfg.Tools[0].FunctionDeclarations[0].Name)
}

func TestParseGeminiResponseConcatenatesTextPartsAndSetsStopFinishReason(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "Hel"}, {Text: "lo"}}},
		}},
	}
	out := parseGeminiResponse(resp)
	assert.Equal(t, "Hello", out.Text)
	assert.Equal(t, "stop", out.FinishReason)
}

func TestParseGeminiResponseExtractsFunctionCallAndSetsToolCallsFinishReason(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: "lookup", Args: map[string]any{"id": "42"}}}}},
		}},
	}
	out := parseGeminiResponse(resp)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "lookup", out.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", out.FinishReason)
}

func TestParseGeminiResponseHandlesNoCandidatesWithoutPanicking(t *testing.T) {
	out := parseGeminiResponse(&genai.GenerateContentResponse{})
	assert.Equal(t, "", out.Text)
	assert.Equal(t, "stop", out.FinishReason)
}

func TestGeminiEmbeddingProviderNameAndDimension(t *testing.T) {
	p := &GeminiEmbeddingProvider{model: "text-embedding-004", dim: 768}
	assert.Equal(t, "gemini-embed:text-embedding-004", p.Name())
	assert.Equal(t, 768, p.Dimension())
}
