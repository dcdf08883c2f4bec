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

package generation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
	"github.com/latchframe/alignment-engine/internal/store"
	"github.com/latchframe/alignment-engine/internal/toolexec"
)

type stubChatLLM struct {
	resp provider.ChatResponse
	err  error

	streamCh chan provider.StreamChunk
}

func (s *stubChatLLM) Name() string { return "stub-chat" }

func (s *stubChatLLM) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	if s.err != nil {
		return provider.ChatResponse{}, s.err
	}
	return s.resp, nil
}

func (s *stubChatLLM) ChatStream(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.streamCh, nil
}

func (s *stubChatLLM) Close() error { return nil }

func rule(id, actionText, templateRef string) *model.Rule {
	return &model.Rule{ID: id, ActionText: actionText, TemplateRefID: templateRef}
}

func TestGenerateUsesExclusiveTemplateWithoutCallingLLM(t *testing.T) {
	llm := &stubChatLLM{resp: provider.ChatResponse{Text: "should not be used"}}
	g := New(llm, Config{})

	in := Input{
		MatchedRules: []*model.Rule{rule("r1", "", "tmpl-1")},
		Templates: map[string]*model.Template{
			"tmpl-1": {ID: "tmpl-1", Text: "Hello {name}, your order is confirmed.", Mode: model.TemplateExclusive},
		},
		Variables: map[string]any{"name": "Ada"},
	}
	got, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, got.LLMCalled)
	assert.Equal(t, "tmpl-1", got.TemplateUsed)
	assert.Equal(t, "Hello Ada, your order is confirmed.", got.Text)
}

func TestGenerateFallsBackToLLMWhenExclusiveTemplateHasUnresolvedPlaceholder(t *testing.T) {
	llm := &stubChatLLM{resp: provider.ChatResponse{Text: "generated reply", Usage: provider.Usage{TotalTokens: 42}}}
	g := New(llm, Config{})

	in := Input{
		MatchedRules: []*model.Rule{rule("r1", "", "tmpl-1")},
		Templates: map[string]*model.Template{
			"tmpl-1": {ID: "tmpl-1", Text: "Hello {name}", Mode: model.TemplateExclusive},
		},
	}
	got, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, got.LLMCalled)
	assert.Equal(t, "generated reply", got.Text)
	assert.Equal(t, 42, got.TokensUsed)
}

func TestGenerateIgnoresNonExclusiveTemplateRefs(t *testing.T) {
	llm := &stubChatLLM{resp: provider.ChatResponse{Text: "generated reply"}}
	g := New(llm, Config{})

	in := Input{
		MatchedRules: []*model.Rule{rule("r1", "", "tmpl-1")},
		Templates: map[string]*model.Template{
			"tmpl-1": {ID: "tmpl-1", Text: "Hello {name}", Mode: model.TemplateSuggest},
		},
		Variables: map[string]any{"name": "Ada"},
	}
	got, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, got.LLMCalled, "a SUGGEST template must never bypass the LLM")
}

func TestGeneratePropagatesLLMError(t *testing.T) {
	g := New(&stubChatLLM{err: assert.AnError}, Config{})
	_, err := g.Generate(context.Background(), Input{})
	assert.Error(t, err)
}

func TestGenerateStreamReturnsProviderChannel(t *testing.T) {
	ch := make(chan provider.StreamChunk, 1)
	ch <- provider.StreamChunk{TextDelta: "hi", Done: true}
	close(ch)
	g := New(&stubChatLLM{streamCh: ch}, Config{})

	got, err := g.GenerateStream(context.Background(), Input{UserMessage: "hello"})
	require.NoError(t, err)
	chunk := <-got
	assert.Equal(t, "hi", chunk.TextDelta)
}

func TestGenerateStreamPropagatesError(t *testing.T) {
	g := New(&stubChatLLM{err: assert.AnError}, Config{})
	_, err := g.GenerateStream(context.Background(), Input{})
	assert.Error(t, err)
}

func TestFindExclusiveTemplateSkipsRulesWithoutExclusiveMatch(t *testing.T) {
	rules := []*model.Rule{
		rule("r1", "", ""),
		rule("r2", "", "tmpl-suggest"),
		rule("r3", "", "tmpl-exclusive"),
	}
	templates := map[string]*model.Template{
		"tmpl-suggest":   {ID: "tmpl-suggest", Mode: model.TemplateSuggest},
		"tmpl-exclusive": {ID: "tmpl-exclusive", Mode: model.TemplateExclusive},
	}
	tmpl, ok := findExclusiveTemplate(rules, templates)
	require.True(t, ok)
	assert.Equal(t, "tmpl-exclusive", tmpl.ID)
}

func TestFindExclusiveTemplateNoneFound(t *testing.T) {
	_, ok := findExclusiveTemplate([]*model.Rule{rule("r1", "", "")}, nil)
	assert.False(t, ok)
}

func TestRenderTemplateSubstitutesKnownPlaceholders(t *testing.T) {
	got, resolved := RenderTemplate("Hi {name}, total is {total}.", map[string]any{"name": "Ada", "total": 12.5})
	assert.True(t, resolved)
	assert.Equal(t, "Hi Ada, total is 12.5.", got)
}

func TestRenderTemplateReportsUnresolvedPlaceholderAndLeavesItLiteral(t *testing.T) {
	got, resolved := RenderTemplate("Hi {name}", map[string]any{})
	assert.False(t, resolved)
	assert.Equal(t, "Hi {name}", got)
}

func TestMergeVarsPrecedenceEntitiesOverVariablesOverProfile(t *testing.T) {
	got := MergeVars(
		map[string]any{"tone": "profile-tone", "shared": "from-profile"},
		map[string]any{"shared": "from-variable"},
		map[string]string{"shared": "from-entity"},
	)
	assert.Equal(t, "from-entity", got["shared"], "entities take precedence as the freshest extraction")
	assert.Equal(t, "profile-tone", got["tone"])
}

func TestBuildPromptIncludesRuleScenarioMemoryToolsAndSuggestions(t *testing.T) {
	in := Input{
		UserMessage:    "Where is my order?",
		MatchedRules:   []*model.Rule{rule("r1", "Always confirm the order id before answering.", "tmpl-suggest")},
		Templates:      map[string]*model.Template{"tmpl-suggest": {ID: "tmpl-suggest", Text: "We're checking that now.", Mode: model.TemplateSuggest}},
		ActiveScenario: &model.Scenario{ID: "scn-order-status"},
		ActiveStep:     &model.ScenarioStep{ID: "step-1", Description: "Collect order id"},
		MemoryEpisodes: []store.Episode{{Text: "Customer previously asked about shipping delays."}},
		ToolResults:    []toolexec.Result{{ToolID: "order-lookup", Success: true, Output: map[string]any{"status": "shipped"}}},
	}
	prompt := buildPrompt(in, map[string]any{}, Config{})

	assert.Contains(t, prompt, "Always confirm the order id before answering.")
	assert.Contains(t, prompt, "scn-order-status")
	assert.Contains(t, prompt, "Collect order id")
	assert.Contains(t, prompt, "Customer previously asked about shipping delays.")
	assert.Contains(t, prompt, "order-lookup")
	assert.Contains(t, prompt, "We're checking that now.")
	assert.Contains(t, prompt, "Where is my order?")
}

func TestBuildPromptReportsFailedToolResultWithoutOutput(t *testing.T) {
	in := Input{ToolResults: []toolexec.Result{{ToolID: "order-lookup", Success: false, Error: "timeout"}}}
	prompt := buildPrompt(in, map[string]any{}, Config{})
	assert.Contains(t, prompt, "order-lookup: failed (timeout)")
}

func TestBuildPromptTruncatesToolResultTextPastMaxChars(t *testing.T) {
	in := Input{ToolResults: []toolexec.Result{{ToolID: "t1", Success: true, Output: map[string]any{"blob": strings.Repeat("x", 50)}}}}
	prompt := buildPrompt(in, map[string]any{}, Config{MaxToolResultChars: 10})
	assert.Contains(t, prompt, "…")
}

func TestBuildPromptLimitsMemoryItemsToMaxMemoryItems(t *testing.T) {
	in := Input{MemoryEpisodes: []store.Episode{
		{Text: "first"}, {Text: "second"}, {Text: "third"},
	}}
	prompt := buildPrompt(in, map[string]any{}, Config{MaxMemoryItems: 1})
	assert.Contains(t, prompt, "first")
	assert.NotContains(t, prompt, "second")
	assert.NotContains(t, prompt, "third")
}

func TestSystemPreambleDefaultsWhenNotConfigured(t *testing.T) {
	assert.Contains(t, systemPreamble(Config{}), "behavioral rules")
	assert.Equal(t, "custom preamble", systemPreamble(Config{SystemPreamble: "custom preamble"}))
}
