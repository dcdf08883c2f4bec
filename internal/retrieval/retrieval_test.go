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

package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/selection"
	"github.com/latchframe/alignment-engine/internal/store"
)

func TestTokenizeLowercasesStripsPunctuationAndDropsShortWords(t *testing.T) {
	words := tokenize("Refund, please! Is it ok?")
	assert.Contains(t, words, "refund")
	assert.Contains(t, words, "please")
	assert.NotContains(t, words, "is", "words of length <= 2 are dropped")
	assert.NotContains(t, words, "ok", "words of length <= 2 are dropped")
}

func TestKeywordScoreIsFractionOfQueryWordsFound(t *testing.T) {
	query := tokenize("refund policy question")
	doc := tokenize("refund policy explain")
	assert.InDelta(t, 2.0/3.0, keywordScore(query, doc), 1e-9)
}

func TestKeywordScoreEmptyQueryIsZero(t *testing.T) {
	assert.Equal(t, 0.0, keywordScore(map[string]struct{}{}, tokenize("anything")))
}

func TestRetrieveRulesFusesCosineAndKeywordScoreWithinScope(t *testing.T) {
	cfgStore := store.NewInMemoryConfigStore()
	require.NoError(t, cfgStore.UpsertRule(context.Background(), &model.Rule{
		AgentHeader:        model.AgentHeader{TenantHeader: model.TenantHeader{TenantID: "t1"}, AgentID: "a1"},
		ID:                 "r-match", Scope: model.ScopeGlobal, Enabled: true,
		ConditionEmbedding: []float32{1, 0}, ConditionText: "refund policy", ActionText: "explain refund",
	}))
	require.NoError(t, cfgStore.UpsertRule(context.Background(), &model.Rule{
		AgentHeader:        model.AgentHeader{TenantHeader: model.TenantHeader{TenantID: "t1"}, AgentID: "a1"},
		ID:                 "r-off-topic", Scope: model.ScopeGlobal, Enabled: true,
		ConditionEmbedding: []float32{0, 1}, ConditionText: "shipping cost", ActionText: "explain shipping",
	}))

	r := New(cfgStore, store.NewInMemoryMemoryStore(), Config{BM25Weight: 0.5})
	got, err := r.RetrieveRules(context.Background(), RuleQuery{
		TenantID: "t1", AgentID: "a1",
		QueryText: "refund policy question", QueryEmbedding: []float32{1, 0},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r-match", got[0].Rule.ID, "the fused cosine+keyword score ranks the relevant rule first")
	assert.Equal(t, "r-off-topic", got[1].Rule.ID)
	assert.InDelta(t, 0.8333, got[0].Score, 1e-3)
	assert.InDelta(t, 0.0, got[1].Score, 1e-9)
}

func TestRetrieveRulesFiltersIneligibleByMaxFiresAndCooldown(t *testing.T) {
	cfgStore := store.NewInMemoryConfigStore()
	mk := func(id string, maxFires, cooldown int) *model.Rule {
		return &model.Rule{
			AgentHeader:        model.AgentHeader{TenantHeader: model.TenantHeader{TenantID: "t1"}, AgentID: "a1"},
			ID:                 id, Scope: model.ScopeGlobal, Enabled: true,
			ConditionEmbedding: []float32{1, 0}, MaxFiresPerSession: maxFires, CooldownTurns: cooldown,
		}
	}
	require.NoError(t, cfgStore.UpsertRule(context.Background(), mk("r-used-up", 1, 0)))
	require.NoError(t, cfgStore.UpsertRule(context.Background(), mk("r-cooldown", 0, 3)))
	require.NoError(t, cfgStore.UpsertRule(context.Background(), mk("r-ok", 0, 0)))

	r := New(cfgStore, store.NewInMemoryMemoryStore(), Config{})
	got, err := r.RetrieveRules(context.Background(), RuleQuery{
		TenantID: "t1", AgentID: "a1", QueryEmbedding: []float32{1, 0},
		RuleFires:        map[string]int{"r-used-up": 1},
		RuleLastFireTurn: map[string]int{"r-cooldown": 8},
		CurrentTurn:      9,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r-ok", got[0].Rule.ID)
}

func TestRetrieveRulesIncludesScenarioAndStepScopesWhenActive(t *testing.T) {
	cfgStore := store.NewInMemoryConfigStore()
	require.NoError(t, cfgStore.UpsertRule(context.Background(), &model.Rule{
		AgentHeader:        model.AgentHeader{TenantHeader: model.TenantHeader{TenantID: "t1"}, AgentID: "a1"},
		ID:                 "r-step", Scope: model.ScopeStep, ScopeID: "step-1", Enabled: true, ConditionEmbedding: []float32{1, 0},
	}))
	require.NoError(t, cfgStore.UpsertRule(context.Background(), &model.Rule{
		AgentHeader:        model.AgentHeader{TenantHeader: model.TenantHeader{TenantID: "t1"}, AgentID: "a1"},
		ID:                 "r-other-step", Scope: model.ScopeStep, ScopeID: "step-2", Enabled: true, ConditionEmbedding: []float32{1, 0},
	}))

	r := New(cfgStore, store.NewInMemoryMemoryStore(), Config{})
	got, err := r.RetrieveRules(context.Background(), RuleQuery{
		TenantID: "t1", AgentID: "a1", QueryEmbedding: []float32{1, 0}, ActiveStepID: "step-1",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r-step", got[0].Rule.ID, "only the active step's scoped rules are fetched")
}

func TestRetrieveScenarioEntryAppliesMinScoreAndRanksByCosine(t *testing.T) {
	cfgStore := store.NewInMemoryConfigStore()
	near := &model.Scenario{
		AgentHeader: model.AgentHeader{TenantHeader: model.TenantHeader{TenantID: "t1"}, AgentID: "a1"},
		ID:          "scn-near", EntryStepID: "start", EntryEmbedding: []float32{1, 0},
		Steps: []*model.ScenarioStep{{ID: "start"}},
	}
	far := &model.Scenario{
		AgentHeader: model.AgentHeader{TenantHeader: model.TenantHeader{TenantID: "t1"}, AgentID: "a1"},
		ID:          "scn-far", EntryStepID: "start", EntryEmbedding: []float32{0, 1},
		Steps: []*model.ScenarioStep{{ID: "start"}},
	}
	require.NoError(t, cfgStore.UpsertScenario(context.Background(), near))
	require.NoError(t, cfgStore.UpsertScenario(context.Background(), far))

	r := New(cfgStore, store.NewInMemoryMemoryStore(), Config{ScenarioMinScore: 0.5})
	got, err := r.RetrieveScenarioEntry(context.Background(), "t1", "a1", []float32{1, 0})
	require.NoError(t, err)
	require.Len(t, got, 1, "the orthogonal scenario falls below the 0.5 min score")
	assert.Equal(t, "scn-near", got[0].Scenario.ID)
}

func TestRetrieveMemoryReturnsVectorMatchesWithoutFallback(t *testing.T) {
	memStore := store.NewInMemoryMemoryStore()
	require.NoError(t, memStore.AddEpisode(context.Background(), store.Episode{ID: "ep-1", GroupID: "g1", Embedding: []float32{1, 0}, Text: "refund policy"}))

	r := New(store.NewInMemoryConfigStore(), memStore, Config{})
	got, err := r.RetrieveMemory(context.Background(), "g1", "refund", []float32{1, 0})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ep-1", got[0].ID)
}

func TestRetrieveMemoryFallsBackToTextSearchWhenVectorSearchIsEmpty(t *testing.T) {
	memStore := store.NewInMemoryMemoryStore()
	require.NoError(t, memStore.AddEpisode(context.Background(), store.Episode{
		ID: "ep-1", GroupID: "g1", Embedding: []float32{0, 1}, Text: "Refund policy explanation",
	}))

	r := New(store.NewInMemoryConfigStore(), memStore, Config{
		MemoryMinScore: 0.9,                          // gates the vector search call so the orthogonal episode is excluded
		MemoryStrategy: selection.FixedK{K: 10},       // explicit strategy with no MinScore, so the text-fallback hit isn't re-filtered
	})
	got, err := r.RetrieveMemory(context.Background(), "g1", "refund", []float32{1, 0})
	require.NoError(t, err)
	require.Len(t, got, 1, "the vector search finds nothing above 0.9, so the text fallback is used")
	assert.Equal(t, "ep-1", got[0].ID)
}

func TestRetrieveMemoryNoTextFallbackWhenQueryTextEmpty(t *testing.T) {
	memStore := store.NewInMemoryMemoryStore()
	require.NoError(t, memStore.AddEpisode(context.Background(), store.Episode{ID: "ep-1", GroupID: "g1", Embedding: []float32{0, 1}, Text: "refund"}))

	r := New(store.NewInMemoryConfigStore(), memStore, Config{MemoryMinScore: 0.9})
	got, err := r.RetrieveMemory(context.Background(), "g1", "", []float32{1, 0})
	require.NoError(t, err)
	assert.Empty(t, got, "with no query text, an empty vector result stays empty instead of falling back")
}
