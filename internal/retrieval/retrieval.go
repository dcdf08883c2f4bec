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

// Package retrieval implements the pipeline's scoped rule/scenario/
// memory retrieval stage (spec §4.3): embedding similarity fused with a
// keyword-overlap text score, narrowed by scope and business filters,
// then cut to size by a selection.Strategy. The keyword scorer is
// adapted from the teacher's pkg/memory/index_keyword.go tokenize/
// calculateScore pair, generalized from session-transcript search to
// rule/episode text.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/selection"
	"github.com/latchframe/alignment-engine/internal/store"
	"github.com/latchframe/alignment-engine/internal/vectorutil"
)

// Config bundles the per-target selection strategy, floor score, and
// keyword/embedding fusion weight (spec §6.3 "retrieval").
type Config struct {
	RuleStrategy     selection.Strategy
	RuleMinScore     float64
	ScenarioStrategy selection.Strategy
	ScenarioMinScore float64
	MemoryStrategy   selection.Strategy
	MemoryMinScore   float64
	// FetchLimit bounds how many candidates are pulled from a store
	// before selection trims further; selection strategies never see
	// an unbounded candidate set.
	FetchLimit int
	// BM25Weight blends a normalized keyword-overlap score into the
	// embedding cosine score: final = (1-w)*cosine + w*keyword. 0
	// disables the text signal entirely.
	BM25Weight float64
}

// Retriever is the stateless retrieval stage: it holds no per-turn
// state, only the stores and config it was constructed with.
type Retriever struct {
	configStore store.ConfigStore
	memoryStore store.MemoryStore
	cfg         Config
}

func New(configStore store.ConfigStore, memoryStore store.MemoryStore, cfg Config) *Retriever {
	return &Retriever{configStore: configStore, memoryStore: memoryStore, cfg: cfg}
}

// RuleQuery carries everything the rule-retrieval business filters need
// beyond the raw candidate list.
type RuleQuery struct {
	TenantID         string
	AgentID          string
	QueryText        string
	QueryEmbedding   []float32
	ActiveScenarioID string
	ActiveStepID     string
	RuleFires        map[string]int
	RuleLastFireTurn map[string]int
	CurrentTurn      int
}

// RetrieveRules fetches GLOBAL rules (always), SCENARIO rules (if
// ActiveScenarioID is set), and STEP rules (if ActiveStepID is set),
// fuses embedding and keyword scores, applies the enabled/max-fires/
// cooldown business filters, and cuts the merged, descending-sorted
// result with the configured RuleStrategy (spec §4.3).
func (r *Retriever) RetrieveRules(ctx context.Context, q RuleQuery) ([]store.RuleSearchResult, error) {
	scopes := []store.ScopeFilter{{Scope: model.ScopeGlobal}}
	if q.ActiveScenarioID != "" {
		scopes = append(scopes, store.ScopeFilter{Scope: model.ScopeScenario, ScopeID: q.ActiveScenarioID})
	}
	if q.ActiveStepID != "" {
		scopes = append(scopes, store.ScopeFilter{Scope: model.ScopeStep, ScopeID: q.ActiveStepID})
	}

	limit := r.cfg.FetchLimit
	if limit <= 0 {
		limit = 50
	}

	merged := make(map[string]store.RuleSearchResult)
	queryWords := tokenize(q.QueryText)

	for _, scope := range scopes {
		vecResults, err := r.configStore.VectorSearchRules(ctx, q.TenantID, q.AgentID, q.QueryEmbedding, scope.Scope, scope.ScopeID, limit, 0)
		if err != nil {
			return nil, err
		}
		for _, v := range vecResults {
			merged[v.Rule.ID] = v
		}

		if r.cfg.BM25Weight > 0 {
			candidates, err := r.configStore.ListRules(ctx, q.TenantID, q.AgentID, scope.Scope, scope.ScopeID)
			if err != nil {
				return nil, err
			}
			for _, rule := range candidates {
				kw := keywordScore(queryWords, tokenize(rule.ConditionText+" "+rule.ActionText))
				existing, ok := merged[rule.ID]
				switch {
				case !ok:
					merged[rule.ID] = store.RuleSearchResult{Rule: rule, Score: r.cfg.BM25Weight * kw}
				default:
					existing.Score = (1-r.cfg.BM25Weight)*existing.Score + r.cfg.BM25Weight*kw
					merged[rule.ID] = existing
				}
			}
		}
	}

	filtered := make([]store.RuleSearchResult, 0, len(merged))
	for _, res := range merged {
		if ruleEligible(res.Rule, q.RuleFires, q.RuleLastFireTurn, q.CurrentTurn) {
			filtered = append(filtered, res)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })

	strategy := r.cfg.RuleStrategy
	if strategy == nil {
		strategy = selection.FixedK{K: len(filtered), MinScore: r.cfg.RuleMinScore}
	}
	kept, _ := strategy.Select(toScored(filtered, func(i int) string { return filtered[i].Rule.ID }))
	return pickRuleResults(filtered, kept), nil
}

// ruleEligible applies the business filters from spec §4.3 and §8's
// rule-retrieval invariant: enabled, not soft-deleted, fire-count and
// cooldown respected. Soft-delete is enforced by the store itself.
func ruleEligible(rule *model.Rule, fires map[string]int, lastFire map[string]int, currentTurn int) bool {
	if !rule.Enabled {
		return false
	}
	if rule.MaxFiresPerSession > 0 && fires[rule.ID] >= rule.MaxFiresPerSession {
		return false
	}
	if rule.CooldownTurns > 0 {
		if last, ok := lastFire[rule.ID]; ok && currentTurn-last < rule.CooldownTurns {
			return false
		}
	}
	return true
}

// RetrieveScenarioEntry scores scenario entry candidates by cosine
// similarity against entry/entry-example embeddings, used when no
// scenario is currently active (spec §4.3 "Scenario retrieval").
func (r *Retriever) RetrieveScenarioEntry(ctx context.Context, tenantID, agentID string, queryEmbedding []float32) ([]store.ScenarioSearchResult, error) {
	limit := r.cfg.FetchLimit
	if limit <= 0 {
		limit = 20
	}
	results, err := r.configStore.VectorSearchScenarios(ctx, tenantID, agentID, queryEmbedding, limit, 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	strategy := r.cfg.ScenarioStrategy
	if strategy == nil {
		strategy = selection.FixedK{K: len(results), MinScore: r.cfg.ScenarioMinScore}
	}
	scored := make([]selection.Scored, len(results))
	for i, res := range results {
		scored[i] = selection.Scored{ID: res.Scenario.ID, Score: res.Score}
	}
	kept, _ := strategy.Select(scored)
	out := make([]store.ScenarioSearchResult, 0, len(kept))
	for _, k := range kept {
		for _, res := range results {
			if res.Scenario.ID == k.ID {
				out = append(out, res)
				break
			}
		}
	}
	return out, nil
}

// RetrieveMemory searches episodes by vector similarity within
// groupID's memory, falling back to keyword text search if the vector
// search returns nothing (spec §4.3 "Memory retrieval").
func (r *Retriever) RetrieveMemory(ctx context.Context, groupID, queryText string, queryEmbedding []float32) ([]store.Episode, error) {
	limit := r.cfg.FetchLimit
	if limit <= 0 {
		limit = 20
	}
	episodes, err := r.memoryStore.SearchEpisodesVector(ctx, groupID, queryEmbedding, limit, r.cfg.MemoryMinScore)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 && queryText != "" {
		episodes, err = r.memoryStore.SearchEpisodesText(ctx, groupID, queryText, limit)
		if err != nil {
			return nil, err
		}
	}

	strategy := r.cfg.MemoryStrategy
	if strategy == nil {
		strategy = selection.FixedK{K: len(episodes), MinScore: r.cfg.MemoryMinScore}
	}
	scored := make([]selection.Scored, len(episodes))
	for i, ep := range episodes {
		scored[i] = selection.Scored{ID: ep.ID, Score: vectorutil.Cosine(ep.Embedding, queryEmbedding)}
	}
	selection.SortDescending(scored)
	kept, _ := strategy.Select(scored)
	out := make([]store.Episode, 0, len(kept))
	for _, k := range kept {
		for _, ep := range episodes {
			if ep.ID == k.ID {
				out = append(out, ep)
				break
			}
		}
	}
	return out, nil
}

func toScored(results []store.RuleSearchResult, idOf func(i int) string) []selection.Scored {
	out := make([]selection.Scored, len(results))
	for i, res := range results {
		out[i] = selection.Scored{ID: idOf(i), Score: res.Score}
	}
	return out
}

func pickRuleResults(all []store.RuleSearchResult, kept []selection.Scored) []store.RuleSearchResult {
	byID := make(map[string]store.RuleSearchResult, len(all))
	for _, res := range all {
		byID[res.Rule.ID] = res
	}
	out := make([]store.RuleSearchResult, 0, len(kept))
	for _, k := range kept {
		if res, ok := byID[k.ID]; ok {
			out = append(out, res)
		}
	}
	return out
}

// tokenize lowercases and strips punctuation, grounded on
// pkg/memory/index_keyword.go's tokenize.
func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) > 2 {
			words[word] = struct{}{}
		}
	}
	return words
}

// keywordScore returns the fraction of query words present in doc,
// normalized to [0,1] unlike the teacher's raw match count.
func keywordScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	var hits float64
	for word := range query {
		if _, ok := doc[word]; ok {
			hits++
		}
	}
	return hits / float64(len(query))
}
