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

// Package rerank wraps a provider.RerankProvider with the bypass-on-
// disable/bypass-on-failure contract from spec §4.4: given (query,
// candidates) it calls the provider and truncates to top_k, or returns
// the input unchanged if disabled or the provider errors. Grounded on
// pkg/context/reranking/reranker.go's score-replacement semantics
// (post-rerank scores are rank positions, not similarity) and its
// truncate-then-call shape.
package rerank

import (
	"context"
	"log/slog"
	"sort"

	"github.com/latchframe/alignment-engine/internal/provider"
)

// Item is one candidate the caller wants reordered; ID must be stable
// across the call so the result can be mapped back to caller data.
type Item struct {
	ID    string
	Text  string
	Score float64
}

// Config controls whether reranking runs and how much it keeps.
type Config struct {
	Enabled bool
	TopK    int
	// MaxCandidates bounds how many items are sent to the provider, for
	// latency/cost (pkg/context/reranking's documented max_results).
	MaxCandidates int
}

// Reranker reorders candidates via a RerankProvider, or passes them
// through unchanged.
type Reranker struct {
	provider provider.RerankProvider
	cfg      Config
}

func New(p provider.RerankProvider, cfg Config) *Reranker {
	return &Reranker{provider: p, cfg: cfg}
}

// Rerank reorders items by provider-assigned rank score and truncates
// to TopK. Bypasses (returns items unchanged, truncated only to TopK by
// original order) when disabled, when there is nothing to rerank, or
// when the provider call fails — a rerank failure must never abort the
// turn (spec §7 "recoverable failures within a stage... bypassed").
func (r *Reranker) Rerank(ctx context.Context, query string, items []Item) []Item {
	if !r.cfg.Enabled || len(items) == 0 || r.provider == nil {
		return truncate(items, r.cfg.TopK)
	}

	candidates := items
	if r.cfg.MaxCandidates > 0 && len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}

	providerCandidates := make([]provider.RerankCandidate, len(candidates))
	for i, it := range candidates {
		providerCandidates[i] = provider.RerankCandidate{ID: it.ID, Text: it.Text}
	}

	results, err := r.provider.Rerank(ctx, query, providerCandidates)
	if err != nil {
		slog.Warn("rerank provider failed, bypassing stage", "error", err)
		return truncate(items, r.cfg.TopK)
	}

	byID := make(map[string]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	reordered := make([]Item, 0, len(results))
	for _, res := range results {
		if it, ok := byID[res.ID]; ok {
			it.Score = res.Score
			reordered = append(reordered, it)
		}
	}
	sort.SliceStable(reordered, func(i, j int) bool { return reordered[i].Score > reordered[j].Score })
	return truncate(reordered, r.cfg.TopK)
}

func truncate(items []Item, topK int) []Item {
	if topK <= 0 || topK >= len(items) {
		return items
	}
	return items[:topK]
}
