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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/latchframe/alignment-engine/internal/errs"
)

// LLMRerankProvider reorders candidates by asking an LLMProvider to rank
// them by relevance to the query, then maps rank position to a
// decreasing score. Grounded on pkg/context/reranking.Reranker's
// "position 1 = 1.0, decreasing by 0.05, floor 0.1" score semantics.
type LLMRerankProvider struct {
	llm  LLMProvider
	name string
}

func NewLLMRerankProvider(llm LLMProvider) *LLMRerankProvider {
	return &LLMRerankProvider{llm: llm, name: "llm-rerank:" + llm.Name()}
}

func (p *LLMRerankProvider) Name() string { return p.name }

func (p *LLMRerankProvider) Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Rank the following %d candidates by relevance to the query.\n\nQuery: %s\n\n", len(candidates), query)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, c.ID, truncate(c.Text, 500))
	}
	sb.WriteString("\nReturn a JSON array of candidate ids ordered from most to least relevant. Return only the JSON array.")

	resp, err := p.llm.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: "system", Content: "You are a precise relevance ranking assistant. You only output JSON."},
			{Role: "user", Content: sb.String()},
		},
		Config: GenerateConfig{Temperature: 0, ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "rerank chat call failed", err)
	}

	var order []string
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Text)), &order); err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "rerank response was not a JSON id array", err)
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}

	results := make([]RerankResult, 0, len(order))
	seen := make(map[string]bool, len(order))
	score := 1.0
	for _, id := range order {
		if !known[id] || seen[id] {
			continue
		}
		seen[id] = true
		results = append(results, RerankResult{ID: id, Score: score})
		score -= 0.05
		if score < 0.1 {
			score = 0.1
		}
	}
	// Any candidate the model dropped from its ranking still gets a
	// floor score rather than vanishing from the result set.
	for _, c := range candidates {
		if !seen[c.ID] {
			results = append(results, RerankResult{ID: c.ID, Score: 0.1})
		}
	}
	return results, nil
}

func (p *LLMRerankProvider) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return "[]"
	}
	return s[start : end+1]
}

var _ RerankProvider = (*LLMRerankProvider)(nil)
