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

// Package rulefilter asks an LLM judge, batched in groups, whether each
// retrieved rule candidate actually applies to the current turn (spec
// §4.5). It is biased toward false negatives: an unmatched GLOBAL hard
// constraint is still enforced later by internal/enforce, so this stage
// only needs to narrow the rules injected into generation.
package rulefilter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
)

// Config controls batch size and the inclusion gate (spec §6.3
// "rule_filter").
type Config struct {
	Enabled            bool
	BatchSize          int // default 5
	RelevanceThreshold float64
	MaxRules           int
}

// Filter is the rule-filter stage: stateless beyond its LLM client.
type Filter struct {
	llm provider.LLMProvider
	cfg Config
}

func New(llm provider.LLMProvider, cfg Config) *Filter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Filter{llm: llm, cfg: cfg}
}

// Result is the filter's output: the matched subset plus the coarse
// scenario-signal hint the spec allows it to emit alongside matches.
type Result struct {
	Matched        []model.MatchedRule
	ScenarioSignal model.ScenarioSignal
}

type judgeDecision struct {
	RuleID         string  `json:"rule_id"`
	Applies        bool    `json:"applies"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
	ScenarioSignal string  `json:"scenario_signal,omitempty"`
}

type judgeResponse struct {
	Decisions []judgeDecision `json:"decisions"`
}

// Filter judges every candidate rule against the message/context,
// batching BatchSize rules per LLM call to bound prompt size. If
// disabled, it returns every candidate as matched at confidence 1.0
// (the enforcer's global-hard-constraint pass does not depend on this
// stage, so disabling it only widens what gets injected into
// generation).
func (f *Filter) Filter(ctx context.Context, userMessage string, ctxSnapshot *model.Context, candidates []*model.Rule) (Result, error) {
	if !f.cfg.Enabled {
		matched := make([]model.MatchedRule, len(candidates))
		for i, rule := range candidates {
			matched[i] = model.MatchedRule{RuleID: rule.ID, Confidence: 1.0, Reasoning: "rule filter disabled"}
		}
		return Result{Matched: matched}, nil
	}

	var result Result
	for start := 0; start < len(candidates); start += f.cfg.BatchSize {
		end := start + f.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		decisions, signal, err := f.judgeBatch(ctx, userMessage, ctxSnapshot, batch)
		if err != nil {
			return Result{}, err
		}
		if signal != "" && result.ScenarioSignal == "" {
			result.ScenarioSignal = signal
		}
		for _, d := range decisions {
			if !d.Applies || d.Confidence < f.cfg.RelevanceThreshold {
				continue
			}
			result.Matched = append(result.Matched, model.MatchedRule{
				RuleID:     d.RuleID,
				Confidence: d.Confidence,
				Reasoning:  d.Reasoning,
			})
		}
	}

	if f.cfg.MaxRules > 0 && len(result.Matched) > f.cfg.MaxRules {
		result.Matched = result.Matched[:f.cfg.MaxRules]
	}
	return result, nil
}

func (f *Filter) judgeBatch(ctx context.Context, userMessage string, ctxSnapshot *model.Context, batch []*model.Rule) ([]judgeDecision, model.ScenarioSignal, error) {
	prompt := buildBatchPrompt(userMessage, ctxSnapshot, batch)
	resp, err := f.llm.Chat(ctx, provider.ChatRequest{
		Messages: []provider.ChatMessage{
			{Role: "system", Content: "You judge whether behavioral rules apply to a conversation turn. Leave a rule out when in doubt. Reply with JSON only."},
			{Role: "user", Content: prompt},
		},
		Config: provider.GenerateConfig{Temperature: 0, ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, "", errs.Wrap(errs.LLMUnavailable, "rule filter judge call", err)
	}

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &parsed); err != nil {
		return nil, "", errs.Wrap(errs.Internal, "parse rule filter judge response", err)
	}
	var signal model.ScenarioSignal
	for _, d := range parsed.Decisions {
		if d.ScenarioSignal == string(model.SignalStart) || d.ScenarioSignal == string(model.SignalExit) {
			signal = model.ScenarioSignal(d.ScenarioSignal)
		}
	}
	return parsed.Decisions, signal, nil
}

func buildBatchPrompt(userMessage string, ctxSnapshot *model.Context, batch []*model.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User message: %q\n", userMessage)
	if ctxSnapshot != nil {
		fmt.Fprintf(&b, "Intent: %s (confidence %.2f)\n", ctxSnapshot.IntentLabel, ctxSnapshot.Confidence)
	}
	b.WriteString("Candidate rules:\n")
	for _, rule := range batch {
		fmt.Fprintf(&b, "- id=%s condition=%q\n", rule.ID, rule.ConditionText)
	}
	b.WriteString(`Reply as JSON: {"decisions":[{"rule_id":"...","applies":bool,"confidence":0..1,"reasoning":"...","scenario_signal":"START|EXIT|"}]}`)
	return b.String()
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
