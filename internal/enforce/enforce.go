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

// Package enforce validates a candidate response against hard
// constraints post-generation (spec §4.10): a deterministic
// internal/exprlang lane, an LLM-judge lane for constraints without an
// expression, optional global relevance/grounding checks, and a bounded
// remediation loop that falls back to a FALLBACK template before
// surfacing a terminal RULE_VIOLATION.
package enforce

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/exprlang"
	"github.com/latchframe/alignment-engine/internal/generation"
	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
	"github.com/latchframe/alignment-engine/internal/vectorutil"
)

// Config controls which lanes and global checks run (spec §6.3
// "enforcement").
type Config struct {
	Enabled                bool
	MaxRetries             int
	DeterministicEnabled   bool
	LLMJudgeEnabled        bool
	AlwaysEnforceGlobal    bool
	RelevanceCheckEnabled  bool
	RelevanceThreshold     float64
	RelevanceRefusalBypass bool
	GroundingCheckEnabled  bool
	GroundingThreshold     float64
}

// Violation is one failed constraint or global check.
type Violation struct {
	RuleID string
	Reason string
	Lane   string // "deterministic" | "judge" | "relevance" | "grounding"
}

// Result is the enforcer's verdict on a turn, after any remediation.
type Result struct {
	Text         string
	Violations   []Violation
	Attempts     int
	FallbackUsed bool
	TemplateUsed string
}

// Regenerate is implemented by the caller (the pipeline, via
// internal/generation) to produce a new candidate response augmented
// with hints about which constraints were violated. Spec §9 leaves
// open whether regeneration re-runs retrieval/filtering; this package
// assumes it only re-prompts the generator.
type Regenerate func(ctx context.Context, violated []Violation) (string, error)

// Enforcer runs the two enforcement lanes and optional global checks.
type Enforcer struct {
	llm      provider.LLMProvider
	embedder provider.EmbeddingProvider
	cfg      Config
}

func New(llm provider.LLMProvider, embedder provider.EmbeddingProvider, cfg Config) *Enforcer {
	return &Enforcer{llm: llm, embedder: embedder, cfg: cfg}
}

// Input bundles one turn's enforcement-relevant state.
type Input struct {
	UserMessage       string
	CandidateResponse string
	Rules             []*model.Rule // spec §4.10 "rule set to enforce", already combined via RulesToEnforce
	Templates         map[string]*model.Template
	ProfileVars       map[string]any
	SessionVars       map[string]any
	RetrievedContext  []string // text of retrieved rules/scenario/memory, for grounding
}

// RulesToEnforce implements spec §4.10's "rule set to enforce": every
// matched hard-constraint rule, plus every GLOBAL hard-constraint rule
// that was not in the matched set (always-on guardrails).
func RulesToEnforce(matched []*model.Rule, allGlobalRules []*model.Rule) []*model.Rule {
	seen := make(map[string]bool, len(matched))
	out := make([]*model.Rule, 0, len(matched))
	for _, r := range matched {
		if r.IsHardConstraint {
			out = append(out, r)
			seen[r.ID] = true
		}
	}
	for _, r := range allGlobalRules {
		if r.Scope == model.ScopeGlobal && r.IsHardConstraint && !seen[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// Enforce evaluates in.CandidateResponse, regenerating up to
// cfg.MaxRetries times via regen on violation, falling back to a
// FALLBACK template if retries are exhausted, or returning a
// RULE_VIOLATION error if no fallback applies (spec §4.10).
func (e *Enforcer) Enforce(ctx context.Context, in Input, regen Regenerate) (Result, error) {
	if !e.cfg.Enabled {
		return Result{Text: in.CandidateResponse}, nil
	}

	text := in.CandidateResponse
	var violations []Violation
	attempts := 0

	for {
		v, err := e.Evaluate(ctx, in.UserMessage, text, in.Rules, in.ProfileVars, in.SessionVars, in.RetrievedContext)
		if err != nil {
			return Result{}, err
		}
		violations = v
		if len(violations) == 0 {
			return Result{Text: text, Attempts: attempts}, nil
		}
		if attempts >= e.cfg.MaxRetries {
			break
		}
		attempts++
		newText, err := regen(ctx, violations)
		if err != nil {
			return Result{}, errs.Wrap(errs.LLMUnavailable, "enforcement remediation regeneration", err)
		}
		text = newText
	}

	if tmpl, ok := findFallback(in.Rules, in.Templates, violations); ok {
		merged := generation.MergeVars(in.ProfileVars, in.SessionVars, nil)
		rendered, _ := generation.RenderTemplate(tmpl.Text, merged)
		return Result{
			Text:         rendered,
			Violations:   violations,
			Attempts:     attempts,
			FallbackUsed: true,
			TemplateUsed: tmpl.ID,
		}, nil
	}

	return Result{}, errs.New(errs.RuleViolation, fmt.Sprintf("%d hard constraint(s) violated with no fallback available", len(violations)))
}

// Evaluate runs lane 1 (deterministic), lane 2 (LLM judge), and any
// enabled global checks against one candidate response, without
// mutating Enforcer state.
func (e *Enforcer) Evaluate(
	ctx context.Context,
	userMessage, candidateResponse string,
	rules []*model.Rule,
	profileVars, sessionVars map[string]any,
	retrievedContext []string,
) ([]Violation, error) {
	env := mergeEnvironment(profileVars, sessionVars, extractResponseVars(candidateResponse))

	var violations []Violation
	for _, rule := range rules {
		if rule.EnforcementExpression != "" {
			if !e.cfg.DeterministicEnabled {
				continue
			}
			ok, err := exprlang.EvalExpr(rule.EnforcementExpression, exprlang.Env(env))
			if err != nil {
				violations = append(violations, Violation{RuleID: rule.ID, Reason: "expression error: " + err.Error(), Lane: "deterministic"})
				continue
			}
			if !ok {
				violations = append(violations, Violation{RuleID: rule.ID, Reason: "deterministic constraint failed: " + rule.ActionText, Lane: "deterministic"})
			}
			continue
		}

		if !e.cfg.LLMJudgeEnabled || e.llm == nil {
			continue
		}
		pass, reason, err := e.judge(ctx, rule, candidateResponse)
		if err != nil {
			return nil, err
		}
		if !pass {
			violations = append(violations, Violation{RuleID: rule.ID, Reason: reason, Lane: "judge"})
		}
	}

	if e.cfg.RelevanceCheckEnabled && e.embedder != nil {
		if v, err := e.checkRelevance(ctx, userMessage, candidateResponse); err != nil {
			return nil, err
		} else if v != nil {
			violations = append(violations, *v)
		}
	}
	if e.cfg.GroundingCheckEnabled && e.embedder != nil && len(retrievedContext) > 0 {
		if v, err := e.checkGrounding(ctx, candidateResponse, retrievedContext); err != nil {
			return nil, err
		} else if v != nil {
			violations = append(violations, *v)
		}
	}
	return violations, nil
}

// judge prompts an LLM judge for a hard-constraint rule with no
// enforcement_expression: PASS or FAIL: reason, temperature 0.
func (e *Enforcer) judge(ctx context.Context, rule *model.Rule, candidateResponse string) (pass bool, reason string, err error) {
	resp, err := e.llm.Chat(ctx, provider.ChatRequest{
		Messages: []provider.ChatMessage{
			{Role: "system", Content: `You judge whether a response complies with a rule. Reply with exactly "PASS" or "FAIL: <reason>".`},
			{Role: "user", Content: fmt.Sprintf("Rule: %s\nResponse: %q", rule.ActionText, candidateResponse)},
		},
		Config: provider.GenerateConfig{Temperature: 0},
	})
	if err != nil {
		return false, "", errs.Wrap(errs.LLMUnavailable, "enforcement judge call", err)
	}

	verdict := strings.TrimSpace(resp.Text)
	if strings.HasPrefix(strings.ToUpper(verdict), "PASS") {
		return true, "", nil
	}
	reason = strings.TrimSpace(strings.TrimPrefix(verdict, "FAIL:"))
	if reason == "" {
		reason = "judge rejected response"
	}
	return false, reason, nil
}

// checkRelevance compares the response to the user message by
// embedding cosine similarity, bypassing refusal phrases ("I don't
// know" must not fail relevance).
func (e *Enforcer) checkRelevance(ctx context.Context, userMessage, candidateResponse string) (*Violation, error) {
	if e.cfg.RelevanceRefusalBypass && isRefusal(candidateResponse) {
		return nil, nil
	}
	vecs, err := e.embedder.EmbedBatch(ctx, []string{userMessage, candidateResponse})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "relevance check embedding", err)
	}
	score := vectorutil.Cosine(vecs[0], vecs[1])
	if score < e.cfg.RelevanceThreshold {
		return &Violation{Reason: fmt.Sprintf("response relevance %.2f below threshold %.2f", score, e.cfg.RelevanceThreshold), Lane: "relevance"}, nil
	}
	return nil, nil
}

// checkGrounding compares the response to the retrieved context it was
// generated from, failing when similarity falls below threshold
// (a cosine-similarity proxy for entailment/neutral/contradiction).
func (e *Enforcer) checkGrounding(ctx context.Context, candidateResponse string, retrievedContext []string) (*Violation, error) {
	contextVec, err := e.embedder.Embed(ctx, strings.Join(retrievedContext, "\n"))
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "grounding check embedding", err)
	}
	responseVec, err := e.embedder.Embed(ctx, candidateResponse)
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "grounding check embedding", err)
	}
	score := vectorutil.Cosine(contextVec, responseVec)
	if score < e.cfg.GroundingThreshold {
		return &Violation{Reason: fmt.Sprintf("response grounding %.2f below threshold %.2f", score, e.cfg.GroundingThreshold), Lane: "grounding"}, nil
	}
	return nil, nil
}

var refusalPhrases = []string{"i don't know", "i do not know", "i'm not sure", "i am not sure", "i can't help with that", "i cannot help with that"}

func isRefusal(response string) bool {
	lower := strings.ToLower(response)
	for _, p := range refusalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var (
	amountPattern  = regexp.MustCompile(`\$\s?(\d+(?:\.\d+)?)`)
	percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s?%`)
)

// extractResponseVars pulls numeric amounts and percentages out of a
// candidate response text (spec §4.10: "numeric amounts, percentages,
// named flags"). Complex predicates needing LLM extraction are left to
// the caller to fold into sessionVars before calling Evaluate.
func extractResponseVars(response string) map[string]any {
	vars := make(map[string]any)
	if m := amountPattern.FindStringSubmatch(response); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			vars["amount"] = v
		}
	}
	if m := percentPattern.FindStringSubmatch(response); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			vars["percentage"] = v
		}
	}
	lower := strings.ToLower(response)
	vars["contains_competitor_mention"] = containsAny(lower, competitorMentionMarkers)
	return vars
}

// competitorMentionMarkers is a deliberately small, operator-extendable
// seed list; real deployments should source this from agent
// configuration rather than a hardcoded marker set.
var competitorMentionMarkers = []string{"acmerival", "competitor"}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// mergeEnvironment builds the exprlang variable environment in
// priority order (later overrides earlier): profile → session →
// response-extracted (spec §4.10).
func mergeEnvironment(profileVars, sessionVars, responseVars map[string]any) map[string]any {
	out := make(map[string]any, len(profileVars)+len(sessionVars)+len(responseVars))
	for k, v := range profileVars {
		out[k] = v
	}
	for k, v := range sessionVars {
		out[k] = v
	}
	for k, v := range responseVars {
		out[k] = v
	}
	return out
}

// findFallback looks for a FALLBACK template referenced by one of the
// violated rules, in violation order.
func findFallback(rules []*model.Rule, templates map[string]*model.Template, violations []Violation) (*model.Template, bool) {
	byID := make(map[string]*model.Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}
	for _, v := range violations {
		rule, ok := byID[v.RuleID]
		if !ok || rule.TemplateRefID == "" {
			continue
		}
		tmpl, ok := templates[rule.TemplateRefID]
		if !ok || tmpl.Mode != model.TemplateFallback {
			continue
		}
		return tmpl, true
	}
	return nil, false
}
