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

// Package generation renders a turn's response (spec §4.8): an
// EXCLUSIVE template bypasses the LLM outright when every placeholder
// resolves; otherwise a structured prompt is assembled from matched
// rules, scenario state, memory, tool results, and SUGGEST templates
// and handed to the configured LLMProvider.
package generation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
	"github.com/latchframe/alignment-engine/internal/store"
	"github.com/latchframe/alignment-engine/internal/toolexec"
)

// Config drives LLM sampling when the EXCLUSIVE-template bypass does
// not apply (spec §6.3 "generation").
type Config struct {
	Temperature        float64
	MaxTokens           int
	MaxMemoryItems      int
	MaxToolResultChars  int
	SystemPreamble      string
}

// Input bundles everything the generator needs to render one turn.
type Input struct {
	UserMessage    string
	MatchedRules   []*model.Rule
	Templates      map[string]*model.Template // by Template.ID
	ActiveScenario *model.Scenario
	ActiveStep     *model.ScenarioStep
	MemoryEpisodes []store.Episode
	ToolResults    []toolexec.Result
	Variables      map[string]any
	Profile        map[string]any
	Entities       map[string]string
}

// Result is spec §4.8's GenerationResult.
type Result struct {
	Text          string
	LLMCalled     bool
	TemplateUsed  string
	TokensUsed    int
}

// Generator renders responses per spec §4.8.
type Generator struct {
	llm provider.LLMProvider
	cfg Config
}

func New(llm provider.LLMProvider, cfg Config) *Generator {
	return &Generator{llm: llm, cfg: cfg}
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// Generate implements spec §4.8: try an EXCLUSIVE template bypass
// first; otherwise assemble a structured prompt and call the LLM.
func (g *Generator) Generate(ctx context.Context, in Input) (Result, error) {
	mergedVars := MergeVars(in.Profile, in.Variables, in.Entities)

	for _, rule := range in.MatchedRules {
		tmpl, ok := findExclusiveTemplate([]*model.Rule{rule}, in.Templates)
		if !ok {
			continue
		}
		if rendered, resolved := RenderTemplate(tmpl.Text, mergedVars); resolved {
			return Result{Text: rendered, LLMCalled: false, TemplateUsed: tmpl.ID}, nil
		}
	}

	prompt := buildPrompt(in, mergedVars, g.cfg)
	resp, err := g.llm.Chat(ctx, provider.ChatRequest{
		Messages: []provider.ChatMessage{
			{Role: "system", Content: systemPreamble(g.cfg)},
			{Role: "user", Content: prompt},
		},
		Config: provider.GenerateConfig{
			Temperature: g.cfg.Temperature,
			MaxTokens:   g.cfg.MaxTokens,
		},
	})
	if err != nil {
		return Result{}, errs.Wrap(errs.LLMUnavailable, "response generation", err)
	}

	return Result{
		Text:       resp.Text,
		LLMCalled:  true,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// GenerateStream is the streaming variant: it yields provider chunks as
// they arrive. The final aggregated text is still subject to
// enforcement (spec §4.10); callers must treat a post-hoc enforcement
// rewrite as superseding everything already streamed by emitting their
// own correction event downstream, since this stage has no visibility
// into enforcement's verdict.
func (g *Generator) GenerateStream(ctx context.Context, in Input) (<-chan provider.StreamChunk, error) {
	mergedVars := MergeVars(in.Profile, in.Variables, in.Entities)
	prompt := buildPrompt(in, mergedVars, g.cfg)

	ch, err := g.llm.ChatStream(ctx, provider.ChatRequest{
		Messages: []provider.ChatMessage{
			{Role: "system", Content: systemPreamble(g.cfg)},
			{Role: "user", Content: prompt},
		},
		Config: provider.GenerateConfig{
			Temperature: g.cfg.Temperature,
			MaxTokens:   g.cfg.MaxTokens,
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "streaming response generation", err)
	}
	return ch, nil
}

func systemPreamble(cfg Config) string {
	if cfg.SystemPreamble != "" {
		return cfg.SystemPreamble
	}
	return "You are a conversational assistant operating under a set of behavioral rules. Follow the action bullets exactly; use the conversation and scenario context to stay on track."
}

// findExclusiveTemplate returns the first matched rule's EXCLUSIVE
// template, in matched-rule order (rules arrive pre-sorted by the rule
// filter/priority, so the first hit wins).
func findExclusiveTemplate(rules []*model.Rule, templates map[string]*model.Template) (*model.Template, bool) {
	for _, rule := range rules {
		if rule.TemplateRefID == "" {
			continue
		}
		tmpl, ok := templates[rule.TemplateRefID]
		if !ok || tmpl.Mode != model.TemplateExclusive {
			continue
		}
		return tmpl, true
	}
	return nil, false
}

// RenderTemplate substitutes {placeholder} tokens; it reports resolved
// = false if any placeholder has no value, in which case the caller
// falls back to LLM generation rather than emitting text with literal
// unresolved braces.
func RenderTemplate(text string, vars map[string]any) (string, bool) {
	resolved := true
	rendered := placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := token[1 : len(token)-1]
		v, ok := vars[name]
		if !ok {
			resolved = false
			return token
		}
		return fmt.Sprint(v)
	})
	return rendered, resolved
}

// MergeVars builds the placeholder-resolution environment as
// session.variables ∪ profile ∪ context.entities (spec §4.8); entities
// take precedence since they reflect the current turn's freshest
// extraction, profile is the most static layer.
func MergeVars(profile, variables map[string]any, entities map[string]string) map[string]any {
	out := make(map[string]any, len(profile)+len(variables)+len(entities))
	for k, v := range profile {
		out[k] = v
	}
	for k, v := range variables {
		out[k] = v
	}
	for k, v := range entities {
		out[k] = v
	}
	return out
}

func buildPrompt(in Input, mergedVars map[string]any, cfg Config) string {
	var b strings.Builder

	if len(in.MatchedRules) > 0 {
		b.WriteString("Rules in effect:\n")
		for _, rule := range in.MatchedRules {
			fmt.Fprintf(&b, "- %s\n", rule.ActionText)
		}
		b.WriteString("\n")
	}

	if in.ActiveScenario != nil {
		fmt.Fprintf(&b, "Active scenario: %s\n", in.ActiveScenario.ID)
		if in.ActiveStep != nil {
			fmt.Fprintf(&b, "Current step (%s): %s\n", in.ActiveStep.ID, in.ActiveStep.Description)
		}
		b.WriteString("\n")
	}

	if len(in.MemoryEpisodes) > 0 {
		limit := cfg.MaxMemoryItems
		if limit <= 0 || limit > len(in.MemoryEpisodes) {
			limit = len(in.MemoryEpisodes)
		}
		b.WriteString("Relevant memory:\n")
		for _, ep := range in.MemoryEpisodes[:limit] {
			fmt.Fprintf(&b, "- %s\n", ep.Text)
		}
		b.WriteString("\n")
	}

	if len(in.ToolResults) > 0 {
		b.WriteString("Tool results:\n")
		for _, tr := range in.ToolResults {
			if !tr.Success {
				fmt.Fprintf(&b, "- %s: failed (%s)\n", tr.ToolID, tr.Error)
				continue
			}
			text := fmt.Sprintf("%v", tr.Output)
			if cfg.MaxToolResultChars > 0 && len(text) > cfg.MaxToolResultChars {
				text = text[:cfg.MaxToolResultChars] + "…"
			}
			fmt.Fprintf(&b, "- %s: %s\n", tr.ToolID, text)
		}
		b.WriteString("\n")
	}

	if suggestions := suggestTemplates(in.MatchedRules, in.Templates); len(suggestions) > 0 {
		b.WriteString("Suggested phrasing (adapt, do not quote verbatim):\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}

	if len(mergedVars) > 0 {
		b.WriteString("Known values:\n")
		for k, v := range mergedVars {
			fmt.Fprintf(&b, "- %s = %v\n", k, v)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User message: %s\n", in.UserMessage)
	return b.String()
}

func suggestTemplates(rules []*model.Rule, templates map[string]*model.Template) []string {
	var out []string
	for _, rule := range rules {
		if rule.TemplateRefID == "" {
			continue
		}
		tmpl, ok := templates[rule.TemplateRefID]
		if !ok || tmpl.Mode != model.TemplateSuggest {
			continue
		}
		out = append(out, tmpl.Text)
	}
	return out
}
