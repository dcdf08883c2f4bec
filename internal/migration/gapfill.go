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

package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
	"github.com/latchframe/alignment-engine/internal/store"
)

// Config gates GapFillService's conversation-extraction tier (spec
// §4.9, §3 config "migration.gap_fill.{use_threshold,
// no_confirm_threshold}"). UseThreshold is the minimum confidence at
// which an extracted candidate is even surfaced; below it the field is
// treated as fully unresolved and the customer is asked the original
// question. Between UseThreshold and NoConfirmThreshold the candidate
// is surfaced but needs a yes/no confirmation from the customer.
// NoConfirmThreshold and above, the candidate is accepted silently and
// written straight to the profile.
type Config struct {
	UseThreshold       float64
	NoConfirmThreshold float64
}

// FieldResolution is the per-field outcome of a gap-fill attempt.
type FieldResolution struct {
	Field      string
	Value      model.Value
	Confidence float64
	Source     model.FieldSource
	Tier       string // "profile" | "session" | "asset" | "conversation" | "unresolved"
	Resolved   bool   // a candidate at or above UseThreshold was found
	Confirmed  bool   // accepted without asking (profile/session tiers, or conversation >= NoConfirmThreshold)
	NeedsAsk   bool   // customer must be prompted: either the original question or a confirm
}

// GapFillService resolves a scenario step's required fields in tiered
// order (spec §4.9 "profile → session variables → conversation
// extraction with confidence gates"); profile assets (scans, intake
// forms, bulk imports) are tried ahead of free-form extraction since
// a document a customer already submitted is a stronger signal than
// re-parsing the live conversation.
type GapFillService struct {
	profiles store.ProfileStore
	llm      provider.LLMProvider
	cfg      Config
}

// NewGapFillService wires the profile store and LLM used by the
// conversation-extraction tier.
func NewGapFillService(profiles store.ProfileStore, llm provider.LLMProvider, cfg Config) *GapFillService {
	return &GapFillService{profiles: profiles, llm: llm, cfg: cfg}
}

// Resolve attempts every field in fields against the tiered sources,
// returning one FieldResolution per field in the same order.
func (g *GapFillService) Resolve(
	ctx context.Context,
	tenantID, profileID string,
	fields []string,
	sessionVars map[string]model.Value,
	conversationText string,
) ([]FieldResolution, error) {
	profile, err := g.profiles.GetByID(ctx, tenantID, profileID)
	if err != nil {
		return nil, fmt.Errorf("migration: loading profile %s: %w", profileID, err)
	}

	assetText := g.assetCorpus(profile)

	out := make([]FieldResolution, 0, len(fields))
	for _, field := range fields {
		if pf, ok := profile.Fields[field]; ok && pf.Value.Kind != "" {
			out = append(out, FieldResolution{
				Field: field, Value: pf.Value, Confidence: 1, Source: pf.Source,
				Tier: "profile", Resolved: true, Confirmed: true,
			})
			continue
		}

		if v, ok := sessionVars[field]; ok && v.Kind != "" {
			out = append(out, FieldResolution{
				Field: field, Value: v, Confidence: 1, Source: model.SourceInference,
				Tier: "session", Resolved: true, Confirmed: true,
			})
			continue
		}

		if assetText != "" {
			if v, conf, ok := extractFieldHeuristically(field, assetText); ok {
				out = append(out, g.gate(ctx, tenantID, profileID, field, v, conf, "asset"))
				continue
			}
		}

		if conversationText != "" && g.llm != nil {
			if v, conf, err := g.extractFromConversation(ctx, field, conversationText); err == nil && conf > 0 {
				out = append(out, g.gate(ctx, tenantID, profileID, field, v, conf, "conversation"))
				continue
			}
		}

		out = append(out, FieldResolution{Field: field, Tier: "unresolved", NeedsAsk: true})
	}
	return out, nil
}

// gate applies the use/no-confirm thresholds to a raw candidate and,
// when the candidate clears NoConfirmThreshold, persists it to the
// profile immediately (spec §4.9 "extracted values above the no-confirm
// threshold are persisted to the profile").
func (g *GapFillService) gate(ctx context.Context, tenantID, profileID, field string, v model.Value, confidence float64, tier string) FieldResolution {
	if confidence < g.cfg.UseThreshold {
		return FieldResolution{Field: field, Tier: "unresolved", NeedsAsk: true}
	}
	res := FieldResolution{Field: field, Value: v, Confidence: confidence, Source: model.SourceInference, Tier: tier, Resolved: true}
	if confidence >= g.cfg.NoConfirmThreshold {
		res.Confirmed = true
		_ = g.profiles.UpdateField(ctx, tenantID, profileID, field, v, confidence, model.SourceInference)
	} else {
		res.NeedsAsk = true
	}
	return res
}

func (g *GapFillService) assetCorpus(profile *model.CustomerProfile) string {
	var parts []string
	for _, asset := range profile.Assets {
		text, err := ExtractAssetText(asset)
		if err != nil || text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

// extractFieldHeuristically does a case-insensitive "label: value" scan
// over document text, the same shallow pattern a filled intake form or
// bulk-import sheet naturally produces once flattened to text by
// ExtractAssetText. A hit always reports a fixed confidence of 0.9;
// gate then applies the configured thresholds, so with NoConfirmThreshold
// at or below 0.9 the value is accepted without a confirmation question.
func extractFieldHeuristically(field, corpus string) (model.Value, float64, bool) {
	label := strings.ToLower(strings.ReplaceAll(field, "_", " "))
	lower := strings.ToLower(corpus)
	idx := strings.Index(lower, label)
	if idx < 0 {
		return model.Value{}, 0, false
	}
	rest := corpus[idx+len(label):]
	rest = strings.TrimLeft(rest, " :\t-")
	end := strings.IndexAny(rest, "\n,;")
	if end < 0 {
		end = len(rest)
	}
	if end > 80 {
		end = 80
	}
	value := strings.TrimSpace(rest[:end])
	if value == "" {
		return model.Value{}, 0, false
	}
	return model.StringValue(value), 0.9, true
}

type extractionResponse struct {
	Found      bool    `json:"found"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// extractFromConversation asks the LLM to find the requested field in
// the user's recent turns, as a JSON-constrained extraction prompt
// (spec §4.9's "conversation extraction" tier; §4.10's judge lane uses
// the same temperature-0, strict-reply-protocol pattern).
func (g *GapFillService) extractFromConversation(ctx context.Context, field, conversationText string) (model.Value, float64, error) {
	prompt := fmt.Sprintf(
		"Conversation:\n%s\n\nDoes the conversation state a value for the field %q? "+
			"Reply with ONLY a JSON object: {\"found\": bool, \"value\": string, \"confidence\": number between 0 and 1}.",
		conversationText, field,
	)
	resp, err := g.llm.Chat(ctx, provider.ChatRequest{
		Messages: []provider.ChatMessage{
			{Role: "system", Content: "You extract a single structured field from a conversation. Reply with JSON only, no prose."},
			{Role: "user", Content: prompt},
		},
		Config: provider.GenerateConfig{Temperature: 0, MaxTokens: 128},
	})
	if err != nil {
		return model.Value{}, 0, fmt.Errorf("migration: conversation extraction: %w", err)
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &parsed); err != nil {
		return model.Value{}, 0, fmt.Errorf("migration: parsing extraction response: %w", err)
	}
	if !parsed.Found {
		return model.Value{}, 0, nil
	}
	return model.StringValue(parsed.Value), parsed.Confidence, nil
}
