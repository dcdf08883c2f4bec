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

package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
)

// ContextMode selects how much enrichment the context extractor does
// for one turn (spec §4.2).
type ContextMode string

const (
	ContextFull          ContextMode = "full"
	ContextEmbeddingOnly ContextMode = "embedding_only"
	ContextDisabled      ContextMode = "disabled"
)

// ContextExtractor produces the enriched Context the rest of the
// pipeline reasons about. There is no teacher analogue (the teacher has
// no per-message intent/entity/ambiguity structure); this stage is
// grounded directly in spec §4.2, reusing the rule filter's
// strict-JSON-protocol LLM-call pattern for the Full mode.
type ContextExtractor struct {
	llm      provider.LLMProvider
	embedder provider.EmbeddingProvider
	mode     ContextMode
}

// NewContextExtractor wires the LLM (Full mode only) and embedder
// (every mode except Disabled's bare echo is still required to embed,
// spec §4.2 "output always carries an embedding vector").
func NewContextExtractor(llm provider.LLMProvider, embedder provider.EmbeddingProvider, mode ContextMode) *ContextExtractor {
	return &ContextExtractor{llm: llm, embedder: embedder, mode: mode}
}

type fullExtraction struct {
	IntentLabel     string         `json:"intent_label"`
	Confidence      float64        `json:"confidence"`
	Entities        []model.Entity `json:"entities"`
	Sentiment       string         `json:"sentiment"`
	Urgency         float64        `json:"urgency"`
	ScenarioSignal  string         `json:"scenario_signal"`
	IsAmbiguous     bool           `json:"is_ambiguous"`
	AmbiguityReason string         `json:"ambiguity_reason"`
}

// Extract runs the configured mode. Every mode returns a Context with a
// populated Embedding field, per spec §4.2's universal contract.
func (c *ContextExtractor) Extract(ctx context.Context, message string) (*model.Context, error) {
	switch c.mode {
	case ContextDisabled:
		emb, err := c.embedder.Embed(ctx, message)
		if err != nil {
			return nil, errs.Wrap(errs.LLMUnavailable, "context extraction (disabled-mode embedding)", err)
		}
		return &model.Context{Embedding: emb}, nil

	case ContextEmbeddingOnly:
		emb, err := c.embedder.Embed(ctx, message)
		if err != nil {
			return nil, errs.Wrap(errs.LLMUnavailable, "context extraction (embedding-only)", err)
		}
		return &model.Context{IntentLabel: message, Confidence: 1, Embedding: emb}, nil

	default:
		return c.extractFull(ctx, message)
	}
}

func (c *ContextExtractor) extractFull(ctx context.Context, message string) (*model.Context, error) {
	emb, err := c.embedder.Embed(ctx, message)
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "context extraction embedding", err)
	}

	resp, err := c.llm.Chat(ctx, provider.ChatRequest{
		Messages: []provider.ChatMessage{
			{Role: "system", Content: "You analyze one customer message for a conversational agent. Reply with ONLY a JSON object matching: " +
				`{"intent_label": string, "confidence": number 0..1, "entities": [{"name": string, "value": string, "confidence": number}], ` +
				`"sentiment": string, "urgency": number 0..1, "scenario_signal": "START"|"CONTINUE"|"EXIT"|"UNKNOWN", ` +
				`"is_ambiguous": bool, "ambiguity_reason": string}. No prose, no markdown fences.`},
			{Role: "user", Content: message},
		},
		Config: provider.GenerateConfig{Temperature: 0, ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "context extraction", err)
	}

	var parsed fullExtraction
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &parsed); err != nil {
		return nil, errs.Wrap(errs.Internal, "parsing context extraction response", err)
	}

	return &model.Context{
		IntentLabel:     parsed.IntentLabel,
		Confidence:      parsed.Confidence,
		Entities:        parsed.Entities,
		Sentiment:       parsed.Sentiment,
		Urgency:         parsed.Urgency,
		ScenarioSignal:  model.ScenarioSignal(parsed.ScenarioSignal),
		IsAmbiguous:     parsed.IsAmbiguous,
		AmbiguityReason: parsed.AmbiguityReason,
		Embedding:       emb,
	}, nil
}

// extractJSONObject trims any stray prose/fencing around the first
// top-level JSON object, the same defensive parse rulefilter uses
// against models that wrap JSON in commentary despite instructions.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
