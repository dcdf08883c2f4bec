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

package main

import (
	"time"

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/store"
)

// seedDemoAgent populates a ConfigStore with a minimal but complete
// agent: one global rule, one hard-constraint rule, a two-step
// scenario, a template, and a disabled demo tool activation. It gives
// the pipeline something to retrieve, filter, navigate, and enforce
// against without requiring an operator-authored config file.
//
// Embeddings are left nil: with every stage's MinScore configured at 0
// (see wiring.go), vectorutil.Cosine's zero-vector score of 0 still
// clears the bar, so retrieval works without a live embedding call
// during seeding.
func seedDemoAgent(cfg *store.InMemoryConfigStore, tenantID, agentID string) {
	now := time.Now()

	cfg.SeedAgent(&model.Agent{
		TenantHeader:         model.TenantHeader{TenantID: tenantID, CreatedAt: now, UpdatedAt: now},
		ID:                   agentID,
		Name:                 "Demo Support Agent",
		ProfileSchemaVersion: 1,
		LLMModel:             "demo",
		Temperature:          0.4,
		MaxTokens:            1024,
		EmbeddingModel:       "demo",
	})

	header := model.AgentHeader{TenantHeader: model.TenantHeader{TenantID: tenantID, CreatedAt: now, UpdatedAt: now}, AgentID: agentID}

	cfg.SeedRule(&model.Rule{
		AgentHeader:   header,
		ID:            "rule-tone",
		ConditionText: "the customer is speaking with the assistant",
		ActionText:    "Respond in a friendly, concise tone and avoid jargon.",
		Scope:         model.ScopeGlobal,
		Priority:      10,
		Enabled:       true,
	})

	cfg.SeedRule(&model.Rule{
		AgentHeader:           header,
		ID:                    "rule-no-guarantee",
		ConditionText:         "the customer asks about a refund or return timeline",
		ActionText:            "Never promise an exact refund date; refunds are processed by a separate team.",
		Scope:                 model.ScopeGlobal,
		IsHardConstraint:      true,
		EnforcementExpression: `!contains(response_text, "guarantee")`,
		Priority:              100,
		Enabled:               true,
	})

	cfg.SeedScenario(&model.Scenario{
		AgentHeader: header,
		ID:          "scn-return",
		Version:     1,
		EntryStepID: "greet",
		EntryExamples: []string{
			"I want to return an item",
			"how do I send something back",
		},
		IntentLabel: "product_return",
		Steps: []*model.ScenarioStep{
			{
				ID:          "greet",
				Type:        model.StepInteraction,
				Description: "Acknowledge the return request and ask for the order number.",
				Transitions: []*model.StepTransition{
					{TargetStepID: "confirm", IntentMatch: "customer provided an order number"},
				},
			},
			{
				ID:          "confirm",
				Type:        model.StepAction,
				Description: "Confirm the return and explain next steps.",
				Transitions: nil,
			},
		},
	})

	cfg.SeedTemplate(&model.Template{
		AgentHeader: header,
		ID:          "tmpl-return-confirm",
		Name:        "return_confirmation",
		Text:        "Thanks! I've started your return for order {order_id}. You'll receive a prepaid label by email within 24 hours.",
		Mode:        model.TemplateSuggest,
	})

	cfg.SeedToolActivation(&model.ToolActivation{
		TenantID: tenantID,
		AgentID:  agentID,
		ToolID:   "lookup_order",
		Enabled:  false,
		Policy:   model.ToolActivationPolicy{TimeoutMS: 3000, Transport: "grpc"},
	})
}
