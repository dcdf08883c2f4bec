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

package model

import "github.com/latchframe/alignment-engine/internal/errs"

// RuleScope identifies the narrowest point at which a Rule applies.
type RuleScope string

const (
	ScopeGlobal   RuleScope = "GLOBAL"
	ScopeScenario RuleScope = "SCENARIO"
	ScopeStep     RuleScope = "STEP"
)

// Rule is an agent-scoped behavioral policy (spec §3 "Rule").
type Rule struct {
	AgentHeader           `mapstructure:",squash"`
	ID                    string    `json:"id"`
	ConditionText         string    `json:"condition_text"`
	ActionText            string    `json:"action_text"`
	Scope                 RuleScope `json:"scope"`
	ScopeID               string    `json:"scope_id,omitempty"`
	IsHardConstraint      bool      `json:"is_hard_constraint"`
	EnforcementExpression string    `json:"enforcement_expression,omitempty"`
	AttachedToolIDs       []string  `json:"attached_tool_ids,omitempty"`
	TemplateRefID         string    `json:"template_ref_id,omitempty"`
	Priority              int       `json:"priority"`
	Enabled               bool      `json:"enabled"`
	MaxFiresPerSession    int       `json:"max_fires_per_session"` // 0 = unlimited
	CooldownTurns         int       `json:"cooldown_turns"`
	ConditionEmbedding    []float32 `json:"condition_embedding,omitempty"`
}

// Validate enforces the scope/scope_id invariant from spec §3.
func (r *Rule) Validate() error {
	if r.Scope != ScopeGlobal && r.ScopeID == "" {
		return errs.New(errs.Validation, "scope_id is required unless scope is GLOBAL")
	}
	return nil
}

// MatchedRule is the rule filter's per-candidate decision (spec §4.5).
type MatchedRule struct {
	RuleID     string  `json:"rule_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ScenarioSignal is the coarse navigation hint context extraction and the
// rule filter may both emit.
type ScenarioSignal string

const (
	SignalStart    ScenarioSignal = "START"
	SignalContinue ScenarioSignal = "CONTINUE"
	SignalExit     ScenarioSignal = "EXIT"
	SignalUnknown  ScenarioSignal = "UNKNOWN"
	SignalNone     ScenarioSignal = ""
)

// Template is an agent-scoped stored text with a rendering mode (spec §3
// "Template").
type Template struct {
	AgentHeader `mapstructure:",squash"`
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Text string       `json:"text"`
	Mode TemplateMode `json:"mode"`
}

// TemplateMode controls how a Template participates in generation.
type TemplateMode string

const (
	TemplateExclusive TemplateMode = "EXCLUSIVE"
	TemplateSuggest   TemplateMode = "SUGGEST"
	TemplateFallback  TemplateMode = "FALLBACK"
)

// VariableRefresh controls when a Variable's resolver is re-invoked.
type VariableRefresh string

const (
	RefreshOnEachTurn      VariableRefresh = "ON_EACH_TURN"
	RefreshOnDemand        VariableRefresh = "ON_DEMAND"
	RefreshOnScenarioEntry VariableRefresh = "ON_SCENARIO_ENTRY"
	RefreshOnSessionStart  VariableRefresh = "ON_SESSION_START"
)

// Variable is an agent-scoped named value with a refresh policy and a
// resolver binding (spec §3 "Variable"). ResolverRef names the resolver
// implementation registered with the pipeline (e.g. a tool id or a
// built-in function); the pipeline looks it up rather than storing code.
type Variable struct {
	AgentHeader `mapstructure:",squash"`
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Refresh     VariableRefresh `json:"refresh"`
	ResolverRef string          `json:"resolver_ref"`
}

// ToolActivation is a per-(tenant,agent,tool) enable flag with optional
// policy overrides (spec §3 "ToolActivation"). Transport/Endpoint let the
// tool executor resolve which transport (gRPC, MCP, subprocess plugin)
// backs the tool and where to reach it.
type ToolActivation struct {
	TenantID string             `json:"tenant_id"`
	AgentID  string             `json:"agent_id"`
	ToolID   string             `json:"tool_id"`
	Enabled  bool               `json:"enabled"`
	Policy   ToolActivationPolicy `json:"policy"`
}

// ToolActivationPolicy overrides per-tool defaults.
type ToolActivationPolicy struct {
	TimeoutMS       int    `json:"timeout_ms,omitempty"`
	Transport       string `json:"transport,omitempty"` // "grpc" | "mcp" | "plugin"
	Endpoint        string `json:"endpoint,omitempty"`  // direct address, or a Consul service name
	ConsulService   string `json:"consul_service,omitempty"`
	FailFastOverride *bool `json:"fail_fast_override,omitempty"`
}
