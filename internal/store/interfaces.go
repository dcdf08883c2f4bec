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

// Package store defines the five persistence interfaces the pipeline
// consumes (spec §6.1): ConfigStore, SessionStore, AuditStore,
// MemoryStore, ProfileStore. Each interface is implemented at least
// once in-memory (for tests and the demo driver) and once against a
// real backend, matching the teacher's pattern of interface + swappable
// implementations (spec §9 "keep the interfaces, provide two
// implementations").
package store

import (
	"context"
	"time"

	"github.com/latchframe/alignment-engine/internal/model"
)

// ScopeFilter narrows a vector/rule search to GLOBAL rules, or to a
// specific SCENARIO/STEP scope id.
type ScopeFilter struct {
	Scope   model.RuleScope
	ScopeID string
}

// RuleSearchResult pairs a matched Rule with its retrieval score.
type RuleSearchResult struct {
	Rule  *model.Rule
	Score float64
}

// ScenarioSearchResult pairs a Scenario with its entry-embedding score.
type ScenarioSearchResult struct {
	Scenario *model.Scenario
	Score    float64
}

// ConfigStore is CRUD + soft-delete for agents, rules, scenarios,
// templates, variables, and tool activations, plus rule vector search,
// scenario archival, and migration-plan lookup (spec §6.1).
type ConfigStore interface {
	GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error)

	GetRule(ctx context.Context, tenantID, agentID, ruleID string) (*model.Rule, error)
	ListRules(ctx context.Context, tenantID, agentID string, scope model.RuleScope, scopeID string) ([]*model.Rule, error)
	UpsertRule(ctx context.Context, rule *model.Rule) error
	SoftDeleteRule(ctx context.Context, tenantID, agentID, ruleID string) error
	VectorSearchRules(ctx context.Context, tenantID, agentID string, queryEmbedding []float32, scope model.RuleScope, scopeID string, limit int, minScore float64) ([]RuleSearchResult, error)

	GetScenario(ctx context.Context, tenantID, agentID, scenarioID string) (*model.Scenario, error)
	ListScenarios(ctx context.Context, tenantID, agentID string) ([]*model.Scenario, error)
	UpsertScenario(ctx context.Context, scenario *model.Scenario) error
	ArchiveScenarioVersion(ctx context.Context, tenantID, agentID, scenarioID string, version int) error
	GetArchivedScenario(ctx context.Context, tenantID, agentID, scenarioID string, version int) (*model.Scenario, error)
	VectorSearchScenarios(ctx context.Context, tenantID, agentID string, queryEmbedding []float32, limit int, minScore float64) ([]ScenarioSearchResult, error)

	GetTemplate(ctx context.Context, tenantID, agentID, templateID string) (*model.Template, error)
	ListTemplates(ctx context.Context, tenantID, agentID string) ([]*model.Template, error)
	UpsertTemplate(ctx context.Context, tmpl *model.Template) error

	GetVariable(ctx context.Context, tenantID, agentID, variableID string) (*model.Variable, error)
	ListVariables(ctx context.Context, tenantID, agentID string) ([]*model.Variable, error)

	GetToolActivation(ctx context.Context, tenantID, agentID, toolID string) (*model.ToolActivation, error)
	ListToolActivations(ctx context.Context, tenantID, agentID string) ([]*model.ToolActivation, error)

	SaveMigrationPlan(ctx context.Context, plan *model.MigrationPlan) error
	GetMigrationPlan(ctx context.Context, tenantID, agentID, planID string) (*model.MigrationPlan, error)
	FindMigrationPlanByVersions(ctx context.Context, tenantID, agentID, scenarioID string, fromVersion, toVersion int) (*model.MigrationPlan, error)
}

// SessionStore persists Session records (spec §6.1).
type SessionStore interface {
	Get(ctx context.Context, tenantID, sessionID string) (*model.Session, error)
	GetByChannel(ctx context.Context, tenantID, channel, userChannelID string) (*model.Session, error)
	Save(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, tenantID, sessionID string) error
	ListByAgent(ctx context.Context, tenantID, agentID string, limit, offset int) ([]*model.Session, error)
	ListByCustomer(ctx context.Context, tenantID, customerProfileID string) ([]*model.Session, error)
	// FindSessionsByStepHash supports migration deployment: it returns
	// sessions currently parked at the given V1 anchor step id for
	// scenarioID/version, optionally narrowed by scopeFilter.
	FindSessionsByStepHash(ctx context.Context, tenantID, scenarioID string, version int, anchorStepID string, scopeFilter string) ([]*model.Session, error)
}

// AuditEvent is a generic append-only audit entry beyond TurnRecord
// (e.g. migration plan approval, scenario publish).
type AuditEvent struct {
	TenantID  string
	AgentID   string
	Kind      string
	Payload   map[string]any
	Timestamp time.Time
}

// AuditStore is the append-only turn/audit log (spec §6.1).
type AuditStore interface {
	SaveTurn(ctx context.Context, turn *model.TurnRecord) error
	GetTurn(ctx context.Context, tenantID, sessionID, turnID string) (*model.TurnRecord, error)
	ListTurnsBySession(ctx context.Context, tenantID, sessionID string, limit, offset int) ([]*model.TurnRecord, error)
	ListTurnsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*model.TurnRecord, error)
	SaveEvent(ctx context.Context, event AuditEvent) error
}

// Episode is one memory-store conversational fragment retrievable by
// vector or text search.
type Episode struct {
	ID        string
	GroupID   string // e.g. session id, used by delete_by_group
	Text      string
	Embedding []float32
	Timestamp time.Time
	Metadata  map[string]any
}

// Entity and Relationship support MemoryStore's knowledge-graph
// traversal, consumed but not authored by the pipeline (spec §1 scope
// note: long-term knowledge-graph ingestion lives outside the core;
// this is the read-side interface the pipeline's memory retrieval
// stage uses).
type Entity struct {
	ID     string
	Name   string
	Kind   string
	Fields map[string]any
}

type Relationship struct {
	FromEntityID string
	ToEntityID   string
	Type         string
}

// MemoryStore is episode and entity/relationship storage with vector
// and text search plus graph traversal (spec §6.1).
type MemoryStore interface {
	AddEpisode(ctx context.Context, ep Episode) error
	GetEpisode(ctx context.Context, id string) (*Episode, error)
	SearchEpisodesVector(ctx context.Context, groupID string, queryEmbedding []float32, limit int, minScore float64) ([]Episode, error)
	SearchEpisodesText(ctx context.Context, groupID string, query string, limit int) ([]Episode, error)

	UpsertEntity(ctx context.Context, e Entity) error
	UpsertRelationship(ctx context.Context, r Relationship) error
	TraverseFromEntities(ctx context.Context, entityIDs []string, depth int, relationTypes []string) ([]Entity, []Relationship, error)

	DeleteByGroup(ctx context.Context, groupID string) error
}

// ProfileStore manages CustomerProfile ledgers (spec §6.1).
type ProfileStore interface {
	GetByID(ctx context.Context, tenantID, profileID string) (*model.CustomerProfile, error)
	GetByChannel(ctx context.Context, tenantID, channel, userChannelID string) (*model.CustomerProfile, error)
	GetOrCreate(ctx context.Context, tenantID, channel, userChannelID string, schemaVersion int) (*model.CustomerProfile, error)
	UpdateField(ctx context.Context, tenantID, profileID, fieldName string, value model.Value, confidence float64, source model.FieldSource) error
	AddAsset(ctx context.Context, tenantID, profileID string, asset model.ProfileAsset) error
	LinkChannel(ctx context.Context, tenantID, profileID string, identity model.ChannelIdentity) error
	Merge(ctx context.Context, tenantID, survivingID, mergedID string) error
}
