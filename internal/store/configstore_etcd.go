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

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

const (
	rulesCollection     = "config_rules"
	scenariosCollection = "config_scenarios"
)

// EtcdConfigStore is the distributed ConfigStore: every agent, rule,
// scenario, template, variable, tool activation, and migration plan is
// one etcd key holding its JSON encoding, watched and replicated by the
// cluster the same way internal/idempotency's EtcdStore leases turn
// records. Vector search is delegated to a Qdrant collection per entity
// kind (vectorindex_qdrant.go), since etcd itself has no ANN index —
// the split mirrors the teacher's own separation of pkg/config's SQL
// backend from pkg/databases' vector providers.
type EtcdConfigStore struct {
	client *clientv3.Client
	prefix string
	vec    *qdrantVectorIndex
}

// NewEtcdConfigStore wires an etcd client for CRUD and a Qdrant client
// for rule/scenario vector search. qdrantClient may be nil, in which
// case VectorSearchRules/VectorSearchScenarios return an empty result
// (a deployment that only needs exact lookups need not stand up Qdrant).
func NewEtcdConfigStore(client *clientv3.Client, prefix string, qdrantClient *qdrant.Client) *EtcdConfigStore {
	s := &EtcdConfigStore{client: client, prefix: prefix}
	if qdrantClient != nil {
		s.vec = newQdrantVectorIndex(qdrantClient)
	}
	return s
}

func (s *EtcdConfigStore) agentKey(tenantID, agentID string) string {
	return fmt.Sprintf("%s/%s/%s/agent", s.prefix, tenantID, agentID)
}
func (s *EtcdConfigStore) ruleKey(tenantID, agentID, ruleID string) string {
	return fmt.Sprintf("%s/%s/%s/rules/%s", s.prefix, tenantID, agentID, ruleID)
}
func (s *EtcdConfigStore) rulePrefix(tenantID, agentID string) string {
	return fmt.Sprintf("%s/%s/%s/rules/", s.prefix, tenantID, agentID)
}
func (s *EtcdConfigStore) scenarioKey(tenantID, agentID, scenarioID string) string {
	return fmt.Sprintf("%s/%s/%s/scenarios/%s", s.prefix, tenantID, agentID, scenarioID)
}
func (s *EtcdConfigStore) scenarioPrefix(tenantID, agentID string) string {
	return fmt.Sprintf("%s/%s/%s/scenarios/", s.prefix, tenantID, agentID)
}
func (s *EtcdConfigStore) archivedScenarioKey(tenantID, agentID, scenarioID string, version int) string {
	return fmt.Sprintf("%s/%s/%s/scenarios_archive/%s/%d", s.prefix, tenantID, agentID, scenarioID, version)
}
func (s *EtcdConfigStore) templateKey(tenantID, agentID, templateID string) string {
	return fmt.Sprintf("%s/%s/%s/templates/%s", s.prefix, tenantID, agentID, templateID)
}
func (s *EtcdConfigStore) templatePrefix(tenantID, agentID string) string {
	return fmt.Sprintf("%s/%s/%s/templates/", s.prefix, tenantID, agentID)
}
func (s *EtcdConfigStore) variableKey(tenantID, agentID, variableID string) string {
	return fmt.Sprintf("%s/%s/%s/variables/%s", s.prefix, tenantID, agentID, variableID)
}
func (s *EtcdConfigStore) variablePrefix(tenantID, agentID string) string {
	return fmt.Sprintf("%s/%s/%s/variables/", s.prefix, tenantID, agentID)
}
func (s *EtcdConfigStore) activationKey(tenantID, agentID, toolID string) string {
	return fmt.Sprintf("%s/%s/%s/tool_activations/%s", s.prefix, tenantID, agentID, toolID)
}
func (s *EtcdConfigStore) activationPrefix(tenantID, agentID string) string {
	return fmt.Sprintf("%s/%s/%s/tool_activations/", s.prefix, tenantID, agentID)
}
func (s *EtcdConfigStore) planKey(tenantID, agentID, planID string) string {
	return fmt.Sprintf("%s/%s/%s/migration_plans/%s", s.prefix, tenantID, agentID, planID)
}
func (s *EtcdConfigStore) planPrefix(tenantID, agentID string) string {
	return fmt.Sprintf("%s/%s/%s/migration_plans/", s.prefix, tenantID, agentID)
}

func etcdPutJSON(ctx context.Context, client *clientv3.Client, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal config entity", err)
	}
	if _, err := client.Put(ctx, key, string(body)); err != nil {
		return errs.Wrap(errs.Internal, "put config entity to etcd", err)
	}
	return nil
}

func etcdGetJSON[T any](ctx context.Context, client *clientv3.Client, key, notFoundMsg string) (*T, error) {
	resp, err := client.Get(ctx, key)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "get config entity from etcd", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, errs.New(errs.NotFound, notFoundMsg)
	}
	var v T
	if err := json.Unmarshal(resp.Kvs[0].Value, &v); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal config entity", err)
	}
	return &v, nil
}

func etcdListJSON[T any](ctx context.Context, client *clientv3.Client, prefix string) ([]*T, error) {
	resp, err := client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list config entities from etcd", err)
	}
	out := make([]*T, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var v T
		if err := json.Unmarshal(kv.Value, &v); err != nil {
			return nil, errs.Wrap(errs.Internal, "unmarshal config entity", err)
		}
		out = append(out, &v)
	}
	return out, nil
}

func (s *EtcdConfigStore) GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	return etcdGetJSON[model.Agent](ctx, s.client, s.agentKey(tenantID, agentID), "agent not found")
}

// UpsertAgent is not part of the ConfigStore interface (agents are
// provisioned out of band) but is exposed for seeding deployments and
// migration tooling.
func (s *EtcdConfigStore) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	return etcdPutJSON(ctx, s.client, s.agentKey(agent.TenantID, agent.ID), agent)
}

func (s *EtcdConfigStore) GetRule(ctx context.Context, tenantID, agentID, ruleID string) (*model.Rule, error) {
	r, err := etcdGetJSON[model.Rule](ctx, s.client, s.ruleKey(tenantID, agentID, ruleID), "rule not found")
	if err != nil {
		return nil, err
	}
	if r.IsDeleted() {
		return nil, errs.New(errs.NotFound, "rule not found")
	}
	return r, nil
}

func (s *EtcdConfigStore) ListRules(ctx context.Context, tenantID, agentID string, scope model.RuleScope, scopeID string) ([]*model.Rule, error) {
	rules, err := etcdListJSON[model.Rule](ctx, s.client, s.rulePrefix(tenantID, agentID))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsDeleted() {
			continue
		}
		if scope != "" && r.Scope != scope {
			continue
		}
		if scopeID != "" && r.ScopeID != scopeID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *EtcdConfigStore) UpsertRule(ctx context.Context, rule *model.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := etcdPutJSON(ctx, s.client, s.ruleKey(rule.TenantID, rule.AgentID, rule.ID), rule); err != nil {
		return err
	}
	if s.vec != nil && len(rule.ConditionEmbedding) > 0 {
		payload := map[string]string{
			"tenant_id": rule.TenantID,
			"agent_id":  rule.AgentID,
			"scope":     string(rule.Scope),
			"scope_id":  rule.ScopeID,
		}
		if err := s.vec.upsert(ctx, rulesCollection, rule.ID, rule.ConditionEmbedding, payload); err != nil {
			return errs.Wrap(errs.Internal, "index rule embedding", err)
		}
	}
	return nil
}

func (s *EtcdConfigStore) SoftDeleteRule(ctx context.Context, tenantID, agentID, ruleID string) error {
	r, err := etcdGetJSON[model.Rule](ctx, s.client, s.ruleKey(tenantID, agentID, ruleID), "rule not found")
	if err != nil {
		return err
	}
	now := r.UpdatedAt
	r.DeletedAt = &now
	return etcdPutJSON(ctx, s.client, s.ruleKey(tenantID, agentID, ruleID), r)
}

func (s *EtcdConfigStore) VectorSearchRules(ctx context.Context, tenantID, agentID string, queryEmbedding []float32, scope model.RuleScope, scopeID string, limit int, minScore float64) ([]RuleSearchResult, error) {
	if s.vec == nil {
		return nil, nil
	}
	match := map[string]string{"tenant_id": tenantID, "agent_id": agentID}
	if scope != "" {
		match["scope"] = string(scope)
	}
	if scopeID != "" {
		match["scope_id"] = scopeID
	}
	hits, err := s.vec.search(ctx, rulesCollection, queryEmbedding, limit, match)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "vector search rules", err)
	}
	out := make([]RuleSearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		rule, err := s.GetRule(ctx, tenantID, agentID, h.ID)
		if err != nil {
			continue
		}
		out = append(out, RuleSearchResult{Rule: rule, Score: h.Score})
	}
	return out, nil
}

func (s *EtcdConfigStore) GetScenario(ctx context.Context, tenantID, agentID, scenarioID string) (*model.Scenario, error) {
	sc, err := etcdGetJSON[model.Scenario](ctx, s.client, s.scenarioKey(tenantID, agentID, scenarioID), "scenario not found")
	if err != nil {
		return nil, err
	}
	if sc.IsDeleted() {
		return nil, errs.New(errs.NotFound, "scenario not found")
	}
	return sc, nil
}

func (s *EtcdConfigStore) ListScenarios(ctx context.Context, tenantID, agentID string) ([]*model.Scenario, error) {
	scenarios, err := etcdListJSON[model.Scenario](ctx, s.client, s.scenarioPrefix(tenantID, agentID))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Scenario, 0, len(scenarios))
	for _, sc := range scenarios {
		if !sc.IsDeleted() {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *EtcdConfigStore) UpsertScenario(ctx context.Context, scenario *model.Scenario) error {
	if err := scenario.Validate(); err != nil {
		return err
	}
	if err := etcdPutJSON(ctx, s.client, s.scenarioKey(scenario.TenantID, scenario.AgentID, scenario.ID), scenario); err != nil {
		return err
	}
	if s.vec != nil && len(scenario.EntryEmbedding) > 0 {
		payload := map[string]string{"tenant_id": scenario.TenantID, "agent_id": scenario.AgentID}
		if err := s.vec.upsert(ctx, scenariosCollection, scenario.ID, scenario.EntryEmbedding, payload); err != nil {
			return errs.Wrap(errs.Internal, "index scenario embedding", err)
		}
	}
	return nil
}

func (s *EtcdConfigStore) ArchiveScenarioVersion(ctx context.Context, tenantID, agentID, scenarioID string, version int) error {
	sc, err := s.GetScenario(ctx, tenantID, agentID, scenarioID)
	if err != nil {
		return err
	}
	return etcdPutJSON(ctx, s.client, s.archivedScenarioKey(tenantID, agentID, scenarioID, version), sc)
}

func (s *EtcdConfigStore) GetArchivedScenario(ctx context.Context, tenantID, agentID, scenarioID string, version int) (*model.Scenario, error) {
	return etcdGetJSON[model.Scenario](ctx, s.client, s.archivedScenarioKey(tenantID, agentID, scenarioID, version), "archived scenario version not found")
}

func (s *EtcdConfigStore) VectorSearchScenarios(ctx context.Context, tenantID, agentID string, queryEmbedding []float32, limit int, minScore float64) ([]ScenarioSearchResult, error) {
	if s.vec == nil {
		return nil, nil
	}
	hits, err := s.vec.search(ctx, scenariosCollection, queryEmbedding, limit, map[string]string{"tenant_id": tenantID, "agent_id": agentID})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "vector search scenarios", err)
	}
	out := make([]ScenarioSearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		sc, err := s.GetScenario(ctx, tenantID, agentID, h.ID)
		if err != nil {
			continue
		}
		out = append(out, ScenarioSearchResult{Scenario: sc, Score: h.Score})
	}
	return out, nil
}

func (s *EtcdConfigStore) GetTemplate(ctx context.Context, tenantID, agentID, templateID string) (*model.Template, error) {
	return etcdGetJSON[model.Template](ctx, s.client, s.templateKey(tenantID, agentID, templateID), "template not found")
}

func (s *EtcdConfigStore) ListTemplates(ctx context.Context, tenantID, agentID string) ([]*model.Template, error) {
	return etcdListJSON[model.Template](ctx, s.client, s.templatePrefix(tenantID, agentID))
}

func (s *EtcdConfigStore) UpsertTemplate(ctx context.Context, tmpl *model.Template) error {
	return etcdPutJSON(ctx, s.client, s.templateKey(tmpl.TenantID, tmpl.AgentID, tmpl.ID), tmpl)
}

func (s *EtcdConfigStore) GetVariable(ctx context.Context, tenantID, agentID, variableID string) (*model.Variable, error) {
	return etcdGetJSON[model.Variable](ctx, s.client, s.variableKey(tenantID, agentID, variableID), "variable not found")
}

func (s *EtcdConfigStore) ListVariables(ctx context.Context, tenantID, agentID string) ([]*model.Variable, error) {
	return etcdListJSON[model.Variable](ctx, s.client, s.variablePrefix(tenantID, agentID))
}

func (s *EtcdConfigStore) GetToolActivation(ctx context.Context, tenantID, agentID, toolID string) (*model.ToolActivation, error) {
	return etcdGetJSON[model.ToolActivation](ctx, s.client, s.activationKey(tenantID, agentID, toolID), "tool activation not found")
}

func (s *EtcdConfigStore) ListToolActivations(ctx context.Context, tenantID, agentID string) ([]*model.ToolActivation, error) {
	return etcdListJSON[model.ToolActivation](ctx, s.client, s.activationPrefix(tenantID, agentID))
}

func (s *EtcdConfigStore) SaveMigrationPlan(ctx context.Context, plan *model.MigrationPlan) error {
	return etcdPutJSON(ctx, s.client, s.planKey(plan.TenantID, plan.AgentID, plan.ID), plan)
}

func (s *EtcdConfigStore) GetMigrationPlan(ctx context.Context, tenantID, agentID, planID string) (*model.MigrationPlan, error) {
	return etcdGetJSON[model.MigrationPlan](ctx, s.client, s.planKey(tenantID, agentID, planID), "migration plan not found")
}

func (s *EtcdConfigStore) FindMigrationPlanByVersions(ctx context.Context, tenantID, agentID, scenarioID string, fromVersion, toVersion int) (*model.MigrationPlan, error) {
	plans, err := etcdListJSON[model.MigrationPlan](ctx, s.client, s.planPrefix(tenantID, agentID))
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if p.ScenarioID == scenarioID && p.Map.FromVersion == fromVersion && p.Map.ToVersion == toVersion {
			return p, nil
		}
	}
	return nil, errs.New(errs.NotFound, "migration plan not found for version pair")
}

var _ ConfigStore = (*EtcdConfigStore)(nil)
