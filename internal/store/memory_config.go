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
	"sort"
	"sync"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/vectorutil"
)

type configKey struct{ tenantID, agentID, id string }

// InMemoryConfigStore is a process-local ConfigStore. Useful for tests
// and the demo driver; a file-backed or distributed implementation
// wraps this with a load/watch layer (see configstore_file.go,
// configstore_etcd.go).
type InMemoryConfigStore struct {
	mu         sync.RWMutex
	agents     map[configKey]*model.Agent
	rules      map[configKey]*model.Rule
	scenarios  map[configKey]*model.Scenario
	archived   map[string]*model.Scenario // key: tenant/agent/scenario/version
	templates  map[configKey]*model.Template
	variables  map[configKey]*model.Variable
	activations map[configKey]*model.ToolActivation
	plans      map[configKey]*model.MigrationPlan
}

// NewInMemoryConfigStore constructs an empty store.
func NewInMemoryConfigStore() *InMemoryConfigStore {
	return &InMemoryConfigStore{
		agents:      make(map[configKey]*model.Agent),
		rules:       make(map[configKey]*model.Rule),
		scenarios:   make(map[configKey]*model.Scenario),
		archived:    make(map[string]*model.Scenario),
		templates:   make(map[configKey]*model.Template),
		variables:   make(map[configKey]*model.Variable),
		activations: make(map[configKey]*model.ToolActivation),
		plans:       make(map[configKey]*model.MigrationPlan),
	}
}

func (s *InMemoryConfigStore) SeedAgent(a *model.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[configKey{a.TenantID, a.ID, a.ID}] = a
}

func (s *InMemoryConfigStore) SeedRule(r *model.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[configKey{r.TenantID, r.AgentID, r.ID}] = r
}

func (s *InMemoryConfigStore) SeedScenario(sc *model.Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios[configKey{sc.TenantID, sc.AgentID, sc.ID}] = sc
}

func (s *InMemoryConfigStore) SeedTemplate(t *model.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[configKey{t.TenantID, t.AgentID, t.ID}] = t
}

func (s *InMemoryConfigStore) SeedVariable(v *model.Variable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[configKey{v.TenantID, v.AgentID, v.ID}] = v
}

func (s *InMemoryConfigStore) SeedToolActivation(t *model.ToolActivation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activations[configKey{t.TenantID, t.AgentID, t.ToolID}] = t
}

func (s *InMemoryConfigStore) GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[configKey{tenantID, agentID, agentID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "agent not found")
	}
	return a, nil
}

func (s *InMemoryConfigStore) GetRule(ctx context.Context, tenantID, agentID, ruleID string) (*model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[configKey{tenantID, agentID, ruleID}]
	if !ok || r.IsDeleted() {
		return nil, errs.New(errs.NotFound, "rule not found")
	}
	return r, nil
}

func (s *InMemoryConfigStore) ListRules(ctx context.Context, tenantID, agentID string, scope model.RuleScope, scopeID string) ([]*model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Rule
	for _, r := range s.rules {
		if r.TenantID != tenantID || r.AgentID != agentID || r.IsDeleted() {
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
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryConfigStore) UpsertRule(ctx context.Context, rule *model.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[configKey{rule.TenantID, rule.AgentID, rule.ID}] = rule
	return nil
}

func (s *InMemoryConfigStore) SoftDeleteRule(ctx context.Context, tenantID, agentID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[configKey{tenantID, agentID, ruleID}]
	if !ok {
		return errs.New(errs.NotFound, "rule not found")
	}
	now := r.UpdatedAt
	r.DeletedAt = &now
	return nil
}

func (s *InMemoryConfigStore) VectorSearchRules(ctx context.Context, tenantID, agentID string, queryEmbedding []float32, scope model.RuleScope, scopeID string, limit int, minScore float64) ([]RuleSearchResult, error) {
	rules, err := s.ListRules(ctx, tenantID, agentID, scope, scopeID)
	if err != nil {
		return nil, err
	}
	var results []RuleSearchResult
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		score := vectorutil.Cosine(queryEmbedding, r.ConditionEmbedding)
		if score < minScore {
			continue
		}
		results = append(results, RuleSearchResult{Rule: r, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *InMemoryConfigStore) GetScenario(ctx context.Context, tenantID, agentID, scenarioID string) (*model.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[configKey{tenantID, agentID, scenarioID}]
	if !ok || sc.IsDeleted() {
		return nil, errs.New(errs.NotFound, "scenario not found")
	}
	return sc, nil
}

func (s *InMemoryConfigStore) ListScenarios(ctx context.Context, tenantID, agentID string) ([]*model.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Scenario
	for _, sc := range s.scenarios {
		if sc.TenantID == tenantID && sc.AgentID == agentID && !sc.IsDeleted() {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryConfigStore) UpsertScenario(ctx context.Context, scenario *model.Scenario) error {
	if err := scenario.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios[configKey{scenario.TenantID, scenario.AgentID, scenario.ID}] = scenario
	return nil
}

func archiveKey(tenantID, agentID, scenarioID string, version int) string {
	return tenantID + "/" + agentID + "/" + scenarioID + "/" + itoa(version)
}

func (s *InMemoryConfigStore) ArchiveScenarioVersion(ctx context.Context, tenantID, agentID, scenarioID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[configKey{tenantID, agentID, scenarioID}]
	if !ok {
		return errs.New(errs.NotFound, "scenario not found")
	}
	cp := *sc
	s.archived[archiveKey(tenantID, agentID, scenarioID, version)] = &cp
	return nil
}

func (s *InMemoryConfigStore) GetArchivedScenario(ctx context.Context, tenantID, agentID, scenarioID string, version int) (*model.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.archived[archiveKey(tenantID, agentID, scenarioID, version)]
	if !ok {
		return nil, errs.New(errs.NotFound, "archived scenario version not found")
	}
	return sc, nil
}

func (s *InMemoryConfigStore) VectorSearchScenarios(ctx context.Context, tenantID, agentID string, queryEmbedding []float32, limit int, minScore float64) ([]ScenarioSearchResult, error) {
	scenarios, err := s.ListScenarios(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	var results []ScenarioSearchResult
	for _, sc := range scenarios {
		score := vectorutil.Cosine(queryEmbedding, sc.EntryEmbedding)
		if score < minScore {
			continue
		}
		results = append(results, ScenarioSearchResult{Scenario: sc, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *InMemoryConfigStore) GetTemplate(ctx context.Context, tenantID, agentID, templateID string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[configKey{tenantID, agentID, templateID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "template not found")
	}
	return t, nil
}

func (s *InMemoryConfigStore) ListTemplates(ctx context.Context, tenantID, agentID string) ([]*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Template
	for _, t := range s.templates {
		if t.TenantID == tenantID && t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *InMemoryConfigStore) UpsertTemplate(ctx context.Context, tmpl *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[configKey{tmpl.TenantID, tmpl.AgentID, tmpl.ID}] = tmpl
	return nil
}

func (s *InMemoryConfigStore) GetVariable(ctx context.Context, tenantID, agentID, variableID string) (*model.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[configKey{tenantID, agentID, variableID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "variable not found")
	}
	return v, nil
}

func (s *InMemoryConfigStore) ListVariables(ctx context.Context, tenantID, agentID string) ([]*model.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Variable
	for _, v := range s.variables {
		if v.TenantID == tenantID && v.AgentID == agentID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *InMemoryConfigStore) GetToolActivation(ctx context.Context, tenantID, agentID, toolID string) (*model.ToolActivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.activations[configKey{tenantID, agentID, toolID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "tool activation not found")
	}
	return t, nil
}

func (s *InMemoryConfigStore) ListToolActivations(ctx context.Context, tenantID, agentID string) ([]*model.ToolActivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ToolActivation
	for _, t := range s.activations {
		if t.TenantID == tenantID && t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *InMemoryConfigStore) SaveMigrationPlan(ctx context.Context, plan *model.MigrationPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[configKey{plan.TenantID, plan.AgentID, plan.ID}] = plan
	return nil
}

func (s *InMemoryConfigStore) GetMigrationPlan(ctx context.Context, tenantID, agentID, planID string) (*model.MigrationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[configKey{tenantID, agentID, planID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "migration plan not found")
	}
	return p, nil
}

func (s *InMemoryConfigStore) FindMigrationPlanByVersions(ctx context.Context, tenantID, agentID, scenarioID string, fromVersion, toVersion int) (*model.MigrationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.TenantID == tenantID && p.AgentID == agentID && p.ScenarioID == scenarioID &&
			p.Map.FromVersion == fromVersion && p.Map.ToVersion == toVersion {
			return p, nil
		}
	}
	return nil, errs.New(errs.NotFound, "migration plan not found for version pair")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

var _ ConfigStore = (*InMemoryConfigStore)(nil)
