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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/latchframe/alignment-engine/internal/model"
)

// FileConfigStore is a dev/local ConfigStore backed by a directory of
// YAML fixtures, one file per record, laid out as:
//
//	<dir>/agents/*.yaml       -> model.Agent
//	<dir>/rules/*.yaml        -> model.Rule
//	<dir>/scenarios/*.yaml    -> model.Scenario
//	<dir>/templates/*.yaml    -> model.Template
//	<dir>/variables/*.yaml    -> model.Variable
//	<dir>/activations/*.yaml  -> model.ToolActivation
//
// It is grounded on the teacher's pkg/config/loader.go (yaml.Unmarshal
// into a map, then mapstructure.Decode into a typed struct) and
// pkg/config/provider/file.go (fsnotify directory watch with a debounce
// timer). ArchiveScenarioVersion/SaveMigrationPlan are process-local:
// the fixture directory is the source of truth for everything else, but
// archived versions and migration plans are runtime-generated and have
// no YAML fixture form.
type FileConfigStore struct {
	dir string

	mu    sync.RWMutex
	inner *InMemoryConfigStore

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewFileConfigStore loads every fixture under dir and returns a ready
// store. Call Watch to pick up subsequent edits.
func NewFileConfigStore(dir string) (*FileConfigStore, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}

	inner, err := loadConfigDir(absDir)
	if err != nil {
		return nil, err
	}

	return &FileConfigStore{dir: absDir, inner: inner}, nil
}

func loadConfigDir(dir string) (*InMemoryConfigStore, error) {
	store := NewInMemoryConfigStore()

	loaders := []struct {
		subdir string
		load   func(*InMemoryConfigStore, map[string]any) error
	}{
		{"agents", func(s *InMemoryConfigStore, raw map[string]any) error {
			var a model.Agent
			if err := decodeFixture(raw, &a); err != nil {
				return err
			}
			s.SeedAgent(&a)
			return nil
		}},
		{"rules", func(s *InMemoryConfigStore, raw map[string]any) error {
			var r model.Rule
			if err := decodeFixture(raw, &r); err != nil {
				return err
			}
			s.SeedRule(&r)
			return nil
		}},
		{"scenarios", func(s *InMemoryConfigStore, raw map[string]any) error {
			var sc model.Scenario
			if err := decodeFixture(raw, &sc); err != nil {
				return err
			}
			s.SeedScenario(&sc)
			return nil
		}},
		{"templates", func(s *InMemoryConfigStore, raw map[string]any) error {
			var t model.Template
			if err := decodeFixture(raw, &t); err != nil {
				return err
			}
			s.SeedTemplate(&t)
			return nil
		}},
		{"variables", func(s *InMemoryConfigStore, raw map[string]any) error {
			var v model.Variable
			if err := decodeFixture(raw, &v); err != nil {
				return err
			}
			s.SeedVariable(&v)
			return nil
		}},
		{"activations", func(s *InMemoryConfigStore, raw map[string]any) error {
			var ta model.ToolActivation
			if err := decodeFixture(raw, &ta); err != nil {
				return err
			}
			s.SeedToolActivation(&ta)
			return nil
		}},
	}

	for _, l := range loaders {
		files, err := filepath.Glob(filepath.Join(dir, l.subdir, "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("glob %s fixtures: %w", l.subdir, err)
		}
		for _, f := range files {
			raw, err := parseYAMLFile(f)
			if err != nil {
				return nil, err
			}
			if err := l.load(store, raw); err != nil {
				return nil, fmt.Errorf("decode %s: %w", f, err)
			}
		}
	}

	return store, nil
}

func parseYAMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return raw, nil
}

// decodeFixture decodes a parsed YAML document into a model struct using
// its existing `json` tags, so fixtures use the same field names the
// JSON wire format does.
func decodeFixture(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	return decoder.Decode(raw)
}

// Watch starts an fsnotify watch over every fixture subdirectory and
// hot-reloads the whole store on any write/create/remove, debounced the
// way pkg/config/provider/file.go debounces a single config file. It
// runs until ctx is cancelled or Close is called.
func (s *FileConfigStore) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	if s.closed {
		s.watchMu.Unlock()
		return fmt.Errorf("config store is closed")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.watchMu.Unlock()
		return fmt.Errorf("create file watcher: %w", err)
	}
	for _, subdir := range []string{"agents", "rules", "scenarios", "templates", "variables", "activations"} {
		dir := filepath.Join(s.dir, subdir)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			s.watchMu.Unlock()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	s.watcher = watcher
	s.watchMu.Unlock()

	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer
	reload := func() {
		inner, err := loadConfigDir(s.dir)
		if err != nil {
			slog.Error("failed to reload config fixtures", "dir", s.dir, "error", err)
			return
		}
		s.mu.Lock()
		s.inner = inner
		s.mu.Unlock()
		slog.Info("config fixtures reloaded", "dir", s.dir)
	}

	for {
		select {
		case <-ctx.Done():
			watcher.Close()
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, reload)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config file watcher error", "error", watchErr)
		}
	}
}

// Close releases the watcher, if any.
func (s *FileConfigStore) Close() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.closed = true
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

func (s *FileConfigStore) current() *InMemoryConfigStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner
}

func (s *FileConfigStore) GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	return s.current().GetAgent(ctx, tenantID, agentID)
}

func (s *FileConfigStore) GetRule(ctx context.Context, tenantID, agentID, ruleID string) (*model.Rule, error) {
	return s.current().GetRule(ctx, tenantID, agentID, ruleID)
}

func (s *FileConfigStore) ListRules(ctx context.Context, tenantID, agentID string, scope model.RuleScope, scopeID string) ([]*model.Rule, error) {
	return s.current().ListRules(ctx, tenantID, agentID, scope, scopeID)
}

func (s *FileConfigStore) UpsertRule(ctx context.Context, rule *model.Rule) error {
	return s.current().UpsertRule(ctx, rule)
}

func (s *FileConfigStore) SoftDeleteRule(ctx context.Context, tenantID, agentID, ruleID string) error {
	return s.current().SoftDeleteRule(ctx, tenantID, agentID, ruleID)
}

func (s *FileConfigStore) VectorSearchRules(ctx context.Context, tenantID, agentID string, queryEmbedding []float32, scope model.RuleScope, scopeID string, limit int, minScore float64) ([]RuleSearchResult, error) {
	return s.current().VectorSearchRules(ctx, tenantID, agentID, queryEmbedding, scope, scopeID, limit, minScore)
}

func (s *FileConfigStore) GetScenario(ctx context.Context, tenantID, agentID, scenarioID string) (*model.Scenario, error) {
	return s.current().GetScenario(ctx, tenantID, agentID, scenarioID)
}

func (s *FileConfigStore) ListScenarios(ctx context.Context, tenantID, agentID string) ([]*model.Scenario, error) {
	return s.current().ListScenarios(ctx, tenantID, agentID)
}

func (s *FileConfigStore) UpsertScenario(ctx context.Context, scenario *model.Scenario) error {
	return s.current().UpsertScenario(ctx, scenario)
}

func (s *FileConfigStore) ArchiveScenarioVersion(ctx context.Context, tenantID, agentID, scenarioID string, version int) error {
	return s.current().ArchiveScenarioVersion(ctx, tenantID, agentID, scenarioID, version)
}

func (s *FileConfigStore) GetArchivedScenario(ctx context.Context, tenantID, agentID, scenarioID string, version int) (*model.Scenario, error) {
	return s.current().GetArchivedScenario(ctx, tenantID, agentID, scenarioID, version)
}

func (s *FileConfigStore) VectorSearchScenarios(ctx context.Context, tenantID, agentID string, queryEmbedding []float32, limit int, minScore float64) ([]ScenarioSearchResult, error) {
	return s.current().VectorSearchScenarios(ctx, tenantID, agentID, queryEmbedding, limit, minScore)
}

func (s *FileConfigStore) GetTemplate(ctx context.Context, tenantID, agentID, templateID string) (*model.Template, error) {
	return s.current().GetTemplate(ctx, tenantID, agentID, templateID)
}

func (s *FileConfigStore) ListTemplates(ctx context.Context, tenantID, agentID string) ([]*model.Template, error) {
	return s.current().ListTemplates(ctx, tenantID, agentID)
}

func (s *FileConfigStore) UpsertTemplate(ctx context.Context, tmpl *model.Template) error {
	return s.current().UpsertTemplate(ctx, tmpl)
}

func (s *FileConfigStore) GetVariable(ctx context.Context, tenantID, agentID, variableID string) (*model.Variable, error) {
	return s.current().GetVariable(ctx, tenantID, agentID, variableID)
}

func (s *FileConfigStore) ListVariables(ctx context.Context, tenantID, agentID string) ([]*model.Variable, error) {
	return s.current().ListVariables(ctx, tenantID, agentID)
}

func (s *FileConfigStore) GetToolActivation(ctx context.Context, tenantID, agentID, toolID string) (*model.ToolActivation, error) {
	return s.current().GetToolActivation(ctx, tenantID, agentID, toolID)
}

func (s *FileConfigStore) ListToolActivations(ctx context.Context, tenantID, agentID string) ([]*model.ToolActivation, error) {
	return s.current().ListToolActivations(ctx, tenantID, agentID)
}

func (s *FileConfigStore) SaveMigrationPlan(ctx context.Context, plan *model.MigrationPlan) error {
	return s.current().SaveMigrationPlan(ctx, plan)
}

func (s *FileConfigStore) GetMigrationPlan(ctx context.Context, tenantID, agentID, planID string) (*model.MigrationPlan, error) {
	return s.current().GetMigrationPlan(ctx, tenantID, agentID, planID)
}

func (s *FileConfigStore) FindMigrationPlanByVersions(ctx context.Context, tenantID, agentID, scenarioID string, fromVersion, toVersion int) (*model.MigrationPlan, error) {
	return s.current().FindMigrationPlanByVersions(ctx, tenantID, agentID, scenarioID, fromVersion, toVersion)
}

var _ ConfigStore = (*FileConfigStore)(nil)
