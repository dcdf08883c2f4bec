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
	"testing"

	"github.com/stretchr/testify/assert"
)

// All CRUD/vector-search methods require a live etcd (and, for vector
// search, Qdrant) cluster; the key-layout helpers below are pure and are
// what is covered without one.

func TestEtcdConfigStoreKeyLayout(t *testing.T) {
	s := &EtcdConfigStore{prefix: "alignment-engine/config"}

	assert.Equal(t, "alignment-engine/config/t1/a1/agent", s.agentKey("t1", "a1"))
	assert.Equal(t, "alignment-engine/config/t1/a1/rules/r1", s.ruleKey("t1", "a1", "r1"))
	assert.Equal(t, "alignment-engine/config/t1/a1/rules/", s.rulePrefix("t1", "a1"))
	assert.Equal(t, "alignment-engine/config/t1/a1/scenarios/s1", s.scenarioKey("t1", "a1", "s1"))
	assert.Equal(t, "alignment-engine/config/t1/a1/scenarios_archive/s1/2", s.archivedScenarioKey("t1", "a1", "s1", 2))
	assert.Equal(t, "alignment-engine/config/t1/a1/templates/tmpl1", s.templateKey("t1", "a1", "tmpl1"))
	assert.Equal(t, "alignment-engine/config/t1/a1/variables/v1", s.variableKey("t1", "a1", "v1"))
	assert.Equal(t, "alignment-engine/config/t1/a1/tool_activations/tool1", s.activationKey("t1", "a1", "tool1"))
	assert.Equal(t, "alignment-engine/config/t1/a1/migration_plans/p1", s.planKey("t1", "a1", "p1"))
}

func TestEtcdConfigStoreNilQdrantClientDisablesVectorSearch(t *testing.T) {
	s := NewEtcdConfigStore(nil, "alignment-engine/config", nil)
	assert.Nil(t, s.vec)
}
