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
	"fmt"
	"sort"

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/store"
)

// CompositePlan is the single effective remediation a session more
// than one version behind should execute: every intermediate
// version-to-version hop collapsed into one accumulated field list
// anchored on the step the chain ultimately lands on (spec §4.9
// "Composite migrations").
type CompositePlan struct {
	FromVersion    int
	ToVersion      int
	FinalPolicy    model.AnchorPolicy
	RequiredFields []string
}

// CompositeMapper walks a chain of per-hop MigrationPlans (each
// covering one version-to-version republish) and accumulates the
// GAP_FILL field requirements across the whole chain, pruning any
// field that no longer appears in the final version's steps so the
// customer is never asked for data the scenario stopped collecting
// partway through the chain.
type CompositeMapper struct {
	config store.ConfigStore
}

// NewCompositeMapper wires the config store the chain is loaded from.
func NewCompositeMapper(config store.ConfigStore) *CompositeMapper {
	return &CompositeMapper{config: config}
}

// Build traces startAnchorHash from fromVersion forward, hop by hop,
// to toVersion. Each hop's plan must exist (one MigrationPlan per
// consecutive version pair); the anchor is followed across hops by its
// V2-side step id, since content_hash can legitimately differ once the
// step picks up further edits in a later hop while remaining the same
// logical step.
func (m *CompositeMapper) Build(ctx context.Context, tenantID, agentID, scenarioID string, fromVersion, toVersion int, startAnchorHash string) (*CompositePlan, error) {
	if toVersion <= fromVersion {
		return nil, fmt.Errorf("migration: composite target version %d must exceed source %d", toVersion, fromVersion)
	}

	accumulated := map[string]bool{}
	currentHash := startAnchorHash
	var trackedStepID string
	var finalPolicy model.AnchorPolicy

	for v := fromVersion; v < toVersion; v++ {
		plan, err := m.config.FindMigrationPlanByVersions(ctx, tenantID, agentID, scenarioID, v, v+1)
		if err != nil {
			return nil, fmt.Errorf("migration: no plan from v%d to v%d: %w", v, v+1, err)
		}

		var policy *model.AnchorPolicy
		if trackedStepID == "" {
			policy = plan.AnchorFor(currentHash)
		} else {
			policy = anchorByV1StepID(plan, trackedStepID)
		}
		if policy == nil {
			return nil, fmt.Errorf("migration: anchor chain broken at v%d->v%d", v, v+1)
		}

		if policy.Scenario == model.GapFill {
			for _, f := range policy.RequiredFields {
				accumulated[f] = true
			}
		}
		trackedStepID = policy.AnchorStepIDV2
		currentHash = policy.AnchorHash
		finalPolicy = *policy
	}

	fields, err := m.pruneObsolete(ctx, tenantID, agentID, scenarioID, toVersion, accumulated)
	if err != nil {
		return nil, err
	}

	return &CompositePlan{
		FromVersion:    fromVersion,
		ToVersion:      toVersion,
		FinalPolicy:    finalPolicy,
		RequiredFields: fields,
	}, nil
}

func anchorByV1StepID(plan *model.MigrationPlan, stepID string) *model.AnchorPolicy {
	for i := range plan.Map.Anchors {
		if plan.Map.Anchors[i].AnchorStepIDV1 == stepID {
			return &plan.Map.Anchors[i]
		}
	}
	return nil
}

// pruneObsolete drops any accumulated field name that does not appear
// in any step's required_fields in the final scenario version.
func (m *CompositeMapper) pruneObsolete(ctx context.Context, tenantID, agentID, scenarioID string, toVersion int, accumulated map[string]bool) ([]string, error) {
	final, err := m.config.GetScenario(ctx, tenantID, agentID, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("migration: loading final scenario %s: %w", scenarioID, err)
	}
	if final.Version != toVersion {
		final, err = m.config.GetArchivedScenario(ctx, tenantID, agentID, scenarioID, toVersion)
		if err != nil {
			return nil, fmt.Errorf("migration: loading archived scenario %s v%d: %w", scenarioID, toVersion, err)
		}
	}

	stillCollected := map[string]bool{}
	for _, st := range final.Steps {
		for _, f := range st.RequiredFields {
			stillCollected[f] = true
		}
	}

	var out []string
	for f := range accumulated {
		if stillCollected[f] {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out, nil
}
