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
	"fmt"

	"github.com/latchframe/alignment-engine/internal/ids"
	"github.com/latchframe/alignment-engine/internal/model"
)

// Planner computes a reviewable MigrationPlan between two published
// versions of a scenario (spec §4.9, §3 "MigrationPlan").
type Planner struct{}

// NewPlanner returns a stateless Planner; it holds no dependencies
// because diffing only needs the two scenario graphs it is given.
func NewPlanner() *Planner { return &Planner{} }

// Plan builds a PENDING MigrationPlan from v1 to v2. scopeFilter is
// carried through unchanged for the deployer to apply when selecting
// affected sessions (spec §4.9 "scope_filter narrows which sessions a
// plan applies to, e.g. a tenant or cohort").
func (p *Planner) Plan(v1, v2 *model.Scenario, scopeFilter string) (*model.MigrationPlan, error) {
	if v1.ID != v2.ID {
		return nil, fmt.Errorf("migration: scenario id mismatch: %q vs %q", v1.ID, v2.ID)
	}
	if v2.Version <= v1.Version {
		return nil, fmt.Errorf("migration: target version %d must be greater than source version %d", v2.Version, v1.Version)
	}

	anchors := FindAnchors(v1, v2)
	policies := make([]model.AnchorPolicy, len(anchors))
	for i, a := range anchors {
		policies[i] = Classify(v1, v2, a)
	}

	var warnings []string
	if len(anchors) == 0 {
		warnings = append(warnings, "no anchors found between versions; no in-flight session can be reconciled automatically and every affected session will require manual intervention")
	}

	return &model.MigrationPlan{
		AgentHeader: v2.AgentHeader,
		ID:          ids.Prefixed("migplan"),
		ScenarioID:  v2.ID,
		Map: model.TransformationMap{
			FromVersion: v1.Version,
			ToVersion:   v2.Version,
			Anchors:     policies,
		},
		ScopeFilter: scopeFilter,
		Warnings:    warnings,
		Summary:     summarizePolicies(policies),
		Status:      model.PlanPending,
	}, nil
}

func summarizePolicies(policies []model.AnchorPolicy) string {
	var clean, gapFill, reroute int
	for _, p := range policies {
		switch p.Scenario {
		case model.CleanGraft:
			clean++
		case model.GapFill:
			gapFill++
		case model.ReRoute:
			reroute++
		}
	}
	return fmt.Sprintf("%d anchors: %d clean graft, %d gap fill, %d re-route", len(policies), clean, gapFill, reroute)
}

// ApplyOverride replaces the policy for the given V1 anchor step id
// with an operator-supplied one, preserving the anchor identity fields
// (spec §4.9 "an operator may override per-anchor policy before
// approval"). It returns an error if no such anchor exists in the plan.
func ApplyOverride(plan *model.MigrationPlan, anchorStepIDV1 string, override model.AnchorPolicy) error {
	for i := range plan.Map.Anchors {
		if plan.Map.Anchors[i].AnchorStepIDV1 != anchorStepIDV1 {
			continue
		}
		override.AnchorStepIDV1 = plan.Map.Anchors[i].AnchorStepIDV1
		override.AnchorStepIDV2 = plan.Map.Anchors[i].AnchorStepIDV2
		override.AnchorHash = plan.Map.Anchors[i].AnchorHash
		plan.Map.Anchors[i] = override
		plan.Summary = summarizePolicies(plan.Map.Anchors)
		return nil
	}
	return fmt.Errorf("migration: no anchor with v1 step id %q in plan %s", anchorStepIDV1, plan.ID)
}
