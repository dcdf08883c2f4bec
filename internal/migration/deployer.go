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

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/store"
)

// Deployer marks in-flight sessions for just-in-time reconciliation
// once an operator has approved a MigrationPlan (spec §4.9 "deploying a
// plan writes session.pending_migration rather than rewriting session
// state directly, so reconciliation happens on the session's own next
// turn under its own lock").
type Deployer struct {
	sessions store.SessionStore
	config   store.ConfigStore
	signer   *ApprovalSigner
}

// NewDeployer wires the stores and signer a deploy needs to verify
// approval and locate affected sessions.
func NewDeployer(sessions store.SessionStore, config store.ConfigStore, signer *ApprovalSigner) *Deployer {
	return &Deployer{sessions: sessions, config: config, signer: signer}
}

// DeployResult reports how many sessions were marked per anchor.
type DeployResult struct {
	AnchorHash   string
	SessionCount int
}

// Deploy requires plan.Status == APPROVED with a valid signature, then
// for every anchor queries sessions parked at that anchor's V1 step and
// writes PendingMigration onto each — it never mutates a session's
// scenario position itself, leaving that to the JIT MigrationExecutor
// (spec §4.9, §5 "migration deployment must not race a session's own
// turn processing").
func (d *Deployer) Deploy(ctx context.Context, plan *model.MigrationPlan) ([]DeployResult, error) {
	if plan.Status != model.PlanApproved {
		return nil, fmt.Errorf("migration: plan %s is %s, not APPROVED", plan.ID, plan.Status)
	}
	if d.signer != nil {
		if err := d.signer.Verify(plan); err != nil {
			return nil, fmt.Errorf("migration: refusing to deploy: %w", err)
		}
	}

	results := make([]DeployResult, 0, len(plan.Map.Anchors))
	for _, anchor := range plan.Map.Anchors {
		sessions, err := d.sessions.FindSessionsByStepHash(
			ctx, plan.TenantID, plan.ScenarioID, plan.Map.FromVersion, anchor.AnchorStepIDV1, plan.ScopeFilter,
		)
		if err != nil {
			return nil, fmt.Errorf("migration: finding sessions for anchor %s: %w", anchor.AnchorHash, err)
		}

		for _, sess := range sessions {
			sess.PendingMigration = &model.PendingMigration{
				PlanID:     plan.ID,
				AnchorHash: anchor.AnchorHash,
			}
			if err := d.sessions.Save(ctx, sess); err != nil {
				return nil, fmt.Errorf("migration: marking session %s pending: %w", sess.SessionID, err)
			}
		}
		results = append(results, DeployResult{AnchorHash: anchor.AnchorHash, SessionCount: len(sessions)})
	}

	plan.Status = model.PlanDeployed
	if err := d.config.SaveMigrationPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("migration: saving deployed plan %s: %w", plan.ID, err)
	}
	return results, nil
}
