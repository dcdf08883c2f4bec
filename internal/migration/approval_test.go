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
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchframe/alignment-engine/internal/model"
)

func newTestSigner(t *testing.T) *ApprovalSigner {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer, err := NewApprovalSigner(priv, pub, "alignment-engine")
	require.NoError(t, err)
	return signer
}

func TestApprovalSignerApproveThenVerifySucceeds(t *testing.T) {
	signer := newTestSigner(t)
	plan := &model.MigrationPlan{ID: "plan-1", ScenarioID: "scn-return", Status: model.PlanPending,
		Map: model.TransformationMap{FromVersion: 1, ToVersion: 2}}

	record, err := signer.Approve(plan, "ops@example.com", time.Now())
	require.NoError(t, err)
	plan.Approval = record

	assert.NoError(t, signer.Verify(plan))
}

func TestApprovalSignerApproveRejectsNonPendingPlan(t *testing.T) {
	signer := newTestSigner(t)
	plan := &model.MigrationPlan{ID: "plan-1", Status: model.PlanApproved}

	_, err := signer.Approve(plan, "ops@example.com", time.Now())
	assert.Error(t, err)
}

func TestApprovalSignerVerifyRejectsMissingApproval(t *testing.T) {
	signer := newTestSigner(t)
	plan := &model.MigrationPlan{ID: "plan-1", Status: model.PlanApproved}

	assert.Error(t, signer.Verify(plan))
}

func TestApprovalSignerVerifyRejectsTokenReplayedOntoAnotherPlan(t *testing.T) {
	signer := newTestSigner(t)
	planA := &model.MigrationPlan{ID: "plan-a", ScenarioID: "scn-return", Status: model.PlanPending,
		Map: model.TransformationMap{FromVersion: 1, ToVersion: 2}}

	record, err := signer.Approve(planA, "ops@example.com", time.Now())
	require.NoError(t, err)

	planB := &model.MigrationPlan{ID: "plan-b", ScenarioID: "scn-return", Status: model.PlanApproved,
		Map: model.TransformationMap{FromVersion: 1, ToVersion: 2}, Approval: record}

	assert.Error(t, signer.Verify(planB), "a token minted for plan-a must not verify for plan-b even with identical anchors")
}
