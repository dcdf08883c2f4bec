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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationPlanAnchorForFindsByHash(t *testing.T) {
	plan := &MigrationPlan{
		Map: TransformationMap{
			Anchors: []AnchorPolicy{
				{AnchorHash: "hash-a", Scenario: CleanGraft},
				{AnchorHash: "hash-b", Scenario: GapFill, RequiredFields: []string{"phone"}},
			},
		},
	}

	found := plan.AnchorFor("hash-b")
	require.NotNil(t, found)
	assert.Equal(t, GapFill, found.Scenario)
	assert.Equal(t, []string{"phone"}, found.RequiredFields)
}

func TestMigrationPlanAnchorForReturnsNilWhenMissing(t *testing.T) {
	plan := &MigrationPlan{Map: TransformationMap{Anchors: []AnchorPolicy{{AnchorHash: "hash-a"}}}}
	assert.Nil(t, plan.AnchorFor("does-not-exist"))
}

func TestMigrationPlanAnchorForMutatesThroughPointer(t *testing.T) {
	plan := &MigrationPlan{Map: TransformationMap{Anchors: []AnchorPolicy{{AnchorHash: "hash-a", Scenario: GapFill}}}}

	found := plan.AnchorFor("hash-a")
	require.NotNil(t, found)
	found.Scenario = CleanGraft

	assert.Equal(t, CleanGraft, plan.Map.Anchors[0].Scenario, "AnchorFor returns a pointer into the backing slice, not a copy")
}
