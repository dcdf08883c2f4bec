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

func TestNewSessionInitializesMaps(t *testing.T) {
	s := NewSession("t1", "a1", "sess-1", "web", "u1", "profile-1")
	assert.NotNil(t, s.Variables)
	assert.NotNil(t, s.RuleFires)
	assert.NotNil(t, s.RuleLastFireTurn)
	assert.False(t, s.LastActivityAt.IsZero())
}

func TestAppendStepVisitTrimsToMaxStepHistory(t *testing.T) {
	s := NewSession("t1", "a1", "sess-1", "web", "u1", "profile-1")
	for i := 0; i < MaxStepHistory+10; i++ {
		s.AppendStepVisit(StepVisit{StepID: "step", TurnNumber: i})
	}
	require.Len(t, s.StepHistory, MaxStepHistory)
	assert.Equal(t, 10, s.StepHistory[0].TurnNumber, "the oldest 10 visits must be evicted, keeping the most recent MaxStepHistory")
}

func TestVisitedCountTalliesMatchingStepIDs(t *testing.T) {
	s := NewSession("t1", "a1", "sess-1", "web", "u1", "profile-1")
	s.AppendStepVisit(StepVisit{StepID: "confirm"})
	s.AppendStepVisit(StepVisit{StepID: "other"})
	s.AppendStepVisit(StepVisit{StepID: "confirm"})

	assert.Equal(t, 2, s.VisitedCount("confirm"))
	assert.Equal(t, 1, s.VisitedCount("other"))
	assert.Equal(t, 0, s.VisitedCount("never-visited"))
}

func TestClearScenarioResetsScenarioScopedFields(t *testing.T) {
	s := NewSession("t1", "a1", "sess-1", "web", "u1", "profile-1")
	s.ActiveScenarioID = "scn-return"
	s.ActiveStepID = "confirm"
	s.ActiveScenarioVer = 3
	s.RelocalizationCount = 2

	s.ClearScenario()

	assert.Empty(t, s.ActiveScenarioID)
	assert.Empty(t, s.ActiveStepID)
	assert.Zero(t, s.ActiveScenarioVer)
	assert.Zero(t, s.RelocalizationCount)
}
