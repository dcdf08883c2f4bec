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
)

func validScenario() *Scenario {
	return &Scenario{
		EntryStepID: "greet",
		Steps: []*ScenarioStep{
			{ID: "greet", Transitions: []*StepTransition{{TargetStepID: "confirm"}}},
			{ID: "confirm"},
		},
	}
}

func TestScenarioStepByIDFindsAndMisses(t *testing.T) {
	s := validScenario()
	assert.Equal(t, "greet", s.StepByID("greet").ID)
	assert.Nil(t, s.StepByID("missing"))
}

func TestScenarioStepIsTerminal(t *testing.T) {
	s := validScenario()
	assert.False(t, s.StepByID("greet").IsTerminal())
	assert.True(t, s.StepByID("confirm").IsTerminal())
}

func TestScenarioValidateAcceptsWellFormedGraph(t *testing.T) {
	assert.NoError(t, validScenario().Validate())
}

func TestScenarioValidateRejectsUnknownEntryStep(t *testing.T) {
	s := validScenario()
	s.EntryStepID = "does-not-exist"
	assert.Error(t, s.Validate())
}

func TestScenarioValidateRejectsTransitionToUnknownStep(t *testing.T) {
	s := validScenario()
	s.Steps[0].Transitions = append(s.Steps[0].Transitions, &StepTransition{TargetStepID: "nowhere"})
	assert.Error(t, s.Validate())
}

func TestScenarioValidateRejectsUnreachableStep(t *testing.T) {
	s := validScenario()
	s.Steps = append(s.Steps, &ScenarioStep{ID: "orphan"})
	assert.Error(t, s.Validate())
}

func TestScenarioValidateRejectsGraphWithNoTerminalStep(t *testing.T) {
	s := &Scenario{
		EntryStepID: "a",
		Steps: []*ScenarioStep{
			{ID: "a", Transitions: []*StepTransition{{TargetStepID: "b"}}},
			{ID: "b", Transitions: []*StepTransition{{TargetStepID: "a"}}},
		},
	}
	assert.Error(t, s.Validate())
}
