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
	"fmt"

	"github.com/latchframe/alignment-engine/internal/errs"
)

// StepType classifies a ScenarioStep's behavior.
type StepType string

const (
	StepAction      StepType = "ACTION"
	StepInteraction StepType = "INTERACTION"
	StepLogic       StepType = "LOGIC"
)

// Scenario is an agent-scoped directed graph representing a business
// flow (spec §3 "Scenario").
type Scenario struct {
	AgentHeader    `mapstructure:",squash"`
	ID             string     `json:"id"`
	Version        int        `json:"version"`
	EntryStepID    string     `json:"entry_step_id"`
	EntryExamples  []string   `json:"entry_examples,omitempty"`
	IntentLabel    string     `json:"intent_label,omitempty"`
	EntryEmbedding []float32  `json:"entry_embedding,omitempty"`
	Steps          []*ScenarioStep `json:"steps"`
}

// StepByID looks up a step within the scenario.
func (s *Scenario) StepByID(id string) *ScenarioStep {
	for _, st := range s.Steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// IsTerminal reports whether the step has no outgoing transitions.
func (st *ScenarioStep) IsTerminal() bool { return len(st.Transitions) == 0 }

// ScenarioStep is a node in a Scenario graph (spec §3 "ScenarioStep").
type ScenarioStep struct {
	ID              string             `json:"id"`
	Type            StepType           `json:"type"`
	Description     string             `json:"description,omitempty"`
	LocalRuleIDs    []string           `json:"local_rule_ids,omitempty"`
	RequiredFields  []string           `json:"required_fields,omitempty"`
	Transitions     []*StepTransition  `json:"transitions"`
	Embedding       []float32          `json:"embedding,omitempty"`
}

// StepTransition is a directed edge out of a ScenarioStep (spec §3
// "StepTransition"). Order within a step's Transitions slice is
// authoring order and is used for deterministic tie-breaks.
type StepTransition struct {
	TargetStepID      string  `json:"target_step_id"`
	ConditionExpr     string  `json:"condition_expr,omitempty"`
	IntentMatch       string  `json:"intent_match,omitempty"`
	LLMAdjudicate     bool    `json:"llm_adjudicate,omitempty"`
}

// Validate checks the graph-validity invariants from spec §3: entry
// exists, every transition target exists, every step is reachable from
// entry, and at least one terminal step exists.
func (s *Scenario) Validate() error {
	if s.EntryStepID == "" || s.StepByID(s.EntryStepID) == nil {
		return errs.New(errs.Validation, "scenario entry_step_id does not resolve to a step")
	}
	ids := make(map[string]*ScenarioStep, len(s.Steps))
	for _, st := range s.Steps {
		ids[st.ID] = st
	}
	for _, st := range s.Steps {
		for _, tr := range st.Transitions {
			if _, ok := ids[tr.TargetStepID]; !ok {
				return errs.New(errs.Validation, fmt.Sprintf("transition from %q targets unknown step %q", st.ID, tr.TargetStepID))
			}
		}
	}
	reachable := map[string]bool{s.EntryStepID: true}
	queue := []string{s.EntryStepID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		st := ids[cur]
		if st == nil {
			continue
		}
		for _, tr := range st.Transitions {
			if !reachable[tr.TargetStepID] {
				reachable[tr.TargetStepID] = true
				queue = append(queue, tr.TargetStepID)
			}
		}
	}
	for _, st := range s.Steps {
		if !reachable[st.ID] {
			return errs.New(errs.Validation, fmt.Sprintf("step %q is unreachable from entry", st.ID))
		}
	}
	hasTerminal := false
	for _, st := range s.Steps {
		if st.IsTerminal() {
			hasTerminal = true
			break
		}
	}
	if !hasTerminal {
		return errs.New(errs.Validation, "scenario has no terminal step")
	}
	return nil
}
