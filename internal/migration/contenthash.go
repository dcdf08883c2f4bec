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

// Package migration reconciles in-flight sessions across scenario
// version republishes (spec §4.9): content-hash-based anchor detection,
// per-anchor remediation classification, plan review/deployment, and
// just-in-time execution including gap fill and composite pruning.
package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/latchframe/alignment-engine/internal/model"
)

type canonicalTransition struct {
	TargetStepID  string `json:"target_step_id"`
	ConditionExpr string `json:"condition_expr,omitempty"`
	IntentMatch   string `json:"intent_match,omitempty"`
}

type canonicalStep struct {
	Type           string                 `json:"type"`
	Description    string                 `json:"description"`
	RequiredFields []string               `json:"required_fields"`
	Transitions    []canonicalTransition  `json:"transitions"`
}

// ContentHash implements spec §4.9: SHA256 of the canonical JSON of
// {type, description, required_fields, ordered transitions by semantic
// content}, truncated to 16 hex characters. Required fields and
// transitions are sorted into a canonical order first, so two steps
// that differ only in authoring order of equivalent transitions hash
// identically.
func ContentHash(step *model.ScenarioStep) string {
	fields := append([]string(nil), step.RequiredFields...)
	sort.Strings(fields)

	transitions := make([]canonicalTransition, len(step.Transitions))
	for i, t := range step.Transitions {
		transitions[i] = canonicalTransition{
			TargetStepID:  t.TargetStepID,
			ConditionExpr: t.ConditionExpr,
			IntentMatch:   t.IntentMatch,
		}
	}
	sort.Slice(transitions, func(i, j int) bool {
		return transitionKey(transitions[i]) < transitionKey(transitions[j])
	})

	canon := canonicalStep{
		Type:           string(step.Type),
		Description:    step.Description,
		RequiredFields: fields,
		Transitions:    transitions,
	}
	data, err := json.Marshal(canon)
	if err != nil {
		// canon is built entirely from concrete, marshalable fields;
		// this can only fail on an impossible encoding state.
		panic(err)
	}
	return truncatedSHA256(data)
}

func transitionKey(t canonicalTransition) string {
	return t.TargetStepID + "|" + t.ConditionExpr + "|" + t.IntentMatch
}

// ScenarioChecksum is the hash over a scenario's ordered step hashes
// (spec §4.9 "A scenario checksum is the hash over ordered step
// hashes").
func ScenarioChecksum(s *model.Scenario) string {
	hashes := make([]string, len(s.Steps))
	for i, st := range s.Steps {
		hashes[i] = ContentHash(st)
	}
	sort.Strings(hashes)
	return truncatedSHA256([]byte(strings.Join(hashes, ",")))
}

func truncatedSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
