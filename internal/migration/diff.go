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
	"sort"

	"github.com/latchframe/alignment-engine/internal/model"
)

// Anchor pairs a step that hashes identically across two scenario
// versions (spec §4.9 "anchors are steps with identical content_hash
// in both versions").
type Anchor struct {
	V1Step *model.ScenarioStep
	V2Step *model.ScenarioStep
	Hash   string
}

// FindAnchors returns every step common to v1 and v2 by content hash,
// in v1 authoring order.
func FindAnchors(v1, v2 *model.Scenario) []Anchor {
	v2ByHash := make(map[string]*model.ScenarioStep, len(v2.Steps))
	for _, st := range v2.Steps {
		v2ByHash[ContentHash(st)] = st
	}
	var anchors []Anchor
	for _, st := range v1.Steps {
		h := ContentHash(st)
		if v2st, ok := v2ByHash[h]; ok {
			anchors = append(anchors, Anchor{V1Step: st, V2Step: v2st, Hash: h})
		}
	}
	return anchors
}

// reverseAdjacency builds a predecessor map: target step id -> the
// step ids with a transition into it.
func reverseAdjacency(s *model.Scenario) map[string][]string {
	rev := make(map[string][]string)
	for _, st := range s.Steps {
		for _, tr := range st.Transitions {
			rev[tr.TargetStepID] = append(rev[tr.TargetStepID], st.ID)
		}
	}
	return rev
}

// upstreamIDs is the reverse-BFS closure: every step id that can reach
// target, excluding target itself.
func upstreamIDs(s *model.Scenario, target string) map[string]bool {
	rev := reverseAdjacency(s)
	visited := map[string]bool{}
	queue := append([]string(nil), rev[target]...)
	for _, id := range queue {
		visited[id] = true
	}
	for i := 0; i < len(queue); i++ {
		cur := queue[i]
		for _, pred := range rev[cur] {
			if !visited[pred] {
				visited[pred] = true
				queue = append(queue, pred)
			}
		}
	}
	return visited
}

// upstreamFieldSet unions RequiredFields across a set of step ids.
func upstreamFieldSet(s *model.Scenario, ids map[string]bool) map[string]bool {
	fields := map[string]bool{}
	for _, st := range s.Steps {
		if !ids[st.ID] {
			continue
		}
		for _, f := range st.RequiredFields {
			fields[f] = true
		}
	}
	return fields
}

// upstreamRouting captures, for every upstream step present in both
// versions (by id), the sorted set of transition target step ids — the
// minimal signature needed to detect a branching change.
func upstreamRouting(s *model.Scenario, ids map[string]bool) map[string][]string {
	routing := make(map[string][]string, len(ids))
	for _, st := range s.Steps {
		if !ids[st.ID] {
			continue
		}
		targets := make([]string, len(st.Transitions))
		for i, tr := range st.Transitions {
			targets[i] = tr.TargetStepID
		}
		sort.Strings(targets)
		routing[st.ID] = targets
	}
	return routing
}

// Classify implements spec §4.9's per-anchor remediation rules:
//
//   - RE_ROUTE: a step present in both versions and upstream of the
//     anchor in either of them changed its outgoing branching (targets added, removed, or
//     repointed) — routing decisions made before reaching the anchor no
//     longer mean the same thing, so an in-flight session cannot just be
//     grafted onto the anchor unchanged.
//   - GAP_FILL: no routing change, but v2's upstream requires fields v1's
//     upstream never collected — those fields must be backfilled before
//     the anchor can be reached honestly.
//   - CLEAN_GRAFT: neither of the above; the anchor can be adopted as-is.
//
// RE_ROUTE takes priority over GAP_FILL because a changed fork can itself
// introduce or remove field requirements; the fork is the more
// fundamental break and GAP_FILL is folded into the executor's
// resolution of the new path once rerouted.
func Classify(v1, v2 *model.Scenario, a Anchor) model.AnchorPolicy {
	policy := model.AnchorPolicy{
		AnchorStepIDV1: a.V1Step.ID,
		AnchorStepIDV2: a.V2Step.ID,
		AnchorHash:     a.Hash,
		Scenario:       model.CleanGraft,
	}

	v1Upstream := upstreamIDs(v1, a.V1Step.ID)
	v2Upstream := upstreamIDs(v2, a.V2Step.ID)

	upstream := make(map[string]bool, len(v1Upstream)+len(v2Upstream))
	for id := range v1Upstream {
		upstream[id] = true
	}
	for id := range v2Upstream {
		upstream[id] = true
	}
	v1Routing := upstreamRouting(v1, upstream)
	v2Routing := upstreamRouting(v2, upstream)

	if forkID, changed := routingChanged(v1Routing, v2Routing); changed {
		policy.Scenario = model.ReRoute
		policy.RerouteForkStepID = forkID
		return policy
	}

	v1Fields := upstreamFieldSet(v1, v1Upstream)
	v2Fields := upstreamFieldSet(v2, v2Upstream)
	var newFields []string
	for f := range v2Fields {
		if !v1Fields[f] {
			newFields = append(newFields, f)
		}
	}
	if len(newFields) > 0 {
		sort.Strings(newFields)
		policy.Scenario = model.GapFill
		policy.RequiredFields = newFields
	}
	return policy
}

// routingChanged reports the first (lowest step id, for determinism)
// step present in both routing tables whose sorted transition targets
// differ, i.e. a fork whose branching was edited between versions.
func routingChanged(v1Routing, v2Routing map[string][]string) (string, bool) {
	ids := make([]string, 0, len(v1Routing))
	for id := range v1Routing {
		if _, ok := v2Routing[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !equalStrings(v1Routing[id], v2Routing[id]) {
			return id, true
		}
	}
	return "", false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ClassifyAll runs Classify over every anchor between v1 and v2.
func ClassifyAll(v1, v2 *model.Scenario) []model.AnchorPolicy {
	anchors := FindAnchors(v1, v2)
	policies := make([]model.AnchorPolicy, len(anchors))
	for i, a := range anchors {
		policies[i] = Classify(v1, v2, a)
	}
	return policies
}
