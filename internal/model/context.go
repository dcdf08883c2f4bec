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

// Entity is one structured fact the context extractor pulled from a
// user message (e.g. an order id, an amount, a date).
type Entity struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Context is the enriched, structured understanding of one inbound
// message produced by the context extractor (spec §4.2).
type Context struct {
	IntentLabel      string          `json:"intent_label,omitempty"`
	Confidence       float64         `json:"confidence"`
	Entities         []Entity        `json:"entities,omitempty"`
	Sentiment        string          `json:"sentiment,omitempty"`
	Urgency          float64         `json:"urgency"`
	ScenarioSignal   ScenarioSignal  `json:"scenario_signal,omitempty"`
	IsAmbiguous      bool            `json:"is_ambiguous"`
	AmbiguityReason  string          `json:"ambiguity_reason,omitempty"`
	Embedding        []float32       `json:"embedding"`
}

// EntityMap returns the entities as a name -> value map, used when
// building the enforcement/transition variable environment.
func (c *Context) EntityMap() map[string]string {
	m := make(map[string]string, len(c.Entities))
	for _, e := range c.Entities {
		m[e.Name] = e.Value
	}
	return m
}
