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
	"time"

	"github.com/a2aproject/a2a-go/a2a"
)

// MaxStepHistory bounds Session.StepHistory (spec §3).
const MaxStepHistory = 100

// Session is the ephemeral-but-persisted conversation state (spec §3
// "Session").
type Session struct {
	TenantID           string             `json:"tenant_id"`
	AgentID            string             `json:"agent_id"`
	SessionID          string             `json:"session_id"`
	Channel            string             `json:"channel"`
	UserChannelID       string            `json:"user_channel_id"`
	CustomerProfileID  string             `json:"customer_profile_id"`
	ActiveScenarioID   string             `json:"active_scenario_id,omitempty"`
	ActiveStepID       string             `json:"active_step_id,omitempty"`
	ActiveScenarioVer  int                `json:"active_scenario_version,omitempty"`
	Variables          map[string]Value   `json:"variables"`
	RuleFires          map[string]int     `json:"rule_fires"`
	RuleLastFireTurn   map[string]int     `json:"rule_last_fire_turn"`
	StepHistory        []StepVisit        `json:"step_history"`
	RelocalizationCount int               `json:"relocalization_count"`
	TurnCount          int                `json:"turn_count"`
	LastActivityAt     time.Time          `json:"last_activity_at"`
	PendingMigration   *PendingMigration  `json:"pending_migration,omitempty"`
	Version            int64             `json:"version"` // optimistic-concurrency token
}

// StepVisit is one entry in the bounded step-history sequence (spec §3).
type StepVisit struct {
	StepID     string    `json:"step_id"`
	EnteredAt  time.Time `json:"entered_at"`
	TurnNumber int       `json:"turn_number"`
	Reason     string    `json:"reason"` // START | TRANSITION | RELOCALIZE
	Confidence float64   `json:"confidence"`
}

// PendingMigration marks a session for JIT reconciliation at the next
// turn (spec §4.9).
type PendingMigration struct {
	PlanID     string `json:"plan_id"`
	AnchorHash string `json:"anchor_hash"`
}

// NewSession constructs a zero-value Session ready for first use.
func NewSession(tenantID, agentID, sessionID, channel, userChannelID, profileID string) *Session {
	return &Session{
		TenantID:          tenantID,
		AgentID:           agentID,
		SessionID:         sessionID,
		Channel:           channel,
		UserChannelID:     userChannelID,
		CustomerProfileID: profileID,
		Variables:         make(map[string]Value),
		RuleFires:         make(map[string]int),
		RuleLastFireTurn:  make(map[string]int),
		LastActivityAt:    time.Now(),
	}
}

// AppendStepVisit appends a visit, trimming to MaxStepHistory (spec §3,
// §8 invariant "step_history.length <= MAX_STEP_HISTORY").
func (s *Session) AppendStepVisit(v StepVisit) {
	s.StepHistory = append(s.StepHistory, v)
	if len(s.StepHistory) > MaxStepHistory {
		s.StepHistory = s.StepHistory[len(s.StepHistory)-MaxStepHistory:]
	}
}

// VisitedCount returns how many times stepID appears in the bounded
// history, used by loop detection (spec §4.6).
func (s *Session) VisitedCount(stepID string) int {
	n := 0
	for _, v := range s.StepHistory {
		if v.StepID == stepID {
			n++
		}
	}
	return n
}

// ClearScenario resets scenario-scoped fields on EXIT (spec §4.6
// "Transition application").
func (s *Session) ClearScenario() {
	s.ActiveScenarioID = ""
	s.ActiveStepID = ""
	s.ActiveScenarioVer = 0
	s.RelocalizationCount = 0
}

// TurnRecord is the immutable audit copy of one turn (spec §3
// "TurnRecord").
type TurnRecord struct {
	TenantID        string    `json:"tenant_id"`
	AgentID         string    `json:"agent_id"`
	SessionID       string    `json:"session_id"`
	TurnID          string    `json:"turn_id"`
	TurnNumber      int       `json:"turn_number"`
	UserMessage     string    `json:"user_message"`
	AgentResponse   string    `json:"agent_response"`
	MatchedRuleIDs  []string  `json:"matched_rule_ids"`
	ToolCallIDs     []string  `json:"tool_call_ids"`
	ScenarioBefore  ScenarioPointer `json:"scenario_before"`
	ScenarioAfter   ScenarioPointer `json:"scenario_after"`
	LatencyMS       int64     `json:"latency_ms"`
	TokensUsed      int       `json:"tokens_used"`
	Timestamp       time.Time `json:"timestamp"`

	// Envelope is the turn's canonical A2A representation — the user
	// message, any tool calls/results, and the agent's reply, each as a
	// part of one a2a.Message — so a turn record can be replayed through or forwarded
	// to any A2A-speaking consumer without a bespoke translation layer.
	Envelope *a2a.Message `json:"envelope,omitempty"`
}

// ScenarioPointer captures a session's scenario/step position at one
// instant, used for TurnRecord.scenario_before/scenario_after.
type ScenarioPointer struct {
	ScenarioID string `json:"scenario_id,omitempty"`
	StepID     string `json:"step_id,omitempty"`
	Version    int    `json:"version,omitempty"`
}
