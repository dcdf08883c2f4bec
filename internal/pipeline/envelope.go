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

package pipeline

import (
	"github.com/a2aproject/a2a-go/a2a"

	"github.com/latchframe/alignment-engine/internal/toolexec"
)

// buildTurnEnvelope assembles one turn's canonical A2A message, the same
// envelope shape the teacher's agent runtime threads through its event
// stream (pkg/agent/event.go's Event.Message): the user's text first,
// then one data part per tool call/result, then the agent's reply. This
// is what lets a turn record be handed to any A2A-speaking consumer
// (an A2A server, a transcript viewer) without a bespoke translation.
func buildTurnEnvelope(userMessage, agentResponse string, toolResults []toolexec.Result) *a2a.Message {
	parts := make([]a2a.Part, 0, len(toolResults)+2)
	parts = append(parts, a2a.TextPart{Text: userMessage})
	for _, tr := range toolResults {
		parts = append(parts, a2a.DataPart{Data: toolCallData(tr)})
	}
	parts = append(parts, a2a.TextPart{Text: agentResponse})

	return a2a.NewMessage(a2a.MessageRoleAgent, parts...)
}

func toolCallData(tr toolexec.Result) map[string]any {
	data := map[string]any{
		"type":    "tool_call",
		"tool_id": tr.ToolID,
		"inputs":  tr.Inputs,
		"success": tr.Success,
	}
	if tr.Success {
		data["output"] = tr.Output
	} else {
		data["error"] = tr.Error
	}
	return data
}
