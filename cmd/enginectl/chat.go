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

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/latchframe/alignment-engine/internal/pipeline"
)

// ChatCmd drives an interactive turn-by-turn chat session against a
// seeded demo agent. Grounded on the teacher's startDirectChat in
// cmd/hector/chat_direct.go, generalized from one A2A agent.Agent call
// to one pipeline.Pipeline.Run call per line of input.
type ChatCmd struct {
	Channel       string `help:"Channel name for the demo session." default:"cli"`
	UserChannelID string `name:"user" help:"User identifier within the channel." default:"demo-user"`
}

func (c *ChatCmd) Run(cli *CLI, log *slog.Logger) error {
	ctx := context.Background()

	p, cleanup, err := buildPipeline(ctx, cli, log)
	if err != nil {
		return fmt.Errorf("wiring pipeline: %w", err)
	}
	defer cleanup()

	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("\nChatting with %s/%s (provider=%s model=%s)\n", cli.TenantID, cli.AgentID, cli.Provider, cli.Model)
	fmt.Println("Type your message and press enter. /quit to exit.")
	fmt.Println()

	var sessionID string
	for {
		fmt.Print("you> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			fmt.Println("bye")
			return nil
		}

		result, err := p.Run(ctx, pipeline.Request{
			TenantID:      cli.TenantID,
			AgentID:       cli.AgentID,
			SessionID:     sessionID,
			Channel:       c.Channel,
			UserChannelID: c.UserChannelID,
			Message:       line,
		})
		if err != nil {
			fmt.Printf("error: %v\n\n", err)
			continue
		}
		sessionID = result.SessionID

		fmt.Printf("agent> %s\n", result.ResponseText)
		if len(result.MatchedRuleIDs) > 0 {
			fmt.Printf("  [rules: %s]\n", strings.Join(result.MatchedRuleIDs, ", "))
		}
		fmt.Printf("  [turn=%s latency=%dms tokens=%d]\n\n", result.TurnID, result.LatencyMS, result.TokensUsed)
	}
}
