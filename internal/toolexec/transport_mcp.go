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

package toolexec

import (
	"context"
	"fmt"
	"sync"

	sdkclient "github.com/mark3labs/mcp-go/client"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"
)

// MCPTransport calls tools exposed by an MCP server, adapted from
// pkg/tool/mcptoolset/mcptoolset.go's connectHTTP/makeHTTPRequest but
// built on the real mark3labs/mcp-go SSE client rather than a hand-rolled
// JSON-RPC envelope, the way the teacher's mcptoolset already does for
// its stdio transport. One sdkclient.MCPClient is kept per endpoint and
// reused across calls, since the initialize handshake is per-connection.
type MCPTransport struct {
	mu      sync.Mutex
	clients map[string]sdkclient.MCPClient
}

func NewMCPTransport() *MCPTransport {
	return &MCPTransport{
		clients: make(map[string]sdkclient.MCPClient),
	}
}

// connect returns the cached client for spec.Endpoint, dialing and
// running the MCP initialize handshake on first use.
func (t *MCPTransport) connect(ctx context.Context, endpoint string) (sdkclient.MCPClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[endpoint]; ok {
		return c, nil
	}

	c, err := sdkclient.NewSSEMCPClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("create MCP client for %q: %w", endpoint, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start MCP client for %q: %w", endpoint, err)
	}

	initReq := sdkmcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = sdkmcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = sdkmcp.Implementation{
		Name:    "alignment-engine",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize MCP client for %q: %w", endpoint, err)
	}

	t.clients[endpoint] = c
	return c, nil
}

// Invoke calls "tools/call" on spec.Endpoint with the tool's own name
// taken from spec.ID, and flattens the MCP text-content result into a
// plain map the rest of the pipeline can merge into session.variables.
func (t *MCPTransport) Invoke(ctx context.Context, spec ToolSpec, inputs map[string]any) (map[string]any, error) {
	client, err := t.connect(ctx, spec.Endpoint)
	if err != nil {
		return nil, err
	}

	req := sdkmcp.CallToolRequest{}
	req.Params.Name = spec.ID
	req.Params.Arguments = inputs

	result, err := client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}

	return flattenMCPResult(result), nil
}

func flattenMCPResult(result *sdkmcp.CallToolResult) map[string]any {
	out := make(map[string]any)
	if result == nil {
		return out
	}

	var texts []string
	for _, c := range result.Content {
		if tc, ok := c.(sdkmcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	if result.IsError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		out["error"] = msg
		return out
	}

	switch len(texts) {
	case 0:
	case 1:
		out["result"] = texts[0]
	default:
		out["results"] = texts
	}
	return out
}
