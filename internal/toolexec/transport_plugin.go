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
	"net/rpc"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// pluginHandshake identifies a compatible tool-plugin subprocess,
// adapted from pkg/plugins/grpc/loader.go's handshakeConfig.
var pluginHandshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ALIGNMENT_ENGINE_TOOL_PLUGIN",
	MagicCookieValue: "alignment_engine_tool_plugin_v1",
}

// ToolPlugin is what an external tool-plugin binary implements and
// exposes over go-plugin's net/rpc transport. Unlike the teacher's
// LLM/Database/Embedder plugins, tool plugins have no fixed protobuf
// contract (tool shapes are configured at runtime, not known at build
// time), so this uses go-plugin's simpler net/rpc mode instead of its
// generated-gRPC-stub mode.
type ToolPlugin interface {
	Invoke(args map[string]any) (map[string]any, error)
}

type toolPluginRPCClient struct{ client *rpc.Client }

func (c *toolPluginRPCClient) Invoke(args map[string]any) (map[string]any, error) {
	var resp map[string]any
	err := c.client.Call("Plugin.Invoke", args, &resp)
	return resp, err
}

type toolPluginRPCServer struct{ Impl ToolPlugin }

func (s *toolPluginRPCServer) Invoke(args map[string]any, resp *map[string]any) error {
	out, err := s.Impl.Invoke(args)
	*resp = out
	return err
}

// toolPluginDescriptor is the plugin.Plugin implementation go-plugin
// dispenses client/server stubs from.
type toolPluginDescriptor struct{ Impl ToolPlugin }

func (d *toolPluginDescriptor) Server(*plugin.MuxBroker) (any, error) {
	return &toolPluginRPCServer{Impl: d.Impl}, nil
}

func (d *toolPluginDescriptor) Client(_ *plugin.MuxBroker, c *rpc.Client) (any, error) {
	return &toolPluginRPCClient{client: c}, nil
}

// PluginTransport runs tools implemented as subprocess plugins,
// launching (and caching) one plugin.Client per binary path.
type PluginTransport struct {
	mu      sync.Mutex
	clients map[string]*plugin.Client
}

func NewPluginTransport() *PluginTransport {
	return &PluginTransport{clients: make(map[string]*plugin.Client)}
}

// Invoke treats spec.Endpoint as the path to the plugin executable.
func (t *PluginTransport) Invoke(ctx context.Context, spec ToolSpec, inputs map[string]any) (map[string]any, error) {
	client, err := t.clientFor(spec.Endpoint)
	if err != nil {
		return nil, err
	}

	rpcClient, err := client.Client()
	if err != nil {
		return nil, fmt.Errorf("dial tool plugin %q: %w", spec.Endpoint, err)
	}

	raw, err := rpcClient.Dispense("tool")
	if err != nil {
		return nil, fmt.Errorf("dispense tool plugin %q: %w", spec.Endpoint, err)
	}

	toolPlugin, ok := raw.(ToolPlugin)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement ToolPlugin", spec.Endpoint)
	}

	type outcome struct {
		out map[string]any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := toolPlugin.Invoke(inputs)
		done <- outcome{out, err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *PluginTransport) clientFor(path string) (*plugin.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[path]; ok {
		return c, nil
	}
	if path == "" {
		return nil, fmt.Errorf("plugin transport requires a binary path endpoint")
	}

	c := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: pluginHandshake,
		Plugins:         map[string]plugin.Plugin{"tool": &toolPluginDescriptor{}},
		Cmd:             exec.Command(path),
		Logger:          hclog.New(&hclog.LoggerOptions{Name: "alignment-engine-tool-plugin", Level: hclog.Warn}),
	})
	t.clients[path] = c
	return c, nil
}

// Close terminates every cached plugin subprocess.
func (t *PluginTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.Kill()
	}
	t.clients = make(map[string]*plugin.Client)
}
