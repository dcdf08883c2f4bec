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
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "alignment-engine-json"

// jsonToolCodec lets GRPCTransport invoke a fixed, generic RPC method
// against any tool backend without per-tool generated protobuf stubs —
// spec tools are configured dynamically, unlike the teacher's
// plugin.proto-defined LLM/Database/Embedder services
// (pkg/plugins/grpc/proto).
type jsonToolCodec struct{}

func (jsonToolCodec) Name() string { return jsonCodecName }

func (jsonToolCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonToolCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func init() {
	encoding.RegisterCodec(jsonToolCodec{})
}

// toolServiceMethod is the single generic RPC every gRPC-backed tool
// server exposes: a map-in, map-out invocation keyed by tool id.
const toolServiceMethod = "/alignmentengine.toolexec.ToolService/Invoke"

// GRPCTransport calls tools exposed over a raw gRPC connection using a
// generic JSON codec, caching one *grpc.ClientConn per address.
type GRPCTransport struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewGRPCTransport() *GRPCTransport {
	return &GRPCTransport{conns: make(map[string]*grpc.ClientConn)}
}

type grpcToolRequest struct {
	ToolID string         `json:"tool_id"`
	Inputs map[string]any `json:"inputs"`
}

type grpcToolResponse struct {
	Output map[string]any `json:"output"`
}

func (t *GRPCTransport) Invoke(ctx context.Context, spec ToolSpec, inputs map[string]any) (map[string]any, error) {
	conn, err := t.connFor(spec.Endpoint)
	if err != nil {
		return nil, err
	}

	req := grpcToolRequest{ToolID: spec.ID, Inputs: inputs}
	var resp grpcToolResponse
	if err := conn.Invoke(ctx, toolServiceMethod, req, &resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, fmt.Errorf("gRPC tool call %q: %w", spec.ID, err)
	}
	return resp.Output, nil
}

func (t *GRPCTransport) connFor(addr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	if addr == "" {
		return nil, fmt.Errorf("gRPC transport requires a dialable endpoint")
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial tool service %q: %w", addr, err)
	}
	t.conns[addr] = conn
	return conn, nil
}

// Close tears down every cached connection.
func (t *GRPCTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		c.Close()
	}
	t.conns = make(map[string]*grpc.ClientConn)
}
