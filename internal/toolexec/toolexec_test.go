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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchframe/alignment-engine/internal/model"
)

type stubTransport struct {
	output map[string]any
	err    error
}

func (s *stubTransport) Invoke(ctx context.Context, spec ToolSpec, inputs map[string]any) (map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

type stubResolver struct {
	addr string
	err  error
}

func (s *stubResolver) Resolve(serviceName string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.addr, nil
}

func boolPtr(b bool) *bool { return &b }

func TestResolveInputsReadsFromEachDeclaredSourceKind(t *testing.T) {
	spec := ToolSpec{InputSpec: map[string]InputSource{
		"order":  {Kind: SourceEntity, Key: "order_id"},
		"tone":   {Kind: SourceVariable, Key: "tone"},
		"email":  {Kind: SourceProfile, Key: "email"},
		"locale": {Kind: SourceLiteral, Literal: "en-US"},
	}}
	got := ResolveInputs(spec,
		map[string]string{"order_id": "o-1"},
		map[string]any{"tone": "formal"},
		map[string]any{"email": "a@b.com"},
	)
	assert.Equal(t, map[string]any{
		"order": "o-1", "tone": "formal", "email": "a@b.com", "locale": "en-US",
	}, got)
}

func TestResolveInputsOmitsMissingKeysRatherThanZeroValues(t *testing.T) {
	spec := ToolSpec{InputSpec: map[string]InputSource{
		"order": {Kind: SourceEntity, Key: "missing"},
	}}
	got := ResolveInputs(spec, nil, nil, nil)
	assert.NotContains(t, got, "order")
}

func TestExecuteRunsActivatedToolAndMergesPrefixedOutput(t *testing.T) {
	e := New(map[string]Transport{"grpc": &stubTransport{output: map[string]any{"status": "ok"}}}, nil, Config{})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc"}}
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: true}}

	results, merged, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "ok", merged["t1.status"])
}

func TestExecuteSkipsToolsThatAreNotActivated(t *testing.T) {
	e := New(map[string]Transport{"grpc": &stubTransport{}}, nil, Config{})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc"}}
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: false}}

	results, _, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Equal(t, "tool not activated", results[0].Error)
}

func TestExecuteReportsMissingToolSpec(t *testing.T) {
	e := New(map[string]Transport{}, nil, Config{})
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: true}}

	results, _, err := e.Execute(context.Background(), []string{"t1"}, map[string]ToolSpec{}, activations, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "tool spec not found", results[0].Error)
}

func TestExecuteDedupesRepeatedToolIDs(t *testing.T) {
	e := New(map[string]Transport{"grpc": &stubTransport{output: map[string]any{}}}, nil, Config{})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc"}}
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: true}}

	results, _, err := e.Execute(context.Background(), []string{"t1", "t1", "t1"}, specs, activations, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1, "repeated tool ids must be deduped before invocation")
}

func TestExecuteUnknownTransportIsReportedAsFailure(t *testing.T) {
	e := New(map[string]Transport{}, nil, Config{})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "plugin"}}
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: true}}

	results, _, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "unknown transport")
}

func TestExecuteFailFastAbortsAndReturnsError(t *testing.T) {
	e := New(map[string]Transport{"grpc": &stubTransport{err: errors.New("boom")}}, nil, Config{FailFast: true})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc"}}
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: true}}

	_, _, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	assert.Error(t, err)
}

func TestExecuteNonFailFastSwallowsErrorAsPartialFailure(t *testing.T) {
	e := New(map[string]Transport{"grpc": &stubTransport{err: errors.New("boom")}}, nil, Config{FailFast: false})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc"}}
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: true}}

	results, _, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Equal(t, "boom", results[0].Error)
}

func TestExecuteActivationPolicyOverridesFailFast(t *testing.T) {
	e := New(map[string]Transport{"grpc": &stubTransport{err: errors.New("boom")}}, nil, Config{FailFast: false})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc"}}
	activations := map[string]model.ToolActivation{
		"t1": {ToolID: "t1", Enabled: true, Policy: model.ToolActivationPolicy{FailFastOverride: boolPtr(true)}},
	}

	_, _, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	assert.Error(t, err, "a per-activation fail_fast_override of true must take effect even though the executor default is false")
}

func TestExecuteResolvesConsulServiceViaResolver(t *testing.T) {
	e := New(map[string]Transport{"grpc": &stubTransport{output: map[string]any{}}}, &stubResolver{addr: "10.0.0.1:9000"}, Config{})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc", ConsulService: "billing"}}
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: true}}

	results, _, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, results[0].Success)
}

func TestExecuteResolverErrorIsReportedPerTool(t *testing.T) {
	e := New(map[string]Transport{"grpc": &stubTransport{}}, &stubResolver{err: errors.New("no such service")}, Config{})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc", ConsulService: "billing"}}
	activations := map[string]model.ToolActivation{"t1": {ToolID: "t1", Enabled: true}}

	results, _, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Equal(t, "no such service", results[0].Error)
}

func TestExecuteActivationPolicyOverridesTransportEndpointAndTimeout(t *testing.T) {
	e := New(map[string]Transport{"mcp": &stubTransport{output: map[string]any{}}}, nil, Config{})
	specs := map[string]ToolSpec{"t1": {ID: "t1", Transport: "grpc", Endpoint: "default:1"}}
	activations := map[string]model.ToolActivation{
		"t1": {ToolID: "t1", Enabled: true, Policy: model.ToolActivationPolicy{
			Transport: "mcp", Endpoint: "override:2", TimeoutMS: 500,
		}},
	}

	results, _, err := e.Execute(context.Background(), []string{"t1"}, specs, activations, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, results[0].Success, "the overridden mcp transport (not the default grpc) must be used")
}

func TestNewDefaultsMaxParallelWhenUnset(t *testing.T) {
	e := New(map[string]Transport{}, nil, Config{})
	assert.Equal(t, 4, e.cfg.MaxParallel)
}

func TestDedupePreservesFirstOccurrenceOrder(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"a", "b", "a", "c", "b"}))
}
