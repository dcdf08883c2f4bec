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

// Package toolexec runs the tools attached to matched rules (spec
// §4.7): bounded-parallel, timeboxed per tool, with optional fail-fast.
// Concurrency is grounded on pkg/agent/workflowagent/parallel.go's
// golang.org/x/sync/errgroup pattern; transports are grounded on
// pkg/tool/mcptoolset/mcptoolset.go (MCP) and pkg/plugins/grpc/loader.go
// (subprocess plugins via hashicorp/go-plugin).
package toolexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

// InputSourceKind names where a tool's declared input comes from (spec
// §4.7 "declarative input spec").
type InputSourceKind string

const (
	SourceEntity   InputSourceKind = "entity"
	SourceVariable InputSourceKind = "variable"
	SourceProfile  InputSourceKind = "profile"
	SourceLiteral  InputSourceKind = "literal"
)

// InputSource is one declared input: read Key from the named source, or
// use Literal directly.
type InputSource struct {
	Kind    InputSourceKind
	Key     string
	Literal any
}

// ToolSpec is the static definition of one invocable tool: how to reach
// it and how to build its call inputs from turn state.
type ToolSpec struct {
	ID            string
	Transport     string // "grpc" | "mcp" | "plugin"
	Endpoint      string
	ConsulService string
	TimeoutMS     int
	InputSpec     map[string]InputSource
}

// Result mirrors spec §4.7's per-invocation ToolResult.
type Result struct {
	ToolID  string
	Inputs  map[string]any
	Output  map[string]any
	Success bool
	Error   string
}

// Transport abstracts the wire protocol used to reach a tool backend.
type Transport interface {
	Invoke(ctx context.Context, spec ToolSpec, inputs map[string]any) (map[string]any, error)
}

// Resolver turns a Consul service name into a dialable address
// (implemented by ConsulResolver).
type Resolver interface {
	Resolve(serviceName string) (string, error)
}

// Config bounds execution (spec §6.3 "tool_executor").
type Config struct {
	MaxParallel      int
	DefaultTimeoutMS int
	FailFast         bool
}

// Executor dispatches matched-rule tool attachments across registered
// transports.
type Executor struct {
	transports map[string]Transport
	resolver   Resolver
	cfg        Config
}

func New(transports map[string]Transport, resolver Resolver, cfg Config) *Executor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &Executor{transports: transports, resolver: resolver, cfg: cfg}
}

// ResolveInputs builds one tool's call inputs from the declarative
// InputSpec against the turn's entity/variable/profile state.
func ResolveInputs(spec ToolSpec, entities map[string]string, variables map[string]any, profile map[string]any) map[string]any {
	out := make(map[string]any, len(spec.InputSpec))
	for name, src := range spec.InputSpec {
		switch src.Kind {
		case SourceEntity:
			if v, ok := entities[src.Key]; ok {
				out[name] = v
			}
		case SourceVariable:
			if v, ok := variables[src.Key]; ok {
				out[name] = v
			}
		case SourceProfile:
			if v, ok := profile[src.Key]; ok {
				out[name] = v
			}
		case SourceLiteral:
			out[name] = src.Literal
		}
	}
	return out
}

// Execute runs every tool in toolIDs (the deduped union of matched
// rules' attached_tool_ids) bounded-parallel by cfg.MaxParallel,
// timeboxed per tool, cancelling the remaining in-flight calls the
// moment one fails if fail-fast is in effect for it (spec §4.7).
// Outputs are returned both per-invocation and merged under
// "<tool_id>.<key>" for the caller to fold into session.variables.
func (e *Executor) Execute(
	ctx context.Context,
	toolIDs []string,
	specs map[string]ToolSpec,
	activations map[string]model.ToolActivation,
	entities map[string]string,
	variables map[string]any,
	profile map[string]any,
) ([]Result, map[string]any, error) {
	ids := dedupe(toolIDs)
	results := make([]Result, len(ids))
	merged := make(map[string]any)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)

	for i, id := range ids {
		i, id := i, id

		act, activated := activations[id]
		if !activated || !act.Enabled {
			results[i] = Result{ToolID: id, Success: false, Error: "tool not activated"}
			continue
		}
		spec, known := specs[id]
		if !known {
			results[i] = Result{ToolID: id, Success: false, Error: "tool spec not found"}
			continue
		}

		failFast := e.cfg.FailFast
		if act.Policy.FailFastOverride != nil {
			failFast = *act.Policy.FailFastOverride
		}
		if act.Policy.Transport != "" {
			spec.Transport = act.Policy.Transport
		}
		if act.Policy.Endpoint != "" {
			spec.Endpoint = act.Policy.Endpoint
		}
		if act.Policy.ConsulService != "" {
			spec.ConsulService = act.Policy.ConsulService
		}
		if act.Policy.TimeoutMS > 0 {
			spec.TimeoutMS = act.Policy.TimeoutMS
		}

		g.Go(func() error {
			inputs := ResolveInputs(spec, entities, variables, profile)

			timeout := time.Duration(spec.TimeoutMS) * time.Millisecond
			if timeout <= 0 {
				timeout = time.Duration(e.cfg.DefaultTimeoutMS) * time.Millisecond
			}
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			callCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			endpoint, err := e.resolveEndpoint(spec)
			if err != nil {
				return e.record(&mu, results, i, id, inputs, nil, err, failFast)
			}
			spec.Endpoint = endpoint

			transport, ok := e.transports[spec.Transport]
			if !ok {
				err := errs.New(errs.ToolFailed, fmt.Sprintf("unknown transport %q for tool %q", spec.Transport, id))
				return e.record(&mu, results, i, id, inputs, nil, err, failFast)
			}

			output, err := transport.Invoke(callCtx, spec, inputs)
			if err == nil {
				mu.Lock()
				for k, v := range output {
					merged[id+"."+k] = v
				}
				mu.Unlock()
			}
			return e.record(&mu, results, i, id, inputs, output, err, failFast)
		})
	}

	if err := g.Wait(); err != nil {
		return results, merged, errs.Wrap(errs.ToolFailed, "tool execution aborted by fail-fast", err)
	}
	return results, merged, nil
}

// record writes one tool's outcome into results under lock and decides
// whether Execute's errgroup should propagate the error (cancelling
// sibling invocations) or swallow it as a reported partial failure.
func (e *Executor) record(mu *sync.Mutex, results []Result, i int, id string, inputs, output map[string]any, err error, failFast bool) error {
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		results[i] = Result{ToolID: id, Inputs: inputs, Success: false, Error: err.Error()}
		if failFast {
			return err
		}
		return nil
	}
	results[i] = Result{ToolID: id, Inputs: inputs, Output: output, Success: true}
	return nil
}

func (e *Executor) resolveEndpoint(spec ToolSpec) (string, error) {
	if spec.ConsulService != "" && e.resolver != nil {
		return e.resolver.Resolve(spec.ConsulService)
	}
	return spec.Endpoint, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
