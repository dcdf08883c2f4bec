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
	"context"
	"log/slog"
	"time"

	"github.com/latchframe/alignment-engine/internal/enforce"
	"github.com/latchframe/alignment-engine/internal/generation"
	"github.com/latchframe/alignment-engine/internal/idempotency"
	"github.com/latchframe/alignment-engine/internal/migration"
	"github.com/latchframe/alignment-engine/internal/observability"
	"github.com/latchframe/alignment-engine/internal/pipeline"
	"github.com/latchframe/alignment-engine/internal/provider"
	"github.com/latchframe/alignment-engine/internal/rerank"
	"github.com/latchframe/alignment-engine/internal/retrieval"
	"github.com/latchframe/alignment-engine/internal/rulefilter"
	"github.com/latchframe/alignment-engine/internal/scenario"
	"github.com/latchframe/alignment-engine/internal/selection"
	"github.com/latchframe/alignment-engine/internal/sessionlock"
	"github.com/latchframe/alignment-engine/internal/store"
	"github.com/latchframe/alignment-engine/internal/toolexec"
)

// buildPipeline assembles every in-memory store, the selected provider
// pair, every stage, and the optional observability manager into one
// runnable Pipeline, seeded with a demo agent. This is the demo-driver
// analogue of the teacher's zero-config ServeCmd wiring in
// cmd/hector/serve.go, generalized from "one A2A agent" to "one
// alignment-engine Dependencies set".
func buildPipeline(ctx context.Context, cli *CLI, log *slog.Logger) (*pipeline.Pipeline, func(), error) {
	chatProvider, err := buildChatProvider(ctx, cli)
	if err != nil {
		return nil, nil, err
	}
	embedProvider, err := buildEmbeddingProvider(ctx, cli)
	if err != nil {
		return nil, nil, err
	}

	configStore := store.NewInMemoryConfigStore()
	seedDemoAgent(configStore, cli.TenantID, cli.AgentID)
	memoryStore := store.NewInMemoryMemoryStore()
	profileStore := store.NewInMemoryProfileStore()

	var obsCfg *observability.Config
	if cli.Observe {
		obsCfg = &observability.Config{
			Tracing: observability.TracingConfig{Enabled: true, Exporter: "stdout"},
			Metrics: observability.MetricsConfig{Enabled: true},
		}
	}
	obsManager, err := observability.NewManager(ctx, obsCfg, log)
	if err != nil {
		return nil, nil, err
	}

	toolExecutor := toolexec.New(
		map[string]toolexec.Transport{
			"grpc":   toolexec.NewGRPCTransport(),
			"mcp":    toolexec.NewMCPTransport(),
			"plugin": toolexec.NewPluginTransport(),
		},
		nil,
		toolexec.Config{MaxParallel: 4, DefaultTimeoutMS: 5000, FailFast: false},
	)

	deps := pipeline.Dependencies{
		ConfigStore:  configStore,
		SessionStore: store.NewInMemorySessionStore(),
		AuditStore:   store.NewInMemoryAuditStore(),
		MemoryStore:  memoryStore,
		ProfileStore: profileStore,

		LLM:      chatProvider,
		Embedder: embedProvider,

		Locker:      sessionlock.NewMemoryLocker(),
		Idempotency: idempotency.NewMemoryStore(),

		Tracer:  obsManager.Tracer(),
		Metrics: obsManager.Metrics(),

		ContextExtractor: pipeline.NewContextExtractor(chatProvider, embedProvider, pipeline.ContextFull),
		Retriever: retrieval.New(configStore, memoryStore, retrieval.Config{
			RuleStrategy:     selection.FixedK{K: 10, MinScore: 0},
			ScenarioStrategy: selection.FixedK{K: 5, MinScore: 0},
			MemoryStrategy:   selection.FixedK{K: 5, MinScore: 0},
			FetchLimit:       50,
			BM25Weight:       0.3,
		}),
		Reranker: rerank.New(provider.NewLLMRerankProvider(chatProvider), rerank.Config{
			Enabled: false,
		}),
		RuleFilter: rulefilter.New(chatProvider, rulefilter.Config{
			Enabled:            true,
			BatchSize:          5,
			RelevanceThreshold: 0.5,
			MaxRules:           10,
		}),
		Navigator: scenario.New(chatProvider, scenario.Config{
			EntryThreshold:         0.3,
			TransitionThreshold:    0.3,
			SanityThreshold:        0.2,
			MinMargin:              0.05,
			StickinessBoost:        0.1,
			ExitIntentThreshold:    0.6,
			LLMAdjudicationEnabled: true,
			MaxLoopCount:           3,
			LoopDetectionWindow:    20,
			FallbackBehavior:       scenario.FallbackStay,
		}),
		ToolExec: toolExecutor,
		Generator: generation.New(chatProvider, generation.Config{
			Temperature:    0.4,
			MaxTokens:      1024,
			MaxMemoryItems: 5,
		}),
		Enforcer: enforce.New(chatProvider, embedProvider, enforce.Config{
			Enabled:               true,
			MaxRetries:            2,
			DeterministicEnabled:  true,
			LLMJudgeEnabled:       true,
			AlwaysEnforceGlobal:   true,
			RelevanceCheckEnabled: false,
			GroundingCheckEnabled: false,
		}),
		Migration: migration.NewExecutor(configStore, migration.NewGapFillService(
			profileStore, chatProvider, migration.Config{UseThreshold: 0.5, NoConfirmThreshold: 0.85},
		)),
	}

	p := pipeline.New(deps, pipeline.Config{
		ToolSpecs:           map[string]toolexec.ToolSpec{},
		IdempotencyTTL:      5 * time.Minute,
		LoopDetectionWindow: 20,
	}, log)

	cleanup := func() {
		_ = obsManager.Shutdown(context.Background())
		_ = chatProvider.Close()
		if embedProvider != nil {
			_ = embedProvider.Close()
		}
	}
	return p, cleanup, nil
}
