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

// Package pipeline wires every per-turn stage into the orchestrator
// (spec §4.1): resolve session/profile, reconcile a pending migration,
// run context extraction, retrieval, rerank, rule filtering, scenario
// navigation, tool execution, generation, and enforcement in order,
// apply the navigation decision, update counters, and persist
// atomically. There is no teacher analogue for this exact nine-step
// turn loop; the stage-sequencing and per-stage-timing shape is
// grounded on pkg/agent/agent.go's callback-staged Run loop, adapted
// from an iterator of framework events to a single synchronous result.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/latchframe/alignment-engine/internal/enforce"
	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/generation"
	"github.com/latchframe/alignment-engine/internal/idempotency"
	"github.com/latchframe/alignment-engine/internal/ids"
	"github.com/latchframe/alignment-engine/internal/logging"
	"github.com/latchframe/alignment-engine/internal/migration"
	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/observability"
	"github.com/latchframe/alignment-engine/internal/provider"
	"github.com/latchframe/alignment-engine/internal/rerank"
	"github.com/latchframe/alignment-engine/internal/retrieval"
	"github.com/latchframe/alignment-engine/internal/rulefilter"
	"github.com/latchframe/alignment-engine/internal/scenario"
	"github.com/latchframe/alignment-engine/internal/sessionlock"
	"github.com/latchframe/alignment-engine/internal/store"
	"github.com/latchframe/alignment-engine/internal/toolexec"
)

// noMatchStreakKey is the reserved session variable the navigator's
// per-turn NoMatchStreak counter round-trips through. Session has no
// first-class field for it (spec §3 only lists RelocalizationCount),
// and adding one would touch every store implementation, so it rides
// in the same map session.Variables already persists.
const noMatchStreakKey = "__no_match_streak"

// Dependencies bundles every store, provider, and stage the pipeline
// drives. All fields are required except Idempotency and Locker, which
// degrade to no-ops when nil, and Tracer and Metrics (see below) (single-process demo use, spec §9 "every
// interface has an in-memory implementation").
type Dependencies struct {
	ConfigStore  store.ConfigStore
	SessionStore store.SessionStore
	AuditStore   store.AuditStore
	MemoryStore  store.MemoryStore
	ProfileStore store.ProfileStore

	LLM      provider.LLMProvider
	Embedder provider.EmbeddingProvider

	Locker      sessionlock.Locker
	Idempotency idempotency.Store

	// Tracer and Metrics are both optional: a nil value tolerates every
	// call made against it (spec's ambient observability stack is never
	// load-bearing for turn correctness).
	Tracer  *observability.Tracer
	Metrics *observability.Metrics

	ContextExtractor *ContextExtractor
	Retriever        *retrieval.Retriever
	Reranker         *rerank.Reranker
	RuleFilter       *rulefilter.Filter
	Navigator        *scenario.Navigator
	ToolExec         *toolexec.Executor
	Generator        *generation.Generator
	Enforcer         *enforce.Enforcer
	Migration        *migration.Executor
}

// Config carries the pipeline's own tunables, as distinct from each
// stage's internal Config (already owned by its constructor call).
type Config struct {
	// ToolSpecs is the static tool registry keyed by tool id. ConfigStore
	// only stores per-tenant ToolActivation (enable flag + policy
	// overrides, spec §3); the declarative InputSpec a ToolSpec needs is
	// an operator-authored deployment artifact, not tenant data, so it is
	// supplied here rather than added to ConfigStore.
	ToolSpecs map[string]toolexec.ToolSpec
	// IdempotencyTTL bounds how long a cached turn result is replayable.
	IdempotencyTTL time.Duration
	// LoopDetectionWindow mirrors scenario.Config's field of the same
	// name: how many recent step_history entries VisitedCounts is
	// computed over.
	LoopDetectionWindow int
}

// Request is one inbound turn.
type Request struct {
	TenantID      string
	AgentID       string
	SessionID     string // empty resolves/creates by (Channel, UserChannelID)
	Channel       string
	UserChannelID string
	Message       string
	// TurnID, if supplied by the caller, makes the turn idempotent: a
	// retried request with the same (TenantID, SessionID, TurnID)
	// replays the cached AlignmentResult instead of re-running the
	// pipeline (spec §4.1 step 0).
	TurnID string
}

// AlignmentResult is spec §4.1's per-turn output.
type AlignmentResult struct {
	ResponseText    string          `json:"response_text"`
	SessionID       string          `json:"session_id"`
	TurnID          string          `json:"turn_id"`
	ScenarioBefore  model.ScenarioPointer `json:"scenario_before"`
	ScenarioAfter   model.ScenarioPointer `json:"scenario_after"`
	MatchedRuleIDs  []string        `json:"matched_rule_ids"`
	ToolIDs         []string        `json:"tool_ids"`
	TokensUsed      int             `json:"tokens_used"`
	LatencyMS       int64           `json:"latency_ms"`
	PerStageTimings map[string]int64 `json:"per_stage_timings"`
}

// Pipeline runs the turn algorithm against one Dependencies set.
type Pipeline struct {
	deps Dependencies
	cfg  Config
	log  *slog.Logger
}

// New wires a Pipeline. log is the root logger; WithTurn scopes it per
// request.
func New(deps Dependencies, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.LoopDetectionWindow <= 0 {
		cfg.LoopDetectionWindow = 20
	}
	return &Pipeline{deps: deps, cfg: cfg, log: log}
}

// Run executes spec §4.1's nine-step algorithm for one turn.
func (p *Pipeline) Run(ctx context.Context, req Request) (*AlignmentResult, error) {
	start := time.Now()
	timings := map[string]int64{}

	if cached, ok := p.lookupIdempotent(ctx, req); ok {
		return cached, nil
	}

	// Step 1: resolve session.
	session, isNew, err := p.resolveSession(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "resolving session", err)
	}

	release, err := p.acquireLock(ctx, req.TenantID, session.SessionID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "acquiring session lock", err)
	}
	defer release()

	turnID := req.TurnID
	if turnID == "" {
		turnID = ids.Prefixed("turn")
	}
	ctx, log := logging.WithTurn(ctx, p.log, req.TenantID, req.AgentID, session.SessionID, turnID)
	ctx, turnSpan := p.deps.Tracer.StartTurn(ctx, req.TenantID, req.AgentID, session.SessionID, turnID)
	defer turnSpan.End()

	agent, err := p.deps.ConfigStore.GetAgent(ctx, req.TenantID, req.AgentID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "loading agent", err)
	}

	// Step 2: resolve profile.
	profile, err := p.deps.ProfileStore.GetOrCreate(ctx, req.TenantID, req.Channel, req.UserChannelID, agent.ProfileSchemaVersion)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "resolving customer profile", err)
	}
	if isNew {
		session.CustomerProfileID = profile.ID
	}

	scenarioBefore := model.ScenarioPointer{ScenarioID: session.ActiveScenarioID, StepID: session.ActiveStepID, Version: session.ActiveScenarioVer}

	// Step 3: JIT migration reconciliation.
	if session.PendingMigration != nil {
		var execResult *migration.ExecutionResult
		err = p.timeStage(ctx, timings, "migration_reconcile", func() error {
			var e error
			execResult, e = p.deps.Migration.Reconcile(ctx, session, profile.ID, mergeEnv(profileToAny(profile), valuesToAny(session.Variables), nil), req.Message)
			return e
		})
		if err != nil {
			return nil, errs.Wrap(errs.MigrationError, "JIT migration reconciliation", err)
		}
		if execResult != nil && execResult.Outcome != migration.OutcomeTeleported {
			return p.finishShortCircuit(ctx, session, turnID, scenarioBefore, execResult.Prompt, start, timings)
		}
	}

	// Stage 1: context extraction (spec §4.2).
	var turnCtx *model.Context
	err = p.timeStage(ctx, timings, "context_extraction", func() error {
		var e error
		turnCtx, e = p.deps.ContextExtractor.Extract(ctx, req.Message)
		return e
	})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "context extraction", err)
	}
	if turnCtx.IsAmbiguous {
		log.Info("ambiguous turn, short-circuiting to clarification", "reason", turnCtx.AmbiguityReason)
		return p.finishShortCircuit(ctx, session, turnID, scenarioBefore, clarificationPrompt(turnCtx), start, timings)
	}

	// Stage 2: retrieval (spec §4.3).
	var ruleResults []store.RuleSearchResult
	var entryCandidates []scenario.EntryCandidate
	var memEpisodes []store.Episode
	err = p.timeStage(ctx, timings, "retrieval", func() error {
		var e error
		ruleResults, e = p.deps.Retriever.RetrieveRules(ctx, retrieval.RuleQuery{
			TenantID: req.TenantID, AgentID: req.AgentID, QueryText: req.Message, QueryEmbedding: turnCtx.Embedding,
			ActiveScenarioID: session.ActiveScenarioID, ActiveStepID: session.ActiveStepID,
			RuleFires: session.RuleFires, RuleLastFireTurn: session.RuleLastFireTurn, CurrentTurn: session.TurnCount,
		})
		if e != nil {
			return e
		}

		if session.ActiveScenarioID == "" {
			scenResults, e2 := p.deps.Retriever.RetrieveScenarioEntry(ctx, req.TenantID, req.AgentID, turnCtx.Embedding)
			if e2 != nil {
				return e2
			}
			entryCandidates = make([]scenario.EntryCandidate, len(scenResults))
			for i, r := range scenResults {
				entryCandidates[i] = scenario.EntryCandidate{Scenario: r.Scenario, Score: r.Score}
			}
		}

		memEpisodes, e = p.deps.Retriever.RetrieveMemory(ctx, session.SessionID, req.Message, turnCtx.Embedding)
		return e
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "retrieval", err)
	}

	// Stage 3: rerank (spec §4.4) — bypasses on its own on failure/disable.
	var reranked []rerank.Item
	_ = p.timeStage(ctx, timings, "rerank", func() error {
		items := make([]rerank.Item, len(ruleResults))
		for i, r := range ruleResults {
			items[i] = rerank.Item{ID: r.Rule.ID, Text: r.Rule.ConditionText + " " + r.Rule.ActionText, Score: r.Score}
		}
		reranked = p.deps.Reranker.Rerank(ctx, req.Message, items)
		return nil
	})
	ruleByID := make(map[string]*model.Rule, len(ruleResults))
	for _, r := range ruleResults {
		ruleByID[r.Rule.ID] = r.Rule
	}
	candidateRules := make([]*model.Rule, 0, len(reranked))
	for _, it := range reranked {
		if r, ok := ruleByID[it.ID]; ok {
			candidateRules = append(candidateRules, r)
		}
	}

	// Stage 4: rule filter (spec §4.5).
	var filterResult rulefilter.Result
	err = p.timeStage(ctx, timings, "rule_filter", func() error {
		var e error
		filterResult, e = p.deps.RuleFilter.Filter(ctx, req.Message, turnCtx, candidateRules)
		return e
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "rule filtering", err)
	}
	matchedRules := make([]*model.Rule, 0, len(filterResult.Matched))
	matchedRuleIDs := make([]string, 0, len(filterResult.Matched))
	for _, m := range filterResult.Matched {
		if r, ok := ruleByID[m.RuleID]; ok {
			matchedRules = append(matchedRules, r)
			matchedRuleIDs = append(matchedRuleIDs, m.RuleID)
		}
	}

	// Stage 5: scenario navigation (spec §4.6).
	activeScenario, err := p.loadActiveScenario(ctx, req, session)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "loading active scenario", err)
	}
	profileVars := profileToAny(profile)
	sessionVars := valuesToAny(session.Variables)
	entities := turnCtx.EntityMap()
	mergedEnv := mergeEnv(profileVars, sessionVars, entities)

	var decision scenario.Decision
	err = p.timeStage(ctx, timings, "scenario_navigation", func() error {
		var e error
		decision, e = p.deps.Navigator.Decide(ctx, scenario.Input{
			Context:               turnCtx,
			ActiveScenario:         activeScenario,
			ActiveStepID:           session.ActiveStepID,
			EntryCandidates:        entryCandidates,
			Variables:              mergedEnv,
			VisitedCounts:          visitedCounts(session, p.cfg.LoopDetectionWindow),
			RelocalizationCount:    session.RelocalizationCount,
			CurrentStepDwellTurns:  dwellTurns(session),
			NoMatchStreak:          noMatchStreak(session),
		})
		return e
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "scenario navigation", err)
	}

	// Stage 6: tool execution (spec §4.7).
	toolIDs := collectToolIDs(matchedRules)
	var toolResults []toolexec.Result
	var toolOutputs map[string]any
	err = p.timeStage(ctx, timings, "tool_execution", func() error {
		if len(toolIDs) == 0 {
			return nil
		}
		activations, e := p.loadActivations(ctx, req, toolIDs)
		if e != nil {
			return e
		}
		var e2 error
		toolResults, toolOutputs, e2 = p.deps.ToolExec.Execute(ctx, toolIDs, p.cfg.ToolSpecs, activations, entities, sessionVars, profileVars)
		return e2
	})
	if err != nil {
		return nil, errs.Wrap(errs.ToolFailed, "tool execution", err)
	}

	// Stage 7: generation (spec §4.8).
	activeStep := stepOf(activeScenario, session.ActiveStepID)
	templates, err := p.loadTemplates(ctx, req, matchedRules)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "loading templates", err)
	}
	genInput := generation.Input{
		UserMessage:    req.Message,
		MatchedRules:   matchedRules,
		Templates:      templates,
		ActiveScenario: activeScenario,
		ActiveStep:     activeStep,
		MemoryEpisodes: memEpisodes,
		ToolResults:    toolResults,
		Variables:      sessionVars,
		Profile:        profileVars,
		Entities:       entities,
	}
	var genResult generation.Result
	err = p.timeStage(ctx, timings, "generation", func() error {
		var e error
		genResult, e = p.deps.Generator.Generate(ctx, genInput)
		return e
	})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "response generation", err)
	}

	// Stage 8: enforcement (spec §4.10).
	allGlobalRules, err := p.deps.ConfigStore.ListRules(ctx, req.TenantID, req.AgentID, model.ScopeGlobal, "")
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "loading global rules for enforcement", err)
	}
	retrievedContext := contextTexts(ruleResults, memEpisodes)
	enforceInput := enforce.Input{
		UserMessage:       req.Message,
		CandidateResponse: genResult.Text,
		Rules:             enforce.RulesToEnforce(matchedRules, allGlobalRules),
		Templates:         templates,
		ProfileVars:       profileVars,
		SessionVars:       sessionVars,
		RetrievedContext:  retrievedContext,
	}
	var enforceResult enforce.Result
	err = p.timeStage(ctx, timings, "enforcement", func() error {
		var e error
		enforceResult, e = p.deps.Enforcer.Enforce(ctx, enforceInput, func(ctx context.Context, violated []enforce.Violation) (string, error) {
			regenInput := genInput
			for _, v := range violated {
				regenInput.UserMessage += "\n[Your previous reply violated a constraint: " + v.Reason + "]"
			}
			r, e2 := p.deps.Generator.Generate(ctx, regenInput)
			if e2 != nil {
				return "", e2
			}
			return r.Text, nil
		})
		return e
	})
	if err != nil {
		return nil, err // already a RULE_VIOLATION *errs.Error when no fallback applies
	}

	// Step 6: apply the navigation decision to the session.
	applyDecision(session, decision)

	// Step 7: update rule-fire counters and merge new variables.
	for _, id := range matchedRuleIDs {
		session.RuleFires[id]++
		session.RuleLastFireTurn[id] = session.TurnCount
	}
	for k, v := range toolOutputs {
		session.Variables[k] = toValue(v)
	}
	for _, e := range turnCtx.Entities {
		if _, exists := session.Variables[e.Name]; !exists {
			session.Variables[e.Name] = model.StringValue(e.Value)
		}
	}

	session.TurnCount++
	session.LastActivityAt = time.Now()
	session.Version++

	scenarioAfter := model.ScenarioPointer{ScenarioID: session.ActiveScenarioID, StepID: session.ActiveStepID, Version: session.ActiveScenarioVer}

	// Step 8: persist session + turn record, enqueue async memory ingest.
	if err := p.deps.SessionStore.Save(ctx, session); err != nil {
		return nil, errs.Wrap(errs.Internal, "persisting session", err)
	}
	turnRecord := &model.TurnRecord{
		TenantID: req.TenantID, AgentID: req.AgentID, SessionID: session.SessionID, TurnID: turnID,
		TurnNumber: session.TurnCount, UserMessage: req.Message, AgentResponse: enforceResult.Text,
		MatchedRuleIDs: matchedRuleIDs, ToolCallIDs: toolCallIDs(toolResults),
		ScenarioBefore: scenarioBefore, ScenarioAfter: scenarioAfter,
		LatencyMS: time.Since(start).Milliseconds(), TokensUsed: genResult.TokensUsed, Timestamp: time.Now(),
		Envelope: buildTurnEnvelope(req.Message, enforceResult.Text, toolResults),
	}
	if err := p.deps.AuditStore.SaveTurn(ctx, turnRecord); err != nil {
		return nil, errs.Wrap(errs.Internal, "persisting turn record", err)
	}
	p.ingestMemoryAsync(session.SessionID, req.Message, enforceResult.Text, turnCtx.Embedding)

	// Step 9: return the result.
	result := &AlignmentResult{
		ResponseText:    enforceResult.Text,
		SessionID:       session.SessionID,
		TurnID:          turnID,
		ScenarioBefore:  scenarioBefore,
		ScenarioAfter:   scenarioAfter,
		MatchedRuleIDs:  matchedRuleIDs,
		ToolIDs:         toolIDs,
		TokensUsed:      genResult.TokensUsed,
		LatencyMS:       time.Since(start).Milliseconds(),
		PerStageTimings: timings,
	}
	p.storeIdempotent(ctx, req, turnID, result)
	p.deps.Metrics.RecordTurn(ctx, req.TenantID, req.AgentID, time.Since(start), genResult.TokensUsed)
	log.Info("turn complete", "agent", agent.Name, "scenario_after", scenarioAfter.ScenarioID, "step_after", scenarioAfter.StepID, "tokens", genResult.TokensUsed, "latency_ms", result.LatencyMS)
	return result, nil
}

// timeStage runs fn inside an observability span named "pipeline.<name>"
// and records its wall-clock duration under timings[name], the same
// key AlignmentResult.PerStageTimings exposes to callers.
func (p *Pipeline) timeStage(ctx context.Context, timings map[string]int64, name string, fn func() error) error {
	ctx, span := p.deps.Tracer.StartStage(ctx, "pipeline."+name)
	defer span.End()

	t0 := time.Now()
	err := fn()
	timings[name] = time.Since(t0).Milliseconds()
	if err != nil {
		p.deps.Tracer.RecordError(span, err)
		p.deps.Metrics.RecordStageError(ctx, name)
	}
	return err
}

func (p *Pipeline) resolveSession(ctx context.Context, req Request) (*model.Session, bool, error) {
	if req.SessionID != "" {
		s, err := p.deps.SessionStore.Get(ctx, req.TenantID, req.SessionID)
		if err == nil {
			return s, false, nil
		}
	}
	if req.Channel != "" && req.UserChannelID != "" {
		s, err := p.deps.SessionStore.GetByChannel(ctx, req.TenantID, req.Channel, req.UserChannelID)
		if err == nil {
			return s, false, nil
		}
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = ids.Prefixed("sess")
	}
	s := model.NewSession(req.TenantID, req.AgentID, sessionID, req.Channel, req.UserChannelID, "")
	return s, true, nil
}

func (p *Pipeline) acquireLock(ctx context.Context, tenantID, sessionID string) (func(), error) {
	if p.deps.Locker == nil {
		return func() {}, nil
	}
	return p.deps.Locker.Acquire(ctx, tenantID, sessionID)
}

func (p *Pipeline) lookupIdempotent(ctx context.Context, req Request) (*AlignmentResult, bool) {
	if p.deps.Idempotency == nil || req.SessionID == "" || req.TurnID == "" {
		return nil, false
	}
	key := idempotency.Key(req.TenantID, req.SessionID, req.TurnID)
	raw, found, err := p.deps.Idempotency.Get(ctx, key)
	if err != nil || !found {
		return nil, false
	}
	var result AlignmentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (p *Pipeline) storeIdempotent(ctx context.Context, req Request, turnID string, result *AlignmentResult) {
	if p.deps.Idempotency == nil || req.SessionID == "" {
		return
	}
	ttl := p.cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	key := idempotency.Key(req.TenantID, req.SessionID, turnID)
	_ = p.deps.Idempotency.Put(ctx, key, raw, ttl)
}

// finishShortCircuit handles a turn that never reaches generation: a
// migration clarification question or an ambiguous-message
// clarification. The session's scenario position is left untouched,
// but the turn record and counters still advance so the conversation
// log stays consistent (spec §4.1 "the orchestrator must never
// partially persist").
func (p *Pipeline) finishShortCircuit(ctx context.Context, session *model.Session, turnID string, scenarioBefore model.ScenarioPointer, prompt string, start time.Time, timings map[string]int64) (*AlignmentResult, error) {
	session.TurnCount++
	session.LastActivityAt = time.Now()
	session.Version++

	if err := p.deps.SessionStore.Save(ctx, session); err != nil {
		return nil, errs.Wrap(errs.Internal, "persisting session", err)
	}
	turnRecord := &model.TurnRecord{
		TenantID: session.TenantID, AgentID: session.AgentID, SessionID: session.SessionID, TurnID: turnID,
		TurnNumber: session.TurnCount, AgentResponse: prompt,
		ScenarioBefore: scenarioBefore, ScenarioAfter: scenarioBefore,
		LatencyMS: time.Since(start).Milliseconds(), Timestamp: time.Now(),
	}
	if err := p.deps.AuditStore.SaveTurn(ctx, turnRecord); err != nil {
		return nil, errs.Wrap(errs.Internal, "persisting turn record", err)
	}
	p.deps.Metrics.RecordTurn(ctx, session.TenantID, session.AgentID, time.Since(start), 0)
	return &AlignmentResult{
		ResponseText:    prompt,
		SessionID:       session.SessionID,
		TurnID:          turnID,
		ScenarioBefore:  scenarioBefore,
		ScenarioAfter:   scenarioBefore,
		LatencyMS:       time.Since(start).Milliseconds(),
		PerStageTimings: timings,
	}, nil
}

func (p *Pipeline) loadActiveScenario(ctx context.Context, req Request, session *model.Session) (*model.Scenario, error) {
	if session.ActiveScenarioID == "" {
		return nil, nil
	}
	s, err := p.deps.ConfigStore.GetScenario(ctx, req.TenantID, req.AgentID, session.ActiveScenarioID)
	if err != nil {
		return nil, err
	}
	if s.Version == session.ActiveScenarioVer {
		return s, nil
	}
	return p.deps.ConfigStore.GetArchivedScenario(ctx, req.TenantID, req.AgentID, session.ActiveScenarioID, session.ActiveScenarioVer)
}

func (p *Pipeline) loadActivations(ctx context.Context, req Request, toolIDs []string) (map[string]model.ToolActivation, error) {
	out := make(map[string]model.ToolActivation, len(toolIDs))
	for _, id := range toolIDs {
		act, err := p.deps.ConfigStore.GetToolActivation(ctx, req.TenantID, req.AgentID, id)
		if err != nil {
			continue // unactivated tool: toolexec.Execute reports "tool not activated" per id
		}
		out[id] = *act
	}
	return out, nil
}

func (p *Pipeline) loadTemplates(ctx context.Context, req Request, rules []*model.Rule) (map[string]*model.Template, error) {
	out := make(map[string]*model.Template)
	for _, r := range rules {
		if r.TemplateRefID == "" {
			continue
		}
		if _, ok := out[r.TemplateRefID]; ok {
			continue
		}
		t, err := p.deps.ConfigStore.GetTemplate(ctx, req.TenantID, req.AgentID, r.TemplateRefID)
		if err != nil {
			continue // a dangling template reference degrades to "no template", not a turn failure
		}
		out[t.ID] = t
	}
	return out, nil
}

func (p *Pipeline) ingestMemoryAsync(groupID, userMessage, agentResponse string, embedding []float32) {
	if p.deps.MemoryStore == nil {
		return
	}
	go func() {
		_ = p.deps.MemoryStore.AddEpisode(context.Background(), store.Episode{
			ID:        ids.Prefixed("ep"),
			GroupID:   groupID,
			Text:      fmt.Sprintf("user: %s\nagent: %s", userMessage, agentResponse),
			Embedding: embedding,
			Timestamp: time.Now(),
		})
	}()
}

func clarificationPrompt(c *model.Context) string {
	if c.AmbiguityReason != "" {
		return "Could you clarify — " + c.AmbiguityReason + "?"
	}
	return "I want to make sure I understand — could you rephrase that?"
}

func applyDecision(session *model.Session, d scenario.Decision) {
	switch d.Action {
	case scenario.ActionStart:
		session.ActiveScenarioID = d.TargetScenarioID
		session.ActiveStepID = d.TargetStepID
		session.RelocalizationCount = 0
		session.AppendStepVisit(model.StepVisit{StepID: d.TargetStepID, EnteredAt: time.Now(), TurnNumber: session.TurnCount, Reason: "START", Confidence: d.Confidence})
	case scenario.ActionTransition, scenario.ActionRelocalize:
		session.ActiveStepID = d.TargetStepID
		if d.TargetScenarioID != "" {
			session.ActiveScenarioID = d.TargetScenarioID
		}
		session.RelocalizationCount = d.NewRelocalizationCount
		reason := "TRANSITION"
		if d.Action == scenario.ActionRelocalize {
			reason = "RELOCALIZE"
		}
		session.AppendStepVisit(model.StepVisit{StepID: d.TargetStepID, EnteredAt: time.Now(), TurnNumber: session.TurnCount, Reason: reason, Confidence: d.Confidence})
	case scenario.ActionExit:
		session.ClearScenario()
	case scenario.ActionContinue, scenario.ActionNone:
		// no scenario-position change
	}
	setNoMatchStreak(session, d.NewNoMatchStreak)
}

func visitedCounts(session *model.Session, window int) map[string]int {
	history := session.StepHistory
	if len(history) > window {
		history = history[len(history)-window:]
	}
	out := make(map[string]int, len(history))
	for _, v := range history {
		out[v.StepID]++
	}
	return out
}

func dwellTurns(session *model.Session) int {
	n := 0
	for i := len(session.StepHistory) - 1; i >= 0; i-- {
		if session.StepHistory[i].StepID != session.ActiveStepID {
			break
		}
		n++
	}
	return n
}

func noMatchStreak(session *model.Session) int {
	if v, ok := session.Variables[noMatchStreakKey]; ok {
		return int(v.Num)
	}
	return 0
}

func setNoMatchStreak(session *model.Session, n int) {
	session.Variables[noMatchStreakKey] = model.NumberValue(float64(n))
}

func collectToolIDs(rules []*model.Rule) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rules {
		for _, id := range r.AttachedToolIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func toolCallIDs(results []toolexec.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ToolID
	}
	return out
}

func stepOf(s *model.Scenario, stepID string) *model.ScenarioStep {
	if s == nil {
		return nil
	}
	return s.StepByID(stepID)
}

func contextTexts(rules []store.RuleSearchResult, episodes []store.Episode) []string {
	out := make([]string, 0, len(rules)+len(episodes))
	for _, r := range rules {
		out = append(out, r.Rule.ConditionText+" "+r.Rule.ActionText)
	}
	for _, e := range episodes {
		out = append(out, e.Text)
	}
	return out
}

func valuesToAny(m map[string]model.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

func profileToAny(p *model.CustomerProfile) map[string]any {
	out := make(map[string]any, len(p.Fields))
	for k, f := range p.Fields {
		out[k] = f.Value.Any()
	}
	return out
}

func mergeEnv(profile, variables map[string]any, entities map[string]string) map[string]any {
	out := make(map[string]any, len(profile)+len(variables)+len(entities))
	for k, v := range profile {
		out[k] = v
	}
	for k, v := range variables {
		out[k] = v
	}
	for k, v := range entities {
		out[k] = v
	}
	return out
}

func toValue(v any) model.Value {
	switch t := v.(type) {
	case string:
		return model.StringValue(t)
	case float64:
		return model.NumberValue(t)
	case int:
		return model.NumberValue(float64(t))
	case bool:
		return model.BoolValue(t)
	case time.Time:
		return model.TimeValue(t)
	default:
		return model.StringValue(fmt.Sprintf("%v", t))
	}
}
