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

package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/latchframe/alignment-engine/internal/exprlang"
	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/store"
)

// Outcome is the result kind of one JIT reconciliation attempt.
type Outcome string

const (
	OutcomeTeleported          Outcome = "TELEPORTED"
	OutcomeNeedsGapFill        Outcome = "NEEDS_GAP_FILL"
	OutcomeNeedsRerouteConfirm Outcome = "NEEDS_REROUTE_CONFIRM"
)

// ExecutionResult is what the orchestrator does with a reconciliation
// outcome: either the session was silently moved (Outcome ==
// OutcomeTeleported, session already mutated) or the customer must be
// asked something before the turn can proceed normally (Prompt holds
// the question, session.PendingMigration remains set).
type ExecutionResult struct {
	Outcome       Outcome
	NewStepID     string
	NewVersion    int
	Prompt        string
	Resolutions   []FieldResolution
	RerouteTarget string
}

// Executor performs JIT reconciliation at the start of a turn for a
// session with PendingMigration set (spec §4.9 "JIT reconciliation").
type Executor struct {
	config  store.ConfigStore
	gapFill *GapFillService
}

// NewExecutor wires the config store (for plan/scenario lookup) and
// gap-fill service (for GAP_FILL anchors).
func NewExecutor(config store.ConfigStore, gapFill *GapFillService) *Executor {
	return &Executor{config: config, gapFill: gapFill}
}

// Reconcile resolves session's pending migration in place. It returns
// nil if the session had no pending migration. profileID is the
// session's customer profile (for the gap-fill profile tier);
// sessionVarsEnv is the merged {profile, session.variables} expression
// environment the RE_ROUTE lane evaluates the new fork against;
// conversationText is the recent user turns for the gap-fill
// conversation-extraction tier.
func (e *Executor) Reconcile(
	ctx context.Context,
	session *model.Session,
	profileID string,
	sessionVarsEnv map[string]any,
	conversationText string,
) (*ExecutionResult, error) {
	if session.PendingMigration == nil {
		return nil, nil
	}

	plan, err := e.config.GetMigrationPlan(ctx, session.TenantID, session.AgentID, session.PendingMigration.PlanID)
	if err != nil {
		return nil, fmt.Errorf("migration: loading plan %s: %w", session.PendingMigration.PlanID, err)
	}
	policy := plan.AnchorFor(session.PendingMigration.AnchorHash)
	if policy == nil {
		return nil, fmt.Errorf("migration: plan %s has no policy for anchor %s", plan.ID, session.PendingMigration.AnchorHash)
	}

	switch policy.Scenario {
	case model.CleanGraft:
		e.teleport(session, policy.AnchorStepIDV2, plan.Map.ToVersion)
		return &ExecutionResult{Outcome: OutcomeTeleported, NewStepID: policy.AnchorStepIDV2, NewVersion: plan.Map.ToVersion}, nil

	case model.GapFill:
		return e.reconcileGapFill(ctx, session, plan, policy, profileID, conversationText)

	case model.ReRoute:
		return e.reconcileReRoute(ctx, session, plan, policy, sessionVarsEnv)

	default:
		return nil, fmt.Errorf("migration: unknown migration scenario %q", policy.Scenario)
	}
}

func (e *Executor) reconcileGapFill(
	ctx context.Context,
	session *model.Session,
	plan *model.MigrationPlan,
	policy *model.AnchorPolicy,
	profileID, conversationText string,
) (*ExecutionResult, error) {
	resolutions, err := e.gapFill.Resolve(ctx, session.TenantID, profileID, policy.RequiredFields, session.Variables, conversationText)
	if err != nil {
		return nil, err
	}

	var unresolved []FieldResolution
	for _, r := range resolutions {
		if r.NeedsAsk {
			unresolved = append(unresolved, r)
		}
	}
	if len(unresolved) == 0 {
		for _, r := range resolutions {
			if r.Tier == "conversation" || r.Tier == "asset" {
				session.Variables[r.Field] = r.Value
			}
		}
		e.teleport(session, policy.AnchorStepIDV2, plan.Map.ToVersion)
		return &ExecutionResult{Outcome: OutcomeTeleported, NewStepID: policy.AnchorStepIDV2, NewVersion: plan.Map.ToVersion, Resolutions: resolutions}, nil
	}

	return &ExecutionResult{
		Outcome:     OutcomeNeedsGapFill,
		Resolutions: resolutions,
		Prompt:      gapFillPrompt(unresolved),
	}, nil
}

func (e *Executor) reconcileReRoute(
	ctx context.Context,
	session *model.Session,
	plan *model.MigrationPlan,
	policy *model.AnchorPolicy,
	sessionVarsEnv map[string]any,
) (*ExecutionResult, error) {
	v2, err := e.config.GetScenario(ctx, session.TenantID, session.AgentID, plan.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("migration: loading scenario %s v%d: %w", plan.ScenarioID, plan.Map.ToVersion, err)
	}
	if v2.Version != plan.Map.ToVersion {
		v2, err = e.config.GetArchivedScenario(ctx, session.TenantID, session.AgentID, plan.ScenarioID, plan.Map.ToVersion)
		if err != nil {
			return nil, fmt.Errorf("migration: loading archived scenario %s v%d: %w", plan.ScenarioID, plan.Map.ToVersion, err)
		}
	}

	fork := v2.StepByID(policy.RerouteForkStepID)
	target, changed := evaluateFork(fork, policy.AnchorStepIDV2, sessionVarsEnv)
	if !changed {
		e.teleport(session, policy.AnchorStepIDV2, plan.Map.ToVersion)
		return &ExecutionResult{Outcome: OutcomeTeleported, NewStepID: policy.AnchorStepIDV2, NewVersion: plan.Map.ToVersion}, nil
	}

	return &ExecutionResult{
		Outcome:       OutcomeNeedsRerouteConfirm,
		RerouteTarget: target,
		Prompt:        fmt.Sprintf("Our process for this has changed — would you like to continue with %s instead?", humanize(target)),
	}, nil
}

// evaluateFork evaluates fork's deterministic transitions against env
// in authoring order and reports the first satisfied target, and
// whether it differs from the anchor the plan originally expected.
func evaluateFork(fork *model.ScenarioStep, anchorStepID string, env map[string]any) (string, bool) {
	if fork == nil {
		return anchorStepID, false
	}
	for _, tr := range fork.Transitions {
		if tr.ConditionExpr == "" {
			continue
		}
		ok, err := exprlang.EvalExpr(tr.ConditionExpr, exprlang.Env(env))
		if err == nil && ok {
			return tr.TargetStepID, tr.TargetStepID != anchorStepID
		}
	}
	return anchorStepID, false
}

func (e *Executor) teleport(session *model.Session, stepID string, version int) {
	session.ActiveStepID = stepID
	session.ActiveScenarioVer = version
	session.RelocalizationCount = 0
	session.PendingMigration = nil
}

func gapFillPrompt(unresolved []FieldResolution) string {
	parts := make([]string, 0, len(unresolved))
	for _, r := range unresolved {
		if r.Resolved {
			parts = append(parts, fmt.Sprintf("Can you confirm your %s is %s?", humanize(r.Field), valueString(r.Value)))
		} else {
			parts = append(parts, fmt.Sprintf("Could you tell us your %s?", humanize(r.Field)))
		}
	}
	return strings.Join(parts, " ")
}

func humanize(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}

func valueString(v model.Value) string {
	switch v.Kind {
	case model.VarNumber:
		return fmt.Sprintf("%v", v.Num)
	case model.VarBool:
		return fmt.Sprintf("%v", v.Bool)
	case model.VarDateTime:
		return v.Time.Format("2006-01-02")
	default:
		return v.Str
	}
}
