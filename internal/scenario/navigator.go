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

// Package scenario implements the scenario filter / navigator (spec
// §4.6): the graph-walking decision procedure that decides whether a
// session starts, continues, transitions within, relocalizes within, or
// exits a scenario. It is the one stage with no direct teacher analogue
// (the teacher has no business-process graph concept); its algorithm is
// grounded directly in spec §4.6's decision procedure, built atop
// internal/exprlang for deterministic condition evaluation and
// internal/vectorutil for step re-scoring.
package scenario

import (
	"context"
	"sort"
	"strings"

	"github.com/latchframe/alignment-engine/internal/exprlang"
	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
	"github.com/latchframe/alignment-engine/internal/vectorutil"
)

// Action is the navigator's decision for one turn (spec §4.6 "Actions").
type Action string

const (
	ActionNone        Action = "NONE"
	ActionStart       Action = "START"
	ActionContinue    Action = "CONTINUE"
	ActionTransition  Action = "TRANSITION"
	ActionRelocalize  Action = "RELOCALIZE"
	ActionExit        Action = "EXIT"
)

// FallbackBehavior is the configured response when a step has no
// matching transition for too many consecutive turns.
type FallbackBehavior string

const (
	FallbackClarify  FallbackBehavior = "clarify"
	FallbackStay     FallbackBehavior = "stay"
	FallbackEscalate FallbackBehavior = "escalate"
)

// Config is the scenario_filter configuration surface (spec §6.3).
type Config struct {
	EntryThreshold             float64
	TransitionThreshold        float64
	SanityThreshold            float64
	MinMargin                  float64
	StickinessBoost            float64
	ExitIntentThreshold        float64
	LLMAdjudicationEnabled     bool
	MaxLoopCount               int
	LoopDetectionWindow        int
	RelocalizationEnabled      bool
	RelocalizationThreshold    float64
	RelocalizationTriggerTurns int
	MaxRelocalizationHops      int
	FallbackBehavior           FallbackBehavior
	MaxClarificationsPerStep   int
}

// EntryCandidate is a scenario eligible to start, scored by retrieval
// (spec §4.3 scenario retrieval).
type EntryCandidate struct {
	Scenario *model.Scenario
	Score    float64
}

// Input gathers everything one navigation decision needs.
type Input struct {
	Context *model.Context

	// ActiveScenario is nil when no scenario is active.
	ActiveScenario *model.Scenario
	ActiveStepID   string

	// EntryCandidates are scored scenario-start candidates from
	// retrieval, excluding ActiveScenario itself.
	EntryCandidates []EntryCandidate

	// Variables is the merged {profile_fields, session.variables,
	// context.entities} environment deterministic conditions evaluate
	// against (spec §4.6).
	Variables map[string]any

	// VisitedCounts maps step id to how many times it was visited
	// within the configured loop-detection window.
	VisitedCounts map[string]int

	RelocalizationCount int
	// CurrentStepDwellTurns is how many consecutive turns the session
	// has spent on ActiveStepID.
	CurrentStepDwellTurns int
	// NoMatchStreak is how many consecutive turns ActiveStepID had no
	// matching transition.
	NoMatchStreak int
}

// Decision is the navigator's output for one turn.
type Decision struct {
	Action                  Action
	TargetScenarioID        string
	TargetStepID            string
	Confidence              float64
	Reason                  string
	NewRelocalizationCount  int
	NewNoMatchStreak        int
	Fallback                FallbackBehavior
}

// Navigator runs the decision procedure. llm is used only for ambiguous
// transition adjudication and may be nil if LLMAdjudicationEnabled is
// false.
type Navigator struct {
	llm provider.LLMProvider
	cfg Config
}

func New(llm provider.LLMProvider, cfg Config) *Navigator {
	return &Navigator{llm: llm, cfg: cfg}
}

// Decide runs one navigation step (spec §4.6 "Decision procedure").
func (n *Navigator) Decide(ctx context.Context, in Input) (Decision, error) {
	if in.ActiveScenario == nil {
		return n.decideNoActive(in), nil
	}
	return n.decideActive(ctx, in)
}

func (n *Navigator) decideNoActive(in Input) Decision {
	best, ok := bestEntry(in.EntryCandidates)
	if !ok || best.Score < n.cfg.EntryThreshold || in.Context.ScenarioSignal == model.SignalExit {
		return Decision{Action: ActionNone, Reason: "no candidate met entry threshold"}
	}
	return Decision{
		Action:           ActionStart,
		TargetScenarioID: best.Scenario.ID,
		TargetStepID:     best.Scenario.EntryStepID,
		Confidence:       best.Score,
		Reason:           "best scenario candidate met entry threshold",
	}
}

func bestEntry(candidates []EntryCandidate) (EntryCandidate, bool) {
	if len(candidates) == 0 {
		return EntryCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

type transitionScore struct {
	transition    *model.StepTransition
	score         float64
	deterministic bool
}

func (n *Navigator) decideActive(ctx context.Context, in Input) (Decision, error) {
	step := in.ActiveScenario.StepByID(in.ActiveStepID)
	if step == nil {
		return Decision{Action: ActionExit, Reason: "active step not found in scenario"}, nil
	}

	scored, err := n.scoreTransitions(step.Transitions, in.Variables, in.Context)
	if err != nil {
		return Decision{}, err
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	// Stickiness: boost in-scenario options (every scored transition,
	// plus the implicit "stay" option) before comparing against
	// external scenario candidates competing to take over the session.
	stayScore := 0.0
	if len(scored) > 0 {
		stayScore = scored[0].score
	}
	boostedStay := stayScore + n.cfg.StickinessBoost

	competitor, hasCompetitor := bestEntry(in.EntryCandidates)
	if hasCompetitor && competitor.Score > n.cfg.ExitIntentThreshold && competitor.Score > boostedStay {
		return Decision{
			Action:     ActionExit,
			Confidence: competitor.Score,
			Reason:     "competing scenario exceeded exit intent threshold and current scenario's boosted score",
		}, nil
	}

	best, hasTransition := bestTransition(scored)
	if !hasTransition || best.score+n.cfg.StickinessBoost < n.cfg.SanityThreshold {
		return n.noTransitionDecision(step, in)
	}

	// Ambiguity: multiple transitions within MinMargin above
	// TransitionThreshold require LLM adjudication, unless one is
	// deterministically satisfied (which always wins).
	if !best.deterministic && n.cfg.LLMAdjudicationEnabled && ambiguous(scored, n.cfg.TransitionThreshold, n.cfg.MinMargin) {
		adjudicated, err := n.adjudicate(ctx, step, scored, in.Context)
		if err == nil && adjudicated != nil {
			best = *adjudicated
		}
	}

	target := best.transition.TargetStepID
	if in.VisitedCounts[target] >= n.cfg.MaxLoopCount && n.cfg.MaxLoopCount > 0 {
		return n.handleLoop(in, target)
	}

	return Decision{
		Action:           ActionTransition,
		TargetScenarioID: in.ActiveScenario.ID,
		TargetStepID:     target,
		Confidence:       best.score,
		Reason:           "transition condition/intent satisfied",
		NewNoMatchStreak: 0,
	}, nil
}

func (n *Navigator) noTransitionDecision(step *model.ScenarioStep, in Input) (Decision, error) {
	streak := in.NoMatchStreak + 1
	if n.cfg.MaxClarificationsPerStep > 0 && streak >= n.cfg.MaxClarificationsPerStep {
		fb := n.cfg.FallbackBehavior
		if fb == "" {
			fb = FallbackStay
		}
		if fb == FallbackEscalate {
			return Decision{Action: ActionExit, Reason: "fallback escalation", Fallback: fb, NewNoMatchStreak: 0}, nil
		}
		return Decision{Action: ActionContinue, Reason: "fallback " + string(fb), Fallback: fb, NewNoMatchStreak: streak}, nil
	}
	if step.IsTerminal() {
		return Decision{Action: ActionExit, Reason: "no matching transition at terminal step", NewNoMatchStreak: 0}, nil
	}
	return Decision{Action: ActionContinue, Reason: "no transition met sanity threshold", NewNoMatchStreak: streak}, nil
}

func (n *Navigator) handleLoop(in Input, loopTarget string) (Decision, error) {
	triggerByDwell := n.cfg.RelocalizationTriggerTurns > 0 && in.CurrentStepDwellTurns >= n.cfg.RelocalizationTriggerTurns
	if !n.cfg.RelocalizationEnabled || in.RelocalizationCount >= n.cfg.MaxRelocalizationHops {
		if !triggerByDwell {
			// Loop detected but relocalization unavailable: stay rather
			// than loop back.
			return Decision{Action: ActionContinue, Reason: "loop detected, relocalization unavailable"}, nil
		}
	}

	best, ok := bestReachableStep(in.ActiveScenario, in.ActiveStepID, in.Context.Embedding)
	if !ok || best.score < n.cfg.RelocalizationThreshold {
		return Decision{Action: ActionExit, Reason: "loop detected, no step qualified for relocalization"}, nil
	}
	return Decision{
		Action:                 ActionRelocalize,
		TargetScenarioID:       in.ActiveScenario.ID,
		TargetStepID:           best.stepID,
		Confidence:             best.score,
		Reason:                 "relocalized away from detected loop",
		NewRelocalizationCount: in.RelocalizationCount + 1,
	}, nil
}

type reachableScore struct {
	stepID string
	score  float64
}

// bestReachableStep re-scores every step reachable from the scenario
// entry (the whole graph, since Scenario.Validate guarantees full
// reachability from entry) against the context embedding, skipping the
// step currently looped on.
func bestReachableStep(s *model.Scenario, skip string, queryEmbedding []float32) (reachableScore, bool) {
	var best reachableScore
	found := false
	for _, st := range s.Steps {
		if st.ID == skip || len(st.Embedding) == 0 {
			continue
		}
		score := vectorutil.Cosine(st.Embedding, queryEmbedding)
		if !found || score > best.score {
			best = reachableScore{stepID: st.ID, score: score}
			found = true
		}
	}
	return best, found
}

// adjudicate asks an LLM to pick among ambiguous candidate transitions
// when no deterministic condition decided the outcome (spec §4.6
// "Ambiguous cases... are resolved by an LLM adjudication call").
func (n *Navigator) adjudicate(ctx context.Context, step *model.ScenarioStep, scored []transitionScore, ctxSnapshot *model.Context) (*transitionScore, error) {
	if n.llm == nil || len(scored) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString("The user is at step ")
	b.WriteString(step.ID)
	b.WriteString(" with message context intent ")
	if ctxSnapshot != nil {
		b.WriteString(ctxSnapshot.IntentLabel)
	}
	b.WriteString(". Candidate next steps:\n")
	for i, s := range scored {
		b.WriteString(string(rune('1'+i)) + ". " + s.transition.TargetStepID + "\n")
	}
	b.WriteString("Reply with only the number of the best candidate.")

	resp, err := n.llm.Chat(ctx, provider.ChatRequest{
		Messages: []provider.ChatMessage{
			{Role: "system", Content: "You pick the single best next conversation step. Reply with only a number."},
			{Role: "user", Content: b.String()},
		},
		Config: provider.GenerateConfig{Temperature: 0},
	})
	if err != nil {
		return nil, err
	}
	idx := parseChoiceIndex(resp.Text, len(scored))
	if idx < 0 {
		return nil, nil
	}
	return &scored[idx], nil
}

func parseChoiceIndex(text string, n int) int {
	trimmed := strings.TrimSpace(text)
	for i := 0; i < n; i++ {
		if strings.HasPrefix(trimmed, string(rune('1'+i))) {
			return i
		}
	}
	return -1
}

func bestTransition(scored []transitionScore) (transitionScore, bool) {
	if len(scored) == 0 {
		return transitionScore{}, false
	}
	return scored[0], true
}

func ambiguous(scored []transitionScore, threshold, margin float64) bool {
	count := 0
	for _, s := range scored {
		if s.score >= threshold {
			count++
		}
	}
	if count < 2 {
		return false
	}
	return scored[0].score-scored[1].score <= margin
}

func (n *Navigator) scoreTransitions(transitions []*model.StepTransition, vars map[string]any, ctxSnapshot *model.Context) ([]transitionScore, error) {
	out := make([]transitionScore, 0, len(transitions))
	for _, tr := range transitions {
		if tr.ConditionExpr != "" {
			ok, err := exprlang.EvalExpr(tr.ConditionExpr, exprlang.Env(vars))
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, transitionScore{transition: tr, score: 1.0, deterministic: true})
				continue
			}
			// A present-but-failed deterministic condition blocks this
			// transition outright; do not also consider intent match.
			continue
		}
		if tr.IntentMatch != "" {
			score := 0.0
			if ctxSnapshot != nil && strings.EqualFold(ctxSnapshot.IntentLabel, tr.IntentMatch) {
				score = ctxSnapshot.Confidence
			}
			out = append(out, transitionScore{transition: tr, score: score})
		}
	}
	return out, nil
}
