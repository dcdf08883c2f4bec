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

package rulefilter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
)

// stubJudgeLLM replies with a fixed sequence of responses, one per Chat
// call, so tests can assert on per-batch prompts.
type stubJudgeLLM struct {
	replies []string
	calls   int
	err     error
}

func (s *stubJudgeLLM) Name() string { return "stub-judge" }

func (s *stubJudgeLLM) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	if s.err != nil {
		return provider.ChatResponse{}, s.err
	}
	reply := s.replies[s.calls]
	s.calls++
	return provider.ChatResponse{Text: reply}, nil
}

func (s *stubJudgeLLM) ChatStream(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	return nil, nil
}

func (s *stubJudgeLLM) Close() error { return nil }

func rules(ids ...string) []*model.Rule {
	out := make([]*model.Rule, len(ids))
	for i, id := range ids {
		out[i] = &model.Rule{ID: id, ConditionText: "condition for " + id}
	}
	return out
}

func TestFilterDisabledReturnsEveryCandidateAtFullConfidence(t *testing.T) {
	f := New(&stubJudgeLLM{}, Config{Enabled: false})
	res, err := f.Filter(context.Background(), "hello", nil, rules("r1", "r2"))
	require.NoError(t, err)
	require.Len(t, res.Matched, 2)
	assert.Equal(t, 1.0, res.Matched[0].Confidence)
	assert.Equal(t, "r1", res.Matched[0].RuleID)
}

func TestFilterDropsLowConfidenceAndNonApplyingDecisions(t *testing.T) {
	llm := &stubJudgeLLM{replies: []string{
		`{"decisions":[{"rule_id":"r1","applies":true,"confidence":0.9},{"rule_id":"r2","applies":true,"confidence":0.2},{"rule_id":"r3","applies":false,"confidence":0.9}]}`,
	}}
	f := New(llm, Config{Enabled: true, RelevanceThreshold: 0.5})
	res, err := f.Filter(context.Background(), "hello", nil, rules("r1", "r2", "r3"))
	require.NoError(t, err)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, "r1", res.Matched[0].RuleID)
}

func TestFilterBatchesCandidatesByConfiguredSize(t *testing.T) {
	llm := &stubJudgeLLM{replies: []string{
		`{"decisions":[{"rule_id":"r1","applies":true,"confidence":0.9},{"rule_id":"r2","applies":true,"confidence":0.9}]}`,
		`{"decisions":[{"rule_id":"r3","applies":true,"confidence":0.9}]}`,
	}}
	f := New(llm, Config{Enabled: true, BatchSize: 2, RelevanceThreshold: 0.5})
	res, err := f.Filter(context.Background(), "hello", nil, rules("r1", "r2", "r3"))
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls, "three candidates at batch size 2 must take two judge calls")
	assert.Len(t, res.Matched, 3)
}

func TestFilterDefaultsBatchSizeToFive(t *testing.T) {
	llm := &stubJudgeLLM{replies: []string{
		`{"decisions":[{"rule_id":"r1","applies":true,"confidence":0.9},{"rule_id":"r2","applies":true,"confidence":0.9},{"rule_id":"r3","applies":true,"confidence":0.9}]}`,
	}}
	f := New(llm, Config{Enabled: true, RelevanceThreshold: 0.5})
	_, err := f.Filter(context.Background(), "hello", nil, rules("r1", "r2", "r3"))
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls, "three candidates fit in a single batch under the default size of five")
}

func TestFilterAppliesMaxRulesCap(t *testing.T) {
	llm := &stubJudgeLLM{replies: []string{
		`{"decisions":[{"rule_id":"r1","applies":true,"confidence":0.9},{"rule_id":"r2","applies":true,"confidence":0.9},{"rule_id":"r3","applies":true,"confidence":0.9}]}`,
	}}
	f := New(llm, Config{Enabled: true, RelevanceThreshold: 0.5, MaxRules: 2})
	res, err := f.Filter(context.Background(), "hello", nil, rules("r1", "r2", "r3"))
	require.NoError(t, err)
	assert.Len(t, res.Matched, 2)
}

func TestFilterCarriesTheFirstScenarioSignalEmittedAcrossBatches(t *testing.T) {
	llm := &stubJudgeLLM{replies: []string{
		`{"decisions":[{"rule_id":"r1","applies":true,"confidence":0.9,"scenario_signal":"START"}]}`,
		`{"decisions":[{"rule_id":"r2","applies":true,"confidence":0.9,"scenario_signal":"EXIT"}]}`,
	}}
	f := New(llm, Config{Enabled: true, BatchSize: 1, RelevanceThreshold: 0.5})
	res, err := f.Filter(context.Background(), "hello", nil, rules("r1", "r2"))
	require.NoError(t, err)
	assert.Equal(t, model.SignalStart, res.ScenarioSignal, "once a signal is set by an earlier batch, later batches don't overwrite it")
}

func TestFilterPropagatesJudgeCallError(t *testing.T) {
	f := New(&stubJudgeLLM{err: assert.AnError}, Config{Enabled: true, RelevanceThreshold: 0.5})
	_, err := f.Filter(context.Background(), "hello", nil, rules("r1"))
	assert.Error(t, err)
}

func TestFilterPropagatesMalformedJudgeResponse(t *testing.T) {
	llm := &stubJudgeLLM{replies: []string{"not json at all, no braces"}}
	f := New(llm, Config{Enabled: true, RelevanceThreshold: 0.5})
	_, err := f.Filter(context.Background(), "hello", nil, rules("r1"))
	assert.Error(t, err)
}

func TestFilterIncludesIntentFromContextSnapshotInPrompt(t *testing.T) {
	llm := &stubJudgeLLM{replies: []string{`{"decisions":[]}`}}
	f := New(llm, Config{Enabled: true, RelevanceThreshold: 0.5})
	ctxSnap := &model.Context{IntentLabel: "refund_request", Confidence: 0.8}
	_, err := f.Filter(context.Background(), "I want a refund", ctxSnap, rules("r1"))
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
}
