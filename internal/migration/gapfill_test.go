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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchframe/alignment-engine/internal/model"
	"github.com/latchframe/alignment-engine/internal/provider"
	"github.com/latchframe/alignment-engine/internal/store"
)

// stubConversationLLM always answers with a fixed JSON extraction reply.
type stubConversationLLM struct{ reply string }

func (s *stubConversationLLM) Name() string { return "stub" }
func (s *stubConversationLLM) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	return provider.ChatResponse{Text: s.reply}, nil
}
func (s *stubConversationLLM) ChatStream(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	return nil, nil
}
func (s *stubConversationLLM) Close() error { return nil }

func TestGapFillResolvePrefersProfileOverSession(t *testing.T) {
	profiles := store.NewInMemoryProfileStore()
	profile, err := profiles.GetOrCreate(context.Background(), "t1", "cli", "u1", 1)
	require.NoError(t, err)
	require.NoError(t, profiles.UpdateField(context.Background(), "t1", profile.ID, "phone", model.StringValue("555-0100"), 1.0, model.SourceVerified))

	service := NewGapFillService(profiles, nil, Config{UseThreshold: 0.5, NoConfirmThreshold: 0.85})
	sessionVars := map[string]model.Value{"phone": model.StringValue("000-0000")}

	resolutions, err := service.Resolve(context.Background(), "t1", profile.ID, []string{"phone"}, sessionVars, "")
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "profile", resolutions[0].Tier)
	assert.Equal(t, "555-0100", resolutions[0].Value.Str)
	assert.True(t, resolutions[0].Confirmed)
	assert.False(t, resolutions[0].NeedsAsk)
}

func TestGapFillResolveFallsBackToSessionVariables(t *testing.T) {
	profiles := store.NewInMemoryProfileStore()
	profile, err := profiles.GetOrCreate(context.Background(), "t1", "cli", "u1", 1)
	require.NoError(t, err)

	service := NewGapFillService(profiles, nil, Config{UseThreshold: 0.5, NoConfirmThreshold: 0.85})
	sessionVars := map[string]model.Value{"phone": model.StringValue("000-0000")}

	resolutions, err := service.Resolve(context.Background(), "t1", profile.ID, []string{"phone"}, sessionVars, "")
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "session", resolutions[0].Tier)
	assert.True(t, resolutions[0].Confirmed)
}

func TestGapFillResolveUnresolvedWithNoSourcesAsksOriginalQuestion(t *testing.T) {
	profiles := store.NewInMemoryProfileStore()
	profile, err := profiles.GetOrCreate(context.Background(), "t1", "cli", "u1", 1)
	require.NoError(t, err)

	service := NewGapFillService(profiles, nil, Config{UseThreshold: 0.5, NoConfirmThreshold: 0.85})

	resolutions, err := service.Resolve(context.Background(), "t1", profile.ID, []string{"phone"}, nil, "")
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "unresolved", resolutions[0].Tier)
	assert.True(t, resolutions[0].NeedsAsk)
	assert.False(t, resolutions[0].Resolved)
}

func TestGapFillResolveConversationBelowUseThresholdStaysUnresolved(t *testing.T) {
	profiles := store.NewInMemoryProfileStore()
	profile, err := profiles.GetOrCreate(context.Background(), "t1", "cli", "u1", 1)
	require.NoError(t, err)

	llm := &stubConversationLLM{reply: `{"found": true, "value": "555-0100", "confidence": 0.2}`}
	service := NewGapFillService(profiles, llm, Config{UseThreshold: 0.5, NoConfirmThreshold: 0.85})

	resolutions, err := service.Resolve(context.Background(), "t1", profile.ID, []string{"phone"}, nil, "my number is 555-0100")
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "unresolved", resolutions[0].Tier)
	assert.True(t, resolutions[0].NeedsAsk)
}

func TestGapFillResolveConversationBetweenThresholdsNeedsConfirm(t *testing.T) {
	profiles := store.NewInMemoryProfileStore()
	profile, err := profiles.GetOrCreate(context.Background(), "t1", "cli", "u1", 1)
	require.NoError(t, err)

	llm := &stubConversationLLM{reply: `{"found": true, "value": "555-0100", "confidence": 0.7}`}
	service := NewGapFillService(profiles, llm, Config{UseThreshold: 0.5, NoConfirmThreshold: 0.85})

	resolutions, err := service.Resolve(context.Background(), "t1", profile.ID, []string{"phone"}, nil, "my number is 555-0100")
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "conversation", resolutions[0].Tier)
	assert.True(t, resolutions[0].Resolved)
	assert.True(t, resolutions[0].NeedsAsk, "below no-confirm threshold, so the candidate must still be confirmed")
	assert.False(t, resolutions[0].Confirmed)

	reloaded, err := profiles.GetByID(context.Background(), "t1", profile.ID)
	require.NoError(t, err)
	_, persisted := reloaded.Fields["phone"]
	assert.False(t, persisted, "below no-confirm threshold, nothing is written to the profile yet")
}

func TestGapFillResolveConversationAtNoConfirmThresholdPersistsSilently(t *testing.T) {
	profiles := store.NewInMemoryProfileStore()
	profile, err := profiles.GetOrCreate(context.Background(), "t1", "cli", "u1", 1)
	require.NoError(t, err)

	llm := &stubConversationLLM{reply: `{"found": true, "value": "555-0100", "confidence": 0.9}`}
	service := NewGapFillService(profiles, llm, Config{UseThreshold: 0.5, NoConfirmThreshold: 0.85})

	resolutions, err := service.Resolve(context.Background(), "t1", profile.ID, []string{"phone"}, nil, "my number is 555-0100")
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.True(t, resolutions[0].Confirmed)
	assert.False(t, resolutions[0].NeedsAsk)

	reloaded, err := profiles.GetByID(context.Background(), "t1", profile.ID)
	require.NoError(t, err)
	require.Contains(t, reloaded.Fields, "phone")
	assert.Equal(t, "555-0100", reloaded.Fields["phone"].Value.Str)
}
