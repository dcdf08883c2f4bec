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

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

// sqlite's driver is pure in-process (no server to stand up), so unlike
// the Postgres/MySQL/etcd-backed stores this one is exercised against a
// real, if ephemeral, database rather than skipped.
func newTestSQLSessionStore(t *testing.T) *SQLSessionStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := NewSQLSessionStore(context.Background(), db, "sqlite")
	require.NoError(t, err)
	return store
}

func TestSQLSessionStoreNewRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	_, err = NewSQLSessionStore(context.Background(), db, "oracle")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidRequest))
}

func TestSQLSessionStoreSaveAndGetRoundTripsPayload(t *testing.T) {
	store := newTestSQLSessionStore(t)
	ctx := context.Background()

	sess := &model.Session{
		TenantID:      "tenant-1",
		AgentID:       "agent-1",
		SessionID:     "sess-1",
		Channel:       "whatsapp",
		UserChannelID: "+15551234",
		Variables:     map[string]model.Value{"name": model.StringValue("Ada")},
		RuleFires:     map[string]int{"rule-1": 2},
		StepHistory: []model.StepVisit{
			{StepID: "step-1", TurnNumber: 1, Reason: "START"},
		},
		LastActivityAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, int64(1), sess.Version)

	got, err := store.Get(ctx, "tenant-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, "whatsapp", got.Channel)
	assert.Equal(t, 2, got.RuleFires["rule-1"])
	require.Len(t, got.StepHistory, 1)
	assert.Equal(t, "step-1", got.StepHistory[0].StepID)
}

func TestSQLSessionStoreGetByChannelFindsSessionByChannelIdentity(t *testing.T) {
	store := newTestSQLSessionStore(t)
	ctx := context.Background()
	sess := &model.Session{TenantID: "t1", AgentID: "a1", SessionID: "s1", Channel: "sms", UserChannelID: "u1"}
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.GetByChannel(ctx, "t1", "sms", "u1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)

	_, err = store.GetByChannel(ctx, "t1", "sms", "nobody")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestSQLSessionStoreSaveRejectsStaleVersion(t *testing.T) {
	store := newTestSQLSessionStore(t)
	ctx := context.Background()
	sess := &model.Session{TenantID: "t1", AgentID: "a1", SessionID: "s1"}
	require.NoError(t, store.Save(ctx, sess)) // version -> 1

	stale := &model.Session{TenantID: "t1", AgentID: "a1", SessionID: "s1", Version: 0}
	err := store.Save(ctx, stale)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestSQLSessionStoreDeleteRemovesSession(t *testing.T) {
	store := newTestSQLSessionStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &model.Session{TenantID: "t1", AgentID: "a1", SessionID: "s1"}))

	require.NoError(t, store.Delete(ctx, "t1", "s1"))
	_, err := store.Get(ctx, "t1", "s1")
	assert.True(t, errs.Is(err, errs.NotFound))

	err = store.Delete(ctx, "t1", "s1")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestSQLSessionStoreListByAgentOrdersAndPaginates(t *testing.T) {
	store := newTestSQLSessionStore(t)
	ctx := context.Background()
	for _, id := range []string{"s3", "s1", "s2"} {
		require.NoError(t, store.Save(ctx, &model.Session{TenantID: "t1", AgentID: "a1", SessionID: id}))
	}

	all, err := store.ListByAgent(ctx, "t1", "a1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"s1", "s2", "s3"}, []string{all[0].SessionID, all[1].SessionID, all[2].SessionID})

	page, err := store.ListByAgent(ctx, "t1", "a1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "s2", page[0].SessionID)
}

func TestSQLSessionStoreFindSessionsByStepHashFiltersByScenarioAndStep(t *testing.T) {
	store := newTestSQLSessionStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &model.Session{
		TenantID: "t1", AgentID: "a1", SessionID: "s1",
		ActiveScenarioID: "onboarding", ActiveScenarioVer: 1, ActiveStepID: "collect-name",
		CustomerProfileID: "cust-1",
	}))
	require.NoError(t, store.Save(ctx, &model.Session{
		TenantID: "t1", AgentID: "a1", SessionID: "s2",
		ActiveScenarioID: "onboarding", ActiveScenarioVer: 1, ActiveStepID: "collect-email",
	}))

	matches, err := store.FindSessionsByStepHash(ctx, "t1", "onboarding", 1, "collect-name", "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "s1", matches[0].SessionID)

	matches, err = store.FindSessionsByStepHash(ctx, "t1", "onboarding", 1, "collect-name", "cust-2")
	require.NoError(t, err)
	assert.Empty(t, matches)
}
