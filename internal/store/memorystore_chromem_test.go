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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChromemMemoryStore(t *testing.T) *ChromemMemoryStore {
	t.Helper()
	store, err := NewChromemMemoryStore("", false)
	require.NoError(t, err)
	return store
}

func TestChromemMemoryStoreAddAndGetEpisode(t *testing.T) {
	store := newTestChromemMemoryStore(t)
	ctx := context.Background()
	ep := Episode{ID: "ep-1", GroupID: "sess-1", Text: "customer asked about refund", Embedding: []float32{1, 0, 0}, Timestamp: time.Now()}
	require.NoError(t, store.AddEpisode(ctx, ep))

	got, err := store.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, "customer asked about refund", got.Text)

	_, err = store.GetEpisode(ctx, "missing")
	assert.Error(t, err)
}

func TestChromemMemoryStoreSearchEpisodesVectorFiltersByGroupAndScore(t *testing.T) {
	store := newTestChromemMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddEpisode(ctx, Episode{ID: "a", GroupID: "g1", Text: "alpha", Embedding: []float32{1, 0, 0}, Timestamp: time.Now()}))
	require.NoError(t, store.AddEpisode(ctx, Episode{ID: "b", GroupID: "g2", Text: "beta", Embedding: []float32{0, 1, 0}, Timestamp: time.Now()}))

	results, err := store.SearchEpisodesVector(ctx, "g1", []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestChromemMemoryStoreSearchEpisodesTextMatchesSubstring(t *testing.T) {
	store := newTestChromemMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddEpisode(ctx, Episode{ID: "a", GroupID: "g1", Text: "wants a refund", Embedding: []float32{1}, Timestamp: time.Now()}))
	require.NoError(t, store.AddEpisode(ctx, Episode{ID: "b", GroupID: "g1", Text: "asking about shipping", Embedding: []float32{1}, Timestamp: time.Now()}))

	results, err := store.SearchEpisodesText(ctx, "g1", "refund", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestChromemMemoryStoreDeleteByGroupRemovesOnlyThatGroup(t *testing.T) {
	store := newTestChromemMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddEpisode(ctx, Episode{ID: "a", GroupID: "g1", Text: "x", Embedding: []float32{1}, Timestamp: time.Now()}))
	require.NoError(t, store.AddEpisode(ctx, Episode{ID: "b", GroupID: "g2", Text: "y", Embedding: []float32{1}, Timestamp: time.Now()}))

	require.NoError(t, store.DeleteByGroup(ctx, "g1"))
	_, err := store.GetEpisode(ctx, "a")
	assert.Error(t, err)
	_, err = store.GetEpisode(ctx, "b")
	assert.NoError(t, err)
}

func TestChromemMemoryStoreEntityGraphTraversal(t *testing.T) {
	store := newTestChromemMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertEntity(ctx, Entity{ID: "e1", Name: "Ada", Kind: "person"}))
	require.NoError(t, store.UpsertEntity(ctx, Entity{ID: "e2", Name: "Acme", Kind: "org"}))
	require.NoError(t, store.UpsertRelationship(ctx, Relationship{FromEntityID: "e1", ToEntityID: "e2", Type: "works_at"}))

	entities, rels, err := store.TraverseFromEntities(ctx, []string{"e1"}, 1, nil)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	require.Len(t, rels, 1)
}
