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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pinecone is a hosted service with no local/in-process mode, so unlike
// sqlite (pure in-process) or postgres/mysql/etcd (reachable via a local
// dev server) there is nothing to dial without real credentials. The
// live round-trip test only runs when PINECONE_API_KEY is set.
func newTestPineconeMemoryStore(t *testing.T) *PineconeMemoryStore {
	t.Helper()
	apiKey := os.Getenv("PINECONE_API_KEY")
	if apiKey == "" {
		t.Skip("PINECONE_API_KEY not set")
	}
	store, err := NewPineconeMemoryStore(apiKey, os.Getenv("PINECONE_HOST"), os.Getenv("PINECONE_INDEX"))
	require.NoError(t, err)
	return store
}

func TestPineconeMemoryStoreNewRejectsEmptyAPIKey(t *testing.T) {
	_, err := NewPineconeMemoryStore("", "", "")
	require.Error(t, err)
}

func TestPineconeMemoryStoreAddAndGetEpisode(t *testing.T) {
	store := newTestPineconeMemoryStore(t)
	ctx := context.Background()
	ep := Episode{ID: "ep-1", GroupID: "g1", Text: "refund request", Embedding: []float32{1, 0, 0}, Timestamp: time.Now()}
	require.NoError(t, store.AddEpisode(ctx, ep))

	got, err := store.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, "refund request", got.Text)
}

func TestPineconeMemoryStoreEntityGraphTraversalNeedsNoLiveIndex(t *testing.T) {
	store := &PineconeMemoryStore{
		episodes: make(map[string]Episode),
		entities: make(map[string]Entity),
	}
	ctx := context.Background()
	require.NoError(t, store.UpsertEntity(ctx, Entity{ID: "e1", Name: "Ada"}))
	require.NoError(t, store.UpsertEntity(ctx, Entity{ID: "e2", Name: "Acme"}))
	require.NoError(t, store.UpsertRelationship(ctx, Relationship{FromEntityID: "e1", ToEntityID: "e2", Type: "works_at"}))

	entities, rels, err := store.TraverseFromEntities(ctx, []string{"e1"}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
	assert.Len(t, rels, 1)
}
