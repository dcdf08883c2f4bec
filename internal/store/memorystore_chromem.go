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
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/latchframe/alignment-engine/internal/errs"
)

const episodesCollection = "memory_episodes"

// ChromemMemoryStore is the zero-config, single-process MemoryStore
// backend, grounded on the teacher's ChromemProvider
// (pkg/vector/chromem.go): a chromem-go collection holds every
// episode's pre-computed embedding for ANN search, the same
// AddDocuments/QueryEmbedding/Delete calls the teacher uses.
//
// chromem-go has no keyword index or full-scan listing of its own
// (the teacher's own provider doesn't expose one either), so, like the
// qdrant/etcd split in configstore_etcd.go, episode bookkeeping that
// needs exact lookup or substring search — GetEpisode,
// SearchEpisodesText, DeleteByGroup — is served from a local cache kept
// in lockstep with the collection rather than round-tripped through
// chromem's ANN path.
//
// Entities and relationships have no vector shape at all, so they stay
// in the same local, mutex-guarded adjacency list the in-memory
// reference store uses.
type ChromemMemoryStore struct {
	db         *chromem.DB
	collection *chromem.Collection

	mu            sync.RWMutex
	episodes      map[string]Episode
	entities      map[string]Entity
	relationships []Relationship
}

// NewChromemMemoryStore opens (or creates) a chromem-go database. Pass
// an empty persistPath for an in-memory-only store.
func NewChromemMemoryStore(persistPath string, compress bool) (*ChromemMemoryStore, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, compress)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "open chromem persistent database", err)
		}
	} else {
		db = chromem.NewDB()
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errs.New(errs.Internal, "embedding function called but vectors are pre-computed")
	}

	col, err := db.GetOrCreateCollection(episodesCollection, nil, identityEmbed)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "create episodes collection", err)
	}

	return &ChromemMemoryStore{
		db:         db,
		collection: col,
		episodes:   make(map[string]Episode),
		entities:   make(map[string]Entity),
	}, nil
}

func (s *ChromemMemoryStore) AddEpisode(ctx context.Context, ep Episode) error {
	doc := chromem.Document{
		ID:        ep.ID,
		Content:   ep.Text,
		Metadata:  map[string]string{"group_id": ep.GroupID},
		Embedding: ep.Embedding,
	}
	if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return errs.Wrap(errs.Internal, "add episode document", err)
	}
	s.mu.Lock()
	s.episodes[ep.ID] = ep
	s.mu.Unlock()
	return nil
}

func (s *ChromemMemoryStore) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "episode not found")
	}
	return &ep, nil
}

func (s *ChromemMemoryStore) SearchEpisodesVector(ctx context.Context, groupID string, queryEmbedding []float32, limit int, minScore float64) ([]Episode, error) {
	if limit <= 0 {
		limit = 10
	}
	var where map[string]string
	if groupID != "" {
		where = map[string]string{"group_id": groupID}
	}
	n := limit
	if count := s.collection.Count(); count < n {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}
	results, err := s.collection.QueryEmbedding(ctx, queryEmbedding, n, where, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query episode embeddings", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Episode, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < minScore {
			continue
		}
		if ep, ok := s.episodes[r.ID]; ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *ChromemMemoryStore) SearchEpisodesText(ctx context.Context, groupID string, query string, limit int) ([]Episode, error) {
	// chromem-go is ANN-only, same as the teacher's ChromemProvider;
	// text search runs against the local cache, mirroring the linear
	// scan the teacher's own keyword memory index performs.
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []Episode
	for _, ep := range s.episodes {
		if groupID != "" && ep.GroupID != groupID {
			continue
		}
		if strings.Contains(strings.ToLower(ep.Text), q) {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ChromemMemoryStore) UpsertEntity(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	return nil
}

func (s *ChromemMemoryStore) UpsertRelationship(ctx context.Context, r Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.relationships {
		if existing.FromEntityID == r.FromEntityID && existing.ToEntityID == r.ToEntityID && existing.Type == r.Type {
			s.relationships[i] = r
			return nil
		}
	}
	s.relationships = append(s.relationships, r)
	return nil
}

func (s *ChromemMemoryStore) TraverseFromEntities(ctx context.Context, entityIDs []string, depth int, relationTypes []string) ([]Entity, []Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[string]bool, len(relationTypes))
	for _, t := range relationTypes {
		allowed[t] = true
	}
	frontier := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		frontier[id] = true
	}
	visitedEntities := make(map[string]bool)
	visitedRels := make(map[int]bool)

	for d := 0; d < depth && len(frontier) > 0; d++ {
		next := make(map[string]bool)
		for i, r := range s.relationships {
			if len(allowed) > 0 && !allowed[r.Type] {
				continue
			}
			if frontier[r.FromEntityID] && !visitedEntities[r.ToEntityID] {
				next[r.ToEntityID] = true
				visitedRels[i] = true
			}
			if frontier[r.ToEntityID] && !visitedEntities[r.FromEntityID] {
				next[r.FromEntityID] = true
				visitedRels[i] = true
			}
		}
		for id := range frontier {
			visitedEntities[id] = true
		}
		frontier = next
	}
	for id := range frontier {
		visitedEntities[id] = true
	}

	var entities []Entity
	for id := range visitedEntities {
		if e, ok := s.entities[id]; ok {
			entities = append(entities, e)
		}
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	var rels []Relationship
	for i := range visitedRels {
		rels = append(rels, s.relationships[i])
	}
	return entities, rels, nil
}

func (s *ChromemMemoryStore) DeleteByGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	var ids []string
	for id, ep := range s.episodes {
		if ep.GroupID == groupID {
			ids = append(ids, id)
			delete(s.episodes, id)
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return errs.Wrap(errs.Internal, "delete episodes by group", err)
	}
	return nil
}

var _ MemoryStore = (*ChromemMemoryStore)(nil)
