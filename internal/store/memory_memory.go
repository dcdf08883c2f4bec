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
	"sort"
	"strings"
	"sync"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/vectorutil"
)

// InMemoryMemoryStore is a flat-slice episode index plus an adjacency-list
// entity graph, grounded on the teacher's keyword memory index
// (pkg/memory/index_keyword.go) generalized to also hold vector scores
// and graph edges. The production path swaps this for chromem-go
// (dev/single-node) or pinecone (multi-tenant production), per
// SPEC_FULL.md's domain stack.
type InMemoryMemoryStore struct {
	mu            sync.RWMutex
	episodes      map[string]Episode
	entities      map[string]Entity
	relationships []Relationship
}

func NewInMemoryMemoryStore() *InMemoryMemoryStore {
	return &InMemoryMemoryStore{
		episodes: make(map[string]Episode),
		entities: make(map[string]Entity),
	}
}

func (s *InMemoryMemoryStore) AddEpisode(ctx context.Context, ep Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[ep.ID] = ep
	return nil
}

func (s *InMemoryMemoryStore) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "episode not found")
	}
	return &ep, nil
}

func (s *InMemoryMemoryStore) SearchEpisodesVector(ctx context.Context, groupID string, queryEmbedding []float32, limit int, minScore float64) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		ep    Episode
		score float64
	}
	var cands []scored
	for _, ep := range s.episodes {
		if groupID != "" && ep.GroupID != groupID {
			continue
		}
		sc := vectorutil.Cosine(queryEmbedding, ep.Embedding)
		if sc < minScore {
			continue
		}
		cands = append(cands, scored{ep, sc})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]Episode, len(cands))
	for i, c := range cands {
		out[i] = c.ep
	}
	return out, nil
}

func (s *InMemoryMemoryStore) SearchEpisodesText(ctx context.Context, groupID string, query string, limit int) ([]Episode, error) {
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

func (s *InMemoryMemoryStore) UpsertEntity(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	return nil
}

func (s *InMemoryMemoryStore) UpsertRelationship(ctx context.Context, r Relationship) error {
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

func (s *InMemoryMemoryStore) TraverseFromEntities(ctx context.Context, entityIDs []string, depth int, relationTypes []string) ([]Entity, []Relationship, error) {
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

func (s *InMemoryMemoryStore) DeleteByGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ep := range s.episodes {
		if ep.GroupID == groupID {
			delete(s.episodes, id)
		}
	}
	return nil
}

var _ MemoryStore = (*InMemoryMemoryStore)(nil)
