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
	"time"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/latchframe/alignment-engine/internal/errs"
)

// PineconeMemoryStore is the multi-tenant production MemoryStore
// backend, grounded on the teacher's pineconeDatabaseProvider
// (pkg/databases/pinecone.go): a fresh IndexConnection is opened per
// call via DescribeIndex+Index (the teacher's own getIndexConnection
// pattern), vectors upsert with UpsertVectors, and similarity search
// runs through QueryByVectorValues with a metadata filter built from
// structpb, exactly as the teacher does for its generic DatabaseProvider
// Search/SearchWithFilter pair.
//
// Pinecone has no keyword or id-fetch API exercised by the teacher, so,
// matching the same bookkeeping split used by ChromemMemoryStore and
// EtcdConfigStore's qdrant composition, GetEpisode/SearchEpisodesText
// and the entity/relationship graph are served from a local cache kept
// in lockstep with the index rather than invented Pinecone calls.
type PineconeMemoryStore struct {
	client    *pinecone.Client
	indexName string

	mu            sync.RWMutex
	episodes      map[string]Episode
	entities      map[string]Entity
	relationships []Relationship
}

func NewPineconeMemoryStore(apiKey, host, indexName string) (*PineconeMemoryStore, error) {
	if apiKey == "" {
		return nil, errs.New(errs.InvalidRequest, "pinecone api key is required")
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey, Host: host})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "create pinecone client", err)
	}
	if indexName == "" {
		indexName = "alignment-engine-memory"
	}
	return &PineconeMemoryStore{
		client:    client,
		indexName: indexName,
		episodes:  make(map[string]Episode),
		entities:  make(map[string]Entity),
	}, nil
}

func (s *PineconeMemoryStore) indexConnection(ctx context.Context) (*pinecone.IndexConnection, error) {
	index, err := s.client.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "describe pinecone index", err)
	}
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "open pinecone index connection", err)
	}
	return conn, nil
}

func (s *PineconeMemoryStore) AddEpisode(ctx context.Context, ep Episode) error {
	conn, err := s.indexConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	meta, err := structpb.NewStruct(map[string]any{"group_id": ep.GroupID, "timestamp": ep.Timestamp.Format(time.RFC3339Nano)})
	if err != nil {
		return errs.Wrap(errs.Internal, "build episode metadata", err)
	}
	vec := &pinecone.Vector{ID: ep.ID, Values: ep.Embedding, Metadata: meta}
	if _, err := conn.UpsertVectors(ctx, []*pinecone.Vector{vec}); err != nil {
		return errs.Wrap(errs.Internal, "upsert episode vector", err)
	}

	s.mu.Lock()
	s.episodes[ep.ID] = ep
	s.mu.Unlock()
	return nil
}

func (s *PineconeMemoryStore) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "episode not found")
	}
	return &ep, nil
}

func (s *PineconeMemoryStore) SearchEpisodesVector(ctx context.Context, groupID string, queryEmbedding []float32, limit int, minScore float64) ([]Episode, error) {
	if limit <= 0 {
		limit = 10
	}
	conn, err := s.indexConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var filter *pinecone.MetadataFilter
	if groupID != "" {
		filter, err = structpb.NewStruct(map[string]any{"group_id": groupID})
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "build search filter", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          queryEmbedding,
		TopK:            uint32(limit),
		MetadataFilter:  filter,
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query pinecone vectors", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Episode, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Vector == nil || float64(m.Score) < minScore {
			continue
		}
		if ep, ok := s.episodes[m.Vector.Id]; ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *PineconeMemoryStore) SearchEpisodesText(ctx context.Context, groupID string, query string, limit int) ([]Episode, error) {
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

func (s *PineconeMemoryStore) UpsertEntity(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	return nil
}

func (s *PineconeMemoryStore) UpsertRelationship(ctx context.Context, r Relationship) error {
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

func (s *PineconeMemoryStore) TraverseFromEntities(ctx context.Context, entityIDs []string, depth int, relationTypes []string) ([]Entity, []Relationship, error) {
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

func (s *PineconeMemoryStore) DeleteByGroup(ctx context.Context, groupID string) error {
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
	conn, err := s.indexConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return errs.Wrap(errs.Internal, "delete episode vectors by group", err)
	}
	return nil
}

var _ MemoryStore = (*PineconeMemoryStore)(nil)
