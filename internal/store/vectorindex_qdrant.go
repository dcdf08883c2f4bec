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
	"fmt"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantVectorIndex is the rule/scenario vector search backend for
// configstore_etcd.go. etcd holds the entity records themselves; this
// holds only (id, embedding, scoping payload) pairs for nearest-neighbor
// lookup, mirroring the split the teacher draws between its SQL config
// database and its separate vector database providers
// (pkg/databases/qdrant.go).
type qdrantVectorIndex struct {
	client *qdrant.Client

	mu      sync.Mutex
	created map[string]bool
}

func newQdrantVectorIndex(client *qdrant.Client) *qdrantVectorIndex {
	return &qdrantVectorIndex{client: client, created: make(map[string]bool)}
}

type qdrantHit struct {
	ID    string
	Score float64
}

func (q *qdrantVectorIndex) ensureCollection(ctx context.Context, collection string, dim uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.created[collection] {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection %s: %w", collection, err)
	}
	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dim,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create qdrant collection %s: %w", collection, err)
		}
	}
	q.created[collection] = true
	return nil
}

// upsert writes one point. payload values must be strings; that is all
// the scoping filters (tenant_id, agent_id, scope, scope_id) ever need.
func (q *qdrantVectorIndex) upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error {
	if len(vector) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, collection, uint64(len(vector))); err != nil {
		return err
	}
	fields := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		fields[k] = qdrant.NewValue(v)
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: fields,
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert qdrant point in %s: %w", collection, err)
	}
	return nil
}

// search runs a cosine nearest-neighbor query scoped by an exact-match
// keyword filter (tenant_id/agent_id, plus scope/scope_id for rules).
func (q *qdrantVectorIndex) search(ctx context.Context, collection string, vector []float32, limit int, match map[string]string) ([]qdrantHit, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check qdrant collection %s: %w", collection, err)
	}
	if !exists {
		return nil, nil
	}

	conditions := make([]*qdrant.Condition, 0, len(match))
	for key, value := range match {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
				},
			},
		})
	}

	points := q.client.GetPointsClient()
	resp, err := points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         &qdrant.Filter{Must: conditions},
		WithPayload:    qdrant.NewWithPayload(false),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("search qdrant collection %s: %w", collection, err)
	}

	hits := make([]qdrantHit, 0, len(resp.Result))
	for _, p := range resp.Result {
		var id string
		if p.Id != nil {
			switch idt := p.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idt.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idt.Num)
			}
		}
		hits = append(hits, qdrantHit{ID: id, Score: float64(p.Score)})
	}
	return hits, nil
}
