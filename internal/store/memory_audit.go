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
	"sync"
	"time"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

// InMemoryAuditStore is an append-only in-process turn/event log. The
// production path is the Postgres-backed implementation
// (auditstore_postgres.go); this is for tests and the demo driver.
type InMemoryAuditStore struct {
	mu     sync.RWMutex
	turns  map[string]*model.TurnRecord // key: tenant/session/turn
	bySess map[string][]*model.TurnRecord
	events []AuditEvent
}

func NewInMemoryAuditStore() *InMemoryAuditStore {
	return &InMemoryAuditStore{
		turns:  make(map[string]*model.TurnRecord),
		bySess: make(map[string][]*model.TurnRecord),
	}
}

func turnKey(tenantID, sessionID, turnID string) string {
	return tenantID + "/" + sessionID + "/" + turnID
}

func (s *InMemoryAuditStore) SaveTurn(ctx context.Context, turn *model.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := turnKey(turn.TenantID, turn.SessionID, turn.TurnID)
	s.turns[k] = turn
	sk := turn.TenantID + "/" + turn.SessionID
	s.bySess[sk] = append(s.bySess[sk], turn)
	return nil
}

func (s *InMemoryAuditStore) GetTurn(ctx context.Context, tenantID, sessionID, turnID string) (*model.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.turns[turnKey(tenantID, sessionID, turnID)]
	if !ok {
		return nil, errs.New(errs.NotFound, "turn record not found")
	}
	return t, nil
}

func (s *InMemoryAuditStore) ListTurnsBySession(ctx context.Context, tenantID, sessionID string, limit, offset int) ([]*model.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.bySess[tenantID+"/"+sessionID]
	out := make([]*model.TurnRecord, len(all))
	copy(out, all)
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryAuditStore) ListTurnsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*model.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.TurnRecord
	for _, t := range s.turns {
		if t.TenantID != tenantID {
			continue
		}
		if !from.IsZero() && t.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && t.Timestamp.After(to) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *InMemoryAuditStore) SaveEvent(ctx context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

var _ AuditStore = (*InMemoryAuditStore)(nil)
