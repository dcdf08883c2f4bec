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

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

type sessionKey struct{ tenantID, sessionID string }
type channelKey struct{ tenantID, channel, userChannelID string }

// InMemorySessionStore keeps one Session per (tenant, session id),
// mirroring the teacher's in-memory session service: a mutex-guarded
// map with a secondary index for channel lookup.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*model.Session
	byChan   map[channelKey]sessionKey
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[sessionKey]*model.Session),
		byChan:   make(map[channelKey]sessionKey),
	}
}

func (s *InMemorySessionStore) Get(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{tenantID, sessionID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "session not found")
	}
	return sess, nil
}

func (s *InMemorySessionStore) GetByChannel(ctx context.Context, tenantID, channel, userChannelID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.byChan[channelKey{tenantID, channel, userChannelID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "session not found for channel")
	}
	sess, ok := s.sessions[sk]
	if !ok {
		return nil, errs.New(errs.NotFound, "session not found for channel")
	}
	return sess, nil
}

func (s *InMemorySessionStore) Save(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := sessionKey{session.TenantID, session.SessionID}
	if existing, ok := s.sessions[sk]; ok && existing.Version > session.Version {
		return errs.New(errs.Conflict, "stale session write: version behind stored session")
	}
	session.Version++
	s.sessions[sk] = session
	if session.Channel != "" && session.UserChannelID != "" {
		s.byChan[channelKey{session.TenantID, session.Channel, session.UserChannelID}] = sk
	}
	return nil
}

func (s *InMemorySessionStore) Delete(ctx context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := sessionKey{tenantID, sessionID}
	sess, ok := s.sessions[sk]
	if !ok {
		return errs.New(errs.NotFound, "session not found")
	}
	delete(s.sessions, sk)
	if sess.Channel != "" && sess.UserChannelID != "" {
		delete(s.byChan, channelKey{tenantID, sess.Channel, sess.UserChannelID})
	}
	return nil
}

func (s *InMemorySessionStore) ListByAgent(ctx context.Context, tenantID, agentID string, limit, offset int) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.AgentID == agentID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return paginate(out, limit, offset), nil
}

func (s *InMemorySessionStore) ListByCustomer(ctx context.Context, tenantID, customerProfileID string) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.CustomerProfileID == customerProfileID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// FindSessionsByStepHash matches sessions parked at anchorStepID (the
// deployer passes the anchor's V1 step id — Session.ActiveStepID is
// always a step id, never a content hash, so that is what a session
// position is actually compared against). scopeFilter, when set,
// narrows to sessions on the given customer profile; a SQL-backed store
// would implement richer cohort predicates here.
func (s *InMemorySessionStore) FindSessionsByStepHash(ctx context.Context, tenantID, scenarioID string, version int, anchorStepID string, scopeFilter string) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.TenantID != tenantID || sess.ActiveScenarioID != scenarioID || sess.ActiveScenarioVer != version {
			continue
		}
		if sess.ActiveStepID != anchorStepID {
			continue
		}
		if scopeFilter != "" && sess.CustomerProfileID != scopeFilter {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func paginate(in []*model.Session, limit, offset int) []*model.Session {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

var _ SessionStore = (*InMemorySessionStore)(nil)
