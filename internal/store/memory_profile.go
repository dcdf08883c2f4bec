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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

type profileKey struct{ tenantID, profileID string }
type profileChanKey struct{ tenantID, channel, userChannelID string }

// InMemoryProfileStore holds CustomerProfile ledgers. The production
// path is the MySQL-backed implementation (profilestore_mysql.go); this
// is for tests and the demo driver.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[profileKey]*model.CustomerProfile
	byChan   map[profileChanKey]profileKey
}

func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{
		profiles: make(map[profileKey]*model.CustomerProfile),
		byChan:   make(map[profileChanKey]profileKey),
	}
}

func (s *InMemoryProfileStore) GetByID(ctx context.Context, tenantID, profileID string) (*model.CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileKey{tenantID, profileID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "customer profile not found")
	}
	return p, nil
}

func (s *InMemoryProfileStore) GetByChannel(ctx context.Context, tenantID, channel, userChannelID string) (*model.CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pk, ok := s.byChan[profileChanKey{tenantID, channel, userChannelID}]
	if !ok {
		return nil, errs.New(errs.NotFound, "customer profile not found for channel")
	}
	p, ok := s.profiles[pk]
	if !ok {
		return nil, errs.New(errs.NotFound, "customer profile not found for channel")
	}
	return p, nil
}

func (s *InMemoryProfileStore) GetOrCreate(ctx context.Context, tenantID, channel, userChannelID string, schemaVersion int) (*model.CustomerProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck := profileChanKey{tenantID, channel, userChannelID}
	if pk, ok := s.byChan[ck]; ok {
		if p, ok := s.profiles[pk]; ok {
			return p, nil
		}
	}
	p := model.NewCustomerProfile(tenantID, uuid.NewString(), schemaVersion)
	p.ChannelIdentities = append(p.ChannelIdentities, model.ChannelIdentity{Channel: channel, UserChannelID: userChannelID})
	pk := profileKey{tenantID, p.ID}
	s.profiles[pk] = p
	s.byChan[ck] = pk
	return p, nil
}

func (s *InMemoryProfileStore) UpdateField(ctx context.Context, tenantID, profileID, fieldName string, value model.Value, confidence float64, source model.FieldSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey{tenantID, profileID}]
	if !ok {
		return errs.New(errs.NotFound, "customer profile not found")
	}
	field, ok := p.Fields[fieldName]
	if !ok {
		field = &model.ProfileField{}
		p.Fields[fieldName] = field
	}
	field.SetValue(value, confidence, source)
	p.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryProfileStore) AddAsset(ctx context.Context, tenantID, profileID string, asset model.ProfileAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey{tenantID, profileID}]
	if !ok {
		return errs.New(errs.NotFound, "customer profile not found")
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	p.Assets = append(p.Assets, asset)
	return nil
}

func (s *InMemoryProfileStore) LinkChannel(ctx context.Context, tenantID, profileID string, identity model.ChannelIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := profileKey{tenantID, profileID}
	p, ok := s.profiles[pk]
	if !ok {
		return errs.New(errs.NotFound, "customer profile not found")
	}
	p.ChannelIdentities = append(p.ChannelIdentities, identity)
	s.byChan[profileChanKey{tenantID, identity.Channel, identity.UserChannelID}] = pk
	return nil
}

func (s *InMemoryProfileStore) Merge(ctx context.Context, tenantID, survivingID, mergedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	survivor, ok := s.profiles[profileKey{tenantID, survivingID}]
	if !ok {
		return errs.New(errs.NotFound, "surviving customer profile not found")
	}
	merged, ok := s.profiles[profileKey{tenantID, mergedID}]
	if !ok {
		return errs.New(errs.NotFound, "merged customer profile not found")
	}
	for name, field := range merged.Fields {
		if _, exists := survivor.Fields[name]; !exists {
			survivor.Fields[name] = field
		}
	}
	survivor.Assets = append(survivor.Assets, merged.Assets...)
	survivor.ChannelIdentities = append(survivor.ChannelIdentities, merged.ChannelIdentities...)
	for ck, pk := range s.byChan {
		if pk == (profileKey{tenantID, mergedID}) {
			s.byChan[ck] = profileKey{tenantID, survivingID}
		}
	}
	delete(s.profiles, profileKey{tenantID, mergedID})
	survivor.UpdatedAt = time.Now()
	return nil
}

var _ ProfileStore = (*InMemoryProfileStore)(nil)
