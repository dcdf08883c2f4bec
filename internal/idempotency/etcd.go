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

package idempotency

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/latchframe/alignment-engine/internal/errs"
)

// EtcdStore is the production idempotency store: one key per turn, with
// an etcd lease providing the TTL so expired records are reclaimed by
// the cluster rather than by a background sweep.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

func NewEtcdStore(client *clientv3.Client, prefix string) *EtcdStore {
	return &EtcdStore{client: client, prefix: prefix}
}

func (s *EtcdStore) fullKey(key string) string { return s.prefix + "/" + key }

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := s.client.Get(ctx, s.fullKey(key))
	if err != nil {
		return nil, false, errs.Wrap(errs.Internal, "etcd get idempotency key", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

func (s *EtcdStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	lease, err := s.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return errs.Wrap(errs.Internal, "grant etcd lease for idempotency key", err)
	}
	_, err = s.client.Put(ctx, s.fullKey(key), string(value), clientv3.WithLease(lease.ID))
	if err != nil {
		return errs.Wrap(errs.Internal, "put etcd idempotency key", err)
	}
	return nil
}

func (s *EtcdStore) Close() error { return s.client.Close() }

var _ Store = (*EtcdStore)(nil)
