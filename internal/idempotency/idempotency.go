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

// Package idempotency caches a turn's final result keyed by
// (tenant, session, turn_id), so a retried inbound request (the same
// channel redelivering a message after a timeout) replays the stored
// result instead of running the pipeline — and any side effects —
// twice (spec §4.1 step 0, "idempotent turn processing"). Store is
// adapted from the teacher's pkg/ratelimit usage-counter store: same
// TTL-keyed-record shape, generalized from an incrementing counter to
// an opaque cached value.
package idempotency

import (
	"context"
	"time"
)

// Store persists idempotency records with a TTL.
type Store interface {
	// Get returns the cached value for key, and whether it was found
	// (and not expired).
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Put stores value under key with the given TTL.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Key builds the canonical idempotency key for one turn.
func Key(tenantID, sessionID, turnID string) string {
	return tenantID + "/" + sessionID + "/" + turnID
}
