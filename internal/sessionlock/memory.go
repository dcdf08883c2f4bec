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

package sessionlock

import (
	"context"
	"sync"
)

// MemoryLocker is a process-local Locker: one *sync.Mutex per session
// key, created lazily and never removed (acceptable for tests and the
// single-process demo driver; the ZooKeeper-backed Locker is the
// production path across multiple pipeline instances).
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MemoryLocker) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *MemoryLocker) Acquire(ctx context.Context, tenantID, sessionID string) (func(), error) {
	key := tenantID + "/" + sessionID
	m := l.lockFor(key)

	done := make(chan struct{})
	go func() {
		m.Lock()
		close(done)
	}()

	select {
	case <-done:
		return m.Unlock, nil
	case <-ctx.Done():
		go func() { <-done; m.Unlock() }() // lock still arrives eventually; release it once it does
		return nil, ctx.Err()
	}
}

var _ Locker = (*MemoryLocker)(nil)
