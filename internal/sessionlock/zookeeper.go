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
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/latchframe/alignment-engine/internal/errs"
)

// ZKLocker is a distributed Locker built on ZooKeeper ephemeral
// sequential znodes (the standard ZK lock recipe), grounded on the
// teacher's own use of go-zookeeper/zk for its config provider
// (pkg/config/zookeeper_provider.go) — generalized here from
// watch-a-value to acquire-a-lock.
type ZKLocker struct {
	conn    *zk.Conn
	rootDir string
}

// NewZKLocker connects to endpoints and ensures rootDir exists as a
// persistent znode under which per-session lock nodes are created.
func NewZKLocker(endpoints []string, rootDir string) (*ZKLocker, error) {
	if len(endpoints) == 0 {
		return nil, errs.New(errs.InvalidRequest, "zookeeper endpoints are required")
	}
	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "connect to zookeeper", err)
	}
	l := &ZKLocker{conn: conn, rootDir: rootDir}
	if err := l.ensurePath(rootDir); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func (l *ZKLocker) ensurePath(p string) error {
	if p == "" || p == "/" {
		return nil
	}
	if err := l.ensurePath(path.Dir(p)); err != nil {
		return err
	}
	_, err := l.conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return errs.Wrap(errs.Internal, fmt.Sprintf("create zookeeper path %q", p), err)
	}
	return nil
}

func (l *ZKLocker) lockDir(tenantID, sessionID string) string {
	return path.Join(l.rootDir, tenantID+"--"+sessionID)
}

// Acquire implements the classic ZK lock recipe: create an ephemeral
// sequential child, then wait until it has the lowest sequence number
// among the lock dir's children, watching only the next-lowest sibling
// to avoid the herd effect.
func (l *ZKLocker) Acquire(ctx context.Context, tenantID, sessionID string) (func(), error) {
	dir := l.lockDir(tenantID, sessionID)
	if err := l.ensurePath(dir); err != nil {
		return nil, err
	}

	self, err := l.conn.CreateProtectedEphemeralSequential(dir+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "create zookeeper lock node", err)
	}
	selfName := path.Base(self)

	for {
		children, _, err := l.conn.Children(dir)
		if err != nil {
			l.conn.Delete(self, -1)
			return nil, errs.Wrap(errs.Internal, "list zookeeper lock children", err)
		}
		sort.Strings(children)

		pos := -1
		for i, c := range children {
			if c == selfName {
				pos = i
				break
			}
		}
		if pos == 0 {
			release := func() { l.conn.Delete(self, -1) }
			return release, nil
		}
		if pos == -1 {
			l.conn.Delete(self, -1)
			return nil, errs.New(errs.Internal, "zookeeper lock node disappeared before acquisition")
		}

		watchPath := path.Join(dir, children[pos-1])
		exists, _, eventCh, err := l.conn.ExistsW(watchPath)
		if err != nil {
			l.conn.Delete(self, -1)
			return nil, errs.Wrap(errs.Internal, "watch zookeeper lock predecessor", err)
		}
		if !exists {
			continue // predecessor already gone; re-check position immediately
		}

		select {
		case <-eventCh:
			continue
		case <-ctx.Done():
			l.conn.Delete(self, -1)
			return nil, ctx.Err()
		}
	}
}

func (l *ZKLocker) Close() error {
	l.conn.Close()
	return nil
}

var _ Locker = (*ZKLocker)(nil)
