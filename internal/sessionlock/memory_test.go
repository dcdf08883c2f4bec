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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerSerializesSameSessionAcquires(t *testing.T) {
	l := NewMemoryLocker()

	release, err := l.Acquire(context.Background(), "t1", "sess-1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), "t1", "sess-1")
		require.NoError(t, err)
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire on the same session must block while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never completed after the first was released")
	}
}

func TestMemoryLockerDoesNotSerializeDifferentSessions(t *testing.T) {
	l := NewMemoryLocker()

	release1, err := l.Acquire(context.Background(), "t1", "sess-1")
	require.NoError(t, err)
	defer release1()

	done := make(chan struct{})
	go func() {
		release2, err := l.Acquire(context.Background(), "t1", "sess-2")
		require.NoError(t, err)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire on an unrelated session must not block on sess-1's lock")
	}
}

func TestMemoryLockerAcquireRespectsContextCancellation(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Acquire(context.Background(), "t1", "sess-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "t1", "sess-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
