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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBuildsCanonicalForm(t *testing.T) {
	assert.Equal(t, "t1/sess-1/turn-1", Key("t1", "sess-1", "turn-1"))
}

func TestMemoryStorePutThenGetRoundTrips(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), "k1", []byte("result"), time.Minute))

	value, found, err := s.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("result"), value)
}

func TestMemoryStoreGetMissReportsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, found, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreExpiresEntriesPastTTL(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), "k1", []byte("result"), -time.Second))

	_, found, err := s.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, found, "a TTL already in the past must read as a miss")
}

func TestMemoryStoreCloseIsNoOp(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Close())
}
