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

// Package ids generates entity identifiers, grounded on the teacher's
// use of google/uuid for session/task ids (v2/session/store.go,
// a2a/client.go) rather than a hand-rolled random-string scheme.
package ids

import "github.com/google/uuid"

// New returns a random v4 UUID string.
func New() string {
	return uuid.NewString()
}

// Prefixed returns a random v4 UUID string with a readable entity-kind
// prefix, e.g. Prefixed("turn") -> "turn_3f9c...".
func Prefixed(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// FromContentHash deterministically derives an id from a content hash,
// for entities that must be stable across repeated computation (e.g.
// anchor ids), adapted from scripts/populate-qdrant-test.go's
// uuid.NewMD5(uuid.Nil, hash) pattern.
func FromContentHash(hash []byte) string {
	return uuid.NewMD5(uuid.Nil, hash).String()
}
