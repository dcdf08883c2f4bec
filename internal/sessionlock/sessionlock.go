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

// Package sessionlock provides the per-session mutual exclusion chosen
// to resolve spec §5's open concurrency question (SPEC_FULL.md §E.2):
// a distributed lock keyed by (tenant, session), held for the duration
// of one turn's pipeline run, so two concurrent turns on the same
// session never interleave store writes.
package sessionlock

import "context"

// Locker acquires and releases a per-session lock. Release is always
// called exactly once per successful Acquire, even on a later pipeline
// error, via a defer at the call site.
type Locker interface {
	// Acquire blocks until the lock for (tenantID, sessionID) is held or
	// ctx is done. The returned release func must be called to give up
	// the lock.
	Acquire(ctx context.Context, tenantID, sessionID string) (release func(), err error)
}
