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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFieldSetValueDoesNotHistoryAFirstWrite(t *testing.T) {
	var f ProfileField
	f.SetValue(StringValue("555-0100"), 0.9, SourceInference)

	assert.Empty(t, f.History, "the first SetValue on a zero-value field has no prior value to archive")
	assert.Equal(t, "555-0100", f.Value.Str)
	assert.Equal(t, SourceInference, f.Source)
}

func TestProfileFieldSetValueArchivesThePreviousValue(t *testing.T) {
	var f ProfileField
	f.SetValue(StringValue("555-0100"), 0.9, SourceInference)
	f.SetValue(StringValue("555-0200"), 1.0, SourceUserCorrection)

	require.Len(t, f.History, 1)
	assert.Equal(t, "555-0100", f.History[0].Value.Str)
	assert.Equal(t, SourceInference, f.History[0].Source)
	assert.Equal(t, "555-0200", f.Value.Str)
	assert.Equal(t, SourceUserCorrection, f.Source)
}

func TestNewCustomerProfileInitializesFields(t *testing.T) {
	p := NewCustomerProfile("t1", "profile-1", 2)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, 2, p.SchemaVersion)
	assert.NotNil(t, p.Fields)
	assert.Empty(t, p.Fields)
}
