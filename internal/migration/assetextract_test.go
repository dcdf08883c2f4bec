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

package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/latchframe/alignment-engine/internal/model"
)

func TestExtractAssetTextXLSXRoundTrip(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "phone"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "555-0100"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	text, err := ExtractAssetText(model.ProfileAsset{ID: "a1", Kind: "xlsx", Data: buf.Bytes()})
	require.NoError(t, err)
	assert.Contains(t, text, "phone")
	assert.Contains(t, text, "555-0100")
}

func TestExtractAssetTextUnsupportedKindErrors(t *testing.T) {
	_, err := ExtractAssetText(model.ProfileAsset{ID: "a1", Kind: "txt", Data: []byte("hello")})
	assert.Error(t, err)
}

func TestExtractAssetTextInvalidPDFErrors(t *testing.T) {
	_, err := ExtractAssetText(model.ProfileAsset{ID: "a1", Kind: "pdf", Data: []byte("not a real pdf")})
	assert.Error(t, err)
}
