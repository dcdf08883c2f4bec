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
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/latchframe/alignment-engine/internal/model"
)

// ExtractAssetText turns a previously-uploaded ProfileAsset (a
// customer-submitted scan, a filled intake form, or an operator bulk
// import) into plain text a gap-fill tier can search for a field value
// before resorting to asking the customer — adapted from
// pkg/context/native_parsers.go's PDFParser/OfficeParser, which parse
// the same three formats from disk; assets here arrive as bytes, so
// they are staged to a temp file first since none of the three
// libraries expose an in-memory path for all of pdf/docx/xlsx alike.
func ExtractAssetText(asset model.ProfileAsset) (string, error) {
	tmp, err := os.CreateTemp("", "gapfill-asset-*."+asset.Kind)
	if err != nil {
		return "", fmt.Errorf("migration: staging asset %s: %w", asset.ID, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(asset.Data); err != nil {
		return "", fmt.Errorf("migration: writing staged asset %s: %w", asset.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("migration: closing staged asset %s: %w", asset.ID, err)
	}

	switch asset.Kind {
	case "pdf":
		return extractPDFText(tmp.Name())
	case "docx":
		return extractDocxText(tmp.Name())
	case "xlsx":
		return extractXLSXText(tmp.Name())
	default:
		return "", fmt.Errorf("migration: unsupported profile asset kind %q", asset.Kind)
	}
}

func extractPDFText(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("migration: opening pdf asset: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("migration: stat pdf asset: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("migration: parsing pdf asset: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), nil
}

func extractDocxText(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("migration: parsing docx asset: %w", err)
	}
	defer doc.Close()
	return doc.Editable().GetContent(), nil
}

func extractXLSXText(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("migration: parsing xlsx asset: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					b.WriteString(text)
					b.WriteString(" ")
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
