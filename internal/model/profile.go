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

import "time"

// FieldSource identifies how a ProfileField's current value was set.
type FieldSource string

const (
	SourceUserCorrection FieldSource = "user_correction"
	SourceInference      FieldSource = "inference"
	SourceTool           FieldSource = "tool"
	SourceVerified       FieldSource = "verified"
)

// FieldHistoryEntry is one prior value of a ProfileField.
type FieldHistoryEntry struct {
	Value     Value       `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
	Source    FieldSource `json:"source"`
}

// ProfileField is a single ledgered field on a CustomerProfile (spec §3
// "CustomerProfile").
type ProfileField struct {
	Value      Value               `json:"value"`
	History    []FieldHistoryEntry `json:"history"`
	Confidence float64             `json:"confidence"`
	Source     FieldSource         `json:"source"`
}

// SetValue records a new value, pushing the previous one onto History.
func (f *ProfileField) SetValue(v Value, confidence float64, source FieldSource) {
	if f.Value.Kind != "" {
		f.History = append(f.History, FieldHistoryEntry{Value: f.Value, Timestamp: time.Now(), Source: f.Source})
	}
	f.Value = v
	f.Confidence = confidence
	f.Source = source
}

// ChannelIdentity links a CustomerProfile to a (channel, user_channel_id)
// pair, allowing the same customer to be recognized across sessions.
type ChannelIdentity struct {
	Channel       string `json:"channel"`
	UserChannelID string `json:"user_channel_id"`
}

// ProfileAsset is a customer-submitted or operator-provided document
// attached to a profile (an ID scan, an intake form, a bulk import
// sheet). GapFillService's document-extraction tier reads these via the
// pdf/docx/xlsx extractors.
type ProfileAsset struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "pdf" | "docx" | "xlsx"
	Data      []byte    `json:"data"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// CustomerProfile is the persistent per-customer ledger (spec §3
// "CustomerProfile").
type CustomerProfile struct {
	TenantHeader      `mapstructure:",squash"`
	ID                string                    `json:"id"`
	SchemaVersion     int                       `json:"profile_schema_version"`
	Fields            map[string]*ProfileField  `json:"fields"`
	ChannelIdentities []ChannelIdentity         `json:"channel_identities"`
	Assets            []ProfileAsset            `json:"assets,omitempty"`
}

// NewCustomerProfile constructs an empty ledger.
func NewCustomerProfile(tenantID, id string, schemaVersion int) *CustomerProfile {
	return &CustomerProfile{
		TenantHeader:  TenantHeader{TenantID: tenantID},
		ID:            id,
		SchemaVersion: schemaVersion,
		Fields:        make(map[string]*ProfileField),
	}
}

// Agent is the tenant-scoped root grouping rules, scenarios, templates,
// variables, and tool activations (spec §3 "Agent").
type Agent struct {
	TenantHeader        `mapstructure:",squash"`
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	ProfileSchemaVersion int    `json:"profile_schema_version"`
	LLMModel            string  `json:"llm_model"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           int     `json:"max_tokens"`
	EmbeddingModel      string  `json:"embedding_model"`
}
