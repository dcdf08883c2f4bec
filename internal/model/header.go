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

// Package model defines the entities of the alignment engine's data
// model (spec §3). In place of the source's inheritance-heavy base
// models (TenantScoped / AgentScoped), every entity embeds a single
// TenantHeader or AgentHeader struct.
package model

import "time"

// TenantHeader is embedded by every tenant-scoped entity. The
// mapstructure tag is on the embedding side (AgentHeader, CustomerProfile,
// Agent), since mapstructure's squash behavior is declared at the
// embedding struct's field, not here.
type TenantHeader struct {
	TenantID  string     `json:"tenant_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the entity has been soft-deleted.
func (h TenantHeader) IsDeleted() bool { return h.DeletedAt != nil }

// AgentHeader is embedded by every agent-scoped entity; it extends
// TenantHeader with the owning agent's id. The mapstructure squash tags
// let configstore_file.go decode a flat YAML fixture straight into an
// entity without a key for the embedded header itself.
type AgentHeader struct {
	TenantHeader `mapstructure:",squash"`
	AgentID      string `json:"agent_id"`
}

// VarKind tags the type carried by a Variable value so session.variables
// can hold a heterogeneous map without resorting to untyped JSON blobs.
type VarKind string

const (
	VarString   VarKind = "string"
	VarNumber   VarKind = "number"
	VarBool     VarKind = "bool"
	VarDateTime VarKind = "datetime"
	VarBlob     VarKind = "blob"
)

// Value is a tagged union over the variable kinds a session, profile
// field, or tool output can carry.
type Value struct {
	Kind VarKind     `json:"kind"`
	Str  string      `json:"str,omitempty"`
	Num  float64     `json:"num,omitempty"`
	Bool bool        `json:"bool,omitempty"`
	Time time.Time   `json:"time,omitempty"`
	Blob []byte      `json:"blob,omitempty"`
}

// StringValue builds a string-kinded Value.
func StringValue(s string) Value { return Value{Kind: VarString, Str: s} }

// NumberValue builds a number-kinded Value.
func NumberValue(n float64) Value { return Value{Kind: VarNumber, Num: n} }

// BoolValue builds a bool-kinded Value.
func BoolValue(b bool) Value { return Value{Kind: VarBool, Bool: b} }

// TimeValue builds a datetime-kinded Value.
func TimeValue(t time.Time) Value { return Value{Kind: VarDateTime, Time: t} }

// Any returns the Go-native representation of the value, for use by the
// expression evaluator's variable environment and by prompt template
// rendering.
func (v Value) Any() any {
	switch v.Kind {
	case VarString:
		return v.Str
	case VarNumber:
		return v.Num
	case VarBool:
		return v.Bool
	case VarDateTime:
		return v.Time
	case VarBlob:
		return v.Blob
	default:
		return nil
	}
}
