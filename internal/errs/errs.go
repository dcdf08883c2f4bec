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

// Package errs defines the typed error taxonomy the orchestrator and its
// stages use instead of exceptions. Every fallible operation returns
// (value, *Error) or wraps a stage failure with a Kind so the pipeline
// can decide whether to bypass the stage or abort the turn.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the purposes of pipeline control flow and
// HTTP translation performed by an external layer.
type Kind string

const (
	InvalidRequest  Kind = "INVALID_REQUEST"
	NotFound        Kind = "NOT_FOUND"
	Validation      Kind = "VALIDATION"
	RuleViolation   Kind = "RULE_VIOLATION"
	ToolFailed      Kind = "TOOL_FAILED"
	LLMUnavailable  Kind = "LLM_UNAVAILABLE"
	RateLimit       Kind = "RATE_LIMIT"
	Conflict        Kind = "CONFLICT"
	MigrationError  Kind = "MIGRATION_ERROR"
	Internal        Kind = "INTERNAL"
)

// Error is the engine's single error type. It wraps an optional cause and
// carries enough structure for callers to branch on Kind without string
// matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a new Error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}
