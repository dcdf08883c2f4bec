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

package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildsErrorWithoutCause(t *testing.T) {
	err := New(Validation, "field is required")
	assert.Equal(t, "VALIDATION: field is required", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapAttachesCauseToMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(LLMUnavailable, "calling provider", cause)

	assert.Equal(t, "LLM_UNAVAILABLE: calling provider: connection refused", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestIsMatchesOnlyTheGivenKind(t *testing.T) {
	err := New(RuleViolation, "hard constraint failed")
	assert.True(t, Is(err, RuleViolation))
	assert.False(t, Is(err, ToolFailed))
	assert.False(t, Is(errors.New("plain error"), RuleViolation))
}

func TestKindOfDefaultsToInternalForUntypedErrors(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, Conflict, KindOf(New(Conflict, "version mismatch")))
}

func TestErrorUnwrapsThroughStandardErrorsAs(t *testing.T) {
	wrapped := Wrap(NotFound, "session missing", errors.New("redis: nil"))
	var target *Error
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, NotFound, target.Kind)
}
