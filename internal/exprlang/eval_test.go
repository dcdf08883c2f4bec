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

package exprlang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalExprComparisonAndLogicalOperators(t *testing.T) {
	cases := []struct {
		name string
		src  string
		env  Env
		want bool
	}{
		{"equality true", `tier == "gold"`, Env{"tier": "gold"}, true},
		{"equality false", `tier == "gold"`, Env{"tier": "silver"}, false},
		{"inequality", `tier != "gold"`, Env{"tier": "silver"}, true},
		{"numeric lte", `age <= 30`, Env{"age": 30.0}, true},
		{"numeric gt false", `age > 30`, Env{"age": 30.0}, false},
		{"and short-circuits false", `false and unset_var`, Env{}, false},
		{"or short-circuits true", `true or unset_var`, Env{}, true},
		{"not negates", `not false`, Env{}, true},
		{"in list membership", `tier in ["gold", "platinum"]`, Env{"tier": "platinum"}, true},
		{"in list non-membership", `tier in ["gold", "platinum"]`, Env{"tier": "silver"}, false},
		{"in substring membership", `"abc" in "zabcz"`, Env{}, true},
		{"unset identifier reads falsy", `missing_field`, Env{}, false},
		{"parenthesized precedence", `(tier == "gold") or (age >= 65)`, Env{"tier": "silver", "age": 65.0}, true},
		{"arithmetic then compare", `age + 5 >= 35`, Env{"age": 30.0}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvalExpr(tc.src, tc.env)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalExprAllowedFunctions(t *testing.T) {
	cases := []struct {
		name string
		src  string
		env  Env
		want bool
	}{
		{"len of string", `len(name) == 5`, Env{"name": "alice"}, true},
		{"len of list", `len(items) == 2`, Env{"items": []any{"a", "b"}}, true},
		{"abs of negative", `abs(balance) == 5`, Env{"balance": -5.0}, true},
		{"max picks largest", `max(score, 10) == 10`, Env{"score": 3.0}, true},
		{"min picks smallest", `min(score, 10) == 3`, Env{"score": 3.0}, true},
		{"lower normalizes case", `lower(tier) == "gold"`, Env{"tier": "GOLD"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvalExpr(tc.src, tc.env)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalExprRejectsFunctionsOutsideAllowList(t *testing.T) {
	_, err := EvalExpr(`eval("rm -rf /")`, Env{})
	assert.Error(t, err)
}

func TestEvalExprRejectsDivisionByZero(t *testing.T) {
	_, err := EvalExpr(`1 / denom == 1`, Env{"denom": 0.0})
	assert.Error(t, err)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse(`true true`)
	assert.Error(t, err)
}

func TestParseRejectsUnclosedParen(t *testing.T) {
	_, err := Parse(`(tier == "gold"`)
	assert.Error(t, err)
}

func TestEvalIsDeterministicAndSideEffectFree(t *testing.T) {
	node, err := Parse(`tier == "gold" and age >= 21`)
	require.NoError(t, err)
	env := Env{"tier": "gold", "age": 40.0}

	first, err := EvalBool(node, env)
	require.NoError(t, err)
	second, err := EvalBool(node, env)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, first)
}
