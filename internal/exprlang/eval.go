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
	"fmt"
	"strings"
)

// Env is the variable environment an expression evaluates against: the
// merged {profile_fields, session.variables, context.entities} of spec
// §4.6, or the merged profile/session/response-extraction environment
// of §4.10. Values are plain Go bool/float64/string; there is no way
// for an expression to reach anything else.
type Env map[string]any

// Eval evaluates a parsed expression against env. It is side-effect
// free and deterministic: the same (node, env) pair always produces the
// same result (spec §8 "For every deterministic enforcement_expression
// evaluation: evaluation is side-effect-free, and the result is stable
// given the same variable environment").
func Eval(node Node, env Env) (any, error) {
	switch n := node.(type) {
	case NumberLit:
		return n.Value, nil
	case StringLit:
		return n.Value, nil
	case BoolLit:
		return n.Value, nil
	case ListLit:
		out := make([]any, 0, len(n.Items))
		for _, it := range n.Items {
			v, err := Eval(it, env)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case Ident:
		v, ok := env[n.Name]
		if !ok {
			return nil, nil // unset variable reads as nil, not an error
		}
		return v, nil
	case UnaryOp:
		return evalUnary(n, env)
	case BinaryOp:
		return evalBinary(n, env)
	case Call:
		return evalCall(n, env)
	default:
		return nil, fmt.Errorf("exprlang: unsupported node %T", node)
	}
}

// EvalBool evaluates node and coerces the result to bool, as required
// by enforcement lane 1's "the result is boolean; false is a
// violation" contract.
func EvalBool(node Node, env Env) (bool, error) {
	v, err := Eval(node, env)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	default:
		return true
	}
}

func evalUnary(n UnaryOp, env Env) (any, error) {
	v, err := Eval(n.Operand, env)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "not":
		return !truthy(v), nil
	case "-":
		f, ok := asNumber(v)
		if !ok {
			return nil, fmt.Errorf("exprlang: unary '-' requires a number")
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("exprlang: unknown unary operator %q", n.Op)
	}
}

func evalBinary(n BinaryOp, env Env) (any, error) {
	if n.Op == "and" {
		l, err := Eval(n.Left, env)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := Eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}
	if n.Op == "or" {
		l, err := Eval(n.Left, env)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := Eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	left, err := Eval(n.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := Eval(n.Right, env)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return equalValues(left, right), nil
	case "!=":
		return !equalValues(left, right), nil
	case "<", "<=", ">", ">=":
		lf, lok := asNumber(left)
		rf, rok := asNumber(right)
		if lok && rok {
			switch n.Op {
			case "<":
				return lf < rf, nil
			case "<=":
				return lf <= rf, nil
			case ">":
				return lf > rf, nil
			case ">=":
				return lf >= rf, nil
			}
		}
		ls, rs := asString(left), asString(right)
		switch n.Op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	case "in":
		return membership(left, right), nil
	case "+":
		lf, lok := asNumber(left)
		rf, rok := asNumber(right)
		if lok && rok {
			return lf + rf, nil
		}
		return asString(left) + asString(right), nil
	case "-":
		lf, _ := asNumber(left)
		rf, _ := asNumber(right)
		return lf - rf, nil
	case "*":
		lf, _ := asNumber(left)
		rf, _ := asNumber(right)
		return lf * rf, nil
	case "/":
		lf, _ := asNumber(left)
		rf, _ := asNumber(right)
		if rf == 0 {
			return nil, fmt.Errorf("exprlang: division by zero")
		}
		return lf / rf, nil
	}
	return nil, fmt.Errorf("exprlang: unknown binary operator %q", n.Op)
}

func evalCall(n Call, env Env) (any, error) {
	if !allowedFuncs[n.Name] {
		return nil, fmt.Errorf("exprlang: function %q is not in the allow-list", n.Name)
	}
	args := make([]any, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := Eval(a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	switch n.Name {
	case "len":
		if len(args) != 1 {
			return nil, fmt.Errorf("exprlang: len() takes exactly one argument")
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		default:
			return 0.0, nil
		}
	case "abs":
		if len(args) != 1 {
			return nil, fmt.Errorf("exprlang: abs() takes exactly one argument")
		}
		f, _ := asNumber(args[0])
		if f < 0 {
			f = -f
		}
		return f, nil
	case "min", "max":
		if len(args) == 0 {
			return nil, fmt.Errorf("exprlang: %s() requires at least one argument", n.Name)
		}
		best, _ := asNumber(args[0])
		for _, a := range args[1:] {
			f, _ := asNumber(a)
			if (n.Name == "min" && f < best) || (n.Name == "max" && f > best) {
				best = f
			}
		}
		return best, nil
	case "lower":
		if len(args) != 1 {
			return nil, fmt.Errorf("exprlang: lower() takes exactly one argument")
		}
		return strings.ToLower(asString(args[0])), nil
	default:
		return nil, fmt.Errorf("exprlang: function %q is not in the allow-list", n.Name)
	}
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	case bool:
		return fmt.Sprintf("%t", x)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

func equalValues(a, b any) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
	}
	return asString(a) == asString(b)
}

func membership(needle, haystack any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if equalValues(needle, item) {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(h, asString(needle))
	default:
		return false
	}
}

// EvalExpr is a convenience that parses and evaluates src in one call.
// Rule.EnforcementExpression strings are typically parsed once and
// cached by the caller; this helper exists for tests and one-off
// evaluation.
func EvalExpr(src string, env Env) (bool, error) {
	node, err := Parse(src)
	if err != nil {
		return false, err
	}
	return EvalBool(node, env)
}
