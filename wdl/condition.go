package wdl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ConditionOperator compares a variable against an expected value.
type ConditionOperator string

const (
	OpEquals         ConditionOperator = "equals"
	OpNotEquals      ConditionOperator = "not_equals"
	OpGreaterThan    ConditionOperator = "greater_than"
	OpLessThan       ConditionOperator = "less_than"
	OpGreaterOrEqual ConditionOperator = "greater_or_equal"
	OpLessOrEqual    ConditionOperator = "less_or_equal"
	OpContains       ConditionOperator = "contains"
	OpNotContains    ConditionOperator = "not_contains"
	OpRegexMatch     ConditionOperator = "regex_match"
	OpExists         ConditionOperator = "exists"
	OpNotExists      ConditionOperator = "not_exists"
)

// Condition is a pure predicate over a variable context. A missing
// variable evaluates to false for every operator except exists and
// not_exists, which test presence itself.
type Condition struct {
	Variable string
	Operator ConditionOperator
	Expected any
}

// Evaluate applies the condition against the given variable context.
func (c Condition) Evaluate(vars map[string]any) bool {
	value, present := lookupVariable(vars, c.Variable)

	switch c.Operator {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}

	if !present {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return looseEqual(value, c.Expected)
	case OpNotEquals:
		return !looseEqual(value, c.Expected)
	case OpGreaterThan:
		a, b, ok := bothNumbers(value, c.Expected)
		return ok && a > b
	case OpLessThan:
		a, b, ok := bothNumbers(value, c.Expected)
		return ok && a < b
	case OpGreaterOrEqual:
		a, b, ok := bothNumbers(value, c.Expected)
		return ok && a >= b
	case OpLessOrEqual:
		a, b, ok := bothNumbers(value, c.Expected)
		return ok && a <= b
	case OpContains:
		return containsValue(value, c.Expected)
	case OpNotContains:
		return !containsValue(value, c.Expected)
	case OpRegexMatch:
		pattern, ok := c.Expected.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", value))
	}
	return false
}

// lookupVariable resolves a variable name, supporting dot-notation
// access into map values (result.score).
func lookupVariable(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil, false
	}
	cur, ok := vars[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// looseEqual compares values with numeric coercion so that 3 == 3.0
// and document literals compare against runtime values.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, fb, ok := bothNumbers(a, b); ok {
		return fa == fb
	}
	if ba, okA := a.(bool); okA {
		if bb, okB := b.(bool); okB {
			return ba == bb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func bothNumbers(a, b any) (float64, float64, bool) {
	fa, okA := toNumber(a)
	fb, okB := toNumber(b)
	return fa, fb, okA && okB
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func containsValue(value, expected any) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, fmt.Sprintf("%v", expected))
	case []any:
		for _, item := range v {
			if looseEqual(item, expected) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range v {
			if looseEqual(item, expected) {
				return true
			}
		}
		return false
	case map[string]any:
		key, ok := expected.(string)
		if !ok {
			return false
		}
		_, found := v[key]
		return found
	}
	return false
}

// exprOperators maps compact expression operators to condition
// operators, longest first so ">=" wins over ">".
var exprOperators = []struct {
	token string
	op    ConditionOperator
}{
	{"==", OpEquals},
	{"!=", OpNotEquals},
	{">=", OpGreaterOrEqual},
	{"<=", OpLessOrEqual},
	{">", OpGreaterThan},
	{"<", OpLessThan},
	{" contains ", OpContains},
	{" not_contains ", OpNotContains},
	{" matches ", OpRegexMatch},
}

// ParseConditionExpr parses a compact condition mini-expression such as
// "status == ready", "retries < 3", "result.score >= 0.8",
// "name exists". Literals on the right side are coerced: true/false to
// booleans, numeric strings to numbers, quoted strings unquoted.
func ParseConditionExpr(expr string) (*Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty condition expression")
	}

	// Presence checks have no right-hand side.
	if name, ok := strings.CutSuffix(expr, " exists"); ok && !strings.ContainsAny(name, "=<>!") {
		return &Condition{Variable: strings.TrimSpace(name), Operator: OpExists}, nil
	}
	if name, ok := strings.CutSuffix(expr, " not_exists"); ok && !strings.ContainsAny(name, "=<>!") {
		return &Condition{Variable: strings.TrimSpace(name), Operator: OpNotExists}, nil
	}

	for _, cand := range exprOperators {
		idx := strings.Index(expr, cand.token)
		if idx <= 0 {
			continue
		}
		variable := strings.TrimSpace(expr[:idx])
		literal := strings.TrimSpace(expr[idx+len(cand.token):])
		if variable == "" || literal == "" {
			return nil, fmt.Errorf("malformed condition expression: %q", expr)
		}
		return &Condition{
			Variable: variable,
			Operator: cand.op,
			Expected: coerceLiteral(literal),
		}, nil
	}

	return nil, fmt.Errorf("unsupported condition expression: %q", expr)
}

// coerceLiteral converts a raw expression literal into its typed value.
func coerceLiteral(literal string) any {
	if len(literal) >= 2 {
		if (literal[0] == '\'' && literal[len(literal)-1] == '\'') ||
			(literal[0] == '"' && literal[len(literal)-1] == '"') {
			return literal[1 : len(literal)-1]
		}
	}
	switch literal {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}
	if f, err := strconv.ParseFloat(literal, 64); err == nil {
		return f
	}
	return literal
}

// String renders the condition back into its compact expression form.
func (c Condition) String() string {
	switch c.Operator {
	case OpExists:
		return c.Variable + " exists"
	case OpNotExists:
		return c.Variable + " not_exists"
	}
	token := "=="
	for _, cand := range exprOperators {
		if cand.op == c.Operator {
			token = strings.TrimSpace(cand.token)
			break
		}
	}
	return fmt.Sprintf("%s %s %s", c.Variable, token, formatLiteral(c.Expected))
}

func formatLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
