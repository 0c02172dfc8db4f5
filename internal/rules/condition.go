// Package rules evaluates branch conditions against a parent task's result.
package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"go-flowgate/internal/domain"
)

const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
	OpExpr        = "expr"
)

// ErrUnknownOperator is returned by Validate for operators nobody registered.
var ErrUnknownOperator = errors.New("unknown branch operator")

// OperatorFunc compares the looked-up field value (found=false when missing)
// with the condition's value.
type OperatorFunc func(actual any, found bool, expected any) bool

// Evaluator evaluates branch conditions. The zero value is not usable, use NewEvaluator.
type Evaluator struct {
	mu        sync.RWMutex
	operators map[string]OperatorFunc
	cache     map[string]*vm.Program
}

func NewEvaluator() *Evaluator {
	e := &Evaluator{
		operators: make(map[string]OperatorFunc),
		cache:     make(map[string]*vm.Program),
	}
	e.operators[OpEquals] = func(actual any, found bool, expected any) bool {
		return found && looseEqual(actual, expected)
	}
	e.operators[OpNotEquals] = func(actual any, found bool, expected any) bool {
		return found && !looseEqual(actual, expected)
	}
	e.operators[OpGreaterThan] = func(actual any, found bool, expected any) bool {
		a, okA := toFloat(actual)
		b, okB := toFloat(expected)
		return found && okA && okB && a > b
	}
	e.operators[OpLessThan] = func(actual any, found bool, expected any) bool {
		a, okA := toFloat(actual)
		b, okB := toFloat(expected)
		return found && okA && okB && a < b
	}
	e.operators[OpContains] = func(actual any, found bool, expected any) bool {
		return found && contains(actual, expected)
	}
	return e
}

// Register adds or replaces an operator.
func (e *Evaluator) Register(name string, fn OperatorFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operators[normalize(name)] = fn
}

// Validate checks that a condition can be evaluated at all.
func (e *Evaluator) Validate(cond *domain.BranchCondition) error {
	if cond == nil {
		return nil
	}
	op := normalize(cond.Operator)
	if op == OpExpr {
		source, ok := cond.Value.(string)
		if !ok {
			return fmt.Errorf("%w: expr value must be a string, got %T", ErrUnknownOperator, cond.Value)
		}
		_, err := e.program(source)
		return err
	}
	e.mu.RLock()
	_, ok := e.operators[op]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, cond.Operator)
	}
	return nil
}

// Evaluate reports whether result satisfies cond. A nil condition always
// holds; a nil result, a missing field or an unknown operator never do.
func (e *Evaluator) Evaluate(cond *domain.BranchCondition, result map[string]any) bool {
	if cond == nil {
		return true
	}
	if result == nil {
		return false
	}
	op := normalize(cond.Operator)
	if op == OpExpr {
		return e.evalExpr(cond.Value, result)
	}

	e.mu.RLock()
	fn, ok := e.operators[op]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	actual, found := Lookup(result, cond.Field)
	return fn(actual, found, cond.Value)
}

func (e *Evaluator) evalExpr(value any, result map[string]any) bool {
	source, ok := value.(string)
	if !ok {
		return false
	}
	program, err := e.program(source)
	if err != nil {
		return false
	}
	env := make(map[string]any, len(result)+1)
	for k, v := range result {
		env[k] = v
	}
	env["result"] = result
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

func (e *Evaluator) program(source string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[source]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[source]; ok {
		return program, nil
	}
	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile branch expression %q: %w", source, err)
	}
	e.cache[source] = program
	return program, nil
}

// Lookup resolves a dotted field path inside a result map.
func Lookup(result map[string]any, field string) (any, bool) {
	if v, ok := result[field]; ok {
		return v, v != nil
	}
	var current any = result
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, current != nil
}

func normalize(op string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(op)), "-", "_")
}

func looseEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(haystack, needle any) bool {
	if items, ok := haystack.([]any); ok {
		for _, item := range items {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(
		strings.ToLower(fmt.Sprint(haystack)),
		strings.ToLower(fmt.Sprint(needle)),
	)
}
