package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-flowgate/internal/domain"
)

func TestEvaluate(t *testing.T) {
	evaluator := NewEvaluator()

	tests := []struct {
		name   string
		cond   *domain.BranchCondition
		result map[string]any
		want   bool
	}{
		{
			name: "nil condition always holds",
			cond: nil,
			want: true,
		},
		{
			name:   "equals match",
			cond:   &domain.BranchCondition{Field: "status", Operator: "equals", Value: "approved"},
			result: map[string]any{"status": "approved"},
			want:   true,
		},
		{
			name:   "equals mismatch",
			cond:   &domain.BranchCondition{Field: "status", Operator: "equals", Value: "approved"},
			result: map[string]any{"status": "rejected"},
			want:   false,
		},
		{
			name:   "equals coerces numbers",
			cond:   &domain.BranchCondition{Field: "score", Operator: "equals", Value: "80"},
			result: map[string]any{"score": 80.0},
			want:   true,
		},
		{
			name:   "not-equals spelled with a dash",
			cond:   &domain.BranchCondition{Field: "feedback", Operator: "not-equals", Value: "wants_to_offer"},
			result: map[string]any{"feedback": "more_options"},
			want:   true,
		},
		{
			name:   "not_equals on missing field is not met",
			cond:   &domain.BranchCondition{Field: "feedback", Operator: "not_equals", Value: "wants_to_offer"},
			result: map[string]any{"other": "x"},
			want:   false,
		},
		{
			name:   "greater_than",
			cond:   &domain.BranchCondition{Field: "score", Operator: "greater_than", Value: 50},
			result: map[string]any{"score": 72},
			want:   true,
		},
		{
			name:   "less_than with non numeric value",
			cond:   &domain.BranchCondition{Field: "score", Operator: "less_than", Value: 50},
			result: map[string]any{"score": "high"},
			want:   false,
		},
		{
			name:   "contains is case insensitive",
			cond:   &domain.BranchCondition{Field: "notes", Operator: "contains", Value: "URGENT"},
			result: map[string]any{"notes": "patient flagged urgent follow-up"},
			want:   true,
		},
		{
			name:   "contains checks slice membership",
			cond:   &domain.BranchCondition{Field: "tags", Operator: "contains", Value: "vip"},
			result: map[string]any{"tags": []any{"new", "vip"}},
			want:   true,
		},
		{
			name:   "nested field path",
			cond:   &domain.BranchCondition{Field: "lead.score", Operator: "greater_than", Value: 10},
			result: map[string]any{"lead": map[string]any{"score": 11}},
			want:   true,
		},
		{
			name:   "nil result never matches",
			cond:   &domain.BranchCondition{Field: "status", Operator: "equals", Value: "approved"},
			result: nil,
			want:   false,
		},
		{
			name:   "unknown operator never matches",
			cond:   &domain.BranchCondition{Field: "status", Operator: "matches", Value: "a.*"},
			result: map[string]any{"status": "abc"},
			want:   false,
		},
		{
			name:   "expr operator",
			cond:   &domain.BranchCondition{Operator: "expr", Value: "score > 50 && status == 'hot'"},
			result: map[string]any{"score": 80, "status": "hot"},
			want:   true,
		},
		{
			name:   "expr with non boolean output",
			cond:   &domain.BranchCondition{Operator: "expr", Value: "score + 1"},
			result: map[string]any{"score": 80},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluator.Evaluate(tt.cond, tt.result))
		})
	}
}

func TestValidate(t *testing.T) {
	evaluator := NewEvaluator()

	assert.NoError(t, evaluator.Validate(nil))
	assert.NoError(t, evaluator.Validate(&domain.BranchCondition{Field: "a", Operator: "Equals", Value: 1}))
	assert.NoError(t, evaluator.Validate(&domain.BranchCondition{Operator: "expr", Value: "a == 1"}))

	err := evaluator.Validate(&domain.BranchCondition{Field: "a", Operator: "between", Value: 1})
	assert.ErrorIs(t, err, ErrUnknownOperator)

	err = evaluator.Validate(&domain.BranchCondition{Operator: "expr", Value: 42})
	assert.ErrorIs(t, err, ErrUnknownOperator)

	assert.Error(t, evaluator.Validate(&domain.BranchCondition{Operator: "expr", Value: "a >>> 1"}))
}

func TestRegisterOperator(t *testing.T) {
	evaluator := NewEvaluator()
	evaluator.Register("starts_with", func(actual any, found bool, expected any) bool {
		s, ok := actual.(string)
		prefix, _ := expected.(string)
		return found && ok && len(s) >= len(prefix) && s[:len(prefix)] == prefix
	})

	cond := &domain.BranchCondition{Field: "stage", Operator: "starts-with", Value: "offer"}
	require.NoError(t, evaluator.Validate(cond))
	assert.True(t, evaluator.Evaluate(cond, map[string]any{"stage": "offer_sent"}))
	assert.False(t, evaluator.Evaluate(cond, map[string]any{"stage": "viewing"}))
}

func TestEvaluatorConcurrentExpr(t *testing.T) {
	evaluator := NewEvaluator()
	cond := &domain.BranchCondition{Operator: "expr", Value: "n % 2 == 0"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.Equal(t, n%2 == 0, evaluator.Evaluate(cond, map[string]any{"n": n}))
		}(i)
	}
	wg.Wait()
}
