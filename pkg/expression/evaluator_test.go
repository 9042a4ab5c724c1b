package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Evaluate(t *testing.T) {
	e := NewEvaluator()

	tests := []struct {
		name     string
		expr     string
		env      map[string]interface{}
		expected bool
		wantErr  bool
	}{
		{
			name:     "condition stage scenario",
			expr:     "risk_level >= 3 && region == 'east'",
			env:      map[string]interface{}{"risk_level": 4, "region": "east"},
			expected: true,
		},
		{
			name:     "condition stage scenario false branch",
			expr:     "risk_level >= 3 && region == 'east'",
			env:      map[string]interface{}{"risk_level": 2, "region": "east"},
			expected: false,
		},
		{
			name:     "or with parentheses",
			expr:     "(risk_level > 5 || priority == \"high\") && !blocked",
			env:      map[string]interface{}{"risk_level": 1.0, "priority": "high", "blocked": false},
			expected: true,
		},
		{
			name:     "epsilon equality",
			expr:     "score == 0.30001",
			env:      map[string]interface{}{"score": 0.3},
			expected: true,
		},
		{
			name:     "epsilon inequality",
			expr:     "score != 0.31",
			env:      map[string]interface{}{"score": 0.3},
			expected: true,
		},
		{
			name:     "missing identifier evaluates to its name",
			expr:     "region == 'region'",
			env:      map[string]interface{}{},
			expected: true,
		},
		{
			name:     "lexicographic fallback",
			expr:     "code < 'b'",
			env:      map[string]interface{}{"code": "apple"},
			expected: true,
		},
		{
			name:     "mixed numeric and text compares as text",
			expr:     "level > 'abc'",
			env:      map[string]interface{}{"level": 10},
			expected: false,
		},
		{
			name:     "bare truthy identifier",
			expr:     "approved",
			env:      map[string]interface{}{"approved": true},
			expected: true,
		},
		{
			name:     "bare zero is false",
			expr:     "count",
			env:      map[string]interface{}{"count": 0},
			expected: false,
		},
		{
			name:     "string false is false",
			expr:     "flag",
			env:      map[string]interface{}{"flag": "false"},
			expected: false,
		},
		{
			name:     "bare missing identifier is truthy",
			expr:     "unknown_flag",
			env:      nil,
			expected: true,
		},
		{
			name:     "nested context path",
			expr:     "ticket.priority >= 2",
			env:      map[string]interface{}{"ticket": map[string]interface{}{"priority": 3}},
			expected: true,
		},
		{
			name:     "negative literal",
			expr:     "delta > -1",
			env:      map[string]interface{}{"delta": 0},
			expected: true,
		},
		{
			name:     "double negation",
			expr:     "!!enabled",
			env:      map[string]interface{}{"enabled": 1},
			expected: true,
		},
		{
			name:     "not negates the whole comparison",
			expr:     "!x == 'b'",
			env:      map[string]interface{}{"x": "a"},
			expected: true,
		},
		{
			name:     "not over a matching comparison",
			expr:     "!x == 'a'",
			env:      map[string]interface{}{"x": "a"},
			expected: false,
		},
		{
			name:     "double not over a comparison",
			expr:     "!!risk_level >= 3",
			env:      map[string]interface{}{"risk_level": 4},
			expected: true,
		},
		{
			name:     "not binds tighter than and",
			expr:     "!region == 'east' && risk_level > 1",
			env:      map[string]interface{}{"region": "west", "risk_level": 2},
			expected: true,
		},
		{
			name:     "not on a bare identifier before or",
			expr:     "!blocked || region == 'east'",
			env:      map[string]interface{}{"blocked": true, "region": "west"},
			expected: false,
		},
		{
			name:    "arithmetic is rejected",
			expr:    "amount * 2 > 10",
			env:     map[string]interface{}{"amount": 10},
			wantErr: true,
		},
		{
			name:    "function calls are rejected",
			expr:    "len(name) > 2",
			wantErr: true,
		},
		{
			name:    "syntax error",
			expr:    "risk_level >= ",
			wantErr: true,
		},
		{
			name:    "empty expression",
			expr:    "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Evaluate(tt.expr, tt.env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluator_Validate(t *testing.T) {
	e := NewEvaluator()

	assert.NoError(t, e.Validate("a == 1 || b != 'x'"))
	assert.Error(t, e.Validate("a in [1, 2]"))
	assert.Error(t, e.Validate("a ? b : c"))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy("0"))
	assert.False(t, Truthy(0.0))
	assert.True(t, Truthy("east"))
	assert.True(t, Truthy(2))
	assert.True(t, Truthy(map[string]interface{}{}))
}

func TestCompare(t *testing.T) {
	ok, err := Compare(3, ">=", "3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Compare("b", ">", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Compare(1, "=~", 2)
	assert.Error(t, err)
}
