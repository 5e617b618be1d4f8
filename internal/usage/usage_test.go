package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderelay/coderelay/pkg/types"
)

func TestExtractTokenBudget(t *testing.T) {
	tests := []struct {
		name     string
		msg      *types.EngineMessage
		budget   int
		expected *types.TokenBudget
	}{
		{
			name:     "nil message",
			msg:      nil,
			budget:   160000,
			expected: nil,
		},
		{
			name:     "non-result message",
			msg:      &types.EngineMessage{Type: "assistant"},
			budget:   160000,
			expected: nil,
		},
		{
			name:     "result without usage",
			msg:      &types.EngineMessage{Type: "result"},
			budget:   160000,
			expected: nil,
		},
		{
			name: "cumulative counters preferred",
			msg: &types.EngineMessage{
				Type: "result",
				ModelUsage: map[string]types.ModelUsage{
					"claude-sonnet": {
						InputTokens:                        10,
						OutputTokens:                       5,
						CumulativeInputTokens:              100,
						CumulativeOutputTokens:             50,
						CumulativeCacheReadInputTokens:     10,
						CumulativeCacheCreationInputTokens: 5,
					},
				},
			},
			budget:   160000,
			expected: &types.TokenBudget{Used: 165, Total: 160000},
		},
		{
			name: "per-call fallback when cumulative absent",
			msg: &types.EngineMessage{
				Type: "result",
				ModelUsage: map[string]types.ModelUsage{
					"claude-sonnet": {
						InputTokens:              100,
						OutputTokens:             50,
						CacheReadInputTokens:     10,
						CacheCreationInputTokens: 5,
					},
				},
			},
			budget:   160000,
			expected: &types.TokenBudget{Used: 165, Total: 160000},
		},
		{
			name: "mixed counters picked per field",
			msg: &types.EngineMessage{
				Type: "result",
				ModelUsage: map[string]types.ModelUsage{
					"claude-sonnet": {
						InputTokens:            7,
						CumulativeOutputTokens: 50,
					},
				},
			},
			budget:   160000,
			expected: &types.TokenBudget{Used: 57, Total: 160000},
		},
		{
			name: "zero budget falls back to default",
			msg: &types.EngineMessage{
				Type: "result",
				ModelUsage: map[string]types.ModelUsage{
					"claude-sonnet": {CumulativeInputTokens: 1},
				},
			},
			budget:   0,
			expected: &types.TokenBudget{Used: 1, Total: DefaultBudget},
		},
		{
			name: "custom budget",
			msg: &types.EngineMessage{
				Type: "result",
				ModelUsage: map[string]types.ModelUsage{
					"claude-sonnet": {CumulativeInputTokens: 1},
				},
			},
			budget:   200000,
			expected: &types.TokenBudget{Used: 1, Total: 200000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractTokenBudget(tt.msg, tt.budget))
		})
	}
}

func TestExtractTokenBudgetMultipleModelsPicksOne(t *testing.T) {
	msg := &types.EngineMessage{
		Type: "result",
		ModelUsage: map[string]types.ModelUsage{
			"model-a": {CumulativeInputTokens: 100},
			"model-b": {CumulativeInputTokens: 200},
		},
	}

	budget := ExtractTokenBudget(msg, 160000)

	require.NotNil(t, budget)
	// One record is selected, never a sum across models.
	assert.Contains(t, []int{100, 200}, budget.Used)
	assert.Equal(t, 160000, budget.Total)
}
