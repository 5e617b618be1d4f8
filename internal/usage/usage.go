// Package usage derives client-facing token budgets from engine result
// messages.
package usage

import "github.com/coderelay/coderelay/pkg/types"

// DefaultBudget is the soft ceiling reported to clients when none is
// configured. It is a client-side budget, unrelated to the engine's
// actual context window.
const DefaultBudget = 160000

// ExtractTokenBudget computes the used/ceiling pair from a terminal
// result message, or nil when the message carries no per-model usage.
//
// When several models report usage in one message, a single record is
// selected rather than summed; which one is unspecified. Cumulative
// session counters are preferred over per-call counters.
func ExtractTokenBudget(msg *types.EngineMessage, budget int) *types.TokenBudget {
	if msg == nil || msg.Type != "result" || len(msg.ModelUsage) == 0 {
		return nil
	}

	var usage types.ModelUsage
	for _, record := range msg.ModelUsage {
		usage = record
		break
	}

	input := pick(usage.CumulativeInputTokens, usage.InputTokens)
	output := pick(usage.CumulativeOutputTokens, usage.OutputTokens)
	cacheRead := pick(usage.CumulativeCacheReadInputTokens, usage.CacheReadInputTokens)
	cacheCreation := pick(usage.CumulativeCacheCreationInputTokens, usage.CacheCreationInputTokens)

	if budget <= 0 {
		budget = DefaultBudget
	}

	return &types.TokenBudget{
		Used:  input + output + cacheRead + cacheCreation,
		Total: budget,
	}
}

func pick(cumulative, perCall int) int {
	if cumulative != 0 {
		return cumulative
	}
	return perCall
}
