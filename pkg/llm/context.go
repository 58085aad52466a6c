package llm

import (
	"github.com/chatlens/chatlens/pkg/store"
)

// ContextBuilder turns a stored conversation into the bounded message window
// sent to the inference endpoint.
type ContextBuilder struct {
	budget ContextBudget
}

func NewContextBuilder(budget ContextBudget) *ContextBuilder {
	if budget.MaxMessages <= 0 && budget.MaxTokens <= 0 {
		budget.MaxTokens = 4096
	}
	return &ContextBuilder{budget: budget}
}

// EstimateTokens is the rough bytes/4 heuristic used for budgeting. Local
// endpoints tokenize differently per model, so this only needs to be stable,
// not exact.
func EstimateTokens(s string) int {
	return len(s)/4 + 1
}

// BuildContext selects the most recent messages that fit the budget, dropping
// oldest first. System messages are always retained regardless of budget, and
// the result preserves conversation order.
func (b *ContextBuilder) BuildContext(conv store.Conversation) []Message {
	msgs := conv.Messages
	keep := make([]bool, len(msgs))

	budget := b.budget
	used := 0
	for i := range msgs {
		if msgs[i].Role == store.RoleSystem {
			keep[i] = true
			if budget.MaxMessages <= 0 {
				used += EstimateTokens(msgs[i].Content)
			}
		}
	}

	kept := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		if budget.MaxMessages > 0 {
			if kept >= budget.MaxMessages {
				break
			}
			keep[i] = true
			kept++
			continue
		}
		cost := EstimateTokens(msgs[i].Content)
		if used+cost > budget.MaxTokens && kept > 0 {
			break
		}
		keep[i] = true
		kept++
		used += cost
	}

	out := make([]Message, 0, len(msgs))
	for i := range msgs {
		if keep[i] {
			out = append(out, Message{Role: string(msgs[i].Role), Content: msgs[i].Content})
		}
	}
	return out
}
