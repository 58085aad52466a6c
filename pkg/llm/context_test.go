package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatlens/chatlens/pkg/store"
)

func conv(msgs ...store.Message) store.Conversation {
	return store.Conversation{ID: "c1", Messages: msgs}
}

func msg(role store.Role, content string) store.Message {
	return store.Message{Role: role, Content: content}
}

func roles(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestBuildContext_MessageBudgetDropsOldestFirst(t *testing.T) {
	b := NewContextBuilder(ContextBudget{MaxMessages: 2})

	got := b.BuildContext(conv(
		msg(store.RoleUser, "one"),
		msg(store.RoleAssistant, "two"),
		msg(store.RoleUser, "three"),
		msg(store.RoleAssistant, "four"),
	))

	assert.Len(t, got, 2)
	assert.Equal(t, "three", got[0].Content)
	assert.Equal(t, "four", got[1].Content)
}

func TestBuildContext_SystemAlwaysRetained(t *testing.T) {
	b := NewContextBuilder(ContextBudget{MaxMessages: 1})

	got := b.BuildContext(conv(
		msg(store.RoleSystem, "be terse"),
		msg(store.RoleUser, "one"),
		msg(store.RoleAssistant, "two"),
		msg(store.RoleUser, "three"),
	))

	assert.Equal(t, []string{"system", "user"}, roles(got))
	assert.Equal(t, "three", got[1].Content)
}

func TestBuildContext_TokenBudget(t *testing.T) {
	// Each message estimates to ~11 tokens; a 25-token budget fits two.
	long := "0123456789012345678901234567890123456789"
	b := NewContextBuilder(ContextBudget{MaxTokens: 25})

	got := b.BuildContext(conv(
		msg(store.RoleUser, long),
		msg(store.RoleAssistant, long),
		msg(store.RoleUser, long),
	))

	assert.Len(t, got, 2)
	assert.Equal(t, []string{"assistant", "user"}, roles(got))
}

func TestBuildContext_AtLeastOneMessageEvenOverBudget(t *testing.T) {
	b := NewContextBuilder(ContextBudget{MaxTokens: 2})

	got := b.BuildContext(conv(msg(store.RoleUser, "this alone exceeds the whole token budget")))

	assert.Len(t, got, 1)
}

func TestBuildContext_PreservesConversationOrder(t *testing.T) {
	b := NewContextBuilder(ContextBudget{MaxMessages: 10})

	got := b.BuildContext(conv(
		msg(store.RoleSystem, "sys"),
		msg(store.RoleUser, "u1"),
		msg(store.RoleAssistant, "a1"),
		msg(store.RoleUser, "u2"),
	))

	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles(got))
}
