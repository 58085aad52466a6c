package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlens/chatlens/pkg/store"
)

func sampleConversation() store.Conversation {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return store.Conversation{
		ID:        "conv-1",
		Title:     "Debug session",
		Status:    store.StatusActive,
		Summary:   "Tracked down a flaky test.",
		CreatedAt: created,
		UpdatedAt: created.Add(10 * time.Minute),
		Messages: []store.Message{
			{Role: store.RoleUser, Content: "the test is broken again", CreatedAt: created},
			{Role: store.RoleAssistant, Content: "great, that fix works", CreatedAt: created.Add(time.Minute), ModelUsed: "qwen-7b"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{
		"json":     FormatJSON,
		"MD":       FormatMarkdown,
		"markdown": FormatMarkdown,
		" csv ":    FormatCSV,
	} {
		got, err := ParseFormat(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRenderJSON(t *testing.T) {
	out, err := Render(FormatJSON, sampleConversation())
	require.NoError(t, err)

	var env struct {
		Conversation struct {
			ID           string `json:"id"`
			MessageCount int    `json:"message_count"`
		} `json:"conversation"`
		Messages []struct {
			Role      string `json:"role"`
			ModelUsed string `json:"model_used"`
		} `json:"messages"`
		ExportFormat string `json:"export_format"`
	}
	require.NoError(t, json.Unmarshal(out, &env))

	assert.Equal(t, "conv-1", env.Conversation.ID)
	assert.Equal(t, 2, env.Conversation.MessageCount)
	assert.Equal(t, "json", env.ExportFormat)
	require.Len(t, env.Messages, 2)
	assert.Equal(t, "qwen-7b", env.Messages[1].ModelUsed)
}

func TestRenderMarkdown(t *testing.T) {
	out, err := Render(FormatMarkdown, sampleConversation())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "# Debug session\n"))
	assert.Contains(t, md, "### USER")
	assert.Contains(t, md, "### ASSISTANT")
	assert.Contains(t, md, "Tracked down a flaky test.")
	assert.Contains(t, md, "- **Sentiment:** negative")
	assert.Contains(t, md, "- **Sentiment:** positive")
}

func TestRenderCSV(t *testing.T) {
	out, err := Render(FormatCSV, sampleConversation())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Timestamp,Role,Sentiment,Content", lines[0])
	assert.Contains(t, lines[1], "user")
	assert.Contains(t, lines[2], "assistant")
}

func TestFilename(t *testing.T) {
	name := Filename("Plan: Q3 / launch!", FormatMarkdown)
	assert.True(t, strings.HasPrefix(name, "Plan Q3  launch_"))
	assert.True(t, strings.HasSuffix(name, ".md"))

	assert.True(t, strings.HasPrefix(Filename("", FormatJSON), "conversation_"))
}
