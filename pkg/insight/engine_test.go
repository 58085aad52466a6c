package insight

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlens/chatlens/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "insight.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	eng, err := NewEngine(Config{Corpus: s})
	require.NoError(t, err)
	return eng, s
}

func seedConversation(t *testing.T, s *store.SQLiteStore, title string, contents ...string) store.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, title)
	require.NoError(t, err)
	role := store.RoleUser
	for _, content := range contents {
		_, err := s.AppendMessage(ctx, conv.ID, role, content)
		require.NoError(t, err)
		if role == store.RoleUser {
			role = store.RoleAssistant
		} else {
			role = store.RoleUser
		}
	}
	return conv
}

func TestTopicDistribution(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	seedConversation(t, s, "training run", "the model training diverged overnight")
	seedConversation(t, s, "llm eval", "comparing llm outputs across neural architectures")
	seedConversation(t, s, "standup", "meeting notes and the project deadline")
	seedConversation(t, s, "travel", "booking flights for the trip")

	dist, err := eng.TopicDistribution(ctx)
	require.NoError(t, err)

	assert.InDelta(t, 50.0, dist["machine-learning"], 0.001)
	assert.InDelta(t, 25.0, dist["business"], 0.001)
	assert.NotContains(t, dist, "science")
}

func TestTopicDistribution_EmptyCorpus(t *testing.T) {
	eng, _ := newTestEngine(t)

	dist, err := eng.TopicDistribution(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dist)
}

func TestActivitySummary(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	seedConversation(t, s, "debugging", "hitting a bug in the api code", "try checking the database layer")
	seedConversation(t, s, "planning", "draft the project plan before the meeting")

	summary, err := eng.ActivitySummary(ctx, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.MessageCount)
	assert.Equal(t, 2, summary.ConversationCount)
	assert.Contains(t, summary.TopTopics, "technical")
	assert.Contains(t, summary.TopTopics, "business")
}

func TestProgressTrend(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	seedConversation(t, s, "week", []string{
		"everything is broken and I am stuck",
		"ack",
		"still failing, this bug is frustrating",
		"ack",
		"progress at last, the fix works",
		"ack",
		"solved it, thanks, great result",
	}...)

	trend, err := eng.ProgressTrend(ctx, 24*time.Hour)
	require.NoError(t, err)

	assert.Negative(t, trend["first_half_sentiment"])
	assert.Positive(t, trend["second_half_sentiment"])
	assert.Positive(t, trend["delta"])
	assert.Equal(t, 4.0, trend["sampled_messages"])
}

func TestAnswerQuery_CacheInvalidation(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	conv := seedConversation(t, s, "ml", "training a neural model on a new dataset")

	first, err := eng.AnswerQuery(ctx, "what topics did I discuss?")
	require.NoError(t, err)
	assert.Equal(t, QueryTopics, first.Kind)
	assert.InDelta(t, 100.0, first.Stats["machine-learning"], 0.001)

	// Unchanged corpus: same cached result, GeneratedAt included.
	second, err := eng.AnswerQuery(ctx, "what topics did I discuss?")
	require.NoError(t, err)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
	assert.Equal(t, first.CorpusVersion, second.CorpusVersion)

	// Any write bumps the corpus version and forces a recompute.
	_, err = s.AppendMessage(ctx, conv.ID, store.RoleAssistant, "here is the project plan")
	require.NoError(t, err)

	third, err := eng.AnswerQuery(ctx, "what topics did I discuss?")
	require.NoError(t, err)
	assert.Greater(t, third.CorpusVersion, first.CorpusVersion)
	assert.InDelta(t, 100.0, third.Stats["business"], 0.001)
}

func TestAnswerQuery_Unsupported(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.AnswerQuery(context.Background(), "please write me a poem")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedQuery))
	assert.Contains(t, err.Error(), string(QueryTopics))
	assert.Contains(t, err.Error(), string(QueryActivity))
	assert.Contains(t, err.Error(), string(QueryTrend))
}

func TestClassifyQuery(t *testing.T) {
	cases := []struct {
		query string
		want  QueryKind
	}{
		{"what did I mostly discuss?", QueryTopics},
		{"show my main topics", QueryTopics},
		{"how active was I this week?", QueryActivity},
		{"how many messages did I send?", QueryActivity},
		{"is my mood improving?", QueryTrend},
		{"sentiment trend please", QueryTrend},
	}
	for _, tc := range cases {
		kind, err := ClassifyQuery(tc.query)
		require.NoError(t, err, tc.query)
		assert.Equal(t, tc.want, kind, tc.query)
	}
}

func TestSentimentScore(t *testing.T) {
	assert.Equal(t, 0.0, SentimentScore("the sky is blue"))
	assert.Equal(t, 1.0, SentimentScore("great, thanks, that works!"))
	assert.Equal(t, -1.0, SentimentScore("broken and stuck again"))
	assert.InDelta(t, 0.0, SentimentScore("good but also bad"), 0.001)
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()

	labels := c.Classify("debugging the training loop code")
	assert.Equal(t, []string{"machine-learning", "technical"}, labels)

	assert.Empty(t, c.Classify("zzz"))
}
