// Package insight answers analytical queries over the conversation corpus:
// topic distributions, activity summaries, and progress trends. Statistics
// are always computed deterministically here; the model is only ever asked
// to phrase a result, never to produce one.
package insight

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chatlens/chatlens/pkg/llm"
	"github.com/chatlens/chatlens/pkg/logger"
	"github.com/chatlens/chatlens/pkg/metrics"
	"github.com/chatlens/chatlens/pkg/store"
)

// Corpus is the read-only slice of the conversation store the engine scans.
type Corpus interface {
	ListConversations(ctx context.Context, filter store.ListFilter) ([]store.Conversation, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	MessagesSince(ctx context.Context, since time.Time) ([]store.Message, error)
	Stats(ctx context.Context, since time.Time) (messageCount, conversationCount int, err error)
	CorpusVersion() int64
}

// Narrator phrases a computed statistic. Optional.
type Narrator interface {
	Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error)
}

type Engine struct {
	corpus     Corpus
	classifier Classifier
	cache      *Cache
	narrator   Narrator
	narrOpts   llm.Options
	window     time.Duration
}

// Config assembles an Engine. Classifier defaults to the keyword table,
// Window to seven days. Narrator may be nil to disable narration.
type Config struct {
	Corpus      Corpus
	Classifier  Classifier
	Cache       *Cache
	Narrator    Narrator
	NarrateOpts llm.Options
	Window      time.Duration
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Corpus == nil {
		return nil, fmt.Errorf("insight engine requires a corpus")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewKeywordClassifier()
	}
	if cfg.Cache == nil {
		var err error
		cfg.Cache, err = NewCache(0)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	return &Engine{
		corpus:     cfg.Corpus,
		classifier: cfg.Classifier,
		cache:      cfg.Cache,
		narrator:   cfg.Narrator,
		narrOpts:   cfg.NarrateOpts,
		window:     cfg.Window,
	}, nil
}

// TopicDistribution maps each topic label to the percentage of conversations
// carrying it. Conversations may carry several labels, so percentages can
// sum past 100; no normalization is applied.
func (e *Engine) TopicDistribution(ctx context.Context) (map[string]float64, error) {
	convs, err := e.corpus.ListConversations(ctx, store.ListFilter{})
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return map[string]float64{}, nil
	}

	counts := map[string]int{}
	for _, c := range convs {
		full, err := e.corpus.GetConversation(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, label := range e.classifier.Classify(concatContent(full.Messages)) {
			counts[label]++
		}
	}

	dist := make(map[string]float64, len(counts))
	for label, n := range counts {
		dist[label] = 100 * float64(n) / float64(len(convs))
	}
	return dist, nil
}

// ActivitySummary reports message and conversation counts plus the top
// topics over the trailing window.
func (e *Engine) ActivitySummary(ctx context.Context, window time.Duration) (ActivitySummary, error) {
	if window <= 0 {
		window = e.window
	}
	since := time.Now().Add(-window)

	msgCount, convCount, err := e.corpus.Stats(ctx, since)
	if err != nil {
		return ActivitySummary{}, err
	}

	topics, err := e.windowedTopicCounts(ctx, since)
	if err != nil {
		return ActivitySummary{}, err
	}

	return ActivitySummary{
		Window:            window,
		MessageCount:      msgCount,
		ConversationCount: convCount,
		TopTopics:         topLabels(topics, 3),
	}, nil
}

// ProgressTrend compares average user-message sentiment between the first
// and second half of the window.
func (e *Engine) ProgressTrend(ctx context.Context, window time.Duration) (map[string]float64, error) {
	if window <= 0 {
		window = e.window
	}
	msgs, err := e.corpus.MessagesSince(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	var scores []float64
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			scores = append(scores, SentimentScore(m.Content))
		}
	}

	mid := len(scores) / 2
	first := average(scores[:mid])
	second := average(scores[mid:])
	return map[string]float64{
		"first_half_sentiment":  first,
		"second_half_sentiment": second,
		"delta":                 second - first,
		"sampled_messages":      float64(len(scores)),
	}, nil
}

// AnswerQuery classifies a natural-language question into a supported
// statistic type, serves it from cache when the corpus hasn't changed, and
// otherwise computes it deterministically, optionally narrating the numbers.
//
// Query lifecycle: Received -> Classified -> {CacheHit -> Done} |
// {Computing -> Computed -> Narrating -> Done}.
func (e *Engine) AnswerQuery(ctx context.Context, query string) (InsightResult, error) {
	kind, err := ClassifyQuery(query)
	if err != nil {
		return InsightResult{}, err
	}
	metrics.InsightQueries.WithLabelValues(string(kind)).Inc()

	// Snapshot the version before scanning: a write landing mid-scan does
	// not invalidate this computation, only the cache entry it populates.
	version := e.corpus.CorpusVersion()
	if cached, ok := e.cache.Get(kind, version); ok {
		return cached, nil
	}

	result := InsightResult{
		Query:         query,
		Kind:          kind,
		GeneratedAt:   time.Now(),
		CorpusVersion: version,
	}

	switch kind {
	case QueryTopics:
		dist, err := e.TopicDistribution(ctx)
		if err != nil {
			return InsightResult{}, err
		}
		result.Stats = dist
		result.TopTopics = topLabelsFromPercentages(dist, 3)
	case QueryActivity:
		summary, err := e.ActivitySummary(ctx, e.window)
		if err != nil {
			return InsightResult{}, err
		}
		result.Stats = map[string]float64{
			"message_count":      float64(summary.MessageCount),
			"conversation_count": float64(summary.ConversationCount),
			"window_days":        summary.Window.Hours() / 24,
		}
		result.TopTopics = summary.TopTopics
	case QueryTrend:
		trend, err := e.ProgressTrend(ctx, e.window)
		if err != nil {
			return InsightResult{}, err
		}
		result.Stats = trend
	}

	result.Narrative = e.narrate(ctx, result)
	e.cache.Put(result)
	return result, nil
}

// narrate asks the model to phrase the computed statistics. Only labels and
// numbers leave the engine. Narration is best-effort: failures degrade to an
// empty narrative rather than failing the query.
func (e *Engine) narrate(ctx context.Context, result InsightResult) string {
	if e.narrator == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Statistic type: %s\n", result.Kind)
	for _, k := range sortedKeys(result.Stats) {
		fmt.Fprintf(&sb, "%s: %.2f\n", k, result.Stats[k])
	}
	if len(result.TopTopics) > 0 {
		fmt.Fprintf(&sb, "top topics: %s\n", strings.Join(result.TopTopics, ", "))
	}

	res, err := e.narrator.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You turn precomputed conversation statistics into one or two friendly sentences. Do not invent numbers; only restate the ones given."},
		{Role: "user", Content: sb.String()},
	}, e.narrOpts)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("insight narration failed, returning bare statistics")
		return ""
	}
	return res.Content
}

func (e *Engine) windowedTopicCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	msgs, err := e.corpus.MessagesSince(ctx, since)
	if err != nil {
		return nil, err
	}

	perConv := map[string][]string{}
	order := []string{}
	for _, m := range msgs {
		if _, ok := perConv[m.ConversationID]; !ok {
			order = append(order, m.ConversationID)
		}
		perConv[m.ConversationID] = append(perConv[m.ConversationID], m.Content)
	}

	counts := map[string]int{}
	for _, id := range order {
		for _, label := range e.classifier.Classify(strings.Join(perConv[id], "\n")) {
			counts[label]++
		}
	}
	return counts, nil
}

// ClassifyQuery maps a natural-language question to a statistic type.
// Rule order is fixed so classification stays deterministic.
func ClassifyQuery(query string) (QueryKind, error) {
	q := strings.ToLower(query)

	for _, kw := range []string{"trend", "progress", "sentiment", "mood", "improv"} {
		if strings.Contains(q, kw) {
			return QueryTrend, nil
		}
	}
	for _, kw := range []string{"topic", "discuss", "talk about", "talked about", "theme", "subject"} {
		if strings.Contains(q, kw) {
			return QueryTopics, nil
		}
	}
	for _, kw := range []string{"activity", "active", "how many", "how much", "messages", "week", "summary", "busy"} {
		if strings.Contains(q, kw) {
			return QueryActivity, nil
		}
	}

	supported := make([]string, 0, len(SupportedKinds()))
	for _, k := range SupportedKinds() {
		supported = append(supported, string(k))
	}
	return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedQuery, query, strings.Join(supported, ", "))
}

func concatContent(msgs []store.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func average(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func topLabels(counts map[string]int, n int) []string {
	type lc struct {
		label string
		count int
	}
	all := make([]lc, 0, len(counts))
	for l, c := range counts {
		all = append(all, lc{l, c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].label < all[j].label
	})
	out := []string{}
	for i := 0; i < len(all) && i < n; i++ {
		out = append(out, all[i].label)
	}
	return out
}

func topLabelsFromPercentages(dist map[string]float64, n int) []string {
	counts := map[string]int{}
	for l, pct := range dist {
		counts[l] = int(pct * 100)
	}
	return topLabels(counts, n)
}
