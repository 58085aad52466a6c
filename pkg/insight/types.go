package insight

import "time"

// QueryKind is one of the fixed, deterministically computable statistic
// types.
type QueryKind string

const (
	QueryTopics   QueryKind = "topic_distribution"
	QueryActivity QueryKind = "activity_summary"
	QueryTrend    QueryKind = "progress_trend"
)

// SupportedKinds lists the statistic types AnswerQuery can serve.
func SupportedKinds() []QueryKind {
	return []QueryKind{QueryTopics, QueryActivity, QueryTrend}
}

// InsightResult is the answer to one insight query. Stats is a mapping from
// statistic label to value (percentages for topics, counts for activity,
// scores for trends). CorpusVersion stamps the corpus state the result was
// computed against.
type InsightResult struct {
	Query         string
	Kind          QueryKind
	Stats         map[string]float64
	TopTopics     []string
	Narrative     string
	GeneratedAt   time.Time
	CorpusVersion int64
}

// ActivitySummary is the windowed activity statistic.
type ActivitySummary struct {
	Window            time.Duration
	MessageCount      int
	ConversationCount int
	TopTopics         []string
}
