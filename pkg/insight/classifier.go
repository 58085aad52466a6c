package insight

import (
	"sort"
	"strings"
)

// Classifier assigns topic labels to a piece of text. Implementations must
// be deterministic: the same text always yields the same labels. The engine
// only aggregates; any classifier satisfying this contract can be swapped in.
type Classifier interface {
	Classify(text string) []string
}

// KeywordClassifier is the default rule-based classifier: a topic label
// applies when any of its keywords occurs in the text.
type KeywordClassifier struct {
	topics map[string][]string
}

// NewKeywordClassifier builds the default topic table.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		topics: map[string][]string{
			"technical":        {"code", "programming", "development", "debugging", "error", "bug", "api", "database"},
			"machine-learning": {"machine learning", " ml ", "model", "training", "neural", "dataset", "llm"},
			"business":         {"project", "deadline", "meeting", "budget", "plan", "strategy", "goal"},
			"science":          {"research", "study", "experiment", "data", "analysis", "result", "theory"},
			"general":          {"hello", "hi ", "how", "what", "why", "when", "where"},
		},
	}
}

// Classify returns the sorted set of labels whose keywords match.
func (c *KeywordClassifier) Classify(text string) []string {
	lower := " " + strings.ToLower(text) + " "
	var labels []string
	for label, keywords := range c.topics {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				labels = append(labels, label)
				break
			}
		}
	}
	sort.Strings(labels)
	return labels
}
