package insight

import "strings"

// Small sentiment lexicon. Deliberately rule-based so trend statistics stay
// deterministic and reproducible across runs.
var (
	positiveWords = map[string]struct{}{
		"good": {}, "great": {}, "excellent": {}, "helpful": {}, "thanks": {},
		"thank": {}, "love": {}, "works": {}, "solved": {}, "fixed": {},
		"perfect": {}, "progress": {}, "better": {}, "success": {}, "happy": {},
	}
	negativeWords = map[string]struct{}{
		"bad": {}, "wrong": {}, "broken": {}, "fail": {}, "failed": {},
		"error": {}, "stuck": {}, "confused": {}, "worse": {}, "problem": {},
		"frustrating": {}, "hate": {}, "crash": {}, "bug": {}, "slow": {},
	}
)

// SentimentScore scores text in [-1, 1] from lexicon hits. Neutral text
// scores 0.
func SentimentScore(text string) float64 {
	var pos, neg int
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}
