package insight

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chatlens/chatlens/pkg/metrics"
)

// Cache memoizes insight results keyed by query kind. An entry is valid only
// for the exact corpus version it was computed against; any write since then
// makes it a miss. Bounded LRU — purely an optimization, never a correctness
// dependency.
type Cache struct {
	entries *lru.Cache[QueryKind, InsightResult]
}

func NewCache(maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	entries, err := lru.New[QueryKind, InsightResult](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

func (c *Cache) Get(kind QueryKind, corpusVersion int64) (InsightResult, bool) {
	res, ok := c.entries.Get(kind)
	if !ok || res.CorpusVersion != corpusVersion {
		metrics.InsightCacheMisses.Inc()
		return InsightResult{}, false
	}
	metrics.InsightCacheHits.Inc()
	return res, true
}

func (c *Cache) Put(result InsightResult) {
	c.entries.Add(result.Kind, result)
}
