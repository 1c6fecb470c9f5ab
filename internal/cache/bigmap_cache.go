package cache

import (
	"sort"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/models"
)

// BigMapMatch pairs a matched diff with the BigMapIndex/binding that claimed it.
type BigMapMatch struct {
	Index   *config.IndexEntry
	Binding *config.BigMapBinding
	Diff    models.BigMapDiff
}

// BigMapCache buckets big-map diffs by block level and dispatches each one to
// every registered BigMapIndex binding whose (contract, path) matches
// (SPEC_FULL.md §4.7). Unlike OperationCache, no group-completeness logic is
// needed — each diff is already a complete unit — but diffs are still only
// dispatched level-by-level so the two index kinds commit in the same rhythm.
type BigMapCache struct {
	indexes []*config.IndexEntry
	byLevel map[int64][]models.BigMapDiff
	levels  []int64
}

func NewBigMapCache() *BigMapCache {
	return &BigMapCache{byLevel: map[int64][]models.BigMapDiff{}}
}

func (c *BigMapCache) AddIndex(index *config.IndexEntry) {
	c.indexes = append(c.indexes, index)
}

func (c *BigMapCache) Add(diff models.BigMapDiff) {
	if _, ok := c.byLevel[diff.Level]; !ok {
		c.levels = append(c.levels, diff.Level)
	}
	c.byLevel[diff.Level] = append(c.byLevel[diff.Level], diff)
}

// Process dispatches every buffered diff, then clears the cache. Levels are
// processed in ascending order, and diffs within a level keep their arrival
// order.
func (c *BigMapCache) Process(emit func(BigMapMatch)) {
	levels := append([]int64(nil), c.levels...)
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	for _, level := range levels {
		for _, diff := range c.byLevel[level] {
			for _, index := range c.indexes {
				for _, binding := range index.BigMaps {
					if binding.Contract == diff.Contract && binding.Path == diff.Path {
						emit(BigMapMatch{Index: index, Binding: binding, Diff: diff})
					}
				}
			}
		}
		delete(c.byLevel, level)
	}
	c.levels = nil
}
