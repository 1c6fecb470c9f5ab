// Package cache implements the Operation Cache / Matcher of spec.md §4.2:
// reassembles operation groups and matches them against every registered
// OperationIndex, grounded on original_source's
// test_dipdup/test_datasources/test_tzkt/test_cache.py (bucket-by-(hash,counter),
// process(emit) callback shape) and the teacher's keyed-logging idiom.
package cache

import (
	"sort"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/models"
)

// Match is one successful handler match: the owning index config, the matched
// handler config, and the operations bound to its pattern, in pattern order.
type Match struct {
	Index      *config.IndexEntry
	Handler    *config.OperationHandler
	Operations []models.Operation
}

// registeredIndex pairs an OperationIndex with the precomputed set of
// contracts it monitors, so Process doesn't rebuild that set on every call.
type registeredIndex struct {
	entry     *config.IndexEntry
	contracts map[string]bool // nil: unrestricted, every group is in scope
}

// OperationCache buffers operations until a group completes, then matches
// completed groups against every registered OperationIndex.
type OperationCache struct {
	indexes []registeredIndex

	order   []models.GroupKey
	groups  map[models.GroupKey][]models.Operation
	current models.GroupKey // the group currently receiving arrivals
	hasCur  bool
}

func NewOperationCache() *OperationCache {
	return &OperationCache{
		groups: map[models.GroupKey][]models.Operation{},
	}
}

// AddIndex registers an OperationIndex config so its handlers participate in
// matching. An index's declared Contracts (spec.md §3 "a set of monitored
// contracts") scope which groups it is even offered: a group touching none of
// them never reaches this index's handler patterns.
func (c *OperationCache) AddIndex(index *config.IndexEntry) {
	ri := registeredIndex{entry: index}
	if len(index.Contracts) > 0 {
		ri.contracts = make(map[string]bool, len(index.Contracts))
		for _, addr := range index.Contracts {
			ri.contracts[addr] = true
		}
	}
	c.indexes = append(c.indexes, ri)
}

// inScope reports whether any operation in the group involves one of the
// index's monitored contracts, as sender or target. An index declaring no
// Contracts is unrestricted (e.g. the rare handler matching purely on
// entrypoint/kind across every contract a datasource delivers).
func inScope(contracts map[string]bool, ops []models.Operation) bool {
	if contracts == nil {
		return true
	}
	for _, op := range ops {
		if contracts[op.Target] || contracts[op.Sender] {
			return true
		}
	}
	return false
}

// Add appends op to its (hash, counter) bucket, preserving arrival order. A
// bucket is considered complete once a different bucket begins receiving
// operations (spec.md §4.2).
func (c *OperationCache) Add(op models.Operation) {
	key := models.GroupKey{Hash: op.Hash, Counter: op.Counter}
	if _, ok := c.groups[key]; !ok {
		c.order = append(c.order, key)
	}
	c.groups[key] = append(c.groups[key], op)
	c.current = key
	c.hasCur = true
}

// EndOfLevel marks the current bucket complete even without a following
// bucket starting — the explicit end-of-level marker of spec.md §4.2, used when
// a batch boundary is reached (e.g. end of a fetched page or a flushed
// realtime buffer).
func (c *OperationCache) EndOfLevel() {
	c.hasCur = false
}

// completedKeys returns every bucket key considered complete: all of them
// except the bucket currently receiving arrivals (if any).
func (c *OperationCache) completedKeys() []models.GroupKey {
	var out []models.GroupKey
	for _, key := range c.order {
		if c.hasCur && key == c.current {
			continue
		}
		out = append(out, key)
	}
	return out
}

// Process iterates completed buckets in (level, counter) order, tries every
// registered OperationIndex's handlers in declaration order against each, and
// invokes emit for the first full pattern match per (bucket, index) pair.
// Processed buckets are dropped afterward. Pattern matching is a pure function
// of the bucket's operation list, so running Process twice on the same
// pre-EndOfLevel cache state yields identical emissions (spec.md §8).
func (c *OperationCache) Process(emit func(Match)) {
	keys := c.completedKeys()
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].Hash != keys[j].Hash {
			// order by the first operation's level in each bucket, then counter
			li := c.groups[keys[i]][0].Level
			lj := c.groups[keys[j]][0].Level
			if li != lj {
				return li < lj
			}
		}
		return keys[i].Counter < keys[j].Counter
	})

	for _, key := range keys {
		ops := c.groups[key]
		if len(ops) == 0 {
			continue
		}
		for _, ri := range c.indexes {
			if !inScope(ri.contracts, ops) {
				continue
			}
			for _, handler := range ri.entry.Handlers {
				matched, ok := matchPattern(handler.Pattern, ops)
				if ok {
					emit(Match{Index: ri.entry, Handler: handler, Operations: matched})
					break // first complete match wins; stop trying further handlers
				}
			}
		}
		delete(c.groups, key)
	}
	c.order = c.completedOrderTail(keys)
}

// completedOrderTail keeps only the keys not drained by Process (the bucket
// still receiving arrivals, if any).
func (c *OperationCache) completedOrderTail(drained []models.GroupKey) []models.GroupKey {
	drainedSet := make(map[models.GroupKey]bool, len(drained))
	for _, k := range drained {
		drainedSet[k] = true
	}
	var tail []models.GroupKey
	for _, k := range c.order {
		if !drainedSet[k] {
			tail = append(tail, k)
		}
	}
	return tail
}

// matchPattern walks pattern items left-to-right over ops with a moving
// cursor: each item advances to the first unmatched applied operation at or
// after the cursor satisfying all constraints. Ties (multiple operations that
// could satisfy the same slot) resolve to the earlier one in group order,
// which falls out naturally from the left-to-right scan. Partial matches
// leave no observable state — callers only see the bool result.
func matchPattern(pattern []config.PatternItem, ops []models.Operation) ([]models.Operation, bool) {
	if len(pattern) > len(ops) {
		return nil, false
	}
	matched := make([]models.Operation, 0, len(pattern))
	cursor := 0
	for _, item := range pattern {
		idx := firstMatchFrom(item, ops, cursor)
		if idx < 0 {
			return nil, false
		}
		matched = append(matched, ops[idx])
		cursor = idx + 1
	}
	return matched, true
}

func firstMatchFrom(item config.PatternItem, ops []models.Operation, from int) int {
	for i := from; i < len(ops); i++ {
		if patternItemMatches(item, ops[i]) {
			return i
		}
	}
	return -1
}

func patternItemMatches(item config.PatternItem, op models.Operation) bool {
	if op.Status != models.OperationStatusApplied {
		return false
	}
	if item.Kind != "" && item.Kind != op.Kind {
		return false
	}
	if item.Source != "" && item.Source != op.Sender {
		return false
	}
	if item.Destination != "" && item.Destination != op.Target {
		return false
	}
	if item.Entrypoint != "" {
		if op.Parameter == nil || op.Parameter.Entrypoint() != item.Entrypoint {
			return false
		}
	}
	if item.OriginatedType != "" && item.OriginatedType != op.TargetType {
		return false
	}
	return true
}
