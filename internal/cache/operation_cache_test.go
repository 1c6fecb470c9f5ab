package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/models"
)

func op(hash string, counter, level int64, kind models.OperationKind, source, dest string) models.Operation {
	return models.Operation{
		Hash: hash, Counter: counter, Level: level,
		Kind: kind, Status: models.OperationStatusApplied,
		Sender: source, Target: dest,
	}
}

func TestOperationCacheMatchesCompletedGroupOnly(t *testing.T) {
	c := NewOperationCache()
	index := &config.IndexEntry{
		Name: "test",
		Handlers: []*config.OperationHandler{
			{Callback: "on_transfer", Pattern: []config.PatternItem{
				{Kind: models.OperationKindTransaction, Destination: "KT1pool"},
			}},
		},
	}
	c.AddIndex(index)

	c.Add(op("hash1", 1, 100, models.OperationKindTransaction, "tz1alice", "KT1pool"))
	c.Add(op("hash2", 1, 100, models.OperationKindTransaction, "tz1bob", "KT1pool"))

	var matches []Match
	c.Process(func(m Match) { matches = append(matches, m) })

	require.Len(t, matches, 1, "only `hash1` is complete; group `hash2` is still receiving arrivals and must not match yet")

	c.EndOfLevel()
	c.Process(func(m Match) { matches = append(matches, m) })

	require.Len(t, matches, 2)
	require.Equal(t, "on_transfer", matches[0].Handler.Callback)
	require.Equal(t, "hash1", matches[0].Operations[0].Hash)
}

func TestOperationCacheFirstHandlerWins(t *testing.T) {
	c := NewOperationCache()
	index := &config.IndexEntry{
		Name: "test",
		Handlers: []*config.OperationHandler{
			{Callback: "specific", Pattern: []config.PatternItem{{Destination: "KT1pool", Entrypoint: "deposit"}}},
			{Callback: "generic", Pattern: []config.PatternItem{{Destination: "KT1pool"}}},
		},
	}
	c.AddIndex(index)

	withParam := op("h", 1, 100, models.OperationKindTransaction, "tz1alice", "KT1pool")
	withParam.Parameter = models.UnknownParameter{EntrypointName: "deposit"}
	c.Add(withParam)
	c.EndOfLevel()

	var matches []Match
	c.Process(func(m Match) { matches = append(matches, m) })

	require.Len(t, matches, 1)
	require.Equal(t, "specific", matches[0].Handler.Callback)
}

func TestMatchPatternMultiOperationGroup(t *testing.T) {
	pattern := []config.PatternItem{
		{Kind: models.OperationKindOrigination},
		{Kind: models.OperationKindTransaction, Entrypoint: "setup"},
	}
	origination := op("h", 5, 10, models.OperationKindOrigination, "tz1alice", "")
	setup := op("h", 5, 10, models.OperationKindTransaction, "tz1alice", "KT1new")
	setup.Parameter = models.UnknownParameter{EntrypointName: "setup"}

	matched, ok := matchPattern(pattern, []models.Operation{origination, setup})
	require.True(t, ok)
	require.Len(t, matched, 2)

	_, ok = matchPattern(pattern, []models.Operation{setup, origination})
	require.False(t, ok, "origination must precede the transaction per pattern order")
}
