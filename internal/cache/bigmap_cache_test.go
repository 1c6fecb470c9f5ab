package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/models"
)

func TestBigMapCacheDispatchesByAscendingLevel(t *testing.T) {
	c := NewBigMapCache()
	index := &config.IndexEntry{
		Name: "test",
		BigMaps: []*config.BigMapBinding{
			{Contract: "KT1token", Path: "ledger", Callback: "on_ledger_update"},
		},
	}
	c.AddIndex(index)

	c.Add(models.BigMapDiff{Contract: "KT1token", Path: "ledger", Level: 200})
	c.Add(models.BigMapDiff{Contract: "KT1token", Path: "ledger", Level: 100})
	c.Add(models.BigMapDiff{Contract: "KT1other", Path: "ledger", Level: 100})

	var levels []int64
	c.Process(func(m BigMapMatch) { levels = append(levels, m.Diff.Level) })

	require.Equal(t, []int64{100, 200}, levels)

	var drained []BigMapMatch
	c.Process(func(m BigMapMatch) { drained = append(drained, m) })
	require.Empty(t, drained, "Process must clear the cache")
}
