package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dipdup-net/indexer/internal/models"
)

func TestConfigHashStableUnderDeclarationReordering(t *testing.T) {
	a := &IndexEntry{
		Kind:       models.IndexKindOperation,
		Datasource: "tzkt_mainnet",
		Contracts:  []string{"KT1a", "KT1b"},
		Handlers: []*OperationHandler{
			{Callback: "on_mint", Pattern: []PatternItem{{Kind: "transaction", Entrypoint: "mint"}}},
			{Callback: "on_transfer", Pattern: []PatternItem{{Kind: "transaction", Entrypoint: "transfer"}}},
		},
	}
	b := &IndexEntry{
		Kind:       models.IndexKindOperation,
		Datasource: "tzkt_mainnet",
		Contracts:  []string{"KT1b", "KT1a"},
		Handlers: []*OperationHandler{
			{Callback: "on_transfer", Pattern: []PatternItem{{Kind: "transaction", Entrypoint: "transfer"}}},
			{Callback: "on_mint", Pattern: []PatternItem{{Kind: "transaction", Entrypoint: "mint"}}},
		},
	}
	require.Equal(t, a.ConfigHash(), b.ConfigHash())
}

func TestConfigHashChangesWithPattern(t *testing.T) {
	a := &IndexEntry{
		Kind:       models.IndexKindOperation,
		Datasource: "tzkt_mainnet",
		Handlers: []*OperationHandler{
			{Callback: "on_transfer", Pattern: []PatternItem{{Kind: "transaction", Entrypoint: "transfer"}}},
		},
	}
	b := &IndexEntry{
		Kind:       models.IndexKindOperation,
		Datasource: "tzkt_mainnet",
		Handlers: []*OperationHandler{
			{Callback: "on_transfer", Pattern: []PatternItem{{Kind: "transaction", Entrypoint: "mint"}}},
		},
	}
	require.NotEqual(t, a.ConfigHash(), b.ConfigHash())
}

func TestConfigHashIndependentAcrossIndexes(t *testing.T) {
	hen := &IndexEntry{Kind: models.IndexKindOperation, Datasource: "tzkt_mainnet", Contracts: []string{"KT1hen"}}
	quipu := &IndexEntry{Kind: models.IndexKindOperation, Datasource: "tzkt_mainnet", Contracts: []string{"KT1quipu"}}
	require.NotEqual(t, hen.ConfigHash(), quipu.ConfigHash())
}
