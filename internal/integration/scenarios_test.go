// Package integration runs the operation and big-map matchers against
// synthesized fixture batches, grounded on original_source's six demo
// configs (hic_et_nunc, quipuswap, tzcolors, tezos_domains,
// tezos_domains_big_map, tzbtc) and the teacher's table-driven fixture-test
// idiom. SPEC_FULL.md §8.1: these are synthesized operation/big-map batches,
// not live network replay, so expected counts are small and self-consistent
// rather than mainnet-accurate.
package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dipdup-net/indexer/internal/cache"
	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/models"
)

type fixtureOperation struct {
	Hash       string `json:"hash"`
	Counter    int64  `json:"counter"`
	Level      int64  `json:"level"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Sender     string `json:"sender"`
	Target     string `json:"target"`
	TargetType string `json:"target_type"`
	Entrypoint string `json:"entrypoint"`
}

type fixtureBigMapDiff struct {
	BigMapID int64  `json:"big_map_id"`
	Level    int64  `json:"level"`
	Index    int    `json:"index"`
	Path     string `json:"path"`
	Contract string `json:"contract"`
	Action   string `json:"action"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

type fixture struct {
	Operations []fixtureOperation  `json:"operations"`
	BigMaps    []fixtureBigMapDiff `json:"big_maps"`
}

func loadFixture(t *testing.T, name string) fixture {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	var f fixture
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func (f fixtureOperation) toModel() models.Operation {
	op := models.Operation{
		Hash: f.Hash, Counter: f.Counter, Level: f.Level,
		Kind: models.OperationKind(f.Kind), Status: models.OperationStatus(f.Status),
		Sender: f.Sender, Target: f.Target, TargetType: f.TargetType,
	}
	if f.Entrypoint != "" {
		op.Parameter = models.UnknownParameter{EntrypointName: f.Entrypoint}
	}
	return op
}

func (f fixtureBigMapDiff) toModel() models.BigMapDiff {
	return models.BigMapDiff{
		BigMapID: f.BigMapID, Level: f.Level, Index: f.Index,
		Path: f.Path, Contract: f.Contract,
		Action: models.BigMapAction(f.Action),
		Key:    json.RawMessage(f.Key), Value: json.RawMessage(f.Value),
	}
}

// runOperationScenario feeds every operation in the fixture through a single
// OperationCache level then tallies matches per handler callback name.
func runOperationScenario(t *testing.T, fixtureName string, entry *config.IndexEntry) map[string]int {
	t.Helper()
	f := loadFixture(t, fixtureName)

	c := cache.NewOperationCache()
	c.AddIndex(entry)
	for _, fo := range f.Operations {
		c.Add(fo.toModel())
	}
	c.EndOfLevel()

	counts := map[string]int{}
	c.Process(func(m cache.Match) { counts[m.Handler.Callback]++ })
	return counts
}

func runBigMapScenario(t *testing.T, fixtureName string, entry *config.IndexEntry) map[string]int {
	t.Helper()
	f := loadFixture(t, fixtureName)

	c := cache.NewBigMapCache()
	c.AddIndex(entry)
	for _, fb := range f.BigMaps {
		c.Add(fb.toModel())
	}

	counts := map[string]int{}
	c.Process(func(m cache.BigMapMatch) { counts[m.Binding.Callback]++ })
	return counts
}

// TestHicEtNuncScenario matches mint/swap/collect entrypoints on the one
// monitored contract, same shape as original_source's hic_et_nunc demo.
func TestHicEtNuncScenario(t *testing.T) {
	entry := &config.IndexEntry{
		Name:      "hen",
		Contracts: []string{"KT1HEN"},
		Handlers: []*config.OperationHandler{
			{Callback: "on_mint", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Destination: "KT1HEN", Entrypoint: "mint"}}},
			{Callback: "on_swap", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Destination: "KT1HEN", Entrypoint: "swap"}}},
			{Callback: "on_collect", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Destination: "KT1HEN", Entrypoint: "collect"}}},
		},
	}
	counts := runOperationScenario(t, "hic_et_nunc.json", entry)
	require.Equal(t, 3, counts["on_mint"], "3 mints on the monitored contract")
	require.Equal(t, 2, counts["on_swap"])
	require.Equal(t, 1, counts["on_collect"])
	require.Zero(t, counts["on_mint_other"], "the off-contract mint must not be counted under this index")
}

// TestQuipuswapScenario matches two distinct swap entrypoints across pools,
// excluding a failed operation and an out-of-scope pool contract.
func TestQuipuswapScenario(t *testing.T) {
	entry := &config.IndexEntry{
		Name:      "quipu",
		Contracts: []string{"KT1PoolXTZUSD", "KT1PoolXTZBTC"},
		Handlers: []*config.OperationHandler{
			{Callback: "on_token_to_tez", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Entrypoint: "tokenToTezPayment"}}},
			{Callback: "on_tez_to_token", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Entrypoint: "tezToTokenPayment"}}},
		},
	}
	counts := runOperationScenario(t, "quipuswap.json", entry)
	require.Equal(t, 2, counts["on_token_to_tez"], "applied token-to-tez swaps on the two monitored pools")
	require.Equal(t, 1, counts["on_tez_to_token"])
}

// TestTzColorsScenario matches an auction creation and its bids.
func TestTzColorsScenario(t *testing.T) {
	entry := &config.IndexEntry{
		Name:      "tzcolors",
		Contracts: []string{"KT1TzColors"},
		Handlers: []*config.OperationHandler{
			{Callback: "on_create_auction", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Entrypoint: "create_auction"}}},
			{Callback: "on_bid", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Entrypoint: "bid"}}},
		},
	}
	counts := runOperationScenario(t, "tzcolors.json", entry)
	require.Equal(t, 1, counts["on_create_auction"])
	require.Equal(t, 3, counts["on_bid"])
}

// TestTezosDomainsOperationScenario matches the operation-index variant of
// the domains demo.
func TestTezosDomainsOperationScenario(t *testing.T) {
	entry := &config.IndexEntry{
		Name:      "tezos_domains",
		Contracts: []string{"KT1TezosDomains"},
		Handlers: []*config.OperationHandler{
			{Callback: "on_bid_register", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Entrypoint: "bid_register"}}},
		},
	}
	counts := runOperationScenario(t, "tezos_domains.json", entry)
	require.Equal(t, 3, counts["on_bid_register"], "only the monitored contract's registrations count")
}

// TestTezosDomainsBigMapScenario matches the same domain records via the
// big-map index variant, and proves out-of-path/out-of-contract diffs don't
// leak into the registrations handler.
func TestTezosDomainsBigMapScenario(t *testing.T) {
	entry := &config.IndexEntry{
		Name: "tezos_domains_big_map",
		BigMaps: []*config.BigMapBinding{
			{Contract: "KT1TezosDomains", Path: "store.records", Callback: "on_records_update"},
			{Contract: "KT1TezosDomains", Path: "store.expiry", Callback: "on_expiry_update"},
		},
	}
	counts := runBigMapScenario(t, "tezos_domains_bigmap.json", entry)
	require.Equal(t, 3, counts["on_records_update"], "2 add_key + 1 update_key on store.records")
	require.Equal(t, 1, counts["on_expiry_update"])
}

// TestTzBtcScenario replays the "four differently-bounded configs" shape of
// the tzbtc demo: each config declares a different Contracts set, and only
// the contracts-set gating added to OperationCache (not pattern constraints
// alone) tells them apart, since every operation shares the same entrypoint.
func TestTzBtcScenario(t *testing.T) {
	configs := []struct {
		name      string
		contracts []string
		want      int
	}{
		{"all_three", []string{"KT1TzBTC", "KT1TzBTCv2", "KT1TzBTCv3"}, 5},
		{"v1_only", []string{"KT1TzBTC"}, 2},
		{"v2_only", []string{"KT1TzBTCv2"}, 2},
		{"v3_only", []string{"KT1TzBTCv3"}, 1},
	}
	for _, tc := range configs {
		t.Run(tc.name, func(t *testing.T) {
			entry := &config.IndexEntry{
				Name:      "tzbtc_" + tc.name,
				Contracts: tc.contracts,
				Handlers: []*config.OperationHandler{
					{Callback: "on_transfer", Pattern: []config.PatternItem{{Kind: models.OperationKindTransaction, Entrypoint: "transfer"}}},
				},
			}
			counts := runOperationScenario(t, "tzbtc.json", entry)
			require.Equal(t, tc.want, counts["on_transfer"])
		})
	}
}
