package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/holiman/uint256"

	"github.com/eth2030/metricproof/commitment"
	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/metric"
	"github.com/eth2030/metricproof/witness"
)

const sampleYAML = `
rpc: http://node:8545
mode: groth16
keyDir: /var/lib/metricproof/keys
workers: 8
receiptTimeout: 30s
destination: "0x00000000000000000000000000000000000000fe"
verifier:
  window: 128
  historyBlocks: 8063
requests:
  - name: usdx-inflation
    kind: inflation
    block: finalized
    past: "19000000"
    params:
      token: "0x00000000000000000000000000000000000000a1"
      totalSupplySlot: "2"
      balancesSlot: "0"
      excluded: ["0x000000000000000000000000000000000000dEaD"]
  - name: market-apr
    kind: compound-apr
    block: "0x1234"
    past: "0x1000"
    mode: dev
    params:
      market: "0x00000000000000000000000000000000000000b2"
      indexSlot: "0x52c63247e1f47db19d5ce0460030c497f067ca4cebf71ba98eeadabe20bace00"
      blocksPerYear: 2628000
      scale: 1000000000000000000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metricproof.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "http://node:8545", cfg.RPC)
	require.Equal(t, types.ModeGroth16, cfg.ProofMode())
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, 30*time.Second, cfg.ReceiptTimeout)
	require.EqualValues(t, 128, cfg.Verifier.Window)
	require.EqualValues(t, 8191, cfg.Verifier.MaxAge())
	// Defaults survive for fields the file leaves out.
	require.Equal(t, "metricproof-data", cfg.DataDir)
	require.Equal(t, witness.DefaultCacheSize, cfg.CacheSize)

	reqs, err := cfg.BuildRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	infl := reqs[0]
	require.Equal(t, types.Inflation, infl.Kind)
	require.Equal(t, types.ModeGroth16, infl.Mode)
	require.Equal(t, witness.TagID(witness.TagFinalized), infl.Block)
	require.Equal(t, witness.NumberID(19_000_000), *infl.Past)
	require.Equal(t, common.HexToAddress("0xfe"), infl.Destination)
	sp := infl.Params.(*metric.SupplyParams)
	require.Equal(t, metric.Slot(2), sp.TotalSupplySlot)
	require.Equal(t, []common.Address{common.HexToAddress("0xdead")}, sp.Excluded)

	apr := reqs[1]
	require.Equal(t, types.ModeDev, apr.Mode)
	require.Equal(t, witness.NumberID(0x1234), apr.Block)
	ip := apr.Params.(*metric.IndexParams)
	require.Equal(t, common.HexToHash("0x52c63247e1f47db19d5ce0460030c497f067ca4cebf71ba98eeadabe20bace00"), ip.IndexSlot)
	require.EqualValues(t, 2_628_000, ip.BlocksPerYear)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrConfigFileNotFound)

	_, err = Load(writeConfig(t, "workers: [1, 2"))
	require.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	supply := ParamsConfig{Token: "0x00000000000000000000000000000000000000a1", TotalSupplySlot: "0", BalancesSlot: "1"}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "snark" }},
		{"remote without prover", func(c *Config) { c.Mode = "remote" }},
		{"datadir", func(c *Config) { c.DataDir = "" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"verbosity", func(c *Config) { c.Verbosity = 9 }},
		{"destination", func(c *Config) { c.Destination = "verifier" }},
		{"window", func(c *Config) { c.Verifier.Window = 0 }},
		{"unnamed request", func(c *Config) {
			c.Requests = []RequestConfig{{Kind: "circulating-supply", Block: "1", Params: supply}}
		}},
		{"duplicate request", func(c *Config) {
			r := RequestConfig{Name: "a", Kind: "circulating-supply", Block: "1", Params: supply}
			c.Requests = []RequestConfig{r, r}
		}},
		{"unknown kind", func(c *Config) {
			c.Requests = []RequestConfig{{Name: "a", Kind: "tvl", Block: "1", Params: supply}}
		}},
		{"missing past", func(c *Config) {
			c.Requests = []RequestConfig{{Name: "a", Kind: "inflation", Block: "2", Params: supply}}
		}},
		{"extra past", func(c *Config) {
			c.Requests = []RequestConfig{{Name: "a", Kind: "circulating-supply", Block: "2", Past: "1", Params: supply}}
		}},
		{"bad slot", func(c *Config) {
			p := supply
			p.BalancesSlot = "0x01"
			c.Requests = []RequestConfig{{Name: "a", Kind: "circulating-supply", Block: "2", Params: p}}
		}},
		{"slot with bad hex", func(c *Config) {
			p := supply
			p.BalancesSlot = "0x" + strings.Repeat("zz", 32)
			c.Requests = []RequestConfig{{Name: "a", Kind: "circulating-supply", Block: "2", Params: p}}
		}},
		{"slot with odd hex", func(c *Config) {
			p := supply
			p.BalancesSlot = "0x" + strings.Repeat("0", 63)
			c.Requests = []RequestConfig{{Name: "a", Kind: "circulating-supply", Block: "2", Params: p}}
		}},
		{"colliding slots", func(c *Config) {
			p := supply
			p.Excluded = []string{"0x00000000000000000000000000000000000000a1", "0x00000000000000000000000000000000000000a1"}
			c.Requests = []RequestConfig{{Name: "a", Kind: "circulating-supply", Block: "2", Params: p}}
		}},
		{"zero scale", func(c *Config) {
			c.Requests = []RequestConfig{{Name: "a", Kind: "utilization", Block: "2", Params: ParamsConfig{
				Market: "0x00000000000000000000000000000000000000b2", TotalSupplySlot: "0", TotalBorrowSlot: "1",
			}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestParseSlot(t *testing.T) {
	full := "0x52c63247e1f47db19d5ce0460030c497f067ca4cebf71ba98eeadabe20bace00"
	got, err := parseSlot("slot", full)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash(full), got)

	got, err = parseSlot("slot", "7")
	require.NoError(t, err)
	require.Equal(t, metric.Slot(7), got)

	for _, bad := range []string{
		"",
		"0x07",
		"0x" + strings.Repeat("g", 64),
		full + "00",
		"-1",
		"seven",
	} {
		_, err := parseSlot("slot", bad)
		require.Error(t, err, "slot %q", bad)
	}
}

// A request that names no block commits to the finalized block and builds
// under the default configuration.
func TestDefaultBlockBuilds(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	s := witness.NewMemoryState()
	for i := uint64(0); i < 4; i++ {
		s.SetUint(token, metric.Slot(0), uint256.NewInt(1000+i))
		_, err := s.Commit(1000 + 12*i)
		require.NoError(t, err)
	}
	s.SetFinalized(1)

	cfg := DefaultConfig()
	cfg.Requests = []RequestConfig{{
		Name:   "supply",
		Kind:   "circulating-supply",
		Params: ParamsConfig{Token: token.Hex(), TotalSupplySlot: "0", BalancesSlot: "1"},
	}}
	require.NoError(t, cfg.Validate())
	reqs, err := cfg.BuildRequests()
	require.NoError(t, err)
	require.Equal(t, witness.TagID(witness.TagFinalized), reqs[0].Block)

	keys, err := metric.DeclaredReads(reqs[0].Kind, reqs[0].Params)
	require.NoError(t, err)
	b := commitment.NewBuilder(s, commitment.Config{AllowPending: cfg.AllowPending})
	c, err := b.Build(context.Background(), reqs[0].Block, keys)
	require.NoError(t, err)
	require.EqualValues(t, 1, c.Root.Height)

	// parent is head-1, above finalized here, so it needs allowPending.
	_, err = b.Build(context.Background(), witness.TagID(witness.TagParent), keys)
	require.ErrorIs(t, err, types.ErrUnresolvedBlock)
}

func TestResolvePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	require.Equal(t, "/data/verifier", cfg.ResolvePath("verifier"))
	require.Equal(t, "/etc/keys", cfg.ResolvePath("/etc/keys"))
}
