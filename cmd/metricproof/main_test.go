package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"

	"github.com/eth2030/metricproof/commitment"
	"github.com/eth2030/metricproof/config"
	"github.com/eth2030/metricproof/core/rawdb"
	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/light"
	"github.com/eth2030/metricproof/metric"
	"github.com/eth2030/metricproof/pipeline"
	"github.com/eth2030/metricproof/verifier"
	"github.com/eth2030/metricproof/witness"
	"github.com/eth2030/metricproof/zkvm"
)

var token = common.HexToAddress("0x0000000000000000000000000000000000001001")

func supplyParams() config.ParamsConfig {
	return config.ParamsConfig{Token: token.Hex(), TotalSupplySlot: "2", BalancesSlot: "0"}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown flag", []string{"prove", "--no-such-flag"}, 2},
		{"invalid mode", []string{"prove", "--mode", "snark"}, 2},
		{"no requests", []string{"prove"}, 2},
		{"no artifacts", []string{"verify"}, 2},
		{"missing config", []string{"prove", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(tt.args); got != tt.want {
				t.Fatalf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}

func TestRunVersion(t *testing.T) {
	if got := run([]string{"--version"}); got != 0 {
		t.Fatalf("expected exit 0, got %d", got)
	}
}

func TestRunEnablesMetrics(t *testing.T) {
	run([]string{"prove"})
	if !gethmetrics.Enabled() {
		t.Fatal("metrics collection not enabled by the command")
	}
}

func TestSelectRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Requests = []config.RequestConfig{
		{Name: "a", Kind: "circulating-supply", Block: "latest", Params: supplyParams()},
		{Name: "b", Kind: "inflation", Block: "finalized", Past: "100", Params: supplyParams()},
	}
	all, err := selectRequests(&cfg, nil)
	if err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(all))
	}
	some, err := selectRequests(&cfg, []string{"b"})
	if err != nil {
		t.Fatalf("select b: %v", err)
	}
	if len(some) != 1 || some[0].Name != "b" || some[0].Kind != types.Inflation {
		t.Fatalf("unexpected selection: %+v", some)
	}
	if _, err := selectRequests(&cfg, []string{"c"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for unknown request, got %v", err)
	}
}

// chain commits blocks 0..5 with a growing token supply.
func chain(t *testing.T) (*witness.MemoryState, *light.BlockHashOracle) {
	t.Helper()
	s := witness.NewMemoryState()
	o := light.NewBlockHashOracle()
	for i := uint64(0); i < 6; i++ {
		s.SetUint(token, metric.Slot(2), uint256.NewInt(1_000_000+1_000*i))
		h, err := s.Commit(1000 + 12*i)
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		if err := o.Record(h); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	s.SetFinalized(5)
	return s, o
}

func TestProveThenVerifyFiles(t *testing.T) {
	s, o := chain(t)
	p := pipeline.New(commitment.NewBuilder(s, commitment.Config{}), zkvm.NewExecutor(zkvm.NewDevBackend()), nil, 2)

	params := &metric.SupplyParams{Token: token, TotalSupplySlot: metric.Slot(2), BalancesSlot: metric.Slot(0)}
	past := witness.NumberID(1)
	reqs := []*pipeline.Request{
		{Name: "supply", Kind: types.CirculatingSupply, Block: witness.NumberID(5), Params: params},
		{Name: "inflation", Kind: types.Inflation, Block: witness.NumberID(4), Past: &past, Params: params},
	}
	out := t.TempDir()
	if err := proveAll(context.Background(), p, reqs, out); err != nil {
		t.Fatalf("prove: %v", err)
	}

	f, err := readArtifact(filepath.Join(out, "supply.json"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if f.Kind != types.CirculatingSupply.String() || f.Mode != types.ModeDev.String() {
		t.Fatalf("unexpected artifact header: %s/%s", f.Kind, f.Mode)
	}
	if got := f.Values[metric.ValueCirculatingSupply]; got != "1005000" {
		t.Fatalf("expected supply 1005000, got %s", got)
	}

	store, err := rawdb.NewMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	v, err := verifier.New(verifier.Config{Window: 64, AllowDevProofs: true}, o, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	paths := []string{filepath.Join(out, "supply.json"), filepath.Join(out, "inflation.json")}
	head := s.Head()
	tx := verifier.TxContext{Height: head.Number.Uint64() + 1, Time: head.Time + 12}

	// Nothing is accepted before the configured parameters are bound.
	if err := verifyFiles(v, tx, paths); !errors.Is(err, errRequestsFailed) {
		t.Fatalf("expected unbound parameters to fail, got %v", err)
	}
	if err := bindParams(v, reqs); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := verifyFiles(v, tx, paths); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok, err := v.IsVerified(mustRecord(t, f)); err != nil || !ok {
		t.Fatalf("expected supply record verified, got %v, %v", ok, err)
	}

	// A second submission of the same artifacts is a replay.
	if err := verifyFiles(v, tx, paths); !errors.Is(err, errRequestsFailed) {
		t.Fatalf("expected replay failure, got %v", err)
	}
}

func TestProveAllReportsFailures(t *testing.T) {
	s, _ := chain(t)
	p := pipeline.New(commitment.NewBuilder(s, commitment.Config{}), zkvm.NewExecutor(zkvm.NewDevBackend()), nil, 1)
	params := &metric.SupplyParams{Token: token, TotalSupplySlot: metric.Slot(2), BalancesSlot: metric.Slot(0)}
	past := witness.NumberID(4)
	reqs := []*pipeline.Request{
		{Name: "ok", Kind: types.CirculatingSupply, Block: witness.NumberID(3), Params: params},
		{Name: "backwards", Kind: types.Inflation, Block: witness.NumberID(2), Past: &past, Params: params},
	}
	out := t.TempDir()
	if err := proveAll(context.Background(), p, reqs, out); !errors.Is(err, errRequestsFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "ok.json")); err != nil {
		t.Fatalf("expected artifact for the proven request: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "backwards.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no artifact for the failed request, got %v", err)
	}
}

func mustRecord(t *testing.T, f *artifactFile) *types.MetricRecord {
	t.Helper()
	a, err := f.artifact()
	if err != nil {
		t.Fatal(err)
	}
	rec, err := a.Record()
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestSetupWritesKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup in -short mode")
	}
	dir := t.TempDir()
	if got := run([]string{"setup", "--keydir", dir, "--verbosity", "0"}); got != 0 {
		t.Fatalf("setup exited %d", got)
	}
	if _, err := loadKeys(dir); err != nil {
		t.Fatalf("load keys: %v", err)
	}
	if _, err := loadVerifyingKey(dir); err != nil {
		t.Fatalf("load verifying key: %v", err)
	}
}
