// Package config holds the metricproof configuration: where state comes
// from, how metrics are proven, how the verifier is set up and which
// requests to run. It is loaded from YAML and overridden by CLI flags.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/metric"
	"github.com/eth2030/metricproof/pipeline"
	"github.com/eth2030/metricproof/verifier"
	"github.com/eth2030/metricproof/witness"
)

// Configuration errors.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config is the complete configuration.
type Config struct {
	// RPC is the JSON-RPC endpoint of the node serving state.
	RPC string `yaml:"rpc"`

	// Mode is the default proof mode: dev, groth16 or remote.
	Mode string `yaml:"mode"`

	// Prover is the JSON-RPC endpoint of a remote proving service.
	Prover string `yaml:"prover"`

	// KeyDir holds the Groth16 proving and verifying keys.
	KeyDir string `yaml:"keyDir"`

	// DataDir is the root directory for the verifier database.
	DataDir string `yaml:"datadir"`

	// Workers bounds the number of requests processed concurrently.
	Workers int `yaml:"workers"`

	// CacheSize is the number of account proofs kept in memory.
	CacheSize int `yaml:"cacheSize"`

	// AllowPending permits commitments to blocks above the finalized height.
	AllowPending bool `yaml:"allowPending"`

	// Verbosity is the log level 0-5 (0=silent, 5=trace).
	Verbosity int `yaml:"verbosity"`

	// KeyFile holds the hex-encoded key transactions are signed with.
	KeyFile string `yaml:"keyFile"`

	// Destination is the default verifier contract address.
	Destination string `yaml:"destination"`

	// ReceiptTimeout bounds the wait for a submission receipt.
	ReceiptTimeout time.Duration `yaml:"receiptTimeout"`

	Verifier verifier.Config `yaml:"verifier"`

	Requests []RequestConfig `yaml:"requests"`
}

// DefaultBlock is the block a request commits to when it names none. It is
// the newest block the builder accepts without allowPending.
const DefaultBlock = witness.TagFinalized

// RequestConfig describes one metric request.
type RequestConfig struct {
	Name        string       `yaml:"name"`
	Kind        string       `yaml:"kind"`
	Block       string       `yaml:"block"`
	Past        string       `yaml:"past"`
	Mode        string       `yaml:"mode"`
	Destination string       `yaml:"destination"`
	Params      ParamsConfig `yaml:"params"`
}

// ParamsConfig is the union of every metric's parameters. Slots are
// decimal slot numbers or 0x-prefixed 32-byte slot hashes.
type ParamsConfig struct {
	Token           string   `yaml:"token"`
	Market          string   `yaml:"market"`
	TotalSupplySlot string   `yaml:"totalSupplySlot"`
	BalancesSlot    string   `yaml:"balancesSlot"`
	Excluded        []string `yaml:"excluded"`
	IndexSlot       string   `yaml:"indexSlot"`
	TotalBorrowSlot string   `yaml:"totalBorrowSlot"`
	BlocksPerYear   uint64   `yaml:"blocksPerYear"`
	Scale           uint64   `yaml:"scale"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RPC:            "http://127.0.0.1:8545",
		Mode:           types.ModeDev.String(),
		KeyDir:         "keys",
		DataDir:        "metricproof-data",
		Workers:        pipeline.DefaultWorkers,
		CacheSize:      witness.DefaultCacheSize,
		Verbosity:      3,
		ReceiptTimeout: 2 * time.Minute,
		Verifier:       verifier.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	mode, err := types.ParseProofMode(c.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if mode == types.ModeRemote && c.Prover == "" {
		return fmt.Errorf("%w: remote mode needs a prover endpoint", ErrInvalidConfig)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: datadir must not be empty", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: invalid workers: %d", ErrInvalidConfig, c.Workers)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: invalid cache size: %d", ErrInvalidConfig, c.CacheSize)
	}
	if c.Verbosity < 0 || c.Verbosity > 5 {
		return fmt.Errorf("%w: verbosity must be 0-5, have %d", ErrInvalidConfig, c.Verbosity)
	}
	if c.Destination != "" && !common.IsHexAddress(c.Destination) {
		return fmt.Errorf("%w: destination %q", ErrInvalidConfig, c.Destination)
	}
	if err := c.Verifier.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	seen := make(map[string]bool, len(c.Requests))
	for i, r := range c.Requests {
		if r.Name == "" {
			return fmt.Errorf("%w: request %d has no name", ErrInvalidConfig, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate request %q", ErrInvalidConfig, r.Name)
		}
		seen[r.Name] = true
		if _, err := c.BuildRequest(r); err != nil {
			return err
		}
	}
	return nil
}

// ProofMode returns the default proof mode.
func (c *Config) ProofMode() types.ProofMode {
	mode, _ := types.ParseProofMode(c.Mode)
	return mode
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// BuildRequests converts every configured request.
func (c *Config) BuildRequests() ([]*pipeline.Request, error) {
	reqs := make([]*pipeline.Request, 0, len(c.Requests))
	for _, r := range c.Requests {
		req, err := c.BuildRequest(r)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// BuildRequest converts one request, filling mode and destination from the
// top-level defaults.
func (c *Config) BuildRequest(r RequestConfig) (*pipeline.Request, error) {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: request %q: %s", ErrInvalidConfig, r.Name, fmt.Sprintf(format, args...))
	}
	kind, err := types.ParseMetricKind(r.Kind)
	if err != nil {
		return nil, fail("%v", err)
	}
	req := &pipeline.Request{Name: r.Name, Kind: kind, Mode: c.ProofMode()}
	if r.Mode != "" {
		if req.Mode, err = types.ParseProofMode(r.Mode); err != nil {
			return nil, fail("%v", err)
		}
	}
	block := r.Block
	if block == "" {
		block = DefaultBlock
	}
	if req.Block, err = witness.ParseBlockID(block); err != nil {
		return nil, fail("block: %v", err)
	}
	if r.Past != "" {
		past, err := witness.ParseBlockID(r.Past)
		if err != nil {
			return nil, fail("past: %v", err)
		}
		req.Past = &past
	}
	if kind.TwoPoint() && req.Past == nil {
		return nil, fail("%v needs a past block", kind)
	}
	if !kind.TwoPoint() && req.Past != nil {
		return nil, fail("%v takes a single block", kind)
	}
	dest := r.Destination
	if dest == "" {
		dest = c.Destination
	}
	if dest != "" {
		if !common.IsHexAddress(dest) {
			return nil, fail("destination %q", dest)
		}
		req.Destination = common.HexToAddress(dest)
	}
	if req.Params, err = r.Params.build(kind); err != nil {
		return nil, fail("%v", err)
	}
	if err := req.Params.Validate(); err != nil {
		return nil, fail("%v", err)
	}
	return req, nil
}

func (p ParamsConfig) build(kind types.MetricKind) (metric.Params, error) {
	switch kind {
	case types.CirculatingSupply, types.Inflation:
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		total, err := parseSlot("totalSupplySlot", p.TotalSupplySlot)
		if err != nil {
			return nil, err
		}
		balances, err := parseSlot("balancesSlot", p.BalancesSlot)
		if err != nil {
			return nil, err
		}
		sp := &metric.SupplyParams{Token: token, TotalSupplySlot: total, BalancesSlot: balances}
		for _, a := range p.Excluded {
			addr, err := parseAddress("excluded", a)
			if err != nil {
				return nil, err
			}
			sp.Excluded = append(sp.Excluded, addr)
		}
		return sp, nil
	case types.CompoundAPR:
		market, err := parseAddress("market", p.Market)
		if err != nil {
			return nil, err
		}
		idx, err := parseSlot("indexSlot", p.IndexSlot)
		if err != nil {
			return nil, err
		}
		return &metric.IndexParams{Market: market, IndexSlot: idx, BlocksPerYear: p.BlocksPerYear, Scale: p.Scale}, nil
	case types.Utilization:
		market, err := parseAddress("market", p.Market)
		if err != nil {
			return nil, err
		}
		supply, err := parseSlot("totalSupplySlot", p.TotalSupplySlot)
		if err != nil {
			return nil, err
		}
		borrow, err := parseSlot("totalBorrowSlot", p.TotalBorrowSlot)
		if err != nil {
			return nil, err
		}
		return &metric.UtilizationParams{Market: market, TotalSupplySlot: supply, TotalBorrowSlot: borrow, Scale: p.Scale}, nil
	}
	return nil, fmt.Errorf("%w: %v", metric.ErrUnsupportedKind, kind)
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseSlot accepts a decimal slot number or a 0x-prefixed 32-byte hash.
func parseSlot(field, s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, fmt.Errorf("%s: missing", field)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hexutil.Decode(s)
		if err != nil {
			return common.Hash{}, fmt.Errorf("%s: invalid slot %q: %v", field, s, err)
		}
		if len(b) != common.HashLength {
			return common.Hash{}, fmt.Errorf("%s: slot hash must be 32 bytes, got %d", field, len(b))
		}
		return common.BytesToHash(b), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return common.Hash{}, fmt.Errorf("%s: invalid slot %q", field, s)
	}
	return common.BigToHash(n), nil
}
