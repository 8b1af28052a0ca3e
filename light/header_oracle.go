package light

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/eth2030/metricproof/log"
)

// DefaultOracleTimeout bounds a single RootAt lookup.
const DefaultOracleTimeout = 10 * time.Second

// HeaderSource is the subset of ethclient.Client the header oracle needs.
type HeaderSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

var _ HeaderSource = (*ethclient.Client)(nil)

// HeaderOracle answers RootAt from a node's canonical chain, limited to the
// last History blocks below the node's head.
type HeaderOracle struct {
	src     HeaderSource
	history uint64
	timeout time.Duration
	log     *log.Logger
}

// NewHeaderOracle creates an oracle over src. A zero history defaults to
// BlockHashWindow.
func NewHeaderOracle(src HeaderSource, history uint64) *HeaderOracle {
	if history == 0 {
		history = BlockHashWindow
	}
	return &HeaderOracle{src: src, history: history, timeout: DefaultOracleTimeout, log: log.Module("light")}
}

// RootAt implements RootOracle.
func (o *HeaderOracle) RootAt(height uint64) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	head, err := o.src.BlockNumber(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: head: %v", ErrRootUnavailable, err)
	}
	if height > head || head-height > o.history {
		return common.Hash{}, fmt.Errorf("%w: height %d outside [%d, %d]", ErrRootUnavailable, height, head-min(head, o.history), head)
	}
	h, err := o.src.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			o.log.Debug("Header lookup failed", "height", height, "err", err)
		}
		return common.Hash{}, fmt.Errorf("%w: height %d: %v", ErrRootUnavailable, height, err)
	}
	return h.Hash(), nil
}
