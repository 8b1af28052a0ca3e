package light

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	// BlockHashWindow is the number of ancestors the BLOCKHASH opcode
	// can see.
	BlockHashWindow = 256
	// BeaconRootsLength is the ring size of the EIP-4788 beacon roots
	// contract.
	BeaconRootsLength = 8191
)

// BlockHashOracle mirrors the EVM block-hash history: only the hashes of the
// last BlockHashWindow recorded blocks are available.
type BlockHashOracle struct {
	ring *rootRing
}

// NewBlockHashOracle creates an empty oracle.
func NewBlockHashOracle() *BlockHashOracle {
	return &BlockHashOracle{ring: newRootRing(BlockHashWindow)}
}

// Record appends the next canonical header.
func (o *BlockHashOracle) Record(h *gethtypes.Header) error { return o.ring.record(h) }

// RootAt implements RootOracle.
func (o *BlockHashOracle) RootAt(height uint64) (common.Hash, error) { return o.ring.rootAt(height) }

// Head returns the latest recorded height.
func (o *BlockHashOracle) Head() (uint64, bool) { return o.ring.headNumber() }

// BeaconRootOracle keeps a BeaconRootsLength ring of block hashes, the
// history depth a beacon-roots style contract offers. Entries are
// overwritten once the ring wraps.
type BeaconRootOracle struct {
	ring *rootRing
}

// NewBeaconRootOracle creates an empty oracle.
func NewBeaconRootOracle() *BeaconRootOracle {
	return &BeaconRootOracle{ring: newRootRing(BeaconRootsLength)}
}

// Record appends the next canonical header.
func (o *BeaconRootOracle) Record(h *gethtypes.Header) error { return o.ring.record(h) }

// RootAt implements RootOracle.
func (o *BeaconRootOracle) RootAt(height uint64) (common.Hash, error) { return o.ring.rootAt(height) }

// Head returns the latest recorded height.
func (o *BeaconRootOracle) Head() (uint64, bool) { return o.ring.headNumber() }
