package metric

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/eth2030/metricproof/core/types"
)

// Parameter errors.
var (
	ErrWrongParams     = errors.New("metric: parameters do not match kind")
	ErrInvalidParams   = errors.New("metric: invalid parameters")
	ErrUnsupportedKind = errors.New("metric: unsupported kind")
)

// Params is the static parameter set of one metric kind. Implementations
// are plain RLP-encodable structs so they can travel into the guest.
type Params interface {
	// Reads lists every storage location the computation consults.
	Reads() []types.ReadKey

	// Validate rejects parameter sets the computation cannot run with.
	Validate() error
}

// SupplyParams configures the supply metrics of an ERC-20 token with the
// usual layout: a totalSupply slot and a balances mapping.
type SupplyParams struct {
	Token           common.Address
	TotalSupplySlot common.Hash
	BalancesSlot    common.Hash
	Excluded        []common.Address
}

// Reads implements Params.
func (p *SupplyParams) Reads() []types.ReadKey {
	keys := []types.ReadKey{{Address: p.Token, Slot: p.TotalSupplySlot}}
	for _, a := range p.Excluded {
		keys = append(keys, types.ReadKey{Address: p.Token, Slot: MappingSlot(a, p.BalancesSlot)})
	}
	return keys
}

// Validate implements Params. An address excluded twice would be
// subtracted twice.
func (p *SupplyParams) Validate() error {
	seen := make(map[common.Address]bool, len(p.Excluded))
	for _, a := range p.Excluded {
		if seen[a] {
			return fmt.Errorf("%w: %s excluded twice", ErrInvalidParams, a.Hex())
		}
		seen[a] = true
	}
	for _, k := range p.Reads()[1:] {
		if k.Slot == p.TotalSupplySlot {
			return fmt.Errorf("%w: balance slot collides with totalSupply", ErrInvalidParams)
		}
	}
	return nil
}

// IndexParams configures the annualised rate derived from a lending
// market's per-block interest index.
type IndexParams struct {
	Market        common.Address
	IndexSlot     common.Hash
	BlocksPerYear uint64
	Scale         uint64
}

// Reads implements Params.
func (p *IndexParams) Reads() []types.ReadKey {
	return []types.ReadKey{{Address: p.Market, Slot: p.IndexSlot}}
}

// Validate implements Params.
func (p *IndexParams) Validate() error {
	if p.BlocksPerYear == 0 || p.Scale == 0 {
		return fmt.Errorf("%w: blocksPerYear and scale must be positive", ErrInvalidParams)
	}
	return nil
}

// UtilizationParams configures a lending market's borrow/supply ratio.
type UtilizationParams struct {
	Market          common.Address
	TotalSupplySlot common.Hash
	TotalBorrowSlot common.Hash
	Scale           uint64
}

// Reads implements Params.
func (p *UtilizationParams) Reads() []types.ReadKey {
	return []types.ReadKey{
		{Address: p.Market, Slot: p.TotalSupplySlot},
		{Address: p.Market, Slot: p.TotalBorrowSlot},
	}
}

// Validate implements Params.
func (p *UtilizationParams) Validate() error {
	if p.Scale == 0 {
		return fmt.Errorf("%w: scale must be positive", ErrInvalidParams)
	}
	if p.TotalSupplySlot == p.TotalBorrowSlot {
		return fmt.Errorf("%w: supply and borrow slots are equal", ErrInvalidParams)
	}
	return nil
}

// checkParams asserts that params has the concrete type kind expects.
func checkParams(kind types.MetricKind, params Params) error {
	var ok bool
	switch kind {
	case types.CirculatingSupply, types.Inflation:
		_, ok = params.(*SupplyParams)
	case types.CompoundAPR:
		_, ok = params.(*IndexParams)
	case types.Utilization:
		_, ok = params.(*UtilizationParams)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedKind, kind)
	}
	if !ok {
		return fmt.Errorf("%w: %v with %T", ErrWrongParams, kind, params)
	}
	return nil
}

// NewParams returns an empty parameter value of the type kind expects.
func NewParams(kind types.MetricKind) (Params, error) {
	switch kind {
	case types.CirculatingSupply, types.Inflation:
		return new(SupplyParams), nil
	case types.CompoundAPR:
		return new(IndexParams), nil
	case types.Utilization:
		return new(UtilizationParams), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedKind, kind)
}

// EncodeParams RLP-encodes params after checking they belong to kind.
func EncodeParams(kind types.MetricKind, params Params) ([]byte, error) {
	if err := checkParams(kind, params); err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(params)
}

// ParamsDigest is the keccak256 hash of the canonical encoding of params. It
// is carried in every record so a verifier can pin the parameters it accepts.
func ParamsDigest(kind types.MetricKind, params Params) (common.Hash, error) {
	enc, err := EncodeParams(kind, params)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// DecodeParams decodes the parameter set of kind.
func DecodeParams(kind types.MetricKind, data []byte) (Params, error) {
	p, err := NewParams(kind)
	if err != nil {
		return nil, err
	}
	if err := rlp.DecodeBytes(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return p, nil
}

// DeclaredReads returns the canonical read set of kind under params.
func DeclaredReads(kind types.MetricKind, params Params) ([]types.ReadKey, error) {
	if err := checkParams(kind, params); err != nil {
		return nil, err
	}
	return types.SortKeys(params.Reads()), nil
}

// MappingSlot returns the storage slot of m[key] for a Solidity mapping
// declared at slot base.
func MappingSlot(key common.Address, base common.Hash) common.Hash {
	return crypto.Keccak256Hash(common.LeftPadBytes(key[:], 32), base[:])
}

// Slot returns the hash form of a plain storage slot index.
func Slot(n uint64) common.Hash {
	return common.Hash(uint256.NewInt(n).Bytes32())
}
