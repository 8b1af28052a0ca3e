// Package witness provides authenticated access to historical account
// storage: block resolution, eth_getProof style account and storage proofs,
// and their verification against a header's state root.
package witness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Block identifier errors.
var (
	ErrBadBlockID      = errors.New("witness: malformed block identifier")
	ErrUnknownBlock    = errors.New("witness: block not found")
	ErrPendingBlock    = errors.New("witness: pending block has no state root")
	ErrProofIncomplete = errors.New("witness: proof response does not cover request")
)

// Block tags understood by ParseBlockID.
const (
	TagLatest    = "latest"
	TagSafe      = "safe"
	TagFinalized = "finalized"
	TagParent    = "parent"
	TagPending   = "pending"
)

// BlockID names a block either by tag or by number.
type BlockID struct {
	Tag    string
	Number uint64
}

// NumberID returns an identifier for an explicit height.
func NumberID(n uint64) BlockID { return BlockID{Number: n} }

// TagID returns an identifier for a block tag.
func TagID(tag string) BlockID { return BlockID{Tag: tag} }

// IsNumber reports whether the identifier names an explicit height.
func (id BlockID) IsNumber() bool { return id.Tag == "" }

func (id BlockID) String() string {
	if id.IsNumber() {
		return strconv.FormatUint(id.Number, 10)
	}
	return id.Tag
}

// ParseBlockID accepts a tag, a decimal height or a 0x-prefixed hex height.
func ParseBlockID(s string) (BlockID, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case TagLatest, TagSafe, TagFinalized, TagParent, TagPending:
		return TagID(s), nil
	case "":
		return BlockID{}, ErrBadBlockID
	}
	base := 10
	if strings.HasPrefix(s, "0x") {
		s, base = s[2:], 16
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return BlockID{}, fmt.Errorf("%w: %q", ErrBadBlockID, s)
	}
	return NumberID(n), nil
}

// StorageProof is a storage value with its proof against the account's
// storage root.
type StorageProof struct {
	Slot  common.Hash
	Value common.Hash
	Proof [][]byte
}

// AccountProof is an account proof against a state root followed by the
// requested storage proofs, in request order.
type AccountProof struct {
	Address common.Address
	Proof   [][]byte
	Storage []StorageProof
}

// StateReader is the state-access service. Implementations must return
// proofs for exactly the requested slots; verification happens on the
// caller's side.
type StateReader interface {
	// ResolveBlock maps an identifier to a canonical header.
	ResolveBlock(ctx context.Context, id BlockID) (*gethtypes.Header, error)

	// FinalizedHeight returns the height of the latest finalized block.
	FinalizedHeight(ctx context.Context) (uint64, error)

	// GetProof returns account and storage proofs at the given header.
	GetProof(ctx context.Context, header *gethtypes.Header, addr common.Address, slots []common.Hash) (*AccountProof, error)
}

// GetValue fetches and authenticates a single storage value.
func GetValue(ctx context.Context, r StateReader, header *gethtypes.Header, addr common.Address, slot common.Hash) (common.Hash, *AccountProof, error) {
	p, err := r.GetProof(ctx, header, addr, []common.Hash{slot})
	if err != nil {
		return common.Hash{}, nil, err
	}
	values, err := VerifyAccountProof(header.Root, p, []common.Hash{slot})
	if err != nil {
		return common.Hash{}, nil, err
	}
	return values[0], p, nil
}
