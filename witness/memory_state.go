package witness

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
)

// proofList collects proof nodes emitted by trie.Prove in order.
type proofList [][]byte

func (p *proofList) Put(key []byte, value []byte) error {
	*p = append(*p, common.CopyBytes(value))
	return nil
}

func (p *proofList) Delete(key []byte) error { return nil }

// memoryBlock is the sealed state at one height.
type memoryBlock struct {
	header  *gethtypes.Header
	state   *trie.Trie
	storage map[common.Address]*trie.Trie
}

// MemoryState is a StateReader over a locally built chain of Merkle-Patricia
// state tries. Storage writes accumulate until Commit seals them into a new
// block whose header commits to the resulting state root. Proofs it returns
// verify with the same code paths as proofs from a live node.
type MemoryState struct {
	mu        sync.RWMutex
	db        *triedb.Database
	dirty     map[common.Address]map[common.Hash]common.Hash
	blocks    []*memoryBlock
	byHash    map[common.Hash]*memoryBlock
	finalized uint64
}

// NewMemoryState returns an empty state with no blocks.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		db:     triedb.NewDatabase(gethrawdb.NewMemoryDatabase(), nil),
		dirty:  make(map[common.Address]map[common.Hash]common.Hash),
		byHash: make(map[common.Hash]*memoryBlock),
	}
}

// SetStorage stages a storage write for the next block. Writing the zero
// value deletes the slot.
func (s *MemoryState) SetStorage(addr common.Address, slot, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.dirty[addr]
	if !ok {
		m = make(map[common.Hash]common.Hash)
		s.dirty[addr] = m
	}
	m[slot] = value
}

// SetUint stages a storage write of an integer value.
func (s *MemoryState) SetUint(addr common.Address, slot common.Hash, v *uint256.Int) {
	s.SetStorage(addr, slot, common.Hash(v.Bytes32()))
}

// Commit seals all staged writes into a new block with the given timestamp
// and returns its header. The first block has height zero.
func (s *MemoryState) Commit(timestamp uint64) (*gethtypes.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := trie.NewEmpty(s.db)
	storage := make(map[common.Address]*trie.Trie, len(s.dirty))
	for addr, slots := range s.dirty {
		st := trie.NewEmpty(s.db)
		for slot, val := range slots {
			if val == (common.Hash{}) {
				continue
			}
			enc, err := rlp.EncodeToBytes(common.TrimLeftZeroes(val[:]))
			if err != nil {
				return nil, err
			}
			if err := st.Update(hashKey(slot[:]), enc); err != nil {
				return nil, err
			}
		}
		acct := &gethtypes.StateAccount{
			Nonce:    1,
			Balance:  new(uint256.Int),
			Root:     st.Hash(),
			CodeHash: gethtypes.EmptyCodeHash.Bytes(),
		}
		enc, err := rlp.EncodeToBytes(acct)
		if err != nil {
			return nil, err
		}
		if err := state.Update(hashKey(addr[:]), enc); err != nil {
			return nil, err
		}
		storage[addr] = st
	}

	header := &gethtypes.Header{
		Number:     new(big.Int).SetUint64(uint64(len(s.blocks))),
		Root:       state.Hash(),
		Time:       timestamp,
		Difficulty: new(big.Int),
		GasLimit:   30_000_000,
	}
	if n := len(s.blocks); n > 0 {
		header.ParentHash = s.blocks[n-1].header.Hash()
		if timestamp <= s.blocks[n-1].header.Time {
			return nil, fmt.Errorf("witness: timestamp %d not after parent %d", timestamp, s.blocks[n-1].header.Time)
		}
	}
	b := &memoryBlock{header: header, state: state, storage: storage}
	s.blocks = append(s.blocks, b)
	s.byHash[header.Hash()] = b
	return gethtypes.CopyHeader(header), nil
}

// SetFinalized marks the given height as finalized.
func (s *MemoryState) SetFinalized(n uint64) {
	s.mu.Lock()
	s.finalized = n
	s.mu.Unlock()
}

// HeaderByNumber returns the header at height n.
func (s *MemoryState) HeaderByNumber(n uint64) (*gethtypes.Header, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n >= uint64(len(s.blocks)) {
		return nil, false
	}
	return gethtypes.CopyHeader(s.blocks[n].header), true
}

// Head returns the latest header, or nil before the first Commit.
func (s *MemoryState) Head() *gethtypes.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return nil
	}
	return gethtypes.CopyHeader(s.blocks[len(s.blocks)-1].header)
}

// ResolveBlock implements StateReader.
func (s *MemoryState) ResolveBlock(ctx context.Context, id BlockID) (*gethtypes.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := uint64(len(s.blocks))
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	var height uint64
	switch {
	case id.IsNumber():
		height = id.Number
	case id.Tag == TagLatest:
		height = n - 1
	case id.Tag == TagSafe, id.Tag == TagFinalized:
		height = s.finalized
	case id.Tag == TagParent:
		if n < 2 {
			return nil, fmt.Errorf("%w: genesis has no parent", ErrUnknownBlock)
		}
		height = n - 2
	case id.Tag == TagPending:
		return nil, ErrPendingBlock
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadBlockID, id.Tag)
	}
	if height >= n {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	return gethtypes.CopyHeader(s.blocks[height].header), nil
}

// FinalizedHeight implements StateReader.
func (s *MemoryState) FinalizedHeight(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized, nil
}

// GetProof implements StateReader.
func (s *MemoryState) GetProof(ctx context.Context, header *gethtypes.Header, addr common.Address, slots []common.Hash) (*AccountProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Trie reads may cache resolved nodes, so take the write lock.
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byHash[header.Hash()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, header.Hash().Hex())
	}
	out := &AccountProof{Address: addr}
	var ap proofList
	if err := b.state.Prove(hashKey(addr[:]), &ap); err != nil {
		return nil, err
	}
	out.Proof = ap

	st := b.storage[addr]
	for _, slot := range slots {
		sp := StorageProof{Slot: slot}
		if st != nil {
			var list proofList
			if err := st.Prove(hashKey(slot[:]), &list); err != nil {
				return nil, err
			}
			sp.Proof = list
			if val := s.valueAt(b, addr, slot); val != nil {
				sp.Value = *val
			}
		}
		out.Storage = append(out.Storage, sp)
	}
	return out, nil
}

// valueAt reads a slot directly from the block's storage trie.
func (s *MemoryState) valueAt(b *memoryBlock, addr common.Address, slot common.Hash) *common.Hash {
	st := b.storage[addr]
	if st == nil {
		return nil
	}
	enc, err := st.Get(hashKey(slot[:]))
	if err != nil || len(enc) == 0 {
		return nil
	}
	_, content, _, err := rlp.Split(enc)
	if err != nil {
		return nil
	}
	v := common.BytesToHash(content)
	return &v
}

func hashKey(b []byte) []byte {
	return gethcrypto.Keccak256(b)
}
