// state_proof.go verifies eth_getProof style account and storage proofs
// against a state root, and checks a commitment witness end to end: header
// to block hash, state root to accounts, storage roots to read values.
package witness

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/eth2030/metricproof/core/types"
)

// State proof errors.
var (
	ErrStateProofMismatch  = errors.New("witness: proof does not match state root")
	ErrStorageProofMissing = errors.New("witness: storage proof missing for slot")
	ErrValueMismatch       = errors.New("witness: proven value differs from claimed value")
	ErrHeaderMismatch      = errors.New("witness: header does not match block root")
	ErrNilWitness          = errors.New("witness: nil witness")
	ErrReadNotWitnessed    = errors.New("witness: read not covered by witness")
	ErrStateProofTooDeep   = errors.New("witness: proof exceeds max depth")
)

// MaxStateProofDepth bounds the number of nodes accepted in one MPT proof.
const MaxStateProofDepth = 64

// proofDB loads proof nodes into a hash-keyed store for trie.VerifyProof.
func proofDB(nodes [][]byte) (*memorydb.Database, error) {
	if len(nodes) > MaxStateProofDepth {
		return nil, ErrStateProofTooDeep
	}
	db := memorydb.New()
	for _, n := range nodes {
		if err := db.Put(crypto.Keccak256(n), n); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// VerifyAccount checks an account proof and returns the account, or nil if
// the proof shows the account does not exist.
func VerifyAccount(stateRoot common.Hash, addr common.Address, proof [][]byte) (*gethtypes.StateAccount, error) {
	if stateRoot == gethtypes.EmptyRootHash && len(proof) == 0 {
		return nil, nil
	}
	db, err := proofDB(proof)
	if err != nil {
		return nil, err
	}
	val, err := trie.VerifyProof(stateRoot, crypto.Keccak256(addr[:]), db)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrStateProofMismatch, addr.Hex(), err)
	}
	if val == nil {
		return nil, nil
	}
	var acct gethtypes.StateAccount
	if err := rlp.DecodeBytes(val, &acct); err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrStateProofMismatch, addr.Hex(), err)
	}
	return &acct, nil
}

// VerifyStorage checks a storage proof against a storage root and returns
// the proven value. Absent slots prove the zero value.
func VerifyStorage(storageRoot common.Hash, slot common.Hash, proof [][]byte) (common.Hash, error) {
	if storageRoot == gethtypes.EmptyRootHash && len(proof) == 0 {
		return common.Hash{}, nil
	}
	db, err := proofDB(proof)
	if err != nil {
		return common.Hash{}, err
	}
	val, err := trie.VerifyProof(storageRoot, crypto.Keccak256(slot[:]), db)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: slot %s: %v", ErrStateProofMismatch, slot.Hex(), err)
	}
	if val == nil {
		return common.Hash{}, nil
	}
	_, content, _, err := rlp.Split(val)
	if err != nil || len(content) > common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: slot %s: bad value encoding", ErrStateProofMismatch, slot.Hex())
	}
	return common.BytesToHash(content), nil
}

// VerifyAccountProof authenticates the requested slots of p against
// stateRoot and returns their values in request order. Claimed values in
// p are checked, never trusted.
func VerifyAccountProof(stateRoot common.Hash, p *AccountProof, slots []common.Hash) ([]common.Hash, error) {
	acct, err := VerifyAccount(stateRoot, p.Address, p.Proof)
	if err != nil {
		return nil, err
	}
	storageRoot := gethtypes.EmptyRootHash
	if acct != nil {
		storageRoot = acct.Root
	}
	values := make([]common.Hash, len(slots))
	for i, slot := range slots {
		sp := findStorage(p.Storage, slot)
		if sp == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrStorageProofMissing, p.Address.Hex(), slot.Hex())
		}
		v, err := VerifyStorage(storageRoot, slot, sp.Proof)
		if err != nil {
			return nil, err
		}
		if v != sp.Value {
			return nil, fmt.Errorf("%w: %s/%s", ErrValueMismatch, p.Address.Hex(), slot.Hex())
		}
		values[i] = v
	}
	return values, nil
}

func findStorage(proofs []StorageProof, slot common.Hash) *StorageProof {
	for i := range proofs {
		if proofs[i].Slot == slot {
			return &proofs[i]
		}
	}
	return nil
}

// DecodeHeader decodes an RLP header.
func DecodeHeader(data []byte) (*gethtypes.Header, error) {
	var h gethtypes.Header
	if err := rlp.DecodeBytes(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// RootOf derives the block root a header identifies.
func RootOf(h *gethtypes.Header) types.BlockRoot {
	return types.BlockRoot{
		Height:    h.Number.Uint64(),
		Hash:      h.Hash(),
		StateRoot: h.Root,
		Timestamp: h.Time,
	}
}

// BuildWitness packages a header and verified account proofs into the
// witness carried by a commitment.
func BuildWitness(h *gethtypes.Header, proofs []*AccountProof) (*types.Witness, error) {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		return nil, err
	}
	w := &types.Witness{Header: enc}
	for _, p := range proofs {
		aw := types.AccountWitness{Address: p.Address, Proof: p.Proof}
		for _, sp := range p.Storage {
			aw.Storage = append(aw.Storage, types.StorageWitness{Slot: sp.Slot, Proof: sp.Proof})
		}
		w.Accounts = append(w.Accounts, aw)
	}
	return w, nil
}

// VerifyWitness re-authenticates every read from the block hash down. It is
// what the guest program runs before touching any value.
func VerifyWitness(root types.BlockRoot, reads []types.StateRead, w *types.Witness) error {
	if w == nil {
		return ErrNilWitness
	}
	h, err := DecodeHeader(w.Header)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHeaderMismatch, err)
	}
	if got := RootOf(h); got != root {
		return fmt.Errorf("%w: header %v, commitment %v", ErrHeaderMismatch, got, root)
	}
	storageRoots := make(map[common.Address]common.Hash, len(w.Accounts))
	for _, aw := range w.Accounts {
		acct, err := VerifyAccount(root.StateRoot, aw.Address, aw.Proof)
		if err != nil {
			return err
		}
		if acct == nil {
			storageRoots[aw.Address] = gethtypes.EmptyRootHash
		} else {
			storageRoots[aw.Address] = acct.Root
		}
	}
	for _, r := range reads {
		storageRoot, ok := storageRoots[r.Address]
		if !ok {
			return fmt.Errorf("%w: account %s", ErrReadNotWitnessed, r.Address.Hex())
		}
		proof, ok := witnessProof(w, r.Address, r.Slot)
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrReadNotWitnessed, r.Address.Hex(), r.Slot.Hex())
		}
		v, err := VerifyStorage(storageRoot, r.Slot, proof)
		if err != nil {
			return err
		}
		if !bytes.Equal(v[:], r.Value[:]) {
			return fmt.Errorf("%w: %s/%s", ErrValueMismatch, r.Address.Hex(), r.Slot.Hex())
		}
	}
	return nil
}

func witnessProof(w *types.Witness, addr common.Address, slot common.Hash) ([][]byte, bool) {
	for _, aw := range w.Accounts {
		if aw.Address != addr {
			continue
		}
		for _, sw := range aw.Storage {
			if sw.Slot == slot {
				return sw.Proof, true
			}
		}
	}
	return nil, false
}
