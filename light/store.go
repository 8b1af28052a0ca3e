package light

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Root store errors.
var (
	ErrRootUnavailable = errors.New("light: root unavailable")
	ErrNilHeader       = errors.New("light: nil header")
	ErrHeaderNumber    = errors.New("light: header number is not head+1")
	ErrHeaderParent    = errors.New("light: header parent hash mismatch")
)

// RootOracle answers which block hash the chain recorded at a height. It is
// the verifier's only source of truth about historical state.
type RootOracle interface {
	RootAt(height uint64) (common.Hash, error)
}

type ringEntry struct {
	height uint64
	hash   common.Hash
	set    bool
}

// rootRing keeps the hashes of the most recent len(entries) blocks. Heights
// must be recorded contiguously and each header must link to its parent.
type rootRing struct {
	mu      sync.RWMutex
	entries []ringEntry
	head    ringEntry
}

func newRootRing(size int) *rootRing {
	return &rootRing{entries: make([]ringEntry, size)}
}

func (r *rootRing) record(h *gethtypes.Header) error {
	if h == nil || h.Number == nil {
		return ErrNilHeader
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	num := h.Number.Uint64()
	if r.head.set {
		if num != r.head.height+1 {
			return fmt.Errorf("%w: have %d, head %d", ErrHeaderNumber, num, r.head.height)
		}
		if h.ParentHash != r.head.hash {
			return fmt.Errorf("%w: block %d", ErrHeaderParent, num)
		}
	}
	e := ringEntry{height: num, hash: h.Hash(), set: true}
	r.entries[num%uint64(len(r.entries))] = e
	r.head = e
	return nil
}

func (r *rootRing) rootAt(height uint64) (common.Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.entries[height%uint64(len(r.entries))]
	if !e.set || e.height != height {
		return common.Hash{}, fmt.Errorf("%w: height %d", ErrRootUnavailable, height)
	}
	return e.hash, nil
}

// headNumber returns the latest recorded height.
func (r *rootRing) headNumber() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.head.height, r.head.set
}
