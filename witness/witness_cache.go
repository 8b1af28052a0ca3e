// witness_cache.go implements a proof cache in front of a StateReader.
// Proofs are keyed by block hash, so entries never go stale: a reorg
// changes the hash and simply misses.
package witness

import (
	"context"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of proof responses kept when no size is
// configured.
const DefaultCacheSize = 1024

// CacheStats holds aggregate statistics about the proof cache.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// CachedReader is a StateReader that memoises GetProof responses.
// Block resolution is always forwarded since tags move.
type CachedReader struct {
	inner  StateReader
	proofs *lru.Cache[common.Hash, *AccountProof]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedReader wraps inner with an LRU of the given size. If size <= 0,
// DefaultCacheSize is used.
func NewCachedReader(inner StateReader, size int) *CachedReader {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[common.Hash, *AccountProof](size)
	return &CachedReader{inner: inner, proofs: cache}
}

// ResolveBlock implements StateReader.
func (c *CachedReader) ResolveBlock(ctx context.Context, id BlockID) (*gethtypes.Header, error) {
	return c.inner.ResolveBlock(ctx, id)
}

// FinalizedHeight implements StateReader.
func (c *CachedReader) FinalizedHeight(ctx context.Context) (uint64, error) {
	return c.inner.FinalizedHeight(ctx)
}

// GetProof implements StateReader.
func (c *CachedReader) GetProof(ctx context.Context, header *gethtypes.Header, addr common.Address, slots []common.Hash) (*AccountProof, error) {
	key := proofKey(header.Hash(), addr, slots)
	if p, ok := c.proofs.Get(key); ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)
	p, err := c.inner.GetProof(ctx, header, addr, slots)
	if err != nil {
		return nil, err
	}
	c.proofs.Add(key, p)
	return p, nil
}

// Stats returns the cache statistics.
func (c *CachedReader) Stats() CacheStats {
	return CacheStats{
		Entries: c.proofs.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// Purge drops every cached proof.
func (c *CachedReader) Purge() {
	c.proofs.Purge()
}

func proofKey(block common.Hash, addr common.Address, slots []common.Hash) common.Hash {
	parts := make([][]byte, 0, len(slots)+2)
	parts = append(parts, block[:], addr[:])
	for i := range slots {
		parts = append(parts, slots[i][:])
	}
	return crypto.Keccak256Hash(parts...)
}
