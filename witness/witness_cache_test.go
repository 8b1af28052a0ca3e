package witness

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestCachedReaderHitsAndMisses(t *testing.T) {
	s := NewMemoryState()
	addr := common.HexToAddress("0xaa")
	slot := common.HexToHash("0x01")
	s.SetUint(addr, slot, uint256.NewInt(7))
	h1, err := s.Commit(100)
	if err != nil {
		t.Fatal(err)
	}
	s.SetUint(addr, slot, uint256.NewInt(8))
	h2, err := s.Commit(112)
	if err != nil {
		t.Fatal(err)
	}

	c := NewCachedReader(s, 0)
	ctx := context.Background()
	first, err := c.GetProof(ctx, h1, addr, []common.Hash{slot})
	if err != nil {
		t.Fatalf("GetProof: %v", err)
	}
	again, err := c.GetProof(ctx, h1, addr, []common.Hash{slot})
	if err != nil {
		t.Fatalf("GetProof: %v", err)
	}
	if first != again {
		t.Fatal("expected the cached proof to be returned")
	}
	// Same account and slot in another block is a different entry.
	if _, err := c.GetProof(ctx, h2, addr, []common.Hash{slot}); err != nil {
		t.Fatalf("GetProof: %v", err)
	}
	if st := c.Stats(); st.Entries != 2 || st.Hits != 1 || st.Misses != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	c.Purge()
	if st := c.Stats(); st.Entries != 0 {
		t.Fatalf("expected empty cache after purge, got %d", st.Entries)
	}
}

func TestCachedReaderForwardsErrors(t *testing.T) {
	s := NewMemoryState()
	h, err := s.Commit(100)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCachedReader(s, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetProof(ctx, h, common.HexToAddress("0xaa"), nil); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if st := c.Stats(); st.Entries != 0 {
		t.Fatal("failed lookups must not be cached")
	}
	got, err := c.ResolveBlock(context.Background(), NumberID(0))
	if err != nil || got.Hash() != h.Hash() {
		t.Fatalf("ResolveBlock = %v, %v", got, err)
	}
}
