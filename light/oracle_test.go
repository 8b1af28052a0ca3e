package light

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// makeChain returns n linked headers starting at height 0.
func makeChain(n int) []*gethtypes.Header {
	headers := make([]*gethtypes.Header, n)
	var parent common.Hash
	for i := range headers {
		h := &gethtypes.Header{
			ParentHash: parent,
			Number:     big.NewInt(int64(i)),
			Time:       uint64(1000 + 12*i),
			Difficulty: big.NewInt(0),
		}
		headers[i] = h
		parent = h.Hash()
	}
	return headers
}

func TestBlockHashOracleWindow(t *testing.T) {
	chain := makeChain(BlockHashWindow + 10)
	o := NewBlockHashOracle()
	for _, h := range chain {
		if err := o.Record(h); err != nil {
			t.Fatalf("Record(%d): %v", h.Number, err)
		}
	}
	head, ok := o.Head()
	if !ok || head != uint64(len(chain)-1) {
		t.Fatalf("head = %d, %v", head, ok)
	}
	for _, n := range []uint64{head, head - BlockHashWindow + 1} {
		got, err := o.RootAt(n)
		if err != nil {
			t.Fatalf("RootAt(%d): %v", n, err)
		}
		if got != chain[n].Hash() {
			t.Fatalf("RootAt(%d) = %s", n, got.Hex())
		}
	}
	for _, n := range []uint64{0, head - BlockHashWindow, head + 1} {
		if _, err := o.RootAt(n); !errors.Is(err, ErrRootUnavailable) {
			t.Fatalf("RootAt(%d): expected ErrRootUnavailable, got %v", n, err)
		}
	}
}

func TestOracleRecordLinkage(t *testing.T) {
	chain := makeChain(3)
	o := NewBeaconRootOracle()
	if err := o.Record(nil); !errors.Is(err, ErrNilHeader) {
		t.Fatalf("expected ErrNilHeader, got %v", err)
	}
	if err := o.Record(chain[0]); err != nil {
		t.Fatal(err)
	}
	if err := o.Record(chain[2]); !errors.Is(err, ErrHeaderNumber) {
		t.Fatalf("expected ErrHeaderNumber, got %v", err)
	}
	orphan := gethtypes.CopyHeader(chain[1])
	orphan.ParentHash = common.HexToHash("0xbad")
	if err := o.Record(orphan); !errors.Is(err, ErrHeaderParent) {
		t.Fatalf("expected ErrHeaderParent, got %v", err)
	}
	if err := o.Record(chain[1]); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestBeaconRootOracleRetainsRing(t *testing.T) {
	chain := makeChain(BlockHashWindow * 2)
	o := NewBeaconRootOracle()
	for _, h := range chain {
		if err := o.Record(h); err != nil {
			t.Fatal(err)
		}
	}
	// Well beyond the block-hash window but inside the ring.
	got, err := o.RootAt(0)
	if err != nil || got != chain[0].Hash() {
		t.Fatalf("RootAt(0) = %s, %v", got.Hex(), err)
	}
}

type fakeSource struct {
	headers []*gethtypes.Header
	err     error
}

func (f *fakeSource) BlockNumber(ctx context.Context) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return uint64(len(f.headers) - 1), nil
}

func (f *fakeSource) HeaderByNumber(ctx context.Context, n *big.Int) (*gethtypes.Header, error) {
	if !n.IsUint64() || n.Uint64() >= uint64(len(f.headers)) {
		return nil, ethereum.NotFound
	}
	return f.headers[n.Uint64()], nil
}

func TestHeaderOracle(t *testing.T) {
	chain := makeChain(50)
	o := NewHeaderOracle(&fakeSource{headers: chain}, 16)

	got, err := o.RootAt(40)
	if err != nil {
		t.Fatalf("RootAt: %v", err)
	}
	if got != chain[40].Hash() {
		t.Fatalf("RootAt(40) = %s", got.Hex())
	}
	for _, n := range []uint64{10, 50} {
		if _, err := o.RootAt(n); !errors.Is(err, ErrRootUnavailable) {
			t.Fatalf("RootAt(%d): expected ErrRootUnavailable, got %v", n, err)
		}
	}

	down := NewHeaderOracle(&fakeSource{err: errors.New("connection refused")}, 0)
	if _, err := down.RootAt(1); !errors.Is(err, ErrRootUnavailable) {
		t.Fatalf("expected ErrRootUnavailable, got %v", err)
	}
}
