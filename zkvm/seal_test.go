package zkvm

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/metricproof/core/types"
)

func TestSealMode(t *testing.T) {
	dev := DevSeal(common.HexToHash("0x01"), []byte("journal"))
	if mode, err := SealMode(dev); err != nil || mode != types.ModeDev {
		t.Fatalf("dev seal: mode %v, err %v", mode, err)
	}
	if len(dev) != 4+common.HashLength {
		t.Fatalf("dev seal length %d", len(dev))
	}
	if mode, err := SealMode(append(Groth16Selector[:], 0x01)); err != nil || mode != types.ModeGroth16 {
		t.Fatalf("groth16 seal: mode %v, err %v", mode, err)
	}
	if _, err := SealMode([]byte{1, 2, 3, 4}); !errors.Is(err, ErrUnknownSelector) {
		t.Fatalf("expected ErrUnknownSelector, got %v", err)
	}
	if _, err := SealMode([]byte{1}); !errors.Is(err, ErrSealTooShort) {
		t.Fatalf("expected ErrSealTooShort, got %v", err)
	}
}

func TestDevSealBindsImage(t *testing.T) {
	journal := []byte("journal")
	a := DevSeal(common.HexToHash("0x01"), journal)
	b := DevSeal(common.HexToHash("0x02"), journal)
	if string(a) == string(b) {
		t.Fatal("seals for different images must differ")
	}
	if !verifyDevSeal(&types.ProofArtifact{Mode: types.ModeDev, ImageID: common.HexToHash("0x01"), Journal: journal, Seal: a}) {
		t.Fatal("expected dev seal to verify")
	}
	if verifyDevSeal(&types.ProofArtifact{Mode: types.ModeDev, ImageID: common.HexToHash("0x02"), Journal: journal, Seal: a}) {
		t.Fatal("dev seal verified under the wrong image")
	}
}
