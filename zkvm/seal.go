package zkvm

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/metricproof/core/types"
)

// Seals start with a 4-byte selector naming the proof system, so a
// development seal can never be mistaken for a succinct one.
var (
	DevSelector     = selector("DevSeal(bytes32,bytes32)")
	Groth16Selector = selector("Groth16Seal(uint256,bytes)")
)

// Seal errors.
var (
	ErrSealTooShort    = errors.New("zkvm: seal too short")
	ErrUnknownSelector = errors.New("zkvm: unknown seal selector")
	ErrDevSealRejected = errors.New("zkvm: development seal not accepted")
	ErrModeMismatch    = errors.New("zkvm: seal selector does not match artifact mode")
	ErrImageMismatch   = errors.New("zkvm: image id does not match record kind")
	ErrNoVerifyingKey  = errors.New("zkvm: no groth16 verifying key configured")
	ErrSealInvalid     = errors.New("zkvm: seal does not verify")
)

func selector(sig string) [4]byte {
	var s [4]byte
	copy(s[:], crypto.Keccak256([]byte(sig)))
	return s
}

// splitSeal separates the selector from the payload.
func splitSeal(seal []byte) ([4]byte, []byte, error) {
	var s [4]byte
	if len(seal) < len(s) {
		return s, nil, ErrSealTooShort
	}
	copy(s[:], seal)
	return s, seal[len(s):], nil
}

// SealMode infers the proof mode from a seal's selector.
func SealMode(seal []byte) (types.ProofMode, error) {
	sel, _, err := splitSeal(seal)
	if err != nil {
		return 0, err
	}
	switch sel {
	case DevSelector:
		return types.ModeDev, nil
	case Groth16Selector:
		return types.ModeGroth16, nil
	}
	return 0, fmt.Errorf("%w: %x", ErrUnknownSelector, sel)
}

// devBinding ties a development seal to the image and journal, so even
// development artifacts fail verification when the journal is altered.
func devBinding(imageID, journalHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(DevSelector[:], imageID[:], journalHash[:])
}

// DevSeal returns the development seal for a journal proven by imageID.
func DevSeal(imageID common.Hash, journal []byte) []byte {
	binding := devBinding(imageID, crypto.Keccak256Hash(journal))
	return append(DevSelector[:], binding[:]...)
}

func verifyDevSeal(a *types.ProofArtifact) bool {
	sel, payload, err := splitSeal(a.Seal)
	if err != nil || sel != DevSelector {
		return false
	}
	want := devBinding(a.ImageID, a.JournalHash())
	return bytes.Equal(payload, want[:])
}

// SealVerifier is the public verification procedure used by the on-chain
// verifier. Accepting development seals is an explicit choice.
type SealVerifier struct {
	groth16  *Groth16Verifier
	allowDev bool
}

// NewSealVerifier creates a verifier. g may be nil when only development
// seals are expected.
func NewSealVerifier(g *Groth16Verifier, allowDev bool) *SealVerifier {
	return &SealVerifier{groth16: g, allowDev: allowDev}
}

// Verify checks the artifact and returns the record its journal encodes.
// Every failure wraps types.ErrInvalidProof.
func (v *SealVerifier) Verify(a *types.ProofArtifact) (*types.MetricRecord, error) {
	rec, err := v.verify(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidProof, err)
	}
	return rec, nil
}

func (v *SealVerifier) verify(a *types.ProofArtifact) (*types.MetricRecord, error) {
	if a == nil {
		return nil, ErrSealTooShort
	}
	rec, err := a.Record()
	if err != nil {
		return nil, err
	}
	prog, err := ProgramFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	if a.ImageID != prog.ImageID {
		return nil, fmt.Errorf("%w: %s for %v", ErrImageMismatch, a.ImageID.Hex(), rec.Kind)
	}
	sel, _, err := splitSeal(a.Seal)
	if err != nil {
		return nil, err
	}
	switch sel {
	case DevSelector:
		if a.Mode != types.ModeDev {
			return nil, ErrModeMismatch
		}
		if !v.allowDev {
			return nil, ErrDevSealRejected
		}
		if !verifyDevSeal(a) {
			return nil, ErrSealInvalid
		}
	case Groth16Selector:
		if a.Mode == types.ModeDev {
			return nil, ErrModeMismatch
		}
		if v.groth16 == nil {
			return nil, ErrNoVerifyingKey
		}
		ok, err := v.groth16.Verify(a)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSealInvalid
		}
	default:
		return nil, fmt.Errorf("%w: %x", ErrUnknownSelector, sel)
	}
	return rec, nil
}
