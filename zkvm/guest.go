package zkvm

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/metric"
	"github.com/eth2030/metricproof/witness"
)

// GuestVersion is the version of every built-in guest program. Bump it
// whenever a computation or the journal layout changes.
const GuestVersion = 1

var imageDomain = []byte("metricproof/guest")

// ImageID derives the identifier of the guest computing kind at version.
func ImageID(kind types.MetricKind, version uint32) common.Hash {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], version)
	return crypto.Keccak256Hash(imageDomain, []byte{byte(kind)}, v[:])
}

// programs is the closed registry of guest programs.
var programs = func() map[types.MetricKind]*GuestProgram {
	m := make(map[types.MetricKind]*GuestProgram, len(types.AllKinds))
	for _, k := range types.AllKinds {
		m[k] = &GuestProgram{Kind: k, Version: GuestVersion, ImageID: ImageID(k, GuestVersion)}
	}
	return m
}()

// ProgramFor returns the guest program of kind.
func ProgramFor(kind types.MetricKind) (*GuestProgram, error) {
	p, ok := programs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProgram, kind)
	}
	return p, nil
}

// EncodeGuestInput RLP-encodes the guest input.
func EncodeGuestInput(in *GuestInput) ([]byte, error) {
	return rlp.EncodeToBytes(in)
}

// DecodeGuestInput decodes an RLP guest input.
func DecodeGuestInput(data []byte) (*GuestInput, error) {
	var in GuestInput
	if err := rlp.DecodeBytes(data, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// InputDigest is the keccak256 of the encoded guest input.
func InputDigest(input []byte) common.Hash {
	return crypto.Keccak256Hash(input)
}

// RunGuest executes program on input and returns the journal. It trusts
// nothing but the block hashes: every commitment is re-derived from its
// witness before the metric runs. All failures wrap ErrComputationFailed.
func RunGuest(program *GuestProgram, input []byte) (journal []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			journal, err = nil, fmt.Errorf("%w: %w: %v", types.ErrComputationFailed, ErrGuestPanicked, r)
		}
	}()
	journal, err = runGuest(program, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrComputationFailed, err)
	}
	return journal, nil
}

func runGuest(program *GuestProgram, input []byte) ([]byte, error) {
	in, err := DecodeGuestInput(input)
	if err != nil {
		return nil, err
	}
	if in.Kind != program.Kind {
		return nil, fmt.Errorf("%w: %v vs %v", ErrProgramMismatch, in.Kind, program.Kind)
	}
	if in.Current == nil {
		return nil, ErrNilRequest
	}
	params, err := metric.DecodeParams(in.Kind, in.Params)
	if err != nil {
		return nil, err
	}
	declared, err := metric.DeclaredReads(in.Kind, params)
	if err != nil {
		return nil, err
	}
	for _, c := range []*types.StateCommitment{in.Current, in.Past} {
		if c == nil {
			continue
		}
		if err := authenticate(c, declared); err != nil {
			return nil, err
		}
	}
	rec, err := metric.Compute(in.Kind, params, in.Current, in.Past)
	if err != nil {
		return nil, err
	}
	return rec.EncodeJournal()
}

// authenticate checks the commitment digest, the witness and that the
// declared reads are covered.
func authenticate(c *types.StateCommitment, declared []types.ReadKey) error {
	if err := c.Verify(); err != nil {
		return err
	}
	if err := witness.VerifyWitness(c.Root, c.Reads, c.Witness); err != nil {
		return err
	}
	if k, ok := c.Covers(declared); !ok {
		return fmt.Errorf("%w: %s/%s at %d", ErrUndeclaredRead, k.Address.Hex(), k.Slot.Hex(), c.Root.Height)
	}
	return nil
}
