// proof_backend.go implements the Groth16 backend on BN254 with gnark. The
// circuit only enforces Claim = MiMC(ImageID, InputDigest, JournalDigest)
// for some secret InputDigest. It does not constrain InputDigest or check
// that the journal follows from the guest input, so a seal attests that the
// holder of the proving key signed off on this image and journal, nothing
// more. The guest run itself is trusted to the prover.
package zkvm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcfr "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/metricproof/core/types"
)

// claimSize is the length of the MiMC claim at the front of a Groth16 seal
// payload.
const claimSize = fr.Bytes

// bindingCircuit is the statement every Groth16 seal proves.
type bindingCircuit struct {
	ImageID       frontend.Variable `gnark:",public"`
	JournalDigest frontend.Variable `gnark:",public"`
	Claim         frontend.Variable `gnark:",public"`
	InputDigest   frontend.Variable `gnark:",secret"`
}

// Define implements the gnark Circuit interface.
func (c *bindingCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.ImageID, c.InputDigest, c.JournalDigest)
	api.AssertIsEqual(h.Sum(), c.Claim)
	return nil
}

// toField reduces a 32-byte digest into the BN254 scalar field.
func toField(h common.Hash) fr.Element {
	var e fr.Element
	e.SetBytes(h[:])
	return e
}

func fieldBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// bindingClaim computes the claim the circuit checks, natively.
func bindingClaim(imageID, inputDigest, journalHash common.Hash) (fr.Element, error) {
	h := mimcfr.NewMiMC()
	for _, d := range []common.Hash{imageID, inputDigest, journalHash} {
		e := toField(d)
		b := e.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			return fr.Element{}, err
		}
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out, nil
}

// Groth16Verifier checks Groth16 seals with a verifying key.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

// NewGroth16Verifier wraps a verifying key.
func NewGroth16Verifier(vk groth16.VerifyingKey) *Groth16Verifier {
	return &Groth16Verifier{vk: vk}
}

// ReadGroth16Verifier loads a serialized verifying key.
func ReadGroth16Verifier(r io.Reader) (*Groth16Verifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("zkvm: read verifying key: %w", err)
	}
	return &Groth16Verifier{vk: vk}, nil
}

// Verify reports whether a's seal proves the binding statement for its
// image and journal.
func (v *Groth16Verifier) Verify(a *types.ProofArtifact) (bool, error) {
	sel, payload, err := splitSeal(a.Seal)
	if err != nil {
		return false, err
	}
	if sel != Groth16Selector {
		return false, ErrUnknownSelector
	}
	if len(payload) <= claimSize {
		return false, ErrSealTooShort
	}
	var claim fr.Element
	if err := claim.SetBytesCanonical(payload[:claimSize]); err != nil {
		return false, nil
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(payload[claimSize:])); err != nil {
		return false, nil
	}
	assignment := &bindingCircuit{
		ImageID:       fieldBig(toField(a.ImageID)),
		JournalDigest: fieldBig(toField(a.JournalHash())),
		Claim:         fieldBig(claim),
	}
	public, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, err
	}
	return groth16.Verify(proof, v.vk, public) == nil, nil
}

// Groth16Backend proves guest executions locally.
type Groth16Backend struct {
	*Groth16Verifier
	ccs  constraint.ConstraintSystem
	pk   groth16.ProvingKey
	mode types.ProofMode
}

// compileBinding compiles the binding circuit.
func compileBinding() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &bindingCircuit{})
	if err != nil {
		return nil, fmt.Errorf("zkvm: compile binding circuit: %w", err)
	}
	return ccs, nil
}

// SetupGroth16 compiles the circuit and runs a fresh, single-party setup.
// The resulting keys are suitable for development chains and tests.
func SetupGroth16() (*Groth16Backend, error) {
	ccs, err := compileBinding()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("zkvm: groth16 setup: %w", err)
	}
	return &Groth16Backend{Groth16Verifier: NewGroth16Verifier(vk), ccs: ccs, pk: pk, mode: types.ModeGroth16}, nil
}

// LoadGroth16 loads keys written by WriteKeys.
func LoadGroth16(pkr, vkr io.Reader) (*Groth16Backend, error) {
	ccs, err := compileBinding()
	if err != nil {
		return nil, err
	}
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(pkr); err != nil {
		return nil, fmt.Errorf("zkvm: read proving key: %w", err)
	}
	v, err := ReadGroth16Verifier(vkr)
	if err != nil {
		return nil, err
	}
	return &Groth16Backend{Groth16Verifier: v, ccs: ccs, pk: pk, mode: types.ModeGroth16}, nil
}

// WriteKeys serializes the proving and verifying keys.
func (b *Groth16Backend) WriteKeys(pkw, vkw io.Writer) error {
	if _, err := b.pk.WriteTo(pkw); err != nil {
		return err
	}
	_, err := b.vk.WriteTo(vkw)
	return err
}

// Name implements ProverBackend.
func (b *Groth16Backend) Name() string { return "groth16" }

// Mode implements ProverBackend.
func (b *Groth16Backend) Mode() types.ProofMode { return b.mode }

// Prove implements ProverBackend. Proving is not interruptible; ctx is
// checked before and after.
func (b *Groth16Backend) Prove(ctx context.Context, program *GuestProgram, input []byte) (*types.ProofArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	journal, err := RunGuest(program, input)
	if err != nil {
		return nil, err
	}
	a := &types.ProofArtifact{Mode: b.mode, ImageID: program.ImageID, Journal: journal}
	inputDigest := InputDigest(input)
	claim, err := bindingClaim(program.ImageID, inputDigest, a.JournalHash())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProvingBackendUnavailable, err)
	}
	assignment := &bindingCircuit{
		ImageID:       fieldBig(toField(program.ImageID)),
		JournalDigest: fieldBig(toField(a.JournalHash())),
		Claim:         fieldBig(claim),
		InputDigest:   fieldBig(toField(inputDigest)),
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: witness: %v", types.ErrProvingBackendUnavailable, err)
	}
	proof, err := groth16.Prove(b.ccs, b.pk, full)
	if err != nil {
		return nil, fmt.Errorf("%w: prove: %v", types.ErrProvingBackendUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(Groth16Selector[:])
	cb := claim.Bytes()
	buf.Write(cb[:])
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	a.Seal = buf.Bytes()
	return a, nil
}
