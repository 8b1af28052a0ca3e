// Package submit hands proven metrics to a verifier, either in process or
// as a transaction calling submit(bytes journal, bytes seal).
package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/verifier"
	"github.com/eth2030/metricproof/zkvm"
)

// VerifierABI is the ABI of the verifier contract entry point.
const VerifierABI = `[
	{"type":"function","name":"submit","stateMutability":"nonpayable",
	 "inputs":[{"name":"journal","type":"bytes"},{"name":"seal","type":"bytes"}],"outputs":[]}
]`

var (
	ErrNoArtifact    = errors.New("submit: no artifact")
	ErrReverted      = errors.New("submit: transaction reverted")
	ErrWaitTimeout   = errors.New("submit: timed out waiting for receipt")
	ErrBadCallData   = errors.New("submit: malformed call data")
	ErrNoDestination = errors.New("submit: no destination address")
)

var verifierABI = mustParseABI(VerifierABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Call is one submission to a verifier.
type Call struct {
	Destination common.Address
	Artifact    *types.ProofArtifact
}

// Receipt reports the outcome of a submission.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      types.Status
}

// Submitter delivers calls to a verifier and waits for the outcome.
type Submitter interface {
	Submit(ctx context.Context, call Call) (*Receipt, error)
}

// PackSubmit ABI-encodes a submit call.
func PackSubmit(a *types.ProofArtifact) ([]byte, error) {
	if a == nil {
		return nil, ErrNoArtifact
	}
	return verifierABI.Pack("submit", a.Journal, a.Seal)
}

// UnpackSubmit decodes submit call data into a verifier submission. The
// proof mode is inferred from the seal selector and the image id from the
// journal's metric kind.
func UnpackSubmit(data []byte) (verifier.Submission, error) {
	method := verifierABI.Methods["submit"]
	if len(data) < 4 || !bytes.HasPrefix(data, method.ID) {
		return verifier.Submission{}, fmt.Errorf("%w: selector", ErrBadCallData)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return verifier.Submission{}, fmt.Errorf("%w: %v", ErrBadCallData, err)
	}
	journal, ok1 := args[0].([]byte)
	seal, ok2 := args[1].([]byte)
	if !ok1 || !ok2 {
		return verifier.Submission{}, fmt.Errorf("%w: argument types", ErrBadCallData)
	}
	mode, err := zkvm.SealMode(seal)
	if err != nil {
		return verifier.Submission{}, fmt.Errorf("%w: %v", ErrBadCallData, err)
	}
	rec, err := types.DecodeJournal(journal)
	if err != nil {
		return verifier.Submission{}, fmt.Errorf("%w: %v", ErrBadCallData, err)
	}
	prog, err := zkvm.ProgramFor(rec.Kind)
	if err != nil {
		return verifier.Submission{}, fmt.Errorf("%w: %v", ErrBadCallData, err)
	}
	return verifier.Submission{Mode: mode, ImageID: prog.ImageID, Journal: journal, Seal: seal}, nil
}
