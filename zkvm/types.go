// Package zkvm is the provable execution boundary. It packages state
// commitments and a metric computation as one deterministic guest program,
// hands it to a proving backend and returns the public journal together
// with the seal that attests to it.
package zkvm

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/metric"
)

// Boundary errors.
var (
	ErrUnknownProgram  = errors.New("zkvm: no guest program for kind")
	ErrProgramMismatch = errors.New("zkvm: input kind does not match program")
	ErrUndeclaredRead  = errors.New("zkvm: declared reads exceed commitment")
	ErrJournalMismatch = errors.New("zkvm: proven journal differs from computed record")
	ErrWrongArtifact   = errors.New("zkvm: artifact mode or image differs from request")
	ErrGuestPanicked   = errors.New("zkvm: guest execution panicked")
	ErrNilRequest      = errors.New("zkvm: nil commitment in request")
)

// GuestProgram identifies the deterministic program that computes one
// metric kind. ImageID is what a verifier pins.
type GuestProgram struct {
	Kind    types.MetricKind
	Version uint32
	ImageID common.Hash
}

// GuestInput is everything the guest sees: the metric, its static
// parameters and the commitments with their witnesses.
type GuestInput struct {
	Kind    types.MetricKind
	Params  []byte // RLP of the kind's metric.Params
	Current *types.StateCommitment
	Past    *types.StateCommitment `rlp:"nil"`
}

// ProverBackend is a proving system. Prove runs the program on input and
// returns an artifact whose journal is the program's public output.
// Implementations never retry.
type ProverBackend interface {
	// Name returns the name of the prover backend.
	Name() string

	// Mode returns the proof mode of artifacts this backend produces.
	Mode() types.ProofMode

	// Prove generates an artifact for program on input.
	Prove(ctx context.Context, program *GuestProgram, input []byte) (*types.ProofArtifact, error)

	// Verify checks an artifact's seal against its journal and image.
	Verify(artifact *types.ProofArtifact) (bool, error)
}

// ExecRequest is one proving request. Mode selects the backend and is never
// inferred from process state.
type ExecRequest struct {
	Kind       types.MetricKind
	Params     metric.Params
	Commitment *types.StateCommitment
	Past       *types.StateCommitment
	Mode       types.ProofMode
}
