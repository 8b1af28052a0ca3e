package zkvm

import (
	"context"

	"github.com/eth2030/metricproof/core/types"
)

// DevBackend runs the guest directly and emits a placeholder seal bound to
// the image and journal. It proves nothing and is only accepted by
// verifiers configured to allow development seals.
type DevBackend struct{}

// NewDevBackend returns the development backend.
func NewDevBackend() *DevBackend { return &DevBackend{} }

// Name implements ProverBackend.
func (b *DevBackend) Name() string { return "dev" }

// Mode implements ProverBackend.
func (b *DevBackend) Mode() types.ProofMode { return types.ModeDev }

// Prove implements ProverBackend.
func (b *DevBackend) Prove(ctx context.Context, program *GuestProgram, input []byte) (*types.ProofArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	journal, err := RunGuest(program, input)
	if err != nil {
		return nil, err
	}
	return &types.ProofArtifact{
		Mode:    types.ModeDev,
		ImageID: program.ImageID,
		Journal: journal,
		Seal:    DevSeal(program.ImageID, journal),
	}, nil
}

// Verify implements ProverBackend.
func (b *DevBackend) Verify(a *types.ProofArtifact) (bool, error) {
	if a == nil {
		return false, ErrSealTooShort
	}
	return a.Mode == types.ModeDev && verifyDevSeal(a), nil
}
