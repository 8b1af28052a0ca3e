package zkvm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/log"
	"github.com/eth2030/metricproof/metric"
	"github.com/eth2030/metricproof/metrics"
)

// Executor routes proving requests to the backend registered for the
// request's mode.
type Executor struct {
	backends map[types.ProofMode]ProverBackend
	log      *log.Logger
}

// NewExecutor registers backends by their mode. A later backend with the
// same mode replaces an earlier one.
func NewExecutor(backends ...ProverBackend) *Executor {
	e := &Executor{
		backends: make(map[types.ProofMode]ProverBackend, len(backends)),
		log:      log.Module("zkvm"),
	}
	for _, b := range backends {
		e.backends[b.Mode()] = b
	}
	return e
}

// Backend returns the backend registered for mode.
func (e *Executor) Backend(mode types.ProofMode) (ProverBackend, bool) {
	b, ok := e.backends[mode]
	return b, ok
}

// Execute runs one request: it checks that the commitments cover the
// metric's declared reads, computes the record on the host, invokes the
// backend exactly once and checks the proven journal against the host
// record. It never retries.
func (e *Executor) Execute(ctx context.Context, req ExecRequest) (*types.MetricRecord, *types.ProofArtifact, error) {
	rec, art, err := e.execute(ctx, req)
	if err != nil {
		metrics.MarkProofFailure()
		e.log.Warn("Proving request failed", "kind", req.Kind, "mode", req.Mode, "class", types.Classify(err), "err", err)
		return nil, nil, err
	}
	return rec, art, nil
}

func (e *Executor) execute(ctx context.Context, req ExecRequest) (*types.MetricRecord, *types.ProofArtifact, error) {
	if req.Commitment == nil {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrComputationFailed, ErrNilRequest)
	}
	prog, err := ProgramFor(req.Kind)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrComputationFailed, err)
	}
	backend, ok := e.backends[req.Mode]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no backend for mode %v", types.ErrProvingBackendUnavailable, req.Mode)
	}

	declared, err := metric.DeclaredReads(req.Kind, req.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrComputationFailed, err)
	}
	for _, c := range []*types.StateCommitment{req.Commitment, req.Past} {
		if c == nil {
			continue
		}
		if k, ok := c.Covers(declared); !ok {
			return nil, nil, fmt.Errorf("%w: %w: %s/%s at %d", types.ErrComputationFailed, ErrUndeclaredRead, k.Address.Hex(), k.Slot.Hex(), c.Root.Height)
		}
	}
	want, err := metric.Compute(req.Kind, req.Params, req.Commitment, req.Past)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrComputationFailed, err)
	}

	params, err := metric.EncodeParams(req.Kind, req.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrComputationFailed, err)
	}
	input, err := EncodeGuestInput(&GuestInput{
		Kind:    req.Kind,
		Params:  params,
		Current: req.Commitment,
		Past:    req.Past,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrComputationFailed, err)
	}

	start := time.Now()
	art, err := backend.Prove(ctx, prog, input)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		if !errors.Is(err, types.ErrComputationFailed) && !errors.Is(err, types.ErrProvingBackendUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrProvingBackendUnavailable, err)
		}
		return nil, nil, err
	}
	elapsed := time.Since(start)

	if art.Mode != req.Mode {
		return nil, nil, fmt.Errorf("%w: %w: backend %s returned %v for %v", types.ErrComputationFailed, ErrWrongArtifact, backend.Name(), art.Mode, req.Mode)
	}
	if art.ImageID != prog.ImageID {
		return nil, nil, fmt.Errorf("%w: %w: image %s, want %s", types.ErrComputationFailed, ErrWrongArtifact, art.ImageID.Hex(), prog.ImageID.Hex())
	}
	got, err := art.Record()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrJournalMismatch, err)
	}
	if !got.Equal(want) {
		return nil, nil, ErrJournalMismatch
	}
	metrics.MarkProof(backend.Name(), elapsed)
	e.log.Info("Proved metric", "kind", req.Kind, "backend", backend.Name(), "block", req.Commitment.Root,
		"digest", req.Commitment.Digest, "elapsed", elapsed)
	return got, art, nil
}
