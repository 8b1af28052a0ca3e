package zkvm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/log"
)

// ProverNamespace is the JSON-RPC namespace of the proving service.
const ProverNamespace = "prover"

// ProveArgs is the wire form of a proving request.
type ProveArgs struct {
	ImageID common.Hash   `json:"imageId"`
	Input   hexutil.Bytes `json:"input"`
}

// ProveResult is the wire form of a proving response.
type ProveResult struct {
	ImageID common.Hash   `json:"imageId"`
	Journal hexutil.Bytes `json:"journal"`
	Seal    hexutil.Bytes `json:"seal"`
}

// ProverService exposes a local backend as a JSON-RPC proving service.
// Register it with rpc.Server.RegisterName(ProverNamespace, svc).
type ProverService struct {
	backend ProverBackend
	log     *log.Logger
}

// NewProverService wraps backend.
func NewProverService(backend ProverBackend) *ProverService {
	return &ProverService{backend: backend, log: log.Module("zkvm/service")}
}

// Prove serves prover_prove.
func (s *ProverService) Prove(ctx context.Context, args ProveArgs) (*ProveResult, error) {
	var prog *GuestProgram
	for _, k := range types.AllKinds {
		if p, _ := ProgramFor(k); p.ImageID == args.ImageID {
			prog = p
			break
		}
	}
	if prog == nil {
		return nil, fmt.Errorf("%w: image %s", ErrUnknownProgram, args.ImageID.Hex())
	}
	a, err := s.backend.Prove(ctx, prog, args.Input)
	if err != nil {
		s.log.Warn("Proving request failed", "kind", prog.Kind, "err", err)
		return nil, err
	}
	s.log.Info("Served proving request", "kind", prog.Kind, "journal", len(a.Journal))
	return &ProveResult{ImageID: a.ImageID, Journal: a.Journal, Seal: a.Seal}, nil
}

// RemoteBackend delegates proving to a ProverService over JSON-RPC. The
// service returns Groth16 seals, so verification is local.
type RemoteBackend struct {
	client   *rpc.Client
	verifier *Groth16Verifier
}

// DialRemote connects to a proving service. v verifies the returned seals
// and may be nil if the caller never calls Verify.
func DialRemote(ctx context.Context, url string, v *Groth16Verifier) (*RemoteBackend, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProvingBackendUnavailable, err)
	}
	return NewRemoteBackend(c, v), nil
}

// NewRemoteBackend wraps an existing client.
func NewRemoteBackend(c *rpc.Client, v *Groth16Verifier) *RemoteBackend {
	return &RemoteBackend{client: c, verifier: v}
}

// Name implements ProverBackend.
func (b *RemoteBackend) Name() string { return "remote" }

// Mode implements ProverBackend.
func (b *RemoteBackend) Mode() types.ProofMode { return types.ModeRemote }

// Prove implements ProverBackend. Errors reported by the service are
// computation failures; transport errors mean the backend is unavailable.
func (b *RemoteBackend) Prove(ctx context.Context, program *GuestProgram, input []byte) (*types.ProofArtifact, error) {
	var res ProveResult
	err := b.client.CallContext(ctx, &res, ProverNamespace+"_prove", ProveArgs{ImageID: program.ImageID, Input: input})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: remote: %v", types.ErrComputationFailed, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrProvingBackendUnavailable, err)
	}
	if res.ImageID != program.ImageID {
		return nil, fmt.Errorf("%w: service answered for %s", ErrImageMismatch, res.ImageID.Hex())
	}
	return &types.ProofArtifact{
		Mode:    types.ModeRemote,
		ImageID: res.ImageID,
		Journal: res.Journal,
		Seal:    res.Seal,
	}, nil
}

// Verify implements ProverBackend.
func (b *RemoteBackend) Verify(a *types.ProofArtifact) (bool, error) {
	if b.verifier == nil {
		return false, ErrNoVerifyingKey
	}
	return b.verifier.Verify(a)
}

// Close closes the connection.
func (b *RemoteBackend) Close() { b.client.Close() }
