// Package commitment builds state commitments: it resolves a block,
// fetches authenticated storage values for a declared read set and binds
// them to the block's root in a single digest.
package commitment

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/log"
	"github.com/eth2030/metricproof/metrics"
	"github.com/eth2030/metricproof/witness"
)

// ErrEmptyReadSet is returned when a commitment is requested without reads.
var ErrEmptyReadSet = errors.New("commitment: empty read set")

// DefaultFetchConcurrency bounds parallel proof requests per commitment.
const DefaultFetchConcurrency = 4

// Config controls block acceptance and fetch parallelism.
type Config struct {
	// AllowPending accepts blocks above the finalized height, including the
	// pending tag where the reader supports it.
	AllowPending bool

	// FetchConcurrency bounds concurrent GetProof calls. Zero means
	// DefaultFetchConcurrency.
	FetchConcurrency int
}

// Builder produces state commitments from a state reader.
type Builder struct {
	reader witness.StateReader
	config Config
	log    *log.Logger
}

// NewBuilder creates a builder over reader.
func NewBuilder(reader witness.StateReader, config Config) *Builder {
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = DefaultFetchConcurrency
	}
	return &Builder{
		reader: reader,
		config: config,
		log:    log.Module("commitment"),
	}
}

// Build resolves id and commits to the values of keys at that block. The
// read set of the result contains exactly the requested keys in canonical
// order.
func (b *Builder) Build(ctx context.Context, id witness.BlockID, keys []types.ReadKey) (*types.StateCommitment, error) {
	c, err := b.build(ctx, id, keys)
	if err != nil {
		metrics.MarkCommitmentFailure()
		b.log.Warn("Commitment build failed", "block", id, "err", err)
		return nil, err
	}
	metrics.MarkCommitment(len(c.Reads))
	b.log.Info("Built state commitment", "block", c.Root, "reads", len(c.Reads), "digest", c.Digest)
	return c, nil
}

// BuildPair builds two independent commitments over the same keys. It does
// not order the heights; two-point metrics check that themselves.
func (b *Builder) BuildPair(ctx context.Context, current, past witness.BlockID, keys []types.ReadKey) (*types.StateCommitment, *types.StateCommitment, error) {
	cur, err := b.Build(ctx, current, keys)
	if err != nil {
		return nil, nil, err
	}
	old, err := b.Build(ctx, past, keys)
	if err != nil {
		return nil, nil, err
	}
	return cur, old, nil
}

func (b *Builder) build(ctx context.Context, id witness.BlockID, keys []types.ReadKey) (*types.StateCommitment, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyReadSet
	}
	header, err := b.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	keys = types.SortKeys(keys)
	groups := groupByAccount(keys)
	proofs := make([]*witness.AccountProof, len(groups))
	values := make([][]common.Hash, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.FetchConcurrency)
	for i := range groups {
		g.Go(func() error {
			p, err := b.reader.GetProof(gctx, header, groups[i].addr, groups[i].slots)
			if err != nil {
				return fmt.Errorf("%w: %s at %d: %v", types.ErrProofOfInclusionUnavailable, groups[i].addr.Hex(), header.Number, err)
			}
			vals, err := witness.VerifyAccountProof(header.Root, p, groups[i].slots)
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrProofOfInclusionUnavailable, err)
			}
			proofs[i], values[i] = trimProof(p, groups[i].slots), vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	reads := make([]types.StateRead, 0, len(keys))
	for i, grp := range groups {
		for j, slot := range grp.slots {
			reads = append(reads, types.StateRead{Address: grp.addr, Slot: slot, Value: values[i][j]})
		}
	}
	w, err := witness.BuildWitness(header, proofs)
	if err != nil {
		return nil, err
	}
	return types.NewStateCommitment(witness.RootOf(header), reads, w)
}

// resolve maps id to a header and enforces the finality rule.
func (b *Builder) resolve(ctx context.Context, id witness.BlockID) (*gethtypes.Header, error) {
	if id.Tag == witness.TagPending && !b.config.AllowPending {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrUnresolvedBlock, id, witness.ErrPendingBlock)
	}
	header, err := b.reader.ResolveBlock(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", types.ErrUnresolvedBlock, id, err)
	}
	if b.config.AllowPending {
		return header, nil
	}
	final, err := b.reader.FinalizedHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: finalized height: %v", types.ErrUnresolvedBlock, err)
	}
	if n := header.Number.Uint64(); n > final {
		return nil, fmt.Errorf("%w: block %d above finalized %d", types.ErrUnresolvedBlock, n, final)
	}
	return header, nil
}

type accountKeys struct {
	addr  common.Address
	slots []common.Hash
}

// groupByAccount splits canonically sorted keys into per-account groups.
func groupByAccount(keys []types.ReadKey) []accountKeys {
	var out []accountKeys
	for _, k := range keys {
		if n := len(out); n > 0 && out[n-1].addr == k.Address {
			out[n-1].slots = append(out[n-1].slots, k.Slot)
			continue
		}
		out = append(out, accountKeys{addr: k.Address, slots: []common.Hash{k.Slot}})
	}
	return out
}

// trimProof keeps only the storage proofs for the requested slots, in
// request order, so the witness carries nothing the commitment does not.
func trimProof(p *witness.AccountProof, slots []common.Hash) *witness.AccountProof {
	out := &witness.AccountProof{Address: p.Address, Proof: p.Proof}
	for _, slot := range slots {
		for _, sp := range p.Storage {
			if sp.Slot == slot {
				out.Storage = append(out.Storage, sp)
				break
			}
		}
	}
	return out
}
