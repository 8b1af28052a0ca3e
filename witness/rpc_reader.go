package witness

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/eth2030/metricproof/log"
)

// RPCReader serves state over an execution node's JSON-RPC endpoint using
// eth_getBlockByNumber and eth_getProof.
type RPCReader struct {
	rpc  *rpc.Client
	eth  *ethclient.Client
	geth *gethclient.Client
	log  *log.Logger
}

// DialRPC connects to an execution node.
func DialRPC(ctx context.Context, url string) (*RPCReader, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("witness: dial %s: %w", url, err)
	}
	return NewRPCReader(c), nil
}

// NewRPCReader wraps an existing RPC client.
func NewRPCReader(c *rpc.Client) *RPCReader {
	return &RPCReader{
		rpc:  c,
		eth:  ethclient.NewClient(c),
		geth: gethclient.New(c),
		log:  log.Module("witness/rpc"),
	}
}

// Client returns the underlying RPC client.
func (r *RPCReader) Client() *rpc.Client { return r.rpc }

// Close releases the connection.
func (r *RPCReader) Close() { r.rpc.Close() }

func tagNumber(tag string) (*big.Int, bool) {
	switch tag {
	case TagLatest:
		return big.NewInt(int64(rpc.LatestBlockNumber)), true
	case TagSafe:
		return big.NewInt(int64(rpc.SafeBlockNumber)), true
	case TagFinalized:
		return big.NewInt(int64(rpc.FinalizedBlockNumber)), true
	case TagPending:
		return big.NewInt(int64(rpc.PendingBlockNumber)), true
	}
	return nil, false
}

// ResolveBlock implements StateReader. The parent tag resolves to the
// parent of the current head, which is the default for proving since the
// head's own hash is not yet visible to the block-hash oracle.
func (r *RPCReader) ResolveBlock(ctx context.Context, id BlockID) (*gethtypes.Header, error) {
	var (
		h   *gethtypes.Header
		err error
	)
	switch {
	case id.IsNumber():
		h, err = r.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(id.Number))
	case id.Tag == TagParent:
		head, herr := r.eth.HeaderByNumber(ctx, nil)
		if herr != nil {
			return nil, notFound(id, herr)
		}
		if head.Number.Sign() == 0 {
			return nil, fmt.Errorf("%w: genesis has no parent", ErrUnknownBlock)
		}
		h, err = r.eth.HeaderByHash(ctx, head.ParentHash)
	default:
		n, ok := tagNumber(id.Tag)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBadBlockID, id.Tag)
		}
		h, err = r.eth.HeaderByNumber(ctx, n)
	}
	if err != nil {
		return nil, notFound(id, err)
	}
	r.log.Debug("Resolved block", "id", id, "number", h.Number, "hash", h.Hash())
	return h, nil
}

func notFound(id BlockID, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	return fmt.Errorf("witness: resolve %s: %w", id, err)
}

// FinalizedHeight implements StateReader.
func (r *RPCReader) FinalizedHeight(ctx context.Context) (uint64, error) {
	h, err := r.eth.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
	if err != nil {
		return 0, notFound(TagID(TagFinalized), err)
	}
	return h.Number.Uint64(), nil
}

// GetProof implements StateReader.
func (r *RPCReader) GetProof(ctx context.Context, header *gethtypes.Header, addr common.Address, slots []common.Hash) (*AccountProof, error) {
	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = s.Hex()
	}
	res, err := r.geth.GetProof(ctx, addr, keys, header.Number)
	if err != nil {
		return nil, fmt.Errorf("witness: eth_getProof %s at %d: %w", addr.Hex(), header.Number, err)
	}
	if res.Address != addr || len(res.StorageProof) != len(slots) {
		return nil, fmt.Errorf("%w: %s at %d", ErrProofIncomplete, addr.Hex(), header.Number)
	}
	out := &AccountProof{Address: addr}
	if out.Proof, err = decodeNodes(res.AccountProof); err != nil {
		return nil, err
	}
	for i, sp := range res.StorageProof {
		nodes, err := decodeNodes(sp.Proof)
		if err != nil {
			return nil, err
		}
		if sp.Value == nil || sp.Value.Sign() < 0 || sp.Value.BitLen() > 256 {
			return nil, fmt.Errorf("%w: bad value for slot %s", ErrProofIncomplete, slots[i].Hex())
		}
		out.Storage = append(out.Storage, StorageProof{
			Slot:  slots[i],
			Value: common.BigToHash(sp.Value),
			Proof: nodes,
		})
	}
	return out, nil
}

func decodeNodes(enc []string) ([][]byte, error) {
	nodes := make([][]byte, len(enc))
	for i, s := range enc {
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("witness: proof node %d: %w", i, err)
		}
		nodes[i] = b
	}
	return nodes, nil
}
