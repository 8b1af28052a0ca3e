package submit

import (
	"context"
	"encoding/binary"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/metricproof/log"
	"github.com/eth2030/metricproof/metrics"
	"github.com/eth2030/metricproof/verifier"
)

// BlockTime is the simulated block interval, in seconds.
const BlockTime = 12

// ChainHead reports the current head of the chain the verifier follows.
type ChainHead interface {
	Head() *gethtypes.Header
}

// Local submits to an in-process verifier. Each call executes in a
// simulated block directly after the chain head.
type Local struct {
	verifier *verifier.Verifier
	chain    ChainHead
	log      *log.Logger
}

// NewLocal creates a local submitter.
func NewLocal(v *verifier.Verifier, chain ChainHead) *Local {
	return &Local{verifier: v, chain: chain, log: log.Module("submit")}
}

// Submit implements Submitter. The call is ABI-encoded and decoded again so
// the verifier sees exactly what a transaction would carry. A rejection is
// returned both as a Rejected receipt and as the error.
func (l *Local) Submit(ctx context.Context, call Call) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := PackSubmit(call.Artifact)
	if err != nil {
		return nil, err
	}
	sub, err := UnpackSubmit(data)
	if err != nil {
		return nil, err
	}
	tx := l.nextBlock()
	metrics.MarkSubmission()
	req, err := l.verifier.Submit(sub, tx)
	rcpt := &Receipt{TxHash: crypto.Keccak256Hash(data, tx.Hash[:]), BlockNumber: tx.Height}
	if req != nil {
		rcpt.Status = req.Status
	}
	if err != nil {
		l.log.Debug("Local submission rejected", "block", tx.Height, "err", err)
		return rcpt, err
	}
	l.log.Debug("Local submission accepted", "block", tx.Height, "tx", rcpt.TxHash)
	return rcpt, nil
}

func (l *Local) nextBlock() verifier.TxContext {
	head := l.chain.Head()
	var (
		height uint64
		time   uint64
	)
	if head != nil {
		height, time = head.Number.Uint64()+1, head.Time+BlockTime
	}
	var enc [8]byte
	binary.BigEndian.PutUint64(enc[:], height)
	return verifier.TxContext{Height: height, Hash: crypto.Keccak256Hash([]byte("metricproof/local"), enc[:]), Time: time}
}

var _ Submitter = (*Local)(nil)

