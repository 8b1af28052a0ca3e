package submit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/log"
	"github.com/eth2030/metricproof/metrics"
)

// DefaultReceiptTimeout bounds WaitReceipt when the caller sets none.
const DefaultReceiptTimeout = 2 * time.Minute

// EthBackend is the subset of ethclient.Client the transaction submitter
// needs.
type EthBackend interface {
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

var _ EthBackend = (*ethclient.Client)(nil)

// Eth submits calls as signed dynamic-fee transactions.
type Eth struct {
	backend EthBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	timeout time.Duration
	log     *log.Logger
}

// NewEth creates a transaction submitter signing with key. A zero timeout
// uses DefaultReceiptTimeout.
func NewEth(backend EthBackend, key *ecdsa.PrivateKey, timeout time.Duration) *Eth {
	if timeout == 0 {
		timeout = DefaultReceiptTimeout
	}
	return &Eth{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		timeout: timeout,
		log:     log.Module("submit"),
	}
}

// From returns the sending account.
func (e *Eth) From() common.Address { return e.from }

// Submit implements Submitter: it packs submit(journal, seal), signs and
// sends the transaction, then waits for its receipt. A reverted
// transaction yields a Rejected receipt and ErrReverted.
func (e *Eth) Submit(ctx context.Context, call Call) (*Receipt, error) {
	if call.Destination == (common.Address{}) {
		return nil, ErrNoDestination
	}
	data, err := PackSubmit(call.Artifact)
	if err != nil {
		return nil, err
	}
	tx, err := e.signTx(ctx, call.Destination, data)
	if err != nil {
		return nil, err
	}
	if err := e.backend.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("submit: send: %w", err)
	}
	metrics.MarkSubmission()
	e.log.Info("Submitted metric", "tx", tx.Hash(), "to", call.Destination, "nonce", tx.Nonce())

	r, err := e.WaitReceipt(ctx, tx.Hash(), e.timeout)
	if err != nil {
		return nil, err
	}
	rcpt := &Receipt{TxHash: r.TxHash, BlockNumber: r.BlockNumber.Uint64(), Status: types.StatusVerified}
	if r.Status != gethtypes.ReceiptStatusSuccessful {
		rcpt.Status = types.StatusRejected
		return rcpt, fmt.Errorf("%w: %s in block %d", ErrReverted, r.TxHash.Hex(), rcpt.BlockNumber)
	}
	return rcpt, nil
}

func (e *Eth) signTx(ctx context.Context, to common.Address, data []byte) (*gethtypes.Transaction, error) {
	chainID, err := e.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit: chain id: %w", err)
	}
	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("submit: nonce: %w", err)
	}
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("submit: head: %w", err)
	}
	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit: tip: %w", err)
	}
	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("submit: estimate gas: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return gethtypes.SignNewTx(e.key, gethtypes.LatestSignerForChainID(chainID), &gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
}

// WaitReceipt waits for the receipt of hash until it is available, ctx is
// done or timeout elapses. A timeout is reported as ErrWaitTimeout in the
// retryable acquisition class: the transaction may still be mined.
func (e *Eth) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := bind.WaitMined(ctx, e.backend, hash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.log.Debug("Receipt not available before deadline", "tx", hash, "timeout", timeout)
			return nil, fmt.Errorf("%w: %w: %s", ErrWaitTimeout, types.ErrUnresolvedBlock, hash.Hex())
		}
		return nil, err
	}
	return r, nil
}
