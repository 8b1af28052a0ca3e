// Package verifier implements the metric verifier: it accepts a metric only
// when its proof is valid, its parameters are bound, every referenced block
// root is known and fresh, the request has not been accepted before and the
// blocks are ordered.
// Submissions are processed one at a time, as a chain would execute them.
package verifier

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/eth2030/metricproof/core/rawdb"
	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/light"
	"github.com/eth2030/metricproof/log"
	"github.com/eth2030/metricproof/metric"
	"github.com/eth2030/metricproof/metrics"
	"github.com/eth2030/metricproof/zkvm"
)

// DefaultWindow is the default freshness window in blocks, the depth of the
// EVM block-hash history.
const DefaultWindow = light.BlockHashWindow

var (
	// ErrInvalidConfig is returned for unusable verifier configurations.
	ErrInvalidConfig = errors.New("verifier: invalid config")

	// ErrParamsNotBound wraps ErrInvalidProof for records computed under
	// parameters the verifier was not bound to.
	ErrParamsNotBound = errors.New("verifier: parameters not bound")
)

// Config configures a Verifier.
type Config struct {
	// Window is the maximum age, in blocks, of a referenced root relative
	// to the accepting block.
	Window uint64 `yaml:"window"`
	// HistoryBlocks extends Window for oracles with deeper history.
	HistoryBlocks uint64 `yaml:"historyBlocks"`
	// AllowDevProofs accepts development seals. Never set in production.
	AllowDevProofs bool `yaml:"allowDevProofs"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Window: DefaultWindow}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window == 0 {
		return fmt.Errorf("%w: zero window", ErrInvalidConfig)
	}
	if c.Window+c.HistoryBlocks < c.Window {
		return fmt.Errorf("%w: window overflows", ErrInvalidConfig)
	}
	return nil
}

// MaxAge is the effective freshness bound.
func (c Config) MaxAge() uint64 {
	return c.Window + c.HistoryBlocks
}

// Submission is the call data of a submit transaction.
type Submission struct {
	Mode    types.ProofMode
	ImageID common.Hash
	Journal []byte
	Seal    []byte
}

// SubmissionOf converts an artifact into call data.
func SubmissionOf(a *types.ProofArtifact) Submission {
	return Submission{Mode: a.Mode, ImageID: a.ImageID, Journal: a.Journal, Seal: a.Seal}
}

// Artifact returns the proof artifact carried by s.
func (s Submission) Artifact() *types.ProofArtifact {
	return &types.ProofArtifact{Mode: s.Mode, ImageID: s.ImageID, Journal: s.Journal, Seal: s.Seal}
}

// TxContext describes the block executing a submission.
type TxContext struct {
	Height uint64
	Hash   common.Hash
	Time   uint64
}

// Request is the verifier's record of one submission.
type Request struct {
	JournalHash common.Hash
	Status      types.Status
	Record      *types.MetricRecord  // decoded journal, nil if the proof was invalid
	Metric      *types.VerifiedMetric // set when verified
	Err         error                 // set when rejected
}

// AcceptedEvent is posted for every verified metric.
type AcceptedEvent struct {
	Metric *types.VerifiedMetric
}

// Verifier is the on-chain verifier state machine.
type Verifier struct {
	mu     sync.Mutex
	config Config
	seals  *zkvm.SealVerifier
	oracle light.RootOracle
	store  *rawdb.Store
	feed   event.FeedOf[AcceptedEvent]
	log    *log.Logger

	params map[types.MetricKind]map[common.Hash]struct{} // bound parameter digests
}

// New creates a verifier. g may be nil when only development proofs are
// accepted.
func New(config Config, oracle light.RootOracle, store *rawdb.Store, g *zkvm.Groth16Verifier) (*Verifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if oracle == nil || store == nil {
		return nil, fmt.Errorf("%w: missing oracle or store", ErrInvalidConfig)
	}
	return &Verifier{
		config: config,
		seals:  zkvm.NewSealVerifier(g, config.AllowDevProofs),
		oracle: oracle,
		store:  store,
		log:    log.Module("verifier"),
		params: make(map[types.MetricKind]map[common.Hash]struct{}),
	}, nil
}

// BindParams accepts records of kind computed under params. A kind may be
// bound to several parameter sets; a kind with none bound accepts nothing.
func (v *Verifier) BindParams(kind types.MetricKind, params metric.Params) error {
	digest, err := metric.ParamsDigest(kind, params)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.params[kind] == nil {
		v.params[kind] = make(map[common.Hash]struct{})
	}
	v.params[kind][digest] = struct{}{}
	v.log.Debug("Bound metric parameters", "kind", kind, "digest", digest)
	return nil
}

// Config returns the verifier configuration.
func (v *Verifier) Config() Config { return v.config }

// SubscribeAccepted subscribes to verified metrics.
func (v *Verifier) SubscribeAccepted(ch chan<- AcceptedEvent) event.Subscription {
	return v.feed.Subscribe(ch)
}

// Submit processes one submission in the block described by tx. The
// returned request is terminal: Verified with the appended metric, or
// Rejected with the cause, which is also returned as the error. A
// rejected submission leaves the verifier state unchanged.
func (v *Verifier) Submit(sub Submission, tx TxContext) (*Request, error) {
	req, vm, err := v.submit(sub, tx)
	if err != nil {
		return req, err
	}
	// Notify outside the lock; Send blocks until every subscriber receives.
	v.feed.Send(AcceptedEvent{Metric: vm})
	return req, nil
}

func (v *Verifier) submit(sub Submission, tx TxContext) (*Request, *types.VerifiedMetric, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	art := sub.Artifact()
	req := &Request{JournalHash: art.JournalHash(), Status: types.StatusPending}
	vm, err := v.verify(req, art, tx)
	if err != nil {
		req.Status, req.Err = types.StatusRejected, err
		metrics.MarkVerification(reason(err))
		v.log.Warn("Rejected metric submission", "journal", req.JournalHash, "block", tx.Height, "reason", reason(err), "err", err)
		return req, nil, err
	}
	req.Status, req.Metric = types.StatusVerified, vm
	metrics.MarkVerification("verified")
	v.log.Info("Verified metric", "kind", vm.Record.Kind, "seq", vm.Seq, "block", vm.Record.Primary.Root.Height, "acceptedAt", tx.Height)
	return req, vm, nil
}

func (v *Verifier) verify(req *Request, art *types.ProofArtifact, tx TxContext) (*types.VerifiedMetric, error) {
	rec, err := v.seals.Verify(art)
	if err != nil {
		return nil, err
	}
	req.Record = rec
	if _, ok := v.params[rec.Kind][rec.ParamsDigest]; !ok {
		return nil, fmt.Errorf("%w: %w: %v digest %s", types.ErrInvalidProof, ErrParamsNotBound, rec.Kind, rec.ParamsDigest.Hex())
	}

	refs := []types.CommitmentRef{rec.Primary}
	if rec.Past != nil {
		refs = append(refs, *rec.Past)
	}
	for _, ref := range refs {
		if err := v.checkRoot(ref.Root, tx); err != nil {
			return nil, err
		}
	}

	key := rec.RequestKey()
	known, err := v.store.HasRequest(key)
	if err != nil {
		return nil, err
	}
	if known {
		return nil, fmt.Errorf("%w: %s", types.ErrDuplicateSubmission, key.Hex())
	}

	switch {
	case rec.Kind.TwoPoint() && rec.Past == nil:
		return nil, fmt.Errorf("%w: %v without past commitment", types.ErrInvalidBlockOrdering, rec.Kind)
	case !rec.Kind.TwoPoint() && rec.Past != nil:
		return nil, fmt.Errorf("%w: %v with past commitment", types.ErrInvalidBlockOrdering, rec.Kind)
	case rec.Past != nil && rec.Past.Root.Height >= rec.Primary.Root.Height:
		return nil, fmt.Errorf("%w: past %d, current %d", types.ErrInvalidBlockOrdering, rec.Past.Root.Height, rec.Primary.Root.Height)
	}

	vm := &types.VerifiedMetric{
		Record:         *rec,
		AcceptedAtRoot: types.BlockRoot{Height: tx.Height, Hash: tx.Hash, Timestamp: tx.Time},
		AcceptedAt:     tx.Time,
		JournalHash:    req.JournalHash,
	}
	if _, err := v.store.AppendMetric(key, vm); err != nil {
		if errors.Is(err, rawdb.ErrRequestKnown) {
			return nil, fmt.Errorf("%w: %v", types.ErrDuplicateSubmission, err)
		}
		return nil, err
	}
	return vm, nil
}

// checkRoot checks that root is strictly older than the executing block,
// within the freshness bound and equal to the oracle's record.
func (v *Verifier) checkRoot(root types.BlockRoot, tx TxContext) error {
	if root.Height >= tx.Height {
		return fmt.Errorf("%w: block %d not before %d", types.ErrStaleOrUnknownRoot, root.Height, tx.Height)
	}
	if age := tx.Height - root.Height; age > v.config.MaxAge() {
		return fmt.Errorf("%w: block %d is %d blocks old, max %d", types.ErrStaleOrUnknownRoot, root.Height, age, v.config.MaxAge())
	}
	want, err := v.oracle.RootAt(root.Height)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStaleOrUnknownRoot, err)
	}
	if want != root.Hash {
		return fmt.Errorf("%w: block %d hash %s, oracle %s", types.ErrStaleOrUnknownRoot, root.Height, root.Hash.Hex(), want.Hex())
	}
	return nil
}

// reason maps a rejection to its metrics label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrParamsNotBound):
		return "params"
	case errors.Is(err, types.ErrInvalidProof):
		return "invalid proof"
	case errors.Is(err, types.ErrStaleOrUnknownRoot):
		return "stale root"
	case errors.Is(err, types.ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, types.ErrInvalidBlockOrdering):
		return "ordering"
	}
	return "internal"
}

// Count returns the number of verified metrics of a kind.
func (v *Verifier) Count(kind types.MetricKind) (uint64, error) {
	return v.store.Count(kind)
}

// Latest returns the most recently verified metric of a kind.
func (v *Verifier) Latest(kind types.MetricKind) (*types.VerifiedMetric, error) {
	return v.store.LatestMetric(kind)
}

// Metric returns the seq-th verified metric of a kind.
func (v *Verifier) Metric(kind types.MetricKind, seq uint64) (*types.VerifiedMetric, error) {
	return v.store.ReadMetric(kind, seq)
}

// IsVerified reports whether the request a record answers was accepted.
func (v *Verifier) IsVerified(rec *types.MetricRecord) (bool, error) {
	return v.store.HasRequest(rec.RequestKey())
}
