// Package pipeline drives metric requests end to end: commit the state the
// metric reads, prove the computation and hand the result to a submitter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/metricproof/commitment"
	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/log"
	"github.com/eth2030/metricproof/metric"
	"github.com/eth2030/metricproof/submit"
	"github.com/eth2030/metricproof/witness"
	"github.com/eth2030/metricproof/zkvm"
)

// DefaultWorkers is the default number of requests processed concurrently.
const DefaultWorkers = 4

// ErrBadRequest is returned for requests that cannot be run.
var ErrBadRequest = errors.New("pipeline: bad request")

// Request is one metric to prove. Past is required for two-point kinds and
// must be nil otherwise.
type Request struct {
	Name        string
	Kind        types.MetricKind
	Block       witness.BlockID
	Past        *witness.BlockID
	Params      metric.Params
	Mode        types.ProofMode
	Destination common.Address
}

func (r *Request) validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: kind %v", ErrBadRequest, r.Kind)
	}
	if r.Params == nil {
		return fmt.Errorf("%w: %s: no params", ErrBadRequest, r.Name)
	}
	if r.Kind.TwoPoint() && r.Past == nil {
		return fmt.Errorf("%w: %s: %v needs a past block", ErrBadRequest, r.Name, r.Kind)
	}
	if !r.Kind.TwoPoint() && r.Past != nil {
		return fmt.Errorf("%w: %s: %v takes a single block", ErrBadRequest, r.Name, r.Kind)
	}
	return nil
}

// Result is the outcome of one request. Err is set when any stage failed;
// the fields of the stages that completed are kept.
type Result struct {
	Request  *Request
	Record   *types.MetricRecord
	Artifact *types.ProofArtifact
	Receipt  *submit.Receipt
	Err      error
}

// Pipeline runs requests through the builder, the executor and an optional
// submitter.
type Pipeline struct {
	builder   *commitment.Builder
	executor  *zkvm.Executor
	submitter submit.Submitter
	workers   int
	log       *log.Logger
}

// New creates a pipeline. A nil submitter proves without submitting; a
// non-positive workers uses DefaultWorkers.
func New(builder *commitment.Builder, executor *zkvm.Executor, submitter submit.Submitter, workers int) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pipeline{
		builder:   builder,
		executor:  executor,
		submitter: submitter,
		workers:   workers,
		log:       log.Module("pipeline"),
	}
}

// Run processes one request. The stages run strictly in order and the
// first failure ends the request.
func (p *Pipeline) Run(ctx context.Context, req *Request) *Result {
	res := &Result{Request: req}
	res.Err = p.run(ctx, req, res)
	if res.Err != nil {
		p.log.Warn("Metric request failed", "name", req.Name, "kind", req.Kind, "class", types.Classify(res.Err),
			"retryable", types.Retryable(res.Err), "err", res.Err)
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, req *Request, res *Result) error {
	if err := req.validate(); err != nil {
		return err
	}
	keys, err := metric.DeclaredReads(req.Kind, req.Params)
	if err != nil {
		return err
	}

	start := time.Now()
	var cur, past *types.StateCommitment
	if req.Past != nil {
		cur, past, err = p.builder.BuildPair(ctx, req.Block, *req.Past, keys)
	} else {
		cur, err = p.builder.Build(ctx, req.Block, keys)
	}
	if err != nil {
		return err
	}

	rec, art, err := p.executor.Execute(ctx, zkvm.ExecRequest{
		Kind:       req.Kind,
		Params:     req.Params,
		Commitment: cur,
		Past:       past,
		Mode:       req.Mode,
	})
	if err != nil {
		return err
	}
	res.Record, res.Artifact = rec, art
	p.logValues(req, rec, time.Since(start))

	if p.submitter == nil {
		return nil
	}
	rcpt, err := p.submitter.Submit(ctx, submit.Call{Destination: req.Destination, Artifact: art})
	res.Receipt = rcpt
	if err != nil {
		return err
	}
	p.log.Info("Metric submitted", "name", req.Name, "tx", rcpt.TxHash, "block", rcpt.BlockNumber, "status", rcpt.Status)
	return nil
}

func (p *Pipeline) logValues(req *Request, rec *types.MetricRecord, elapsed time.Duration) {
	args := []any{"name", req.Name, "kind", rec.Kind, "block", rec.Primary.Root.Height}
	if rec.Past != nil {
		args = append(args, "past", rec.Past.Root.Height)
	}
	for _, v := range rec.Values {
		args = append(args, v.Name, v.Value.Dec())
	}
	args = append(args, "elapsed", common.PrettyDuration(elapsed))
	p.log.Info("Metric proven", args...)
}

// RunAll processes independent requests on up to the configured number of
// workers. Results are returned in request order; a failed request does
// not affect the others. Cancelling ctx fails the requests still running.
func (p *Pipeline) RunAll(ctx context.Context, reqs []*Request) []*Result {
	results := make([]*Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = p.Run(ctx, req)
			return nil
		})
	}
	g.Wait()
	return results
}
