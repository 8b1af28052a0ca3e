// Package metrics collects pipeline counters and timers on a go-ethereum
// metrics registry: commitments built, proofs generated per backend, and
// verifier outcomes per reason.
package metrics

import (
	"strings"
	"sync"
	"time"

	gethmetrics "github.com/ethereum/go-ethereum/metrics"
)

// Registry is the registry every pipeline metric is registered on. It is
// kept separate from go-ethereum's DefaultRegistry so that embedding
// programs can export it under their own prefix.
var Registry = gethmetrics.NewRegistry()

var enableOnce sync.Once

// Enable turns on sample collection. Until it is called, timers register
// but record nothing. Call it at startup, before any proof is timed.
func Enable() {
	enableOnce.Do(gethmetrics.Enable)
}

// Metric names.
const (
	CommitmentsBuilt  = "commitment/built"
	ReadsCommitted    = "commitment/reads"
	CommitmentFailed  = "commitment/failed"
	proofsPrefix      = "zkvm/proofs/"
	provingTimePrefix = "zkvm/time/"
	ProofFailures     = "zkvm/failed"
	verifierPrefix    = "verifier/"
	SubmissionsSent   = "submit/sent"
)

// MarkCommitment records a built commitment with the given number of reads.
func MarkCommitment(reads int) {
	gethmetrics.GetOrRegisterCounter(CommitmentsBuilt, Registry).Inc(1)
	gethmetrics.GetOrRegisterCounter(ReadsCommitted, Registry).Inc(int64(reads))
}

// MarkCommitmentFailure records a failed commitment build.
func MarkCommitmentFailure() {
	gethmetrics.GetOrRegisterCounter(CommitmentFailed, Registry).Inc(1)
}

// MarkProof records a generated proof for the named backend and how long
// the backend took.
func MarkProof(backend string, elapsed time.Duration) {
	gethmetrics.GetOrRegisterCounter(proofsPrefix+backend, Registry).Inc(1)
	ProvingTime(backend).Update(elapsed)
}

// MarkProofFailure records a request that failed inside the proving boundary.
func MarkProofFailure() {
	gethmetrics.GetOrRegisterCounter(ProofFailures, Registry).Inc(1)
}

// MarkVerification records a verifier outcome. Outcome is "verified" or the
// rejection reason.
func MarkVerification(outcome string) {
	name := verifierPrefix + strings.ReplaceAll(outcome, " ", "_")
	gethmetrics.GetOrRegisterCounter(name, Registry).Inc(1)
}

// MarkSubmission records a transaction handed to a submitter.
func MarkSubmission() {
	gethmetrics.GetOrRegisterCounter(SubmissionsSent, Registry).Inc(1)
}

// ProvingTime returns the proving-time timer of the named backend.
func ProvingTime(backend string) *gethmetrics.Timer {
	return gethmetrics.GetOrRegisterTimer(provingTimePrefix+backend, Registry)
}

// Snapshot returns every registered metric with its current values, keyed
// by metric name.
func Snapshot() map[string]map[string]interface{} {
	return Registry.GetAll()
}
