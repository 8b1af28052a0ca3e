package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMarkFunctionsRegister(t *testing.T) {
	MarkCommitment(3)
	MarkCommitmentFailure()
	MarkProof("dev", 10*time.Millisecond)
	MarkProofFailure()
	MarkVerification("verified")
	MarkVerification("stale or unknown root")
	MarkSubmission()

	names := []string{
		CommitmentsBuilt,
		ReadsCommitted,
		CommitmentFailed,
		"zkvm/proofs/dev",
		"zkvm/time/dev",
		ProofFailures,
		"verifier/verified",
		"verifier/stale_or_unknown_root",
		SubmissionsSent,
	}
	for _, name := range names {
		if Registry.Get(name) == nil {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestProvingTimeRecorded(t *testing.T) {
	Enable()
	before := ProvingTime("timed").Snapshot().Count()
	MarkProof("timed", 40*time.Millisecond)
	MarkProof("timed", 15*time.Millisecond)

	snap := ProvingTime("timed").Snapshot()
	if got := snap.Count() - before; got != 2 {
		t.Fatalf("timer count grew by %d, want 2", got)
	}
	if got := time.Duration(snap.Max()); got != 40*time.Millisecond {
		t.Fatalf("timer max = %v, want 40ms", got)
	}
}

func TestSnapshotContainsRegistered(t *testing.T) {
	MarkProof("groth16", time.Second)

	snap := Snapshot()
	if _, ok := snap["zkvm/proofs/groth16"]; !ok {
		t.Fatalf("snapshot missing groth16 counter: %v", snap)
	}
}

func TestPrometheusHandler(t *testing.T) {
	MarkCommitment(1)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PrometheusPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "commitment_built") {
		t.Fatalf("expected commitment_built in output:\n%s", body)
	}
}
