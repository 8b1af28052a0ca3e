package types

import "errors"

// Acquisition errors: recoverable by retrying another endpoint or waiting
// for the chain to progress.
var (
	ErrUnresolvedBlock             = errors.New("unresolved block")
	ErrProofOfInclusionUnavailable = errors.New("proof of inclusion unavailable")
)

// Computation errors: deterministic, never retried.
var (
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrNonMonotonicIndex    = errors.New("non-monotonic index")
	ErrInvalidBlockOrdering = errors.New("invalid block ordering")
	ErrFetchMiss            = errors.New("read outside commitment")
)

// Proving errors: retryable at the caller's discretion.
var (
	ErrProvingBackendUnavailable = errors.New("proving backend unavailable")
	ErrComputationFailed         = errors.New("computation failed")
)

// Verification errors: fatal to the submission.
var (
	ErrInvalidProof        = errors.New("invalid proof")
	ErrStaleOrUnknownRoot  = errors.New("stale or unknown root")
	ErrDuplicateSubmission = errors.New("duplicate submission")
)

// ErrorClass groups errors by how a caller should react to them.
type ErrorClass uint8

const (
	ClassUnknown ErrorClass = iota
	ClassAcquisition
	ClassComputation
	ClassProving
	ClassVerification
)

func (c ErrorClass) String() string {
	switch c {
	case ClassAcquisition:
		return "acquisition"
	case ClassComputation:
		return "computation"
	case ClassProving:
		return "proving"
	case ClassVerification:
		return "verification"
	default:
		return "unknown"
	}
}

// Classify reports the class of err. Computation causes wrapped inside
// ErrComputationFailed classify as computation errors.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrUnresolvedBlock), errors.Is(err, ErrProofOfInclusionUnavailable):
		return ClassAcquisition
	case errors.Is(err, ErrArithmeticOverflow), errors.Is(err, ErrDivisionByZero),
		errors.Is(err, ErrNonMonotonicIndex), errors.Is(err, ErrInvalidBlockOrdering),
		errors.Is(err, ErrFetchMiss):
		return ClassComputation
	case errors.Is(err, ErrProvingBackendUnavailable), errors.Is(err, ErrComputationFailed):
		return ClassProving
	case errors.Is(err, ErrInvalidProof), errors.Is(err, ErrStaleOrUnknownRoot),
		errors.Is(err, ErrDuplicateSubmission):
		return ClassVerification
	}
	return ClassUnknown
}

// Retryable reports whether retrying the same request may succeed.
// Deterministic computation failures are never retryable, even when they
// surface through the proving boundary.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassAcquisition:
		return true
	case ClassProving:
		return errors.Is(err, ErrProvingBackendUnavailable)
	}
	return false
}
