package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ProofMode distinguishes placeholder development artifacts from succinct
// proofs. It travels with every request and every artifact.
type ProofMode uint8

const (
	// ModeDev runs the guest directly and emits a placeholder seal.
	ModeDev ProofMode = iota
	// ModeGroth16 produces a Groth16 proof locally.
	ModeGroth16
	// ModeRemote delegates proving to a remote proving service.
	ModeRemote
)

func (m ProofMode) String() string {
	switch m {
	case ModeDev:
		return "dev"
	case ModeGroth16:
		return "groth16"
	case ModeRemote:
		return "remote"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseProofMode resolves a mode from its name.
func ParseProofMode(s string) (ProofMode, error) {
	switch s {
	case "dev":
		return ModeDev, nil
	case "groth16":
		return ModeGroth16, nil
	case "remote":
		return ModeRemote, nil
	}
	return 0, fmt.Errorf("unknown proof mode %q", s)
}

// ProofArtifact is an opaque seal together with the journal it attests to.
type ProofArtifact struct {
	Mode    ProofMode
	ImageID common.Hash
	Journal []byte
	Seal    []byte
}

// JournalHash is the keccak256 of the journal bytes.
func (a *ProofArtifact) JournalHash() common.Hash {
	return crypto.Keccak256Hash(a.Journal)
}

// Record decodes the journal.
func (a *ProofArtifact) Record() (*MetricRecord, error) {
	return DecodeJournal(a.Journal)
}

// VerifiedMetric is one accepted entry of the verifier's append-only log.
type VerifiedMetric struct {
	Seq            uint64 // acceptance order within the metric kind
	Record         MetricRecord
	AcceptedAtRoot BlockRoot
	AcceptedAt     uint64 // unix seconds of the accepting block
	JournalHash    common.Hash
}

// Status is the verifier's view of a submission.
type Status uint8

const (
	StatusPending Status = iota
	StatusVerified
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusRejected
}
