package rawdb

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/metricproof/core/types"
)

// Key prefixes for the verifier database schema.
var (
	metricPrefix  = []byte("m") // m + kind (1 byte) + seq (8 bytes BE) -> VerifiedMetric RLP
	countPrefix   = []byte("n") // n + kind (1 byte) -> number of accepted metrics (8 bytes BE)
	requestPrefix = []byte("q") // q + request key -> kind (1 byte) + seq (8 bytes BE)
	journalPrefix = []byte("j") // j + journal hash -> request key
)

// encodeSeq encodes a sequence number as an 8-byte big-endian value.
func encodeSeq(seq uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, seq)
	return enc
}

// metricKindPrefix = metricPrefix + kind
func metricKindPrefix(kind types.MetricKind) []byte {
	return append(append([]byte{}, metricPrefix...), byte(kind))
}

// metricKey = metricPrefix + kind + seq
func metricKey(kind types.MetricKind, seq uint64) []byte {
	return append(metricKindPrefix(kind), encodeSeq(seq)...)
}

// countKey = countPrefix + kind
func countKey(kind types.MetricKind) []byte {
	return append(append([]byte{}, countPrefix...), byte(kind))
}

// requestKey = requestPrefix + key
func requestKey(key common.Hash) []byte {
	return append(append([]byte{}, requestPrefix...), key[:]...)
}

// journalKey = journalPrefix + journal hash
func journalKey(hash common.Hash) []byte {
	return append(append([]byte{}, journalPrefix...), hash[:]...)
}
