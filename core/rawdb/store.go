// Package rawdb persists the verifier's state in LevelDB: an append-only log
// of accepted metrics per kind and the replay index over request keys.
package rawdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/eth2030/metricproof/core/types"
)

var (
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("rawdb: not found")
	// ErrRequestKnown is returned when appending a metric whose request key
	// is already indexed.
	ErrRequestKnown = errors.New("rawdb: request already recorded")
	// ErrCorrupt is returned for malformed index entries.
	ErrCorrupt = errors.New("rawdb: corrupt entry")
)

// Store is the verifier database. Reads are safe for concurrent use; appends
// are serialized.
type Store struct {
	db   *leveldb.DB
	sync bool
	mu   sync.Mutex
}

// Open opens or creates a database at path. An empty path opens an
// in-memory database.
func Open(path string) (*Store, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("rawdb: open %q: %w", path, err)
	}
	return &Store{db: db, sync: path != ""}, nil
}

// NewMemoryStore opens an in-memory database.
func NewMemoryStore() (*Store, error) {
	return Open("")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte) ([]byte, error) {
	data, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

// HasRequest reports whether a metric with the given request key has been
// accepted.
func (s *Store) HasRequest(key common.Hash) (bool, error) {
	return s.db.Has(requestKey(key), nil)
}

// HasJournal reports whether an accepted metric carries the given journal
// hash.
func (s *Store) HasJournal(hash common.Hash) (bool, error) {
	return s.db.Has(journalKey(hash), nil)
}

// Count returns the number of accepted metrics of a kind.
func (s *Store) Count(kind types.MetricKind) (uint64, error) {
	data, err := s.get(countKey(kind))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: count for %v", ErrCorrupt, kind)
	}
	return binary.BigEndian.Uint64(data), nil
}

// ReadMetric returns the seq-th accepted metric of a kind.
func (s *Store) ReadMetric(kind types.MetricKind, seq uint64) (*types.VerifiedMetric, error) {
	data, err := s.get(metricKey(kind, seq))
	if err != nil {
		return nil, err
	}
	var m types.VerifiedMetric
	if err := rlp.DecodeBytes(data, &m); err != nil {
		return nil, fmt.Errorf("%w: metric %v/%d: %v", ErrCorrupt, kind, seq, err)
	}
	return &m, nil
}

// LatestMetric returns the most recently accepted metric of a kind.
func (s *Store) LatestMetric(kind types.MetricKind) (*types.VerifiedMetric, error) {
	n, err := s.Count(kind)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.ReadMetric(kind, n-1)
}

// ReadByRequest returns the metric accepted for a request key.
func (s *Store) ReadByRequest(key common.Hash) (*types.VerifiedMetric, error) {
	data, err := s.get(requestKey(key))
	if err != nil {
		return nil, err
	}
	if len(data) != 9 {
		return nil, fmt.Errorf("%w: request %s", ErrCorrupt, key.Hex())
	}
	return s.ReadMetric(types.MetricKind(data[0]), binary.BigEndian.Uint64(data[1:]))
}

// IterateMetrics calls fn for every accepted metric of a kind in acceptance
// order, stopping at the first error.
func (s *Store) IterateMetrics(kind types.MetricKind, fn func(*types.VerifiedMetric) error) error {
	it := s.db.NewIterator(util.BytesPrefix(metricKindPrefix(kind)), nil)
	defer it.Release()

	for it.Next() {
		var m types.VerifiedMetric
		if err := rlp.DecodeBytes(it.Value(), &m); err != nil {
			return fmt.Errorf("%w: %x: %v", ErrCorrupt, it.Key(), err)
		}
		if err := fn(&m); err != nil {
			return err
		}
	}
	return it.Error()
}

// AppendMetric writes m as the next entry of its kind's log together with
// the replay index entry for key, in one atomic batch. It assigns and
// returns m.Seq.
func (s *Store) AppendMetric(key common.Hash, m *types.VerifiedMetric) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known, err := s.HasRequest(key)
	if err != nil {
		return 0, err
	}
	if known {
		return 0, fmt.Errorf("%w: %s", ErrRequestKnown, key.Hex())
	}
	kind := m.Record.Kind
	seq, err := s.Count(kind)
	if err != nil {
		return 0, err
	}
	m.Seq = seq
	enc, err := rlp.EncodeToBytes(m)
	if err != nil {
		return 0, err
	}

	batch := new(leveldb.Batch)
	batch.Put(metricKey(kind, seq), enc)
	batch.Put(countKey(kind), encodeSeq(seq+1))
	batch.Put(requestKey(key), append([]byte{byte(kind)}, encodeSeq(seq)...))
	batch.Put(journalKey(m.JournalHash), key[:])
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: s.sync}); err != nil {
		return 0, fmt.Errorf("rawdb: append %v/%d: %w", kind, seq, err)
	}
	return seq, nil
}
