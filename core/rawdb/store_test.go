package rawdb

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/metricproof/core/types"
)

func testMetric(kind types.MetricKind, height uint64, value uint64) *types.VerifiedMetric {
	rec := types.MetricRecord{
		Kind: kind,
		Primary: types.CommitmentRef{
			Root:   types.BlockRoot{Height: height, Hash: common.BytesToHash([]byte{byte(height), 1})},
			Digest: common.BytesToHash([]byte{byte(height), 2}),
		},
		Values: []types.NamedValue{{Name: "value", Value: uint256.NewInt(value)}},
	}
	return &types.VerifiedMetric{
		Record:         rec,
		AcceptedAtRoot: types.BlockRoot{Height: height + 1},
		AcceptedAt:     1000 + height,
		JournalHash:    common.BytesToHash([]byte{byte(height), 3}),
	}
}

func TestAppendAndRead(t *testing.T) {
	s, err := NewMemoryStore()
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(0); i < 3; i++ {
		m := testMetric(types.CirculatingSupply, 10+i, 100*i)
		seq, err := s.AppendMetric(m.Record.RequestKey(), m)
		require.NoError(t, err)
		require.Equal(t, i, seq)
	}
	other := testMetric(types.Utilization, 50, 7)
	seq, err := s.AppendMetric(other.Record.RequestKey(), other)
	require.NoError(t, err)
	require.Zero(t, seq, "sequences are per kind")

	n, err := s.Count(types.CirculatingSupply)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	latest, err := s.LatestMetric(types.CirculatingSupply)
	require.NoError(t, err)
	require.EqualValues(t, 2, latest.Seq)
	require.EqualValues(t, 12, latest.Record.Primary.Root.Height)
	require.Equal(t, uint64(200), latest.Record.Value("value").Uint64())
	require.Nil(t, latest.Record.Past)

	var heights []uint64
	err = s.IterateMetrics(types.CirculatingSupply, func(m *types.VerifiedMetric) error {
		heights = append(heights, m.Record.Primary.Root.Height)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 11, 12}, heights)

	byReq, err := s.ReadByRequest(other.Record.RequestKey())
	require.NoError(t, err)
	require.Equal(t, types.Utilization, byReq.Record.Kind)

	ok, err := s.HasJournal(other.JournalHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAppendRejectsKnownRequest(t *testing.T) {
	s, err := NewMemoryStore()
	require.NoError(t, err)
	defer s.Close()

	m := testMetric(types.Inflation, 20, 526)
	ref := types.CommitmentRef{Root: types.BlockRoot{Height: 10}}
	m.Record.Past = &ref
	key := m.Record.RequestKey()
	_, err = s.AppendMetric(key, m)
	require.NoError(t, err)

	_, err = s.AppendMetric(key, testMetric(types.Inflation, 20, 1))
	require.True(t, errors.Is(err, ErrRequestKnown))

	n, err := s.Count(types.Inflation)
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "rejected append must not change state")

	got, err := s.ReadMetric(types.Inflation, 0)
	require.NoError(t, err)
	require.NotNil(t, got.Record.Past)
	require.EqualValues(t, 10, got.Record.Past.Root.Height)
}

func TestReadMissing(t *testing.T) {
	s, err := NewMemoryStore()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LatestMetric(types.CompoundAPR)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.ReadByRequest(common.Hash{1})
	require.ErrorIs(t, err, ErrNotFound)
	known, err := s.HasRequest(common.Hash{1})
	require.NoError(t, err)
	require.False(t, known)
}

func TestPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	m := testMetric(types.CirculatingSupply, 5, 42)
	_, err = s.AppendMetric(m.Record.RequestKey(), m)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	known, err := s.HasRequest(m.Record.RequestKey())
	require.NoError(t, err)
	require.True(t, known)
}
