package pipeline

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/metricproof/commitment"
	"github.com/eth2030/metricproof/core/rawdb"
	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/light"
	"github.com/eth2030/metricproof/metric"
	"github.com/eth2030/metricproof/submit"
	"github.com/eth2030/metricproof/verifier"
	"github.com/eth2030/metricproof/witness"
	"github.com/eth2030/metricproof/zkvm"
)

var (
	token  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	market = common.HexToAddress("0x0000000000000000000000000000000000002002")
	burn   = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

const scale = 1_000_000_000_000_000_000

func supply() *metric.SupplyParams {
	return &metric.SupplyParams{Token: token, TotalSupplySlot: metric.Slot(2), BalancesSlot: metric.Slot(0), Excluded: []common.Address{burn}}
}

func utilization() *metric.UtilizationParams {
	return &metric.UtilizationParams{Market: market, TotalSupplySlot: metric.Slot(0), TotalBorrowSlot: metric.Slot(1), Scale: scale}
}

func index() *metric.IndexParams {
	return &metric.IndexParams{Market: market, IndexSlot: metric.Slot(3), BlocksPerYear: 2_628_000, Scale: scale}
}

// newPipeline commits blocks 0..9 and wires a pipeline to an in-process
// verifier following the same chain.
func newPipeline(t *testing.T) (*Pipeline, *verifier.Verifier) {
	t.Helper()
	s := witness.NewMemoryState()
	o := light.NewBlockHashOracle()
	for i := uint64(0); i < 10; i++ {
		s.SetUint(token, metric.Slot(2), uint256.NewInt(1_000_000+10_000*i))
		s.SetUint(token, metric.MappingSlot(burn, metric.Slot(0)), uint256.NewInt(50_000))
		s.SetUint(market, metric.Slot(0), uint256.NewInt(800))
		s.SetUint(market, metric.Slot(1), uint256.NewInt(200))
		s.SetUint(market, metric.Slot(3), new(uint256.Int).Add(uint256.NewInt(scale), uint256.NewInt(i*1_000_000_000)))
		h, err := s.Commit(1000 + 12*i)
		require.NoError(t, err)
		require.NoError(t, o.Record(h))
	}
	s.SetFinalized(9)

	store, err := rawdb.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	v, err := verifier.New(verifier.Config{Window: 64, AllowDevProofs: true}, o, store, nil)
	require.NoError(t, err)
	require.NoError(t, v.BindParams(types.CirculatingSupply, supply()))
	require.NoError(t, v.BindParams(types.Inflation, supply()))
	require.NoError(t, v.BindParams(types.CompoundAPR, index()))
	require.NoError(t, v.BindParams(types.Utilization, utilization()))

	p := New(
		commitment.NewBuilder(witness.NewCachedReader(s, 0), commitment.Config{}),
		zkvm.NewExecutor(zkvm.NewDevBackend()),
		submit.NewLocal(v, s),
		2,
	)
	return p, v
}

func past(n uint64) *witness.BlockID {
	id := witness.NumberID(n)
	return &id
}

func TestRunAll(t *testing.T) {
	p, v := newPipeline(t)
	reqs := []*Request{
		{Name: "supply", Kind: types.CirculatingSupply, Block: witness.NumberID(9), Params: supply()},
		{Name: "inflation", Kind: types.Inflation, Block: witness.NumberID(9), Past: past(4), Params: supply()},
		{Name: "apr", Kind: types.CompoundAPR, Block: witness.NumberID(8), Past: past(2), Params: index()},
		{Name: "util", Kind: types.Utilization, Block: witness.TagID(witness.TagFinalized), Params: utilization()},
		{Name: "backwards", Kind: types.Inflation, Block: witness.NumberID(2), Past: past(5), Params: supply()},
	}
	results := p.RunAll(context.Background(), reqs)
	require.Len(t, results, len(reqs))

	for _, res := range results[:4] {
		require.NoError(t, res.Err, res.Request.Name)
		require.Equal(t, types.StatusVerified, res.Receipt.Status, res.Request.Name)
	}
	require.Equal(t, uint64(1_040_000), results[0].Record.Value(metric.ValueCirculatingSupply).Uint64())
	// (1040000 - 990000) * 10000 / 990000
	require.Equal(t, uint64(505), results[1].Record.Value(metric.ValueInflationBasisPoints).Uint64())
	// 6e9 * 1e18 * 2628000 / (1e18+2e9) / 6 blocks, truncated
	require.Equal(t, "2627999994744000", results[2].Record.Value(metric.ValueAPR).Dec())
	require.Equal(t, uint64(scale/4), results[3].Record.Value(metric.ValueUtilization).Uint64())

	bad := results[4]
	require.ErrorIs(t, bad.Err, types.ErrInvalidBlockOrdering)
	require.Equal(t, types.ClassComputation, types.Classify(bad.Err))
	require.Nil(t, bad.Artifact)
	require.Nil(t, bad.Receipt)

	for _, kind := range []types.MetricKind{types.CirculatingSupply, types.Inflation, types.CompoundAPR, types.Utilization} {
		n, err := v.Count(kind)
		require.NoError(t, err)
		require.EqualValues(t, 1, n, kind.String())
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	p, _ := newPipeline(t)
	for _, req := range []*Request{
		{Name: "no-past", Kind: types.Inflation, Block: witness.NumberID(3), Params: supply()},
		{Name: "extra-past", Kind: types.Utilization, Block: witness.NumberID(3), Past: past(1), Params: utilization()},
		{Name: "no-params", Kind: types.CirculatingSupply, Block: witness.NumberID(3)},
		{Name: "kind", Kind: types.MetricKind(99), Block: witness.NumberID(3), Params: supply()},
	} {
		res := p.Run(context.Background(), req)
		require.ErrorIs(t, res.Err, ErrBadRequest, req.Name)
	}

	res := p.Run(context.Background(), &Request{Name: "wrong-params", Kind: types.Utilization, Block: witness.NumberID(3), Params: supply()})
	require.ErrorIs(t, res.Err, metric.ErrWrongParams)
}

func TestRunReplayAndCancel(t *testing.T) {
	p, _ := newPipeline(t)
	req := &Request{Name: "supply", Kind: types.CirculatingSupply, Block: witness.NumberID(5), Params: supply()}
	require.NoError(t, p.Run(context.Background(), req).Err)

	res := p.Run(context.Background(), req)
	require.ErrorIs(t, res.Err, types.ErrDuplicateSubmission)
	require.NotNil(t, res.Artifact, "proving completed before submission")
	require.Equal(t, types.StatusRejected, res.Receipt.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = p.Run(ctx, &Request{Name: "late", Kind: types.CirculatingSupply, Block: witness.NumberID(6), Params: supply()})
	require.ErrorIs(t, res.Err, context.Canceled)
}
