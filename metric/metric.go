// Package metric implements the metric computations. Every function is pure:
// it reads only through a View over already-built commitments, performs
// overflow-checked 256-bit arithmetic and returns a MetricRecord.
package metric

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eth2030/metricproof/core/types"
)

// BasisPoints is the denominator of a basis-point ratio.
const BasisPoints = 10_000

// Value names emitted in metric records.
const (
	ValueTotalSupply           = "totalSupply"
	ValueExcludedBalance       = "excludedBalance"
	ValueCirculatingSupply     = "circulatingSupply"
	ValuePastCirculatingSupply = "pastCirculatingSupply"
	ValueInflationBasisPoints  = "inflationBasisPoints"
	ValueIndex                 = "index"
	ValuePastIndex             = "pastIndex"
	ValueBlockDelta            = "blockDelta"
	ValueAPR                   = "apr"
	ValueTotalBorrow           = "totalBorrow"
	ValueUtilization           = "utilization"
)

// Compute runs the metric of the given kind. Two-point kinds require past
// and check block ordering before any arithmetic; single-point kinds reject
// a past commitment.
func Compute(kind types.MetricKind, params Params, cur, past *types.StateCommitment) (*types.MetricRecord, error) {
	if err := checkParams(kind, params); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: missing commitment", types.ErrFetchMiss)
	}
	if kind.TwoPoint() {
		if past == nil {
			return nil, fmt.Errorf("%w: %v needs a past commitment", types.ErrFetchMiss, kind)
		}
		if past.Root.Height >= cur.Root.Height {
			return nil, fmt.Errorf("%w: past %d, current %d", types.ErrInvalidBlockOrdering, past.Root.Height, cur.Root.Height)
		}
	} else if past != nil {
		return nil, fmt.Errorf("%w: %v takes a single commitment", ErrWrongParams, kind)
	}

	digest, err := ParamsDigest(kind, params)
	if err != nil {
		return nil, err
	}
	declared := params.Reads()
	rec := &types.MetricRecord{Kind: kind, ParamsDigest: digest, Primary: cur.Ref()}
	curView := NewView(cur, declared)
	var pastView *View
	if past != nil {
		ref := past.Ref()
		rec.Past = &ref
		pastView = NewView(past, declared)
	}

	var values []types.NamedValue
	switch kind {
	case types.CirculatingSupply:
		values, err = circulatingSupply(params.(*SupplyParams), curView)
	case types.Inflation:
		values, err = inflation(params.(*SupplyParams), curView, pastView)
	case types.CompoundAPR:
		values, err = compoundAPR(params.(*IndexParams), curView, pastView)
	case types.Utilization:
		values, err = utilization(params.(*UtilizationParams), curView)
	}
	if err != nil {
		return nil, err
	}
	rec.Values = values
	return rec, nil
}

func named(name string, v *uint256.Int) types.NamedValue {
	return types.NamedValue{Name: name, Value: v}
}

// supply returns total supply, summed excluded balance and their difference.
func supply(p *SupplyParams, v *View) (total, excluded, circulating *uint256.Int, err error) {
	total, err = v.Uint(types.ReadKey{Address: p.Token, Slot: p.TotalSupplySlot})
	if err != nil {
		return nil, nil, nil, err
	}
	excluded = new(uint256.Int)
	for _, a := range p.Excluded {
		bal, err := v.Uint(types.ReadKey{Address: p.Token, Slot: MappingSlot(a, p.BalancesSlot)})
		if err != nil {
			return nil, nil, nil, err
		}
		if _, overflow := excluded.AddOverflow(excluded, bal); overflow {
			return nil, nil, nil, fmt.Errorf("%w: excluded balance sum", types.ErrArithmeticOverflow)
		}
	}
	circulating, underflow := new(uint256.Int).SubOverflow(total, excluded)
	if underflow {
		return nil, nil, nil, fmt.Errorf("%w: excluded balance %s exceeds total supply %s", types.ErrArithmeticOverflow, excluded.Dec(), total.Dec())
	}
	return total, excluded, circulating, nil
}

func circulatingSupply(p *SupplyParams, cur *View) ([]types.NamedValue, error) {
	total, excluded, circ, err := supply(p, cur)
	if err != nil {
		return nil, err
	}
	return []types.NamedValue{
		named(ValueTotalSupply, total),
		named(ValueExcludedBalance, excluded),
		named(ValueCirculatingSupply, circ),
	}, nil
}

// inflation is ((cur - past) * 10000) / past with truncating division. A
// shrinking supply is an underflow, not a negative rate.
func inflation(p *SupplyParams, cur, past *View) ([]types.NamedValue, error) {
	_, _, curCirc, err := supply(p, cur)
	if err != nil {
		return nil, err
	}
	_, _, pastCirc, err := supply(p, past)
	if err != nil {
		return nil, err
	}
	if pastCirc.IsZero() {
		return nil, fmt.Errorf("%w: past circulating supply is zero", types.ErrDivisionByZero)
	}
	diff, underflow := new(uint256.Int).SubOverflow(curCirc, pastCirc)
	if underflow {
		return nil, fmt.Errorf("%w: circulating supply decreased", types.ErrArithmeticOverflow)
	}
	bps, overflow := new(uint256.Int).MulOverflow(diff, uint256.NewInt(BasisPoints))
	if overflow {
		return nil, fmt.Errorf("%w: supply delta * %d", types.ErrArithmeticOverflow, BasisPoints)
	}
	bps.Div(bps, pastCirc)
	return []types.NamedValue{
		named(ValueCirculatingSupply, curCirc),
		named(ValuePastCirculatingSupply, pastCirc),
		named(ValueInflationBasisPoints, bps),
	}, nil
}

// compoundAPR annualises index growth: (cur - past) * scale * blocksPerYear
// / (past * blocks elapsed), in scale fixed point.
func compoundAPR(p *IndexParams, cur, past *View) ([]types.NamedValue, error) {
	key := types.ReadKey{Address: p.Market, Slot: p.IndexSlot}
	curIdx, err := cur.Uint(key)
	if err != nil {
		return nil, err
	}
	pastIdx, err := past.Uint(key)
	if err != nil {
		return nil, err
	}
	if curIdx.Lt(pastIdx) {
		return nil, fmt.Errorf("%w: %s < %s", types.ErrNonMonotonicIndex, curIdx.Dec(), pastIdx.Dec())
	}
	if pastIdx.IsZero() {
		return nil, fmt.Errorf("%w: past index is zero", types.ErrDivisionByZero)
	}
	blocks := uint256.NewInt(cur.Root().Height - past.Root().Height)

	num := new(uint256.Int).Sub(curIdx, pastIdx)
	if _, overflow := num.MulOverflow(num, uint256.NewInt(p.Scale)); overflow {
		return nil, fmt.Errorf("%w: index delta * scale", types.ErrArithmeticOverflow)
	}
	if _, overflow := num.MulOverflow(num, uint256.NewInt(p.BlocksPerYear)); overflow {
		return nil, fmt.Errorf("%w: index delta * blocksPerYear", types.ErrArithmeticOverflow)
	}
	den, overflow := new(uint256.Int).MulOverflow(pastIdx, blocks)
	if overflow {
		return nil, fmt.Errorf("%w: past index * blocks", types.ErrArithmeticOverflow)
	}
	apr := new(uint256.Int).Div(num, den)
	return []types.NamedValue{
		named(ValueIndex, curIdx),
		named(ValuePastIndex, pastIdx),
		named(ValueBlockDelta, blocks),
		named(ValueAPR, apr),
	}, nil
}

// utilization is borrow * scale / supply, zero for an empty market.
func utilization(p *UtilizationParams, cur *View) ([]types.NamedValue, error) {
	sup, err := cur.Uint(types.ReadKey{Address: p.Market, Slot: p.TotalSupplySlot})
	if err != nil {
		return nil, err
	}
	bor, err := cur.Uint(types.ReadKey{Address: p.Market, Slot: p.TotalBorrowSlot})
	if err != nil {
		return nil, err
	}
	util := new(uint256.Int)
	if !sup.IsZero() {
		if _, overflow := util.MulOverflow(bor, uint256.NewInt(p.Scale)); overflow {
			return nil, fmt.Errorf("%w: borrow * scale", types.ErrArithmeticOverflow)
		}
		util.Div(util, sup)
	}
	return []types.NamedValue{
		named(ValueTotalSupply, sup),
		named(ValueTotalBorrow, bor),
		named(ValueUtilization, util),
	}, nil
}
