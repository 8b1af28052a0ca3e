package metric

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eth2030/metricproof/core/types"
)

// View is the only way a computation can see state: a commitment filtered
// to the keys the computation declared.
type View struct {
	c        *types.StateCommitment
	declared map[types.ReadKey]struct{}
}

// NewView restricts c to the declared keys.
func NewView(c *types.StateCommitment, declared []types.ReadKey) *View {
	v := &View{c: c, declared: make(map[types.ReadKey]struct{}, len(declared))}
	for _, k := range declared {
		v.declared[k] = struct{}{}
	}
	return v
}

// Uint returns the value at key as an unsigned integer. Reading a key that
// was not declared, or that the commitment does not hold, is a fetch miss.
func (v *View) Uint(key types.ReadKey) (*uint256.Int, error) {
	if _, ok := v.declared[key]; !ok {
		return nil, fmt.Errorf("%w: undeclared %s/%s", types.ErrFetchMiss, key.Address.Hex(), key.Slot.Hex())
	}
	val, ok := v.c.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s not committed", types.ErrFetchMiss, key.Address.Hex(), key.Slot.Hex())
	}
	return new(uint256.Int).SetBytes32(val[:]), nil
}

// Root returns the block root the view is anchored to.
func (v *View) Root() types.BlockRoot {
	return v.c.Root
}
