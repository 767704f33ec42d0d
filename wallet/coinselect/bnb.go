package coinselect

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

const (
	// BnBTotalTries is the number of nodes the search visits before it
	// gives up.
	BnBTotalTries = 100_000

	// defaultChangeSpendWeight is the weight of spending a P2WPKH change
	// output later.
	defaultChangeSpendWeight = TxInBaseWeight + 109
)

// BranchAndBound searches for a set of candidates whose effective value
// lands between the target and the target plus the cost of a change
// output, so no change is needed. When no such set exists, or the search
// runs out of tries, it defers to Fallback.
type BranchAndBound struct {
	// Fallback runs when the search finds nothing. LargestFirst is used
	// when nil.
	Fallback Algorithm

	// ChangeSpendWeight is the weight of spending the change output later.
	// A P2WPKH spend is assumed when zero.
	ChangeSpendWeight int64
}

// A compile-time assertion to ensure BranchAndBound implements Algorithm.
var _ Algorithm = (*BranchAndBound)(nil)

// candidate is an optional utxo with its effective value.
type candidate struct {
	utxo      WeightedUtxo
	effective btcutil.Amount
}

// Select implements Algorithm.
func (b *BranchAndBound) Select(required, optional []WeightedUtxo,
	feeRate btcunit.SatPerKWeight, target Target,
	drainScript []byte) (*Result, error) {

	var requiredValue btcutil.Amount
	for i := range required {
		requiredValue += effectiveValue(&required[i], feeRate, target)
	}

	var (
		pool      []candidate
		available btcutil.Amount
	)
	for i := range optional {
		eff := effectiveValue(&optional[i], feeRate, target)
		if eff <= 0 {
			continue
		}

		pool = append(pool, candidate{utxo: optional[i], effective: eff})
		available += eff
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].effective > pool[j].effective
	})

	goal := target.Value + b.baseFee(feeRate, target)
	costOfChange := b.costOfChange(feeRate, target, drainScript)

	switch {
	// The required inputs alone already overshoot, nothing to search.
	case requiredValue > goal+costOfChange:
		return b.finish(required, nil, optional, feeRate, target,
			drainScript)

	case requiredValue+available < goal:
		return b.fallback().Select(
			required, optional, feeRate, target, drainScript,
		)
	}

	best, found := search(
		pool, requiredValue, available, goal, costOfChange,
	)
	if !found {
		log.Debugf("Branch and bound found no changeless solution, " +
			"falling back")

		return b.fallback().Select(
			required, optional, feeRate, target, drainScript,
		)
	}

	picked := make([]WeightedUtxo, 0, len(best))
	for _, i := range best {
		picked = append(picked, pool[i].utxo)
	}

	return b.finish(required, picked, optional, feeRate, target,
		drainScript)
}

// search walks the inclusion tree of pool depth first, largest first, and
// returns the indices of the selection with the least excess in the window
// [goal, goal+costOfChange].
func search(pool []candidate, current, available, goal,
	costOfChange btcutil.Amount) ([]int, bool) {

	var (
		selection []bool
		best      []int
		bestWaste btcutil.Amount
		found     bool
	)

	for try := 0; try < BnBTotalTries; try++ {
		backtrack := false

		switch {
		case current+available < goal || current > goal+costOfChange:
			backtrack = true

		case current >= goal:
			backtrack = true

			waste := current - goal
			if !found || waste <= bestWaste {
				best = best[:0]
				for i, in := range selection {
					if in {
						best = append(best, i)
					}
				}
				bestWaste = waste
				found = true
			}

			if waste == 0 {
				return best, true
			}
		}

		if !backtrack {
			next := pool[len(selection)]
			available -= next.effective
			current += next.effective
			selection = append(selection, true)

			continue
		}

		// Drop the trailing exclusions, then exclude the last
		// inclusion.
		for len(selection) > 0 && !selection[len(selection)-1] {
			selection = selection[:len(selection)-1]
			available += pool[len(selection)].effective
		}

		if len(selection) == 0 {
			break
		}

		selection[len(selection)-1] = false
		current -= pool[len(selection)-1].effective
	}

	return best, found
}

// finish settles the change of a selection, deferring to the fallback if
// rounding left it short.
func (b *BranchAndBound) finish(required, picked, optional []WeightedUtxo,
	feeRate btcunit.SatPerKWeight, target Target,
	drainScript []byte) (*Result, error) {

	selected := make([]WeightedUtxo, 0, len(required)+len(picked))
	selected = append(selected, required...)
	selected = append(selected, picked...)

	needed := target.Value + target.Fee(feeRate, selected, nil)
	if total(selected) < needed {
		return b.fallback().Select(
			required, optional, feeRate, target, drainScript,
		)
	}

	return decideChange(selected, feeRate, target, drainScript), nil
}

// baseFee is the fee of the transaction without inputs, counting the
// segwit marker.
func (b *BranchAndBound) baseFee(feeRate btcunit.SatPerKWeight,
	target Target) btcutil.Amount {

	if target.AbsoluteFee.IsSome() {
		return target.AbsoluteFee.UnwrapOr(0)
	}

	weight := btcunit.NewWeightUnit(
		uint64(target.BaseWeight + SegwitMarkerWeight),
	)

	return feeRate.FeeForWeightRoundUp(weight)
}

// costOfChange is the fee of creating a change output now and spending it
// later.
func (b *BranchAndBound) costOfChange(feeRate btcunit.SatPerKWeight,
	target Target, drainScript []byte) btcutil.Amount {

	if drainScript == nil || target.AbsoluteFee.IsSome() {
		return 0
	}

	spend := b.ChangeSpendWeight
	if spend == 0 {
		spend = defaultChangeSpendWeight
	}

	weight := btcunit.NewWeightUnit(
		uint64(OutputWeight(drainScript) + spend),
	)

	return feeRate.FeeForWeightRoundUp(weight)
}

// fallback returns the algorithm to defer to.
func (b *BranchAndBound) fallback() Algorithm {
	if b.Fallback == nil {
		return &LargestFirst{}
	}

	return b.Fallback
}
