package coinselect

import (
	"bytes"
	"math/rand"
	"sort"

	"github.com/btcsuite/descwallet/pkg/btcunit"
)

// LargestFirst picks the largest candidates first.
type LargestFirst struct{}

// A compile-time assertion to ensure LargestFirst implements Algorithm.
var _ Algorithm = (*LargestFirst)(nil)

// Select implements Algorithm.
func (*LargestFirst) Select(required, optional []WeightedUtxo,
	feeRate btcunit.SatPerKWeight, target Target,
	drainScript []byte) (*Result, error) {

	ordered := make([]WeightedUtxo, len(optional))
	copy(ordered, optional)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Value() > ordered[j].Value()
	})

	return selectInOrder(required, ordered, feeRate, target, drainScript)
}

// OldestFirst picks the candidates with the most confirmations first.
// Unconfirmed and foreign candidates come last.
type OldestFirst struct{}

// A compile-time assertion to ensure OldestFirst implements Algorithm.
var _ Algorithm = (*OldestFirst)(nil)

// Select implements Algorithm.
func (*OldestFirst) Select(required, optional []WeightedUtxo,
	feeRate btcunit.SatPerKWeight, target Target,
	drainScript []byte) (*Result, error) {

	ordered := make([]WeightedUtxo, len(optional))
	copy(ordered, optional)

	sort.SliceStable(ordered, func(i, j int) bool {
		hi, hj := age(&ordered[i]), age(&ordered[j])
		if hi != hj {
			return hi < hj
		}

		a, b := ordered[i].Utxo.OutPoint(), ordered[j].Utxo.OutPoint()
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}

		return a.Index < b.Index
	})

	return selectInOrder(required, ordered, feeRate, target, drainScript)
}

// age returns a sort key that grows for younger outputs.
func age(u *WeightedUtxo) int64 {
	const unconfirmed = int64(1) << 32

	local, ok := u.Utxo.(*LocalUtxo)
	if !ok {
		return unconfirmed + 1
	}

	height := local.ChainPosition.Height()
	if height == 0 {
		return unconfirmed
	}

	return int64(height)
}

// RandomDraw picks candidates in a random order, skipping those that cost
// more to spend than they are worth.
type RandomDraw struct {
	// Rand is the source of randomness. The global source is used when
	// nil.
	Rand *rand.Rand
}

// A compile-time assertion to ensure RandomDraw implements Algorithm.
var _ Algorithm = (*RandomDraw)(nil)

// Select implements Algorithm.
func (r *RandomDraw) Select(required, optional []WeightedUtxo,
	feeRate btcunit.SatPerKWeight, target Target,
	drainScript []byte) (*Result, error) {

	// Skip inputs that do not raise the total transaction output value at
	// the requested fee rate.
	positivelyYielding := make([]WeightedUtxo, 0, len(optional))
	for i := range optional {
		if effectiveValue(&optional[i], feeRate, target) <= 0 {
			continue
		}

		positivelyYielding = append(positivelyYielding, optional[i])
	}

	shuffle := rand.Shuffle
	if r.Rand != nil {
		shuffle = r.Rand.Shuffle
	}
	shuffle(len(positivelyYielding), func(i, j int) {
		positivelyYielding[i], positivelyYielding[j] =
			positivelyYielding[j], positivelyYielding[i]
	})

	return selectInOrder(
		required, positivelyYielding, feeRate, target, drainScript,
	)
}
