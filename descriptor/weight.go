package descriptor

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

const (
	// sigElementSize is a DER signature with sighash byte and its length
	// prefix.
	sigElementSize = 1 + 73

	// pubKeyElementSize is a compressed public key with its length prefix.
	pubKeyElementSize = 1 + 33

	// preimageElementSize is a 32 byte preimage with its length prefix.
	preimageElementSize = 1 + 32

	// taprootKeySpendWeight is the witness of a key path spend: the item
	// count and a 65 byte signature with its length prefix, allowing for a
	// non-default sighash.
	taprootKeySpendWeight = 1 + 1 + 65
)

// satCost is the size in bytes and the element count of a witness stack.
// The zero value is an impossible satisfaction.
type satCost struct {
	size  int
	count int
	ok    bool
}

// cost builds a possible satCost.
func cost(size, count int) satCost {
	return satCost{size: size, count: count, ok: true}
}

// plus concatenates two stacks.
func (c satCost) plus(o satCost) satCost {
	if !c.ok || !o.ok {
		return satCost{}
	}

	return cost(c.size+o.size, c.count+o.count)
}

// maxCost returns the larger of two possible stacks.
func maxCost(a, b satCost) satCost {
	switch {
	case !a.ok:
		return b

	case !b.ok:
		return a

	case b.size > a.size:
		return b

	default:
		return a
	}
}

// costs returns the worst case satisfaction and dissatisfaction of the node.
func (n *Node) costs() (satCost, satCost) {
	var sub [3][2]satCost
	for i, s := range n.Subs {
		if i < len(sub) {
			sub[i][0], sub[i][1] = s.costs()
		}
	}
	x, y, z := sub[0], sub[1], sub[2]

	switch n.Frag {
	case FragFalse:
		return satCost{}, cost(0, 0)

	case FragTrue:
		return cost(0, 0), satCost{}

	case FragPkK:
		return cost(sigElementSize, 1), cost(1, 1)

	case FragPkH:
		return cost(sigElementSize+pubKeyElementSize, 2),
			cost(1+pubKeyElementSize, 2)

	case FragOlder, FragAfter:
		return cost(0, 0), satCost{}

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		return cost(preimageElementSize, 1), cost(preimageElementSize, 1)

	case FragMulti, FragSortedMulti:
		k := int(n.Value)
		return cost(1+k*sigElementSize, k+1), cost(1+k, k+1)

	case FragAndV:
		return x[0].plus(y[0]), satCost{}

	case FragAndB:
		return x[0].plus(y[0]), x[1].plus(y[1])

	case FragAndOr:
		return maxCost(x[0].plus(y[0]), x[1].plus(z[0])), x[1].plus(z[1])

	case FragOrB:
		return maxCost(x[0].plus(y[1]), x[1].plus(y[0])), x[1].plus(y[1])

	case FragOrC:
		return maxCost(x[0], x[1].plus(y[0])), satCost{}

	case FragOrD:
		return maxCost(x[0], x[1].plus(y[0])), x[1].plus(y[1])

	case FragOrI:
		one, zero := cost(2, 1), cost(1, 1)
		return maxCost(x[0].plus(one), y[0].plus(zero)),
			maxCost(x[1].plus(one), y[1].plus(zero))

	case FragThresh:
		return n.threshCosts()

	case FragWrapA, FragWrapS, FragWrapC, FragWrapN:
		return x[0], x[1]

	case FragWrapD:
		return x[0].plus(cost(2, 1)), cost(1, 1)

	case FragWrapV:
		return x[0], satCost{}

	case FragWrapJ:
		return x[0], cost(1, 1)
	}

	return satCost{}, satCost{}
}

// threshCosts picks the k subexpressions whose satisfaction adds the most
// over their dissatisfaction.
func (n *Node) threshCosts() (satCost, satCost) {
	type choice struct {
		sat, dissat satCost
	}

	choices := make([]choice, len(n.Subs))
	dissat := cost(0, 0)
	for i, s := range n.Subs {
		choices[i].sat, choices[i].dissat = s.costs()
		dissat = dissat.plus(choices[i].dissat)
	}

	// Subs that can't be dissatisfied must be satisfied.
	sat := cost(0, 0)
	picked := make([]bool, len(choices))
	need := int(n.Value)
	for i, c := range choices {
		if !c.dissat.ok && need > 0 {
			sat = sat.plus(c.sat)
			picked[i] = true
			need--
		}
	}

	for ; need > 0; need-- {
		best := -1
		for i, c := range choices {
			if picked[i] || !c.sat.ok {
				continue
			}

			if best < 0 || c.sat.size-c.dissat.size >
				choices[best].sat.size-choices[best].dissat.size {

				best = i
			}
		}

		if best < 0 {
			return satCost{}, dissat
		}

		sat = sat.plus(choices[best].sat)
		picked[best] = true
	}

	for i, c := range choices {
		if !picked[i] {
			sat = sat.plus(c.dissat)
		}
	}

	return sat, dissat
}

// MaxWeightToSatisfy returns the worst case weight of the scriptSig and
// witness needed to spend an output of the descriptor. The weight of the
// empty scriptSig length byte is not included, as it is part of the base
// input size.
func (d *Descriptor) MaxWeightToSatisfy() (int64, error) {
	switch d.typ {
	case TypePkh:
		return txsizes.RedeemP2PKHSigScriptSize * 4, nil

	case TypeWpkh:
		return txsizes.RedeemP2WPKHInputWitnessWeight, nil

	case TypeShWpkh:
		return txsizes.RedeemNestedP2WPKHScriptSize*4 +
			txsizes.RedeemP2WPKHInputWitnessWeight, nil

	case TypeTr:
		return taprootKeySpendWeight, nil
	}

	sat, _ := d.ms.costs()
	if !sat.ok {
		return 0, ErrInvalidMiniscript
	}

	script, err := d.ms.Script(keyBytesAt(0))
	if err != nil {
		return 0, err
	}
	scriptLen := len(script)

	witness := wire.VarIntSerializeSize(uint64(sat.count+1)) + sat.size +
		wire.VarIntSerializeSize(uint64(scriptLen)) + scriptLen

	switch d.typ {
	case TypeSh:
		sigScript := sat.size + pushSize(scriptLen)
		extraLen := wire.VarIntSerializeSize(uint64(sigScript)) - 1

		return int64(sigScript+extraLen) * 4, nil

	case TypeWsh:
		return int64(witness), nil

	default:
		// The scriptSig pushes the 34 byte P2WSH program.
		return (1+34)*4 + int64(witness), nil
	}
}

// pushSize returns the size of a minimal data push of n bytes.
func pushSize(n int) int {
	switch {
	case n < 0x4c:
		return 1 + n

	case n <= 0xff:
		return 2 + n

	case n <= 0xffff:
		return 3 + n

	default:
		return 5 + n
	}
}
