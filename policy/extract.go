package policy

import (
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Extract returns the policy tree of a descriptor with the contribution of
// the keys in keys. Single key descriptors have no tree and yield nil.
func Extract(desc *descriptor.Descriptor,
	keys descriptor.KeyMap) (*Policy, error) {

	ms := desc.Miniscript()
	if ms == nil {
		return nil, nil
	}

	e := &extractor{keys: keys}

	return e.extract(ms), nil
}

// extractor walks a miniscript and builds its policy.
type extractor struct {
	keys descriptor.KeyMap
}

// signs reports whether the key map holds the secret of k.
func (e *extractor) signs(k descriptor.PublicKey) bool {
	if e.keys == nil {
		return false
	}

	_, ok := e.keys.Lookup(k)

	return ok
}

// extract converts a node. It returns nil for nodes that impose nothing,
// such as 1, or that can never be satisfied, such as 0.
func (e *extractor) extract(n *descriptor.Node) *Policy {
	switch n.Frag {
	case descriptor.FragFalse, descriptor.FragTrue:
		return nil

	case descriptor.FragPkK, descriptor.FragPkH:
		p := newPolicy(Item{
			Kind: KindEcdsaSignature,
			Key:  keyRef(n.Keys[0]),
		})
		if e.signs(n.Keys[0]) {
			p.Contribution = Satisfaction{Kind: SatisfactionComplete}
		}

		return p

	case descriptor.FragAfter:
		p := newPolicy(Item{Kind: KindAbsoluteTimelock, Value: n.Value})
		p.Contribution = Satisfaction{
			Kind:      SatisfactionComplete,
			Condition: Condition{Timelock: fn.Some(n.Value)},
		}

		return p

	case descriptor.FragOlder:
		p := newPolicy(Item{Kind: KindRelativeTimelock, Value: n.Value})
		p.Contribution = Satisfaction{
			Kind:      SatisfactionComplete,
			Condition: Condition{CSV: fn.Some(n.Value)},
		}

		return p

	case descriptor.FragSha256:
		return newPolicy(Item{Kind: KindSha256Preimage, Hash: n.Hash})

	case descriptor.FragHash256:
		return newPolicy(Item{Kind: KindHash256Preimage, Hash: n.Hash})

	case descriptor.FragRipemd160:
		return newPolicy(Item{Kind: KindRipemd160Preimage, Hash: n.Hash})

	case descriptor.FragHash160:
		return newPolicy(Item{Kind: KindHash160Preimage, Hash: n.Hash})

	case descriptor.FragMulti, descriptor.FragSortedMulti:
		return e.multisig(n)

	case descriptor.FragAndV, descriptor.FragAndB:
		return e.thresh(2, e.extract(n.Subs[0]), e.extract(n.Subs[1]))

	case descriptor.FragAndOr:
		and := e.thresh(2, e.extract(n.Subs[0]), e.extract(n.Subs[1]))
		return e.thresh(1, and, e.extract(n.Subs[2]))

	case descriptor.FragOrB, descriptor.FragOrC, descriptor.FragOrD,
		descriptor.FragOrI:

		return e.thresh(1, e.extract(n.Subs[0]), e.extract(n.Subs[1]))

	case descriptor.FragThresh:
		subs := make([]*Policy, len(n.Subs))
		for i, sub := range n.Subs {
			subs[i] = e.extract(sub)
		}

		return e.thresh(int(n.Value), subs...)
	}

	// Wrappers don't change the semantics.
	return e.extract(n.Subs[0])
}

// multisig builds a multisig node.
func (e *extractor) multisig(n *descriptor.Node) *Policy {
	item := Item{Kind: KindMultisig, Threshold: int(n.Value)}
	var signed []int
	for i, k := range n.Keys {
		item.Keys = append(item.Keys, keyRef(k))
		if e.signs(k) {
			signed = append(signed, i)
		}
	}

	p := newPolicy(item)
	p.Contribution = partial(len(n.Keys), int(n.Value), signed, Condition{})

	return p
}

// thresh builds a k-of-n node over the non-nil subs. A single remaining
// sub is returned as is, and nothing remaining yields nil.
func (e *extractor) thresh(k int, subs ...*Policy) *Policy {
	var items []*Policy
	for _, sub := range subs {
		if sub != nil {
			items = append(items, sub)
		}
	}

	switch {
	case len(items) == 0:
		return nil

	case len(items) == 1 && k <= 1:
		return items[0]

	case len(items) == 1 && len(subs) == k:
		// The others were trivially true parts of an and.
		return items[0]
	}

	k = min(k, len(items))

	var (
		satisfied []int
		cond      Condition
	)
	for i, sub := range items {
		if !sub.Contribution.IsSatisfied() {
			continue
		}

		merged, err := cond.Merge(sub.Contribution.Condition)
		if err != nil {
			continue
		}

		cond = merged
		satisfied = append(satisfied, i)
	}

	p := newPolicy(Item{Kind: KindThresh, Items: items, Threshold: k})
	p.Contribution = partial(len(items), k, satisfied, cond)

	return p
}

// partial summarizes how many of n items with threshold m are satisfied.
func partial(n, m int, items []int, cond Condition) Satisfaction {
	switch {
	case len(items) == 0:
		return Satisfaction{Kind: SatisfactionNone}

	case len(items) >= m:
		return Satisfaction{
			Kind: SatisfactionPartialComplete, N: n, M: m, Items: items,
			Condition: cond,
		}

	default:
		return Satisfaction{
			Kind: SatisfactionPartial, N: n, M: m, Items: items,
			Condition: cond,
		}
	}
}
