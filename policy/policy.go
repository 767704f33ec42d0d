// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package policy extracts the semantic spending policy of a descriptor: a
// tree of signature, hash, timelock and threshold conditions with stable
// ids, used to pick a spending path and derive the nSequence and nLockTime
// it implies.
package policy

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ItemKind is the kind of a satisfiable item.
type ItemKind uint8

const (
	// KindEcdsaSignature requires an ECDSA signature.
	KindEcdsaSignature ItemKind = iota

	// KindSchnorrSignature requires a Schnorr signature.
	KindSchnorrSignature

	// KindSha256Preimage requires a SHA256 preimage.
	KindSha256Preimage

	// KindHash256Preimage requires a double SHA256 preimage.
	KindHash256Preimage

	// KindRipemd160Preimage requires a RIPEMD160 preimage.
	KindRipemd160Preimage

	// KindHash160Preimage requires a HASH160 preimage.
	KindHash160Preimage

	// KindAbsoluteTimelock requires nLockTime to reach a value.
	KindAbsoluteTimelock

	// KindRelativeTimelock requires nSequence to reach a value.
	KindRelativeTimelock

	// KindMultisig requires Threshold signatures out of Keys.
	KindMultisig

	// KindThresh requires Threshold of the sub policies.
	KindThresh
)

// String returns the name of the kind.
func (k ItemKind) String() string {
	switch k {
	case KindEcdsaSignature:
		return "ecdsa"

	case KindSchnorrSignature:
		return "schnorr"

	case KindSha256Preimage:
		return "sha256"

	case KindHash256Preimage:
		return "hash256"

	case KindRipemd160Preimage:
		return "ripemd160"

	case KindHash160Preimage:
		return "hash160"

	case KindAbsoluteTimelock:
		return "after"

	case KindRelativeTimelock:
		return "older"

	case KindMultisig:
		return "multi"

	case KindThresh:
		return "thresh"

	default:
		return "unknown"
	}
}

// KeyRef identifies a key in a policy: by the fingerprint of its master key
// when it is an extended key, otherwise by the serialized public key.
type KeyRef struct {
	// PubKey is the rendered public key for single keys.
	PubKey string

	// Fingerprint is the master fingerprint of extended keys.
	Fingerprint fn.Option[uint32]
}

// String renders the key reference.
func (k KeyRef) String() string {
	if k.Fingerprint.IsNone() {
		return "pk=" + k.PubKey
	}

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], k.Fingerprint.UnwrapOr(0))

	return "fp=" + hex.EncodeToString(b[:])
}

// keyRef builds the reference of a descriptor key.
func keyRef(k descriptor.PublicKey) KeyRef {
	switch key := k.(type) {
	case *descriptor.XPub:
		if origin := key.Origin(); origin != nil {
			return KeyRef{Fingerprint: fn.Some(origin.Fingerprint)}
		}

		return KeyRef{Fingerprint: fn.Some(key.ExtendedKey().Fingerprint())}

	default:
		return KeyRef{PubKey: k.String()}
	}
}

// Item is a satisfiable item. Only the fields of its Kind are set.
type Item struct {
	// Kind selects the variant.
	Kind ItemKind

	// Key is the signing key of the signature kinds.
	Key KeyRef

	// Keys are the keys of a multisig.
	Keys []KeyRef

	// Hash is the image of the preimage kinds.
	Hash []byte

	// Value is the height, time or sequence of the timelock kinds.
	Value uint32

	// Items are the sub policies of a thresh.
	Items []*Policy

	// Threshold is the number of signatures or sub policies needed.
	Threshold int
}

// String renders the item canonically. Sub policies are referenced by id.
func (i *Item) String() string {
	switch i.Kind {
	case KindEcdsaSignature, KindSchnorrSignature:
		return fmt.Sprintf("%v(%v)", i.Kind, i.Key)

	case KindSha256Preimage, KindHash256Preimage, KindRipemd160Preimage,
		KindHash160Preimage:

		return fmt.Sprintf("%v(%x)", i.Kind, i.Hash)

	case KindAbsoluteTimelock, KindRelativeTimelock:
		return fmt.Sprintf("%v(%d)", i.Kind, i.Value)

	case KindMultisig:
		parts := []string{fmt.Sprint(i.Threshold)}
		for _, k := range i.Keys {
			parts = append(parts, k.String())
		}

		return "multi(" + strings.Join(parts, ",") + ")"

	case KindThresh:
		parts := []string{fmt.Sprint(i.Threshold)}
		for _, sub := range i.Items {
			parts = append(parts, sub.ID)
		}

		return "thresh(" + strings.Join(parts, ",") + ")"
	}

	return "unknown"
}

// SatisfactionKind is how far a signer gets towards satisfying a policy.
type SatisfactionKind uint8

const (
	// SatisfactionNone means nothing can be contributed.
	SatisfactionNone SatisfactionKind = iota

	// SatisfactionPartial means some but not enough of the N items can
	// be satisfied.
	SatisfactionPartial

	// SatisfactionPartialComplete means at least M of the N items can be
	// satisfied.
	SatisfactionPartialComplete

	// SatisfactionComplete means the item is satisfied outright.
	SatisfactionComplete
)

// String returns the name of the satisfaction kind.
func (s SatisfactionKind) String() string {
	switch s {
	case SatisfactionPartial:
		return "partial"

	case SatisfactionPartialComplete:
		return "partial_complete"

	case SatisfactionComplete:
		return "complete"

	default:
		return "none"
	}
}

// Satisfaction describes what a signer contributes to a policy node.
type Satisfaction struct {
	// Kind is the level of satisfaction.
	Kind SatisfactionKind

	// N is the number of items of a multisig or thresh.
	N int

	// M is the threshold of a multisig or thresh.
	M int

	// Items are the indices of the items that can be satisfied.
	Items []int

	// Condition is the timelock condition of a complete timelock item.
	Condition Condition
}

// IsSatisfied reports whether the contribution is enough on its own.
func (s Satisfaction) IsSatisfied() bool {
	return s.Kind == SatisfactionComplete ||
		s.Kind == SatisfactionPartialComplete
}

// Policy is a node of the spending policy tree.
type Policy struct {
	// ID identifies the node. It is stable for an unchanged descriptor.
	ID string

	// Item is the condition of this node.
	Item Item

	// Contribution is what the wallet's own keys contribute.
	Contribution Satisfaction
}

// newPolicy builds a node and computes its id.
func newPolicy(item Item) *Policy {
	sum := sha256.Sum256([]byte(item.String()))

	return &Policy{
		ID:   hex.EncodeToString(sum[:])[:8],
		Item: item,
	}
}

// String renders the tree in a compact form for logs.
func (p *Policy) String() string {
	if p.Item.Kind != KindThresh {
		return p.ID + ":" + p.Item.String()
	}

	parts := []string{fmt.Sprint(p.Item.Threshold)}
	for _, sub := range p.Item.Items {
		parts = append(parts, sub.String())
	}

	return p.ID + ":thresh(" + strings.Join(parts, ",") + ")"
}

// Walk calls visit on every node, parents first.
func (p *Policy) Walk(visit func(*Policy)) {
	visit(p)
	for _, sub := range p.Item.Items {
		sub.Walk(visit)
	}
}

// Find returns the node with the given id.
func (p *Policy) Find(id string) (*Policy, bool) {
	var found *Policy
	p.Walk(func(n *Policy) {
		if found == nil && n.ID == id {
			found = n
		}
	})

	return found, found != nil
}
