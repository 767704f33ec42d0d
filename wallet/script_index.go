// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/policy"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultLookahead is the number of scripts derived past the last revealed
// index of each keychain, so payments to them are found by a sync.
const DefaultLookahead = 25

// scriptRef is where a script sits in the wallet's keychains.
type scriptRef struct {
	keychain descriptor.KeychainKind
	index    uint32
}

// keychain is one descriptor of the wallet with its derivation state.
type keychain struct {
	kind descriptor.KeychainKind
	desc *descriptor.Descriptor
	keys descriptor.KeyMap

	// policy is the spending policy tree, nil for single key
	// descriptors.
	policy *policy.Policy

	// lastRevealed is the highest index handed out.
	lastRevealed fn.Option[uint32]

	// scripts holds the output scripts of indices [0, len(scripts)).
	scripts [][]byte
}

// nextIndex returns the index the next reveal hands out. Non ranged
// descriptors only have index 0.
func (k *keychain) nextIndex() uint32 {
	if !k.desc.IsRanged() {
		return 0
	}

	return fn.MapOptionZ(k.lastRevealed, func(i uint32) uint32 {
		return i + 1
	})
}

// scriptIndex maps the derived scripts of every keychain back to their
// keychain and index.
type scriptIndex struct {
	lookahead uint32
	keychains map[descriptor.KeychainKind]*keychain
	byScript  map[string]scriptRef
}

// newScriptIndex creates an empty index.
func newScriptIndex(lookahead uint32) *scriptIndex {
	return &scriptIndex{
		lookahead: lookahead,
		keychains: make(map[descriptor.KeychainKind]*keychain),
		byScript:  make(map[string]scriptRef),
	}
}

// addKeychain registers a descriptor and derives its lookahead scripts. It
// fails with ErrDescriptorCollision when one of them is already indexed.
func (s *scriptIndex) addKeychain(k *keychain) error {
	s.keychains[k.kind] = k

	return s.deriveTo(k, s.lookahead)
}

// deriveTo derives the scripts of k up to and including index.
func (s *scriptIndex) deriveTo(k *keychain, index uint32) error {
	if !k.desc.IsRanged() {
		index = 0
	}

	for next := uint32(len(k.scripts)); next <= index; next++ {
		pkScript, err := k.desc.ScriptAt(next)
		if err != nil {
			return err
		}

		if ref, ok := s.byScript[string(pkScript)]; ok &&
			ref.keychain != k.kind {

			return ErrDescriptorCollision
		}

		s.byScript[string(pkScript)] = scriptRef{
			keychain: k.kind,
			index:    next,
		}
		k.scripts = append(k.scripts, pkScript)
	}

	return nil
}

// reveal marks every index up to index as revealed and keeps the lookahead
// derived past it. It reports whether the last revealed index moved.
func (s *scriptIndex) reveal(k *keychain, index uint32) (bool, error) {
	if !k.desc.IsRanged() {
		index = 0
	}

	if err := s.deriveTo(k, index+s.lookahead); err != nil {
		return false, err
	}

	if k.lastRevealed.IsSome() && k.lastRevealed.UnwrapOr(0) >= index {
		return false, nil
	}

	k.lastRevealed = fn.Some(index)

	return true, nil
}

// lookup resolves a script to its keychain and index.
func (s *scriptIndex) lookup(pkScript []byte) (descriptor.KeychainKind,
	uint32, bool) {

	ref, ok := s.byScript[string(pkScript)]

	return ref.keychain, ref.index, ok
}

// scriptAt returns the script of a keychain at index, deriving it if it is
// past the derived range.
func (s *scriptIndex) scriptAt(k *keychain, index uint32) ([]byte, error) {
	if !k.desc.IsRanged() {
		index = 0
	}

	if index < uint32(len(k.scripts)) {
		return k.scripts[index], nil
	}

	return k.desc.ScriptAt(index)
}
