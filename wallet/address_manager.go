// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// AddressInfo is an address handed out by the wallet.
type AddressInfo struct {
	// Index is the derivation index of the address.
	Index uint32

	// Address is the address itself.
	Address btcutil.Address

	// Keychain is the keychain the address was derived from.
	Keychain descriptor.KeychainKind
}

// String returns the encoded address.
func (a AddressInfo) String() string {
	return a.Address.EncodeAddress()
}

// AddressManager provides an interface for handing out and inspecting wallet
// addresses.
type AddressManager interface {
	// RevealNextAddress reveals and returns the next address of a
	// keychain. Non ranged descriptors always return index 0.
	RevealNextAddress(kind descriptor.KeychainKind) (AddressInfo, error)

	// PeekAddress returns the address at an index without revealing it.
	PeekAddress(kind descriptor.KeychainKind,
		index uint32) (AddressInfo, error)

	// NextUnusedAddress returns the lowest revealed address no
	// transaction pays to, revealing a new one when every revealed
	// address has been used.
	NextUnusedAddress(kind descriptor.KeychainKind) (AddressInfo, error)

	// RevealAddressesTo reveals every address up to and including index
	// and returns the newly revealed ones.
	RevealAddressesTo(kind descriptor.KeychainKind,
		index uint32) ([]AddressInfo, error)

	// ScriptDerivations returns the BIP32 derivations of the keys behind
	// a wallet script.
	ScriptDerivations(pkScript []byte) ([]*psbt.Bip32Derivation, error)
}

// A compile time check to ensure that Wallet implements the interface.
var _ AddressManager = (*Wallet)(nil)

// RevealNextAddress reveals and returns the next address of a keychain.
func (w *Wallet) RevealNextAddress(
	kind descriptor.KeychainKind) (AddressInfo, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	k := w.keychainFor(kind)
	index := k.nextIndex()

	if err := w.revealLocked(k, index); err != nil {
		return AddressInfo{}, err
	}

	return w.addressAt(k, index)
}

// PeekAddress returns the address at an index without revealing it.
// Non ranged descriptors return their only address for every index.
func (w *Wallet) PeekAddress(kind descriptor.KeychainKind,
	index uint32) (AddressInfo, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	k := w.keychainFor(kind)
	if !k.desc.IsRanged() {
		index = 0
	}

	return w.addressAt(k, index)
}

// NextUnusedAddress returns the lowest revealed address no transaction pays
// to. A new address is revealed when all of them are used.
func (w *Wallet) NextUnusedAddress(
	kind descriptor.KeychainKind) (AddressInfo, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	k := w.keychainFor(kind)
	if index, ok := w.unusedIndex(k); ok {
		return w.addressAt(k, index)
	}

	index := k.nextIndex()
	if err := w.revealLocked(k, index); err != nil {
		return AddressInfo{}, err
	}

	return w.addressAt(k, index)
}

// RevealAddressesTo reveals every address up to and including index and
// returns the ones that were not revealed before.
func (w *Wallet) RevealAddressesTo(kind descriptor.KeychainKind,
	index uint32) ([]AddressInfo, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	k := w.keychainFor(kind)
	if !k.desc.IsRanged() {
		index = 0
	}

	from := fn.MapOptionZ(k.lastRevealed, func(i uint32) uint32 {
		return i + 1
	})
	if k.lastRevealed.IsSome() && from > index {
		return nil, nil
	}

	if err := w.revealLocked(k, index); err != nil {
		return nil, err
	}

	addrs := make([]AddressInfo, 0, index-from+1)
	for i := from; i <= index; i++ {
		addr, err := w.addressAt(k, i)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}

	return addrs, nil
}

// ScriptDerivations returns the BIP32 derivations of the keys behind a
// wallet script.
func (w *Wallet) ScriptDerivations(
	pkScript []byte) ([]*psbt.Bip32Derivation, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	kind, index, ok := w.index.lookup(pkScript)
	if !ok {
		return nil, ErrUnknownScript
	}

	derivs, err := w.index.keychains[kind].desc.DerivationsAt(index)
	if err != nil {
		return nil, err
	}

	return bip32Derivations(derivs), nil
}

// revealLocked reveals k up to index and stages the new index.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) revealLocked(k *keychain, index uint32) error {
	moved, err := w.index.reveal(k, index)
	if err != nil {
		return err
	}

	if moved {
		w.stageReveal(k.kind, index)
		log.Debugf("Revealed %v address index %d", k.kind, index)
	}

	return nil
}

// unusedIndex returns the lowest revealed index of k that no stored
// transaction pays to.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) unusedIndex(k *keychain) (uint32, bool) {
	if k.lastRevealed.IsNone() {
		return 0, false
	}
	last := k.lastRevealed.UnwrapOr(0)

	used := make(map[uint32]bool)
	for _, out := range w.txStore.Outputs() {
		if out.Keychain == k.kind {
			used[out.DerivationIndex] = true
		}
	}

	for i := uint32(0); i <= last; i++ {
		if !used[i] {
			return i, true
		}
	}

	return 0, false
}

// addressAt returns the address of k at index.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) addressAt(k *keychain, index uint32) (AddressInfo, error) {
	addr, err := k.desc.AddressAt(index, w.net)
	if err != nil {
		return AddressInfo{}, err
	}

	return AddressInfo{Index: index, Address: addr, Keychain: k.kind}, nil
}
