// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/hdkeys"
)

// Template is a standard single key descriptor template.
type Template uint8

const (
	// TemplateBIP44 is pkh(key/44'/coin'/0'/branch/*).
	TemplateBIP44 Template = iota

	// TemplateBIP49 is sh(wpkh(key/49'/coin'/0'/branch/*)).
	TemplateBIP49

	// TemplateBIP84 is wpkh(key/84'/coin'/0'/branch/*).
	TemplateBIP84

	// TemplateBIP86 is tr(key/86'/coin'/0'/branch/*).
	TemplateBIP86
)

// purpose returns the BIP43 purpose and script type of the template.
func (t Template) purpose() (uint32, Type, error) {
	switch t {
	case TemplateBIP44:
		return 44, TypePkh, nil

	case TemplateBIP49:
		return 49, TypeShWpkh, nil

	case TemplateBIP84:
		return 84, TypeWpkh, nil

	case TemplateBIP86:
		return 86, TypeTr, nil
	}

	return 0, 0, fmt.Errorf("%w: %d", ErrUnsupportedTemplate, t)
}

// String returns the BIP name of the template.
func (t Template) String() string {
	p, _, err := t.purpose()
	if err != nil {
		return "unknown"
	}

	return fmt.Sprintf("BIP%d", p)
}

// coinType returns the BIP44 coin type of the network.
func coinType(net *chaincfg.Params) uint32 {
	if net.Net == chaincfg.MainNetParams.Net {
		return 0
	}

	return 1
}

// AccountPath returns m/purpose'/coin'/0' of the template.
func (t Template) AccountPath(net *chaincfg.Params) (hdkeys.DerivationPath,
	error) {

	purpose, _, err := t.purpose()
	if err != nil {
		return nil, err
	}

	h := uint32(hdkeychain.HardenedKeyStart)

	return hdkeys.DerivationPath{purpose + h, coinType(net) + h, h}, nil
}

// BuildDescriptor derives the account key of the template from an extended
// private key and returns the descriptor of the keychain together with the
// secret of its key.
func BuildDescriptor(key SecretKey, keychain KeychainKind, tmpl Template,
	net *chaincfg.Params) (*Descriptor, KeyMap, error) {

	xprv, ok := key.(*XPrv)
	if !ok {
		return nil, nil, ErrInvalidKeyType
	}

	if !xprv.xkey.IsForNet(net) {
		return nil, nil, ErrNetworkMismatch
	}

	_, typ, err := tmpl.purpose()
	if err != nil {
		return nil, nil, err
	}

	account, err := tmpl.AccountPath(net)
	if err != nil {
		return nil, nil, err
	}

	derived, err := xprv.Derive(account)
	if err != nil {
		return nil, nil, err
	}
	acct := derived.(*XPrv)

	branch, err := NewXPrv(
		acct.xkey, acct.origin, hdkeys.DerivationPath{keychain.branch()},
		WildcardUnhardened,
	)
	if err != nil {
		return nil, nil, err
	}

	pub, err := branch.Public()
	if err != nil {
		return nil, nil, err
	}

	log.Debugf("Built %v %v descriptor for account %v", tmpl, keychain,
		acct.origin.Path)

	return &Descriptor{typ: typ, key: pub}, KeyMap{pub.String(): branch}, nil
}

// BuildPublicDescriptor returns the descriptor of the keychain from an
// account level extended public key and the fingerprint of its master key.
func BuildPublicDescriptor(key PublicKey, fingerprint uint32,
	keychain KeychainKind, tmpl Template,
	net *chaincfg.Params) (*Descriptor, error) {

	xpub, ok := key.(*XPub)
	if !ok {
		return nil, ErrInvalidKeyType
	}

	if !xpub.xkey.IsForNet(net) {
		return nil, ErrNetworkMismatch
	}

	_, typ, err := tmpl.purpose()
	if err != nil {
		return nil, err
	}

	account, err := tmpl.AccountPath(net)
	if err != nil {
		return nil, err
	}

	branch, err := newXPub(
		&KeyOrigin{Fingerprint: fingerprint, Path: account}, xpub.xkey,
		hdkeys.DerivationPath{keychain.branch()}, WildcardUnhardened,
	)
	if err != nil {
		return nil, err
	}

	return &Descriptor{typ: typ, key: branch}, nil
}

// NewBIP44 builds pkh(key/44'/coin'/0'/branch/*).
func NewBIP44(key SecretKey, keychain KeychainKind,
	net *chaincfg.Params) (*Descriptor, KeyMap, error) {

	return BuildDescriptor(key, keychain, TemplateBIP44, net)
}

// NewBIP49 builds sh(wpkh(key/49'/coin'/0'/branch/*)).
func NewBIP49(key SecretKey, keychain KeychainKind,
	net *chaincfg.Params) (*Descriptor, KeyMap, error) {

	return BuildDescriptor(key, keychain, TemplateBIP49, net)
}

// NewBIP84 builds wpkh(key/84'/coin'/0'/branch/*).
func NewBIP84(key SecretKey, keychain KeychainKind,
	net *chaincfg.Params) (*Descriptor, KeyMap, error) {

	return BuildDescriptor(key, keychain, TemplateBIP84, net)
}

// NewBIP86 builds tr(key/86'/coin'/0'/branch/*).
func NewBIP86(key SecretKey, keychain KeychainKind,
	net *chaincfg.Params) (*Descriptor, KeyMap, error) {

	return BuildDescriptor(key, keychain, TemplateBIP86, net)
}

// NewBIP44Public builds the public BIP44 descriptor of an account key.
func NewBIP44Public(key PublicKey, fingerprint uint32, keychain KeychainKind,
	net *chaincfg.Params) (*Descriptor, error) {

	return BuildPublicDescriptor(key, fingerprint, keychain, TemplateBIP44, net)
}

// NewBIP49Public builds the public BIP49 descriptor of an account key.
func NewBIP49Public(key PublicKey, fingerprint uint32, keychain KeychainKind,
	net *chaincfg.Params) (*Descriptor, error) {

	return BuildPublicDescriptor(key, fingerprint, keychain, TemplateBIP49, net)
}

// NewBIP84Public builds the public BIP84 descriptor of an account key.
func NewBIP84Public(key PublicKey, fingerprint uint32, keychain KeychainKind,
	net *chaincfg.Params) (*Descriptor, error) {

	return BuildPublicDescriptor(key, fingerprint, keychain, TemplateBIP84, net)
}

// NewBIP86Public builds the public BIP86 descriptor of an account key.
func NewBIP86Public(key PublicKey, fingerprint uint32, keychain KeychainKind,
	net *chaincfg.Params) (*Descriptor, error) {

	return BuildPublicDescriptor(key, fingerprint, keychain, TemplateBIP86, net)
}
