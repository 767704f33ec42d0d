package hdkeys

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// ExtendedKey is a BIP32 extended key bound to the network it was created
// for.
type ExtendedKey struct {
	key *hdkeychain.ExtendedKey
	net *chaincfg.Params

	// fingerprint is computed once the public key is known to parse.
	fingerprint uint32
}

// newExtendedKey wraps an hdkeychain key, failing when its public key does
// not parse.
func newExtendedKey(key *hdkeychain.ExtendedKey,
	net *chaincfg.Params) (*ExtendedKey, error) {

	pub, err := key.ECPubKey()
	if err != nil {
		return nil, newError(ErrInvalidKey, "public key", err)
	}

	return &ExtendedKey{
		key:         key,
		net:         net,
		fingerprint: Fingerprint(pub),
	}, nil
}

// NewMaster derives the master extended private key from a seed.
func NewMaster(seed []byte, net *chaincfg.Params) (*ExtendedKey, error) {
	key, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, mapError("derive master key", err)
	}

	return newExtendedKey(key, net)
}

// NewMasterFromMnemonic derives the master key of a mnemonic and passphrase.
func NewMasterFromMnemonic(m *Mnemonic, passphrase string,
	net *chaincfg.Params) (*ExtendedKey, error) {

	return NewMaster(m.Seed(passphrase), net)
}

// ParseExtendedKey decodes a base58 xprv/xpub (or tprv/tpub) and checks it
// is encoded for net.
func ParseExtendedKey(s string, net *chaincfg.Params) (*ExtendedKey, error) {
	key, err := hdkeychain.NewKeyFromString(s)
	if err != nil {
		return nil, mapError("decode extended key", err)
	}

	if !key.IsForNet(net) {
		return nil, newError(ErrWrongNetwork, fmt.Sprintf(
			"extended key is not for %s", net.Name,
		), nil)
	}

	return newExtendedKey(key, net)
}

// ParseExtendedKeyAnyNet decodes a base58 extended key and infers its
// network from the version bytes. Test networks share one encoding, so test
// keys come back bound to testnet3.
func ParseExtendedKeyAnyNet(s string) (*ExtendedKey, error) {
	key, err := hdkeychain.NewKeyFromString(s)
	if err != nil {
		return nil, mapError("decode extended key", err)
	}

	for _, net := range []*chaincfg.Params{
		&chaincfg.MainNetParams, &chaincfg.TestNet3Params,
	} {
		if key.IsForNet(net) {
			return newExtendedKey(key, net)
		}
	}

	return nil, newError(ErrWrongNetwork, "unknown extended key version",
		nil)
}

// IsForNet reports whether the key's encoding belongs to net.
func (k *ExtendedKey) IsForNet(net *chaincfg.Params) bool {
	return k.key.IsForNet(net)
}

// Derive walks the path from this key. Hardened steps require a private key.
func (k *ExtendedKey) Derive(path DerivationPath) (*ExtendedKey, error) {
	current := k.key
	for _, index := range path {
		child, err := current.Derive(index)
		if err != nil {
			return nil, mapError(fmt.Sprintf(
				"derive %s", FormatIndex(index),
			), err)
		}

		current = child
	}

	return newExtendedKey(current, k.net)
}

// Neuter returns the public counterpart of the key.
func (k *ExtendedKey) Neuter() (*ExtendedKey, error) {
	pub, err := k.key.Neuter()
	if err != nil {
		return nil, mapError("neuter key", err)
	}

	return &ExtendedKey{
		key:         pub,
		net:         k.net,
		fingerprint: k.fingerprint,
	}, nil
}

// Fingerprint returns the first four bytes of the Hash160 of the compressed
// public key, the value BIP32 uses to identify a parent. Keys whose public
// key does not parse are rejected when built, so it always exists.
func (k *ExtendedKey) Fingerprint() uint32 {
	return k.fingerprint
}

// Fingerprint returns the BIP32 fingerprint of a public key.
func Fingerprint(pub *btcec.PublicKey) uint32 {
	return binary.BigEndian.Uint32(
		btcutil.Hash160(pub.SerializeCompressed())[:4],
	)
}

// ParentFingerprint returns the fingerprint of the key this one was derived
// from, zero for a master key.
func (k *ExtendedKey) ParentFingerprint() uint32 {
	return k.key.ParentFingerprint()
}

// Depth returns the number of derivation steps from the master key.
func (k *ExtendedKey) Depth() uint8 {
	return k.key.Depth()
}

// ChildIndex returns the index this key was derived at.
func (k *ExtendedKey) ChildIndex() uint32 {
	return k.key.ChildIndex()
}

// IsPrivate reports whether the key can sign.
func (k *ExtendedKey) IsPrivate() bool {
	return k.key.IsPrivate()
}

// ECPubKey returns the public key.
func (k *ExtendedKey) ECPubKey() (*btcec.PublicKey, error) {
	pub, err := k.key.ECPubKey()
	return pub, mapError("public key", err)
}

// ECPrivKey returns the private key or an ErrNotPrivate error.
func (k *ExtendedKey) ECPrivKey() (*btcec.PrivateKey, error) {
	priv, err := k.key.ECPrivKey()
	return priv, mapError("private key", err)
}

// Network returns the network the key is encoded for.
func (k *ExtendedKey) Network() *chaincfg.Params {
	return k.net
}

// String returns the base58 encoding of the key.
func (k *ExtendedKey) String() string {
	return k.key.String()
}

// Equal reports whether both keys serialize identically.
func (k *ExtendedKey) Equal(other *ExtendedKey) bool {
	return other != nil && k.String() == other.String()
}
