// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/hdkeys"
)

// KeyOrigin records where a key sits in its master key's tree.
type KeyOrigin struct {
	// Fingerprint is the fingerprint of the master key.
	Fingerprint uint32

	// Path is the derivation path from the master key.
	Path hdkeys.DerivationPath
}

// String renders the origin as it appears in a descriptor, e.g.
// "[d34db33f/84'/0'/0']".
func (o *KeyOrigin) String() string {
	if o == nil {
		return ""
	}

	var fp [4]byte
	binary.BigEndian.PutUint32(fp[:], o.Fingerprint)

	s := "[" + hex.EncodeToString(fp[:])
	if !o.Path.IsMaster() {
		s += "/" + o.Path.Suffix()
	}

	return s + "]"
}

// extend returns a copy of the origin with path appended.
func (o *KeyOrigin) extend(path hdkeys.DerivationPath) *KeyOrigin {
	return &KeyOrigin{Fingerprint: o.Fingerprint, Path: o.Path.Extend(path)}
}

// Wildcard describes the trailing "/*" of a ranged key.
type Wildcard uint8

const (
	// WildcardNone marks a key that isn't ranged.
	WildcardNone Wildcard = iota

	// WildcardUnhardened marks a "/*" suffix.
	WildcardUnhardened

	// WildcardHardened marks a "/*'" suffix.
	WildcardHardened
)

// String renders the wildcard suffix.
func (w Wildcard) String() string {
	switch w {
	case WildcardUnhardened:
		return "/*"

	case WildcardHardened:
		return "/*'"

	default:
		return ""
	}
}

// childIndex maps a descriptor index onto the BIP32 child index.
func (w Wildcard) childIndex(index uint32) (uint32, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	if w == WildcardHardened {
		return index + hdkeychain.HardenedKeyStart, nil
	}

	return index, nil
}

// KeyDerivation is the BIP32 metadata of a concrete key, as recorded in a
// PSBT.
type KeyDerivation struct {
	// PubKey is the derived public key.
	PubKey *btcec.PublicKey

	// Fingerprint is the fingerprint of the master key.
	Fingerprint uint32

	// Path is the full path from the master key.
	Path hdkeys.DerivationPath
}

// PublicKey is a descriptor public key expression. It is implemented by
// *SinglePub and *XPub only.
type PublicKey interface {
	// Origin returns the key origin, nil if none was given.
	Origin() *KeyOrigin

	// String renders the key expression.
	String() string

	// IsRanged reports whether the key ends in a wildcard.
	IsRanged() bool

	// Derive performs the EC derivation of path and records it in the
	// origin.
	Derive(path hdkeys.DerivationPath) (PublicKey, error)

	// Extend appends path to the derivation tail without EC work.
	Extend(path hdkeys.DerivationPath) (PublicKey, error)

	// DerivationAt returns the concrete key at the given wildcard index
	// together with its BIP32 metadata. Non-ranged keys ignore the index.
	DerivationAt(index uint32) (*KeyDerivation, error)

	// isPublicKey seals the interface.
	isPublicKey()
}

// SecretKey is a descriptor secret key expression. It is implemented by
// *SingleSecret and *XPrv only.
type SecretKey interface {
	// Origin returns the key origin, nil if none was given.
	Origin() *KeyOrigin

	// String renders the key expression with the secret.
	String() string

	// Public returns the public counterpart.
	Public() (PublicKey, error)

	// Derive performs the EC derivation of path and records it in the
	// origin.
	Derive(path hdkeys.DerivationPath) (SecretKey, error)

	// Extend appends path to the derivation tail without EC work.
	Extend(path hdkeys.DerivationPath) (SecretKey, error)

	// SecretBytes returns the 32 byte private scalar.
	SecretBytes() []byte

	// isSecretKey seals the interface.
	isSecretKey()
}

// A compile-time check to ensure the key types implement the interfaces.
var (
	_ PublicKey = (*SinglePub)(nil)
	_ PublicKey = (*XPub)(nil)
	_ SecretKey = (*SingleSecret)(nil)
	_ SecretKey = (*XPrv)(nil)
)

// SinglePub is a plain public key, compressed or x-only.
type SinglePub struct {
	origin *KeyOrigin
	key    *btcec.PublicKey
	xOnly  bool
}

// NewSinglePub wraps a public key.
func NewSinglePub(key *btcec.PublicKey, origin *KeyOrigin) *SinglePub {
	return &SinglePub{key: key, origin: origin}
}

// Origin returns the key origin.
func (k *SinglePub) Origin() *KeyOrigin { return k.origin }

// IsRanged always returns false.
func (k *SinglePub) IsRanged() bool { return false }

// Key returns the public key.
func (k *SinglePub) Key() *btcec.PublicKey { return k.key }

// String renders the key in hex.
func (k *SinglePub) String() string {
	if k.xOnly {
		return k.origin.String() +
			hex.EncodeToString(schnorr.SerializePubKey(k.key))
	}

	return k.origin.String() + hex.EncodeToString(k.key.SerializeCompressed())
}

// Derive is not defined for single keys.
func (k *SinglePub) Derive(hdkeys.DerivationPath) (PublicKey, error) {
	return nil, ErrInvalidKeyType
}

// Extend is not defined for single keys.
func (k *SinglePub) Extend(hdkeys.DerivationPath) (PublicKey, error) {
	return nil, ErrInvalidKeyType
}

// DerivationAt returns the key itself.
func (k *SinglePub) DerivationAt(uint32) (*KeyDerivation, error) {
	d := &KeyDerivation{PubKey: k.key}
	if k.origin != nil {
		d.Fingerprint = k.origin.Fingerprint
		d.Path = k.origin.Path
	} else {
		d.Fingerprint = hdkeys.Fingerprint(k.key)
	}

	return d, nil
}

func (k *SinglePub) isPublicKey() {}

// XPub is an extended public key with an optional derivation tail and
// wildcard.
type XPub struct {
	origin   *KeyOrigin
	xkey     *hdkeys.ExtendedKey
	path     hdkeys.DerivationPath
	wildcard Wildcard

	// base is xkey derived along path, computed once.
	base *hdkeys.ExtendedKey
}

// newXPub builds an XPub, deriving its base key.
func newXPub(origin *KeyOrigin, xkey *hdkeys.ExtendedKey,
	path hdkeys.DerivationPath, wildcard Wildcard) (*XPub, error) {

	if xkey.IsPrivate() {
		return nil, fmt.Errorf("%w: expected public extended key",
			ErrInvalidKey)
	}

	if path.HasHardened() || wildcard == WildcardHardened {
		return nil, ErrHardenedDerivationXpub
	}

	base, err := xkey.Derive(path)
	if err != nil {
		return nil, err
	}

	return &XPub{
		origin:   origin,
		xkey:     xkey,
		path:     path,
		wildcard: wildcard,
		base:     base,
	}, nil
}

// Origin returns the key origin.
func (k *XPub) Origin() *KeyOrigin { return k.origin }

// IsRanged reports whether the key ends in a wildcard.
func (k *XPub) IsRanged() bool { return k.wildcard != WildcardNone }

// ExtendedKey returns the extended key before the derivation tail.
func (k *XPub) ExtendedKey() *hdkeys.ExtendedKey { return k.xkey }

// Path returns the derivation tail.
func (k *XPub) Path() hdkeys.DerivationPath { return k.path }

// Wildcard returns the wildcard kind.
func (k *XPub) Wildcard() Wildcard { return k.wildcard }

// String renders the key expression.
func (k *XPub) String() string {
	return renderExtended(k.origin, k.xkey.String(), k.path, k.wildcard)
}

// Derive derives path from the key and its tail. The derived key has an
// empty tail, keeps the wildcard and records the full path in its origin.
func (k *XPub) Derive(path hdkeys.DerivationPath) (PublicKey, error) {
	if path.HasHardened() {
		return nil, ErrHardenedDerivationXpub
	}

	derived, err := k.base.Derive(path)
	if err != nil {
		return nil, err
	}

	full := k.path.Extend(path)

	return newXPub(
		deriveOrigin(k.origin, k.xkey, full), derived, nil, k.wildcard,
	)
}

// Extend appends path to the derivation tail.
func (k *XPub) Extend(path hdkeys.DerivationPath) (PublicKey, error) {
	return newXPub(k.origin, k.xkey, k.path.Extend(path), k.wildcard)
}

// DerivationAt derives the key at the wildcard index.
func (k *XPub) DerivationAt(index uint32) (*KeyDerivation, error) {
	key := k.base
	tail := k.path
	if k.IsRanged() {
		child, err := k.wildcard.childIndex(index)
		if err != nil {
			return nil, err
		}

		key, err = key.Derive(hdkeys.DerivationPath{child})
		if err != nil {
			return nil, err
		}

		tail = tail.Child(child)
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}

	origin := deriveOrigin(k.origin, k.xkey, tail)

	return &KeyDerivation{
		PubKey:      pub,
		Fingerprint: origin.Fingerprint,
		Path:        origin.Path,
	}, nil
}

func (k *XPub) isPublicKey() {}

// SingleSecret is a WIF encoded private key.
type SingleSecret struct {
	origin *KeyOrigin
	wif    *btcutil.WIF
}

// NewSingleSecret wraps a private key for the given network.
func NewSingleSecret(key *btcec.PrivateKey, net *chaincfg.Params,
	origin *KeyOrigin) (*SingleSecret, error) {

	wif, err := btcutil.NewWIF(key, net, true)
	if err != nil {
		return nil, err
	}

	return &SingleSecret{origin: origin, wif: wif}, nil
}

// Origin returns the key origin.
func (k *SingleSecret) Origin() *KeyOrigin { return k.origin }

// String renders the key as WIF.
func (k *SingleSecret) String() string {
	return k.origin.String() + k.wif.String()
}

// Public returns the matching SinglePub.
func (k *SingleSecret) Public() (PublicKey, error) {
	return NewSinglePub(k.wif.PrivKey.PubKey(), k.origin), nil
}

// PrivKey returns the private key.
func (k *SingleSecret) PrivKey() *btcec.PrivateKey {
	return k.wif.PrivKey
}

// Derive is not defined for single keys.
func (k *SingleSecret) Derive(hdkeys.DerivationPath) (SecretKey, error) {
	return nil, ErrInvalidKeyType
}

// Extend is not defined for single keys.
func (k *SingleSecret) Extend(hdkeys.DerivationPath) (SecretKey, error) {
	return nil, ErrInvalidKeyType
}

// SecretBytes returns the private scalar.
func (k *SingleSecret) SecretBytes() []byte {
	return k.wif.PrivKey.Serialize()
}

func (k *SingleSecret) isSecretKey() {}

// XPrv is an extended private key with an optional derivation tail and
// wildcard.
type XPrv struct {
	origin   *KeyOrigin
	xkey     *hdkeys.ExtendedKey
	path     hdkeys.DerivationPath
	wildcard Wildcard
}

// NewSecretKeyFromMnemonic returns the master key of a mnemonic as a ranged
// descriptor key with no origin and an empty tail.
func NewSecretKeyFromMnemonic(net *chaincfg.Params, mnemonic *hdkeys.Mnemonic,
	passphrase string) (*XPrv, error) {

	master, err := hdkeys.NewMasterFromMnemonic(mnemonic, passphrase, net)
	if err != nil {
		return nil, err
	}

	return NewXPrv(master, nil, nil, WildcardUnhardened)
}

// NewXPrv builds an XPrv from its parts.
func NewXPrv(xkey *hdkeys.ExtendedKey, origin *KeyOrigin,
	path hdkeys.DerivationPath, wildcard Wildcard) (*XPrv, error) {

	if !xkey.IsPrivate() {
		return nil, fmt.Errorf("%w: expected private extended key",
			ErrInvalidKey)
	}

	return &XPrv{
		origin:   origin,
		xkey:     xkey,
		path:     path,
		wildcard: wildcard,
	}, nil
}

// Origin returns the key origin.
func (k *XPrv) Origin() *KeyOrigin { return k.origin }

// ExtendedKey returns the extended key before the derivation tail.
func (k *XPrv) ExtendedKey() *hdkeys.ExtendedKey { return k.xkey }

// Path returns the derivation tail.
func (k *XPrv) Path() hdkeys.DerivationPath { return k.path }

// Wildcard returns the wildcard kind.
func (k *XPrv) Wildcard() Wildcard { return k.wildcard }

// String renders the key expression with the secret.
func (k *XPrv) String() string {
	return renderExtended(k.origin, k.xkey.String(), k.path, k.wildcard)
}

// Public returns the XPub of the key. Hardened steps of the tail are derived
// privately first and moved into the origin.
func (k *XPrv) Public() (PublicKey, error) {
	if k.wildcard == WildcardHardened {
		return nil, ErrHardenedDerivationXpub
	}

	split := 0
	for i, index := range k.path {
		if index >= hdkeychain.HardenedKeyStart {
			split = i + 1
		}
	}

	xkey, origin := k.xkey, k.origin
	if split > 0 {
		hardened := k.path[:split]

		derived, err := k.xkey.Derive(hardened)
		if err != nil {
			return nil, err
		}

		xkey = derived
		origin = deriveOrigin(k.origin, k.xkey, hardened)
	}

	pub, err := xkey.Neuter()
	if err != nil {
		return nil, err
	}

	return newXPub(origin, pub, k.path[split:], k.wildcard)
}

// Derive derives path from the key and its tail. The derived key has an
// empty tail, keeps the wildcard and records the full path in its origin.
func (k *XPrv) Derive(path hdkeys.DerivationPath) (SecretKey, error) {
	full := k.path.Extend(path)

	derived, err := k.xkey.Derive(full)
	if err != nil {
		return nil, err
	}

	return NewXPrv(
		derived, deriveOrigin(k.origin, k.xkey, full), nil, k.wildcard,
	)
}

// Extend appends path to the derivation tail.
func (k *XPrv) Extend(path hdkeys.DerivationPath) (SecretKey, error) {
	return NewXPrv(k.xkey, k.origin, k.path.Extend(path), k.wildcard)
}

// PrivKeyAt returns the private key at the wildcard index.
func (k *XPrv) PrivKeyAt(index uint32) (*btcec.PrivateKey, error) {
	path := k.path
	if k.wildcard != WildcardNone {
		child, err := k.wildcard.childIndex(index)
		if err != nil {
			return nil, err
		}

		path = path.Child(child)
	}

	derived, err := k.xkey.Derive(path)
	if err != nil {
		return nil, err
	}

	return derived.ECPrivKey()
}

// SecretBytes returns the private scalar of the extended key itself.
func (k *XPrv) SecretBytes() []byte {
	priv, err := k.xkey.ECPrivKey()
	if err != nil {
		return nil
	}

	return priv.Serialize()
}

func (k *XPrv) isSecretKey() {}

// deriveOrigin returns the origin of a key reached by walking path from
// xkey, whose own origin is parent.
func deriveOrigin(parent *KeyOrigin, xkey *hdkeys.ExtendedKey,
	path hdkeys.DerivationPath) *KeyOrigin {

	if parent != nil {
		return parent.extend(path)
	}

	return &KeyOrigin{Fingerprint: xkey.Fingerprint(), Path: path.Extend(nil)}
}

// renderExtended renders an extended key expression.
func renderExtended(origin *KeyOrigin, key string, path hdkeys.DerivationPath,
	wildcard Wildcard) string {

	var b strings.Builder
	b.WriteString(origin.String())
	b.WriteString(key)
	for _, index := range path {
		b.WriteString("/")
		b.WriteString(hdkeys.FormatIndex(index))
	}
	b.WriteString(wildcard.String())

	return b.String()
}

// ParsePublicKey parses a public key expression. The network of extended
// keys is inferred from their version bytes.
func ParsePublicKey(s string) (PublicKey, error) {
	key, err := parseKey(s, nil)
	if err != nil {
		return nil, err
	}

	pub, ok := key.(PublicKey)
	if !ok {
		return nil, parseErr(ErrInvalidKey, "expected public key")
	}

	return pub, nil
}

// ParseSecretKey parses a secret key expression. The network of extended
// keys is inferred from their version bytes.
func ParseSecretKey(s string) (SecretKey, error) {
	key, err := parseKey(s, nil)
	if err != nil {
		return nil, err
	}

	sec, ok := key.(SecretKey)
	if !ok {
		return nil, parseErr(ErrInvalidKey, "expected secret key")
	}

	return sec, nil
}

// parseKey parses either kind of key expression. When net is not nil the key
// must be encoded for it.
func parseKey(s string, net *chaincfg.Params) (any, error) {
	if strings.ContainsAny(s, "<>;") {
		return nil, parseErr(ErrMultiPath, s)
	}

	origin, rest, err := parseOrigin(s)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(rest, "/")
	keyStr, steps := parts[0], parts[1:]

	// Single keys: hex public keys or WIF private keys.
	if isHex(keyStr) {
		if len(steps) > 0 {
			return nil, parseErr(ErrInvalidKey, s)
		}

		return parseSinglePub(keyStr, origin)
	}

	if wif, err := btcutil.DecodeWIF(keyStr); err == nil {
		if len(steps) > 0 {
			return nil, parseErr(ErrInvalidKey, s)
		}

		if net != nil && !wif.IsForNet(net) {
			return nil, parseErr(ErrNetworkMismatch, s)
		}

		return &SingleSecret{origin: origin, wif: wif}, nil
	}

	xkey, err := hdkeys.ParseExtendedKeyAnyNet(keyStr)
	if err != nil {
		return nil, &ParseError{Fragment: s, Err: fmt.Errorf("%w: %v",
			ErrInvalidKey, err)}
	}

	if net != nil && !xkey.IsForNet(net) {
		return nil, parseErr(ErrNetworkMismatch, s)
	}

	wildcard := WildcardNone
	if n := len(steps); n > 0 {
		switch steps[n-1] {
		case "*":
			wildcard = WildcardUnhardened
			steps = steps[:n-1]

		case "*'", "*h", "*H":
			wildcard = WildcardHardened
			steps = steps[:n-1]
		}
	}

	path := make(hdkeys.DerivationPath, 0, len(steps))
	if len(steps) > 0 {
		path, err = hdkeys.ParseDerivationPath(strings.Join(steps, "/"))
		if err != nil {
			return nil, &ParseError{Fragment: s, Err: fmt.Errorf(
				"%w: %v", ErrInvalidKey, err,
			)}
		}
	}

	if xkey.IsPrivate() {
		return NewXPrv(xkey, origin, path, wildcard)
	}

	return newXPub(origin, xkey, path, wildcard)
}

// parseOrigin splits an optional "[fingerprint/path]" prefix off a key.
func parseOrigin(s string) (*KeyOrigin, string, error) {
	if !strings.HasPrefix(s, "[") {
		return nil, s, nil
	}

	end := strings.IndexByte(s, ']')
	if end < 0 {
		return nil, "", parseErr(ErrInvalidKey, s)
	}

	inner := s[1:end]
	fpHex, pathStr, _ := strings.Cut(inner, "/")

	fp, err := hex.DecodeString(fpHex)
	if err != nil || len(fp) != 4 {
		return nil, "", parseErr(ErrInvalidKey, inner)
	}

	path := hdkeys.DerivationPath{}
	if pathStr != "" {
		path, err = hdkeys.ParseDerivationPath(pathStr)
		if err != nil {
			return nil, "", &ParseError{Fragment: inner, Err: fmt.Errorf(
				"%w: %v", ErrInvalidKey, err,
			)}
		}
	}

	return &KeyOrigin{
		Fingerprint: binary.BigEndian.Uint32(fp),
		Path:        path,
	}, s[end+1:], nil
}

// parseSinglePub decodes a compressed or x-only hex public key.
func parseSinglePub(keyStr string, origin *KeyOrigin) (*SinglePub, error) {
	raw, err := hex.DecodeString(keyStr)
	if err != nil {
		return nil, parseErr(ErrInvalidKey, keyStr)
	}

	switch len(raw) {
	case btcec.PubKeyBytesLenCompressed:
		key, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, parseErr(ErrInvalidKey, keyStr)
		}

		return &SinglePub{origin: origin, key: key}, nil

	case schnorr.PubKeyBytesLen:
		key, err := schnorr.ParsePubKey(raw)
		if err != nil {
			return nil, parseErr(ErrInvalidKey, keyStr)
		}

		return &SinglePub{origin: origin, key: key, xOnly: true}, nil

	default:
		return nil, parseErr(ErrInvalidKey, keyStr)
	}
}

// isHex reports whether s is a non-empty even length hex string.
func isHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}

	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f',
			c >= 'A' && c <= 'F':

		default:
			return false
		}
	}

	return true
}
