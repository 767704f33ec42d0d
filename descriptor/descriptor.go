// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Type is the top level script type of a descriptor.
type Type uint8

const (
	// TypePkh is pkh(K).
	TypePkh Type = iota

	// TypeWpkh is wpkh(K).
	TypeWpkh

	// TypeShWpkh is sh(wpkh(K)).
	TypeShWpkh

	// TypeTr is tr(K) with a key path only.
	TypeTr

	// TypeSh is sh(M).
	TypeSh

	// TypeWsh is wsh(M).
	TypeWsh

	// TypeShWsh is sh(wsh(M)).
	TypeShWsh
)

// String returns the descriptor function of the type.
func (t Type) String() string {
	switch t {
	case TypePkh:
		return "pkh"

	case TypeWpkh:
		return "wpkh"

	case TypeShWpkh:
		return "sh(wpkh)"

	case TypeTr:
		return "tr"

	case TypeSh:
		return "sh"

	case TypeWsh:
		return "wsh"

	case TypeShWsh:
		return "sh(wsh)"

	default:
		return "unknown"
	}
}

// IsSegwit reports whether outputs of this type are spent with a witness.
func (t Type) IsSegwit() bool {
	return t != TypePkh && t != TypeSh
}

// IsSegwitV0 reports whether outputs of this type are witness v0 programs,
// possibly nested in P2SH.
func (t Type) IsSegwitV0() bool {
	return t.IsSegwit() && t != TypeTr
}

// KeyMap maps the rendered public key of a descriptor to its secret.
type KeyMap map[string]SecretKey

// Lookup returns the secret behind a descriptor public key.
func (m KeyMap) Lookup(pub PublicKey) (SecretKey, bool) {
	sec, ok := m[pub.String()]
	return sec, ok
}

// Merge adds every entry of other to the map.
func (m KeyMap) Merge(other KeyMap) {
	for k, v := range other {
		m[k] = v
	}
}

// Descriptor is a parsed output descriptor. It never holds secrets; those
// are returned separately in a KeyMap by Parse.
type Descriptor struct {
	typ Type

	// key is set for the single key types.
	key PublicKey

	// ms is set for sh, wsh and sh(wsh).
	ms *Node
}

// Scripts holds the scripts of a descriptor at one index.
type Scripts struct {
	// PkScript is the output script.
	PkScript []byte

	// RedeemScript is the P2SH redeem script, if any.
	RedeemScript []byte

	// WitnessScript is the P2WSH witness script, if any.
	WitnessScript []byte
}

// parser accumulates the secrets met while parsing a descriptor.
type parser struct {
	net  *chaincfg.Params
	keys KeyMap
}

// parseKeyArg parses a key argument, moving secret keys into the key map.
func (p *parser) parseKeyArg(e *expr) (PublicKey, error) {
	if !e.isLeaf() {
		return nil, parseErr(ErrInvalidKey, e.name)
	}

	key, err := parseKey(e.name, p.net)
	if err != nil {
		return nil, err
	}

	switch k := key.(type) {
	case PublicKey:
		return k, nil

	case SecretKey:
		pub, err := k.Public()
		if err != nil {
			return nil, err
		}

		p.keys[pub.String()] = k

		return pub, nil
	}

	return nil, parseErr(ErrInvalidKey, e.name)
}

// Parse parses a descriptor for the given network. A trailing checksum is
// verified if present. Secret keys are replaced by their public keys in the
// returned descriptor and collected in the KeyMap.
func Parse(s string, net *chaincfg.Params) (*Descriptor, KeyMap, error) {
	if err := VerifyChecksum(s); err != nil {
		return nil, nil, err
	}

	body, _, _ := strings.Cut(s, "#")
	if _, ok := Checksum(body); !ok {
		return nil, nil, parseErr(ErrInvalidDescriptor, body)
	}

	e, err := parseExpr(body)
	if err != nil {
		return nil, nil, err
	}

	p := &parser{net: net, keys: make(KeyMap)}

	desc, err := p.parseTop(e)
	if err != nil {
		return nil, nil, err
	}

	return desc, p.keys, nil
}

// parseTop parses the outermost function of a descriptor.
func (p *parser) parseTop(e *expr) (*Descriptor, error) {
	switch e.name {
	case "pkh", "wpkh":
		if len(e.args) != 1 {
			return nil, parseErr(ErrInvalidDescriptor, e.name)
		}

		key, err := p.parseCompressedKey(e.args[0])
		if err != nil {
			return nil, err
		}

		typ := TypePkh
		if e.name == "wpkh" {
			typ = TypeWpkh
		}

		return &Descriptor{typ: typ, key: key}, nil

	case "tr":
		// Script path spends aren't supported, only tr(K).
		if len(e.args) != 1 {
			return nil, parseErr(ErrInvalidDescriptor, e.name)
		}

		key, err := p.parseKeyArg(e.args[0])
		if err != nil {
			return nil, err
		}

		return &Descriptor{typ: TypeTr, key: key}, nil

	case "sh":
		if len(e.args) != 1 {
			return nil, parseErr(ErrInvalidDescriptor, e.name)
		}

		inner := e.args[0]
		switch inner.name {
		case "wpkh":
			if len(inner.args) != 1 {
				return nil, parseErr(ErrInvalidDescriptor, inner.name)
			}

			key, err := p.parseCompressedKey(inner.args[0])
			if err != nil {
				return nil, err
			}

			return &Descriptor{typ: TypeShWpkh, key: key}, nil

		case "wsh":
			if len(inner.args) != 1 {
				return nil, parseErr(ErrInvalidDescriptor, inner.name)
			}

			ms, err := p.parseScript(inner.args[0])
			if err != nil {
				return nil, err
			}

			return &Descriptor{typ: TypeShWsh, ms: ms}, nil
		}

		ms, err := p.parseScript(inner)
		if err != nil {
			return nil, err
		}

		return &Descriptor{typ: TypeSh, ms: ms}, nil

	case "wsh":
		if len(e.args) != 1 {
			return nil, parseErr(ErrInvalidDescriptor, e.name)
		}

		ms, err := p.parseScript(e.args[0])
		if err != nil {
			return nil, err
		}

		return &Descriptor{typ: TypeWsh, ms: ms}, nil
	}

	return nil, parseErr(ErrInvalidDescriptor, e.name)
}

// parseCompressedKey parses a key that must not be x-only.
func (p *parser) parseCompressedKey(e *expr) (PublicKey, error) {
	key, err := p.parseKeyArg(e)
	if err != nil {
		return nil, err
	}

	if single, ok := key.(*SinglePub); ok && single.xOnly {
		return nil, parseErr(ErrInvalidKey, e.name)
	}

	return key, nil
}

// parseScript parses the miniscript argument of sh or wsh. sortedmulti is
// only accepted as the whole script.
func (p *parser) parseScript(e *expr) (*Node, error) {
	ms, err := p.parseNode(e)
	if err != nil {
		return nil, err
	}

	if ms.typ != typeB {
		return nil, typeErr(e.name, ms, typeB)
	}

	var walkErr error
	ms.Walk(func(n *Node) {
		if n.Frag == FragSortedMulti && n != ms {
			walkErr = parseErr(ErrInvalidMiniscript, "sortedmulti")
		}

		for _, k := range n.Keys {
			if single, ok := k.(*SinglePub); ok && single.xOnly {
				walkErr = parseErr(ErrInvalidKey, k.String())
			}
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return ms, nil
}

// Type returns the script type of the descriptor.
func (d *Descriptor) Type() Type {
	return d.typ
}

// Miniscript returns the script of sh, wsh and sh(wsh) descriptors, nil for
// the single key types.
func (d *Descriptor) Miniscript() *Node {
	return d.ms
}

// Keys returns every key of the descriptor in order of appearance.
func (d *Descriptor) Keys() []PublicKey {
	if d.key != nil {
		return []PublicKey{d.key}
	}

	var keys []PublicKey
	d.ms.Walk(func(n *Node) {
		keys = append(keys, n.Keys...)
	})

	return keys
}

// IsRanged reports whether any key ends in a wildcard.
func (d *Descriptor) IsRanged() bool {
	for _, k := range d.Keys() {
		if k.IsRanged() {
			return true
		}
	}

	return false
}

// IsMultipath always returns false: multipath keys are rejected at parse
// time.
func (d *Descriptor) IsMultipath() bool {
	return false
}

// String renders the public descriptor with its checksum.
func (d *Descriptor) String() string {
	return withChecksum(d.render(func(k PublicKey) string {
		return k.String()
	}))
}

// StringWithSecret renders the descriptor with the secrets of keys found in
// keys, with its checksum.
func (d *Descriptor) StringWithSecret(keys KeyMap) string {
	return withChecksum(d.render(func(k PublicKey) string {
		if sec, ok := keys.Lookup(k); ok {
			return sec.String()
		}

		return k.String()
	}))
}

// render renders the descriptor body.
func (d *Descriptor) render(keyStr func(PublicKey) string) string {
	switch d.typ {
	case TypePkh:
		return "pkh(" + keyStr(d.key) + ")"

	case TypeWpkh:
		return "wpkh(" + keyStr(d.key) + ")"

	case TypeShWpkh:
		return "sh(wpkh(" + keyStr(d.key) + "))"

	case TypeTr:
		return "tr(" + keyStr(d.key) + ")"

	case TypeSh:
		return "sh(" + d.ms.render(keyStr) + ")"

	case TypeWsh:
		return "wsh(" + d.ms.render(keyStr) + ")"

	default:
		return "sh(wsh(" + d.ms.render(keyStr) + "))"
	}
}

// withChecksum appends the checksum to a rendered body.
func withChecksum(body string) string {
	sum, _ := Checksum(body)
	return body + "#" + sum
}

// AtIndex returns the descriptor with every wildcard replaced by index.
func (d *Descriptor) AtIndex(index uint32) (*Descriptor, error) {
	at := func(k PublicKey) (PublicKey, error) {
		xpub, ok := k.(*XPub)
		if !ok || !xpub.IsRanged() {
			return k, nil
		}

		child, err := xpub.wildcard.childIndex(index)
		if err != nil {
			return nil, err
		}

		return newXPub(
			xpub.origin, xpub.xkey, xpub.path.Child(child), WildcardNone,
		)
	}

	if d.key != nil {
		key, err := at(d.key)
		if err != nil {
			return nil, err
		}

		return &Descriptor{typ: d.typ, key: key}, nil
	}

	ms, err := d.ms.mapKeys(at)
	if err != nil {
		return nil, err
	}

	return &Descriptor{typ: d.typ, ms: ms}, nil
}

// mapKeys returns a copy of the node with every key replaced by fn.
func (n *Node) mapKeys(fn func(PublicKey) (PublicKey, error)) (*Node, error) {
	out := *n
	out.Keys = make([]PublicKey, len(n.Keys))
	for i, k := range n.Keys {
		mapped, err := fn(k)
		if err != nil {
			return nil, err
		}

		out.Keys[i] = mapped
	}

	out.Subs = make([]*Node, len(n.Subs))
	for i, sub := range n.Subs {
		mapped, err := sub.mapKeys(fn)
		if err != nil {
			return nil, err
		}

		out.Subs[i] = mapped
	}

	return &out, nil
}

// DerivationsAt returns the BIP32 metadata of every key at the index.
func (d *Descriptor) DerivationsAt(index uint32) ([]*KeyDerivation, error) {
	keys := d.Keys()
	derivs := make([]*KeyDerivation, 0, len(keys))
	for _, k := range keys {
		deriv, err := k.DerivationAt(index)
		if err != nil {
			return nil, err
		}

		derivs = append(derivs, deriv)
	}

	return derivs, nil
}

// keyBytesAt returns a resolver that serializes keys at the index.
func keyBytesAt(index uint32) keyBytesFn {
	return func(k PublicKey) ([]byte, error) {
		deriv, err := k.DerivationAt(index)
		if err != nil {
			return nil, err
		}

		return deriv.PubKey.SerializeCompressed(), nil
	}
}

// ScriptsAt returns the output script, and the redeem and witness scripts
// where the type has them, at the index.
func (d *Descriptor) ScriptsAt(index uint32) (*Scripts, error) {
	var (
		scripts = &Scripts{}
		pubKey  *btcec.PublicKey
	)

	if d.key != nil {
		deriv, err := d.key.DerivationAt(index)
		if err != nil {
			return nil, err
		}

		pubKey = deriv.PubKey
	} else {
		script, err := d.ms.Script(keyBytesAt(index))
		if err != nil {
			return nil, err
		}

		switch d.typ {
		case TypeSh:
			scripts.RedeemScript = script

		default:
			scripts.WitnessScript = script
		}
	}

	var (
		pkScript []byte
		err      error
	)
	switch d.typ {
	case TypePkh:
		pkScript, err = txscript.NewScriptBuilder().
			AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
			AddData(btcutil.Hash160(pubKey.SerializeCompressed())).
			AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
			Script()

	case TypeWpkh:
		pkScript, err = witnessProgram(
			0, btcutil.Hash160(pubKey.SerializeCompressed()),
		)

	case TypeShWpkh:
		scripts.RedeemScript, err = witnessProgram(
			0, btcutil.Hash160(pubKey.SerializeCompressed()),
		)
		if err == nil {
			pkScript, err = p2shScript(scripts.RedeemScript)
		}

	case TypeTr:
		outputKey := txscript.ComputeTaprootKeyNoScript(pubKey)
		pkScript, err = witnessProgram(1, schnorr.SerializePubKey(outputKey))

	case TypeSh:
		pkScript, err = p2shScript(scripts.RedeemScript)

	case TypeWsh:
		hash := sha256.Sum256(scripts.WitnessScript)
		pkScript, err = witnessProgram(0, hash[:])

	case TypeShWsh:
		hash := sha256.Sum256(scripts.WitnessScript)
		scripts.RedeemScript, err = witnessProgram(0, hash[:])
		if err == nil {
			pkScript, err = p2shScript(scripts.RedeemScript)
		}
	}
	if err != nil {
		return nil, err
	}

	scripts.PkScript = pkScript

	return scripts, nil
}

// ScriptAt returns the output script at the index.
func (d *Descriptor) ScriptAt(index uint32) ([]byte, error) {
	scripts, err := d.ScriptsAt(index)
	if err != nil {
		return nil, err
	}

	return scripts.PkScript, nil
}

// AddressAt returns the address at the index.
func (d *Descriptor) AddressAt(index uint32,
	net *chaincfg.Params) (btcutil.Address, error) {

	pkScript, err := d.ScriptAt(index)
	if err != nil {
		return nil, err
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, net)
	if err != nil {
		return nil, err
	}

	if len(addrs) != 1 {
		return nil, fmt.Errorf("%w: no address for %v", ErrInvalidDescriptor,
			d.typ)
	}

	return addrs[0], nil
}

// witnessProgram builds a segwit output script.
func witnessProgram(version byte, program []byte) ([]byte, error) {
	versionOp := byte(txscript.OP_0)
	if version > 0 {
		versionOp = txscript.OP_1 + version - 1
	}

	return txscript.NewScriptBuilder().
		AddOp(versionOp).
		AddData(program).
		Script()
}

// p2shScript builds the P2SH output script of a redeem script.
func p2shScript(redeemScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
}
