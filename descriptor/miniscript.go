// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Fragment identifies a miniscript fragment.
type Fragment uint8

// The supported miniscript fragments. Aliases (pk, pkh, and_n and the t, l,
// u wrappers) are expanded at parse time.
const (
	FragFalse Fragment = iota
	FragTrue
	FragPkK
	FragPkH
	FragOlder
	FragAfter
	FragSha256
	FragHash256
	FragRipemd160
	FragHash160
	FragMulti
	FragSortedMulti
	FragAndV
	FragAndB
	FragAndOr
	FragOrB
	FragOrC
	FragOrD
	FragOrI
	FragThresh
	FragWrapA
	FragWrapS
	FragWrapC
	FragWrapD
	FragWrapV
	FragWrapJ
	FragWrapN
)

// fragmentNames maps the fragments that have a name of their own.
var fragmentNames = map[Fragment]string{
	FragPkK:         "pk_k",
	FragPkH:         "pk_h",
	FragOlder:       "older",
	FragAfter:       "after",
	FragSha256:      "sha256",
	FragHash256:     "hash256",
	FragRipemd160:   "ripemd160",
	FragHash160:     "hash160",
	FragMulti:       "multi",
	FragSortedMulti: "sortedmulti",
	FragAndV:        "and_v",
	FragAndB:        "and_b",
	FragAndOr:       "andor",
	FragOrB:         "or_b",
	FragOrC:         "or_c",
	FragOrD:         "or_d",
	FragOrI:         "or_i",
	FragThresh:      "thresh",
}

// wrapperLetters maps wrapper fragments to their letter.
var wrapperLetters = map[Fragment]byte{
	FragWrapA: 'a',
	FragWrapS: 's',
	FragWrapC: 'c',
	FragWrapD: 'd',
	FragWrapV: 'v',
	FragWrapJ: 'j',
	FragWrapN: 'n',
}

// basicType is the miniscript basic type of an expression.
type basicType uint8

const (
	typeB basicType = iota + 1
	typeV
	typeK
	typeW
)

// String returns the letter of the type.
func (t basicType) String() string {
	return [...]string{"?", "B", "V", "K", "W"}[t]
}

const (
	// maxMultiKeys is the CHECKMULTISIG key limit.
	maxMultiKeys = 20

	// maxTimelock is the largest older/after argument.
	maxTimelock = 1<<31 - 1
)

// Node is a parsed miniscript expression.
type Node struct {
	// Frag is the fragment of this node.
	Frag Fragment

	// Keys holds the key of pk_k/pk_h or the keys of multi.
	Keys []PublicKey

	// Value is the threshold of multi/thresh or the older/after argument.
	Value uint32

	// Hash is the image of a hash fragment.
	Hash []byte

	// Subs are the child expressions.
	Subs []*Node

	typ basicType
}

// parseNode builds a Node from an expression tree, checking basic types.
func (p *parser) parseNode(e *expr) (*Node, error) {
	name := e.name
	wrappers := ""
	if i := strings.IndexByte(name, ':'); i >= 0 {
		wrappers, name = name[:i], name[i+1:]
		if wrappers == "" {
			return nil, parseErr(ErrInvalidMiniscript, e.name)
		}
	}

	n, err := p.parseFragment(name, e)
	if err != nil {
		return nil, err
	}

	// Wrappers apply right to left: "vc:pk_k" is v(c(pk_k)).
	for i := len(wrappers) - 1; i >= 0; i-- {
		n, err = wrap(wrappers[i], n)
		if err != nil {
			return nil, err
		}
	}

	return n, nil
}

// parseFragment parses the unwrapped part of an expression.
func (p *parser) parseFragment(name string, e *expr) (*Node, error) {
	switch name {
	case "0", "1":
		if !e.isLeaf() {
			return nil, parseErr(ErrInvalidMiniscript, name)
		}

		if name == "0" {
			return &Node{Frag: FragFalse, typ: typeB}, nil
		}

		return &Node{Frag: FragTrue, typ: typeB}, nil

	case "pk_k", "pk_h", "pk", "pkh":
		if len(e.args) != 1 {
			return nil, parseErr(ErrInvalidMiniscript, name)
		}

		key, err := p.parseKeyArg(e.args[0])
		if err != nil {
			return nil, err
		}

		frag := FragPkK
		if name == "pk_h" || name == "pkh" {
			frag = FragPkH
		}

		n := &Node{Frag: frag, Keys: []PublicKey{key}, typ: typeK}
		if name == "pk" || name == "pkh" {
			return &Node{Frag: FragWrapC, Subs: []*Node{n}, typ: typeB}, nil
		}

		return n, nil

	case "older", "after":
		if len(e.args) != 1 {
			return nil, parseErr(ErrInvalidMiniscript, name)
		}

		v, err := parseUint(e.args[0], 1, maxTimelock)
		if err != nil {
			return nil, err
		}

		frag := FragOlder
		if name == "after" {
			frag = FragAfter
		}

		return &Node{Frag: frag, Value: v, typ: typeB}, nil

	case "sha256", "hash256", "ripemd160", "hash160":
		frag, size := FragSha256, 32
		switch name {
		case "hash256":
			frag = FragHash256

		case "ripemd160":
			frag, size = FragRipemd160, 20

		case "hash160":
			frag, size = FragHash160, 20
		}

		if len(e.args) != 1 || !e.args[0].isLeaf() {
			return nil, parseErr(ErrInvalidMiniscript, name)
		}

		h, err := hex.DecodeString(e.args[0].name)
		if err != nil || len(h) != size {
			return nil, parseErr(ErrInvalidMiniscript, e.args[0].name)
		}

		return &Node{Frag: frag, Hash: h, typ: typeB}, nil

	case "multi", "sortedmulti":
		return p.parseMulti(name, e)

	case "and_v", "and_b", "and_n", "or_b", "or_c", "or_d", "or_i":
		if len(e.args) != 2 {
			return nil, parseErr(ErrInvalidMiniscript, name)
		}

		x, err := p.parseNode(e.args[0])
		if err != nil {
			return nil, err
		}

		y, err := p.parseNode(e.args[1])
		if err != nil {
			return nil, err
		}

		return combine(name, x, y)

	case "andor":
		if len(e.args) != 3 {
			return nil, parseErr(ErrInvalidMiniscript, name)
		}

		subs := make([]*Node, 3)
		for i, arg := range e.args {
			sub, err := p.parseNode(arg)
			if err != nil {
				return nil, err
			}

			subs[i] = sub
		}

		return andOr(subs[0], subs[1], subs[2])

	case "thresh":
		if len(e.args) < 2 {
			return nil, parseErr(ErrInvalidMiniscript, name)
		}

		k, err := parseUint(e.args[0], 1, uint32(len(e.args)-1))
		if err != nil {
			return nil, err
		}

		n := &Node{Frag: FragThresh, Value: k, typ: typeB}
		for i, arg := range e.args[1:] {
			sub, err := p.parseNode(arg)
			if err != nil {
				return nil, err
			}

			want := typeW
			if i == 0 {
				want = typeB
			}
			if sub.typ != want {
				return nil, typeErr(name, sub, want)
			}

			n.Subs = append(n.Subs, sub)
		}

		return n, nil

	default:
		return nil, parseErr(ErrInvalidMiniscript, name)
	}
}

// parseMulti parses multi and sortedmulti.
func (p *parser) parseMulti(name string, e *expr) (*Node, error) {
	if len(e.args) < 2 || len(e.args)-1 > maxMultiKeys {
		return nil, parseErr(ErrInvalidMiniscript, name)
	}

	k, err := parseUint(e.args[0], 1, uint32(len(e.args)-1))
	if err != nil {
		return nil, err
	}

	frag := FragMulti
	if name == "sortedmulti" {
		frag = FragSortedMulti
	}

	n := &Node{Frag: frag, Value: k, typ: typeB}
	for _, arg := range e.args[1:] {
		key, err := p.parseKeyArg(arg)
		if err != nil {
			return nil, err
		}

		n.Keys = append(n.Keys, key)
	}

	return n, nil
}

// combine builds the two-argument conjunctions and disjunctions.
func combine(name string, x, y *Node) (*Node, error) {
	switch name {
	case "and_v":
		if x.typ != typeV || y.typ == typeW {
			return nil, typeErr(name, x, typeV)
		}

		return &Node{Frag: FragAndV, Subs: []*Node{x, y}, typ: y.typ}, nil

	case "and_b", "or_b":
		if x.typ != typeB {
			return nil, typeErr(name, x, typeB)
		}
		if y.typ != typeW {
			return nil, typeErr(name, y, typeW)
		}

		frag := FragAndB
		if name == "or_b" {
			frag = FragOrB
		}

		return &Node{Frag: frag, Subs: []*Node{x, y}, typ: typeB}, nil

	case "and_n":
		return andOr(x, y, &Node{Frag: FragFalse, typ: typeB})

	case "or_c", "or_d":
		if x.typ != typeB {
			return nil, typeErr(name, x, typeB)
		}

		frag, want := FragOrC, typeV
		if name == "or_d" {
			frag, want = FragOrD, typeB
		}
		if y.typ != want {
			return nil, typeErr(name, y, want)
		}

		return &Node{Frag: frag, Subs: []*Node{x, y}, typ: want}, nil

	case "or_i":
		if x.typ != y.typ || x.typ == typeW {
			return nil, typeErr(name, y, x.typ)
		}

		return &Node{Frag: FragOrI, Subs: []*Node{x, y}, typ: x.typ}, nil
	}

	return nil, parseErr(ErrInvalidMiniscript, name)
}

// andOr builds andor(X,Y,Z).
func andOr(x, y, z *Node) (*Node, error) {
	if x.typ != typeB {
		return nil, typeErr("andor", x, typeB)
	}

	if y.typ != z.typ || y.typ == typeW {
		return nil, typeErr("andor", z, y.typ)
	}

	return &Node{
		Frag: FragAndOr, Subs: []*Node{x, y, z}, typ: y.typ,
	}, nil
}

// wrap applies a single wrapper letter.
func wrap(letter byte, x *Node) (*Node, error) {
	wrapped := func(frag Fragment, want, result basicType) (*Node, error) {
		if x.typ != want {
			return nil, typeErr(string(letter)+":", x, want)
		}

		return &Node{Frag: frag, Subs: []*Node{x}, typ: result}, nil
	}

	switch letter {
	case 'a':
		return wrapped(FragWrapA, typeB, typeW)

	case 's':
		return wrapped(FragWrapS, typeB, typeW)

	case 'c':
		return wrapped(FragWrapC, typeK, typeB)

	case 'd':
		return wrapped(FragWrapD, typeV, typeB)

	case 'v':
		return wrapped(FragWrapV, typeB, typeV)

	case 'j':
		return wrapped(FragWrapJ, typeB, typeB)

	case 'n':
		return wrapped(FragWrapN, typeB, typeB)

	case 't':
		return combine("and_v", x, &Node{Frag: FragTrue, typ: typeB})

	case 'l':
		return combine("or_i", &Node{Frag: FragFalse, typ: typeB}, x)

	case 'u':
		return combine("or_i", x, &Node{Frag: FragFalse, typ: typeB})
	}

	return nil, parseErr(ErrInvalidMiniscript, string(letter)+":")
}

// typeErr reports a basic type mismatch.
func typeErr(fragment string, got *Node, want basicType) error {
	return &ParseError{
		Fragment: fragment,
		Err: fmt.Errorf("%w: expected type %v, got %v",
			ErrInvalidMiniscript, want, got.typ),
	}
}

// parseUint parses a decimal leaf within [min, max].
func parseUint(e *expr, min, max uint32) (uint32, error) {
	if !e.isLeaf() {
		return 0, parseErr(ErrInvalidMiniscript, e.name)
	}

	v, err := strconv.ParseUint(e.name, 10, 32)
	if err != nil || uint32(v) < min || uint32(v) > max {
		return 0, parseErr(ErrInvalidMiniscript, e.name)
	}

	return uint32(v), nil
}

// String renders the node with public keys.
func (n *Node) String() string {
	return n.render(func(k PublicKey) string { return k.String() })
}

// render renders the node, printing keys with keyStr. Aliases are printed in
// their short form so that parsing and rendering round trip.
func (n *Node) render(keyStr func(PublicKey) string) string {
	var prefix []byte
	cur := n

loop:
	for {
		switch {
		case cur.Frag == FragWrapC &&
			(cur.Subs[0].Frag == FragPkK || cur.Subs[0].Frag == FragPkH):

			break loop

		case wrapperLetters[cur.Frag] != 0:
			prefix = append(prefix, wrapperLetters[cur.Frag])
			cur = cur.Subs[0]

		case cur.Frag == FragAndV && cur.Subs[1].Frag == FragTrue:
			prefix = append(prefix, 't')
			cur = cur.Subs[0]

		case cur.Frag == FragOrI && cur.Subs[0].Frag == FragFalse:
			prefix = append(prefix, 'l')
			cur = cur.Subs[1]

		case cur.Frag == FragOrI && cur.Subs[1].Frag == FragFalse:
			prefix = append(prefix, 'u')
			cur = cur.Subs[0]

		default:
			break loop
		}
	}

	body := cur.renderBody(keyStr)
	if len(prefix) > 0 {
		return string(prefix) + ":" + body
	}

	return body
}

// renderBody renders an unwrapped node.
func (n *Node) renderBody(keyStr func(PublicKey) string) string {
	switch n.Frag {
	case FragFalse:
		return "0"

	case FragTrue:
		return "1"

	case FragWrapC:
		if n.Subs[0].Frag == FragPkK {
			return "pk(" + keyStr(n.Subs[0].Keys[0]) + ")"
		}

		return "pkh(" + keyStr(n.Subs[0].Keys[0]) + ")"

	case FragPkK, FragPkH:
		return fragmentNames[n.Frag] + "(" + keyStr(n.Keys[0]) + ")"

	case FragOlder, FragAfter:
		return fmt.Sprintf("%s(%d)", fragmentNames[n.Frag], n.Value)

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		return fragmentNames[n.Frag] + "(" + hex.EncodeToString(n.Hash) + ")"

	case FragMulti, FragSortedMulti:
		parts := []string{strconv.FormatUint(uint64(n.Value), 10)}
		for _, k := range n.Keys {
			parts = append(parts, keyStr(k))
		}

		return fragmentNames[n.Frag] + "(" + strings.Join(parts, ",") + ")"

	case FragAndOr:
		if n.Subs[2].Frag == FragFalse {
			return "and_n(" + n.Subs[0].render(keyStr) + "," +
				n.Subs[1].render(keyStr) + ")"
		}
	}

	var parts []string
	if n.Frag == FragThresh {
		parts = append(parts, strconv.FormatUint(uint64(n.Value), 10))
	}
	for _, sub := range n.Subs {
		parts = append(parts, sub.render(keyStr))
	}

	return fragmentNames[n.Frag] + "(" + strings.Join(parts, ",") + ")"
}

// Walk calls fn for the node and all of its descendants, parents first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, sub := range n.Subs {
		sub.Walk(fn)
	}
}

// instr is a single script element produced by the compiler.
type instr struct {
	op   byte
	data []byte
	num  int64
	kind uint8
}

const (
	instrOp uint8 = iota
	instrData
	instrNum
)

// verifyForms maps opcodes to their VERIFY variants, used by the v: wrapper.
var verifyForms = map[byte]byte{
	txscript.OP_CHECKSIG:      txscript.OP_CHECKSIGVERIFY,
	txscript.OP_CHECKMULTISIG: txscript.OP_CHECKMULTISIGVERIFY,
	txscript.OP_EQUAL:         txscript.OP_EQUALVERIFY,
	txscript.OP_NUMEQUAL:      txscript.OP_NUMEQUALVERIFY,
}

// keyBytesFn resolves a descriptor key to the serialized public key that is
// placed in the script.
type keyBytesFn func(PublicKey) ([]byte, error)

// Script compiles the node with the given key resolver.
func (n *Node) Script(keyBytes keyBytesFn) ([]byte, error) {
	instrs, err := n.compile(keyBytes)
	if err != nil {
		return nil, err
	}

	b := txscript.NewScriptBuilder()
	for _, in := range instrs {
		switch in.kind {
		case instrOp:
			b.AddOp(in.op)

		case instrData:
			b.AddData(in.data)

		case instrNum:
			b.AddInt64(in.num)
		}
	}

	return b.Script()
}

// compile translates the node into script elements.
func (n *Node) compile(keyBytes keyBytesFn) ([]instr, error) {
	op := func(o byte) instr { return instr{op: o, kind: instrOp} }
	data := func(d []byte) instr { return instr{data: d, kind: instrData} }
	num := func(v int64) instr { return instr{num: v, kind: instrNum} }

	subs := make([][]instr, len(n.Subs))
	for i, sub := range n.Subs {
		compiled, err := sub.compile(keyBytes)
		if err != nil {
			return nil, err
		}

		subs[i] = compiled
	}

	cat := func(parts ...[]instr) []instr {
		var out []instr
		for _, p := range parts {
			out = append(out, p...)
		}

		return out
	}
	ops := func(o ...byte) []instr {
		out := make([]instr, len(o))
		for i, c := range o {
			out[i] = op(c)
		}

		return out
	}

	switch n.Frag {
	case FragFalse:
		return ops(txscript.OP_0), nil

	case FragTrue:
		return ops(txscript.OP_1), nil

	case FragPkK:
		key, err := keyBytes(n.Keys[0])
		if err != nil {
			return nil, err
		}

		return []instr{data(key)}, nil

	case FragPkH:
		key, err := keyBytes(n.Keys[0])
		if err != nil {
			return nil, err
		}

		return []instr{
			op(txscript.OP_DUP), op(txscript.OP_HASH160),
			data(btcutil.Hash160(key)), op(txscript.OP_EQUALVERIFY),
		}, nil

	case FragOlder:
		return []instr{
			num(int64(n.Value)), op(txscript.OP_CHECKSEQUENCEVERIFY),
		}, nil

	case FragAfter:
		return []instr{
			num(int64(n.Value)), op(txscript.OP_CHECKLOCKTIMEVERIFY),
		}, nil

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		hashOp := map[Fragment]byte{
			FragSha256:    txscript.OP_SHA256,
			FragHash256:   txscript.OP_HASH256,
			FragRipemd160: txscript.OP_RIPEMD160,
			FragHash160:   txscript.OP_HASH160,
		}[n.Frag]

		return []instr{
			op(txscript.OP_SIZE), num(32), op(txscript.OP_EQUALVERIFY),
			op(hashOp), data(n.Hash), op(txscript.OP_EQUAL),
		}, nil

	case FragMulti, FragSortedMulti:
		keys := make([][]byte, len(n.Keys))
		for i, k := range n.Keys {
			key, err := keyBytes(k)
			if err != nil {
				return nil, err
			}

			keys[i] = key
		}

		if n.Frag == FragSortedMulti {
			sort.Slice(keys, func(i, j int) bool {
				return bytes.Compare(keys[i], keys[j]) < 0
			})
		}

		out := []instr{num(int64(n.Value))}
		for _, key := range keys {
			out = append(out, data(key))
		}

		return append(out, num(int64(len(keys))),
			op(txscript.OP_CHECKMULTISIG)), nil

	case FragAndV:
		return cat(subs[0], subs[1]), nil

	case FragAndB:
		return cat(subs[0], subs[1], ops(txscript.OP_BOOLAND)), nil

	case FragAndOr:
		return cat(subs[0], ops(txscript.OP_NOTIF), subs[2],
			ops(txscript.OP_ELSE), subs[1], ops(txscript.OP_ENDIF)), nil

	case FragOrB:
		return cat(subs[0], subs[1], ops(txscript.OP_BOOLOR)), nil

	case FragOrC:
		return cat(subs[0], ops(txscript.OP_NOTIF), subs[1],
			ops(txscript.OP_ENDIF)), nil

	case FragOrD:
		return cat(subs[0], ops(txscript.OP_IFDUP, txscript.OP_NOTIF),
			subs[1], ops(txscript.OP_ENDIF)), nil

	case FragOrI:
		return cat(ops(txscript.OP_IF), subs[0], ops(txscript.OP_ELSE),
			subs[1], ops(txscript.OP_ENDIF)), nil

	case FragThresh:
		out := subs[0]
		for _, sub := range subs[1:] {
			out = cat(out, sub, ops(txscript.OP_ADD))
		}

		return cat(out, []instr{num(int64(n.Value))},
			ops(txscript.OP_EQUAL)), nil

	case FragWrapA:
		return cat(ops(txscript.OP_TOALTSTACK), subs[0],
			ops(txscript.OP_FROMALTSTACK)), nil

	case FragWrapS:
		return cat(ops(txscript.OP_SWAP), subs[0]), nil

	case FragWrapC:
		return cat(subs[0], ops(txscript.OP_CHECKSIG)), nil

	case FragWrapD:
		return cat(ops(txscript.OP_DUP, txscript.OP_IF), subs[0],
			ops(txscript.OP_ENDIF)), nil

	case FragWrapV:
		out := subs[0]
		last := out[len(out)-1]
		if verify, ok := verifyForms[last.op]; ok && last.kind == instrOp {
			out = append(out[:len(out)-1:len(out)-1], op(verify))
			return out, nil
		}

		return cat(out, ops(txscript.OP_VERIFY)), nil

	case FragWrapJ:
		return cat(ops(txscript.OP_SIZE, txscript.OP_0NOTEQUAL,
			txscript.OP_IF), subs[0], ops(txscript.OP_ENDIF)), nil

	case FragWrapN:
		return cat(subs[0], ops(txscript.OP_0NOTEQUAL)), nil
	}

	return nil, fmt.Errorf("%w: unknown fragment %d", ErrInvalidMiniscript,
		n.Frag)
}
