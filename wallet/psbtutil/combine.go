// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtutil

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// ErrSighashMismatch is returned when two packets request different sighash
// types for the same input.
var ErrSighashMismatch = errors.New("sighash type mismatch")

// Combine merges two packets of the same transaction in the BIP 174
// Combiner role. Neither argument is modified.
//
// The merge is commutative. Data that defines what is being signed (the
// previous outputs, redeem and witness scripts, the sighash type) must agree
// or the combine fails. Keyed data such as partial signatures and
// derivations is unioned and sorted by key. Remaining scalar conflicts keep
// the lexicographically smaller value.
func Combine(a, b *psbt.Packet) (*psbt.Packet, error) {
	return CombineAll(a, b)
}

// CombineAll folds Combine over all packets.
func CombineAll(psbts ...*psbt.Packet) (*psbt.Packet, error) {
	if err := validatePsbtMerge(psbts); err != nil {
		return nil, err
	}

	combined, err := clonePacket(psbts[0])
	if err != nil {
		return nil, err
	}

	for _, src := range psbts[1:] {
		if err := mergePsbtInputs(combined, src); err != nil {
			return nil, err
		}

		if err := mergePsbtOutputs(combined, src); err != nil {
			return nil, err
		}

		combined.Unknowns = mergeUnknowns(combined.Unknowns, src.Unknowns)
	}

	log.Debugf("Combined %d psbts for tx %v", len(psbts),
		combined.UnsignedTx.TxHash())

	return combined, nil
}

// validatePsbtMerge checks that all packets describe the same unsigned
// transaction and carry one map per input and output.
func validatePsbtMerge(psbts []*psbt.Packet) error {
	if len(psbts) == 0 {
		return ErrNoPsbtsToCombine
	}

	want := psbts[0].UnsignedTx.TxHash()
	for i, p := range psbts {
		if p.UnsignedTx.TxHash() != want {
			return fmt.Errorf("%w: psbt %d has tx %v, want %v",
				ErrUnexpectedUnsignedTx, i, p.UnsignedTx.TxHash(),
				want)
		}

		if len(p.Inputs) != len(p.UnsignedTx.TxIn) {
			return fmt.Errorf("%w: psbt %d has %d input maps for "+
				"%d inputs", ErrInputCountMismatch, i,
				len(p.Inputs), len(p.UnsignedTx.TxIn))
		}

		if len(p.Outputs) != len(p.UnsignedTx.TxOut) {
			return fmt.Errorf("%w: psbt %d has %d output maps for "+
				"%d outputs", ErrOutputCountMismatch, i,
				len(p.Outputs), len(p.UnsignedTx.TxOut))
		}
	}

	return nil
}

// clonePacket returns a deep copy of p by round-tripping its serialization.
func clonePacket(p *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return nil, MapError(err)
	}

	clone, err := psbt.NewFromRawBytes(&buf, false)
	if err != nil {
		return nil, MapError(err)
	}

	return clone, nil
}

// mergePsbtInputs merges the input maps of src into dest.
func mergePsbtInputs(dest, src *psbt.Packet) error {
	if len(dest.Inputs) != len(src.Inputs) {
		return ErrInputCountMismatch
	}

	for i := range dest.Inputs {
		d, s := &dest.Inputs[i], &src.Inputs[i]

		if err := mergeWitnessUtxo(d, s); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		if err := mergeNonWitnessUtxo(d, s); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		if err := mergeSighashType(d, s); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		if err := mergeInputScripts(d, s); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		mergeTaprootInternalKey(d, s)

		d.PartialSigs = unionSorted(
			d.PartialSigs, s.PartialSigs,
			func(p *psbt.PartialSig) []byte { return p.PubKey },
			func(p *psbt.PartialSig) []byte { return p.Signature },
		)
		d.Bip32Derivation = unionSorted(
			d.Bip32Derivation, s.Bip32Derivation,
			bip32Key, bip32Value,
		)
		d.TaprootBip32Derivation = unionSorted(
			d.TaprootBip32Derivation, s.TaprootBip32Derivation,
			taprootBip32Key, taprootBip32Value,
		)
		d.TaprootScriptSpendSig = unionSorted(
			d.TaprootScriptSpendSig, s.TaprootScriptSpendSig,
			func(sig *psbt.TaprootScriptSpendSig) []byte {
				return concat(sig.XOnlyPubKey, sig.LeafHash)
			},
			func(sig *psbt.TaprootScriptSpendSig) []byte {
				return concat(
					sig.Signature, []byte{byte(sig.SigHash)},
				)
			},
		)
		d.TaprootLeafScript = unionSorted(
			d.TaprootLeafScript, s.TaprootLeafScript,
			func(l *psbt.TaprootTapLeafScript) []byte {
				return l.ControlBlock
			},
			func(l *psbt.TaprootTapLeafScript) []byte {
				return concat(l.Script, []byte{byte(l.LeafVersion)})
			},
		)
		d.Unknowns = mergeUnknowns(d.Unknowns, s.Unknowns)

		d.TaprootKeySpendSig = smaller(
			d.TaprootKeySpendSig, s.TaprootKeySpendSig,
		)
		d.TaprootMerkleRoot = smaller(
			d.TaprootMerkleRoot, s.TaprootMerkleRoot,
		)
		d.FinalScriptSig = smaller(d.FinalScriptSig, s.FinalScriptSig)
		d.FinalScriptWitness = smaller(
			d.FinalScriptWitness, s.FinalScriptWitness,
		)
	}

	return nil
}

// mergePsbtOutputs merges the output maps of src into dest.
func mergePsbtOutputs(dest, src *psbt.Packet) error {
	if len(dest.Outputs) != len(src.Outputs) {
		return ErrOutputCountMismatch
	}

	for i := range dest.Outputs {
		d, s := &dest.Outputs[i], &src.Outputs[i]

		if err := mergeOutputScripts(d, s); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}

		d.TaprootInternalKey = smaller(
			d.TaprootInternalKey, s.TaprootInternalKey,
		)
		d.TaprootTapTree = smaller(d.TaprootTapTree, s.TaprootTapTree)
		d.Bip32Derivation = unionSorted(
			d.Bip32Derivation, s.Bip32Derivation,
			bip32Key, bip32Value,
		)
		d.TaprootBip32Derivation = unionSorted(
			d.TaprootBip32Derivation, s.TaprootBip32Derivation,
			taprootBip32Key, taprootBip32Value,
		)
		d.Unknowns = mergeUnknowns(d.Unknowns, s.Unknowns)
	}

	return nil
}

// mergeWitnessUtxo adopts the witness utxo of src, failing if both are set
// and differ.
func mergeWitnessUtxo(dest, src *psbt.PInput) error {
	switch {
	case src.WitnessUtxo == nil:
		return nil

	case dest.WitnessUtxo == nil:
		dest.WitnessUtxo = wire.NewTxOut(
			src.WitnessUtxo.Value,
			bytes.Clone(src.WitnessUtxo.PkScript),
		)

		return nil

	case !psbt.TxOutsEqual(dest.WitnessUtxo, src.WitnessUtxo):
		return ErrWitnessUtxoMismatch
	}

	return nil
}

// mergeNonWitnessUtxo adopts the previous transaction of src, failing if
// both are set and differ.
func mergeNonWitnessUtxo(dest, src *psbt.PInput) error {
	switch {
	case src.NonWitnessUtxo == nil:
		return nil

	case dest.NonWitnessUtxo == nil:
		dest.NonWitnessUtxo = src.NonWitnessUtxo.Copy()
		return nil

	case dest.NonWitnessUtxo.TxHash() != src.NonWitnessUtxo.TxHash():
		return ErrNonWitnessUtxoMismatch
	}

	return nil
}

// mergeSighashType adopts the sighash type of src, failing if both are set
// and differ.
func mergeSighashType(dest, src *psbt.PInput) error {
	switch {
	case src.SighashType == 0:
		return nil

	case dest.SighashType == 0:
		dest.SighashType = src.SighashType
		return nil

	case dest.SighashType != src.SighashType:
		return fmt.Errorf("%w: %v != %v", ErrSighashMismatch,
			dest.SighashType, src.SighashType)
	}

	return nil
}

// mergeRedeemScript adopts the redeem script of src, failing if both are
// set and differ.
func mergeRedeemScript(dest, src *psbt.PInput) error {
	merged, err := mergeScript(
		dest.RedeemScript, src.RedeemScript, ErrRedeemScriptMismatch,
	)
	if err != nil {
		return err
	}

	dest.RedeemScript = merged

	return nil
}

// mergeInputScripts merges the redeem and witness scripts of an input.
func mergeInputScripts(dest, src *psbt.PInput) error {
	if err := mergeRedeemScript(dest, src); err != nil {
		return err
	}

	merged, err := mergeScript(
		dest.WitnessScript, src.WitnessScript,
		ErrWitnessScriptMismatch,
	)
	if err != nil {
		return err
	}

	dest.WitnessScript = merged

	return nil
}

// mergeOutputScripts merges the redeem and witness scripts of an output.
func mergeOutputScripts(dest, src *psbt.POutput) error {
	redeem, err := mergeScript(
		dest.RedeemScript, src.RedeemScript, ErrRedeemScriptMismatch,
	)
	if err != nil {
		return err
	}

	witness, err := mergeScript(
		dest.WitnessScript, src.WitnessScript,
		ErrWitnessScriptMismatch,
	)
	if err != nil {
		return err
	}

	dest.RedeemScript = redeem
	dest.WitnessScript = witness

	return nil
}

// mergeTaprootInternalKey keeps the smaller internal key.
func mergeTaprootInternalKey(dest, src *psbt.PInput) {
	dest.TaprootInternalKey = smaller(
		dest.TaprootInternalKey, src.TaprootInternalKey,
	)
}

// mergeScript returns whichever script is set, or mismatch if both are set
// and differ.
func mergeScript(dest, src []byte, mismatch error) ([]byte, error) {
	switch {
	case len(src) == 0:
		return dest, nil

	case len(dest) == 0:
		return bytes.Clone(src), nil

	case !bytes.Equal(dest, src):
		return nil, mismatch
	}

	return dest, nil
}

// mergeUnknowns unions unknown key-value pairs.
func mergeUnknowns(a, b []*psbt.Unknown) []*psbt.Unknown {
	return unionSorted(
		a, b,
		func(u *psbt.Unknown) []byte { return u.Key },
		func(u *psbt.Unknown) []byte { return u.Value },
	)
}

// unionSorted merges two keyed lists. Entries sharing a key keep the one
// with the smaller value. The result is sorted by key and is nil when both
// lists are empty.
func unionSorted[T any](a, b []*T, key, value func(*T) []byte) []*T {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}

	byKey := make(map[string]*T, len(a)+len(b))
	for _, list := range [][]*T{a, b} {
		for _, entry := range list {
			k := string(key(entry))

			existing, ok := byKey[k]
			if ok && bytes.Compare(value(existing), value(entry)) <= 0 {
				continue
			}

			byKey[k] = entry
		}
	}

	merged := make([]*T, 0, len(byKey))
	for _, entry := range byKey {
		merged = append(merged, entry)
	}

	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(key(merged[i]), key(merged[j])) < 0
	})

	return merged
}

// smaller returns the set value of a and b, or the lexicographically smaller
// one when both are set.
func smaller(a, b []byte) []byte {
	switch {
	case len(a) == 0:
		return b

	case len(b) == 0:
		return a

	case bytes.Compare(a, b) <= 0:
		return a

	default:
		return b
	}
}

func bip32Key(d *psbt.Bip32Derivation) []byte {
	return d.PubKey
}

func bip32Value(d *psbt.Bip32Derivation) []byte {
	return derivationBytes(d.MasterKeyFingerprint, d.Bip32Path)
}

func taprootBip32Key(d *psbt.TaprootBip32Derivation) []byte {
	return d.XOnlyPubKey
}

func taprootBip32Value(d *psbt.TaprootBip32Derivation) []byte {
	value := derivationBytes(d.MasterKeyFingerprint, d.Bip32Path)
	for _, leaf := range d.LeafHashes {
		value = append(value, leaf...)
	}

	return value
}

// derivationBytes serializes a fingerprint and path for comparison.
func derivationBytes(fingerprint uint32, path []uint32) []byte {
	b := make([]byte, 0, 4+4*len(path))
	for _, v := range append([]uint32{fingerprint}, path...) {
		b = append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}

	return b
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)

	return append(out, b...)
}
