// Copyright (c) 2020 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
)

// bip32Derivations converts descriptor key derivations to their PSBT form.
func bip32Derivations(
	derivs []*descriptor.KeyDerivation) []*psbt.Bip32Derivation {

	out := make([]*psbt.Bip32Derivation, 0, len(derivs))
	for _, d := range derivs {
		out = append(out, &psbt.Bip32Derivation{
			PubKey:               d.PubKey.SerializeCompressed(),
			MasterKeyFingerprint: d.Fingerprint,
			Bip32Path:            d.Path,
		})
	}

	return out
}

// taprootDerivations converts descriptor key derivations to their taproot
// PSBT form.
func taprootDerivations(
	derivs []*descriptor.KeyDerivation) []*psbt.TaprootBip32Derivation {

	out := make([]*psbt.TaprootBip32Derivation, 0, len(derivs))
	for _, d := range derivs {
		out = append(out, &psbt.TaprootBip32Derivation{
			XOnlyPubKey:          schnorr.SerializePubKey(d.PubKey),
			MasterKeyFingerprint: d.Fingerprint,
			Bip32Path:            d.Path,
		})
	}

	return out
}

// addInputInfo fills the UTXO, script and derivation data of a PSBT input
// spending a wallet output paid to desc at index.
//
// Legacy inputs only get the previous transaction, since finalizers look at
// the witness UTXO first. As a fix for CVE-2020-14199 segwit v0 inputs get
// both unless onlyWitness is set. Taproot inputs only need the witness
// UTXO.
func addInputInfo(in *psbt.PInput, desc *descriptor.Descriptor, index uint32,
	prevTx *wire.MsgTx, utxo *wire.TxOut, onlyWitness bool) error {

	scripts, err := desc.ScriptsAt(index)
	if err != nil {
		return err
	}

	derivs, err := desc.DerivationsAt(index)
	if err != nil {
		return err
	}

	witnessUtxo := &wire.TxOut{Value: utxo.Value, PkScript: utxo.PkScript}

	switch {
	case desc.Type() == descriptor.TypeTr:
		in.WitnessUtxo = witnessUtxo
		in.TaprootBip32Derivation = taprootDerivations(derivs)
		if len(derivs) > 0 {
			in.TaprootInternalKey = schnorr.SerializePubKey(
				derivs[0].PubKey,
			)
		}

		return nil

	case desc.Type().IsSegwitV0():
		in.WitnessUtxo = witnessUtxo
		if !onlyWitness {
			in.NonWitnessUtxo = prevTx
		}

	default:
		in.NonWitnessUtxo = prevTx
	}

	in.Bip32Derivation = bip32Derivations(derivs)
	in.RedeemScript = scripts.RedeemScript
	in.WitnessScript = scripts.WitnessScript

	return nil
}

// createOutputInfo fills the derivation data of an output paying to desc
// at index.
func createOutputInfo(out *psbt.POutput, desc *descriptor.Descriptor,
	index uint32) error {

	scripts, err := desc.ScriptsAt(index)
	if err != nil {
		return err
	}

	derivs, err := desc.DerivationsAt(index)
	if err != nil {
		return err
	}

	if desc.Type() == descriptor.TypeTr {
		out.TaprootBip32Derivation = taprootDerivations(derivs)
		if len(derivs) > 0 {
			out.TaprootInternalKey = schnorr.SerializePubKey(
				derivs[0].PubKey,
			)
		}

		return nil
	}

	out.Bip32Derivation = bip32Derivations(derivs)
	out.RedeemScript = scripts.RedeemScript
	out.WitnessScript = scripts.WitnessScript

	return nil
}

// updateWalletInputs fills the data of every input of packet that spends a
// wallet output and has no UTXO data yet. Inputs the wallet doesn't know are
// left alone.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) updateWalletInputs(packet *psbt.Packet,
	onlyWitness bool) error {

	for i, txIn := range packet.UnsignedTx.TxIn {
		in := &packet.Inputs[i]
		if in.WitnessUtxo != nil || in.NonWitnessUtxo != nil ||
			in.FinalScriptSig != nil || in.FinalScriptWitness != nil {

			continue
		}

		out, ok := w.txStore.Output(txIn.PreviousOutPoint)
		if !ok {
			continue
		}

		prev, _ := w.txStore.Tx(txIn.PreviousOutPoint.Hash)
		desc := w.index.keychains[out.Keychain].desc

		err := addInputInfo(
			in, desc, out.DerivationIndex, prev.MsgTx, out.TxOut,
			onlyWitness,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// updateWalletOutputs fills the derivation data of every output of packet
// that pays to the wallet.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) updateWalletOutputs(packet *psbt.Packet) error {
	for i, txOut := range packet.UnsignedTx.TxOut {
		kind, index, ok := w.index.lookup(txOut.PkScript)
		if !ok {
			continue
		}

		desc := w.index.keychains[kind].desc
		if err := createOutputInfo(&packet.Outputs[i], desc, index); err != nil {
			return err
		}
	}

	return nil
}
