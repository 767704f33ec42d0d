// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BumpFeeTxBuilder describes a replacement of an unconfirmed wallet
// transaction paying a higher fee rate. Like TxBuilder it is a value.
//
// The replacement spends every input of the original and pays the same
// recipients. The fee increase comes out of the original change output, and
// new inputs are added when the change can't cover it:
//
//	packet, err := wallet.NewBumpFeeTxBuilder(txid, newRate).
//		EnableRbf().
//		Finish(w)
type BumpFeeTxBuilder struct {
	txid    chainhash.Hash
	feeRate btcunit.SatPerVByte

	// shrink is the output the fee is taken from, None to take it from
	// the change.
	shrink fn.Option[[]byte]

	// tx carries the remaining options of the replacement.
	tx TxBuilder
}

// NewBumpFeeTxBuilder starts a replacement of txid at feeRate.
func NewBumpFeeTxBuilder(txid chainhash.Hash,
	feeRate btcunit.SatPerVByte) BumpFeeTxBuilder {

	return BumpFeeTxBuilder{
		txid:    txid,
		feeRate: feeRate,
		tx:      NewTxBuilder().EnableRbf(),
	}
}

// AllowShrinking takes the fee from the output paying to pkScript. No new
// inputs are added.
func (b BumpFeeTxBuilder) AllowShrinking(pkScript []byte) BumpFeeTxBuilder {
	b.shrink = fn.Some(pkScript)
	return b
}

// EnableRbf makes the replacement signal replaceability with the default
// sequence, which is the default.
func (b BumpFeeTxBuilder) EnableRbf() BumpFeeTxBuilder {
	b.tx = b.tx.EnableRbf()
	return b
}

// EnableRbfWithSequence makes the replacement use a given sequence.
func (b BumpFeeTxBuilder) EnableRbfWithSequence(
	sequence uint32) BumpFeeTxBuilder {

	b.tx = b.tx.EnableRbfWithSequence(sequence)
	return b
}

// Ordering sets how inputs and outputs are ordered.
func (b BumpFeeTxBuilder) Ordering(ordering TxOrdering) BumpFeeTxBuilder {
	b.tx = b.tx.Ordering(ordering)
	return b
}

// CurrentHeight sets the height used for coinbase maturity.
func (b BumpFeeTxBuilder) CurrentHeight(height uint32) BumpFeeTxBuilder {
	b.tx = b.tx.CurrentHeight(height)
	return b
}

// SighashType sets the sighash type of every input.
func (b BumpFeeTxBuilder) SighashType(
	sighash txscript.SigHashType) BumpFeeTxBuilder {

	b.tx = b.tx.SighashType(sighash)
	return b
}

// Finish builds the replacement with w.
func (b BumpFeeTxBuilder) Finish(w *Wallet) (*psbt.Packet, error) {
	return w.BumpFee(b)
}

// BumpFee builds the replacement a BumpFeeTxBuilder describes.
func (w *Wallet) BumpFee(b BumpFeeTxBuilder) (*psbt.Packet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.replacementBuilder(&b)
	if err != nil {
		log.Debugf("Unable to bump fee of %v: %v", b.txid, err)
		return nil, err
	}

	packet, err := w.createTxLocked(&tx)
	if err != nil {
		log.Debugf("Unable to bump fee of %v: %v", b.txid, err)
		return nil, err
	}

	log.Infof("Built replacement %v of %v at %v",
		packet.UnsignedTx.TxHash(), b.txid, b.feeRate)

	return packet, nil
}

// replacementBuilder checks that the original can be replaced and turns it
// into a TxBuilder.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) replacementBuilder(b *BumpFeeTxBuilder) (TxBuilder, error) {
	rec, ok := w.txStore.Tx(b.txid)
	if !ok {
		return TxBuilder{}, &TransactionNotFoundError{Txid: b.txid}
	}

	if rec.IsConfirmed() {
		return TxBuilder{}, ErrTransactionConfirmed
	}

	orig := rec.MsgTx
	if !signalsRbf(orig) {
		return TxBuilder{}, ErrIrreplaceableTransaction
	}

	tx := b.tx.Version(orig.Version).NLockTime(orig.LockTime).
		FeeRate(b.feeRate)
	tx.replaces = fn.Some(b.txid)

	for _, txIn := range orig.TxIn {
		op := txIn.PreviousOutPoint
		if out, ok := w.txStore.Output(op); ok {
			tx = tx.AddUtxo(out.OutPoint)
			continue
		}

		in, ok := w.foreignInput(op)
		if !ok {
			return TxBuilder{}, &UnknownUtxoError{OutPoint: op}
		}

		// Without the previous transaction the input can only be
		// spent again with witness UTXOs.
		if in.NonWitnessUtxo == nil {
			tx = tx.OnlyWitnessUtxo()
		}

		var err error
		tx, err = tx.AddForeignUtxoWithSequence(
			op, in, satisfactionWeight(txIn), txIn.Sequence,
		)
		if err != nil {
			return TxBuilder{}, err
		}
	}

	fee, err := w.calculateFee(orig)
	if err != nil {
		return TxBuilder{}, err
	}

	vsize := btcunit.TxWeight(orig).VSize()
	oldRate := btcunit.NewSatPerVByte(fee, btcunit.NewVByte(vsize))
	if !b.feeRate.GreaterThan(oldRate) {
		return TxBuilder{}, &FeeRateTooLowError{Required: oldRate}
	}

	minRelay := btcunit.NewSatPerVByte(1, btcunit.NewVByte(1))
	tx.minFee = fn.Some(fee + minRelay.FeeForVByte(btcunit.NewVByte(vsize)))

	changeIndex := -1
	for i, txOut := range orig.TxOut {
		kind, _, ok := w.index.lookup(txOut.PkScript)
		if ok && kind == descriptor.KeychainInternal {
			changeIndex = i
			break
		}
	}

	shrinkIndex := -1
	if b.shrink.IsSome() {
		script := b.shrink.UnwrapOr(nil)
		for i, txOut := range orig.TxOut {
			if bytes.Equal(txOut.PkScript, script) {
				shrinkIndex = i
				break
			}
		}

		if shrinkIndex < 0 {
			return TxBuilder{}, ErrShrinkOutputMissing
		}

		tx = tx.ManuallySelectedOnly()
	}

	drainIndex := changeIndex
	if shrinkIndex >= 0 {
		drainIndex = shrinkIndex
	}

	recipients := make([]Recipient, 0, len(orig.TxOut))
	for i, txOut := range orig.TxOut {
		if i == drainIndex {
			tx = tx.DrainTo(txOut.PkScript)
			continue
		}

		recipients = append(recipients, Recipient{
			PkScript: txOut.PkScript,
			Amount:   btcutil.Amount(txOut.Value),
		})
	}

	return tx.SetRecipients(recipients).AllowDust(true), nil
}

// foreignInput returns a PSBT input carrying the previous output of an
// input the wallet doesn't own but knows the previous output of.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) foreignInput(op wire.OutPoint) (*psbt.PInput, bool) {
	prevOut, ok := w.txStore.PrevOut(op)
	if !ok {
		return nil, false
	}

	in := &psbt.PInput{}
	if prev, ok := w.txStore.Tx(op.Hash); ok {
		in.NonWitnessUtxo = prev.MsgTx
	}
	if in.NonWitnessUtxo == nil ||
		txscript.IsWitnessProgram(prevOut.PkScript) {

		in.WitnessUtxo = prevOut
	}

	return in, true
}

// signalsRbf reports whether any input of tx signals replaceability.
func signalsRbf(tx *wire.MsgTx) bool {
	for _, txIn := range tx.TxIn {
		if txIn.Sequence <= sequenceRbf {
			return true
		}
	}

	return false
}

// satisfactionWeight is the weight of the scriptSig and witness of a signed
// input on top of the base input weight.
func satisfactionWeight(txIn *wire.TxIn) int64 {
	sigScript := int64(
		wire.VarIntSerializeSize(uint64(len(txIn.SignatureScript))) - 1 +
			len(txIn.SignatureScript),
	)

	weight := sigScript * blockchain.WitnessScaleFactor
	if len(txIn.Witness) > 0 {
		weight += int64(txIn.Witness.SerializeSize())
	}

	return weight
}
