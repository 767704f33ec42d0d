// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

// PsbtManager provides an interface for signing and finalizing PSBTs and
// for reading back the fees of wallet transactions.
type PsbtManager interface {
	// Sign signs the inputs the wallet has keys for and reports whether
	// the packet is fully finalized afterwards.
	Sign(ctx context.Context, packet *psbt.Packet,
		opts SignOptions) (bool, error)

	// Finalize finalizes every input it can and reports whether all of
	// them are finalized.
	Finalize(packet *psbt.Packet, opts SignOptions) (bool, error)

	// CalculateFee returns the fee of a transaction whose previous
	// outputs the wallet knows.
	CalculateFee(tx *wire.MsgTx) (btcutil.Amount, error)

	// CalculateFeeRate returns the fee rate of a transaction whose
	// previous outputs the wallet knows.
	CalculateFeeRate(tx *wire.MsgTx) (btcunit.SatPerVByte, error)
}

// A compile time check to ensure that Wallet implements the interface.
var _ PsbtManager = (*Wallet)(nil)

// Sign checks the sighash types of the selected inputs, fills the UTXO and
// derivation data of wallet inputs and outputs and hands the packet to the
// signer. When TryFinalize is set the inputs are finalized afterwards.
func (w *Wallet) Sign(ctx context.Context, packet *psbt.Packet,
	opts SignOptions) (bool, error) {

	for i, in := range packet.Inputs {
		if !opts.selected(i) {
			continue
		}

		if i >= len(packet.UnsignedTx.TxIn) {
			return false, ErrInputIndexOutOfRange
		}

		if in.SighashType != 0 && !opts.allowed(in.SighashType) {
			return false, &NonStandardSighashError{
				Index:   i,
				SigHash: in.SighashType,
			}
		}
	}
	for _, i := range opts.InputIndices {
		if i < 0 || i >= len(packet.Inputs) {
			return false, ErrInputIndexOutOfRange
		}
	}

	w.mu.Lock()
	err := w.updateWalletInputs(packet, false)
	if err == nil {
		err = w.updateWalletOutputs(packet)
	}
	w.mu.Unlock()
	if err != nil {
		return false, err
	}

	finalized, err := w.signer.SignPsbt(ctx, packet, opts)
	if err != nil {
		return false, err
	}

	if finalized || !opts.TryFinalize {
		return finalized, nil
	}

	return finalizePacket(packet, &opts)
}

// Finalize finalizes every input it can and reports whether all of them are
// finalized.
func (w *Wallet) Finalize(packet *psbt.Packet,
	opts SignOptions) (bool, error) {

	return finalizePacket(packet, &opts)
}

// CalculateFee returns the fee of a transaction whose previous outputs the
// wallet knows.
func (w *Wallet) CalculateFee(tx *wire.MsgTx) (btcutil.Amount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.calculateFee(tx)
}

// CalculateFeeRate returns the fee of a transaction divided by its virtual
// size.
func (w *Wallet) CalculateFeeRate(
	tx *wire.MsgTx) (btcunit.SatPerVByte, error) {

	fee, err := w.CalculateFee(tx)
	if err != nil {
		return btcunit.SatPerVByte{}, err
	}

	vsize := btcunit.TxWeight(tx).VSize()

	return btcunit.NewSatPerVByte(fee, btcunit.NewVByte(vsize)), nil
}

// calculateFee sums the previous outputs of tx and subtracts its outputs.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) calculateFee(tx *wire.MsgTx) (btcutil.Amount, error) {
	var (
		in      btcutil.Amount
		missing []wire.OutPoint
	)
	for _, txIn := range tx.TxIn {
		prevOut, ok := w.txStore.PrevOut(txIn.PreviousOutPoint)
		if !ok {
			missing = append(missing, txIn.PreviousOutPoint)
			continue
		}

		in += btcutil.Amount(prevOut.Value)
	}

	if len(missing) > 0 {
		return 0, &MissingTxOutError{OutPoints: missing}
	}

	var out btcutil.Amount
	for _, txOut := range tx.TxOut {
		out += btcutil.Amount(txOut.Value)
	}

	if out > in {
		return 0, ErrNegativeFee
	}

	return in - out, nil
}
