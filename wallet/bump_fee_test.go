// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// broadcastTx builds a payment with b and records it as unconfirmed.
func broadcastTx(t *testing.T, w *Wallet, b TxBuilder) *wire.MsgTx {
	t.Helper()

	packet, err := b.Finish(w)
	require.NoError(t, err)

	tx := packet.UnsignedTx
	require.NoError(t, w.ApplyUnconfirmedTxs([]*wire.MsgTx{tx}, testTime))

	return tx
}

// TestBumpFee checks that a replacement spends the original inputs, keeps
// the recipients and takes the extra fee from the change.
func TestBumpFee(t *testing.T) {
	t.Parallel()

	// Arrange: A replaceable payment out of a funded wallet.
	w := newTestWallet(t)
	op := fundWallet(t, w, 50_000)

	orig := broadcastTx(t, w, NewTxBuilder().
		AddRecipient(foreignScript, 10_000).
		EnableRbf())

	origFee, err := w.CalculateFee(orig)
	require.NoError(t, err)

	// Act: Bump it to 5 sat/vb.
	packet, err := NewBumpFeeTxBuilder(orig.TxHash(), satPerVByte(5)).
		Finish(w)
	require.NoError(t, err)

	// Assert: Same input, same recipient, lower change, higher fee.
	tx := packet.UnsignedTx
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, op, tx.TxIn[0].PreviousOutPoint)
	require.Equal(t, sequenceRbf, tx.TxIn[0].Sequence)
	require.Equal(t, orig.LockTime, tx.LockTime)
	require.Len(t, tx.TxOut, 2)

	var recipient, change *wire.TxOut
	for _, txOut := range tx.TxOut {
		kind, _, ok := w.DerivationOfScript(txOut.PkScript)
		if ok && kind == descriptor.KeychainInternal {
			change = txOut
			continue
		}
		recipient = txOut
	}
	require.NotNil(t, recipient)
	require.NotNil(t, change)
	require.Equal(t, foreignScript, recipient.PkScript)
	require.EqualValues(t, 10_000, recipient.Value)

	fee, err := w.CalculateFee(tx)
	require.NoError(t, err)
	require.Greater(t, fee, origFee)
	require.EqualValues(t, 50_000-10_000-fee, change.Value)

	rate, err := w.CalculateFeeRate(tx)
	require.NoError(t, err)
	require.True(t, rate.GreaterThan(satPerVByte(5)) ||
		rate.Equal(satPerVByte(5)))
}

// TestBumpFeeShrink checks that a drain can be bumped by shrinking its only
// output.
func TestBumpFeeShrink(t *testing.T) {
	t.Parallel()

	// Arrange: A replaceable drain of a funded wallet.
	w := newTestWallet(t)
	fundWallet(t, w, 50_000)

	orig := broadcastTx(t, w, NewTxBuilder().
		DrainWallet().
		DrainTo(foreignScript).
		EnableRbf())

	// Act: Bump it by shrinking the drain output.
	packet, err := NewBumpFeeTxBuilder(orig.TxHash(), satPerVByte(3)).
		AllowShrinking(foreignScript).
		Finish(w)
	require.NoError(t, err)

	// Assert: Still one input and one smaller output.
	tx := packet.UnsignedTx
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, orig.TxIn[0].PreviousOutPoint,
		tx.TxIn[0].PreviousOutPoint)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, foreignScript, tx.TxOut[0].PkScript)
	require.Less(t, tx.TxOut[0].Value, orig.TxOut[0].Value)

	fee, err := w.CalculateFee(tx)
	require.NoError(t, err)
	require.EqualValues(t, 330, fee)
}

// TestBumpFeeAddsInputs checks that a replacement whose change can't cover
// the higher fee pulls in another wallet output.
func TestBumpFeeAddsInputs(t *testing.T) {
	t.Parallel()

	// Arrange: A payment leaving little change, and a second output
	// received later.
	w := newTestWallet(t)
	op := fundWallet(t, w, 50_000)

	orig := broadcastTx(t, w, NewTxBuilder().
		AddRecipient(foreignScript, 49_600).
		AddUtxo(op).
		ManuallySelectedOnly().
		EnableRbf())
	require.Len(t, orig.TxOut, 1)

	fundWallet(t, w, 20_000)

	// Act: Bump it well above what the leftover pays.
	packet, err := NewBumpFeeTxBuilder(orig.TxHash(), satPerVByte(20)).
		Finish(w)
	require.NoError(t, err)

	// Assert: The original input is kept and another one is added.
	tx := packet.UnsignedTx
	require.Len(t, tx.TxIn, 2)

	var spendsOrig bool
	for _, txIn := range tx.TxIn {
		require.NotEqual(t, orig.TxHash(), txIn.PreviousOutPoint.Hash)
		spendsOrig = spendsOrig || txIn.PreviousOutPoint == op
	}
	require.True(t, spendsOrig)
}

// TestBumpFeeErrors checks why a transaction can't be bumped.
func TestBumpFeeErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string

		// bump builds the replacement for a wallet holding the
		// confirmed funding, a replaceable payment rbf and a final
		// payment.
		bump func(funding, rbf, final chainhash.Hash) BumpFeeTxBuilder

		err error
	}{
		{
			name: "unknown transaction",
			bump: func(_, _, _ chainhash.Hash) BumpFeeTxBuilder {
				return NewBumpFeeTxBuilder(
					chainhash.Hash{9}, satPerVByte(5),
				)
			},
			err: ErrTransactionNotFound,
		},
		{
			name: "confirmed transaction",
			bump: func(funding, _, _ chainhash.Hash) BumpFeeTxBuilder {
				return NewBumpFeeTxBuilder(funding, satPerVByte(5))
			},
			err: ErrTransactionConfirmed,
		},
		{
			name: "no rbf signal",
			bump: func(_, _, final chainhash.Hash) BumpFeeTxBuilder {
				return NewBumpFeeTxBuilder(final, satPerVByte(5))
			},
			err: ErrIrreplaceableTransaction,
		},
		{
			name: "fee rate not higher",
			bump: func(_, rbf, _ chainhash.Hash) BumpFeeTxBuilder {
				return NewBumpFeeTxBuilder(rbf, satPerVByte(1))
			},
			err: ErrFeeRateTooLow,
		},
		{
			name: "fee not covering relay",
			bump: func(_, rbf, _ chainhash.Hash) BumpFeeTxBuilder {
				return NewBumpFeeTxBuilder(
					rbf, btcunit.NewSatPerVByte(
						3, btcunit.NewVByte(2),
					),
				)
			},
			err: ErrFeeTooLow,
		},
		{
			name: "shrink output missing",
			bump: func(_, rbf, _ chainhash.Hash) BumpFeeTxBuilder {
				return NewBumpFeeTxBuilder(rbf, satPerVByte(5)).
					AllowShrinking([]byte{txscript.OP_TRUE})
			},
			err: ErrShrinkOutputMissing,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: One replaceable and one final payment.
			w := newTestWallet(t)
			funding := fundWallet(t, w, 50_000)
			fundWallet(t, w, 50_000)

			rbf := broadcastTx(t, w, NewTxBuilder().
				AddRecipient(foreignScript, 10_000).
				AddUtxo(funding).
				ManuallySelectedOnly().
				EnableRbf())

			final := broadcastTx(t, w, NewTxBuilder().
				AddRecipient(foreignScript, 10_000).
				DoNotSpendChange())

			// Act: Bump.
			_, err := tc.bump(
				funding.Hash, rbf.TxHash(), final.TxHash(),
			).Finish(w)

			// Assert: The bump fails with the expected error.
			require.ErrorIs(t, err, tc.err)
		})
	}
}

// TestBumpFeeUnknownInput checks that an input whose previous output the
// wallet doesn't know can't be carried over.
func TestBumpFeeUnknownInput(t *testing.T) {
	t.Parallel()

	// Arrange: A replaceable transaction paying the wallet out of an
	// unknown outpoint.
	w := newTestWallet(t)

	tx := fundingTx(externalScript(t, w, 0), 20_000)
	tx.TxIn[0].Sequence = sequenceRbf
	require.NoError(t, w.ApplyUnconfirmedTxs([]*wire.MsgTx{tx}, testTime))

	// Act: Bump it.
	_, err := NewBumpFeeTxBuilder(tx.TxHash(), satPerVByte(5)).Finish(w)

	// Assert: The input is unknown.
	var unknown *UnknownUtxoError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, tx.TxIn[0].PreviousOutPoint, unknown.OutPoint)
}

// TestBumpFeeForeignInput checks that a foreign input of the original with
// a known previous output is spent again with its original sequence.
func TestBumpFeeForeignInput(t *testing.T) {
	t.Parallel()

	// Arrange: A replaceable payment spending a wallet output and a
	// foreign one the wallet knows the previous output of.
	w := newTestWallet(t)
	fundWallet(t, w, 50_000)

	prevTx := fundingTx(foreignScript, 30_000)
	foreign := wire.OutPoint{Hash: prevTx.TxHash(), Index: 0}
	w.InsertTxOut(foreign, prevTx.TxOut[0])

	b, err := NewTxBuilder().AddForeignUtxoWithSequence(
		foreign, &psbt.PInput{WitnessUtxo: prevTx.TxOut[0]}, 108,
		sequenceRbf-1,
	)
	require.NoError(t, err)

	orig := broadcastTx(t, w, b.
		AddRecipient(foreignScript, 60_000).
		OnlyWitnessUtxo().
		EnableRbf())

	// Act: Bump it.
	packet, err := NewBumpFeeTxBuilder(orig.TxHash(), satPerVByte(4)).
		Finish(w)
	require.NoError(t, err)

	// Assert: The foreign input keeps its sequence and carries the
	// witness utxo.
	var found bool
	for i, txIn := range packet.UnsignedTx.TxIn {
		if txIn.PreviousOutPoint != foreign {
			continue
		}

		found = true
		require.Equal(t, uint32(sequenceRbf-1), txIn.Sequence)
		require.Equal(t, prevTx.TxOut[0],
			packet.Inputs[i].WitnessUtxo)
	}
	require.True(t, found)

	fee, err := w.CalculateFee(packet.UnsignedTx)
	require.NoError(t, err)
	require.Greater(t, fee, btcutil.Amount(0))
}
