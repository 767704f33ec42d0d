// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/stretchr/testify/require"
)

// TestBalance checks that outputs land in the right balance category.
func TestBalance(t *testing.T) {
	t.Parallel()

	// Arrange: A confirmed funding, an unconfirmed payment leaving change
	// and an unconfirmed payment from a third party.
	w := newTestWallet(t)
	fundWallet(t, w, 50_000)

	payment := broadcastTx(t, w, NewTxBuilder().
		AddRecipient(foreignScript, 10_000))

	incoming := fundingTx(externalScript(t, w, 1), 7_000)
	require.NoError(t, w.ApplyUnconfirmedTxs(
		[]*wire.MsgTx{incoming}, testTime,
	))

	fee, err := w.CalculateFee(payment)
	require.NoError(t, err)

	// Act: Read the balance.
	balance := w.Balance()

	// Assert: The spent funding is gone, the change is trusted and the
	// third party payment isn't.
	require.Zero(t, balance.Confirmed)
	require.Zero(t, balance.Immature)
	require.Equal(t, 50_000-10_000-fee, balance.TrustedPending)
	require.EqualValues(t, 7_000, balance.UntrustedPending)
	require.Equal(t, balance.Confirmed+balance.TrustedPending,
		balance.TrustedSpendable())
}

// TestImmatureCoinbase checks that a coinbase output counts as immature
// until it has enough confirmations.
func TestImmatureCoinbase(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		height   int32
		immature bool
	}{
		{name: "fresh", height: testHeight, immature: true},
		{name: "mature", height: testHeight - 99},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: A coinbase paying the wallet.
			w := newTestWallet(t)
			coinbase := wire.NewMsgTx(2)
			coinbase.AddTxIn(wire.NewTxIn(
				wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex),
				[]byte{0x51, 0x51}, nil,
			))
			coinbase.AddTxOut(wire.NewTxOut(
				5_000_000_000, externalScript(t, w, 0),
			))

			// Act: Confirm it and sync to testHeight.
			applyConfirmed(t, w, coinbase, tc.height)

			// Assert: The value is immature or confirmed.
			balance := w.Balance()
			if tc.immature {
				require.EqualValues(t, 5_000_000_000,
					balance.Immature)
				require.Zero(t, balance.Confirmed)

				return
			}

			require.EqualValues(t, 5_000_000_000, balance.Confirmed)
			require.Zero(t, balance.Immature)
		})
	}
}

// TestTransactions checks the canonical history and what each transaction
// means for the wallet.
func TestTransactions(t *testing.T) {
	t.Parallel()

	// Arrange: A confirmed funding and an unconfirmed payment spending it.
	w := newTestWallet(t)
	op := fundWallet(t, w, 50_000)

	payment := broadcastTx(t, w, NewTxBuilder().
		AddRecipient(foreignScript, 10_000))

	// Act: Read the history.
	txs := w.Transactions()

	// Assert: The funding comes first, then the payment.
	require.Len(t, txs, 2)
	require.Equal(t, op.Hash, txs[0].Record.Hash)
	require.Equal(t, payment.TxHash(), txs[1].Record.Hash)

	funding := txs[0]
	require.Zero(t, funding.Sent)
	require.EqualValues(t, 50_000, funding.Received)
	require.True(t, funding.Fee.IsNone())

	spend := txs[1]
	fee := spend.Fee.UnwrapOr(0)
	require.True(t, spend.Fee.IsSome())
	require.EqualValues(t, 50_000, spend.Sent)
	require.Equal(t, 50_000-10_000-fee, spend.Received)

	sent, received := w.SentAndReceived(payment)
	require.Equal(t, spend.Sent, sent)
	require.Equal(t, spend.Received, received)

	_, ok := w.GetTx(chainhash.Hash{})
	require.False(t, ok)
}

// TestConflictingTxs checks that of two unconfirmed transactions spending
// the same output only the last seen one is canonical.
func TestConflictingTxs(t *testing.T) {
	t.Parallel()

	// Arrange: Two payments spending the same funding, seen one second
	// apart.
	w := newTestWallet(t)
	op := fundWallet(t, w, 50_000)

	first, err := NewTxBuilder().
		AddRecipient(foreignScript, 10_000).
		AddUtxo(op).
		Finish(w)
	require.NoError(t, err)

	second, err := NewTxBuilder().
		AddRecipient(foreignScript, 20_000).
		AddUtxo(op).
		Finish(w)
	require.NoError(t, err)

	// Act: Apply both.
	require.NoError(t, w.ApplyUnconfirmedTxs(
		[]*wire.MsgTx{first.UnsignedTx}, testTime,
	))
	require.NoError(t, w.ApplyUnconfirmedTxs(
		[]*wire.MsgTx{second.UnsignedTx}, testTime.Add(time.Second),
	))

	// Assert: Only the second one shows up.
	_, ok := w.GetTx(first.UnsignedTx.TxHash())
	require.False(t, ok)

	_, ok = w.GetTx(second.UnsignedTx.TxHash())
	require.True(t, ok)
	require.Len(t, w.Transactions(), 2)

	// The unspent outputs are the change of the second payment.
	var change btcutil.Amount
	for _, txOut := range second.UnsignedTx.TxOut {
		if w.IsMine(txOut.PkScript) {
			change += btcutil.Amount(txOut.Value)
		}
	}

	var total btcutil.Amount
	for _, out := range w.ListUnspent() {
		require.Equal(t, descriptor.KeychainInternal, out.Keychain)
		require.Equal(t, second.UnsignedTx.TxHash(), out.OutPoint.Hash)
		total += out.Amount()
	}
	require.Equal(t, change, total)
}
