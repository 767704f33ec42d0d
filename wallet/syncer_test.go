// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestStartSync checks that a sync request covers the revealed scripts and
// the lookahead of both keychains.
func TestStartSync(t *testing.T) {
	t.Parallel()

	// Arrange: A wallet with three external addresses revealed.
	w := newTestWallet(t)
	_, err := w.RevealAddressesTo(descriptor.KeychainExternal, 2)
	require.NoError(t, err)

	// Act: Start a sync.
	req := w.StartSync()

	// Assert: Indices 0 to 2+lookahead externally, 0 to lookahead
	// internally, in order.
	ext := req.Scripts[descriptor.KeychainExternal]
	require.Len(t, ext, 2+DefaultLookahead+1)
	require.Len(t,
		req.Scripts[descriptor.KeychainInternal], DefaultLookahead+1,
	)

	for i, script := range ext {
		require.EqualValues(t, i, script.Index)
	}
	require.Equal(t, externalScript(t, w, 2), ext[2].Script)
	require.Equal(t, req.NumScripts(), len(ext)+DefaultLookahead+1)
}

// TestSyncWith checks that a full sync finds the wallet transactions,
// reveals up to the last active index and moves the tip.
func TestSyncWith(t *testing.T) {
	t.Parallel()

	// Arrange: A source that knows a confirmed payment to external index
	// 4 and an unconfirmed one to internal index 1.
	w := newTestWallet(t)
	src := &mockSource{}

	extScript := externalScript(t, w, 4)
	change, err := w.PeekAddress(descriptor.KeychainInternal, 1)
	require.NoError(t, err)
	changeScript := mustPayToAddr(t, change)

	confirmedTx := fundingTx(extScript, 70_000)
	pendingTx := fundingTx(changeScript, 5_000)
	tip := testBlock(testHeight)
	block := testBlock(testHeight - 1)

	src.On("TipHeight", mock.Anything).Return(tip.Height, tip.Hash, nil)
	src.On("ScriptTxs", mock.Anything, extScript).Return(
		[]chain.TxInfo{{
			Tx:        confirmedTx,
			Height:    block.Height,
			BlockHash: block.Hash,
			BlockTime: testTime,
		}}, nil,
	)
	src.On("ScriptTxs", mock.Anything, changeScript).Return(
		[]chain.TxInfo{{Tx: pendingTx}}, nil,
	)
	src.On("ScriptTxs", mock.Anything, mock.Anything).Return(nil, nil)

	// Act: Sync.
	err = w.SyncWith(context.Background(), src, 3)
	require.NoError(t, err)

	// Assert: Both payments are in the wallet and the reveals moved.
	balance := w.Balance()
	require.EqualValues(t, 70_000, balance.Confirmed)
	require.EqualValues(t, 5_000, balance.TrustedPending)
	require.Zero(t, balance.UntrustedPending)

	require.Equal(t, tip, w.LatestCheckpoint().UnwrapOr(testBlock(0)))

	staged := w.Staged()
	require.Equal(t, uint32(4),
		staged.LastRevealed[descriptor.KeychainExternal])
	require.Equal(t, uint32(1),
		staged.LastRevealed[descriptor.KeychainInternal])
	require.Len(t, staged.Txs, 2)

	next, err := w.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(t, err)
	require.EqualValues(t, 5, next.Index)

	// The lookahead moved with the reveal.
	require.True(t, w.IsMine(externalScript(t, w, 4+DefaultLookahead)))
}

// TestSyncWithTipError checks that a failing tip lookup leaves the wallet
// untouched.
func TestSyncWithTipError(t *testing.T) {
	t.Parallel()

	// Arrange: A source that can't reach its backend.
	w := newTestWallet(t)
	src := &mockSource{}

	errBackend := errors.New("connection refused")
	src.On("TipHeight", mock.Anything).Return(
		int32(0), testBlock(0).Hash, errBackend,
	)

	// Act: Sync.
	err := w.SyncWith(context.Background(), src, 0)

	// Assert: The error is passed up and nothing is staged besides the
	// creation data.
	require.ErrorIs(t, err, errBackend)
	require.True(t, w.LatestCheckpoint().IsNone())
	require.Empty(t, w.Staged().Txs)
	src.AssertNotCalled(t, "ScriptTxs", mock.Anything, mock.Anything)
}

// TestApplyUpdateIdempotent checks that applying the same update twice
// stages nothing the second time.
func TestApplyUpdateIdempotent(t *testing.T) {
	t.Parallel()

	// Arrange: A wallet with a persisted first update.
	ctx := context.Background()
	w := newTestWallet(t)
	fundWallet(t, w, 50_000)

	wrote, err := w.Persist(ctx)
	require.NoError(t, err)
	require.True(t, wrote)

	balance := w.Balance()

	// Act: Apply the same update again.
	tx := fundingTx(externalScript(t, w, 0), 50_000)
	block := testBlock(testHeight - 5)
	err = w.ApplyUpdate(&chain.Update{
		Txs: []chain.TxInfo{{
			Tx:        tx,
			Height:    block.Height,
			BlockHash: block.Hash,
			BlockTime: testTime,
		}},
		LastActive: map[descriptor.KeychainKind]uint32{
			descriptor.KeychainExternal: 0,
		},
		Tip: testBlock(testHeight),
	})
	require.NoError(t, err)

	// Assert: Nothing new to persist and the balance is unchanged.
	wrote, err = w.Persist(ctx)
	require.NoError(t, err)
	require.False(t, wrote)
	require.Equal(t, balance, w.Balance())
}

// TestApplyUpdateConfirms checks that a later update confirms a mempool
// transaction and moves it between balance categories.
func TestApplyUpdateConfirms(t *testing.T) {
	t.Parallel()

	// Arrange: An unconfirmed payment to the wallet.
	w := newTestWallet(t)
	tx := fundingTx(externalScript(t, w, 0), 30_000)
	require.NoError(t, w.ApplyUnconfirmedTxs([]*wire.MsgTx{tx}, testTime))
	require.EqualValues(t, 30_000, w.Balance().UntrustedPending)

	// Act: Confirm it.
	block := testBlock(testHeight)
	err := w.ApplyUpdate(&chain.Update{
		Txs: []chain.TxInfo{{
			Tx:        tx,
			Height:    block.Height,
			BlockHash: block.Hash,
			BlockTime: testTime,
		}},
		Tip: block,
	})
	require.NoError(t, err)

	// Assert: The value moved to confirmed.
	balance := w.Balance()
	require.EqualValues(t, 30_000, balance.Confirmed)
	require.Zero(t, balance.UntrustedPending)

	details, ok := w.GetTx(tx.TxHash())
	require.True(t, ok)
	require.True(t, details.Record.IsConfirmed())
}

// TestInsertTxOut checks that a previous output learned without its
// transaction lets the wallet compute fees.
func TestInsertTxOut(t *testing.T) {
	t.Parallel()

	// Arrange: A transaction spending a foreign output into the wallet.
	w := newTestWallet(t)
	tx := fundingTx(externalScript(t, w, 0), 9_000)
	prevOut := wire.NewTxOut(10_000, foreignScript)

	_, err := w.CalculateFee(tx)
	require.ErrorIs(t, err, ErrMissingTxOut)

	// Act: Insert the previous output twice.
	w.InsertTxOut(tx.TxIn[0].PreviousOutPoint, prevOut)
	w.InsertTxOut(tx.TxIn[0].PreviousOutPoint, prevOut)

	// Assert: The fee is known and the output staged once.
	fee, err := w.CalculateFee(tx)
	require.NoError(t, err)
	require.EqualValues(t, 1_000, fee)

	staged := w.Staged()
	require.Len(t, staged.TxOuts, 1)
	require.True(t, bytes.Equal(foreignScript,
		staged.TxOuts[tx.TxIn[0].PreviousOutPoint].PkScript))
}
