//go:build itest

package itest

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/bwtest"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/stretchr/testify/require"
)

const (
	// fundAmount is what CreateFundedWallet pays into a new wallet.
	fundAmount = 10 * btcutil.SatoshiPerBitcoin

	// payAmount is the value of the payments between test wallets.
	payAmount = btcutil.SatoshiPerBitcoin
)

var (
	// errNoFee is returned when a wallet transaction has an unknown fee.
	errNoFee = errors.New("fee unknown")

	// errNoCheckpoint is returned when a wallet has never synced.
	errNoCheckpoint = errors.New("no checkpoint")
)

// satPerVByte returns a whole sat/vb fee rate.
func satPerVByte(rate btcutil.Amount) btcunit.SatPerVByte {
	return btcunit.NewSatPerVByte(rate, btcunit.NewVByte(1))
}

// payTo returns the output script of the next external address of tw.
func payTo(h *bwtest.HarnessTest, tw *bwtest.TestWallet) []byte {
	h.Helper()

	addr, err := tw.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(h, err, "failed to reveal address")

	pkScript, err := txscript.PayToAddrScript(addr.Address)
	require.NoError(h, err, "failed to create pkscript")

	return pkScript
}

// signAndBroadcast signs a packet with the wallet keys and relays it through
// the harness source.
func signAndBroadcast(h *bwtest.HarnessTest, tw *bwtest.TestWallet,
	packet *psbt.Packet) chainhash.Hash {

	h.Helper()

	finalized, err := tw.Sign(
		h.Context(), packet, wallet.DefaultSignOptions(),
	)
	require.NoError(h, err, "failed to sign")
	require.True(h, finalized, "packet not finalized")

	txid, err := tw.BroadcastPsbt(h.Context(), h.Source, packet)
	require.NoError(h, err, "failed to broadcast")

	h.AssertTxInMempool(txid)

	return txid
}

// testSyncFunds verifies a wallet discovers payments to several of its
// addresses, including ones it never revealed.
func testSyncFunds(h *bwtest.HarnessTest) {
	h.Helper()

	tw := h.CreateEmptyWallet()

	// Pay to the first external address and to one a few steps ahead that
	// the wallet has not handed out yet.
	h.FundWallet(tw, payAmount)

	ahead, err := tw.PeekAddress(descriptor.KeychainExternal, 5)
	require.NoError(h, err)

	pkScript, err := txscript.PayToAddrScript(ahead.Address)
	require.NoError(h, err)

	h.SendOutput(
		&wire.TxOut{Value: int64(2 * payAmount), PkScript: pkScript},
		btcutil.Amount(1000),
	)
	h.MineBlocksAndAssertNumTxns(1, 1)

	h.AssertConfirmedBalance(tw.Wallet, 3*payAmount)

	// Finding a payment on index 5 reveals everything up to it.
	next, err := tw.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(h, err)
	require.EqualValues(h, 6, next.Index)

	require.Len(h, tw.ListUnspent(), 2)

	// Empty blocks only move the checkpoint.
	_, height := h.GetBestBlock()
	h.MineEmptyBlocks(2)
	h.AssertConfirmedBalance(tw.Wallet, 3*payAmount)

	cp, err := tw.LatestCheckpoint().UnwrapOrErr(errNoCheckpoint)
	require.NoError(h, err)
	require.Equal(h, height+2, cp.Height)
}

// testSendPayment verifies a payment between two wallets confirms and both
// balances account for it.
func testSendPayment(h *bwtest.HarnessTest) {
	h.Helper()

	alice := h.CreateFundedWallet()
	bob := h.CreateEmptyWallet()

	packet, err := wallet.NewTxBuilder().
		AddRecipient(payTo(h, bob), payAmount).
		FeeRate(satPerVByte(2)).
		Finish(alice.Wallet)
	require.NoError(h, err, "failed to build payment")

	txid := signAndBroadcast(h, alice, packet)
	h.AssertOutpointInMempool(packet.UnsignedTx.TxIn[0].PreviousOutPoint)

	// Alice sees her change as trusted before the payment confirms.
	balance := alice.Balance()
	require.Zero(h, balance.Confirmed)
	require.NotZero(h, balance.TrustedPending)

	h.MineBlockWithTx(packet.UnsignedTx)

	details := h.AssertTxConfirmed(alice.Wallet, txid)
	fee, err := details.Fee.UnwrapOrErr(errNoFee)
	require.NoError(h, err)

	h.AssertConfirmedBalance(bob.Wallet, payAmount)
	h.AssertConfirmedBalance(alice.Wallet, fundAmount-payAmount-fee)
}

// testBumpFee verifies an RBF payment can be replaced at a higher fee rate
// and the replacement is the one the wallet keeps.
func testBumpFee(h *bwtest.HarnessTest) {
	h.Helper()

	alice := h.CreateFundedWallet()
	bob := h.CreateEmptyWallet()

	packet, err := wallet.NewTxBuilder().
		AddRecipient(payTo(h, bob), payAmount).
		FeeRate(satPerVByte(2)).
		EnableRbf().
		Finish(alice.Wallet)
	require.NoError(h, err, "failed to build payment")

	origTxid := signAndBroadcast(h, alice, packet)

	bumped, err := wallet.NewBumpFeeTxBuilder(origTxid, satPerVByte(10)).
		EnableRbf().
		Finish(alice.Wallet)
	require.NoError(h, err, "failed to bump fee")

	newTxid := signAndBroadcast(h, alice, bumped)
	require.NotEqual(h, origTxid, newTxid)

	h.AssertTxNotInMempool(origTxid)

	rate, err := alice.CalculateFeeRate(bumped.UnsignedTx)
	require.NoError(h, err)
	require.False(h, rate.LessThan(satPerVByte(10)))

	h.MineBlockWithTx(bumped.UnsignedTx)
	details := h.AssertTxConfirmed(alice.Wallet, newTxid)

	fee, err := details.Fee.UnwrapOrErr(errNoFee)
	require.NoError(h, err)

	// The original stays unconfirmed and conflicts with a confirmed
	// transaction, so it no longer counts.
	for _, d := range alice.Transactions() {
		require.NotEqual(h, origTxid, d.Record.Hash)
	}

	h.AssertConfirmedBalance(bob.Wallet, payAmount)
	h.AssertConfirmedBalance(alice.Wallet, fundAmount-payAmount-fee)
}

// testPersistReload verifies a wallet reloaded from its store keeps its
// addresses and funds and can still spend.
func testPersistReload(h *bwtest.HarnessTest) {
	h.Helper()

	alice := h.CreateFundedWallet()

	// Hand out one more address so the reload has to restore it.
	_, err := alice.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(h, err)

	_, err = alice.Persist(h.Context())
	require.NoError(h, err)

	reloaded := h.ReloadWallet(alice)

	require.Equal(h, alice.Balance(), reloaded.Balance())
	require.Equal(h, alice.LatestCheckpoint(), reloaded.LatestCheckpoint())

	next, err := reloaded.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(h, err)
	require.EqualValues(h, 2, next.Index)

	// The reloaded wallet keeps syncing from its stored tip.
	h.MineBlocks(1)

	// Drain everything back to the wallet to prove the keys came back too.
	packet, err := wallet.NewTxBuilder().
		DrainWallet().
		DrainTo(payTo(h, reloaded)).
		FeeRate(satPerVByte(1)).
		Finish(reloaded.Wallet)
	require.NoError(h, err, "failed to build drain")

	txid := signAndBroadcast(h, reloaded, packet)
	h.MineBlockWithTx(packet.UnsignedTx)

	details := h.AssertTxConfirmed(reloaded.Wallet, txid)
	fee, err := details.Fee.UnwrapOrErr(errNoFee)
	require.NoError(h, err)

	h.AssertBalance(reloaded.Wallet, wtxmgr.Balance{
		Confirmed: fundAmount - fee,
	})
}
