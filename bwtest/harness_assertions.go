package bwtest

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/bwtest/wait"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const (
	// syncParallelism is the number of concurrent script lookups of a
	// wallet sync.
	syncParallelism = 4
)

var (
	// ErrWalletNotSynced is returned when a wallet has not reached the chain
	// tip.
	ErrWalletNotSynced = errors.New("wallet not synced")

	// ErrBalanceMismatch is returned when a wallet balance differs from the
	// expected one.
	ErrBalanceMismatch = errors.New("balance mismatch")

	// ErrTxNotConfirmed is returned when a wallet transaction has no
	// confirmation yet.
	ErrTxNotConfirmed = errors.New("transaction not confirmed")
)

// AssertWalletSynced syncs the wallet against the harness source until its
// checkpoint reaches the miner's best height, then persists the result.
func (h *HarnessTest) AssertWalletSynced(w *wallet.Wallet) {
	h.Helper()

	if w == nil {
		h.Fatalf("nil wallet")
	}

	err := wait.NoError(func() error {
		err := w.SyncWith(h.Context(), h.Source, syncParallelism)
		if err != nil {
			return fmt.Errorf("sync wallet: %w", err)
		}

		_, bestHeight, err := h.miner.Client.GetBestBlock()
		if err != nil {
			return fmt.Errorf("get best block: %w", err)
		}

		syncedTo := checkpointHeight(w.LatestCheckpoint())
		if syncedTo != bestHeight {
			return fmt.Errorf("%w: wallet=%d chain=%d", ErrWalletNotSynced,
				syncedTo, bestHeight)
		}

		return nil
	}, defaultTestTimeout)
	if err != nil {
		h.Fatalf("wallet sync timeout: %v", err)
	}

	_, err = w.Persist(h.Context())
	require.NoError(h, err, "failed to persist synced wallet")
}

// AssertBalance syncs the wallet until its balance equals want.
func (h *HarnessTest) AssertBalance(w *wallet.Wallet, want wtxmgr.Balance) {
	h.Helper()

	err := wait.NoError(func() error {
		err := w.SyncWith(h.Context(), h.Source, syncParallelism)
		if err != nil {
			return fmt.Errorf("sync wallet: %w", err)
		}

		got := w.Balance()
		if got != want {
			return fmt.Errorf("%w: want=%+v got=%+v", ErrBalanceMismatch,
				want, got)
		}

		return nil
	}, defaultTestTimeout)
	require.NoError(h, err, "timeout waiting for balance")
}

// AssertConfirmedBalance syncs the wallet until its confirmed balance equals
// want and nothing is pending.
func (h *HarnessTest) AssertConfirmedBalance(w *wallet.Wallet,
	want btcutil.Amount) {

	h.Helper()

	h.AssertBalance(w, wtxmgr.Balance{Confirmed: want})
}

// AssertTxConfirmed syncs the wallet until it reports txid as confirmed.
func (h *HarnessTest) AssertTxConfirmed(w *wallet.Wallet,
	txid chainhash.Hash) *wallet.TxDetails {

	h.Helper()

	var details *wallet.TxDetails

	err := wait.NoError(func() error {
		err := w.SyncWith(h.Context(), h.Source, syncParallelism)
		if err != nil {
			return fmt.Errorf("sync wallet: %w", err)
		}

		d, ok := w.GetTx(txid)
		if !ok || d.Record.Block.IsNone() {
			return fmt.Errorf("%w: txid=%s", ErrTxNotConfirmed, txid)
		}

		details = d

		return nil
	}, defaultTestTimeout)
	require.NoError(h, err, "timeout waiting for confirmation")

	return details
}

// checkpointHeight returns the height of a checkpoint, or -1 if there is
// none.
func checkpointHeight(cp fn.Option[wtxmgr.Block]) int32 {
	return cp.UnwrapOr(wtxmgr.Block{Height: -1}).Height
}
