package bwtest

import (
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/bwtest/wait"
	"github.com/stretchr/testify/require"
)

var (
	// ErrMempoolMismatch is returned while the miner's mempool does not
	// hold the expected transactions.
	ErrMempoolMismatch = errors.New("unexpected mempool contents")

	// ErrUnexpectedTxns is returned when a block expected to be empty
	// confirms transactions.
	ErrUnexpectedTxns = errors.New("block confirms unexpected txns")
)

// mempool returns the txids in the miner's mempool.
func (h *HarnessTest) mempool() ([]chainhash.Hash, error) {
	raw, err := h.miner.Client.GetRawMempool()
	if err != nil {
		return nil, fmt.Errorf("getrawmempool: %w", err)
	}

	txids := make([]chainhash.Hash, 0, len(raw))
	for _, txid := range raw {
		if txid != nil {
			txids = append(txids, *txid)
		}
	}

	return txids, nil
}

// waitMempool polls the miner's mempool until check accepts it and returns
// the accepted snapshot.
func (h *HarnessTest) waitMempool(what string,
	check func(txids []chainhash.Hash) error) []chainhash.Hash {

	h.Helper()

	var accepted []chainhash.Hash
	err := wait.NoError(func() error {
		txids, err := h.mempool()
		if err != nil {
			return err
		}

		if err := check(txids); err != nil {
			return err
		}
		accepted = txids

		return nil
	}, defaultTestTimeout)
	require.NoError(h, err, "mempool never showed %s", what)

	return accepted
}

// rawTx fetches a transaction from the miner.
func (h *HarnessTest) rawTx(txid chainhash.Hash) *wire.MsgTx {
	h.Helper()

	tx, err := h.miner.Client.GetRawTransaction(&txid)
	require.NoError(h, err, "getrawtransaction %v", txid)

	return tx.MsgTx()
}

// AssertTxInMempool waits for txid to enter the miner's mempool and returns
// the transaction.
func (h *HarnessTest) AssertTxInMempool(txid chainhash.Hash) *wire.MsgTx {
	h.Helper()

	h.waitMempool("tx "+txid.String(), func(txids []chainhash.Hash) error {
		if !slices.Contains(txids, txid) {
			return fmt.Errorf("%w: missing %v", ErrMempoolMismatch,
				txid)
		}

		return nil
	})

	return h.rawTx(txid)
}

// AssertTxNotInMempool waits for txid to leave the miner's mempool.
func (h *HarnessTest) AssertTxNotInMempool(txid chainhash.Hash) {
	h.Helper()

	err := wait.Predicate(func() bool {
		txids, err := h.mempool()
		return err == nil && !slices.Contains(txids, txid)
	}, defaultTestTimeout)
	require.NoError(h, err, "tx %v stayed in the mempool", txid)
}

// AssertNumTxnsInMempool waits for the miner's mempool to hold exactly n
// transactions and returns their ids.
func (h *HarnessTest) AssertNumTxnsInMempool(n int) []chainhash.Hash {
	h.Helper()

	require.GreaterOrEqual(h, n, 0, "mempool size")

	return h.waitMempool(fmt.Sprintf("%d txns", n),
		func(txids []chainhash.Hash) error {
			if len(txids) != n {
				return fmt.Errorf("%w: %d txns, want %d",
					ErrMempoolMismatch, len(txids), n)
			}

			return nil
		},
	)
}

// AssertOutpointInMempool waits for a mempool transaction spending op and
// returns it.
func (h *HarnessTest) AssertOutpointInMempool(op wire.OutPoint) *wire.MsgTx {
	h.Helper()

	var spender *wire.MsgTx
	h.waitMempool("a spend of "+op.String(),
		func(txids []chainhash.Hash) error {
			for _, txid := range txids {
				raw, err := h.miner.Client.GetRawTransaction(
					&txid,
				)
				if err != nil {
					return fmt.Errorf("getrawtransaction: %w",
						err)
				}

				tx := raw.MsgTx()
				for _, in := range tx.TxIn {
					if in.PreviousOutPoint == op {
						spender = tx
						return nil
					}
				}
			}

			return fmt.Errorf("%w: no spend of %v",
				ErrMempoolMismatch, op)
		},
	)

	return spender
}

// AssertTxInBlock fails unless block confirms txid.
func (h *HarnessTest) AssertTxInBlock(block *wire.MsgBlock,
	txid chainhash.Hash) {

	h.Helper()

	require.NotNil(h, block, "block")
	for _, tx := range block.Transactions {
		if tx.TxHash() == txid {
			return
		}
	}

	h.Fatalf("block %v does not confirm %v", block.BlockHash(), txid)
}

// MineBlocks mines num blocks, failing if any of them confirms a
// transaction. Every active wallet is synced after each block.
func (h *HarnessTest) MineBlocks(num int) {
	h.Helper()

	for _, block := range h.mine(num) {
		require.NoError(h, emptyBlock(block))
	}
}

// MineEmptyBlocks checks the mempool is empty first, then mines num blocks
// that confirm nothing.
func (h *HarnessTest) MineEmptyBlocks(num int) []*wire.MsgBlock {
	h.Helper()

	h.AssertNumTxnsInMempool(0)

	blocks := h.mine(num)
	for _, block := range blocks {
		require.NoError(h, emptyBlock(block))
	}

	return blocks
}

// MineBlocksAndAssertNumTxns waits for numTxns mempool transactions, mines
// num blocks and checks the first one confirms all of them.
func (h *HarnessTest) MineBlocksAndAssertNumTxns(num uint32,
	numTxns int) []*wire.MsgBlock {

	h.Helper()

	require.NotZero(h, num, "block count")

	txids := h.AssertNumTxnsInMempool(numTxns)
	blocks := h.mine(int(num))
	for _, txid := range txids {
		h.AssertTxInBlock(blocks[0], txid)
		h.AssertTxNotInMempool(txid)
	}

	return blocks
}

// MineBlockWithTx mines one block confirming tx and nothing else.
func (h *HarnessTest) MineBlockWithTx(tx *wire.MsgTx) *wire.MsgBlock {
	h.Helper()

	require.NotNil(h, tx, "tx")
	txid := tx.TxHash()

	h.AssertTxInMempool(txid)
	pending := h.AssertNumTxnsInMempool(1)
	require.Equal(h, txid, pending[0], "foreign txn in mempool")

	block := h.MineBlocksAndAssertNumTxns(1, 1)[0]

	// The coinbase and tx.
	require.Len(h, block.Transactions, 2)
	require.Equal(h, txid, block.Transactions[1].TxHash())

	return block
}

// mine generates num blocks one at a time, syncing every active wallet
// after each, and returns the full blocks.
func (h *HarnessTest) mine(num int) []*wire.MsgBlock {
	h.Helper()

	require.GreaterOrEqual(h, num, 0, "block count")

	blocks := make([]*wire.MsgBlock, 0, num)
	for range num {
		hashes, err := h.miner.Client.Generate(1)
		require.NoError(h, err, "generate")
		require.Len(h, hashes, 1)

		block, err := h.miner.Client.GetBlock(hashes[0])
		require.NoError(h, err, "getblock %v", hashes[0])
		blocks = append(blocks, block)

		for _, w := range h.ActiveWallets() {
			h.AssertWalletSynced(w)
		}
	}

	return blocks
}

// emptyBlock returns an error naming the transactions a block confirms
// besides its coinbase.
func emptyBlock(block *wire.MsgBlock) error {
	if len(block.Transactions) <= 1 {
		return nil
	}

	txids := make([]string, 0, len(block.Transactions)-1)
	for _, tx := range block.Transactions[1:] {
		txids = append(txids, tx.TxHash().String())
	}

	return fmt.Errorf("%w: block %v confirms %v, use "+
		"MineBlocksAndAssertNumTxns to confirm them", ErrUnexpectedTxns,
		block.BlockHash(), txids)
}

// SendOutput pays output from the miner's wallet at feeRate sat/kB.
func (h *HarnessTest) SendOutput(output *wire.TxOut,
	feeRate btcutil.Amount) *chainhash.Hash {

	h.Helper()

	txid, err := h.miner.SendOutputs([]*wire.TxOut{output}, feeRate)
	require.NoError(h, err, "send output")

	return txid
}

// GetBestBlock returns the miner's tip.
func (h *HarnessTest) GetBestBlock() (*chainhash.Hash, int32) {
	h.Helper()

	hash, height, err := h.miner.Client.GetBestBlock()
	require.NoError(h, err, "getbestblock")

	return hash, height
}
