// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Staged returns a copy of the changes not yet persisted.
func (w *Wallet) Staged() *persist.ChangeSet {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.stage.Clone()
}

// Persist writes the staged changes to the store. It reports whether there
// was anything to write. On failure the changes stay staged.
func (w *Wallet) Persist(ctx context.Context) (bool, error) {
	w.mu.Lock()
	cs := w.stage
	w.stage = &persist.ChangeSet{}
	w.mu.Unlock()

	if cs.IsEmpty() {
		return false, nil
	}

	if err := w.store.Write(ctx, cs); err != nil {
		// Put the changes back in front of anything staged meanwhile.
		w.mu.Lock()
		cs.Merge(w.stage)
		w.stage = cs
		w.mu.Unlock()

		return false, fmt.Errorf("persist wallet: %w", err)
	}

	log.Debugf("Persisted change set: %d txs, %d reveals", len(cs.Txs),
		len(cs.LastRevealed))

	return true, nil
}

// stageReveal records a new last revealed index.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) stageReveal(kind descriptor.KeychainKind, index uint32) {
	w.stage.Merge(&persist.ChangeSet{
		LastRevealed: map[descriptor.KeychainKind]uint32{kind: index},
	})
}

// stageTx records a new or updated transaction.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) stageTx(rec *wtxmgr.TxRecord) {
	w.stage.Merge(&persist.ChangeSet{
		Txs: map[chainhash.Hash]*wtxmgr.TxRecord{rec.Hash: rec},
	})
}

// stageTxOut records a previous output learned without its transaction.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) stageTxOut(op wire.OutPoint, txOut *wire.TxOut) {
	w.stage.Merge(&persist.ChangeSet{
		TxOuts: map[wire.OutPoint]*wire.TxOut{op: txOut},
	})
}

// stageTip records a new tip.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) stageTip(tip wtxmgr.Block) {
	w.stage.Merge(&persist.ChangeSet{Tip: fn.Some(tip)})
}
