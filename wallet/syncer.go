// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Syncer feeds chain data into the wallet.
type Syncer interface {
	// StartSync returns the scripts a sync has to look up: every
	// revealed script plus the lookahead of each keychain.
	StartSync() *chain.SyncRequest

	// ApplyUpdate applies the result of a sync. Applying the same update
	// twice changes nothing.
	ApplyUpdate(update *chain.Update) error

	// ApplyUnconfirmedTxs adds mempool transactions seen at lastSeen.
	ApplyUnconfirmedTxs(txs []*wire.MsgTx, lastSeen time.Time) error

	// InsertTxOut records a previous output whose transaction the wallet
	// doesn't have.
	InsertTxOut(op wire.OutPoint, txOut *wire.TxOut)

	// SyncWith runs a full script sync against a chain source and applies
	// the result.
	SyncWith(ctx context.Context, src chain.Source, parallel int) error
}

// A compile time check to ensure that Wallet implements the interface.
var _ Syncer = (*Wallet)(nil)

// StartSync returns the scripts a sync has to look up.
func (w *Wallet) StartSync() *chain.SyncRequest {
	w.mu.Lock()
	defer w.mu.Unlock()

	req := &chain.SyncRequest{
		Scripts: make(map[descriptor.KeychainKind][]chain.IndexedScript),
	}
	for kind, k := range w.index.keychains {
		scripts := make([]chain.IndexedScript, 0, len(k.scripts))
		for i, script := range k.scripts {
			scripts = append(scripts, chain.IndexedScript{
				Index:  uint32(i),
				Script: script,
			})
		}
		req.Scripts[kind] = scripts
	}

	return req
}

// ApplyUpdate inserts the transactions of an update, reveals every index up
// to the last active one and moves the tip.
func (w *Wallet) ApplyUpdate(update *chain.Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, info := range update.Txs {
		rec := wtxmgr.NewTxRecord(info.Tx, time.Time{})
		rec.Block = info.Block()

		if err := w.insertTxLocked(rec); err != nil {
			return err
		}
	}

	for kind, index := range update.LastActive {
		k, ok := w.index.keychains[kind]
		if !ok {
			continue
		}

		if err := w.revealLocked(k, index); err != nil {
			return err
		}
	}

	current := w.tip.UnwrapOr(wtxmgr.Block{})
	if w.tip.IsNone() || current != update.Tip {
		w.tip = fn.Some(update.Tip)
		w.stageTip(update.Tip)
	}

	log.Infof("Applied update: %d txs, tip %d (%v)", len(update.Txs),
		update.Tip.Height, update.Tip.Hash)

	return nil
}

// ApplyUnconfirmedTxs adds mempool transactions seen at lastSeen.
func (w *Wallet) ApplyUnconfirmedTxs(txs []*wire.MsgTx,
	lastSeen time.Time) error {

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, tx := range txs {
		if err := w.insertTxLocked(wtxmgr.NewTxRecord(tx, lastSeen)); err != nil {
			return err
		}
	}

	return nil
}

// InsertTxOut records a previous output whose transaction the wallet
// doesn't have.
func (w *Wallet) InsertTxOut(op wire.OutPoint, txOut *wire.TxOut) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.txStore.InsertTxOut(op, txOut) {
		w.stageTxOut(op, txOut)
	}
}

// SyncWith runs a full script sync against src and applies the result. The
// chain lookups happen without holding the wallet lock.
func (w *Wallet) SyncWith(ctx context.Context, src chain.Source,
	parallel int) error {

	update, err := chain.Sync(ctx, src, w.StartSync(), parallel)
	if err != nil {
		return err
	}

	return w.ApplyUpdate(update)
}

// insertTxLocked inserts rec and stages the stored result when it changed.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) insertTxLocked(rec *wtxmgr.TxRecord) error {
	changed, err := w.txStore.Insert(rec)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	stored, _ := w.txStore.Tx(rec.Hash)
	w.stageTx(stored)

	log.Tracef("Stored transaction %v: %v", rec.Hash,
		spewClosure(rec.MsgTx))

	return nil
}
