// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain holds the chain sources the wallet syncs from and the
// script based sync that turns their answers into a wallet update.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrTxNotFound is returned by a source that doesn't know a
	// transaction.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrBroadcastRejected is returned when the backend refuses a
	// transaction.
	ErrBroadcastRejected = errors.New("transaction rejected")
)

// Source is a backend that can answer the queries a script based sync
// needs.
type Source interface {
	// TipHeight returns the height and hash of the best block.
	TipHeight(ctx context.Context) (int32, chainhash.Hash, error)

	// ScriptTxs returns every transaction that pays to or spends from the
	// output script.
	ScriptTxs(ctx context.Context, pkScript []byte) ([]TxInfo, error)

	// Broadcast relays a transaction to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
}

// TxInfo is a transaction and where the backend saw it.
type TxInfo struct {
	// Tx is the transaction.
	Tx *wire.MsgTx

	// Height is the height of the confirming block, zero while the
	// transaction is unconfirmed.
	Height int32

	// BlockHash is the hash of the confirming block.
	BlockHash chainhash.Hash

	// BlockTime is the timestamp of the confirming block.
	BlockTime time.Time
}

// IsConfirmed reports whether the transaction is in a block.
func (t *TxInfo) IsConfirmed() bool {
	return t.Height > 0
}

// Block returns the confirming block, None while unconfirmed.
func (t *TxInfo) Block() fn.Option[wtxmgr.BlockMeta] {
	if !t.IsConfirmed() {
		return fn.None[wtxmgr.BlockMeta]()
	}

	return fn.Some(wtxmgr.BlockMeta{
		Block: wtxmgr.Block{Hash: t.BlockHash, Height: t.Height},
		Time:  t.BlockTime,
	})
}

// IndexedScript is an output script and the derivation index that produced
// it.
type IndexedScript struct {
	// Index is the derivation index.
	Index uint32

	// Script is the output script.
	Script []byte
}

// SyncRequest lists the scripts to look up per keychain.
type SyncRequest struct {
	// Scripts holds the revealed and lookahead scripts of each keychain.
	Scripts map[descriptor.KeychainKind][]IndexedScript
}

// NumScripts returns the number of scripts in the request.
func (r *SyncRequest) NumScripts() int {
	var n int
	for _, scripts := range r.Scripts {
		n += len(scripts)
	}

	return n
}

// Update is the result of a sync.
type Update struct {
	// Txs are the transactions found, sorted confirmed first by height,
	// then by txid.
	Txs []TxInfo

	// LastActive is the highest index with history per keychain. A
	// keychain without history is absent.
	LastActive map[descriptor.KeychainKind]uint32

	// Tip is the best block at the start of the sync.
	Tip wtxmgr.Block
}
