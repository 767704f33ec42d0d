// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/wallet/psbtutil"
)

// TxPublisher provides an interface for publishing transactions.
type TxPublisher interface {
	// Broadcast relays a transaction through src and records it as an
	// unconfirmed wallet transaction.
	Broadcast(ctx context.Context, src chain.Source,
		tx *wire.MsgTx) (chainhash.Hash, error)

	// BroadcastPsbt extracts the transaction of a finalized packet and
	// broadcasts it.
	BroadcastPsbt(ctx context.Context, src chain.Source,
		packet *psbt.Packet) (chainhash.Hash, error)
}

// A compile time check to ensure that Wallet implements the interface.
var _ TxPublisher = (*Wallet)(nil)

// Broadcast relays tx through src. Once the backend accepts it the
// transaction is inserted as unconfirmed and seen now, so its outputs are
// spendable and its inputs spent without waiting for the next sync.
func (w *Wallet) Broadcast(ctx context.Context, src chain.Source,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	txid, err := src.Broadcast(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("broadcast %v: %w",
			tx.TxHash(), err)
	}

	log.Infof("Broadcast transaction %v", txid)

	err = w.ApplyUnconfirmedTxs([]*wire.MsgTx{tx}, w.cfg.Clock.Now())
	if err != nil {
		return txid, err
	}

	return txid, nil
}

// BroadcastPsbt extracts the transaction of a finalized packet and
// broadcasts it.
func (w *Wallet) BroadcastPsbt(ctx context.Context, src chain.Source,
	packet *psbt.Packet) (chainhash.Hash, error) {

	tx, err := psbtutil.Extract(packet)
	if err != nil {
		return chainhash.Hash{}, err
	}

	return w.Broadcast(ctx, src, tx)
}
