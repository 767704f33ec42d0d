// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxReader reads the transaction graph.
type TxReader interface {
	// Tx returns a stored record, canonical or not.
	Tx(hash chainhash.Hash) (*TxRecord, bool)

	// Records returns every stored record.
	Records() []*TxRecord

	// Canonical returns the conflict free history.
	Canonical() []*TxRecord

	// IsCanonical reports whether a transaction is in the history.
	IsCanonical(hash chainhash.Hash) bool

	// PrevOut returns a known previous output.
	PrevOut(op wire.OutPoint) (*wire.TxOut, bool)

	// Conflicts returns the stored transactions double spending tx.
	Conflicts(tx *wire.MsgTx) []chainhash.Hash
}

// UtxoReader reads the wallet's outputs.
type UtxoReader interface {
	// Outputs returns every wallet output, spent or not.
	Outputs() []LocalOutput

	// Unspent returns the unspent wallet outputs.
	Unspent() []LocalOutput

	// Output returns the wallet output at an outpoint.
	Output(op wire.OutPoint) (LocalOutput, bool)

	// IsSpent reports whether a canonical transaction spends op.
	IsSpent(op wire.OutPoint) bool

	// SpenderOf returns the canonical spender of op.
	SpenderOf(op wire.OutPoint) (chainhash.Hash, bool)

	// Balance sums the unspent outputs at the given tip.
	Balance(tip int32, trusted TrustFunc) Balance

	// SentAndReceived returns what tx takes from and pays to the wallet.
	SentAndReceived(tx *wire.MsgTx) (btcutil.Amount, btcutil.Amount)
}

// TxWriter grows the transaction graph. Nothing is ever removed.
type TxWriter interface {
	// Insert adds or merges a record.
	Insert(rec *TxRecord) (bool, error)

	// InsertTxOut records a previous output without its transaction.
	InsertTxOut(op wire.OutPoint, txOut *wire.TxOut) bool
}

// TxStore is an interface that describes a transaction store.
type TxStore interface {
	TxReader
	UtxoReader
	TxWriter
}
