// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"errors"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// CoinbaseMaturity is the number of confirmations a coinbase output
	// needs before it can be spent.
	CoinbaseMaturity = 100
)

var (
	// ErrNilTx is returned when a record without a transaction is
	// inserted.
	ErrNilTx = errors.New("transaction record without transaction")

	// ErrHashMismatch is returned when a record's hash doesn't match its
	// transaction.
	ErrHashMismatch = errors.New("transaction hash mismatch")
)

// Block contains the minimum amount of data to uniquely identify any block on
// either the best or side chain.
type Block struct {
	Hash   chainhash.Hash
	Height int32
}

// BlockMeta contains the unique identification for a block and any metadata
// pertaining to the block. At the moment, this additional metadata only
// includes the block time from the block header.
type BlockMeta struct {
	Block
	Time time.Time
}

// TxRecord represents a transaction managed by the Store.
type TxRecord struct {
	// MsgTx is the transaction.
	MsgTx *wire.MsgTx

	// Hash is the txid of MsgTx.
	Hash chainhash.Hash

	// Block is the block the transaction confirmed in, if any.
	Block fn.Option[BlockMeta]

	// LastSeen is the last time the transaction was seen unconfirmed.
	LastSeen time.Time
}

// NewTxRecord creates a record of an unconfirmed transaction.
func NewTxRecord(msgTx *wire.MsgTx, lastSeen time.Time) *TxRecord {
	return &TxRecord{
		MsgTx:    msgTx,
		Hash:     msgTx.TxHash(),
		LastSeen: lastSeen,
	}
}

// NewMinedTxRecord creates a record of a confirmed transaction.
func NewMinedTxRecord(msgTx *wire.MsgTx, block BlockMeta) *TxRecord {
	return &TxRecord{
		MsgTx: msgTx,
		Hash:  msgTx.TxHash(),
		Block: fn.Some(block),
	}
}

// IsConfirmed reports whether the transaction is in a block.
func (r *TxRecord) IsConfirmed() bool {
	return r.Block.IsSome()
}

// Height returns the confirmation height, 0 when unconfirmed.
func (r *TxRecord) Height() int32 {
	return fn.MapOptionZ(r.Block, func(b BlockMeta) int32 {
		return b.Height
	})
}

// Position returns the chain position of the record.
func (r *TxRecord) Position() ChainPosition {
	return ChainPosition{Block: r.Block, LastSeen: r.LastSeen}
}

// ChainPosition is where a transaction sits: in a block or in the mempool.
type ChainPosition struct {
	// Block is set for confirmed transactions.
	Block fn.Option[BlockMeta]

	// LastSeen is the last time an unconfirmed transaction was seen.
	LastSeen time.Time
}

// IsConfirmed reports whether the position is in a block.
func (p ChainPosition) IsConfirmed() bool {
	return p.Block.IsSome()
}

// Height returns the confirmation height, 0 when unconfirmed.
func (p ChainPosition) Height() int32 {
	return fn.MapOptionZ(p.Block, func(b BlockMeta) int32 {
		return b.Height
	})
}

// LocalOutput is an output paying to one of the wallet's descriptors. Spent
// outputs are kept and flagged.
type LocalOutput struct {
	// OutPoint locates the output.
	OutPoint wire.OutPoint

	// TxOut is the output itself.
	TxOut *wire.TxOut

	// Keychain is the descriptor the output pays to.
	Keychain descriptor.KeychainKind

	// DerivationIndex is the index of the script in its descriptor.
	DerivationIndex uint32

	// IsSpent is set when a canonical transaction spends the output.
	IsSpent bool

	// ChainPosition is the position of the creating transaction.
	ChainPosition ChainPosition

	// FromCoinBase is set for coinbase outputs.
	FromCoinBase bool
}

// Amount returns the value of the output.
func (o *LocalOutput) Amount() btcutil.Amount {
	return btcutil.Amount(o.TxOut.Value)
}

// IsMature reports whether the output can be spent at the given tip.
func (o *LocalOutput) IsMature(tip int32) bool {
	if !o.FromCoinBase {
		return true
	}

	height := o.ChainPosition.Height()
	if height == 0 {
		return false
	}

	return tip-height+1 >= CoinbaseMaturity
}

// OwnerFunc resolves an output script to the keychain and index of the
// wallet script it matches.
type OwnerFunc func(pkScript []byte) (descriptor.KeychainKind, uint32, bool)

// Store implements a transaction store for storing and managing wallet
// transactions. It keeps every transaction it was given, including ones
// that were later double spent, and derives the canonical history from
// them on demand. Store is not safe for concurrent use.
type Store struct {
	txs map[chainhash.Hash]*TxRecord

	// txOuts holds previous outputs learned without their transaction.
	txOuts map[wire.OutPoint]*wire.TxOut

	owner OwnerFunc

	// clock stamps records inserted without a last seen time.
	clock clock.Clock

	// canon caches the canonical view, nil when stale.
	canon *canonicalView
}

// A compile-time assertion to ensure that Store implements the TxStore
// interface.
var _ TxStore = (*Store)(nil)

// NewStore creates an empty store resolving ownership through owner.
func NewStore(owner OwnerFunc, clk clock.Clock) *Store {
	return &Store{
		txs:    make(map[chainhash.Hash]*TxRecord),
		txOuts: make(map[wire.OutPoint]*wire.TxOut),
		owner:  owner,
		clock:  clk,
	}
}

// Insert adds a record or merges it into the one already stored: a
// confirmation is added or moved and the last seen time only grows. It
// reports whether anything changed.
func (s *Store) Insert(rec *TxRecord) (bool, error) {
	if rec.MsgTx == nil {
		return false, ErrNilTx
	}

	if rec.MsgTx.TxHash() != rec.Hash {
		return false, ErrHashMismatch
	}

	existing, ok := s.txs[rec.Hash]
	if !ok {
		stored := *rec
		if stored.LastSeen.IsZero() && !stored.IsConfirmed() {
			stored.LastSeen = s.clock.Now()
		}

		log.Debugf("Inserting transaction %v (confirmed=%v)", rec.Hash,
			rec.IsConfirmed())

		s.txs[rec.Hash] = &stored
		s.canon = nil

		return true, nil
	}

	changed := false
	rec.Block.WhenSome(func(b BlockMeta) {
		current := fn.MapOptionZ(existing.Block, func(e BlockMeta) Block {
			return e.Block
		})
		if current != b.Block {
			log.Debugf("Transaction %v confirmed at height %d", rec.Hash,
				b.Height)

			existing.Block = fn.Some(b)
			changed = true
		}
	})

	if rec.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = rec.LastSeen
		changed = true
	}

	if changed {
		s.canon = nil
	}

	return changed, nil
}

// InsertTxOut records a previous output whose transaction isn't known, so
// fees of transactions spending it can be computed.
func (s *Store) InsertTxOut(op wire.OutPoint, txOut *wire.TxOut) bool {
	if existing, ok := s.txOuts[op]; ok &&
		existing.Value == txOut.Value &&
		bytes.Equal(existing.PkScript, txOut.PkScript) {

		return false
	}

	s.txOuts[op] = txOut

	return true
}

// TxOuts returns the floating previous outputs.
func (s *Store) TxOuts() map[wire.OutPoint]*wire.TxOut {
	out := make(map[wire.OutPoint]*wire.TxOut, len(s.txOuts))
	for op, txOut := range s.txOuts {
		out[op] = txOut
	}

	return out
}

// Tx returns a stored record, canonical or not.
func (s *Store) Tx(hash chainhash.Hash) (*TxRecord, bool) {
	rec, ok := s.txs[hash]
	return rec, ok
}

// Records returns every stored record ordered by txid.
func (s *Store) Records() []*TxRecord {
	recs := make([]*TxRecord, 0, len(s.txs))
	for _, rec := range s.txs {
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return bytes.Compare(recs[i].Hash[:], recs[j].Hash[:]) < 0
	})

	return recs
}

// PrevOut returns a previous output from any stored transaction or the
// floating outputs.
func (s *Store) PrevOut(op wire.OutPoint) (*wire.TxOut, bool) {
	if rec, ok := s.txs[op.Hash]; ok {
		if int(op.Index) < len(rec.MsgTx.TxOut) {
			return rec.MsgTx.TxOut[op.Index], true
		}

		return nil, false
	}

	txOut, ok := s.txOuts[op]

	return txOut, ok
}

// Canonical returns the canonical transactions: confirmed ones by height,
// then unconfirmed ones by last seen time.
func (s *Store) Canonical() []*TxRecord {
	view := s.view()
	recs := make([]*TxRecord, len(view.ordered))
	copy(recs, view.ordered)

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		switch {
		case a.IsConfirmed() && b.IsConfirmed():
			return a.Height() < b.Height()

		case a.IsConfirmed() != b.IsConfirmed():
			return a.IsConfirmed()

		default:
			return a.LastSeen.Before(b.LastSeen)
		}
	})

	return recs
}

// IsCanonical reports whether a transaction is part of the canonical
// history.
func (s *Store) IsCanonical(hash chainhash.Hash) bool {
	return s.view().canonical[hash]
}

// SpenderOf returns the canonical transaction spending an outpoint.
func (s *Store) SpenderOf(op wire.OutPoint) (chainhash.Hash, bool) {
	hash, ok := s.view().spentBy[op]
	return hash, ok
}

// IsSpent reports whether a canonical transaction spends the outpoint.
func (s *Store) IsSpent(op wire.OutPoint) bool {
	_, ok := s.SpenderOf(op)
	return ok
}

// Outputs returns every wallet output created by a canonical transaction,
// spent or not.
func (s *Store) Outputs() []LocalOutput {
	view := s.view()

	var outs []LocalOutput
	for _, rec := range view.ordered {
		isCoinbase := isCoinbaseTx(rec.MsgTx)
		for i, txOut := range rec.MsgTx.TxOut {
			keychain, index, ok := s.owner(txOut.PkScript)
			if !ok {
				continue
			}

			op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}
			_, spent := view.spentBy[op]
			outs = append(outs, LocalOutput{
				OutPoint:        op,
				TxOut:           txOut,
				Keychain:        keychain,
				DerivationIndex: index,
				IsSpent:         spent,
				ChainPosition:   rec.Position(),
				FromCoinBase:    isCoinbase,
			})
		}
	}

	sort.Slice(outs, func(i, j int) bool {
		return outPointLess(outs[i].OutPoint, outs[j].OutPoint)
	})

	return outs
}

// Unspent returns the unspent wallet outputs.
func (s *Store) Unspent() []LocalOutput {
	var unspent []LocalOutput
	for _, out := range s.Outputs() {
		if !out.IsSpent {
			unspent = append(unspent, out)
		}
	}

	return unspent
}

// Output returns the wallet output at an outpoint.
func (s *Store) Output(op wire.OutPoint) (LocalOutput, bool) {
	for _, out := range s.Outputs() {
		if out.OutPoint == op {
			return out, true
		}
	}

	return LocalOutput{}, false
}

// SentAndReceived returns the value a transaction takes from and pays to
// the wallet.
func (s *Store) SentAndReceived(tx *wire.MsgTx) (btcutil.Amount,
	btcutil.Amount) {

	var sent, received btcutil.Amount
	for _, in := range tx.TxIn {
		prev, ok := s.PrevOut(in.PreviousOutPoint)
		if !ok {
			continue
		}

		if _, _, mine := s.owner(prev.PkScript); mine {
			sent += btcutil.Amount(prev.Value)
		}
	}

	for _, out := range tx.TxOut {
		if _, _, mine := s.owner(out.PkScript); mine {
			received += btcutil.Amount(out.Value)
		}
	}

	return sent, received
}

// isCoinbaseTx reports whether tx is a coinbase transaction.
func isCoinbaseTx(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}

	prev := tx.TxIn[0].PreviousOutPoint

	return prev.Index == wire.MaxPrevOutIndex && prev.Hash == chainhash.Hash{}
}

// outPointLess orders outpoints by txid then index.
func outPointLess(a, b wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}

	return a.Index < b.Index
}
