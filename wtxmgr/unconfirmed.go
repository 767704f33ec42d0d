// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// canonicalView is the conflict free subset of the stored transactions.
type canonicalView struct {
	// canonical marks every decided transaction, true when it is part of
	// the history.
	canonical map[chainhash.Hash]bool

	// spentBy maps outpoints to their canonical spender.
	spentBy map[wire.OutPoint]chainhash.Hash

	// ordered holds the canonical records in decision order.
	ordered []*TxRecord
}

// view returns the canonical view, rebuilding it if the store changed.
func (s *Store) view() *canonicalView {
	if s.canon == nil {
		s.canon = s.canonicalize()
	}

	return s.canon
}

// priorityOrder sorts the records by how strongly they claim their inputs:
// confirmed before unconfirmed, lower heights first, then the most recently
// seen, with ties broken by txid.
func (s *Store) priorityOrder() []*TxRecord {
	recs := s.Records()
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		switch {
		case a.IsConfirmed() != b.IsConfirmed():
			return a.IsConfirmed()

		case a.IsConfirmed() && a.Height() != b.Height():
			return a.Height() < b.Height()

		case !a.IsConfirmed() && !a.LastSeen.Equal(b.LastSeen):
			return a.LastSeen.After(b.LastSeen)
		}

		return bytes.Compare(a.Hash[:], b.Hash[:]) < 0
	})

	return recs
}

// canonicalize decides every stored transaction in priority order. A
// transaction is canonical when neither it nor any of its undecided
// ancestors spends an output already claimed by a canonical transaction.
// Accepting a transaction accepts its ancestors, and rejecting one rejects
// every descendant through the ancestry check.
func (s *Store) canonicalize() *canonicalView {
	view := &canonicalView{
		canonical: make(map[chainhash.Hash]bool, len(s.txs)),
		spentBy:   make(map[wire.OutPoint]chainhash.Hash),
	}

	for _, rec := range s.priorityOrder() {
		if _, decided := view.canonical[rec.Hash]; decided {
			continue
		}

		chain, ok := s.ancestry(view, rec, make(map[chainhash.Hash]bool))
		if !ok || view.conflicts(chain) {
			log.Debugf("Transaction %v is not canonical", rec.Hash)

			view.canonical[rec.Hash] = false

			continue
		}

		for _, r := range chain {
			view.canonical[r.Hash] = true
			view.ordered = append(view.ordered, r)
			for _, in := range r.MsgTx.TxIn {
				view.spentBy[in.PreviousOutPoint] = r.Hash
			}
		}
	}

	return view
}

// ancestry returns rec and its undecided in-store ancestors, parents
// first. It fails if any ancestor was already rejected.
func (s *Store) ancestry(view *canonicalView, rec *TxRecord,
	visited map[chainhash.Hash]bool) ([]*TxRecord, bool) {

	visited[rec.Hash] = true

	var chain []*TxRecord
	for _, in := range rec.MsgTx.TxIn {
		parentHash := in.PreviousOutPoint.Hash
		parent, ok := s.txs[parentHash]
		if !ok || visited[parentHash] {
			continue
		}

		accepted, decided := view.canonical[parentHash]
		switch {
		case decided && !accepted:
			return nil, false

		case decided:
			continue
		}

		parents, ok := s.ancestry(view, parent, visited)
		if !ok {
			return nil, false
		}

		chain = append(chain, parents...)
	}

	return append(chain, rec), true
}

// conflicts reports whether any transaction of chain spends an output that
// a canonical transaction, or another member of chain, already spends.
func (v *canonicalView) conflicts(chain []*TxRecord) bool {
	claimed := make(map[wire.OutPoint]chainhash.Hash)
	for _, r := range chain {
		for _, in := range r.MsgTx.TxIn {
			spender, ok := v.spentBy[in.PreviousOutPoint]
			if !ok {
				spender, ok = claimed[in.PreviousOutPoint]
			}
			claimed[in.PreviousOutPoint] = r.Hash

			if ok && spender != r.Hash {
				log.Debugf("Transaction %v conflicts with %v over %v",
					r.Hash, spender, in.PreviousOutPoint)

				return true
			}
		}
	}

	return false
}

// Conflicts returns the stored transactions that spend an input of tx,
// other than tx itself.
func (s *Store) Conflicts(tx *wire.MsgTx) []chainhash.Hash {
	txHash := tx.TxHash()
	inputs := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	for _, in := range tx.TxIn {
		inputs[in.PreviousOutPoint] = struct{}{}
	}

	var conflicts []chainhash.Hash
	for _, rec := range s.Records() {
		if rec.Hash == txHash {
			continue
		}

		for _, in := range rec.MsgTx.TxIn {
			if _, ok := inputs[in.PreviousOutPoint]; ok {
				conflicts = append(conflicts, rec.Hash)
				break
			}
		}
	}

	return conflicts
}
