// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package persist holds the append-only wallet change set and the stores
// that keep it.
package persist

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChangeSet is a set of wallet changes. Change sets only grow: merging one
// into another never loses data, and merging the same set twice is a no-op.
type ChangeSet struct {
	// Network is the network the wallet was created for. Once set it
	// never changes.
	Network fn.Option[wire.BitcoinNet]

	// Descriptor is the public external descriptor string.
	Descriptor fn.Option[string]

	// ChangeDescriptor is the public internal descriptor string.
	ChangeDescriptor fn.Option[string]

	// LastRevealed is the highest revealed index per keychain.
	LastRevealed map[descriptor.KeychainKind]uint32

	// Txs are the wallet transactions with their chain position.
	Txs map[chainhash.Hash]*wtxmgr.TxRecord

	// TxOuts are previous outputs known without their transaction.
	TxOuts map[wire.OutPoint]*wire.TxOut

	// Tip is the block the wallet is synced to.
	Tip fn.Option[wtxmgr.Block]
}

// IsEmpty reports whether the change set holds no changes.
func (c *ChangeSet) IsEmpty() bool {
	return c.Network.IsNone() && c.Descriptor.IsNone() &&
		c.ChangeDescriptor.IsNone() && len(c.LastRevealed) == 0 &&
		len(c.Txs) == 0 && len(c.TxOuts) == 0 && c.Tip.IsNone()
}

// Merge folds other into c. The network and descriptors keep their first
// value, reveal indices and last seen times keep their maximum, and a tip
// or confirmation from other replaces the one in c.
func (c *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}

	c.Network = c.Network.Alt(other.Network)
	c.Descriptor = c.Descriptor.Alt(other.Descriptor)
	c.ChangeDescriptor = c.ChangeDescriptor.Alt(other.ChangeDescriptor)

	for keychain, idx := range other.LastRevealed {
		if c.LastRevealed == nil {
			c.LastRevealed = make(map[descriptor.KeychainKind]uint32)
		}

		if last, ok := c.LastRevealed[keychain]; !ok || idx > last {
			c.LastRevealed[keychain] = idx
		}
	}

	for hash, rec := range other.Txs {
		if c.Txs == nil {
			c.Txs = make(map[chainhash.Hash]*wtxmgr.TxRecord)
		}

		existing, ok := c.Txs[hash]
		if !ok {
			stored := *rec
			c.Txs[hash] = &stored

			continue
		}

		merged := *existing
		if rec.Block.IsSome() {
			merged.Block = rec.Block
		}
		if rec.LastSeen.After(merged.LastSeen) {
			merged.LastSeen = rec.LastSeen
		}
		c.Txs[hash] = &merged
	}

	for op, txOut := range other.TxOuts {
		if c.TxOuts == nil {
			c.TxOuts = make(map[wire.OutPoint]*wire.TxOut)
		}

		c.TxOuts[op] = txOut
	}

	if other.Tip.IsSome() {
		c.Tip = other.Tip
	}
}

// Clone returns a copy of c that shares no maps with it.
func (c *ChangeSet) Clone() *ChangeSet {
	clone := &ChangeSet{}
	clone.Merge(c)

	return clone
}

// CheckNetwork returns an ErrNetworkMismatch error when both sets carry a
// network and they differ.
func CheckNetwork(stored, cs *ChangeSet) error {
	var err error
	stored.Network.WhenSome(func(have wire.BitcoinNet) {
		cs.Network.WhenSome(func(want wire.BitcoinNet) {
			if have != want {
				err = NewError(ErrNetworkMismatch,
					"stored network "+have.String()+
						" doesn't match "+want.String(),
					nil)
			}
		})
	})

	return err
}

// UnixTime returns t as unix seconds, 0 for the zero time.
func UnixTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

// FromUnixTime is the inverse of UnixTime.
func FromUnixTime(secs int64) time.Time {
	if secs == 0 {
		return time.Time{}
	}

	return time.Unix(secs, 0)
}
