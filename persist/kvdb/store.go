// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kvdb implements persist.Store on a walletdb key-value database.
package kvdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"

	// Register the bbolt walletdb driver.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

// DefaultDBTimeout is how long opening the database waits for the file
// lock.
const DefaultDBTimeout = 10 * time.Second

var (
	// byteOrder is the byte order of every integer in the database.
	byteOrder = binary.BigEndian

	// walletBucket is the top-level bucket of the store.
	walletBucket = []byte("descwallet")

	// metaBucket holds the wallet wide settings.
	metaBucket = []byte("meta")

	// revealedBucket maps a keychain to its last revealed index.
	revealedBucket = []byte("revealed")

	// txsBucket maps a txid to the TLV encoded transaction record.
	txsBucket = []byte("txs")

	// txOutsBucket maps an outpoint to a floating output.
	txOutsBucket = []byte("txouts")

	networkKey          = []byte("network")
	descriptorKey       = []byte("descriptor")
	changeDescriptorKey = []byte("change_descriptor")
	tipKey              = []byte("tip")

	// errMissingBucket is returned when the store's buckets are gone.
	errMissingBucket = errors.New("missing wallet bucket")
)

// Store is a persist.Store on a walletdb database.
type Store struct {
	db walletdb.DB
}

// A compile-time check to ensure that Store satisfies the persist.Store
// interface.
var _ persist.Store = (*Store)(nil)

// New creates the store's buckets in db if needed and returns a store on
// it.
func New(db walletdb.DB) (*Store, error) {
	if db == nil {
		return nil, persist.NewError(persist.ErrNilDB, "nil database", nil)
	}

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		root := tx.ReadWriteBucket(walletBucket)
		if root == nil {
			var err error
			root, err = tx.CreateTopLevelBucket(walletBucket)
			if err != nil {
				return err
			}
		}

		buckets := [][]byte{
			metaBucket, revealedBucket, txsBucket, txOutsBucket,
		}
		for _, bucket := range buckets {
			if _, err := root.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, persist.NewError(persist.ErrDatabase,
			"create buckets", err)
	}

	return &Store{db: db}, nil
}

// Open opens, or creates, the bbolt database at path.
func Open(path string, timeout time.Duration) (*Store, error) {
	db, err := walletdb.Open("bdb", path, true, timeout, false)
	if errors.Is(err, walletdb.ErrDbDoesNotExist) {
		db, err = walletdb.Create("bdb", path, true, timeout, false)
	}
	if err != nil {
		return nil, persist.NewError(persist.ErrDatabase,
			"open "+path, err)
	}

	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("Opened bolt store at %v", path)

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read returns the stored change set.
func (s *Store) Read(ctx context.Context) (*persist.ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cs := &persist.ChangeSet{}
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		root := tx.ReadBucket(walletBucket)
		if root == nil {
			return errMissingBucket
		}

		if err := readMeta(root.NestedReadBucket(metaBucket), cs); err != nil {
			return err
		}

		err := root.NestedReadBucket(revealedBucket).ForEach(
			func(k, v []byte) error {
				if len(k) != 1 || len(v) != 4 {
					return corrupt("revealed entry", nil)
				}

				if cs.LastRevealed == nil {
					cs.LastRevealed = make(
						map[descriptor.KeychainKind]uint32,
					)
				}
				cs.LastRevealed[descriptor.KeychainKind(k[0])] =
					byteOrder.Uint32(v)

				return nil
			},
		)
		if err != nil {
			return err
		}

		err = root.NestedReadBucket(txsBucket).ForEach(
			func(k, v []byte) error {
				rec, err := decodeTxRecord(v)
				if err != nil {
					return err
				}

				if cs.Txs == nil {
					cs.Txs = make(
						map[chainhash.Hash]*wtxmgr.TxRecord,
					)
				}
				cs.Txs[rec.Hash] = rec

				return nil
			},
		)
		if err != nil {
			return err
		}

		return root.NestedReadBucket(txOutsBucket).ForEach(
			func(k, v []byte) error {
				op, txOut, err := decodeTxOut(k, v)
				if err != nil {
					return err
				}

				if cs.TxOuts == nil {
					cs.TxOuts = make(
						map[wire.OutPoint]*wire.TxOut,
					)
				}
				cs.TxOuts[op] = txOut

				return nil
			},
		)
	})
	if err != nil {
		return nil, storeError("read change set", err)
	}

	return cs, nil
}

// readMeta reads the wallet wide settings into cs.
func readMeta(meta walletdb.ReadBucket, cs *persist.ChangeSet) error {
	if v := meta.Get(networkKey); v != nil {
		if len(v) != 4 {
			return corrupt("network", nil)
		}
		cs.Network = fn.Some(wire.BitcoinNet(byteOrder.Uint32(v)))
	}

	if v := meta.Get(descriptorKey); v != nil {
		cs.Descriptor = fn.Some(string(v))
	}

	if v := meta.Get(changeDescriptorKey); v != nil {
		cs.ChangeDescriptor = fn.Some(string(v))
	}

	if v := meta.Get(tipKey); v != nil {
		tip, err := decodeBlock(v)
		if err != nil {
			return err
		}
		cs.Tip = fn.Some(tip)
	}

	return nil
}

// Write merges cs into the stored change set in one database transaction.
func (s *Store) Write(ctx context.Context, cs *persist.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if cs.IsEmpty() {
		return nil
	}

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		root := tx.ReadWriteBucket(walletBucket)
		if root == nil {
			return errMissingBucket
		}

		meta := root.NestedReadWriteBucket(metaBucket)
		stored := &persist.ChangeSet{}
		if err := readMeta(meta, stored); err != nil {
			return err
		}

		if err := persist.CheckNetwork(stored, cs); err != nil {
			return err
		}

		if err := writeMeta(meta, stored, cs); err != nil {
			return err
		}

		revealed := root.NestedReadWriteBucket(revealedBucket)
		for keychain, idx := range cs.LastRevealed {
			key := []byte{byte(keychain)}
			if v := revealed.Get(key); len(v) == 4 &&
				byteOrder.Uint32(v) >= idx {

				continue
			}

			var v [4]byte
			byteOrder.PutUint32(v[:], idx)
			if err := revealed.Put(key, v[:]); err != nil {
				return err
			}
		}

		txs := root.NestedReadWriteBucket(txsBucket)
		for hash, rec := range cs.Txs {
			merged := &persist.ChangeSet{}
			if v := txs.Get(hash[:]); v != nil {
				existing, err := decodeTxRecord(v)
				if err != nil {
					return err
				}
				merged.Txs = map[chainhash.Hash]*wtxmgr.TxRecord{
					hash: existing,
				}
			}
			merged.Merge(&persist.ChangeSet{
				Txs: map[chainhash.Hash]*wtxmgr.TxRecord{
					hash: rec,
				},
			})

			v, err := encodeTxRecord(merged.Txs[hash])
			if err != nil {
				return err
			}
			if err := txs.Put(hash[:], v); err != nil {
				return err
			}
		}

		txOuts := root.NestedReadWriteBucket(txOutsBucket)
		for op, txOut := range cs.TxOuts {
			k, v := encodeTxOut(op, txOut)
			if err := txOuts.Put(k, v); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return storeError("write change set", err)
	}

	log.Debugf("Wrote change set: %d txs, %d txouts", len(cs.Txs),
		len(cs.TxOuts))

	return nil
}

// writeMeta stores the settings of cs that aren't set yet and the tip.
func writeMeta(meta walletdb.ReadWriteBucket, stored,
	cs *persist.ChangeSet) error {

	var err error
	put := func(key, value []byte) {
		if err == nil {
			err = meta.Put(key, value)
		}
	}

	if stored.Network.IsNone() {
		cs.Network.WhenSome(func(net wire.BitcoinNet) {
			var v [4]byte
			byteOrder.PutUint32(v[:], uint32(net))
			put(networkKey, v[:])
		})
	}

	if stored.Descriptor.IsNone() {
		cs.Descriptor.WhenSome(func(desc string) {
			put(descriptorKey, []byte(desc))
		})
	}

	if stored.ChangeDescriptor.IsNone() {
		cs.ChangeDescriptor.WhenSome(func(desc string) {
			put(changeDescriptorKey, []byte(desc))
		})
	}

	cs.Tip.WhenSome(func(tip wtxmgr.Block) {
		v, encErr := encodeBlock(tip)
		if encErr != nil && err == nil {
			err = encErr
			return
		}
		put(tipKey, v)
	})

	return err
}

// corrupt returns an ErrCorrupt error.
func corrupt(desc string, err error) error {
	return persist.NewError(persist.ErrCorrupt, desc, err)
}

// storeError wraps a database error as a persist database error.
func storeError(desc string, err error) error {
	var perr persist.Error
	if errors.As(err, &perr) {
		return err
	}

	return persist.NewError(persist.ErrDatabase, desc, err)
}

// encodeTxOut returns the key and value of a floating output.
func encodeTxOut(op wire.OutPoint, txOut *wire.TxOut) ([]byte, []byte) {
	k := make([]byte, chainhash.HashSize+4)
	copy(k, op.Hash[:])
	byteOrder.PutUint32(k[chainhash.HashSize:], op.Index)

	v := make([]byte, 8+len(txOut.PkScript))
	byteOrder.PutUint64(v, uint64(txOut.Value))
	copy(v[8:], txOut.PkScript)

	return k, v
}

// decodeTxOut is the inverse of encodeTxOut.
func decodeTxOut(k, v []byte) (wire.OutPoint, *wire.TxOut, error) {
	if len(k) != chainhash.HashSize+4 || len(v) < 8 {
		return wire.OutPoint{}, nil, corrupt(
			fmt.Sprintf("txout entry %x", k), nil,
		)
	}

	var op wire.OutPoint
	copy(op.Hash[:], k)
	op.Index = byteOrder.Uint32(k[chainhash.HashSize:])

	pkScript := make([]byte, len(v)-8)
	copy(pkScript, v[8:])

	return op, wire.NewTxOut(int64(byteOrder.Uint64(v)), pkScript), nil
}
