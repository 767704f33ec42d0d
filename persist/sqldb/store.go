// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sqldb implements persist.Store on SQLite and PostgreSQL.
package sqldb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Dialect selects the SQL flavor of a database.
type Dialect uint8

const (
	// DialectSQLite is SQLite through modernc.org/sqlite.
	DialectSQLite Dialect = iota

	// DialectPostgres is PostgreSQL through pgx.
	DialectPostgres
)

// String returns the name of the dialect.
func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"

	case DialectPostgres:
		return "postgres"

	default:
		return "unknown"
	}
}

// greatest returns the dialect's two argument maximum function.
func (d Dialect) greatest() string {
	if d == DialectPostgres {
		return "GREATEST"
	}

	return "MAX"
}

// rebind rewrites the ? placeholders of query to the dialect's style.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var (
		b bytes.Buffer
		n int
	)
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}

		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}

// Store is a persist.Store on a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// A compile-time check to ensure that Store satisfies the persist.Store
// interface.
var _ persist.Store = (*Store)(nil)

// New migrates db to the latest schema and returns a store on it.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, persist.NewError(persist.ErrNilDB, "nil database", nil)
	}

	if err := dialect.upgrade(db); err != nil {
		return nil, persist.NewError(
			persist.ErrDatabase, "migrate "+dialect.String(), err,
		)
	}

	return &Store{db: db, dialect: dialect}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// execInTx runs fn in a database transaction, committing on success and
// rolling back on error.
func execInTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("Rollback failed: %v", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// dbError wraps a driver error as a persist database error.
func dbError(desc string, err error) error {
	if err == nil {
		return nil
	}

	// Errors of the store itself pass through.
	var perr persist.Error
	if errors.As(err, &perr) {
		return err
	}

	return persist.NewError(persist.ErrDatabase, desc, err)
}

// Read returns the stored change set.
func (s *Store) Read(ctx context.Context) (*persist.ChangeSet, error) {
	cs := &persist.ChangeSet{}
	err := execInTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.readMeta(ctx, tx, cs); err != nil {
			return err
		}

		if err := s.readRevealed(ctx, tx, cs); err != nil {
			return err
		}

		if err := s.readTxs(ctx, tx, cs); err != nil {
			return err
		}

		return s.readTxOuts(ctx, tx, cs)
	})
	if err != nil {
		return nil, dbError("read change set", err)
	}

	return cs, nil
}

// readMeta reads the wallet wide settings into cs.
func (s *Store) readMeta(ctx context.Context, tx *sql.Tx,
	cs *persist.ChangeSet) error {

	var (
		network    sql.NullInt64
		desc       sql.NullString
		changeDesc sql.NullString
		tipHash    []byte
		tipHeight  sql.NullInt64
	)
	err := tx.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT network, descriptor, change_descriptor, tip_hash,
		tip_height FROM wallet_meta WHERE id = 0`,
	)).Scan(&network, &desc, &changeDesc, &tipHash, &tipHeight)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil

	case err != nil:
		return err
	}

	if network.Valid {
		cs.Network = fn.Some(wire.BitcoinNet(network.Int64))
	}
	if desc.Valid {
		cs.Descriptor = fn.Some(desc.String)
	}
	if changeDesc.Valid {
		cs.ChangeDescriptor = fn.Some(changeDesc.String)
	}

	if tipHash != nil && tipHeight.Valid {
		hash, err := chainhash.NewHash(tipHash)
		if err != nil {
			return persist.NewError(persist.ErrCorrupt, "tip hash", err)
		}

		cs.Tip = fn.Some(wtxmgr.Block{
			Hash:   *hash,
			Height: int32(tipHeight.Int64),
		})
	}

	return nil
}

// readRevealed reads the reveal indices into cs.
func (s *Store) readRevealed(ctx context.Context, tx *sql.Tx,
	cs *persist.ChangeSet) error {

	rows, err := tx.QueryContext(ctx,
		`SELECT keychain, last_revealed FROM keychain_revealed`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var keychain, idx int64
		if err := rows.Scan(&keychain, &idx); err != nil {
			return err
		}

		if cs.LastRevealed == nil {
			cs.LastRevealed = make(map[descriptor.KeychainKind]uint32)
		}
		cs.LastRevealed[descriptor.KeychainKind(keychain)] = uint32(idx)
	}

	return rows.Err()
}

// readTxs reads the wallet transactions into cs.
func (s *Store) readTxs(ctx context.Context, tx *sql.Tx,
	cs *persist.ChangeSet) error {

	rows, err := tx.QueryContext(ctx,
		`SELECT txid, raw_tx, block_hash, block_height, block_time,
		last_seen FROM txs`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			txid, rawTx, blockHash []byte
			height, blockTime      sql.NullInt64
			lastSeen               int64
		)
		err := rows.Scan(
			&txid, &rawTx, &blockHash, &height, &blockTime,
			&lastSeen,
		)
		if err != nil {
			return err
		}

		rec, err := decodeTxRow(
			txid, rawTx, blockHash, height, blockTime, lastSeen,
		)
		if err != nil {
			return err
		}

		if cs.Txs == nil {
			cs.Txs = make(map[chainhash.Hash]*wtxmgr.TxRecord)
		}
		cs.Txs[rec.Hash] = rec
	}

	return rows.Err()
}

// decodeTxRow builds a record from the columns of a txs row.
func decodeTxRow(txid, rawTx, blockHash []byte, height,
	blockTime sql.NullInt64, lastSeen int64) (*wtxmgr.TxRecord, error) {

	msgTx := &wire.MsgTx{}
	if err := msgTx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, persist.NewError(persist.ErrCorrupt, "raw tx", err)
	}

	rec := wtxmgr.NewTxRecord(msgTx, persist.FromUnixTime(lastSeen))
	if !bytes.Equal(rec.Hash[:], txid) {
		return nil, persist.NewError(
			persist.ErrCorrupt, "txid mismatch "+rec.Hash.String(),
			nil,
		)
	}

	if blockHash == nil || !height.Valid {
		return rec, nil
	}

	hash, err := chainhash.NewHash(blockHash)
	if err != nil {
		return nil, persist.NewError(persist.ErrCorrupt, "block hash", err)
	}

	rec.Block = fn.Some(wtxmgr.BlockMeta{
		Block: wtxmgr.Block{Hash: *hash, Height: int32(height.Int64)},
		Time:  persist.FromUnixTime(blockTime.Int64),
	})

	return rec, nil
}

// readTxOuts reads the floating outputs into cs.
func (s *Store) readTxOuts(ctx context.Context, tx *sql.Tx,
	cs *persist.ChangeSet) error {

	rows, err := tx.QueryContext(ctx,
		`SELECT txid, vout, value, pk_script FROM txouts`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			txid, pkScript []byte
			vout, value    int64
		)
		if err := rows.Scan(&txid, &vout, &value, &pkScript); err != nil {
			return err
		}

		hash, err := chainhash.NewHash(txid)
		if err != nil {
			return persist.NewError(persist.ErrCorrupt, "txout txid",
				err)
		}

		if cs.TxOuts == nil {
			cs.TxOuts = make(map[wire.OutPoint]*wire.TxOut)
		}
		cs.TxOuts[wire.OutPoint{Hash: *hash, Index: uint32(vout)}] =
			wire.NewTxOut(value, pkScript)
	}

	return rows.Err()
}

// Write merges cs into the stored change set in one database transaction.
func (s *Store) Write(ctx context.Context, cs *persist.ChangeSet) error {
	if cs.IsEmpty() {
		return nil
	}

	err := execInTx(ctx, s.db, func(tx *sql.Tx) error {
		stored := &persist.ChangeSet{}
		if err := s.readMeta(ctx, tx, stored); err != nil {
			return err
		}

		if err := persist.CheckNetwork(stored, cs); err != nil {
			return err
		}

		stored.Merge(&persist.ChangeSet{
			Network:          cs.Network,
			Descriptor:       cs.Descriptor,
			ChangeDescriptor: cs.ChangeDescriptor,
			Tip:              cs.Tip,
		})
		if err := s.writeMeta(ctx, tx, stored); err != nil {
			return err
		}

		for keychain, idx := range cs.LastRevealed {
			err := s.writeRevealed(ctx, tx, keychain, idx)
			if err != nil {
				return err
			}
		}

		for _, rec := range cs.Txs {
			if err := s.writeTx(ctx, tx, rec); err != nil {
				return err
			}
		}

		for op, txOut := range cs.TxOuts {
			if err := s.writeTxOut(ctx, tx, op, txOut); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return dbError("write change set", err)
	}

	log.Debugf("Wrote change set: %d txs, %d txouts", len(cs.Txs),
		len(cs.TxOuts))

	return nil
}

// nullable returns the value of an option, or nil for None so the column
// is set to NULL.
func nullable[T any](o fn.Option[T], f func(T) any) any {
	return fn.MapOptionZ(o, f)
}

// writeMeta upserts the wallet wide settings.
func (s *Store) writeMeta(ctx context.Context, tx *sql.Tx,
	meta *persist.ChangeSet) error {

	network := nullable(meta.Network, func(n wire.BitcoinNet) any {
		return int64(n)
	})
	desc := nullable(meta.Descriptor, func(d string) any { return d })
	changeDesc := nullable(meta.ChangeDescriptor, func(d string) any {
		return d
	})
	tipHash := nullable(meta.Tip, func(b wtxmgr.Block) any {
		return b.Hash[:]
	})
	tipHeight := nullable(meta.Tip, func(b wtxmgr.Block) any {
		return int64(b.Height)
	})

	_, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO wallet_meta (id, network, descriptor,
		change_descriptor, tip_hash, tip_height)
		VALUES (0, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		network = excluded.network,
		descriptor = excluded.descriptor,
		change_descriptor = excluded.change_descriptor,
		tip_hash = excluded.tip_hash,
		tip_height = excluded.tip_height`,
	), network, desc, changeDesc, tipHash, tipHeight)

	return err
}

// writeRevealed raises the reveal index of a keychain.
func (s *Store) writeRevealed(ctx context.Context, tx *sql.Tx,
	keychain descriptor.KeychainKind, idx uint32) error {

	_, err := tx.ExecContext(ctx, s.dialect.rebind(fmt.Sprintf(
		`INSERT INTO keychain_revealed (keychain, last_revealed)
		VALUES (?, ?)
		ON CONFLICT (keychain) DO UPDATE SET
		last_revealed = %s(keychain_revealed.last_revealed,
		excluded.last_revealed)`, s.dialect.greatest(),
	)), int64(keychain), int64(idx))

	return err
}

// writeTx upserts a transaction. A confirmation replaces the stored one and
// the last seen time only grows.
func (s *Store) writeTx(ctx context.Context, tx *sql.Tx,
	rec *wtxmgr.TxRecord) error {

	var rawTx bytes.Buffer
	if err := rec.MsgTx.Serialize(&rawTx); err != nil {
		return err
	}

	blockHash := nullable(rec.Block, func(b wtxmgr.BlockMeta) any {
		return b.Hash[:]
	})
	height := nullable(rec.Block, func(b wtxmgr.BlockMeta) any {
		return int64(b.Height)
	})
	blockTime := nullable(rec.Block, func(b wtxmgr.BlockMeta) any {
		return persist.UnixTime(b.Time)
	})

	_, err := tx.ExecContext(ctx, s.dialect.rebind(fmt.Sprintf(
		`INSERT INTO txs (txid, raw_tx, block_hash, block_height,
		block_time, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (txid) DO UPDATE SET
		block_hash = COALESCE(excluded.block_hash, txs.block_hash),
		block_height = COALESCE(excluded.block_height,
		txs.block_height),
		block_time = COALESCE(excluded.block_time, txs.block_time),
		last_seen = %s(txs.last_seen, excluded.last_seen)`,
		s.dialect.greatest(),
	)), rec.Hash[:], rawTx.Bytes(), blockHash, height, blockTime,
		persist.UnixTime(rec.LastSeen))

	return err
}

// writeTxOut upserts a floating output.
func (s *Store) writeTxOut(ctx context.Context, tx *sql.Tx, op wire.OutPoint,
	txOut *wire.TxOut) error {

	pkScript := txOut.PkScript
	if pkScript == nil {
		pkScript = []byte{}
	}

	_, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO txouts (txid, vout, value, pk_script)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (txid, vout) DO UPDATE SET
		value = excluded.value,
		pk_script = excluded.pk_script`,
	), op.Hash[:], int64(op.Index), txOut.Value, pkScript)

	return err
}

// String describes the store.
func (s *Store) String() string {
	return s.dialect.String() + " store"
}
