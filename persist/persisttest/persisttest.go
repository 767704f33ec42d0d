// Package persisttest holds the behavior every persist.Store has to show,
// so each backend runs the same checks.
package persisttest

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const (
	testDescriptor       = "wpkh(tpubD6NzVbkrYhZ4XgiXtGrdW5XDAPFCL9h7we1vwNCpn8tGbBcgfVYjXyhWo4E1xkh56hjod1RhGjxbaTLV3X4FyWuejifB9jusQ46QzG87VKp/84'/1'/0'/0/*)"
	testChangeDescriptor = "wpkh(tpubD6NzVbkrYhZ4XgiXtGrdW5XDAPFCL9h7we1vwNCpn8tGbBcgfVYjXyhWo4E1xkh56hjod1RhGjxbaTLV3X4FyWuejifB9jusQ46QzG87VKp/84'/1'/0'/1/*)"
)

// TestTx returns a distinct transaction per seed.
func TestTx(seed uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{byte(seed), byte(seed >> 8)},
			Index: seed,
		},
		Sequence: wire.MaxTxInSequenceNum - 2,
	})
	tx.AddTxOut(wire.NewTxOut(int64(seed)*1000+546, []byte{
		0x00, 0x14, byte(seed), 0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
		0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13,
	}))
	tx.LockTime = seed

	return tx
}

// TestBlock returns a block at height.
func TestBlock(height int32) wtxmgr.BlockMeta {
	return wtxmgr.BlockMeta{
		Block: wtxmgr.Block{
			Hash:   chainhash.Hash{0xbb, byte(height)},
			Height: height,
		},
		Time: time.Unix(1_700_000_000+int64(height)*600, 0),
	}
}

// NewChangeSet returns a change set populated with every kind of change.
func NewChangeSet(net wire.BitcoinNet) *persist.ChangeSet {
	mined := wtxmgr.NewMinedTxRecord(TestTx(1), TestBlock(100))
	unmined := wtxmgr.NewTxRecord(TestTx(2), time.Unix(1_700_100_000, 0))

	return &persist.ChangeSet{
		Network:          fn.Some(net),
		Descriptor:       fn.Some(testDescriptor),
		ChangeDescriptor: fn.Some(testChangeDescriptor),
		LastRevealed: map[descriptor.KeychainKind]uint32{
			descriptor.KeychainExternal: 4,
			descriptor.KeychainInternal: 1,
		},
		Txs: map[chainhash.Hash]*wtxmgr.TxRecord{
			mined.Hash:   mined,
			unmined.Hash: unmined,
		},
		TxOuts: map[wire.OutPoint]*wire.TxOut{
			{Hash: chainhash.Hash{0x0f}, Index: 3}: wire.NewTxOut(
				12_345, []byte{0x51, 0x20, 0x01},
			),
		},
		Tip: fn.Some(TestBlock(120).Block),
	}
}

// TestingT is the part of testing.TB the assertions need.
type TestingT interface {
	require.TestingT
	Helper()
}

// RequireEqual asserts two change sets hold the same changes. Times are
// compared at second precision.
func RequireEqual(t TestingT, want, got *persist.ChangeSet) {
	t.Helper()

	require.Equal(t, want.Network, got.Network)
	require.Equal(t, want.Descriptor, got.Descriptor)
	require.Equal(t, want.ChangeDescriptor, got.ChangeDescriptor)
	require.Equal(t, want.Tip, got.Tip)

	require.Len(t, got.LastRevealed, len(want.LastRevealed))
	for keychain, idx := range want.LastRevealed {
		require.Equal(t, idx, got.LastRevealed[keychain], keychain)
	}

	require.Len(t, got.Txs, len(want.Txs))
	for hash, wantRec := range want.Txs {
		gotRec, ok := got.Txs[hash]
		require.True(t, ok, "missing tx %v", hash)
		require.Equal(t, hash, gotRec.Hash)
		require.Equal(t, hash, gotRec.MsgTx.TxHash())
		require.Equal(t, wantRec.LastSeen.Unix(), gotRec.LastSeen.Unix())

		require.Equal(t, wantRec.IsConfirmed(), gotRec.IsConfirmed())
		wantRec.Block.WhenSome(func(wantBlock wtxmgr.BlockMeta) {
			gotBlock := gotRec.Block.UnwrapOr(wtxmgr.BlockMeta{})
			require.Equal(t, wantBlock.Block, gotBlock.Block)
			require.Equal(t, wantBlock.Time.Unix(),
				gotBlock.Time.Unix())
		})
	}

	require.Len(t, got.TxOuts, len(want.TxOuts))
	for op, wantOut := range want.TxOuts {
		gotOut, ok := got.TxOuts[op]
		require.True(t, ok, "missing txout %v", op)
		require.Equal(t, wantOut.Value, gotOut.Value)
		require.Equal(t, wantOut.PkScript, gotOut.PkScript)
	}
}

// RunStoreTests runs the store checks against stores made by newStore. Each
// call of newStore must return an empty store.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) persist.Store) {
	t.Run("fresh store is empty", func(t *testing.T) {
		store := newStore(t)

		cs, err := store.Read(context.Background())
		require.NoError(t, err)
		require.NotNil(t, cs)
		require.True(t, cs.IsEmpty())
	})

	t.Run("round trip", func(t *testing.T) {
		// Arrange:
		store := newStore(t)
		want := NewChangeSet(wire.TestNet3)

		// Act:
		err := store.Write(context.Background(), want)
		require.NoError(t, err)

		got, err := store.Read(context.Background())

		// Assert:
		require.NoError(t, err)
		RequireEqual(t, want, got)
	})

	t.Run("writes merge", func(t *testing.T) {
		// Arrange: a first write, then a second one that confirms the
		// unmined tx, lowers one reveal index and raises the other.
		store := newStore(t)
		first := NewChangeSet(wire.TestNet3)
		require.NoError(t, store.Write(context.Background(), first))

		unmined := wtxmgr.NewMinedTxRecord(TestTx(2), TestBlock(121))
		unmined.LastSeen = time.Unix(1_700_200_000, 0)
		extra := wtxmgr.NewTxRecord(TestTx(3), time.Unix(1_700_300_000, 0))
		second := &persist.ChangeSet{
			LastRevealed: map[descriptor.KeychainKind]uint32{
				descriptor.KeychainExternal: 2,
				descriptor.KeychainInternal: 7,
			},
			Txs: map[chainhash.Hash]*wtxmgr.TxRecord{
				unmined.Hash: unmined,
				extra.Hash:   extra,
			},
			Tip: fn.Some(TestBlock(121).Block),
		}

		// Act:
		require.NoError(t, store.Write(context.Background(), second))
		got, err := store.Read(context.Background())

		// Assert:
		require.NoError(t, err)

		want := first.Clone()
		want.Merge(second)
		RequireEqual(t, want, got)

		require.Equal(t, uint32(4),
			got.LastRevealed[descriptor.KeychainExternal])
		require.Equal(t, uint32(7),
			got.LastRevealed[descriptor.KeychainInternal])
		require.True(t, got.Txs[unmined.Hash].IsConfirmed())
	})

	t.Run("write is idempotent", func(t *testing.T) {
		store := newStore(t)
		cs := NewChangeSet(wire.MainNet)

		require.NoError(t, store.Write(context.Background(), cs))
		require.NoError(t, store.Write(context.Background(), cs))

		got, err := store.Read(context.Background())
		require.NoError(t, err)
		RequireEqual(t, cs, got)
	})

	t.Run("network mismatch", func(t *testing.T) {
		// Arrange:
		store := newStore(t)
		stored := NewChangeSet(wire.TestNet3)
		require.NoError(t, store.Write(context.Background(), stored))

		// Act: a change set for another network carrying a new tx.
		other := &persist.ChangeSet{
			Network: fn.Some(wire.MainNet),
			Txs: map[chainhash.Hash]*wtxmgr.TxRecord{
				TestTx(9).TxHash(): wtxmgr.NewTxRecord(
					TestTx(9), time.Unix(1, 0),
				),
			},
		}
		err := store.Write(context.Background(), other)

		// Assert: the write fails and leaves the store untouched.
		require.True(t, persist.IsError(err, persist.ErrNetworkMismatch),
			"unexpected error: %v", err)

		got, err := store.Read(context.Background())
		require.NoError(t, err)
		RequireEqual(t, stored, got)
	})

	t.Run("empty write", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Write(
			context.Background(), &persist.ChangeSet{},
		))

		got, err := store.Read(context.Background())
		require.NoError(t, err)
		require.True(t, got.IsEmpty())
	})
}
