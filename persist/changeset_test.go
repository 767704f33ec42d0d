package persist_test

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/persist/persisttest"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// drawOption draws an optional value.
func drawOption[T any](t *rapid.T, gen *rapid.Generator[T],
	label string) fn.Option[T] {

	if !rapid.Bool().Draw(t, label+" set") {
		return fn.None[T]()
	}

	return fn.Some(gen.Draw(t, label))
}

// drawChangeSet draws a change set over a small pool of transactions, so
// sets drawn together overlap.
func drawChangeSet(t *rapid.T, label string) *persist.ChangeSet {
	cs := &persist.ChangeSet{
		Network: drawOption(t, rapid.SampledFrom([]wire.BitcoinNet{
			wire.MainNet, wire.TestNet3,
		}), label+" network"),
		Descriptor: drawOption(
			t, rapid.SampledFrom([]string{"a", "b"}), label+" desc",
		),
		Tip: drawOption(t, rapid.Custom(func(t *rapid.T) wtxmgr.Block {
			height := rapid.Int32Range(1, 50).Draw(t, "height")
			return persisttest.TestBlock(height).Block
		}), label+" tip"),
	}

	for _, keychain := range descriptor.Keychains {
		if !rapid.Bool().Draw(t, label+" revealed set") {
			continue
		}

		if cs.LastRevealed == nil {
			cs.LastRevealed = make(map[descriptor.KeychainKind]uint32)
		}
		cs.LastRevealed[keychain] = rapid.Uint32Range(0, 20).Draw(
			t, label+" revealed",
		)
	}

	numTxs := rapid.IntRange(0, 4).Draw(t, label+" txs")
	for range numTxs {
		seed := rapid.Uint32Range(1, 5).Draw(t, label+" tx seed")
		tx := persisttest.TestTx(seed)
		lastSeen := time.Unix(rapid.Int64Range(0, 10).Draw(
			t, label+" last seen",
		), 0)

		rec := wtxmgr.NewTxRecord(tx, lastSeen)
		if rapid.Bool().Draw(t, label+" mined") {
			height := rapid.Int32Range(1, 50).Draw(t, label+" height")
			rec = wtxmgr.NewMinedTxRecord(
				tx, persisttest.TestBlock(height),
			)
			rec.LastSeen = lastSeen
		}

		if cs.Txs == nil {
			cs.Txs = make(map[chainhash.Hash]*wtxmgr.TxRecord)
		}
		cs.Txs[rec.Hash] = rec
	}

	return cs
}

// merged returns a merged into a copy of base.
func merged(base, other *persist.ChangeSet) *persist.ChangeSet {
	out := base.Clone()
	out.Merge(other)

	return out
}

// TestMergeAssociative checks merging change sets is associative and
// idempotent.
func TestMergeAssociative(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		a := drawChangeSet(t, "a")
		b := drawChangeSet(t, "b")
		c := drawChangeSet(t, "c")

		left := merged(merged(a, b), c)
		right := merged(a, merged(b, c))
		require.Equal(t, left, right)

		require.Equal(t, merged(a, b), merged(merged(a, b), b))
		require.Equal(t, a.Clone(), merged(a, a))
	})
}

// TestMergeFields checks how each field merges.
func TestMergeFields(t *testing.T) {
	t.Parallel()

	// Arrange:
	base := persisttest.NewChangeSet(wire.TestNet3)
	unmined := persisttest.TestTx(2)
	update := &persist.ChangeSet{
		Network:    fn.Some(wire.MainNet),
		Descriptor: fn.Some("other"),
		LastRevealed: map[descriptor.KeychainKind]uint32{
			descriptor.KeychainExternal: 1,
			descriptor.KeychainInternal: 9,
		},
		Txs: map[chainhash.Hash]*wtxmgr.TxRecord{
			unmined.TxHash(): wtxmgr.NewMinedTxRecord(
				unmined, persisttest.TestBlock(130),
			),
		},
		Tip: fn.Some(persisttest.TestBlock(130).Block),
	}

	// Act:
	got := merged(base, update)

	// Assert:
	require.Equal(t, fn.Some(wire.TestNet3), got.Network)
	require.Equal(t, base.Descriptor, got.Descriptor)
	require.Equal(t, map[descriptor.KeychainKind]uint32{
		descriptor.KeychainExternal: 4,
		descriptor.KeychainInternal: 9,
	}, got.LastRevealed)
	require.Equal(t, fn.Some(persisttest.TestBlock(130).Block), got.Tip)

	rec := got.Txs[unmined.TxHash()]
	require.Equal(t, int32(130), rec.Height())
	require.Equal(t, base.Txs[unmined.TxHash()].LastSeen, rec.LastSeen)

	// The base set is left alone.
	require.False(t, base.Txs[unmined.TxHash()].IsConfirmed())
}

// TestIsEmpty checks a change set is empty only without any change.
func TestIsEmpty(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		cs    *persist.ChangeSet
		empty bool
	}{
		{
			name:  "zero",
			cs:    &persist.ChangeSet{},
			empty: true,
		},
		{
			name: "empty maps",
			cs: &persist.ChangeSet{
				LastRevealed: map[descriptor.KeychainKind]uint32{},
			},
			empty: true,
		},
		{
			name: "tip",
			cs: &persist.ChangeSet{
				Tip: fn.Some(wtxmgr.Block{Height: 1}),
			},
		},
		{
			name: "full",
			cs:   persisttest.NewChangeSet(wire.MainNet),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.empty, tc.cs.IsEmpty())
		})
	}
}

// TestMemoryStore runs the store checks against the memory store.
func TestMemoryStore(t *testing.T) {
	t.Parallel()

	persisttest.RunStoreTests(t, func(t *testing.T) persist.Store {
		return persist.NewMemoryStore()
	})
}

// TestMemoryStoreCanceled checks a canceled context is honored.
func TestMemoryStoreCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := persist.NewMemoryStore()
	require.ErrorIs(t, store.Write(ctx, &persist.ChangeSet{}),
		context.Canceled)

	_, err := store.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// TestTimeHelpers checks the zero time survives the unix conversion.
func TestTimeHelpers(t *testing.T) {
	t.Parallel()

	require.Zero(t, persist.UnixTime(time.Time{}))
	require.True(t, persist.FromUnixTime(0).IsZero())
	require.Equal(t, int64(42), persist.FromUnixTime(42).Unix())
}
