// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"slices"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"
)

// TestRevealNextAddress checks that reveals hand out consecutive indices
// and stage the last one.
func TestRevealNextAddress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		kind descriptor.KeychainKind
	}{
		{name: "external", kind: descriptor.KeychainExternal},
		{name: "internal", kind: descriptor.KeychainInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: A fresh wallet.
			w := newTestWallet(t)

			// Act: Reveal three addresses.
			var addrs []AddressInfo
			for range 3 {
				addr, err := w.RevealNextAddress(tc.kind)
				require.NoError(t, err)
				addrs = append(addrs, addr)
			}

			// Assert: Indices 0, 1 and 2 of the keychain, each
			// matching its peeked address.
			for i, addr := range addrs {
				require.EqualValues(t, i, addr.Index)
				require.Equal(t, tc.kind, addr.Keychain)

				peeked, err := w.PeekAddress(tc.kind, uint32(i))
				require.NoError(t, err)
				require.Equal(t, peeked.String(), addr.String())
			}

			require.Equal(t, uint32(2),
				w.Staged().LastRevealed[tc.kind])
		})
	}
}

// TestPeekAddressRevealsNothing checks that peeking doesn't move the
// revealed index.
func TestPeekAddressRevealsNothing(t *testing.T) {
	t.Parallel()

	// Arrange: A fresh wallet.
	w := newTestWallet(t)

	// Act: Peek far ahead, then reveal.
	peeked, err := w.PeekAddress(descriptor.KeychainExternal, 1_000)
	require.NoError(t, err)

	next, err := w.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(t, err)

	// Assert: The reveal still starts at index 0.
	require.EqualValues(t, 1_000, peeked.Index)
	require.Zero(t, next.Index)
	require.NotEqual(t, peeked.String(), next.String())
}

// TestNextUnusedAddress checks that the unused address only moves once a
// transaction pays to it.
func TestNextUnusedAddress(t *testing.T) {
	t.Parallel()

	// Arrange: A fresh wallet.
	w := newTestWallet(t)

	// Act: Ask twice before and once after funding index 0.
	first, err := w.NextUnusedAddress(descriptor.KeychainExternal)
	require.NoError(t, err)

	again, err := w.NextUnusedAddress(descriptor.KeychainExternal)
	require.NoError(t, err)

	// fundWallet reveals the next index, so pay index 0 directly.
	tx := fundingTx(externalScript(t, w, 0), 10_000)
	require.NoError(t, w.ApplyUnconfirmedTxs([]*wire.MsgTx{tx}, testTime))

	after, err := w.NextUnusedAddress(descriptor.KeychainExternal)
	require.NoError(t, err)

	// Assert: Index 0 until used, then index 1.
	require.Zero(t, first.Index)
	require.Zero(t, again.Index)
	require.EqualValues(t, 1, after.Index)
}

// TestRevealAddressesTo checks that only newly revealed addresses are
// returned.
func TestRevealAddressesTo(t *testing.T) {
	t.Parallel()

	// Arrange: A wallet with index 1 revealed.
	w := newTestWallet(t)
	_, err := w.RevealAddressesTo(descriptor.KeychainExternal, 1)
	require.NoError(t, err)

	// Act: Reveal up to 4, then up to 3.
	fresh, err := w.RevealAddressesTo(descriptor.KeychainExternal, 4)
	require.NoError(t, err)

	none, err := w.RevealAddressesTo(descriptor.KeychainExternal, 3)
	require.NoError(t, err)

	// Assert: Indices 2 to 4, then nothing.
	indices := make([]uint32, 0, len(fresh))
	for _, addr := range fresh {
		indices = append(indices, addr.Index)
	}
	require.Equal(t, []uint32{2, 3, 4}, indices)
	require.Empty(t, none)

	next, err := w.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(t, err)
	require.EqualValues(t, 5, next.Index)
}

// TestInternalFallsBackToExternal checks that a wallet without a change
// descriptor hands out external addresses for change.
func TestInternalFallsBackToExternal(t *testing.T) {
	t.Parallel()

	// Arrange: A wallet with only an external descriptor.
	ext, _ := testDescriptors(t, descriptor.TemplateBIP84)
	w, err := New(ext, "", netParams, nil)
	require.NoError(t, err)

	// Act: Reveal a change address.
	addr, err := w.RevealNextAddress(descriptor.KeychainInternal)
	require.NoError(t, err)

	// Assert: It is the first external address.
	require.Equal(t, descriptor.KeychainExternal, addr.Keychain)
	require.Zero(t, addr.Index)

	_, err = NewTxBuilder().
		AddRecipient(foreignScript, 1_000).
		DoNotSpendChange().
		Finish(w)
	require.ErrorIs(t, err, ErrChangePolicyDescriptor)
}

// TestConcurrentReveals checks that concurrent reveals never hand out the
// same index twice.
func TestConcurrentReveals(t *testing.T) {
	t.Parallel()

	const numReveals = 50

	// Arrange: A fresh wallet.
	w := newTestWallet(t)

	// Act: Reveal from many goroutines.
	indices := make([]uint32, numReveals)

	var g errgroup.Group
	for i := range numReveals {
		g.Go(func() error {
			addr, err := w.RevealNextAddress(
				descriptor.KeychainExternal,
			)
			if err != nil {
				return err
			}
			indices[i] = addr.Index

			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Assert: Every index from 0 to numReveals-1 was handed out once.
	slices.Sort(indices)
	for i, index := range indices {
		require.EqualValues(t, i, index)
	}
}

// TestRevealMonotonic checks that any mix of reveal operations never moves
// the revealed index backwards.
func TestRevealMonotonic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		w := newTestWallet(t)

		var last int64 = -1
		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 20).Draw(rt, "ops")
		for _, op := range ops {
			switch op {
			case 0:
				_, err := w.RevealNextAddress(
					descriptor.KeychainExternal,
				)
				require.NoError(rt, err)

			case 1:
				_, err := w.NextUnusedAddress(
					descriptor.KeychainExternal,
				)
				require.NoError(rt, err)

			case 2:
				to := rapid.Uint32Range(0, 30).Draw(rt, "to")
				_, err := w.RevealAddressesTo(
					descriptor.KeychainExternal, to,
				)
				require.NoError(rt, err)
			}

			revealed, ok := w.Staged().LastRevealed[descriptor.KeychainExternal]
			require.True(rt, ok)
			require.GreaterOrEqual(rt, int64(revealed), last)
			last = int64(revealed)
		}
	})
}

// TestScriptDerivations checks the derivations of wallet scripts.
func TestScriptDerivations(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	h := uint32(hdkeychain.HardenedKeyStart)

	// A wallet script carries its full BIP84 path.
	derivs, err := w.ScriptDerivations(externalScript(t, w, 3))
	require.NoError(t, err)
	require.Len(t, derivs, 1)
	require.Equal(t, []uint32{84 + h, 1 + h, h, 0, 3}, derivs[0].Bip32Path)

	// A foreign script is unknown.
	_, err = w.ScriptDerivations(foreignScript)
	require.ErrorIs(t, err, ErrUnknownScript)

	// Scripts past the lookahead aren't indexed yet.
	_, err = w.ScriptDerivations(externalScript(
		t, w, DefaultLookahead+1,
	))
	require.ErrorIs(t, err, ErrUnknownScript)

	require.True(t, w.IsMine(externalScript(t, w, DefaultLookahead)))
	require.False(t, w.IsMine([]byte{txscript.OP_TRUE}))
}
