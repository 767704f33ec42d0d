package wtxmgr

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	testTime = time.Unix(1700000000, 0)

	// recvScript and changeScript are owned by the wallet, foreignScript
	// isn't.
	recvScript    = []byte{0x00, 0x14, 0x01}
	changeScript  = []byte{0x00, 0x14, 0x02}
	foreignScript = []byte{0x00, 0x14, 0x03}

	// fundingOutPoint is an outpoint outside the store.
	fundingOutPoint = wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 0}
)

// testOwner resolves the two wallet scripts.
func testOwner(pkScript []byte) (descriptor.KeychainKind, uint32, bool) {
	switch string(pkScript) {
	case string(recvScript):
		return descriptor.KeychainExternal, 0, true

	case string(changeScript):
		return descriptor.KeychainInternal, 0, true
	}

	return 0, 0, false
}

// trustChange trusts unconfirmed change outputs.
func trustChange(out *LocalOutput) bool {
	return out.Keychain == descriptor.KeychainInternal
}

// newTestStore returns an empty store with a test clock.
func newTestStore() *Store {
	return NewStore(testOwner, clock.NewTestClock(testTime))
}

// spend builds a transaction spending ins. The lock time makes otherwise
// equal transactions distinct.
func spend(lockTime uint32, ins []wire.OutPoint,
	outs ...*wire.TxOut) *wire.MsgTx {

	tx := wire.NewMsgTx(2)
	for _, in := range ins {
		tx.AddTxIn(wire.NewTxIn(&in, nil, nil))
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	tx.LockTime = lockTime

	return tx
}

// coinbase builds a coinbase transaction paying to pkScript.
func coinbase(value int64, pkScript []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	return tx
}

// blockAt returns block metadata at a height.
func blockAt(height int32) BlockMeta {
	return BlockMeta{
		Block: Block{Hash: chainhash.Hash{byte(height)}, Height: height},
		Time:  testTime,
	}
}

// insert adds a record and fails the test on error.
func insert(t *testing.T, s *Store, rec *TxRecord) {
	t.Helper()

	_, err := s.Insert(rec)
	require.NoError(t, err)
}

// TestInsertMerge checks how a known record absorbs new information.
func TestInsertMerge(t *testing.T) {
	t.Parallel()

	// Arrange:
	s := newTestStore()
	tx := spend(0, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(1000, recvScript))

	// Act:
	changed, err := s.Insert(NewTxRecord(tx, time.Time{}))

	// Assert:
	require.NoError(t, err)
	require.True(t, changed)
	rec, ok := s.Tx(tx.TxHash())
	require.True(t, ok)
	require.Equal(t, testTime, rec.LastSeen)

	changed, err = s.Insert(NewTxRecord(tx, testTime.Add(-time.Hour)))
	require.NoError(t, err)
	require.False(t, changed, "last seen must not go back")

	changed, err = s.Insert(NewTxRecord(tx, testTime.Add(time.Hour)))
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.Insert(NewMinedTxRecord(tx, blockAt(10)))
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.Insert(NewMinedTxRecord(tx, blockAt(10)))
	require.NoError(t, err)
	require.False(t, changed)

	rec, _ = s.Tx(tx.TxHash())
	require.Equal(t, int32(10), rec.Height())
	require.Equal(t, testTime.Add(time.Hour), rec.LastSeen)

	bad := NewTxRecord(tx, testTime)
	bad.Hash = chainhash.Hash{0x01}
	_, err = s.Insert(bad)
	require.ErrorIs(t, err, ErrHashMismatch)

	_, err = s.Insert(&TxRecord{})
	require.ErrorIs(t, err, ErrNilTx)
}

// TestConflictResolution checks which of two double spends is canonical.
func TestConflictResolution(t *testing.T) {
	t.Parallel()

	a := spend(1, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(1000, recvScript))
	b := spend(2, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(900, recvScript))

	// lower is the transaction with the smaller txid.
	lower := a
	if outPointLess(wire.OutPoint{Hash: b.TxHash()},
		wire.OutPoint{Hash: a.TxHash()}) {

		lower = b
	}

	testCases := []struct {
		name   string
		recA   *TxRecord
		recB   *TxRecord
		winner *wire.MsgTx
	}{
		{
			name:   "later seen wins",
			recA:   NewTxRecord(a, testTime),
			recB:   NewTxRecord(b, testTime.Add(time.Second)),
			winner: b,
		},
		{
			name:   "confirmed beats newer unconfirmed",
			recA:   NewMinedTxRecord(a, blockAt(5)),
			recB:   NewTxRecord(b, testTime.Add(time.Hour)),
			winner: a,
		},
		{
			name:   "tie broken by txid",
			recA:   NewTxRecord(a, testTime),
			recB:   NewTxRecord(b, testTime),
			winner: lower,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange:
			s := newTestStore()
			insert(t, s, tc.recA)
			insert(t, s, tc.recB)

			// Act:
			canonical := s.Canonical()

			// Assert:
			require.Len(t, canonical, 1)
			require.Equal(t, tc.winner.TxHash(), canonical[0].Hash)

			spender, ok := s.SpenderOf(fundingOutPoint)
			require.True(t, ok)
			require.Equal(t, tc.winner.TxHash(), spender)

			unspent := s.Unspent()
			require.Len(t, unspent, 1)
			require.Equal(t, tc.winner.TxHash(), unspent[0].OutPoint.Hash)

			require.Len(t, s.Records(), 2)
			require.Len(t, s.Conflicts(tc.winner), 1)
		})
	}
}

// TestDescendantOfLoserEvicted checks that a child of a replaced
// transaction leaves the history with its parent.
func TestDescendantOfLoserEvicted(t *testing.T) {
	t.Parallel()

	// Arrange:
	s := newTestStore()
	parent := spend(1, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(1000, recvScript))
	parentOut := wire.OutPoint{Hash: parent.TxHash(), Index: 0}
	child := spend(0, []wire.OutPoint{parentOut},
		wire.NewTxOut(900, changeScript))
	replacement := spend(2, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(800, foreignScript))

	insert(t, s, NewTxRecord(parent, testTime))
	insert(t, s, NewTxRecord(child, testTime.Add(time.Minute)))
	require.True(t, s.IsCanonical(child.TxHash()))
	require.True(t, s.IsSpent(parentOut))

	// Act:
	insert(t, s, NewTxRecord(replacement, testTime.Add(time.Hour)))

	// Assert:
	require.True(t, s.IsCanonical(replacement.TxHash()))
	require.False(t, s.IsCanonical(parent.TxHash()))
	require.False(t, s.IsCanonical(child.TxHash()))
	require.Empty(t, s.Outputs())
	require.False(t, s.IsSpent(parentOut))
}

// TestChildPullsInParent checks that a recently seen child keeps its
// older parent canonical against a conflict seen in between.
func TestChildPullsInParent(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	parent := spend(1, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(1000, recvScript))
	rival := spend(2, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(1000, foreignScript))
	child := spend(0, []wire.OutPoint{{Hash: parent.TxHash()}},
		wire.NewTxOut(900, changeScript))

	insert(t, s, NewTxRecord(parent, testTime))
	insert(t, s, NewTxRecord(rival, testTime.Add(time.Minute)))
	insert(t, s, NewTxRecord(child, testTime.Add(time.Hour)))

	require.True(t, s.IsCanonical(parent.TxHash()))
	require.True(t, s.IsCanonical(child.TxHash()))
	require.False(t, s.IsCanonical(rival.TxHash()))
}

// TestBalance checks the split of the balance.
func TestBalance(t *testing.T) {
	t.Parallel()

	// Arrange:
	s := newTestStore()
	mined := coinbase(5000, recvScript)
	confirmed := spend(1, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(1000, recvScript), wire.NewTxOut(10, foreignScript))
	pending := spend(2, []wire.OutPoint{{Hash: chainhash.Hash{0xbb}}},
		wire.NewTxOut(200, changeScript), wire.NewTxOut(300, recvScript))

	insert(t, s, NewMinedTxRecord(mined, blockAt(100)))
	insert(t, s, NewMinedTxRecord(confirmed, blockAt(101)))
	insert(t, s, NewTxRecord(pending, testTime))

	// Build the canonical view before the parallel subtests read it.
	require.Len(t, s.Canonical(), 3)

	testCases := []struct {
		name string
		tip  int32
		want Balance
	}{
		{
			name: "coinbase immature",
			tip:  198,
			want: Balance{
				Immature:         5000,
				Confirmed:        1000,
				TrustedPending:   200,
				UntrustedPending: 300,
			},
		},
		{
			name: "coinbase mature",
			tip:  199,
			want: Balance{
				Confirmed:        6000,
				TrustedPending:   200,
				UntrustedPending: 300,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act:
			got := s.Balance(tc.tip, trustChange)

			// Assert:
			require.Equal(t, tc.want, got)
			require.Equal(t, btcutil.Amount(6500), got.Total())
			require.Equal(t, got.Confirmed+200, got.TrustedSpendable())
		})
	}
}

// TestSentAndReceived checks the wallet's share of a transaction.
func TestSentAndReceived(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.InsertTxOut(fundingOutPoint, wire.NewTxOut(5000, recvScript))

	tx := spend(0, []wire.OutPoint{fundingOutPoint},
		wire.NewTxOut(3000, foreignScript), wire.NewTxOut(1800, changeScript))

	sent, received := s.SentAndReceived(tx)
	require.Equal(t, btcutil.Amount(5000), sent)
	require.Equal(t, btcutil.Amount(1800), received)

	prev, ok := s.PrevOut(fundingOutPoint)
	require.True(t, ok)
	require.Equal(t, int64(5000), prev.Value)
	require.False(t, s.InsertTxOut(fundingOutPoint,
		wire.NewTxOut(5000, recvScript)))
}

// TestCanonicalNeverDoubleSpends checks that no two canonical transactions
// spend the same output, whatever the insertion order and timestamps.
func TestCanonicalNeverDoubleSpends(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		s := newTestStore()

		// A pool of outpoints, some created by earlier transactions.
		pool := []wire.OutPoint{
			fundingOutPoint, {Hash: chainhash.Hash{0xbb}},
		}

		n := rapid.IntRange(1, 12).Draw(t, "txs")
		for i := 0; i < n; i++ {
			in := rapid.SampledFrom(pool).Draw(t, "input")
			tx := spend(uint32(i), []wire.OutPoint{in},
				wire.NewTxOut(1000, recvScript))

			var rec *TxRecord
			if rapid.IntRange(0, 4).Draw(t, "confirmed") == 0 {
				height := rapid.Int32Range(1, 50).Draw(t, "height")
				rec = NewMinedTxRecord(tx, blockAt(height))
			} else {
				seen := rapid.Int64Range(0, 100).Draw(t, "seen")
				rec = NewTxRecord(tx, testTime.Add(
					time.Duration(seen)*time.Second,
				))
			}

			_, err := s.Insert(rec)
			require.NoError(t, err)

			pool = append(pool, wire.OutPoint{Hash: tx.TxHash()})
		}

		spent := make(map[wire.OutPoint]chainhash.Hash)
		for _, rec := range s.Canonical() {
			for _, in := range rec.MsgTx.TxIn {
				prev := in.PreviousOutPoint
				other, dup := spent[prev]
				require.False(t, dup, "%v spent by %v and %v", prev,
					other, rec.Hash)

				spent[prev] = rec.Hash

				// Parents inside the store are canonical too.
				if _, ok := s.Tx(prev.Hash); ok {
					require.True(t, s.IsCanonical(prev.Hash))
				}
			}
		}
	})
}
