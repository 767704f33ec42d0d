// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdkeys"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	// testMnemonic is the mnemonic of the BIP84 test vectors.
	testMnemonic = "abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon about"

	// testHeight is the tip the funded test wallets are synced to.
	testHeight = 100
)

var (
	netParams = &chaincfg.RegressionNetParams

	// testTime is the time of the test clock.
	testTime = time.Unix(1_700_000_000, 0)

	// foreignScript is a p2wpkh script the test wallets don't own.
	foreignScript = []byte{
		txscript.OP_0, txscript.OP_DATA_20,
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10,
		11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
	}
)

var (
	_ chain.Source  = (*mockSource)(nil)
	_ persist.Store = (*mockStore)(nil)
	_ Signer        = (*mockSigner)(nil)
)

// mockSource is a mock implementation of the chain.Source interface.
type mockSource struct {
	mock.Mock
}

func (m *mockSource) TipHeight(ctx context.Context) (int32, chainhash.Hash,
	error) {

	args := m.Called(ctx)
	return args.Get(0).(int32), args.Get(1).(chainhash.Hash), args.Error(2)
}

func (m *mockSource) ScriptTxs(ctx context.Context,
	pkScript []byte) ([]chain.TxInfo, error) {

	args := m.Called(ctx, pkScript)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]chain.TxInfo), args.Error(1)
}

func (m *mockSource) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	args := m.Called(ctx, tx)
	return args.Get(0).(chainhash.Hash), args.Error(1)
}

// mockStore is a mock implementation of the persist.Store interface.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Read(ctx context.Context) (*persist.ChangeSet, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persist.ChangeSet), args.Error(1)
}

func (m *mockStore) Write(ctx context.Context, cs *persist.ChangeSet) error {
	args := m.Called(ctx, cs)
	return args.Error(0)
}

// mockSigner is a mock implementation of the Signer interface.
type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) SignPsbt(ctx context.Context, packet *psbt.Packet,
	opts SignOptions) (bool, error) {

	args := m.Called(ctx, packet, opts)
	return args.Bool(0), args.Error(1)
}

// testDescriptors returns the external and internal descriptors of
// testMnemonic for tmpl, with their secrets.
func testDescriptors(t *testing.T, tmpl descriptor.Template) (string,
	string) {

	t.Helper()

	m, err := hdkeys.ParseMnemonic(testMnemonic)
	require.NoError(t, err)

	key, err := descriptor.NewSecretKeyFromMnemonic(netParams, m, "")
	require.NoError(t, err)

	ext, extKeys, err := descriptor.BuildDescriptor(
		key, descriptor.KeychainExternal, tmpl, netParams,
	)
	require.NoError(t, err)

	in, inKeys, err := descriptor.BuildDescriptor(
		key, descriptor.KeychainInternal, tmpl, netParams,
	)
	require.NoError(t, err)

	return ext.StringWithSecret(extKeys), in.StringWithSecret(inKeys)
}

// newTestWallet creates an in-memory BIP84 wallet with a test clock.
func newTestWallet(t *testing.T, opts ...Option) *Wallet {
	t.Helper()

	return newTemplateWallet(t, descriptor.TemplateBIP84, opts...)
}

// newTemplateWallet creates an in-memory wallet for a descriptor template.
func newTemplateWallet(t *testing.T, tmpl descriptor.Template,
	opts ...Option) *Wallet {

	t.Helper()

	ext, in := testDescriptors(t, tmpl)

	opts = append([]Option{WithClock(clock.NewTestClock(testTime))},
		opts...)

	w, err := New(ext, in, netParams, nil, opts...)
	require.NoError(t, err)

	return w
}

// testBlock returns a block at height with a hash derived from it.
func testBlock(height int32) wtxmgr.Block {
	return wtxmgr.Block{
		Hash:   chainhash.DoubleHashH([]byte{byte(height), 0xb1}),
		Height: height,
	}
}

// fundingTx returns a transaction paying amount to pkScript out of an
// outpoint the wallet knows nothing about.
func fundingTx(pkScript []byte, amount btcutil.Amount) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash:  chainhash.DoubleHashH(pkScript),
		Index: 7,
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	return tx
}

// fundWallet pays amount to the next external address in a transaction
// confirmed at testHeight-5 and syncs the wallet to testHeight.
func fundWallet(t *testing.T, w *Wallet,
	amount btcutil.Amount) wire.OutPoint {

	t.Helper()

	addr, err := w.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(t, err)

	tx := fundingTx(mustPayToAddr(t, addr), amount)
	applyConfirmed(t, w, tx, testHeight-5)

	return wire.OutPoint{Hash: tx.TxHash(), Index: 0}
}

// applyConfirmed applies tx confirmed at height with the tip at testHeight.
func applyConfirmed(t *testing.T, w *Wallet, tx *wire.MsgTx, height int32) {
	t.Helper()

	confirmed := testBlock(height)

	err := w.ApplyUpdate(&chain.Update{
		Txs: []chain.TxInfo{{
			Tx:        tx,
			Height:    confirmed.Height,
			BlockHash: confirmed.Hash,
			BlockTime: testTime,
		}},
		Tip: testBlock(testHeight),
	})
	require.NoError(t, err)
}

// externalScript returns the external script of w at index.
func externalScript(t *testing.T, w *Wallet, index uint32) []byte {
	t.Helper()

	addr, err := w.PeekAddress(descriptor.KeychainExternal, index)
	require.NoError(t, err)

	return mustPayToAddr(t, addr)
}

// mustPayToAddr returns the output script of addr.
func mustPayToAddr(t *testing.T, addr AddressInfo) []byte {
	t.Helper()

	pkScript, err := txscript.PayToAddrScript(addr.Address)
	require.NoError(t, err)

	return pkScript
}
