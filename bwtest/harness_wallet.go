package bwtest

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdkeys"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/stretchr/testify/require"
)

const (
	// defaultFundingAmount is the value CreateFundedWallet receives.
	defaultFundingAmount = 10 * btcutil.SatoshiPerBitcoin

	// minerFeeRate is the sat/kb rate the miner pays when funding wallets.
	minerFeeRate = btcutil.Amount(1000)
)

// TestWallet is a wallet under test together with the store and the secret
// descriptors it was created from, so tests can reload it.
type TestWallet struct {
	*wallet.Wallet

	// Store is the wallet's persistence backend.
	Store persist.Store

	// External is the external descriptor including its private key.
	External string

	// Internal is the change descriptor including its private key.
	Internal string
}

// CreateEmptyWallet creates and registers a BIP84 wallet from a fresh
// mnemonic.
func (h *HarnessTest) CreateEmptyWallet() *TestWallet {
	h.Helper()

	mnemonic, err := hdkeys.NewMnemonic(hdkeys.Words12)
	require.NoError(h, err, "failed to create mnemonic")

	key, err := descriptor.NewSecretKeyFromMnemonic(
		h.NetParams(), mnemonic, "",
	)
	require.NoError(h, err, "failed to derive master key")

	build := func(kind descriptor.KeychainKind) string {
		desc, keys, err := descriptor.BuildDescriptor(
			key, kind, descriptor.TemplateBIP84, h.NetParams(),
		)
		require.NoError(h, err, "failed to build %v descriptor", kind)

		return desc.StringWithSecret(keys)
	}

	tw := &TestWallet{
		Store:    h.NewStore(),
		External: build(descriptor.KeychainExternal),
		Internal: build(descriptor.KeychainInternal),
	}

	tw.Wallet, err = wallet.New(
		tw.External, tw.Internal, h.NetParams(), tw.Store,
	)
	require.NoError(h, err, "failed to create wallet")

	_, err = tw.Persist(h.Context())
	require.NoError(h, err, "failed to persist new wallet")

	// Register the wallet so it is synced with every mined block.
	h.RegisterWallet(tw.Wallet)

	return tw
}

// CreateFundedWallet creates an empty wallet and funds it with 10 BTC in a
// confirmed output.
func (h *HarnessTest) CreateFundedWallet() *TestWallet {
	h.Helper()

	tw := h.CreateEmptyWallet()
	h.FundWallet(tw, defaultFundingAmount)

	return tw
}

// FundWallet pays amt from the miner to the next external address of tw and
// confirms it.
func (h *HarnessTest) FundWallet(tw *TestWallet, amt btcutil.Amount) {
	h.Helper()

	addr, err := tw.RevealNextAddress(descriptor.KeychainExternal)
	require.NoError(h, err, "failed to reveal address")

	pkScript, err := txscript.PayToAddrScript(addr.Address)
	require.NoError(h, err, "failed to create pkscript")

	h.SendOutput(
		&wire.TxOut{Value: int64(amt), PkScript: pkScript}, minerFeeRate,
	)

	// Confirm the payment. Registered wallets sync after the block.
	h.MineBlocksAndAssertNumTxns(1, 1)
}

// ReloadWallet loads tw from its store and registers the result in place of
// the old instance's registration.
func (h *HarnessTest) ReloadWallet(tw *TestWallet) *TestWallet {
	h.Helper()

	w, err := wallet.Load(
		h.Context(), tw.Store, tw.External, tw.Internal, h.NetParams(),
	)
	require.NoError(h, err, "failed to load wallet")

	h.mu.Lock()
	for i, active := range h.wallets {
		if active == tw.Wallet {
			h.wallets = append(h.wallets[:i], h.wallets[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	h.RegisterWallet(w)

	return &TestWallet{
		Wallet:   w,
		Store:    tw.Store,
		External: tw.External,
		Internal: tw.Internal,
	}
}
