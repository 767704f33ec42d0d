// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet implements a descriptor wallet: it derives addresses from
// an external and an optional internal descriptor, tracks the transactions
// paying to them, builds and bumps transactions as PSBTs and signs them with
// the secrets of its descriptors.
//
// All state is guarded by one mutex. Chain lookups and store writes happen
// outside of it.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/policy"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Config holds the tunables of a wallet.
type Config struct {
	// Lookahead is the number of scripts derived past the last revealed
	// index of each keychain.
	Lookahead uint32

	// Clock stamps unconfirmed transactions.
	Clock clock.Clock

	// Signer signs PSBTs. A KeyMapSigner over the descriptors' secrets is
	// used when nil.
	Signer Signer

	// MaxFeeRate is the highest fee rate a built transaction may ask for.
	MaxFeeRate btcunit.SatPerVByte
}

// DefaultMaxFeeRate is the default maximum fee rate the wallet will consider
// sane, 1000 sat/vb.
//
//nolint:mnd // 1000 sat/vb default max fee.
var DefaultMaxFeeRate = btcunit.NewSatPerVByte(1000, btcunit.NewVByte(1))

// DefaultConfig returns the configuration used when no option is given.
func DefaultConfig() Config {
	return Config{
		Lookahead:  DefaultLookahead,
		Clock:      clock.NewDefaultClock(),
		MaxFeeRate: DefaultMaxFeeRate,
	}
}

// Option changes the configuration of a wallet.
type Option func(*Config)

// WithLookahead sets the number of lookahead scripts.
func WithLookahead(lookahead uint32) Option {
	return func(c *Config) {
		c.Lookahead = lookahead
	}
}

// WithClock sets the clock used to stamp unconfirmed transactions.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithMaxFeeRate sets the highest fee rate a built transaction may ask for.
func WithMaxFeeRate(rate btcunit.SatPerVByte) Option {
	return func(c *Config) {
		c.MaxFeeRate = rate
	}
}

// WithSigner replaces the built-in signer.
func WithSigner(signer Signer) Option {
	return func(c *Config) {
		c.Signer = signer
	}
}

// Wallet is a descriptor wallet.
type Wallet struct {
	// mu guards every field below.
	mu sync.Mutex

	cfg Config

	net *chaincfg.Params

	// index holds the keychains and their derived scripts.
	index *scriptIndex

	// txStore holds every transaction relevant to the wallet.
	txStore *wtxmgr.Store

	// tip is the best block of the last applied sync.
	tip fn.Option[wtxmgr.Block]

	// stage accumulates the changes not yet written to store.
	stage *persist.ChangeSet

	store persist.Store

	signer Signer
}

// New creates a wallet from an external and an optional internal
// descriptor. Secrets in the descriptors are kept for signing. Nothing is
// written until Persist is called. A nil store keeps the wallet in memory.
func New(external, internal string, net *chaincfg.Params, store persist.Store,
	opts ...Option) (*Wallet, error) {

	w, err := newWallet(external, internal, net, store, opts...)
	if err != nil {
		return nil, err
	}

	w.stage.Network = fn.Some(net.Net)
	w.stage.Descriptor = fn.Some(w.index.keychains[descriptor.KeychainExternal].desc.String())
	if k, ok := w.index.keychains[descriptor.KeychainInternal]; ok {
		w.stage.ChangeDescriptor = fn.Some(k.desc.String())
	}

	log.Infof("Created %v wallet with descriptor %v", net.Name,
		w.stage.Descriptor.UnwrapOr(""))

	return w, nil
}

// Load restores a wallet from store. Empty descriptor strings load the
// stored public descriptors. Given descriptors must match the stored ones.
func Load(ctx context.Context, store persist.Store, external,
	internal string, net *chaincfg.Params, opts ...Option) (*Wallet, error) {

	cs, err := store.Read(ctx)
	if err != nil {
		return nil, err
	}

	if cs.IsEmpty() {
		return nil, ErrWalletNotFound
	}

	if cs.Network.IsSome() && cs.Network.UnwrapOr(0) != net.Net {
		return nil, fmt.Errorf("%w: stored %v, loading %v",
			ErrNetworkMismatch, cs.Network.UnwrapOr(0), net.Net)
	}

	external, err = matchStored(external, cs.Descriptor, net)
	if err != nil {
		return nil, err
	}
	if external == "" {
		return nil, ErrMissingDescriptor
	}

	internal, err = matchStored(internal, cs.ChangeDescriptor, net)
	if err != nil {
		return nil, err
	}

	w, err := newWallet(external, internal, net, store, opts...)
	if err != nil {
		return nil, err
	}

	if err := w.applyChangeSet(cs); err != nil {
		return nil, err
	}

	log.Infof("Loaded %v wallet: %d transactions, tip %v", net.Name,
		len(cs.Txs), w.tip)

	return w, nil
}

// matchStored returns the descriptor to load: the stored one when given is
// empty, given otherwise. A given descriptor must render to the stored one.
func matchStored(given string, stored fn.Option[string],
	net *chaincfg.Params) (string, error) {

	if given == "" {
		return stored.UnwrapOr(""), nil
	}

	desc, _, err := descriptor.Parse(given, net)
	if err != nil {
		return "", err
	}

	if stored.UnwrapOr("") != desc.String() {
		return "", fmt.Errorf("%w: stored %q, loading %q",
			ErrDescriptorMismatch, stored.UnwrapOr(""), desc.String())
	}

	return given, nil
}

// newWallet parses the descriptors and builds an empty wallet around them.
func newWallet(external, internal string, net *chaincfg.Params,
	store persist.Store, opts ...Option) (*Wallet, error) {

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if store == nil {
		store = persist.NewMemoryStore()
	}

	w := &Wallet{
		cfg:   cfg,
		net:   net,
		index: newScriptIndex(cfg.Lookahead),
		stage: &persist.ChangeSet{},
		store: store,
	}
	w.txStore = wtxmgr.NewStore(w.index.lookup, cfg.Clock)

	ext, err := newKeychain(descriptor.KeychainExternal, external, net)
	if err != nil {
		return nil, err
	}
	if err := w.index.addKeychain(ext); err != nil {
		return nil, err
	}

	if internal != "" {
		in, err := newKeychain(descriptor.KeychainInternal, internal, net)
		if err != nil {
			return nil, err
		}

		if in.desc.String() == ext.desc.String() {
			return nil, ErrDescriptorCollision
		}

		if err := w.index.addKeychain(in); err != nil {
			return nil, err
		}
	}

	w.signer = cfg.Signer
	if w.signer == nil {
		w.signer = NewKeyMapSigner(w.keyMap())
	}

	return w, nil
}

// newKeychain parses a descriptor and extracts its policy.
func newKeychain(kind descriptor.KeychainKind, s string,
	net *chaincfg.Params) (*keychain, error) {

	desc, keys, err := descriptor.Parse(s, net)
	if err != nil {
		return nil, fmt.Errorf("%v descriptor: %w", kind, err)
	}

	pol, err := policy.Extract(desc, keys)
	if err != nil {
		return nil, fmt.Errorf("%v policy: %w", kind, err)
	}

	return &keychain{kind: kind, desc: desc, keys: keys, policy: pol}, nil
}

// applyChangeSet restores the state recorded in a change set.
func (w *Wallet) applyChangeSet(cs *persist.ChangeSet) error {
	for kind, index := range cs.LastRevealed {
		k, ok := w.index.keychains[kind]
		if !ok {
			continue
		}

		if _, err := w.index.reveal(k, index); err != nil {
			return err
		}
	}

	for _, rec := range cs.Txs {
		if _, err := w.txStore.Insert(rec); err != nil {
			return err
		}
	}

	for op, txOut := range cs.TxOuts {
		w.txStore.InsertTxOut(op, txOut)
	}

	w.tip = cs.Tip

	return nil
}

// keyMap returns the secrets of every descriptor.
func (w *Wallet) keyMap() descriptor.KeyMap {
	keys := make(descriptor.KeyMap)
	for _, k := range w.index.keychains {
		keys.Merge(k.keys)
	}

	return keys
}

// keychainFor returns the keychain serving kind. Internal requests fall back
// to the external descriptor when there is no internal one.
func (w *Wallet) keychainFor(kind descriptor.KeychainKind) *keychain {
	if k, ok := w.index.keychains[kind]; ok {
		return k
	}

	return w.index.keychains[descriptor.KeychainExternal]
}

// hasInternal reports whether the wallet has its own change descriptor.
func (w *Wallet) hasInternal() bool {
	_, ok := w.index.keychains[descriptor.KeychainInternal]
	return ok
}

// Network returns the network of the wallet.
func (w *Wallet) Network() *chaincfg.Params {
	return w.net
}

// Descriptor returns the public descriptor of a keychain.
func (w *Wallet) Descriptor(kind descriptor.KeychainKind) *descriptor.Descriptor {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.keychainFor(kind).desc
}

// Policies returns the spending policy of a keychain, nil when the
// descriptor has no policy tree.
func (w *Wallet) Policies(kind descriptor.KeychainKind) *policy.Policy {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.keychainFor(kind).policy
}

// LatestCheckpoint returns the tip of the last applied sync.
func (w *Wallet) LatestCheckpoint() fn.Option[wtxmgr.Block] {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.tip
}

// tipHeight returns the height of the last applied sync, zero before any.
func (w *Wallet) tipHeight() int32 {
	return fn.MapOptionZ(w.tip, func(b wtxmgr.Block) int32 {
		return b.Height
	})
}

// IsMine reports whether a script is one of the derived wallet scripts.
func (w *Wallet) IsMine(pkScript []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, _, ok := w.index.lookup(pkScript)

	return ok
}

// DerivationOfScript returns the keychain and index of a wallet script.
func (w *Wallet) DerivationOfScript(pkScript []byte) (
	descriptor.KeychainKind, uint32, bool) {

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.index.lookup(pkScript)
}

// ListUnspent returns the unspent wallet outputs.
func (w *Wallet) ListUnspent() []wtxmgr.LocalOutput {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.txStore.Unspent()
}

// ListOutput returns every wallet output, spent or not.
func (w *Wallet) ListOutput() []wtxmgr.LocalOutput {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.txStore.Outputs()
}

// GetUtxo returns an unspent wallet output.
func (w *Wallet) GetUtxo(op wire.OutPoint) (wtxmgr.LocalOutput, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	out, ok := w.txStore.Output(op)
	if !ok || out.IsSpent {
		return wtxmgr.LocalOutput{}, false
	}

	return out, true
}

// Balance returns the balance at the last synced tip. Unconfirmed change is
// trusted.
func (w *Wallet) Balance() wtxmgr.Balance {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.txStore.Balance(w.tipHeight(), func(
		out *wtxmgr.LocalOutput) bool {

		return out.Keychain == descriptor.KeychainInternal
	})
}

// TxDetails is a canonical wallet transaction and what it means for the
// wallet.
type TxDetails struct {
	// Record is the stored transaction.
	Record *wtxmgr.TxRecord

	// Sent is the value taken from wallet outputs.
	Sent btcutil.Amount

	// Received is the value paid to wallet scripts.
	Received btcutil.Amount

	// Fee is set when every previous output is known.
	Fee fn.Option[btcutil.Amount]
}

// details builds the TxDetails of a record.
func (w *Wallet) details(rec *wtxmgr.TxRecord) *TxDetails {
	sent, received := w.txStore.SentAndReceived(rec.MsgTx)

	d := &TxDetails{Record: rec, Sent: sent, Received: received}
	if fee, err := w.calculateFee(rec.MsgTx); err == nil {
		d.Fee = fn.Some(fee)
	}

	return d
}

// Transactions returns the canonical history, confirmed transactions by
// height first.
func (w *Wallet) Transactions() []*TxDetails {
	w.mu.Lock()
	defer w.mu.Unlock()

	recs := w.txStore.Canonical()
	txs := make([]*TxDetails, 0, len(recs))
	for _, rec := range recs {
		txs = append(txs, w.details(rec))
	}

	return txs
}

// GetTx returns a canonical wallet transaction.
func (w *Wallet) GetTx(txid chainhash.Hash) (*TxDetails, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.txStore.Tx(txid)
	if !ok || !w.txStore.IsCanonical(txid) {
		return nil, false
	}

	return w.details(rec), true
}

// SentAndReceived returns what tx takes from and pays to the wallet.
func (w *Wallet) SentAndReceived(tx *wire.MsgTx) (btcutil.Amount,
	btcutil.Amount) {

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.txStore.SentAndReceived(tx)
}
