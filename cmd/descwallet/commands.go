// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/hdkeys"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/btcsuite/descwallet/wallet/psbtutil"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	defaultWordCount     = hdkeys.Words12
	defaultFeeRate       = 2
	defaultWatchInterval = time.Minute
)

var (
	// errPassphraseMismatch is returned when the confirmation differs.
	errPassphraseMismatch = errors.New("passphrases do not match")

	// templates maps the --template choices to descriptor templates.
	templates = map[string]descriptor.Template{
		"bip44": descriptor.TemplateBIP44,
		"bip49": descriptor.TemplateBIP49,
		"bip84": descriptor.TemplateBIP84,
		"bip86": descriptor.TemplateBIP86,
	}
)

// app is the state every command shares.
type app struct {
	cfg *config
	ctx context.Context
}

// command is implemented by every subcommand.
type command interface {
	flags.Commander

	// Register adds the command to the parser.
	Register(parser *flags.Parser) error
}

// newCommands returns every subcommand of the CLI.
func newCommands(a *app) []command {
	return []command{
		&mnemonicCommand{WordCount: int(defaultWordCount)},
		&initCommand{a: a, Template: "bip84"},
		&addressCommand{a: a},
		&balanceCommand{a: a},
		&syncCommand{a: a},
		&watchCommand{a: a, Interval: defaultWatchInterval},
		&sendCommand{
			a:          a,
			spendFlags: spendFlags{FeeRate: defaultFeeRate},
		},
		&drainCommand{
			a:          a,
			spendFlags: spendFlags{FeeRate: defaultFeeRate},
		},
		&bumpCommand{a: a},
		&psbtCombineCommand{},
		&psbtExtractCommand{},
	}
}

// mnemonicCommand prints a fresh BIP39 mnemonic.
type mnemonicCommand struct {
	WordCount int `long:"words" description:"Number of words" choice:"12" choice:"15" choice:"18" choice:"21" choice:"24"`
}

func (x *mnemonicCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"mnemonic", "Generate a mnemonic",
		"Print a new random BIP39 mnemonic. Nothing is stored.", x,
	)
	return err
}

func (x *mnemonicCommand) Execute(_ []string) error {
	m, err := hdkeys.NewMnemonic(hdkeys.WordCount(x.WordCount))
	if err != nil {
		return err
	}

	fmt.Println(m.String())

	return nil
}

// initCommand creates the seed file and the wallet.
type initCommand struct {
	a *app

	Mnemonic      string `long:"mnemonic" description:"Restore from this mnemonic instead of generating one"`
	Template      string `long:"template" description:"Descriptor template of the wallet" choice:"bip44" choice:"bip49" choice:"bip84" choice:"bip86"`
	BIP39Password bool   `long:"bip39-passphrase" description:"Ask for a BIP39 passphrase extending the mnemonic"`
}

func (x *initCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"init", "Create a wallet",
		"Write the encrypted seed file and store the descriptors of a "+
			"new or restored wallet", x,
	)
	return err
}

func (x *initCommand) Execute(_ []string) error {
	e, err := newEnv(x.a.cfg)
	if err != nil {
		return err
	}
	defer e.close()

	if _, err := os.Stat(e.cfg.seedFile()); err == nil {
		return fmt.Errorf("seed file %v already exists",
			e.cfg.seedFile())
	}

	var m *hdkeys.Mnemonic
	if x.Mnemonic != "" {
		m, err = hdkeys.ParseMnemonic(x.Mnemonic)
	} else {
		m, err = hdkeys.NewMnemonic(defaultWordCount)
	}
	if err != nil {
		return err
	}

	seed := &walletSeed{
		mnemonic: m,
		template: templates[x.Template],
		network:  e.net.Net,
	}

	if x.BIP39Password {
		pass, err := readPassword("BIP39 passphrase: ")
		if err != nil {
			return err
		}
		seed.bip39Pass = string(pass)
	}

	pass, err := readPassword("New seed file passphrase: ")
	if err != nil {
		return err
	}

	confirm, err := readPassword("Confirm passphrase: ")
	if err != nil {
		return err
	}

	if !bytes.Equal(pass, confirm) {
		return errPassphraseMismatch
	}

	external, internal, err := seed.descriptors(e.net)
	if err != nil {
		return err
	}

	store, err := e.openStore()
	if err != nil {
		return err
	}

	w, err := wallet.New(external, internal, e.net, store)
	if err != nil {
		return err
	}

	if _, err := w.Persist(x.a.ctx); err != nil {
		return err
	}

	if err := writeSeedFile(e.cfg.seedFile(), seed, pass); err != nil {
		return err
	}

	if x.Mnemonic == "" {
		fmt.Println("Write down your mnemonic, it is the only backup " +
			"of the wallet:")
		fmt.Println(m.String())
	}

	fmt.Println(w.Descriptor(descriptor.KeychainExternal))
	fmt.Println(w.Descriptor(descriptor.KeychainInternal))

	return nil
}

// addressCommand hands out an address.
type addressCommand struct {
	a *app

	Change bool  `long:"change" description:"Use the internal keychain"`
	Unused bool  `long:"unused" description:"Return the first unused address instead of a new one"`
	Peek   int64 `long:"peek" default:"-1" description:"Show the address at this index without revealing it"`
}

func (x *addressCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"address", "Get an address",
		"Reveal the next address of the wallet", x,
	)
	return err
}

func (x *addressCommand) Execute(_ []string) error {
	e, err := newEnv(x.a.cfg)
	if err != nil {
		return err
	}
	defer e.close()

	w, err := e.loadWatchOnly(x.a.ctx)
	if err != nil {
		return err
	}

	kind := descriptor.KeychainExternal
	if x.Change {
		kind = descriptor.KeychainInternal
	}

	var info wallet.AddressInfo
	switch {
	case x.Peek >= 0:
		info, err = w.PeekAddress(kind, uint32(x.Peek))

	case x.Unused:
		info, err = w.NextUnusedAddress(kind)

	default:
		info, err = w.RevealNextAddress(kind)
	}
	if err != nil {
		return err
	}

	if _, err := w.Persist(x.a.ctx); err != nil {
		return err
	}

	fmt.Printf("%d %v\n", info.Index, info.Address)

	return nil
}

// balanceCommand prints the balance known to the store.
type balanceCommand struct {
	a *app
}

func (x *balanceCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"balance", "Show the balance",
		"Print the balance as of the last sync", x,
	)
	return err
}

func (x *balanceCommand) Execute(_ []string) error {
	e, err := newEnv(x.a.cfg)
	if err != nil {
		return err
	}
	defer e.close()

	w, err := e.loadWatchOnly(x.a.ctx)
	if err != nil {
		return err
	}

	printBalance(w)

	return nil
}

// syncCommand syncs the wallet once.
type syncCommand struct {
	a *app
}

func (x *syncCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"sync", "Sync the wallet",
		"Scan the chain source for every wallet script and store the "+
			"result", x,
	)
	return err
}

func (x *syncCommand) Execute(_ []string) error {
	e, err := newEnv(x.a.cfg)
	if err != nil {
		return err
	}
	defer e.close()

	w, err := e.loadWatchOnly(x.a.ctx)
	if err != nil {
		return err
	}

	src, err := e.openSource()
	if err != nil {
		return err
	}

	if err := syncOnce(x.a.ctx, w, src, e.cfg.Parallel); err != nil {
		return err
	}

	printBalance(w)

	return nil
}

// watchCommand syncs the wallet periodically.
type watchCommand struct {
	a *app

	Interval time.Duration `long:"interval" description:"Time between syncs"`
}

func (x *watchCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"watch", "Keep the wallet synced",
		"Sync the wallet every interval until interrupted", x,
	)
	return err
}

func (x *watchCommand) Execute(_ []string) error {
	e, err := newEnv(x.a.cfg)
	if err != nil {
		return err
	}
	defer e.close()

	w, err := e.loadWatchOnly(x.a.ctx)
	if err != nil {
		return err
	}

	src, err := e.openSource()
	if err != nil {
		return err
	}

	t := ticker.New(x.Interval)
	t.Resume()
	defer t.Stop()

	for {
		err := syncOnce(x.a.ctx, w, src, e.cfg.Parallel)
		switch {
		case x.a.ctx.Err() != nil:
			return nil

		case err != nil:
			log.Errorf("Sync failed: %v", err)

		default:
			log.Infof("Balance: %v", w.Balance())
		}

		select {
		case <-t.Ticks():
		case <-x.a.ctx.Done():
			return nil
		}
	}
}

// spendFlags are the options shared by the commands that spend.
type spendFlags struct {
	FeeRate uint64 `long:"feerate" description:"Fee rate in sat/vbyte"`
	RBF     bool   `long:"rbf" description:"Signal replaceability"`
	DryRun  bool   `long:"dryrun" description:"Print the signed PSBT instead of broadcasting it"`
}

// sendCommand pays an address.
type sendCommand struct {
	a *app
	spendFlags

	To     string `long:"to" required:"true" description:"Address to pay"`
	Amount int64  `long:"amt" required:"true" description:"Amount in satoshis"`
}

func (x *sendCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"send", "Pay an address",
		"Build, sign and broadcast a payment", x,
	)
	return err
}

func (x *sendCommand) Execute(_ []string) error {
	return spend(x.a, x.spendFlags, func(w *wallet.Wallet) (*psbt.Packet,
		error) {

		pkScript, err := addressScript(x.To, w)
		if err != nil {
			return nil, err
		}

		b := wallet.NewTxBuilder().
			AddRecipient(pkScript, btcutil.Amount(x.Amount)).
			FeeRate(satPerVByte(x.FeeRate))
		if x.RBF {
			b = b.EnableRbf()
		}

		return b.Finish(w)
	})
}

// drainCommand sends every wallet output to an address.
type drainCommand struct {
	a *app
	spendFlags

	To string `long:"to" required:"true" description:"Address to sweep to"`
}

func (x *drainCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"drain", "Sweep the wallet",
		"Spend every wallet output to a single address", x,
	)
	return err
}

func (x *drainCommand) Execute(_ []string) error {
	return spend(x.a, x.spendFlags, func(w *wallet.Wallet) (*psbt.Packet,
		error) {

		pkScript, err := addressScript(x.To, w)
		if err != nil {
			return nil, err
		}

		b := wallet.NewTxBuilder().
			DrainWallet().
			DrainTo(pkScript).
			FeeRate(satPerVByte(x.FeeRate))
		if x.RBF {
			b = b.EnableRbf()
		}

		return b.Finish(w)
	})
}

// bumpCommand replaces an unconfirmed wallet transaction.
type bumpCommand struct {
	a *app
	spendFlags

	TxID string `long:"txid" required:"true" description:"Transaction to replace"`
}

func (x *bumpCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"bump", "Bump a transaction fee",
		"Replace an unconfirmed RBF transaction at a higher fee rate",
		x,
	)
	return err
}

func (x *bumpCommand) Execute(_ []string) error {
	txid, err := chainhash.NewHashFromStr(x.TxID)
	if err != nil {
		return err
	}

	if x.FeeRate == 0 {
		return errors.New("--feerate is required")
	}

	return spend(x.a, x.spendFlags, func(w *wallet.Wallet) (*psbt.Packet,
		error) {

		b := wallet.NewBumpFeeTxBuilder(*txid, satPerVByte(x.FeeRate))
		if x.RBF {
			b = b.EnableRbf()
		}

		return b.Finish(w)
	})
}

// psbtCombineCommand merges PSBTs of the same transaction.
type psbtCombineCommand struct{}

func (x *psbtCombineCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"psbt-combine", "Combine PSBTs",
		"Merge base64 PSBTs of the same transaction given as arguments",
		x,
	)
	return err
}

func (x *psbtCombineCommand) Execute(args []string) error {
	if len(args) == 0 {
		return errors.New("no PSBTs given")
	}

	packets := make([]*psbt.Packet, 0, len(args))
	for _, arg := range args {
		p, err := psbtutil.Decode(strings.TrimSpace(arg))
		if err != nil {
			return err
		}
		packets = append(packets, p)
	}

	combined, err := psbtutil.CombineAll(packets...)
	if err != nil {
		return err
	}

	b64, err := psbtutil.Encode(combined)
	if err != nil {
		return err
	}

	fmt.Println(b64)

	return nil
}

// psbtExtractCommand prints the network transaction of a finalized PSBT.
type psbtExtractCommand struct{}

func (x *psbtExtractCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"psbt-extract", "Extract a transaction",
		"Print the raw transaction hex of a finalized base64 PSBT", x,
	)
	return err
}

func (x *psbtExtractCommand) Execute(args []string) error {
	if len(args) != 1 {
		return errors.New("expected one PSBT")
	}

	p, err := psbtutil.Decode(strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}

	tx, err := psbtutil.Extract(p)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(buf.Bytes()))

	return nil
}

// spend loads the signing wallet, syncs it, builds a transaction with build,
// signs it and either prints or broadcasts it.
func spend(a *app, opts spendFlags,
	build func(*wallet.Wallet) (*psbt.Packet, error)) error {

	e, err := newEnv(a.cfg)
	if err != nil {
		return err
	}
	defer e.close()

	w, err := e.loadSigning(a.ctx)
	if err != nil {
		return err
	}

	src, err := e.openSource()
	if err != nil {
		return err
	}

	if err := syncOnce(a.ctx, w, src, e.cfg.Parallel); err != nil {
		return err
	}

	packet, err := build(w)
	if err != nil {
		return err
	}

	finalized, err := w.Sign(a.ctx, packet, wallet.DefaultSignOptions())
	if err != nil {
		return err
	}

	// The change address revealed by the build must survive a failed
	// broadcast.
	if _, err := w.Persist(a.ctx); err != nil {
		return err
	}

	if opts.DryRun || !finalized {
		b64, err := psbtutil.Encode(packet)
		if err != nil {
			return err
		}

		if !finalized {
			log.Warnf("Transaction is not fully signed")
		}
		fmt.Println(b64)

		return nil
	}

	txid, err := w.BroadcastPsbt(a.ctx, src, packet)
	if err != nil {
		return err
	}

	if _, err := w.Persist(a.ctx); err != nil {
		return err
	}

	fmt.Println(txid)

	return nil
}

// syncOnce runs one full sync and stores the result.
func syncOnce(ctx context.Context, w *wallet.Wallet, src chain.Source,
	parallel int) error {

	if err := w.SyncWith(ctx, src, parallel); err != nil {
		return err
	}

	changed, err := w.Persist(ctx)
	if err != nil {
		return err
	}

	w.LatestCheckpoint().WhenSome(func(cp wtxmgr.Block) {
		log.Debugf("Synced to height %d (%v), changed=%v", cp.Height,
			cp.Hash, changed)
	})

	return nil
}

// addressScript decodes an address of the wallet's network into its output
// script.
func addressScript(s string, w *wallet.Wallet) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(s, w.Network())
	if err != nil {
		return nil, err
	}

	if !addr.IsForNet(w.Network()) {
		return nil, fmt.Errorf("address %v is not for %v", s,
			w.Network().Name)
	}

	return txscript.PayToAddrScript(addr)
}

// satPerVByte converts a whole sat/vbyte rate.
func satPerVByte(rate uint64) btcunit.SatPerVByte {
	return btcunit.NewSatPerVByte(btcutil.Amount(rate), btcunit.NewVByte(1))
}

// printBalance writes the balance parts and the sync height.
func printBalance(w *wallet.Wallet) {
	b := w.Balance()

	fmt.Printf("confirmed:         %v\n", b.Confirmed)
	fmt.Printf("trusted pending:   %v\n", b.TrustedPending)
	fmt.Printf("untrusted pending: %v\n", b.UntrustedPending)
	fmt.Printf("immature:          %v\n", b.Immature)
	fmt.Printf("total:             %v\n", b.Total())

	w.LatestCheckpoint().WhenSome(func(cp wtxmgr.Block) {
		fmt.Printf("synced to:         %d\n", cp.Height)
	})
}
