// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/chain/esplora"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/persist/kvdb"
	"github.com/btcsuite/descwallet/persist/sqldb"
	"github.com/btcsuite/descwallet/wallet"
	"golang.org/x/term"
)

// env is what a command runs against: the parsed config plus the resources
// opened from it. Every resource is released by close.
type env struct {
	cfg     *config
	net     *chaincfg.Params
	closers []func() error
}

// newEnv resolves the network of cfg and creates its data directory.
func newEnv(cfg *config) (*env, error) {
	net, err := cfg.netParams()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.networkDir(), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return &env{cfg: cfg, net: net}, nil
}

// close releases everything opened through e, newest first.
func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.Errorf("Unable to close resource: %v", err)
		}
	}
	e.closers = nil
}

// openStore opens the configured wallet store.
func (e *env) openStore() (persist.Store, error) {
	switch e.cfg.Backend {
	case backendMemory:
		log.Warnf("Using the memory backend, nothing is saved")
		return persist.NewMemoryStore(), nil

	case backendBolt:
		store, err := kvdb.Open(
			filepath.Join(e.cfg.networkDir(), defaultBoltFilename),
			defaultDBTimeout,
		)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store.Close)

		return store, nil

	case backendSQLite:
		store, err := sqldb.OpenSQLite(
			filepath.Join(e.cfg.networkDir(), defaultSQLiteFilename),
		)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store.Close)

		return store, nil

	case backendPostgres:
		store, err := sqldb.OpenPostgres(e.cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store.Close)

		return store, nil
	}

	return nil, fmt.Errorf("unknown backend %q", e.cfg.Backend)
}

// openSource connects the configured chain source.
func (e *env) openSource() (chain.Source, error) {
	switch e.cfg.Source {
	case sourceEsplora:
		url, err := e.cfg.esploraURL()
		if err != nil {
			return nil, err
		}

		return esplora.NewClient(esplora.ClientConfig{
			URL:               url,
			Timeout:           e.cfg.Esplora.Timeout,
			Proxy:             e.cfg.Esplora.Proxy,
			RequestsPerSecond: e.cfg.Esplora.RequestsPerSecond,
		})

	case sourceRPC:
		var certs []byte
		if !e.cfg.RPC.DisableTLS && e.cfg.RPC.CAFile != "" {
			var err error
			certs, err = os.ReadFile(cleanAndExpandPath(e.cfg.RPC.CAFile))
			if err != nil {
				return nil, fmt.Errorf("read rpc cert: %w", err)
			}
		}

		src, err := chain.NewRPCSource(&chain.RPCConfig{
			Host:         e.cfg.RPC.Host,
			User:         e.cfg.RPC.User,
			Pass:         e.cfg.RPC.Pass,
			DisableTLS:   e.cfg.RPC.DisableTLS,
			Certificates: certs,
		})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() error {
			src.Stop()
			return nil
		})

		return src, nil
	}

	return nil, fmt.Errorf("unknown source %q", e.cfg.Source)
}

// loadWatchOnly loads the wallet from the descriptors in its store. It can
// track funds and build transactions but not sign them.
func (e *env) loadWatchOnly(ctx context.Context) (*wallet.Wallet, error) {
	store, err := e.openStore()
	if err != nil {
		return nil, err
	}

	w, err := wallet.Load(ctx, store, "", "", e.net)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return nil, fmt.Errorf("%w: run init first", err)
	}

	return w, err
}

// loadSigning decrypts the seed file and loads the wallet with its private
// keys.
func (e *env) loadSigning(ctx context.Context) (*wallet.Wallet, error) {
	pass, err := readPassword("Seed file passphrase: ")
	if err != nil {
		return nil, err
	}

	seed, err := readSeedFile(e.cfg.seedFile(), pass)
	if err != nil {
		return nil, err
	}

	external, internal, err := seed.descriptors(e.net)
	if err != nil {
		return nil, err
	}

	store, err := e.openStore()
	if err != nil {
		return nil, err
	}

	return wallet.Load(ctx, store, external, internal, e.net)
}

// readPassword reads a password from the terminal. This requires there to be
// an actual TTY so passing in a password from stdin won't work.
func readPassword(text string) ([]byte, error) {
	fmt.Fprint(os.Stderr, text)

	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	return pw, err
}
