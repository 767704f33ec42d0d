package bwtest

import (
	"context"
	"path/filepath"
	"runtime/debug"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/bwtest/wait"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/stretchr/testify/require"
)

// HarnessTest is the integration test harness.
type HarnessTest struct {
	*testing.T

	// miner is the shared mining node used to generate blocks.
	miner *minerHarness

	// Backend is the chain backend under test.
	Backend ChainBackend

	// Source is a chain source connected to Backend, created for each
	// subtest and meant to be passed to the wallets under test.
	Source chain.Source

	// dbType is the configured wallet store backend.
	dbType string

	// logDir is the per-run log directory.
	logDir string

	// pg is the postgres server of the run, started on first use.
	pg *postgresServer

	// mu protects harness state that can be accessed across the main test and
	// subtests. This includes the wallet registry and idempotent shutdown.
	mu sync.Mutex

	// wallets is the set of wallets created by a test case.
	wallets []*wallet.Wallet

	// stopped prevents stopping shared infrastructure more than once.
	stopped bool
}

// SetupHarness starts the miner and the chain backend.
func SetupHarness(t *testing.T, chainBackendType, dbType string) *HarnessTest {
	t.Helper()

	require.NoError(t, validateDBType(dbType))

	logDir := createTestLogDir(t, chainBackendType, dbType)

	miner := newMiner(t, createUniqueLogSubDir(t, logDir, "miner"))
	miner.SetUp()

	backend := NewBackend(
		t, chainBackendType, createUniqueLogSubDir(t, logDir, "chain"),
	)

	ht := &HarnessTest{
		T:       t,
		miner:   miner,
		Backend: backend,
		dbType:  dbType,
		logDir:  logDir,
		pg:      &postgresServer{},
	}

	// Ensure the harness is cleaned up when the test finishes.
	t.Cleanup(ht.Stop)

	require.NoError(t, backend.ConnectMiner(miner.P2PAddress()))

	// Backend startup can take a moment, so we retry until it succeeds.
	err := wait.NoError(backend.Start, defaultTestTimeout)
	require.NoError(t, err, "failed to start chain backend")

	return ht
}

// Subtest creates a child harness that shares the miner and chain backend.
//
// The returned harness has its own wallet registry, chain source and wallet
// log. Callers should not call Stop on it as it would stop shared
// infrastructure.
func (h *HarnessTest) Subtest(t *testing.T) *HarnessTest {
	h.Helper()

	st := &HarnessTest{
		T:       t,
		miner:   h.miner,
		Backend: h.Backend,
		dbType:  h.dbType,
		logDir:  h.logDir,
		pg:      h.pg,
	}

	// The miner is shared across test cases, but failures should be
	// attributed to the active subtest.
	//
	// NOTE: This mutates shared state, which is safe only because the
	// integration test suite runs subtests serially.
	st.miner.T = st.T

	st.setUpSource()

	logPath := filepath.Join(h.logDir, walletLogFileName(t))
	t.Cleanup(setUpWalletLogging(t, logPath))

	return st
}

// RegisterWallet registers a wallet with the harness.
//
// Registered wallets are synced after every mined block.
func (h *HarnessTest) RegisterWallet(w *wallet.Wallet) {
	h.Helper()

	if w == nil {
		h.Fatalf("cannot register nil wallet")
	}

	h.mu.Lock()
	h.wallets = append(h.wallets, w)
	h.mu.Unlock()
}

// ActiveWallets returns a snapshot of wallets registered with this harness.
func (h *HarnessTest) ActiveWallets() []*wallet.Wallet {
	h.Helper()

	h.mu.Lock()
	wallets := append([]*wallet.Wallet(nil), h.wallets...)
	h.mu.Unlock()

	return wallets
}

// RunTestCase executes a harness test case.
//
// Any panic from the test function is converted into a fatal test failure with
// a stack trace.
func (h *HarnessTest) RunTestCase(name string,
	testFunc func(t *HarnessTest)) {

	h.Helper()

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		h.Fatalf("failed (%s): panic=%v\n%s", name, r, debug.Stack())
	}()

	if testFunc == nil {
		h.Fatalf("nil test func for %s", name)
	}

	testFunc(h)
}

// NetParams returns the chain parameters used by the harness.
func (h *HarnessTest) NetParams() *chaincfg.Params {
	return harnessNetParams
}

// NewStore opens an empty wallet store of the configured backend. It is
// closed when the test finishes.
func (h *HarnessTest) NewStore() persist.Store {
	h.Helper()

	store, cleanup, err := openStore(
		h.Context(), h.dbType, h.TempDir(), h.pg,
	)
	require.NoError(h, err, "unable to open wallet store")

	h.Cleanup(func() {
		require.NoError(h, cleanup(), "failed to close wallet store")
	})

	return store
}

// Stop shuts down all resources owned by the harness.
func (h *HarnessTest) Stop() {
	h.Helper()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	// Stop the chain backend first so it doesn't try to reconnect while
	// the miner is being torn down.
	require.NoError(h, h.Backend.Stop(), "failed to stop chain backend")
	h.miner.Stop()

	if err := h.pg.terminate(context.Background()); err != nil {
		h.Logf("failed to terminate postgres container: %v", err)
	}

	h.finalizeLogs()
}

// setUpSource creates a chain source for the active backend.
func (h *HarnessTest) setUpSource() {
	h.Helper()

	src, cleanup, err := h.Backend.NewSource()
	require.NoError(h, err, "unable to create chain source")
	h.Cleanup(cleanup)

	h.Source = src
}
