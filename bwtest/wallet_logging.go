package bwtest

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/persist/kvdb"
	"github.com/btcsuite/descwallet/persist/sqldb"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/btcsuite/descwallet/wallet/coinselect"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/stretchr/testify/require"
)

// walletLogFilePerm is stricter than logDirPerm since wallet logs carry
// addresses and txids.
const walletLogFilePerm = 0o600

// setUpWalletLogging points the package loggers of the wallet stack at the
// provided log file path.
//
// NOTE: This is package-global logger configuration. It should only be used in
// serial integration tests.
func setUpWalletLogging(t *testing.T, logPath string) func() {
	t.Helper()

	// #nosec G304 -- logPath is created by the test harness.
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC,
		walletLogFilePerm)
	require.NoError(t, err, "unable to create wallet log file")

	backend := btclog.NewBackend(f)

	subsystems := []struct {
		tag string
		use func(btclog.Logger)
	}{
		{"WLLT", wallet.UseLogger},
		{"CSEL", coinselect.UseLogger},
		{"CHNS", chain.UseLogger},
		{"TMGR", wtxmgr.UseLogger},
		{"PRST", persist.UseLogger},
		{"KVDB", kvdb.UseLogger},
		{"SQDB", sqldb.UseLogger},
		{"DESC", descriptor.UseLogger},
		{"RPCC", rpcclient.UseLogger},
	}

	for _, s := range subsystems {
		logger := backend.Logger(s.tag)
		logger.SetLevel(btclog.LevelDebug)
		s.use(logger)
	}

	return func() {
		_ = f.Sync()
		_ = f.Close()
	}
}

// walletLogFileName returns the per-test wallet log filename.
func walletLogFileName(t *testing.T) string {
	t.Helper()

	// Use the leaf subtest name to keep filenames short.
	name := t.Name()

	parts := strings.Split(name, "/")
	if len(parts) > 0 {
		name = parts[len(parts)-1]
	}

	name = sanitizeLogToken(name)

	return fmt.Sprintf("wallet-%s.log", name)
}
