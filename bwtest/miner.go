package bwtest

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/integration/rpctest"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/stretchr/testify/require"
)

const (
	// minerSetupOutputs is the number of outputs to generate during miner
	// setup.
	minerSetupOutputs = 50

	// minMatureBlocks is the minimum number of blocks to mine to ensure
	// coinbase maturity.
	minMatureBlocks = 100

	// retryMultiplier is the multiplier for connection retries to make tests
	// more robust.
	retryMultiplier = 2

	// minerWindowMultiplier is the multiplier for the miner confirmation
	// window to ensure we mine enough blocks for activation.
	minerWindowMultiplier = 2
)

var (
	// harnessNetParams is the network parameters used for the harness.
	harnessNetParams = &chaincfg.RegressionNetParams
)

// minerHarness is a btcd node with an in-memory wallet that mines the test
// chain and funds the wallets under test.
type minerHarness struct {
	*testing.T

	*rpctest.Harness

	// logPath is the directory of the miner's logs.
	logPath string
}

// newMiner creates a new minerHarness writing its logs into logDir.
func newMiner(t *testing.T, logDir string) *minerHarness {
	t.Helper()

	btcdBinary, err := lookupBinary("btcd")
	require.NoError(t, err, "unable to find btcd binary")

	args := []string{
		"--rejectnonstd",          // Reject non-standard txs in tests.
		"--txindex",               // Required for some RPC queries.
		"--nowinservice",          // Avoid Windows service integration.
		"--nobanning",             // Avoid peer banning in local tests.
		"--debuglevel=debug",      // Provide detailed logs for debugging.
		"--logdir=" + logDir,      // Write logs into our per-run dir.
		"--trickleinterval=100ms", // Speed up inv relay in regtest.
		"--nostalldetect",         // Avoid stall detection flakiness.
	}

	handlers := &rpcclient.NotificationHandlers{}

	harness, err := rpctest.New(harnessNetParams, handlers, args, btcdBinary)
	require.NoError(t, err, "unable to create rpctest harness")

	return &minerHarness{
		T:       t,
		Harness: harness,
		logPath: logDir,
	}
}

// SetUp starts the miner node and mines past coinbase maturity and segwit
// activation.
func (m *minerHarness) SetUp() {
	m.Helper()

	m.MaxConnRetries = rpctest.DefaultMaxConnectionRetries * retryMultiplier
	m.ConnectionRetryTimeout = rpctest.DefaultConnectionRetryTimeout *
		retryMultiplier

	require.NoError(
		m, m.Harness.SetUp(true, minerSetupOutputs),
		"unable to setup miner",
	)

	numBlocks := max(
		harnessNetParams.MinerConfirmationWindow*minerWindowMultiplier,
		minMatureBlocks,
	)

	_, err := m.Client.Generate(numBlocks)
	require.NoError(m, err, "unable to generate initial blocks")
}

// Stop shuts down the miner.
func (m *minerHarness) Stop() {
	require.NoError(m, m.TearDown(), "tear down miner failed")

	m.Logf("Miner logs available at: %s", m.logPath)
}
