package bwtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/descwallet/bwtest/wait"
	"github.com/btcsuite/descwallet/chain"
	"github.com/stretchr/testify/require"
)

const (
	// bitcoindRPCUser/bitcoindRPCPass are test-only credentials used by the
	// chain source. They match the static rpcauth entry below.
	bitcoindRPCUser = "weks"
	bitcoindRPCPass = "weks"

	// bitcoindLogFilePerm protects daemon stdout/stderr logs written by the
	// harness.
	bitcoindLogFilePerm = 0o600

	// bitcoindMaxConnections keeps descriptor requirements low in CI.
	bitcoindMaxConnections = 16

	// bitcoindMaxMempoolMB reduces memory usage for short-lived test runs.
	bitcoindMaxMempoolMB = 50

	// bitcoindRPCAuthorization enables RPC access with user/pass without
	// storing cleartext credentials in the datadir.
	//
	// Generated with: bitcoind -rpcauth=weks:weks.
	bitcoindRPCAuthorization = "weks:469e9bb14ab2360f8e226efed5ca6f" +
		"d$507c670e800a95284294edb5773b05544b" +
		"220110063096c221be9933c82d38e1"
)

var (
	errBitcoindNotSynced = errors.New("bitcoind not synced")
)

// BitcoindBackend is a ChainBackend backed by a bitcoind process. Wallets
// reach it through a chain.RPCSource.
type BitcoindBackend struct {
	// binary is the resolved bitcoind executable path.
	binary string

	// cmd is the running bitcoind process.
	cmd *exec.Cmd

	// logDir is the bitcoind data directory used by this backend instance.
	logDir string

	// rpcPort is the HTTP-RPC port used by bitcoind.
	rpcPort int

	// p2pPort is the p2p port used by bitcoind.
	p2pPort int

	// minerAddr is the shared miner peer address that bitcoind connects to.
	minerAddr string

	// stdoutFile/stderrFile stay open for the lifetime of the daemon process.
	stdoutFile *os.File
	stderrFile *os.File

	// cmdCancel cancels the process context to unblock shutdown paths.
	cmdCancel context.CancelFunc
}

// NewBitcoindBackend creates a new BitcoindBackend writing its datadir and
// stdout/stderr into logDir.
func NewBitcoindBackend(t *testing.T, logDir string) *BitcoindBackend {
	t.Helper()

	bitcoindBinary, err := lookupBinary("bitcoind")
	require.NoError(t, err, "unable to find bitcoind binary")

	absLogDir, err := filepath.Abs(logDir)
	require.NoError(t, err, "unable to get absolute bitcoind log dir")

	err = ensureLogDir(absLogDir)
	require.NoError(t, err, "unable to create bitcoind log dir")

	rpcPort, err := nextPort()
	require.NoError(t, err, "unable to reserve bitcoind rpc port")

	p2pPort, err := nextPort()
	require.NoError(t, err, "unable to reserve bitcoind p2p port")

	return &BitcoindBackend{
		binary:  bitcoindBinary,
		logDir:  absLogDir,
		rpcPort: rpcPort,
		p2pPort: p2pPort,
	}
}

// Name returns the identifier of the backend.
func (b *BitcoindBackend) Name() string {
	return backendBitcoind
}

// rpcHost returns the host:port of the RPC server.
func (b *BitcoindBackend) rpcHost() string {
	return fmt.Sprintf("127.0.0.1:%d", b.rpcPort)
}

// Start launches the daemon and waits until it serves RPC calls and has
// synced the pre-mined chain.
func (b *BitcoindBackend) Start() error {
	if b.minerAddr == "" {
		return fmt.Errorf("bitcoind: %w", errMissingMinerAddr)
	}

	// bitcoind refuses to start with a low RLIMIT_NOFILE.
	_ = raiseNoFileLimit()

	args := []string{
		"-datadir=" + b.logDir,
		"-regtest",
		"-connect=" + b.minerAddr,

		// getrawtransaction needs the index for confirmed transactions.
		"-txindex",
		"-disablewallet",
		"-rpcauth=" + bitcoindRPCAuthorization,
		fmt.Sprintf("-rpcport=%d", b.rpcPort),
		fmt.Sprintf("-port=%d", b.p2pPort),

		fmt.Sprintf("-maxconnections=%d", bitcoindMaxConnections),
		fmt.Sprintf("-maxmempool=%d", bitcoindMaxMempoolMB),
	}

	cmdCtx, cmdCancel := context.WithCancel(context.Background())
	b.cmdCancel = cmdCancel

	// #nosec G204 -- b.binary is looked up from PATH and args are controlled.
	cmd := exec.CommandContext(cmdCtx, b.binary, args...)

	stdoutPath := filepath.Join(b.logDir, "bitcoind.stdout.log")
	stderrPath := filepath.Join(b.logDir, "bitcoind.stderr.log")

	// #nosec G304 -- stdoutPath is created by the test harness.
	stdout, err := os.OpenFile(
		stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, bitcoindLogFilePerm,
	)
	if err != nil {
		return fmt.Errorf("open bitcoind stdout log: %w", err)
	}

	// #nosec G304 -- stderrPath is created by the test harness.
	stderr, err := os.OpenFile(
		stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, bitcoindLogFilePerm,
	)
	if err != nil {
		_ = stdout.Close()
		return fmt.Errorf("open bitcoind stderr log: %w", err)
	}

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()

		return fmt.Errorf("start bitcoind: %w", err)
	}

	b.cmd = cmd
	b.stdoutFile = stdout
	b.stderrFile = stderr

	clientCfg := &rpcclient.ConnConfig{
		Host:                b.rpcHost(),
		User:                bitcoindRPCUser,
		Pass:                bitcoindRPCPass,
		DisableConnectOnNew: true,
		DisableTLS:          true,
		HTTPPostMode:        true,
	}

	err = wait.NoError(func() error {
		client, err := rpcclient.New(clientCfg, nil)
		if err != nil {
			return fmt.Errorf("create bitcoind rpc client: %w", err)
		}

		defer func() {
			client.Shutdown()
			client.WaitForShutdown()
		}()

		count, err := client.GetBlockCount()
		if err != nil {
			return fmt.Errorf("get block count: %w", err)
		}

		if count < int64(minMatureBlocks) {
			return fmt.Errorf("%w (height=%d)", errBitcoindNotSynced,
				count)
		}

		return nil
	}, defaultTestTimeout)
	if err != nil {
		_ = b.Stop()

		return fmt.Errorf("bitcoind not ready: %w; logs: %s %s", err,
			stdoutPath, stderrPath)
	}

	return nil
}

// Stop shuts down the daemon. Repeated calls are no-ops.
func (b *BitcoindBackend) Stop() error {
	if b.cmdCancel != nil {
		b.cmdCancel()
		b.cmdCancel = nil
	}

	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
		_ = b.cmd.Wait()
	}
	b.cmd = nil

	if b.stdoutFile != nil {
		_ = b.stdoutFile.Close()
		b.stdoutFile = nil
	}

	if b.stderrFile != nil {
		_ = b.stderrFile.Close()
		b.stderrFile = nil
	}

	return nil
}

// ConnectMiner records the miner address for later use.
func (b *BitcoindBackend) ConnectMiner(minerAddr string) error {
	b.minerAddr = minerAddr

	return nil
}

// NewSource creates an RPC chain source connected to this backend.
func (b *BitcoindBackend) NewSource() (chain.Source, func(), error) {
	src, err := chain.NewRPCSource(&chain.RPCConfig{
		Host:       b.rpcHost(),
		User:       bitcoindRPCUser,
		Pass:       bitcoindRPCPass,
		DisableTLS: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create rpc source: %w", err)
	}

	return src, src.Stop, nil
}

// LogDir returns the directory where bitcoind wrote its logs for this run.
func (b *BitcoindBackend) LogDir() string {
	return b.logDir
}

var _ ChainBackend = (*BitcoindBackend)(nil)
