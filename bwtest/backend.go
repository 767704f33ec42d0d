// Package bwtest provides the integration test harness for descwallet: a
// btcd miner, a full node the wallets sync from, and a fresh wallet store per
// wallet under test.
package bwtest

import (
	"errors"
	"testing"

	"github.com/btcsuite/descwallet/chain"
)

const (
	backendBitcoind = "bitcoind"
)

var (
	errMissingMinerAddr = errors.New("missing miner address")
)

// ChainBackend is a node the wallets under test sync from.
//
// A ChainBackend instance is shared across the whole itest suite run.
// Implementations must be safe to reuse across subtests that run serially.
type ChainBackend interface {
	// Name returns the name of the backend.
	Name() string

	// Start launches the node and waits until it follows the miner.
	Start() error

	// Stop shuts down the node.
	Stop() error

	// ConnectMiner records the miner the node connects to on Start.
	ConnectMiner(minerAddr string) error

	// NewSource creates a chain source talking to this node. The returned
	// cleanup function releases it.
	NewSource() (chain.Source, func(), error)

	// LogDir returns the directory where the backend writes its logs.
	LogDir() string
}

// NewBackend creates a ChainBackend based on the type string.
//
// Only bitcoind is supported: the RPC source looks scripts up with
// scantxoutset, which btcd doesn't implement.
func NewBackend(t *testing.T, backendType, logDir string) ChainBackend {
	t.Helper()

	switch backendType {
	case backendBitcoind:
		return NewBitcoindBackend(t, logDir)

	default:
		t.Fatalf("unknown chain backend %q", backendType)
		return nil
	}
}
