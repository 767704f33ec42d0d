// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// RPCConfig configures an RPCSource.
type RPCConfig struct {
	// Host is the host:port of the node.
	Host string

	// User is the RPC user name.
	User string

	// Pass is the RPC password.
	Pass string

	// DisableTLS talks plain HTTP to the node.
	DisableTLS bool

	// Certificates is the PEM encoded certificate chain of the node.
	Certificates []byte
}

// validate checks the required config options are set.
func (c *RPCConfig) validate() error {
	if c == nil {
		return errors.New("missing rpc config")
	}

	if c.Host == "" {
		return errors.New("missing rpc host")
	}

	return nil
}

// rpcBackend is the subset of the rpcclient the source uses.
type rpcBackend interface {
	GetBlockCount() (int64, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult,
		error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash,
		error)
	RawRequest(method string, params []json.RawMessage) (json.RawMessage,
		error)
	Shutdown()
}

// RPCSource is a Source backed by the JSON-RPC interface of a full node.
//
// A node has no address index, so ScriptTxs relies on scantxoutset and only
// sees transactions that still have unspent outputs to the script.
type RPCSource struct {
	client rpcBackend
}

// A compile-time check to ensure that RPCSource satisfies the Source
// interface.
var _ Source = (*RPCSource)(nil)

// NewRPCSource connects to a node over HTTP POST.
func NewRPCSource(cfg *RPCConfig) (*RPCSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		DisableTLS:           cfg.DisableTLS,
		Certificates:         cfg.Certificates,
		DisableAutoReconnect: false,
		DisableConnectOnNew:  true,
		HTTPPostMode:         true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}

	return &RPCSource{client: client}, nil
}

// Stop shuts the client down.
func (r *RPCSource) Stop() {
	r.client.Shutdown()
}

// TipHeight returns the height and hash of the best block.
func (r *RPCSource) TipHeight(ctx context.Context) (int32, chainhash.Hash,
	error) {

	if err := ctx.Err(); err != nil {
		return 0, chainhash.Hash{}, err
	}

	count, err := r.client.GetBlockCount()
	if err != nil {
		return 0, chainhash.Hash{}, fmt.Errorf("getblockcount: %w", err)
	}

	hash, err := r.client.GetBlockHash(count)
	if err != nil {
		return 0, chainhash.Hash{}, fmt.Errorf("getblockhash: %w", err)
	}

	return int32(count), *hash, nil
}

// scanResult is the part of the scantxoutset answer the source reads.
type scanResult struct {
	Success  bool `json:"success"`
	Unspents []struct {
		TxID   string `json:"txid"`
		Vout   uint32 `json:"vout"`
		Height int32  `json:"height"`
	} `json:"unspents"`
}

// ScriptTxs returns the transactions holding unspent outputs to pkScript.
func (r *RPCSource) ScriptTxs(ctx context.Context,
	pkScript []byte) ([]TxInfo, error) {

	action, err := json.Marshal("start")
	if err != nil {
		return nil, err
	}

	descs, err := json.Marshal([]string{
		fmt.Sprintf("raw(%x)", pkScript),
	})
	if err != nil {
		return nil, err
	}

	raw, err := r.client.RawRequest(
		"scantxoutset", []json.RawMessage{action, descs},
	)
	if err != nil {
		return nil, fmt.Errorf("scantxoutset: %w", err)
	}

	var scan scanResult
	if err := json.Unmarshal(raw, &scan); err != nil {
		return nil, fmt.Errorf("decode scantxoutset: %w", err)
	}

	seen := make(map[string]struct{})
	infos := make([]TxInfo, 0, len(scan.Unspents))
	for _, unspent := range scan.Unspents {
		if _, ok := seen[unspent.TxID]; ok {
			continue
		}
		seen[unspent.TxID] = struct{}{}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := r.txInfo(unspent.TxID, unspent.Height)
		if err != nil {
			return nil, err
		}

		infos = append(infos, *info)
	}

	return infos, nil
}

// txInfo fetches a transaction and its block.
func (r *RPCSource) txInfo(txid string, height int32) (*TxInfo, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, err
	}

	result, err := r.client.GetRawTransactionVerbose(hash)
	if err != nil {
		return nil, fmt.Errorf("getrawtransaction %v: %w", txid, err)
	}

	tx, err := DecodeTxHex(result.Hex)
	if err != nil {
		return nil, err
	}

	info := &TxInfo{Tx: tx}
	if result.BlockHash == "" || height <= 0 {
		return info, nil
	}

	blockHash, err := chainhash.NewHashFromStr(result.BlockHash)
	if err != nil {
		return nil, err
	}

	info.Height = height
	info.BlockHash = *blockHash
	info.BlockTime = time.Unix(result.Blocktime, 0)

	return info, nil
}

// Broadcast relays a transaction through the node.
func (r *RPCSource) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return chainhash.Hash{}, err
	}

	hash, err := r.client.SendRawTransaction(tx, false)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("%w: %w",
			ErrBroadcastRejected, err)
	}

	return *hash, nil
}

// DecodeTxHex parses a hex serialized transaction.
func DecodeTxHex(s string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode tx hex: %w", err)
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("deserialize tx: %w", err)
	}

	return tx, nil
}
