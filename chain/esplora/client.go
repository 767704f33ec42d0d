// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package esplora implements a chain.Source over the Esplora REST API.
package esplora

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"go.uber.org/ratelimit"
	"golang.org/x/net/proxy"
)

const (
	// DefaultTimeout is the timeout of a single request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries of a failed request.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the wait before the first retry. It doubles
	// on every further retry.
	DefaultRetryBackoff = 500 * time.Millisecond

	// chainPageSize is the number of confirmed transactions per page of
	// the script history.
	chainPageSize = 25

	// maxResponseSize caps the body read from the server.
	maxResponseSize = 32 << 20
)

var (
	// ErrMissingURL is returned when the config has no base URL.
	ErrMissingURL = errors.New("missing esplora url")

	// ErrUnexpectedStatus is returned for a non-2xx answer that isn't
	// retried.
	ErrUnexpectedStatus = errors.New("unexpected http status")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the API base, such as https://blockstream.info/api.
	URL string

	// Timeout bounds a single request. DefaultTimeout when zero.
	Timeout time.Duration

	// MaxRetries is the number of retries after a transient failure.
	// DefaultMaxRetries when zero, no retries when negative.
	MaxRetries int

	// RetryBackoff is the wait before the first retry.
	// DefaultRetryBackoff when zero.
	RetryBackoff time.Duration

	// Proxy is the host:port of a SOCKS5 proxy, such as a Tor daemon.
	Proxy string

	// RequestsPerSecond rate limits the client. Unlimited when zero.
	RequestsPerSecond int
}

// Client talks to an Esplora server.
type Client struct {
	cfg     ClientConfig
	baseURL string
	http    *http.Client
	limiter ratelimit.Limiter
}

// A compile-time check to ensure that Client satisfies the chain.Source
// interface.
var _ chain.Source = (*Client)(nil)

// NewClient returns a client for the server in cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	transport := &http.Transport{}
	if cfg.Proxy != "" {
		dialer, err := proxy.SOCKS5("tcp", cfg.Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %v: %w", cfg.Proxy,
				err)
		}

		transport.DialContext = func(ctx context.Context, network,
			addr string) (net.Conn, error) {

			if d, ok := dialer.(proxy.ContextDialer); ok {
				return d.DialContext(ctx, network, addr)
			}

			return dialer.Dial(network, addr)
		}
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond)
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		limiter: limiter,
	}, nil
}

// statusError is a non-2xx answer.
type statusError struct {
	code int
	body string
}

// Error returns a human readable description of the error.
func (e *statusError) Error() string {
	return fmt.Sprintf("%v: %d %s", ErrUnexpectedStatus, e.code,
		strings.TrimSpace(e.body))
}

// Unwrap returns ErrUnexpectedStatus.
func (e *statusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// retryable reports whether a failed request is worth repeating.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests ||
			se.code >= http.StatusInternalServerError
	}

	// Transport level failures.
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// do runs a request, retrying transient failures with exponential backoff.
func (c *Client) do(ctx context.Context, method, path string,
	body string) ([]byte, error) {

	backoff := c.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		resp, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return resp, nil
		}

		if attempt >= c.cfg.MaxRetries || !retryable(err) {
			return nil, err
		}

		log.Debugf("Request %v %v failed (attempt %d), retrying in "+
			"%v: %v", method, path, attempt+1, backoff, err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		backoff *= 2
	}
}

// doOnce runs a single request.
func (c *Client) doOnce(ctx context.Context, method, path string,
	body string) ([]byte, error) {

	c.limiter.Take()

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reqBody,
	)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: string(data)}
	}

	return data, nil
}

// getJSON fetches path and decodes the JSON answer into v.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	data, err := c.do(ctx, http.MethodGet, path, "")
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %v: %w", path, err)
	}

	return nil
}

// TipHeight returns the height and hash of the best block.
func (c *Client) TipHeight(ctx context.Context) (int32, chainhash.Hash,
	error) {

	data, err := c.do(ctx, http.MethodGet, "/blocks/tip/height", "")
	if err != nil {
		return 0, chainhash.Hash{}, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, chainhash.Hash{}, fmt.Errorf("parse tip height: %w", err)
	}

	data, err = c.do(ctx, http.MethodGet, "/blocks/tip/hash", "")
	if err != nil {
		return 0, chainhash.Hash{}, err
	}

	hash, err := chainhash.NewHashFromStr(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, chainhash.Hash{}, fmt.Errorf("parse tip hash: %w", err)
	}

	return int32(height), *hash, nil
}

// TxStatus is where a transaction sits in the chain.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int32  `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

// scriptTx is the part of a script history entry the client reads.
type scriptTx struct {
	TxID   string   `json:"txid"`
	Status TxStatus `json:"status"`
}

// ScriptHash returns the hash Esplora indexes an output script by.
func ScriptHash(pkScript []byte) string {
	sum := sha256.Sum256(pkScript)
	return hex.EncodeToString(sum[:])
}

// ScriptTxs returns every transaction touching pkScript, following the
// pages of the confirmed history.
func (c *Client) ScriptTxs(ctx context.Context,
	pkScript []byte) ([]chain.TxInfo, error) {

	base := "/scripthash/" + ScriptHash(pkScript) + "/txs"

	var history []scriptTx
	if err := c.getJSON(ctx, base, &history); err != nil {
		return nil, err
	}

	// The first page holds the mempool transactions and the first page
	// of confirmed ones.
	lastPage := history
	for {
		var (
			confirmed int
			lastTxID  string
		)
		for _, tx := range lastPage {
			if tx.Status.Confirmed {
				confirmed++
				lastTxID = tx.TxID
			}
		}

		if confirmed < chainPageSize {
			break
		}

		var page []scriptTx
		err := c.getJSON(ctx, base+"/chain/"+lastTxID, &page)
		if err != nil {
			return nil, err
		}

		history = append(history, page...)
		lastPage = page
	}

	infos := make([]chain.TxInfo, 0, len(history))
	for _, entry := range history {
		tx, err := c.Tx(ctx, entry.TxID)
		if err != nil {
			return nil, err
		}

		info, err := toTxInfo(tx, entry.Status)
		if err != nil {
			return nil, err
		}

		infos = append(infos, *info)
	}

	return infos, nil
}

// toTxInfo pairs a transaction with its status.
func toTxInfo(tx *wire.MsgTx, status TxStatus) (*chain.TxInfo, error) {
	info := &chain.TxInfo{Tx: tx}
	if !status.Confirmed {
		return info, nil
	}

	hash, err := chainhash.NewHashFromStr(status.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("parse block hash: %w", err)
	}

	info.Height = status.BlockHeight
	info.BlockHash = *hash
	info.BlockTime = time.Unix(status.BlockTime, 0)

	return info, nil
}

// Tx fetches a transaction by id.
func (c *Client) Tx(ctx context.Context, txid string) (*wire.MsgTx, error) {
	data, err := c.do(ctx, http.MethodGet, "/tx/"+txid+"/hex", "")
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %v", chain.ErrTxNotFound, txid)
		}

		return nil, err
	}

	return chain.DecodeTxHex(strings.TrimSpace(string(data)))
}

// TxStatus fetches the confirmation status of a transaction.
func (c *Client) TxStatus(ctx context.Context,
	txid string) (*TxStatus, error) {

	var status TxStatus
	if err := c.getJSON(ctx, "/tx/"+txid+"/status", &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// Broadcast posts a transaction to the server.
func (c *Client) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	var buf strings.Builder
	if err := tx.Serialize(hex.NewEncoder(&buf)); err != nil {
		return chainhash.Hash{}, err
	}

	data, err := c.do(ctx, http.MethodPost, "/tx", buf.String())
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusBadRequest {
			return chainhash.Hash{}, fmt.Errorf("%w: %s",
				chain.ErrBroadcastRejected,
				strings.TrimSpace(se.body))
		}

		return chainhash.Hash{}, err
	}

	hash, err := chainhash.NewHashFromStr(strings.TrimSpace(string(data)))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("parse txid: %w", err)
	}

	return *hash, nil
}

// FeeEstimates returns the fee rate in sat/vb per confirmation target in
// blocks.
func (c *Client) FeeEstimates(ctx context.Context) (map[uint16]float64,
	error) {

	var raw map[string]float64
	if err := c.getJSON(ctx, "/fee-estimates", &raw); err != nil {
		return nil, err
	}

	estimates := make(map[uint16]float64, len(raw))
	for target, rate := range raw {
		blocks, err := strconv.ParseUint(target, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parse fee target %q: %w", target,
				err)
		}

		estimates[uint16(blocks)] = rate
	}

	return estimates, nil
}
