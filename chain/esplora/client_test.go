package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/stretchr/testify/require"
)

var testScript = []byte{0x00, 0x14, 0x01, 0x02, 0x03}

// testTx returns a distinct transaction per lock time.
func testTx(lockTime uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: lockTime},
	})
	tx.AddTxOut(wire.NewTxOut(1000, testScript))
	tx.LockTime = lockTime

	return tx
}

// txHex serializes a transaction to hex.
func txHex(t *testing.T, tx *wire.MsgTx) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	return hex.EncodeToString(buf.Bytes())
}

// newTestClient starts a server with the handler and returns a client for
// it.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		URL:          server.URL + "/",
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	return client
}

// TestNewClientMissingURL checks a config without URL is refused.
func TestNewClientMissingURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientConfig{})
	require.ErrorIs(t, err, ErrMissingURL)
}

// TestTipHeight checks the tip is read from the height and hash endpoints.
func TestTipHeight(t *testing.T) {
	t.Parallel()

	// Arrange:
	tipHash := chainhash.Hash{0x01, 0x02}
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter,
		_ *http.Request) {

		fmt.Fprint(w, "840000")
	})
	mux.HandleFunc("/blocks/tip/hash", func(w http.ResponseWriter,
		_ *http.Request) {

		fmt.Fprint(w, tipHash.String())
	})
	client := newTestClient(t, mux)

	// Act:
	height, hash, err := client.TipHeight(context.Background())

	// Assert:
	require.NoError(t, err)
	require.Equal(t, int32(840000), height)
	require.Equal(t, tipHash, hash)
}

// TestScriptTxsPagination checks the confirmed history is followed across
// pages and each entry is paired with its status.
func TestScriptTxsPagination(t *testing.T) {
	t.Parallel()

	// Arrange: a full first page with one mempool transaction, then a
	// second page with a single confirmed transaction.
	const numTxs = chainPageSize + 2

	txs := make(map[string]*wire.MsgTx)
	var firstPage, secondPage []map[string]any
	blockHash := chainhash.Hash{0xaa}
	for i := range numTxs {
		tx := testTx(uint32(i + 1))
		txid := tx.TxHash().String()
		txs[txid] = tx

		entry := map[string]any{
			"txid": txid,
			"status": map[string]any{
				"confirmed":    true,
				"block_height": 100 + i,
				"block_hash":   blockHash.String(),
				"block_time":   1700000000 + i,
			},
		}

		switch {
		case i == 0:
			entry["status"] = map[string]any{"confirmed": false}
			firstPage = append(firstPage, entry)

		case i <= chainPageSize:
			firstPage = append(firstPage, entry)

		default:
			secondPage = append(secondPage, entry)
		}
	}

	lastFirst := firstPage[len(firstPage)-1]["txid"].(string)
	base := "/scripthash/" + ScriptHash(testScript) + "/txs"

	mux := http.NewServeMux()
	mux.HandleFunc(base, func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(firstPage))
	})
	mux.HandleFunc(base+"/chain/"+lastFirst, func(w http.ResponseWriter,
		_ *http.Request) {

		require.NoError(t, json.NewEncoder(w).Encode(secondPage))
	})
	mux.HandleFunc("/tx/", func(w http.ResponseWriter, r *http.Request) {
		txid := strings.TrimSuffix(
			strings.TrimPrefix(r.URL.Path, "/tx/"), "/hex",
		)
		tx, ok := txs[txid]
		if !ok {
			http.NotFound(w, r)
			return
		}

		fmt.Fprint(w, txHex(t, tx))
	})
	client := newTestClient(t, mux)

	// Act:
	infos, err := client.ScriptTxs(context.Background(), testScript)

	// Assert:
	require.NoError(t, err)
	require.Len(t, infos, numTxs)

	require.False(t, infos[0].IsConfirmed())
	for i, info := range infos[1:] {
		require.True(t, info.IsConfirmed())
		require.Equal(t, int32(101+i), info.Height)
		require.Equal(t, blockHash, info.BlockHash)
		require.Equal(t, int64(1700000001+i), info.BlockTime.Unix())
	}
}

// TestTxNotFound checks a 404 maps to chain.ErrTxNotFound.
func TestTxNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.NotFoundHandler())

	_, err := client.Tx(context.Background(), "00")
	require.ErrorIs(t, err, chain.ErrTxNotFound)
}

// TestBroadcast checks the posted body and the error mapping of a rejected
// transaction.
func TestBroadcast(t *testing.T) {
	t.Parallel()

	tx := testTx(7)

	testCases := []struct {
		name    string
		status  int
		errIs   error
		attempt int32
	}{
		{
			name:    "accepted",
			status:  http.StatusOK,
			attempt: 1,
		},
		{
			name:    "rejected",
			status:  http.StatusBadRequest,
			errIs:   chain.ErrBroadcastRejected,
			attempt: 1,
		},
		{
			name:    "server error retried",
			status:  http.StatusServiceUnavailable,
			errIs:   ErrUnexpectedStatus,
			attempt: DefaultMaxRetries + 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange:
			var attempts atomic.Int32
			handler := func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)

				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(t, txHex(t, tx), string(body))

				w.WriteHeader(tc.status)
				if tc.status == http.StatusOK {
					fmt.Fprint(w, tx.TxHash().String())
					return
				}
				fmt.Fprint(w, "bad-txns")
			}
			client := newTestClient(t, http.HandlerFunc(handler))

			// Act:
			txid, err := client.Broadcast(context.Background(), tx)

			// Assert:
			require.Equal(t, tc.attempt, attempts.Load())
			if tc.errIs != nil {
				require.ErrorIs(t, err, tc.errIs)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tx.TxHash(), txid)
		})
	}
}

// TestRetryRecovers checks a transient failure followed by a success
// returns the answer.
func TestRetryRecovers(t *testing.T) {
	t.Parallel()

	// Arrange:
	var attempts atomic.Int32
	handler := func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		fmt.Fprint(w, `{"1": 20.5, "6": 8.25, "144": 1.01}`)
	}
	client := newTestClient(t, http.HandlerFunc(handler))

	// Act:
	estimates, err := client.FeeEstimates(context.Background())

	// Assert:
	require.NoError(t, err)
	require.Equal(t, int32(2), attempts.Load())
	require.Equal(t, map[uint16]float64{
		1:   20.5,
		6:   8.25,
		144: 1.01,
	}, estimates)
}

// TestTxStatus checks the status endpoint is decoded.
func TestTxStatus(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tx/abcd/status", r.URL.Path)
		fmt.Fprint(w, `{"confirmed": true, "block_height": 12, `+
			`"block_hash": "00", "block_time": 99}`)
	}
	client := newTestClient(t, http.HandlerFunc(handler))

	status, err := client.TxStatus(context.Background(), "abcd")
	require.NoError(t, err)
	require.Equal(t, &TxStatus{
		Confirmed:   true,
		BlockHeight: 12,
		BlockHash:   "00",
		BlockTime:   99,
	}, status)
}
