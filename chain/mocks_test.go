package chain

import (
	"context"
	"encoding/json"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

var (
	_ Source     = (*mockSource)(nil)
	_ rpcBackend = (*mockRPCBackend)(nil)
)

// mockSource is a mock implementation of the Source interface.
type mockSource struct {
	mock.Mock
}

func (m *mockSource) TipHeight(ctx context.Context) (int32, chainhash.Hash,
	error) {

	args := m.Called(ctx)
	return args.Get(0).(int32), args.Get(1).(chainhash.Hash), args.Error(2)
}

func (m *mockSource) ScriptTxs(ctx context.Context,
	pkScript []byte) ([]TxInfo, error) {

	args := m.Called(ctx, pkScript)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]TxInfo), args.Error(1)
}

func (m *mockSource) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	args := m.Called(ctx, tx)
	return args.Get(0).(chainhash.Hash), args.Error(1)
}

// mockRPCBackend is a mock implementation of the rpcBackend interface.
type mockRPCBackend struct {
	mock.Mock
}

func (m *mockRPCBackend) GetBlockCount() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRPCBackend) GetBlockHash(height int64) (*chainhash.Hash,
	error) {

	args := m.Called(height)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

func (m *mockRPCBackend) GetRawTransactionVerbose(
	txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {

	args := m.Called(txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcjson.TxRawResult), args.Error(1)
}

func (m *mockRPCBackend) SendRawTransaction(tx *wire.MsgTx,
	allowHighFees bool) (*chainhash.Hash, error) {

	args := m.Called(tx, allowHighFees)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

func (m *mockRPCBackend) RawRequest(method string,
	params []json.RawMessage) (json.RawMessage, error) {

	args := m.Called(method, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *mockRPCBackend) Shutdown() {
	m.Called()
}
