package kvdb

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// typeRawTx is the serialized transaction.
	typeRawTx tlv.Type = 0

	// typeBlockHash is the hash of the confirming block.
	typeBlockHash tlv.Type = 2

	// typeBlockHeight is the height of the confirming block.
	typeBlockHeight tlv.Type = 4

	// typeBlockTime is the unix time of the confirming block.
	typeBlockTime tlv.Type = 6

	// typeLastSeen is the unix time the tx was last seen unconfirmed.
	typeLastSeen tlv.Type = 8
)

// txRecordFields are the decoded values of a transaction record.
type txRecordFields struct {
	rawTx     []byte
	blockHash [32]byte
	height    uint32
	blockTime uint64
	lastSeen  uint64
}

// records returns the TLV records of every field, in type order.
func (f *txRecordFields) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeRawTx, &f.rawTx),
		tlv.MakePrimitiveRecord(typeBlockHash, &f.blockHash),
		tlv.MakePrimitiveRecord(typeBlockHeight, &f.height),
		tlv.MakePrimitiveRecord(typeBlockTime, &f.blockTime),
		tlv.MakePrimitiveRecord(typeLastSeen, &f.lastSeen),
	}
}

// encodeTxRecord serializes a record as a TLV stream. The block records
// are only present for confirmed transactions.
func encodeTxRecord(rec *wtxmgr.TxRecord) ([]byte, error) {
	var rawTx bytes.Buffer
	if err := rec.MsgTx.Serialize(&rawTx); err != nil {
		return nil, err
	}

	f := &txRecordFields{
		rawTx:    rawTx.Bytes(),
		lastSeen: uint64(persist.UnixTime(rec.LastSeen)),
	}

	all := f.records()
	records := []tlv.Record{all[0]}
	rec.Block.WhenSome(func(b wtxmgr.BlockMeta) {
		f.blockHash = b.Hash
		f.height = uint32(b.Height)
		f.blockTime = uint64(persist.UnixTime(b.Time))
		records = append(records, all[1], all[2], all[3])
	})
	records = append(records, all[4])

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeTxRecord is the inverse of encodeTxRecord.
func decodeTxRecord(v []byte) (*wtxmgr.TxRecord, error) {
	f := &txRecordFields{}
	stream, err := tlv.NewStream(f.records()...)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		return nil, corrupt("tx record", err)
	}

	if _, ok := parsed[typeRawTx]; !ok {
		return nil, corrupt("tx record without tx", nil)
	}

	msgTx := &wire.MsgTx{}
	if err := msgTx.Deserialize(bytes.NewReader(f.rawTx)); err != nil {
		return nil, corrupt("raw tx", err)
	}

	rec := wtxmgr.NewTxRecord(
		msgTx, persist.FromUnixTime(int64(f.lastSeen)),
	)
	if _, ok := parsed[typeBlockHash]; ok {
		rec.Block = fn.Some(wtxmgr.BlockMeta{
			Block: wtxmgr.Block{
				Hash:   chainhash.Hash(f.blockHash),
				Height: int32(f.height),
			},
			Time: persist.FromUnixTime(int64(f.blockTime)),
		})
	}

	return rec, nil
}

// encodeBlock serializes a block as a TLV stream.
func encodeBlock(b wtxmgr.Block) ([]byte, error) {
	hash := [32]byte(b.Hash)
	height := uint32(b.Height)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeBlockHash, &hash),
		tlv.MakePrimitiveRecord(typeBlockHeight, &height),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeBlock is the inverse of encodeBlock.
func decodeBlock(v []byte) (wtxmgr.Block, error) {
	var (
		hash   [32]byte
		height uint32
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeBlockHash, &hash),
		tlv.MakePrimitiveRecord(typeBlockHeight, &height),
	)
	if err != nil {
		return wtxmgr.Block{}, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		return wtxmgr.Block{}, corrupt("block", err)
	}

	if _, ok := parsed[typeBlockHash]; !ok {
		return wtxmgr.Block{}, corrupt("block without hash", nil)
	}

	return wtxmgr.Block{
		Hash:   chainhash.Hash(hash),
		Height: int32(height),
	}, nil
}
