package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
)

// baseUnit stores the canonical representation of a transaction size, which is
// weight units (wu). All other size units are derived from this.
type baseUnit struct {
	wu uint64
}

// ToWU converts the unit to a WeightUnit.
func (b baseUnit) ToWU() WeightUnit {
	return WeightUnit{b}
}

// ToVB converts the unit to a VByte.
func (b baseUnit) ToVB() VByte {
	return VByte{b}
}

// ToKVB converts the unit to a KVByte.
func (b baseUnit) ToKVB() KVByte {
	return KVByte{b}
}

// WeightUnit defines a unit to express the transaction size. One weight unit
// is 1/4_000_000 of the max block size. The tx weight is calculated using
// `Base tx size * 3 + Total tx size`.
//   - Base tx size is size of the transaction serialized without the witness
//     data.
//   - Total tx size is the transaction size in bytes serialized according
//     #BIP144.
type WeightUnit struct {
	// The internal size is recorded in weight units.
	baseUnit
}

// NewWeightUnit creates a new WeightUnit from a uint64 value.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit{baseUnit{wu: val}}
}

// TxWeight returns the weight of the transaction as it is currently
// serialized, witness data included.
func TxWeight(tx *wire.MsgTx) WeightUnit {
	base := uint64(tx.SerializeSizeStripped())
	total := uint64(tx.SerializeSize())

	return NewWeightUnit(base*(blockchain.WitnessScaleFactor-1) + total)
}

// Uint64 returns the raw weight.
func (w WeightUnit) Uint64() uint64 {
	return w.wu
}

// Add returns the sum of both weights.
func (w WeightUnit) Add(other WeightUnit) WeightUnit {
	return NewWeightUnit(w.wu + other.wu)
}

// Sub returns w - other, floored at zero.
func (w WeightUnit) Sub(other WeightUnit) WeightUnit {
	if other.wu > w.wu {
		return NewWeightUnit(0)
	}

	return NewWeightUnit(w.wu - other.wu)
}

// VSize returns the virtual size in whole vbytes, rounded up.
func (w WeightUnit) VSize() uint64 {
	return (w.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor
}

// String returns the string representation of the weight unit.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte defines a unit to express the transaction size. One virtual byte is
// 1/4th of a weight unit. The tx virtual bytes is calculated using `TxWeight /
// 4`.
type VByte struct {
	// The internal size is recorded in weight units.
	baseUnit
}

// NewVByte creates a new VByte from a uint64 value.
func NewVByte(val uint64) VByte {
	return VByte{baseUnit{wu: val * blockchain.WitnessScaleFactor}}
}

// String returns the string representation of the virtual byte.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", v.ToWU().VSize())
}

// KVByte defines a unit to express the transaction size in kilo-virtual-bytes.
// Relay policy amounts (e.g. the dust relay fee) are quoted per KVByte.
type KVByte struct {
	// The internal size is recorded in weight units.
	baseUnit
}

// NewKVByte creates a new KVByte from a uint64.
func NewKVByte(val uint64) KVByte {
	return KVByte{baseUnit{wu: val * kilo * blockchain.WitnessScaleFactor}}
}

// String returns the string representation of the kilo-virtual-byte.
func (k KVByte) String() string {
	return fmt.Sprintf("%d kvb", k.ToWU().VSize()/kilo)
}
