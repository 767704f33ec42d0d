// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin units.
package btcunit

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string. We use 3 decimal places to ensure
	// that low fee rates (e.g., 1 sat/kvb = 0.001 sat/vbyte) are displayed
	// with sufficient precision and not rounded to zero.
	floatStringPrecision = 3
)

var (
	// ErrInvalidFeeRate is returned when a fee rate string can't be parsed
	// or is negative.
	ErrInvalidFeeRate = errors.New("invalid fee rate")

	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = NewSatPerVByte(0, NewVByte(1))

	// ZeroSatPerKWeight is a fee rate of 0 sat/kw.
	ZeroSatPerKWeight = NewSatPerKWeight(0, NewWeightUnit(kilo))

	// BroadcastMinFeeRate is the minimum rate most nodes relay at,
	// 1 sat/vb. Transactions built without an explicit rate use it.
	BroadcastMinFeeRate = NewSatPerVByte(1, NewVByte(1)).ToSatPerKWeight()
)

// baseFeeRate stores the canonical representation of a fee rate, which is
// satoshis per kilo-weight-unit (sat/kwu). All other fee rate units are
// derived from this.
type baseFeeRate struct {
	// satsPerKWU is the fee rate in satoshis per kilo-weight-unit. A nil
	// value is treated as zero so the zero value of every rate type is
	// usable.
	satsPerKWU *big.Rat
}

// newBaseFeeRate creates a new baseFeeRate from a fee paid for the given
// weight. A zero weight yields a zero fee rate.
func newBaseFeeRate(fee btcutil.Amount, weight uint64) baseFeeRate {
	if weight == 0 {
		return baseFeeRate{satsPerKWU: big.NewRat(0, 1)}
	}

	return baseFeeRate{satsPerKWU: big.NewRat(
		int64(fee)*kilo, safeUint64ToInt64(weight),
	)}
}

// rat returns the canonical rate, never nil.
func (f baseFeeRate) rat() *big.Rat {
	if f.satsPerKWU == nil {
		return big.NewRat(0, 1)
	}

	return f.satsPerKWU
}

// ToSatPerVByte converts the fee rate to sat/vb.
func (f baseFeeRate) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{f}
}

// ToSatPerKWeight converts the fee rate to sat/kw.
func (f baseFeeRate) ToSatPerKWeight() SatPerKWeight {
	return SatPerKWeight{f}
}

// IsZero reports whether the rate is zero.
func (f baseFeeRate) IsZero() bool {
	return f.rat().Sign() == 0
}

// feeFor returns the exact rational fee for the given weight.
func (f baseFeeRate) feeFor(weightUnit WeightUnit) *big.Rat {
	fee := new(big.Rat)
	return fee.Mul(f.rat(), big.NewRat(
		safeUint64ToInt64(weightUnit.wu), kilo,
	))
}

// FeeForWeight calculates the fee resulting from this fee rate and the given
// weight in weight units (wu). The result is rounded down.
func (f baseFeeRate) FeeForWeight(weightUnit WeightUnit) btcutil.Amount {
	fee := f.feeFor(weightUnit)

	quotient := new(big.Int)
	quotient.Quo(fee.Num(), fee.Denom())

	return btcutil.Amount(quotient.Int64())
}

// FeeForWeightRoundUp calculates the fee resulting from this fee rate and the
// given weight in weight units (wu), rounding up to the nearest satoshi. This
// is the rounding used everywhere a fee is committed to a transaction.
func (f baseFeeRate) FeeForWeightRoundUp(weightUnit WeightUnit) btcutil.Amount {
	fee := f.feeFor(weightUnit)

	// (numerator + denominator - 1) / denominator.
	result := new(big.Int).Add(fee.Num(), fee.Denom())
	result.Sub(result, big.NewInt(1))
	result.Quo(result, fee.Denom())

	return btcutil.Amount(result.Int64())
}

// FeeForVByte calculates the fee resulting from this fee rate and the given
// size in vbytes (vb).
func (f baseFeeRate) FeeForVByte(vb VByte) btcutil.Amount {
	return f.FeeForWeightRoundUp(vb.ToWU())
}

// cmp compares two canonical rates.
func (f baseFeeRate) cmp(other baseFeeRate) int {
	return f.rat().Cmp(other.rat())
}

// SatPerVByte represents a fee rate in sat/vbyte. Internally, all fee rates
// are stored and operated on as satoshis per kilo-weight-unit (sat/kw).
type SatPerVByte struct {
	baseFeeRate
}

// NewSatPerVByte creates the fee rate of paying fee for vb vbytes.
func NewSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	return SatPerVByte{newBaseFeeRate(fee, vb.wu)}
}

// ParseSatPerVByte parses a decimal sat/vb value such as "2" or "2.5".
func ParseSatPerVByte(s string) (SatPerVByte, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok || r.Sign() < 0 {
		return SatPerVByte{}, fmt.Errorf("%w: %q", ErrInvalidFeeRate, s)
	}

	// sat/vb * 1000 / 4 = sat/kwu.
	r.Mul(r, big.NewRat(kilo, blockchain.WitnessScaleFactor))

	return SatPerVByte{baseFeeRate{satsPerKWU: r}}, nil
}

// Float64 returns the rate in sat/vb as a float. It is meant for display
// only.
func (s SatPerVByte) Float64() float64 {
	vb := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)
	f, _ := vb.Float64()

	return f
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	kwToVbRate := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	return kwToVbRate.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) < 0
}

// SatPerKWeight represents a fee rate in sat/kw. This is the unit the coin
// selection and the transaction builder operate on.
type SatPerKWeight struct {
	baseFeeRate
}

// NewSatPerKWeight creates the fee rate of paying fee for the given weight.
func NewSatPerKWeight(fee btcutil.Amount, wu WeightUnit) SatPerKWeight {
	return SatPerKWeight{newBaseFeeRate(fee, wu.wu)}
}

// String returns a human-readable string of the fee rate.
func (s SatPerKWeight) String() string {
	return s.rat().FloatString(floatStringPrecision) + " sat/kw"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKWeight) Equal(other SatPerKWeight) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerKWeight) GreaterThan(other SatPerKWeight) bool {
	return s.cmp(other.baseFeeRate) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKWeight) LessThan(other SatPerKWeight) bool {
	return s.cmp(other.baseFeeRate) < 0
}

// LessThanOrEqual returns true if the fee rate is less than or equal to the
// other fee rate.
func (s SatPerKWeight) LessThanOrEqual(other SatPerKWeight) bool {
	return s.cmp(other.baseFeeRate) <= 0
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
// In practice, the values being converted are transaction weights or sizes,
// which are limited by consensus rules and are not expected to overflow an
// int64.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		slog.Warn("Capping uint64 value to math.MaxInt64",
			slog.Uint64("old", u), slog.Int64("new", math.MaxInt64))

		return math.MaxInt64
	}

	return int64(u)
}
