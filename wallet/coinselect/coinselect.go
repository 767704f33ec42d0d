// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinselect picks the inputs of a transaction. All algorithms share
// the same fee model: the fee is the rate applied to the weight of the whole
// transaction, rounded up, and any excess either becomes a change output or
// is left to the miner when it would be dust.
package coinselect

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// TxInBaseWeight is the weight of an input without its signature
	// data: the outpoint, the sequence and the scriptSig length byte.
	TxInBaseWeight = (32 + 4 + 4 + 1) * blockchain.WitnessScaleFactor

	// SegwitMarkerWeight is the weight of the segwit marker and flag.
	SegwitMarkerWeight = 2
)

var (
	// ErrInsufficientFunds is the family of InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMissingPrevOut is returned when a foreign utxo carries no
	// previous output.
	ErrMissingPrevOut = errors.New("foreign utxo without previous output")
)

// InsufficientFundsError is returned when the candidates can't cover the
// target and its fee.
type InsufficientFundsError struct {
	// Needed is the target plus the fee of the last attempted selection.
	Needed btcutil.Amount

	// Available is the value of all candidates.
	Available btcutil.Amount
}

// Error returns a human readable description of the error.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: needed %v, available %v", ErrInsufficientFunds,
		e.Needed, e.Available)
}

// Unwrap returns the error family.
func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Utxo is an output that can be spent by the transaction being built.
type Utxo interface {
	// OutPoint locates the output.
	OutPoint() wire.OutPoint

	// TxOut returns the output, nil when unknown.
	TxOut() *wire.TxOut
}

// LocalUtxo is an output of the wallet.
type LocalUtxo struct {
	wtxmgr.LocalOutput
}

// OutPoint locates the output.
func (l *LocalUtxo) OutPoint() wire.OutPoint {
	return l.LocalOutput.OutPoint
}

// TxOut returns the output.
func (l *LocalUtxo) TxOut() *wire.TxOut {
	return l.LocalOutput.TxOut
}

// ForeignUtxo is an output the wallet doesn't own. Its previous output
// comes from the PSBT input supplied with it.
type ForeignUtxo struct {
	// Point locates the output.
	Point wire.OutPoint

	// PsbtInput carries the previous output and signing data.
	PsbtInput *psbt.PInput

	// Sequence overrides the nSequence of the input.
	Sequence fn.Option[uint32]
}

// OutPoint locates the output.
func (f *ForeignUtxo) OutPoint() wire.OutPoint {
	return f.Point
}

// TxOut returns the previous output from the witness utxo, or the
// non-witness transaction.
func (f *ForeignUtxo) TxOut() *wire.TxOut {
	if f.PsbtInput == nil {
		return nil
	}

	if f.PsbtInput.WitnessUtxo != nil {
		return f.PsbtInput.WitnessUtxo
	}

	prevTx := f.PsbtInput.NonWitnessUtxo
	if prevTx == nil || int(f.Point.Index) >= len(prevTx.TxOut) {
		return nil
	}

	return prevTx.TxOut[f.Point.Index]
}

// WeightedUtxo is a candidate with the weight it adds once satisfied.
type WeightedUtxo struct {
	// Utxo is the candidate.
	Utxo Utxo

	// SatisfactionWeight is the weight of the scriptSig and witness
	// that spend the output.
	SatisfactionWeight int64

	// Witness is set when the spend carries witness data.
	Witness bool
}

// Value returns the value of the candidate, 0 when unknown.
func (w *WeightedUtxo) Value() btcutil.Amount {
	txOut := w.Utxo.TxOut()
	if txOut == nil {
		return 0
	}

	return btcutil.Amount(txOut.Value)
}

// Weight returns the weight the candidate adds to a transaction.
func (w *WeightedUtxo) Weight() int64 {
	return TxInBaseWeight + w.SatisfactionWeight
}

// Target describes what the selection has to pay for.
type Target struct {
	// Value is the sum of the recipient outputs.
	Value btcutil.Amount

	// BaseWeight is the weight of the transaction with its recipient
	// outputs and no inputs.
	BaseWeight int64

	// NumOutputs is the number of recipient outputs.
	NumOutputs int

	// AbsoluteFee replaces the rate based fee when set.
	AbsoluteFee fn.Option[btcutil.Amount]
}

// Weight returns the weight of the transaction spending selected, with a
// change output paying to drainScript when it is non nil.
func (t *Target) Weight(selected []WeightedUtxo, drainScript []byte) int64 {
	weight := t.BaseWeight

	witness := false
	for i := range selected {
		weight += selected[i].Weight()
		witness = witness || selected[i].Witness
	}

	// The base weight counts a one byte input count.
	weight += int64(wire.VarIntSerializeSize(uint64(len(selected)))-1) *
		blockchain.WitnessScaleFactor

	if witness {
		weight += SegwitMarkerWeight
	}

	if drainScript != nil {
		weight += OutputWeight(drainScript)
		weight += int64(
			wire.VarIntSerializeSize(uint64(t.NumOutputs+1))-
				wire.VarIntSerializeSize(uint64(t.NumOutputs)),
		) * blockchain.WitnessScaleFactor
	}

	return weight
}

// Fee returns the fee of the transaction spending selected.
func (t *Target) Fee(feeRate btcunit.SatPerKWeight, selected []WeightedUtxo,
	drainScript []byte) btcutil.Amount {

	if t.AbsoluteFee.IsSome() {
		return t.AbsoluteFee.UnwrapOr(0)
	}

	weight := btcunit.NewWeightUnit(
		uint64(t.Weight(selected, drainScript)),
	)

	return feeRate.FeeForWeightRoundUp(weight)
}

// OutputWeight returns the weight of an output paying to pkScript.
func OutputWeight(pkScript []byte) int64 {
	size := 8 + wire.VarIntSerializeSize(uint64(len(pkScript))) +
		len(pkScript)

	return int64(size) * blockchain.WitnessScaleFactor
}

// Excess is what is left after paying the target and the fee. It is either
// Change or NoChange.
type Excess interface {
	isExcess()
}

// Change is an excess large enough for a change output.
type Change struct {
	// Amount is the value of the change output.
	Amount btcutil.Amount

	// Fee is the fee the change output adds.
	Fee btcutil.Amount
}

// NoChange is an excess too small for a change output. Remaining goes to
// the miner.
type NoChange struct {
	// DustThreshold is the dust limit of the change script.
	DustThreshold btcutil.Amount

	// Remaining is the value left over after the fee.
	Remaining btcutil.Amount

	// ChangeFee is the fee a change output would have added.
	ChangeFee btcutil.Amount
}

func (Change) isExcess()   {}
func (NoChange) isExcess() {}

// Result is the outcome of a selection.
type Result struct {
	// Selected holds the required candidates followed by the picked
	// optional ones.
	Selected []WeightedUtxo

	// Fee is the fee of the transaction without a change output.
	Fee btcutil.Amount

	// Excess is what happens to the value left over.
	Excess Excess
}

// SelectedAmount returns the value of the selected inputs.
func (r *Result) SelectedAmount() btcutil.Amount {
	return total(r.Selected)
}

// TotalFee returns the fee including the change output, if any.
func (r *Result) TotalFee() btcutil.Amount {
	if change, ok := r.Excess.(Change); ok {
		return r.Fee + change.Fee
	}

	if noChange, ok := r.Excess.(NoChange); ok {
		return r.Fee + noChange.Remaining
	}

	return r.Fee
}

// Algorithm selects inputs among candidates.
type Algorithm interface {
	// Select picks inputs out of optional to complement required so
	// they pay for target at feeRate. drainScript is where change goes.
	Select(required, optional []WeightedUtxo, feeRate btcunit.SatPerKWeight,
		target Target, drainScript []byte) (*Result, error)
}

// total sums the values of utxos.
func total(utxos []WeightedUtxo) btcutil.Amount {
	var sum btcutil.Amount
	for i := range utxos {
		sum += utxos[i].Value()
	}

	return sum
}

// decideChange computes the fee and excess of a final selection. The
// selection must cover the target and its fee.
func decideChange(selected []WeightedUtxo, feeRate btcunit.SatPerKWeight,
	target Target, drainScript []byte) *Result {

	fee := target.Fee(feeRate, selected, nil)
	remaining := total(selected) - target.Value - fee

	dust := DustThreshold(drainScript)

	var changeFee btcutil.Amount
	if drainScript != nil && target.AbsoluteFee.IsNone() {
		changeFee = target.Fee(feeRate, selected, drainScript) - fee
	}

	result := &Result{Selected: selected, Fee: fee}

	amount := remaining - changeFee
	if drainScript == nil || amount <= dust {
		log.Debugf("Excess %v absorbed into the fee (dust limit %v)",
			remaining, dust)

		result.Excess = NoChange{
			DustThreshold: dust,
			Remaining:     remaining,
			ChangeFee:     changeFee,
		}

		return result
	}

	result.Excess = Change{Amount: amount, Fee: changeFee}

	return result
}

// selectInOrder keeps required and adds the candidates of ordered one by
// one until the target and the fee of the inputs so far are covered.
func selectInOrder(required, ordered []WeightedUtxo,
	feeRate btcunit.SatPerKWeight, target Target,
	drainScript []byte) (*Result, error) {

	selected := make([]WeightedUtxo, 0, len(required)+len(ordered))
	selected = append(selected, required...)

	sum := total(selected)
	for next := 0; ; next++ {
		needed := target.Value + target.Fee(feeRate, selected, nil)
		if sum >= needed {
			break
		}

		if next == len(ordered) {
			return nil, &InsufficientFundsError{
				Needed:    needed,
				Available: total(required) + total(ordered),
			}
		}

		selected = append(selected, ordered[next])
		sum += ordered[next].Value()
	}

	return decideChange(selected, feeRate, target, drainScript), nil
}

// effectiveValue is the value of a candidate minus the fee it adds.
func effectiveValue(u *WeightedUtxo, feeRate btcunit.SatPerKWeight,
	target Target) btcutil.Amount {

	if target.AbsoluteFee.IsSome() {
		return u.Value()
	}

	weight := btcunit.NewWeightUnit(uint64(u.Weight()))

	return u.Value() - feeRate.FeeForWeightRoundUp(weight)
}
