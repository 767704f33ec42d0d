// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbtutil holds the PSBT helpers of the wallet: fee read-back, BIP174
// combining, sanity checked extraction and the mapping of psbt package
// errors into typed kinds.
package psbtutil

import (
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// InputValue returns the previous output an input spends, from the witness
// utxo or the previous transaction.
func InputValue(p *psbt.Packet, index int) (*wire.TxOut, bool) {
	if index >= len(p.Inputs) || index >= len(p.UnsignedTx.TxIn) {
		return nil, false
	}

	in := &p.Inputs[index]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo, true
	}

	if in.NonWitnessUtxo != nil {
		prev := p.UnsignedTx.TxIn[index].PreviousOutPoint
		if int(prev.Index) < len(in.NonWitnessUtxo.TxOut) {
			return in.NonWitnessUtxo.TxOut[prev.Index], true
		}
	}

	return nil, false
}

// inputTotal sums the input values, failing on the first input without a
// known value.
func inputTotal(p *psbt.Packet) (btcutil.Amount, error) {
	var sum btcutil.Amount
	for i := range p.UnsignedTx.TxIn {
		txOut, ok := InputValue(p, i)
		if !ok {
			return 0, &MissingInputValueError{Index: i}
		}

		sum += btcutil.Amount(txOut.Value)
	}

	return sum, nil
}

// outputTotal sums the output values.
func outputTotal(p *psbt.Packet) btcutil.Amount {
	var sum btcutil.Amount
	for _, out := range p.UnsignedTx.TxOut {
		sum += btcutil.Amount(out.Value)
	}

	return sum
}

// FeeAmount returns the fee the packet pays. It is None when the value of
// any input is unknown or the outputs exceed the inputs.
func FeeAmount(p *psbt.Packet) fn.Option[btcutil.Amount] {
	in, err := inputTotal(p)
	if err != nil {
		return fn.None[btcutil.Amount]()
	}

	fee := in - outputTotal(p)
	if fee < 0 {
		return fn.None[btcutil.Amount]()
	}

	return fn.Some(fee)
}

// FeeRate returns the fee divided by the vsize of the unsigned skeleton. The
// read-back stays the same once the inputs are finalized.
func FeeRate(p *psbt.Packet) fn.Option[btcunit.SatPerVByte] {
	return fn.MapOption(func(fee btcutil.Amount) btcunit.SatPerVByte {
		vsize := btcunit.TxWeight(p.UnsignedTx).VSize()
		return btcunit.NewSatPerVByte(fee, btcunit.NewVByte(vsize))
	})(FeeAmount(p))
}

// FeeRateFloat returns the fee rate in sat/vb rounded to six decimals.
func FeeRateFloat(p *psbt.Packet) fn.Option[float64] {
	return fn.MapOption(func(rate btcunit.SatPerVByte) float64 {
		return math.Round(rate.Float64()*1e6) / 1e6
	})(FeeRate(p))
}

// PrevOutputFetcher returns a txscript.PrevOutFetcher built from the UTXO
// information in a PSBT packet.
func PrevOutputFetcher(p *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range p.UnsignedTx.TxIn {
		txOut, ok := InputValue(p, idx)
		if !ok {
			continue
		}

		fetcher.AddPrevOut(txIn.PreviousOutPoint, txOut)
	}

	return fetcher
}
