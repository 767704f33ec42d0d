// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtutil

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

var (
	// ErrNoPsbtsToCombine is returned when Combine is called without
	// packets.
	ErrNoPsbtsToCombine = errors.New("no psbts to combine")

	// ErrUnexpectedUnsignedTx is returned when combining packets of
	// different transactions.
	ErrUnexpectedUnsignedTx = errors.New("psbts have different unsigned " +
		"transactions")

	// ErrInputCountMismatch is returned when a packet has a different
	// number of input maps than its transaction has inputs.
	ErrInputCountMismatch = errors.New("psbt input count mismatch")

	// ErrOutputCountMismatch is returned when a packet has a different
	// number of output maps than its transaction has outputs.
	ErrOutputCountMismatch = errors.New("psbt output count mismatch")

	// ErrWitnessUtxoMismatch is returned when two packets disagree on the
	// witness utxo of an input.
	ErrWitnessUtxoMismatch = errors.New("witness utxo mismatch")

	// ErrNonWitnessUtxoMismatch is returned when two packets disagree on
	// the previous transaction of an input.
	ErrNonWitnessUtxoMismatch = errors.New("non-witness utxo mismatch")

	// ErrRedeemScriptMismatch is returned when two packets disagree on a
	// redeem script.
	ErrRedeemScriptMismatch = errors.New("redeem script mismatch")

	// ErrWitnessScriptMismatch is returned when two packets disagree on a
	// witness script.
	ErrWitnessScriptMismatch = errors.New("witness script mismatch")
)

// MissingInputValueError is returned when the value an input spends is
// unknown.
type MissingInputValueError struct {
	// Index is the input without a previous output.
	Index int
}

// Error returns a human readable description of the error.
func (e *MissingInputValueError) Error() string {
	return fmt.Sprintf("input %d has no previous output value", e.Index)
}

// SendingTooMuchError is returned when the outputs are worth more than the
// inputs.
type SendingTooMuchError struct {
	// Inputs is the value of the inputs.
	Inputs btcutil.Amount

	// Outputs is the value of the outputs.
	Outputs btcutil.Amount
}

// Error returns a human readable description of the error.
func (e *SendingTooMuchError) Error() string {
	return fmt.Sprintf("outputs (%v) exceed inputs (%v)", e.Outputs,
		e.Inputs)
}

// AbsurdFeeRateError is returned when a transaction pays more than the fee
// rate ceiling.
type AbsurdFeeRateError struct {
	// FeeRate is the rate the transaction pays.
	FeeRate btcunit.SatPerVByte
}

// Error returns a human readable description of the error.
func (e *AbsurdFeeRateError) Error() string {
	return fmt.Sprintf("absurd fee rate %v, maximum is %v", e.FeeRate,
		MaxFeeRate)
}

// ErrorKind classifies PSBT errors.
type ErrorKind uint8

const (
	// KindOther is any error not covered by another kind.
	KindOther ErrorKind = iota

	// KindInvalidMagic is a serialization without the psbt magic.
	KindInvalidMagic

	// KindInvalidFormat is a malformed serialization.
	KindInvalidFormat

	// KindDuplicateKey is a key repeated within a map.
	KindDuplicateKey

	// KindInvalidKeyData is a key with invalid data.
	KindInvalidKeyData

	// KindInvalidPrevOut is a non-witness utxo that doesn't match the
	// outpoint.
	KindInvalidPrevOut

	// KindInvalidSignature is a signature that doesn't belong to the
	// input.
	KindInvalidSignature

	// KindAlreadyFinalized is a change to a finalized input.
	KindAlreadyFinalized

	// KindIncomplete is an extraction of an unfinalized packet.
	KindIncomplete

	// KindNotFinalizable is an input without enough data to finalize.
	KindNotFinalizable

	// KindInvalidSighash is a signature with an unexpected sighash.
	KindInvalidSighash

	// KindUnsupportedScript is a script the finalizer can't handle.
	KindUnsupportedScript
)

// String returns the name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidMagic:
		return "invalid magic"

	case KindInvalidFormat:
		return "invalid format"

	case KindDuplicateKey:
		return "duplicate key"

	case KindInvalidKeyData:
		return "invalid key data"

	case KindInvalidPrevOut:
		return "invalid prevout"

	case KindInvalidSignature:
		return "invalid signature"

	case KindAlreadyFinalized:
		return "already finalized"

	case KindIncomplete:
		return "incomplete"

	case KindNotFinalizable:
		return "not finalizable"

	case KindInvalidSighash:
		return "invalid sighash"

	case KindUnsupportedScript:
		return "unsupported script"

	default:
		return "other"
	}
}

// Error is a PSBT error of a known kind wrapping the error it was mapped
// from.
type Error struct {
	// Kind classifies the error.
	Kind ErrorKind

	// Err is the underlying error.
	Err error
}

// Error returns a human readable description of the error.
func (e *Error) Error() string {
	return fmt.Sprintf("psbt %v: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// errorKinds maps the psbt package sentinels to their kinds.
var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{psbt.ErrInvalidMagicBytes, KindInvalidMagic},
	{psbt.ErrInvalidPsbtFormat, KindInvalidFormat},
	{psbt.ErrInvalidRawTxSigned, KindInvalidFormat},
	{psbt.ErrDuplicateKey, KindDuplicateKey},
	{psbt.ErrInvalidKeyData, KindInvalidKeyData},
	{psbt.ErrInvalidPrevOutNonWitnessTransaction, KindInvalidPrevOut},
	{psbt.ErrInvalidSignatureForInput, KindInvalidSignature},
	{psbt.ErrInputAlreadyFinalized, KindAlreadyFinalized},
	{psbt.ErrIncompletePSBT, KindIncomplete},
	{psbt.ErrNotFinalizable, KindNotFinalizable},
	{psbt.ErrInvalidSigHashFlags, KindInvalidSighash},
	{psbt.ErrUnsupportedScriptType, KindUnsupportedScript},
}

// MapError classifies an error returned by the psbt package. Errors that
// match no known sentinel get KindOther. Errors already mapped and nil are
// returned as is.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var mapped *Error
	if errors.As(err, &mapped) {
		return err
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return &Error{Kind: k.kind, Err: err}
		}
	}

	return &Error{Kind: KindOther, Err: err}
}

// KindOf returns the kind of a mapped error, KindOther otherwise.
func KindOf(err error) ErrorKind {
	var mapped *Error
	if errors.As(err, &mapped) {
		return mapped.Kind
	}

	return KindOther
}
