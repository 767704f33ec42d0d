// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

var (
	// ErrNetworkMismatch is returned when a stored wallet belongs to a
	// different network than the one it is loaded for.
	ErrNetworkMismatch = errors.New("wallet network mismatch")

	// ErrDescriptorMismatch is returned when a stored wallet was created
	// with different descriptors than the ones it is loaded with.
	ErrDescriptorMismatch = errors.New("wallet descriptor mismatch")

	// ErrDescriptorCollision is returned when the external and internal
	// descriptors derive the same scripts.
	ErrDescriptorCollision = errors.New("external and internal " +
		"descriptors derive the same scripts")

	// ErrMissingDescriptor is returned when neither the caller nor the
	// store provides the external descriptor.
	ErrMissingDescriptor = errors.New("missing external descriptor")

	// ErrWalletNotFound is returned when loading from an empty store.
	ErrWalletNotFound = errors.New("no wallet in store")

	// ErrNoRecipients is returned when a transaction pays nobody.
	ErrNoRecipients = errors.New("transaction has no recipients")

	// ErrVersion0 is returned for a transaction version of zero.
	ErrVersion0 = errors.New("transaction version 0 is invalid")

	// ErrVersion1Csv is returned when a relative timelock is needed but
	// the transaction version is 1.
	ErrVersion1Csv = errors.New("transaction version 1 can't use " +
		"relative timelocks")

	// ErrChangePolicyDescriptor is returned when a change policy is set on
	// a wallet without an internal descriptor.
	ErrChangePolicyDescriptor = errors.New("change policy needs an " +
		"internal descriptor")

	// ErrSpendingPolicyRequired is the family of
	// SpendingPolicyRequiredError.
	ErrSpendingPolicyRequired = errors.New("spending policy path required")

	// ErrLockTime is the family of LockTimeError.
	ErrLockTime = errors.New("invalid locktime")

	// ErrRbfSequence is returned when an explicit RBF sequence doesn't
	// signal replaceability.
	ErrRbfSequence = errors.New("sequence doesn't signal rbf")

	// ErrRbfSequenceCsv is the family of RbfSequenceCsvError.
	ErrRbfSequenceCsv = errors.New("rbf sequence incompatible with csv")

	// ErrOutputBelowDust is the family of OutputBelowDustError.
	ErrOutputBelowDust = errors.New("output below dust limit")

	// ErrUnknownUtxo is the family of UnknownUtxoError.
	ErrUnknownUtxo = errors.New("unknown utxo")

	// ErrNoUtxosSelected is returned when the transaction ends up without
	// inputs.
	ErrNoUtxosSelected = errors.New("no utxos selected")

	// ErrMissingUtxo is returned when a foreign utxo carries neither a
	// witness nor a non-witness previous output.
	ErrMissingUtxo = errors.New("foreign utxo without previous output")

	// ErrInvalidTxid is the family of InvalidTxidError.
	ErrInvalidTxid = errors.New("foreign utxo txid mismatch")

	// ErrInvalidOutpoint is the family of InvalidOutpointError.
	ErrInvalidOutpoint = errors.New("foreign utxo outpoint out of range")

	// ErrMissingNonWitnessUtxo is the family of
	// MissingNonWitnessUtxoError.
	ErrMissingNonWitnessUtxo = errors.New("missing non-witness utxo")

	// ErrDataTooLarge is returned when an OP_RETURN payload is larger than
	// the standard limit.
	ErrDataTooLarge = errors.New("op_return data too large")

	// ErrTransactionNotFound is the family of TransactionNotFoundError.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionConfirmed is returned when bumping a confirmed
	// transaction.
	ErrTransactionConfirmed = errors.New("transaction already confirmed")

	// ErrIrreplaceableTransaction is returned when bumping a transaction
	// that doesn't signal RBF.
	ErrIrreplaceableTransaction = errors.New("transaction doesn't " +
		"signal rbf")

	// ErrFeeRateTooLow is the family of FeeRateTooLowError.
	ErrFeeRateTooLow = errors.New("fee rate too low")

	// ErrFeeTooLow is the family of FeeTooLowError.
	ErrFeeTooLow = errors.New("fee too low")

	// ErrShrinkOutputMissing is returned when the output to shrink isn't
	// part of the bumped transaction.
	ErrShrinkOutputMissing = errors.New("output to shrink not found")

	// ErrMissingTxOut is the family of MissingTxOutError.
	ErrMissingTxOut = errors.New("missing previous outputs")

	// ErrNegativeFee is returned when a transaction pays out more than it
	// spends.
	ErrNegativeFee = errors.New("negative fee")

	// ErrNonStandardSighash is returned when an input asks for a sighash
	// type the sign options don't allow.
	ErrNonStandardSighash = errors.New("non-standard sighash type")

	// ErrMissingPrevOut is returned by the signer when an input carries
	// no previous output.
	ErrMissingPrevOut = errors.New("input without previous output")

	// ErrInputIndexOutOfRange is returned when sign options name an input
	// the packet doesn't have.
	ErrInputIndexOutOfRange = errors.New("input index out of range")

	// ErrFeeRateTooLarge is returned when a transaction would pay more
	// than the configured maximum fee rate.
	ErrFeeRateTooLarge = errors.New("fee rate too large")

	// ErrUnknownScript is returned when a script isn't derived from the
	// wallet descriptors.
	ErrUnknownScript = errors.New("script not owned by the wallet")
)

// SpendingPolicyRequiredError is returned when a keychain's policy needs an
// explicit path and none was given.
type SpendingPolicyRequiredError struct {
	// Keychain is the keychain whose policy needs a path.
	Keychain descriptor.KeychainKind
}

// Error returns a human readable description of the error.
func (e *SpendingPolicyRequiredError) Error() string {
	return fmt.Sprintf("%v for %v keychain", ErrSpendingPolicyRequired,
		e.Keychain)
}

// Unwrap returns the error family.
func (e *SpendingPolicyRequiredError) Unwrap() error {
	return ErrSpendingPolicyRequired
}

// LockTimeError is returned when the requested locktime doesn't satisfy the
// policy.
type LockTimeError struct {
	// Requested is the locktime asked for.
	Requested uint32

	// Required is the locktime the policy needs.
	Required uint32
}

// Error returns a human readable description of the error.
func (e *LockTimeError) Error() string {
	return fmt.Sprintf("%v: requested %d, required %d", ErrLockTime,
		e.Requested, e.Required)
}

// Unwrap returns the error family.
func (e *LockTimeError) Unwrap() error {
	return ErrLockTime
}

// RbfSequenceCsvError is returned when the RBF sequence doesn't satisfy the
// relative timelock of the policy.
type RbfSequenceCsvError struct {
	// Rbf is the requested sequence.
	Rbf uint32

	// Csv is the sequence the policy needs.
	Csv uint32
}

// Error returns a human readable description of the error.
func (e *RbfSequenceCsvError) Error() string {
	return fmt.Sprintf("%v: rbf %#x, csv %#x", ErrRbfSequenceCsv, e.Rbf,
		e.Csv)
}

// Unwrap returns the error family.
func (e *RbfSequenceCsvError) Unwrap() error {
	return ErrRbfSequenceCsv
}

// OutputBelowDustError is returned for a recipient output below its dust
// limit.
type OutputBelowDustError struct {
	// Index is the position of the recipient.
	Index int
}

// Error returns a human readable description of the error.
func (e *OutputBelowDustError) Error() string {
	return fmt.Sprintf("%v: recipient %d", ErrOutputBelowDust, e.Index)
}

// Unwrap returns the error family.
func (e *OutputBelowDustError) Unwrap() error {
	return ErrOutputBelowDust
}

// UnknownUtxoError is returned when an outpoint isn't a spendable wallet
// output.
type UnknownUtxoError struct {
	// OutPoint is the unknown output.
	OutPoint wire.OutPoint
}

// Error returns a human readable description of the error.
func (e *UnknownUtxoError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUnknownUtxo, e.OutPoint)
}

// Unwrap returns the error family.
func (e *UnknownUtxoError) Unwrap() error {
	return ErrUnknownUtxo
}

// InvalidTxidError is returned when the previous transaction of a foreign
// utxo isn't the one its outpoint names.
type InvalidTxidError struct {
	// InputTxid is the hash of the supplied previous transaction.
	InputTxid chainhash.Hash

	// OutPoint is the foreign utxo.
	OutPoint wire.OutPoint
}

// Error returns a human readable description of the error.
func (e *InvalidTxidError) Error() string {
	return fmt.Sprintf("%v: got %v for %v", ErrInvalidTxid, e.InputTxid,
		e.OutPoint)
}

// Unwrap returns the error family.
func (e *InvalidTxidError) Unwrap() error {
	return ErrInvalidTxid
}

// InvalidOutpointError is returned when the previous transaction of a
// foreign utxo has no output at its index.
type InvalidOutpointError struct {
	// OutPoint is the foreign utxo.
	OutPoint wire.OutPoint
}

// Error returns a human readable description of the error.
func (e *InvalidOutpointError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidOutpoint, e.OutPoint)
}

// Unwrap returns the error family.
func (e *InvalidOutpointError) Unwrap() error {
	return ErrInvalidOutpoint
}

// MissingNonWitnessUtxoError is returned when a foreign segwit v0 or legacy
// input has no previous transaction.
type MissingNonWitnessUtxoError struct {
	// OutPoint is the foreign utxo.
	OutPoint wire.OutPoint
}

// Error returns a human readable description of the error.
func (e *MissingNonWitnessUtxoError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMissingNonWitnessUtxo, e.OutPoint)
}

// Unwrap returns the error family.
func (e *MissingNonWitnessUtxoError) Unwrap() error {
	return ErrMissingNonWitnessUtxo
}

// TransactionNotFoundError is returned when a txid isn't in the wallet.
type TransactionNotFoundError struct {
	// Txid is the missing transaction.
	Txid chainhash.Hash
}

// Error returns a human readable description of the error.
func (e *TransactionNotFoundError) Error() string {
	return fmt.Sprintf("%v: %v", ErrTransactionNotFound, e.Txid)
}

// Unwrap returns the error family.
func (e *TransactionNotFoundError) Unwrap() error {
	return ErrTransactionNotFound
}

// FeeRateTooLowError is returned when a replacement doesn't raise the fee
// rate enough.
type FeeRateTooLowError struct {
	// Required is the lowest acceptable rate.
	Required btcunit.SatPerVByte
}

// Error returns a human readable description of the error.
func (e *FeeRateTooLowError) Error() string {
	return fmt.Sprintf("%v: required %v", ErrFeeRateTooLow, e.Required)
}

// Unwrap returns the error family.
func (e *FeeRateTooLowError) Unwrap() error {
	return ErrFeeRateTooLow
}

// FeeTooLowError is returned when a replacement doesn't pay for its own
// relay on top of the replaced fee.
type FeeTooLowError struct {
	// Required is the lowest acceptable fee.
	Required btcutil.Amount
}

// Error returns a human readable description of the error.
func (e *FeeTooLowError) Error() string {
	return fmt.Sprintf("%v: required %v", ErrFeeTooLow, e.Required)
}

// Unwrap returns the error family.
func (e *FeeTooLowError) Unwrap() error {
	return ErrFeeTooLow
}

// MissingTxOutError is returned when the fee of a transaction can't be
// computed because some previous outputs are unknown.
type MissingTxOutError struct {
	// OutPoints are the unknown previous outputs.
	OutPoints []wire.OutPoint
}

// Error returns a human readable description of the error.
func (e *MissingTxOutError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMissingTxOut, e.OutPoints)
}

// Unwrap returns the error family.
func (e *MissingTxOutError) Unwrap() error {
	return ErrMissingTxOut
}

// NonStandardSighashError is returned when an input asks for a sighash the
// sign options don't allow.
type NonStandardSighashError struct {
	// Index is the input.
	Index int

	// SigHash is the requested type.
	SigHash txscript.SigHashType
}

// Error returns a human readable description of the error.
func (e *NonStandardSighashError) Error() string {
	return fmt.Sprintf("%v: input %d uses %v", ErrNonStandardSighash,
		e.Index, e.SigHash)
}

// Unwrap returns the error family.
func (e *NonStandardSighashError) Unwrap() error {
	return ErrNonStandardSighash
}
