// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkeys

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/tyler-smith/go-bip39"
)

// ErrorCode identifies a kind of key derivation error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrUnknown is the catch-all for upstream failures that have no
	// dedicated code.
	ErrUnknown ErrorCode = iota

	// ErrInvalidMnemonic indicates a mnemonic with unknown words or an
	// unsupported word count.
	ErrInvalidMnemonic

	// ErrBadChecksum indicates a mnemonic or base58 key whose checksum
	// doesn't match.
	ErrBadChecksum

	// ErrInvalidEntropy indicates entropy of an unsupported length.
	ErrInvalidEntropy

	// ErrInvalidPath indicates a malformed derivation path.
	ErrInvalidPath

	// ErrHardenedFromPublic indicates an attempt to derive a hardened
	// child from a public extended key.
	ErrHardenedFromPublic

	// ErrInvalidChild indicates a child index that yields an invalid key.
	ErrInvalidChild

	// ErrBeyondMaxDepth indicates derivation past depth 255.
	ErrBeyondMaxDepth

	// ErrNotPrivate indicates a private key operation on a public key.
	ErrNotPrivate

	// ErrWrongNetwork indicates a key encoded for a different network.
	ErrWrongNetwork

	// ErrInvalidKey indicates a malformed serialized key or seed.
	ErrInvalidKey
)

// errorCodeStrings is a map of error codes back to their constant names for
// pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrUnknown:            "ErrUnknown",
	ErrInvalidMnemonic:    "ErrInvalidMnemonic",
	ErrBadChecksum:        "ErrBadChecksum",
	ErrInvalidEntropy:     "ErrInvalidEntropy",
	ErrInvalidPath:        "ErrInvalidPath",
	ErrHardenedFromPublic: "ErrHardenedFromPublic",
	ErrInvalidChild:       "ErrInvalidChild",
	ErrBeyondMaxDepth:     "ErrBeyondMaxDepth",
	ErrNotPrivate:         "ErrNotPrivate",
	ErrWrongNetwork:       "ErrWrongNetwork",
	ErrInvalidKey:         "ErrInvalidKey",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}

	return "ErrUnknown"
}

// Error identifies a key derivation error. It has an error code and a
// descriptive message.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}

	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates an Error given a set of arguments.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}

// mapError translates errors returned by hdkeychain and go-bip39 into an
// Error. Anything without a dedicated code lands in ErrUnknown so callers
// only ever have to switch on ErrorCode.
func mapError(desc string, err error) error {
	if err == nil {
		return nil
	}

	var e Error
	if errors.As(err, &e) {
		return err
	}

	code := ErrUnknown
	switch {
	case errors.Is(err, bip39.ErrInvalidMnemonic):
		code = ErrInvalidMnemonic

	case errors.Is(err, bip39.ErrChecksumIncorrect),
		errors.Is(err, hdkeychain.ErrBadChecksum):

		code = ErrBadChecksum

	case errors.Is(err, bip39.ErrEntropyLengthInvalid):
		code = ErrInvalidEntropy

	case errors.Is(err, hdkeychain.ErrDeriveHardFromPublic):
		code = ErrHardenedFromPublic

	case errors.Is(err, hdkeychain.ErrInvalidChild):
		code = ErrInvalidChild

	case errors.Is(err, hdkeychain.ErrDeriveBeyondMaxDepth):
		code = ErrBeyondMaxDepth

	case errors.Is(err, hdkeychain.ErrNotPrivExtKey):
		code = ErrNotPrivate

	case errors.Is(err, hdkeychain.ErrInvalidSeedLen),
		errors.Is(err, hdkeychain.ErrUnusableSeed),
		errors.Is(err, hdkeychain.ErrInvalidKeyLen):

		code = ErrInvalidKey
	}

	return newError(code, desc, err)
}
