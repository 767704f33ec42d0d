// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKeyType is returned when an operation only defined for
	// extended keys, such as derive or extend, is applied to a single key.
	ErrInvalidKeyType = errors.New("invalid key type")

	// ErrHardenedDerivationXpub is returned when a public extended key is
	// asked to derive a hardened child.
	ErrHardenedDerivationXpub = errors.New("hardened derivation from " +
		"public key")

	// ErrChecksumMismatch is returned when the checksum appended to a
	// descriptor doesn't match its body.
	ErrChecksumMismatch = errors.New("descriptor checksum mismatch")

	// ErrNetworkMismatch is returned when a key is encoded for a network
	// other than the one the descriptor is parsed for.
	ErrNetworkMismatch = errors.New("key network mismatch")

	// ErrInvalidDescriptor is returned for descriptors that don't follow
	// the supported grammar.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrInvalidKey is returned for malformed key expressions.
	ErrInvalidKey = errors.New("invalid descriptor key")

	// ErrMultiPath is returned for multipath key expressions (<0;1>),
	// which aren't supported.
	ErrMultiPath = errors.New("multipath descriptors are not supported")

	// ErrInvalidMiniscript is returned when a miniscript expression is
	// malformed or fails basic type checking.
	ErrInvalidMiniscript = errors.New("invalid miniscript")

	// ErrUnsupportedTemplate is returned for an unknown template.
	ErrUnsupportedTemplate = errors.New("unsupported descriptor template")

	// ErrIndexOutOfRange is returned when deriving a ranged descriptor at a
	// hardened index.
	ErrIndexOutOfRange = errors.New("derivation index out of range")
)

// ParseError carries the offending fragment of a descriptor string.
type ParseError struct {
	// Fragment is the part of the input that failed to parse.
	Fragment string

	// Err is the error family, one of the sentinels above.
	Err error
}

// Error returns a human readable description of the parse failure.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Fragment)
}

// Unwrap returns the error family.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// parseErr builds a ParseError.
func parseErr(family error, fragment string) error {
	return &ParseError{Fragment: fragment, Err: family}
}
