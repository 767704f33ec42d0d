// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package persist

import "errors"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates a database error.
	ErrDatabase ErrorCode = iota

	// ErrNetworkMismatch is returned when a change set for one network is
	// written to a store holding another.
	ErrNetworkMismatch

	// ErrCorrupt indicates stored data that can't be decoded.
	ErrCorrupt

	// ErrNilDB is returned when a store is built without a database.
	ErrNilDB
)

// errorCodeStrings maps each ErrorCode to its name.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:        "ErrDatabase",
	ErrNetworkMismatch: "ErrNetworkMismatch",
	ErrCorrupt:         "ErrCorrupt",
	ErrNilDB:           "ErrNilDB",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}

	return "Unknown ErrorCode"
}

// Error identifies a store error. It has an error code and a descriptive
// message.
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

// NewError creates an Error given a set of arguments.
func NewError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}
