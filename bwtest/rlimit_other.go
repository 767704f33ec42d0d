//go:build !(darwin || linux)

package bwtest

// raiseNoFileLimit is a no-op where the harness does not manage descriptor
// limits.
func raiseNoFileLimit() error { return nil }
