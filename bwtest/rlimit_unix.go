//go:build darwin || linux

package bwtest

import (
	"fmt"
	"syscall"
)

// raiseNoFileLimit moves the soft RLIMIT_NOFILE of the test process to the
// value bitcoind accepts. The spawned daemon inherits it.
func raiseNoFileLimit() error {
	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err != nil {
		return fmt.Errorf("getrlimit: %w", err)
	}

	target, ok := noFileTarget(rlim.Cur, rlim.Max)
	if !ok {
		return nil
	}

	rlim.Cur = target
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rlim); err != nil {
		return fmt.Errorf("setrlimit %d: %w", target, err)
	}

	return nil
}
