package bwtest

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

const (
	// defaultTestTimeout is a shared default timeout for polling and setup
	// steps in integration tests.
	defaultTestTimeout = 30 * time.Second

	// logDirPerm is the permission of harness-managed log directories.
	logDirPerm = 0o750

	// firstPort is where the port search starts.
	firstPort = 19000

	// maxPort is the highest valid port number.
	maxPort = 65535
)

var (
	// portMu guards lastPort.
	portMu sync.Mutex

	// lastPort is the last port handed out by nextPort.
	lastPort = firstPort
)

// lookupBinary returns the absolute path of a binary found in PATH.
func lookupBinary(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("find %s binary: %w", name, err)
	}

	path, err = filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path of %s: %w", name, err)
	}

	return path, nil
}

// ensureLogDir creates the log directory if it doesn't exist.
func ensureLogDir(dir string) error {
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}

	return nil
}

// nextPort returns a local port nothing is listening on. Ports are handed
// out in increasing order so two nodes of one run never share one.
func nextPort() (int, error) {
	portMu.Lock()
	defer portMu.Unlock()

	for port := lastPort + 1; port <= maxPort; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		_ = l.Close()

		lastPort = port

		return port, nil
	}

	return 0, fmt.Errorf("no free port above %d", lastPort)
}
