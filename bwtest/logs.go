package bwtest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// testLogsRootDir is the directory under the itest package where all
	// per-run logs are stored.
	testLogsRootDir = "test-logs"

	// maxLogDirAttempts bounds the numeric suffixes tried on a name clash.
	maxLogDirAttempts = 1000

	minerLogFilename        = "miner.log"
	chainBackendLogFilename = "chain_backend.log"

	logFilePerm = 0o600
)

// createTestLogDir creates a per-run log directory named
// log-<chain>-<db>-YYYYMMDD-HHMMSS under test-logs. A numeric suffix is
// appended when the name is taken.
func createTestLogDir(t *testing.T, chainBackend, dbBackend string) string {
	t.Helper()

	err := os.MkdirAll(testLogsRootDir, logDirPerm)
	require.NoError(t, err, "unable to create test log root")

	base := fmt.Sprintf(
		"log-%s-%s-%s", sanitizeLogToken(chainBackend),
		sanitizeLogToken(dbBackend),
		time.Now().Format("20060102-150405"),
	)

	return createUniqueLogSubDir(t, testLogsRootDir, base)
}

// createUniqueLogSubDir creates a uniquely named sub-directory of parent.
func createUniqueLogSubDir(t *testing.T, parent, prefix string) string {
	t.Helper()

	for i := range maxLogDirAttempts {
		dir := prefix
		if i > 0 {
			dir = fmt.Sprintf("%s-%d", prefix, i)
		}

		full := filepath.Join(parent, dir)

		err := os.Mkdir(full, logDirPerm)
		if err == nil {
			return full
		}

		if os.IsExist(err) {
			continue
		}

		require.NoError(t, err, "unable to create log dir")
	}

	t.Fatalf("unable to create log dir: too many collisions (%d)",
		maxLogDirAttempts)

	return ""
}

// sanitizeLogToken converts a string into a safe filename token.
func sanitizeLogToken(token string) string {
	if token == "" {
		return "unknown"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '-', r == '_':

			return r

		default:
			return '_'
		}
	}, token)
}

// finalizeLogs flattens the miner and chain backend logs into the per-run
// log directory.
func (h *HarnessTest) finalizeLogs() {
	h.Helper()

	minerLogs, _ := filepath.Glob(
		filepath.Join(h.miner.logPath, "*", "btcd.log*"),
	)
	sortRotatedLogs(minerLogs, "btcd.log.")

	err := concatLogs(
		filepath.Join(h.logDir, minerLogFilename), minerLogs,
	)
	if err != nil {
		h.Logf("failed to flatten miner logs: %v", err)
	}

	chainDir := h.Backend.LogDir()
	debugLogs, _ := filepath.Glob(filepath.Join(chainDir, "*", "debug.log*"))
	sort.Strings(debugLogs)

	chainLogs := append([]string{
		filepath.Join(chainDir, "bitcoind.stderr.log"),
		filepath.Join(chainDir, "bitcoind.stdout.log"),
	}, debugLogs...)

	err = concatLogs(
		filepath.Join(h.logDir, chainBackendLogFilename), chainLogs,
	)
	if err != nil {
		h.Logf("failed to flatten chain backend logs: %v", err)
	}
}

// concatLogs writes the existing regular files of srcs into dst, each under
// a header line.
func concatLogs(dst string, srcs []string) error {
	// #nosec G304 -- dst is created by the test harness.
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC,
		logFilePerm)
	if err != nil {
		return fmt.Errorf("open dst log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	for _, p := range srcs {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		_, _ = fmt.Fprintf(f, "--- %s ---\n", filepath.Base(p))

		// #nosec G304 -- p is under the harness-controlled log dir.
		src, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open src log: %w", err)
		}

		_, cpErr := io.Copy(f, src)
		_ = src.Close()

		if cpErr != nil {
			return fmt.Errorf("copy src log: %w", cpErr)
		}

		_, _ = f.WriteString("\n")
	}

	return nil
}

// sortRotatedLogs orders rotated logs oldest first: name.N, ..., name.1,
// then the active log.
func sortRotatedLogs(paths []string, prefix string) {
	index := func(p string) int {
		var n int
		_, err := fmt.Sscanf(
			strings.TrimPrefix(filepath.Base(p), prefix), "%d", &n,
		)
		if err != nil {
			return 0
		}

		return n
	}

	sort.SliceStable(paths, func(i, j int) bool {
		return index(paths[i]) > index(paths[j])
	})
}
