package bwtest

const (
	// wantNoFiles is the soft descriptor limit bitcoind is started with.
	wantNoFiles = 4096

	// unlimitedNoFiles is the smallest soft limit treated as unlimited.
	unlimitedNoFiles = 1 << 60
)

// noFileTarget returns the soft RLIMIT_NOFILE to set given the current soft
// and hard limits, and false when the current one can stay. An unlimited
// soft limit is capped since bitcoind cannot represent it. The result never
// exceeds a non-zero hard limit.
func noFileTarget(soft, hard uint64) (uint64, bool) {
	if soft >= wantNoFiles && soft < unlimitedNoFiles {
		return 0, false
	}

	target := uint64(wantNoFiles)
	if hard > 0 {
		target = min(target, hard)
	}

	// A hard limit below ours can leave nothing to raise.
	if soft < unlimitedNoFiles && target <= soft {
		return 0, false
	}

	return target, true
}
