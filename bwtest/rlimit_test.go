package bwtest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNoFileTarget covers the soft descriptor limits the harness raises,
// caps or keeps.
func TestNoFileTarget(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		soft, hard uint64
		want       uint64
		raise      bool
	}{
		{
			name: "low soft limit", soft: 256, hard: 1 << 20,
			want: wantNoFiles, raise: true,
		},
		{
			name: "hard limit caps", soft: 256, hard: 1024,
			want: 1024, raise: true,
		},
		{
			name: "hard limit reached", soft: 1024, hard: 1024,
		},
		{
			name: "already enough", soft: 8192, hard: 1 << 20,
		},
		{
			name: "unlimited soft", soft: 1 << 62, hard: 0,
			want: wantNoFiles, raise: true,
		},
		{
			name: "unlimited soft low hard", soft: 1 << 62, hard: 512,
			want: 512, raise: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, raise := noFileTarget(tc.soft, tc.hard)
			require.Equal(t, tc.raise, raise)
			require.Equal(t, tc.want, got)
		})
	}
}
