//go:build linux || darwin

package builder

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyAddressSpaceLimitRestores(t *testing.T) {
	var before syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_AS, &before))

	// Large enough to never constrain the test process, including when the
	// hard limit is unlimited.
	restore, err := applyAddressSpaceLimit(1 << 62)
	require.NoError(t, err)
	require.NotNil(t, restore)

	var during syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_AS, &during))
	require.LessOrEqual(t, during.Cur, during.Max)

	restore()

	var after syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_AS, &after))
	require.Equal(t, before.Cur, after.Cur)
	require.Equal(t, before.Max, after.Max)
}
