//go:build linux

package linuxloader

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWriteMemfdRoundTrip(t *testing.T) {
	payload := []byte("not a real ELF, just loader plumbing bytes")

	fd, err := writeMemfd(payload)
	require.NoError(t, err)
	defer unix.Close(fd)

	got := make([]byte, len(payload))
	n, err := unix.Pread(fd, got, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	require.Equal(t, uint32(0700), st.Mode&0777)
}

func TestExecFailsOnNonExecutablePayload(t *testing.T) {
	// Garbage bytes are not a valid ELF, so execveat must fail with
	// ENOEXEC rather than silently succeeding or panicking. This never
	// replaces the test process since the exec itself is rejected by
	// the kernel before the image swap.
	err := Exec([]byte("definitely not an ELF"), "probe", nil, nil)
	require.Error(t, err)

	var sysErr *SysCallError
	require.ErrorAs(t, err, &sysErr)
	require.Equal(t, "execveat", sysErr.Syscall)
}

func TestExecveatRejectsEmbeddedNUL(t *testing.T) {
	fd, err := writeMemfd([]byte("x"))
	require.NoError(t, err)
	defer unix.Close(fd)

	err = execveat(fd, []string{"has\x00nul"}, nil)
	require.Error(t, err)
}
