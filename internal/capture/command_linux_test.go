package capture

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tphakala/turntable-relay/internal/logger"
)

// processGone reports whether pid has exited. A zombie waiting to be reaped
// by init counts as gone.
func processGone(pid int) bool {
	if err := unix.Kill(pid, 0); err == unix.ESRCH {
		return true
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	// state follows the parenthesised command name
	i := bytes.LastIndexByte(stat, ')')
	return i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}

func TestCommandSourceCloseStopsBackgroundChildren(t *testing.T) {
	t.Parallel()
	requireShell(t)

	src := NewCommandSource("sh", []string{"-c", "sleep 60 & echo $! >&2; exec cat /dev/zero"}, logger.NewDiscardLogger())
	stream, err := src.Start(t.Context())
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)

	start := time.Now()
	assert.NoError(t, stream.Close())
	assert.Less(t, time.Since(start), killTimeout, "close must not wait for the pipe deadline")

	ps, ok := stream.(*processStream)
	require.True(t, ok)
	pid, err := strconv.Atoi(ps.stderr.LastLine())
	require.NoError(t, err, "background pid printed on stderr")

	assert.Eventually(t, func() bool { return processGone(pid) }, 2*time.Second, 10*time.Millisecond,
		"background child %d still running after close", pid)
}
