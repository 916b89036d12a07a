//go:build linux

package ofconn

import (
	"net/netip"
	"testing"

	"github.com/encodeous/nyflow/perf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

func TestRegisterAfterShutdownClosesSwitch(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := startController(t, Config{Workers: 1})
	c.Stop()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	before := perf.Connections.Value()
	perf.Connections.Add(1)
	sw := newSwitch(c, c.workers[0], fds[0], 99, netip.AddrPort{})
	c.workers[0].register(sw)

	assert.True(t, sw.Closed())
	assert.Equal(t, before, perf.Connections.Value())
	assert.ErrorIs(t, sw.Write(newHeaderMsg(4, TypeBarrierRequest, 1)), ErrSwitchClosed)

	// the peer sees end of stream
	n, err := unix.Read(fds[1], make([]byte, 1))
	assert.NoError(t, err)
	assert.Zero(t, n)
}
