//go:build integration

package integration

import (
	"net"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/nyflow/core"
	"github.com/encodeous/nyflow/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hostA = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0a}
	hostB = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0b}
)

// lineHarness builds 1 - 2 - 3 with host A on 1/10 and host B on 3/20
func lineHarness(t *testing.T) *VirtualHarness {
	cfg := state.DefaultConfig()
	cfg.ListenAddr = netip.MustParseAddrPort("127.0.0.1:0")
	cfg.Workers = 2
	cfg.Apps = []string{"routing"}
	cfg.AdminSocket = filepath.Join(t.TempDir(), "nyflow.sock")
	cfg.StaticLinks = []string{"1/2 <-> 2/1", "2/2 <-> 3/1"}

	h := NewHarness(t, cfg)
	for id := range state.SwitchId(3) {
		h.AddSwitch(id + 1)
	}
	return h
}

func TestShortestPathForwarding(t *testing.T) {
	h := lineHarness(t)
	cookie := state.AppCookie(state.ForwardingAppId)

	require.NoError(t, h.Switches[1].PacketIn(10, hostA, hostB, state.NoBuffer))
	require.Eventually(t, func() bool {
		return strings.Contains(h.Inspect(), hostA.String()+" at 00:00:00:00:00:00:00:01/10")
	}, WaitTimeout, 20*time.Millisecond)

	require.NoError(t, h.Switches[3].PacketIn(20, hostB, hostA, state.NoBuffer))
	for id, sw := range h.Switches {
		require.Eventually(t, func() bool {
			return len(sw.FlowMods(cookie)) == 1
		}, WaitTimeout, 20*time.Millisecond, "switch %s never got its flow", id)
	}
	require.Eventually(t, func() bool {
		return h.Switches[3].PacketOuts() == 1
	}, WaitTimeout, 20*time.Millisecond)
	assert.Zero(t, h.Switches[1].PacketOuts())
}

func TestPortDeletionBreaksRoute(t *testing.T) {
	h := lineHarness(t)
	engine := core.Get[*core.Routing](h.State).Engine
	require.True(t, engine.RouteExists(1, 3))

	require.NoError(t, h.Switches[2].PortDeleted(2))
	require.Eventually(t, func() bool {
		return !engine.RouteExists(1, 3)
	}, WaitTimeout, 20*time.Millisecond)
	assert.True(t, engine.RouteExists(1, 2))

	cookie := state.AppCookie(state.ForwardingAppId)
	require.NoError(t, h.Switches[3].PacketIn(20, hostB, hostA, state.NoBuffer))
	require.NoError(t, h.Switches[1].PacketIn(10, hostA, hostB, state.NoBuffer))
	require.Eventually(t, func() bool {
		return strings.Contains(h.Inspect(), hostA.String())
	}, WaitTimeout, 20*time.Millisecond)
	assert.Empty(t, h.Switches[1].FlowMods(cookie))
}

func TestDisconnectedSwitchLeavesReport(t *testing.T) {
	h := lineHarness(t)
	require.Contains(t, h.Inspect(), "00:00:00:00:00:00:00:02 from")

	h.Switches[2].Close()
	delete(h.Switches, 2)
	require.Eventually(t, func() bool {
		return !strings.Contains(h.Inspect(), "00:00:00:00:00:00:00:02 from")
	}, WaitTimeout, 20*time.Millisecond)

	engine := core.Get[*core.Routing](h.State).Engine
	assert.True(t, engine.RouteExists(1, 3), "static links outlive the switch connection")
}
