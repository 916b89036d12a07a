package apps

import (
	"net"
	"testing"
	"time"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/encodeous/nyflow/ofconn"
	"github.com/encodeous/nyflow/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearningSwitchFloodsUnknown(t *testing.T) {
	ls := NewLearningSwitch(testLogger(), time.Minute, 16)
	sw := &fakeSwitch{id: 1}

	assert.Equal(t, ofconn.Stop, ls.packetIn(sw, packetIn(1, mac(0xa), mac(0xb), state.NoBuffer)))
	msgs := sw.take()
	assert.Empty(t, flows(msgs))
	pos := packetOuts(msgs)
	require.Len(t, pos, 1)
	assert.Equal(t, uint32(openflow13.P_FLOOD), outputPort(pos[0]))

	port, ok := ls.PortFor(1, mac(0xa).String())
	require.True(t, ok)
	assert.Equal(t, uint32(1), port)
}

func TestLearningSwitchInstallsBothDirections(t *testing.T) {
	ls := NewLearningSwitch(testLogger(), time.Minute, 16)
	sw := &fakeSwitch{id: 1}
	ls.packetIn(sw, packetIn(1, mac(0xa), mac(0xb), state.NoBuffer))
	sw.take()

	assert.Equal(t, ofconn.Stop, ls.packetIn(sw, packetIn(2, mac(0xb), mac(0xa), state.NoBuffer)))
	msgs := sw.take()
	cookie := state.AppCookie(state.LearningSwitchAppId)
	assert.Equal(t, []flowSummary{
		{Cookie: cookie, Command: openflow13.FC_ADD, InPort: 2, Out: 1, BufferId: state.NoBuffer},
		{Cookie: cookie, Command: openflow13.FC_ADD, InPort: 1, Out: 2, BufferId: state.NoBuffer},
	}, flows(msgs))
	pos := packetOuts(msgs)
	require.Len(t, pos, 1)
	assert.Equal(t, uint32(1), outputPort(pos[0]))
}

func TestLearningSwitchBufferedPacketUsesFlow(t *testing.T) {
	ls := NewLearningSwitch(testLogger(), time.Minute, 16)
	sw := &fakeSwitch{id: 1}
	ls.packetIn(sw, packetIn(1, mac(0xa), mac(0xb), state.NoBuffer))
	sw.take()

	ls.packetIn(sw, packetIn(2, mac(0xb), mac(0xa), 42))
	msgs := sw.take()
	got := flows(msgs)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(42), got[0].BufferId)
	assert.Empty(t, packetOuts(msgs))
}

func TestLearningSwitchTablesArePerSwitch(t *testing.T) {
	ls := NewLearningSwitch(testLogger(), time.Minute, 16)
	a, b := &fakeSwitch{id: 1}, &fakeSwitch{id: 2}
	ls.packetIn(a, packetIn(1, mac(0xa), mac(0xb), state.NoBuffer))

	ls.packetIn(b, packetIn(3, mac(0xb), mac(0xa), state.NoBuffer))
	assert.Empty(t, flows(b.take()))
	assert.Equal(t, map[state.SwitchId]int{1: 1, 2: 1}, ls.TableSizes())
}

func TestLearningSwitchIgnoresReservedAndHairpin(t *testing.T) {
	ls := NewLearningSwitch(testLogger(), time.Minute, 16)
	sw := &fakeSwitch{id: 1}

	stp := net.HardwareAddr{0x01, 0x80, 0xc2, 0, 0, 0}
	assert.Equal(t, ofconn.Stop, ls.packetIn(sw, packetIn(1, mac(0xa), stp, state.NoBuffer)))
	assert.Empty(t, sw.take())

	ls.packetIn(sw, packetIn(1, mac(0xb), mac(0xc), state.NoBuffer))
	sw.take()
	ls.packetIn(sw, packetIn(1, mac(0xa), mac(0xb), state.NoBuffer))
	assert.Empty(t, sw.take())
}

func TestLearningSwitchPortDownResetsTable(t *testing.T) {
	ls := NewLearningSwitch(testLogger(), time.Minute, 16)
	sw := &fakeSwitch{id: 1}
	ls.packetIn(sw, packetIn(1, mac(0xa), mac(0xb), state.NoBuffer))

	up := &openflow13.PortStatus{Reason: portReasonModify}
	up.Desc.PortNo = 1
	ls.portStatus(1, up)
	_, ok := ls.PortFor(1, mac(0xa).String())
	assert.True(t, ok)

	up.Desc.Config = portDownBit
	ls.portStatus(1, up)
	_, ok = ls.PortFor(1, mac(0xa).String())
	assert.False(t, ok)
}

func TestHubFloods(t *testing.T) {
	h := NewHub(testLogger())
	sw := &fakeSwitch{id: 1}

	assert.Equal(t, ofconn.Stop, h.packetIn(sw, packetIn(4, mac(0xa), mac(0xb), 9)))
	pos := packetOuts(sw.take())
	require.Len(t, pos, 1)
	assert.Equal(t, uint32(openflow13.P_FLOOD), outputPort(pos[0]))
	assert.Equal(t, uint32(4), pos[0].InPort)
	assert.Equal(t, uint32(9), pos[0].BufferId)
	assert.Nil(t, pos[0].Data)
}

func TestHubWriteFailureStillStops(t *testing.T) {
	h := NewHub(testLogger())
	sw := &fakeSwitch{id: 1, closed: true}
	assert.Equal(t, ofconn.Stop, h.packetIn(sw, packetIn(4, mac(0xa), mac(0xb), state.NoBuffer)))
}
