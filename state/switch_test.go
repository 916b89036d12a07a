package state

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitchIdDPID(t *testing.T) {
	id := SwitchIdFromDPID(net.HardwareAddr{0, 0, 0, 0, 0, 0, 0x01, 0x02})
	assert.Equal(t, SwitchId(0x0102), id)
	assert.Equal(t, "00:00:00:00:00:00:01:02", id.String())

	// short dpids are right aligned
	assert.Equal(t, SwitchId(0x0a0b), SwitchIdFromDPID(net.HardwareAddr{0x0a, 0x0b}))
}

func TestParseSwitchId(t *testing.T) {
	id, err := ParseSwitchId("00:00:00:00:00:00:00:2a")
	require.NoError(t, err)
	assert.Equal(t, SwitchId(42), id)

	id, err = ParseSwitchId("0x2a")
	require.NoError(t, err)
	assert.Equal(t, SwitchId(42), id)

	id, err = ParseSwitchId(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, SwitchId(42), id)

	_, err = ParseSwitchId("00:2a")
	assert.Error(t, err)
	_, err = ParseSwitchId("switch")
	assert.Error(t, err)
}

func TestRouteEqualAndString(t *testing.T) {
	a := &Route{Id: RouteId{1, 3}, Path: []Link{{1, 2, 2, 1}, {2, 3, 3, 1}}}
	b := &Route{Id: RouteId{1, 3}, Path: []Link{{1, 2, 2, 1}, {2, 3, 3, 1}}}
	c := &Route{Id: RouteId{1, 3}, Path: []Link{{1, 4, 3, 2}}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.True(t, (*Route)(nil).Equal(nil))
	assert.Equal(t, 2, a.Len())
	assert.Equal(t,
		"00:00:00:00:00:00:00:01->00:00:00:00:00:00:00:03 [00:00:00:00:00:00:00:01:4->2:00:00:00:00:00:00:00:03]",
		c.String())
}

func TestAppCookie(t *testing.T) {
	assert.Equal(t, uint64(2)<<52, AppCookie(2))
	// ids wider than the app id field are truncated
	assert.Equal(t, uint64(1)<<52, AppCookie(1<<AppIdBits|1))
}

func TestParseLinks(t *testing.T) {
	links, err := ParseLinks("1/2 -> 2/1")
	require.NoError(t, err)
	assert.Equal(t, []Link{{1, 2, 2, 1}}, links)

	links, err = ParseLinks("00:00:00:00:00:00:00:0a/3 <-> 0xb/4")
	require.NoError(t, err)
	assert.Equal(t, []Link{{0xa, 3, 0xb, 4}, {0xb, 4, 0xa, 3}}, links)

	_, err = ParseLinks("1/2 2/1")
	assert.ErrorContains(t, err, "expected exactly one")
	_, err = ParseLinks("1 -> 2/1")
	assert.ErrorContains(t, err, "<switch>/<port>")
	_, err = ParseLinks("1/x -> 2/1")
	assert.ErrorContains(t, err, "invalid port")
}
