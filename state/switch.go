package state

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SwitchId is the 64-bit datapath id a switch reports in its features reply
type SwitchId uint64

func SwitchIdFromDPID(dpid net.HardwareAddr) SwitchId {
	var buf [8]byte
	// dpids shorter than 8 bytes are right-aligned
	copy(buf[max(0, 8-len(dpid)):], dpid)
	return SwitchId(binary.BigEndian.Uint64(buf[:]))
}

func (id SwitchId) DPID() net.HardwareAddr {
	buf := make(net.HardwareAddr, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// String renders the id as colon-separated hex, e.g. 00:00:00:00:00:00:00:01
func (id SwitchId) String() string {
	return id.DPID().String()
}

// ParseSwitchId accepts either the colon-separated form or a plain (optionally 0x prefixed) number
func ParseSwitchId(s string) (SwitchId, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		hw, err := net.ParseMAC(s)
		if err != nil {
			return 0, fmt.Errorf("invalid datapath id %q: %w", s, err)
		}
		if len(hw) != 8 {
			return 0, fmt.Errorf("invalid datapath id %q: expected 8 octets", s)
		}
		return SwitchIdFromDPID(hw), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid datapath id %q: %w", s, err)
	}
	return SwitchId(v), nil
}

// SwitchPort identifies a single port on a switch
type SwitchPort struct {
	Switch SwitchId
	Port   uint32
}

func (sp SwitchPort) String() string {
	return fmt.Sprintf("%s/%d", sp.Switch, sp.Port)
}
