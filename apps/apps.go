// Package apps holds the packet handling applications that sit on top of
// the connection manager: shortest path forwarding, a learning switch and a hub.
package apps

import (
	"fmt"
	"net"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/ofconn"
	"github.com/encodeous/nyflow/perf"
	"github.com/encodeous/nyflow/state"
)

// App is a message listener together with the message types it consumes
type App interface {
	ofconn.MessageListener
	Types() []ofconn.MessageType
}

// datapath is the part of a switch the applications write to
type datapath interface {
	Id() state.SwitchId
	Write(msgs ...util.Message) error
}

var (
	_ App = (*Forwarding)(nil)
	_ App = (*LearningSwitch)(nil)
	_ App = (*Hub)(nil)

	_ ofconn.SwitchListener = (*LearningSwitch)(nil)
)

// packetInPort extracts the ingress port from the packet-in match
func packetInPort(pi *openflow13.PacketIn) (uint32, bool) {
	for _, f := range pi.Match.Fields {
		if f.Field != openflow13.OXM_FIELD_IN_PORT {
			continue
		}
		if v, ok := f.Value.(*openflow13.InPortField); ok {
			return v.InPort, true
		}
	}
	return 0, false
}

func isUnicast(mac net.HardwareAddr) bool {
	return len(mac) > 0 && mac[0]&1 == 0
}

// isReserved matches the 802.1D bridge group addresses 01:80:c2:00:00:0X
func isReserved(mac net.HardwareAddr) bool {
	return len(mac) == 6 && mac[0] == 0x01 && mac[1] == 0x80 && mac[2] == 0xc2 &&
		mac[3] == 0 && mac[4] == 0 && mac[5]&0xf0 == 0
}

func l2Match(inPort uint32, src, dst net.HardwareAddr) openflow13.Match {
	m := openflow13.NewMatch()
	m.AddField(*openflow13.NewInPortField(inPort))
	m.AddField(*openflow13.NewEthSrcField(src, nil))
	m.AddField(*openflow13.NewEthDstField(dst, nil))
	return *m
}

func addFlow(app, idle uint16, match openflow13.Match, outPort, bufferId uint32) (*openflow13.FlowMod, error) {
	fm := openflow13.NewFlowMod()
	fm.Cookie = state.AppCookie(app)
	fm.Command = openflow13.FC_ADD
	fm.IdleTimeout = idle
	fm.Priority = state.FlowPriority
	fm.BufferId = bufferId
	fm.Match = match
	instr := openflow13.NewInstrApplyActions()
	if err := instr.AddAction(openflow13.NewActionOutput(outPort), false); err != nil {
		return nil, fmt.Errorf("flow to port %d: %w", outPort, err)
	}
	fm.AddInstruction(instr)
	return fm, nil
}

// deleteFlowsTo removes every flow of the application forwarding to mac
func deleteFlowsTo(app uint16, mac net.HardwareAddr) *openflow13.FlowMod {
	fm := openflow13.NewFlowMod()
	fm.Cookie = state.AppCookie(app)
	fm.CookieMask = state.AppCookie(1<<state.AppIdBits - 1)
	fm.Command = openflow13.FC_DELETE
	fm.TableId = 0xff
	fm.OutPort = openflow13.P_ANY
	fm.OutGroup = openflow13.OFPG_ANY
	fm.Match.AddField(*openflow13.NewEthDstField(mac, nil))
	return fm
}

func packetOut(pi *openflow13.PacketIn, inPort, outPort uint32) *openflow13.PacketOut {
	po := openflow13.NewPacketOut()
	po.InPort = inPort
	po.BufferId = pi.BufferId
	po.AddAction(openflow13.NewActionOutput(outPort))
	if pi.BufferId == state.NoBuffer {
		po.Data = &pi.Data
	}
	return po
}

func writeFlows(dp datapath, msgs ...util.Message) error {
	for _, m := range msgs {
		if _, ok := m.(*openflow13.FlowMod); ok {
			perf.FlowModsSent.Add(1)
		}
	}
	return dp.Write(msgs...)
}
