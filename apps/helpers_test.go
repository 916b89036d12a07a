package apps

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/protocol"
	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/state"
)

var errFakeClosed = errors.New("closed")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSwitch struct {
	id     state.SwitchId
	mu     sync.Mutex
	sent   []util.Message
	closed bool
}

func (f *fakeSwitch) Id() state.SwitchId {
	return f.id
}

func (f *fakeSwitch) Write(msgs ...util.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeClosed
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func (f *fakeSwitch) take() []util.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.sent
	f.sent = nil
	return res
}

type fabric map[state.SwitchId]*fakeSwitch

func newFabric(ids ...state.SwitchId) fabric {
	res := make(fabric)
	for _, id := range ids {
		res[id] = &fakeSwitch{id: id}
	}
	return res
}

func (f fabric) lookup(id state.SwitchId) (datapath, bool) {
	sw, ok := f[id]
	if !ok {
		return nil, false
	}
	return sw, true
}

func (f fabric) all() []datapath {
	res := make([]datapath, 0, len(f))
	for _, sw := range f {
		res = append(res, sw)
	}
	return res
}

func mac(last byte) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0, 0, 0, 0, last}
}

func packetIn(inPort uint32, src, dst net.HardwareAddr, bufferId uint32) *openflow13.PacketIn {
	pi := &openflow13.PacketIn{BufferId: bufferId}
	pi.Match = *openflow13.NewMatch()
	pi.Match.AddField(*openflow13.NewInPortField(inPort))
	pi.Data = protocol.Ethernet{HWSrc: src, HWDst: dst, Ethertype: 0x0800}
	return pi
}

type flowSummary struct {
	Cookie   uint64
	Command  uint8
	InPort   uint32
	Out      uint32
	BufferId uint32
}

func summarize(fm *openflow13.FlowMod) flowSummary {
	res := flowSummary{Cookie: fm.Cookie, Command: fm.Command, BufferId: fm.BufferId}
	for _, f := range fm.Match.Fields {
		if v, ok := f.Value.(*openflow13.InPortField); ok {
			res.InPort = v.InPort
		}
	}
	for _, instr := range fm.Instructions {
		if acts, ok := instr.(*openflow13.InstrActions); ok {
			for _, a := range acts.Actions {
				if out, ok := a.(*openflow13.ActionOutput); ok {
					res.Out = out.Port
				}
			}
		}
	}
	return res
}

func flows(msgs []util.Message) []flowSummary {
	var res []flowSummary
	for _, m := range msgs {
		if fm, ok := m.(*openflow13.FlowMod); ok {
			res = append(res, summarize(fm))
		}
	}
	return res
}

func packetOuts(msgs []util.Message) []*openflow13.PacketOut {
	var res []*openflow13.PacketOut
	for _, m := range msgs {
		if po, ok := m.(*openflow13.PacketOut); ok {
			res = append(res, po)
		}
	}
	return res
}

func outputPort(po *openflow13.PacketOut) uint32 {
	for _, a := range po.Actions {
		if out, ok := a.(*openflow13.ActionOutput); ok {
			return out.Port
		}
	}
	return 0
}

type internalPorts map[state.SwitchPort]bool

func (p internalPorts) IsInternal(sp state.SwitchPort) bool {
	return p[sp]
}
