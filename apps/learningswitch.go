package apps

import (
	"log/slog"
	"sync"
	"time"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/ofconn"
	"github.com/encodeous/nyflow/state"
	"github.com/jellydator/ttlcache/v3"
)

const (
	portReasonDelete = 1
	portReasonModify = 2
	portDownBit      = 1 << 0
)

type macTable = ttlcache.Cache[string, uint32]

// LearningSwitch turns every switch into an independent L2 learning bridge
type LearningSwitch struct {
	IdleTimeout uint16

	log      *slog.Logger
	ttl      time.Duration
	capacity uint64

	mu     sync.Mutex
	tables map[state.SwitchId]*macTable
}

func NewLearningSwitch(log *slog.Logger, ttl time.Duration, capacity uint64) *LearningSwitch {
	return &LearningSwitch{
		IdleTimeout: state.FlowIdleTimeout,
		log:         log.With("app", "learningswitch"),
		ttl:         ttl,
		capacity:    capacity,
		tables:      make(map[state.SwitchId]*macTable),
	}
}

func (ls *LearningSwitch) Name() string {
	return "learningswitch"
}

func (ls *LearningSwitch) Types() []ofconn.MessageType {
	return []ofconn.MessageType{ofconn.TypePacketIn, ofconn.TypePortStatus}
}

func (ls *LearningSwitch) table(id state.SwitchId) *macTable {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	t, ok := ls.tables[id]
	if !ok {
		t = ttlcache.New[string, uint32](
			ttlcache.WithTTL[string, uint32](ls.ttl),
			ttlcache.WithCapacity[string, uint32](ls.capacity),
			ttlcache.WithDisableTouchOnHit[string, uint32](),
		)
		ls.tables[id] = t
	}
	return t
}

// PortFor returns the learned port of mac on a switch
func (ls *LearningSwitch) PortFor(id state.SwitchId, mac string) (uint32, bool) {
	item := ls.table(id).Get(mac)
	if item == nil {
		return 0, false
	}
	return item.Value(), true
}

// TableSizes reports the number of learned addresses per switch
func (ls *LearningSwitch) TableSizes() map[state.SwitchId]int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	res := make(map[state.SwitchId]int, len(ls.tables))
	for id, t := range ls.tables {
		res[id] = t.Len()
	}
	return res
}

func (ls *LearningSwitch) Receive(sw *ofconn.Switch, msg util.Message) ofconn.Command {
	switch m := msg.(type) {
	case *openflow13.PacketIn:
		return ls.packetIn(sw, m)
	case *openflow13.PortStatus:
		ls.portStatus(sw.Id(), m)
	}
	return ofconn.Continue
}

func (ls *LearningSwitch) packetIn(dp datapath, pi *openflow13.PacketIn) ofconn.Command {
	inPort, ok := packetInPort(pi)
	if !ok {
		return ofconn.Continue
	}
	eth := &pi.Data
	if isReserved(eth.HWDst) {
		ls.log.Debug("ignoring packet sent to reserved address", "switch", dp.Id(), "dst", eth.HWDst)
		return ofconn.Stop
	}

	table := ls.table(dp.Id())
	if isUnicast(eth.HWSrc) {
		table.Set(eth.HWSrc.String(), inPort, ttlcache.DefaultTTL)
	}

	item := table.Get(eth.HWDst.String())
	if item == nil {
		if err := dp.Write(packetOut(pi, inPort, openflow13.P_FLOOD)); err != nil {
			ls.log.Warn("unable to flood packet", "switch", dp.Id(), "err", err)
		}
		return ofconn.Stop
	}
	outPort := item.Value()
	if outPort == inPort {
		return ofconn.Stop
	}

	fwd, err := addFlow(state.LearningSwitchAppId, ls.IdleTimeout, l2Match(inPort, eth.HWSrc, eth.HWDst), outPort, pi.BufferId)
	if err != nil {
		ls.log.Warn("unable to build flow", "switch", dp.Id(), "err", err)
		return ofconn.Stop
	}
	rev, err := addFlow(state.LearningSwitchAppId, ls.IdleTimeout, l2Match(outPort, eth.HWDst, eth.HWSrc), inPort, state.NoBuffer)
	if err != nil {
		ls.log.Warn("unable to build flow", "switch", dp.Id(), "err", err)
		return ofconn.Stop
	}
	msgs := []util.Message{fwd, rev}
	if pi.BufferId == state.NoBuffer {
		msgs = append(msgs, packetOut(pi, inPort, outPort))
	}
	if err := writeFlows(dp, msgs...); err != nil {
		ls.log.Warn("unable to install flows", "switch", dp.Id(), "err", err)
	}
	return ofconn.Stop
}

// portStatus resets a switch's table when one of its ports goes away
func (ls *LearningSwitch) portStatus(id state.SwitchId, ps *openflow13.PortStatus) {
	down := ps.Desc.Config&portDownBit != 0 || ps.Desc.State&portDownBit != 0
	if ps.Reason == portReasonDelete || (ps.Reason == portReasonModify && down) {
		ls.log.Info("port down, resetting mac table", "switch", id, "port", ps.Desc.PortNo)
		ls.forget(id)
	}
}

func (ls *LearningSwitch) forget(id state.SwitchId) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.tables, id)
}

func (ls *LearningSwitch) SwitchAdded(sw *ofconn.Switch) {
	ls.table(sw.Id())
}

func (ls *LearningSwitch) SwitchRemoved(sw *ofconn.Switch) {
	ls.forget(sw.Id())
}
