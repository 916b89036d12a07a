package apps

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/ofconn"
	"github.com/encodeous/nyflow/perf"
	"github.com/encodeous/nyflow/state"
)

// Router answers shortest path queries between switches
type Router interface {
	GetRoute(src, dst state.SwitchId) (*state.Route, bool)
}

// PortClassifier tells inter-switch ports apart from edge ports
type PortClassifier interface {
	IsInternal(sp state.SwitchPort) bool
}

// Switches resolves connected switches for flow installation
type Switches interface {
	Switch(id state.SwitchId) (*ofconn.Switch, bool)
	Switches() []*ofconn.Switch
}

var errSwitchUnavailable = errors.New("switch not available")

// Forwarding installs flows along the shortest path towards known hosts
type Forwarding struct {
	// IdleTimeout of installed flows in seconds
	IdleTimeout uint16

	log     *slog.Logger
	router  Router
	ports   PortClassifier
	devices *DeviceTable
	lookup  func(id state.SwitchId) (datapath, bool)
	all     func() []datapath
}

func NewForwarding(log *slog.Logger, router Router, ports PortClassifier, switches Switches, ttl time.Duration) *Forwarding {
	return newForwarding(log, router, ports, ttl,
		func(id state.SwitchId) (datapath, bool) {
			sw, ok := switches.Switch(id)
			if !ok {
				return nil, false
			}
			return sw, true
		},
		func() []datapath {
			sws := switches.Switches()
			res := make([]datapath, 0, len(sws))
			for _, sw := range sws {
				res = append(res, sw)
			}
			return res
		})
}

func newForwarding(log *slog.Logger, router Router, ports PortClassifier, ttl time.Duration,
	lookup func(state.SwitchId) (datapath, bool), all func() []datapath) *Forwarding {
	return &Forwarding{
		IdleTimeout: state.FlowIdleTimeout,
		log:         log.With("app", "routing"),
		router:      router,
		ports:       ports,
		devices:     NewDeviceTable(ttl, uint64(state.MacTableCapacity)),
		lookup:      lookup,
		all:         all,
	}
}

func (f *Forwarding) Name() string {
	return "routing"
}

func (f *Forwarding) Types() []ofconn.MessageType {
	return []ofconn.MessageType{ofconn.TypePacketIn}
}

func (f *Forwarding) Devices() *DeviceTable {
	return f.devices
}

func (f *Forwarding) Receive(sw *ofconn.Switch, msg util.Message) ofconn.Command {
	pi, ok := msg.(*openflow13.PacketIn)
	if !ok {
		return ofconn.Continue
	}
	return f.packetIn(sw, pi)
}

func (f *Forwarding) packetIn(dp datapath, pi *openflow13.PacketIn) ofconn.Command {
	inPort, ok := packetInPort(pi)
	if !ok {
		return ofconn.Continue
	}
	eth := &pi.Data
	ingress := state.SwitchPort{Switch: dp.Id(), Port: inPort}

	if isUnicast(eth.HWSrc) && !f.ports.IsInternal(ingress) {
		if old, moved := f.devices.Learn(eth.HWSrc, ingress); moved {
			f.log.Info("device moved", "mac", eth.HWSrc, "from", old, "to", ingress)
			f.deviceMoved(eth.HWSrc)
		}
	}

	dst, ok := f.devices.Lookup(eth.HWDst)
	if !ok {
		if isUnicast(eth.HWDst) {
			f.log.Debug("unable to locate device", "mac", eth.HWDst)
		}
		return ofconn.Continue
	}

	perf.RouteQueries.Add(1)
	route, ok := f.router.GetRoute(dp.Id(), dst.Switch)
	if !ok {
		f.log.Debug("no route to device", "from", ingress, "mac", eth.HWDst, "at", dst)
		return ofconn.Continue
	}

	f.log.Debug("pushing route", "route", route, "destination", dst)
	if err := f.pushRoute(route, ingress, dst, eth.HWSrc, eth.HWDst, pi.BufferId); err != nil {
		f.log.Warn("unable to push route", "route", route, "err", err)
	}
	if pi.BufferId == state.NoBuffer {
		if err := dp.Write(packetOut(pi, inPort, openflow13.P_TABLE)); err != nil {
			f.log.Warn("unable to send packet out", "switch", dp.Id(), "err", err)
		}
	}
	return ofconn.Stop
}

// pushRoute installs flows from the destination back to the source so the
// path is in place before the first switch starts forwarding
func (f *Forwarding) pushRoute(route *state.Route, ingress, dst state.SwitchPort, src, dstMac net.HardwareAddr, bufferId uint32) error {
	out := dst.Port
	for i := len(route.Path) - 1; i >= 0; i-- {
		l := route.Path[i]
		dp, ok := f.lookup(l.Dst)
		if !ok {
			return fmt.Errorf("%s: %w", l.Dst, errSwitchUnavailable)
		}
		fm, err := addFlow(state.ForwardingAppId, f.IdleTimeout, l2Match(l.DstPort, src, dstMac), out, state.NoBuffer)
		if err != nil {
			return err
		}
		if err := writeFlows(dp, fm); err != nil {
			return err
		}
		out = l.SrcPort
	}
	first, ok := f.lookup(route.Id.Src)
	if !ok {
		return fmt.Errorf("%s: %w", route.Id.Src, errSwitchUnavailable)
	}
	fm, err := addFlow(state.ForwardingAppId, f.IdleTimeout, l2Match(ingress.Port, src, dstMac), out, bufferId)
	if err != nil {
		return err
	}
	return writeFlows(first, fm)
}

// deviceMoved flushes flows towards a host from every switch
func (f *Forwarding) deviceMoved(mac net.HardwareAddr) {
	for _, dp := range f.all() {
		if err := writeFlows(dp, deleteFlowsTo(state.ForwardingAppId, mac)); err != nil {
			f.log.Debug("unable to flush flows", "switch", dp.Id(), "err", err)
		}
	}
}

// ForgetSwitch drops every device attached to a switch that went away
func (f *Forwarding) ForgetSwitch(id state.SwitchId) int {
	n := f.devices.ForgetSwitch(id)
	if n > 0 {
		f.log.Debug("forgot devices", "switch", id, "count", n)
	}
	return n
}
