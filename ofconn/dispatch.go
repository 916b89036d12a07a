package ofconn

import (
	"fmt"
	"time"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/perf"
	"github.com/encodeous/nyflow/state"
)

// processInbound decodes and handles every complete frame buffered for sw.
// A returned error means the connection must be torn down.
func (c *Controller) processInbound(sw *Switch) error {
	for {
		in, ok, err := nextFrame(&sw.inbuf, sw.codec)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		perf.MessagesReceived.Add(1)
		if err := c.handleMessage(sw, in); err != nil {
			return err
		}
	}
}

func (c *Controller) handleMessage(sw *Switch, in inbound) error {
	internal := true
	switch in.typ {
	case TypeHello:
		if err := c.handleHello(sw, in); err != nil {
			return err
		}
	case TypeEchoRequest:
		if err := sw.Write(newHeaderMsg(sw.Version(), TypeEchoReply, in.xid)); err != nil {
			return err
		}
		// keepalives never reach listeners
		return nil
	case TypeEchoReply:
	case TypeFeaturesReply:
		if err := c.handleFeaturesReply(sw, in.msg); err != nil {
			return err
		}
	case TypeGetConfigReply:
		if cfg, ok := in.msg.(*openflow13.SwitchConfig); ok && cfg.MissSendLen == state.MissSendLenNoBuffer {
			sw.configured.Store(true)
			sw.stopRequirements()
		}
	case TypeError:
		c.logSwitchError(sw, in)
	default:
		internal = false
		if !sw.HasId() {
			c.log.Warn("dropping message received before the features reply", "type", in.typ, "remote", sw.remote)
			return nil
		}
	}
	c.dispatch(sw, in, internal)
	return nil
}

func (c *Controller) handleHello(sw *Switch, in inbound) error {
	if in.version < sw.Version() {
		c.log.Warn("switch speaks an unsupported protocol version", "remote", sw.remote, "version", in.version)
		return fmt.Errorf("%w: %d", ErrIncompatibleVersion, in.version)
	}
	if sw.helloSeen {
		return nil
	}
	sw.helloSeen = true
	if c.cfg.ClearFlows {
		if err := sw.Write(deleteAllFlows(sw)); err != nil {
			return err
		}
	}
	sw.startRequirements(c.cfg.RequirementsDelay)
	return nil
}

func deleteAllFlows(sw *Switch) *openflow13.FlowMod {
	fm := openflow13.NewFlowMod()
	fm.Xid = sw.NextXid()
	fm.Command = openflow13.FC_DELETE
	fm.TableId = 0xff // all tables
	fm.OutPort = openflow13.P_ANY
	fm.OutGroup = openflow13.OFPG_ANY
	return fm
}

func (c *Controller) handleFeaturesReply(sw *Switch, msg util.Message) error {
	features, ok := msg.(*openflow13.SwitchFeatures)
	if !ok {
		return fmt.Errorf("unexpected features reply payload %T", msg)
	}
	if sw.HasId() {
		// repeated replies to the requirements timer
		sw.features.Store(features)
		return nil
	}
	sw.id.Store(uint64(state.SwitchIdFromDPID(features.DPID)))
	sw.features.Store(features)
	sw.hasId.Store(true)
	if err := sw.Write(configMessages(sw)...); err != nil {
		return err
	}
	c.switchReady(sw)
	return nil
}

// configMessages ask the switch to send whole packets to the controller and to confirm it
func configMessages(sw *Switch) []util.Message {
	set := openflow13.NewSetConfig()
	set.Xid = sw.NextXid()
	set.MissSendLen = state.MissSendLenNoBuffer
	return []util.Message{set, newHeaderMsg(sw.Version(), TypeGetConfigRequest, sw.NextXid())}
}

func (c *Controller) logSwitchError(sw *Switch, in inbound) {
	if e, ok := in.msg.(*openflow13.ErrorMsg); ok {
		c.log.Warn("switch reported an error", "switch", sw, "xid", in.xid, "type", e.Type, "code", e.Code)
		return
	}
	c.log.Warn("switch reported an error", "switch", sw, "xid", in.xid)
}

// dispatch offers a message to the listener chain of its type until a listener stops it
func (c *Controller) dispatch(sw *Switch, in inbound, internal bool) {
	chain, _ := c.listeners.get(in.typ)
	if len(chain) == 0 {
		if !internal {
			perf.UnhandledMessages.Add(1)
			c.log.Warn("unhandled message", "type", in.typ, "switch", sw)
		}
		return
	}
	start := time.Now()
	for _, l := range chain {
		if f, ok := l.(SwitchFilter); ok && !f.IsInterested(sw) {
			continue
		}
		if c.invoke(l, sw, in) == Stop {
			break
		}
	}
	perf.ListenerLatency.Add(float64(time.Since(start).Microseconds()))
}

func (c *Controller) invoke(l MessageListener, sw *Switch, in inbound) (cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("listener panicked", "listener", l.Name(), "type", in.typ, "switch", sw, "panic", r)
			cmd = Continue
		}
	}()
	return l.Receive(sw, in.msg)
}

func (sw *Switch) startRequirements(delay time.Duration) {
	go func() {
		t := time.NewTicker(delay)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if !sw.checkRequirements() {
					return
				}
			case <-sw.requirementsDone:
				return
			}
		}
	}()
}

func (sw *Switch) stopRequirements() {
	sw.requirementsOnce.Do(func() {
		close(sw.requirementsDone)
	})
}

// checkRequirements re-sends whatever part of the handshake the switch has not
// answered yet. It returns false once nothing is left to ask for.
func (sw *Switch) checkRequirements() bool {
	var msgs []util.Message
	switch {
	case sw.configured.Load():
		return false
	case !sw.HasId():
		msgs = []util.Message{newHeaderMsg(sw.Version(), TypeFeaturesRequest, sw.NextXid())}
	default:
		msgs = configMessages(sw)
	}
	if err := sw.Write(msgs...); err != nil {
		return false
	}
	return true
}
