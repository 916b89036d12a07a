package apps

import (
	"log/slog"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/ofconn"
)

// Hub floods every packet it is handed
type Hub struct {
	log *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log.With("app", "hub")}
}

func (h *Hub) Name() string {
	return "hub"
}

func (h *Hub) Types() []ofconn.MessageType {
	return []ofconn.MessageType{ofconn.TypePacketIn}
}

func (h *Hub) Receive(sw *ofconn.Switch, msg util.Message) ofconn.Command {
	pi, ok := msg.(*openflow13.PacketIn)
	if !ok {
		return ofconn.Continue
	}
	return h.packetIn(sw, pi)
}

func (h *Hub) packetIn(dp datapath, pi *openflow13.PacketIn) ofconn.Command {
	inPort, ok := packetInPort(pi)
	if !ok {
		inPort = openflow13.P_CONTROLLER
	}
	if err := dp.Write(packetOut(pi, inPort, openflow13.P_FLOOD)); err != nil {
		h.log.Warn("unable to flood packet", "switch", dp.Id(), "err", err)
	}
	return ofconn.Stop
}
