package ofconn

import (
	"fmt"
	"strings"

	"github.com/contiv/libOpenflow/util"
)

// MessageType is the type tag carried in byte 1 of every OpenFlow header
type MessageType uint8

const (
	TypeHello MessageType = iota
	TypeError
	TypeEchoRequest
	TypeEchoReply
	TypeExperimenter
	TypeFeaturesRequest
	TypeFeaturesReply
	TypeGetConfigRequest
	TypeGetConfigReply
	TypeSetConfig
	TypePacketIn
	TypeFlowRemoved
	TypePortStatus
	TypePacketOut
	TypeFlowMod
	TypeGroupMod
	TypePortMod
	TypeTableMod
	TypeMultipartRequest
	TypeMultipartReply
	TypeBarrierRequest
	TypeBarrierReply
	TypeQueueGetConfigRequest
	TypeQueueGetConfigReply
	TypeRoleRequest
	TypeRoleReply
	TypeGetAsyncRequest
	TypeGetAsyncReply
	TypeSetAsync
	TypeMeterMod
)

var typeNames = []string{
	"HELLO", "ERROR", "ECHO_REQUEST", "ECHO_REPLY", "EXPERIMENTER",
	"FEATURES_REQUEST", "FEATURES_REPLY", "GET_CONFIG_REQUEST", "GET_CONFIG_REPLY", "SET_CONFIG",
	"PACKET_IN", "FLOW_REMOVED", "PORT_STATUS", "PACKET_OUT", "FLOW_MOD",
	"GROUP_MOD", "PORT_MOD", "TABLE_MOD", "MULTIPART_REQUEST", "MULTIPART_REPLY",
	"BARRIER_REQUEST", "BARRIER_REPLY", "QUEUE_GET_CONFIG_REQUEST", "QUEUE_GET_CONFIG_REPLY", "ROLE_REQUEST",
	"ROLE_REPLY", "GET_ASYNC_REQUEST", "GET_ASYNC_REPLY", "SET_ASYNC", "METER_MOD",
}

func (t MessageType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// ParseMessageType is the inverse of MessageType.String, case-insensitive
func ParseMessageType(s string) (MessageType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range typeNames {
		if name == s {
			return MessageType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", s)
}

// Command tells the dispatcher whether to keep offering a message down the listener chain
type Command int

const (
	Continue Command = iota
	Stop
)

func (c Command) String() string {
	if c == Stop {
		return "STOP"
	}
	return "CONTINUE"
}

// MessageListener receives decoded messages of the types it was registered for.
// Receive runs on the worker that owns sw and must not block.
// Listeners are compared by identity, so implementations should be pointers.
type MessageListener interface {
	Name() string
	Receive(sw *Switch, msg util.Message) Command
}

// SwitchFilter may be implemented by a MessageListener that only cares about some switches
type SwitchFilter interface {
	IsInterested(sw *Switch) bool
}

// SwitchListener is notified when switches complete their handshake and when they go away.
// Notifications are delivered in order on a single goroutine.
type SwitchListener interface {
	SwitchAdded(sw *Switch)
	SwitchRemoved(sw *Switch)
}

// ListenerFunc adapts a function to a MessageListener
type ListenerFunc struct {
	ListenerName string
	Fn           func(sw *Switch, msg util.Message) Command
}

func (l *ListenerFunc) Name() string {
	return l.ListenerName
}

func (l *ListenerFunc) Receive(sw *Switch, msg util.Message) Command {
	return l.Fn(sw, msg)
}
