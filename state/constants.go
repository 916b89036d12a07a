package state

import (
	"math"
	"time"
)

const (
	// MaxLinkWeight bounds the cost of a single link
	MaxLinkWeight = 1000
	// MaxPathWeight is the distance at or beyond which a node counts as unreachable
	MaxPathWeight = math.MaxInt32 - MaxLinkWeight - 1

	// NoBuffer is the buffer id of a packet that was sent to the controller in full
	NoBuffer = uint32(0xffffffff)
	// MissSendLenNoBuffer asks the switch to send whole packets to the controller
	MissSendLenNoBuffer = uint16(0xffff)

	// flow cookies carry the installing application id in their top AppIdBits bits
	AppIdBits  = 12
	AppIdShift = 64 - AppIdBits
)

var (
	DefaultPort       = 6633
	DefaultListenAddr = "0.0.0.0:6633"

	PathCacheSize = 1000

	// connection manager
	PollTimeout             = time.Millisecond * 500
	SwitchRequirementsDelay = time.Millisecond * 500
	ReadBufferSize          = 64 * 1024
	KeepaliveInterval       = time.Second * 5
	DeadThreshold           = 3 * KeepaliveInterval

	// topology
	LinkTimeout      = time.Second * 35
	LinkTimeoutCheck = time.Second * 5

	// applications
	FlowIdleTimeout     = uint16(5)
	MacTableTTL         = time.Minute * 5
	MacTableCapacity    = 64 * 1024
	DeviceTableTTL      = time.Minute * 5
	DeviceForgetDelay   = time.Second * 10
	ForwardingAppId     = uint16(2)
	LearningSwitchAppId = uint16(3)
	FlowPriority        = uint16(100)
	DispatchSlowAfter   = time.Millisecond * 4
)

// AppCookie packs an application id into the top bits of a flow cookie
func AppCookie(app uint16) uint64 {
	return uint64(app&(1<<AppIdBits-1)) << AppIdShift
}
