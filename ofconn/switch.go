package ofconn

import (
	"bytes"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/perf"
	"github.com/encodeous/nyflow/state"
	"github.com/google/uuid"
)

// Switch is the handle of one switch connection. It is owned by a single
// worker loop for its whole lifetime; only Write and the accessors may be
// used from other goroutines.
type Switch struct {
	ctrl        *Controller
	worker      *worker
	fd          int
	seq         uint64
	session     uuid.UUID
	remote      netip.AddrPort
	connectedAt time.Time
	codec       Codec

	// worker only
	inbuf     bytes.Buffer
	helloSeen bool
	lastEcho  time.Time

	mu         sync.Mutex
	outbuf     bytes.Buffer
	interest   interest
	registered bool
	closed     bool

	id         atomic.Uint64
	hasId      atomic.Bool
	features   atomic.Pointer[openflow13.SwitchFeatures]
	configured atomic.Bool
	xid        atomic.Uint32
	lastRead   atomic.Int64
	attrs      sync.Map

	requirementsDone chan struct{}
	requirementsOnce sync.Once
}

func newSwitch(c *Controller, w *worker, fd int, seq uint64, remote netip.AddrPort) *Switch {
	now := time.Now()
	sw := &Switch{
		ctrl:             c,
		worker:           w,
		fd:               fd,
		seq:              seq,
		session:          uuid.New(),
		remote:           remote,
		connectedAt:      now,
		codec:            c.cfg.Codec,
		requirementsDone: make(chan struct{}),
	}
	sw.lastRead.Store(now.UnixNano())
	return sw
}

// Id is the datapath id reported in the features reply. It is zero until HasId is true.
func (sw *Switch) Id() state.SwitchId {
	return state.SwitchId(sw.id.Load())
}

func (sw *Switch) HasId() bool {
	return sw.hasId.Load()
}

// Features returns the handshake result, or nil before the features reply arrived
func (sw *Switch) Features() *openflow13.SwitchFeatures {
	return sw.features.Load()
}

// Attributes is a free-form bag applications can hang per-switch state on
func (sw *Switch) Attributes() *sync.Map {
	return &sw.attrs
}

// Codec is the decoder used for this switch's inbound stream
func (sw *Switch) Codec() Codec {
	return sw.codec
}

func (sw *Switch) Version() uint8 {
	return sw.codec.Version()
}

func (sw *Switch) Session() uuid.UUID {
	return sw.session
}

func (sw *Switch) RemoteAddr() netip.AddrPort {
	return sw.remote
}

func (sw *Switch) ConnectedAt() time.Time {
	return sw.connectedAt
}

// LastSeen is the last time anything was read from the switch
func (sw *Switch) LastSeen() time.Time {
	return time.Unix(0, sw.lastRead.Load())
}

// NextXid returns a fresh transaction id for a request sent to this switch
func (sw *Switch) NextXid() uint32 {
	return sw.xid.Add(1)
}

func (sw *Switch) String() string {
	if sw.HasId() {
		return fmt.Sprintf("%s@%s", sw.Id(), sw.remote)
	}
	return fmt.Sprintf("(handshaking)@%s", sw.remote)
}

// Write queues messages for the owning worker to flush. It never blocks on the socket.
func (sw *Switch) Write(msgs ...util.Message) error {
	bufs := make([][]byte, 0, len(msgs))
	for _, msg := range msgs {
		b, err := encode(msg)
		if err != nil {
			return err
		}
		bufs = append(bufs, b)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrSwitchClosed
	}
	for _, b := range bufs {
		sw.outbuf.Write(b)
	}
	perf.MessagesSent.Add(float64(len(bufs)))
	return sw.updateInterestLocked()
}

// Disconnect asks the owning worker to tear the connection down
func (sw *Switch) Disconnect() {
	sw.worker.requestClose(sw, ErrDisconnectRequested)
}

// Closed reports whether the connection has been torn down
func (sw *Switch) Closed() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.closed
}

// updateInterestLocked asserts write interest iff unflushed bytes remain, read interest otherwise
func (sw *Switch) updateInterestLocked() error {
	want := readable
	if sw.outbuf.Len() > 0 {
		want = writable
	}
	if !sw.registered || want == sw.interest {
		return nil
	}
	if err := sw.worker.poller.modify(sw.fd, want); err != nil {
		return err
	}
	sw.interest = want
	return nil
}

// flush writes as much buffered output as the socket accepts
func (sw *Switch) flush() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed || sw.outbuf.Len() == 0 {
		return nil
	}
	n, err := writeSome(sw.fd, sw.outbuf.Bytes())
	if n > 0 {
		sw.outbuf.Next(n)
		perf.BytesSent.Add(float64(n))
	}
	return err
}

// fill performs one read into the inbound buffer
func (sw *Switch) fill(buf []byte) (eof bool, err error) {
	n, again, err := readSome(sw.fd, buf)
	if err != nil || again {
		return false, err
	}
	if n == 0 {
		return true, nil
	}
	sw.inbuf.Write(buf[:n])
	sw.lastRead.Store(time.Now().UnixNano())
	perf.BytesReceived.Add(float64(n))
	return false, nil
}
