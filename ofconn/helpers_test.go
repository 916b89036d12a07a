package ofconn

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/state"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func startController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	cfg.ListenAddr = netipLoopback()
	if cfg.Log == nil {
		cfg.Log = testLogger()
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 50 * time.Millisecond
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = -1
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = -1
	}
	c := NewController(cfg)
	require.NoError(t, c.Start())
	return c
}

func frame(typ MessageType, xid uint32, body []byte) []byte {
	b := make([]byte, headerLen+len(body))
	b[0] = 4
	b[1] = uint8(typ)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	binary.BigEndian.PutUint32(b[4:8], xid)
	copy(b[headerLen:], body)
	return b
}

func featuresReply(xid uint32, dpid uint64) []byte {
	body := make([]byte, 24)
	binary.BigEndian.PutUint64(body[0:8], dpid)
	binary.BigEndian.PutUint32(body[8:12], 256) // buffers
	body[12] = 254                              // tables
	return frame(TypeFeaturesReply, xid, body)
}

func getConfigReply(xid uint32, missSendLen uint16) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint16(body[2:4], missSendLen)
	return frame(TypeGetConfigReply, xid, body)
}

// testSwitch plays the switch side of a connection
type testSwitch struct {
	t    *testing.T
	conn net.Conn
	buf  bytes.Buffer
}

func dialSwitch(t *testing.T, c *Controller) *testSwitch {
	t.Helper()
	conn, err := net.Dial("tcp", c.Addr().String())
	require.NoError(t, err)
	return &testSwitch{t: t, conn: conn}
}

func (s *testSwitch) send(frames ...[]byte) {
	s.t.Helper()
	for _, f := range frames {
		_, err := s.conn.Write(f)
		require.NoError(s.t, err)
	}
}

// recv reads the next frame sent by the controller
func (s *testSwitch) recv() (MessageType, uint32, []byte, error) {
	tmp := make([]byte, 4096)
	for {
		if s.buf.Len() >= headerLen {
			length := int(binary.BigEndian.Uint16(s.buf.Bytes()[2:4]))
			if s.buf.Len() >= length {
				f := bytes.Clone(s.buf.Next(length))
				return MessageType(f[1]), binary.BigEndian.Uint32(f[4:8]), f, nil
			}
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		n, err := s.conn.Read(tmp)
		if err != nil {
			return 0, 0, nil, err
		}
		s.buf.Write(tmp[:n])
	}
}

// expect skips frames until one of type typ arrives
func (s *testSwitch) expect(typ MessageType) (uint32, []byte) {
	s.t.Helper()
	for {
		got, xid, f, err := s.recv()
		require.NoError(s.t, err, "waiting for %s", typ)
		if got == typ {
			return xid, f
		}
	}
}

// expectClosed drains the connection until the controller closes it
func (s *testSwitch) expectClosed() {
	s.t.Helper()
	for {
		_, _, _, err := s.recv()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.t.Fatalf("connection was not closed by the controller")
		}
		require.True(s.t, errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || isReset(err), "unexpected error %v", err)
		return
	}
}

func isReset(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (s *testSwitch) handshake(c *Controller, dpid uint64) *Switch {
	s.t.Helper()
	s.expect(TypeHello)
	s.send(frame(TypeHello, 1, nil))
	xid, _ := s.expect(TypeFeaturesRequest)
	s.send(featuresReply(xid, dpid))

	var sw *Switch
	require.Eventually(s.t, func() bool {
		var ok bool
		sw, ok = c.Switch(state.SwitchId(dpid))
		return ok
	}, 3*time.Second, 5*time.Millisecond)
	return sw
}

func (s *testSwitch) close() {
	_ = s.conn.Close()
}

// recorder is a listener that remembers what it saw
type recorder struct {
	name string
	cmd  Command
	log  *[]string

	mu       sync.Mutex
	switches []state.SwitchId
	msgs     []util.Message
}

func (r *recorder) Name() string {
	return r.name
}

func (r *recorder) Receive(sw *Switch, msg util.Message) Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
	r.switches = append(r.switches, sw.Id())
	r.msgs = append(r.msgs, msg)
	return r.cmd
}

func (r *recorder) seen() []state.SwitchId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]state.SwitchId(nil), r.switches...)
}

type switchEvents struct {
	mu      sync.Mutex
	added   []state.SwitchId
	removed []state.SwitchId
}

func (e *switchEvents) SwitchAdded(sw *Switch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.added = append(e.added, sw.Id())
}

func (e *switchEvents) SwitchRemoved(sw *Switch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, sw.Id())
}

func (e *switchEvents) snapshot() ([]state.SwitchId, []state.SwitchId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]state.SwitchId(nil), e.added...), append([]state.SwitchId(nil), e.removed...)
}

func netipLoopback() netip.AddrPort {
	return netip.MustParseAddrPort("127.0.0.1:0")
}

func dialSwitchErr(c *Controller) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.Addr().String(), time.Second)
	if err == nil {
		_ = conn.Close()
	}
	return conn, err
}
