//go:build integration

package integration

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/nyflow/core"
	"github.com/encodeous/nyflow/state"
	"github.com/stretchr/testify/require"
)

const (
	ofHello            = 0
	ofEchoRequest      = 2
	ofEchoReply        = 3
	ofFeaturesRequest  = 5
	ofFeaturesReply    = 6
	ofGetConfigRequest = 7
	ofGetConfigReply   = 8
	ofPacketIn         = 10
	ofPortStatus       = 12
	ofPacketOut        = 13
	ofFlowMod          = 14

	WaitTimeout = 5 * time.Second
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

func frame(typ uint8, xid uint32, body []byte) []byte {
	buf := make([]byte, 8+len(body))
	buf[0] = 4
	buf[1] = typ
	binary.BigEndian.PutUint16(buf[2:], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[4:], xid)
	copy(buf[8:], body)
	return buf
}

// FlowMod is the part of a received flow mod the tests look at
type FlowMod struct {
	Cookie  uint64
	Command uint8
}

// VirtualSwitch is an in-process OpenFlow 1.3 switch connected to the controller over tcp
type VirtualSwitch struct {
	Id         state.SwitchId
	Configured Signal

	conn  net.Conn
	wmu   sync.Mutex
	mu    sync.Mutex
	flows []FlowMod
	outs  int
	done  chan struct{}
}

func DialSwitch(addr string, id state.SwitchId) (*VirtualSwitch, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	v := &VirtualSwitch{
		Id:         id,
		Configured: NewSignal(),
		conn:       conn,
		done:       make(chan struct{}),
	}
	if err := v.write(frame(ofHello, 1, nil)); err != nil {
		conn.Close()
		return nil, err
	}
	go v.readLoop()
	return v, nil
}

func (v *VirtualSwitch) write(buf []byte) error {
	v.wmu.Lock()
	defer v.wmu.Unlock()
	_, err := v.conn.Write(buf)
	return err
}

func (v *VirtualSwitch) readLoop() {
	defer close(v.done)
	hdr := make([]byte, 8)
	for {
		if _, err := io.ReadFull(v.conn, hdr); err != nil {
			return
		}
		body := make([]byte, int(binary.BigEndian.Uint16(hdr[2:]))-8)
		if _, err := io.ReadFull(v.conn, body); err != nil {
			return
		}
		xid := binary.BigEndian.Uint32(hdr[4:])
		switch hdr[1] {
		case ofEchoRequest:
			_ = v.write(frame(ofEchoReply, xid, body))
		case ofFeaturesRequest:
			features := make([]byte, 24)
			binary.BigEndian.PutUint64(features, uint64(v.Id))
			binary.BigEndian.PutUint32(features[8:], 256)
			features[12] = 254
			_ = v.write(frame(ofFeaturesReply, xid, features))
		case ofGetConfigRequest:
			cfg := make([]byte, 4)
			binary.BigEndian.PutUint16(cfg[2:], state.MissSendLenNoBuffer)
			_ = v.write(frame(ofGetConfigReply, xid, cfg))
			v.Configured.Trigger()
		case ofFlowMod:
			v.mu.Lock()
			v.flows = append(v.flows, FlowMod{Cookie: binary.BigEndian.Uint64(body), Command: body[17]})
			v.mu.Unlock()
		case ofPacketOut:
			v.mu.Lock()
			v.outs++
			v.mu.Unlock()
		}
	}
}

// FlowMods returns the flow mods received with the given cookie
func (v *VirtualSwitch) FlowMods(cookie uint64) []FlowMod {
	v.mu.Lock()
	defer v.mu.Unlock()
	var res []FlowMod
	for _, f := range v.flows {
		if f.Cookie == cookie {
			res = append(res, f)
		}
	}
	return res
}

func (v *VirtualSwitch) PacketOuts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.outs
}

// PacketIn sends a table-miss packet-in carrying a minimal ethernet frame
func (v *VirtualSwitch) PacketIn(inPort uint32, src, dst net.HardwareAddr, bufferId uint32) error {
	eth := make([]byte, 60)
	copy(eth, dst)
	copy(eth[6:], src)
	binary.BigEndian.PutUint16(eth[12:], 0x88b5)

	body := make([]byte, 16, 16+16+2+len(eth))
	binary.BigEndian.PutUint32(body, bufferId)
	binary.BigEndian.PutUint16(body[4:], uint16(len(eth)))

	match := make([]byte, 16)
	binary.BigEndian.PutUint16(match, 1)
	binary.BigEndian.PutUint16(match[2:], 12)
	binary.BigEndian.PutUint16(match[4:], 0x8000)
	match[6] = 0
	match[7] = 4
	binary.BigEndian.PutUint32(match[8:], inPort)

	body = append(body, match...)
	body = append(body, 0, 0)
	body = append(body, eth...)
	return v.write(frame(ofPacketIn, 0, body))
}

// PortDeleted reports that a port has been removed from the switch
func (v *VirtualSwitch) PortDeleted(port uint32) error {
	body := make([]byte, 8+64)
	body[0] = 1
	binary.BigEndian.PutUint32(body[8:], port)
	copy(body[8+16:], fmt.Sprintf("eth%d", port))
	return v.write(frame(ofPortStatus, 0, body))
}

func (v *VirtualSwitch) Close() {
	_ = v.conn.Close()
	<-v.done
}

// VirtualHarness runs a full controller against virtual switches
type VirtualHarness struct {
	t        *testing.T
	Cfg      state.ControllerCfg
	State    *state.State
	Switches map[state.SwitchId]*VirtualSwitch
}

func NewHarness(t *testing.T, cfg state.ControllerCfg) *VirtualHarness {
	t.Helper()
	state.ExpandConfig(&cfg)
	require.NoError(t, state.ConfigValidator(&cfg))

	s, done, err := core.Launch(cfg, slog.LevelDebug)
	require.NoError(t, err)
	h := &VirtualHarness{
		t:        t,
		Cfg:      cfg,
		State:    s,
		Switches: make(map[state.SwitchId]*VirtualSwitch),
	}
	t.Cleanup(func() {
		for _, v := range h.Switches {
			v.Close()
		}
		s.Cancel(errors.New("test finished"))
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(WaitTimeout):
			t.Error("controller did not stop")
		}
	})
	return h
}

// AddSwitch connects a virtual switch and waits until the controller has indexed it
func (h *VirtualHarness) AddSwitch(id state.SwitchId) *VirtualSwitch {
	h.t.Helper()
	ctrl := core.Get[*core.Switches](h.State).Controller
	v, err := DialSwitch(ctrl.Addr().String(), id)
	require.NoError(h.t, err)
	h.Switches[id] = v

	select {
	case <-v.Configured:
	case <-time.After(WaitTimeout):
		h.t.Fatalf("switch %s was never configured", id)
	}
	require.Eventually(h.t, func() bool {
		_, ok := ctrl.Switch(id)
		return ok
	}, WaitTimeout, 10*time.Millisecond)
	return v
}

func (h *VirtualHarness) Inspect() string {
	h.t.Helper()
	res, err := core.IPCGet(h.Cfg.AdminSocket)
	require.NoError(h.t, err)
	return res
}
