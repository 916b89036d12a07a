package ofconn

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
)

const headerLen = 8

// Codec turns a single complete frame into a typed message
type Codec interface {
	Version() uint8
	Decode(frame []byte) (util.Message, error)
}

// OF13Codec decodes OpenFlow 1.3 messages
type OF13Codec struct{}

func (OF13Codec) Version() uint8 {
	return openflow13.VERSION
}

// Decode never panics: libOpenflow indexes message bodies without bounds
// checks, so a truncated body is reported as an error instead.
func (OF13Codec) Decode(frame []byte) (msg util.Message, err error) {
	// hellos are version independent so the handshake can reject old switches cleanly
	if frame[0] != openflow13.VERSION && MessageType(frame[1]) != TypeHello {
		return nil, fmt.Errorf("unsupported protocol version %d", frame[0])
	}
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("%w: %v", ErrMalformedMessage, r)
		}
	}()
	return openflow13.Parse(frame)
}

type inbound struct {
	version uint8
	typ     MessageType
	xid     uint32
	msg     util.Message
}

// nextFrame removes the next complete frame from buf and decodes it.
// ok is false when buf does not yet hold a complete frame.
func nextFrame(buf *bytes.Buffer, codec Codec) (in inbound, ok bool, err error) {
	if buf.Len() < headerLen {
		return in, false, nil
	}
	hdr := buf.Bytes()[:headerLen]
	length := int(binary.BigEndian.Uint16(hdr[2:4]))
	if length < headerLen {
		return in, false, fmt.Errorf("invalid frame length %d", length)
	}
	if buf.Len() < length {
		return in, false, nil
	}
	frame := bytes.Clone(buf.Next(length))

	in.version = frame[0]
	in.typ = MessageType(frame[1])
	in.xid = binary.BigEndian.Uint32(frame[4:8])
	in.msg, err = codec.Decode(frame)
	if err != nil {
		return in, false, fmt.Errorf("decode %s: %w", in.typ, err)
	}
	if in.msg == nil {
		return in, false, fmt.Errorf("decode %s: codec returned no message", in.typ)
	}
	return in, true, nil
}

func encode(msg util.Message) ([]byte, error) {
	b, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	if len(b) < headerLen {
		return nil, fmt.Errorf("encode %T: short message (%d bytes)", msg, len(b))
	}
	return b, nil
}

// newHeaderMsg builds a body-less message such as an echo or a config request
func newHeaderMsg(version uint8, typ MessageType, xid uint32) *common.Header {
	return &common.Header{
		Version: version,
		Type:    uint8(typ),
		Length:  headerLen,
		Xid:     xid,
	}
}
