// MIT License
//
// Copyright (c) 2016-2017 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package meshnet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Control and application frames share a tagged envelope. Integers are
// network byte order.
const (
	cmdHello     byte = 0x01 // 16-byte node id, 1-byte behind-NAT flag
	cmdAck       byte = 0x02 // 16-byte node id, 1-byte is-writer-here flag
	cmdHeartbeat byte = 0x03 // no payload
	cmdMessage   byte = 0x04 // 4-byte payload length, payload
)

const (
	helloFrameSize     = 1 + nodeIDSize + 1
	ackFrameSize       = 1 + nodeIDSize + 1
	heartbeatFrameSize = 1
	messageHeaderSize  = 1 + 4

	// Upper bound on a single application payload; a longer length
	// prefix is treated as a protocol violation rather than an
	// allocation request.
	maxMessageSize = 1 << 24
)

type frame struct {
	cmd     byte
	id      NodeID // HELLO and ACK only
	flag    bool   // behind-NAT (HELLO) or is-writer-here (ACK)
	payload []byte // MESSAGE only
}

func encodeFlag(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func encodeHello(id NodeID, behindNAT bool) []byte {
	b := make([]byte, helloFrameSize)
	b[0] = cmdHello
	copy(b[1:], id[:])
	b[1+nodeIDSize] = encodeFlag(behindNAT)
	return b
}

func encodeAck(id NodeID, isWriterHere bool) []byte {
	b := make([]byte, ackFrameSize)
	b[0] = cmdAck
	copy(b[1:], id[:])
	b[1+nodeIDSize] = encodeFlag(isWriterHere)
	return b
}

func encodeHeartbeat() []byte {
	return []byte{cmdHeartbeat}
}

func encodeMessage(payload []byte) []byte {
	b := make([]byte, messageHeaderSize+len(payload))
	b[0] = cmdMessage
	binary.BigEndian.PutUint32(b[1:], uint32(len(payload)))
	copy(b[messageHeaderSize:], payload)
	return b
}

// decodeFrame extracts one whole frame from b. A zero consumed count
// with a nil error means the frame is still partial and the bytes must
// be retained.
func decodeFrame(b []byte) (frame, int, error) {
	if len(b) == 0 {
		return frame{}, 0, nil
	}
	switch b[0] {
	case cmdHello, cmdAck:
		if len(b) < helloFrameSize {
			return frame{}, 0, nil
		}
		var f frame
		f.cmd = b[0]
		copy(f.id[:], b[1:1+nodeIDSize])
		f.flag = b[1+nodeIDSize] != 0
		return f, helloFrameSize, nil
	case cmdHeartbeat:
		return frame{cmd: cmdHeartbeat}, heartbeatFrameSize, nil
	case cmdMessage:
		if len(b) < messageHeaderSize {
			return frame{}, 0, nil
		}
		size := binary.BigEndian.Uint32(b[1:])
		if size > maxMessageSize {
			return frame{}, 0, errors.Wrapf(ErrInvalidProtocol, "message length %d exceeds limit", size)
		}
		if len(b) < messageHeaderSize+int(size) {
			return frame{}, 0, nil
		}
		payload := make([]byte, size)
		copy(payload, b[messageHeaderSize:messageHeaderSize+int(size)])
		return frame{cmd: cmdMessage, payload: payload}, messageHeaderSize + int(size), nil
	default:
		return frame{}, 0, errors.Wrapf(ErrInvalidProtocol, "unknown frame tag 0x%02x", b[0])
	}
}
