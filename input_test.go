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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type sinkEvents struct {
	hellos     map[int]NodeID
	acks       map[int]NodeID
	heartbeats map[int]int
	messages   map[int][][]byte
	protoErrs  map[int]error
	closer     *inputProcessor // when set, handlers remove the socket
}

func newSinkEvents() *sinkEvents {
	return &sinkEvents{
		hellos:     make(map[int]NodeID),
		acks:       make(map[int]NodeID),
		heartbeats: make(map[int]int),
		messages:   make(map[int][][]byte),
		protoErrs:  make(map[int]error),
	}
}

func (s *sinkEvents) handleHello(id int, peer NodeID, behindNAT bool) { s.hellos[id] = peer }
func (s *sinkEvents) handleAck(id int, peer NodeID, w bool)           { s.acks[id] = peer }
func (s *sinkEvents) handleHeartbeat(id int)                          { s.heartbeats[id]++ }
func (s *sinkEvents) handleMessage(id int, payload []byte) {
	s.messages[id] = append(s.messages[id], payload)
	if s.closer != nil {
		s.closer.remove(id)
	}
}
func (s *sinkEvents) handleProtocolError(id int, err error) { s.protoErrs[id] = err }

func TestInputDispatch(t *testing.T) {
	sink := newSinkEvents()
	p := newInputProcessor(sink)
	p.add(1)

	peer := NewNodeID()
	var stream []byte
	stream = append(stream, encodeHello(peer, false)...)
	stream = append(stream, encodeHeartbeat()...)
	stream = append(stream, encodeMessage([]byte("payload"))...)

	p.processInput(1, stream)
	require.Equal(t, peer, sink.hellos[1])
	require.Equal(t, 1, sink.heartbeats[1])
	require.Equal(t, [][]byte{[]byte("payload")}, sink.messages[1])
}

func TestInputReassemblesAcrossBatches(t *testing.T) {
	sink := newSinkEvents()
	p := newInputProcessor(sink)
	p.add(2)

	msg := encodeMessage([]byte("fragmented payload"))
	for i := 0; i < len(msg); i++ {
		p.processInput(2, msg[i:i+1])
	}
	require.Equal(t, [][]byte{[]byte("fragmented payload")}, sink.messages[2])
}

func TestInputUnknownSocketIgnored(t *testing.T) {
	sink := newSinkEvents()
	p := newInputProcessor(sink)

	p.processInput(9, encodeHeartbeat())
	require.Zero(t, sink.heartbeats[9])
}

func TestInputProtocolError(t *testing.T) {
	sink := newSinkEvents()
	p := newInputProcessor(sink)
	p.add(3)

	p.processInput(3, []byte{0x7f})
	require.True(t, errors.Is(sink.protoErrs[3], ErrInvalidProtocol))
	require.Empty(t, p.buffers[3])
}

func TestInputHandlerMayRemoveSocket(t *testing.T) {
	sink := newSinkEvents()
	p := newInputProcessor(sink)
	sink.closer = p
	p.add(4)

	var stream []byte
	stream = append(stream, encodeMessage([]byte("first"))...)
	stream = append(stream, encodeMessage([]byte("dropped"))...)
	p.processInput(4, stream)
	require.Equal(t, [][]byte{[]byte("first")}, sink.messages[4])
}

func TestInputRemoveDropsBuffer(t *testing.T) {
	p := newInputProcessor(newSinkEvents())
	p.add(5)
	p.processInput(5, []byte{cmdMessage, 0x00}) // partial header
	require.NotEmpty(t, p.buffers[5])
	p.remove(5)
	require.Empty(t, p.buffers[5])
}
