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
	mapset "github.com/deckarep/golang-set/v2"
)

// inputSink receives the frames the dispatcher pulls out of the byte
// stream.
type inputSink interface {
	handleHello(id int, peer NodeID, behindNAT bool)
	handleAck(id int, peer NodeID, isWriterHere bool)
	handleHeartbeat(id int)
	handleMessage(id int, payload []byte)
	handleProtocolError(id int, err error)
}

// inputProcessor reassembles frames from the reader pool's byte
// batches and routes them by tag. A partial trailing frame stays in
// the per-socket buffer.
type inputProcessor struct {
	sink    inputSink
	known   mapset.Set[int]
	buffers map[int][]byte
}

func newInputProcessor(sink inputSink) *inputProcessor {
	return &inputProcessor{
		sink:    sink,
		known:   mapset.NewThreadUnsafeSet[int](),
		buffers: make(map[int][]byte),
	}
}

func (p *inputProcessor) add(id int) {
	p.known.Add(id)
}

func (p *inputProcessor) remove(id int) {
	p.known.Remove(id)
	delete(p.buffers, id)
}

func (p *inputProcessor) processInput(id int, data []byte) {
	if !p.known.Contains(id) {
		return
	}
	b := append(p.buffers[id], data...)
	for len(b) > 0 {
		f, n, err := decodeFrame(b)
		if err != nil {
			delete(p.buffers, id)
			p.sink.handleProtocolError(id, err)
			return
		}
		if n == 0 {
			break
		}
		b = b[n:]
		switch f.cmd {
		case cmdHello:
			p.sink.handleHello(id, f.id, f.flag)
		case cmdAck:
			p.sink.handleAck(id, f.id, f.flag)
		case cmdHeartbeat:
			p.sink.handleHeartbeat(id)
		case cmdMessage:
			p.sink.handleMessage(id, f.payload)
		}
		if !p.known.Contains(id) {
			// A frame handler closed the socket; drop the tail.
			return
		}
	}
	p.buffers[id] = b
}
