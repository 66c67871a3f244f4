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
	"time"

	"github.com/pkg/errors"
)

// handshakeRole is the verdict of a completed handshake for the local
// endpoint of one socket.
type handshakeRole int

const (
	roleUnusable handshakeRole = iota
	roleReader
	roleWriter
)

func (r handshakeRole) String() string {
	switch r {
	case roleReader:
		return "reader"
	case roleWriter:
		return "writer"
	default:
		return "unusable"
	}
}

type handshakeState int

const (
	hsExpectHello handshakeState = iota // accepted socket, peer speaks first
	hsExpectAck                         // connected socket, HELLO sent
)

type handshakeEntry struct {
	deadline time.Time
	state    handshakeState
}

type handshakeObserver interface {
	onHandshakeCompleted(peer NodeID, id int, role handshakeRole, behindNAT bool)
	onHandshakeExpired(id int)
	onHandshakeFailure(id int, err error)
}

// handshakeContext is what the processor needs from the enclosing
// node: its identity and a way to put frames on the wire.
type handshakeContext interface {
	localID() NodeID
	localBehindNAT() bool
	sendFrame(id int, data []byte)
}

// handshakeProcessor negotiates the reader/writer role of each fresh
// socket. The initiator sends HELLO, the acceptor answers ACK; both
// sides then derive the same verdict from the total order on node ids:
// the lesser id owns the writer end.
type handshakeProcessor struct {
	ctx      handshakeContext
	observer handshakeObserver
	timeout  time.Duration
	entries  map[int]*handshakeEntry
}

func newHandshakeProcessor(ctx handshakeContext, observer handshakeObserver, timeout time.Duration) *handshakeProcessor {
	return &handshakeProcessor{
		ctx:      ctx,
		observer: observer,
		timeout:  timeout,
		entries:  make(map[int]*handshakeEntry),
	}
}

// start arms the handshake for a fresh socket. The initiator is the
// endpoint that dialed; accepted sockets wait for the peer's HELLO and
// expire just the same if it never arrives.
func (p *handshakeProcessor) start(id int, initiator bool) {
	entry := &handshakeEntry{deadline: time.Now().Add(p.timeout)}
	if initiator {
		entry.state = hsExpectAck
		p.ctx.sendFrame(id, encodeHello(p.ctx.localID(), p.ctx.localBehindNAT()))
	} else {
		entry.state = hsExpectHello
	}
	p.entries[id] = entry
}

func (p *handshakeProcessor) cancel(id int) {
	delete(p.entries, id)
}

func (p *handshakeProcessor) pending(id int) bool {
	_, ok := p.entries[id]
	return ok
}

// verdict derives the local role against peer.
func (p *handshakeProcessor) verdict(peer NodeID) handshakeRole {
	local := p.ctx.localID()
	if local == peer {
		return roleUnusable // self connection
	}
	if local.Less(peer) {
		return roleWriter
	}
	return roleReader
}

func (p *handshakeProcessor) processHello(id int, peer NodeID, behindNAT bool) {
	entry, ok := p.entries[id]
	if !ok || entry.state != hsExpectHello {
		p.fail(id, errors.Wrap(ErrInvalidProtocol, "unexpected HELLO"))
		return
	}
	role := p.verdict(peer)
	// is_writer_here tells the peer which end of this socket writes.
	p.ctx.sendFrame(id, encodeAck(p.ctx.localID(), role == roleWriter))
	delete(p.entries, id)
	p.observer.onHandshakeCompleted(peer, id, role, behindNAT)
}

func (p *handshakeProcessor) processAck(id int, peer NodeID, isWriterThere bool) {
	entry, ok := p.entries[id]
	if !ok || entry.state != hsExpectAck {
		p.fail(id, errors.Wrap(ErrInvalidProtocol, "unexpected ACK"))
		return
	}
	role := p.verdict(peer)
	if role != roleUnusable && isWriterThere == (role == roleWriter) {
		p.fail(id, errors.Wrap(ErrInvalidProtocol, "role disagreement in ACK"))
		return
	}
	delete(p.entries, id)
	p.observer.onHandshakeCompleted(peer, id, role, false)
}

func (p *handshakeProcessor) fail(id int, err error) {
	delete(p.entries, id)
	p.observer.onHandshakeFailure(id, err)
}

// step expires overdue handshakes.
func (p *handshakeProcessor) step(now time.Time) {
	var expired []int
	for id, entry := range p.entries {
		if !entry.deadline.After(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(p.entries, id)
		p.observer.onHandshakeExpired(id)
	}
}
