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
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type connectingObserver interface {
	onConnected(fd int, addr netip.AddrPort)
	onConnectionRefused(fd int, addr netip.AddrPort, err error)
	onConnectingFailure(err error)
}

type deferredConnect struct {
	deadline time.Time
	addr     netip.AddrPort
}

// connectingPool paces outbound connects. In-flight sockets wait for
// writable readiness; the pending socket error then decides between
// connected and refused. Deferred attempts implement the reconnection
// timeout.
type connectingPool struct {
	poller    *poller
	inflight  map[int]netip.AddrPort
	deferred  []deferredConnect
	completed []int // connected without entering in-progress state
	observer  connectingObserver
	removable []int
}

func newConnectingPool(observer connectingObserver) *connectingPool {
	return &connectingPool{
		poller:   newPoller(unix.POLLOUT),
		inflight: make(map[int]netip.AddrPort),
		observer: observer,
	}
}

// connect starts a non-blocking connect toward addr.
func (p *connectingPool) connect(addr netip.AddrPort) connStatus {
	fd, err := newStreamSocket()
	if err != nil {
		p.observer.onConnectingFailure(err)
		return connFailure
	}
	status, err := connectSocket(fd, addr)
	switch status {
	case connSuccess:
		// Completion is delivered on the next step so that callbacks
		// keep firing in step order.
		p.inflight[fd] = addr
		p.completed = append(p.completed, fd)
	case connInProgress:
		p.inflight[fd] = addr
		p.poller.add(fd)
	case connFailure:
		closeSocketFD(fd)
		if errors.Is(err, ErrConnectionRefused) {
			p.observer.onConnectionRefused(fd, addr, err)
		} else {
			p.observer.onConnectingFailure(err)
		}
	}
	return status
}

// connectTimeout schedules a fresh attempt toward addr after d.
func (p *connectingPool) connectTimeout(d time.Duration, addr netip.AddrPort) {
	p.deferred = append(p.deferred, deferredConnect{deadline: time.Now().Add(d), addr: addr})
}

func (p *connectingPool) step() {
	if len(p.deferred) > 0 {
		now := time.Now()
		pending := p.deferred[:0]
		for _, d := range p.deferred {
			if d.deadline.After(now) {
				pending = append(pending, d)
			} else {
				p.connect(d.addr)
			}
		}
		p.deferred = pending
	}

	if len(p.completed) > 0 {
		for _, fd := range p.completed {
			addr, ok := p.inflight[fd]
			if !ok {
				continue
			}
			delete(p.inflight, fd)
			p.observer.onConnected(fd, addr)
		}
		p.completed = p.completed[:0]
	}

	if p.poller.empty() {
		return
	}
	ready, err := p.poller.poll(0)
	if err != nil {
		p.observer.onConnectingFailure(err)
		return
	}
	for _, ev := range ready {
		addr, ok := p.inflight[ev.fd]
		if !ok {
			p.poller.remove(ev.fd)
			continue
		}
		p.poller.remove(ev.fd)
		delete(p.inflight, ev.fd)

		err := socketError(ev.fd)
		switch {
		case err == nil:
			p.observer.onConnected(ev.fd, addr)
		case errors.Is(err, ErrConnectionRefused):
			closeSocketFD(ev.fd)
			p.observer.onConnectionRefused(ev.fd, addr, err)
		default:
			closeSocketFD(ev.fd)
			p.observer.onConnectingFailure(err)
		}
	}
}

func (p *connectingPool) removeLater(fd int) {
	p.removable = append(p.removable, fd)
}

func (p *connectingPool) applyRemove() {
	for _, fd := range p.removable {
		if _, ok := p.inflight[fd]; ok {
			p.poller.remove(fd)
			delete(p.inflight, fd)
			closeSocketFD(fd)
		}
	}
	p.removable = p.removable[:0]
}
