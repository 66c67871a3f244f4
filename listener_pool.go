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

	"golang.org/x/sys/unix"
)

type listenerObserver interface {
	onAccepted(fd int, addr netip.AddrPort)
	onListenerFailure(err error)
}

// listenerPool owns listening sockets. Accepted sockets are handed to
// the observer; a failed accept is reported but does not remove the
// listener.
type listenerPool struct {
	poller    *poller
	listeners map[int]netip.AddrPort
	observer  listenerObserver
	listening bool
	removable []int
}

func newListenerPool(observer listenerObserver) *listenerPool {
	return &listenerPool{
		poller:    newPoller(unix.POLLIN),
		listeners: make(map[int]netip.AddrPort),
		observer:  observer,
	}
}

// add creates and binds a listening socket for addr. Listening starts
// on listen().
func (p *listenerPool) add(addr netip.AddrPort) error {
	fd, err := newStreamSocket()
	if err != nil {
		return err
	}
	if err = bindSocket(fd, addr); err != nil {
		closeSocketFD(fd)
		return err
	}
	if addr.Port() == 0 {
		addr = localAddrOf(fd)
	}
	p.listeners[fd] = addr
	return nil
}

// listen transitions all registered listeners to listening.
func (p *listenerPool) listen(backlog int) error {
	if p.listening {
		return nil
	}
	for fd := range p.listeners {
		if err := listenSocket(fd, backlog); err != nil {
			return err
		}
		p.poller.add(fd)
	}
	p.listening = true
	return nil
}

// addrs reports the bound listener addresses.
func (p *listenerPool) addrs() []netip.AddrPort {
	var out []netip.AddrPort
	for _, addr := range p.listeners {
		out = append(out, addr)
	}
	return out
}

func (p *listenerPool) step() {
	if p.poller.empty() {
		return
	}
	ready, err := p.poller.poll(0)
	if err != nil {
		p.observer.onListenerFailure(err)
		return
	}
	for _, ev := range ready {
		if !ev.readable() && !ev.hasError() {
			continue
		}
		for {
			fd, addr, err := acceptSocket(ev.fd)
			if err != nil {
				p.observer.onListenerFailure(err)
				break
			}
			if fd < 0 {
				break
			}
			p.observer.onAccepted(fd, addr)
		}
	}
}

func (p *listenerPool) removeLater(fd int) {
	p.removable = append(p.removable, fd)
}

func (p *listenerPool) applyRemove() {
	for _, fd := range p.removable {
		if _, ok := p.listeners[fd]; ok {
			p.poller.remove(fd)
			delete(p.listeners, fd)
			closeSocketFD(fd)
		}
	}
	p.removable = p.removable[:0]
}
