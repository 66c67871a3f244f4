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

	"github.com/sagernet/sing/common/buf"
	"golang.org/x/sys/unix"
)

type readerObserver interface {
	onDataReady(id int, data []byte)
	onDisconnected(id int)
	onReadFailure(id int, err error)
}

type readerAccount struct {
	id int
	b  []byte
}

// readerPool drains readable sockets into per-socket buffers. A
// one-byte peek ahead of the drain distinguishes an orderly peer close
// from a spurious wakeup.
type readerPool struct {
	poller    *poller
	accounts  map[int]*readerAccount
	observer  readerObserver
	chunkSize int
	removable []int
}

func newReaderPool(observer readerObserver, chunkSize int) *readerPool {
	return &readerPool{
		poller:    newPoller(unix.POLLIN),
		accounts:  make(map[int]*readerAccount),
		observer:  observer,
		chunkSize: chunkSize,
	}
}

func (p *readerPool) add(id int) {
	if _, ok := p.accounts[id]; ok {
		return
	}
	p.accounts[id] = &readerAccount{id: id}
	p.poller.add(id)
}

// step waits for readable sockets for up to budget and drains them.
// Of the pools, only this one blocks; the others poll with a zero
// timeout.
func (p *readerPool) step(budget time.Duration) {
	ready, err := p.poller.poll(budget)
	if err != nil {
		p.observer.onReadFailure(-1, err)
		return
	}
	for _, ev := range ready {
		acc, ok := p.accounts[ev.fd]
		if !ok {
			continue
		}
		if ev.hasError() && !ev.readable() {
			err := socketError(ev.fd)
			p.poller.remove(ev.fd)
			if err != nil {
				p.observer.onReadFailure(ev.fd, err)
			}
			p.observer.onDisconnected(ev.fd)
			continue
		}
		p.drain(acc)
	}
}

func (p *readerPool) drain(acc *readerAccount) {
	n, err := peekSocket(acc.id)
	switch {
	case err != nil:
		p.poller.remove(acc.id)
		p.observer.onReadFailure(acc.id, err)
		return
	case n == 0:
		p.poller.remove(acc.id)
		p.observer.onDisconnected(acc.id)
		return
	}

	quantum := buf.Get(p.chunkSize)
	defer buf.Put(quantum)

	for {
		n, err := readSocket(acc.id, quantum)
		if err != nil || n <= 0 {
			break
		}
		acc.b = append(acc.b, quantum[:n]...)
		if n < p.chunkSize {
			break
		}
	}
	if len(acc.b) > 0 {
		p.observer.onDataReady(acc.id, acc.b)
		acc.b = acc.b[:0]
	}
}

func (p *readerPool) removeLater(id int) {
	p.removable = append(p.removable, id)
}

func (p *readerPool) applyRemove() {
	for _, id := range p.removable {
		p.poller.remove(id)
		delete(p.accounts, id)
	}
	p.removable = p.removable[:0]
}

func (p *readerPool) empty() bool {
	return len(p.accounts) == 0
}
