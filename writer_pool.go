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

	"golang.org/x/sys/unix"
)

type writerObserver interface {
	onBytesWritten(id int, n int)
	onWriteFailure(id int, err error)
}

type sendFunc func(id int, b []byte) (int, sendStatus, error)

// writerAccount buffers outbound bytes for one socket. The cursor
// marks the first unsent byte; a partial send never loses data.
type writerAccount struct {
	id        int
	writable  bool
	chunkSize int
	b         []byte
	cursor    int
}

// writerPool owns per-socket outbound buffers and flushes them in
// MTU-sized chunks under a wall-clock budget. A transient send result
// (again, overflow) clears the writable flag and re-arms a writable
// wait on the poller; no account sends more than one chunk per flush
// pass.
type writerPool struct {
	poller      *poller
	accounts    map[int]*writerAccount
	order       []int // insertion order, round-robin across passes
	remainBytes uint64
	chunkSize   int
	send        sendFunc
	observer    writerObserver
	removable   []int
}

func newWriterPool(observer writerObserver, chunkSize int, send sendFunc) *writerPool {
	if send == nil {
		send = sendSocket
	}
	return &writerPool{
		poller:    newPoller(unix.POLLOUT),
		accounts:  make(map[int]*writerAccount),
		chunkSize: chunkSize,
		send:      send,
		observer:  observer,
	}
}

func (p *writerPool) ensureAccount(id int) *writerAccount {
	acc, ok := p.accounts[id]
	if !ok {
		acc = &writerAccount{id: id, chunkSize: p.chunkSize}
		p.accounts[id] = acc
		p.order = append(p.order, id)
		p.poller.waitForWrite(id)
	}
	return acc
}

func (p *writerPool) add(id int) {
	p.ensureAccount(id)
}

func (p *writerPool) enqueue(id int, data []byte) {
	if len(data) == 0 {
		return
	}
	acc := p.ensureAccount(id)
	acc.b = append(acc.b, data...)
	p.remainBytes += uint64(len(data))
}

// remain reports the total of unsent bytes across all accounts.
func (p *writerPool) remain() uint64 {
	return p.remainBytes
}

// step collects writable readiness and flushes under budget.
func (p *writerPool) step(budget time.Duration) {
	ready, err := p.poller.poll(0)
	if err != nil {
		p.observer.onWriteFailure(-1, err)
		return
	}
	for _, ev := range ready {
		// The wait is one-shot: level-triggered POLLOUT on an idle
		// socket would otherwise fire on every cycle.
		p.poller.remove(ev.fd)
		if acc, ok := p.accounts[ev.fd]; ok {
			acc.writable = true
		}
	}
	p.flush(budget)
}

func (p *writerPool) flush(budget time.Duration) {
	start := time.Now()
	for {
		progress := false
		for _, id := range p.order {
			acc, ok := p.accounts[id]
			if !ok || !acc.writable {
				continue
			}
			if acc.cursor == len(acc.b) {
				if len(acc.b) > 0 {
					acc.b = acc.b[:0]
					acc.cursor = 0
				}
				continue
			}

			chunk := acc.b[acc.cursor:]
			if len(chunk) > acc.chunkSize {
				chunk = chunk[:acc.chunkSize]
			}
			n, status, err := p.send(acc.id, chunk)
			switch status {
			case sendGood:
				if n > 0 {
					acc.cursor += n
					p.remainBytes -= uint64(n)
					progress = true
					p.observer.onBytesWritten(acc.id, n)
				}
			case sendAgain, sendOverflow:
				acc.writable = false
				p.poller.waitForWrite(acc.id)
			case sendNetwork, sendFailure:
				p.removeLater(acc.id)
				acc.writable = false
				p.observer.onWriteFailure(acc.id, err)
			}
		}
		if !progress || time.Since(start) >= budget {
			return
		}
	}
}

func (p *writerPool) removeLater(id int) {
	p.removable = append(p.removable, id)
}

func (p *writerPool) applyRemove() {
	for _, id := range p.removable {
		acc, ok := p.accounts[id]
		if !ok {
			continue
		}
		p.poller.remove(id)
		p.remainBytes -= uint64(len(acc.b) - acc.cursor)
		delete(p.accounts, id)
		for i, ordered := range p.order {
			if ordered == id {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.removable = p.removable[:0]
}

func (p *writerPool) empty() bool {
	return len(p.accounts) == 0
}
