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
)

// socketRecord is the owning record of one live socket. All other
// subsystems hold only the id.
type socketRecord struct {
	id       int
	addr     netip.AddrPort
	accepted bool
}

// socketPool owns socket handles. Removal is deferred: ids are queued
// by removeLater and dropped by applyRemove, which runs last in the
// per-step removal sequence so other pools can still resolve ids
// during their own cleanup.
type socketPool struct {
	records   map[int]*socketRecord
	removable []int
}

func newSocketPool() *socketPool {
	return &socketPool{records: make(map[int]*socketRecord)}
}

func (p *socketPool) addAccepted(fd int, addr netip.AddrPort) {
	p.records[fd] = &socketRecord{id: fd, addr: addr, accepted: true}
}

func (p *socketPool) addConnected(fd int, addr netip.AddrPort) {
	p.records[fd] = &socketRecord{id: fd, addr: addr}
}

func (p *socketPool) locate(id int) *socketRecord {
	return p.records[id]
}

func (p *socketPool) removeLater(id int) {
	p.removable = append(p.removable, id)
}

func (p *socketPool) applyRemove() {
	for _, id := range p.removable {
		if _, ok := p.records[id]; ok {
			delete(p.records, id)
			closeSocketFD(id)
		}
	}
	p.removable = p.removable[:0]
}

func (p *socketPool) len() int {
	return len(p.records)
}
