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
	"container/heap"
	"time"
)

type heartbeatItem struct {
	deadline time.Time
	id       int
}

type heartbeatHeap []heartbeatItem

func (h heartbeatHeap) Len() int            { return len(h) }
func (h heartbeatHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h heartbeatHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *heartbeatHeap) Push(x interface{}) { *h = append(*h, x.(heartbeatItem)) }
func (h *heartbeatHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type heartbeatContext interface {
	sendFrame(id int, data []byte)
}

// heartbeatScheduler sends a periodic liveness frame on every
// established socket. Missed heartbeats are not detected here; the
// reader pool's disconnect path serves that role.
type heartbeatScheduler struct {
	ctx     heartbeatContext
	timeout time.Duration
	q       heartbeatHeap
	fired   []int // scratch, re-armed after the due sweep
}

func newHeartbeatScheduler(ctx heartbeatContext, timeout time.Duration) *heartbeatScheduler {
	if timeout < 0 {
		timeout = 0
	}
	if timeout > maxHeartbeatTimeout {
		timeout = maxHeartbeatTimeout
	}
	return &heartbeatScheduler{ctx: ctx, timeout: timeout}
}

func (s *heartbeatScheduler) add(id int) {
	s.remove(id)
	heap.Push(&s.q, heartbeatItem{deadline: time.Now().Add(s.timeout), id: id})
}

func (s *heartbeatScheduler) remove(id int) {
	for i := 0; i < len(s.q); {
		if s.q[i].id == id {
			heap.Remove(&s.q, i)
		} else {
			i++
		}
	}
}

// step pops all due entries, sends one heartbeat frame each and
// re-inserts them with a fresh deadline. Due entries are collected
// first so a zero timeout fires once per socket per step.
func (s *heartbeatScheduler) step(now time.Time) {
	s.fired = s.fired[:0]
	for len(s.q) > 0 && !s.q[0].deadline.After(now) {
		item := heap.Pop(&s.q).(heartbeatItem)
		s.ctx.sendFrame(item.id, encodeHeartbeat())
		s.fired = append(s.fired, item.id)
	}
	for _, id := range s.fired {
		heap.Push(&s.q, heartbeatItem{deadline: now.Add(s.timeout), id: id})
	}
}
