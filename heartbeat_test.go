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
	"time"

	"github.com/stretchr/testify/require"
)

type frameSink struct {
	sent map[int]int
}

func (s *frameSink) sendFrame(id int, data []byte) {
	if s.sent == nil {
		s.sent = make(map[int]int)
	}
	if len(data) == 1 && data[0] == cmdHeartbeat {
		s.sent[id]++
	}
}

func TestHeartbeatCadence(t *testing.T) {
	sink := new(frameSink)
	s := newHeartbeatScheduler(sink, 100*time.Millisecond)

	base := time.Now()
	s.add(1)

	// a step right away fires nothing, the deadline is in the future
	s.step(base)
	require.Zero(t, sink.sent[1])

	// one firing per elapsed interval, re-armed each time
	for i := 1; i <= 10; i++ {
		s.step(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	require.GreaterOrEqual(t, sink.sent[1], 9)
	require.LessOrEqual(t, sink.sent[1], 11)
}

func TestHeartbeatZeroTimeoutFiresEveryStep(t *testing.T) {
	sink := new(frameSink)
	s := newHeartbeatScheduler(sink, 0)

	s.add(3)
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.step(now.Add(time.Duration(i)))
	}
	require.Equal(t, 5, sink.sent[3])
}

func TestHeartbeatRemove(t *testing.T) {
	sink := new(frameSink)
	s := newHeartbeatScheduler(sink, 0)

	s.add(1)
	s.add(2)
	s.remove(1)
	s.step(time.Now())
	require.Zero(t, sink.sent[1])
	require.Equal(t, 1, sink.sent[2])
}

func TestHeartbeatReAddResetsDeadline(t *testing.T) {
	sink := new(frameSink)
	s := newHeartbeatScheduler(sink, time.Hour)

	s.add(1)
	s.q[0].deadline = time.Time{} // make the entry long overdue
	s.add(1)
	require.Len(t, s.q, 1)
	require.True(t, s.q[0].deadline.After(time.Now()))
}

func TestHeartbeatTimeoutClamp(t *testing.T) {
	s := newHeartbeatScheduler(new(frameSink), -time.Second)
	require.Equal(t, time.Duration(0), s.timeout)

	s = newHeartbeatScheduler(new(frameSink), 48*time.Hour)
	require.Equal(t, maxHeartbeatTimeout, s.timeout)
}
