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
	"golang.org/x/sys/unix"
)

// readyEvent is one descriptor reported ready by a poll cycle.
type readyEvent struct {
	fd      int
	revents int16
}

// poller is a level-triggered readiness selector over poll(2). Each
// socket pool owns its own instance with the event mask of its
// discipline: POLLIN for listeners and readers, POLLOUT for connecting
// sockets and writable waits.
type poller struct {
	events    int16
	fds       []unix.PollFd
	readyList []readyEvent
}

func newPoller(events int16) *poller {
	return &poller{events: events}
}

func (p *poller) add(fd int) {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			return
		}
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: p.events})
}

// waitForWrite arms a writable wait; the owning pool drops the
// registration once the event fires.
func (p *poller) waitForWrite(fd int) {
	p.add(fd)
}

func (p *poller) remove(fd int) {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			return
		}
	}
}

func (p *poller) empty() bool {
	return len(p.fds) == 0
}

// poll blocks for up to timeout and returns the descriptors reported
// ready. Interruption by a signal yields an empty set, not an error.
// The returned slice is reused by the next call.
func (p *poller) poll(timeout time.Duration) ([]readyEvent, error) {
	if timeout < 0 {
		timeout = 0
	}
	n, err := unix.Poll(p.fds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrapf(ErrPoller, "poll: %s", err)
	}
	if n == 0 {
		return nil, nil
	}
	p.readyList = p.readyList[:0]
	for i := range p.fds {
		if p.fds[i].Revents != 0 {
			p.readyList = append(p.readyList, readyEvent{fd: int(p.fds[i].Fd), revents: p.fds[i].Revents})
			p.fds[i].Revents = 0
			n--
			if n == 0 {
				break
			}
		}
	}
	return p.readyList, nil
}

func (e readyEvent) hasError() bool {
	return e.revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0
}

func (e readyEvent) readable() bool {
	return e.revents&unix.POLLIN != 0
}

func (e readyEvent) writable() bool {
	return e.revents&unix.POLLOUT != 0
}
