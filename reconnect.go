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

	"github.com/cenkalti/backoff/v5"
)

// ReconnectPolicy decides the delay before re-dialing a lost outbound
// connection. A zero duration disables reconnection. Accepted sockets
// are never reconnected.
type ReconnectPolicy interface {
	Timeout() time.Duration
}

// NoReconnect disables reconnection.
type NoReconnect struct{}

func (NoReconnect) Timeout() time.Duration { return 0 }

// FixedReconnect retries at a constant interval.
type FixedReconnect struct {
	Interval time.Duration
}

func (p FixedReconnect) Timeout() time.Duration { return p.Interval }

// BackoffReconnect retries with exponential backoff.
type BackoffReconnect struct {
	b *backoff.ExponentialBackOff
}

func NewBackoffReconnect(initial, max time.Duration) *BackoffReconnect {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	return &BackoffReconnect{b: b}
}

func (p *BackoffReconnect) Timeout() time.Duration {
	d := p.b.NextBackOff()
	if d < 0 {
		return 0
	}
	return d
}
