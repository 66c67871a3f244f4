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
	"errors"
)

var (
	ErrPoller            = errors.New("poller failure")
	ErrSocket            = errors.New("socket failure")
	ErrInvalidProtocol   = errors.New("invalid protocol")
	ErrHandshakeExpired  = errors.New("handshake expired")
	ErrConnectionRefused = errors.New("connection refused")
	ErrNetworkDown       = errors.New("network down")
	ErrOverflow          = errors.New("send buffer overflow")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrUnknownPeer       = errors.New("unknown peer")
)

// connStatus is the outcome of a non-blocking connect attempt.
type connStatus int

const (
	connFailure connStatus = iota
	connSuccess
	connInProgress
)

// sendStatus classifies the outcome of a single non-blocking send.
// again and overflow are transient: the writer pool re-arms a writable
// wait and resumes at the cursor. network and failure are terminal for
// the socket.
type sendStatus int

const (
	sendGood sendStatus = iota
	sendAgain
	sendOverflow
	sendNetwork
	sendFailure
)
