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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketPoolOrigin(t *testing.T) {
	local, remote := socketPair(t)

	p := newSocketPool()
	addr := netip.MustParseAddrPort("127.0.0.1:4001")
	p.addAccepted(local, addr)
	p.addConnected(remote, addr)

	rec := p.locate(local)
	require.NotNil(t, rec)
	require.True(t, rec.accepted)
	require.Equal(t, addr, rec.addr)

	rec = p.locate(remote)
	require.NotNil(t, rec)
	require.False(t, rec.accepted)

	require.Nil(t, p.locate(12345))
}

func TestSocketPoolDeferredRemove(t *testing.T) {
	local, remote := socketPair(t)

	p := newSocketPool()
	addr := netip.MustParseAddrPort("127.0.0.1:4001")
	p.addAccepted(local, addr)
	p.addConnected(remote, addr)

	p.removeLater(local)
	// still resolvable until applyRemove, so other pools can finish
	// their own cleanup
	require.NotNil(t, p.locate(local))

	p.applyRemove()
	require.Nil(t, p.locate(local))
	require.Equal(t, 1, p.len())

	// double removal is harmless
	p.removeLater(remote)
	p.removeLater(remote)
	p.applyRemove()
	require.Zero(t, p.len())
}
