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

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// newStreamSocket creates a non-blocking IPv4 stream socket with
// SO_REUSEADDR and SO_KEEPALIVE set.
func newStreamSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrapf(ErrSocket, "create stream socket: %s", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err == nil {
		err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	}
	if err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(ErrSocket, "set socket option: %s", err)
	}
	return fd, nil
}

func sockaddrOf(addr netip.AddrPort) (*unix.SockaddrInet4, error) {
	ip := addr.Addr().Unmap()
	if !ip.Is4() {
		return nil, errors.Wrapf(ErrSocket, "not an IPv4 address: %s", ip)
	}
	return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}, nil
}

func addrPortOf(sa unix.Sockaddr) netip.AddrPort {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return netip.AddrPortFrom(netip.AddrFrom4(sa4.Addr), uint16(sa4.Port))
	}
	return netip.AddrPort{}
}

func bindSocket(fd int, addr netip.AddrPort) error {
	sa, err := sockaddrOf(addr)
	if err != nil {
		return err
	}
	if err = unix.Bind(fd, sa); err != nil {
		return errors.Wrapf(ErrSocket, "bind %s: %s", addr, err)
	}
	return nil
}

func listenSocket(fd int, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return errors.Wrapf(ErrSocket, "listen: %s", err)
	}
	return nil
}

// localAddrOf resolves the bound address, after bind assigned an
// ephemeral port.
func localAddrOf(fd int) netip.AddrPort {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return addrPortOf(sa)
}

func acceptSocket(fd int) (int, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, netip.AddrPort{}, nil
		}
		return -1, netip.AddrPort{}, errors.Wrapf(ErrSocket, "accept: %s", err)
	}
	return nfd, addrPortOf(sa), nil
}

func connectSocket(fd int, addr netip.AddrPort) (connStatus, error) {
	sa, err := sockaddrOf(addr)
	if err != nil {
		return connFailure, err
	}
	switch err = unix.Connect(fd, sa); err {
	case nil:
		return connSuccess, nil
	case unix.EINPROGRESS:
		return connInProgress, nil
	case unix.ECONNREFUSED:
		return connFailure, errors.Wrapf(ErrConnectionRefused, "connect %s", addr)
	default:
		return connFailure, errors.Wrapf(ErrSocket, "connect %s: %s", addr, err)
	}
}

// socketError drains the pending error of a socket, the way connect
// completion is checked on writable readiness.
func socketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.Wrapf(ErrSocket, "getsockopt: %s", err)
	}
	if v == 0 {
		return nil
	}
	errno := unix.Errno(v)
	if errno == unix.ECONNREFUSED {
		return errors.Wrap(ErrConnectionRefused, "connect")
	}
	return errors.Wrapf(ErrSocket, "socket: %s", errno)
}

// sendSocket performs one non-blocking send and classifies the result.
func sendSocket(fd int, b []byte) (int, sendStatus, error) {
	n, err := unix.SendmsgN(fd, b, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
	if err == nil {
		return n, sendGood, nil
	}
	switch err {
	case unix.EAGAIN, unix.EINTR:
		return 0, sendAgain, nil
	case unix.ENOBUFS, unix.ENOMEM:
		return 0, sendOverflow, nil
	case unix.ECONNRESET, unix.EPIPE, unix.ENETDOWN, unix.ENETUNREACH, unix.EHOSTUNREACH:
		return 0, sendNetwork, errors.Wrapf(ErrNetworkDown, "send: %s", err)
	default:
		return 0, sendFailure, errors.Wrapf(ErrSocket, "send: %s", err)
	}
}

// peekSocket performs the one-byte peek that distinguishes an orderly
// peer close from a spurious wakeup. It reports n > 0 when data is
// pending, n == 0 on orderly close.
func peekSocket(fd int) (int, error) {
	var b [1]byte
	n, _, err := unix.Recvfrom(fd, b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 1, nil // spurious wakeup, not a close
		}
		if err == unix.ECONNRESET {
			return 0, nil // reported as orderly close
		}
		return -1, errors.Wrapf(ErrSocket, "peek: %s", err)
	}
	return n, nil
}

func readSocket(fd int, b []byte) (int, error) {
	n, err := unix.Read(fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		return -1, errors.Wrapf(ErrSocket, "read: %s", err)
	}
	return n, nil
}

func closeSocketFD(fd int) {
	unix.Shutdown(fd, unix.SHUT_RDWR)
	unix.Close(fd)
}
