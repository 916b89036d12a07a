//go:build linux

package ofconn

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

func toSockaddr(ap netip.AddrPort) unix.Sockaddr {
	if ap.Addr().Is4() || ap.Addr().Is4In6() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().Unmap().As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

// listenTCP opens a non-blocking listening socket and returns the bound address
func listenTCP(addr netip.AddrPort) (int, netip.AddrPort, error) {
	family := unix.AF_INET6
	if addr.Addr().Is4() || addr.Addr().Is4In6() {
		family = unix.AF_INET
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, netip.AddrPort{}, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (int, netip.AddrPort, error) {
		_ = unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("%s %s: %w", op, addr, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, toSockaddr(addr)); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail("listen", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	return fd, fromSockaddr(sa), nil
}

// accept returns the next pending connection, or ok=false once the backlog is drained
func accept(lfd int) (fd int, remote netip.AddrPort, ok bool, err error) {
	for {
		nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return nfd, fromSockaddr(sa), true, nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return -1, netip.AddrPort{}, false, nil
		default:
			return -1, netip.AddrPort{}, false, fmt.Errorf("accept: %w", err)
		}
	}
}

// readSome performs a single non-blocking read. n == 0 with a nil error means end of stream.
func readSome(fd int, buf []byte) (n int, again bool, err error) {
	n, err = unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("read: %w", err)
	}
	return n, false, nil
}

// writeSome performs a single non-blocking write
func writeSome(fd int, b []byte) (int, error) {
	n, err := unix.Write(fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

func closeFd(fd int) {
	_ = unix.Close(fd)
}
