//go:build linux

package ofconn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// poller is a level-triggered epoll set plus an eventfd used to interrupt a blocked wait
type poller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent

	// guards wakefd against being written after close
	mu     sync.Mutex
	closed bool
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &poller{epfd: epfd, wakefd: wakefd, events: make([]unix.EpollEvent, 128)}
	if err := p.ctl(unix.EPOLL_CTL_ADD, wakefd, readable); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func epollEvents(in interest) uint32 {
	var ev uint32
	if in&readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *poller) ctl(op, fd int, in interest) error {
	ev := &unix.EpollEvent{Events: epollEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl(%d, fd=%d): %w", op, fd, err)
	}
	return nil
}

func (p *poller) add(fd int, in interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, in)
}

func (p *poller) modify(fd int, in interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, in)
}

func (p *poller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl(del, fd=%d): %w", fd, err)
	}
	return nil
}

// wait blocks for at most timeout and calls fn for every ready descriptor.
// Hangups and errors are reported as readable so the following read surfaces them.
func (p *poller) wait(timeout time.Duration, fn func(fd int, ready interest)) error {
	n, err := unix.EpollWait(p.epfd, p.events, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("epoll_wait: %w", err)
	}
	for i := range n {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakefd {
			var buf [8]byte
			_, _ = unix.Read(p.wakefd, buf[:])
			continue
		}
		var ready interest
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready |= readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			ready |= writable
		}
		fn(fd, ready)
	}
	return nil
}

// wake interrupts a concurrent or the next wait. Safe from any goroutine.
func (p *poller) wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("wake: %w", err)
	}
	return nil
}

func (p *poller) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = unix.Close(p.wakefd)
	_ = unix.Close(p.epfd)
}
