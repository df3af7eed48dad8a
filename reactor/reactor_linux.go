//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based event reactor.
type linuxReactor struct {
	epfd int
}

// NewReactor constructs the platform EventReactor for Linux.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &linuxReactor{epfd: epfd}, nil
}

// Register adds a file descriptor to the epoll interest set.
func (r *linuxReactor) Register(fd int, wantWrite bool) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLERR,
		Fd:     int32(fd),
	}
	if wantWrite {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify rewrites a registered descriptor's epoll interest.
func (r *linuxReactor) Modify(fd int, wantWrite bool) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLERR,
		Fd:     int32(fd),
	}
	if wantWrite {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Unregister removes a file descriptor from the epoll interest set.
func (r *linuxReactor) Unregister(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks up to timeoutMs and translates raw epoll events.
func (r *linuxReactor) Wait(events []Event, timeoutMs int) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		var t EventType
		if raw[i].Events&unix.EPOLLIN != 0 {
			t |= EventRead
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			t |= EventWrite
		}
		if raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			t |= EventError
		}
		events[i] = Event{Fd: int(raw[i].Fd), Events: t}
	}
	return n, nil
}

// Close releases the epoll instance.
func (r *linuxReactor) Close() error {
	return unix.Close(r.epfd)
}
