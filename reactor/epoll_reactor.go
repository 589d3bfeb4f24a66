//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-prefork/api"
)

// Reactor is an edge-triggered epoll instance with per-fd callbacks.
type Reactor struct {
	epfd      int
	events    []unix.EpollEvent
	callbacks map[int]FDCallback
}

// New creates an epoll instance able to report maxEvents per wait.
func New(maxEvents int) (*Reactor, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Reactor{
		epfd:      epfd,
		events:    make([]unix.EpollEvent, maxEvents),
		callbacks: make(map[int]FDCallback),
	}, nil
}

func toEpoll(events api.EventMask) uint32 {
	ev := uint32(unix.EPOLLET)
	if events&api.EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&api.EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) api.EventMask {
	var m api.EventMask
	if ev&unix.EPOLLIN != 0 {
		m |= api.EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= api.EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		m |= api.EventError
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		m |= api.EventHangup
	}
	return m
}

// Register switches fd to non-blocking mode and adds it to the watch list.
func (r *Reactor) Register(fd int, events api.EventMask, cb FDCallback) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock fd=%d: %w", fd, err)
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
	}
	r.callbacks[fd] = cb
	return nil
}

// Modify replaces the interest set of an already registered fd.
func (r *Reactor) Modify(fd int, events api.EventMask) error {
	if _, ok := r.callbacks[fd]; !ok {
		return fmt.Errorf("epoll ctl mod fd=%d: %w", fd, api.ErrNotFound)
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the watch list. The fd itself stays open.
func (r *Reactor) Unregister(fd int) error {
	if _, ok := r.callbacks[fd]; !ok {
		return nil
	}
	delete(r.callbacks, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Registered reports whether fd is currently watched.
func (r *Reactor) Registered(fd int) bool {
	_, ok := r.callbacks[fd]
	return ok
}

// Poll waits for readiness and runs callbacks in the order epoll reported
// them. timeoutMs < 0 blocks until something is ready. An interrupted wait
// returns (0, nil).
func (r *Reactor) Poll(timeoutMs int) (int, error) {
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := unix.EpollWait(r.epfd, r.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)
		// a callback earlier in this batch may have removed fd
		cb, ok := r.callbacks[fd]
		if !ok {
			continue
		}
		cb(fd, fromEpoll(ev.Events))
	}
	return n, nil
}

// Close releases the epoll descriptor. Registered fds are not closed.
func (r *Reactor) Close() error {
	r.callbacks = nil
	return unix.Close(r.epfd)
}
