//go:build linux
// +build linux

package poller

import (
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const oneShotRead = unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLONESHOT

var wakeWriteBytes = []byte{1, 0, 0, 0, 0, 0, 0, 0}

// epoll keeps the user token of each registration in the Pad half of the
// event data, next to the descriptor.
type epoll struct {
	mu     sync.RWMutex // write-held only by close
	fd     int
	wakeFd int
	closed bool
}

func newBackend(hint int) (backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &CreationError{Op: "epoll_create1", Err: err}
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(fd)
		return nil, &CreationError{Op: "eventfd", Err: err}
	}

	// Level triggered and never drained: once written, every wait returns.
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wakeFd, ev); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(wakeFd)
		return nil, &CreationError{Op: "epoll_ctl", Err: err}
	}

	return &epoll{fd: fd, wakeFd: wakeFd}, nil
}

func (ep *epoll) add(fd int, token uint32) error {
	return ep.ctl(unix.EPOLL_CTL_ADD, fd, token)
}

func (ep *epoll) rearm(fd int, token uint32) error {
	return ep.ctl(unix.EPOLL_CTL_MOD, fd, token)
}

func (ep *epoll) del(fd int) error {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrClosed
	}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(ep.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (ep *epoll) ctl(op int, fd int, token uint32) error {
	ev := &unix.EpollEvent{
		Events: oneShotRead,
		Fd:     int32(fd),
		Pad:    int32(token),
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrClosed
	}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(ep.fd, op, fd, ev))
}

type epollWaiter struct {
	ep     *epoll
	raw    []unix.EpollEvent
	events []readyEvent
}

func (ep *epoll) newWaiter(n int) waiter {
	return &epollWaiter{
		ep:     ep,
		raw:    make([]unix.EpollEvent, n),
		events: make([]readyEvent, n),
	}
}

func (w *epollWaiter) wait() ([]readyEvent, error) {
	w.ep.mu.RLock()
	if w.ep.closed {
		w.ep.mu.RUnlock()
		return nil, unix.EBADF
	}
	fd := w.ep.fd
	w.ep.mu.RUnlock()

	n, err := unix.EpollWait(fd, w.raw, -1)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if int(w.raw[i].Fd) == w.ep.wakeFd {
			w.events[i] = readyEvent{wake: true}
			continue
		}
		w.events[i] = readyEvent{fd: int(w.raw[i].Fd), token: uint32(w.raw[i].Pad)}
	}
	return w.events[:n], nil
}

func (ep *epoll) wakeup() error {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrClosed
	}
	_, err := unix.Write(ep.wakeFd, wakeWriteBytes)
	if err == unix.EAGAIN {
		// counter saturated, the descriptor is readable anyway
		return nil
	}
	return err
}

func (ep *epoll) terminal(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.EINVAL)
}

func (ep *epoll) close() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return ErrClosed
	}
	ep.closed = true
	return errors.Join(unix.Close(ep.fd), unix.Close(ep.wakeFd))
}
