//go:build darwin || freebsd || dragonfly
// +build darwin freebsd dragonfly

package poller

import (
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const wakeIdent = 0

// kqueue cannot carry a token portably, so its events report token 0.
type kqueue struct {
	mu     sync.RWMutex // write-held only by close
	fd     int
	closed bool
}

func newBackend(hint int) (backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, &CreationError{Op: "kqueue", Err: err}
	}
	unix.CloseOnExec(fd)

	// Without EV_CLEAR the user event stays triggered and wakes every waiter.
	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakeIdent, unix.EVFILT_USER, unix.EV_ADD)
	if _, err := unix.Kevent(fd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		_ = unix.Close(fd)
		return nil, &CreationError{Op: "kevent", Err: err}
	}

	return &kqueue{fd: fd}, nil
}

func (kq *kqueue) add(fd int, token uint32) error {
	return kq.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ONESHOT, 0)
}

func (kq *kqueue) rearm(fd int, token uint32) error {
	return kq.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ONESHOT, 0)
}

func (kq *kqueue) del(fd int) error {
	err := kq.change(fd, unix.EVFILT_READ, unix.EV_DELETE, 0)
	if errors.Is(err, unix.ENOENT) {
		// a fired one-shot filter is already gone
		return nil
	}
	return err
}

func (kq *kqueue) change(ident int, filter int, flags int, fflags uint32) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, ident, filter, flags)
	ev.Fflags = fflags

	kq.mu.RLock()
	defer kq.mu.RUnlock()
	if kq.closed {
		return ErrClosed
	}
	_, err := unix.Kevent(kq.fd, []unix.Kevent_t{ev}, nil, nil)
	return os.NewSyscallError("kevent", err)
}

type kqueueWaiter struct {
	kq     *kqueue
	raw    []unix.Kevent_t
	events []readyEvent
}

func (kq *kqueue) newWaiter(n int) waiter {
	return &kqueueWaiter{
		kq:     kq,
		raw:    make([]unix.Kevent_t, n),
		events: make([]readyEvent, n),
	}
}

func (w *kqueueWaiter) wait() ([]readyEvent, error) {
	w.kq.mu.RLock()
	if w.kq.closed {
		w.kq.mu.RUnlock()
		return nil, unix.EBADF
	}
	fd := w.kq.fd
	w.kq.mu.RUnlock()

	n, err := unix.Kevent(fd, nil, w.raw, nil)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if w.raw[i].Filter == unix.EVFILT_USER {
			w.events[i] = readyEvent{wake: true}
			continue
		}
		w.events[i] = readyEvent{fd: int(w.raw[i].Ident)}
	}
	return w.events[:n], nil
}

func (kq *kqueue) wakeup() error {
	return kq.change(wakeIdent, unix.EVFILT_USER, 0, unix.NOTE_TRIGGER)
}

func (kq *kqueue) terminal(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.EINVAL)
}

func (kq *kqueue) close() error {
	kq.mu.Lock()
	defer kq.mu.Unlock()
	if kq.closed {
		return ErrClosed
	}
	kq.closed = true
	return unix.Close(kq.fd)
}
