package poller

import (
	"container/list"
	"sync"
	"time"

	"github.com/dreamans/evpoll/evlog"
)

// entry is the registry record of one watched descriptor. Everything below mu
// is guarded by it; mu is also held while the Readable runs.
type entry struct {
	fd    int
	token uint32
	r     Readable

	mu         sync.Mutex
	shutdown   func()
	timeout    time.Duration
	remaining  time.Duration
	active     bool
	registered bool
	removed    bool
}

// Add registers fd with r as its callback. The entry starts inactive: it is
// not watched until Activate is called, so the caller can set a timeout and a
// shutdown hook first. The poller never closes fd.
func (p *Poller) Add(fd int, r Readable) bool {
	if r == nil {
		evlog.Warningf("[poller.Add]: nil callback for fd %d", fd)
		return false
	}
	if p.closed.IsSet() {
		evlog.Warningf("[poller.Add]: %s", ErrClosed)
		return false
	}

	p.mu.Lock()
	if _, ok := p.entries[fd]; ok {
		p.mu.Unlock()
		evlog.Warningf("[poller.Add]: fd %d already added", fd)
		return false
	}
	p.nextToken++
	if p.nextToken == 0 {
		p.nextToken = 1
	}
	e := &entry{
		fd:        fd,
		token:     p.nextToken,
		r:         r,
		timeout:   NoTimeout,
		remaining: NoTimeout,
	}
	p.entries[fd] = p.order.PushBack(e)
	p.count++
	n := p.count
	p.mu.Unlock()

	evlog.Debugf("[poller.Add]: fd %d (%d)", fd, n)
	return true
}

// Activate starts watching fd for read and hangup readiness. It returns false
// if fd was never added or the OS refused the registration; in the latter
// case the entry stays marked active and a later Activate retries.
func (p *Poller) Activate(fd int) bool {
	e := p.findAndLock(fd)
	if e == nil {
		evlog.Warningf("[poller.Activate]: %s: fd %d", ErrNotFound, fd)
		return false
	}
	defer e.mu.Unlock()

	e.active = true
	if e.registered {
		return true
	}
	if err := p.backend.add(fd, e.token); err != nil {
		evlog.Errorf("[poller.Activate]: %s", &RegistrationError{Op: "add", Fd: fd, Err: err})
		return false
	}
	e.registered = true
	return true
}

// SetShutdown sets the hook run exactly once when fd leaves the poller,
// whether removed explicitly, by its callback returning Close, or by Close.
func (p *Poller) SetShutdown(fd int, hook func()) bool {
	e := p.findAndLock(fd)
	if e == nil {
		evlog.Warningf("[poller.SetShutdown]: %s: fd %d", ErrNotFound, fd)
		return false
	}
	e.shutdown = hook
	e.mu.Unlock()

	evlog.Debugf("[poller.SetShutdown]: fd %d", fd)
	return true
}

// SetTimeout sets the inactivity timeout of fd. The remaining time is reset
// to timeout now and every time the callback fires. NoTimeout disables it.
func (p *Poller) SetTimeout(fd int, timeout time.Duration) bool {
	if timeout < 0 {
		timeout = NoTimeout
	}
	e := p.findAndLock(fd)
	if e == nil {
		evlog.Warningf("[poller.SetTimeout]: %s: fd %d", ErrNotFound, fd)
		return false
	}
	e.timeout = timeout
	e.remaining = timeout
	e.mu.Unlock()
	return true
}

// Timeout reports the configured and remaining timeout of fd.
func (p *Poller) Timeout(fd int) (timeout, remaining time.Duration, ok bool) {
	e := p.findAndLock(fd)
	if e == nil {
		return 0, 0, false
	}
	timeout, remaining = e.timeout, e.remaining
	e.mu.Unlock()
	return timeout, remaining, true
}

// Remove drops fd from the poller: it is unregistered from the OS and its
// shutdown hook runs. Removing an unknown descriptor logs a warning and
// returns false; concurrent removals are expected and harmless.
func (p *Poller) Remove(fd int) bool {
	p.mu.Lock()
	evlog.Debugf("[poller.Remove]: fd %d (%d)", fd, p.count)
	el, ok := p.entries[fd]
	if !ok {
		p.mu.Unlock()
		evlog.Warningf("[poller.Remove]: %s: fd %d", ErrNotFound, fd)
		return false
	}
	e := p.unlinkLocked(el)
	p.mu.Unlock()

	p.release(e)
	return true
}

// Has reports whether fd is in the registry.
func (p *Poller) Has(fd int) bool {
	p.mu.Lock()
	_, ok := p.entries[fd]
	p.mu.Unlock()
	return ok
}

// Len returns the number of registered descriptors.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// findAndLock returns the entry of fd with its lock held, or nil. An entry
// that is removed concurrently is never returned: release marks it under the
// entry lock, so a caller that wins the lock afterwards sees the mark.
func (p *Poller) findAndLock(fd int) *entry {
	p.mu.Lock()
	el, ok := p.entries[fd]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	e := el.Value.(*entry)
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil
	}
	return e
}

// removeEntry removes e only if it is still the registered entry for its
// descriptor; the number may have been removed and added again meanwhile.
func (p *Poller) removeEntry(e *entry) bool {
	p.mu.Lock()
	el, ok := p.entries[e.fd]
	if !ok || el.Value.(*entry) != e {
		p.mu.Unlock()
		evlog.Debugf("[poller.Remove]: fd %d already gone", e.fd)
		return false
	}
	p.unlinkLocked(el)
	p.mu.Unlock()

	p.release(e)
	return true
}

func (p *Poller) unlinkLocked(el *list.Element) *entry {
	e := p.order.Remove(el).(*entry)
	delete(p.entries, e.fd)
	p.count--
	return e
}

// release unregisters an unlinked entry and runs its shutdown hook. It waits
// for a running callback of the same entry to return first.
func (p *Poller) release(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removed = true
	e.active = false
	if e.registered {
		e.registered = false
		if err := p.backend.del(e.fd); err != nil {
			evlog.Errorf("[poller.Remove]: %s", &RegistrationError{Op: "del", Fd: e.fd, Err: err})
		}
	}
	if hook := e.shutdown; hook != nil {
		e.shutdown = nil
		hook()
	}
}
