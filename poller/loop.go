package poller

import (
	"container/list"
	"time"

	"github.com/dreamans/evpoll/evlog"
	"github.com/dreamans/evpoll/util"
)

// Run waits for readiness and dispatches callbacks until the poller is
// stopped, its registry becomes empty, or its OS handle goes away. Any number
// of goroutines may call Run on the same Poller.
func (p *Poller) Run() {
	p.mu.Lock()
	if p.stop.IsSet() {
		p.mu.Unlock()
		return
	}
	p.npollers++
	evlog.Debugf("[poller.Run]: %d pollers, %d descriptors", p.npollers, p.count)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.npollers--
		n := p.npollers
		p.mu.Unlock()
		evlog.Debugf("[poller.Run]: finished, %d pollers left", n)
	}()

	w := p.backend.newWaiter(p.opts.MaxEvents)
	var tempDelay time.Duration
	for !p.stop.IsSet() && p.Len() > 0 {
		events, err := w.wait()
		if err != nil {
			if p.backend.terminal(err) || p.Len() == 0 {
				evlog.Debugf("[poller.Run]: finishing: %s", err)
				return
			}
			if util.TemporaryErr(err) {
				continue
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 500 * time.Millisecond; tempDelay >= max {
				tempDelay = max
			}
			evlog.Errorf("[poller.Run]: wait: %s", err)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		for _, ev := range events {
			if ev.wake {
				continue
			}
			p.dispatch(ev)
		}
	}
}

func (p *Poller) dispatch(ev readyEvent) {
	e := p.findAndLock(ev.fd)
	if e == nil {
		evlog.Debugf("[poller.dispatch]: event for unknown fd %d", ev.fd)
		return
	}
	if !e.registered || (ev.token != 0 && ev.token != e.token) {
		e.mu.Unlock()
		return
	}

	e.remaining = e.timeout
	if p.call(e) == Close {
		e.mu.Unlock()
		p.removeEntry(e)
		return
	}

	if err := p.backend.rearm(e.fd, e.token); err != nil {
		evlog.Errorf("[poller.dispatch]: %s", &RegistrationError{Op: "rearm", Fd: e.fd, Err: err})
	}
	e.mu.Unlock()
}

func (p *Poller) call(e *entry) (ctl Control) {
	defer func() {
		if r := recover(); r != nil {
			evlog.Errorf("[poller.dispatch]: fd %d: callback panic: %v", e.fd, r)
			ctl = Close
		}
	}()
	return e.r.OnReady()
}

// Stop asks every Run to return. Blocked waits are woken up; a callback that
// is running finishes first. Stop is final: later calls to Run return at once.
func (p *Poller) Stop() {
	p.stop.Set()
	if p.closed.IsSet() {
		return
	}
	if err := p.backend.wakeup(); err != nil {
		evlog.Errorf("[poller.Stop]: wakeup: %s", err)
	}
}

// Active returns the number of goroutines currently inside Run.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.npollers
}

// Close stops the poller and releases it. It waits a bounded time for poll
// goroutines to leave Run. If some are still running, the registry is left
// untouched, so no shutdown hook runs, and ErrShutdownTimeout is returned.
// Otherwise every remaining shutdown hook runs in registration order.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSet() {
		return ErrClosed
	}
	evlog.Debug("[poller.Close]: free poller")

	p.stop.Set()
	if err := p.backend.wakeup(); err != nil {
		evlog.Errorf("[poller.Close]: wakeup: %s", err)
	}

	n := p.Active()
	for retries := p.opts.DestroyWaitRetries; n > 0 && retries > 0; retries-- {
		evlog.Debugf("[poller.Close]: waiting for %d pollers (%d)", n, retries)
		time.Sleep(p.opts.DestroyWaitInterval)
		n = p.Active()
	}
	if n > 0 {
		evlog.Warningf("[poller.Close]: %d pollers still active; not releasing registry", n)
		if err := p.backend.close(); err != nil {
			evlog.Errorf("[poller.Close]: %s", err)
		}
		return ErrShutdownTimeout
	}

	p.mu.Lock()
	remaining := make([]*entry, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		remaining = append(remaining, el.Value.(*entry))
	}
	p.order.Init()
	p.entries = make(map[int]*list.Element)
	p.count = 0
	p.mu.Unlock()

	for _, e := range remaining {
		p.release(e)
	}
	err := p.backend.close()
	evlog.Debugf("[poller.Close]: done, released %d descriptors", len(remaining))
	return err
}
