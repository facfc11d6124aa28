// Package poller is a readiness multiplexer that can be driven by several
// goroutines at once.
//
// Descriptors are registered in two steps. Add creates an inactive entry that
// no poll thread can see; the caller may then attach a timeout and a shutdown
// hook, and finally Activate hands the descriptor to the OS readiness
// primitive. Readiness is requested in one-shot mode and re-armed after each
// callback, so a descriptor is never dispatched to two threads at once.
package poller

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreamans/evpoll/util"
)

// Control is what a Readable returns after handling a readiness event.
type Control int

const (
	// Continue re-arms the descriptor for the next readiness event.
	Continue Control = iota
	// Close removes the descriptor from the poller, running its shutdown hook.
	Close
)

func (c Control) String() string {
	switch c {
	case Continue:
		return "continue"
	case Close:
		return "close"
	}
	return fmt.Sprintf("Control(%d)", int(c))
}

// Readable is implemented by anything that wants to be told when its
// descriptor has data available or has been closed by the peer.
type Readable interface {
	OnReady() Control
}

// ReadableFunc adapts a plain function to Readable.
type ReadableFunc func() Control

func (f ReadableFunc) OnReady() Control { return f() }

// NoTimeout disables the inactivity timeout of a descriptor.
const NoTimeout time.Duration = -1

const (
	defaultMaxEvents           = 10
	defaultDestroyWaitInterval = 100 * time.Millisecond
	defaultDestroyWaitRetries  = 10
)

var (
	ErrClosed          = errors.New("poller is not running")
	ErrNotFound        = errors.New("poller: descriptor not found")
	ErrShutdownTimeout = errors.New("poller: poll threads still active, registry not released")
	ErrUnsupported     = errors.New("poller: no readiness primitive on this platform")
)

// CreationError is returned by New when the OS readiness handle could not be
// acquired.
type CreationError struct {
	Op  string
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("poller: create: %s: %s", e.Op, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// RegistrationError describes a failed add, modify or delete of a descriptor
// on the OS readiness primitive.
type RegistrationError struct {
	Op  string
	Fd  int
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("poller: %s fd %d: %s", e.Op, e.Fd, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

type Options struct {
	// MaxEvents caps the number of events collected by a single wait.
	MaxEvents int
	// DestroyWaitInterval and DestroyWaitRetries bound how long Close waits
	// for running poll threads to leave Run.
	DestroyWaitInterval time.Duration
	DestroyWaitRetries  int
}

func NewOptions() *Options {
	return &Options{
		MaxEvents:           defaultMaxEvents,
		DestroyWaitInterval: defaultDestroyWaitInterval,
		DestroyWaitRetries:  defaultDestroyWaitRetries,
	}
}

func (opts *Options) SetMaxEvents(n int) *Options {
	opts.MaxEvents = n
	return opts
}

func (opts *Options) SetDestroyWait(interval time.Duration, retries int) *Options {
	opts.DestroyWaitInterval = interval
	opts.DestroyWaitRetries = retries
	return opts
}

func (opts *Options) normalize() {
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = defaultMaxEvents
	}
	if opts.DestroyWaitInterval <= 0 {
		opts.DestroyWaitInterval = defaultDestroyWaitInterval
	}
	if opts.DestroyWaitRetries < 0 {
		opts.DestroyWaitRetries = 0
	}
}

// backend is the OS readiness primitive. Every descriptor is watched for
// read and hangup readiness in one-shot mode.
type backend interface {
	// add starts watching fd; token is handed back with each of its events.
	add(fd int, token uint32) error
	// rearm re-enables a descriptor after a one-shot event fired.
	rearm(fd int, token uint32) error
	del(fd int) error
	// newWaiter returns a waiter collecting up to n events per wait. Each
	// poll goroutine owns one, so the event buffers are reused.
	newWaiter(n int) waiter
	// wakeup makes every current and future wait return with a wake event.
	wakeup() error
	// terminal reports whether a wait error means the handle is gone.
	terminal(err error) bool
	close() error
}

type waiter interface {
	// wait blocks until at least one event is ready. The result is valid
	// until the next call.
	wait() ([]readyEvent, error)
}

type readyEvent struct {
	fd int
	// token identifies the registration; zero if the backend cannot carry it.
	token uint32
	wake  bool
}

// Poller watches descriptors and dispatches their Readable when they become
// ready. Run may be called from any number of goroutines.
type Poller struct {
	opts    Options
	backend backend
	stop    util.AtomicBool
	closed  util.AtomicBool

	mu        sync.Mutex // guards everything below
	entries   map[int]*list.Element
	order     *list.List
	count     int
	npollers  int
	nextToken uint32
}

// New creates a Poller. hint is the expected number of descriptors; it only
// sizes internal structures.
func New(hint int, opts ...*Options) (*Poller, error) {
	o := NewOptions()
	if len(opts) > 0 && opts[0] != nil {
		o = opts[0]
	}
	o.normalize()
	if hint < 1 {
		hint = 1
	}

	b, err := newBackend(hint)
	if err != nil {
		return nil, err
	}
	return &Poller{
		opts:    *o,
		backend: b,
		entries: make(map[int]*list.Element, hint),
		order:   list.New(),
	}, nil
}
