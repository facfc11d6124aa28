//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package evpoll

import (
	"fmt"
	"sync"
	"time"

	"github.com/dreamans/evpoll/poller"
)

// EventLoop runs a fixed number of goroutines over a single poller.
type EventLoop struct {
	poll    *poller.Poller
	workers int
	wg      sync.WaitGroup
}

func newEventLoop(hint, workers int) (*EventLoop, error) {
	poll, err := poller.New(hint)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	return &EventLoop{poll: poll, workers: workers}, nil
}

// AddFdHandler registers fd in two steps so the poller never dispatches a
// descriptor whose timeout and shutdown hook are not set yet. On failure
// shutdown has already run.
func (ev *EventLoop) AddFdHandler(fd int, handler poller.Readable, timeout time.Duration, shutdown func()) error {
	if !ev.poll.Add(fd, handler) {
		if shutdown != nil {
			shutdown()
		}
		return fmt.Errorf("evpoll: cannot add fd %d", fd)
	}
	if timeout > 0 {
		ev.poll.SetTimeout(fd, timeout)
	}
	if shutdown != nil {
		ev.poll.SetShutdown(fd, shutdown)
	}
	if !ev.poll.Activate(fd) {
		ev.poll.Remove(fd)
		return fmt.Errorf("evpoll: cannot activate fd %d", fd)
	}
	return nil
}

func (ev *EventLoop) DelFdHandler(fd int) bool {
	return ev.poll.Remove(fd)
}

// Start launches the poll goroutines.
func (ev *EventLoop) Start() {
	for i := 0; i < ev.workers; i++ {
		ev.wg.Add(1)
		go func() {
			defer ev.wg.Done()
			ev.poll.Run()
		}()
	}
}

// Wait blocks until every poll goroutine has returned.
func (ev *EventLoop) Wait() {
	ev.wg.Wait()
}

// Stop closes the poller; remaining descriptors run their shutdown hooks.
func (ev *EventLoop) Stop() error {
	return ev.poll.Close()
}
