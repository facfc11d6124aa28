//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package evpoll

import (
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evpoll/evlog"
	"github.com/dreamans/evpoll/poller"
	"github.com/dreamans/evpoll/util"
)

const defaultHint = 1024

type server struct {
	addr        string
	protocol    Protocol
	handler     ConnectionHandler
	numLoops    int
	hint        int
	idleTimeout time.Duration

	mu         sync.Mutex
	ln         *Listener
	evLoop     *EventLoop
	inShutdown util.AtomicBool
}

func NewServer(opt *Options) Server {
	return &server{
		addr:        opt.Addr,
		protocol:    opt.Protocol,
		handler:     opt.Handler,
		numLoops:    opt.NumLoops,
		hint:        opt.Hint,
		idleTimeout: opt.IdleTimeout,
	}
}

// Start listens and serves until Shutdown is called.
func (srv *server) Start() error {
	srv.mu.Lock()
	if srv.inShutdown.IsSet() {
		srv.mu.Unlock()
		return ErrServerClosed
	}
	if err := srv.initEventLoop(); err != nil {
		srv.mu.Unlock()
		return err
	}
	if err := srv.initListener(srv.addr); err != nil {
		_ = srv.evLoop.Stop()
		srv.mu.Unlock()
		return err
	}
	evLoop := srv.evLoop
	evLoop.Start()
	srv.mu.Unlock()

	evlog.Infof("[Server.Start]: listening on %s with %d loops", srv.ln.Addr(), srv.numLoops)
	evLoop.Wait()

	return nil
}

func (srv *server) Shutdown() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.inShutdown.IsSet() {
		return ErrServerClosed
	}
	srv.inShutdown.Set()

	if srv.evLoop == nil {
		return nil
	}
	return srv.evLoop.Stop()
}

// Addr returns the listening address, or nil before Start.
func (srv *server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.ln == nil {
		return nil
	}
	return srv.ln.Addr()
}

func (srv *server) initEventLoop() error {
	if srv.numLoops <= 0 {
		srv.numLoops = runtime.NumCPU()
	}
	if srv.hint <= 0 {
		srv.hint = defaultHint
	}

	evLoop, err := newEventLoop(srv.hint, srv.numLoops)
	if err != nil {
		return err
	}
	srv.evLoop = evLoop

	return nil
}

func (srv *server) initListener(addr string) error {
	l, err := NewListener(addr, srv.newConnHandler)
	if err != nil {
		return err
	}
	if err := srv.evLoop.AddFdHandler(l.Fd(), l, poller.NoTimeout, l.Close); err != nil {
		return err
	}
	srv.ln = l
	return nil
}

func (srv *server) newConnHandler(ncfd int, sa unix.Sockaddr) {
	c := newConnection(ncfd, util.SockAddrToAddr(sa), srv.ln.Addr(), srv.protocol, srv.handler)
	if err := srv.evLoop.AddFdHandler(ncfd, c, srv.idleTimeout, c.handleClose); err != nil {
		evlog.Errorf("[evLoop.AddFdHandler]: %s", err.Error())
	}
}
