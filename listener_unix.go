//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package evpoll

import (
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evpoll/evlog"
	"github.com/dreamans/evpoll/poller"
	"github.com/dreamans/evpoll/util"
)

type ListenHandler func(ncfd int, sa unix.Sockaddr)

type Listener struct {
	ln             net.Listener
	file           *os.File
	fd             int
	newConnHandler ListenHandler
}

func NewListener(addr string, handler ListenHandler) (*Listener, error) {
	listener := &Listener{
		newConnHandler: handler,
	}

	network, addr := util.ParseListenerAddr(addr)
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	listener.ln = ln

	if err := listener.dupNonblockFd(); err != nil {
		_ = ln.Close()
		return nil, err
	}

	return listener, nil
}

func (l *Listener) Fd() int {
	return l.fd
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// OnReady accepts one pending connection.
func (l *Listener) OnReady() poller.Control {
	ncfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		if err != unix.EAGAIN && err != unix.ECONNABORTED {
			evlog.Errorf("[syscall.Accept]: %s", err.Error())
		}
		return poller.Continue
	}
	unix.CloseOnExec(ncfd)
	// some systems hand out accepted sockets in the listener's mode
	if err := unix.SetNonblock(ncfd, false); err != nil {
		_ = unix.Close(ncfd)
		evlog.Errorf("[syscall.SetNonblock]: %s", err.Error())
		return poller.Continue
	}

	l.callNewConnHandler(ncfd, sa)
	return poller.Continue
}

// Close releases the listening socket; it is the listener's shutdown hook.
func (l *Listener) Close() {
	if err := l.file.Close(); err != nil {
		evlog.Errorf("[Listener.Close]: %s", err.Error())
	}
	_ = l.ln.Close()
}

func (l *Listener) callNewConnHandler(ncfd int, sa unix.Sockaddr) {
	if l.newConnHandler != nil {
		l.newConnHandler(ncfd, sa)
		return
	}
	_ = unix.Close(ncfd)
}

type filer interface {
	File() (*os.File, error)
}

func (l *Listener) dupNonblockFd() error {
	fl, ok := l.ln.(filer)
	if !ok {
		return errors.New("could not get file descriptor")
	}
	file, err := fl.File()
	if err != nil {
		return err
	}
	fd := int(file.Fd())
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = file.Close()
		return err
	}
	l.file = file
	l.fd = fd

	return nil
}
