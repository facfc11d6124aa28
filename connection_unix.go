//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package evpoll

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/dreamans/evpoll/evlog"
	"github.com/dreamans/evpoll/poller"
	"github.com/dreamans/evpoll/util"
)

var nextConnID uint64

// conn is a blocking socket dispatched by the poller: each readiness event
// is followed by exactly one read, so reads never block.
type conn struct {
	id         uint64
	fd         int
	handler    ConnectionHandler
	readBuf    *bytes.Buffer
	protocol   Protocol
	closed     util.AtomicBool
	localAddr  net.Addr
	remoteAddr net.Addr

	// fdMu is read-held around any syscall on fd and write-held to close it.
	// A blocked write keeps only the read side, so shutdown can still reach
	// the socket and wake it.
	fdMu     sync.RWMutex
	fdClosed bool
	wmu      sync.Mutex // serializes writes

	mu  sync.Mutex
	ctx context.Context
}

func newConnection(fd int, caddr net.Addr, saddr net.Addr, pcol Protocol, handler ConnectionHandler) *conn {
	c := &conn{
		id:         atomic.AddUint64(&nextConnID, 1),
		fd:         fd,
		readBuf:    connBufferPool.Get().(*bytes.Buffer),
		remoteAddr: caddr,
		localAddr:  saddr,
		protocol:   pcol,
		handler:    handler,
	}
	if pcol == nil {
		c.protocol = RawProtocol{}
	}
	if handler == nil {
		c.handler = &defaultConnectionHandler{}
	}
	c.ctx = context.WithValue(context.Background(), ConnectFdContextKey, fd)

	c.readBuf.Reset()
	c.handler.OnOpen(c)

	evlog.Debugf("[NewConnection]: loc %s <--> remote %s", c.LocalAddr(), c.RemoteAddr())
	return c
}

func (c *conn) UniqID() uint64 {
	return c.id
}

func (c *conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *conn) LocalAddr() net.Addr {
	return c.localAddr
}

func (c *conn) Context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *conn) SetContext(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
}

func (c *conn) Send(buffer []byte, action Action) error {
	if len(buffer) > 0 {
		packet := c.protocol.Packet(c, buffer)
		c.wmu.Lock()
		c.fdMu.RLock()
		if c.closed.IsSet() || c.fdClosed {
			c.fdMu.RUnlock()
			c.wmu.Unlock()
			return ErrConnectionClosed
		}
		err := writeAll(c.fd, packet)
		c.fdMu.RUnlock()
		c.wmu.Unlock()
		if err != nil {
			evlog.Errorf("[syscall.Write]: %s", err.Error())
			_ = c.Close()
			return err
		}
		evlog.Debugf("[HandleWrite]: loc %s -> remote %s, len {%d}", c.LocalAddr(), c.RemoteAddr(), len(buffer))
	}
	if action == ActionClose {
		return c.Close()
	}
	return nil
}

// Close shuts the socket down. The resulting hangup makes the poller remove
// the descriptor, and its shutdown hook closes it.
func (c *conn) Close() error {
	if !c.closed.CompareAndSet() {
		return ErrConnectionClosed
	}
	return c.shutdown()
}

// shutdown wakes a write blocked on a peer that does not read; it fails with
// EPIPE.
func (c *conn) shutdown() error {
	c.fdMu.RLock()
	defer c.fdMu.RUnlock()
	if c.fdClosed {
		return nil
	}
	if err := unix.Shutdown(c.fd, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		return err
	}
	return nil
}

func (c *conn) OnReady() poller.Control {
	buf := packetPool.Get().(*[]byte)
	defer packetPool.Put(buf)

	n, err := unix.Read(c.fd, *buf)
	if n <= 0 || err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return poller.Continue
		}
		if err != nil {
			evlog.Errorf("[syscall.Read]: %s", err.Error())
		}
		return poller.Close
	}

	evlog.Debugf("[HandleRead]: loc %s <- remote %s, len {%d}", c.LocalAddr(), c.RemoteAddr(), n)

	c.readBuf.Write((*buf)[:n])
	c.protocolUnPacket(c.readBuf)
	if c.closed.IsSet() {
		return poller.Close
	}
	return poller.Continue
}

// handleClose is the shutdown hook of the descriptor.
func (c *conn) handleClose() {
	c.closed.Set()
	if err := c.shutdown(); err != nil {
		evlog.Debugf("[syscall.Shutdown]: %s", err.Error())
	}

	c.fdMu.Lock()
	c.fdClosed = true
	if err := unix.Close(c.fd); err != nil {
		evlog.Errorf("[syscall.Close]: %s", err.Error())
	}
	c.fdMu.Unlock()

	c.handler.OnClose(c)
	connBufferPool.Put(c.readBuf)

	evlog.Debugf("[HandleClose]: loc %s <-x-> remote %s", c.LocalAddr(), c.RemoteAddr())
}

func (c *conn) protocolUnPacket(buffer *bytes.Buffer) {
	for !c.closed.IsSet() {
		data := c.protocol.UnPacket(c, buffer)
		if len(data) == 0 {
			break
		}
		c.handler.OnMessage(c, data)
	}
}

func writeAll(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		b = b[n:]
	}
	return nil
}
