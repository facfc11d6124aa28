//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package evpoll

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct {
	action Action

	opened, closed int32
	mu             sync.Mutex
	messages       []string
}

func (h *echoHandler) OnOpen(c Connection) {
	atomic.AddInt32(&h.opened, 1)
}

func (h *echoHandler) OnMessage(c Connection, data []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, string(data))
	h.mu.Unlock()
	_ = c.Send(data, h.action)
}

func (h *echoHandler) OnClose(c Connection) {
	atomic.AddInt32(&h.closed, 1)
}

// lineProtocol hands complete lines to the handler.
type lineProtocol struct{}

func (lineProtocol) UnPacket(c Connection, buffer *bytes.Buffer) []byte {
	i := bytes.IndexByte(buffer.Bytes(), '\n')
	if i < 0 {
		return nil
	}
	return buffer.Next(i + 1)
}

func (lineProtocol) Packet(c Connection, data []byte) []byte {
	return data
}

func startServer(t *testing.T, opts *Options) (*server, <-chan error) {
	t.Helper()
	srv := NewServer(opts.SetAddr("127.0.0.1:0").SetNumLoops(2)).(*server)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, time.Millisecond)
	return srv, errc
}

func shutdown(t *testing.T, srv *server, errc <-chan error) {
	t.Helper()
	require.NoError(t, srv.Shutdown())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}

func dial(t *testing.T, srv *server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(2*time.Second)))
	return c
}

func TestServerEcho(t *testing.T) {
	h := &echoHandler{}
	srv, errc := startServer(t, NewOptions().SetHandler(h).SetIdleTimeout(time.Minute))

	c := dial(t, srv)
	_, err := c.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.closed) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.opened))

	shutdown(t, srv, errc)
}

func TestServerProtocol(t *testing.T) {
	h := &echoHandler{}
	srv, errc := startServer(t, NewOptions().SetHandler(h).SetProtocol(lineProtocol{}))

	c := dial(t, srv)
	defer c.Close()
	_, err := c.Write([]byte("a\nb\n"))
	require.NoError(t, err)

	r := bufio.NewReader(c)
	for _, want := range []string{"a\n", "b\n"} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	h.mu.Lock()
	assert.Equal(t, []string{"a\n", "b\n"}, h.messages)
	h.mu.Unlock()

	shutdown(t, srv, errc)
}

func TestServerActionClose(t *testing.T) {
	h := &echoHandler{action: ActionClose}
	srv, errc := startServer(t, NewOptions().SetHandler(h))

	c := dial(t, srv)
	defer c.Close()
	_, err := c.Write([]byte("bye"))
	require.NoError(t, err)

	data, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.closed) == 1 }, 2*time.Second, time.Millisecond)

	shutdown(t, srv, errc)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	h := &echoHandler{}
	srv, errc := startServer(t, NewOptions().SetHandler(h))

	c := dial(t, srv)
	defer c.Close()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.opened) == 1 }, 2*time.Second, time.Millisecond)

	shutdown(t, srv, errc)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.closed))

	_, err := c.Read(make([]byte, 1))
	assert.Error(t, err)

	assert.ErrorIs(t, srv.Shutdown(), ErrServerClosed)
	assert.ErrorIs(t, srv.Start(), ErrServerClosed)
}

// floodHandler writes to every new connection until a send fails.
type floodHandler struct {
	echoHandler
	sendErr chan error
}

func (h *floodHandler) OnOpen(c Connection) {
	h.echoHandler.OnOpen(c)
	go func() {
		chunk := make([]byte, 64<<10)
		for {
			if err := c.Send(chunk, ActionNone); err != nil {
				h.sendErr <- err
				return
			}
		}
	}()
}

func TestServerShutdownWithBlockedSend(t *testing.T) {
	h := &floodHandler{sendErr: make(chan error, 1)}
	srv, errc := startServer(t, NewOptions().SetHandler(h))

	// the client never reads, so the server's write blocks once buffers fill
	c := dial(t, srv)
	defer c.Close()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.opened) == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	shutdown(t, srv, errc)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.closed))

	select {
	case err := <-h.sendErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Send was not woken by shutdown")
	}
}

type idHandler struct {
	echoHandler
	ids chan uint64
}

func (h *idHandler) OnOpen(c Connection) {
	h.echoHandler.OnOpen(c)
	h.ids <- c.UniqID()
}

func TestConnectionUniqID(t *testing.T) {
	h := &idHandler{ids: make(chan uint64, 2)}
	srv, errc := startServer(t, NewOptions().SetHandler(h))

	// the second connection may reuse the first one's descriptor number
	c1 := dial(t, srv)
	first := <-h.ids
	require.NoError(t, c1.Close())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.closed) == 1 }, 2*time.Second, time.Millisecond)

	c2 := dial(t, srv)
	defer c2.Close()
	second := <-h.ids
	assert.NotEqual(t, first, second)

	shutdown(t, srv, errc)
}
