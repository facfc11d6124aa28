package evpoll

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
)

var ErrConnectionClosed = errors.New("connection closed")

type contextKey string

const (
	ConnectFdContextKey contextKey = "connect-fd-context-key"
)

type Connection interface {
	UniqID() uint64

	RemoteAddr() net.Addr

	LocalAddr() net.Addr

	Context() context.Context

	SetContext(context.Context)

	Send([]byte, Action) error

	Close() error
}

// ConnectionHandler methods run on a poll goroutine; OnMessage for a given
// connection never runs concurrently with itself.
type ConnectionHandler interface {
	OnOpen(c Connection)
	OnMessage(c Connection, data []byte)
	OnClose(c Connection)
}

type defaultConnectionHandler struct{}

func (*defaultConnectionHandler) OnOpen(c Connection)                 {}
func (*defaultConnectionHandler) OnMessage(c Connection, data []byte) {}
func (*defaultConnectionHandler) OnClose(c Connection)                {}

const packetSize = 0xFFFF

var (
	connBufferPool = sync.Pool{New: func() interface{} { return &bytes.Buffer{} }}
	packetPool     = sync.Pool{New: func() interface{} {
		b := make([]byte, packetSize)
		return &b
	}}
)
