package evpoll

import (
	"errors"
	"time"
)

type Server interface {
	Start() error
	Shutdown() error
}

type Action uint8

const (
	ActionNone Action = iota
	ActionClose
)

var ErrServerClosed = errors.New("evpoll: Server closed")

type Options struct {
	Addr     string
	NumLoops int
	// Hint is the expected number of concurrent connections.
	Hint int
	// IdleTimeout is recorded on every accepted connection; zero means none.
	IdleTimeout time.Duration
	Protocol    Protocol
	Handler     ConnectionHandler
}

func NewOptions() *Options {
	return &Options{}
}

func (opts *Options) SetAddr(addr string) *Options {
	opts.Addr = addr
	return opts
}

func (opts *Options) SetNumLoops(num int) *Options {
	opts.NumLoops = num
	return opts
}

func (opts *Options) SetHint(hint int) *Options {
	opts.Hint = hint
	return opts
}

func (opts *Options) SetIdleTimeout(timeout time.Duration) *Options {
	opts.IdleTimeout = timeout
	return opts
}

func (opts *Options) SetProtocol(protocol Protocol) *Options {
	opts.Protocol = protocol
	return opts
}

func (opts *Options) SetHandler(handler ConnectionHandler) *Options {
	opts.Handler = handler
	return opts
}
