//go:build unix
// +build unix

package util

import (
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestParseListenerAddr(t *testing.T) {
	for _, tc := range []struct {
		in, network, address string
	}{
		{":8080", "tcp", ":8080"},
		{"tcp4://127.0.0.1:80", "tcp4", "127.0.0.1:80"},
		{"unix:///tmp/evpoll.sock", "unix", "/tmp/evpoll.sock"},
	} {
		network, address := ParseListenerAddr(tc.in)
		assert.Equal(t, tc.network, network, tc.in)
		assert.Equal(t, tc.address, address, tc.in)
	}
}

func TestTemporaryErr(t *testing.T) {
	assert.True(t, TemporaryErr(unix.EINTR))
	assert.True(t, TemporaryErr(unix.EAGAIN))
	assert.True(t, TemporaryErr(os.NewSyscallError("epoll_wait", unix.EINTR)))
	assert.True(t, TemporaryErr(fmt.Errorf("wrapped: %w", unix.EAGAIN)))
	assert.False(t, TemporaryErr(unix.EBADF))
	assert.False(t, TemporaryErr(nil))
}

func TestSockAddrToAddr(t *testing.T) {
	a := SockAddrToAddr(&unix.SockaddrInet4{Port: 5100, Addr: [4]byte{127, 0, 0, 1}})
	assert.Equal(t, "127.0.0.1:5100", a.String())

	u := SockAddrToAddr(&unix.SockaddrUnix{Name: "/tmp/s"})
	assert.Equal(t, &net.UnixAddr{Net: "unix", Name: "/tmp/s"}, u)

	assert.Nil(t, SockAddrToAddr(nil))
}

func TestAtomicBool(t *testing.T) {
	var b AtomicBool
	assert.False(t, b.IsSet())
	assert.True(t, b.CompareAndSet())
	assert.False(t, b.CompareAndSet())
	assert.True(t, b.IsSet())
}
