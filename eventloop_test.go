//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package evpoll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dreamans/evpoll/poller"
)

func TestEventLoopAddFdHandler(t *testing.T) {
	ev, err := newEventLoop(4, 1)
	require.NoError(t, err)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	nop := poller.ReadableFunc(func() poller.Control { return poller.Continue })
	var shutdowns int
	hook := func() { shutdowns++ }

	require.NoError(t, ev.AddFdHandler(fds[0], nop, 0, hook))
	assert.Error(t, ev.AddFdHandler(fds[0], nop, 0, hook))
	assert.Equal(t, 1, shutdowns, "failed registration runs the hook")

	assert.True(t, ev.DelFdHandler(fds[0]))
	assert.Equal(t, 2, shutdowns)
	assert.False(t, ev.DelFdHandler(fds[0]))

	ev.Start()
	ev.Wait() // nothing registered, the poll goroutines return at once
	assert.NoError(t, ev.Stop())
}
