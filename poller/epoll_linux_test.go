//go:build linux
// +build linux

package poller

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestActivateRegistrationError(t *testing.T) {
	p := newPoller(t)
	defer p.Close()

	// epoll refuses regular files
	f, err := os.Create(filepath.Join(t.TempDir(), "regular"))
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())

	require.True(t, p.Add(fd, ReadableFunc(func() Control { return Continue })))
	assert.False(t, p.Activate(fd))
	assert.True(t, p.Has(fd), "entry stays after a failed registration")
	assert.True(t, p.Remove(fd))
}

func TestStaleToken(t *testing.T) {
	p := newPoller(t)
	defer p.Close()
	r, _ := newPipe(t)

	var calls int
	require.True(t, p.Add(r, ReadableFunc(func() Control {
		calls++
		return Continue
	})))
	require.True(t, p.Activate(r))

	e := p.findAndLock(r)
	require.NotNil(t, e)
	token := e.token
	e.mu.Unlock()

	p.dispatch(readyEvent{fd: r, token: token + 1})
	assert.Equal(t, 0, calls)
	p.dispatch(readyEvent{fd: r, token: token})
	assert.Equal(t, 1, calls)
}

func TestWaitAfterClose(t *testing.T) {
	b, err := newBackend(1)
	require.NoError(t, err)
	require.NoError(t, b.close())

	_, err = b.newWaiter(1).wait()
	assert.True(t, b.terminal(err))
	assert.True(t, errors.Is(b.add(0, 1), ErrClosed))
	assert.ErrorIs(t, b.close(), ErrClosed)
	assert.False(t, b.terminal(unix.EINTR))
}

func TestShutdownHookAfterDeregistration(t *testing.T) {
	p := newPoller(t)
	defer p.Close()
	r, _ := newPipe(t)

	epfd := p.backend.(*epoll).fd
	var modErr error
	hooks := 0
	require.True(t, p.Add(r, ReadableFunc(func() Control { return Continue })))
	require.True(t, p.SetShutdown(r, func() {
		hooks++
		ev := &unix.EpollEvent{Events: oneShotRead, Fd: int32(r)}
		modErr = unix.EpollCtl(epfd, unix.EPOLL_CTL_MOD, r, ev)
	}))
	require.True(t, p.Activate(r))

	// registered: modifying it succeeds
	ev := &unix.EpollEvent{Events: oneShotRead, Fd: int32(r)}
	require.NoError(t, unix.EpollCtl(epfd, unix.EPOLL_CTL_MOD, r, ev))

	require.True(t, p.Remove(r))
	assert.Equal(t, 1, hooks)
	assert.ErrorIs(t, modErr, unix.ENOENT, "hook must run after the descriptor left epoll")
}

func TestWaiterReusesBuffer(t *testing.T) {
	b, err := newBackend(1)
	require.NoError(t, err)
	defer b.close()
	r, w := newPipe(t)

	_, err = unix.Write(w, []byte{'x'})
	require.NoError(t, err)
	require.NoError(t, b.add(r, 7))

	waiter := b.newWaiter(4)
	first, err := waiter.wait()
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, readyEvent{fd: r, token: 7}, first[0])

	// data is still pending, so the re-armed descriptor fires again
	require.NoError(t, b.rearm(r, 7))
	second, err := waiter.wait()
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Same(t, &first[0], &second[0])
}
