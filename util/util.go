package util

import (
	"errors"
	"strings"
	"syscall"
)

func ParseListenerAddr(addr string) (network, address string) {
	network = "tcp"
	address = addr
	if i := strings.Index(address, "://"); i >= 0 {
		network = address[:i]
		address = address[i+3:]
	}
	return
}

// TemporaryErr reports whether err is an errno worth retrying, such as EINTR
// or EAGAIN.
func TemporaryErr(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno.Temporary()
}
