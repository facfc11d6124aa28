//go:build !linux && !darwin && !freebsd && !dragonfly
// +build !linux,!darwin,!freebsd,!dragonfly

package poller

func newBackend(hint int) (backend, error) {
	return nil, &CreationError{Op: "new", Err: ErrUnsupported}
}
