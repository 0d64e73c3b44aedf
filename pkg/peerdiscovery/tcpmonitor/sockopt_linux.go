//go:build linux

package tcpmonitor

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// socketControl applies TCP_USER_TIMEOUT so unacknowledged probe bytes fail the
// connection after the given duration instead of the kernel's retransmission limit.
func socketControl(userTimeout time.Duration) func(network, address string, c syscall.RawConn) error {
	if userTimeout <= 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(userTimeout.Milliseconds()))
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
