//go:build !linux

package tcpmonitor

import (
	"syscall"
	"time"
)

// socketControl is a no-op outside linux
func socketControl(userTimeout time.Duration) func(network, address string, c syscall.RawConn) error {
	return nil
}
