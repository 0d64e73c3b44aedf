package tcpmonitor

import (
	"context"
	"net"
	"time"
)

// Defaults applied to zero Options fields
const (
	DefaultProbeInterval = 100 * time.Millisecond
	DefaultRetryInterval = time.Second
	DefaultDialTimeout   = 2 * time.Second
	DefaultWriteTimeout  = 2 * time.Second
)

// DialFunc opens a connection to address. It must return promptly once ctx is cancelled.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options tunes the connect/probe cycle of a monitor
type Options struct {
	// ProbeInterval is the spacing between sentinel writes on an established connection
	ProbeInterval time.Duration
	// RetryInterval is the pause after a failed connect attempt
	RetryInterval time.Duration
	// DialTimeout bounds a single connect attempt
	DialTimeout time.Duration
	// WriteTimeout bounds a single probe write
	WriteTimeout time.Duration
	// UserTimeout sets TCP_USER_TIMEOUT on dialed sockets (linux only, 0 disables)
	UserTimeout time.Duration
	// Dial overrides the connect function, mostly for tests
	Dial DialFunc
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() *Options {
	return &Options{
		ProbeInterval: DefaultProbeInterval,
		RetryInterval: DefaultRetryInterval,
		DialTimeout:   DefaultDialTimeout,
		WriteTimeout:  DefaultWriteTimeout,
	}
}

// withDefaults fills zero fields without touching the caller's copy
func (o *Options) withDefaults() *Options {
	out := DefaultOptions()
	if o == nil {
		out.Dial = newDialer(out)
		return out
	}
	*out = *o
	if out.ProbeInterval <= 0 {
		out.ProbeInterval = DefaultProbeInterval
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = DefaultRetryInterval
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = DefaultWriteTimeout
	}
	if out.Dial == nil {
		out.Dial = newDialer(out)
	}
	return out
}

func newDialer(options *Options) DialFunc {
	dialer := &net.Dialer{
		Timeout: options.DialTimeout,
		Control: socketControl(options.UserTimeout),
	}
	return dialer.DialContext
}
