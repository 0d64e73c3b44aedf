// Package tcpmonitor tracks whether a single TCP endpoint stays reachable.
//
// A Monitor repeatedly connects to its target. Once connected it writes a one
// byte sentinel every probe interval, since a broken TCP connection only shows
// up as a failed write. Losing an established connection emits an unreachable
// event and the monitor starts connecting again, until it is stopped.
package tcpmonitor

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/tcpdetect/pkg/types"
)

var (
	// ErrConnectionClosed is returned by the probe loop when the connection slot was emptied
	ErrConnectionClosed = errors.New("connection closed")

	sentinel = []byte{0}
)

// Monitor owns the connect/probe/reconnect cycle of one target and port
type Monitor struct {
	target   net.IP
	port     int
	address  string
	listener types.Listener
	options  *Options

	state atomic.Int32

	mu      sync.Mutex
	conn    net.Conn
	cancel  context.CancelFunc
	stopped bool
	started bool

	done chan struct{}
}

// New creates a monitor for target:port reporting to listener. Nil options use DefaultOptions.
func New(target net.IP, port int, listener types.Listener, options *Options) *Monitor {
	if ip4 := target.To4(); ip4 != nil {
		target = ip4
	}
	m := &Monitor{
		target:   target,
		port:     port,
		address:  net.JoinHostPort(target.String(), strconv.Itoa(port)),
		listener: listener,
		options:  options.withDefaults(),
		done:     make(chan struct{}),
	}
	m.state.Store(int32(Connecting))
	return m
}

// Target returns the monitored address
func (m *Monitor) Target() net.IP {
	return m.target
}

// Address returns the monitored endpoint as host:port
func (m *Monitor) Address() string {
	return m.address
}

// State returns the current state of the monitor
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Done is closed once Run has returned
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Run drives the monitor until ctx is cancelled or Stop is called.
// It must be called at most once; later calls return immediately.
func (m *Monitor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.cancel = cancel
	stopped := m.stopped
	m.mu.Unlock()

	defer close(m.done)
	defer m.setState(Terminated)

	if stopped {
		return
	}

	// cancellation closes whatever connection is held, unblocking a pending write
	stopClosing := context.AfterFunc(ctx, m.closeConn)
	defer stopClosing()

	for {
		m.setState(Connecting)
		conn, err := m.options.Dial(ctx, "tcp", m.address)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			gologger.Debug().Msgf("connect to %s failed: %v", m.address, err)
			if !sleepContext(ctx, m.options.RetryInterval) {
				return
			}
			continue
		}

		if !m.attach(ctx, conn) {
			_ = conn.Close()
			return
		}

		m.setState(Connected)
		gologger.Verbose().Msgf("peer %s reachable", m.address)
		m.listener.OnPeerReachable(types.PeerReachable{Address: m.target, Port: m.port, Conn: conn})

		m.setState(Probing)
		err = m.probe(ctx, conn)

		m.setState(Disconnecting)
		m.detach(conn)
		if ctx.Err() != nil {
			return
		}

		gologger.Verbose().Msgf("peer %s unreachable: %v", m.address, err)
		m.listener.OnPeerUnreachable(types.PeerUnreachable{Address: m.target, Port: m.port})
	}
}

// Stop cancels the monitor and closes its connection. It does not wait for Run
// to return; use Done for that. Safe to call more than once and before Run.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.closeConn()
}

// probe writes the sentinel until a write fails, the connection is taken away or ctx ends
func (m *Monitor) probe(ctx context.Context, conn net.Conn) error {
	ticker := time.NewTicker(m.options.ProbeInterval)
	defer ticker.Stop()

	for {
		if !m.holds(conn) {
			return ErrConnectionClosed
		}
		if err := conn.SetWriteDeadline(time.Now().Add(m.options.WriteTimeout)); err != nil {
			return err
		}
		if _, err := conn.Write(sentinel); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// attach stores conn in the slot unless the monitor is already cancelled
func (m *Monitor) attach(ctx context.Context, conn net.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || ctx.Err() != nil {
		return false
	}
	m.conn = conn
	return true
}

// detach empties the slot if it still holds conn and closes conn
func (m *Monitor) detach(conn net.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()

	_ = conn.Close()
}

func (m *Monitor) holds(conn net.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.conn == conn
}

// closeConn swaps the slot out and closes the connection it held, if any
func (m *Monitor) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Monitor) setState(state State) {
	m.state.Store(int32(state))
}

// sleepContext waits for d, returning false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
