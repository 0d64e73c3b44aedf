// Package detect discovers peers listening on a TCP port across the local /24 subnets
// and keeps reporting whether they stay reachable.
//
// A Registry holds at most one Session per port. A Session starts one
// tcpmonitor.Monitor per candidate address, staggering their startup, and on
// Stop cancels and joins every one of them.
//
// Example:
//
//	registry := detect.NewRegistry(nil)
//	defer registry.Close()
//
//	if err := registry.Start(80, listener, true); err != nil {
//		return err
//	}
//	time.Sleep(10 * time.Second)
//	registry.Stop(80)
package detect

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/tcpdetect/pkg/types"
)

var (
	ErrInvalidPort   = errors.New("port must be between 1 and 65535")
	ErrNilListener   = errors.New("listener is required")
	ErrSessionExists = errors.New("discovery already running on port")
)

// Registry maps ports to their discovery session
type Registry struct {
	options *Options

	mu       sync.Mutex
	sessions map[int]*Session
}

// NewRegistry returns an empty registry. Nil options use DefaultOptions.
func NewRegistry(options *Options) *Registry {
	return &Registry{
		options:  options.withDefaults(),
		sessions: make(map[int]*Session),
	}
}

// Start begins discovery on port. If the port already has a session, running or
// still draining, the call is rejected with ErrSessionExists and the existing
// session is left untouched.
func (r *Registry) Start(port int, listener types.Listener, skipSelf bool) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if listener == nil {
		return ErrNilListener
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[port]; exists {
		return fmt.Errorf("%w: %d", ErrSessionExists, port)
	}

	session, err := NewSession(port, listener, skipSelf, r.options)
	if err != nil {
		return fmt.Errorf("could not start discovery on port %d: %w", port, err)
	}
	r.sessions[port] = session
	session.Start()

	gologger.Verbose().Msgf("[%s] started discovery on port %d", session.ID(), port)
	return nil
}

// Stop stops the session of port and waits until every monitor has exited.
// No event for port is delivered once Stop returns. Unknown ports are ignored.
func (r *Registry) Stop(port int) {
	session, exists := r.Session(port)
	if !exists {
		return
	}

	// draining happens outside the lock so other ports stay usable
	session.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[port] == session {
		delete(r.sessions, port)
	}
}

// Close stops every registered port
func (r *Registry) Close() {
	for _, port := range r.Ports() {
		r.Stop(port)
	}
}

// Session returns the session registered for port
func (r *Registry) Session(port int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[port]
	return session, exists
}

// Ports returns the registered ports in ascending order
func (r *Registry) Ports() []int {
	r.mu.Lock()
	ports := make([]int, 0, len(r.sessions))
	for port := range r.sessions {
		ports = append(ports, port)
	}
	r.mu.Unlock()

	sort.Ints(ports)
	return ports
}
