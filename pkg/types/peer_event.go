// Package types holds the peer events shared by the discovery packages and their listeners.
package types

import (
	"net"
	"strconv"
	"time"
)

// EventType is the kind of a reachability transition
type EventType string

// Event types as written to output
const (
	EventReachable   EventType = "reachable"
	EventUnreachable EventType = "unreachable"
)

// PeerReachable is delivered when a connection to a candidate has been established.
// Conn is the monitor's live connection; listeners may read from it but closing it
// makes the monitor report the peer as unreachable on the next probe.
type PeerReachable struct {
	Address net.IP
	Port    int
	Conn    net.Conn
}

// HostPort returns the peer endpoint as host:port
func (p PeerReachable) HostPort() string {
	return net.JoinHostPort(p.Address.String(), strconv.Itoa(p.Port))
}

// PeerUnreachable is delivered when an established connection has been lost
type PeerUnreachable struct {
	Address net.IP
	Port    int
}

// HostPort returns the peer endpoint as host:port
func (p PeerUnreachable) HostPort() string {
	return net.JoinHostPort(p.Address.String(), strconv.Itoa(p.Port))
}

// Listener receives reachability transitions.
//
// Methods are called synchronously from the goroutine monitoring the peer,
// so implementations must not block for long.
type Listener interface {
	OnPeerReachable(peer PeerReachable)
	OnPeerUnreachable(peer PeerUnreachable)
}

// ListenerFuncs adapts a pair of functions to a Listener. Nil funcs are ignored.
type ListenerFuncs struct {
	Reachable   func(peer PeerReachable)
	Unreachable func(peer PeerUnreachable)
}

// OnPeerReachable calls Reachable if set
func (l ListenerFuncs) OnPeerReachable(peer PeerReachable) {
	if l.Reachable != nil {
		l.Reachable(peer)
	}
}

// OnPeerUnreachable calls Unreachable if set
func (l ListenerFuncs) OnPeerUnreachable(peer PeerUnreachable) {
	if l.Unreachable != nil {
		l.Unreachable(peer)
	}
}

// PeerEvent is the flattened, serializable form of a transition
type PeerEvent struct {
	Type      EventType `json:"type"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReachableEvent builds a PeerEvent for a reachable transition
func NewReachableEvent(peer PeerReachable) PeerEvent {
	return PeerEvent{
		Type:      EventReachable,
		Address:   peer.Address.String(),
		Port:      peer.Port,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnreachableEvent builds a PeerEvent for an unreachable transition
func NewUnreachableEvent(peer PeerUnreachable) PeerEvent {
	return PeerEvent{
		Type:      EventUnreachable,
		Address:   peer.Address.String(),
		Port:      peer.Port,
		Timestamp: time.Now().UTC(),
	}
}

// HostPort returns the peer endpoint as host:port
func (e PeerEvent) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}
