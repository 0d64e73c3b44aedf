package detect

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/common"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/tcpmonitor"
	"github.com/projectdiscovery/tcpdetect/pkg/types"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

// fakeNetwork routes selected virtual endpoints to real loopback listeners and
// refuses everything else
type fakeNetwork struct {
	mu       sync.Mutex
	routes   map[string]string
	attempts map[string]int
	total    atomic.Int64
}

func newFakeNetwork(routes map[string]string) *fakeNetwork {
	return &fakeNetwork{routes: routes, attempts: make(map[string]int)}
}

func (n *fakeNetwork) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	n.total.Add(1)

	n.mu.Lock()
	n.attempts[address]++
	target, ok := n.routes[address]
	n.mu.Unlock()

	if !ok {
		return nil, errRefused
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, target)
}

func (n *fakeNetwork) attemptsFor(address string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts[address]
}

type event struct {
	Type    types.EventType
	Address string
	Port    int
}

type recorder struct {
	mu     sync.Mutex
	events []event
	sealed atomic.Bool
	late   atomic.Int32
}

func (r *recorder) OnPeerReachable(peer types.PeerReachable) {
	r.add(event{Type: types.EventReachable, Address: peer.Address.String(), Port: peer.Port})
}

func (r *recorder) OnPeerUnreachable(peer types.PeerUnreachable) {
	r.add(event{Type: types.EventUnreachable, Address: peer.Address.String(), Port: peer.Port})
}

func (r *recorder) add(e event) {
	if r.sealed.Load() {
		r.late.Add(1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) countFor(eventType types.EventType, address string) int {
	count := 0
	for _, e := range r.snapshot() {
		if e.Type == eventType && e.Address == address {
			count++
		}
	}
	return count
}

// newPeer starts a loopback listener that keeps accepted connections open
func newPeer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(io.Discard, conn)
				_ = conn.Close()
			}()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
	})
	return ln
}

func testOptions(network *fakeNetwork, locals ...string) *Options {
	return &Options{
		Monitor: &tcpmonitor.Options{
			ProbeInterval: 10 * time.Millisecond,
			RetryInterval: 50 * time.Millisecond,
			DialTimeout:   time.Second,
			WriteTimeout:  time.Second,
			Dial:          network.Dial,
		},
		StaggerDelay:  time.Millisecond,
		MaxMonitors:   1024,
		AddressSource: common.StaticAddressSource(locals...),
	}
}

func startSession(t *testing.T, options *Options) *Session {
	t.Helper()
	session, err := NewSession(9000, &recorder{}, true, options)
	require.NoError(t, err)
	session.Start()
	return session
}

func TestRegistryDiscoversPeerOnSubnet(t *testing.T) {
	peer := newPeer(t)
	network := newFakeNetwork(map[string]string{"10.0.0.9:9000": peer.Addr().String()})
	rec := &recorder{}

	registry := NewRegistry(testOptions(network, "10.0.0.5/24"))
	defer registry.Close()

	require.NoError(t, registry.Start(9000, rec, true))
	require.Equal(t, []int{9000}, registry.Ports())

	require.Eventually(t, func() bool {
		return rec.countFor(types.EventReachable, "10.0.0.9") == 1
	}, 5*time.Second, 5*time.Millisecond)

	session, ok := registry.Session(9000)
	require.True(t, ok)
	require.Eventually(t, func() bool { return session.Len() == 253 }, 10*time.Second, 10*time.Millisecond)
	require.NotContains(t, session.Targets(), "10.0.0.5")
	require.Contains(t, session.Targets(), "10.0.0.9")

	// silent peers are retried without producing events
	require.Eventually(t, func() bool { return network.attemptsFor("10.0.0.10:9000") >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.Zero(t, network.attemptsFor("10.0.0.5:9000"), "own address must not be probed")

	for _, e := range rec.snapshot() {
		require.Equal(t, "10.0.0.9", e.Address)
		require.Equal(t, 9000, e.Port)
		require.Equal(t, types.EventReachable, e.Type)
	}

	registry.Stop(9000)
	rec.sealed.Store(true)
	require.Empty(t, registry.Ports())

	attempts := network.total.Load()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, attempts, network.total.Load(), "no monitor may run after Stop returns")
	require.Zero(t, rec.late.Load(), "no event may be delivered after Stop returns")
}

func TestRegistryIncludesSelfWhenRequested(t *testing.T) {
	network := newFakeNetwork(nil)
	registry := NewRegistry(testOptions(network, "10.0.0.5"))
	defer registry.Close()

	require.NoError(t, registry.Start(9000, &recorder{}, false))
	session, _ := registry.Session(9000)
	require.Eventually(t, func() bool { return session.Len() == 254 }, 10*time.Second, 10*time.Millisecond)
	require.Contains(t, session.Targets(), "10.0.0.5")
}

func TestRegistrySkipsOwnLoopback(t *testing.T) {
	peer := newPeer(t)
	port := peer.Addr().(*net.TCPAddr).Port
	rec := &recorder{}

	options := &Options{
		Monitor: &tcpmonitor.Options{
			ProbeInterval: 10 * time.Millisecond,
			RetryInterval: 50 * time.Millisecond,
		},
		StaggerDelay:  0,
		AddressSource: common.StaticAddressSource("127.0.0.1/8"),
	}
	registry := NewRegistry(options)
	defer registry.Close()

	require.NoError(t, registry.Start(port, rec, true))
	session, _ := registry.Session(port)

	time.Sleep(200 * time.Millisecond)
	require.Zero(t, session.Len())
	require.Empty(t, rec.snapshot(), "own host must not be reported through loopback")
}

func TestDefaultOptionsSkipLoopback(t *testing.T) {
	addresses, err := DefaultOptions().AddressSource(context.Background())
	if err != nil {
		t.Skipf("interfaces unavailable: %v", err)
	}
	for _, address := range addresses {
		ip := common.ParseIPv4Literal(address)
		if ip == nil {
			continue
		}
		require.False(t, ip.IsLoopback(), "loopback address %s enumerated by default", address)
	}
}

func TestRegistryRejectsSecondStart(t *testing.T) {
	peer := newPeer(t)
	network := newFakeNetwork(map[string]string{"10.0.0.9:80": peer.Addr().String()})
	first, second := &recorder{}, &recorder{}

	registry := NewRegistry(testOptions(network, "10.0.0.5"))
	defer registry.Close()

	require.NoError(t, registry.Start(80, first, true))
	session, _ := registry.Session(80)

	err := registry.Start(80, second, true)
	require.ErrorIs(t, err, ErrSessionExists)

	current, ok := registry.Session(80)
	require.True(t, ok)
	require.Same(t, session, current, "existing session must be kept")

	require.Eventually(t, func() bool {
		return first.countFor(types.EventReachable, "10.0.0.9") == 1
	}, 5*time.Second, 5*time.Millisecond)

	registry.Stop(80)
	require.Empty(t, second.snapshot(), "rejected listener must never be called")

	// the port is free again once stopped
	require.NoError(t, registry.Start(80, second, true))
	require.Eventually(t, func() bool {
		return second.countFor(types.EventReachable, "10.0.0.9") == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRegistryStopUnknownPort(t *testing.T) {
	registry := NewRegistry(testOptions(newFakeNetwork(nil)))
	require.NotPanics(t, func() {
		registry.Stop(8080)
		registry.Stop(8080)
	})
	require.Empty(t, registry.Ports())
}

func TestRegistryStartValidation(t *testing.T) {
	registry := NewRegistry(testOptions(newFakeNetwork(nil)))

	require.ErrorIs(t, registry.Start(0, &recorder{}, true), ErrInvalidPort)
	require.ErrorIs(t, registry.Start(65536, &recorder{}, true), ErrInvalidPort)
	require.ErrorIs(t, registry.Start(80, nil, true), ErrNilListener)
	require.Empty(t, registry.Ports())
}

func TestRegistryConcurrentStop(t *testing.T) {
	registry := NewRegistry(testOptions(newFakeNetwork(nil), "10.0.0.5"))
	require.NoError(t, registry.Start(9000, &recorder{}, true))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.Stop(9000)
		}()
	}
	wg.Wait()
	require.Empty(t, registry.Ports())
}

func TestRegistryConcurrentStart(t *testing.T) {
	registry := NewRegistry(testOptions(newFakeNetwork(nil), "10.0.0.5"))
	defer registry.Close()

	var started, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := registry.Start(9000, &recorder{}, true)
			switch {
			case err == nil:
				started.Add(1)
			case errors.Is(err, ErrSessionExists):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), started.Load())
	require.Equal(t, int32(7), rejected.Load())
	require.Equal(t, []int{9000}, registry.Ports())
}

func TestRegistryClose(t *testing.T) {
	network := newFakeNetwork(nil)
	registry := NewRegistry(testOptions(network, "10.0.0.5", "10.0.1.5"))

	require.NoError(t, registry.Start(443, &recorder{}, true))
	require.NoError(t, registry.Start(80, &recorder{}, true))
	require.Equal(t, []int{80, 443}, registry.Ports())

	registry.Stop(80)
	require.Equal(t, []int{443}, registry.Ports())

	registry.Close()
	require.Empty(t, registry.Ports())

	attempts := network.total.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, attempts, network.total.Load())
}

func TestSessionStopDuringSpawn(t *testing.T) {
	network := newFakeNetwork(nil)
	options := testOptions(network, "10.0.0.5")
	options.StaggerDelay = 20 * time.Millisecond

	session := startSession(t, options)
	require.NotEmpty(t, session.ID())
	require.Equal(t, 9000, session.Port())

	require.Eventually(t, func() bool { return session.Len() >= 2 }, 5*time.Second, 5*time.Millisecond)

	started := time.Now()
	session.Stop()
	require.Less(t, time.Since(started), 2*time.Second)

	spawned := session.Len()
	require.Less(t, spawned, 253, "spawning must stop once the session is stopped")

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, spawned, session.Len())

	// repeated stops are no-ops
	session.Stop()
}

func TestSessionMonitorLimit(t *testing.T) {
	network := newFakeNetwork(nil)
	options := testOptions(network, "10.0.0.5", "10.0.1.5")
	options.MaxMonitors = 10
	options.StaggerDelay = 0

	session := startSession(t, options)
	defer session.Stop()

	select {
	case <-session.SpawnDone():
	case <-time.After(5 * time.Second):
		t.Fatal("spawning did not finish once the monitor limit was reached")
	}
	require.Equal(t, 10, session.Len())
}

func TestSessionSpawnsEveryCandidate(t *testing.T) {
	network := newFakeNetwork(nil)
	options := testOptions(network, "10.0.0.5", "10.0.1.5")
	options.StaggerDelay = 0

	session := startSession(t, options)
	defer session.Stop()

	select {
	case <-session.SpawnDone():
	case <-time.After(5 * time.Second):
		t.Fatal("spawning did not finish")
	}
	require.Equal(t, 506, session.Len())
}

func TestSessionStopBeforeStart(t *testing.T) {
	network := newFakeNetwork(nil)
	session, err := NewSession(9000, &recorder{}, true, testOptions(network, "10.0.0.5"))
	require.NoError(t, err)

	session.Stop()
	session.Start()

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, session.Len())
	require.Zero(t, network.total.Load())
}

func TestSessionAddressSourceFailure(t *testing.T) {
	options := testOptions(newFakeNetwork(nil))
	options.AddressSource = func(ctx context.Context) ([]string, error) {
		return nil, errors.New("no interfaces")
	}

	session := startSession(t, options)

	session.Stop()
	require.Zero(t, session.Len())
}

func TestSessionIgnoresUnusableAddresses(t *testing.T) {
	network := newFakeNetwork(nil)
	session := startSession(t, testOptions(network, "localhost", "fe80::1/64", "::1/128"))

	session.Stop()
	require.Zero(t, session.Len())
	require.Zero(t, network.total.Load())
}

func TestSessionPrioritizedStartup(t *testing.T) {
	network := newFakeNetwork(nil)
	options := testOptions(network, "10.0.0.5")
	options.Prioritize = true
	options.StaggerDelay = 20 * time.Millisecond

	session := startSession(t, options)
	require.Eventually(t, func() bool { return session.Len() >= 2 }, 5*time.Second, 5*time.Millisecond)
	session.Stop()

	targets := session.Targets()
	require.Contains(t, targets, "10.0.0.1")
	if len(targets) < 10 {
		require.NotContains(t, targets, "10.0.0.30", "long-tail addresses start after gateways")
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	options := (&Options{StaggerDelay: -time.Second}).withDefaults()
	require.NotNil(t, options.Monitor)
	require.Equal(t, time.Duration(0), options.StaggerDelay)
	require.Equal(t, DefaultMaxMonitors, options.MaxMonitors)
	require.NotNil(t, options.AddressSource)

	var nilOptions *Options
	require.Equal(t, DefaultStaggerDelay, nilOptions.withDefaults().StaggerDelay)
}
