package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/prescan"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/subnet"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/tcpmonitor"
	"github.com/projectdiscovery/tcpdetect/pkg/types"
	mapsutil "github.com/projectdiscovery/utils/maps"
	syncutil "github.com/projectdiscovery/utils/sync"
	"github.com/rs/xid"
)

// Session owns every monitor started for one port
type Session struct {
	id       string
	port     int
	listener types.Listener
	skipSelf bool
	options  *Options

	monitors *mapsutil.SyncLockMap[string, *tcpmonitor.Monitor]
	awg      *syncutil.AdaptiveWaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	spawnDone chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSession creates a stopped session for port. Nil options use DefaultOptions.
func NewSession(port int, listener types.Listener, skipSelf bool, options *Options) (*Session, error) {
	options = options.withDefaults()

	awg, err := syncutil.New(syncutil.WithSize(options.MaxMonitors))
	if err != nil {
		return nil, fmt.Errorf("failed to create adaptive waitgroup: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        xid.New().String(),
		port:      port,
		listener:  listener,
		skipSelf:  skipSelf,
		options:   options,
		monitors:  mapsutil.NewSyncLockMap[string, *tcpmonitor.Monitor](),
		awg:       awg,
		ctx:       ctx,
		cancel:    cancel,
		spawnDone: make(chan struct{}),
	}, nil
}

// Start kicks off enumeration and monitor spawning in the background and returns.
// Only the first call has an effect, and none after Stop.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.spawn(s.ctx)
	})
}

// ID returns the unique identifier of the session
func (s *Session) ID() string {
	return s.id
}

// Port returns the monitored port
func (s *Session) Port() int {
	return s.port
}

// Len returns the number of monitors spawned so far
func (s *Session) Len() int {
	count := 0
	_ = s.monitors.Iterate(func(_ string, _ *tcpmonitor.Monitor) error {
		count++
		return nil
	})
	return count
}

// Targets returns the monitored addresses in sorted order
func (s *Session) Targets() []string {
	var targets []string
	_ = s.monitors.Iterate(func(target string, _ *tcpmonitor.Monitor) error {
		targets = append(targets, target)
		return nil
	})
	sort.Strings(targets)
	return targets
}

// spawn enumerates the candidates and starts one monitor per candidate
func (s *Session) spawn(ctx context.Context) {
	defer close(s.spawnDone)

	locals, err := s.options.AddressSource(ctx)
	if err != nil {
		gologger.Warning().Msgf("[%s] could not get local addresses for port %d: %v", s.id, s.port, err)
		return
	}

	groups := subnet.Candidates(locals, s.skipSelf)
	total := 0
	for _, group := range groups {
		total += len(group.Candidates)
	}

	spawned := 0
	for _, group := range groups {
		candidates := group.Candidates
		if s.options.Prioritize {
			candidates = prescan.Prioritize(candidates)
		}
		gologger.Verbose().Msgf("[%s] testing %d addresses from %s for port %d", s.id, len(candidates), group.Local, s.port)

		for _, candidate := range candidates {
			if ctx.Err() != nil {
				return
			}
			if _, exists := s.monitors.Get(candidate.String()); exists {
				continue
			}

			// monitors only exit on stop, so waiting for a free slot would stall spawning
			if spawned >= s.options.MaxMonitors {
				gologger.Warning().Msgf("[%s] monitor limit %d reached on port %d, %d candidates not monitored", s.id, s.options.MaxMonitors, s.port, total-spawned)
				return
			}

			monitor := tcpmonitor.New(candidate, s.port, s.listener, s.options.Monitor)

			s.awg.Add()
			_ = s.monitors.Set(candidate.String(), monitor)
			spawned++

			go func() {
				defer s.awg.Done()
				monitor.Run(ctx)
			}()

			if !sleepContext(ctx, s.options.StaggerDelay) {
				return
			}
		}
	}
}

// SpawnDone is closed once every monitor of the session has been spawned, or
// spawning gave up because of an error, the monitor limit or Stop
func (s *Session) SpawnDone() <-chan struct{} {
	return s.spawnDone
}

// Stop halts the spawn phase, stops every monitor and waits for all of them to exit.
// Concurrent and repeated calls block until the first one has finished draining.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		gologger.Verbose().Msgf("[%s] stopping discovery on port %d", s.id, s.port)

		s.cancel()
		// a session that never started has no spawn phase to wait for
		s.startOnce.Do(func() {
			close(s.spawnDone)
		})
		<-s.spawnDone

		_ = s.monitors.Iterate(func(_ string, monitor *tcpmonitor.Monitor) error {
			monitor.Stop()
			return nil
		})
		s.awg.Wait()

		gologger.Verbose().Msgf("[%s] stopped %d monitors on port %d", s.id, s.Len(), s.port)
	})
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
