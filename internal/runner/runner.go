package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/projectdiscovery/gcache"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/detect"
	"github.com/projectdiscovery/tcpdetect/pkg/types"
	mapsutil "github.com/projectdiscovery/utils/maps"
)

// lostPeersTTL bounds how long a lost peer is listed in the summary
const lostPeersTTL = time.Hour

// Runner contains the internal logic of the program
type Runner struct {
	options  *Options
	ports    []int
	registry *detect.Registry
	output   *eventWriter

	reachable *mapsutil.SyncLockMap[string, types.PeerEvent]
	lost      gcache.Cache[string, types.PeerEvent]
}

// NewRunner instance
func NewRunner(options *Options) (*Runner, error) {
	return newRunner(options, detect.NewRegistry(options.detectOptions()), os.Stdout)
}

func newRunner(options *Options, registry *detect.Registry, w io.Writer) (*Runner, error) {
	ports, err := parsePorts(options.Ports)
	if err != nil {
		return nil, err
	}

	return &Runner{
		options:   options,
		ports:     ports,
		registry:  registry,
		output:    newEventWriter(w, options.JSON, options.NoColor),
		reachable: mapsutil.NewSyncLockMap[string, types.PeerEvent](),
		lost: gcache.New[string, types.PeerEvent](1024).
			LRU().
			Expiration(lostPeersTTL).
			Build(),
	}, nil
}

// Run starts discovery on every port, waits for the configured duration or ctx
// and stops the ports one after another.
func (r *Runner) Run(ctx context.Context) error {
	for _, port := range r.ports {
		if err := r.registry.Start(port, r, r.options.SkipSelf); err != nil {
			r.registry.Close()
			return fmt.Errorf("could not start discovery: %w", err)
		}
		gologger.Info().Msgf("Monitoring port %d", port)
	}

	r.wait(ctx)

	for i, port := range r.ports {
		if i > 0 && !r.pause(ctx, r.options.StopGap) {
			gologger.Verbose().Msgf("Interrupted, stopping remaining ports")
		}
		r.registry.Stop(port)
		gologger.Info().Msgf("Stopped monitoring port %d", port)
	}
	r.registry.Close()

	r.summary()
	return nil
}

// OnPeerReachable records and prints a reachable peer
func (r *Runner) OnPeerReachable(peer types.PeerReachable) {
	event := types.NewReachableEvent(peer)
	_ = r.reachable.Set(event.HostPort(), event)
	r.lost.Remove(event.HostPort())
	r.write(event)
}

// OnPeerUnreachable records and prints a lost peer
func (r *Runner) OnPeerUnreachable(peer types.PeerUnreachable) {
	event := types.NewUnreachableEvent(peer)
	r.reachable.Delete(event.HostPort())
	_ = r.lost.Set(event.HostPort(), event)
	r.write(event)
}

func (r *Runner) write(event types.PeerEvent) {
	if err := r.output.Write(event); err != nil {
		gologger.Warning().Msgf("Could not write event for %s: %s", event.HostPort(), err)
	}
}

// wait blocks for the configured duration, forever if it is zero, or until ctx ends
func (r *Runner) wait(ctx context.Context) {
	if r.options.Duration <= 0 {
		<-ctx.Done()
		return
	}
	r.pause(ctx, r.options.Duration)
}

// pause sleeps for d and reports false if ctx ended first
func (r *Runner) pause(ctx context.Context, d time.Duration) bool {
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

func (r *Runner) summary() {
	var reachable []string
	_ = r.reachable.Iterate(func(hostPort string, _ types.PeerEvent) error {
		reachable = append(reachable, hostPort)
		return nil
	})
	sort.Strings(reachable)

	lost := r.lost.Keys(true)
	sort.Strings(lost)

	gologger.Info().Msgf("Found %d reachable peers", len(reachable))
	for _, hostPort := range reachable {
		gologger.Info().Msgf("  %s", hostPort)
	}
	if len(lost) > 0 {
		gologger.Info().Msgf("Lost %d peers", len(lost))
		for _, hostPort := range lost {
			gologger.Info().Msgf("  %s", hostPort)
		}
	}
}

// Reachable returns the peers reachable at the time of the call
func (r *Runner) Reachable() []types.PeerEvent {
	var events []types.PeerEvent
	_ = r.reachable.Iterate(func(_ string, event types.PeerEvent) error {
		events = append(events, event)
		return nil
	})
	sort.Slice(events, func(i, j int) bool {
		return events[i].HostPort() < events[j].HostPort()
	})
	return events
}
