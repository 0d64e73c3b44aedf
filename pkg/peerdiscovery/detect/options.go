package detect

import (
	"time"

	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/common"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/tcpmonitor"
)

const (
	// DefaultStaggerDelay is the pause between two monitor startups
	DefaultStaggerDelay = time.Millisecond
	// DefaultMaxMonitors caps the monitors of one session, sixteen full /24 ranges
	DefaultMaxMonitors = 4096
)

// Options configures sessions started by a Registry
type Options struct {
	// Monitor tunes every monitor spawned by a session
	Monitor *tcpmonitor.Options
	// StaggerDelay is the pause between two monitor startups
	StaggerDelay time.Duration
	// MaxMonitors caps the monitors of a session; candidates past the cap are skipped with a warning
	MaxMonitors int
	// Prioritize starts monitors for likely-online addresses first
	Prioritize bool
	// AddressSource lists local addresses, defaults to every non-loopback interface that is up
	AddressSource common.AddressSource
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() *Options {
	return &Options{
		Monitor:       tcpmonitor.DefaultOptions(),
		StaggerDelay:  DefaultStaggerDelay,
		MaxMonitors:   DefaultMaxMonitors,
		AddressSource: common.NewAddressSource(true),
	}
}

func (o *Options) withDefaults() *Options {
	out := DefaultOptions()
	if o == nil {
		return out
	}
	*out = *o
	if out.Monitor == nil {
		out.Monitor = tcpmonitor.DefaultOptions()
	}
	if out.StaggerDelay < 0 {
		out.StaggerDelay = 0
	}
	if out.MaxMonitors <= 0 {
		out.MaxMonitors = DefaultMaxMonitors
	}
	if out.AddressSource == nil {
		out.AddressSource = common.NewAddressSource(true)
	}
	return out
}
