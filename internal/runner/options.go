package runner

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/common"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/detect"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/tcpmonitor"
	"github.com/projectdiscovery/tcpdetect/pkg/version"
	envutil "github.com/projectdiscovery/utils/env"
	sliceutil "github.com/projectdiscovery/utils/slice"
)

var au *aurora.Aurora

var (
	PortsEnv = envutil.GetEnvOrDefault("TCPDETECT_PORTS", "80,443")
)

// Options contains the configuration options for the discovery run
type Options struct {
	Ports    goflags.StringSlice
	SkipSelf bool
	Duration time.Duration
	StopGap  time.Duration

	ProbeInterval   time.Duration
	RetryInterval   time.Duration
	DialTimeout     time.Duration
	UserTimeout     time.Duration
	StaggerDelay    time.Duration
	MaxMonitors     int
	IncludeLoopback bool
	Prioritize      bool

	JSON    bool
	Verbose bool
	Debug   bool
	Silent  bool
	NoColor bool
	Version bool
}

// ParseOptions parses the command line flags provided by a user
func ParseOptions() *Options {
	options := &Options{}
	flagSet := goflags.NewFlagSet()

	flagSet.SetDescription(`tcpdetect finds hosts on the local /24 networks listening on a TCP port and reports when they come and go`)

	flagSet.CreateGroup("input", "Input",
		flagSet.StringSliceVarP(&options.Ports, "port", "p", strings.Split(PortsEnv, ","), "ports to monitor (comma separated)", goflags.CommaSeparatedStringSliceOptions),
		flagSet.BoolVarP(&options.SkipSelf, "skip-self", "ss", true, "do not probe the local addresses"),
		flagSet.BoolVarP(&options.IncludeLoopback, "include-loopback", "il", false, "also enumerate loopback interfaces"),
		flagSet.BoolVarP(&options.Prioritize, "prioritize", "pr", false, "start monitoring likely hosts (gateways, dhcp peaks) first"),
	)

	flagSet.CreateGroup("run", "Run",
		flagSet.DurationVarP(&options.Duration, "duration", "d", 10*time.Second, "time to run before stopping (0 runs until interrupted)"),
		flagSet.DurationVarP(&options.StopGap, "stop-gap", "sg", 0, "pause between stopping two ports"),
	)

	flagSet.CreateGroup("tuning", "Tuning",
		flagSet.DurationVarP(&options.ProbeInterval, "probe-interval", "pi", tcpmonitor.DefaultProbeInterval, "interval between two liveness probes"),
		flagSet.DurationVarP(&options.RetryInterval, "retry-interval", "ri", tcpmonitor.DefaultRetryInterval, "pause after a failed connect"),
		flagSet.DurationVarP(&options.DialTimeout, "dial-timeout", "dt", tcpmonitor.DefaultDialTimeout, "timeout of a single connect"),
		flagSet.DurationVarP(&options.UserTimeout, "user-timeout", "ut", 0, "TCP_USER_TIMEOUT for monitor connections (linux only)"),
		flagSet.DurationVar(&options.StaggerDelay, "stagger", detect.DefaultStaggerDelay, "pause between two monitor startups"),
		flagSet.IntVarP(&options.MaxMonitors, "max-monitors", "mm", detect.DefaultMaxMonitors, "maximum number of concurrent monitors per port"),
	)

	flagSet.CreateGroup("output", "Output",
		flagSet.BoolVarP(&options.JSON, "json", "j", false, "write events as jsonl"),
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "show verbose output"),
		flagSet.BoolVar(&options.Debug, "debug", false, "show debug output"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only events"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
	)

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}

	// configure aurora for logging
	au = aurora.New(aurora.WithColors(true))

	options.configureOutput()

	showBanner()

	if options.Version {
		gologger.Info().Msgf("Current Version: %s\n", version.GetVersion())
		os.Exit(0)
	}

	if err := options.validate(); err != nil {
		gologger.Fatal().Msgf("Program exiting: %s\n", err)
	}

	return options
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
	if options.Debug {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
	}
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
		au = aurora.New(aurora.WithColors(false))
	}
	if options.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}
}

func (options *Options) validate() error {
	if _, err := parsePorts(options.Ports); err != nil {
		return err
	}
	if options.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	if options.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	if options.MaxMonitors <= 0 {
		return fmt.Errorf("max monitors must be positive")
	}
	return nil
}

// detectOptions maps the cli options onto the discovery library options
func (options *Options) detectOptions() *detect.Options {
	return &detect.Options{
		Monitor: &tcpmonitor.Options{
			ProbeInterval: options.ProbeInterval,
			RetryInterval: options.RetryInterval,
			DialTimeout:   options.DialTimeout,
			UserTimeout:   options.UserTimeout,
		},
		StaggerDelay:  options.StaggerDelay,
		MaxMonitors:   options.MaxMonitors,
		Prioritize:    options.Prioritize,
		AddressSource: common.NewAddressSource(!options.IncludeLoopback),
	}
}

// parsePorts converts the port flag values, dropping duplicates but keeping order
func parsePorts(values []string) ([]int, error) {
	var ports []int
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		port, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %d: %w", port, detect.ErrInvalidPort)
		}
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no port specified")
	}
	return sliceutil.Dedupe(ports), nil
}
