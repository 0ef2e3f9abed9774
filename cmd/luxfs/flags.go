package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/brettbedarf/luxfs/config"
	"github.com/spf13/pflag"
)

// errUsage wraps command line problems that exit with status 2
var errUsage = errors.New("usage")

type options struct {
	configPath string
	umount     bool
	override   config.ConfigOverride
}

// parseArgs parses the command line. Only flags given explicitly end up in
// the override so a config file can supply the rest.
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	var (
		opts        options
		srvName     string
		mountPoint  string
		bus         string
		addr        string
		verbose     int
		metricsAddr string
		debug       bool
	)

	flagSet := pflag.NewFlagSet("luxfs", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&srvName, "srvname", "s", config.DefaultSrvName, "Name of the directory holding the lux file")
	flagSet.StringVarP(&mountPoint, "mntpt", "m", config.DefaultMountPoint, "Mount point")
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or JSON config file")
	flagSet.StringVarP(&bus, "bus", "b", config.DefaultBus, `I2C bus name or number, or "sim" for a simulated sensor`)
	flagSet.StringVarP(&addr, "addr", "a", fmt.Sprintf("%#x", config.DefaultAddr), "7-bit I2C address of the sensor")
	flagSet.IntVarP(&verbose, "verbose", "v", config.InfoVerbose, "Log verbosity between 1 (error) and 5 (trace)")
	flagSet.BoolVarP(&opts.umount, "umount", "u", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	flagSet.BoolVarP(&debug, "debug", "d", false, "Log every FUSE request")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: luxfs [-s srvname] [-m mntpt] [flags]\n\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		fmt.Fprintln(stderr, err)
		flagSet.Usage()
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if flagSet.NArg() > 0 {
		flagSet.Usage()
		return nil, fmt.Errorf("%w: unexpected argument %q", errUsage, flagSet.Arg(0))
	}

	o := &opts.override
	if flagSet.Changed("srvname") {
		o.SrvName = &srvName
		o.Name = &srvName
	}
	if flagSet.Changed("mntpt") {
		o.MountPoint = &mountPoint
	}
	if flagSet.Changed("bus") {
		o.Bus = &bus
	}
	if flagSet.Changed("addr") {
		v, err := strconv.ParseUint(addr, 0, 16)
		if err != nil {
			flagSet.Usage()
			return nil, fmt.Errorf("%w: invalid --addr %q", errUsage, addr)
		}
		a := uint16(v)
		o.Addr = &a
	}
	if flagSet.Changed("verbose") {
		o.LogLvl = &verbose
	}
	if flagSet.Changed("metrics-addr") {
		o.MetricsAddr = &metricsAddr
	}
	if flagSet.Changed("debug") {
		o.Debug = &debug
	}
	return &opts, nil
}

// loadConfig applies defaults, then the config file, then flags
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if opts.configPath != "" {
		fileOverride, err := config.LoadConfigOverrideFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: config %s: %w", errUsage, opts.configPath, err)
		}
		cfg.Merge(fileOverride)
	}
	cfg.Merge(&opts.override)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	return cfg, nil
}
