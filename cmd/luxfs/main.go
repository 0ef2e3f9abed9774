// luxfs serves a BH1750 ambient light sensor as a read-only FUSE file.
// Reading <mntpt>/<srvname>/lux returns the current illuminance as
// "<N> lux\n".
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/brettbedarf/luxfs/device"
	"github.com/brettbedarf/luxfs/internal/metrics"
	"github.com/brettbedarf/luxfs/internal/util"
	"github.com/brettbedarf/luxfs/server"
	"github.com/spf13/pflag"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2

	shutdownTimeout = 10 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "luxfs: %v\n", err)
		return exitUsage
	}

	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")
	logger.Info().
		Str("srvname", cfg.SrvName).
		Str("mnt", cfg.MountPoint).
		Str("bus", cfg.Bus).
		Str("addr", fmt.Sprintf("%#x", cfg.Addr)).
		Msg("luxfs initializing")

	// Try unmount if requested
	if opts.umount {
		cmd := exec.Command("fusermount", "-u", cfg.MountPoint)
		// we ignore error here if not already mounted
		cmd.Run() // nolint:errcheck
	}

	collector, err := metrics.NewCollector(metrics.Config{Addr: cfg.MetricsAddr})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create metrics collector")
		return exitFailure
	}

	ctx := context.Background()
	lfs, err := server.New(ctx, cfg, device.NewBuiltinRegistry(), collector)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize")
		return exitFailure
	}

	if err := collector.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start metrics server")
		shutdown(lfs)
		return exitFailure
	}

	if err := lfs.Serve(cfg.MountPoint); err != nil {
		logger.Error().Err(err).Msg("Failed to mount filesystem")
		shutdown(lfs)
		return exitFailure
	}

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalChan)

	logger.Info().Str("mountpoint", cfg.MountPoint).Msg("Filesystem mounted successfully")

	select {
	case sig := <-signalChan:
		logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-lfs.Done():
		logger.Info().Msg("Filesystem unmounted externally, shutting down")
	}

	if err := shutdown(lfs); err != nil {
		return exitFailure
	}
	return exitOK
}

func shutdown(lfs *server.LuxFs) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := lfs.Shutdown(ctx)
	if err != nil {
		logger := util.GetLogger("main")
		logger.Error().Err(err).Msg("Shutdown failed")
	}
	return err
}
