// Package server ties the sensor, the file tree and the FUSE dispatcher
// together and owns their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brettbedarf/luxfs/config"
	"github.com/brettbedarf/luxfs/device"
	"github.com/brettbedarf/luxfs/filesystem"
	"github.com/brettbedarf/luxfs/handlers"
	"github.com/brettbedarf/luxfs/internal/metrics"
	"github.com/brettbedarf/luxfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// LuxFs is one running sensor file service: an opened sensor, the sealed
// namespace that exposes it and, once Serve succeeds, the mount.
type LuxFs struct {
	*filesystem.FileSystem
	cfg     *config.Config
	sensor  *device.Sensor
	raw     *FuseRaw
	metrics *metrics.Collector

	mu     sync.Mutex // Protects server
	server *fuse.Server
	done   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds the namespace and initializes the sensor. It either returns a
// fully initialized LuxFs or an error with nothing left open.
// m may be nil.
func New(ctx context.Context, cfg *config.Config, opener device.Opener, m *metrics.Collector) (*LuxFs, error) {
	logger := util.GetLogger("LuxFs.New")

	sensor := device.NewSensor(opener, device.Options{
		Bus:        cfg.Bus,
		Addr:       cfg.Addr,
		SettleTime: cfg.SettleTime,
		Observer:   m,
	})

	files := handlers.Builtins(sensor)
	if err := files.Validate(); err != nil {
		return nil, fmt.Errorf("file table: %w", err)
	}
	fs, err := filesystem.Build(cfg, files)
	if err != nil {
		return nil, fmt.Errorf("build file tree: %w", err)
	}

	if err := sensor.Open(ctx); err != nil {
		return nil, fmt.Errorf("initialize sensor: %w", err)
	}

	logger.Info().Str("srvname", cfg.SrvName).Str("bus", cfg.Bus).Msg("Sensor file service ready")
	return &LuxFs{
		FileSystem: fs,
		cfg:        cfg,
		sensor:     sensor,
		raw:        NewFuseRaw(fs, cfg, m),
		metrics:    m,
		done:       make(chan struct{}),
	}, nil
}

// Serve mounts and serves the filesystem at the given mountPoint. It returns
// once the mount is visible; requests are handled in the background until
// Shutdown or an external unmount.
func (l *LuxFs) Serve(mountPoint string) error {
	logger := util.GetLogger("LuxFs.Serve")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.server != nil {
		return errors.New("already serving")
	}

	opts := l.cfg.MountOptions
	srv, err := fuse.NewServer(l.raw, mountPoint, &fuse.MountOptions{
		Name:               opts.Name,
		FsName:             opts.FsName,
		Debug:              opts.Debug,
		Logger:             util.NewLogLogger("FuseServer", util.DebugLevel),
		SingleThreaded:     l.cfg.SingleThreaded,
		DisableReadDirPlus: true,
	})
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountPoint, err)
	}

	go func() {
		srv.Serve()
		close(l.done)
	}()
	if err := srv.WaitMount(); err != nil {
		_ = srv.Unmount()
		return fmt.Errorf("wait for mount %s: %w", mountPoint, err)
	}
	l.server = srv

	logger.Info().Str("mnt", mountPoint).Str("dir", l.cfg.SrvName).Msg("Serving")
	return nil
}

// Done is closed when the serve loop exits, including after an external
// unmount
func (l *LuxFs) Done() <-chan struct{} {
	return l.done
}

// Shutdown stops request dispatch, powers the sensor down and unmounts.
// Only the first call does any work; later calls return its result.
func (l *LuxFs) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.shutdownErr = l.shutdown(ctx)
	})
	return l.shutdownErr
}

func (l *LuxFs) shutdown(ctx context.Context) error {
	logger := util.GetLogger("LuxFs.Shutdown")

	l.raw.Stop()

	var errs []error
	if err := l.sensor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sensor shutdown: %w", err))
	}

	l.mu.Lock()
	srv := l.server
	l.mu.Unlock()
	if srv != nil && !l.unmounted() {
		if err := srv.Unmount(); err != nil {
			errs = append(errs, fmt.Errorf("unmount: %w", err))
		}
	}

	if err := l.metrics.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Error().Err(err).Msg("Shutdown finished with errors")
	} else {
		logger.Info().Msg("Shutdown complete")
	}
	return err
}

func (l *LuxFs) unmounted() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
