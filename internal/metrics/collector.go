package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/brettbedarf/luxfs/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultNamespace = "luxfs"
	DefaultPath      = "/metrics"
)

// Config represents metrics configuration
type Config struct {
	Addr      string // listen address; empty disables the collector
	Path      string
	Namespace string
}

// Collector records bus transactions, reads and open rejections
type Collector struct {
	mu       sync.Mutex
	config   Config
	registry *prometheus.Registry

	txCounter    *prometheus.CounterVec
	txDuration   *prometheus.HistogramVec
	readCounter  *prometheus.CounterVec
	openRejected prometheus.Counter
	openHandles  prometheus.Gauge

	server   *http.Server
	listener net.Listener
}

// NewCollector creates a new metrics collector. Missing Path and Namespace
// fall back to defaults.
func NewCollector(config Config) (*Collector, error) {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	if config.Addr == "" {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Enabled reports whether the collector records anything
func (c *Collector) Enabled() bool {
	return c != nil && c.registry != nil
}

// ObserveTx records one bus transaction. It satisfies device.Observer.
func (c *Collector) ObserveTx(op string, d time.Duration, err error) {
	if !c.Enabled() {
		return
	}
	c.txCounter.With(prometheus.Labels{"op": op, "status": status(err)}).Inc()
	c.txDuration.With(prometheus.Labels{"op": op}).Observe(d.Seconds())
}

// RecordRead records one read request served by a file handler
func (c *Collector) RecordRead(file string, err error) {
	if !c.Enabled() {
		return
	}
	c.readCounter.With(prometheus.Labels{"file": file, "status": status(err)}).Inc()
}

// RecordOpenRejected counts an open refused because the file is in use
func (c *Collector) RecordOpenRejected() {
	if !c.Enabled() {
		return
	}
	c.openRejected.Inc()
}

func (c *Collector) SetOpenHandles(n int) {
	if !c.Enabled() {
		return
	}
	c.openHandles.Set(float64(n))
}

// Handler returns the exposition handler; disabled collectors answer 404
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start binds the listen address and serves the metrics endpoint in the
// background. The listener is bound before Start returns so bind failures are
// reported to the caller.
func (c *Collector) Start(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	logger := util.GetLogger("Metrics.Start")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return errors.New("metrics server already started")
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.config.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", c.config.Addr, err)
	}

	c.listener = ln
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger := util.GetLogger("Metrics.Serve")
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}(c.server)

	logger.Info().Str("addr", ln.Addr().String()).Str("path", c.config.Path).Msg("Metrics server listening")
	return nil
}

// Addr returns the bound listen address, nil before Start
func (c *Collector) Addr() net.Addr {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.listener = nil
	c.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.txCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "bus",
			Name:      "transactions_total",
			Help:      "Total number of I2C transactions with the sensor",
		},
		[]string{"op", "status"},
	)

	c.txDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "bus",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of I2C transactions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~0.8s
		},
		[]string{"op"},
	)

	c.readCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "fs",
			Name:      "reads_total",
			Help:      "Total number of file read requests",
		},
		[]string{"file", "status"},
	)

	c.openRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "fs",
			Name:      "open_rejected_total",
			Help:      "Opens refused because an exclusive file was in use",
		},
	)

	c.openHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "fs",
			Name:      "open_handles",
			Help:      "Number of open file handles",
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.txCounter,
		c.txDuration,
		c.readCounter,
		c.openRejected,
		c.openHandles,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
