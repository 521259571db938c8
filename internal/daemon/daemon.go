// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/synguard/internal/capture"
	"firestige.xyz/synguard/internal/command"
	"firestige.xyz/synguard/internal/config"
	"firestige.xyz/synguard/internal/engine"
	"firestige.xyz/synguard/internal/log"
	"firestige.xyz/synguard/internal/metrics"
)

// Daemon manages the synguard process lifecycle: capture workers, the
// control socket, the metrics endpoint and the periodic maintenance loops.
type Daemon struct {
	// Configuration
	mu         sync.Mutex
	config     *config.Config
	configPath string

	// Core components
	engine        *engine.Engine
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	// openSources opens the capture queues; replaced in tests.
	openSources func(config.CaptureConfig) ([]capture.Source, error)

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	started      bool
	runErr       error
	sigChan      chan os.Signal
}

// New loads the configuration at configPath and creates a Daemon. A
// non-empty socketPath overrides control.socket.
func New(configPath, socketPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath != "" {
		cfg.Control.Socket = socketPath
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		openSources:  capture.OpenAll,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Config returns the configuration currently in effect.
func (d *Daemon) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Engine returns the admission engine, nil before Start.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// SocketPath returns the control socket path.
func (d *Daemon) SocketPath() string { return d.config.Control.Socket }

// Start initializes and starts all daemon components. On failure the
// components started so far are stopped again.
func (d *Daemon) Start() error {
	if err := d.start(); err != nil {
		d.Stop()
		return err
	}
	return nil
}

func (d *Daemon) start() error {
	cfg := d.config
	d.started = true

	// 1. Logging
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := log.GetLogger()
	logger.WithField("version", command.Version).
		WithField("config", d.configPath).
		WithField("socket", cfg.Control.Socket).
		Info("starting synguard daemon")

	// 2. PID file
	if err := d.writePIDFile(); err != nil {
		return err
	}

	// 3. Admission engine
	e, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	d.engine = e

	// 4. Metrics
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. Control socket
	d.cmdHandler = command.NewCommandHandler(d.engine, d)
	d.cmdHandler.SetShutdownFunc(func() {
		logger.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})
	d.udsServer = command.NewUDSServer(cfg.Control.Socket, d.cmdHandler)
	udsErr := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.udsServer.Start(d.ctx); err != nil {
			udsErr <- err
		}
	}()
	select {
	case <-d.udsServer.Ready():
	case err := <-udsErr:
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	// 6. Capture workers
	sources, err := d.openSources(cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runCapture(sources, cfg.Capture.Respond)
	}()

	// 7. Maintenance
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.maintain(cfg.Janitor.Interval, d.engine.RotationInterval())
	}()

	logger.WithField("source", cfg.Capture.Source).
		WithField("queues", len(sources)).
		WithField("mode", cfg.Engine.Mode).
		Info("daemon started successfully")
	return nil
}

// runCapture runs the engine over sources. A worker failure stops the
// daemon; sources running dry (a finished pcap) leave the control plane up.
func (d *Daemon) runCapture(sources []capture.Source, respond bool) {
	err := d.engine.Run(d.ctx, sources, respond)
	switch {
	case err != nil:
		log.GetLogger().WithError(err).Error("capture stopped with error")
		d.mu.Lock()
		d.runErr = err
		d.mu.Unlock()
		d.TriggerShutdown()
	case d.ctx.Err() == nil:
		log.GetLogger().Info("capture sources exhausted")
	}
}

// maintain sweeps expired bans and idle flows every janitor interval and
// rotates the cookie secret every rotation interval.
func (d *Daemon) maintain(janitor, rotation time.Duration) {
	sweep := time.NewTicker(janitor)
	defer sweep.Stop()
	rotate := time.NewTicker(rotation)
	defer rotate.Stop()

	logger := log.GetLogger()
	for {
		select {
		case now := <-sweep.C:
			bans, flows := d.engine.Sweep(now)
			if bans > 0 || flows > 0 {
				logger.WithField("bans", bans).WithField("flows", flows).Debug("janitor sweep")
			}
		case now := <-rotate.C:
			if err := d.engine.RotateSecret(now); err != nil {
				logger.WithError(err).Error("failed to rotate cookie secret")
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	logger := log.GetLogger()
	logger.Info("initiating graceful shutdown")

	// 1. Cancel: stops capture workers, maintenance and the control socket
	d.cancel()
	if d.udsServer != nil {
		d.udsServer.Stop()
	}
	d.wg.Wait()

	// 2. Metrics
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("error stopping metrics server")
		}
	}

	// 3. Signals
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 4. PID file
	if d.started {
		if err := d.removePIDFile(); err != nil {
			logger.WithError(err).Error("error removing PID file")
		}
	}

	if d.engine != nil {
		s := d.engine.Snapshot()
		logger.WithField("syn_total", s.SYNTotal).
			WithField("cookies_issued", s.CookiesIssued).
			WithField("dropped", s.Dropped).
			Info("daemon stopped gracefully")
	}
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT, the
// daemon_shutdown command or a capture failure. SIGHUP reloads the
// configuration. The returned error is the capture failure, if any.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logger := log.GetLogger()
	logger.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig).Info("received shutdown signal")
				d.Stop()
				return nil

			case syscall.SIGHUP:
				logger.Info("received reload signal")
				if err := d.Reload(); err != nil {
					logger.WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			d.Stop()
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.runErr
		}
	}
}

// Reload re-reads the configuration file and applies the hot settings:
// log level and the engine policy. Cold settings that changed are logged
// and keep their running values until restart.
// Implements command.ConfigReloader.
func (d *Daemon) Reload() error {
	logger := log.GetLogger()
	logger.WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	if d.engine != nil {
		if err := d.engine.Apply(&newConfig.Engine); err != nil {
			return fmt.Errorf("failed to apply engine config: %w", err)
		}
	}
	if err := log.SetLevel(newConfig.Log.Level); err != nil {
		return fmt.Errorf("failed to apply log level: %w", err)
	}

	d.mu.Lock()
	old := d.config
	requiresRestart := coldChanges(old, newConfig)
	// The running socket and PID file stay in effect.
	newConfig.Control = old.Control
	d.config = newConfig
	d.mu.Unlock()

	entry := logger.WithField("level", newConfig.Log.Level).
		WithField("threshold", newConfig.Engine.Threshold).
		WithField("time_window", newConfig.Engine.TimeWindow).
		WithField("mode", newConfig.Engine.Mode)
	if len(requiresRestart) > 0 {
		entry = entry.WithField("requires_restart", requiresRestart)
	}
	entry.Info("configuration reloaded")
	return nil
}

// coldChanges lists the restart-only settings that differ between old and next.
func coldChanges(old, next *config.Config) []string {
	var out []string
	check := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	check("engine.max_entries", old.Engine.MaxEntries != next.Engine.MaxEntries)
	check("engine.blacklist_max_entries", old.Engine.BlacklistMaxEntries != next.Engine.BlacklistMaxEntries)
	check("engine.shards", old.Engine.Shards != next.Engine.Shards)
	check("engine.link_type", old.Engine.LinkType != next.Engine.LinkType)
	check("cookie.rotation_interval", old.Cookie.RotationInterval != next.Cookie.RotationInterval)
	check("conntrack", old.Conntrack != next.Conntrack)
	check("janitor.interval", old.Janitor.Interval != next.Janitor.Interval)
	check("capture", old.Capture != next.Capture)
	check("metrics", old.Metrics != next.Metrics)
	check("log.format", old.Log.Format != next.Log.Format)
	return out
}

// TriggerShutdown asks Run to stop the daemon.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// Done is closed once shutdown has been triggered.
func (d *Daemon) Done() <-chan struct{} { return d.shutdownChan }

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	mc := d.config.Metrics
	if !mc.Enabled {
		log.GetLogger().Info("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(mc.Listen, mc.Path, d.engine)
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	return nil
}

// MetricsAddr returns the bound metrics address, empty if disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil {
		return ""
	}
	return d.metricsServer.Addr()
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}

	log.GetLogger().WithField("path", path).WithField("pid", pid).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}
