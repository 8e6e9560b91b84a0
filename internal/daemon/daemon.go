// Package daemon wires the keymapd subsystems together: the device
// channel, the change log, edit sessions, persistence, and the IPC
// server. One Daemon owns one keyboard.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"keymapd/internal/changelog"
	"keymapd/internal/config"
	"keymapd/internal/device"
	"keymapd/internal/ipc"
	"keymapd/internal/keycode"
	"keymapd/internal/keymap"
	"keymapd/internal/logging"
	"keymapd/internal/metrics"
	"keymapd/internal/session"
	"keymapd/internal/store"
	"keymapd/internal/wal"
	"keymapd/internal/watcher"
)

// sessionTTL bounds how long an idle edit session survives.
const sessionTTL = 15 * time.Minute

// ErrNoDevice is returned by operations that need an attached keyboard.
var ErrNoDevice = errors.New("daemon: no device attached")

// Daemon is the long-running keymapd process state.
type Daemon struct {
	mu      sync.RWMutex
	cfg     *config.Config
	cfgPath string
	version string
	log     *logging.Logger
	rootLog *logging.Logger

	codec    *keycode.Codec
	channel  *device.Channel
	journal  *changelog.Log
	sessions *session.Registry
	db       *store.Store
	intents  *wal.WAL
	met      *metrics.KeymapdMetrics

	server *ipc.Server

	// mirror is the daemon's copy of the device state. It is the
	// baseline source for staged changes and the revert target when
	// the device disappears.
	mirror  *keymap.Snapshot
	devPath string

	devWatcher *watcher.DeviceWatcher
	cfgWatcher *watcher.ConfigWatcher
	metricsSrv *http.Server

	startedAt time.Time
	notifyCh  chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New builds a daemon from configuration. cfgPath may be empty when
// the configuration did not come from a file; config hot-reload is
// disabled in that case.
func New(cfg *config.Config, cfgPath, version string, log *logging.Logger) (*Daemon, error) {
	if log == nil {
		log = logging.Default()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path, cfg.Storage.BusyTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var intents *wal.WAL
	if cfg.WAL.Enabled {
		intents, err = wal.Open(cfg.WAL.Path)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open intent journal: %w", err)
		}
	}

	codec := keycode.New(keycode.DefaultLimits())
	journal := changelog.New(log)
	journal.SetInstant(cfg.ChangeLog.Instant)

	d := &Daemon{
		cfg:      cfg,
		cfgPath:  cfgPath,
		version:  version,
		log:      log.WithComponent("daemon"),
		rootLog:  log,
		codec:    codec,
		channel:  device.NewChannel(log),
		journal:  journal,
		sessions: session.NewRegistry(codec, sessionTTL, log),
		db:       db,
		intents:  intents,
		met:      metrics.GetMetrics(),
		notifyCh: make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	d.channel.SetRetries(cfg.Device.RetryAttempts)

	// The change-log notify hook runs under the journal lock, so it
	// only nudges the event loop; the loop reads the count itself.
	journal.SetNotify(func() {
		select {
		case d.notifyCh <- struct{}{}:
		default:
		}
	})

	return d, nil
}

// Start brings up the IPC server, the watchers, and the first device
// attach attempt. It does not block; use Run for a blocking daemon.
func (d *Daemon) Start() error {
	d.startedAt = time.Now()

	serverCfg := ipc.ServerConfig{
		SocketPath:     d.cfg.IPC.SocketPath,
		Version:        d.version,
		MaxConnections: d.cfg.IPC.MaxConnections,
	}
	d.server = ipc.NewServer(serverCfg, newHandler(d), d.rootLog)
	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}

	if d.cfg.Metrics.Enabled {
		d.startMetricsEndpoint()
	}

	if err := d.tryAttach(context.Background()); err != nil {
		d.log.Warn("no device at startup, waiting for hotplug", "error", err)
	}

	if !d.cfg.Device.Mock {
		dw, err := watcher.NewDeviceWatcher("/dev")
		if err != nil {
			d.log.Warn("device hotplug watching unavailable", "error", err)
		} else if err := dw.Start(); err != nil {
			d.log.Warn("device hotplug watching unavailable", "error", err)
		} else {
			d.devWatcher = dw
		}
	}

	if d.cfgPath != "" {
		cw, err := watcher.NewConfigWatcher(d.cfgPath)
		if err != nil {
			d.log.Warn("config reload watching unavailable", "error", err)
		} else if err := cw.Start(); err != nil {
			d.log.Warn("config reload watching unavailable", "error", err)
		} else {
			d.cfgWatcher = cw
		}
	}

	d.wg.Add(1)
	go d.eventLoop()

	d.log.Info("daemon started", "version", d.version, "socket", d.server.SocketPath())
	return nil
}

// Run starts the daemon and blocks until the context is canceled or
// Stop is called.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-d.stopChan:
	}
	return d.Stop()
}

// Stop shuts the daemon down: clients are told, the socket closes,
// and durable state is flushed.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()

	if d.server != nil {
		d.server.Broadcast(&ipc.Event{Type: ipc.EventDaemonShutdown, Timestamp: time.Now()})
		d.server.Stop()
	}
	if d.devWatcher != nil {
		d.devWatcher.Stop()
	}
	if d.cfgWatcher != nil {
		d.cfgWatcher.Stop()
	}
	if d.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		d.metricsSrv.Shutdown(ctx)
		cancel()
	}

	d.channel.Detach()

	var firstErr error
	if d.intents != nil {
		// A clean shutdown has no unconfirmed intents; truncating
		// keeps the next startup from re-reading anything.
		if d.intents.OpenCount() == 0 {
			if err := d.intents.Truncate(); err != nil {
				firstErr = err
			}
		}
		if err := d.intents.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	d.log.Info("daemon stopped")
	return firstErr
}

// SocketPath returns the IPC socket path once started.
func (d *Daemon) SocketPath() string {
	if d.server != nil {
		return d.server.SocketPath()
	}
	return d.cfg.IPC.SocketPath
}

// Connected reports whether a keyboard is currently attached.
func (d *Daemon) Connected() bool {
	return d.channel.Connected()
}

func (d *Daemon) startMetricsEndpoint() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Default().HTTPHandler())
	srv := &http.Server{Addr: d.cfg.Metrics.ListenAddr, Handler: mux}
	d.metricsSrv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Warn("metrics endpoint failed", "addr", srv.Addr, "error", err)
		}
	}()
	d.log.Info("metrics endpoint listening", "addr", d.cfg.Metrics.ListenAddr)
}

// exchangeCtx bounds one device round trip per configuration.
func (d *Daemon) exchangeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(d.cfg.Device.ExchangeTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return context.WithTimeout(parent, timeout)
}

// tryAttach connects to the configured keyboard. With mock enabled it
// attaches an in-memory device instead of scanning hidraw nodes.
func (d *Daemon) tryAttach(ctx context.Context) error {
	if d.channel.Connected() {
		return nil
	}

	var (
		tr   device.Transport
		path string
	)
	if d.cfg.Device.Mock {
		tr = device.NewMock(device.DefaultMockInfo())
		path = "mock"
	} else {
		vendor, haveVendor, err := config.ParseUSBID(d.cfg.Device.VendorID)
		if err != nil {
			return fmt.Errorf("device filter: %w", err)
		}
		product, _, err := config.ParseUSBID(d.cfg.Device.ProductID)
		if err != nil {
			return fmt.Errorf("device filter: %w", err)
		}
		if !haveVendor {
			return errors.New("no device vendor configured")
		}

		path, err = device.FindHidraw(vendor, product)
		if err != nil {
			return err
		}
		hid, err := device.OpenHidraw(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		tr = hid
	}

	actx, cancel := d.exchangeCtx(ctx)
	defer cancel()
	if err := d.channel.Attach(actx, tr); err != nil {
		tr.Close()
		return fmt.Errorf("attach: %w", err)
	}

	info, _ := d.channel.Info()
	codec := keycode.New(keycode.Limits{
		Layers:    int(info.Layers),
		Combos:    int(info.Combos),
		Macros:    int(info.Macros),
		TapDances: int(info.TapDances),
	})

	sctx, scancel := context.WithTimeout(ctx, 30*time.Second)
	snapshot, err := d.channel.ReadSnapshot(sctx)
	scancel()
	if err != nil {
		d.channel.Detach()
		return fmt.Errorf("read device state: %w", err)
	}

	d.mu.Lock()
	d.codec = codec
	d.mirror = snapshot
	d.devPath = path
	d.sessions = session.NewRegistry(codec, sessionTTL, d.rootLog)
	d.mu.Unlock()

	// The full read above makes the mirror authoritative, which
	// resolves any intents left by a crash mid-write.
	if d.intents != nil {
		if n := d.intents.OpenCount(); n > 0 {
			d.log.Warn("resynchronized after interrupted writes", "intents", n)
			d.met.RecordRecovery()
		}
		if err := d.intents.Truncate(); err != nil {
			d.log.Warn("truncate intent journal", "error", err)
		}
	}

	d.met.SetDeviceConnected(true)
	d.log.Info("device attached", "path", path, "info", info.String())
	d.broadcast(ipc.EventDeviceAttached, ipc.DeviceChangeEvent{Path: path})
	return nil
}

// onDeviceGone cleans up after the keyboard disappears: staged changes
// roll back against the mirror, edit sessions reset, clients hear
// about it.
func (d *Daemon) onDeviceGone() {
	d.channel.Detach()

	d.mu.Lock()
	path := d.devPath
	d.devPath = ""
	mirror := d.mirror
	sessions := d.sessions
	d.mu.Unlock()

	if path == "" {
		return
	}

	if mirror != nil {
		restored, err := d.journal.Revert(context.Background(),
			func(_ context.Context, addr device.Address, baseline keycode.Wire) error {
				if !baseline.HasNum {
					return nil // nothing recoverable without a numeric baseline
				}
				d.mu.Lock()
				defer d.mu.Unlock()
				return mirrorSet(d.mirror, addr, baseline.Num)
			})
		if err != nil {
			d.log.Warn("revert after detach incomplete", "restored", restored, "error", err)
		} else if restored > 0 {
			d.log.Info("staged changes rolled back after detach", "count", restored)
		}
	}

	if sessions != nil {
		sessions.ResetAll()
	}

	d.met.SetDeviceConnected(false)
	d.log.Info("device detached", "path", path)
	d.broadcast(ipc.EventDeviceDetached, ipc.DeviceChangeEvent{Path: path})
}

func (d *Daemon) broadcast(t ipc.EventType, data any) {
	if d.server == nil {
		return
	}
	d.server.Broadcast(&ipc.Event{Type: t, Timestamp: time.Now(), Data: data})
}

// eventLoop drives hotplug, config reload, change-log notifications,
// and periodic housekeeping.
func (d *Daemon) eventLoop() {
	defer d.wg.Done()

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	var devEvents <-chan watcher.DeviceEvent
	if d.devWatcher != nil {
		devEvents = d.devWatcher.Events()
	}
	var reloads <-chan time.Time
	if d.cfgWatcher != nil {
		reloads = d.cfgWatcher.Reloads()
	}

	for {
		select {
		case <-d.stopChan:
			return

		case ev, ok := <-devEvents:
			if !ok {
				devEvents = nil
				continue
			}
			if ev.Arrived {
				if !d.channel.Connected() {
					if err := d.tryAttach(context.Background()); err != nil {
						d.log.Debug("hotplug attach failed", "path", ev.Path, "error", err)
					}
				}
			} else {
				d.mu.RLock()
				current := d.devPath
				d.mu.RUnlock()
				if ev.Path == current {
					d.onDeviceGone()
				}
			}

		case <-reloads:
			d.reloadConfig()

		case <-d.notifyCh:
			n := d.journal.Len()
			d.met.SetPendingChanges(int64(n))
			d.broadcast(ipc.EventPendingChanged, ipc.PendingChangedEvent{Pending: n})

		case <-sweep.C:
			if swept := d.currentSessions().Sweep(); swept > 0 {
				d.log.Debug("expired idle sessions", "count", swept)
			}
			d.met.SetActiveSessions(int64(d.currentSessions().Len()))
			d.met.UpdateUptime()
		}
	}
}

func (d *Daemon) currentSessions() *session.Registry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions
}

// reloadConfig re-reads the config file and applies what can change
// at runtime: log level and the instant-mode default. Device filter
// changes need a restart.
func (d *Daemon) reloadConfig() {
	cfg, err := config.Load(d.cfgPath)
	if err != nil {
		d.log.Warn("config reload failed", "path", d.cfgPath, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		d.log.Warn("config reload rejected", "path", d.cfgPath, "error", err)
		return
	}

	old := d.cfg

	if cfg.Logging.Level != old.Logging.Level {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			d.rootLog.SetLevel(level)
			d.log.Info("log level changed", "level", cfg.Logging.Level)
		} else {
			d.log.Warn("invalid log level in config", "level", cfg.Logging.Level)
		}
	}

	if cfg.ChangeLog.Instant != old.ChangeLog.Instant {
		d.journal.SetInstant(cfg.ChangeLog.Instant)
		d.log.Info("instant mode changed", "instant", cfg.ChangeLog.Instant)
		d.broadcast(ipc.EventInstantChanged, nil)
	}

	if cfg.Device.VendorID != old.Device.VendorID || cfg.Device.ProductID != old.Device.ProductID {
		d.log.Warn("device filter change requires restart",
			"vendor", cfg.Device.VendorID, "product", cfg.Device.ProductID)
	}

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	d.log.Info("configuration reloaded", "path", d.cfgPath)
	d.broadcast(ipc.EventConfigReloaded, nil)
}

// applyChange writes one staged value to the device, journaling the
// intent first so a crash between the device write and the history row
// is recoverable.
func (d *Daemon) applyChange(ctx context.Context, addr device.Address, value keycode.Wire) error {
	if !value.HasNum {
		return fmt.Errorf("%s has no device representation", value.Str)
	}

	var seq uint64
	if d.intents != nil {
		var err error
		seq, err = d.intents.Append(addr, value.Num)
		if err != nil {
			return fmt.Errorf("journal intent: %w", err)
		}
	}

	wctx, cancel := d.exchangeCtx(ctx)
	err := d.channel.Write(wctx, addr, value.Num)
	cancel()
	if err != nil {
		d.met.RecordDeviceError()
		return err
	}
	d.met.RecordDeviceWrite()

	if d.intents != nil {
		if err := d.intents.MarkDone(seq); err != nil {
			d.log.Warn("mark intent done", "seq", seq, "error", err)
		}
	}

	d.mu.Lock()
	if d.mirror != nil {
		if err := mirrorSet(d.mirror, addr, value.Num); err != nil {
			d.log.Warn("mirror update failed", "addr", addr.String(), "error", err)
		}
	}
	d.mu.Unlock()

	return nil
}

// restoreBaseline is the change-log restore callback for an attached
// device: baselines are written back through the normal path.
func (d *Daemon) restoreBaseline(ctx context.Context, addr device.Address, baseline keycode.Wire) error {
	return d.applyChange(ctx, addr, baseline)
}

// checkDeviceAfter runs after a device operation error; a write
// failure that took the transport down triggers detach cleanup.
func (d *Daemon) checkDeviceAfter(err error) {
	if err == nil {
		return
	}
	if !d.channel.Connected() {
		d.mu.RLock()
		stillBound := d.devPath != ""
		d.mu.RUnlock()
		if stillBound {
			d.onDeviceGone()
		}
	}
}
