// Package daemon wires the spectrometer daemon together: it opens the devices of a driver,
// builds an actor, a file manager and an acquisition sequence per device, serves them over
// TCP and persists the configuration.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-spectrad/config"
	"github.com/arloliu/go-spectrad/device"
	"github.com/arloliu/go-spectrad/filemgr"
	"github.com/arloliu/go-spectrad/hardware"
	"github.com/arloliu/go-spectrad/internal/task"
	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/sequence"
	"github.com/arloliu/go-spectrad/server"
)

// Version is reported by the daemon version command.
const Version = "1.0.0"

var (
	// ErrAlreadyStarted is returned by Start on a running daemon.
	ErrAlreadyStarted = errors.New("daemon already started")
	// ErrNoDevices is returned by Start when no device could be opened.
	ErrNoDevices = errors.New("no spectrometer opened")
)

// unit is one opened device with its sequence and file manager.
type unit struct {
	index int
	dev   *device.Device
	seq   *sequence.Sequence
	files *filemgr.Manager
}

// Daemon is the spectrometer daemon.
type Daemon struct {
	cfg    *config.Config
	drv    hardware.Driver
	logger logger.Logger

	metrics    *server.Metrics
	registry   *prometheus.Registry
	dispatcher *server.Dispatcher
	taskMgr    *task.Manager

	mu         sync.Mutex
	started    bool
	units      []*unit
	server     *server.Server
	publisher  filemgr.Publisher
	metricsSrv *http.Server
	metricsLn  net.Listener
}

// New creates a daemon serving the devices of drv with the configuration cfg.
func New(cfg *config.Config, drv hardware.Driver, l logger.Logger) *Daemon {
	if l == nil {
		l = logger.GetLogger()
	}

	m := server.NewMetrics()

	return &Daemon{
		cfg:        cfg,
		drv:        drv,
		logger:     l,
		metrics:    m,
		registry:   prometheus.NewRegistry(),
		dispatcher: server.NewDispatcher(Version, l, m),
		taskMgr:    task.NewManager(context.Background(), l.With("component", "daemon")),
	}
}

// Start opens the devices, starts serving requests and starts the background tasks.
// A failure leaves nothing running.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}

	dc := d.cfg.Daemon()

	if dc.RedisAddr != "" {
		pub, err := filemgr.NewRedisPublisher(ctx, filemgr.RedisOptions{
			Addr:       dc.RedisAddr,
			Channel:    dc.RedisChannel,
			HistoryLen: 100,
			Logger:     d.logger,
		})
		if err != nil {
			d.logger.Error("acquisitions will not be published", "error", err)
		} else {
			d.publisher = pub
		}
	}

	if err := d.openDevices(dc); err != nil {
		d.teardown()
		return err
	}

	srv, err := server.New(d.dispatcher,
		server.WithReadTimeout(dc.ReadTimeout),
		server.WithWriteTimeout(dc.WriteTimeout),
		server.WithCloseTimeout(closeTimeout(dc.ShutdownTimeout)),
		server.WithLogger(d.logger),
		server.WithMetrics(d.metrics),
	)
	if err != nil {
		d.teardown()
		return err
	}
	if err := srv.Listen(dc.Addr()); err != nil {
		d.teardown()
		return err
	}
	d.server = srv

	if err := d.startMetrics(dc.MetricsAddr); err != nil {
		d.teardown()
		return err
	}

	if d.cfg.Path() != "" && dc.AutosaveInterval > 0 {
		err := d.taskMgr.StartInterval("autosave", d.autosave, dc.AutosaveInterval, false)
		if err != nil {
			d.teardown()
			return err
		}
	}

	d.started = true
	d.logger.Info("daemon started", "version", Version, "address", srv.Addr().String(),
		"devices", d.dispatcher.Len())

	return nil
}

// openDevices opens every device of the driver. Devices that fail to open are logged and
// skipped; opening none at all is an error.
func (d *Daemon) openDevices(dc config.DaemonConfig) error {
	ids, err := d.drv.Probe()
	if err != nil {
		return fmt.Errorf("probe devices: %w", err)
	}

	for index, id := range ids {
		u, err := d.openDevice(index, id, dc)
		if err != nil {
			d.logger.Error("failed to open device", "device", index, "id", id, "error", err)
			continue
		}

		if err := d.dispatcher.Register(index, u.dev, u.seq); err != nil {
			u.close()
			return err
		}
		d.units = append(d.units, u)
	}

	if len(d.units) == 0 {
		return ErrNoDevices
	}

	return nil
}

func (d *Daemon) openDevice(index, id int, dc config.DaemonConfig) (*unit, error) {
	hw, err := d.drv.Open(id)
	if err != nil {
		return nil, err
	}

	serial, err := hw.SerialNumber()
	if err != nil {
		_ = hw.Close()
		return nil, err
	}

	settings := d.cfg.Device(serial)
	store := d.cfg.Store(serial)

	opts := device.OptionsFromSettings(settings)
	opts.QueueCapacity = dc.QueueCapacity
	opts.Store = store
	opts.Logger = d.logger

	dev, err := device.New(index, hw, opts)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}

	files := filemgr.New(filemgr.Options{
		Extension: settings.FileExtension,
		Format:    settings.SaveFormat,
		Precision: settings.SavePrecision,
		Publisher: d.publisher,
		Logger:    dev.Logger(),
	})

	seq := sequence.New(dev, files, sequence.Options{
		Settings: settings,
		Store:    store,
		Logger:   d.logger,
	})

	return &unit{index: index, dev: dev, seq: seq, files: files}, nil
}

func (d *Daemon) startMetrics(addr string) error {
	if err := d.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := d.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}
	if err := d.metrics.Register(d.registry, d.dispatcher); err != nil {
		return err
	}

	if addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry}))
	d.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	d.metricsLn = ln

	srv := d.metricsSrv

	return d.taskMgr.Start("metricsServer", func() bool {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server stopped", "error", err)
		}

		return false
	}, nil)
}

func (d *Daemon) autosave() bool {
	if err := d.cfg.Save(); err != nil {
		d.logger.Error("failed to save config", "path", d.cfg.Path(), "error", err)
	}

	return true
}

// Addr returns the request listener address, or nil if the daemon is not serving.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.server == nil {
		return nil
	}

	return d.server.Addr()
}

// MetricsAddr returns the metrics listener address, or nil if metrics are not served.
func (d *Daemon) MetricsAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.metricsLn == nil {
		return nil
	}

	return d.metricsLn.Addr()
}

// Dispatcher returns the request dispatcher.
func (d *Daemon) Dispatcher() *server.Dispatcher { return d.dispatcher }

// Registry returns the prometheus registry holding the daemon metrics.
func (d *Daemon) Registry() *prometheus.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.registry
}

// Shutdown stops serving requests, stops every running sequence, drains the device actors,
// closes the devices and saves the configuration.
func (d *Daemon) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	d.started = false

	err := d.teardown()
	d.logger.Info("daemon stopped")

	return err
}

func (d *Daemon) teardown() error {
	var errs []error

	if d.server != nil {
		errs = append(errs, d.server.Close())
		d.server = nil
	}

	if d.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, d.metricsSrv.Shutdown(ctx))
		cancel()
		d.metricsSrv = nil
		d.metricsLn = nil
	}

	d.taskMgr.Stop()
	d.taskMgr.Wait()

	for _, u := range d.units {
		d.dispatcher.Unregister(u.index)
		errs = append(errs, u.close())
	}
	d.units = nil

	if d.publisher != nil {
		errs = append(errs, d.publisher.Close())
		d.publisher = nil
	}

	if d.cfg.Path() != "" {
		errs = append(errs, d.cfg.Save())
	}

	d.registry = prometheus.NewRegistry()

	return errors.Join(errs...)
}

func (u *unit) close() error {
	u.seq.Close()
	return u.dev.Close()
}

func closeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}

	return d
}
