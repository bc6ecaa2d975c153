// Package device implements the per-device actor: the command table of one spectrometer,
// its cached state and the spectrum processing pipeline.
//
// Every command that touches the hardware or the cached state runs on the device's actor
// queue, so the cached fields below are read and written by the worker goroutine only and
// need no locking. The response of a queued command is written from the worker.
package device

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/arloliu/go-spectrad/actor"
	"github.com/arloliu/go-spectrad/config"
	"github.com/arloliu/go-spectrad/hardware"
	"github.com/arloliu/go-spectrad/internal/util"
	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/wire"
)

// SettingsStore persists the settings a client changes.
type SettingsStore interface {
	Update(fn func(s *config.DeviceSettings))
}

// Options configures a Device.
type Options struct {
	// QueueCapacity is the capacity of the actor queue.
	QueueCapacity int
	// IntegrationTime in µs applied at construction; zero keeps the hardware value.
	IntegrationTime        uint32
	ScansToAverage         int
	BoxcarWidth            int
	ElectricDarkCorrection bool
	// Store receives setting changes; nil disables persistence.
	Store  SettingsStore
	Logger logger.Logger
}

// OptionsFromSettings returns the options holding the initial values of s.
func OptionsFromSettings(s config.DeviceSettings) Options {
	return Options{
		IntegrationTime:        s.IntegrationTime,
		ScansToAverage:         s.ScansToAverage,
		BoxcarWidth:            s.BoxcarWidth,
		ElectricDarkCorrection: s.ElectricDarkCorrection,
	}
}

// Snapshot is the acquisition metadata of a device at one point in time.
type Snapshot struct {
	DeviceIndex     int
	Serial          string
	Model           string
	PixelCount      int
	Wavelengths     []float64
	IntegrationTime uint32 // µs
	ScansToAverage  int
	BoxcarWidth     int
	BinningFactor   uint8
}

// Device is the actor of one opened spectrometer.
type Device struct {
	index    int
	serial   string
	model    string
	hw       hardware.Device
	queue    *actor.Queue
	logger   logger.Logger
	store    SettingsStore
	commands map[wire.Command]handler

	lastStatus atomic.Uint32

	// worker-only state
	integrationTime uint32
	minIntegration  uint32
	maxIntegration  uint32
	maxIntensity    float64
	basePixels      int
	pixelCount      int
	binning         uint8
	maxBinning      uint8
	scansToAverage  int
	boxcarWidth     int
	edc             bool
	darkPixels      []int // unbinned
	wavelengths     []float64
	sum             []float64
	scan            []float64
}

// New reads the device metadata from hw, applies the initial settings of opts and starts
// the actor worker.
func New(index int, hw hardware.Device, opts Options) (*Device, error) {
	if hw == nil {
		return nil, errors.New("nil hardware device")
	}

	l := opts.Logger
	if l == nil {
		l = logger.GetLogger()
	}

	d := &Device{
		index:          index,
		hw:             hw,
		store:          opts.Store,
		scansToAverage: 1,
	}

	if err := d.load(); err != nil {
		return nil, fmt.Errorf("device %d: %w", index, err)
	}

	d.logger = l.With("device", index, "serial", d.serial)
	d.applyInitial(opts)
	d.commands = d.commandTable()
	d.queue = actor.NewQueue(fmt.Sprintf("device-%d", index), opts.QueueCapacity, d.logger)

	d.logger.Info("device opened",
		"model", d.model,
		"pixels", d.pixelCount,
		"binning", d.binning,
		"integration_time_us", d.integrationTime,
	)

	return d, nil
}

// load populates the cached state from the hardware.
func (d *Device) load() error {
	var err error

	if d.serial, err = d.hw.SerialNumber(); err != nil {
		return err
	}
	if d.model, err = d.hw.ModelName(); err != nil {
		return err
	}
	if d.integrationTime, err = d.hw.IntegrationTime(); err != nil {
		return err
	}
	if d.minIntegration, err = d.hw.MinIntegrationTime(); err != nil {
		return err
	}
	if d.maxIntegration, err = d.hw.MaxIntegrationTime(); err != nil {
		return err
	}
	if d.maxIntensity, err = d.hw.MaxIntensity(); err != nil {
		return err
	}
	if d.binning, err = d.hw.BinningFactor(); err != nil {
		return err
	}
	if d.maxBinning, err = d.hw.MaxBinningFactor(); err != nil {
		return err
	}
	if d.darkPixels, err = d.hw.ElectricDarkPixelIndices(); err != nil {
		return err
	}

	pixels, err := d.hw.FormattedSpectrumLength()
	if err != nil {
		return err
	}
	d.basePixels = pixels << d.binning

	return d.refreshWavelengths()
}

// applyInitial applies the configured settings. Invalid values are logged and skipped.
func (d *Device) applyInitial(opts Options) {
	if t := opts.IntegrationTime; t != 0 && t != d.integrationTime {
		if err := d.setIntegrationTime(t); err != nil {
			d.logger.Warn("initial integration time not applied", "value", t, "error", err)
		}
	}
	switch n := opts.ScansToAverage; {
	case n > config.MaxScansToAverage:
		d.logger.Warn("initial scans to average not applied", "value", n, "max", config.MaxScansToAverage)
	case n > 0:
		d.scansToAverage = n
	}
	if err := d.checkBoxcar(opts.BoxcarWidth); err == nil {
		d.boxcarWidth = opts.BoxcarWidth
	} else {
		d.logger.Warn("initial boxcar width not applied", "value", opts.BoxcarWidth, "error", err)
	}
	d.edc = opts.ElectricDarkCorrection
}

// Index returns the device index used on the wire.
func (d *Device) Index() int { return d.index }

// Serial returns the serial number read at construction.
func (d *Device) Serial() string { return d.serial }

// Model returns the model name read at construction.
func (d *Device) Model() string { return d.model }

// Logger returns the device logger.
func (d *Device) Logger() logger.Logger { return d.logger }

// QueueLen returns the number of tasks waiting on the device actor.
func (d *Device) QueueLen() int { return d.queue.Len() }

// Executed returns the number of tasks the device actor has run.
func (d *Device) Executed() uint64 { return d.queue.Executed() }

// Submit runs fn on the device actor after every previously submitted task.
func (d *Device) Submit(name string, fn func()) error {
	return d.queue.Submit(actor.Task{Name: name, Run: fn})
}

// SubmitTask is Submit with a recovery hook.
func (d *Device) SubmitTask(t actor.Task) error {
	return d.queue.Submit(t)
}

// Accept executes cmd if the device command table has it and reports whether it did.
// The response is delivered through r, from the worker for queued commands.
func (d *Device) Accept(r wire.Responder, cmd wire.Command, args string) bool {
	h, ok := d.commands[cmd]
	if !ok {
		return false
	}

	if !h.queued {
		d.respond(r, cmd, h, args)
		return true
	}

	err := d.queue.Submit(actor.Task{
		Name: cmd.String(),
		Run:  func() { d.respond(r, cmd, h, args) },
		Recover: func(rec any) {
			d.lastStatus.Store(uint32(wire.StatusActorError))
			r.Respond(wire.Fail(fmt.Errorf("%w: %s: %v", wire.ErrActor, cmd, rec)))
		},
	})
	if err != nil {
		r.Respond(wire.Fail(fmt.Errorf("%w: %w", wire.ErrActor, err)))
	}

	return true
}

func (d *Device) respond(r wire.Responder, cmd wire.Command, h handler, args string) {
	resp, err := h.fn(args)
	if err != nil {
		d.logger.Debug("command failed", "command", cmd, "args", args, "error", err)
		resp = wire.Fail(err)
	}

	d.lastStatus.Store(uint32(resp.Status))
	r.Respond(resp)
}

// Snapshot returns the acquisition metadata. It must be called on the worker.
func (d *Device) Snapshot() Snapshot {
	return Snapshot{
		DeviceIndex:     d.index,
		Serial:          d.serial,
		Model:           d.model,
		PixelCount:      d.pixelCount,
		Wavelengths:     util.CloneSlice(d.wavelengths, 0),
		IntegrationTime: d.integrationTime,
		ScansToAverage:  d.scansToAverage,
		BoxcarWidth:     d.boxcarWidth,
		BinningFactor:   d.binning,
	}
}

// Close drains the actor queue and closes the hardware device.
func (d *Device) Close() error {
	d.queue.Stop()

	if err := d.hw.Close(); err != nil {
		return fmt.Errorf("close device %d: %w", d.index, err)
	}
	d.logger.Info("device closed", "executed", d.queue.Executed())

	return nil
}

func (d *Device) persist(fn func(s *config.DeviceSettings)) {
	if d.store != nil {
		d.store.Update(fn)
	}
}
