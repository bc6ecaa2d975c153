// Package sim provides a simulated spectrometer driver.
//
// The simulated device renders a baseline plus Gaussian emission lines scaled by the
// integration time, honours binning, TEC and lamp settings, and supports scripted
// spectra and injected driver errors for tests.
package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/arloliu/go-spectrad/hardware"
)

// Peak is a Gaussian emission line.
type Peak struct {
	Center    float64 // nm
	Width     float64 // nm, standard deviation
	Amplitude float64 // counts per millisecond of integration
}

// Spec describes a simulated device.
type Spec struct {
	Serial             string
	Model              string
	Pixels             int
	DarkPixels         []int
	MinIntegration     uint32 // µs
	MaxIntegration     uint32 // µs
	MaxIntensity       float64
	MaxBinning         uint8
	WavelengthStart    float64 // nm
	WavelengthStep     float64 // nm per unbinned pixel
	Baseline           float64
	Noise              float64
	Peaks              []Peak
	InitialIntegration uint32 // µs
}

// DefaultSpec describes a generic 2048 pixel visible range spectrometer.
func DefaultSpec(serial string) Spec {
	return Spec{
		Serial:             serial,
		Model:              "SIM-2048",
		Pixels:             2048,
		DarkPixels:         []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17},
		MinIntegration:     1000,
		MaxIntegration:     65_000_000,
		MaxIntensity:       65535,
		MaxBinning:         3,
		WavelengthStart:    340,
		WavelengthStep:     0.35,
		Baseline:           1500,
		Noise:              12,
		Peaks:              []Peak{{Center: 435.8, Width: 0.8, Amplitude: 900}, {Center: 546.1, Width: 0.8, Amplitude: 1400}, {Center: 611.6, Width: 1.2, Amplitude: 300}},
		InitialIntegration: 10_000,
	}
}

// Device is a simulated hardware.Device.
type Device struct {
	mu   sync.Mutex
	spec Spec
	rng  *rand.Rand

	integration    uint32
	binning        uint8
	defaultBinning uint8
	tecEnable      bool
	tecSetpoint    float64
	lampEnable     bool
	closed         bool

	scripted [][]float64
	failures map[string][]int
	calls    map[string]int
}

var _ hardware.Device = (*Device)(nil)

// NewDevice creates a simulated device from spec.
func NewDevice(spec Spec) *Device {
	if spec.InitialIntegration == 0 {
		spec.InitialIntegration = spec.MinIntegration
	}

	return &Device{
		spec:        spec,
		rng:         rand.New(rand.NewPCG(uint64(len(spec.Serial)), 0x5eed)), //nolint:gosec // simulation noise
		integration: spec.InitialIntegration,
		tecSetpoint: 20,
		failures:    make(map[string][]int),
		calls:       make(map[string]int),
	}
}

// Script queues spectra returned verbatim, in order, by the next FormattedSpectrum calls.
func (d *Device) Script(spectra ...[]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range spectra {
		d.scripted = append(d.scripted, append([]float64(nil), s...))
	}
}

// FailNext makes the next calls of op return the given driver codes, one per call.
func (d *Device) FailNext(op string, codes ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failures[op] = append(d.failures[op], codes...)
}

// Calls returns how many times op was called.
func (d *Device) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls[op]
}

// enter records a call of op and returns its injected error, if any. d.mu must be held.
func (d *Device) enter(op string) error {
	d.calls[op]++

	if d.closed {
		return hardware.NewError(op, hardware.CodeNoDevice)
	}

	codes := d.failures[op]
	if len(codes) == 0 {
		return nil
	}
	d.failures[op] = codes[1:]

	return hardware.NewError(op, codes[0])
}

func (d *Device) SerialNumber() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("SerialNumber"); err != nil {
		return "", err
	}

	return d.spec.Serial, nil
}

func (d *Device) ModelName() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("ModelName"); err != nil {
		return "", err
	}

	return d.spec.Model, nil
}

func (d *Device) IntegrationTime() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("IntegrationTime"); err != nil {
		return 0, err
	}

	return d.integration, nil
}

func (d *Device) SetIntegrationTime(micros uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("SetIntegrationTime"); err != nil {
		return err
	}
	if micros < d.spec.MinIntegration || micros > d.spec.MaxIntegration {
		return hardware.NewError("SetIntegrationTime", hardware.CodeValueOutOfRange)
	}
	d.integration = micros

	return nil
}

func (d *Device) MinIntegrationTime() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("MinIntegrationTime"); err != nil {
		return 0, err
	}

	return d.spec.MinIntegration, nil
}

func (d *Device) MaxIntegrationTime() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("MaxIntegrationTime"); err != nil {
		return 0, err
	}

	return d.spec.MaxIntegration, nil
}

func (d *Device) MaxIntensity() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("MaxIntensity"); err != nil {
		return 0, err
	}

	return d.spec.MaxIntensity, nil
}

func (d *Device) pixels() int {
	return d.spec.Pixels >> d.binning
}

func (d *Device) FormattedSpectrumLength() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("FormattedSpectrumLength"); err != nil {
		return 0, err
	}

	return d.pixels(), nil
}

func (d *Device) FormattedSpectrum(buf []float64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("FormattedSpectrum"); err != nil {
		return 0, err
	}

	if len(d.scripted) > 0 {
		s := d.scripted[0]
		d.scripted = d.scripted[1:]
		return copy(buf, s), nil
	}

	n := min(len(buf), d.pixels())
	d.render(buf[:n])

	return n, nil
}

func (d *Device) UnformattedSpectrumLength() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("UnformattedSpectrumLength"); err != nil {
		return 0, err
	}

	return d.pixels() * 2, nil
}

// UnformattedSpectrum returns little-endian 16-bit samples.
func (d *Device) UnformattedSpectrum(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("UnformattedSpectrum"); err != nil {
		return 0, err
	}

	values := make([]float64, min(len(buf)/2, d.pixels()))
	d.render(values)
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}

	return len(values) * 2, nil
}

func (d *Device) Wavelengths(buf []float64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("Wavelengths"); err != nil {
		return 0, err
	}

	n := min(len(buf), d.pixels())
	bin := 1 << d.binning
	for i := 0; i < n; i++ {
		// center of the binned pixel
		center := float64(i*bin) + float64(bin-1)/2
		buf[i] = d.spec.WavelengthStart + center*d.spec.WavelengthStep
	}

	return n, nil
}

func (d *Device) ElectricDarkPixelIndices() ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("ElectricDarkPixelIndices"); err != nil {
		return nil, err
	}

	return append([]int(nil), d.spec.DarkPixels...), nil
}

// render fills values with a spectrum at the current settings. d.mu must be held.
func (d *Device) render(values []float64) {
	bin := 1 << d.binning
	step := d.spec.WavelengthStep
	millis := float64(d.integration) / 1000
	darkLevel := d.spec.Baseline
	if d.tecEnable {
		darkLevel *= 0.8
	}

	for i := range values {
		var sum float64
		for j := 0; j < bin; j++ {
			pixel := i*bin + j
			wl := d.spec.WavelengthStart + float64(pixel)*step
			v := darkLevel + d.rng.NormFloat64()*d.spec.Noise
			if !d.isDark(pixel) {
				for _, p := range d.spec.Peaks {
					dx := (wl - p.Center) / p.Width
					v += p.Amplitude * millis * math.Exp(-0.5*dx*dx)
				}
				if d.lampEnable {
					v += 200 * millis
				}
			}
			sum += v
		}
		values[i] = math.Max(0, math.Min(sum/float64(bin), d.spec.MaxIntensity))
	}
}

func (d *Device) isDark(pixel int) bool {
	for _, p := range d.spec.DarkPixels {
		if p == pixel {
			return true
		}
	}

	return false
}

func (d *Device) TECEnable() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("TECEnable"); err != nil {
		return false, err
	}

	return d.tecEnable, nil
}

func (d *Device) SetTECEnable(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("SetTECEnable"); err != nil {
		return err
	}
	d.tecEnable = enable

	return nil
}

func (d *Device) TECSetpoint() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("TECSetpoint"); err != nil {
		return 0, err
	}

	return d.tecSetpoint, nil
}

func (d *Device) SetTECSetpoint(celsius float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("SetTECSetpoint"); err != nil {
		return err
	}
	if celsius < -40 || celsius > 40 {
		return hardware.NewError("SetTECSetpoint", hardware.CodeValueOutOfRange)
	}
	d.tecSetpoint = celsius

	return nil
}

// Temperature reports the setpoint when the TEC is on, ambient temperature otherwise.
func (d *Device) Temperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("Temperature"); err != nil {
		return 0, err
	}
	if d.tecEnable {
		return d.tecSetpoint, nil
	}

	return 23.5, nil
}

func (d *Device) LampEnable() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("LampEnable"); err != nil {
		return false, err
	}

	return d.lampEnable, nil
}

func (d *Device) SetLampEnable(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("SetLampEnable"); err != nil {
		return err
	}
	d.lampEnable = enable

	return nil
}

func (d *Device) BinningFactor() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("BinningFactor"); err != nil {
		return 0, err
	}

	return d.binning, nil
}

func (d *Device) SetBinningFactor(factor uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("SetBinningFactor"); err != nil {
		return err
	}
	if factor > d.spec.MaxBinning {
		return hardware.NewError("SetBinningFactor", hardware.CodeValueOutOfRange)
	}
	d.binning = factor

	return nil
}

func (d *Device) DefaultBinningFactor() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("DefaultBinningFactor"); err != nil {
		return 0, err
	}

	return d.defaultBinning, nil
}

func (d *Device) SetDefaultBinningFactor(factor uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("SetDefaultBinningFactor"); err != nil {
		return err
	}
	if factor > d.spec.MaxBinning {
		return hardware.NewError("SetDefaultBinningFactor", hardware.CodeValueOutOfRange)
	}
	d.defaultBinning = factor

	return nil
}

func (d *Device) ResetDefaultBinningFactor() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("ResetDefaultBinningFactor"); err != nil {
		return err
	}
	d.defaultBinning = 0

	return nil
}

func (d *Device) MaxBinningFactor() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("MaxBinningFactor"); err != nil {
		return 0, err
	}

	return d.spec.MaxBinning, nil
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return hardware.NewError("Close", hardware.CodeNoDevice)
	}
	d.closed = true

	return nil
}

// Driver is a simulated hardware.Driver holding a fixed set of devices.
type Driver struct {
	mu      sync.Mutex
	specs   []Spec
	devices map[int]*Device
}

var _ hardware.Driver = (*Driver)(nil)

// NewDriver creates a driver exposing one device per spec, with identifiers 0..len(specs)-1.
func NewDriver(specs ...Spec) *Driver {
	return &Driver{specs: specs, devices: make(map[int]*Device)}
}

// NewDefaultDriver creates a driver with n default devices named SIM00000, SIM00001, ...
func NewDefaultDriver(n int) *Driver {
	specs := make([]Spec, n)
	for i := range specs {
		specs[i] = DefaultSpec(fmt.Sprintf("SIM%05d", i))
	}

	return NewDriver(specs...)
}

func (drv *Driver) Probe() ([]int, error) {
	ids := make([]int, len(drv.specs))
	for i := range ids {
		ids[i] = i
	}

	return ids, nil
}

func (drv *Driver) Open(id int) (hardware.Device, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	if id < 0 || id >= len(drv.specs) {
		return nil, hardware.NewError("Open", hardware.CodeNoDevice)
	}

	dev, ok := drv.devices[id]
	if !ok || dev.isClosed() {
		dev = NewDevice(drv.specs[id])
		drv.devices[id] = dev
	}

	return dev, nil
}

// Device returns the opened simulated device with the given identifier.
func (drv *Driver) Device(id int) (*Device, bool) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	dev, ok := drv.devices[id]

	return dev, ok
}
