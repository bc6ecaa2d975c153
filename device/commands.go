package device

import (
	"fmt"
	"strconv"

	"github.com/arloliu/go-spectrad/config"
	"github.com/arloliu/go-spectrad/wire"
)

type handler struct {
	// queued handlers run on the actor worker; the others run on the caller goroutine
	// and may only read state that never changes after construction.
	queued bool
	fn     func(args string) (wire.Response, error)
}

func queued(fn func(args string) (wire.Response, error)) handler {
	return handler{queued: true, fn: fn}
}

func direct(fn func(args string) (wire.Response, error)) handler {
	return handler{fn: fn}
}

func (d *Device) commandTable() map[wire.Command]handler {
	return map[wire.Command]handler{
		wire.CmdGetSerialNumber: direct(d.getSerialNumber),
		wire.CmdGetModelName:    direct(d.getModelName),
		wire.CmdGetLastStatus:   direct(d.getLastStatus),

		wire.CmdGetIntegrationTime:        queued(d.getIntegrationTime),
		wire.CmdSetIntegrationTime:        queued(d.cmdSetIntegrationTime),
		wire.CmdGetMinIntegrationTime:     queued(d.getMinIntegrationTime),
		wire.CmdGetMaxIntegrationTime:     queued(d.getMaxIntegrationTime),
		wire.CmdGetMaxIntensity:           queued(d.getMaxIntensity),
		wire.CmdGetBoxcarWidth:            queued(d.getBoxcarWidth),
		wire.CmdSetBoxcarWidth:            queued(d.setBoxcarWidth),
		wire.CmdGetScansToAverage:         queued(d.getScansToAverage),
		wire.CmdSetScansToAverage:         queued(d.setScansToAverage),
		wire.CmdGetElectricDarkCorrection: queued(d.getElectricDarkCorrection),
		wire.CmdSetElectricDarkCorrection: queued(d.setElectricDarkCorrection),
		wire.CmdGetSpectrum:               queued(d.getSpectrum),
		wire.CmdGetRawSpectrum:            queued(d.getRawSpectrum),
		wire.CmdGetWavelengths:            queued(d.getWavelengths),
		wire.CmdGetPixelCount:             queued(d.getPixelCount),
		wire.CmdGetDarkPixelIndices:       queued(d.getDarkPixelIndices),
		wire.CmdGetBinningFactor:          queued(d.getBinningFactor),
		wire.CmdSetBinningFactor:          queued(d.setBinningFactor),
		wire.CmdGetDefaultBinningFactor:   queued(d.getDefaultBinningFactor),
		wire.CmdSetDefaultBinningFactor:   queued(d.setDefaultBinningFactor),
		wire.CmdResetDefaultBinningFactor: queued(d.resetDefaultBinningFactor),
		wire.CmdGetMaxBinningFactor:       queued(d.getMaxBinningFactor),
		wire.CmdGetTECEnable:              queued(d.getTECEnable),
		wire.CmdSetTECEnable:              queued(d.setTECEnable),
		wire.CmdGetTECSetpoint:            queued(d.getTECSetpoint),
		wire.CmdSetTECSetpoint:            queued(d.setTECSetpoint),
		wire.CmdGetTemperature:            queued(d.getTemperature),
		wire.CmdGetLampEnable:             queued(d.getLampEnable),
		wire.CmdSetLampEnable:             queued(d.setLampEnable),
	}
}

func okUint[T ~uint8 | ~uint32](v T) wire.Response {
	return wire.OK(strconv.FormatUint(uint64(v), 10))
}

func okInt(v int) wire.Response {
	return wire.OK(strconv.Itoa(v))
}

func okFloat(v float64) wire.Response {
	return wire.OK(wire.FormatFloat(v))
}

func okBool(v bool) wire.Response {
	return wire.OK(wire.FormatBool(v))
}

func (d *Device) getSerialNumber(string) (wire.Response, error) { return wire.OK(d.serial), nil }

func (d *Device) getModelName(string) (wire.Response, error) { return wire.OK(d.model), nil }

// getLastStatus returns the status of the previous command and resets it to success.
func (d *Device) getLastStatus(string) (wire.Response, error) {
	prev := wire.Status(d.lastStatus.Swap(uint32(wire.StatusSuccess)))
	return okInt(int(prev)), nil
}

func (d *Device) getIntegrationTime(string) (wire.Response, error) {
	return okUint(d.integrationTime), nil
}

func (d *Device) cmdSetIntegrationTime(args string) (wire.Response, error) {
	v, err := wire.ParseUintArg(args, 32)
	if err != nil {
		return wire.Response{}, err
	}

	micros := uint32(v)
	if err := d.setIntegrationTime(micros); err != nil {
		return wire.Response{}, err
	}
	d.persist(func(s *config.DeviceSettings) { s.IntegrationTime = micros })

	return okUint(micros), nil
}

func (d *Device) setIntegrationTime(micros uint32) error {
	if micros < d.minIntegration || micros > d.maxIntegration {
		return fmt.Errorf("%w: integration time %d µs outside [%d, %d]",
			wire.ErrInvalidValue, micros, d.minIntegration, d.maxIntegration)
	}
	if err := d.hw.SetIntegrationTime(micros); err != nil {
		return err
	}
	d.integrationTime = micros

	return nil
}

func (d *Device) getMinIntegrationTime(string) (wire.Response, error) {
	return okUint(d.minIntegration), nil
}

func (d *Device) getMaxIntegrationTime(string) (wire.Response, error) {
	return okUint(d.maxIntegration), nil
}

func (d *Device) getMaxIntensity(string) (wire.Response, error) {
	return okFloat(d.maxIntensity), nil
}

func (d *Device) getBoxcarWidth(string) (wire.Response, error) {
	return okInt(d.boxcarWidth), nil
}

func (d *Device) checkBoxcar(w int) error {
	if w < 0 || (w > 0 && 2*w+1 > d.pixelCount) {
		return fmt.Errorf("%w: boxcar width %d for %d pixels", wire.ErrInvalidValue, w, d.pixelCount)
	}

	return nil
}

func (d *Device) setBoxcarWidth(args string) (wire.Response, error) {
	w, err := wire.ParseIntArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	if err := d.checkBoxcar(w); err != nil {
		return wire.Response{}, err
	}

	d.boxcarWidth = w
	d.persist(func(s *config.DeviceSettings) { s.BoxcarWidth = w })

	return okInt(w), nil
}

func (d *Device) getScansToAverage(string) (wire.Response, error) {
	return okInt(d.scansToAverage), nil
}

func (d *Device) setScansToAverage(args string) (wire.Response, error) {
	n, err := wire.ParseIntArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	if n < 1 || n > config.MaxScansToAverage {
		return wire.Response{}, fmt.Errorf("%w: scans to average %d outside [1, %d]", wire.ErrInvalidValue, n, config.MaxScansToAverage)
	}

	d.scansToAverage = n
	d.persist(func(s *config.DeviceSettings) { s.ScansToAverage = n })

	return okInt(n), nil
}

func (d *Device) getElectricDarkCorrection(string) (wire.Response, error) {
	return okBool(d.edc), nil
}

func (d *Device) setElectricDarkCorrection(args string) (wire.Response, error) {
	enable, err := wire.ParseBoolArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	if enable && len(d.binnedDarkPixels()) == 0 {
		return wire.Response{}, fmt.Errorf("%w: device has no electric dark pixels", wire.ErrInvalidValue)
	}

	d.edc = enable
	d.persist(func(s *config.DeviceSettings) { s.ElectricDarkCorrection = enable })

	return okBool(enable), nil
}

func (d *Device) getSpectrum(string) (wire.Response, error) {
	spectrum, err := d.Acquire()
	if err != nil {
		return wire.Response{}, err
	}

	return wire.Bulk(wire.FormatFloats(spectrum)), nil
}

func (d *Device) getRawSpectrum(string) (wire.Response, error) {
	n, err := d.hw.UnformattedSpectrumLength()
	if err != nil {
		return wire.Response{}, err
	}

	buf := make([]byte, n)
	got, err := d.hw.UnformattedSpectrum(buf)
	if err != nil {
		return wire.Response{}, err
	}

	return wire.Bulk(buf[:got]), nil
}

func (d *Device) getWavelengths(string) (wire.Response, error) {
	return wire.Bulk(wire.FormatFloats(d.wavelengths)), nil
}

func (d *Device) getPixelCount(string) (wire.Response, error) {
	return okInt(d.pixelCount), nil
}

func (d *Device) getDarkPixelIndices(string) (wire.Response, error) {
	return wire.OK(string(wire.FormatInts(d.binnedDarkPixels()))), nil
}

func (d *Device) getBinningFactor(string) (wire.Response, error) {
	return okUint(d.binning), nil
}

func (d *Device) parseBinning(args string) (uint8, error) {
	v, err := wire.ParseUintArg(args, 8)
	if err != nil {
		return 0, err
	}

	factor := uint8(v)
	if factor > d.maxBinning {
		return 0, fmt.Errorf("%w: binning factor %d above maximum %d", wire.ErrInvalidValue, factor, d.maxBinning)
	}

	return factor, nil
}

// setBinningFactor changes the binning, which changes the pixel count, then refetches the
// wavelength table. A failed refetch is reported as a wavelength refresh error.
func (d *Device) setBinningFactor(args string) (wire.Response, error) {
	factor, err := d.parseBinning(args)
	if err != nil {
		return wire.Response{}, err
	}
	if err := d.hw.SetBinningFactor(factor); err != nil {
		return wire.Response{}, err
	}

	d.binning = factor
	if err := d.refreshWavelengths(); err != nil {
		return wire.Response{}, fmt.Errorf("%w: %w", wire.ErrWavelengthRefresh, err)
	}

	if d.checkBoxcar(d.boxcarWidth) != nil {
		d.logger.Warn("boxcar width reset after binning change", "width", d.boxcarWidth, "pixels", d.pixelCount)
		d.boxcarWidth = 0
	}
	if d.edc && len(d.binnedDarkPixels()) == 0 {
		d.edc = false
	}

	return okUint(factor), nil
}

func (d *Device) getDefaultBinningFactor(string) (wire.Response, error) {
	factor, err := d.hw.DefaultBinningFactor()
	if err != nil {
		return wire.Response{}, err
	}

	return okUint(factor), nil
}

func (d *Device) setDefaultBinningFactor(args string) (wire.Response, error) {
	factor, err := d.parseBinning(args)
	if err != nil {
		return wire.Response{}, err
	}
	if err := d.hw.SetDefaultBinningFactor(factor); err != nil {
		return wire.Response{}, err
	}

	return okUint(factor), nil
}

func (d *Device) resetDefaultBinningFactor(string) (wire.Response, error) {
	if err := d.hw.ResetDefaultBinningFactor(); err != nil {
		return wire.Response{}, err
	}

	return wire.OK(""), nil
}

func (d *Device) getMaxBinningFactor(string) (wire.Response, error) {
	return okUint(d.maxBinning), nil
}

func (d *Device) getTECEnable(string) (wire.Response, error) {
	on, err := d.hw.TECEnable()
	if err != nil {
		return wire.Response{}, err
	}

	return okBool(on), nil
}

func (d *Device) setTECEnable(args string) (wire.Response, error) {
	on, err := wire.ParseBoolArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	if err := d.hw.SetTECEnable(on); err != nil {
		return wire.Response{}, err
	}

	return okBool(on), nil
}

func (d *Device) getTECSetpoint(string) (wire.Response, error) {
	v, err := d.hw.TECSetpoint()
	if err != nil {
		return wire.Response{}, err
	}

	return okFloat(v), nil
}

func (d *Device) setTECSetpoint(args string) (wire.Response, error) {
	v, err := wire.ParseFloatArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	if err := d.hw.SetTECSetpoint(v); err != nil {
		return wire.Response{}, err
	}

	return okFloat(v), nil
}

func (d *Device) getTemperature(string) (wire.Response, error) {
	v, err := d.hw.Temperature()
	if err != nil {
		return wire.Response{}, err
	}

	return okFloat(v), nil
}

func (d *Device) getLampEnable(string) (wire.Response, error) {
	on, err := d.hw.LampEnable()
	if err != nil {
		return wire.Response{}, err
	}

	return okBool(on), nil
}

func (d *Device) setLampEnable(args string) (wire.Response, error) {
	on, err := wire.ParseBoolArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	if err := d.hw.SetLampEnable(on); err != nil {
		return wire.Response{}, err
	}

	return okBool(on), nil
}
