// Package hardware defines the driver surface the daemon consumes.
//
// The driver itself (feature discovery, USB/serial/IP transport, device framing) lives
// outside this module. Every call blocks until the device answers and reports failures
// through an *Error carrying the driver's out-of-band error code.
//
// A Device is not safe for concurrent use: the daemon serializes all calls for one
// device on that device's actor.
package hardware

// Device is one opened spectrometer.
type Device interface {
	SerialNumber() (string, error)
	ModelName() (string, error)

	// IntegrationTime returns the integration time in microseconds.
	IntegrationTime() (uint32, error)
	SetIntegrationTime(micros uint32) error
	MinIntegrationTime() (uint32, error)
	MaxIntegrationTime() (uint32, error)
	MaxIntensity() (float64, error)

	// FormattedSpectrumLength returns the number of pixels of a formatted spectrum
	// at the current binning factor.
	FormattedSpectrumLength() (int, error)
	// FormattedSpectrum acquires one spectrum into buf and returns the number of pixels written.
	FormattedSpectrum(buf []float64) (int, error)
	UnformattedSpectrumLength() (int, error)
	// UnformattedSpectrum acquires one spectrum in the device's raw sample format.
	UnformattedSpectrum(buf []byte) (int, error)
	// Wavelengths fills buf with the wavelength of each pixel at the current binning factor.
	Wavelengths(buf []float64) (int, error)
	// ElectricDarkPixelIndices returns the unbinned indices of the optically masked pixels.
	ElectricDarkPixelIndices() ([]int, error)

	TECEnable() (bool, error)
	SetTECEnable(enable bool) error
	TECSetpoint() (float64, error)
	SetTECSetpoint(celsius float64) error
	Temperature() (float64, error)

	LampEnable() (bool, error)
	SetLampEnable(enable bool) error

	BinningFactor() (uint8, error)
	SetBinningFactor(factor uint8) error
	DefaultBinningFactor() (uint8, error)
	SetDefaultBinningFactor(factor uint8) error
	ResetDefaultBinningFactor() error
	MaxBinningFactor() (uint8, error)

	Close() error
}

// Driver discovers and opens devices.
type Driver interface {
	// Probe returns the identifiers of the devices currently attached.
	Probe() ([]int, error)
	// Open opens the device with the given identifier.
	Open(id int) (Device, error)
}
