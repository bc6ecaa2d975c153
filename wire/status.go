package wire

import (
	"errors"
	"strconv"
)

// Status is the 16-bit status code at the head of every response.
type Status uint16

const (
	StatusSuccess Status = iota
	StatusParameterDecode
	StatusInvalidValue
	StatusHardware
	StatusConfiguration
	StatusConflict
	StatusUnknownCommand
	StatusUnknownDevice
	StatusActorError
	StatusWavelengthRefresh
)

// String returns a readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusParameterDecode:
		return "parameter-decode-error"
	case StatusInvalidValue:
		return "invalid-value"
	case StatusHardware:
		return "hardware-error"
	case StatusConfiguration:
		return "configuration-error"
	case StatusConflict:
		return "conflict"
	case StatusUnknownCommand:
		return "unknown-command"
	case StatusUnknownDevice:
		return "unknown-device"
	case StatusActorError:
		return "actor-error"
	case StatusWavelengthRefresh:
		return "wavelength-refresh-error"
	default:
		return "status-" + strconv.Itoa(int(s))
	}
}

var (
	// ErrParameterDecode indicates a malformed argument string.
	ErrParameterDecode = errors.New("parameter decode error")

	// ErrInvalidValue indicates an out-of-range or unrecognized value.
	ErrInvalidValue = errors.New("invalid value")

	// ErrHardware indicates that the hardware driver returned a non-zero error code.
	ErrHardware = errors.New("hardware error")

	// ErrConfiguration indicates an unusable save directory.
	ErrConfiguration = errors.New("configuration error")

	// ErrConflict indicates that a requested operation conflicts with the current settings or state,
	// e.g. a sequence interval shorter than the total acquisition time.
	ErrConflict = errors.New("conflict")

	// ErrUnknownCommand indicates a command code that no handler recognizes.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnknownDevice indicates a device index without a registered device.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrActor indicates an unexpected failure inside a device task.
	ErrActor = errors.New("actor error")

	// ErrWavelengthRefresh indicates that the binning factor changed but the wavelengths could not be re-read.
	ErrWavelengthRefresh = errors.New("wavelength refresh error")
)

var (
	// ErrIO indicates a transport failure while reading or writing a frame, including a peer that
	// closed the connection mid-frame.
	ErrIO = errors.New("wire i/o error")

	// ErrFrameTooLarge indicates that parameters do not fit the 16-bit length field.
	ErrFrameTooLarge = errors.New("frame parameters exceed 65535 bytes")
)

var statusErrors = []struct {
	err    error
	status Status
}{
	{ErrParameterDecode, StatusParameterDecode},
	{ErrInvalidValue, StatusInvalidValue},
	{ErrWavelengthRefresh, StatusWavelengthRefresh},
	{ErrHardware, StatusHardware},
	{ErrConfiguration, StatusConfiguration},
	{ErrConflict, StatusConflict},
	{ErrUnknownCommand, StatusUnknownCommand},
	{ErrUnknownDevice, StatusUnknownDevice},
	{ErrActor, StatusActorError},
}

// StatusOf maps an error chain to its response status.
// A nil error is StatusSuccess; an error outside the taxonomy is StatusActorError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}

	for _, se := range statusErrors {
		if errors.Is(err, se.err) {
			return se.status
		}
	}

	return StatusActorError
}
