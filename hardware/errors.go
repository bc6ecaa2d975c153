package hardware

import (
	"fmt"

	"github.com/arloliu/go-spectrad/wire"
)

// Driver error codes.
const (
	CodeOK                 = 0
	CodeNoDevice           = 1
	CodeTransferFailed     = 2
	CodeFeatureUnsupported = 3
	CodeValueOutOfRange    = 4
	CodeBusy               = 5
	CodeTimeout            = 6
)

// Error is a failed driver call.
type Error struct {
	Op   string
	Code int
}

// NewError returns an *Error, or nil when code is CodeOK.
func NewError(op string, code int) error {
	if code == CodeOK {
		return nil
	}

	return &Error{Op: op, Code: code}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: driver error code %d (%s)", e.Op, e.Code, codeText(e.Code))
}

// Is makes every driver error match wire.ErrHardware.
func (e *Error) Is(target error) bool {
	return target == wire.ErrHardware
}

func codeText(code int) string {
	switch code {
	case CodeNoDevice:
		return "no device"
	case CodeTransferFailed:
		return "transfer failed"
	case CodeFeatureUnsupported:
		return "feature unsupported"
	case CodeValueOutOfRange:
		return "value out of range"
	case CodeBusy:
		return "busy"
	case CodeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
