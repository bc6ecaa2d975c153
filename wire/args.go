package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseUintArg parses a decimal unsigned argument that must fit in bitSize bits.
func ParseUintArg(args string, bitSize int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(args), 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an unsigned integer", ErrParameterDecode, args)
	}

	return v, nil
}

// ParseIntArg parses a decimal integer argument.
func ParseIntArg(args string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrParameterDecode, args)
	}

	return v, nil
}

// ParseFloatArg parses a decimal floating point argument.
func ParseFloatArg(args string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(args), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrParameterDecode, args)
	}

	return v, nil
}

// ParseBoolArg parses a boolean argument: 1/0, true/false, on/off.
func ParseBoolArg(args string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not a boolean", ErrParameterDecode, args)
	}
}

// FormatBool renders a boolean the way ParseBoolArg reads it back.
func FormatBool(v bool) string {
	if v {
		return "1"
	}

	return "0"
}

// FormatFloat renders v with the shortest exact decimal representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
