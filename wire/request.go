package wire

import (
	"bytes"
	"fmt"
	"strconv"
)

// Delimiter separates the device index from the command arguments.
const Delimiter = ':'

// Request is a decoded request frame.
type Request struct {
	Command     Command
	DeviceIndex int
	Args        string
}

// ParseRequest splits the frame parameters into the device index and the arguments.
//
// The rules are:
//   - empty parameters address device 0 with no arguments;
//   - parameters without the Delimiter must be a bare decimal device index;
//   - otherwise the text before the first Delimiter must be a decimal device index and
//     everything after it is passed on verbatim as the arguments.
//
// Any violation is reported as ErrParameterDecode.
func ParseRequest(f Frame) (Request, error) {
	req := Request{Command: f.Command}
	if len(f.Params) == 0 {
		return req, nil
	}

	prefix, args, found := bytes.Cut(f.Params, []byte{Delimiter})
	index, err := parseIndex(prefix)
	if err != nil {
		return req, err
	}

	req.DeviceIndex = index
	if found {
		req.Args = string(args)
	}

	return req, nil
}

func parseIndex(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: missing device index", ErrParameterDecode)
	}

	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: device index %q is not a decimal number", ErrParameterDecode, b)
		}
	}

	index, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, fmt.Errorf("%w: device index %q: %w", ErrParameterDecode, b, err)
	}

	return index, nil
}

// Frame returns the undecoded form of the request.
func (r Request) Frame() Frame {
	params := make([]byte, 0, len(r.Args)+8)
	params = strconv.AppendInt(params, int64(r.DeviceIndex), 10)
	params = append(params, Delimiter)
	params = append(params, r.Args...)

	return Frame{Command: r.Command, Params: params}
}

// Encode serializes the request into its wire form.
func (r Request) Encode() ([]byte, error) {
	return r.Frame().Encode()
}
