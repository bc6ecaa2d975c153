package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// HeaderSize is the size of the request header: command and parameter length.
	HeaderSize = 4
	// StatusSize is the size of the response status field.
	StatusSize = 2
	// BulkLengthSize is the size of the length prefix of bulk payloads.
	BulkLengthSize = 4
)

// Frame is an undecoded request: the command code and its raw parameters.
type Frame struct {
	Command Command
	Params  []byte
}

// ReadFrame reads one request frame from r.
//
// hdr must be a scratch buffer of at least HeaderSize bytes; it is overwritten.
// Short reads are retried until the frame is complete. A connection closed before the
// frame is complete is reported as ErrIO, never as a protocol error.
func ReadFrame(r io.Reader, hdr []byte) (Frame, error) {
	hdr = hdr[:HeaderSize]
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Frame{}, fmt.Errorf("%w: read header: %w", ErrIO, err)
	}

	f := Frame{Command: Command(binary.BigEndian.Uint16(hdr[0:2]))}

	n := binary.BigEndian.Uint16(hdr[2:4])
	if n == 0 {
		return f, nil
	}

	f.Params = make([]byte, n)
	if _, err := io.ReadFull(r, f.Params); err != nil {
		return Frame{}, fmt.Errorf("%w: read %d parameter bytes: %w", ErrIO, n, err)
	}

	return f, nil
}

// Encode serializes the frame into its wire form.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Params) > math.MaxUint16 {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(f.Params))
	binary.BigEndian.PutUint16(buf[0:2], uint16(f.Command))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(f.Params))) //nolint:gosec // length checked above
	buf = append(buf, f.Params...)

	return buf, nil
}
