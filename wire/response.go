package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Response is the reply to one request.
type Response struct {
	Status  Status
	Payload []byte
}

// Responder delivers the response of an accepted request.
//
// Respond must be called exactly once per accepted request; it may be called from any goroutine.
type Responder interface {
	Respond(resp Response)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(resp Response)

// Respond calls f(resp).
func (f ResponderFunc) Respond(resp Response) { f(resp) }

// OK returns a successful response with an ASCII payload.
func OK(text string) Response {
	return Response{Status: StatusSuccess, Payload: []byte(text)}
}

// Fail returns the status response of err, carrying the error text as payload.
func Fail(err error) Response {
	if err == nil {
		return Response{Status: StatusSuccess}
	}

	return Response{Status: StatusOf(err), Payload: []byte(err.Error())}
}

// Bulk returns a successful response whose payload is body prefixed by its 4-byte big-endian length.
func Bulk(body []byte) Response {
	payload := make([]byte, BulkLengthSize, BulkLengthSize+len(body))
	binary.BigEndian.PutUint32(payload, uint32(len(body))) //nolint:gosec // bodies are far below 4 GiB
	payload = append(payload, body...)

	return Response{Status: StatusSuccess, Payload: payload}
}

// FormatFloats renders values as ASCII space separated decimals.
func FormatFloats(values []float64) []byte {
	buf := make([]byte, 0, len(values)*8)
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendFloat(buf, v, 'f', -1, 64)
	}

	return buf
}

// FormatInts renders values as ASCII space separated decimals.
func FormatInts(values []int) []byte {
	buf := make([]byte, 0, len(values)*4)
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(v), 10)
	}

	return buf
}

// ParseFloats parses an ASCII space separated list of decimals.
func ParseFloats(body []byte) ([]float64, error) {
	fields := strings.Fields(string(body))
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: %w", ErrParameterDecode, i, err)
		}
		values[i] = v
	}

	return values, nil
}

// BulkBody returns the body of a bulk payload after validating its length prefix.
func (r Response) BulkBody() ([]byte, error) {
	if len(r.Payload) < BulkLengthSize {
		return nil, fmt.Errorf("%w: bulk payload shorter than its length prefix", ErrParameterDecode)
	}

	n := binary.BigEndian.Uint32(r.Payload[:BulkLengthSize])
	body := r.Payload[BulkLengthSize:]
	if uint64(n) != uint64(len(body)) {
		return nil, fmt.Errorf("%w: bulk length %d, got %d bytes", ErrParameterDecode, n, len(body))
	}

	return body, nil
}

// Text returns the payload as a string.
func (r Response) Text() string {
	return string(r.Payload)
}

// Encode serializes the response into its wire form.
func (r Response) Encode() []byte {
	buf := make([]byte, StatusSize, StatusSize+len(r.Payload))
	binary.BigEndian.PutUint16(buf, uint16(r.Status))

	return append(buf, r.Payload...)
}

// WriteTo writes the encoded response to w.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Encode())
	if err != nil {
		return int64(n), fmt.Errorf("%w: write response: %w", ErrIO, err)
	}

	return int64(n), nil
}

// ReadResponse reads a response from r until EOF.
//
// The daemon closes the connection after each response, so the payload extends to the end
// of the stream. maxPayload bounds the payload size; zero means no bound besides MaxInt32.
func ReadResponse(r io.Reader, maxPayload int) (Response, error) {
	var status [StatusSize]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return Response{}, fmt.Errorf("%w: read status: %w", ErrIO, err)
	}

	if maxPayload <= 0 {
		maxPayload = math.MaxInt32
	}

	payload, err := io.ReadAll(io.LimitReader(r, int64(maxPayload)+1))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read payload: %w", ErrIO, err)
	}
	if len(payload) > maxPayload {
		return Response{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrIO, maxPayload)
	}

	return Response{Status: Status(binary.BigEndian.Uint16(status[:])), Payload: payload}, nil
}
