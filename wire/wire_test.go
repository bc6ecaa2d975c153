package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_RoundTrip(t *testing.T) {
	require := require.New(t)

	req := Request{Command: 5, DeviceIndex: 3, Args: "100"}
	raw, err := req.Encode()
	require.NoError(err)
	require.Equal([]byte{0x00, 0x05, 0x00, 0x05, '3', ':', '1', '0', '0'}, raw)

	frame, err := ReadFrame(bytes.NewReader(raw), make([]byte, HeaderSize))
	require.NoError(err)

	decoded, err := ParseRequest(frame)
	require.NoError(err)
	require.Equal(req, decoded)
}

func TestReadFrame_ShortReads(t *testing.T) {
	raw, err := Request{Command: CmdSetSaveDirectory, DeviceIndex: 12, Args: "/tmp/a:b"}.Encode()
	require.NoError(t, err)

	// deliver one byte per Read call
	frame, err := ReadFrame(iotest.OneByteReader(bytes.NewReader(raw)), make([]byte, HeaderSize))
	require.NoError(t, err)

	req, err := ParseRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, 12, req.DeviceIndex)
	assert.Equal(t, "/tmp/a:b", req.Args)
}

func TestReadFrame_ClosedConnection(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "partial header", raw: []byte{0x00, 0x01}},
		{name: "partial params", raw: []byte{0x00, 0x01, 0x00, 0x04, '0', ':'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.raw), make([]byte, HeaderSize))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIO)
			assert.NotErrorIs(t, err, ErrParameterDecode)
		})
	}
}

func TestReadFrame_OverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		raw, _ := Request{Command: CmdGetSpectrum, DeviceIndex: 0}.Encode()
		_, _ = client.Write(raw[:3])
		_, _ = client.Write(raw[3:])
	}()

	frame, err := ReadFrame(server, make([]byte, HeaderSize))
	require.NoError(t, err)
	assert.Equal(t, CmdGetSpectrum, frame.Command)
	assert.Equal(t, []byte("0:"), frame.Params)
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name      string
		params    string
		wantIndex int
		wantArgs  string
		wantErr   bool
	}{
		{name: "empty", params: "", wantIndex: 0, wantArgs: ""},
		{name: "index only", params: "7", wantIndex: 7},
		{name: "index and delimiter", params: "2:", wantIndex: 2},
		{name: "index and args", params: "1:10000", wantIndex: 1, wantArgs: "10000"},
		{name: "args keep later delimiters", params: "0:C:\\data", wantIndex: 0, wantArgs: "C:\\data"},
		{name: "non numeric index", params: "x:1", wantErr: true},
		{name: "negative index", params: "-1:1", wantErr: true},
		{name: "missing index", params: ":5", wantErr: true},
		{name: "bare text", params: "hello", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(Frame{Command: CmdGetIntegrationTime, Params: []byte(tt.params)})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrParameterDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIndex, req.DeviceIndex)
			assert.Equal(t, tt.wantArgs, req.Args)
		})
	}
}

func TestFrame_TooLarge(t *testing.T) {
	_, err := Frame{Command: 1, Params: make([]byte, 1<<16)}.Encode()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestResponse_Encode(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]byte{0x00, 0x00, '4', '2'}, OK("42").Encode())

	resp := Fail(fmt.Errorf("set interval: %w", ErrConflict))
	assert.Equal(StatusConflict, resp.Status)
	assert.Equal("set interval: conflict", resp.Text())

	assert.Equal(Response{Status: StatusSuccess}, Fail(nil))
}

func TestResponse_BulkASCII(t *testing.T) {
	require := require.New(t)

	resp := Bulk(FormatFloats([]float64{1, 2.5, -3}))
	raw := resp.Encode()
	require.Equal(uint16(StatusSuccess), binary.BigEndian.Uint16(raw[0:2]))
	require.Equal(uint32(len("1 2.5 -3")), binary.BigEndian.Uint32(raw[2:6]))

	decoded, err := ReadResponse(bytes.NewReader(raw), 0)
	require.NoError(err)

	body, err := decoded.BulkBody()
	require.NoError(err)

	values, err := ParseFloats(body)
	require.NoError(err)
	require.Equal([]float64{1, 2.5, -3}, values)
}

func TestResponse_BulkBinary(t *testing.T) {
	samples := []byte{0x01, 0x00, 0xFF, 0x7F}
	decoded, err := ReadResponse(bytes.NewReader(Bulk(samples).Encode()), 0)
	require.NoError(t, err)

	body, err := decoded.BulkBody()
	require.NoError(t, err)
	assert.Equal(t, samples, body)
}

func TestResponse_BulkBodyInvalid(t *testing.T) {
	_, err := Response{Payload: []byte{0, 0}}.BulkBody()
	assert.ErrorIs(t, err, ErrParameterDecode)

	_, err = Response{Payload: []byte{0, 0, 0, 9, 'a'}}.BulkBody()
	assert.ErrorIs(t, err, ErrParameterDecode)
}

func TestReadResponse_Limits(t *testing.T) {
	_, err := ReadResponse(bytes.NewReader([]byte{0x00}), 0)
	assert.ErrorIs(t, err, ErrIO)

	_, err = ReadResponse(bytes.NewReader(OK("too long").Encode()), 3)
	assert.ErrorIs(t, err, ErrIO)
}

func TestResponse_WriteToError(t *testing.T) {
	w := errWriter{err: io.ErrClosedPipe}
	_, err := OK("x").WriteTo(w)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

type errWriter struct{ err error }

func (w errWriter) Write([]byte) (int, error) { return 0, w.err }

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status Status
	}{
		{nil, StatusSuccess},
		{ErrParameterDecode, StatusParameterDecode},
		{fmt.Errorf("wrap: %w", ErrInvalidValue), StatusInvalidValue},
		{ErrHardware, StatusHardware},
		{ErrConfiguration, StatusConfiguration},
		{ErrConflict, StatusConflict},
		{ErrUnknownCommand, StatusUnknownCommand},
		{ErrUnknownDevice, StatusUnknownDevice},
		{ErrActor, StatusActorError},
		{fmt.Errorf("%w: %w", ErrWavelengthRefresh, ErrHardware), StatusWavelengthRefresh},
		{errors.New("something else"), StatusActorError},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.status, StatusOf(tt.err))
		})
	}
}

func TestCommand_Families(t *testing.T) {
	assert := assert.New(t)

	assert.True(CmdGetIntegrationTime.IsDeviceCommand())
	assert.False(CmdGetIntegrationTime.IsSequenceCommand())
	assert.True(CmdGetDarkPixelIndices.IsDeviceCommand())
	assert.True(CmdSaveSpectrum.IsSequenceCommand())
	assert.True(CmdGetAcquisitionCount.IsSequenceCommand())
	assert.True(CmdGetDaemonVersion.IsDaemonCommand())
	assert.False(CmdGetDaemonVersion.IsDeviceCommand())

	assert.Equal("GetSpectrum", CmdGetSpectrum.String())
	assert.Equal("Command(0x0EEE)", Command(0x0EEE).String())

	cmd, ok := LookupCommand("StartSequence")
	assert.True(ok)
	assert.Equal(CmdStartSequence, cmd)

	cmds := Commands()
	assert.Len(cmds, 60)
	assert.Equal(CmdGetIntegrationTime, cmds[0])
	assert.Equal(CmdListDevices, cmds[len(cmds)-1])
}

func TestFormatInts(t *testing.T) {
	assert.Equal(t, "1 2 30", string(FormatInts([]int{1, 2, 30})))
	assert.Empty(t, FormatInts(nil))
}

func TestArgs(t *testing.T) {
	require := require.New(t)

	u, err := ParseUintArg(" 4000 ", 32)
	require.NoError(err)
	require.EqualValues(4000, u)

	_, err = ParseUintArg("-1", 32)
	require.ErrorIs(err, ErrParameterDecode)
	_, err = ParseUintArg("300", 8)
	require.ErrorIs(err, ErrParameterDecode)

	i, err := ParseIntArg("-3")
	require.NoError(err)
	require.Equal(-3, i)
	_, err = ParseIntArg("x")
	require.ErrorIs(err, ErrParameterDecode)

	f, err := ParseFloatArg("-12.5")
	require.NoError(err)
	require.InDelta(-12.5, f, 1e-9)
	_, err = ParseFloatArg("")
	require.ErrorIs(err, ErrParameterDecode)

	for _, s := range []string{"1", "true", "ON"} {
		b, err := ParseBoolArg(s)
		require.NoError(err)
		require.True(b)
	}
	b, err := ParseBoolArg("off")
	require.NoError(err)
	require.False(b)
	_, err = ParseBoolArg("maybe")
	require.ErrorIs(err, ErrParameterDecode)

	require.Equal("1", FormatBool(true))
	require.Equal("0", FormatBool(false))
	require.Equal("0.25", FormatFloat(0.25))
}
