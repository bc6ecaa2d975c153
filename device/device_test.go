package device

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-spectrad/actor"
	"github.com/arloliu/go-spectrad/config"
	"github.com/arloliu/go-spectrad/hardware"
	"github.com/arloliu/go-spectrad/hardware/sim"
	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/wire"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

type recorder chan wire.Response

func (r recorder) Respond(resp wire.Response) { r <- resp }

func call(t *testing.T, d *Device, cmd wire.Command, args string) wire.Response {
	t.Helper()

	rec := make(recorder, 1)
	require.True(t, d.Accept(rec, cmd, args), "command %s not accepted", cmd)

	select {
	case resp := <-rec:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatalf("no response for %s", cmd)
		return wire.Response{}
	}
}

func bulkFloats(t *testing.T, resp wire.Response) []float64 {
	t.Helper()

	require.Equal(t, wire.StatusSuccess, resp.Status, resp.Text())
	body, err := resp.BulkBody()
	require.NoError(t, err)
	values, err := wire.ParseFloats(body)
	require.NoError(t, err)

	return values
}

func smallSpec(pixels int, dark ...int) sim.Spec {
	spec := sim.DefaultSpec("SMALL001")
	spec.Pixels = pixels
	spec.DarkPixels = dark
	spec.MaxBinning = 0

	return spec
}

func newDevice(t *testing.T, hw hardware.Device, opts Options) *Device {
	t.Helper()

	opts.Logger = logger.NewNopMockLogger()
	d, err := New(0, hw, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestDevice_New(t *testing.T) {
	require := require.New(t)

	hw := sim.NewDevice(sim.DefaultSpec("SIM00042"))
	d := newDevice(t, hw, Options{IntegrationTime: 20_000, ScansToAverage: 3, BoxcarWidth: 2})

	require.Equal("SIM00042", d.Serial())
	require.Equal("SIM-2048", d.Model())
	require.Equal(0, d.Index())

	require.Equal("20000", call(t, d, wire.CmdGetIntegrationTime, "").Text())
	require.Equal("3", call(t, d, wire.CmdGetScansToAverage, "").Text())
	require.Equal("2", call(t, d, wire.CmdGetBoxcarWidth, "").Text())
	require.Equal("2048", call(t, d, wire.CmdGetPixelCount, "").Text())
	require.Equal("SIM00042", call(t, d, wire.CmdGetSerialNumber, "").Text())

	got, err := hw.IntegrationTime()
	require.NoError(err)
	require.EqualValues(20_000, got)
}

func TestDevice_NewHardwareFailure(t *testing.T) {
	hw := sim.NewDevice(sim.DefaultSpec("SIM00000"))
	hw.FailNext("ModelName", hardware.CodeTransferFailed)

	_, err := New(1, hw, Options{Logger: logger.NewNopMockLogger()})
	require.ErrorIs(t, err, wire.ErrHardware)
}

func TestDevice_GetSpectrumAverages(t *testing.T) {
	hw := sim.NewDevice(smallSpec(3))
	hw.Script([]float64{1, 2, 3}, []float64{3, 2, 1})

	d := newDevice(t, hw, Options{ScansToAverage: 2})

	values := bulkFloats(t, call(t, d, wire.CmdGetSpectrum, ""))
	assert.InDeltaSlice(t, []float64{2, 2, 2}, values, 1e-9)
	assert.Equal(t, 2, hw.Calls("FormattedSpectrum"))
}

func TestDevice_GetSpectrumPartialFailure(t *testing.T) {
	hw := sim.NewDevice(smallSpec(3))
	hw.Script([]float64{1, 2, 3}, []float64{3, 2, 1})
	hw.FailNext("FormattedSpectrum", hardware.CodeOK, hardware.CodeTransferFailed)

	d := newDevice(t, hw, Options{ScansToAverage: 2})

	resp := call(t, d, wire.CmdGetSpectrum, "")
	require.Equal(t, wire.StatusHardware, resp.Status)
	require.Equal(t, "3", call(t, d, wire.CmdGetLastStatus, "").Text())
	require.Equal(t, "0", call(t, d, wire.CmdGetLastStatus, "").Text())
}

func TestDevice_ElectricDarkCorrection(t *testing.T) {
	hw := sim.NewDevice(smallSpec(5, 0))
	hw.Script([]float64{2, 4, 6, 8, 10})

	d := newDevice(t, hw, Options{})
	require.Equal(t, "1", call(t, d, wire.CmdSetElectricDarkCorrection, "1").Text())

	values := bulkFloats(t, call(t, d, wire.CmdGetSpectrum, ""))
	assert.InDeltaSlice(t, []float64{0, 2, 4, 6, 8}, values, 1e-9)
}

func TestDevice_ElectricDarkCorrectionWithoutDarkPixels(t *testing.T) {
	d := newDevice(t, sim.NewDevice(smallSpec(5)), Options{})

	resp := call(t, d, wire.CmdSetElectricDarkCorrection, "true")
	require.Equal(t, wire.StatusInvalidValue, resp.Status)
	require.Equal(t, "0", call(t, d, wire.CmdGetElectricDarkCorrection, "").Text())
}

func TestDevice_BoxcarApplied(t *testing.T) {
	hw := sim.NewDevice(smallSpec(5))
	hw.Script([]float64{0, 10, 0, 10, 0})

	d := newDevice(t, hw, Options{})
	require.Equal(t, wire.StatusSuccess, call(t, d, wire.CmdSetBoxcarWidth, "1").Status)

	values := bulkFloats(t, call(t, d, wire.CmdGetSpectrum, ""))
	assert.InDeltaSlice(t, []float64{0, 10.0 / 3, 20.0 / 3, 10.0 / 3, 0}, values, 1e-9)

	require.Equal(t, wire.StatusInvalidValue, call(t, d, wire.CmdSetBoxcarWidth, "3").Status)
	require.Equal(t, wire.StatusParameterDecode, call(t, d, wire.CmdSetBoxcarWidth, "wide").Status)
}

func TestDevice_SetIntegrationTime(t *testing.T) {
	require := require.New(t)

	cfg := config.New()
	store := cfg.Store("SIM00000")
	d := newDevice(t, sim.NewDevice(sim.DefaultSpec("SIM00000")), Options{Store: store})

	resp := call(t, d, wire.CmdSetIntegrationTime, "50000")
	require.Equal(wire.StatusSuccess, resp.Status)
	require.Equal("50000", call(t, d, wire.CmdGetIntegrationTime, "").Text())
	require.EqualValues(50000, store.Settings().IntegrationTime)
	require.True(cfg.Dirty())

	tests := []struct {
		name   string
		args   string
		status wire.Status
	}{
		{name: "below minimum", args: "10", status: wire.StatusInvalidValue},
		{name: "above maximum", args: "4000000000", status: wire.StatusInvalidValue},
		{name: "negative", args: "-5", status: wire.StatusParameterDecode},
		{name: "not a number", args: "fast", status: wire.StatusParameterDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, d, wire.CmdSetIntegrationTime, tt.args)
			assert.Equal(t, tt.status, resp.Status)
			assert.NotEmpty(t, resp.Payload)
		})
	}

	require.Equal("50000", call(t, d, wire.CmdGetIntegrationTime, "").Text())
}

func TestDevice_ScansToAverage(t *testing.T) {
	store := config.New().Store("SIM00000")
	d := newDevice(t, sim.NewDevice(sim.DefaultSpec("SIM00000")), Options{Store: store})

	require.Equal(t, wire.StatusSuccess, call(t, d, wire.CmdSetScansToAverage, "4").Status)
	require.Equal(t, "4", call(t, d, wire.CmdGetScansToAverage, "").Text())
	require.Equal(t, 4, store.Settings().ScansToAverage)
	require.Equal(t, wire.StatusInvalidValue, call(t, d, wire.CmdSetScansToAverage, "0").Status)
	require.Equal(t, wire.StatusInvalidValue, call(t, d, wire.CmdSetScansToAverage, strconv.Itoa(config.MaxScansToAverage+1)).Status)
	require.Equal(t, "4", call(t, d, wire.CmdGetScansToAverage, "").Text())
	require.Equal(t, 4, store.Settings().ScansToAverage)
}

func TestDevice_InitialScansToAverageBounded(t *testing.T) {
	d := newDevice(t, sim.NewDevice(sim.DefaultSpec("SIM00000")), Options{ScansToAverage: 200_000_000})
	require.Equal(t, "1", call(t, d, wire.CmdGetScansToAverage, "").Text())
}

func TestDevice_Binning(t *testing.T) {
	require := require.New(t)

	hw := sim.NewDevice(sim.DefaultSpec("SIM00000"))
	d := newDevice(t, hw, Options{})

	require.Equal("3", call(t, d, wire.CmdGetMaxBinningFactor, "").Text())

	resp := call(t, d, wire.CmdSetBinningFactor, "2")
	require.Equal(wire.StatusSuccess, resp.Status)
	require.Equal("512", call(t, d, wire.CmdGetPixelCount, "").Text())
	require.Len(bulkFloats(t, call(t, d, wire.CmdGetWavelengths, "")), 512)
	require.Len(bulkFloats(t, call(t, d, wire.CmdGetSpectrum, "")), 512)

	require.Equal(wire.StatusInvalidValue, call(t, d, wire.CmdSetBinningFactor, "4").Status)

	hw.FailNext("Wavelengths", hardware.CodeTransferFailed)
	resp = call(t, d, wire.CmdSetBinningFactor, "1")
	require.Equal(wire.StatusWavelengthRefresh, resp.Status)
	require.Equal("9", call(t, d, wire.CmdGetLastStatus, "").Text())
}

func TestDevice_DefaultBinning(t *testing.T) {
	require := require.New(t)

	d := newDevice(t, sim.NewDevice(sim.DefaultSpec("SIM00000")), Options{})

	require.Equal(wire.StatusSuccess, call(t, d, wire.CmdSetDefaultBinningFactor, "2").Status)
	require.Equal("2", call(t, d, wire.CmdGetDefaultBinningFactor, "").Text())
	require.Equal("0", call(t, d, wire.CmdGetBinningFactor, "").Text())

	require.Equal(wire.StatusSuccess, call(t, d, wire.CmdResetDefaultBinningFactor, "").Status)
	require.Equal("0", call(t, d, wire.CmdGetDefaultBinningFactor, "").Text())
}

func TestDevice_TECAndLamp(t *testing.T) {
	require := require.New(t)

	hw := sim.NewDevice(sim.DefaultSpec("SIM00000"))
	d := newDevice(t, hw, Options{})

	require.Equal("1", call(t, d, wire.CmdSetTECEnable, "on").Text())
	require.Equal("1", call(t, d, wire.CmdGetTECEnable, "").Text())
	require.Equal("-5", call(t, d, wire.CmdSetTECSetpoint, "-5").Text())
	require.Equal("-5", call(t, d, wire.CmdGetTECSetpoint, "").Text())
	require.Equal(wire.StatusSuccess, call(t, d, wire.CmdGetTemperature, "").Status)

	require.Equal("1", call(t, d, wire.CmdSetLampEnable, "1").Text())
	require.Equal("1", call(t, d, wire.CmdGetLampEnable, "").Text())

	hw.FailNext("SetLampEnable", hardware.CodeBusy)
	require.Equal(wire.StatusHardware, call(t, d, wire.CmdSetLampEnable, "0").Status)
}

func TestDevice_RawSpectrum(t *testing.T) {
	d := newDevice(t, sim.NewDevice(smallSpec(16)), Options{})

	resp := call(t, d, wire.CmdGetRawSpectrum, "")
	require.Equal(t, wire.StatusSuccess, resp.Status)
	body, err := resp.BulkBody()
	require.NoError(t, err)
	require.Len(t, body, 32)
}

func TestDevice_DarkPixelIndices(t *testing.T) {
	d := newDevice(t, sim.NewDevice(sim.DefaultSpec("SIM00000")), Options{})

	resp := call(t, d, wire.CmdGetDarkPixelIndices, "")
	require.Equal(t, "2 3 4 5 6 7 8 9 10 11 12 13 14 15 16 17", resp.Text())

	require.Equal(t, wire.StatusSuccess, call(t, d, wire.CmdSetBinningFactor, "3").Status)
	require.Equal(t, "0 1 2", call(t, d, wire.CmdGetDarkPixelIndices, "").Text())
}

func TestDevice_UnknownCommand(t *testing.T) {
	d := newDevice(t, sim.NewDevice(sim.DefaultSpec("SIM00000")), Options{})

	rec := make(recorder, 1)
	assert.False(t, d.Accept(rec, wire.CmdStartSequence, ""))
	assert.False(t, d.Accept(rec, wire.Command(0x00FE), ""))
	assert.Empty(t, rec)
}

type panicHardware struct {
	*sim.Device
}

func (panicHardware) FormattedSpectrum([]float64) (int, error) {
	panic("driver crashed")
}

func TestDevice_PanicBecomesActorError(t *testing.T) {
	d := newDevice(t, panicHardware{sim.NewDevice(sim.DefaultSpec("SIM00000"))}, Options{})

	resp := call(t, d, wire.CmdGetSpectrum, "")
	require.Equal(t, wire.StatusActorError, resp.Status)
	require.Contains(t, resp.Text(), "driver crashed")
	require.Equal(t, "8", call(t, d, wire.CmdGetLastStatus, "").Text())

	// the worker survives
	require.Equal(t, wire.StatusSuccess, call(t, d, wire.CmdGetIntegrationTime, "").Status)
}

func TestDevice_SubmitAndSnapshot(t *testing.T) {
	d := newDevice(t, sim.NewDevice(sim.DefaultSpec("SIM00007")), Options{ScansToAverage: 2})

	done := make(chan Snapshot, 1)
	require.NoError(t, d.Submit("snapshot", func() { done <- d.Snapshot() }))

	snap := <-done
	assert.Equal(t, "SIM00007", snap.Serial)
	assert.Equal(t, 2048, snap.PixelCount)
	assert.Len(t, snap.Wavelengths, 2048)
	assert.Equal(t, 2, snap.ScansToAverage)
	assert.EqualValues(t, 10_000, snap.IntegrationTime)
}

func TestDevice_Close(t *testing.T) {
	hw := sim.NewDevice(sim.DefaultSpec("SIM00000"))
	d, err := New(0, hw, Options{Logger: logger.NewNopMockLogger()})
	require.NoError(t, err)

	ran := make(chan struct{})
	require.NoError(t, d.Submit("last", func() { close(ran) }))
	require.NoError(t, d.Close())

	select {
	case <-ran:
	default:
		t.Fatal("queued task did not run before close")
	}

	require.ErrorIs(t, d.Submit("late", func() {}), actor.ErrStopped)

	rec := make(recorder, 1)
	require.True(t, d.Accept(rec, wire.CmdGetPixelCount, ""))
	assert.Equal(t, wire.StatusActorError, (<-rec).Status)
}
