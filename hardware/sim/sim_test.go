package sim

import (
	"testing"

	"github.com/arloliu/go-spectrad/hardware"
	"github.com/arloliu/go-spectrad/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice_Spectrum(t *testing.T) {
	require := require.New(t)

	dev := NewDevice(DefaultSpec("SIM00000"))

	n, err := dev.FormattedSpectrumLength()
	require.NoError(err)
	require.Equal(2048, n)

	buf := make([]float64, n)
	got, err := dev.FormattedSpectrum(buf)
	require.NoError(err)
	require.Equal(n, got)

	wl := make([]float64, n)
	_, err = dev.Wavelengths(wl)
	require.NoError(err)

	// the 546.1 nm line dominates the baseline
	peak := 0
	for i := range buf {
		if buf[i] > buf[peak] {
			peak = i
		}
	}
	require.InDelta(546.1, wl[peak], 1.0)
	require.LessOrEqual(buf[peak], 65535.0)
}

func TestDevice_Binning(t *testing.T) {
	require := require.New(t)

	dev := NewDevice(DefaultSpec("SIM00000"))
	require.NoError(dev.SetBinningFactor(2))

	n, err := dev.FormattedSpectrumLength()
	require.NoError(err)
	require.Equal(512, n)

	err = dev.SetBinningFactor(4)
	require.ErrorIs(err, wire.ErrHardware)

	require.NoError(dev.SetDefaultBinningFactor(1))
	def, err := dev.DefaultBinningFactor()
	require.NoError(err)
	require.EqualValues(1, def)

	require.NoError(dev.ResetDefaultBinningFactor())
	def, _ = dev.DefaultBinningFactor()
	require.EqualValues(0, def)
}

func TestDevice_ScriptAndFailures(t *testing.T) {
	assert := assert.New(t)

	dev := NewDevice(Spec{Serial: "S", Pixels: 3, MinIntegration: 1, MaxIntegration: 10, MaxIntensity: 100})
	dev.Script([]float64{1, 2, 3})
	dev.FailNext("FormattedSpectrum", hardware.CodeTimeout)

	buf := make([]float64, 3)
	_, err := dev.FormattedSpectrum(buf)
	var hwErr *hardware.Error
	assert.ErrorAs(err, &hwErr)
	assert.Equal(hardware.CodeTimeout, hwErr.Code)

	n, err := dev.FormattedSpectrum(buf)
	assert.NoError(err)
	assert.Equal(3, n)
	assert.Equal([]float64{1, 2, 3}, buf)
	assert.Equal(2, dev.Calls("FormattedSpectrum"))
}

func TestDevice_IntegrationLimits(t *testing.T) {
	dev := NewDevice(DefaultSpec("SIM00000"))

	assert.NoError(t, dev.SetIntegrationTime(20_000))
	v, err := dev.IntegrationTime()
	assert.NoError(t, err)
	assert.EqualValues(t, 20_000, v)

	assert.ErrorIs(t, dev.SetIntegrationTime(10), wire.ErrHardware)
}

func TestDevice_Unformatted(t *testing.T) {
	dev := NewDevice(DefaultSpec("SIM00000"))

	n, err := dev.UnformattedSpectrumLength()
	require.NoError(t, err)
	require.Equal(t, 4096, n)

	buf := make([]byte, n)
	got, err := dev.UnformattedSpectrum(buf)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestDriver(t *testing.T) {
	require := require.New(t)

	drv := NewDefaultDriver(2)
	ids, err := drv.Probe()
	require.NoError(err)
	require.Equal([]int{0, 1}, ids)

	dev, err := drv.Open(1)
	require.NoError(err)
	serial, err := dev.SerialNumber()
	require.NoError(err)
	require.Equal("SIM00001", serial)

	require.NoError(dev.Close())
	_, err = dev.SerialNumber()
	require.ErrorIs(err, wire.ErrHardware)

	_, err = drv.Open(5)
	require.ErrorIs(err, wire.ErrHardware)
}
