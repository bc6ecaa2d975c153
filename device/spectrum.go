package device

import (
	"fmt"

	"github.com/arloliu/go-spectrad/internal/util"
	"github.com/arloliu/go-spectrad/wire"
)

// Acquire acquires one processed spectrum: the average of ScansToAverage raw spectra,
// electric dark corrected when enabled, then boxcar smoothed. It must be called on the
// worker. The returned slice is owned by the caller.
func (d *Device) Acquire() ([]float64, error) {
	n := d.pixelCount
	scans := max(d.scansToAverage, 1)

	d.sum = util.Resize(d.sum, n)
	d.scan = util.Resize(d.scan, n)
	clear(d.sum)

	for i := 0; i < scans; i++ {
		got, err := d.hw.FormattedSpectrum(d.scan)
		if err != nil {
			return nil, fmt.Errorf("scan %d of %d: %w", i+1, scans, err)
		}
		if got != n {
			return nil, fmt.Errorf("%w: scan %d returned %d of %d pixels", wire.ErrHardware, i+1, got, n)
		}

		for j, v := range d.scan {
			d.sum[j] += v
		}
	}

	if scans > 1 {
		Average(d.sum, scans)
	}

	if d.edc {
		SubtractDark(d.sum, d.binnedDarkPixels())
	}

	out := make([]float64, n)
	Boxcar(out, d.sum, d.boxcarWidth)

	return out, nil
}

// Average divides every element of sum by count.
func Average(sum []float64, count int) {
	if count <= 1 {
		return
	}

	c := float64(count)
	for i := range sum {
		sum[i] /= c
	}
}

// SubtractDark subtracts the mean of the values at the dark indices from every value and
// returns that mean. Indices outside values are ignored; without any dark index nothing
// is subtracted.
func SubtractDark(values []float64, dark []int) float64 {
	var (
		sum   float64
		count int
	)
	for _, idx := range dark {
		if idx >= 0 && idx < len(values) {
			sum += values[idx]
			count++
		}
	}
	if count == 0 {
		return 0
	}

	mean := sum / float64(count)
	for i := range values {
		values[i] -= mean
	}

	return mean
}

// Boxcar writes src smoothed with a moving average of width 2w+1 into dst.
// Pixels closer than w to either edge are copied unchanged. dst and src must have the
// same length and must not overlap.
func Boxcar(dst, src []float64, w int) {
	copy(dst, src)

	n := len(src)
	if w <= 0 || n < 2*w+1 {
		return
	}

	size := float64(2*w + 1)
	var window float64
	for _, v := range src[:2*w+1] {
		window += v
	}
	dst[w] = window / size

	for i := w + 1; i < n-w; i++ {
		window += src[i+w] - src[i-w-1]
		dst[i] = window / size
	}
}

// binnedDarkPixels maps the unbinned dark pixel indices to the current binning.
func (d *Device) binnedDarkPixels() []int {
	if d.binning == 0 {
		return d.darkPixels
	}

	seen := make(map[int]struct{}, len(d.darkPixels))
	out := make([]int, 0, len(d.darkPixels))
	for _, p := range d.darkPixels {
		b := p >> d.binning
		if b >= d.pixelCount {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}

	return out
}

// refreshWavelengths sizes the wavelength table for the current binning and refetches it.
func (d *Device) refreshWavelengths() error {
	d.pixelCount = d.basePixels >> d.binning
	d.wavelengths = util.Resize(d.wavelengths, d.pixelCount)

	n, err := d.hw.Wavelengths(d.wavelengths)
	if err != nil {
		return err
	}
	if n != d.pixelCount {
		return fmt.Errorf("%w: got %d of %d wavelengths", wire.ErrHardware, n, d.pixelCount)
	}

	return nil
}
