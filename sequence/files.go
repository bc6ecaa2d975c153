package sequence

import (
	"time"

	"github.com/arloliu/go-spectrad/device"
)

// RunInfo describes a started sequence run.
type RunInfo struct {
	RunID   string
	Started time.Time
	device.Snapshot
}

// Acquisition is one acquired spectrum with the metadata needed to persist it.
type Acquisition struct {
	RunID string
	// Index is the zero based acquisition index within the run.
	Index int
	// ElapsedMillis is the time since the sequence was created.
	ElapsedMillis int64
	Time          time.Time
	Spectrum      []float64
	device.Snapshot
}

// FileManager persists acquisitions. OnStart, OnAcquisition, OnStop and SaveSpectrum are
// called on the device worker; the setters are called from connection goroutines.
type FileManager interface {
	OnStart(run RunInfo) error
	OnAcquisition(acq Acquisition) error
	OnStop() error
	// SaveSpectrum writes a one-off spectrum outside of any run and returns the file path.
	SaveSpectrum(acq Acquisition) (string, error)

	SetSaveDirectory(dir string)
	SetFilePrefix(prefix string)
	SetSequenceWidth(width int)
	SetMultiFile(multi bool)
	SetExtension(ext string)
}
