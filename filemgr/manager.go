// Package filemgr writes acquired spectra to disk and optionally publishes them.
//
// In single-file mode a run writes one file, <prefix><ext>, holding a header row with the
// wavelengths followed by one row per acquisition. In multi-file mode every acquisition is
// written to <prefix><index><ext>, the index zero padded to the sequence width, as two
// columns: wavelength and value.
package filemgr

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/sequence"
	"github.com/arloliu/go-spectrad/wire"
)

// Save formats.
const (
	FormatASCII = "ascii" // tab separated
	FormatCSV   = "csv"
)

const publishTimeout = 2 * time.Second

// Options configures a Manager.
type Options struct {
	Extension string
	// Format is FormatASCII or FormatCSV.
	Format string
	// Precision is the number of decimals written; negative writes the shortest exact form.
	Precision int
	// Publisher, when not nil, receives every acquisition of a run.
	Publisher Publisher
	Logger    logger.Logger
}

// Manager is a sequence.FileManager writing text files.
type Manager struct {
	mu        sync.Mutex
	dir       string
	prefix    string
	ext       string
	width     int
	multi     bool
	sep       byte
	precision int
	run       *runFile

	publisher Publisher
	logger    logger.Logger

	filesWritten  atomic.Uint64
	publishFailed atomic.Uint64
}

var _ sequence.FileManager = (*Manager)(nil)

type runFile struct {
	info sequence.RunInfo
	path string
	f    *os.File
	w    *bufio.Writer
}

// New creates a Manager.
func New(opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.GetLogger()
	}

	m := &Manager{
		prefix:    "spectrum",
		ext:       opts.Extension,
		width:     1,
		sep:       '\t',
		precision: opts.Precision,
		publisher: opts.Publisher,
		logger:    l.With("component", "filemgr"),
	}
	if opts.Format == FormatCSV {
		m.sep = ','
	}

	return m
}

// SetSaveDirectory sets the directory later runs write into.
func (m *Manager) SetSaveDirectory(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dir = dir
}

// SetFilePrefix sets the file name prefix.
func (m *Manager) SetFilePrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prefix = prefix
}

// SetSequenceWidth sets the zero-padded width of the acquisition number in file
// names. Widths below 1 are raised to 1.
func (m *Manager) SetSequenceWidth(width int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.width = max(width, 1)
}

// SetMultiFile selects one file per acquisition instead of one file per run. It takes
// effect at the next OnStart.
func (m *Manager) SetMultiFile(multi bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.multi = multi
}

// SetExtension sets the file name extension, including its leading dot.
func (m *Manager) SetExtension(ext string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ext = ext
}

// FilesWritten returns the number of files completed.
func (m *Manager) FilesWritten() uint64 { return m.filesWritten.Load() }

// OnStart begins a run. In single-file mode the run file is created with its header.
func (m *Manager) OnStart(run sequence.RunInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run != nil {
		m.closeRunLocked()
	}

	rf := &runFile{info: run}
	if !m.multi {
		rf.path = filepath.Join(m.dir, m.prefix+m.ext)
		f, err := os.Create(rf.path)
		if err != nil {
			return fmt.Errorf("%w: create %s: %w", wire.ErrConfiguration, rf.path, err)
		}
		rf.f = f
		rf.w = bufio.NewWriter(f)

		m.writeMeta(rf.w, run.RunID, run.Snapshot.Serial, run.Snapshot.IntegrationTime, run.Snapshot.ScansToAverage, run.Snapshot.BoxcarWidth)
		m.writeRow(rf.w, []string{"elapsed_ms", "index"}, run.Snapshot.Wavelengths)
		if err := rf.w.Flush(); err != nil {
			f.Close()
			return fmt.Errorf("%w: write %s: %w", wire.ErrConfiguration, rf.path, err)
		}
	}
	m.run = rf

	m.logger.Debug("run started", "run_id", run.RunID, "multi_file", m.multi, "path", rf.path)

	return nil
}

// OnAcquisition writes one acquisition and publishes it.
func (m *Manager) OnAcquisition(acq sequence.Acquisition) error {
	path, err := m.writeAcquisition(acq)
	m.publish(acq, path)

	return err
}

func (m *Manager) writeAcquisition(acq sequence.Acquisition) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run != nil && m.run.w != nil {
		m.writeRow(m.run.w, []string{strconv.FormatInt(acq.ElapsedMillis, 10), strconv.Itoa(acq.Index)}, acq.Spectrum)
		if err := m.run.w.Flush(); err != nil {
			return m.run.path, fmt.Errorf("%w: write %s: %w", wire.ErrConfiguration, m.run.path, err)
		}

		return m.run.path, nil
	}

	path := filepath.Join(m.dir, fmt.Sprintf("%s%0*d%s", m.prefix, m.width, acq.Index, m.ext))

	return path, m.writeColumnsLocked(path, acq)
}

// OnStop ends the run and closes the run file.
func (m *Manager) OnStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run == nil {
		return nil
	}

	return m.closeRunLocked()
}

func (m *Manager) closeRunLocked() error {
	rf := m.run
	m.run = nil
	if rf.f == nil {
		return nil
	}

	err := rf.w.Flush()
	if cerr := rf.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: close %s: %w", wire.ErrConfiguration, rf.path, err)
	}
	m.filesWritten.Add(1)

	return nil
}

// SaveSpectrum writes a one-off spectrum to <prefix>_<timestamp><ext>.
func (m *Manager) SaveSpectrum(acq sequence.Acquisition) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp := acq.Time
	if stamp.IsZero() {
		stamp = time.Now()
	}
	path := filepath.Join(m.dir, m.prefix+"_"+stamp.Format("20060102-150405.000")+m.ext)

	if err := m.writeColumnsLocked(path, acq); err != nil {
		return "", err
	}

	return path, nil
}

func (m *Manager) writeColumnsLocked(path string, acq sequence.Acquisition) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", wire.ErrConfiguration, path, err)
	}

	w := bufio.NewWriter(f)
	m.writeMeta(w, acq.RunID, acq.Serial, acq.IntegrationTime, acq.ScansToAverage, acq.BoxcarWidth)
	fmt.Fprintf(w, "# index: %d\n# elapsed_ms: %d\n", acq.Index, acq.ElapsedMillis)

	var buf []byte
	for i, v := range acq.Spectrum {
		buf = buf[:0]
		if i < len(acq.Wavelengths) {
			buf = m.appendFloat(buf, acq.Wavelengths[i])
		}
		buf = append(buf, m.sep)
		buf = m.appendFloat(buf, v)
		buf = append(buf, '\n')
		w.Write(buf)
	}

	err = w.Flush()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", wire.ErrConfiguration, path, err)
	}
	m.filesWritten.Add(1)

	return nil
}

func (m *Manager) writeMeta(w *bufio.Writer, runID, serial string, integration uint32, scans, boxcar int) {
	if runID != "" {
		fmt.Fprintf(w, "# run: %s\n", runID)
	}
	fmt.Fprintf(w, "# serial: %s\n# integration_time_us: %d\n# scans_to_average: %d\n# boxcar_width: %d\n",
		serial, integration, scans, boxcar)
}

func (m *Manager) writeRow(w *bufio.Writer, lead []string, values []float64) {
	buf := make([]byte, 0, 16*(len(values)+len(lead)))
	for i, s := range lead {
		if i > 0 {
			buf = append(buf, m.sep)
		}
		buf = append(buf, s...)
	}
	for _, v := range values {
		buf = append(buf, m.sep)
		buf = m.appendFloat(buf, v)
	}
	buf = append(buf, '\n')
	w.Write(buf)
}

func (m *Manager) appendFloat(buf []byte, v float64) []byte {
	if m.precision < 0 {
		return strconv.AppendFloat(buf, v, 'f', -1, 64)
	}

	return strconv.AppendFloat(buf, v, 'f', m.precision, 64)
}

func (m *Manager) publish(acq sequence.Acquisition, path string) {
	if m.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := m.publisher.Publish(ctx, NewMessage(acq, path)); err != nil {
		m.publishFailed.Add(1)
		m.logger.Warn("publish acquisition failed", "run_id", acq.RunID, "index", acq.Index, "error", err)
	}
}
