// Package sequence implements the acquisition sequence of a device: a state machine that
// arms a fixed-period schedule and submits the scheduled acquisitions to the device actor,
// plus the sequence configuration commands.
//
// Start, Pause, Resume, Stop and SaveSpectrum run on the device actor so that they never
// interleave with a scheduled acquisition of the same device. Configuration commands only
// touch in-memory settings and run on the caller goroutine under the configuration mutex.
package sequence

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-spectrad/actor"
	"github.com/arloliu/go-spectrad/config"
	"github.com/arloliu/go-spectrad/device"
	"github.com/arloliu/go-spectrad/internal/util"
	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/wire"
)

// Device is the device actor a sequence schedules its work on.
type Device interface {
	Index() int
	SubmitTask(t actor.Task) error
	// Acquire and Snapshot may only be called from a task running on the actor.
	Acquire() ([]float64, error)
	Snapshot() device.Snapshot
}

// SettingsStore persists the settings a client changes.
type SettingsStore interface {
	Update(fn func(s *config.DeviceSettings))
}

// Type is the sequence type. It is informational only.
type Type int

const (
	TypeManual Type = iota
	TypeTimer
)

// Options configures a Sequence.
type Options struct {
	// Settings holds the initial configuration.
	Settings config.DeviceSettings
	// Store receives configuration changes; nil disables persistence.
	Store  SettingsStore
	Logger logger.Logger
}

// Sequence is the acquisition sequence of one device.
type Sequence struct {
	dev     Device
	files   FileManager
	store   SettingsStore
	logger  logger.Logger
	created time.Time

	state      stateVar
	lastStatus atomic.Uint32

	mu            sync.Mutex // guards the configuration below
	seqType       Type
	interval      time.Duration
	maxAcq        int
	multiFile     bool
	prefix        string
	saveDir       string
	scopeMode     bool
	scopeInterval float64 // s

	// run state, written on the worker
	runID string
	count atomic.Int64

	sched schedule

	pending  atomic.Int32 // scheduled acquisitions submitted but not started
	overlaps atomic.Uint64
	total    atomic.Uint64
	failures atomic.Uint64

	lastMu       sync.Mutex
	lastSpectrum []float64
}

// New creates the sequence of dev. If the settings carry a usable save directory the
// sequence starts out configured.
func New(dev Device, files FileManager, opts Options) *Sequence {
	l := opts.Logger
	if l == nil {
		l = logger.GetLogger()
	}

	set := opts.Settings
	s := &Sequence{
		dev:           dev,
		files:         files,
		store:         opts.Store,
		logger:        l.With("device", dev.Index(), "component", "sequence"),
		created:       time.Now(),
		seqType:       TypeTimer,
		interval:      intervalOf(set.SaveInterval),
		maxAcq:        set.MaxAcquisitions,
		multiFile:     set.MultiFile,
		prefix:        set.FilePrefix,
		scopeMode:     set.ScopeMode,
		scopeInterval: set.ScopeInterval,
	}
	if s.interval <= 0 {
		s.interval = time.Duration(config.DefaultSaveInterval) * time.Millisecond
	}
	if s.maxAcq < 0 {
		s.maxAcq = 0
	}
	if s.prefix == "" {
		s.prefix = config.DefaultFilePrefix
	}

	files.SetExtension(set.FileExtension)
	files.SetFilePrefix(s.prefix)
	files.SetMultiFile(s.multiFile)
	files.SetSequenceWidth(sequenceWidth(s.maxAcq))

	if set.SaveDirectory != "" {
		if err := checkSaveDirectory(set.SaveDirectory); err != nil {
			s.logger.Warn("configured save directory is not usable", "dir", set.SaveDirectory, "error", err)
		} else {
			s.saveDir = set.SaveDirectory
			files.SetSaveDirectory(s.saveDir)
			s.state.store(StateNotYetStarted)
		}
	}

	return s
}

// State returns the current state.
func (s *Sequence) State() State { return s.state.load() }

// AcquisitionCount returns the number of acquisitions of the current or last run.
func (s *Sequence) AcquisitionCount() int { return int(s.count.Load()) }

// AcquisitionsTotal returns the number of scheduled acquisitions completed since creation.
func (s *Sequence) AcquisitionsTotal() uint64 { return s.total.Load() }

// Overlaps returns how many times the schedule fired while a previous scheduled
// acquisition was still waiting on the device actor.
func (s *Sequence) Overlaps() uint64 { return s.overlaps.Load() }

// Failures returns the number of scheduled acquisitions that failed.
func (s *Sequence) Failures() uint64 { return s.failures.Load() }

// Interval returns the sequence interval.
func (s *Sequence) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interval
}

// MaxAcquisitions returns the acquisition limit of a run; zero means unlimited.
func (s *Sequence) MaxAcquisitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxAcq
}

// SaveDirectory returns the configured save directory.
func (s *Sequence) SaveDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveDir
}

// LastSpectrum returns a copy of the most recently acquired spectrum, or nil.
func (s *Sequence) LastSpectrum() []float64 {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	if s.lastSpectrum == nil {
		return nil
	}

	return util.CloneSlice(s.lastSpectrum, 0)
}

func (s *Sequence) setLastSpectrum(spectrum []float64) {
	s.lastMu.Lock()
	s.lastSpectrum = append(s.lastSpectrum[:0], spectrum...)
	s.lastMu.Unlock()
}

// start must run on the device actor.
func (s *Sequence) start() error {
	switch st := s.State(); st {
	case StateNotYetConfigured:
		return fmt.Errorf("%w: save directory not configured", wire.ErrConfiguration)
	case StateActive, StatePaused:
		return fmt.Errorf("%w: sequence already %s", wire.ErrConflict, st)
	}

	snap := s.dev.Snapshot()
	interval := s.Interval()
	required, ok := acquisitionMicros(snap.IntegrationTime, snap.ScansToAverage)
	if !ok || uint64(interval.Microseconds()) < required { //nolint:gosec // interval is positive
		return fmt.Errorf("%w: interval %s shorter than acquisition time %s",
			wire.ErrConflict, interval, microsText(required, ok))
	}

	run := RunInfo{RunID: uuid.NewString(), Started: time.Now(), Snapshot: snap}
	if err := s.files.OnStart(run); err != nil {
		return err
	}
	s.count.Store(0)

	if !s.state.transition(StateNotYetStarted, StateActive) {
		_ = s.files.OnStop()
		return fmt.Errorf("%w: sequence state changed to %s during start", wire.ErrConflict, s.State())
	}
	s.runID = run.RunID
	s.sched.arm(interval, s.fire)

	s.logger.Info("sequence started", "run_id", run.RunID, "interval", interval, "max_acquisitions", s.MaxAcquisitions())

	return nil
}

// pause must run on the device actor. An acquisition already submitted still runs.
func (s *Sequence) pause() error {
	if !s.state.transition(StateActive, StatePaused) {
		return fmt.Errorf("%w: cannot pause a sequence in state %s", wire.ErrConflict, s.State())
	}
	s.sched.disarm()
	s.logger.Info("sequence paused", "run_id", s.runID, "acquisitions", s.AcquisitionCount())

	return nil
}

// resume must run on the device actor.
func (s *Sequence) resume() error {
	if !s.state.transition(StatePaused, StateActive) {
		return fmt.Errorf("%w: cannot resume a sequence in state %s", wire.ErrConflict, s.State())
	}
	s.sched.arm(s.Interval(), s.fire)
	s.logger.Info("sequence resumed", "run_id", s.runID)

	return nil
}

// stop must run on the device actor.
func (s *Sequence) stop() error {
	st := s.State()
	if !st.running() || !s.state.transition(st, StateNotYetStarted) {
		return fmt.Errorf("%w: cannot stop a sequence in state %s", wire.ErrConflict, st)
	}
	s.sched.disarm()

	err := s.files.OnStop()
	s.logger.Info("sequence stopped", "run_id", s.runID, "acquisitions", s.AcquisitionCount())

	return err
}

// fire is the schedule callback. The schedule is already re-armed when it runs.
func (s *Sequence) fire() {
	if n := s.pending.Add(1); n > 1 {
		s.overlaps.Add(1)
		s.logger.Warn("scheduled acquisition still queued when the next one fired", "queued", n)
	}

	err := s.dev.SubmitTask(actor.Task{
		Name: "scheduled-acquisition",
		Run: func() {
			s.pending.Add(-1)
			s.scheduledAcquisition()
		},
		Recover: func(r any) {
			s.failures.Add(1)
			s.lastStatus.Store(uint32(wire.StatusActorError))
		},
	})
	if err != nil {
		s.pending.Add(-1)
		s.logger.Warn("scheduled acquisition not submitted", "error", err)
	}
}

// scheduledAcquisition must run on the device actor.
func (s *Sequence) scheduledAcquisition() {
	if !s.State().running() {
		return
	}

	maxAcq := s.MaxAcquisitions()
	index := int(s.count.Load())
	if maxAcq != 0 && index >= maxAcq {
		return
	}

	spectrum, err := s.dev.Acquire()
	if err != nil {
		s.failures.Add(1)
		s.lastStatus.Store(uint32(wire.StatusOf(err)))
		s.logger.Warn("scheduled acquisition failed", "run_id", s.runID, "index", index, "error", err)

		return
	}

	acq := s.acquisition(index, spectrum)
	if err := s.files.OnAcquisition(acq); err != nil {
		s.lastStatus.Store(uint32(wire.StatusOf(err)))
		s.logger.Warn("acquisition not saved", "run_id", s.runID, "index", index, "error", err)
	}

	s.setLastSpectrum(spectrum)
	count := s.count.Add(1)
	s.total.Add(1)

	if maxAcq != 0 && count >= int64(maxAcq) {
		if err := s.stop(); err != nil && !errors.Is(err, wire.ErrConflict) {
			s.logger.Warn("stop after last acquisition failed", "error", err)
		}
	}
}

// saveSpectrum must run on the device actor.
func (s *Sequence) saveSpectrum() (string, error) {
	if s.State() == StateNotYetConfigured {
		return "", fmt.Errorf("%w: save directory not configured", wire.ErrConfiguration)
	}

	spectrum, err := s.dev.Acquire()
	if err != nil {
		return "", err
	}
	s.setLastSpectrum(spectrum)

	return s.files.SaveSpectrum(s.acquisition(int(s.count.Load()), spectrum))
}

func (s *Sequence) acquisition(index int, spectrum []float64) Acquisition {
	now := time.Now()

	return Acquisition{
		RunID:         s.runID,
		Index:         index,
		ElapsedMillis: now.Sub(s.created).Milliseconds(),
		Time:          now,
		Spectrum:      spectrum,
		Snapshot:      s.dev.Snapshot(),
	}
}

// Close disarms the schedule and, if a run is in progress, stops it on the device actor
// and waits for the stop to complete.
func (s *Sequence) Close() {
	s.sched.disarm()

	if !s.State().running() {
		return
	}

	done := make(chan struct{})
	err := s.dev.SubmitTask(actor.Task{
		Name: "close-sequence",
		Run: func() {
			defer close(done)
			if err := s.stop(); err != nil && !errors.Is(err, wire.ErrConflict) {
				s.logger.Warn("stop on close failed", "error", err)
			}
		},
		Recover: func(any) { close(done) },
	})
	if err != nil {
		s.logger.Warn("sequence not stopped on close", "error", err)
		return
	}

	<-done
}

// sequenceWidth is the zero-pad width of sequence numbers in file names for a limit of
// maxAcq: ceil(log10(maxAcq)) + 1, computed on integers.
func sequenceWidth(maxAcq int) int {
	digits := 0
	for p := 1; p < maxAcq; p *= 10 {
		digits++
	}

	return digits + 1
}

// intervalOf converts a configured interval in ms, returning zero when it is not positive
// or not representable as a time.Duration.
func intervalOf(ms int) time.Duration {
	if ms <= 0 || int64(ms) > config.MaxSaveInterval {
		return 0
	}

	return time.Duration(ms) * time.Millisecond
}

// acquisitionMicros returns the duration of one averaged acquisition in µs. ok is false
// when the product overflows.
func acquisitionMicros(integration uint32, scans int) (micros uint64, ok bool) {
	hi, lo := bits.Mul64(uint64(integration), uint64(max(scans, 1))) //nolint:gosec // scans is at least 1
	return lo, hi == 0
}

func microsText(micros uint64, ok bool) string {
	if ok && micros <= uint64(math.MaxInt64/int64(time.Microsecond)) {
		return (time.Duration(micros) * time.Microsecond).String() //nolint:gosec // bounded above
	}
	if ok {
		return strconv.FormatUint(micros, 10) + "µs"
	}

	return "beyond 2^64µs"
}

// checkSaveDirectory verifies that dir exists, is a directory and is writable.
func checkSaveDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: save directory %q: %w", wire.ErrConfiguration, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: save directory %q is not a directory", wire.ErrConfiguration, dir)
	}

	tmp, err := os.CreateTemp(dir, ".spectrad-check-*")
	if err != nil {
		return fmt.Errorf("%w: save directory %q is not writable: %w", wire.ErrConfiguration, dir, err)
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)

	return nil
}

func (s *Sequence) persist(fn func(ds *config.DeviceSettings)) {
	if s.store != nil {
		s.store.Update(fn)
	}
}
