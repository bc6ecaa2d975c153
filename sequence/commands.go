package sequence

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arloliu/go-spectrad/actor"
	"github.com/arloliu/go-spectrad/config"
	"github.com/arloliu/go-spectrad/wire"
)

type command struct {
	queued bool
	fn     func(args string) (wire.Response, error)
}

// Accept executes cmd if it is a sequence command and reports whether it did.
func (s *Sequence) Accept(r wire.Responder, cmd wire.Command, args string) bool {
	c, ok := s.command(cmd)
	if !ok {
		return false
	}

	if !c.queued {
		s.respond(r, c, args)
		return true
	}

	err := s.dev.SubmitTask(actor.Task{
		Name: cmd.String(),
		Run:  func() { s.respond(r, c, args) },
		Recover: func(rec any) {
			s.lastStatus.Store(uint32(wire.StatusActorError))
			r.Respond(wire.Fail(fmt.Errorf("%w: %s: %v", wire.ErrActor, cmd, rec)))
		},
	})
	if err != nil {
		r.Respond(wire.Fail(fmt.Errorf("%w: %w", wire.ErrActor, err)))
	}

	return true
}

func (s *Sequence) respond(r wire.Responder, c command, args string) {
	resp, err := c.fn(args)
	if err != nil {
		s.logger.Debug("sequence command failed", "args", args, "error", err)
		resp = wire.Fail(err)
	}

	s.lastStatus.Store(uint32(resp.Status))
	r.Respond(resp)
}

func (s *Sequence) command(cmd wire.Command) (command, bool) {
	queued := func(fn func(string) (wire.Response, error)) (command, bool) {
		return command{queued: true, fn: fn}, true
	}
	direct := func(fn func(string) (wire.Response, error)) (command, bool) {
		return command{fn: fn}, true
	}

	switch cmd {
	case wire.CmdStartSequence:
		return queued(s.cmdStart)
	case wire.CmdPauseSequence:
		return queued(s.cmdPause)
	case wire.CmdResumeSequence:
		return queued(s.cmdResume)
	case wire.CmdStopSequence:
		return queued(s.cmdStop)
	case wire.CmdSaveSpectrum:
		return queued(s.cmdSaveSpectrum)

	case wire.CmdGetSequenceState:
		return direct(s.getState)
	case wire.CmdGetAcquisitionCount:
		return direct(s.getAcquisitionCount)
	case wire.CmdGetLastSpectrum:
		return direct(s.getLastSpectrum)
	case wire.CmdGetSequenceLastStatus:
		return direct(s.getLastStatus)
	case wire.CmdGetMaxAcquisitions:
		return direct(s.getMaxAcquisitions)
	case wire.CmdSetMaxAcquisitions:
		return direct(s.setMaxAcquisitions)
	case wire.CmdGetSaveMode:
		return direct(s.getSaveMode)
	case wire.CmdSetSaveMode:
		return direct(s.setSaveMode)
	case wire.CmdGetFilePrefix:
		return direct(s.getFilePrefix)
	case wire.CmdSetFilePrefix:
		return direct(s.setFilePrefix)
	case wire.CmdGetSequenceType:
		return direct(s.getSequenceType)
	case wire.CmdSetSequenceType:
		return direct(s.setSequenceType)
	case wire.CmdGetSequenceInterval:
		return direct(s.getSequenceInterval)
	case wire.CmdSetSequenceInterval:
		return direct(s.setSequenceInterval)
	case wire.CmdGetSaveDirectory:
		return direct(s.getSaveDirectory)
	case wire.CmdSetSaveDirectory:
		return direct(s.cmdSetSaveDirectory)
	case wire.CmdGetScopeMode:
		return direct(s.getScopeMode)
	case wire.CmdSetScopeMode:
		return direct(s.setScopeMode)
	case wire.CmdGetScopeInterval:
		return direct(s.getScopeInterval)
	case wire.CmdSetScopeInterval:
		return direct(s.setScopeInterval)
	}

	return command{}, false
}

func (s *Sequence) cmdStart(string) (wire.Response, error) {
	if err := s.start(); err != nil {
		return wire.Response{}, err
	}

	return wire.OK(s.runID), nil
}

func (s *Sequence) cmdPause(string) (wire.Response, error) {
	return wire.OK(""), s.pause()
}

func (s *Sequence) cmdResume(string) (wire.Response, error) {
	return wire.OK(""), s.resume()
}

func (s *Sequence) cmdStop(string) (wire.Response, error) {
	return wire.OK(""), s.stop()
}

func (s *Sequence) cmdSaveSpectrum(string) (wire.Response, error) {
	path, err := s.saveSpectrum()
	if err != nil {
		return wire.Response{}, err
	}

	return wire.OK(path), nil
}

func (s *Sequence) getState(string) (wire.Response, error) {
	return wire.OK(strconv.Itoa(int(s.State()))), nil
}

func (s *Sequence) getAcquisitionCount(string) (wire.Response, error) {
	return wire.OK(strconv.Itoa(s.AcquisitionCount())), nil
}

func (s *Sequence) getLastSpectrum(string) (wire.Response, error) {
	return wire.Bulk(wire.FormatFloats(s.LastSpectrum())), nil
}

// getLastStatus returns the status of the previous sequence command and resets it.
func (s *Sequence) getLastStatus(string) (wire.Response, error) {
	prev := s.lastStatus.Swap(uint32(wire.StatusSuccess))
	return wire.OK(strconv.Itoa(int(prev))), nil
}

func (s *Sequence) getMaxAcquisitions(string) (wire.Response, error) {
	return wire.OK(strconv.Itoa(s.MaxAcquisitions())), nil
}

func (s *Sequence) setMaxAcquisitions(args string) (wire.Response, error) {
	n, err := wire.ParseIntArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	if n < 0 {
		return wire.Response{}, fmt.Errorf("%w: max acquisitions %d", wire.ErrInvalidValue, n)
	}

	s.mu.Lock()
	s.maxAcq = n
	s.files.SetSequenceWidth(sequenceWidth(n))
	s.mu.Unlock()
	s.persist(func(ds *config.DeviceSettings) { ds.MaxAcquisitions = n })

	return wire.OK(strconv.Itoa(n)), nil
}

func (s *Sequence) getSaveMode(string) (wire.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return wire.OK(wire.FormatBool(s.multiFile)), nil
}

// setSaveMode selects one file per acquisition (1) or a single file per run (0).
func (s *Sequence) setSaveMode(args string) (wire.Response, error) {
	multi, err := wire.ParseBoolArg(args)
	if err != nil {
		return wire.Response{}, err
	}

	s.mu.Lock()
	s.multiFile = multi
	s.files.SetMultiFile(multi)
	s.mu.Unlock()
	s.persist(func(ds *config.DeviceSettings) { ds.MultiFile = multi })

	return wire.OK(wire.FormatBool(multi)), nil
}

func (s *Sequence) getFilePrefix(string) (wire.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return wire.OK(s.prefix), nil
}

func (s *Sequence) setFilePrefix(args string) (wire.Response, error) {
	prefix := strings.TrimSpace(args)
	if prefix == "" || strings.ContainsAny(prefix, `/\`) || prefix != filepath.Base(prefix) {
		return wire.Response{}, fmt.Errorf("%w: file prefix %q", wire.ErrInvalidValue, args)
	}

	s.mu.Lock()
	s.prefix = prefix
	s.files.SetFilePrefix(prefix)
	s.mu.Unlock()
	s.persist(func(ds *config.DeviceSettings) { ds.FilePrefix = prefix })

	return wire.OK(prefix), nil
}

func (s *Sequence) getSequenceType(string) (wire.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return wire.OK(strconv.Itoa(int(s.seqType))), nil
}

func (s *Sequence) setSequenceType(args string) (wire.Response, error) {
	n, err := wire.ParseIntArg(args)
	if err != nil {
		return wire.Response{}, err
	}

	t := Type(n)
	if t != TypeManual && t != TypeTimer {
		return wire.Response{}, fmt.Errorf("%w: sequence type %d", wire.ErrInvalidValue, n)
	}

	s.mu.Lock()
	s.seqType = t
	s.mu.Unlock()

	return wire.OK(strconv.Itoa(n)), nil
}

func (s *Sequence) getSequenceInterval(string) (wire.Response, error) {
	return wire.OK(strconv.FormatInt(s.Interval().Milliseconds(), 10)), nil
}

// setSequenceInterval takes the interval in milliseconds. A running schedule keeps its
// period until the next Start or Resume.
func (s *Sequence) setSequenceInterval(args string) (wire.Response, error) {
	ms, err := wire.ParseIntArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	interval := intervalOf(ms)
	if interval == 0 {
		return wire.Response{}, fmt.Errorf("%w: sequence interval %d ms outside [1, %d]", wire.ErrInvalidValue, ms, config.MaxSaveInterval)
	}

	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
	s.persist(func(ds *config.DeviceSettings) { ds.SaveInterval = ms })

	return wire.OK(strconv.Itoa(ms)), nil
}

func (s *Sequence) getSaveDirectory(string) (wire.Response, error) {
	return wire.OK(s.SaveDirectory()), nil
}

func (s *Sequence) cmdSetSaveDirectory(args string) (wire.Response, error) {
	dir := strings.TrimSpace(args)
	if err := s.SetSaveDirectory(dir); err != nil {
		return wire.Response{}, err
	}

	return wire.OK(dir), nil
}

// SetSaveDirectory sets the directory files are written to. The directory must exist, be a
// directory and be writable; otherwise a configuration error is returned and the previous
// directory is kept. The first valid directory moves the sequence out of NotYetConfigured.
func (s *Sequence) SetSaveDirectory(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: empty save directory", wire.ErrConfiguration)
	}
	if err := checkSaveDirectory(dir); err != nil {
		return err
	}

	s.mu.Lock()
	s.saveDir = dir
	s.files.SetSaveDirectory(dir)
	s.mu.Unlock()
	s.persist(func(ds *config.DeviceSettings) { ds.SaveDirectory = dir })

	if s.state.transition(StateNotYetConfigured, StateNotYetStarted) {
		s.logger.Info("sequence configured", "dir", dir)
	}

	return nil
}

func (s *Sequence) getScopeMode(string) (wire.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return wire.OK(wire.FormatBool(s.scopeMode)), nil
}

func (s *Sequence) setScopeMode(args string) (wire.Response, error) {
	on, err := wire.ParseBoolArg(args)
	if err != nil {
		return wire.Response{}, err
	}

	s.mu.Lock()
	s.scopeMode = on
	s.mu.Unlock()
	s.persist(func(ds *config.DeviceSettings) { ds.ScopeMode = on })

	return wire.OK(wire.FormatBool(on)), nil
}

func (s *Sequence) getScopeInterval(string) (wire.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return wire.OK(wire.FormatFloat(s.scopeInterval)), nil
}

// setScopeInterval takes the scope refresh interval in seconds.
func (s *Sequence) setScopeInterval(args string) (wire.Response, error) {
	v, err := wire.ParseFloatArg(args)
	if err != nil {
		return wire.Response{}, err
	}
	if v <= 0 {
		return wire.Response{}, fmt.Errorf("%w: scope interval %v s", wire.ErrInvalidValue, v)
	}

	s.mu.Lock()
	s.scopeInterval = v
	s.mu.Unlock()
	s.persist(func(ds *config.DeviceSettings) { ds.ScopeInterval = v })

	return wire.OK(wire.FormatFloat(v)), nil
}
