package filemgr

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-spectrad/device"
	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/sequence"
	"github.com/arloliu/go-spectrad/wire"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)

	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func snapshot() device.Snapshot {
	return device.Snapshot{
		DeviceIndex:     1,
		Serial:          "SIM00001",
		Model:           "SIM-2048",
		PixelCount:      3,
		Wavelengths:     []float64{400, 400.5, 401},
		IntegrationTime: 10_000,
		ScansToAverage:  2,
		BoxcarWidth:     0,
	}
}

func acquisition(index int, values ...float64) sequence.Acquisition {
	return sequence.Acquisition{
		RunID:         "run-1",
		Index:         index,
		ElapsedMillis: int64(100 * (index + 1)),
		Time:          time.Date(2026, 3, 1, 12, 0, 0, int(index)*int(time.Millisecond), time.UTC),
		Spectrum:      values,
		Snapshot:      snapshot(),
	}
}

func newManager(t *testing.T, opts Options) (*Manager, string) {
	t.Helper()

	dir := t.TempDir()
	opts.Logger = logger.NewNopMockLogger()
	m := New(opts)
	m.SetSaveDirectory(dir)
	m.SetFilePrefix("spec")

	return m, dir
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestManager_SingleFile(t *testing.T) {
	require := require.New(t)

	pub := &fakePublisher{}
	m, dir := newManager(t, Options{Extension: ".txt", Precision: 1, Publisher: pub})

	require.NoError(m.OnStart(sequence.RunInfo{RunID: "run-1", Snapshot: snapshot()}))
	require.NoError(m.OnAcquisition(acquisition(0, 1, 2, 3)))
	require.NoError(m.OnAcquisition(acquisition(1, 4, 5, 6)))
	require.NoError(m.OnStop())
	require.EqualValues(1, m.FilesWritten())

	lines := readLines(t, filepath.Join(dir, "spec.txt"))
	require.Equal("# run: run-1", lines[0])
	require.Contains(lines, "# integration_time_us: 10000")
	n := len(lines)
	require.Equal("elapsed_ms\tindex\t400.0\t400.5\t401.0", lines[n-3])
	require.Equal("100\t0\t1.0\t2.0\t3.0", lines[n-2])
	require.Equal("200\t1\t4.0\t5.0\t6.0", lines[n-1])

	require.Len(pub.msgs, 2)
	require.Equal(filepath.Join(dir, "spec.txt"), pub.msgs[1].File)
	require.Equal(1, pub.msgs[1].Index)
	require.Equal(1, pub.msgs[1].Device)

	// stop without a run is a no-op
	require.NoError(m.OnStop())
}

func TestManager_MultiFile(t *testing.T) {
	require := require.New(t)

	m, dir := newManager(t, Options{Extension: ".csv", Format: FormatCSV, Precision: -1})
	m.SetMultiFile(true)
	m.SetSequenceWidth(3)

	require.NoError(m.OnStart(sequence.RunInfo{RunID: "run-1", Snapshot: snapshot()}))
	require.NoError(m.OnAcquisition(acquisition(0, 1.25, 2, 3)))
	require.NoError(m.OnAcquisition(acquisition(7, 4, 5, 6)))
	require.NoError(m.OnStop())

	require.NoFileExists(filepath.Join(dir, "spec.csv"))
	require.FileExists(filepath.Join(dir, "spec000.csv"))

	lines := readLines(t, filepath.Join(dir, "spec007.csv"))
	require.Contains(lines, "# index: 7")
	require.Contains(lines, "# elapsed_ms: 800")
	n := len(lines)
	require.Equal([]string{"400,4", "400.5,5", "401,6"}, lines[n-3:])
	require.EqualValues(2, m.FilesWritten())
}

func TestManager_SaveSpectrum(t *testing.T) {
	m, dir := newManager(t, Options{Extension: ".txt", Precision: 2})

	path, err := m.SaveSpectrum(acquisition(0, 1, 2, 3))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "spec_20260301-120000.000.txt"), path)

	lines := readLines(t, path)
	assert.Equal(t, "401.00\t3.00", lines[len(lines)-1])
}

func TestManager_BadDirectory(t *testing.T) {
	m, _ := newManager(t, Options{Extension: ".txt"})
	m.SetSaveDirectory("/path/that/does/not/exist")

	err := m.OnStart(sequence.RunInfo{RunID: "run-1", Snapshot: snapshot()})
	require.ErrorIs(t, err, wire.ErrConfiguration)

	_, err = m.SaveSpectrum(acquisition(0, 1, 2, 3))
	require.ErrorIs(t, err, wire.ErrConfiguration)
}

func TestManager_PublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	m, _ := newManager(t, Options{Extension: ".txt", Publisher: pub})
	m.SetMultiFile(true)

	require.NoError(t, m.OnStart(sequence.RunInfo{RunID: "run-1", Snapshot: snapshot()}))
	require.NoError(t, m.OnAcquisition(acquisition(0, 1, 2, 3)))
	require.EqualValues(t, 1, m.publishFailed.Load())
}

func TestNewMessage_JSON(t *testing.T) {
	msg := NewMessage(acquisition(4, 1, 2), "/data/spec4.txt")

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.EqualValues(t, 4, decoded["index"])
	assert.EqualValues(t, 1, decoded["device"])
	assert.Equal(t, "SIM00001", decoded["serial"])
	assert.EqualValues(t, 10000, decoded["integration_time_us"])
	assert.Equal(t, []any{1.0, 2.0}, decoded["spectrum"])
}

func TestNewRedisPublisher_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewRedisPublisher(ctx, RedisOptions{
		Addr:       "127.0.0.1:1",
		Channel:    "spectrad:test",
		MaxRetries: -1,
		Logger:     logger.NewNopMockLogger(),
	})
	require.Error(t, err)
}

func TestHistoryKey(t *testing.T) {
	assert.Equal(t, "spectrad:SIM00001:acquisitions", HistoryKey("SIM00001"))
}
