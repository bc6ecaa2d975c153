package server

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-spectrad/device"
	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/sequence"
	"github.com/arloliu/go-spectrad/wire"
)

// Entry is a registered device with its sequence.
type Entry struct {
	Device   *device.Device
	Sequence *sequence.Sequence
}

// Dispatcher routes decoded requests to the device actor or the sequence of the addressed
// device. Requests it cannot route are dropped: the connection is closed without a
// response, which clients can tell apart from a status code failure.
type Dispatcher struct {
	version string
	devices *xsync.MapOf[int, *Entry]
	logger  logger.Logger
	metrics *Metrics
}

// NewDispatcher creates a dispatcher reporting version for the daemon version command.
func NewDispatcher(version string, l logger.Logger, m *Metrics) *Dispatcher {
	if l == nil {
		l = logger.GetLogger()
	}
	if m == nil {
		m = NewMetrics()
	}

	return &Dispatcher{
		version: version,
		devices: xsync.NewMapOf[int, *Entry](),
		logger:  l.With("component", "dispatcher"),
		metrics: m,
	}
}

// Metrics returns the metrics the dispatcher records into.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// Register adds a device under index.
func (d *Dispatcher) Register(index int, dev *device.Device, seq *sequence.Sequence) error {
	if dev == nil {
		return fmt.Errorf("register device %d: nil device", index)
	}

	if _, loaded := d.devices.LoadOrStore(index, &Entry{Device: dev, Sequence: seq}); loaded {
		return fmt.Errorf("register device %d: index already in use", index)
	}
	d.logger.Debug("device registered", "device", index, "serial", dev.Serial())

	return nil
}

// Unregister removes the device under index and returns it.
func (d *Dispatcher) Unregister(index int) (*Entry, bool) {
	return d.devices.LoadAndDelete(index)
}

// Lookup returns the device registered under index.
func (d *Dispatcher) Lookup(index int) (*Entry, bool) {
	return d.devices.Load(index)
}

// Len returns the number of registered devices.
func (d *Dispatcher) Len() int { return d.devices.Size() }

// Indices returns the registered device indices in ascending order.
func (d *Dispatcher) Indices() []int {
	indices := make([]int, 0, d.devices.Size())
	d.devices.Range(func(index int, _ *Entry) bool {
		indices = append(indices, index)
		return true
	})
	slices.Sort(indices)

	return indices
}

// Dispatch handles one request frame. Daemon commands are answered directly; every other
// command goes to the sequence or the device actor of the addressed device, which respond
// through c. Unknown devices, unknown commands and malformed parameters drop c.
func (d *Dispatcher) Dispatch(c Conn, f wire.Frame) {
	d.metrics.RequestCount.Add(1)

	if f.Command.IsDaemonCommand() {
		d.dispatchDaemon(c, f.Command)
		return
	}

	req, err := wire.ParseRequest(f)
	if err != nil {
		d.drop(c, f.Command, "malformed parameters", "error", err)
		return
	}

	e, ok := d.Lookup(req.DeviceIndex)
	if !ok {
		d.drop(c, req.Command, "unknown device", "device", req.DeviceIndex)
		return
	}

	var accepted bool
	switch {
	case req.Command.IsSequenceCommand():
		accepted = e.Sequence != nil && e.Sequence.Accept(c, req.Command, req.Args)
	case req.Command.IsDeviceCommand():
		accepted = e.Device.Accept(c, req.Command, req.Args)
	}

	if !accepted {
		d.drop(c, req.Command, "unknown command", "device", req.DeviceIndex)
	}
}

func (d *Dispatcher) dispatchDaemon(c Conn, cmd wire.Command) {
	switch cmd {
	case wire.CmdGetDaemonVersion:
		c.Respond(wire.OK(d.version))
	case wire.CmdGetDeviceCount:
		c.Respond(wire.OK(strconv.Itoa(d.Len())))
	case wire.CmdListDevices:
		c.Respond(wire.OK(d.listDevices()))
	default:
		d.drop(c, cmd, "unknown daemon command")
	}
}

// listDevices renders one "index serial model" line per device.
func (d *Dispatcher) listDevices() string {
	var sb strings.Builder
	for _, index := range d.Indices() {
		e, ok := d.Lookup(index)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%d %s %s\n", index, e.Device.Serial(), e.Device.Model())
	}

	return sb.String()
}

func (d *Dispatcher) drop(c Conn, cmd wire.Command, reason string, keyValues ...any) {
	d.logger.Debug("request dropped", append([]any{"command", cmd, "reason", reason}, keyValues...)...)
	c.Drop()
}
