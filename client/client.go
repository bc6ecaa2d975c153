// Package client sends requests to a spectrometer daemon.
//
// Every call opens a new connection, writes one request frame and reads the response until
// the daemon closes the connection. A connection closed without any response means the
// daemon dropped the request: the device index or the command is unknown, or the parameters
// could not be decoded. Do reports that case as ErrNoResponse.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/wire"
)

// ErrNoResponse indicates that the daemon closed the connection without a response.
var ErrNoResponse = errors.New("request dropped by daemon")

// StatusError is the error of a response with a failure status.
type StatusError struct {
	Command wire.Command
	Status  wire.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Command, e.Status)
	}

	return fmt.Sprintf("%s: %s: %s", e.Command, e.Status, e.Message)
}

type clientConfig struct {
	dialTimeout time.Duration
	timeout     time.Duration
	maxPayload  int
	logger      logger.Logger
}

// Option represents a functional option for configuring a Client.
type Option interface {
	apply(*clientConfig) error
}

type optFunc struct {
	name      string
	applyFunc func(*clientConfig) error
}

func (o *optFunc) apply(cfg *clientConfig) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*clientConfig) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return newOptFunc("WithDialTimeout", func(cfg *clientConfig) error {
		if d <= 0 {
			return errors.New("dial timeout must be positive")
		}
		cfg.dialTimeout = d

		return nil
	})
}

// WithTimeout sets the time allowed for one exchange after the connection is established.
// Zero leaves the exchange bounded by the context only.
func WithTimeout(d time.Duration) Option {
	return newOptFunc("WithTimeout", func(cfg *clientConfig) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		cfg.timeout = d

		return nil
	})
}

// WithMaxPayload bounds the size of a response payload.
func WithMaxPayload(n int) Option {
	return newOptFunc("WithMaxPayload", func(cfg *clientConfig) error {
		if n <= 0 {
			return errors.New("max payload must be positive")
		}
		cfg.maxPayload = n

		return nil
	})
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *clientConfig) error {
		if l == nil {
			return errors.New("nil logger")
		}
		cfg.logger = l

		return nil
	})
}

// Client talks to the daemon at one address.
type Client struct {
	addr   string
	cfg    *clientConfig
	dialer net.Dialer
}

// New creates a client for the daemon listening at addr.
func New(addr string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		dialTimeout: 5 * time.Second,
		timeout:     30 * time.Second,
		maxPayload:  64 << 20,
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return &Client{
		addr:   addr,
		cfg:    cfg,
		dialer: net.Dialer{Timeout: cfg.dialTimeout},
	}, nil
}

// Addr returns the daemon address.
func (c *Client) Addr() string { return c.addr }

// Do sends cmd for device index with args and returns the response, whatever its status.
func (c *Client) Do(ctx context.Context, cmd wire.Command, index int, args string) (wire.Response, error) {
	b, err := wire.Request{Command: cmd, DeviceIndex: index, Args: args}.Encode()
	if err != nil {
		return wire.Response{}, err
	}

	nc, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return wire.Response{}, fmt.Errorf("%w: dial %s: %w", wire.ErrIO, c.addr, err)
	}
	defer nc.Close()

	deadline, ok := ctx.Deadline()
	if c.cfg.timeout > 0 {
		if d := time.Now().Add(c.cfg.timeout); !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}
	if ok {
		_ = nc.SetDeadline(deadline)
	}

	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
	defer stop()

	if _, err := nc.Write(b); err != nil {
		return wire.Response{}, fmt.Errorf("%w: write request: %w", wire.ErrIO, err)
	}

	resp, err := wire.ReadResponse(nc, c.cfg.maxPayload)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return wire.Response{}, fmt.Errorf("%s on device %d: %w", cmd, index, ErrNoResponse)
		}
		if ctx.Err() != nil {
			return wire.Response{}, ctx.Err()
		}

		return wire.Response{}, err
	}

	c.cfg.logger.Debug("response received", "command", cmd, "device", index, "status", resp.Status,
		"payload_size", len(resp.Payload))

	return resp, nil
}

// Call is Do with failure statuses reported as *StatusError.
func (c *Client) Call(ctx context.Context, cmd wire.Command, index int, args string) (wire.Response, error) {
	resp, err := c.Do(ctx, cmd, index, args)
	if err != nil {
		return resp, err
	}
	if resp.Status != wire.StatusSuccess {
		return resp, &StatusError{Command: cmd, Status: resp.Status, Message: resp.Text()}
	}

	return resp, nil
}

// Get returns the text payload of a successful response.
func (c *Client) Get(ctx context.Context, cmd wire.Command, index int, args string) (string, error) {
	resp, err := c.Call(ctx, cmd, index, args)
	if err != nil {
		return "", err
	}

	return resp.Text(), nil
}

// Int returns the payload of a successful response as an integer.
func (c *Client) Int(ctx context.Context, cmd wire.Command, index int, args string) (int, error) {
	text, err := c.Get(ctx, cmd, index, args)
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: %s returned %q", wire.ErrParameterDecode, cmd, text)
	}

	return n, nil
}

// Floats returns the bulk payload of a successful response as floating point values.
func (c *Client) Floats(ctx context.Context, cmd wire.Command, index int, args string) ([]float64, error) {
	resp, err := c.Call(ctx, cmd, index, args)
	if err != nil {
		return nil, err
	}

	body, err := resp.BulkBody()
	if err != nil {
		return nil, err
	}

	return wire.ParseFloats(body)
}

// Version returns the daemon version.
func (c *Client) Version(ctx context.Context) (string, error) {
	return c.Get(ctx, wire.CmdGetDaemonVersion, 0, "")
}

// DeviceCount returns the number of devices the daemon serves.
func (c *Client) DeviceCount(ctx context.Context) (int, error) {
	return c.Int(ctx, wire.CmdGetDeviceCount, 0, "")
}

// Spectrum acquires a spectrum on device index.
func (c *Client) Spectrum(ctx context.Context, index int) ([]float64, error) {
	return c.Floats(ctx, wire.CmdGetSpectrum, index, "")
}

// Wavelengths returns the wavelengths of device index.
func (c *Client) Wavelengths(ctx context.Context, index int) ([]float64, error) {
	return c.Floats(ctx, wire.CmdGetWavelengths, index, "")
}
