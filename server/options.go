package server

import (
	"errors"
	"time"

	"github.com/arloliu/go-spectrad/logger"
)

// serverConfig holds the settings of a Server.
type serverConfig struct {
	// readTimeout bounds reading one request. Zero disables it.
	readTimeout time.Duration
	// writeTimeout bounds writing one response. Zero disables it.
	writeTimeout time.Duration
	// closeTimeout bounds waiting for in-flight exchanges in Close.
	closeTimeout time.Duration
	logger       logger.Logger
	metrics      *Metrics
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		readTimeout:  10 * time.Second,
		writeTimeout: 10 * time.Second,
		closeTimeout: 30 * time.Second,
		logger:       logger.GetLogger(),
	}
}

// Option represents a functional option for configuring a Server.
type Option interface {
	apply(*serverConfig) error
}

type optFunc struct {
	name      string
	applyFunc func(*serverConfig) error
}

func (o *optFunc) apply(cfg *serverConfig) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*serverConfig) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

var errNegativeTimeout = errors.New("timeout must not be negative")

// WithReadTimeout sets the time allowed to read a request after the connection is accepted.
func WithReadTimeout(d time.Duration) Option {
	return newOptFunc("WithReadTimeout", func(cfg *serverConfig) error {
		if d < 0 {
			return errNegativeTimeout
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the time allowed to write a response.
func WithWriteTimeout(d time.Duration) Option {
	return newOptFunc("WithWriteTimeout", func(cfg *serverConfig) error {
		if d < 0 {
			return errNegativeTimeout
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for in-flight exchanges.
func WithCloseTimeout(d time.Duration) Option {
	return newOptFunc("WithCloseTimeout", func(cfg *serverConfig) error {
		if d <= 0 {
			return errors.New("close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *serverConfig) error {
		if l == nil {
			return errors.New("nil logger")
		}
		cfg.logger = l

		return nil
	})
}

// WithMetrics makes the server record into m instead of its own metrics.
func WithMetrics(m *Metrics) Option {
	return newOptFunc("WithMetrics", func(cfg *serverConfig) error {
		if m == nil {
			return errors.New("nil metrics")
		}
		cfg.metrics = m

		return nil
	})
}
