package filemgr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/sequence"
)

// Publisher fans acquisitions out to other consumers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Message is the published form of one acquisition.
type Message struct {
	RunID           string    `json:"run_id"`
	Device          int       `json:"device"`
	Serial          string    `json:"serial"`
	Index           int       `json:"index"`
	ElapsedMillis   int64     `json:"elapsed_ms"`
	Time            time.Time `json:"time"`
	IntegrationTime uint32    `json:"integration_time_us"`
	ScansToAverage  int       `json:"scans_to_average"`
	BoxcarWidth     int       `json:"boxcar_width"`
	File            string    `json:"file,omitempty"`
	Spectrum        []float64 `json:"spectrum"`
}

// NewMessage builds the message of acq written to file.
func NewMessage(acq sequence.Acquisition, file string) Message {
	return Message{
		RunID:           acq.RunID,
		Device:          acq.DeviceIndex,
		Serial:          acq.Serial,
		Index:           acq.Index,
		ElapsedMillis:   acq.ElapsedMillis,
		Time:            acq.Time,
		IntegrationTime: acq.IntegrationTime,
		ScansToAverage:  acq.ScansToAverage,
		BoxcarWidth:     acq.BoxcarWidth,
		File:            file,
		Spectrum:        acq.Spectrum,
	}
}

// RedisOptions configures a RedisPublisher.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// Channel is the pub/sub channel every acquisition is published to.
	Channel string
	// HistoryLen, when positive, also keeps the latest acquisitions of each device in a list
	// named spectrad:<serial>:acquisitions.
	HistoryLen int64
	// MaxRetries is passed to the redis client; -1 disables retries.
	MaxRetries int
	Logger     logger.Logger
}

// RedisPublisher publishes acquisitions as JSON to a redis channel.
type RedisPublisher struct {
	client     *redis.Client
	channel    string
	historyLen int64
	logger     logger.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to redis and verifies the connection with a PING.
func NewRedisPublisher(ctx context.Context, opts RedisOptions) (*RedisPublisher, error) {
	l := opts.Logger
	if l == nil {
		l = logger.GetLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		PoolSize:   opts.PoolSize,
		MaxRetries: opts.MaxRetries,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	p := &RedisPublisher{
		client:     client,
		channel:    opts.Channel,
		historyLen: opts.HistoryLen,
		logger:     l.With("component", "redis-publisher", "channel", opts.Channel),
	}
	p.logger.Info("redis publisher connected", "addr", opts.Addr)

	return p, nil
}

// Publish sends msg to the channel and, when history is enabled, to the device list.
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode acquisition: %w", err)
	}

	if p.historyLen <= 0 {
		if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
			return fmt.Errorf("publish acquisition: %w", err)
		}

		return nil
	}

	key := HistoryKey(msg.Serial)
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, p.historyLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish acquisition: %w", err)
	}

	return nil
}

// Close closes the redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// HistoryKey returns the list key holding the latest acquisitions of a device.
func HistoryKey(serial string) string {
	return "spectrad:" + serial + ":acquisitions"
}
