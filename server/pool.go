package server

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-spectrad/internal/queue"
	"github.com/arloliu/go-spectrad/wire"
)

// Conn is one accepted request/response exchange as seen by the dispatcher.
type Conn interface {
	wire.Responder
	// Drop closes the connection without writing a response.
	Drop()
}

// Connection wraps one accepted socket. After the exchange it is returned to its pool
// and reused for a later socket.
type Connection struct {
	live    atomic.Uint64 // id of the exchange that may still answer, zero once answered
	conn    net.Conn
	hdr     [wire.HeaderSize]byte
	pool    *Pool
	release func(c *Connection)

	writeTimeout time.Duration
	metrics      *Metrics
}

// Exchange is the handle of one request/response exchange on a pooled Connection.
// It stays bound to its exchange after the Connection is recycled.
type Exchange struct {
	c  *Connection
	id uint64
}

var _ Conn = Exchange{}

// ID returns the sequence number of the exchange.
func (e Exchange) ID() uint64 { return e.id }

// Respond writes resp, closes the socket and returns the connection to its pool.
// Calls after the first one, and calls once the connection serves another exchange,
// are ignored.
func (e Exchange) Respond(resp wire.Response) {
	c := e.c
	if !c.live.CompareAndSwap(e.id, 0) {
		return
	}

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	n, err := resp.WriteTo(c.conn)
	c.metrics.BytesWritten.Add(uint64(n)) //nolint:gosec // n is never negative
	if err != nil {
		c.metrics.WriteErrCount.Add(1)
	} else {
		c.metrics.ResponseCount.Add(1)
		if resp.Status != wire.StatusSuccess {
			c.metrics.ResponseFailed.Add(1)
		}
	}

	c.finish()
}

// Drop closes the socket without a response and returns the connection to its pool.
// It is ignored once the exchange has been answered.
func (e Exchange) Drop() {
	c := e.c
	if !c.live.CompareAndSwap(e.id, 0) {
		return
	}

	c.metrics.RequestDropped.Add(1)
	c.finish()
}

func (c *Connection) finish() {
	_ = c.conn.Close()

	release := c.release
	c.pool.put(c)
	if release != nil {
		release(c)
	}
}

// Pool recycles Connection wrappers in FIFO order.
type Pool struct {
	idle    queue.Queue[*Connection]
	nextID  atomic.Uint64
	created atomic.Uint64
	reused  atomic.Uint64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{idle: queue.NewLockFreeQueue[*Connection]()}
}

// Get wraps nc in an idle connection, allocating one if none is idle, and returns the
// handle of the new exchange.
func (p *Pool) Get(nc net.Conn, writeTimeout time.Duration, m *Metrics, release func(c *Connection)) Exchange {
	c, ok := p.idle.Dequeue()
	if ok {
		p.reused.Add(1)
	} else {
		c = &Connection{pool: p}
		p.created.Add(1)
	}

	id := p.nextID.Add(1)
	c.conn = nc
	c.writeTimeout = writeTimeout
	c.metrics = m
	c.release = release
	c.live.Store(id)

	return Exchange{c: c, id: id}
}

func (p *Pool) put(c *Connection) {
	c.conn = nil
	c.release = nil
	p.idle.Enqueue(c)
}

// Idle returns the number of pooled connections.
func (p *Pool) Idle() int { return p.idle.Length() }

// Created returns the number of connections allocated.
func (p *Pool) Created() uint64 { return p.created.Load() }

// Reused returns the number of times an idle connection was reused.
func (p *Pool) Reused() uint64 { return p.reused.Load() }
