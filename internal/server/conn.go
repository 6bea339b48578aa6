package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	metrics "commerce-service/prometheus"
)

// ErrConnClosed is returned by Reply once the connection is shut down
var ErrConnClosed = errors.New("connection closed")

// drainTimeout bounds how long queued frames may take to reach a peer that stopped sending
const drainTimeout = 5 * time.Second

// conn is one client socket with its outbound queue
type conn struct {
	id      string
	nc      net.Conn
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	drain   chan struct{}
	drained sync.Once
	stopped chan struct{}
	metrics *metrics.Metrics
	log     *zap.Logger
}

func newConn(id string, nc net.Conn, buffer int, m *metrics.Metrics, log *zap.Logger) *conn {
	return &conn{
		id:      id,
		nc:      nc,
		out:     make(chan []byte, buffer),
		done:    make(chan struct{}),
		drain:   make(chan struct{}),
		stopped: make(chan struct{}),
		metrics: m,
		log:     log,
	}
}

func (c *conn) ID() string { return c.id }

// Push enqueues a frame for another party without waiting; a full queue drops it
func (c *conn) Push(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		c.metrics.DroppedPushes.Inc()
		c.log.Warn("Outbound queue full, dropped push", zap.Int("bytes", len(frame)))
		return false
	}
}

// Reply enqueues a response of this connection, waiting for room in the queue
func (c *conn) Reply(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop drains the queue onto the socket, one frame per line
func (c *conn) writeLoop() {
	defer close(c.stopped)
	w := bufio.NewWriter(c.nc)
	for {
		select {
		case frame := <-c.out:
			if err := writeFrame(w, frame); err != nil {
				c.log.Debug("Write failed", zap.Error(err))
				c.close()
				return
			}
			if len(c.out) == 0 {
				if err := w.Flush(); err != nil {
					c.log.Debug("Flush failed", zap.Error(err))
					c.close()
					return
				}
			}
		case <-c.drain:
			c.flushQueued(w)
			c.close()
			return
		case <-c.done:
			return
		}
	}
}

// flushQueued writes whatever is still queued
func (c *conn) flushQueued(w *bufio.Writer) {
	for {
		select {
		case frame := <-c.out:
			if err := writeFrame(w, frame); err != nil {
				c.log.Debug("Write failed while draining", zap.Error(err))
				return
			}
		default:
			if err := w.Flush(); err != nil {
				c.log.Debug("Flush failed while draining", zap.Error(err))
			}
			return
		}
	}
}

// finish lets the writer send what is queued, then closes the socket and waits for the writer
func (c *conn) finish() {
	// a peer that stopped reading must not hold the writer forever
	if err := c.nc.SetWriteDeadline(time.Now().Add(drainTimeout)); err != nil {
		c.log.Debug("Set write deadline failed", zap.Error(err))
	}
	c.drained.Do(func() { close(c.drain) })
	<-c.stopped
}

func writeFrame(w *bufio.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// close shuts the socket down; safe to call more than once
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.nc.Close()
	})
}
