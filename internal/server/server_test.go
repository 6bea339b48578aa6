package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"commerce-service/internal/handler"
	"commerce-service/internal/presence"
	metrics "commerce-service/prometheus"
)

type running struct {
	addr    string
	metrics *metrics.Metrics
	cancel  context.CancelFunc
	stopped chan struct{}
	err     error
}

func start(t *testing.T, cfg Config) *running {
	t.Helper()
	log := zap.NewNop()
	m := metrics.New("test", prometheus.NewRegistry())
	reg := presence.NewRegistry(log, m.OnlineUsers)
	t.Cleanup(reg.Close)

	h := handler.New(handler.Deps{Presence: reg, Metrics: m, Log: log})
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, h, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{metrics: m, cancel: cancel, stopped: make(chan struct{})}
	go func() {
		r.err = srv.ListenAndServe(ctx)
		close(r.stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-r.stopped
	})

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	addr, err := srv.Addr(waitCtx)
	require.NoError(t, err)
	r.addr = addr.String()
	return r
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	require.NoError(t, nc.SetDeadline(time.Now().Add(5*time.Second)))
	return nc, bufio.NewReader(nc)
}

func readFrame(t *testing.T, r *bufio.Reader) map[string]any {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var f map[string]any
	require.NoError(t, json.Unmarshal(line, &f))
	return f
}

func TestFramesAreAnsweredInOrder(t *testing.T) {
	srv := start(t, Config{})
	nc, r := dial(t, srv.addr)

	_, err := nc.Write([]byte("{\"type\":\"ping\"}\r\n\nnot json\n{\"type\":\"nope\"}\n"))
	require.NoError(t, err)

	assert.Equal(t, "pong", readFrame(t, r)["type"])

	f := readFrame(t, r)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, 1001.0, f["code"])

	f = readFrame(t, r)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, 1002.0, f["code"])

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.OpenConnections))
}

func TestOversizeFrameClosesConnection(t *testing.T) {
	srv := start(t, Config{MaxFrameBytes: 64})
	nc, r := dial(t, srv.addr)

	_, err := nc.Write([]byte("{\"type\":\"ping\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, "pong", readFrame(t, r)["type"])

	_, err = nc.Write([]byte(`{"type":"search","keyword":"` + strings.Repeat("x", 100) + "\"}\n"))
	require.NoError(t, err)

	_, err = r.ReadBytes('\n')
	assert.Error(t, err, "connection should be closed")
}

func TestShutdownClosesConnections(t *testing.T) {
	srv := start(t, Config{})
	_, r := dial(t, srv.addr)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(srv.metrics.OpenConnections) == 1
	}, 5*time.Second, 10*time.Millisecond)

	srv.cancel()
	select {
	case <-srv.stopped:
		assert.NoError(t, srv.err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err := r.ReadBytes('\n')
	assert.Error(t, err)
	assert.Zero(t, testutil.ToFloat64(srv.metrics.OpenConnections))
}

func TestPushDropsWhenQueueIsFull(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	server, client := net.Pipe()
	defer client.Close()

	c := newConn("c1", server, 1, m, zap.NewNop())
	defer c.close()

	assert.True(t, c.Push([]byte(`{"type":"a"}`)))
	assert.False(t, c.Push([]byte(`{"type":"b"}`)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedPushes))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Reply(ctx, []byte(`{"type":"c"}`)), context.DeadlineExceeded)

	go c.writeLoop()
	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"a\"}\n", line)

	c.close()
	assert.False(t, c.Push([]byte(`{"type":"d"}`)))
	assert.ErrorIs(t, c.Reply(context.Background(), []byte(`{"type":"e"}`)), ErrConnClosed)
}

func TestQueuedRepliesReachHalfClosedPeer(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	server, client := net.Pipe()
	defer client.Close()

	c := newConn("c1", server, 4, m, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, c.Reply(ctx, []byte(`{"type":"a"}`)))
	require.NoError(t, c.Reply(ctx, []byte(`{"type":"b"}`)))
	go c.writeLoop()

	finished := make(chan struct{})
	go func() {
		c.finish()
		close(finished)
	}()

	r := bufio.NewReader(client)
	for _, want := range []string{"{\"type\":\"a\"}\n", "{\"type\":\"b\"}\n"} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := r.ReadString('\n')
	assert.Error(t, err, "socket should be closed after the queue is drained")

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("finish did not return")
	}
	assert.ErrorIs(t, c.Reply(ctx, []byte(`{"type":"c"}`)), ErrConnClosed)
}
