package redis

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg := parseConfig([]byte(`{}`))
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "6379", cfg.Port)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
}

func TestParseConfigOverrides(t *testing.T) {
	cfg := parseConfig([]byte(`{"host": "cache.internal", "port": "6380", "timeout": "250ms"}`))
	assert.Equal(t, "cache.internal", cfg.Host)
	assert.Equal(t, "6380", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
}

func TestParseConfigIgnoresUnparseableTimeout(t *testing.T) {
	cfg := parseConfig([]byte(`{"timeout": "not-a-duration"}`))
	assert.Equal(t, defaultTimeout, cfg.Timeout)
}

func TestImplementsLoadStartStopStatusOnly(t *testing.T) {
	b := &backend{}
	assert.True(t, b.Implements(types.ActionLoad))
	assert.True(t, b.Implements(types.ActionStart))
	assert.True(t, b.Implements(types.ActionStop))
	assert.True(t, b.Implements(types.ActionStatus))
	assert.False(t, b.Implements(types.ActionUnload))
}

type captureMonitor struct {
	states chan types.State
	errs   chan error
}

func newCaptureMonitor() *captureMonitor {
	return &captureMonitor{states: make(chan types.State, 4), errs: make(chan error, 4)}
}

func (m *captureMonitor) State(s types.State) { m.states <- s }
func (m *captureMonitor) Status(interface{})  {}
func (m *captureMonitor) Error(err error)     { m.errs <- err }

var _ interior.Monitor = (*captureMonitor)(nil)

// fakeRedisServer replies +PONG\r\n to any line it receives, enough to
// satisfy this interior's PING-only probe without a real redis-server.
func fakeRedisServer(t *testing.T) (addr string, closeFn func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					if _, err := r.ReadString('\n'); err != nil {
						return
					}
					if _, err := conn.Write([]byte("+PONG\r\n")); err != nil {
						return
					}
				}
			}()
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func TestStartAgainstLiveEndpointReportsRunning(t *testing.T) {
	addr, closeFn := fakeRedisServer(t)
	defer closeFn()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	mon := newCaptureMonitor()
	in, err := New(types.ID("r1"), []byte(`{"host": "`+host+`", "port": "`+port+`"}`), mon, logrus.StandardLogger())
	require.NoError(t, err)
	defer in.Close()

	in.Start(interior.Opts{})

	select {
	case s := <-mon.states:
		assert.Equal(t, types.Running, s)
	case err := <-mon.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("probe never reported")
	}
}

func TestStartAgainstUnreachableEndpointReportsError(t *testing.T) {
	mon := newCaptureMonitor()
	in, err := New(types.ID("r2"), []byte(`{"host": "127.0.0.1", "port": "1", "timeout": "100ms"}`), mon, logrus.StandardLogger())
	require.NoError(t, err)
	defer in.Close()

	in.Start(interior.Opts{})

	select {
	case err := <-mon.errs:
		assert.Error(t, err)
	case s := <-mon.states:
		t.Fatalf("expected an error, got state %q", s)
	case <-time.After(2 * time.Second):
		t.Fatal("probe never reported")
	}
}
