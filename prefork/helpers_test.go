//go:build linux

package prefork

import (
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-prefork/api"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSink() *metrics.InmemSink {
	return metrics.NewInmemSink(10*time.Second, time.Minute)
}

func newTestMetrics(t *testing.T, sink metrics.MetricSink) *metrics.Metrics {
	t.Helper()
	m, err := newMetrics(&Config{MetricSink: sink})
	require.NoError(t, err)
	return m
}

// counterSum adds up a counter across intervals and label sets.
func counterSum(sink *metrics.InmemSink, key []string) float64 {
	name := "prefork." + strings.Join(key, ".")
	var sum float64
	for _, im := range sink.Data() {
		im.RLock()
		for k, v := range im.Counters {
			if k == name || strings.HasPrefix(k, name+";") {
				sum += v.Sum
			}
		}
		im.RUnlock()
	}
	return sum
}

// waitReadable blocks until fd is readable or fails the test.
func waitReadable(t *testing.T, fd int, timeout time.Duration) {
	t.Helper()
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := unix.Poll(pfd, 50)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		if n > 0 {
			return
		}
	}
	t.Fatalf("fd %d not readable after %s", fd, timeout)
}

func newTestListener(t *testing.T) *net.TCPListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.(*net.TCPListener)
}

func roundTrip(t *testing.T, addr string, msg string) {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(3*time.Second)))

	_, err = c.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	require.Equal(t, msg, string(buf))
}

// echoSession writes back whatever it reads.
type echoSession struct {
	loop api.Loop
	fd   int
}

func newEchoSession() api.Session { return &echoSession{} }

func (s *echoSession) Init(loop api.Loop, fd int, _ net.Addr) error {
	s.loop = loop
	s.fd = fd
	return nil
}

func (s *echoSession) Process() {
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(s.fd, buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return
		case err != nil || n == 0:
			_ = s.loop.Remove(s.fd)
			return
		}
		if _, err := unix.Write(s.fd, buf[:n]); err != nil {
			_ = s.loop.Remove(s.fd)
			return
		}
	}
}

type panicSession struct{}

func (panicSession) Init(api.Loop, int, net.Addr) error { return nil }
func (panicSession) Process()                           { panic("boom") }

type initPanicSession struct{}

func (initPanicSession) Init(api.Loop, int, net.Addr) error { panic("init boom") }
func (initPanicSession) Process()                           {}
