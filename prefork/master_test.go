//go:build linux

package prefork

import (
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-prefork/internal/ctrlchan"
	"github.com/momentics/hioload-prefork/internal/sigrelay"
)

type fakeSpawner struct {
	mu         sync.Mutex
	exits      []Exit
	terminated []int
}

func (f *fakeSpawner) Spawn(workerSpec) (int, error) {
	return 0, errors.New("not used")
}

func (f *fakeSpawner) Reap() ([]Exit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.exits
	f.exits = nil
	return out, nil
}

func (f *fakeSpawner) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	return nil
}

func (f *fakeSpawner) exit(pids ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pid := range pids {
		f.exits = append(f.exits, Exit{PID: pid, Status: "exit 0"})
	}
}

func (f *fakeSpawner) terminatedPIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.terminated...)
}

type masterFixture struct {
	m       *master
	sp      *fakeSpawner
	workers []*ctrlchan.Endpoint
}

// newMasterFixture builds a master over n in-memory workers with pids
// 100, 101, ...
func newMasterFixture(t *testing.T, n int, sink metrics.MetricSink) *masterFixture {
	t.Helper()
	relay, err := sigrelay.New()
	require.NoError(t, err)

	f := &masterFixture{sp: &fakeSpawner{}}
	r := newRoster(n)
	for i := 0; i < n; i++ {
		mc, wc, err := ctrlchan.NewPair()
		require.NoError(t, err)
		r.add(100+i, mc)
		f.workers = append(f.workers, wc)
	}
	f.m = &master{
		log:       discardLog(),
		metrics:   newTestMetrics(t, sink),
		roster:    r,
		spawner:   f.sp,
		relay:     relay,
		lnFD:      -1,
		maxEvents: 16,
	}
	t.Cleanup(func() {
		r.closeAll()
		_ = relay.Close()
		for _, w := range f.workers {
			_ = w.Close()
		}
	})
	return f
}

func tokens(t *testing.T, ep *ctrlchan.Endpoint) int {
	t.Helper()
	buf := make([]byte, 64)
	total := 0
	for {
		n, err := ep.Recv(buf)
		if err != nil {
			return total
		}
		for _, b := range buf[:n] {
			require.Equal(t, ctrlchan.TokenAccept, b)
		}
		total += n
	}
}

func TestDispatchRoundRobin(t *testing.T) {
	sink := newTestSink()
	f := newMasterFixture(t, 3, sink)

	var got []int
	for i := 0; i < 5; i++ {
		got = append(got, f.m.dispatch())
	}
	require.Equal(t, []int{0, 1, 2, 0, 1}, got)
	require.Equal(t, 2, tokens(t, f.workers[0]))
	require.Equal(t, 2, tokens(t, f.workers[1]))
	require.Equal(t, 1, tokens(t, f.workers[2]))
	require.EqualValues(t, 5, f.m.dispatched.Load())
	require.EqualValues(t, 5, counterSum(sink, MetricDispatchCount))
}

func TestDispatchSkipsDeadWorker(t *testing.T) {
	f := newMasterFixture(t, 3, newTestSink())
	f.sp.exit(101)
	require.True(t, f.m.relay.Inject(syscall.SIGCHLD))
	f.m.onSignals(f.m.relay.FD(), 0)
	require.False(t, f.m.stop)

	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, f.m.dispatch())
	}
	require.Equal(t, []int{0, 2, 0, 2}, got)

	// the dead worker's channel was closed by the master
	_, err := f.workers[1].Recv(make([]byte, 4))
	require.ErrorIs(t, err, io.EOF)
}

func TestDispatchWithoutLiveWorkerStops(t *testing.T) {
	sink := newTestSink()
	f := newMasterFixture(t, 2, sink)
	f.m.roster.markDead(100)
	f.m.roster.markDead(101)

	require.Equal(t, -1, f.m.dispatch())
	require.True(t, f.m.stop)
	require.EqualValues(t, 1, counterSum(sink, MetricDispatchDropCount))
	require.EqualValues(t, 0, f.m.dispatched.Load())
}

func TestTerminateReachesEachLiveWorkerOnce(t *testing.T) {
	sink := newTestSink()
	f := newMasterFixture(t, 3, sink)
	f.m.roster.markDead(101)

	require.True(t, f.m.relay.Inject(syscall.SIGTERM))
	f.m.onSignals(f.m.relay.FD(), 0)

	require.Equal(t, []int{100, 102}, f.sp.terminatedPIDs())
	require.False(t, f.m.stop, "the master waits for the exits")
	require.EqualValues(t, 2, counterSum(sink, MetricWorkerTermCount))
}

func TestReapStopsWhenAllExited(t *testing.T) {
	sink := newTestSink()
	f := newMasterFixture(t, 2, sink)

	f.sp.exit(100)
	f.m.relay.Inject(syscall.SIGCHLD)
	f.m.onSignals(f.m.relay.FD(), 0)
	require.False(t, f.m.stop)
	require.Equal(t, 1, f.m.roster.liveCount())

	// duplicates and strangers are ignored
	f.sp.exit(100, 4242, 101)
	f.m.relay.Inject(syscall.SIGCHLD)
	f.m.onSignals(f.m.relay.FD(), 0)
	require.True(t, f.m.stop)
	require.EqualValues(t, 2, counterSum(sink, MetricWorkerExitCount))
}

func TestMasterRunDispatchesConnections(t *testing.T) {
	ln := newTestListener(t)
	lnFile, err := ln.File()
	require.NoError(t, err)
	defer lnFile.Close()

	f := newMasterFixture(t, 2, newTestSink())
	f.m.lnFD = int(lnFile.Fd())

	done := make(chan error, 1)
	go func() { done <- f.m.run() }()

	c, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	waitReadable(t, f.workers[0].FD(), 3*time.Second)
	require.Equal(t, 1, tokens(t, f.workers[0]))

	f.sp.exit(100, 101)
	require.True(t, f.m.relay.Inject(syscall.SIGCHLD))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("master did not stop")
	}
	require.True(t, f.m.roster.allDead())
}

func TestMasterSendsOneTokenPerListenerEdge(t *testing.T) {
	ln := newTestListener(t)
	lnFile, err := ln.File()
	require.NoError(t, err)
	defer lnFile.Close()

	// a burst already in the backlog raises a single edge at registration
	for i := 0; i < 4; i++ {
		c, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
		require.NoError(t, err)
		defer c.Close()
	}
	time.Sleep(50 * time.Millisecond)

	f := newMasterFixture(t, 2, newTestSink())
	f.m.lnFD = int(lnFile.Fd())
	done := make(chan error, 1)
	go func() { done <- f.m.run() }()

	waitReadable(t, f.workers[0].FD(), 3*time.Second)
	require.Never(t, func() bool { return f.m.dispatched.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, 1, tokens(t, f.workers[0]))
	require.Zero(t, tokens(t, f.workers[1]))

	f.sp.exit(100, 101)
	require.True(t, f.m.relay.Inject(syscall.SIGCHLD))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("master did not stop")
	}
}
