package repl

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeConn records everything the master writes to a replica.
type fakeConn struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

func (f *fakeConn) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, b...)
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake:0" }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) contents() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.buf)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func testMaster(t *testing.T, snapshot []byte) (*Master, chan struct{}) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.rdb")
	if err := os.WriteFile(path, snapshot, 0644); err != nil {
		t.Fatal(err)
	}
	triggered := make(chan struct{}, 4)
	m := NewMaster()
	m.TriggerSnapshot = func() { triggered <- struct{}{} }
	m.SnapshotPath = func() string { return path }
	return m, triggered
}

func TestSyncStartsSnapshotAndStreams(t *testing.T) {
	m, triggered := testMaster(t, []byte("SNAPSHOTDATA"))
	conn := &fakeConn{}
	m.HandleSync(conn)
	select {
	case <-triggered:
	case <-time.After(time.Second):
		t.Fatal("the first SYNC must trigger a snapshot")
	}

	// a mutation arriving while the snapshot runs is queued for after
	// the bulk transfer
	m.Feed(0, [][]byte{[]byte("SET"), []byte("k"), []byte("v")})
	m.SnapshotDone(true)

	waitFor(t, func() bool {
		got := conn.contents()
		return strings.HasPrefix(got, "$12\r\nSNAPSHOTDATA") && strings.Contains(got, "SET")
	})
	// the queued frame must carry its SELECT prefix
	if !strings.Contains(conn.contents(), "SELECT") {
		t.Error("the first fed mutation must be preceded by a synthesized SELECT")
	}
}

func TestJoiningReplicaCopiesQueue(t *testing.T) {
	m, triggered := testMaster(t, []byte("X"))
	first := &fakeConn{}
	m.HandleSync(first)
	<-triggered

	m.Feed(0, [][]byte{[]byte("SET"), []byte("a"), []byte("1")})

	// the second replica joins the in-flight snapshot and inherits the
	// accumulated queue
	second := &fakeConn{}
	m.HandleSync(second)
	m.Feed(0, [][]byte{[]byte("SET"), []byte("b"), []byte("2")})
	m.SnapshotDone(true)

	waitFor(t, func() bool {
		got := second.contents()
		return strings.Contains(got, "a") && strings.Contains(got, "b")
	})
}

func TestLateReplicaWaitsForNextCycle(t *testing.T) {
	m, triggered := testMaster(t, []byte("X"))
	first := &fakeConn{}
	m.HandleSync(first)
	<-triggered
	// force the "no WaitSnapshotEnd peer" path: promote the first
	// replica out of WaitSnapshotEnd before the newcomer arrives
	m.SnapshotDone(true)
	waitFor(t, func() bool { return strings.HasPrefix(first.contents(), "$1\r\n") })

	second := &fakeConn{}
	m.mu.Lock()
	m.snapshotRunning = true
	m.mu.Unlock()
	m.HandleSync(second)

	// while waiting for the snapshot to start, mutations are
	// suppressed for the newcomer
	m.Feed(0, [][]byte{[]byte("SET"), []byte("hidden"), []byte("1")})
	if strings.Contains(second.contents(), "hidden") {
		t.Error("a WaitSnapshotStart replica must not receive the live stream")
	}

	// the cycle ends; the newcomer is promoted and a fresh snapshot is
	// triggered for it
	m.SnapshotDone(true)
	select {
	case <-triggered:
	case <-time.After(time.Second):
		t.Fatal("a queued replica must trigger the next snapshot cycle")
	}
}

func TestSnapshotFailureDisconnectsWaiters(t *testing.T) {
	m, triggered := testMaster(t, []byte("X"))
	conn := &fakeConn{}
	m.HandleSync(conn)
	<-triggered
	m.SnapshotDone(false)
	if !conn.closed {
		t.Error("a failed snapshot must disconnect replicas waiting on it")
	}
	if m.ReplicaCount() != 0 {
		t.Error("disconnected replicas must be forgotten")
	}
}
