// Package repl implements master→replica replication (spec.md §4.I).
// The master side tracks each replica through the
// WaitSnapshotStart → WaitSnapshotEnd → SendBulk → Online progression:
// a SYNC either rides an already-running snapshot (joining the
// accumulated reply queue of a replica that started with it) or waits
// for the next cycle; once the snapshot lands, the file is streamed in
// chunks and the queued live mutations follow. The replica side is a
// reconnect loop that performs the inverse handshake.
package repl

import (
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/nyxkv/corekv/internal/logger"
	"github.com/nyxkv/corekv/internal/resp"
)

// Conn is the subset of a client connection the master needs to feed
// a replica.
type Conn interface {
	Write(b []byte) error
	RemoteAddr() string
	Close() error
}

// ReplicaState is a replica's position in the full-sync protocol.
type ReplicaState int

const (
	WaitSnapshotStart ReplicaState = iota
	WaitSnapshotEnd
	SendBulk
	Online
)

// bulkChunkSize is how much of the snapshot file is written to a
// replica per send while in SendBulk.
const bulkChunkSize = 64 * 1024

type replicaHandle struct {
	conn      Conn
	state     ReplicaState
	queue     [][]byte // pending live-stream frames
	currentDB int
	cond      *sync.Cond
	closed    bool
}

// Master fans executed mutations out to connected replicas.
type Master struct {
	mu       sync.Mutex
	replicas []*replicaHandle

	snapshotRunning bool
	runID           string

	// TriggerSnapshot schedules a background snapshot on the event
	// loop; SnapshotPath names the file SnapshotDone will stream.
	// Both are installed by the owning server.
	TriggerSnapshot func()
	SnapshotPath    func() string
}

func NewMaster() *Master {
	return &Master{runID: uuid.NewString()}
}

// RunID identifies the current replication epoch; it is regenerated
// on each snapshot cycle and surfaced through INFO.
func (m *Master) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// ReplicaCount reports the number of attached replicas.
func (m *Master) ReplicaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replicas)
}

// HandleSync admits a new replica per spec.md §4.I's master-side
// rules: start a snapshot if none is running; join a compatible
// in-flight one by copying a WaitSnapshotEnd replica's queue; or park
// until the next cycle.
func (m *Master) HandleSync(conn Conn) {
	m.mu.Lock()
	r := &replicaHandle{conn: conn, currentDB: -1}
	r.cond = sync.NewCond(&m.mu)

	if !m.snapshotRunning {
		m.snapshotRunning = true
		m.runID = uuid.NewString()
		r.state = WaitSnapshotEnd
		m.replicas = append(m.replicas, r)
		m.mu.Unlock()
		logger.Info("repl: replica %s attached, starting snapshot", conn.RemoteAddr())
		m.TriggerSnapshot()
		return
	}
	for _, other := range m.replicas {
		if other.state == WaitSnapshotEnd {
			r.state = WaitSnapshotEnd
			r.queue = append([][]byte(nil), other.queue...)
			m.replicas = append(m.replicas, r)
			m.mu.Unlock()
			logger.Info("repl: replica %s joined in-flight snapshot", conn.RemoteAddr())
			return
		}
	}
	r.state = WaitSnapshotStart
	m.replicas = append(m.replicas, r)
	m.mu.Unlock()
	logger.Info("repl: replica %s queued for next snapshot cycle", conn.RemoteAddr())
}

// Feed appends one executed mutation to every replica that should see
// it: WaitSnapshotEnd replicas accumulate it for after their bulk
// transfer, SendBulk/Online replicas queue it for transmission;
// WaitSnapshotStart replicas are suppressed (their snapshot hasn't
// started, so the command will be inside it). A SELECT is synthesized
// per replica whenever the target db changes (spec.md §4.E).
func (m *Master) Feed(dbIndex int, cmdLine [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.replicas {
		if r.closed || r.state == WaitSnapshotStart {
			continue
		}
		if r.currentDB != dbIndex {
			selectCmd := resp.MakeMultiBulkReply([][]byte{
				[]byte("SELECT"),
				[]byte(itoa(dbIndex)),
			}).ToBytes()
			r.queue = append(r.queue, selectCmd)
			r.currentDB = dbIndex
		}
		r.queue = append(r.queue, resp.MakeMultiBulkReply(cmdLine).ToBytes())
		r.cond.Signal()
	}
}

// SnapshotDone reacts to the background snapshot finishing: on
// success every WaitSnapshotEnd replica moves to SendBulk and starts
// streaming; on failure they are disconnected as sync-failures
// (spec.md §7). WaitSnapshotStart replicas are promoted into the next
// cycle, which is started immediately if any were waiting.
func (m *Master) SnapshotDone(ok bool) {
	m.mu.Lock()
	var startNext bool
	m.snapshotRunning = false
	for _, r := range m.replicas {
		switch r.state {
		case WaitSnapshotEnd:
			if !ok {
				r.closed = true
				_ = r.conn.Close()
				continue
			}
			r.state = SendBulk
			go m.streamBulk(r)
		case WaitSnapshotStart:
			r.state = WaitSnapshotEnd
			startNext = true
		}
	}
	m.compactLocked()
	if startNext {
		m.snapshotRunning = true
		m.runID = uuid.NewString()
	}
	m.mu.Unlock()
	if startNext {
		m.TriggerSnapshot()
	}
}

// streamBulk sends "$<n>\r\n" + the snapshot file in chunks, then
// drains the replica's queue forever, blocking on the cond when it
// runs dry. Runs on its own goroutine per replica; ordering within a
// replica is preserved because only this goroutine writes to it after
// SendBulk begins.
func (m *Master) streamBulk(r *replicaHandle) {
	path := m.SnapshotPath()
	file, err := os.Open(path)
	if err != nil {
		logger.Error("repl: open snapshot for %s: %v", r.conn.RemoteAddr(), err)
		m.dropReplica(r)
		return
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		m.dropReplica(r)
		return
	}
	header := "$" + itoa64(stat.Size()) + resp.CRLF
	if err := r.conn.Write([]byte(header)); err != nil {
		file.Close()
		m.dropReplica(r)
		return
	}
	buf := make([]byte, bulkChunkSize)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			if werr := r.conn.Write(buf[:n]); werr != nil {
				file.Close()
				m.dropReplica(r)
				return
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			file.Close()
			m.dropReplica(r)
			return
		}
	}
	file.Close()

	m.mu.Lock()
	r.state = Online
	m.mu.Unlock()
	logger.Info("repl: replica %s online", r.conn.RemoteAddr())

	for {
		m.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if r.closed {
			m.mu.Unlock()
			return
		}
		pending := r.queue
		r.queue = nil
		m.mu.Unlock()
		for _, frame := range pending {
			if err := r.conn.Write(frame); err != nil {
				m.dropReplica(r)
				return
			}
		}
	}
}

func (m *Master) dropReplica(r *replicaHandle) {
	m.mu.Lock()
	r.closed = true
	r.cond.Signal()
	_ = r.conn.Close()
	m.compactLocked()
	m.mu.Unlock()
}

func (m *Master) compactLocked() {
	out := m.replicas[:0]
	for _, r := range m.replicas {
		if !r.closed {
			out = append(out, r)
		}
	}
	m.replicas = out
}

// Detach closes and forgets a replica whose connection went away.
func (m *Master) Detach(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.replicas {
		if r.conn == conn {
			r.closed = true
			r.cond.Signal()
		}
	}
	m.compactLocked()
}

func itoa(n int) string {
	return itoa64(int64(n))
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
