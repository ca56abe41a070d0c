package repl

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/nyxkv/corekv/internal/logger"
	"github.com/nyxkv/corekv/internal/resp"
)

// ReplState is the replica side's connection state (spec.md §4.I).
type ReplState int

const (
	ReplNone ReplState = iota
	ReplConnect
	ReplConnecting
	ReplConnected
)

// Replica runs this server's replica role: dial the master on each
// cron tick while in Connect, perform AUTH+SYNC, load the streamed
// snapshot, then treat the master's connection as just another
// command source.
type Replica struct {
	mu         sync.Mutex
	state      ReplState
	masterHost string
	masterPort int
	masterAuth string
	conn       net.Conn

	// Dir is where the temp snapshot file is written before handing
	// it to LoadSnapshot.
	Dir string

	// LoadSnapshot empties the local keyspace and loads the snapshot
	// file; Exec runs one master-stream command on the event loop.
	// Both installed by the owning server.
	LoadSnapshot func(path string) error
	Exec         func(cmdLine [][]byte)
}

func NewReplica(dir string) *Replica {
	return &Replica{Dir: dir}
}

// SetMaster points this server at a master (SLAVEOF host port).
func (r *Replica) SetMaster(host string, port int, auth string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.masterHost = host
	r.masterPort = port
	r.masterAuth = auth
	r.state = ReplConnect
}

// Unset detaches from the master (SLAVEOF NO ONE).
func (r *Replica) Unset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.state = ReplNone
}

// State reports the current replica state.
func (r *Replica) State() ReplState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CronTick is called once per server cron cycle: while in Connect it
// launches one connection attempt (spec.md §4.I "on each loop tick it
// tries to establish TCP to the master").
func (r *Replica) CronTick() {
	r.mu.Lock()
	if r.state != ReplConnect {
		r.mu.Unlock()
		return
	}
	r.state = ReplConnecting
	host, port, auth := r.masterHost, r.masterPort, r.masterAuth
	r.mu.Unlock()
	go r.syncWithMaster(host, port, auth)
}

// syncWithMaster performs the full handshake: optional AUTH, SYNC,
// bulk snapshot transfer, load, then the endless live stream.
func (r *Replica) syncWithMaster(host string, port int, auth string) {
	fail := func(err error) {
		logger.Warn("repl: sync with %s:%d failed: %v", host, port, err)
		r.mu.Lock()
		if r.conn != nil {
			_ = r.conn.Close()
			r.conn = nil
		}
		if r.state != ReplNone {
			r.state = ReplConnect
		}
		r.mu.Unlock()
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		fail(err)
		return
	}
	r.mu.Lock()
	if r.state == ReplNone {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	r.conn = conn
	r.mu.Unlock()

	reader := bufio.NewReader(conn)
	if auth != "" {
		if _, err := conn.Write([]byte("AUTH " + auth + resp.CRLF)); err != nil {
			fail(err)
			return
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			fail(err)
			return
		}
		if len(line) == 0 || line[0] != '+' {
			fail(fmt.Errorf("master refused AUTH: %q", line))
			return
		}
	}

	if _, err := conn.Write([]byte("SYNC" + resp.CRLF)); err != nil {
		fail(err)
		return
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		fail(err)
		return
	}
	if len(line) < 4 || line[0] != '$' {
		fail(fmt.Errorf("bad bulk header %q", line))
		return
	}
	size, err := strconv.ParseInt(line[1:len(line)-2], 10, 64)
	if err != nil || size < 0 {
		fail(fmt.Errorf("bad bulk length %q", line))
		return
	}

	tmpPath := filepath.Join(r.Dir, fmt.Sprintf("temp-sync-%d.rdb", os.Getpid()))
	tmp, err := os.Create(tmpPath)
	if err != nil {
		fail(err)
		return
	}
	if _, err := io.CopyN(tmp, reader, size); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		fail(err)
		return
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		fail(err)
		return
	}
	tmp.Close()

	if err := r.LoadSnapshot(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		fail(err)
		return
	}
	r.mu.Lock()
	r.state = ReplConnected
	r.mu.Unlock()
	logger.Info("repl: full sync from %s:%d complete, now streaming", host, port)

	// live stream: the master's connection is now a command source,
	// processed exactly like a client's (spec.md §4.I)
	ch := resp.ParseStream(reader, nil)
	for payload := range ch {
		if payload.Err != nil {
			fail(payload.Err)
			return
		}
		mb, ok := payload.Data.(*resp.MultiBulkReply)
		if !ok || len(mb.Args) == 0 {
			continue
		}
		r.Exec(mb.Args)
	}
	fail(io.EOF)
}
