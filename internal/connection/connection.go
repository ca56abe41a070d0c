// Package connection wraps a net.Conn with the per-client state the
// command layer needs: the selected DB index, MULTI queueing state,
// and the subset of CLIENT-visible metadata spec.md's command table
// references (name, address). Grounded on the teacher's referenced
// (but not retrieved) pkg/connection — reconstructed here from the
// shape database.go and server.go expect of a client handle.
package connection

import (
	"net"
	"sync"
)

// Connection is the per-client handle threaded through command
// execution.
type Connection struct {
	conn net.Conn

	mu       sync.Mutex
	selectDB int
	name     string

	multiState bool
	queue      [][][]byte
	watching   map[string]int64
	txErrored  bool

	// replica marks a connection that issued SYNC and is now being
	// fed the replication stream by internal/repl instead of regular
	// command replies.
	replica bool

	// authed is set once AUTH succeeds against requirepass.
	authed bool
}

func New(conn net.Conn) *Connection {
	return &Connection{conn: conn}
}

func (c *Connection) Write(b []byte) error {
	if c.conn == nil {
		return nil
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Connection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

func (c *Connection) GetDBIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectDB
}

func (c *Connection) SelectDB(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectDB = index
}

func (c *Connection) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

func (c *Connection) GetName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Connection) InMultiState() bool {
	return c.multiState
}

func (c *Connection) SetMultiState(state bool) {
	c.multiState = state
	if !state {
		c.queue = nil
		c.watching = nil
		c.txErrored = false
	}
}

func (c *Connection) EnqueueCmd(cmdLine [][]byte) {
	c.queue = append(c.queue, cmdLine)
}

func (c *Connection) GetQueuedCmdLine() [][][]byte {
	return c.queue
}

func (c *Connection) AddTxError(err error) {
	c.txErrored = true
}

func (c *Connection) GetTxErrors() bool {
	return c.txErrored
}

func (c *Connection) GetWatching() map[string]int64 {
	if c.watching == nil {
		c.watching = make(map[string]int64)
	}
	return c.watching
}

func (c *Connection) ClearWatching() {
	c.watching = nil
}

func (c *Connection) SetReplica(isReplica bool) {
	c.replica = isReplica
}

func (c *Connection) IsReplica() bool {
	return c.replica
}

func (c *Connection) SetAuthed(authed bool) {
	c.authed = authed
}

func (c *Connection) Authed() bool {
	return c.authed
}
