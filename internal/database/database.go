// Package database implements the keyspace, the data-type command
// engines, and the command dispatcher (spec.md §3/§4.B/§4.C/§4.E):
// components B, C and E all live in one package because a command's
// executor, its prepare/undo hooks, and the keyspace it mutates are
// inseparable in the single-threaded execution model spec.md §5
// mandates — there is no sharded lock boundary left to draw a package
// seam around.
package database

import (
	"strings"
	"time"

	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

// DB is one of the numbered keyspaces spec.md §3 describes. Unlike
// the teacher's DB, this is a plain, non-concurrent map: every
// mutation happens on the single internal/aeloop dispatcher goroutine,
// so the teacher's dict.ConcurrentDict (sharded map + per-shard
// sync.RWMutex) and pkg/lock.Locks (sorted multi-key locking to avoid
// deadlock across goroutines) have no job left to do — see DESIGN.md's
// B/C/E entry for the full rationale.
type DB struct {
	index int
	data  map[string]*obj.Object
	// expires maps a key to its absolute expiry time; a key's absence
	// here means it never expires.
	expires map[string]time.Time
	// blocked holds the waiter queues blocking pops park clients on
	// (internal/database/blocking.go), keyed by the same key space.
	blocked map[string][]*waiter
	// pendingSwap holds the clients parked on a key whose value is
	// being loaded from the swap file (spec.md §3's fourth per-db map).
	pendingSwap map[string][]*parkedCmd

	AddAof func(cmdLine CmdLine)

	// OverMemory reports whether used memory currently exceeds the
	// configured maxmemory cap; FlagDenyOOM commands are refused while
	// it returns true (spec.md §4.E). Installed by the owning Server.
	OverMemory func() bool

	// CancelSwap fires when a key holding a value whose storage is not
	// Memory is deleted or overwritten, so the paging subsystem can
	// cancel the in-flight job or free the value's pages (spec.md §4.J).
	CancelSwap func(db *DB, key string, o *obj.Object)
}

// CmdLine is a command's argument vector, command name excluded
// (the dispatcher strips it before invoking an ExecFunc).
type CmdLine = [][]byte

// ExecFunc executes one command against db; args excludes the command
// name itself.
type ExecFunc func(db *DB, args [][]byte) resp.Reply

// PreFunc returns the write-keys and read-keys a command line touches,
// used by MULTI/EXEC to decide which keys must be watched.
type PreFunc func(args [][]byte) (write []string, read []string)

// UndoFunc returns the command lines that would undo args' effect,
// executed in reverse order when a transaction aborts mid-EXEC.
type UndoFunc func(db *DB, args [][]byte) []CmdLine

// Client is the subset of internal/connection.Connection the command
// layer needs, kept as an interface here so this package doesn't
// import internal/connection just to type-assert a handle.
type Client interface {
	Write(b []byte) error
	RemoteAddr() string
	GetDBIndex() int
	SelectDB(index int)
	SetName(name string)
	GetName() string
	InMultiState() bool
	SetMultiState(state bool)
	EnqueueCmd(cmdLine [][]byte)
	GetQueuedCmdLine() [][][]byte
	AddTxError(err error)
	GetTxErrors() bool
	GetWatching() map[string]int64
	ClearWatching()
	IsReplica() bool
	SetReplica(isReplica bool)
	SetAuthed(authed bool)
	Authed() bool
	Close() error
}

func MakeDB(index int) *DB {
	return &DB{
		index:       index,
		data:        make(map[string]*obj.Object),
		expires:     make(map[string]time.Time),
		blocked:     make(map[string][]*waiter),
		pendingSwap: make(map[string][]*parkedCmd),
		AddAof:      func(CmdLine) {},
	}
}

func (db *DB) Index() int {
	return db.index
}

// Exec dispatches one command line. Transaction control commands
// (MULTI/EXEC/DISCARD/WATCH) are intercepted here before falling
// through to the normal command table, matching the teacher's own
// Exec shape.
func (db *DB) Exec(c Client, cmdLine CmdLine) resp.Reply {
	cmdName := strings.ToLower(string(cmdLine[0]))
	switch cmdName {
	case "multi":
		if len(cmdLine) != 1 {
			return resp.MakeArgNumErrReply(cmdName)
		}
		return StartMulti(c)
	case "discard":
		if len(cmdLine) != 1 {
			return resp.MakeArgNumErrReply(cmdName)
		}
		return DiscardMulti(c)
	case "exec":
		if len(cmdLine) != 1 {
			return resp.MakeArgNumErrReply(cmdName)
		}
		return execMulti(db, c)
	case "watch":
		if !validateArity(-2, cmdLine) {
			return resp.MakeArgNumErrReply(cmdName)
		}
		return Watch(db, c, cmdLine[1:])
	case "unwatch":
		c.ClearWatching()
		return resp.MakeOkReply()
	}

	if c != nil && c.InMultiState() {
		return EnqueueCmd(c, cmdLine)
	}

	// BLPOP/BRPOP need the calling client's identity to park it; a
	// plain ExecFunc only sees the argument vector, so they are
	// intercepted here (their table entries cover the in-EXEC case,
	// which never blocks).
	switch cmdName {
	case "blpop", "brpop":
		if !validateArity(-3, cmdLine) {
			return resp.MakeArgNumErrReply(cmdName)
		}
		return ExecBlockingPop(db, c, cmdLine[1:], cmdName == "blpop")
	}
	return db.execNormalCommand(cmdLine)
}

func (db *DB) execNormalCommand(cmdLine [][]byte) resp.Reply {
	cmdName := strings.ToLower(string(cmdLine[0]))
	cmd, ok := cmdTable[cmdName]
	if !ok {
		return &resp.UnknownCommandErrReply{Cmd: cmdName}
	}
	if !validateArity(cmd.arity, cmdLine) {
		return resp.MakeArgNumErrReply(cmdName)
	}
	if cmd.flags&FlagDenyOOM != 0 && db.OverMemory != nil && db.OverMemory() {
		return &resp.MemoryPressureErrReply{}
	}
	reply := cmd.executor(db, cmdLine[1:])
	db.afterExecWrite(cmd, cmdLine, reply)
	return reply
}

// execWithLock runs a command with no dispatcher-level bookkeeping,
// used by EXEC to replay a queued command line without re-entering
// the MULTI/EXEC interception in Exec.
func (db *DB) execWithLock(cmdLine [][]byte) resp.Reply {
	cmdName := strings.ToLower(string(cmdLine[0]))
	cmd, ok := cmdTable[cmdName]
	if !ok {
		return &resp.UnknownCommandErrReply{Cmd: cmdName}
	}
	if !validateArity(cmd.arity, cmdLine) {
		return resp.MakeArgNumErrReply(cmdName)
	}
	reply := cmd.executor(db, cmdLine[1:])
	db.afterExecWrite(cmd, cmdLine, reply)
	return reply
}

// afterExecWrite journals and replicates a successfully executed
// write command; FlagSelfAof commands already journaled a rewritten
// form of themselves.
func (db *DB) afterExecWrite(cmd *command, cmdLine [][]byte, reply resp.Reply) {
	if cmd.flags&(FlagReadOnly|FlagSelfAof) == 0 && !resp.IsErrorReply(reply) {
		db.AddAof(cmdLine)
	}
}

func validateArity(arity int, cmdArgs [][]byte) bool {
	argNum := len(cmdArgs)
	if arity >= 0 {
		return arity == argNum
	}
	return argNum >= -arity
}

// ---- Keyspace & Expiry (spec.md §3/§4.B) ----

// Expire schedules key to expire at t. A zero t means "never".
func (db *DB) Expire(key string, t time.Time) {
	db.expires[key] = t
}

// Persist cancels key's expiry, if any, returning true if one was set.
func (db *DB) Persist(key string) bool {
	if _, ok := db.expires[key]; !ok {
		return false
	}
	delete(db.expires, key)
	return true
}

// ExpireAt returns key's absolute expiry time and whether one is set.
func (db *DB) ExpireAt(key string) (time.Time, bool) {
	t, ok := db.expires[key]
	return t, ok
}

// IsExpired performs the lazy-expiry check spec.md §4.B describes:
// an access that finds a key past its expiry deletes it immediately
// and reports it as absent, rather than waiting for the next active
// expiry cycle to catch it.
func (db *DB) IsExpired(key string) bool {
	t, ok := db.expires[key]
	if !ok {
		return false
	}
	if time.Now().After(t) {
		db.removeKey(key)
		return true
	}
	return false
}

func (db *DB) removeKey(key string) {
	if o, exists := db.data[key]; exists && o.Storage != obj.StorageMemory && db.CancelSwap != nil {
		db.CancelSwap(db, key, o)
	}
	delete(db.data, key)
	delete(db.expires, key)
}

// GetEntity returns the live object stored at key, or (nil, false) if
// it is absent or lazily expired.
func (db *DB) GetEntity(key string) (*obj.Object, bool) {
	o, exists := db.data[key]
	if !exists {
		return nil, false
	}
	if db.IsExpired(key) {
		return nil, false
	}
	o.LastAccess = time.Now().Unix()
	return o, true
}

// PutEntity unconditionally sets key to o.
func (db *DB) PutEntity(key string, o *obj.Object) {
	if old, exists := db.data[key]; exists && old != o && old.Storage != obj.StorageMemory && db.CancelSwap != nil {
		db.CancelSwap(db, key, old)
	}
	db.data[key] = o
}

// PutIfAbsent sets key to o only if key doesn't already hold a live
// value, returning 1 if it was set and 0 otherwise.
func (db *DB) PutIfAbsent(key string, o *obj.Object) int {
	if _, exists := db.GetEntity(key); exists {
		return 0
	}
	db.data[key] = o
	return 1
}

// PutIfExists sets key to o only if key already holds a live value.
func (db *DB) PutIfExists(key string, o *obj.Object) int {
	if _, exists := db.GetEntity(key); !exists {
		return 0
	}
	db.data[key] = o
	return 1
}

// Remove deletes key and its expiry entry; clients blocked on key
// stay parked.
func (db *DB) Remove(key string) {
	db.removeKey(key)
}

// Removes deletes every key in keys that currently holds a live
// value, returning the count removed.
func (db *DB) Removes(keys ...string) int {
	deleted := 0
	for _, key := range keys {
		if _, ok := db.GetEntity(key); ok {
			db.Remove(key)
			deleted++
		}
	}
	return deleted
}

// Flush clears every key from db, as FLUSHDB does.
func (db *DB) Flush() {
	if db.CancelSwap != nil {
		for key, o := range db.data {
			if o.Storage != obj.StorageMemory {
				db.CancelSwap(db, key, o)
			}
		}
	}
	db.data = make(map[string]*obj.Object)
	db.expires = make(map[string]time.Time)
	db.blocked = make(map[string][]*waiter)
	db.pendingSwap = make(map[string][]*parkedCmd)
}

// ForEach visits every live key, calling cb with its value and
// expiry (nil if it never expires). Used by KEYS, SAVE and AOF
// rewrite.
func (db *DB) ForEach(cb func(key string, o *obj.Object, expiration *time.Time) bool) {
	for key, o := range db.data {
		if db.IsExpired(key) {
			continue
		}
		var expiration *time.Time
		if t, ok := db.expires[key]; ok {
			expiration = &t
		}
		if !cb(key, o, expiration) {
			return
		}
	}
}

// Len reports the number of live keys, honoring lazy expiry.
func (db *DB) Len() int {
	n := 0
	db.ForEach(func(string, *obj.Object, *time.Time) bool {
		n++
		return true
	})
	return n
}

// GetAsString returns the decoded bytes of a String value at key, a
// WRONGTYPE error if key holds something else, or (nil, nil) if key
// is absent.
func (db *DB) GetAsString(key string) ([]byte, resp.ErrorReply) {
	o, exists := db.GetEntity(key)
	if !exists {
		return nil, nil
	}
	if o.Kind != obj.KindString {
		return nil, &resp.WrongTypeErrReply{}
	}
	return o.Decode(), nil
}

// sampleActiveExpiry implements spec.md §4.B's active-expiry
// algorithm: sample up to sampleSize keys, expiring any that are due;
// if more than 25% of the sample was expired, the caller should call
// again immediately rather than waiting for the next cron tick.
func (db *DB) sampleActiveExpiry(sampleSize int) (sampled, expired int) {
	now := time.Now()
	for key, t := range db.expires {
		if sampled >= sampleSize {
			break
		}
		sampled++
		if now.After(t) {
			db.removeKey(key)
			expired++
		}
	}
	return sampled, expired
}

// ActiveExpiryCycle runs spec.md §4.B's repeat-while->25%-expired loop
// for this db, called once per cron tick by internal/aeloop.
func ActiveExpiryCycle(db *DB) {
	const sampleSize = 100
	for {
		sampled, expired := db.sampleActiveExpiry(sampleSize)
		if sampled == 0 {
			return
		}
		if expired*4 <= sampled {
			return
		}
	}
}
