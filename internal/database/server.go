// Server is the multi-database container and the outer dispatcher
// (spec.md §4.E/§6): it routes server-level commands (SELECT, AUTH,
// FLUSHALL, SAVE/BGSAVE, SLAVEOF, SYNC, INFO, ...), enforces
// requirepass and the memory-pressure gate, feeds executed mutations
// to the journal and the replication stream, and owns the cron duties
// the event loop drives once per second.
package database

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/nyxkv/corekv/internal/aof"
	"github.com/nyxkv/corekv/internal/config"
	"github.com/nyxkv/corekv/internal/logger"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/repl"
	"github.com/nyxkv/corekv/internal/resp"
	"github.com/nyxkv/corekv/internal/vm"
)

type Server struct {
	dbs   []*DB
	props *config.Properties

	persister *aof.Persister

	// dirty counts keyspace mutations since the last completed save,
	// driving the `save <seconds> <changes>` schedule.
	dirty             int64
	lastSave          time.Time
	saveInProgress    bool
	rewriteInProgress bool

	master  *repl.Master
	replica *repl.Replica

	monitors []Client

	vmgr    *vm.Manager
	parked  map[Client]*parkedCmd
	backlog map[Client][]CmdLine

	// RunOnLoop schedules fn on the event loop goroutine; installed
	// by internal/aeloop so background completions (snapshot writer,
	// replica sync) re-enter single-threaded territory safely.
	RunOnLoop func(fn func())
}

// MakeServer builds the full server: databases, journal, replication
// roles and (when enabled) the paging subsystem.
func MakeServer(props *config.Properties) *Server {
	s := MakeBasicServer(props.Databases)
	s.props = props
	s.lastSave = time.Now()

	HashMaxZipmapEntries = props.HashMaxZipmapEntries
	HashMaxZipmapValue = props.HashMaxZipmapValue

	s.master = repl.NewMaster()
	s.master.TriggerSnapshot = func() {
		s.RunOnLoop(func() { s.startBackgroundSave() })
	}
	s.master.SnapshotPath = s.rdbPath

	s.replica = repl.NewReplica(props.Dir)
	s.replica.LoadSnapshot = s.loadSnapshotFromMaster
	s.replica.Exec = func(cmdLine CmdLine) {
		s.RunOnLoop(func() { s.execFromMaster(cmdLine) })
	}
	if props.Replicaof != "" {
		fields := strings.Fields(props.Replicaof)
		if len(fields) == 2 {
			if port, err := strconv.Atoi(fields[1]); err == nil {
				s.replica.SetMaster(fields[0], port, props.MasterAuth)
			}
		}
	}

	if props.AppendOnly {
		path := props.Dir + string(os.PathSeparator) + props.AppendFilename
		persister, err := aof.NewPersister(path, props.AppendFsync)
		if err != nil {
			logger.Fatal("aof: open %s: %v", path, err)
		}
		s.persister = persister
	}
	s.bindHooks()

	if props.VMEnabled {
		s.initPaging()
	}
	return s
}

// MakeBasicServer builds a bare multi-DB server with no persistence,
// replication or paging attached — the shape AOF replay and tests use.
func MakeBasicServer(nDBs int) *Server {
	if nDBs <= 0 {
		nDBs = 16
	}
	s := &Server{
		dbs:       make([]*DB, nDBs),
		lastSave:  time.Now(),
		parked:    make(map[Client]*parkedCmd),
		backlog:   make(map[Client][]CmdLine),
		RunOnLoop: func(fn func()) { fn() },
	}
	for i := range s.dbs {
		s.dbs[i] = MakeDB(i)
	}
	return s
}

// bindHooks wires each db's AddAof to the journal and the replica
// feed, and the OverMemory gate to the maxmemory check.
func (s *Server) bindHooks() {
	for _, db := range s.dbs {
		db := db
		db.AddAof = func(cmdLine CmdLine) {
			s.dirty++
			if s.persister != nil {
				s.persister.SaveCmdLine(db.index, cmdLine)
			}
			if s.master != nil {
				s.master.Feed(db.index, cmdLine)
			}
		}
		db.OverMemory = s.OverMaxMemory
		db.CancelSwap = func(db *DB, key string, o *obj.Object) {
			s.cancelSwap(db, key, o)
		}
	}
}

// Startup loads durable state: the journal wins over the snapshot
// when both exist, since it is strictly newer (spec.md §4.H).
func (s *Server) Startup() {
	if s.persister != nil {
		replayed := 0
		s.persister.LoadAof(0, func(cmdLine CmdLine) {
			s.execFromReplay(cmdLine)
			replayed++
		})
		if replayed > 0 {
			logger.Info("aof: replayed %d commands", replayed)
			s.dirty = 0
			return
		}
	}
	if err := s.loadRDB(s.rdbPath()); err == nil {
		logger.Info("rdb: loaded %s", s.rdbPath())
	}
	s.dirty = 0
}

// replayClient carries the db index of the synthetic client AOF
// replay and the master stream execute through; its replies are
// discarded without transmission (spec.md §4.H).
type replayClient struct {
	dbIndex int
}

func (c *replayClient) Write([]byte) error            { return nil }
func (c *replayClient) RemoteAddr() string            { return "replay" }
func (c *replayClient) GetDBIndex() int               { return c.dbIndex }
func (c *replayClient) SelectDB(index int)            { c.dbIndex = index }
func (c *replayClient) SetName(string)                {}
func (c *replayClient) GetName() string               { return "" }
func (c *replayClient) InMultiState() bool            { return false }
func (c *replayClient) SetMultiState(bool)            {}
func (c *replayClient) EnqueueCmd([][]byte)           {}
func (c *replayClient) GetQueuedCmdLine() [][][]byte  { return nil }
func (c *replayClient) AddTxError(error)              {}
func (c *replayClient) GetTxErrors() bool             { return false }
func (c *replayClient) GetWatching() map[string]int64 { return map[string]int64{} }
func (c *replayClient) ClearWatching()                {}
func (c *replayClient) IsReplica() bool               { return true }
func (c *replayClient) SetReplica(bool)               {}
func (c *replayClient) SetAuthed(bool)                {}
func (c *replayClient) Authed() bool                  { return true }
func (c *replayClient) Close() error                  { return nil }

var aofReplayClient = &replayClient{}

func (s *Server) execFromReplay(cmdLine CmdLine) {
	// replayed frames must not be re-journaled
	saved := s.persister
	s.persister = nil
	s.Exec(aofReplayClient, cmdLine)
	s.persister = saved
}

var masterStreamClient = &replayClient{}

func (s *Server) execFromMaster(cmdLine CmdLine) {
	s.Exec(masterStreamClient, cmdLine)
}

// Exec is the outer dispatch: server-level commands here, everything
// else to the selected db's table (spec.md §4.E).
func (s *Server) Exec(c Client, cmdLine CmdLine) resp.Reply {
	if len(cmdLine) == 0 {
		return resp.MakeErrReply("ERR empty command")
	}
	name := strings.ToLower(string(cmdLine[0]))

	if s.props != nil && s.props.RequirePass != "" && c != nil && !c.Authed() && name != "auth" && name != "quit" {
		return &resp.NotAuthenticatedErrReply{}
	}

	switch name {
	case "auth":
		return s.execAuth(c, cmdLine[1:])
	case "ping":
		if len(cmdLine) == 2 {
			return resp.MakeBulkReply(cmdLine[1])
		}
		return resp.MakeStatusReply("PONG")
	case "echo":
		if len(cmdLine) != 2 {
			return resp.MakeArgNumErrReply(name)
		}
		return resp.MakeBulkReply(cmdLine[1])
	case "select":
		return s.execSelect(c, cmdLine[1:])
	case "flushdb":
		s.currentDB(c).Flush()
		s.dirtyMutation(c, cmdLine)
		return resp.MakeOkReply()
	case "flushall":
		for _, db := range s.dbs {
			db.Flush()
		}
		s.dirtyMutation(c, cmdLine)
		return resp.MakeOkReply()
	case "dbsize":
		return resp.MakeIntReply(int64(s.currentDB(c).Len()))
	case "move":
		return s.execMove(c, cmdLine[1:])
	case "save":
		return s.execSave()
	case "bgsave":
		return s.execBGSave()
	case "bgrewriteaof":
		return s.execBGRewriteAOF()
	case "lastsave":
		return resp.MakeIntReply(s.lastSave.Unix())
	case "shutdown":
		return s.execShutdown()
	case "info":
		return resp.MakeBulkReply([]byte(s.infoString()))
	case "monitor":
		s.monitors = append(s.monitors, c)
		return resp.MakeOkReply()
	case "slaveof":
		return s.execSlaveOf(cmdLine[1:])
	case "sync":
		return s.execSync(c)
	case "debug":
		return s.execDebug(c, cmdLine[1:])
	}

	s.feedMonitors(c, cmdLine)

	db := s.currentDB(c)
	if s.vmgr != nil {
		if deferred := s.preloadGate(c, db, cmdLine); deferred != nil {
			return deferred
		}
	}
	return db.Exec(c, cmdLine)
}

func (s *Server) currentDB(c Client) *DB {
	index := 0
	if c != nil {
		index = c.GetDBIndex()
	}
	if index < 0 || index >= len(s.dbs) {
		index = 0
	}
	return s.dbs[index]
}

// dirtyMutation journals and replicates a server-level mutation that
// bypasses the per-db command table (FLUSHDB/FLUSHALL).
func (s *Server) dirtyMutation(c Client, cmdLine CmdLine) {
	db := s.currentDB(c)
	db.AddAof(cmdLine)
}

func (s *Server) execAuth(c Client, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return resp.MakeArgNumErrReply("auth")
	}
	if s.props == nil || s.props.RequirePass == "" {
		return resp.MakeErrReply("ERR Client sent AUTH, but no password is set")
	}
	if string(args[0]) != s.props.RequirePass {
		return resp.MakeErrReply("ERR invalid password")
	}
	c.SetAuthed(true)
	return resp.MakeOkReply()
}

func (s *Server) execSelect(c Client, args [][]byte) resp.Reply {
	if len(args) != 1 {
		return resp.MakeArgNumErrReply("select")
	}
	index, ok := parseInt(args[0])
	if !ok || index < 0 || index >= int64(len(s.dbs)) {
		return resp.MakeErrReply("ERR invalid DB index")
	}
	c.SelectDB(int(index))
	return resp.MakeOkReply()
}

func (s *Server) execMove(c Client, args [][]byte) resp.Reply {
	if len(args) != 2 {
		return resp.MakeArgNumErrReply("move")
	}
	key := string(args[0])
	target, ok := parseInt(args[1])
	if !ok || target < 0 || target >= int64(len(s.dbs)) {
		return &resp.OutOfRangeErrReply{Msg: "ERR index out of range"}
	}
	src := s.currentDB(c)
	dst := s.dbs[target]
	if src.index == dst.index {
		return &resp.SameObjectErrReply{}
	}
	entity, exists := src.GetEntity(key)
	if !exists {
		return resp.MakeIntReply(0)
	}
	if _, busy := dst.GetEntity(key); busy {
		return resp.MakeIntReply(0)
	}
	expiry, hasExpiry := src.ExpireAt(key)
	src.Remove(key)
	dst.PutEntity(key, entity)
	if hasExpiry {
		dst.Expire(key, expiry)
	}
	s.dirtyMutation(c, toCmdLine("MOVE", args...))
	return resp.MakeIntReply(1)
}

func (s *Server) execSlaveOf(args [][]byte) resp.Reply {
	if len(args) != 2 {
		return resp.MakeArgNumErrReply("slaveof")
	}
	if strings.EqualFold(string(args[0]), "no") && strings.EqualFold(string(args[1]), "one") {
		s.replica.Unset()
		logger.Info("repl: detached from master, now acting as master")
		return resp.MakeOkReply()
	}
	port, ok := parseInt(args[1])
	if !ok {
		return &resp.SyntaxErrReply{}
	}
	auth := ""
	if s.props != nil {
		auth = s.props.MasterAuth
	}
	s.replica.SetMaster(string(args[0]), int(port), auth)
	return resp.MakeOkReply()
}

// execSync hands the connection over to the replication master; no
// reply is produced here — the master's state machine writes the bulk
// header when the snapshot is ready (spec.md §4.I).
func (s *Server) execSync(c Client) resp.Reply {
	c.SetReplica(true)
	s.master.HandleSync(c)
	return DeferredReply{}
}

func (s *Server) execDebug(c Client, args [][]byte) resp.Reply {
	if len(args) == 0 {
		return resp.MakeArgNumErrReply("debug")
	}
	switch strings.ToLower(string(args[0])) {
	case "reload":
		if err := s.saveRDB(s.rdbPath()); err != nil {
			return resp.MakeErrReply("ERR reload save failed: " + err.Error())
		}
		for _, db := range s.dbs {
			db.Flush()
		}
		if err := s.loadRDB(s.rdbPath()); err != nil {
			return resp.MakeErrReply("ERR reload load failed: " + err.Error())
		}
		return resp.MakeOkReply()
	case "object":
		if len(args) != 2 {
			return resp.MakeArgNumErrReply("debug")
		}
		db := s.currentDB(c)
		entity, exists := db.GetEntity(string(args[1]))
		if !exists {
			return &resp.NoSuchKeyErrReply{}
		}
		desc := fmt.Sprintf("Value at:%p refcount:%d encoding:%s storage:%d",
			entity, entity.RefCount(), entity.Encoding, entity.Storage)
		return resp.MakeStatusReply(desc)
	case "sleep":
		if len(args) == 2 {
			if secs, err := strconv.ParseFloat(string(args[1]), 64); err == nil {
				time.Sleep(time.Duration(secs * float64(time.Second)))
			}
		}
		return resp.MakeOkReply()
	default:
		return resp.MakeErrReply("ERR DEBUG subcommand not supported")
	}
}

func (s *Server) execShutdown() resp.Reply {
	if s.props != nil && len(s.props.SaveRules) > 0 {
		if err := s.saveRDB(s.rdbPath()); err != nil {
			logger.Error("rdb: save on shutdown: %v", err)
		}
	}
	if s.persister != nil {
		s.persister.Close()
	}
	logger.Info("server: shutdown requested, exiting")
	os.Exit(0)
	return resp.MakeOkReply()
}

// feedMonitors echoes the executing command to every MONITOR client.
func (s *Server) feedMonitors(c Client, cmdLine CmdLine) {
	if len(s.monitors) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "+%.6f [%d %s]", float64(time.Now().UnixNano())/1e9, s.currentDB(c).index, remoteAddr(c))
	for _, arg := range cmdLine {
		fmt.Fprintf(&b, " %q", arg)
	}
	b.WriteString(resp.CRLF)
	line := []byte(b.String())
	alive := s.monitors[:0]
	for _, m := range s.monitors {
		if m == c {
			alive = append(alive, m)
			continue
		}
		if err := m.Write(line); err == nil {
			alive = append(alive, m)
		}
	}
	s.monitors = alive
}

func remoteAddr(c Client) string {
	if c == nil {
		return "?"
	}
	return c.RemoteAddr()
}

func (s *Server) infoString() string {
	var b strings.Builder
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	role := "master"
	if s.replica != nil && s.replica.State() != repl.ReplNone {
		role = "slave"
	}
	fmt.Fprintf(&b, "# Server\r\nprocess_id:%d\r\nuptime_in_seconds:%d\r\n", os.Getpid(), int(time.Since(startTime).Seconds()))
	fmt.Fprintf(&b, "# Memory\r\nused_memory:%d\r\n", mem.HeapAlloc)
	fmt.Fprintf(&b, "# Persistence\r\nchanges_since_last_save:%d\r\nbgsave_in_progress:%d\r\nlast_save_time:%d\r\nbgrewriteaof_in_progress:%d\r\naof_enabled:%d\r\n",
		s.dirty, boolToInt(s.saveInProgress), s.lastSave.Unix(), boolToInt(s.rewriteInProgress), boolToInt(s.persister != nil))
	fmt.Fprintf(&b, "# Replication\r\nrole:%s\r\nconnected_slaves:%d\r\nrun_id:%s\r\n", role, s.master.ReplicaCount(), s.master.RunID())
	keyspace := ""
	for _, db := range s.dbs {
		if n := db.Len(); n > 0 {
			keyspace += fmt.Sprintf("db%d:keys=%d\r\n", db.index, n)
		}
	}
	if keyspace != "" {
		b.WriteString("# Keyspace\r\n")
		b.WriteString(keyspace)
	}
	return b.String()
}

var startTime = time.Now()

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Cron is the once-per-second duty cycle driven by internal/aeloop:
// active expiry, blocked-pop deadline sweeps, journal fsync, save
// scheduling, replica reconnect, memory policy and swap-out.
func (s *Server) Cron() {
	for _, db := range s.dbs {
		ActiveExpiryCycle(db)
		SweepBlockedDeadlines(db)
	}
	if s.persister != nil {
		s.persister.TickFsync()
	}
	s.checkSaveSchedule()
	if s.replica != nil {
		s.replica.CronTick()
	}
	s.freeMemoryIfNeeded()
	if s.vmgr != nil {
		s.swapOutIfNeeded()
	}
}

func (s *Server) checkSaveSchedule() {
	if s.props == nil || s.saveInProgress {
		return
	}
	elapsed := int64(time.Since(s.lastSave).Seconds())
	for _, rule := range s.props.SaveRules {
		if s.dirty >= rule.Changes && elapsed >= rule.Seconds {
			logger.Info("rdb: %d changes in %d seconds, starting background save", s.dirty, elapsed)
			s.startBackgroundSave()
			return
		}
	}
}

// CloseClient forgets any per-client state the server holds.
func (s *Server) CloseClient(c Client) {
	delete(s.parked, c)
	delete(s.backlog, c)
	if s.master != nil && c.IsReplica() {
		s.master.Detach(c)
	}
	for i, m := range s.monitors {
		if m == c {
			s.monitors = append(s.monitors[:i], s.monitors[i+1:]...)
			break
		}
	}
}

// DBCount reports the number of configured databases.
func (s *Server) DBCount() int {
	return len(s.dbs)
}

// DB exposes one database, used by tests and the paging committer.
func (s *Server) DB(index int) *DB {
	return s.dbs[index]
}
