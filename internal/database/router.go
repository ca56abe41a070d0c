package database

import "strings"

var cmdTable = make(map[string]*command)

type command struct {
	executor ExecFunc
	prepare  PreFunc
	undo     UndoFunc
	arity    int
	flags    int
}

// Flag bits on a registered command. FlagReadOnly commands never need
// an undo log and are never written to the AOF or the replication
// stream; FlagDenyOOM commands are refused while used memory exceeds
// maxmemory (spec.md §4.E/§5).
const (
	FlagWrite    = 0
	FlagReadOnly = 1 << iota
	FlagDenyOOM
	// FlagSelfAof marks write commands whose executor journals a
	// rewritten form of itself (EXPIRE → EXPIREAT), so the dispatcher
	// must not also append the original line.
	FlagSelfAof
)

// RegisterCommand adds a command to the dispatch table, mirroring the
// teacher's own registration shape: each data-type file calls this
// from an init() func rather than building the table by hand.
func RegisterCommand(name string, executor ExecFunc, prepare PreFunc, undo UndoFunc, arity int, flags int) {
	name = strings.ToLower(name)
	cmdTable[name] = &command{
		executor: executor,
		prepare:  prepare,
		undo:     undo,
		arity:    arity,
		flags:    flags,
	}
}

func isReadOnlyCommand(name string) bool {
	cmd := cmdTable[strings.ToLower(name)]
	if cmd == nil {
		return false
	}
	return cmd.flags&FlagReadOnly != 0
}

// IsBulkCommand reports whether name's final argument is conventionally
// a trailing bulk payload under the resp package's inline-framing
// extension (spec.md §4.D) — injected into internal/resp as a
// BulkCommandLookup rather than imported there, to avoid a resp->database
// import cycle.
func IsBulkCommand(name string) bool {
	switch strings.ToLower(name) {
	case "set", "setnx", "setex", "psetex", "getset", "append", "setrange", "lpush", "rpush", "lset", "linsert", "hset", "hsetnx", "sadd", "echo":
		return true
	}
	return false
}

// RelatedKeys returns the write-keys and read-keys cmdLine touches per
// its registered PreFunc. The paging preload gate (paging.go) uses
// this instead of a separate first/last/step key descriptor: the
// PreFunc already names every key a command line reaches.
func RelatedKeys(cmdLine [][]byte) ([]string, []string) {
	return GetRelatedKeys(cmdLine)
}
