// Prepare/undo helpers shared by the command registrations: PreFuncs
// name the keys a command line touches, UndoFuncs emit the command
// lines that restore those keys' prior state if EXEC has to roll back
// mid-transaction. Grounded on the teacher's tx_utils.go, rebuilt on
// the obj.Object keyspace.
package database

import (
	"strconv"

	"github.com/nyxkv/corekv/internal/aof"
)

func readFirstKey(args [][]byte) ([]string, []string) {
	return nil, []string{string(args[0])}
}

func writeFirstKey(args [][]byte) ([]string, []string) {
	return []string{string(args[0])}, nil
}

func writeAllKeys(args [][]byte) ([]string, []string) {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return keys, nil
}

func readAllKeys(args [][]byte) ([]string, []string) {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return nil, keys
}

func noPrepare(args [][]byte) ([]string, []string) {
	return nil, nil
}

func rollbackFirstKey(db *DB, args [][]byte) []CmdLine {
	return rollbackGivenKeys(db, string(args[0]))
}

// rollbackGivenKeys snapshots each key's current value as the command
// line(s) that would recreate it: a bare DEL for keys currently
// absent, or DEL plus the full EntityToCmd dump (plus EXPIREAT, if an
// expiry is set) for keys that exist.
func rollbackGivenKeys(db *DB, keys ...string) []CmdLine {
	var undoCmdLines []CmdLine
	for _, key := range keys {
		entity, ok := db.GetEntity(key)
		if !ok {
			undoCmdLines = append(undoCmdLines, toCmdLineS("DEL", key))
			continue
		}
		undoCmdLines = append(undoCmdLines, toCmdLineS("DEL", key))
		if dump := aof.EntityToCmd(key, entity); dump != nil {
			undoCmdLines = append(undoCmdLines, dump.Args)
		}
		if t, ok := db.ExpireAt(key); ok {
			undoCmdLines = append(undoCmdLines, aof.MakeExpireCmd(key, t).Args)
		}
	}
	return undoCmdLines
}

// prepareRename covers RENAME/RENAMENX/SMOVE/RPOPLPUSH-style commands
// whose first two args are source and destination keys.
func prepareRename(args [][]byte) ([]string, []string) {
	return []string{string(args[0]), string(args[1])}, nil
}

func undoRename(db *DB, args [][]byte) []CmdLine {
	return rollbackGivenKeys(db, string(args[0]), string(args[1]))
}

// prepareStoreCalculate covers SINTERSTORE/SUNIONSTORE/SDIFFSTORE:
// the first arg is the written destination, the rest are read
// sources. ZUNION/ZINTER use prepareZStore (zset.go).
func prepareStoreCalculate(args [][]byte) ([]string, []string) {
	dest := string(args[0])
	keys := make([]string, len(args)-1)
	for i, arg := range args[1:] {
		keys[i] = string(arg)
	}
	return []string{dest}, keys
}

// prepareMSet / undoMSet cover the interleaved key-value argument
// shape MSET and MSETNX share.
func prepareMSet(args [][]byte) ([]string, []string) {
	size := len(args) / 2
	keys := make([]string, size)
	for i := 0; i < size; i++ {
		keys[i] = string(args[2*i])
	}
	return keys, nil
}

func undoMSet(db *DB, args [][]byte) []CmdLine {
	writeKeys, _ := prepareMSet(args)
	return rollbackGivenKeys(db, writeKeys...)
}

// undoExpire restores a key's previous expiry (or its absence).
func undoExpire(db *DB, args [][]byte) []CmdLine {
	key := string(args[0])
	if t, ok := db.ExpireAt(key); ok {
		return []CmdLine{aof.MakeExpireCmd(key, t).Args}
	}
	return []CmdLine{toCmdLineS("PERSIST", key)}
}

// parseInt wraps ParseInt with the command-path "not an integer"
// contract: callers turn a false result into an error reply.
func parseInt(b []byte) (int64, bool) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	return n, err == nil
}
