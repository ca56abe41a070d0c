// Keyspace commands (spec.md §4.B/§6): existence, deletion, renaming,
// expiry control and pattern listing, plus the OBJECT introspection
// surface used to observe encoding transitions.
package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
	"github.com/nyxkv/corekv/pkg/wildcard"
)

func execExists(db *DB, args [][]byte) resp.Reply {
	count := int64(0)
	for _, arg := range args {
		if _, exists := db.GetEntity(string(arg)); exists {
			count++
		}
	}
	return resp.MakeIntReply(count)
}

func execDel(db *DB, args [][]byte) resp.Reply {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return resp.MakeIntReply(int64(db.Removes(keys...)))
}

func execType(db *DB, args [][]byte) resp.Reply {
	entity, exists := db.GetEntity(string(args[0]))
	if !exists {
		return resp.MakeStatusReply("none")
	}
	return resp.MakeStatusReply(entity.Kind.String())
}

func execRename(db *DB, args [][]byte) resp.Reply {
	srcKey := string(args[0])
	destKey := string(args[1])
	if srcKey == destKey {
		return &resp.SameObjectErrReply{}
	}
	entity, exists := db.GetEntity(srcKey)
	if !exists {
		return &resp.NoSuchKeyErrReply{}
	}
	expiry, hasExpiry := db.ExpireAt(srcKey)
	db.Remove(srcKey)
	db.PutEntity(destKey, entity)
	if hasExpiry {
		db.Expire(destKey, expiry)
	} else {
		db.Persist(destKey)
	}
	return resp.MakeOkReply()
}

func execRenameNX(db *DB, args [][]byte) resp.Reply {
	srcKey := string(args[0])
	destKey := string(args[1])
	if srcKey == destKey {
		return &resp.SameObjectErrReply{}
	}
	entity, exists := db.GetEntity(srcKey)
	if !exists {
		return &resp.NoSuchKeyErrReply{}
	}
	if _, destExists := db.GetEntity(destKey); destExists {
		return resp.MakeIntReply(0)
	}
	expiry, hasExpiry := db.ExpireAt(srcKey)
	db.Remove(srcKey)
	db.PutEntity(destKey, entity)
	if hasExpiry {
		db.Expire(destKey, expiry)
	}
	return resp.MakeIntReply(1)
}

func execKeys(db *DB, args [][]byte) resp.Reply {
	pattern, err := wildcard.CompilePattern(string(args[0]))
	if err != nil {
		return resp.MakeErrReply("ERR invalid pattern")
	}
	result := make([][]byte, 0)
	db.ForEach(func(key string, o *obj.Object, expiration *time.Time) bool {
		if pattern.IsMatch(key) {
			result = append(result, []byte(key))
		}
		return true
	})
	return resp.MakeMultiBulkReply(result)
}

func execRandomKey(db *DB, args [][]byte) resp.Reply {
	var key []byte
	db.ForEach(func(k string, o *obj.Object, expiration *time.Time) bool {
		key = []byte(k)
		return false
	})
	if key == nil {
		return resp.MakeNullBulkReply()
	}
	return resp.MakeBulkReply(key)
}

func execExpire(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	seconds, ok := parseInt(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	if _, exists := db.GetEntity(key); !exists {
		return resp.MakeIntReply(0)
	}
	when := time.Now().Add(time.Duration(seconds) * time.Second)
	db.Expire(key, when)
	// journal the absolute form so replay is time-invariant (§4.H)
	db.AddAof(toCmdLineS("EXPIREAT", key, strconv.FormatInt(when.Unix(), 10)))
	return resp.MakeIntReply(1)
}

func execExpireAt(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	at, ok := parseInt(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	if _, exists := db.GetEntity(key); !exists {
		return resp.MakeIntReply(0)
	}
	db.Expire(key, time.Unix(at, 0))
	return resp.MakeIntReply(1)
}

func execTTL(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	if _, exists := db.GetEntity(key); !exists {
		return resp.MakeIntReply(-2)
	}
	t, ok := db.ExpireAt(key)
	if !ok {
		return resp.MakeIntReply(-1)
	}
	remaining := time.Until(t)
	return resp.MakeIntReply(int64(remaining.Seconds()))
}

func execPersist(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	if _, exists := db.GetEntity(key); !exists {
		return resp.MakeIntReply(0)
	}
	if db.Persist(key) {
		return resp.MakeIntReply(1)
	}
	return resp.MakeIntReply(0)
}

// execObject implements OBJECT ENCODING/REFCOUNT, a read-only
// introspection window onto the value container (spec.md §3/§4.A).
func execObject(db *DB, args [][]byte) resp.Reply {
	sub := strings.ToLower(string(args[0]))
	if len(args) != 2 {
		return resp.MakeArgNumErrReply("object")
	}
	entity, exists := db.GetEntity(string(args[1]))
	if !exists {
		return &resp.NoSuchKeyErrReply{}
	}
	switch sub {
	case "encoding":
		return resp.MakeBulkReply([]byte(entity.Encoding.String()))
	case "refcount":
		return resp.MakeIntReply(int64(entity.RefCount()))
	default:
		return resp.MakeErrReply("ERR Syntax error. Try OBJECT (refcount|encoding) <key>")
	}
}

func undoDel(db *DB, args [][]byte) []CmdLine {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return rollbackGivenKeys(db, keys...)
}

func init() {
	RegisterCommand("Exists", execExists, readAllKeys, nil, -2, FlagReadOnly)
	RegisterCommand("Del", execDel, writeAllKeys, undoDel, -2, FlagWrite)
	RegisterCommand("Type", execType, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("Rename", execRename, prepareRename, undoRename, 3, FlagWrite)
	RegisterCommand("RenameNX", execRenameNX, prepareRename, undoRename, 3, FlagWrite)
	RegisterCommand("Keys", execKeys, noPrepare, nil, 2, FlagReadOnly)
	RegisterCommand("RandomKey", execRandomKey, noPrepare, nil, 1, FlagReadOnly)
	RegisterCommand("Expire", execExpire, writeFirstKey, undoExpire, 3, FlagSelfAof)
	RegisterCommand("ExpireAt", execExpireAt, writeFirstKey, undoExpire, 3, FlagWrite)
	RegisterCommand("TTL", execTTL, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("Persist", execPersist, writeFirstKey, undoExpire, 2, FlagWrite)
	RegisterCommand("Object", execObject, noPrepare, nil, -2, FlagReadOnly)
}
