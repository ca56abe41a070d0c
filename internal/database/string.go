// String commands (spec.md §4.C/§6): GET, SET and friends, the
// INCR/DECR family, and the range/length operations. Grounded on the
// teacher's string.go command set, rebuilt on obj.Object so integer
// values take the Int encoding opportunistically (spec.md §4.A).
package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

func makeString(value []byte) *obj.Object {
	o := obj.NewString(value)
	o.TryEncodeInt()
	return o
}

func execGet(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	bytes, errReply := db.GetAsString(key)
	if errReply != nil {
		return errReply
	}
	if bytes == nil {
		return resp.MakeNullBulkReply()
	}
	return resp.MakeBulkReply(bytes)
}

const (
	upsertPolicy = iota // default
	insertPolicy        // NX
	updatePolicy        // XX
)

const unlimitedTTL int64 = 0

// execSet handles SET key value [EX seconds | PX milliseconds] [NX | XX].
func execSet(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	value := args[1]
	policy := upsertPolicy
	ttl := unlimitedTTL
	for i := 2; i < len(args); i++ {
		arg := strings.ToUpper(string(args[i]))
		switch arg {
		case "NX":
			if policy == updatePolicy {
				return &resp.SyntaxErrReply{}
			}
			policy = insertPolicy
		case "XX":
			if policy == insertPolicy {
				return &resp.SyntaxErrReply{}
			}
			policy = updatePolicy
		case "EX", "PX":
			if ttl != unlimitedTTL || i+1 >= len(args) {
				return &resp.SyntaxErrReply{}
			}
			n, ok := parseInt(args[i+1])
			if !ok {
				return &resp.SyntaxErrReply{}
			}
			if n <= 0 {
				return resp.MakeErrReply("ERR invalid expire time in set")
			}
			if arg == "EX" {
				ttl = n * 1000
			} else {
				ttl = n
			}
			i++
		default:
			return &resp.SyntaxErrReply{}
		}
	}

	entity := makeString(value)
	result := 1
	switch policy {
	case insertPolicy:
		result = db.PutIfAbsent(key, entity)
	case updatePolicy:
		result = db.PutIfExists(key, entity)
	default:
		db.PutEntity(key, entity)
	}
	if result > 0 {
		if ttl != unlimitedTTL {
			db.Expire(key, time.Now().Add(time.Duration(ttl)*time.Millisecond))
		} else {
			db.Persist(key)
		}
		return resp.MakeOkReply()
	}
	return resp.MakeNullBulkReply()
}

func execSetNX(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	result := db.PutIfAbsent(key, makeString(args[1]))
	return resp.MakeIntReply(int64(result))
}

func execSetEX(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	seconds, ok := parseInt(args[1])
	if !ok {
		return &resp.SyntaxErrReply{}
	}
	if seconds <= 0 {
		return resp.MakeErrReply("ERR invalid expire time in setex")
	}
	db.PutEntity(key, makeString(args[2]))
	db.Expire(key, time.Now().Add(time.Duration(seconds)*time.Second))
	return resp.MakeOkReply()
}

func execPSetEX(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	millis, ok := parseInt(args[1])
	if !ok {
		return &resp.SyntaxErrReply{}
	}
	if millis <= 0 {
		return resp.MakeErrReply("ERR invalid expire time in psetex")
	}
	db.PutEntity(key, makeString(args[2]))
	db.Expire(key, time.Now().Add(time.Duration(millis)*time.Millisecond))
	return resp.MakeOkReply()
}

func execGetSet(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	old, errReply := db.GetAsString(key)
	if errReply != nil {
		return errReply
	}
	db.PutEntity(key, makeString(args[1]))
	db.Persist(key)
	if old == nil {
		return resp.MakeNullBulkReply()
	}
	return resp.MakeBulkReply(old)
}

func execMSet(db *DB, args [][]byte) resp.Reply {
	if len(args)%2 != 0 {
		return resp.MakeArgNumErrReply("mset")
	}
	for i := 0; i < len(args); i += 2 {
		db.PutEntity(string(args[i]), makeString(args[i+1]))
	}
	return resp.MakeOkReply()
}

func execMGet(db *DB, args [][]byte) resp.Reply {
	result := make([][]byte, len(args))
	for i, arg := range args {
		bytes, errReply := db.GetAsString(string(arg))
		if errReply != nil {
			// MGET reports a wrong-typed key as nil, not an error
			result[i] = nil
			continue
		}
		result[i] = bytes
	}
	return resp.MakeMultiBulkReply(result)
}

func execMSetNX(db *DB, args [][]byte) resp.Reply {
	if len(args)%2 != 0 {
		return resp.MakeArgNumErrReply("msetnx")
	}
	for i := 0; i < len(args); i += 2 {
		if _, exists := db.GetEntity(string(args[i])); exists {
			return resp.MakeIntReply(0)
		}
	}
	for i := 0; i < len(args); i += 2 {
		db.PutEntity(string(args[i]), makeString(args[i+1]))
	}
	return resp.MakeIntReply(1)
}

// incrBy is the shared INCR/DECR/INCRBY/DECRBY primitive, matching
// spec.md §4.C's "ZADD and ZINCRBY share the same primitive" pattern
// applied to the string counters.
func incrBy(db *DB, key string, delta int64) resp.Reply {
	entity, exists := db.GetEntity(key)
	if exists {
		if entity.Kind != obj.KindString {
			return &resp.WrongTypeErrReply{}
		}
		var val int64
		if entity.Encoding == obj.EncInt {
			val = entity.IntVal
		} else {
			var err error
			val, err = strconv.ParseInt(string(entity.Bytes), 10, 64)
			if err != nil {
				return resp.MakeErrReply("ERR value is not an integer or out of range")
			}
		}
		db.PutEntity(key, makeString([]byte(strconv.FormatInt(val+delta, 10))))
		return resp.MakeIntReply(val + delta)
	}
	db.PutEntity(key, makeString([]byte(strconv.FormatInt(delta, 10))))
	return resp.MakeIntReply(delta)
}

func execIncr(db *DB, args [][]byte) resp.Reply {
	return incrBy(db, string(args[0]), 1)
}

func execDecr(db *DB, args [][]byte) resp.Reply {
	return incrBy(db, string(args[0]), -1)
}

func execIncrBy(db *DB, args [][]byte) resp.Reply {
	delta, ok := parseInt(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	return incrBy(db, string(args[0]), delta)
}

func execDecrBy(db *DB, args [][]byte) resp.Reply {
	delta, ok := parseInt(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	return incrBy(db, string(args[0]), -delta)
}

func execIncrByFloat(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	delta, err := decimal.NewFromString(string(args[1]))
	if err != nil {
		return resp.MakeErrReply("ERR value is not a valid float")
	}
	bytes, errReply := db.GetAsString(key)
	if errReply != nil {
		return errReply
	}
	if bytes == nil {
		db.PutEntity(key, makeString(args[1]))
		return resp.MakeBulkReply(args[1])
	}
	val, err := decimal.NewFromString(string(bytes))
	if err != nil {
		return resp.MakeErrReply("ERR value is not a valid float")
	}
	result := []byte(val.Add(delta).String())
	db.PutEntity(key, makeString(result))
	return resp.MakeBulkReply(result)
}

func execStrLen(db *DB, args [][]byte) resp.Reply {
	entity, exists := db.GetEntity(string(args[0]))
	if !exists {
		return resp.MakeIntReply(0)
	}
	if entity.Kind != obj.KindString {
		return &resp.WrongTypeErrReply{}
	}
	return resp.MakeIntReply(int64(entity.StringLen()))
}

func execAppend(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	bytes, errReply := db.GetAsString(key)
	if errReply != nil {
		return errReply
	}
	bytes = append(bytes, args[1]...)
	db.PutEntity(key, makeString(bytes))
	return resp.MakeIntReply(int64(len(bytes)))
}

func execSetRange(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	offset, ok := parseInt(args[1])
	if !ok || offset < 0 {
		return &resp.OutOfRangeErrReply{Msg: "ERR offset is out of range"}
	}
	patch := args[2]
	value, errReply := db.GetAsString(key)
	if errReply != nil {
		return errReply
	}
	if need := offset + int64(len(patch)); int64(len(value)) < need {
		grown := make([]byte, need)
		copy(grown, value)
		value = grown
	}
	copy(value[offset:], patch)
	db.PutEntity(key, makeString(value))
	return resp.MakeIntReply(int64(len(value)))
}

// execSubStr implements both SUBSTR and GETRANGE; the two differ only
// in name on this command surface.
func execSubStr(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	start, ok1 := parseInt(args[1])
	end, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	bytes, errReply := db.GetAsString(key)
	if errReply != nil {
		return errReply
	}
	if bytes == nil {
		return resp.MakeBulkReply([]byte{})
	}
	begin, stop := convertRange(start, end, int64(len(bytes)))
	if begin == -1 {
		return resp.MakeBulkReply([]byte{})
	}
	return resp.MakeBulkReply(bytes[begin:stop])
}

func init() {
	RegisterCommand("Get", execGet, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("Set", execSet, writeFirstKey, rollbackFirstKey, -3, FlagDenyOOM)
	RegisterCommand("SetNX", execSetNX, writeFirstKey, rollbackFirstKey, 3, FlagDenyOOM)
	RegisterCommand("SetEX", execSetEX, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
	RegisterCommand("PSetEX", execPSetEX, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
	RegisterCommand("GetSet", execGetSet, writeFirstKey, rollbackFirstKey, 3, FlagDenyOOM)
	RegisterCommand("MSet", execMSet, prepareMSet, undoMSet, -3, FlagDenyOOM)
	RegisterCommand("MSetNX", execMSetNX, prepareMSet, undoMSet, -3, FlagDenyOOM)
	RegisterCommand("MGet", execMGet, readAllKeys, nil, -2, FlagReadOnly)
	RegisterCommand("Incr", execIncr, writeFirstKey, rollbackFirstKey, 2, FlagDenyOOM)
	RegisterCommand("IncrBy", execIncrBy, writeFirstKey, rollbackFirstKey, 3, FlagDenyOOM)
	RegisterCommand("IncrByFloat", execIncrByFloat, writeFirstKey, rollbackFirstKey, 3, FlagDenyOOM)
	RegisterCommand("Decr", execDecr, writeFirstKey, rollbackFirstKey, 2, FlagDenyOOM)
	RegisterCommand("DecrBy", execDecrBy, writeFirstKey, rollbackFirstKey, 3, FlagDenyOOM)
	RegisterCommand("StrLen", execStrLen, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("Append", execAppend, writeFirstKey, rollbackFirstKey, 3, FlagDenyOOM)
	RegisterCommand("SetRange", execSetRange, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
	RegisterCommand("GetRange", execSubStr, readFirstKey, nil, 4, FlagReadOnly)
	RegisterCommand("SubStr", execSubStr, readFirstKey, nil, 4, FlagReadOnly)
}
