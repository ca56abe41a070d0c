// Hash commands (spec.md §3/§4.C/§6). A small hash lives in the
// compact zipmap encoding; the first write that pushes it past
// hash-max-zipmap-entries entries or hash-max-zipmap-value bytes per
// element converts it to a plain hashtable, one way only.
package database

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nyxkv/corekv/internal/datastruct/zipmap"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

// Zipmap conversion watermarks, overwritten from the config file by
// the owning Server (hash-max-zipmap-entries / hash-max-zipmap-value).
var (
	HashMaxZipmapEntries = 64
	HashMaxZipmapValue   = 512
)

func (db *DB) getAsHash(key string) (*obj.Object, resp.ErrorReply) {
	entity, exists := db.GetEntity(key)
	if !exists {
		return nil, nil
	}
	if entity.Kind != obj.KindHash {
		return nil, &resp.WrongTypeErrReply{}
	}
	return entity, nil
}

func (db *DB) getOrCreateHash(key string) (*obj.Object, resp.ErrorReply) {
	entity, errReply := db.getAsHash(key)
	if errReply != nil {
		return nil, errReply
	}
	if entity == nil {
		entity = obj.New(obj.KindHash, zipmap.New())
		entity.Encoding = obj.EncZipmap
		db.PutEntity(key, entity)
	}
	return entity, nil
}

func hashLen(entity *obj.Object) int {
	if zm, ok := entity.Payload.(*zipmap.Zipmap); ok {
		return zm.Len()
	}
	return len(entity.Payload.(map[string][]byte))
}

func hashGet(entity *obj.Object, field []byte) ([]byte, bool) {
	if zm, ok := entity.Payload.(*zipmap.Zipmap); ok {
		return zm.Get(field)
	}
	v, ok := entity.Payload.(map[string][]byte)[string(field)]
	return v, ok
}

func hashDelete(entity *obj.Object, field []byte) bool {
	if zm, ok := entity.Payload.(*zipmap.Zipmap); ok {
		return zm.Delete(field)
	}
	m := entity.Payload.(map[string][]byte)
	if _, ok := m[string(field)]; !ok {
		return false
	}
	delete(m, string(field))
	return true
}

func hashForEach(entity *obj.Object, fn func(field, value []byte) bool) {
	if zm, ok := entity.Payload.(*zipmap.Zipmap); ok {
		zm.ForEach(fn)
		return
	}
	for field, value := range entity.Payload.(map[string][]byte) {
		if !fn([]byte(field), value) {
			return
		}
	}
}

// hashSet inserts or updates a field, converting the zipmap encoding
// to a hashtable when the write crosses either watermark. Returns true
// if the field was newly added.
func hashSet(entity *obj.Object, field, value []byte) bool {
	if zm, ok := entity.Payload.(*zipmap.Zipmap); ok {
		added := zm.Set(field, value)
		if zm.Len() > HashMaxZipmapEntries ||
			len(field) > HashMaxZipmapValue || len(value) > HashMaxZipmapValue {
			m := make(map[string][]byte, zm.Len())
			zm.ForEach(func(f, v []byte) bool {
				m[string(f)] = v
				return true
			})
			entity.Payload = m
			entity.Encoding = obj.EncHashtable
		}
		return added
	}
	m := entity.Payload.(map[string][]byte)
	_, exists := m[string(field)]
	m[string(field)] = value
	return !exists
}

func execHSet(db *DB, args [][]byte) resp.Reply {
	entity, errReply := db.getOrCreateHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if hashSet(entity, args[1], args[2]) {
		return resp.MakeIntReply(1)
	}
	return resp.MakeIntReply(0)
}

func execHSetNX(db *DB, args [][]byte) resp.Reply {
	entity, errReply := db.getOrCreateHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if _, exists := hashGet(entity, args[1]); exists {
		return resp.MakeIntReply(0)
	}
	hashSet(entity, args[1], args[2])
	return resp.MakeIntReply(1)
}

func execHMSet(db *DB, args [][]byte) resp.Reply {
	if len(args)%2 != 1 {
		return resp.MakeArgNumErrReply("hmset")
	}
	entity, errReply := db.getOrCreateHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	for i := 1; i < len(args); i += 2 {
		hashSet(entity, args[i], args[i+1])
	}
	return resp.MakeOkReply()
}

func execHGet(db *DB, args [][]byte) resp.Reply {
	entity, errReply := db.getAsHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if entity == nil {
		return resp.MakeNullBulkReply()
	}
	value, ok := hashGet(entity, args[1])
	if !ok {
		return resp.MakeNullBulkReply()
	}
	return resp.MakeBulkReply(value)
}

func execHExists(db *DB, args [][]byte) resp.Reply {
	entity, errReply := db.getAsHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if entity == nil {
		return resp.MakeIntReply(0)
	}
	if _, ok := hashGet(entity, args[1]); ok {
		return resp.MakeIntReply(1)
	}
	return resp.MakeIntReply(0)
}

func execHDel(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	entity, errReply := db.getAsHash(key)
	if errReply != nil {
		return errReply
	}
	if entity == nil {
		return resp.MakeIntReply(0)
	}
	deleted := 0
	for _, field := range args[1:] {
		if hashDelete(entity, field) {
			deleted++
		}
	}
	if hashLen(entity) == 0 {
		db.Remove(key)
	}
	return resp.MakeIntReply(int64(deleted))
}

func execHLen(db *DB, args [][]byte) resp.Reply {
	entity, errReply := db.getAsHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if entity == nil {
		return resp.MakeIntReply(0)
	}
	return resp.MakeIntReply(int64(hashLen(entity)))
}

func execHKeys(db *DB, args [][]byte) resp.Reply {
	return hashDump(db, args, true, false)
}

func execHVals(db *DB, args [][]byte) resp.Reply {
	return hashDump(db, args, false, true)
}

func execHGetAll(db *DB, args [][]byte) resp.Reply {
	return hashDump(db, args, true, true)
}

func hashDump(db *DB, args [][]byte, withKeys, withVals bool) resp.Reply {
	entity, errReply := db.getAsHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if entity == nil {
		return resp.MakeEmptyMultiBulkReply()
	}
	result := make([][]byte, 0, hashLen(entity)*2)
	hashForEach(entity, func(field, value []byte) bool {
		if withKeys {
			result = append(result, field)
		}
		if withVals {
			result = append(result, value)
		}
		return true
	})
	return resp.MakeMultiBulkReply(result)
}

func execHIncrBy(db *DB, args [][]byte) resp.Reply {
	delta, ok := parseInt(args[2])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	entity, errReply := db.getOrCreateHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	val := int64(0)
	if raw, exists := hashGet(entity, args[1]); exists {
		var err error
		val, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return resp.MakeErrReply("ERR hash value is not an integer")
		}
	}
	val += delta
	hashSet(entity, args[1], []byte(strconv.FormatInt(val, 10)))
	return resp.MakeIntReply(val)
}

func execHIncrByFloat(db *DB, args [][]byte) resp.Reply {
	delta, err := decimal.NewFromString(string(args[2]))
	if err != nil {
		return resp.MakeErrReply("ERR value is not a valid float")
	}
	entity, errReply := db.getOrCreateHash(string(args[0]))
	if errReply != nil {
		return errReply
	}
	val := decimal.Zero
	if raw, exists := hashGet(entity, args[1]); exists {
		val, err = decimal.NewFromString(string(raw))
		if err != nil {
			return resp.MakeErrReply("ERR hash value is not a float")
		}
	}
	result := []byte(val.Add(delta).String())
	hashSet(entity, args[1], result)
	return resp.MakeBulkReply(result)
}

func init() {
	RegisterCommand("HSet", execHSet, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
	RegisterCommand("HSetNX", execHSetNX, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
	RegisterCommand("HMSet", execHMSet, writeFirstKey, rollbackFirstKey, -4, FlagDenyOOM)
	RegisterCommand("HGet", execHGet, readFirstKey, nil, 3, FlagReadOnly)
	RegisterCommand("HExists", execHExists, readFirstKey, nil, 3, FlagReadOnly)
	RegisterCommand("HDel", execHDel, writeFirstKey, rollbackFirstKey, -3, FlagWrite)
	RegisterCommand("HLen", execHLen, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("HKeys", execHKeys, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("HVals", execHVals, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("HGetAll", execHGetAll, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("HIncrBy", execHIncrBy, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
	RegisterCommand("HIncrByFloat", execHIncrByFloat, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
}
