// List commands (spec.md §4.C/§6): O(1) push/pop at both ends, O(n)
// indexed access with tail-relative negative indexes, and the blocked
// waiter hand-off pushes perform (spec.md §4.K). Grounded on the
// teacher's list.go/list_cmd.go pair, folded into one file on the
// obj.Object keyspace.
package database

import (
	"github.com/nyxkv/corekv/internal/datastruct/list"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

func (db *DB) getAsList(key string) (*list.List, resp.ErrorReply) {
	entity, exists := db.GetEntity(key)
	if !exists {
		return nil, nil
	}
	if entity.Kind != obj.KindList {
		return nil, &resp.WrongTypeErrReply{}
	}
	return entity.Payload.(*list.List), nil
}

func (db *DB) getOrCreateList(key string) (*list.List, resp.ErrorReply) {
	l, errReply := db.getAsList(key)
	if errReply != nil {
		return nil, errReply
	}
	if l == nil {
		l = list.New()
		db.PutEntity(key, obj.New(obj.KindList, l))
	}
	return l, nil
}

func execLPush(db *DB, args [][]byte) resp.Reply {
	return execPush(db, args, true)
}

func execRPush(db *DB, args [][]byte) resp.Reply {
	return execPush(db, args, false)
}

func execPush(db *DB, args [][]byte, fromLeft bool) resp.Reply {
	key := string(args[0])
	l, errReply := db.getOrCreateList(key)
	if errReply != nil {
		return errReply
	}
	for _, value := range args[1:] {
		if fromLeft {
			l.LPush(value)
		} else {
			l.RPush(value)
		}
	}
	// the reply reflects the pushed state; delivery to blocked poppers
	// happens after (spec.md §4.K), so a push serving a waiter still
	// answers with the length it reached
	n := l.Len()
	for TryServeBlocked(db, key) {
	}
	if l.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeIntReply(int64(n))
}

func execLPop(db *DB, args [][]byte) resp.Reply {
	return execPop(db, args, true)
}

func execRPop(db *DB, args [][]byte) resp.Reply {
	return execPop(db, args, false)
}

func execPop(db *DB, args [][]byte, fromLeft bool) resp.Reply {
	key := string(args[0])
	l, errReply := db.getAsList(key)
	if errReply != nil {
		return errReply
	}
	if l == nil {
		return resp.MakeNullBulkReply()
	}
	var node *list.Node
	if fromLeft {
		node = l.LPop()
	} else {
		node = l.RPop()
	}
	if node == nil {
		return resp.MakeNullBulkReply()
	}
	if l.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeBulkReply(node.Value())
}

func execLLen(db *DB, args [][]byte) resp.Reply {
	l, errReply := db.getAsList(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if l == nil {
		return resp.MakeIntReply(0)
	}
	return resp.MakeIntReply(int64(l.Len()))
}

func execLIndex(db *DB, args [][]byte) resp.Reply {
	index, ok := parseInt(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	l, errReply := db.getAsList(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if l == nil {
		return resp.MakeNullBulkReply()
	}
	node := l.GetByIndex(int(index))
	if node == nil {
		return resp.MakeNullBulkReply()
	}
	return resp.MakeBulkReply(node.Value())
}

func execLSet(db *DB, args [][]byte) resp.Reply {
	index, ok := parseInt(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	l, errReply := db.getAsList(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if l == nil {
		return &resp.NoSuchKeyErrReply{}
	}
	if !l.Set(int(index), args[2]) {
		return &resp.OutOfRangeErrReply{Msg: "ERR index out of range"}
	}
	return resp.MakeOkReply()
}

func execLRange(db *DB, args [][]byte) resp.Reply {
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	l, errReply := db.getAsList(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if l == nil {
		return resp.MakeEmptyMultiBulkReply()
	}
	begin, end := convertRange(start, stop, int64(l.Len()))
	if begin == -1 {
		return resp.MakeEmptyMultiBulkReply()
	}
	return resp.MakeMultiBulkReply(l.Range(begin, end-1))
}

func execLTrim(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	l, errReply := db.getAsList(key)
	if errReply != nil {
		return errReply
	}
	if l == nil {
		return resp.MakeOkReply()
	}
	begin, end := convertRange(start, stop, int64(l.Len()))
	if begin == -1 {
		// empty range trims everything
		db.Remove(key)
		return resp.MakeOkReply()
	}
	for l.Len() > end {
		l.RPop()
	}
	for i := 0; i < begin; i++ {
		l.LPop()
	}
	if l.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeOkReply()
}

func execLRem(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	count, ok := parseInt(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	l, errReply := db.getAsList(key)
	if errReply != nil {
		return errReply
	}
	if l == nil {
		return resp.MakeIntReply(0)
	}
	removed := l.RemoveByValue(args[2], int(count))
	if l.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeIntReply(int64(removed))
}

func execRPopLPush(db *DB, args [][]byte) resp.Reply {
	srcKey := string(args[0])
	destKey := string(args[1])
	src, errReply := db.getAsList(srcKey)
	if errReply != nil {
		return errReply
	}
	if src == nil {
		return resp.MakeNullBulkReply()
	}
	// type-check the destination before popping, so a wrong-typed dest
	// leaves the source untouched
	dest, errReply := db.getAsList(destKey)
	if errReply != nil {
		return errReply
	}
	node := src.RPop()
	if node == nil {
		return resp.MakeNullBulkReply()
	}
	if dest == nil {
		dest = list.New()
		db.PutEntity(destKey, obj.New(obj.KindList, dest))
	}
	dest.LPush(node.Value())
	for TryServeBlocked(db, destKey) {
	}
	if src.Len() == 0 {
		db.Remove(srcKey)
	}
	if dest.Len() == 0 {
		db.Remove(destKey)
	}
	return resp.MakeBulkReply(node.Value())
}

func init() {
	RegisterCommand("LPush", execLPush, writeFirstKey, rollbackFirstKey, -3, FlagDenyOOM)
	RegisterCommand("RPush", execRPush, writeFirstKey, rollbackFirstKey, -3, FlagDenyOOM)
	RegisterCommand("LPop", execLPop, writeFirstKey, rollbackFirstKey, 2, FlagWrite)
	RegisterCommand("RPop", execRPop, writeFirstKey, rollbackFirstKey, 2, FlagWrite)
	RegisterCommand("LLen", execLLen, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("LIndex", execLIndex, readFirstKey, nil, 3, FlagReadOnly)
	RegisterCommand("LSet", execLSet, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
	RegisterCommand("LRange", execLRange, readFirstKey, nil, 4, FlagReadOnly)
	RegisterCommand("LTrim", execLTrim, writeFirstKey, rollbackFirstKey, 4, FlagWrite)
	RegisterCommand("LRem", execLRem, writeFirstKey, rollbackFirstKey, 4, FlagWrite)
	RegisterCommand("RPopLPush", execRPopLPush, prepareRename, undoRename, 3, FlagDenyOOM)
}
