// Set commands (spec.md §4.C/§6): O(1) membership, intersection
// scaled by the smallest operand, and the *STORE variants that write
// the computed result as a fresh set value at the destination key.
package database

import (
	"github.com/nyxkv/corekv/internal/datastruct/set"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

func (db *DB) getAsSet(key string) (*set.Set, resp.ErrorReply) {
	entity, exists := db.GetEntity(key)
	if !exists {
		return nil, nil
	}
	if entity.Kind != obj.KindSet {
		return nil, &resp.WrongTypeErrReply{}
	}
	return entity.Payload.(*set.Set), nil
}

func (db *DB) getOrCreateSet(key string) (*set.Set, resp.ErrorReply) {
	s, errReply := db.getAsSet(key)
	if errReply != nil {
		return nil, errReply
	}
	if s == nil {
		s = set.Make()
		db.PutEntity(key, obj.New(obj.KindSet, s))
	}
	return s, nil
}

func execSAdd(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	s, errReply := db.getOrCreateSet(key)
	if errReply != nil {
		return errReply
	}
	added := 0
	for _, member := range args[1:] {
		added += s.Add(string(member))
	}
	return resp.MakeIntReply(int64(added))
}

func execSRem(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	s, errReply := db.getAsSet(key)
	if errReply != nil {
		return errReply
	}
	if s == nil {
		return resp.MakeIntReply(0)
	}
	removed := 0
	for _, member := range args[1:] {
		removed += s.Remove(string(member))
	}
	if s.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeIntReply(int64(removed))
}

func execSMove(db *DB, args [][]byte) resp.Reply {
	srcKey := string(args[0])
	destKey := string(args[1])
	member := string(args[2])
	src, errReply := db.getAsSet(srcKey)
	if errReply != nil {
		return errReply
	}
	dest, errReply := db.getAsSet(destKey)
	if errReply != nil {
		return errReply
	}
	if src == nil || !src.Has(member) {
		return resp.MakeIntReply(0)
	}
	src.Remove(member)
	if src.Len() == 0 {
		db.Remove(srcKey)
	}
	if dest == nil {
		dest = set.Make()
		db.PutEntity(destKey, obj.New(obj.KindSet, dest))
	}
	dest.Add(member)
	return resp.MakeIntReply(1)
}

func execSIsMember(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getAsSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if s == nil || !s.Has(string(args[1])) {
		return resp.MakeIntReply(0)
	}
	return resp.MakeIntReply(1)
}

func execSCard(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getAsSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if s == nil {
		return resp.MakeIntReply(0)
	}
	return resp.MakeIntReply(int64(s.Len()))
}

func execSPop(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	s, errReply := db.getAsSet(key)
	if errReply != nil {
		return errReply
	}
	if s == nil {
		return resp.MakeNullBulkReply()
	}
	members := s.RandomDistinctMembers(1)
	if len(members) == 0 {
		return resp.MakeNullBulkReply()
	}
	s.Remove(members[0])
	if s.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeBulkReply([]byte(members[0]))
}

func execSRandMember(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getAsSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if len(args) == 1 {
		if s == nil {
			return resp.MakeNullBulkReply()
		}
		members := s.RandomMembers(1)
		return resp.MakeBulkReply([]byte(members[0]))
	}
	count, ok := parseInt(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	if s == nil {
		return resp.MakeEmptyMultiBulkReply()
	}
	var members []string
	if count >= 0 {
		members = s.RandomDistinctMembers(int(count))
	} else {
		members = s.RandomMembers(int(-count))
	}
	result := make([][]byte, len(members))
	for i, m := range members {
		result[i] = []byte(m)
	}
	return resp.MakeMultiBulkReply(result)
}

func execSMembers(db *DB, args [][]byte) resp.Reply {
	s, errReply := db.getAsSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if s == nil {
		return resp.MakeEmptyMultiBulkReply()
	}
	return setToReply(s)
}

func setToReply(s *set.Set) resp.Reply {
	result := make([][]byte, 0, s.Len())
	s.ForEach(func(member string) bool {
		result = append(result, []byte(member))
		return true
	})
	return resp.MakeMultiBulkReply(result)
}

type setOp func(a, b *set.Set) *set.Set

// calculateSets folds op across the named keys; an absent key is the
// empty set. op's cost profile is the engine's: intersection iterates
// the smaller operand (spec.md §4.C).
func calculateSets(db *DB, keys [][]byte, op setOp) (*set.Set, resp.ErrorReply) {
	var result *set.Set
	for _, key := range keys {
		s, errReply := db.getAsSet(string(key))
		if errReply != nil {
			return nil, errReply
		}
		if s == nil {
			s = set.Make()
		}
		if result == nil {
			result = set.Make(s.ToSlice()...)
			continue
		}
		result = op(result, s)
	}
	return result, nil
}

func execSInter(db *DB, args [][]byte) resp.Reply {
	result, errReply := calculateSets(db, args, (*set.Set).Intersect)
	if errReply != nil {
		return errReply
	}
	return setToReply(result)
}

func execSUnion(db *DB, args [][]byte) resp.Reply {
	result, errReply := calculateSets(db, args, (*set.Set).Union)
	if errReply != nil {
		return errReply
	}
	return setToReply(result)
}

func execSDiff(db *DB, args [][]byte) resp.Reply {
	result, errReply := calculateSets(db, args, (*set.Set).Diff)
	if errReply != nil {
		return errReply
	}
	return setToReply(result)
}

func storeSetResult(db *DB, destKey string, result *set.Set) resp.Reply {
	if result.Len() == 0 {
		db.Removes(destKey)
		return resp.MakeIntReply(0)
	}
	db.PutEntity(destKey, obj.New(obj.KindSet, result))
	return resp.MakeIntReply(int64(result.Len()))
}

func execSInterStore(db *DB, args [][]byte) resp.Reply {
	result, errReply := calculateSets(db, args[1:], (*set.Set).Intersect)
	if errReply != nil {
		return errReply
	}
	return storeSetResult(db, string(args[0]), result)
}

func execSUnionStore(db *DB, args [][]byte) resp.Reply {
	result, errReply := calculateSets(db, args[1:], (*set.Set).Union)
	if errReply != nil {
		return errReply
	}
	return storeSetResult(db, string(args[0]), result)
}

func execSDiffStore(db *DB, args [][]byte) resp.Reply {
	result, errReply := calculateSets(db, args[1:], (*set.Set).Diff)
	if errReply != nil {
		return errReply
	}
	return storeSetResult(db, string(args[0]), result)
}

func init() {
	RegisterCommand("SAdd", execSAdd, writeFirstKey, rollbackFirstKey, -3, FlagDenyOOM)
	RegisterCommand("SRem", execSRem, writeFirstKey, rollbackFirstKey, -3, FlagWrite)
	RegisterCommand("SMove", execSMove, prepareRename, undoRename, 4, FlagWrite)
	RegisterCommand("SIsMember", execSIsMember, readFirstKey, nil, 3, FlagReadOnly)
	RegisterCommand("SCard", execSCard, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("SPop", execSPop, writeFirstKey, rollbackFirstKey, 2, FlagWrite)
	RegisterCommand("SRandMember", execSRandMember, readFirstKey, nil, -2, FlagReadOnly)
	RegisterCommand("SMembers", execSMembers, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("SInter", execSInter, readAllKeys, nil, -2, FlagReadOnly)
	RegisterCommand("SInterStore", execSInterStore, prepareStoreCalculate, rollbackFirstKey, -3, FlagDenyOOM)
	RegisterCommand("SUnion", execSUnion, readAllKeys, nil, -2, FlagReadOnly)
	RegisterCommand("SUnionStore", execSUnionStore, prepareStoreCalculate, rollbackFirstKey, -3, FlagDenyOOM)
	RegisterCommand("SDiff", execSDiff, readAllKeys, nil, -2, FlagReadOnly)
	RegisterCommand("SDiffStore", execSDiffStore, prepareStoreCalculate, rollbackFirstKey, -3, FlagDenyOOM)
}
