// Sorted-set commands (spec.md §4.C/§6), driving the dual
// map+skiplist structure in internal/datastruct/sortedset: O(log n)
// add/remove/rank, O(log n + m) ranged queries, and the aggregate
// ZUNION/ZINTER store forms. ZADD and ZINCRBY share one primitive,
// parameterized by increment-or-replace (spec.md §4.C).
package database

import (
	"strconv"
	"strings"

	"github.com/nyxkv/corekv/internal/datastruct/sortedset"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

func (db *DB) getAsSortedSet(key string) (*sortedset.SortedSet, resp.ErrorReply) {
	entity, exists := db.GetEntity(key)
	if !exists {
		return nil, nil
	}
	if entity.Kind != obj.KindZSet {
		return nil, &resp.WrongTypeErrReply{}
	}
	return entity.Payload.(*sortedset.SortedSet), nil
}

func (db *DB) getOrCreateSortedSet(key string) (*sortedset.SortedSet, resp.ErrorReply) {
	z, errReply := db.getAsSortedSet(key)
	if errReply != nil {
		return nil, errReply
	}
	if z == nil {
		z = sortedset.Make()
		db.PutEntity(key, obj.New(obj.KindZSet, z))
	}
	return z, nil
}

func parseScore(b []byte) (float64, bool) {
	score, err := strconv.ParseFloat(string(b), 64)
	return score, err == nil
}

// zadd is the shared ZADD/ZINCRBY primitive: increment == false
// replaces the member's score outright, increment == true adds to it.
func zadd(db *DB, key string, member string, score float64, increment bool) (float64, bool) {
	z, _ := db.getOrCreateSortedSet(key)
	if increment {
		if old, ok := z.Get(member); ok {
			score += old.Score
		}
	}
	added := z.Add(member, score)
	return score, added
}

func execZAdd(db *DB, args [][]byte) resp.Reply {
	if len(args)%2 != 1 {
		return resp.MakeArgNumErrReply("zadd")
	}
	key := string(args[0])
	if _, errReply := db.getAsSortedSet(key); errReply != nil {
		return errReply
	}
	pairs := args[1:]
	// validate every score before mutating anything
	scores := make([]float64, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		score, ok := parseScore(pairs[i])
		if !ok {
			return resp.MakeErrReply("ERR value is not a valid float")
		}
		scores[i/2] = score
	}
	added := int64(0)
	for i := 0; i < len(pairs); i += 2 {
		if _, isNew := zadd(db, key, string(pairs[i+1]), scores[i/2], false); isNew {
			added++
		}
	}
	return resp.MakeIntReply(added)
}

func execZIncrBy(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	delta, ok := parseScore(args[1])
	if !ok {
		return resp.MakeErrReply("ERR value is not a valid float")
	}
	if _, errReply := db.getAsSortedSet(key); errReply != nil {
		return errReply
	}
	score, _ := zadd(db, key, string(args[2]), delta, true)
	return resp.MakeBulkReply([]byte(strconv.FormatFloat(score, 'f', -1, 64)))
}

func execZRem(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	z, errReply := db.getAsSortedSet(key)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeIntReply(0)
	}
	removed := int64(0)
	for _, member := range args[1:] {
		if z.Remove(string(member)) {
			removed++
		}
	}
	if z.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeIntReply(removed)
}

func execZScore(db *DB, args [][]byte) resp.Reply {
	z, errReply := db.getAsSortedSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeNullBulkReply()
	}
	element, ok := z.Get(string(args[1]))
	if !ok {
		return resp.MakeNullBulkReply()
	}
	return resp.MakeBulkReply([]byte(strconv.FormatFloat(element.Score, 'f', -1, 64)))
}

func execZCard(db *DB, args [][]byte) resp.Reply {
	z, errReply := db.getAsSortedSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeIntReply(0)
	}
	return resp.MakeIntReply(z.Len())
}

func execZRank(db *DB, args [][]byte) resp.Reply {
	return zRank(db, args, false)
}

func execZRevRank(db *DB, args [][]byte) resp.Reply {
	return zRank(db, args, true)
}

func zRank(db *DB, args [][]byte, desc bool) resp.Reply {
	z, errReply := db.getAsSortedSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeNullBulkReply()
	}
	rank := z.GetRank(string(args[1]), desc)
	if rank < 0 {
		return resp.MakeNullBulkReply()
	}
	return resp.MakeIntReply(rank)
}

func execZCount(db *DB, args [][]byte) resp.Reply {
	min, err := sortedset.ParseScoreBorder(string(args[1]))
	if err != nil {
		return resp.MakeErrReply(err.Error())
	}
	max, err := sortedset.ParseScoreBorder(string(args[2]))
	if err != nil {
		return resp.MakeErrReply(err.Error())
	}
	z, errReply := db.getAsSortedSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeIntReply(0)
	}
	return resp.MakeIntReply(z.Count(min, max))
}

func execZRange(db *DB, args [][]byte) resp.Reply {
	return zRangeByRank(db, args, false)
}

func execZRevRange(db *DB, args [][]byte) resp.Reply {
	return zRangeByRank(db, args, true)
}

func zRangeByRank(db *DB, args [][]byte, desc bool) resp.Reply {
	withScores := false
	if len(args) == 4 {
		if !strings.EqualFold(string(args[3]), "WITHSCORES") {
			return &resp.SyntaxErrReply{}
		}
		withScores = true
	} else if len(args) != 3 {
		return resp.MakeArgNumErrReply("zrange")
	}
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	z, errReply := db.getAsSortedSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeEmptyMultiBulkReply()
	}
	begin, end := convertRange(start, stop, z.Len())
	if begin == -1 {
		return resp.MakeEmptyMultiBulkReply()
	}
	elements := z.Range(int64(begin), int64(end), desc)
	return elementsToReply(elements, withScores)
}

func elementsToReply(elements []*sortedset.Element, withScores bool) resp.Reply {
	n := len(elements)
	if withScores {
		n *= 2
	}
	result := make([][]byte, 0, n)
	for _, e := range elements {
		result = append(result, []byte(e.Member))
		if withScores {
			result = append(result, []byte(strconv.FormatFloat(e.Score, 'f', -1, 64)))
		}
	}
	return resp.MakeMultiBulkReply(result)
}

func execZRangeByScore(db *DB, args [][]byte) resp.Reply {
	min, err := sortedset.ParseScoreBorder(string(args[1]))
	if err != nil {
		return resp.MakeErrReply(err.Error())
	}
	max, err := sortedset.ParseScoreBorder(string(args[2]))
	if err != nil {
		return resp.MakeErrReply(err.Error())
	}
	withScores := false
	offset, limit := int64(0), int64(-1)
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "WITHSCORES":
			withScores = true
		case "LIMIT":
			if i+2 >= len(args) {
				return &resp.SyntaxErrReply{}
			}
			var ok1, ok2 bool
			offset, ok1 = parseInt(args[i+1])
			limit, ok2 = parseInt(args[i+2])
			if !ok1 || !ok2 {
				return &resp.SyntaxErrReply{}
			}
			i += 2
		default:
			return &resp.SyntaxErrReply{}
		}
	}
	z, errReply := db.getAsSortedSet(string(args[0]))
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeEmptyMultiBulkReply()
	}
	elements := z.RangeByScore(min, max, offset, limit, false)
	return elementsToReply(elements, withScores)
}

func execZRemRangeByScore(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	min, err := sortedset.ParseScoreBorder(string(args[1]))
	if err != nil {
		return resp.MakeErrReply(err.Error())
	}
	max, err := sortedset.ParseScoreBorder(string(args[2]))
	if err != nil {
		return resp.MakeErrReply(err.Error())
	}
	z, errReply := db.getAsSortedSet(key)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeIntReply(0)
	}
	removed := z.RemoveByScore(min, max)
	if z.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeIntReply(removed)
}

func execZRemRangeByRank(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return resp.MakeErrReply("ERR value is not an integer or out of range")
	}
	z, errReply := db.getAsSortedSet(key)
	if errReply != nil {
		return errReply
	}
	if z == nil {
		return resp.MakeIntReply(0)
	}
	begin, end := convertRange(start, stop, z.Len())
	if begin == -1 {
		return resp.MakeIntReply(0)
	}
	removed := z.RemoveByRank(int64(begin), int64(end))
	if z.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeIntReply(removed)
}

type zAggregate int

const (
	aggSum zAggregate = iota
	aggMin
	aggMax
)

// zStore implements ZUNION and ZINTER's store form: destination,
// numkeys, source keys, optional WEIGHTS and AGGREGATE clauses.
func zStore(db *DB, args [][]byte, intersect bool) resp.Reply {
	destKey := string(args[0])
	numKeys, ok := parseInt(args[1])
	if !ok || numKeys <= 0 || int64(len(args)) < 2+numKeys {
		return &resp.SyntaxErrReply{}
	}
	srcKeys := make([]string, numKeys)
	for i := range srcKeys {
		srcKeys[i] = string(args[2+i])
	}
	weights := make([]float64, numKeys)
	for i := range weights {
		weights[i] = 1
	}
	agg := aggSum
	for i := 2 + int(numKeys); i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "WEIGHTS":
			if i+int(numKeys) >= len(args) {
				return &resp.SyntaxErrReply{}
			}
			for j := 0; j < int(numKeys); j++ {
				w, ok := parseScore(args[i+1+j])
				if !ok {
					return resp.MakeErrReply("ERR weight value is not a float")
				}
				weights[j] = w
			}
			i += int(numKeys)
		case "AGGREGATE":
			if i+1 >= len(args) {
				return &resp.SyntaxErrReply{}
			}
			switch strings.ToUpper(string(args[i+1])) {
			case "SUM":
				agg = aggSum
			case "MIN":
				agg = aggMin
			case "MAX":
				agg = aggMax
			default:
				return &resp.SyntaxErrReply{}
			}
			i++
		default:
			return &resp.SyntaxErrReply{}
		}
	}

	scores := make(map[string]float64)
	counts := make(map[string]int)
	for i, srcKey := range srcKeys {
		z, errReply := db.getAsSortedSet(srcKey)
		if errReply != nil {
			return errReply
		}
		if z == nil {
			continue
		}
		z.ForEach(0, z.Len(), false, func(e *sortedset.Element) bool {
			weighted := e.Score * weights[i]
			if old, seen := scores[e.Member]; seen {
				switch agg {
				case aggSum:
					scores[e.Member] = old + weighted
				case aggMin:
					if weighted < old {
						scores[e.Member] = weighted
					}
				case aggMax:
					if weighted > old {
						scores[e.Member] = weighted
					}
				}
			} else {
				scores[e.Member] = weighted
			}
			counts[e.Member]++
			return true
		})
	}

	result := sortedset.Make()
	for member, score := range scores {
		if intersect && counts[member] != len(srcKeys) {
			continue
		}
		result.Add(member, score)
	}
	if result.Len() == 0 {
		db.Removes(destKey)
		return resp.MakeIntReply(0)
	}
	db.PutEntity(destKey, obj.New(obj.KindZSet, result))
	return resp.MakeIntReply(result.Len())
}

func execZUnionStore(db *DB, args [][]byte) resp.Reply {
	return zStore(db, args, false)
}

func execZInterStore(db *DB, args [][]byte) resp.Reply {
	return zStore(db, args, true)
}

func prepareZStore(args [][]byte) ([]string, []string) {
	dest := string(args[0])
	numKeys, ok := parseInt(args[1])
	if !ok || numKeys <= 0 || int64(len(args)) < 2+numKeys {
		return []string{dest}, nil
	}
	read := make([]string, numKeys)
	for i := range read {
		read[i] = string(args[2+i])
	}
	return []string{dest}, read
}

func init() {
	RegisterCommand("ZAdd", execZAdd, writeFirstKey, rollbackFirstKey, -4, FlagDenyOOM)
	RegisterCommand("ZIncrBy", execZIncrBy, writeFirstKey, rollbackFirstKey, 4, FlagDenyOOM)
	RegisterCommand("ZRem", execZRem, writeFirstKey, rollbackFirstKey, -3, FlagWrite)
	RegisterCommand("ZScore", execZScore, readFirstKey, nil, 3, FlagReadOnly)
	RegisterCommand("ZCard", execZCard, readFirstKey, nil, 2, FlagReadOnly)
	RegisterCommand("ZRank", execZRank, readFirstKey, nil, 3, FlagReadOnly)
	RegisterCommand("ZRevRank", execZRevRank, readFirstKey, nil, 3, FlagReadOnly)
	RegisterCommand("ZCount", execZCount, readFirstKey, nil, 4, FlagReadOnly)
	RegisterCommand("ZRange", execZRange, readFirstKey, nil, -4, FlagReadOnly)
	RegisterCommand("ZRevRange", execZRevRange, readFirstKey, nil, -4, FlagReadOnly)
	RegisterCommand("ZRangeByScore", execZRangeByScore, readFirstKey, nil, -4, FlagReadOnly)
	RegisterCommand("ZRemRangeByScore", execZRemRangeByScore, writeFirstKey, rollbackFirstKey, 4, FlagWrite)
	RegisterCommand("ZRemRangeByRank", execZRemRangeByRank, writeFirstKey, rollbackFirstKey, 4, FlagWrite)
	RegisterCommand("ZUnion", execZUnionStore, prepareZStore, rollbackFirstKey, -4, FlagDenyOOM)
	RegisterCommand("ZInter", execZInterStore, prepareZStore, rollbackFirstKey, -4, FlagDenyOOM)
	RegisterCommand("ZUnionStore", execZUnionStore, prepareZStore, rollbackFirstKey, -4, FlagDenyOOM)
	RegisterCommand("ZInterStore", execZInterStore, prepareZStore, rollbackFirstKey, -4, FlagDenyOOM)
}
