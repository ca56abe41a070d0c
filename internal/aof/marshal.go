package aof

import (
	"strconv"
	"time"

	"github.com/nyxkv/corekv/internal/datastruct/list"
	"github.com/nyxkv/corekv/internal/datastruct/set"
	"github.com/nyxkv/corekv/internal/datastruct/sortedset"
	"github.com/nyxkv/corekv/internal/datastruct/zipmap"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

// EntityToCmd serializes a value object as the single command line
// that recreates it: the minimal per-key journal form the background
// rewrite emits (spec.md §4.H) and the undo log snapshots from.
func EntityToCmd(key string, entity *obj.Object) *resp.MultiBulkReply {
	if entity == nil {
		return nil
	}
	switch entity.Kind {
	case obj.KindString:
		return stringToCmd(key, entity.Decode())
	case obj.KindList:
		return listToCmd(key, entity.Payload.(*list.List))
	case obj.KindSet:
		return setToCmd(key, entity.Payload.(*set.Set))
	case obj.KindHash:
		return hashToCmd(key, entity)
	case obj.KindZSet:
		return zSetToCmd(key, entity.Payload.(*sortedset.SortedSet))
	}
	return nil
}

var setCmd = []byte("SET")

func stringToCmd(key string, bytes []byte) *resp.MultiBulkReply {
	return resp.MakeMultiBulkReply([][]byte{setCmd, []byte(key), bytes})
}

var rPushCmd = []byte("RPUSH")

func listToCmd(key string, l *list.List) *resp.MultiBulkReply {
	args := make([][]byte, 2, 2+l.Len())
	args[0] = rPushCmd
	args[1] = []byte(key)
	l.ForEach(func(val []byte) bool {
		args = append(args, val)
		return true
	})
	return resp.MakeMultiBulkReply(args)
}

var sAddCmd = []byte("SADD")

func setToCmd(key string, s *set.Set) *resp.MultiBulkReply {
	args := make([][]byte, 2, 2+s.Len())
	args[0] = sAddCmd
	args[1] = []byte(key)
	s.ForEach(func(member string) bool {
		args = append(args, []byte(member))
		return true
	})
	return resp.MakeMultiBulkReply(args)
}

var hMSetCmd = []byte("HMSET")

// hashToCmd handles both hash encodings: the compact zipmap form and
// the hashtable form a converted hash uses (spec.md §3).
func hashToCmd(key string, entity *obj.Object) *resp.MultiBulkReply {
	args := make([][]byte, 2, 8)
	args[0] = hMSetCmd
	args[1] = []byte(key)
	switch h := entity.Payload.(type) {
	case *zipmap.Zipmap:
		h.ForEach(func(field, val []byte) bool {
			args = append(args, field, val)
			return true
		})
	case map[string][]byte:
		for field, val := range h {
			args = append(args, []byte(field), val)
		}
	default:
		return nil
	}
	return resp.MakeMultiBulkReply(args)
}

var zAddCmd = []byte("ZADD")

func zSetToCmd(key string, zset *sortedset.SortedSet) *resp.MultiBulkReply {
	args := make([][]byte, 2, 2+zset.Len()*2)
	args[0] = zAddCmd
	args[1] = []byte(key)
	zset.ForEach(0, zset.Len(), false, func(element *sortedset.Element) bool {
		score := strconv.FormatFloat(element.Score, 'f', -1, 64)
		args = append(args, []byte(score), []byte(element.Member))
		return true
	})
	return resp.MakeMultiBulkReply(args)
}

var expireAtCmd = []byte("EXPIREAT")

// MakeExpireCmd emits the EXPIREAT line a relative EXPIRE is journaled
// as, so replay is time-invariant (spec.md §4.H).
func MakeExpireCmd(key string, expireAt time.Time) *resp.MultiBulkReply {
	args := make([][]byte, 3)
	args[0] = expireAtCmd
	args[1] = []byte(key)
	args[2] = []byte(strconv.FormatInt(expireAt.Unix(), 10))
	return resp.MakeMultiBulkReply(args)
}
