// Blocking list pops (spec.md §3/§4.K): BLPOP/BRPOP park a client on
// one or more keys instead of blocking the single dispatcher goroutine
// — the goroutine that runs every command must never block on a
// client's behalf, per spec.md §5. A blocked client is recorded in
// DB.blocked and released either by a later push command
// (TryServeBlocked, called by RPUSH/LPUSH's executors) or by the
// deadline sweep internal/aeloop runs every cron tick
// (SweepBlockedDeadlines). Grounded on
// qinran6271-codecrafters-redis-go/app/blocking.go's per-key FIFO
// waiter-list shape, generalized from a single always-blocking
// goroutine design to the deferred-reply protocol the single-threaded
// event loop needs.
package database

import (
	"strconv"
	"time"

	"github.com/nyxkv/corekv/internal/datastruct/list"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

// waiter is one client parked on one or more keys.
type waiter struct {
	client   Client
	keys     []string
	deadline time.Time // zero means block forever
	fromLeft bool      // true for BLPOP, false for BRPOP
	done     bool
}

// DeferredReply is returned by a blocking command's executor to tell
// the caller "do not reply yet" — spec.md §4.F's event loop driver
// must recognize this type and skip writing anything to the client
// until TryServeBlocked or the deadline sweep produces a real reply.
type DeferredReply struct{}

func (DeferredReply) ToBytes() []byte { return nil }

// ExecBlockingPop runs BLPOP (fromLeft) or BRPOP against db on behalf
// of c, intercepted directly in DB.Exec rather than registered as a
// normal ExecFunc, since it is the one command family that needs the
// calling client's identity to park it — a plain ExecFunc only sees
// the argument vector. A client replayed without a live connection
// (AOF/scripts) never blocks: it is handed resp.MakeNullMultiBulkReply
// immediately instead of a DeferredReply.
func ExecBlockingPop(db *DB, c Client, args [][]byte, fromLeft bool) resp.Reply {
	if len(args) < 2 {
		return &resp.ArgNumErrReply{Cmd: "blpop"}
	}
	keys := make([]string, len(args)-1)
	for i := 0; i < len(args)-1; i++ {
		keys[i] = string(args[i])
	}
	timeoutSec, err := strconv.ParseFloat(string(args[len(args)-1]), 64)
	if err != nil || timeoutSec < 0 {
		return &resp.OutOfRangeErrReply{Msg: "ERR timeout is not a float or out of range"}
	}

	for _, key := range keys {
		if reply := popOne(db, key, fromLeft); reply != nil {
			if !resp.IsErrorReply(reply) {
				db.AddAof(popCmdLine(key, fromLeft))
			}
			return reply
		}
	}

	if c == nil {
		return resp.MakeNullMultiBulkReply()
	}

	var deadline time.Time
	if timeoutSec > 0 {
		deadline = time.Now().Add(time.Duration(timeoutSec * float64(time.Second)))
	}
	w := &waiter{client: c, keys: keys, deadline: deadline, fromLeft: fromLeft}
	for _, key := range keys {
		db.blocked[key] = append(db.blocked[key], w)
	}
	return DeferredReply{}
}

func popOne(db *DB, key string, fromLeft bool) resp.Reply {
	o, exists := db.GetEntity(key)
	if !exists {
		return nil
	}
	if o.Kind != obj.KindList {
		return &resp.WrongTypeErrReply{}
	}
	l := o.Payload.(*list.List)
	var node *list.Node
	if fromLeft {
		node = l.LPop()
	} else {
		node = l.RPop()
	}
	if node == nil {
		return nil
	}
	if l.Len() == 0 {
		db.Remove(key)
	}
	return resp.MakeMultiBulkReply([][]byte{[]byte(key), node.Value()})
}

// TryServeBlocked delivers the newly pushed item at key to the
// longest-waiting client blocked on it, if any, and reports whether a
// delivery happened. Called by RPUSH/LPUSH immediately after pushing,
// before the push command's own reply is computed, matching spec.md
// §4.K's "first waiter to arrive is served first" rule.
func TryServeBlocked(db *DB, key string) bool {
	queue := db.blocked[key]
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]
		if w.done || w.client == nil {
			continue
		}
		reply := popOne(db, key, w.fromLeft)
		if reply == nil {
			// nothing left to deliver: w keeps its place at the head
			queue = append([]*waiter{w}, queue...)
			break
		}
		w.done = true
		// removeWaiterFromAllKeys rewrites db.blocked[key] without w
		removeWaiterFromAllKeys(db, w)
		_ = w.client.Write(reply.ToBytes())
		// the delivered element must vanish on replicas and in the
		// journal too, since the push that carried it was propagated
		db.AddAof(popCmdLine(key, w.fromLeft))
		return true
	}
	db.blocked[key] = queue
	if len(queue) == 0 {
		delete(db.blocked, key)
	}
	return false
}

func popCmdLine(key string, fromLeft bool) CmdLine {
	if fromLeft {
		return toCmdLineS("LPOP", key)
	}
	return toCmdLineS("RPOP", key)
}

func removeWaiterFromAllKeys(db *DB, w *waiter) {
	for _, key := range w.keys {
		q := db.blocked[key]
		out := q[:0]
		for _, other := range q {
			if other != w {
				out = append(out, other)
			}
		}
		if len(out) == 0 {
			delete(db.blocked, key)
		} else {
			db.blocked[key] = out
		}
	}
}

// SweepBlockedDeadlines evicts every waiter whose deadline has
// passed, replying with a null multi-bulk (spec.md §4.K). Called once
// per internal/aeloop cron tick.
func SweepBlockedDeadlines(db *DB) {
	now := time.Now()
	seen := make(map[*waiter]bool)
	for key, queue := range db.blocked {
		for _, w := range queue {
			if seen[w] || w.done || w.deadline.IsZero() || now.Before(w.deadline) {
				continue
			}
			seen[w] = true
			w.done = true
			if w.client != nil {
				_ = w.client.Write(resp.MakeNullMultiBulkReply().ToBytes())
			}
		}
		_ = key
	}
	for w := range seen {
		removeWaiterFromAllKeys(db, w)
	}
}

// In-EXEC variants: a transaction must never park its client, so the
// table entries run the non-blocking path (nil client falls straight
// through to the null reply).
func execBLPopNoBlock(db *DB, args [][]byte) resp.Reply {
	return ExecBlockingPop(db, nil, args, true)
}

func execBRPopNoBlock(db *DB, args [][]byte) resp.Reply {
	return ExecBlockingPop(db, nil, args, false)
}

func prepareBlockingPop(args [][]byte) ([]string, []string) {
	keys := make([]string, 0, len(args)-1)
	for _, arg := range args[:len(args)-1] {
		keys = append(keys, string(arg))
	}
	return keys, nil
}

func undoBlockingPop(db *DB, args [][]byte) []CmdLine {
	write, _ := prepareBlockingPop(args)
	return rollbackGivenKeys(db, write...)
}

func init() {
	RegisterCommand("BLPop", execBLPopNoBlock, prepareBlockingPop, undoBlockingPop, -3, FlagSelfAof)
	RegisterCommand("BRPop", execBRPopNoBlock, prepareBlockingPop, undoBlockingPop, -3, FlagSelfAof)
}
