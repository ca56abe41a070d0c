package database

import (
	"testing"

	"github.com/nyxkv/corekv/internal/connection"
	"github.com/nyxkv/corekv/internal/resp"
)

func TestPushOrdering(t *testing.T) {
	db := testDB()
	assertInt(t, exec(db, "rpush", "r", "a", "b", "c"), 3)
	assertMultiBulk(t, exec(db, "lrange", "r", "0", "-1"), "a", "b", "c")

	assertInt(t, exec(db, "lpush", "l", "a", "b", "c"), 3)
	assertMultiBulk(t, exec(db, "lrange", "l", "0", "-1"), "c", "b", "a")

	assertInt(t, exec(db, "llen", "l"), 3)
}

func TestPopAndEmptyKeyRemoval(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "k", "x", "y")
	assertBulk(t, exec(db, "lpop", "k"), "x")
	assertBulk(t, exec(db, "rpop", "k"), "y")
	if _, exists := db.GetEntity("k"); exists {
		t.Error("a list emptied by pops must vanish from the keyspace")
	}
	assertNullBulk(t, exec(db, "lpop", "k"))
}

func TestLIndexAndLSet(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "k", "a", "b", "c")
	assertBulk(t, exec(db, "lindex", "k", "0"), "a")
	assertBulk(t, exec(db, "lindex", "k", "-1"), "c")
	assertNullBulk(t, exec(db, "lindex", "k", "9"))

	assertStatus(t, exec(db, "lset", "k", "1", "B"), "OK")
	assertBulk(t, exec(db, "lindex", "k", "1"), "B")
	if !resp.IsErrorReply(exec(db, "lset", "k", "9", "x")) {
		t.Error("LSET out of range must error")
	}
	if _, ok := exec(db, "lset", "missing", "0", "x").(*resp.NoSuchKeyErrReply); !ok {
		t.Error("LSET on a missing key must be a no-such-key error")
	}
}

func TestLTrim(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "k", "a", "b", "c", "d", "e")
	assertStatus(t, exec(db, "ltrim", "k", "1", "3"), "OK")
	assertMultiBulk(t, exec(db, "lrange", "k", "0", "-1"), "b", "c", "d")

	exec(db, "ltrim", "k", "5", "10")
	if _, exists := db.GetEntity("k"); exists {
		t.Error("trimming to an empty range must remove the key")
	}
}

func TestLRem(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "k", "a", "b", "a", "c", "a")
	assertInt(t, exec(db, "lrem", "k", "2", "a"), 2)
	assertMultiBulk(t, exec(db, "lrange", "k", "0", "-1"), "b", "c", "a")

	exec(db, "del", "k")
	exec(db, "rpush", "k", "a", "b", "a", "c", "a")
	assertInt(t, exec(db, "lrem", "k", "-1", "a"), 1)
	assertMultiBulk(t, exec(db, "lrange", "k", "0", "-1"), "a", "b", "a", "c")

	assertInt(t, exec(db, "lrem", "k", "0", "a"), 2)
	assertMultiBulk(t, exec(db, "lrange", "k", "0", "-1"), "b", "c")
}

func TestRPopLPush(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "src", "a", "b", "c")
	assertBulk(t, exec(db, "rpoplpush", "src", "dst"), "c")
	assertMultiBulk(t, exec(db, "lrange", "src", "0", "-1"), "a", "b")
	assertMultiBulk(t, exec(db, "lrange", "dst", "0", "-1"), "c")
}

func TestBlockingPopImmediate(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "mylist", "hello")
	c := connection.New(nil)
	reply := db.Exec(c, CmdLine{[]byte("blpop"), []byte("mylist"), []byte("5")})
	assertMultiBulk(t, reply, "mylist", "hello")
	assertInt(t, exec(db, "llen", "mylist"), 0)
}

func TestBlockingPopServedByPush(t *testing.T) {
	db := testDB()
	c := connection.New(nil)
	reply := db.Exec(c, CmdLine{[]byte("blpop"), []byte("mylist"), []byte("5")})
	if _, ok := reply.(DeferredReply); !ok {
		t.Fatalf("BLPOP on an empty list must defer, got %q", reply.ToBytes())
	}
	// the push answers :1 but its element goes to the waiter instead
	// of resting in the list (C2 pushes, C1 receives, LLEN stays 0)
	assertInt(t, exec(db, "rpush", "mylist", "hello"), 1)
	assertInt(t, exec(db, "llen", "mylist"), 0)
	if len(db.blocked) != 0 {
		t.Error("served waiter must be removed from the blocked table")
	}
}

func TestBlockingPopFIFO(t *testing.T) {
	db := testDB()
	c1 := connection.New(nil)
	c2 := connection.New(nil)
	db.Exec(c1, CmdLine{[]byte("blpop"), []byte("k"), []byte("0")})
	db.Exec(c2, CmdLine{[]byte("blpop"), []byte("k"), []byte("0")})
	exec(db, "rpush", "k", "only")
	// the first parked client is served; the second keeps waiting
	if len(db.blocked["k"]) != 1 {
		t.Errorf("expected 1 remaining waiter, found %d", len(db.blocked["k"]))
	}
}

func TestBlockingPopInsideExecNeverBlocks(t *testing.T) {
	db := testDB()
	reply := db.execWithLock(CmdLine{[]byte("blpop"), []byte("empty"), []byte("1")})
	if _, ok := reply.(*resp.NullMultiBulkReply); !ok {
		t.Errorf("BLPOP via the table path must answer null, got %q", reply.ToBytes())
	}
}
