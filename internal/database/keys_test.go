package database

import (
	"testing"
	"time"

	"github.com/nyxkv/corekv/internal/resp"
)

func TestExistsDelType(t *testing.T) {
	db := testDB()
	exec(db, "set", "s", "v")
	exec(db, "rpush", "l", "x")
	assertInt(t, exec(db, "exists", "s", "l", "missing"), 2)
	assertStatus(t, exec(db, "type", "s"), "string")
	assertStatus(t, exec(db, "type", "l"), "list")
	assertStatus(t, exec(db, "type", "missing"), "none")
	assertInt(t, exec(db, "del", "s", "l", "missing"), 2)
	assertInt(t, exec(db, "exists", "s"), 0)
}

func TestRename(t *testing.T) {
	db := testDB()
	exec(db, "set", "a", "v")
	assertStatus(t, exec(db, "rename", "a", "b"), "OK")
	assertBulk(t, exec(db, "get", "b"), "v")
	assertInt(t, exec(db, "exists", "a"), 0)

	if _, ok := exec(db, "rename", "missing", "x").(*resp.NoSuchKeyErrReply); !ok {
		t.Error("RENAME of a missing source must be a no-such-key error")
	}
	if _, ok := exec(db, "rename", "b", "b").(*resp.SameObjectErrReply); !ok {
		t.Error("RENAME onto itself must be a same-object error")
	}
}

func TestRenameCarriesExpiry(t *testing.T) {
	db := testDB()
	exec(db, "set", "a", "v")
	exec(db, "expire", "a", "100")
	exec(db, "rename", "a", "b")
	if _, ok := db.ExpireAt("b"); !ok {
		t.Error("RENAME must carry the source's expiry")
	}

	// renaming over an existing key carries the source's TTL onto it
	exec(db, "set", "c", "v")
	exec(db, "rename", "b", "c")
	if _, ok := db.ExpireAt("c"); !ok {
		t.Error("the renamed key's expiry must win")
	}
}

func TestRenameNX(t *testing.T) {
	db := testDB()
	exec(db, "set", "a", "v1")
	exec(db, "set", "b", "v2")
	assertInt(t, exec(db, "renamenx", "a", "b"), 0)
	assertBulk(t, exec(db, "get", "b"), "v2")
	assertInt(t, exec(db, "renamenx", "a", "c"), 1)
	assertBulk(t, exec(db, "get", "c"), "v1")
}

func TestKeysPattern(t *testing.T) {
	db := testDB()
	exec(db, "set", "one", "1")
	exec(db, "set", "two", "2")
	exec(db, "set", "three", "3")
	mb := exec(db, "keys", "t*").(*resp.MultiBulkReply)
	if len(mb.Args) != 2 {
		t.Errorf("expected 2 matches for t*, got %d", len(mb.Args))
	}
	mb = exec(db, "keys", "*").(*resp.MultiBulkReply)
	if len(mb.Args) != 3 {
		t.Errorf("expected 3 matches for *, got %d", len(mb.Args))
	}
	mb = exec(db, "keys", "t?o").(*resp.MultiBulkReply)
	if len(mb.Args) != 1 || string(mb.Args[0]) != "two" {
		t.Errorf("expected [two] for t?o, got %q", mb.Args)
	}
}

func TestTTLRoundTrip(t *testing.T) {
	db := testDB()
	exec(db, "set", "k", "v")
	assertInt(t, exec(db, "ttl", "missing"), -2)
	assertInt(t, exec(db, "ttl", "k"), -1)

	assertInt(t, exec(db, "expire", "k", "100"), 1)
	ttl := exec(db, "ttl", "k").(*resp.IntReply).Code
	if ttl < 98 || ttl > 100 {
		t.Errorf("expected TTL near 100, got %d", ttl)
	}
	assertInt(t, exec(db, "persist", "k"), 1)
	assertInt(t, exec(db, "ttl", "k"), -1)

	assertInt(t, exec(db, "expire", "missing", "10"), 0)
}

func TestExpireAtPastMakesKeyAbsent(t *testing.T) {
	db := testDB()
	exec(db, "set", "k", "v")
	exec(db, "expireat", "k", "1")
	assertNullBulk(t, exec(db, "get", "k"))
	assertInt(t, exec(db, "exists", "k"), 0)
	if _, ok := db.expires["k"]; ok {
		t.Error("a lazily expired key must leave no expiry entry behind")
	}
}

func TestExpiryInvariant(t *testing.T) {
	db := testDB()
	exec(db, "set", "k", "v")
	exec(db, "expire", "k", "100")
	exec(db, "del", "k")
	if _, ok := db.expires["k"]; ok {
		t.Error("deleting a key must drop its expiry entry")
	}
	for key := range db.expires {
		if _, ok := db.data[key]; !ok {
			t.Errorf("expiry entry %q has no main entry", key)
		}
	}
}

func TestActiveExpiryCycle(t *testing.T) {
	db := testDB()
	for i := 0; i < 50; i++ {
		key := "k" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		exec(db, "set", key, "v")
		db.Expire(key, time.Now().Add(-time.Second))
	}
	ActiveExpiryCycle(db)
	if len(db.expires) != 0 {
		t.Errorf("active expiry should have removed all due keys, %d left", len(db.expires))
	}
	if db.Len() != 0 {
		t.Errorf("expired keys must leave the main map too, %d left", db.Len())
	}
}

func TestRandomKey(t *testing.T) {
	db := testDB()
	assertNullBulk(t, exec(db, "randomkey"))
	exec(db, "set", "only", "v")
	assertBulk(t, exec(db, "randomkey"), "only")
}

func TestObjectEncoding(t *testing.T) {
	db := testDB()
	exec(db, "set", "n", "42")
	assertBulk(t, exec(db, "object", "encoding", "n"), "int")
	exec(db, "set", "s", "hello")
	assertBulk(t, exec(db, "object", "encoding", "s"), "raw")
	exec(db, "hset", "h", "f", "v")
	assertBulk(t, exec(db, "object", "encoding", "h"), "zipmap")
	exec(db, "zadd", "z", "1", "m")
	assertBulk(t, exec(db, "object", "encoding", "z"), "skiplist")
	assertInt(t, exec(db, "object", "refcount", "s"), 1)
}
