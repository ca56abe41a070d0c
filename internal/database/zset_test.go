package database

import (
	"testing"

	"github.com/nyxkv/corekv/internal/resp"
)

func TestZAddOrdering(t *testing.T) {
	db := testDB()
	assertInt(t, exec(db, "zadd", "z", "1", "a"), 1)
	assertInt(t, exec(db, "zadd", "z", "2", "b"), 1)
	assertInt(t, exec(db, "zadd", "z", "1", "c"), 1)
	// score ties break on member byte order: a before c
	assertMultiBulk(t, exec(db, "zrange", "z", "0", "-1", "WITHSCORES"),
		"a", "1", "c", "1", "b", "2")
	assertMultiBulk(t, exec(db, "zrevrange", "z", "0", "-1"), "b", "c", "a")
}

func TestZAddUpdatesScore(t *testing.T) {
	db := testDB()
	exec(db, "zadd", "z", "1", "m")
	assertInt(t, exec(db, "zadd", "z", "5", "m"), 0)
	assertBulk(t, exec(db, "zscore", "z", "m"), "5")
	assertInt(t, exec(db, "zcard", "z"), 1)
}

func TestZIncrBy(t *testing.T) {
	db := testDB()
	assertBulk(t, exec(db, "zincrby", "z", "2.5", "m"), "2.5")
	assertBulk(t, exec(db, "zincrby", "z", "1.5", "m"), "4")
}

func TestZRankInverse(t *testing.T) {
	db := testDB()
	exec(db, "zadd", "z", "1", "a")
	exec(db, "zadd", "z", "2", "b")
	exec(db, "zadd", "z", "3", "c")
	assertInt(t, exec(db, "zrank", "z", "a"), 0)
	assertInt(t, exec(db, "zrevrank", "z", "a"), 2)
	assertInt(t, exec(db, "zrank", "z", "c"), 2)
	assertInt(t, exec(db, "zrevrank", "z", "c"), 0)
	assertNullBulk(t, exec(db, "zrank", "z", "missing"))
}

func TestZRemAndEmptyRemoval(t *testing.T) {
	db := testDB()
	exec(db, "zadd", "z", "1", "a")
	exec(db, "zadd", "z", "2", "b")
	assertInt(t, exec(db, "zrem", "z", "a", "missing"), 1)
	assertInt(t, exec(db, "zrem", "z", "b"), 1)
	if _, exists := db.GetEntity("z"); exists {
		t.Error("an emptied zset must vanish from the keyspace")
	}
}

func TestZRangeByScoreAndCount(t *testing.T) {
	db := testDB()
	exec(db, "zadd", "z", "1", "a")
	exec(db, "zadd", "z", "2", "b")
	exec(db, "zadd", "z", "3", "c")
	exec(db, "zadd", "z", "4", "d")
	assertInt(t, exec(db, "zcount", "z", "2", "3"), 2)
	assertInt(t, exec(db, "zcount", "z", "-inf", "+inf"), 4)
	assertInt(t, exec(db, "zcount", "z", "(1", "3"), 2)
	assertMultiBulk(t, exec(db, "zrangebyscore", "z", "2", "+inf"), "b", "c", "d")
	assertMultiBulk(t, exec(db, "zrangebyscore", "z", "-inf", "+inf", "LIMIT", "1", "2"), "b", "c")
}

func TestZRemRangeByScoreAndRank(t *testing.T) {
	db := testDB()
	for _, m := range []struct{ s, m string }{{"1", "a"}, {"2", "b"}, {"3", "c"}, {"4", "d"}} {
		exec(db, "zadd", "z", m.s, m.m)
	}
	assertInt(t, exec(db, "zremrangebyscore", "z", "2", "3"), 2)
	assertMultiBulk(t, exec(db, "zrange", "z", "0", "-1"), "a", "d")

	exec(db, "zadd", "z", "2", "b")
	exec(db, "zadd", "z", "3", "c")
	assertInt(t, exec(db, "zremrangebyrank", "z", "0", "1"), 2)
	assertMultiBulk(t, exec(db, "zrange", "z", "0", "-1"), "c", "d")
}

func TestZUnionAndZInter(t *testing.T) {
	db := testDB()
	exec(db, "zadd", "a", "1", "x")
	exec(db, "zadd", "a", "2", "y")
	exec(db, "zadd", "b", "10", "y")
	exec(db, "zadd", "b", "20", "z")

	assertInt(t, exec(db, "zunionstore", "dest", "2", "a", "b"), 3)
	assertBulk(t, exec(db, "zscore", "dest", "y"), "12")

	assertInt(t, exec(db, "zinterstore", "idest", "2", "a", "b"), 1)
	assertMultiBulk(t, exec(db, "zrange", "idest", "0", "-1"), "y")

	assertInt(t, exec(db, "zunionstore", "wdest", "2", "a", "b", "WEIGHTS", "2", "1"), 3)
	assertBulk(t, exec(db, "zscore", "wdest", "y"), "14")

	assertInt(t, exec(db, "zunionstore", "mdest", "2", "a", "b", "AGGREGATE", "MAX"), 3)
	assertBulk(t, exec(db, "zscore", "mdest", "y"), "10")
}

func TestZAddBadScore(t *testing.T) {
	db := testDB()
	if !resp.IsErrorReply(exec(db, "zadd", "z", "notafloat", "m")) {
		t.Error("a non-numeric score must be rejected")
	}
	if _, exists := db.GetEntity("z"); exists {
		t.Error("a rejected ZADD must not create the key")
	}
}
