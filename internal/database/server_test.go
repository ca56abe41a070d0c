package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nyxkv/corekv/internal/config"
	"github.com/nyxkv/corekv/internal/connection"
	"github.com/nyxkv/corekv/internal/resp"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	props := config.Default()
	props.Dir = t.TempDir()
	return MakeServer(props)
}

func sexec(s *Server, c Client, args ...string) resp.Reply {
	line := make(CmdLine, len(args))
	for i, a := range args {
		line[i] = []byte(a)
	}
	return s.Exec(c, line)
}

func TestSelectRouting(t *testing.T) {
	s := testServer(t)
	c := connection.New(nil)
	sexec(s, c, "set", "k", "db0")
	assertStatus(t, sexec(s, c, "select", "1"), "OK")
	assertNullBulk(t, sexec(s, c, "get", "k"))
	sexec(s, c, "set", "k", "db1")
	sexec(s, c, "select", "0")
	assertBulk(t, sexec(s, c, "get", "k"), "db0")

	if !resp.IsErrorReply(sexec(s, c, "select", "99")) {
		t.Error("selecting an out-of-range db must error")
	}
}

func TestMoveBetweenDBs(t *testing.T) {
	s := testServer(t)
	c := connection.New(nil)
	sexec(s, c, "set", "k", "v")
	assertInt(t, sexec(s, c, "move", "k", "1"), 1)
	assertNullBulk(t, sexec(s, c, "get", "k"))
	sexec(s, c, "select", "1")
	assertBulk(t, sexec(s, c, "get", "k"), "v")

	// occupied destination refuses the move
	sexec(s, c, "select", "0")
	sexec(s, c, "set", "k", "other")
	assertInt(t, sexec(s, c, "move", "k", "1"), 0)
}

func TestFlushDBAndFlushAll(t *testing.T) {
	s := testServer(t)
	c := connection.New(nil)
	sexec(s, c, "set", "a", "1")
	sexec(s, c, "select", "1")
	sexec(s, c, "set", "b", "2")
	assertStatus(t, sexec(s, c, "flushdb"), "OK")
	assertInt(t, sexec(s, c, "dbsize"), 0)
	sexec(s, c, "select", "0")
	assertInt(t, sexec(s, c, "dbsize"), 1)
	assertStatus(t, sexec(s, c, "flushall"), "OK")
	assertInt(t, sexec(s, c, "dbsize"), 0)
}

func TestPingEcho(t *testing.T) {
	s := testServer(t)
	assertStatus(t, sexec(s, nil, "ping"), "PONG")
	assertBulk(t, sexec(s, nil, "echo", "hello"), "hello")
}

func TestAuth(t *testing.T) {
	props := config.Default()
	props.Dir = t.TempDir()
	props.RequirePass = "secret"
	s := MakeServer(props)
	c := connection.New(nil)

	if _, ok := sexec(s, c, "get", "k").(*resp.NotAuthenticatedErrReply); !ok {
		t.Fatal("commands before AUTH must be refused")
	}
	if !resp.IsErrorReply(sexec(s, c, "auth", "wrong")) {
		t.Error("a wrong password must be rejected")
	}
	assertStatus(t, sexec(s, c, "auth", "secret"), "OK")
	assertStatus(t, sexec(s, c, "set", "k", "v"), "OK")
}

// §8 scenario 5: snapshot round trip with every kind plus a TTL.
func TestSnapshotRoundTrip(t *testing.T) {
	s := testServer(t)
	c := connection.New(nil)
	sexec(s, c, "set", "k1", "hello")
	sexec(s, c, "rpush", "k2", "x", "y", "z")
	sexec(s, c, "zadd", "k3", "2.5", "m")
	sexec(s, c, "sadd", "k4", "a", "b")
	sexec(s, c, "hset", "k5", "f", "v")
	sexec(s, c, "set", "k6", "12345") // int-encodable, exercises the special forms
	sexec(s, c, "expire", "k1", "60")

	assertStatus(t, sexec(s, c, "save"), "OK")
	for _, db := range s.dbs {
		db.Flush()
	}
	assertInt(t, sexec(s, c, "dbsize"), 0)

	if err := s.loadRDB(s.rdbPath()); err != nil {
		t.Fatalf("load: %v", err)
	}
	assertBulk(t, sexec(s, c, "get", "k1"), "hello")
	assertMultiBulk(t, sexec(s, c, "lrange", "k2", "0", "-1"), "x", "y", "z")
	assertBulk(t, sexec(s, c, "zscore", "k3", "m"), "2.5")
	assertInt(t, sexec(s, c, "scard", "k4"), 2)
	assertBulk(t, sexec(s, c, "hget", "k5", "f"), "v")
	assertBulk(t, sexec(s, c, "get", "k6"), "12345")

	ttl := sexec(s, c, "ttl", "k1").(*resp.IntReply).Code
	if ttl <= 0 || ttl > 60 {
		t.Errorf("TTL must survive the snapshot round trip, got %d", ttl)
	}
}

func TestSnapshotSkipsExpiredEntries(t *testing.T) {
	s := testServer(t)
	c := connection.New(nil)
	sexec(s, c, "set", "gone", "v")
	s.dbs[0].Expire("gone", time.Now().Add(time.Minute))
	assertStatus(t, sexec(s, c, "save"), "OK")
	// start over from an empty keyspace
	s.dbs[0].Flush()
	// craft a snapshot whose entry is already expired
	sexec(s, c, "set", "gone", "v")
	s.dbs[0].Expire("gone", time.Now().Add(-time.Minute))
	// the lazily expired key never reaches the file
	assertStatus(t, sexec(s, c, "save"), "OK")
	s.dbs[0].Flush()
	if err := s.loadRDB(s.rdbPath()); err != nil {
		t.Fatalf("load: %v", err)
	}
	assertInt(t, sexec(s, c, "exists", "gone"), 0)
}

func TestDebugReload(t *testing.T) {
	s := testServer(t)
	c := connection.New(nil)
	sexec(s, c, "set", "k", "v")
	sexec(s, c, "rpush", "l", "a", "b")
	assertStatus(t, sexec(s, c, "debug", "reload"), "OK")
	assertBulk(t, sexec(s, c, "get", "k"), "v")
	assertMultiBulk(t, sexec(s, c, "lrange", "l", "0", "-1"), "a", "b")
}

func TestAofReplay(t *testing.T) {
	dir := t.TempDir()
	props := config.Default()
	props.Dir = dir
	props.AppendOnly = true
	s := MakeServer(props)
	c := connection.New(nil)
	sexec(s, c, "set", "k", "v")
	sexec(s, c, "rpush", "l", "a", "b")
	sexec(s, c, "select", "2")
	sexec(s, c, "set", "other", "db2")
	s.persister.Close()

	restarted := MakeServer(props)
	restarted.Startup()
	rc := connection.New(nil)
	assertBulk(t, sexec(restarted, rc, "get", "k"), "v")
	assertMultiBulk(t, sexec(restarted, rc, "lrange", "l", "0", "-1"), "a", "b")
	sexec(restarted, rc, "select", "2")
	assertBulk(t, sexec(restarted, rc, "get", "other"), "db2")
	restarted.persister.Close()
}

func TestAofExpireRewrittenAbsolute(t *testing.T) {
	dir := t.TempDir()
	props := config.Default()
	props.Dir = dir
	props.AppendOnly = true
	s := MakeServer(props)
	c := connection.New(nil)
	sexec(s, c, "set", "k", "v")
	sexec(s, c, "expire", "k", "100")
	s.persister.Close()

	restarted := MakeServer(props)
	restarted.Startup()
	rc := connection.New(nil)
	ttl := sexec(restarted, rc, "ttl", "k").(*resp.IntReply).Code
	if ttl <= 0 || ttl > 100 {
		t.Errorf("replayed EXPIREAT must restore the absolute deadline, got ttl %d", ttl)
	}
	restarted.persister.Close()
}

func TestAofRewriteCompactsAndKeepsDiff(t *testing.T) {
	dir := t.TempDir()
	props := config.Default()
	props.Dir = dir
	props.AppendOnly = true
	s := MakeServer(props)
	c := connection.New(nil)
	for i := 0; i < 10; i++ {
		sexec(s, c, "incr", "n")
	}
	sexec(s, c, "set", "k", "v")

	baseline, _, err := s.persister.StartRewrite()
	if err != nil {
		t.Fatal(err)
	}
	tmpPath := filepath.Join(dir, "temp-rewrite-test.aof")
	if err := s.writeCompactAof(tmpPath, baseline); err != nil {
		t.Fatal(err)
	}
	// writes landing during the rewrite go into the diff buffer
	sexec(s, c, "set", "during", "rewrite")
	if err := s.persister.FinishRewrite(tmpPath); err != nil {
		t.Fatal(err)
	}
	s.persister.Close()

	restarted := MakeServer(props)
	restarted.Startup()
	rc := connection.New(nil)
	assertBulk(t, sexec(restarted, rc, "get", "n"), "10")
	assertBulk(t, sexec(restarted, rc, "get", "k"), "v")
	assertBulk(t, sexec(restarted, rc, "get", "during"), "rewrite")
	restarted.persister.Close()
}

func TestInfoSections(t *testing.T) {
	s := testServer(t)
	info := string(sexec(s, nil, "info").(*resp.BulkReply).Arg)
	for _, section := range []string{"# Server", "# Memory", "# Persistence", "# Replication", "role:master"} {
		if !containsStr(info, section) {
			t.Errorf("INFO must contain %q", section)
		}
	}
}

func containsStr(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
