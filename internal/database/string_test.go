package database

import (
	"strconv"
	"testing"

	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

func testDB() *DB {
	return MakeDB(0)
}

func exec(db *DB, args ...string) resp.Reply {
	line := make(CmdLine, len(args))
	for i, a := range args {
		line[i] = []byte(a)
	}
	return db.Exec(nil, line)
}

func assertBulk(t *testing.T, reply resp.Reply, want string) {
	t.Helper()
	bulk, ok := reply.(*resp.BulkReply)
	if !ok {
		t.Fatalf("expected bulk reply, got %q", reply.ToBytes())
	}
	if string(bulk.Arg) != want {
		t.Errorf("expected %q, got %q", want, bulk.Arg)
	}
}

func assertInt(t *testing.T, reply resp.Reply, want int64) {
	t.Helper()
	i, ok := reply.(*resp.IntReply)
	if !ok {
		t.Fatalf("expected int reply, got %q", reply.ToBytes())
	}
	if i.Code != want {
		t.Errorf("expected %d, got %d", want, i.Code)
	}
}

func assertStatus(t *testing.T, reply resp.Reply, want string) {
	t.Helper()
	st, ok := reply.(*resp.StatusReply)
	if !ok {
		t.Fatalf("expected status reply, got %q", reply.ToBytes())
	}
	if st.Status != want {
		t.Errorf("expected %q, got %q", want, st.Status)
	}
}

func assertNullBulk(t *testing.T, reply resp.Reply) {
	t.Helper()
	if _, ok := reply.(*resp.NullBulkReply); !ok {
		t.Fatalf("expected null bulk, got %q", reply.ToBytes())
	}
}

func assertMultiBulk(t *testing.T, reply resp.Reply, want ...string) {
	t.Helper()
	mb, ok := reply.(*resp.MultiBulkReply)
	if !ok {
		t.Fatalf("expected multi bulk, got %q", reply.ToBytes())
	}
	if len(mb.Args) != len(want) {
		t.Fatalf("expected %d elements, got %d (%q)", len(want), len(mb.Args), reply.ToBytes())
	}
	for i, w := range want {
		if string(mb.Args[i]) != w {
			t.Errorf("element %d: expected %q, got %q", i, w, mb.Args[i])
		}
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	db := testDB()
	assertStatus(t, exec(db, "set", "foo", "bar"), "OK")
	assertBulk(t, exec(db, "get", "foo"), "bar")
	assertInt(t, exec(db, "append", "foo", "baz"), 6)
	assertBulk(t, exec(db, "get", "foo"), "barbaz")
}

func TestSetBinarySafe(t *testing.T) {
	db := testDB()
	value := "a\r\n\x00b"
	assertStatus(t, exec(db, "set", "bin", value), "OK")
	assertBulk(t, exec(db, "get", "bin"), value)
}

func TestSetIntegerEncoding(t *testing.T) {
	db := testDB()
	exec(db, "set", "n", "12345")
	entity, _ := db.GetEntity("n")
	if entity.Encoding != obj.EncInt {
		t.Errorf("expected int encoding for canonical decimal, got %s", entity.Encoding)
	}
	assertBulk(t, exec(db, "get", "n"), "12345")

	// "007" is not canonical and must stay raw
	exec(db, "set", "padded", "007")
	entity, _ = db.GetEntity("padded")
	if entity.Encoding != obj.EncRaw {
		t.Errorf("expected raw encoding for non-canonical decimal, got %s", entity.Encoding)
	}
	assertBulk(t, exec(db, "get", "padded"), "007")
}

func TestSetNXAndXX(t *testing.T) {
	db := testDB()
	assertInt(t, exec(db, "setnx", "k", "v1"), 1)
	assertInt(t, exec(db, "setnx", "k", "v2"), 0)
	assertBulk(t, exec(db, "get", "k"), "v1")

	assertNullBulk(t, exec(db, "set", "missing", "v", "XX"))
	assertStatus(t, exec(db, "set", "k", "v3", "XX"), "OK")
	assertBulk(t, exec(db, "get", "k"), "v3")
}

func TestIncrDecr(t *testing.T) {
	db := testDB()
	assertInt(t, exec(db, "incr", "counter"), 1)
	assertInt(t, exec(db, "incrby", "counter", "9"), 10)
	assertInt(t, exec(db, "decr", "counter"), 9)
	assertInt(t, exec(db, "decrby", "counter", "4"), 5)

	exec(db, "set", "text", "abc")
	reply := exec(db, "incr", "text")
	if !resp.IsErrorReply(reply) {
		t.Error("expected an error incrementing a non-integer string")
	}
}

func TestIncrByFloat(t *testing.T) {
	db := testDB()
	exec(db, "set", "f", "10.5")
	assertBulk(t, exec(db, "incrbyfloat", "f", "0.1"), "10.6")
	// decimal arithmetic must not drift the way float64 would
	exec(db, "set", "g", "3.0")
	assertBulk(t, exec(db, "incrbyfloat", "g", "1.000000000000000005"), "4.000000000000000005")
}

func TestMSetMGet(t *testing.T) {
	db := testDB()
	assertStatus(t, exec(db, "mset", "a", "1", "b", "2"), "OK")
	assertMultiBulk(t, exec(db, "mget", "a", "b", "nope"), "1", "2", "")
	mb := exec(db, "mget", "a", "b", "nope").(*resp.MultiBulkReply)
	if mb.Args[2] != nil {
		t.Error("missing key in MGET must be nil, not empty")
	}
}

func TestMSetNX(t *testing.T) {
	db := testDB()
	assertInt(t, exec(db, "msetnx", "x", "1", "y", "2"), 1)
	assertInt(t, exec(db, "msetnx", "y", "3", "z", "4"), 0)
	if _, exists := db.GetEntity("z"); exists {
		t.Error("msetnx must be all-or-nothing")
	}
}

func TestGetSet(t *testing.T) {
	db := testDB()
	assertNullBulk(t, exec(db, "getset", "k", "v1"))
	assertBulk(t, exec(db, "getset", "k", "v2"), "v1")
	assertBulk(t, exec(db, "get", "k"), "v2")
}

func TestStrLenAndSubstr(t *testing.T) {
	db := testDB()
	exec(db, "set", "s", "Hello World")
	assertInt(t, exec(db, "strlen", "s"), 11)
	assertBulk(t, exec(db, "substr", "s", "0", "4"), "Hello")
	assertBulk(t, exec(db, "getrange", "s", "-5", "-1"), "World")
	assertBulk(t, exec(db, "substr", "s", "6", "100"), "World")

	// int-encoded strings report their decimal width
	exec(db, "set", "n", "-450")
	assertInt(t, exec(db, "strlen", "n"), 4)
}

func TestSetRange(t *testing.T) {
	db := testDB()
	exec(db, "set", "k", "Hello World")
	assertInt(t, exec(db, "setrange", "k", "6", "Redis"), 11)
	assertBulk(t, exec(db, "get", "k"), "Hello Redis")

	// writing past the end zero-pads
	assertInt(t, exec(db, "setrange", "empty", "3", "xy"), 5)
	assertBulk(t, exec(db, "get", "empty"), "\x00\x00\x00xy")
}

func TestWrongTypeErrors(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "a")
	for _, cmd := range [][]string{
		{"get", "l"},
		{"incr", "l"},
		{"append", "l", "x"},
	} {
		if !resp.IsErrorReply(exec(db, cmd...)) {
			t.Errorf("%v against a list must be a WRONGTYPE error", cmd)
		}
	}
}

func TestArityCheck(t *testing.T) {
	db := testDB()
	reply := exec(db, "get")
	if _, ok := reply.(*resp.ArgNumErrReply); !ok {
		t.Errorf("expected arity error, got %q", reply.ToBytes())
	}
	reply = exec(db, "set", "k")
	if _, ok := reply.(*resp.ArgNumErrReply); !ok {
		t.Errorf("expected arity error, got %q", reply.ToBytes())
	}
}

func TestUnknownCommand(t *testing.T) {
	db := testDB()
	reply := exec(db, "frobnicate", "x")
	if _, ok := reply.(*resp.UnknownCommandErrReply); !ok {
		t.Errorf("expected unknown-command error, got %q", reply.ToBytes())
	}
}

func TestIntEncodingBoundaries(t *testing.T) {
	db := testDB()
	for _, v := range []int64{-128, 127, -32768, 32767, -2147483648, 2147483647, 9223372036854775807} {
		s := strconv.FormatInt(v, 10)
		exec(db, "set", "k", s)
		assertBulk(t, exec(db, "get", "k"), s)
	}
}
