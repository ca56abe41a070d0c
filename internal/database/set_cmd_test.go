package database

import (
	"sort"
	"testing"

	"github.com/nyxkv/corekv/internal/resp"
)

func sortedMembers(t *testing.T, reply resp.Reply) []string {
	t.Helper()
	mb, ok := reply.(*resp.MultiBulkReply)
	if !ok {
		t.Fatalf("expected multi bulk, got %q", reply.ToBytes())
	}
	out := make([]string, len(mb.Args))
	for i, arg := range mb.Args {
		out[i] = string(arg)
	}
	sort.Strings(out)
	return out
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSAddSRem(t *testing.T) {
	db := testDB()
	assertInt(t, exec(db, "sadd", "s", "a", "b", "a"), 2)
	assertInt(t, exec(db, "scard", "s"), 2)
	assertInt(t, exec(db, "sismember", "s", "a"), 1)
	assertInt(t, exec(db, "sismember", "s", "z"), 0)
	assertInt(t, exec(db, "srem", "s", "a", "z"), 1)
	assertInt(t, exec(db, "srem", "s", "b"), 1)
	if _, exists := db.GetEntity("s"); exists {
		t.Error("an emptied set must vanish from the keyspace")
	}
}

func TestSMove(t *testing.T) {
	db := testDB()
	exec(db, "sadd", "src", "a", "b")
	exec(db, "sadd", "dst", "c")
	assertInt(t, exec(db, "smove", "src", "dst", "a"), 1)
	assertInt(t, exec(db, "smove", "src", "dst", "missing"), 0)
	if !equalSlices(sortedMembers(t, exec(db, "smembers", "dst")), []string{"a", "c"}) {
		t.Error("moved member must land in the destination")
	}
}

func TestSPop(t *testing.T) {
	db := testDB()
	exec(db, "sadd", "s", "only")
	assertBulk(t, exec(db, "spop", "s"), "only")
	if _, exists := db.GetEntity("s"); exists {
		t.Error("popping the last member must remove the key")
	}
	assertNullBulk(t, exec(db, "spop", "s"))
}

func TestSRandMember(t *testing.T) {
	db := testDB()
	exec(db, "sadd", "s", "a", "b", "c")
	reply := exec(db, "srandmember", "s")
	if _, ok := reply.(*resp.BulkReply); !ok {
		t.Fatalf("expected bulk, got %q", reply.ToBytes())
	}
	mb := exec(db, "srandmember", "s", "2").(*resp.MultiBulkReply)
	if len(mb.Args) != 2 {
		t.Errorf("positive count must return distinct members, got %d", len(mb.Args))
	}
	mb = exec(db, "srandmember", "s", "10").(*resp.MultiBulkReply)
	if len(mb.Args) != 3 {
		t.Errorf("positive count clamps to cardinality, got %d", len(mb.Args))
	}
	mb = exec(db, "srandmember", "s", "-10").(*resp.MultiBulkReply)
	if len(mb.Args) != 10 {
		t.Errorf("negative count allows repeats, got %d", len(mb.Args))
	}
	assertInt(t, exec(db, "scard", "s"), 3)
}

func TestSetAlgebra(t *testing.T) {
	db := testDB()
	exec(db, "sadd", "a", "1", "2", "3")
	exec(db, "sadd", "b", "2", "3", "4")

	if !equalSlices(sortedMembers(t, exec(db, "sinter", "a", "b")), []string{"2", "3"}) {
		t.Error("bad intersection")
	}
	if !equalSlices(sortedMembers(t, exec(db, "sunion", "a", "b")), []string{"1", "2", "3", "4"}) {
		t.Error("bad union")
	}
	if !equalSlices(sortedMembers(t, exec(db, "sdiff", "a", "b")), []string{"1"}) {
		t.Error("bad difference")
	}
	// intersecting with a missing key is empty
	if len(sortedMembers(t, exec(db, "sinter", "a", "missing"))) != 0 {
		t.Error("intersection with a missing key must be empty")
	}
}

func TestSetStoreVariants(t *testing.T) {
	db := testDB()
	exec(db, "sadd", "a", "1", "2", "3")
	exec(db, "sadd", "b", "2", "3", "4")

	assertInt(t, exec(db, "sinterstore", "dest", "a", "b"), 2)
	if !equalSlices(sortedMembers(t, exec(db, "smembers", "dest")), []string{"2", "3"}) {
		t.Error("bad stored intersection")
	}
	assertInt(t, exec(db, "sunionstore", "dest", "a", "b"), 4)
	assertInt(t, exec(db, "sdiffstore", "dest", "a", "b"), 1)

	// an empty result deletes the destination instead of storing an
	// empty set
	assertInt(t, exec(db, "sinterstore", "dest", "a", "missing"), 0)
	if _, exists := db.GetEntity("dest"); exists {
		t.Error("an empty store result must remove the destination key")
	}
}
