package database

import (
	"testing"

	"github.com/nyxkv/corekv/internal/connection"
	"github.com/nyxkv/corekv/internal/resp"
)

func execAs(db *DB, c Client, args ...string) resp.Reply {
	line := make(CmdLine, len(args))
	for i, a := range args {
		line[i] = []byte(a)
	}
	return db.Exec(c, line)
}

func TestMultiExecReplyShape(t *testing.T) {
	db := testDB()
	c := connection.New(nil)
	assertStatus(t, execAs(db, c, "multi"), "OK")
	assertStatus(t, execAs(db, c, "set", "a", "1"), "QUEUED")
	assertStatus(t, execAs(db, c, "incr", "a"), "QUEUED")

	reply := execAs(db, c, "exec")
	multi, ok := reply.(*resp.MultiRawReply)
	if !ok {
		t.Fatalf("EXEC must return a multi-raw reply, got %q", reply.ToBytes())
	}
	if len(multi.Replies) != 2 {
		t.Fatalf("expected 2 sub-replies, got %d", len(multi.Replies))
	}
	if string(reply.ToBytes()) != "*2\r\n+OK\r\n:2\r\n" {
		t.Errorf("unexpected EXEC wire shape: %q", reply.ToBytes())
	}
	assertBulk(t, execAs(db, c, "get", "a"), "2")
}

func TestDiscard(t *testing.T) {
	db := testDB()
	c := connection.New(nil)
	execAs(db, c, "multi")
	execAs(db, c, "set", "k", "v")
	assertStatus(t, execAs(db, c, "discard"), "OK")
	if _, exists := db.GetEntity("k"); exists {
		t.Error("DISCARD must drop the queued commands unexecuted")
	}
	if resp.IsErrorReply(execAs(db, c, "set", "k", "v")) {
		t.Error("the connection must return to normal dispatch after DISCARD")
	}
}

func TestNestedMultiAndStrayControl(t *testing.T) {
	db := testDB()
	c := connection.New(nil)
	execAs(db, c, "multi")
	if !resp.IsErrorReply(execAs(db, c, "multi")) {
		t.Error("nested MULTI must error")
	}
	execAs(db, c, "discard")
	if !resp.IsErrorReply(execAs(db, c, "exec")) {
		t.Error("EXEC without MULTI must error")
	}
	if !resp.IsErrorReply(execAs(db, c, "discard")) {
		t.Error("DISCARD without MULTI must error")
	}
}

func TestQueuedErrorAbortsExec(t *testing.T) {
	db := testDB()
	c := connection.New(nil)
	execAs(db, c, "multi")
	if !resp.IsErrorReply(execAs(db, c, "notacommand", "x")) {
		t.Error("queueing an unknown command must answer with an error")
	}
	execAs(db, c, "set", "k", "v")
	reply := execAs(db, c, "exec")
	if !resp.IsErrorReply(reply) {
		t.Error("EXEC after a queueing error must abort")
	}
	if _, exists := db.GetEntity("k"); exists {
		t.Error("an aborted transaction must not run any queued command")
	}
}

func TestExecRollsBackOnMidwayError(t *testing.T) {
	db := testDB()
	exec(db, "set", "a", "before")
	c := connection.New(nil)
	execAs(db, c, "multi")
	execAs(db, c, "set", "a", "after")
	execAs(db, c, "lpush", "a", "x") // wrong type against the new string
	reply := execAs(db, c, "exec")
	if !resp.IsErrorReply(reply) {
		t.Fatal("EXEC with a failing command must answer with an error")
	}
	assertBulk(t, exec(db, "get", "a"), "before")
}

func TestExecJournalsWrites(t *testing.T) {
	db := testDB()
	var journaled []CmdLine
	db.AddAof = func(line CmdLine) {
		journaled = append(journaled, line)
	}
	c := connection.New(nil)
	execAs(db, c, "multi")
	execAs(db, c, "set", "k", "v")
	execAs(db, c, "get", "k")
	execAs(db, c, "exec")
	if len(journaled) != 1 {
		t.Fatalf("exactly the write command must be journaled, got %d lines", len(journaled))
	}
	if string(journaled[0][0]) != "set" {
		t.Errorf("expected set journaled, got %q", journaled[0][0])
	}
}
