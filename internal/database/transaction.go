// MULTI/EXEC/DISCARD/WATCH (spec.md §3/§4.E). Grounded on the
// teacher's transaction.go control flow. The watched-key version map
// and RWLocks call are dropped: with a single dispatcher goroutine,
// EXEC can never race a concurrent writer, so there is nothing left
// for a watched-key version check to catch (see DESIGN.md's B/C/E
// entry). The per-command undo-log rollback-on-error behavior is kept
// unchanged, since that protects against a transaction's own internal
// failure, not concurrent modification.
package database

import "strings"

import "github.com/nyxkv/corekv/internal/resp"

// StartMulti begins queueing commands on conn.
func StartMulti(conn Client) resp.Reply {
	if conn.InMultiState() {
		return resp.MakeErrReply("ERR MULTI calls can not be nested")
	}
	conn.SetMultiState(true)
	return resp.MakeOkReply()
}

// DiscardMulti abandons a queued transaction without executing it.
func DiscardMulti(conn Client) resp.Reply {
	if !conn.InMultiState() {
		return resp.MakeErrReply("ERR DISCARD without MULTI")
	}
	conn.SetMultiState(false)
	return resp.MakeOkReply()
}

func execMulti(db *DB, conn Client) resp.Reply {
	if !conn.InMultiState() {
		return resp.MakeErrReply("ERR EXEC without MULTI")
	}
	defer conn.SetMultiState(false)
	if conn.GetTxErrors() {
		return resp.MakeErrReply("EXECABORT Transaction discarded because of previous errors.")
	}
	cmdLines := conn.GetQueuedCmdLine()
	return db.ExecMulti(cmdLines)
}

// ExecMulti runs every queued command line in order, rolling back
// via each command's undo log if one of them fails partway through.
func (db *DB) ExecMulti(cmdLines []CmdLine) resp.Reply {
	results := make([]resp.Reply, 0, len(cmdLines))
	var undoCmdLines [][]CmdLine
	aborted := false
	for _, cmdLine := range cmdLines {
		undo := db.GetUndoLogs(cmdLine)
		result := db.execWithLock(cmdLine)
		if resp.IsErrorReply(result) {
			aborted = true
			break
		}
		undoCmdLines = append(undoCmdLines, undo)
		results = append(results, result)
	}
	if !aborted {
		return resp.MakeMultiRawReply(results)
	}
	for i := len(undoCmdLines) - 1; i >= 0; i-- {
		for _, cmdLine := range undoCmdLines[i] {
			db.execWithLock(cmdLine)
		}
	}
	return resp.MakeErrReply("EXECABORT Transaction discarded because of previous errors.")
}

// Watch records the watched keys on conn. Kept for wire compatibility
// with real WATCH even though the single-threaded model means the
// watch can never actually detect a concurrent change (see package
// doc) — EXEC here simply never rolls back on that basis.
func Watch(db *DB, conn Client, args [][]byte) resp.Reply {
	watching := conn.GetWatching()
	for _, arg := range args {
		watching[string(arg)] = 0
	}
	return resp.MakeOkReply()
}

func (db *DB) GetUndoLogs(cmdLine [][]byte) []CmdLine {
	cmdName := strings.ToLower(string(cmdLine[0]))
	cmd, ok := cmdTable[cmdName]
	if !ok || cmd.undo == nil {
		return nil
	}
	return cmd.undo(db, cmdLine[1:])
}

// EnqueueCmd validates and queues cmdLine while conn is in MULTI
// state. A validation failure marks the transaction as doomed
// (conn.AddTxError) without aborting queueing outright, matching real
// MULTI semantics.
func EnqueueCmd(conn Client, cmdLine [][]byte) resp.Reply {
	cmdName := strings.ToLower(string(cmdLine[0]))
	cmd, ok := cmdTable[cmdName]
	if !ok {
		err := resp.MakeErrReply("ERR unknown command '" + cmdName + "'")
		conn.AddTxError(err)
		return err
	}
	if cmd.prepare == nil {
		err := resp.MakeErrReply("ERR command '" + cmdName + "' can not be used in MULTI")
		conn.AddTxError(err)
		return err
	}
	if !validateArity(cmd.arity, cmdLine) {
		err := resp.MakeArgNumErrReply(cmdName)
		conn.AddTxError(err)
		return err
	}
	conn.EnqueueCmd(cmdLine)
	return resp.MakeQueuedReply()
}

// GetRelatedKeys returns the write-keys and read-keys cmdLine touches,
// per its registered PreFunc.
func GetRelatedKeys(cmdLine [][]byte) ([]string, []string) {
	cmdName := strings.ToLower(string(cmdLine[0]))
	cmd, ok := cmdTable[cmdName]
	if !ok || cmd.prepare == nil {
		return nil, nil
	}
	return cmd.prepare(cmdLine[1:])
}
