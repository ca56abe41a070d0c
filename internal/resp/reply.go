package resp

import (
	"strconv"
)

// CRLF terminates every reply and every multi-bulk header line.
const CRLF = "\r\n"

// Reply is anything that can serialize itself to the wire.
type Reply interface {
	ToBytes() []byte
}

// ErrorReply is a Reply that also carries an error message, so command
// handlers can distinguish "got a reply" from "got an error reply"
// without re-parsing bytes.
type ErrorReply interface {
	Reply
	Error() string
}

// StatusReply is a simple status line, e.g. "+OK".
type StatusReply struct {
	Status string
}

func MakeStatusReply(status string) *StatusReply {
	return &StatusReply{Status: status}
}

func (r *StatusReply) ToBytes() []byte {
	return []byte("+" + r.Status + CRLF)
}

func MakeOkReply() *StatusReply {
	return okReply
}

var okReply = &StatusReply{Status: "OK"}

// QueuedReply is returned while a client is inside MULTI.
var theQueuedReply = &StatusReply{Status: "QUEUED"}

func MakeQueuedReply() *StatusReply {
	return theQueuedReply
}

// IntReply wraps an int64 status reply.
type IntReply struct {
	Code int64
}

func MakeIntReply(code int64) *IntReply {
	return &IntReply{Code: code}
}

func (r *IntReply) ToBytes() []byte {
	return []byte(":" + strconv.FormatInt(r.Code, 10) + CRLF)
}

// BulkReply stores a binary-safe single string.
type BulkReply struct {
	Arg []byte
}

func MakeBulkReply(arg []byte) *BulkReply {
	return &BulkReply{Arg: arg}
}

func (r *BulkReply) ToBytes() []byte {
	if r.Arg == nil {
		return nullBulkBytes
	}
	return []byte("$" + strconv.Itoa(len(r.Arg)) + CRLF + string(r.Arg) + CRLF)
}

var nullBulkBytes = []byte("$-1" + CRLF)

// NullBulkReply is a nil bulk reply, "$-1".
type NullBulkReply struct{}

func MakeNullBulkReply() *NullBulkReply {
	return &NullBulkReply{}
}

func (r *NullBulkReply) ToBytes() []byte {
	return nullBulkBytes
}

// MultiBulkReply stores a list of binary-safe strings, used both for
// client requests (the args vector) and for multi-bulk replies.
type MultiBulkReply struct {
	Args [][]byte
}

func MakeMultiBulkReply(args [][]byte) *MultiBulkReply {
	return &MultiBulkReply{Args: args}
}

func (r *MultiBulkReply) ToBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, '*')
	buf = append(buf, strconv.Itoa(len(r.Args))...)
	buf = append(buf, CRLF...)
	for _, arg := range r.Args {
		if arg == nil {
			buf = append(buf, nullBulkBytes...)
			continue
		}
		buf = append(buf, '$')
		buf = append(buf, strconv.Itoa(len(arg))...)
		buf = append(buf, CRLF...)
		buf = append(buf, arg...)
		buf = append(buf, CRLF...)
	}
	return buf
}

// MultiRawReply wraps arbitrary sub-replies, one per queued command in
// a transaction, or one per requested key in MGET-style commands.
type MultiRawReply struct {
	Replies []Reply
}

func MakeMultiRawReply(replies []Reply) *MultiRawReply {
	return &MultiRawReply{Replies: replies}
}

func (r *MultiRawReply) ToBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, '*')
	buf = append(buf, strconv.Itoa(len(r.Replies))...)
	buf = append(buf, CRLF...)
	for _, sub := range r.Replies {
		buf = append(buf, sub.ToBytes()...)
	}
	return buf
}

var emptyMultiBulkBytes = []byte("*0" + CRLF)

// EmptyMultiBulkReply is an empty (not nil) multi-bulk reply.
type EmptyMultiBulkReply struct{}

func MakeEmptyMultiBulkReply() *EmptyMultiBulkReply {
	return &EmptyMultiBulkReply{}
}

func (r *EmptyMultiBulkReply) ToBytes() []byte {
	return emptyMultiBulkBytes
}

var nullMultiBulkBytes = []byte("*-1" + CRLF)

// NullMultiBulkReply is returned by e.g. a lapsed BLPOP.
type NullMultiBulkReply struct{}

func MakeNullMultiBulkReply() *NullMultiBulkReply {
	return &NullMultiBulkReply{}
}

func (r *NullMultiBulkReply) ToBytes() []byte {
	return nullMultiBulkBytes
}

// ErrReply is a generic "-ERR ..." reply.
type ErrReply struct {
	Msg string
}

func MakeErrReply(msg string) *ErrReply {
	return &ErrReply{Msg: msg}
}

func (r *ErrReply) ToBytes() []byte {
	return []byte("-" + r.Msg + CRLF)
}

func (r *ErrReply) Error() string {
	return r.Msg
}

// IsErrorReply reports whether reply is an error reply.
func IsErrorReply(reply Reply) bool {
	_, ok := reply.(ErrorReply)
	return ok
}

// Specific error kinds named in spec.md §7, each a distinct type so
// callers can switch on them if they need to (most just inspect the
// message).

type UnknownCommandErrReply struct {
	Cmd string
}

func (r *UnknownCommandErrReply) ToBytes() []byte {
	return []byte("-ERR unknown command '" + r.Cmd + "'" + CRLF)
}

func (r *UnknownCommandErrReply) Error() string {
	return "ERR unknown command '" + r.Cmd + "'"
}

type ArgNumErrReply struct {
	Cmd string
}

func MakeArgNumErrReply(cmd string) *ArgNumErrReply {
	return &ArgNumErrReply{Cmd: cmd}
}

func (r *ArgNumErrReply) ToBytes() []byte {
	return []byte("-ERR wrong number of arguments for '" + r.Cmd + "' command" + CRLF)
}

func (r *ArgNumErrReply) Error() string {
	return "ERR wrong number of arguments for '" + r.Cmd + "' command"
}

type WrongTypeErrReply struct{}

func (r *WrongTypeErrReply) ToBytes() []byte {
	return []byte("-WRONGTYPE Operation against a key holding the wrong kind of value" + CRLF)
}

func (r *WrongTypeErrReply) Error() string {
	return "WRONGTYPE Operation against a key holding the wrong kind of value"
}

type SyntaxErrReply struct{}

func (r *SyntaxErrReply) ToBytes() []byte {
	return []byte("-ERR syntax error" + CRLF)
}

func (r *SyntaxErrReply) Error() string {
	return "ERR syntax error"
}

type OutOfRangeErrReply struct {
	Msg string
}

func (r *OutOfRangeErrReply) ToBytes() []byte {
	msg := r.Msg
	if msg == "" {
		msg = "ERR value is not an integer or out of range"
	}
	return []byte("-" + msg + CRLF)
}

func (r *OutOfRangeErrReply) Error() string {
	if r.Msg == "" {
		return "ERR value is not an integer or out of range"
	}
	return r.Msg
}

type NoSuchKeyErrReply struct{}

func (r *NoSuchKeyErrReply) ToBytes() []byte {
	return []byte("-ERR no such key" + CRLF)
}

func (r *NoSuchKeyErrReply) Error() string {
	return "ERR no such key"
}

type SameObjectErrReply struct{}

func (r *SameObjectErrReply) ToBytes() []byte {
	return []byte("-ERR source and destination objects are the same" + CRLF)
}

func (r *SameObjectErrReply) Error() string {
	return "ERR source and destination objects are the same"
}

type NotAuthenticatedErrReply struct{}

func (r *NotAuthenticatedErrReply) ToBytes() []byte {
	return []byte("-ERR operation not permitted" + CRLF)
}

func (r *NotAuthenticatedErrReply) Error() string {
	return "ERR operation not permitted"
}

type MemoryPressureErrReply struct{}

func (r *MemoryPressureErrReply) ToBytes() []byte {
	return []byte("-OOM command not allowed when used memory > 'maxmemory'" + CRLF)
}

func (r *MemoryPressureErrReply) Error() string {
	return "OOM command not allowed when used memory > 'maxmemory'"
}
