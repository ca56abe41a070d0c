// Package aof implements the append-only command journal of spec.md
// §4.H: every mutating command is appended as the same multi-bulk
// frame a client would send, prefixed by a synthetic SELECT whenever
// the write targets a different database than the previous append.
// Fsync policy is Never, EverySecond or Always; the background
// rewrite accumulates a diff buffer while a compact journal is
// produced, then splices and atomically renames.
package aof

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/nyxkv/corekv/internal/logger"
	"github.com/nyxkv/corekv/internal/resp"
)

// Fsync policies (spec.md §4.H).
const (
	FsyncAlways   = "always"
	FsyncEverySec = "everysec"
	FsyncNo       = "no"
)

type CmdLine = [][]byte

// Persister owns the live journal file.
type Persister struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	fsync     string
	currentDB int
	lastFsync time.Time

	// rewrite bookkeeping: while a rewrite is in flight every append
	// is mirrored into diffBuf so the compact file can be brought up
	// to date before it replaces the live one (spec.md §4.H).
	rewriting  bool
	diffBuf    [][]byte
	rewriteDB  int
	rewriteLen int64
}

// NewPersister opens (creating if needed) the journal at path.
func NewPersister(path string, fsyncPolicy string) (*Persister, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return &Persister{
		file:      file,
		path:      path,
		fsync:     fsyncPolicy,
		currentDB: -1,
	}, nil
}

// SaveCmdLine appends one executed command to the journal, preceded
// by SELECT when dbIndex differs from the last appended command's.
func (p *Persister) SaveCmdLine(dbIndex int, cmdLine CmdLine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}
	var out []byte
	if dbIndex != p.currentDB {
		selectCmd := toSelectCmd(dbIndex)
		out = append(out, selectCmd...)
		p.currentDB = dbIndex
	}
	out = append(out, resp.MakeMultiBulkReply(cmdLine).ToBytes()...)
	if _, err := p.file.Write(out); err != nil {
		logger.Error("aof: write: %v", err)
		return
	}
	if p.rewriting {
		p.diffBuf = append(p.diffBuf, out)
	}
	if p.fsync == FsyncAlways {
		if err := p.file.Sync(); err != nil {
			logger.Error("aof: fsync: %v", err)
		}
	}
}

func toSelectCmd(dbIndex int) []byte {
	return resp.MakeMultiBulkReply([][]byte{
		[]byte("SELECT"),
		[]byte(itoa(dbIndex)),
	}).ToBytes()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TickFsync is called once per cron tick: under the EverySecond
// policy it fsyncs at most once per real-time second no matter how
// many writes happened in between.
func (p *Persister) TickFsync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil || p.fsync != FsyncEverySec {
		return
	}
	now := time.Now()
	if now.Sub(p.lastFsync) < time.Second {
		return
	}
	p.lastFsync = now
	if err := p.file.Sync(); err != nil {
		logger.Error("aof: fsync: %v", err)
	}
}

// LoadAof replays the journal through exec, one parsed multi-bulk
// frame at a time; exec is the same command path clients use, fed
// from a synthetic client whose replies go nowhere (spec.md §4.H).
// maxBytes > 0 bounds the read, used by the rewrite's temp load.
func (p *Persister) LoadAof(maxBytes int64, exec func(cmdLine CmdLine)) {
	file, err := os.Open(p.path)
	if err != nil {
		return
	}
	defer file.Close()
	var reader io.Reader = file
	if maxBytes > 0 {
		reader = io.LimitReader(file, maxBytes)
	}
	ch := resp.ParseStream(reader, nil)
	for payload := range ch {
		if payload.Err != nil {
			if payload.Err == io.EOF {
				return
			}
			logger.Warn("aof: replay parse error: %v", payload.Err)
			continue
		}
		mb, ok := payload.Data.(*resp.MultiBulkReply)
		if !ok || len(mb.Args) == 0 {
			continue
		}
		exec(mb.Args)
	}
}

// StartRewrite freezes the rewrite baseline: the current journal
// size and selected db. Appends from here on are mirrored into the
// diff buffer. Returns the baseline size to replay into the compact
// writer.
func (p *Persister) StartRewrite() (int64, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rewriting {
		return 0, 0, os.ErrExist
	}
	if err := p.file.Sync(); err != nil {
		return 0, 0, err
	}
	stat, err := p.file.Stat()
	if err != nil {
		return 0, 0, err
	}
	p.rewriting = true
	p.diffBuf = nil
	p.rewriteLen = stat.Size()
	p.rewriteDB = p.currentDB
	return stat.Size(), p.currentDB, nil
}

// FinishRewrite appends the accumulated diff buffer to the compact
// temp file, fsyncs it and renames it over the live journal. The
// temp file must already hold the compact dump.
func (p *Persister) FinishRewrite(tmpPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tmp, err := os.OpenFile(tmpPath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		p.abortLocked(tmpPath)
		return err
	}
	// re-select the db that was current at baseline so the diff
	// commands land in the right keyspace on replay
	if p.rewriteDB >= 0 {
		if _, err := tmp.Write(toSelectCmd(p.rewriteDB)); err != nil {
			tmp.Close()
			p.abortLocked(tmpPath)
			return err
		}
	}
	for _, chunk := range p.diffBuf {
		if _, err := tmp.Write(chunk); err != nil {
			tmp.Close()
			p.abortLocked(tmpPath)
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		p.abortLocked(tmpPath)
		return err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, p.path); err != nil {
		p.abortLocked(tmpPath)
		return err
	}
	// swap the live handle onto the new file
	p.file.Close()
	file, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	p.file = file
	p.currentDB = -1
	p.rewriting = false
	p.diffBuf = nil
	return nil
}

// AbortRewrite unlinks the temp file and drops the diff buffer,
// leaving the live journal untouched (spec.md §4.H failure path).
func (p *Persister) AbortRewrite(tmpPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abortLocked(tmpPath)
}

func (p *Persister) abortLocked(tmpPath string) {
	_ = os.Remove(tmpPath)
	p.rewriting = false
	p.diffBuf = nil
}

// Path returns the live journal path.
func (p *Persister) Path() string {
	return p.path
}

func (p *Persister) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file != nil {
		_ = p.file.Sync()
		_ = p.file.Close()
		p.file = nil
	}
}
