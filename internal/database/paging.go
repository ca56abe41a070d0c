// Value-paging integration (spec.md §4.J): the preload gate that
// parks clients whose keys are swapped out, the swap-out scorer the
// cron runs when resident memory exceeds vm-max-memory, the commit
// handler for finished worker jobs, and cancellation when a paged key
// is deleted or overwritten. Only the job queues and the swap file
// are shared with the workers — every keyspace touch below happens on
// the dispatcher goroutine (spec.md §5).
package database

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nyxkv/corekv/internal/logger"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
	"github.com/nyxkv/corekv/internal/vm"
)

// swapSamplesPerDB is the per-database sample size of the swap-out
// candidate search.
const swapSamplesPerDB = 5

// parkedCmd is a client waiting for one or more keys to finish
// loading; the same parked-client pattern blocking pops use, with a
// different release condition (spec.md §9 design note).
type parkedCmd struct {
	c       Client
	db      *DB
	cmdLine CmdLine
	waiting map[string]struct{}
}

func (s *Server) initPaging() {
	path := strings.ReplaceAll(s.props.VMSwapFile, "%p", strconv.Itoa(os.Getpid()))
	if path == "" {
		path = "corekv.swap"
	}
	swap, err := vm.OpenSwapFile(path, s.props.VMPageSize, s.props.VMPages)
	if err != nil {
		logger.Fatal("vm: open swap file %s: %v", path, err)
	}
	s.vmgr = vm.NewManager(swap, s.props.VMMaxThreads)
	logger.Info("vm: paging enabled, %d pages of %d bytes at %s",
		s.props.VMPages, s.props.VMPageSize, path)
}

// VMNotify exposes the worker pool's self-pipe for the event loop to
// select on; nil when paging is disabled.
func (s *Server) VMNotify() <-chan struct{} {
	if s.vmgr == nil {
		return nil
	}
	return s.vmgr.Notify()
}

// preloadGate inspects the keys cmdLine touches (via its registered
// PreFunc) and, if any are Swapped or Loading, parks the client until
// the loads land. A client already parked has its later commands
// queued behind the parked one to preserve per-client ordering.
func (s *Server) preloadGate(c Client, db *DB, cmdLine CmdLine) resp.Reply {
	if c == nil {
		return nil
	}
	if _, already := s.parked[c]; already {
		s.backlog[c] = append(s.backlog[c], cmdLine)
		return DeferredReply{}
	}
	// DEL never reads the value: a swapped key is dropped in place and
	// cancelSwap frees its pages, with no load first
	if strings.EqualFold(string(cmdLine[0]), "del") {
		return nil
	}
	write, read := RelatedKeys(cmdLine)
	var waiting map[string]struct{}
	for _, key := range append(write, read...) {
		o, exists := db.data[key]
		if !exists {
			continue
		}
		if o.Storage == obj.StorageSwapped || o.Storage == obj.StorageLoading {
			if waiting == nil {
				waiting = make(map[string]struct{})
			}
			waiting[key] = struct{}{}
			s.requestLoad(db, key, o)
		}
	}
	if waiting == nil {
		return nil
	}
	p := &parkedCmd{c: c, db: db, cmdLine: cmdLine, waiting: waiting}
	s.parked[c] = p
	for key := range waiting {
		db.pendingSwap[key] = append(db.pendingSwap[key], p)
	}
	return DeferredReply{}
}

// requestLoad submits a Load job for a swapped key unless one is
// already in flight (at-most-once per key, spec.md §4.J).
func (s *Server) requestLoad(db *DB, key string, o *obj.Object) {
	if o.Storage == obj.StorageLoading {
		return
	}
	o.Storage = obj.StorageLoading
	s.vmgr.Submit(&vm.Job{
		Kind:    vm.JobLoad,
		DBIndex: db.index,
		Key:     key,
		Obj:     o,
		Page:    o.FirstPage,
		Pages:   o.PageCount,
	})
}

// HandleVMCompletions commits every finished job: PrepareSwap is
// rebranded DoSwap and requeued; DoSwap transitions Swapping→Swapped
// and releases the in-memory payload; Load transitions
// Loading→Memory, installs the payload and wakes parked clients.
// Called by the event loop when the self-pipe fires.
func (s *Server) HandleVMCompletions() {
	if s.vmgr == nil {
		return
	}
	for _, job := range s.vmgr.DrainProcessed() {
		if job.Canceled {
			continue
		}
		db := s.dbs[job.DBIndex]
		o := job.Obj
		switch job.Kind {
		case vm.JobPrepareSwap:
			if o.Storage != obj.StorageSwapping {
				continue
			}
			job.Kind = vm.JobDoSwap
			s.vmgr.Submit(job)
		case vm.JobDoSwap:
			if job.Err != nil || o.Storage != obj.StorageSwapping {
				o.Storage = obj.StorageMemory
				continue
			}
			o.OOMKind = o.Kind
			o.FirstPage = job.Page
			o.PageCount = job.Pages
			o.Storage = obj.StorageSwapped
			o.Bytes = nil
			o.Payload = nil
			logger.Debug("vm: swapped out %q (%d pages at %d)", job.Key, job.Pages, job.Page)
		case vm.JobLoad:
			if o.Storage != obj.StorageLoading {
				continue
			}
			if job.Err != nil {
				logger.Error("vm: load %q: %v", job.Key, job.Err)
				o.Storage = obj.StorageSwapped
				continue
			}
			o.Bytes = job.Data
			o.Encoding = obj.EncRaw
			o.Kind = o.OOMKind
			o.Storage = obj.StorageMemory
			o.LastAccess = time.Now().Unix()
			o.TryEncodeInt()
			s.wakeParked(db, job.Key)
		}
	}
}

func (s *Server) wakeParked(db *DB, key string) {
	waiters := db.pendingSwap[key]
	delete(db.pendingSwap, key)
	for _, p := range waiters {
		delete(p.waiting, key)
	}
}

// RunReadyParked is the before-sleep hook body (spec.md §4.F): every
// parked client whose keys have all loaded gets its original command
// executed, then its queued backlog drained in order.
func (s *Server) RunReadyParked() {
	for c, p := range s.parked {
		if len(p.waiting) > 0 {
			continue
		}
		delete(s.parked, c)
		reply := p.db.Exec(c, p.cmdLine)
		if _, deferred := reply.(DeferredReply); !deferred {
			_ = c.Write(reply.ToBytes())
		}
		queued := s.backlog[c]
		delete(s.backlog, c)
		for i, line := range queued {
			r := s.Exec(c, line)
			if _, reparked := s.parked[c]; reparked {
				s.backlog[c] = append(s.backlog[c], queued[i+1:]...)
				break
			}
			if _, deferred := r.(DeferredReply); !deferred {
				_ = c.Write(r.ToBytes())
			}
		}
	}
}

// cancelSwap is the DB hook fired when a key holding a non-Memory
// value is deleted or overwritten (spec.md §4.J cancellation).
func (s *Server) cancelSwap(db *DB, key string, o *obj.Object) {
	if s.vmgr == nil {
		return
	}
	switch o.Storage {
	case obj.StorageSwapped:
		s.vmgr.FreePages(o.FirstPage, o.PageCount)
	case obj.StorageSwapping:
		s.vmgr.Cancel(db.index, key)
	case obj.StorageLoading:
		removedNew := s.vmgr.Cancel(db.index, key)
		if removedNew {
			// the load never ran, so the pages are still allocated
			s.vmgr.FreePages(o.FirstPage, o.PageCount)
		}
		s.wakeParked(db, key)
	}
	o.Storage = obj.StorageMemory
}

// swapOutIfNeeded runs once per cron while paging is enabled: when
// resident memory exceeds vm-max-memory, score a small random sample
// of keys per database by idle_age x log(1+bytes) and swap the
// highest-scoring eligible value (in Memory, refcount 1, String kind
// — spec.md §3/§4.J swap-out decision).
func (s *Server) swapOutIfNeeded() {
	if s.props == nil || s.props.VMMaxMemory <= 0 {
		return
	}
	if usedMemory() <= s.props.VMMaxMemory {
		return
	}
	now := time.Now().Unix()
	var bestDB *DB
	var bestKey string
	var bestObj *obj.Object
	bestScore := -1.0
	for _, db := range s.dbs {
		sampled := 0
		for key, o := range db.data {
			if sampled >= swapSamplesPerDB {
				break
			}
			sampled++
			if o.Storage != obj.StorageMemory || o.RefCount() != 1 || o.Kind != obj.KindString {
				continue
			}
			idle := float64(now-o.LastAccess) + 1
			score := idle * math.Log(1+float64(o.StringLen()))
			if score > bestScore {
				bestDB, bestKey, bestObj, bestScore = db, key, o, score
			}
		}
	}
	if bestObj == nil {
		return
	}
	bestObj.Storage = obj.StorageSwapping
	data := append([]byte(nil), bestObj.Decode()...)
	s.vmgr.Submit(&vm.Job{
		Kind:    vm.JobPrepareSwap,
		DBIndex: bestDB.index,
		Key:     bestKey,
		Obj:     bestObj,
		Data:    data,
	})
}
