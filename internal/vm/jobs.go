package vm

import (
	"sync"
	"time"

	"github.com/nyxkv/corekv/internal/logger"
	"github.com/nyxkv/corekv/internal/obj"
)

// JobKind is one of the three background I/O operations (spec.md §4.J).
type JobKind int

const (
	// JobPrepareSwap computes the page count a value needs by
	// trial-serializing it.
	JobPrepareSwap JobKind = iota
	// JobDoSwap allocates pages and writes the payload out.
	JobDoSwap
	// JobLoad reads the payload back in and frees its pages.
	JobLoad
)

// Job is one unit of background swap I/O. The main thread fills in
// the identity fields at submit time; workers fill in the result
// fields; the main thread commits (or ignores, when Canceled).
type Job struct {
	Kind    JobKind
	DBIndex int
	Key     string
	Obj     *obj.Object

	Data  []byte // serialized payload (in for swap, out for load)
	Pages int64  // page count, computed by PrepareSwap
	Page  int64  // first page, assigned by DoSwap

	Canceled bool
	Err      error
}

// Manager owns the three job queues (newjobs, processing, processed)
// under one mutex and the worker pool draining them. Workers never
// touch the keyspace; the single dispatcher goroutine is the only
// committer (spec.md §5).
type Manager struct {
	swap *SwapFile

	mu         sync.Mutex
	newJobs    []*Job
	processing []*Job
	processed  []*Job

	// wake gets one token per submitted job; notify is the self-pipe
	// the event loop selects on, holding at most one pending token.
	wake   chan struct{}
	notify chan struct{}

	stopped bool
}

// NewManager starts threads workers over the given swap file.
func NewManager(swap *SwapFile, threads int) *Manager {
	if threads <= 0 {
		threads = 1
	}
	m := &Manager{
		swap:   swap,
		wake:   make(chan struct{}, 1024),
		notify: make(chan struct{}, 1),
	}
	for i := 0; i < threads; i++ {
		go m.worker()
	}
	return m
}

// Notify is the self-pipe: readable whenever jobs are waiting on the
// processed queue.
func (m *Manager) Notify() <-chan struct{} {
	return m.notify
}

// Submit queues a job for the workers.
func (m *Manager) Submit(job *Job) {
	m.mu.Lock()
	m.newJobs = append(m.newJobs, job)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// DrainProcessed hands every finished job to the main thread,
// clearing the processed queue.
func (m *Manager) DrainProcessed() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.processed
	m.processed = nil
	return out
}

func (m *Manager) worker() {
	for range m.wake {
		for {
			m.mu.Lock()
			if m.stopped {
				m.mu.Unlock()
				return
			}
			if len(m.newJobs) == 0 {
				m.mu.Unlock()
				break
			}
			job := m.newJobs[0]
			m.newJobs = m.newJobs[1:]
			m.processing = append(m.processing, job)
			m.mu.Unlock()

			m.execute(job)

			m.mu.Lock()
			for i, p := range m.processing {
				if p == job {
					m.processing = append(m.processing[:i], m.processing[i+1:]...)
					break
				}
			}
			m.processed = append(m.processed, job)
			m.mu.Unlock()
			select {
			case m.notify <- struct{}{}:
			default:
			}
		}
	}
}

func (m *Manager) execute(job *Job) {
	switch job.Kind {
	case JobPrepareSwap:
		job.Pages = m.swap.PagesNeeded(len(job.Data))
	case JobDoSwap:
		page, ok := m.swap.Allocate(job.Pages)
		if !ok {
			job.Err = errSwapFull
			return
		}
		if err := m.swap.WritePayload(page, job.Pages, job.Data); err != nil {
			m.swap.Free(page, job.Pages)
			job.Err = err
			return
		}
		job.Page = page
	case JobLoad:
		data, err := m.swap.ReadPayload(job.Page, job.Pages)
		if err != nil {
			job.Err = err
			return
		}
		job.Data = data
		m.swap.Free(job.Page, job.Pages)
	}
}

var errSwapFull = swapFullError{}

type swapFullError struct{}

func (swapFullError) Error() string { return "vm: swap file is full" }

// FreePages releases a page run directly, used when a Swapped value
// is deleted without ever being loaded back.
func (m *Manager) FreePages(page, n int64) {
	m.swap.Free(page, n)
}

// UsedPages reports the swap file's allocated page count.
func (m *Manager) UsedPages() int64 {
	return m.swap.UsedPages()
}

// Cancel voids any in-flight job for key in dbIndex: removed outright
// from newjobs, spin-waited out of processing (a worker moves a job
// to processed in bounded time), and marked Canceled on processed so
// the committer skips it (spec.md §4.J cancellation). Reports whether
// the job was caught still on newjobs, i.e. before any I/O ran.
func (m *Manager) Cancel(dbIndex int, key string) (removedNew bool) {
	for {
		m.mu.Lock()
		// newjobs: remove before a worker ever sees it
		for i, job := range m.newJobs {
			if job.DBIndex == dbIndex && job.Key == key {
				m.newJobs = append(m.newJobs[:i], m.newJobs[i+1:]...)
				m.mu.Unlock()
				return true
			}
		}
		inProcessing := false
		for _, job := range m.processing {
			if job.DBIndex == dbIndex && job.Key == key {
				inProcessing = true
				break
			}
		}
		if !inProcessing {
			// processed: mark so the main thread ignores the result
			for _, job := range m.processed {
				if job.DBIndex == dbIndex && job.Key == key && !job.Canceled {
					job.Canceled = true
					if job.Kind == JobDoSwap && job.Err == nil {
						// the pages it wrote will never be read back
						m.swap.Free(job.Page, job.Pages)
					}
				}
			}
			m.mu.Unlock()
			return false
		}
		m.mu.Unlock()
		time.Sleep(50 * time.Microsecond)
	}
}

// Stop shuts the workers down; pending jobs are abandoned.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	close(m.wake)
	if err := m.swap.Close(); err != nil {
		logger.Warn("vm: close swap file: %v", err)
	}
}
