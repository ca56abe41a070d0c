// Package vm implements the optional value-paging subsystem of
// spec.md §4.J: a page-addressable swap file with a free-page bitmap
// and a rolling allocation cursor, a worker pool fed by three job
// queues under one mutex, and a self-pipe wakeup so the single
// dispatcher goroutine commits finished jobs without ever blocking.
package vm

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"sync"
)

// maxNearPages is how many occupied pages the allocator tolerates
// scanning past before jumping the cursor to a pseudo-random offset;
// maxRandomJump bounds that offset (spec.md §4.J's near-page counter).
const (
	maxNearPages  = 65536
	maxRandomJump = 4096
)

// payloadHeader prefixes every stored payload with its byte length,
// since a payload rarely fills its last page exactly.
const payloadHeader = 8

// SwapFile is the fixed-size page store.
type SwapFile struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int64
	pages    int64
	bitmap   []uint64
	cursor   int64 // next probable empty page
	used     int64
}

// OpenSwapFile creates (truncating) the swap file with the given page
// geometry.
func OpenSwapFile(path string, pageSize, pages int64) (*SwapFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(pageSize * pages); err != nil {
		file.Close()
		return nil, err
	}
	return &SwapFile{
		file:     file,
		pageSize: pageSize,
		pages:    pages,
		bitmap:   make([]uint64, (pages+63)/64),
	}, nil
}

func (s *SwapFile) PageSize() int64 { return s.pageSize }

// UsedPages reports how many pages are currently allocated.
func (s *SwapFile) UsedPages() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// PagesNeeded returns how many pages a payload of n bytes occupies.
func (s *SwapFile) PagesNeeded(n int) int64 {
	total := int64(n) + payloadHeader
	return (total + s.pageSize - 1) / s.pageSize
}

func (s *SwapFile) pageUsed(page int64) bool {
	return s.bitmap[page/64]&(1<<(uint(page)%64)) != 0
}

func (s *SwapFile) setPage(page int64, used bool) {
	if used {
		s.bitmap[page/64] |= 1 << (uint(page) % 64)
	} else {
		s.bitmap[page/64] &^= 1 << (uint(page) % 64)
	}
}

// Allocate finds n contiguous free pages by linear scan from the
// cursor, wrapping once; under contention (too many occupied pages
// skipped) the cursor jumps forward pseudo-randomly rather than
// crawling the whole file (spec.md §4.J).
func (s *SwapFile) Allocate(n int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > s.pages {
		return 0, false
	}
	base := s.cursor % s.pages
	nearPages := int64(0)
	scanned := int64(0)
	run := int64(0)
	runStart := int64(0)
	pos := base
	for scanned < s.pages {
		if s.pageUsed(pos) {
			run = 0
			nearPages++
			if nearPages > maxNearPages {
				nearPages = 0
				pos = (pos + rand.Int63n(maxRandomJump)) % s.pages
				scanned++
				continue
			}
		} else {
			if run == 0 {
				runStart = pos
			}
			run++
			if run == n {
				for p := runStart; p < runStart+n; p++ {
					s.setPage(p, true)
				}
				s.used += n
				s.cursor = (runStart + n) % s.pages
				return runStart, true
			}
		}
		pos++
		scanned++
		if pos == s.pages {
			// a run can't straddle the wrap
			pos = 0
			run = 0
		}
	}
	return 0, false
}

// Free releases n pages starting at page.
func (s *SwapFile) Free(page, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := page; p < page+n && p < s.pages; p++ {
		if s.pageUsed(p) {
			s.setPage(p, false)
			s.used--
		}
	}
}

// WritePayload stores data at the given page run, prefixed by its
// length.
func (s *SwapFile) WritePayload(page, n int64, data []byte) error {
	if int64(len(data))+payloadHeader > n*s.pageSize {
		return fmt.Errorf("vm: payload of %d bytes exceeds %d pages", len(data), n)
	}
	buf := make([]byte, payloadHeader+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(len(data)))
	copy(buf[payloadHeader:], data)
	_, err := s.file.WriteAt(buf, page*s.pageSize)
	return err
}

// ReadPayload reconstitutes the payload stored at the page run.
func (s *SwapFile) ReadPayload(page, n int64) ([]byte, error) {
	head := make([]byte, payloadHeader)
	if _, err := s.file.ReadAt(head, page*s.pageSize); err != nil {
		return nil, err
	}
	size := int64(binary.LittleEndian.Uint64(head))
	if size < 0 || size+payloadHeader > n*s.pageSize {
		return nil, fmt.Errorf("vm: corrupt payload header at page %d", page)
	}
	data := make([]byte, size)
	if _, err := s.file.ReadAt(data, page*s.pageSize+payloadHeader); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *SwapFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
