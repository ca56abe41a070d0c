// maxmemory enforcement (spec.md §5): when used memory exceeds the
// configured cap, eligible expiring keys are sampled (3 per database)
// and the soonest-to-expire is evicted; while over the cap, commands
// flagged DenyOOM are refused by the dispatcher.
package database

import (
	"runtime"
	"time"

	"github.com/nyxkv/corekv/internal/logger"
)

// evictionSamplesPerDB is the per-database sample size of the
// soonest-to-expire eviction policy.
const evictionSamplesPerDB = 3

// usedMemory reports the heap in use. runtime.ReadMemStats is a
// stop-the-world sample, so it stays off hot paths: the dispatcher
// consults the cached verdict, refreshed once per cron.
func usedMemory() int64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return int64(mem.HeapAlloc)
}

var overMemoryCached bool

// OverMaxMemory is the FlagDenyOOM gate installed on every DB.
func (s *Server) OverMaxMemory() bool {
	if s.props == nil || s.props.MaxMemory <= 0 {
		return false
	}
	return overMemoryCached
}

// freeMemoryIfNeeded runs once per cron: refresh the over-cap
// verdict, then evict the soonest-to-expire key among a small random
// sample per database until under the cap or out of candidates.
func (s *Server) freeMemoryIfNeeded() {
	if s.props == nil || s.props.MaxMemory <= 0 {
		return
	}
	overMemoryCached = usedMemory() > s.props.MaxMemory
	if !overMemoryCached {
		return
	}
	for attempts := 0; attempts < 16; attempts++ {
		var bestDB *DB
		var bestKey string
		var bestWhen time.Time
		for _, db := range s.dbs {
			sampled := 0
			for key, when := range db.expires {
				if sampled >= evictionSamplesPerDB {
					break
				}
				sampled++
				if bestKey == "" || when.Before(bestWhen) {
					bestDB, bestKey, bestWhen = db, key, when
				}
			}
		}
		if bestKey == "" {
			// nothing evictable; DenyOOM refusal is the only defense
			logger.Warn("maxmemory: over cap with no expiring keys to evict")
			return
		}
		bestDB.Remove(bestKey)
		bestDB.AddAof(toCmdLineS("DEL", bestKey))
		runtime.GC()
		overMemoryCached = usedMemory() > s.props.MaxMemory
		if !overMemoryCached {
			return
		}
	}
}
