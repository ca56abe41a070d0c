// Snapshot save/load and journal-rewrite orchestration (spec.md
// §4.G/§4.H). The snapshot is serialized point-in-time on the
// dispatcher goroutine — the Go rendition of "snapshot at t0" without
// copy-on-write fork — and the slow part (write, fsync, atomic
// rename) runs on a background goroutine, preserving the observable
// contract: parent keeps accepting writes, rename on success, temp
// cleanup on failure. The journal rewrite likewise rebuilds a compact
// journal from the baseline prefix of the live file while the
// persister mirrors new appends into a diff buffer.
package database

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nyxkv/corekv/internal/aof"
	"github.com/nyxkv/corekv/internal/datastruct/list"
	"github.com/nyxkv/corekv/internal/datastruct/set"
	"github.com/nyxkv/corekv/internal/datastruct/sortedset"
	"github.com/nyxkv/corekv/internal/datastruct/zipmap"
	"github.com/nyxkv/corekv/internal/logger"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/rdb"
	"github.com/nyxkv/corekv/internal/resp"
)

func (s *Server) rdbPath() string {
	dir, name := ".", "dump.rdb"
	if s.props != nil {
		dir, name = s.props.Dir, s.props.DBFilename
	}
	return filepath.Join(dir, name)
}

func (s *Server) execSave() resp.Reply {
	if err := s.saveRDB(s.rdbPath()); err != nil {
		return resp.MakeErrReply("ERR " + err.Error())
	}
	return resp.MakeOkReply()
}

func (s *Server) execBGSave() resp.Reply {
	if s.saveInProgress {
		return resp.MakeErrReply("ERR background save already in progress")
	}
	s.startBackgroundSave()
	return resp.MakeStatusReply("Background saving started")
}

// startBackgroundSave snapshots the keyspace into a buffer now and
// hands the disk work to a goroutine; completion re-enters the loop.
func (s *Server) startBackgroundSave() {
	if s.saveInProgress {
		return
	}
	s.saveInProgress = true
	data, err := s.serializeKeyspace()
	if err != nil {
		logger.Error("rdb: serialize: %v", err)
		s.finishBackgroundSave(err)
		return
	}
	path := s.rdbPath()
	go func() {
		err := writeFileAtomic(path, data)
		s.RunOnLoop(func() { s.finishBackgroundSave(err) })
	}()
}

func (s *Server) finishBackgroundSave(err error) {
	s.saveInProgress = false
	if err == nil {
		s.dirty = 0
		s.lastSave = time.Now()
		logger.Info("rdb: background save complete")
	} else {
		logger.Error("rdb: background save failed: %v", err)
	}
	if s.master != nil {
		s.master.SnapshotDone(err == nil)
	}
}

// saveRDB is the foreground SAVE path: serialize and write in place.
func (s *Server) saveRDB(path string) error {
	data, err := s.serializeKeyspace()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	s.dirty = 0
	s.lastSave = time.Now()
	return nil
}

// writeFileAtomic writes to temp-<pid>.rdb in the target's directory,
// fsyncs, then renames over the target (spec.md §4.G write protocol).
func writeFileAtomic(path string, data []byte) error {
	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf("temp-%d.rdb", os.Getpid()))
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Server) serializeKeyspace() ([]byte, error) {
	var buf bytes.Buffer
	compress := true
	if s.props != nil {
		compress = s.props.RDBCompression
	}
	enc := rdb.NewEncoder(&buf, compress)
	if err := enc.WriteHeader(); err != nil {
		return nil, err
	}
	for _, db := range s.dbs {
		if db.Len() == 0 {
			continue
		}
		if err := enc.WriteDBSelector(db.index); err != nil {
			return nil, err
		}
		var encErr error
		db.ForEach(func(key string, entity *obj.Object, expiration *time.Time) bool {
			if expiration != nil {
				if encErr = enc.WriteExpiry(expiration.Unix()); encErr != nil {
					return false
				}
			}
			encErr = writeEntity(enc, key, entity)
			return encErr == nil
		})
		if encErr != nil {
			return nil, encErr
		}
	}
	if err := enc.WriteEOF(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntity(enc *rdb.Encoder, key string, entity *obj.Object) error {
	var typeByte byte
	switch entity.Kind {
	case obj.KindString:
		typeByte = rdb.TypeString
	case obj.KindList:
		typeByte = rdb.TypeList
	case obj.KindSet:
		typeByte = rdb.TypeSet
	case obj.KindZSet:
		typeByte = rdb.TypeZSet
	case obj.KindHash:
		typeByte = rdb.TypeHash
	}
	if err := enc.WriteType(typeByte); err != nil {
		return err
	}
	if err := enc.WriteString([]byte(key)); err != nil {
		return err
	}
	switch entity.Kind {
	case obj.KindString:
		return enc.WriteString(entity.Decode())
	case obj.KindList:
		l := entity.Payload.(*list.List)
		if err := enc.WriteLength(uint32(l.Len())); err != nil {
			return err
		}
		var err error
		l.ForEach(func(v []byte) bool {
			err = enc.WriteString(v)
			return err == nil
		})
		return err
	case obj.KindSet:
		st := entity.Payload.(*set.Set)
		if err := enc.WriteLength(uint32(st.Len())); err != nil {
			return err
		}
		var err error
		st.ForEach(func(m string) bool {
			err = enc.WriteString([]byte(m))
			return err == nil
		})
		return err
	case obj.KindZSet:
		z := entity.Payload.(*sortedset.SortedSet)
		if err := enc.WriteLength(uint32(z.Len())); err != nil {
			return err
		}
		var err error
		z.ForEach(0, z.Len(), false, func(e *sortedset.Element) bool {
			if err = enc.WriteString([]byte(e.Member)); err != nil {
				return false
			}
			err = enc.WriteDouble(e.Score)
			return err == nil
		})
		return err
	case obj.KindHash:
		if err := enc.WriteLength(uint32(hashLen(entity))); err != nil {
			return err
		}
		var err error
		hashForEach(entity, func(field, value []byte) bool {
			if err = enc.WriteString(field); err != nil {
				return false
			}
			err = enc.WriteString(value)
			return err == nil
		})
		return err
	}
	return nil
}

// loadRDB replays a snapshot file into the keyspace. Entries whose
// expiry has already passed are dropped rather than materialized
// (spec.md §3 expiry invariant).
func (s *Server) loadRDB(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	dec := rdb.NewDecoder(file)
	if err := dec.ReadHeader(); err != nil {
		return err
	}
	now := time.Now().Unix()
	currentDB := 0
	for {
		entry, err := dec.Next(&currentDB)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		entity, err := readEntity(dec, entry.Type)
		if err != nil {
			return err
		}
		if entry.ExpireAt != 0 && entry.ExpireAt <= now {
			continue
		}
		if entry.DB < 0 || entry.DB >= len(s.dbs) {
			continue
		}
		db := s.dbs[entry.DB]
		db.PutEntity(string(entry.Key), entity)
		if entry.ExpireAt != 0 {
			db.Expire(string(entry.Key), time.Unix(entry.ExpireAt, 0))
		}
	}
	return nil
}

func readEntity(dec *rdb.Decoder, typeByte byte) (*obj.Object, error) {
	switch typeByte {
	case rdb.TypeString:
		b, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		return makeString(b), nil
	case rdb.TypeList:
		n, err := dec.ReadLength()
		if err != nil {
			return nil, err
		}
		l := list.New()
		for i := uint32(0); i < n; i++ {
			v, err := dec.ReadString()
			if err != nil {
				return nil, err
			}
			l.RPush(v)
		}
		return obj.New(obj.KindList, l), nil
	case rdb.TypeSet:
		n, err := dec.ReadLength()
		if err != nil {
			return nil, err
		}
		st := set.Make()
		for i := uint32(0); i < n; i++ {
			m, err := dec.ReadString()
			if err != nil {
				return nil, err
			}
			st.Add(string(m))
		}
		return obj.New(obj.KindSet, st), nil
	case rdb.TypeZSet:
		n, err := dec.ReadLength()
		if err != nil {
			return nil, err
		}
		z := sortedset.Make()
		for i := uint32(0); i < n; i++ {
			member, err := dec.ReadString()
			if err != nil {
				return nil, err
			}
			score, err := dec.ReadDouble()
			if err != nil {
				return nil, err
			}
			z.Add(string(member), score)
		}
		return obj.New(obj.KindZSet, z), nil
	case rdb.TypeHash:
		n, err := dec.ReadLength()
		if err != nil {
			return nil, err
		}
		entity := obj.New(obj.KindHash, zipmap.New())
		entity.Encoding = obj.EncZipmap
		for i := uint32(0); i < n; i++ {
			field, err := dec.ReadString()
			if err != nil {
				return nil, err
			}
			value, err := dec.ReadString()
			if err != nil {
				return nil, err
			}
			hashSet(entity, field, value)
		}
		return entity, nil
	default:
		return nil, fmt.Errorf("rdb: unknown type byte %d", typeByte)
	}
}

// loadSnapshotFromMaster installs a freshly received full-sync dump:
// rename into place, empty the keyspace, load (spec.md §4.I replica
// side). Called from the replica's sync goroutine; the keyspace work
// runs on the loop.
func (s *Server) loadSnapshotFromMaster(tmpPath string) error {
	path := s.rdbPath()
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	done := make(chan error, 1)
	s.RunOnLoop(func() {
		for _, db := range s.dbs {
			db.Flush()
		}
		done <- s.loadRDB(path)
	})
	return <-done
}

// ---- journal rewrite (spec.md §4.H) ----

func (s *Server) execBGRewriteAOF() resp.Reply {
	if s.persister == nil {
		return resp.MakeErrReply("ERR append only mode is off")
	}
	if s.rewriteInProgress {
		return resp.MakeErrReply("ERR background rewrite already in progress")
	}
	baseline, _, err := s.persister.StartRewrite()
	if err != nil {
		return resp.MakeErrReply("ERR " + err.Error())
	}
	s.rewriteInProgress = true
	dir := "."
	if s.props != nil {
		dir = s.props.Dir
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf("temp-rewrite-%d.aof", os.Getpid()))
	go func() {
		err := s.writeCompactAof(tmpPath, baseline)
		s.RunOnLoop(func() {
			defer func() { s.rewriteInProgress = false }()
			if err != nil {
				logger.Error("aof: rewrite failed: %v", err)
				s.persister.AbortRewrite(tmpPath)
				return
			}
			if err := s.persister.FinishRewrite(tmpPath); err != nil {
				logger.Error("aof: rewrite finish failed: %v", err)
				return
			}
			logger.Info("aof: background rewrite complete")
		})
	}()
	return resp.MakeStatusReply("Background append only file rewriting started")
}

// writeCompactAof replays the journal's baseline prefix into a
// scratch keyspace, then emits the minimal per-key command forms:
// SET / RPUSH / SADD / ZADD / HMSET chains plus a trailing EXPIREAT
// (spec.md §4.H rewrite).
func (s *Server) writeCompactAof(tmpPath string, baseline int64) error {
	scratch := MakeBasicServer(len(s.dbs))
	replayer := &replayClient{}
	s.persister.LoadAof(baseline, func(cmdLine CmdLine) {
		scratch.Exec(replayer, cmdLine)
	})

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	for _, db := range scratch.dbs {
		if db.Len() == 0 {
			continue
		}
		selectCmd := resp.MakeMultiBulkReply(toCmdLineS("SELECT", fmt.Sprint(db.index)))
		if _, err := tmp.Write(selectCmd.ToBytes()); err != nil {
			tmp.Close()
			return err
		}
		var wErr error
		db.ForEach(func(key string, entity *obj.Object, expiration *time.Time) bool {
			if cmd := aof.EntityToCmd(key, entity); cmd != nil {
				if _, wErr = tmp.Write(cmd.ToBytes()); wErr != nil {
					return false
				}
			}
			if expiration != nil {
				if _, wErr = tmp.Write(aof.MakeExpireCmd(key, *expiration).ToBytes()); wErr != nil {
					return false
				}
			}
			return true
		})
		if wErr != nil {
			tmp.Close()
			return wErr
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	return tmp.Close()
}
