// TCP front end: accept loop, one reader goroutine per connection
// feeding parsed requests to the event loop, and one writer goroutine
// per connection enforcing the per-client reply-byte fairness cap of
// spec.md §5 with a token bucket.
package aeloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nyxkv/corekv/internal/config"
	"github.com/nyxkv/corekv/internal/connection"
	"github.com/nyxkv/corekv/internal/database"
	"github.com/nyxkv/corekv/internal/logger"
	"github.com/nyxkv/corekv/internal/resp"
)

// writeQuantum is the per-client reply budget per scheduling quantum
// (spec.md §5: 64 KiB per client per loop iteration).
const writeQuantum = 64 * 1024

// session wraps a connection with the write queue, the reply-rate
// token bucket and the idle-reaping timestamp.
type session struct {
	*connection.Connection
	raw        net.Conn
	out        chan []byte
	limiter    *rate.Limiter
	lastActive int64 // unix seconds, atomically updated

	mu     sync.Mutex
	closed bool
}

func newSession(conn net.Conn) *session {
	s := &session{
		Connection: connection.New(conn),
		raw:        conn,
		out:        make(chan []byte, 256),
		// refill one quantum per ~10ms scheduling slice
		limiter:    rate.NewLimiter(rate.Limit(writeQuantum*100), writeQuantum),
		lastActive: time.Now().Unix(),
	}
	go s.writeLoop()
	return s
}

// Write queues reply bytes; the writer goroutine owns the socket so
// the dispatcher never blocks on a slow client.
func (s *session) Write(b []byte) error {
	if b == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	s.mu.Unlock()
	select {
	case s.out <- b:
		return nil
	default:
		// reply queue overrun: the client isn't draining; drop it
		s.close()
		return net.ErrClosed
	}
}

func (s *session) writeLoop() {
	ctx := context.Background()
	for b := range s.out {
		for len(b) > 0 {
			chunk := b
			if len(chunk) > writeQuantum {
				chunk = chunk[:writeQuantum]
			}
			if err := s.limiter.WaitN(ctx, len(chunk)); err != nil {
				s.close()
				return
			}
			if _, err := s.raw.Write(chunk); err != nil {
				s.close()
				return
			}
			b = b[len(chunk):]
		}
	}
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.raw.Close()
}

func (s *session) Close() error {
	s.close()
	return nil
}

func (s *session) touch() {
	atomic.StoreInt64(&s.lastActive, time.Now().Unix())
}

// Server ties the loop, the listener and the command server together.
type Server struct {
	loop  *Loop
	db    *database.Server
	props *config.Properties

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func NewServer(props *config.Properties, db *database.Server) *Server {
	srv := &Server{
		loop:     New(time.Second),
		db:       db,
		props:    props,
		sessions: make(map[*session]struct{}),
	}
	db.RunOnLoop = srv.loop.Submit
	srv.loop.SetBeforeSleep(db.RunReadyParked)
	srv.loop.AddCron(db.Cron)
	srv.loop.AddCron(srv.reapIdleClients)
	if ch := db.VMNotify(); ch != nil {
		srv.loop.AddNotify(ch, db.HandleVMCompletions)
	}
	return srv
}

// ListenAndServe runs the accept loop; it returns only on listener
// failure.
func (srv *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", srv.props.Bind, srv.props.Port)
	// durable state loads before the loop starts ticking, so replay
	// never races the cron duties
	srv.db.Startup()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go srv.loop.Run()
	logger.Info("server: listening on %s", addr)
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		if srv.props.MaxClients > 0 && srv.sessionCount() >= srv.props.MaxClients {
			_, _ = conn.Write([]byte("-ERR max number of clients reached" + resp.CRLF))
			_ = conn.Close()
			continue
		}
		sess := newSession(conn)
		srv.addSession(sess)
		go srv.serveClient(sess)
	}
}

func (srv *Server) sessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

func (srv *Server) addSession(sess *session) {
	srv.mu.Lock()
	srv.sessions[sess] = struct{}{}
	srv.mu.Unlock()
}

func (srv *Server) dropSession(sess *session) {
	srv.mu.Lock()
	delete(srv.sessions, sess)
	srv.mu.Unlock()
	sess.close()
	srv.loop.Submit(func() { srv.db.CloseClient(sess) })
}

// serveClient is the per-connection reader: parse framed requests off
// the socket and submit each to the loop, where the dispatcher runs
// it and queues the reply.
func (srv *Server) serveClient(sess *session) {
	defer srv.dropSession(sess)
	ch := resp.ParseStream(sess.raw, database.IsBulkCommand)
	for payload := range ch {
		if payload.Err != nil {
			if isEOF(payload.Err) {
				return
			}
			if err := sess.Write([]byte("-ERR Protocol error" + resp.CRLF)); err != nil {
				return
			}
			continue
		}
		mb, ok := payload.Data.(*resp.MultiBulkReply)
		if !ok || len(mb.Args) == 0 {
			continue
		}
		sess.touch()
		if len(mb.Args) == 1 && eqFoldBytes(mb.Args[0], "quit") {
			_ = sess.Write([]byte("+OK" + resp.CRLF))
			return
		}
		args := mb.Args
		srv.loop.Submit(func() {
			reply := srv.db.Exec(sess, args)
			if reply == nil {
				return
			}
			if _, deferred := reply.(database.DeferredReply); deferred {
				return
			}
			_ = sess.Write(reply.ToBytes())
		})
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func eqFoldBytes(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != s[i] {
			return false
		}
	}
	return true
}

// reapIdleClients closes connections idle past the configured
// timeout; master links and replicas are exempt (spec.md §5).
func (srv *Server) reapIdleClients() {
	if srv.props.Timeout <= 0 {
		return
	}
	deadline := time.Now().Unix() - int64(srv.props.Timeout)
	srv.mu.Lock()
	var victims []*session
	for sess := range srv.sessions {
		if sess.IsReplica() {
			continue
		}
		if atomic.LoadInt64(&sess.lastActive) < deadline {
			victims = append(victims, sess)
		}
	}
	srv.mu.Unlock()
	for _, sess := range victims {
		logger.Info("server: closing idle client %s", sess.RemoteAddr())
		sess.close()
	}
}
