// Package aggregator implements the aggregation server: it accepts
// connections, orders requests by Lamport timestamp on a priority worker
// pool, and maintains the station database and the freshness archive.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/stratus/internal/archive"
	"github.com/dreamware/stratus/internal/lamport"
	"github.com/dreamware/stratus/internal/message"
	"github.com/dreamware/stratus/internal/scheduler"
	"github.com/dreamware/stratus/internal/snapshot"
	"github.com/dreamware/stratus/internal/storage"
	"github.com/dreamware/stratus/internal/transport"
)

// Bounds on how often the expiry sweep runs.
const (
	minSweepInterval = 10 * time.Millisecond
	maxSweepInterval = time.Second
)

// Server is one aggregation replica. It exclusively owns its clock,
// database, archive and update queue.
type Server struct {
	ln       net.Listener
	ctx      context.Context
	db       storage.Store
	clock    *lamport.Clock
	archive  *archive.Archive
	pool     *scheduler.Pool
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	name     string
	cfg      Config
	wg       sync.WaitGroup
	mu       sync.RWMutex // serializes PUT processing; GETs read under RLock
	connsMu  sync.Mutex
	waitTime atomic.Int64
	up       atomic.Bool
	started  atomic.Bool
	closing  sync.Once
}

// New binds the configured port and restores any snapshot found at the
// configured paths. The server does not accept connections until Start.
func New(cfg Config) (*Server, error) {
	addr := net.JoinHostPort(cfg.BindHost, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		ln:      ln,
		clock:   lamport.New(),
		db:      storage.NewMemoryStore(),
		archive: archive.New(cfg.FreshCount),
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		name:    fmt.Sprintf("aggregator[%s]", ln.Addr()),
	}
	s.waitTime.Store(int64(cfg.WaitTime))

	if err := s.restore(); err != nil {
		ln.Close()
		cancel()
		return nil, err
	}

	s.pool = scheduler.New(cfg.Workers)
	s.up.Store(true)
	return s, nil
}

// Start serves connections and runs the expiry sweep in the background.
func (s *Server) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(2)
	go s.acceptLoop()
	go s.expireLoop()
	log.Printf("%s listening (fresh count %d, wait time %v)", s.name, s.archive.FreshCount(), s.WaitTime())
}

// Close stops accepting, closes every open connection, stops the worker
// pool and waits for all goroutines. It is safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.closing.Do(func() {
		s.up.Store(false)
		s.cancel()
		err = s.ln.Close()

		s.connsMu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.connsMu.Unlock()

		dropped := s.pool.Pending()
		s.pool.Close()
		s.wg.Wait()
		log.Printf("%s stopped (%d queued requests dropped)", s.name, dropped)
	})
	return err
}

// IsUp reports whether the server has not been closed.
func (s *Server) IsUp() bool {
	return s.up.Load()
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Clock returns the server's Lamport clock.
func (s *Server) Clock() *lamport.Clock {
	return s.clock
}

// Database returns the station database.
func (s *Server) Database() storage.Store {
	return s.db
}

// Archive returns the freshness archive.
func (s *Server) Archive() *archive.Archive {
	return s.archive
}

// WaitTime returns the current expiry window.
func (s *Server) WaitTime() time.Duration {
	return time.Duration(s.waitTime.Load())
}

// SetWaitTime changes the expiry window of a running server.
func (s *Server) SetWaitTime(d time.Duration) {
	s.waitTime.Store(int64(d))
}

// CreateSnapshot writes the database and archive to the configured files.
func (s *Server) CreateSnapshot() error {
	s.mu.RLock()
	state := snapshot.State{
		Database: s.db.Snapshot(),
		Archive:  s.archive.Snapshot(),
	}
	stats := s.db.Stats()
	s.mu.RUnlock()

	if err := s.cfg.Snapshot.Save(state); err != nil {
		return err
	}
	log.Printf("%s snapshot saved (%d stations, %d bytes, %d archive entries)",
		s.name, stats.Stations, stats.Bytes, countEntries(state.Archive))
	return nil
}

func (s *Server) restore() error {
	if s.cfg.Snapshot.DatabasePath == "" && s.cfg.Snapshot.ArchivePath == "" {
		return nil
	}
	state, found, err := s.cfg.Snapshot.Load()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	s.db.Restore(state.Database)
	maxTS := s.archive.Restore(state.Archive)
	s.clock.Merge(maxTS)
	log.Printf("%s restored snapshot (%d stations, %d archive entries)",
		s.name, len(state.Database), s.archive.Len())
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("%s accept: %v", s.name, err)
			}
			return
		}
		if !s.track(c) {
			c.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(c)
	}
}

func (s *Server) track(c net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

// handleConn serves one connection, one request at a time, until the peer
// closes or an I/O error occurs.
func (s *Server) handleConn(c net.Conn) {
	defer s.wg.Done()
	defer s.untrack(c)

	conn := transport.New(c, s.clock)
	defer conn.Close()
	s.serve(conn, conn.RemoteIP())
}

func (s *Server) serve(conn transport.ServerConn, remoteIP string) {
	for {
		req, err := conn.ReadRequest()
		if err != nil {
			if errors.Is(err, message.ErrMalformedMessage) {
				log.Printf("%s %s: %v", s.name, remoteIP, err)
				if err := conn.WriteMessage(badRequest("Malformed request")); err != nil {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				log.Printf("%s %s: read: %v", s.name, remoteIP, err)
			}
			return
		}

		resp := s.dispatch(req, remoteIP)
		if err := conn.WriteMessage(resp); err != nil {
			if s.ctx.Err() == nil {
				log.Printf("%s %s: write: %v", s.name, remoteIP, err)
			}
			return
		}
	}
}

// dispatch assigns the request its Lamport priority, queues it on the
// worker pool and waits for the response.
func (s *Server) dispatch(req *message.Request, remoteIP string) *message.Response {
	priority := s.clock.Tick()
	result := make(chan *message.Response, 1)

	err := s.pool.Submit(priority, func() {
		result <- s.execute(req, remoteIP, priority)
	})
	if err != nil {
		return internalError("Server is shutting down")
	}

	select {
	case resp := <-result:
		return resp
	case <-s.ctx.Done():
		return internalError("Server is shutting down")
	}
}

func (s *Server) expireLoop() {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(sweepInterval(s.WaitTime()))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if popped, removed := s.archive.Expire(s.WaitTime()); popped > 0 {
			log.Printf("%s expired %d updates, removed %d archive entries", s.name, popped, removed)
		}
	}
}

func sweepInterval(wait time.Duration) time.Duration {
	if wait <= 0 {
		return maxSweepInterval
	}
	return min(max(wait, minSweepInterval), maxSweepInterval)
}

func countEntries(entries map[string]map[string]archive.Entry) int {
	n := 0
	for _, files := range entries {
		n += len(files)
	}
	return n
}
