// Package balancer implements the load balancer in front of the
// aggregation servers.
//
// The balancer keeps an ordered registry of aggregation servers and relays
// every client connection to the current leader over one back connection.
// A heartbeat probes the leader with GET "/" and, when the probe fails,
// runs an election: the first registered server that answers 2xx becomes
// leader. When no member answers, a fresh built-in replica is spawned
// in-process on the next free port and elected.
package balancer

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

	uuid "github.com/satori/go.uuid"

	"github.com/dreamware/stratus/internal/aggregator"
	"github.com/dreamware/stratus/internal/client"
	"github.com/dreamware/stratus/internal/lamport"
	"github.com/dreamware/stratus/internal/message"
	"github.com/dreamware/stratus/internal/transport"
)

// Defaults used when the corresponding Config field is zero.
const (
	DefaultProbeTimeout     = 2 * time.Second
	DefaultMaxSpawnAttempts = 64
)

var (
	// ErrClosed is returned by operations on a closed balancer.
	ErrClosed = errors.New("balancer closed")
	// ErrUnreachable is returned when a server fails its probe.
	ErrUnreachable = errors.New("server unreachable")
)

const msgLeaderUnavailable = "Aggregation server unavailable"

// Config holds the settings of a balancer.
type Config struct {
	Replica           aggregator.Config // built-in replica settings; Port is assigned
	BindHost          string
	Port              int
	HeartbeatSchedule time.Duration
	ProbeTimeout      time.Duration
	MaxSpawnAttempts  int // ports tried per built-in spawn
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Replica:           aggregator.DefaultConfig(),
		HeartbeatSchedule: DefaultHeartbeatSchedule,
		ProbeTimeout:      DefaultProbeTimeout,
		MaxSpawnAttempts:  DefaultMaxSpawnAttempts,
	}
}

// Balancer relays client connections to the elected aggregation server.
type Balancer struct {
	ln        net.Listener
	ctx       context.Context
	registry  *Registry
	heartbeat *Heartbeat
	clock     *lamport.Clock
	builtin   atomic.Pointer[aggregator.Server]
	conns     map[net.Conn]struct{}
	cancel    context.CancelFunc
	name      string
	cfg       Config
	wg        sync.WaitGroup
	electMu   sync.Mutex // serializes election, leader changes and spawning
	connsMu   sync.Mutex
	newPort   int // next port tried for a built-in replica; guarded by electMu
	started   atomic.Bool
	closing   sync.Once
}

// New binds the configured port, spawns the built-in replica on the first
// free port above it and makes the replica leader.
func New(cfg Config) (*Balancer, error) {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.MaxSpawnAttempts <= 0 {
		cfg.MaxSpawnAttempts = DefaultMaxSpawnAttempts
	}

	addr := net.JoinHostPort(cfg.BindHost, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Balancer{
		cfg:       cfg,
		ln:        ln,
		registry:  NewRegistry(),
		heartbeat: NewHeartbeat(cfg.HeartbeatSchedule),
		clock:     lamport.New(),
		conns:     make(map[net.Conn]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		name:      fmt.Sprintf("balancer[%s]", ln.Addr()),
	}
	b.newPort = b.Port() + 1

	b.electMu.Lock()
	leader, err := b.startBuiltIn()
	if err == nil {
		err = b.registry.SetLeader(leader)
	}
	b.electMu.Unlock()
	if err != nil {
		ln.Close()
		cancel()
		return nil, err
	}

	b.heartbeat.SetCheckFunction(b.probe)
	b.heartbeat.SetOnFailure(func(ServerInfo) {
		if _, err := b.Elect(); err != nil && !errors.Is(err, ErrClosed) {
			log.Printf("%s election failed: %v", b.name, err)
		}
	})
	return b, nil
}

// Start accepts client connections and runs the heartbeat.
func (b *Balancer) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.wg.Add(2)
	go b.acceptLoop()
	go func() {
		defer b.wg.Done()
		b.heartbeat.Start(b.ctx, b.Leader)
	}()
	log.Printf("%s listening, leader %s, heartbeat every %v", b.name, b.Leader(), b.heartbeat.Interval())
}

// Close stops the heartbeat and the acceptor, interrupts in-flight relays
// and closes the built-in replica. It is safe to call more than once.
func (b *Balancer) Close() error {
	var err error
	b.closing.Do(func() {
		b.cancel()
		b.heartbeat.Stop()
		err = b.ln.Close()

		b.connsMu.Lock()
		for c := range b.conns {
			c.Close()
		}
		b.connsMu.Unlock()
		b.wg.Wait()

		b.electMu.Lock()
		if srv := b.builtin.Load(); srv != nil && srv.IsUp() {
			srv.Close()
		}
		b.electMu.Unlock()
		log.Printf("%s stopped", b.name)
	})
	return err
}

// Addr returns the bound address.
func (b *Balancer) Addr() net.Addr {
	return b.ln.Addr()
}

// Port returns the bound port.
func (b *Balancer) Port() int {
	return b.ln.Addr().(*net.TCPAddr).Port
}

// Registry returns the membership registry.
func (b *Balancer) Registry() *Registry {
	return b.registry
}

// Heartbeat returns the leader heartbeat.
func (b *Balancer) Heartbeat() *Heartbeat {
	return b.heartbeat
}

// Leader returns the current leader.
func (b *Balancer) Leader() ServerInfo {
	return b.registry.Leader()
}

// BuiltIn returns the most recently spawned built-in replica. It may have
// been closed.
func (b *Balancer) BuiltIn() *aggregator.Server {
	return b.builtin.Load()
}

// Contains reports whether host:port is registered.
func (b *Balancer) Contains(host string, port int) bool {
	return b.registry.Contains(host, port)
}

// IsAlive probes s with GET "/".
func (b *Balancer) IsAlive(s ServerInfo) bool {
	return b.probe(s.Addr()) == nil
}

// AddServer probes host:port and registers it if it answers.
func (b *Balancer) AddServer(host string, port int) error {
	s := ServerInfo{Host: host, Port: port}
	if err := b.probe(s.Addr()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, s, err)
	}
	return b.registry.Add(s)
}

// SetLeader makes host:port the leader. An unregistered address is probed
// and registered first. Setting the current leader again is a no-op.
func (b *Balancer) SetLeader(host string, port int) error {
	b.electMu.Lock()
	defer b.electMu.Unlock()

	s := ServerInfo{Host: host, Port: port}
	if b.registry.Leader() == s {
		return nil
	}
	if !b.registry.Contains(host, port) {
		if err := b.AddServer(host, port); err != nil && !errors.Is(err, ErrAlreadyRegistered) {
			return err
		}
	}
	if err := b.registry.SetLeader(s); err != nil {
		return err
	}
	log.Printf("%s leader set to %s", b.name, s)
	return nil
}

// Elect picks the first registered server that answers a probe, in
// insertion order. When none answers, it spawns a new built-in replica and
// elects it. Elections never run concurrently.
func (b *Balancer) Elect() (ServerInfo, error) {
	b.electMu.Lock()
	defer b.electMu.Unlock()

	if b.ctx.Err() != nil {
		return ServerInfo{}, ErrClosed
	}

	for _, m := range b.registry.Members() {
		if !b.IsAlive(m) {
			continue
		}
		if err := b.registry.SetLeader(m); err != nil {
			return ServerInfo{}, err
		}
		log.Printf("%s elected %s (member %d of %d)", b.name, m, b.registry.Index(m)+1, b.registry.Len())
		return m, nil
	}

	log.Printf("%s no member answered, spawning a built-in replica", b.name)
	s, err := b.startBuiltIn()
	if err != nil {
		return ServerInfo{}, err
	}
	if err := b.registry.SetLeader(s); err != nil {
		return ServerInfo{}, err
	}
	log.Printf("%s elected built-in replica %s", b.name, s)
	return s, nil
}

// startBuiltIn closes any previous built-in replica and starts a new one
// on newPort, moving up one port per bind failure. Caller holds electMu.
func (b *Balancer) startBuiltIn() (ServerInfo, error) {
	if old := b.builtin.Load(); old != nil && old.IsUp() {
		old.Close()
	}

	var lastErr error
	for i := 0; i < b.cfg.MaxSpawnAttempts; i++ {
		cfg := b.cfg.Replica
		cfg.Port = b.newPort
		srv, err := aggregator.New(cfg)
		if err != nil {
			lastErr = err
			b.newPort++
			continue
		}
		srv.Start()
		b.builtin.Store(srv)

		s := ServerInfo{Host: loopbackHost(cfg.BindHost), Port: srv.Port()}
		if !b.registry.Contains(s.Host, s.Port) {
			if err := b.registry.Add(s); err != nil {
				return ServerInfo{}, err
			}
		}
		log.Printf("%s built-in replica on %s", b.name, s)
		return s, nil
	}
	return ServerInfo{}, fmt.Errorf("spawn built-in replica after %d ports: %w", b.cfg.MaxSpawnAttempts, lastErr)
}

func loopbackHost(bindHost string) string {
	if ip := net.ParseIP(bindHost); ip != nil && !ip.IsUnspecified() {
		return bindHost
	}
	return "127.0.0.1"
}

// probe sends GET "/" to addr within the probe timeout.
func (b *Balancer) probe(addr string) error {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.ProbeTimeout)
	defer cancel()
	return client.Ping(ctx, addr, b.cfg.ProbeTimeout, b.clock)
}

func (b *Balancer) acceptLoop() {
	defer b.wg.Done()
	for {
		c, err := b.ln.Accept()
		if err != nil {
			if b.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("%s accept: %v", b.name, err)
			}
			return
		}
		if !b.track(c) {
			c.Close()
			return
		}
		b.wg.Add(1)
		go b.handleConn(c)
	}
}

func (b *Balancer) track(c net.Conn) bool {
	b.connsMu.Lock()
	defer b.connsMu.Unlock()
	if b.ctx.Err() != nil {
		return false
	}
	b.conns[c] = struct{}{}
	return true
}

func (b *Balancer) untrack(c net.Conn) {
	b.connsMu.Lock()
	delete(b.conns, c)
	b.connsMu.Unlock()
}

// handleConn relays one client connection to the leader. Messages cross
// the balancer verbatim; only responses the balancer synthesizes carry its
// own clock.
func (b *Balancer) handleConn(c net.Conn) {
	defer b.wg.Done()
	defer b.untrack(c)

	r := &relay{
		b:       b,
		front:   transport.New(c, nil),
		session: uuid.NewV4().String(),
	}
	defer r.close()
	r.serve()
}

type relay struct {
	b        *Balancer
	front    *transport.Conn
	back     *transport.Conn
	stopBack func() bool
	leader   ServerInfo
	session  string
}

func (r *relay) serve() {
	if err := r.dial(); err != nil {
		log.Printf("%s session %s: %v", r.b.name, r.session, err)
	}
	for {
		raw, err := r.front.ReadRaw()
		if errors.Is(err, message.ErrMalformedMessage) {
			if err := r.reply(message.NewStatusResponse(message.StatusBadRequest, "Malformed request")); err != nil {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && r.b.ctx.Err() == nil {
				log.Printf("%s session %s: read: %v", r.b.name, r.session, err)
			}
			return
		}

		req, err := message.ParseRequest(raw)
		if err != nil {
			if err := r.reply(message.NewStatusResponse(message.StatusBadRequest, "Malformed request")); err != nil {
				return
			}
			continue
		}
		if t, err := message.Clock(req); err == nil {
			r.b.clock.Merge(t)
		}

		resp, err := r.forward(raw)
		if err != nil {
			log.Printf("%s session %s: leader %s: %v", r.b.name, r.session, r.leader, err)
			r.dropBack()
			if err := r.reply(r.unavailable()); err != nil {
				return
			}
			continue
		}
		if err := r.front.WriteRaw(resp); err != nil {
			return
		}
	}
}

// dial opens the back connection to whoever is leader now.
func (r *relay) dial() error {
	leader := r.b.Leader()
	conn, err := transport.Dial(r.b.ctx, leader.Addr(), r.b.cfg.ProbeTimeout, nil)
	if err != nil {
		return err
	}
	r.back = conn
	r.stopBack = context.AfterFunc(r.b.ctx, func() { conn.Close() })
	r.leader = leader
	return nil
}

// forward sends raw to the leader and returns its raw response, dialing
// first if the previous back connection failed.
func (r *relay) forward(raw string) (string, error) {
	if r.back == nil {
		if err := r.dial(); err != nil {
			return "", err
		}
	}
	if err := r.back.WriteRaw(raw); err != nil {
		return "", err
	}
	resp, err := r.back.ReadRaw()
	if err != nil {
		return "", err
	}
	if parsed, err := message.ParseResponse(resp); err == nil {
		if t, err := message.Clock(parsed); err == nil {
			r.b.clock.Merge(t)
		}
	}
	return resp, nil
}

func (r *relay) unavailable() *message.Response {
	return message.NewResponse(message.StatusInternalServerError).
		SetHeader(message.ContentType, message.JSONContentType).
		SetBody(message.StatusBody(message.StatusInternalServerError, map[string]string{
			"Message": msgLeaderUnavailable,
			"Session": r.session,
		}))
}

// reply writes a response the balancer produced itself.
func (r *relay) reply(resp *message.Response) error {
	message.SetClock(resp, r.b.clock.Tick())
	return r.front.WriteRaw(resp.String())
}

func (r *relay) dropBack() {
	if r.back != nil {
		r.stopBack()
		r.back.Close()
		r.back = nil
	}
}

func (r *relay) close() {
	r.dropBack()
	r.front.Close()
}
