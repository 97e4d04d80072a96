package balancer

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultHeartbeatSchedule is how often the leader is probed when no
// schedule is configured.
const DefaultHeartbeatSchedule = 30 * time.Second

// LeaderHealth records the outcome of the most recent leader probes.
// Thread-safe: protected by Heartbeat's mutex when accessed.
type LeaderHealth struct {
	LastCheck        time.Time  // Timestamp of the last probe attempt
	LastHealthy      time.Time  // Timestamp of the last successful probe
	Leader           ServerInfo // Leader that was probed last
	Status           string     // "healthy", "unhealthy" or "unknown"
	ConsecutiveFails int        // Failed probes since the last success
	Checks           int        // Probes performed in total
}

// Heartbeat periodically probes the current leader and reports failures.
// Unlike a membership-wide health monitor it only ever looks at one
// server: whoever the leader provider names at each tick.
// Thread-safe: all methods are safe for concurrent access.
type Heartbeat struct {
	health    LeaderHealth
	checkFunc func(addr string) error // Probe for one server
	onFailure func(leader ServerInfo) // Invoked synchronously on a failed probe
	ctx       context.Context
	cancel    context.CancelFunc
	interval  time.Duration
	mu        sync.RWMutex
	wg        sync.WaitGroup
}

// NewHeartbeat creates a heartbeat that probes every interval. A
// non-positive interval selects DefaultHeartbeatSchedule.
//
// Example:
//
//	hb := NewHeartbeat(30 * time.Second)
//	hb.SetCheckFunction(probe)
//	hb.SetOnFailure(func(ServerInfo) { b.Elect() })
//	go hb.Start(ctx, b.Leader)
func NewHeartbeat(interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Heartbeat{
		interval: interval,
		health:   LeaderHealth{Status: "unknown"},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetCheckFunction sets the probe. It must be called before Start.
func (h *Heartbeat) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// SetOnFailure sets the callback run after a failed probe. The next tick
// is not processed until the callback returns.
func (h *Heartbeat) SetOnFailure(callback func(leader ServerInfo)) {
	h.onFailure = callback
}

// Interval returns the probe period.
func (h *Heartbeat) Interval() time.Duration {
	return h.interval
}

// Start probes the leader named by leaderProvider on every tick until ctx
// or Stop cancels it. The first probe happens one interval after Start.
// It blocks; run it in its own goroutine. After Stop it returns at once.
func (h *Heartbeat) Start(ctx context.Context, leaderProvider func() ServerInfo) {
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.check(leaderProvider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the heartbeat and waits for an in-flight probe and
// failure callback to finish.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()
	h.wg.Wait()
}

// check probes one leader and updates the health record.
func (h *Heartbeat) check(leader ServerInfo) {
	if leader.IsZero() || h.checkFunc == nil {
		return
	}

	err := h.checkFunc(leader.Addr())

	h.mu.Lock()
	h.health.Checks++
	h.health.LastCheck = time.Now()
	if h.health.Leader != leader {
		h.health.Leader = leader
		h.health.ConsecutiveFails = 0
	}
	if err == nil {
		if h.health.Status == "unhealthy" {
			log.Printf("leader %s recovered", leader)
		}
		h.health.Status = "healthy"
		h.health.ConsecutiveFails = 0
		h.health.LastHealthy = h.health.LastCheck
		h.mu.Unlock()
		return
	}
	h.health.Status = "unhealthy"
	h.health.ConsecutiveFails++
	fails := h.health.ConsecutiveFails
	h.mu.Unlock()

	log.Printf("heartbeat: leader %s failed (%d in a row): %v", leader, fails, err)
	if h.onFailure != nil && h.ctx.Err() == nil {
		h.onFailure(leader)
	}
}

// Health returns a copy of the current health record.
func (h *Heartbeat) Health() LeaderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health
}
