package balancer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestNewHeartbeat verifies defaults.
func TestNewHeartbeat(t *testing.T) {
	hb := NewHeartbeat(5 * time.Second)
	defer hb.Stop()

	assert.Equal(t, 5*time.Second, hb.Interval())
	assert.Equal(t, "unknown", hb.Health().Status)
	assert.NotNil(t, hb.ctx)

	assert.Equal(t, DefaultHeartbeatSchedule, NewHeartbeat(0).Interval())
}

// TestHeartbeatProbesLeader verifies every tick probes whoever is leader
// at that moment.
func TestHeartbeatProbesLeader(t *testing.T) {
	hb := NewHeartbeat(20 * time.Millisecond)

	var mu sync.Mutex
	var probed []string
	hb.SetCheckFunction(func(addr string) error {
		mu.Lock()
		probed = append(probed, addr)
		mu.Unlock()
		return nil
	})

	leader := ServerInfo{Host: "127.0.0.1", Port: 4568}
	go hb.Start(context.Background(), func() ServerInfo { return leader })

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(probed) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	hb.Stop()

	mu.Lock()
	defer mu.Unlock()
	for _, addr := range probed {
		assert.Equal(t, "127.0.0.1:4568", addr)
	}

	health := hb.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, leader, health.Leader)
	assert.Zero(t, health.ConsecutiveFails)
	assert.False(t, health.LastHealthy.IsZero())
}

// TestHeartbeatFailureCallback verifies a failed probe triggers the
// callback with the failing leader, and the next tick sees the new one.
func TestHeartbeatFailureCallback(t *testing.T) {
	hb := NewHeartbeat(20 * time.Millisecond)
	defer hb.Stop()

	dead := ServerInfo{Host: "127.0.0.1", Port: 1}
	alive := ServerInfo{Host: "127.0.0.1", Port: 2}

	var mu sync.Mutex
	current := dead
	var failed []ServerInfo
	hb.SetCheckFunction(func(addr string) error {
		if addr == dead.Addr() {
			return errors.New("connection refused")
		}
		return nil
	})
	hb.SetOnFailure(func(leader ServerInfo) {
		mu.Lock()
		failed = append(failed, leader)
		current = alive
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hb.Start(ctx, func() ServerInfo {
		mu.Lock()
		defer mu.Unlock()
		return current
	})

	assert.Eventually(t, func() bool {
		h := hb.Health()
		return h.Leader == alive && h.Status == "healthy"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ServerInfo{dead}, failed)
}

// TestHeartbeatSkipsMissingLeader verifies no probe runs without a leader.
func TestHeartbeatSkipsMissingLeader(t *testing.T) {
	hb := NewHeartbeat(time.Hour)
	defer hb.Stop()

	called := false
	hb.SetCheckFunction(func(string) error {
		called = true
		return nil
	})
	hb.check(ServerInfo{})
	assert.False(t, called)
	assert.Zero(t, hb.Health().Checks)
}

// TestHeartbeatCountsConsecutiveFailures verifies failure accounting and
// its reset on success or leader change.
func TestHeartbeatCountsConsecutiveFailures(t *testing.T) {
	hb := NewHeartbeat(time.Hour)
	defer hb.Stop()

	fail := true
	hb.SetCheckFunction(func(string) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})

	a := ServerInfo{Host: "127.0.0.1", Port: 1}
	hb.check(a)
	hb.check(a)
	assert.Equal(t, 2, hb.Health().ConsecutiveFails)
	assert.Equal(t, "unhealthy", hb.Health().Status)

	hb.check(ServerInfo{Host: "127.0.0.1", Port: 2})
	assert.Equal(t, 1, hb.Health().ConsecutiveFails)

	fail = false
	hb.check(a)
	assert.Zero(t, hb.Health().ConsecutiveFails)
	assert.Equal(t, "healthy", hb.Health().Status)
	assert.Equal(t, 4, hb.Health().Checks)
}

// TestHeartbeatStopWithoutStart verifies Stop does not block.
func TestHeartbeatStopWithoutStart(t *testing.T) {
	hb := NewHeartbeat(time.Second)
	done := make(chan struct{})
	go func() {
		hb.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
}

// TestHeartbeatStartAfterStop verifies a Start that loses the race with
// Stop returns without probing.
func TestHeartbeatStartAfterStop(t *testing.T) {
	hb := NewHeartbeat(time.Millisecond)
	called := false
	hb.SetCheckFunction(func(string) error {
		called = true
		return nil
	})
	hb.Stop()

	done := make(chan struct{})
	go func() {
		hb.Start(context.Background(), func() ServerInfo {
			return ServerInfo{Host: "127.0.0.1", Port: 1}
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start ran after Stop")
	}
	assert.False(t, called)
}

// TestHeartbeatConcurrentStartStop exercises Start and Stop racing.
func TestHeartbeatConcurrentStartStop(t *testing.T) {
	for i := 0; i < 20; i++ {
		hb := NewHeartbeat(time.Millisecond)
		hb.SetCheckFunction(func(string) error { return nil })
		go hb.Start(context.Background(), func() ServerInfo {
			return ServerInfo{Host: "127.0.0.1", Port: 1}
		})
		hb.Stop()
	}
}
