package balancer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/exp/slices"
)

var (
	// ErrAlreadyRegistered is returned when adding an address twice.
	ErrAlreadyRegistered = errors.New("server already registered")
	// ErrNotRegistered is returned when a leader is chosen outside the
	// registry.
	ErrNotRegistered = errors.New("server not registered")
)

// ServerInfo is the address of one aggregation server.
type ServerInfo struct {
	Host string
	Port int
}

// Addr returns the dialable "host:port" form.
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s ServerInfo) String() string {
	return s.Addr()
}

// IsZero reports whether s names no server.
func (s ServerInfo) IsZero() bool {
	return s.Host == "" && s.Port == 0
}

// Registry is the ordered membership list of aggregation servers the
// balancer can elect as leader, plus the current leader.
//
// Members keep their insertion order; election walks them front to back.
// Members are never removed: a dead server stays registered and is simply
// skipped by election until it answers probes again.
//
// Thread Safety:
// All methods are safe for concurrent use. Returned slices are copies.
type Registry struct {
	members []ServerInfo
	leader  ServerInfo
	mu      sync.RWMutex
}

// NewRegistry returns an empty registry with no leader.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends s to the membership list.
func (r *Registry) Add(s ServerInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.Contains(r.members, s) {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, s)
	}
	r.members = append(r.members, s)
	return nil
}

// Contains reports whether host:port is registered.
func (r *Registry) Contains(host string, port int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.ContainsFunc(r.members, func(s ServerInfo) bool {
		return s.Host == host && s.Port == port
	})
}

// Index returns the insertion position of s, or -1.
func (r *Registry) Index(s ServerInfo) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.IndexFunc(r.members, func(m ServerInfo) bool {
		return m == s
	})
}

// Members returns the registered servers in insertion order.
func (r *Registry) Members() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.members)
}

// Len returns the number of registered servers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

// Leader returns the current leader; the zero ServerInfo before one is set.
func (r *Registry) Leader() ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.leader
}

// SetLeader makes s the leader. s must already be registered.
func (r *Registry) SetLeader(s ServerInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !slices.Contains(r.members, s) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, s)
	}
	r.leader = s
	return nil
}
