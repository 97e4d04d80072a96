package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrStationNotFound is returned when a station id has no record
var ErrStationNotFound = errors.New("station not found")

// Store defines the interface for the station database
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves the latest record for a station
	// Returns ErrStationNotFound if the station has never been written
	Get(id string) (string, error)

	// Put stores a record for a station
	// Overwrites any existing record for the station
	Put(id, record string)

	// List returns all station ids in sorted order
	List() []string

	// Stats returns storage statistics
	Stats() StoreStats

	// Snapshot returns a copy of every station record
	Snapshot() map[string]string

	// Restore replaces the contents with the given records
	Restore(records map[string]string)
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Stations int // Number of stations
	Bytes    int // Total size of all records in bytes
}

// MemoryStore implements Store with an in-memory map
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu      sync.RWMutex      // Protects concurrent access
	records map[string]string // Station id to flat record
}

// NewMemoryStore creates a new empty station database
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]string),
	}
}

// Get retrieves the record for a station
func (m *MemoryStore) Get(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[id]
	if !exists {
		return "", ErrStationNotFound
	}
	return record, nil
}

// Put stores the record for a station, replacing any previous one
func (m *MemoryStore) Put(id, record string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[id] = record
}

// List returns all station ids
func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, record := range m.records {
		totalBytes += len(record)
	}

	return StoreStats{
		Stations: len(m.records),
		Bytes:    totalBytes,
	}
}

// Snapshot returns a copy of all records
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.records))
	for id, record := range m.records {
		out[id] = record
	}
	return out
}

// Restore replaces all records with a copy of the given map
// A nil map empties the store
func (m *MemoryStore) Restore(records map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]string, len(records))
	for id, record := range records {
		m.records[id] = record
	}
}
