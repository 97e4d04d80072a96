// Package storage holds the station database: the authoritative mapping
// from station id to the most recent flat record accepted for it.
//
// # Overview
//
// Every accepted PUT decodes its body into (station id, record) pairs and
// writes each pair here, replacing whatever the station held before. GET
// requests read a single record back. Records are never deleted; the whole
// map may be replaced once at startup from a snapshot.
//
// A record is the string form of a station's ordered fields, without the
// surrounding braces:
//
//	"id": "A0",
//	"lat": 10,
//	"lon": 20.2,
//	"wind_spd_kt": "0x00f"
//
// # Core Interface
//
// Store: station database operations
//   - Get(id) - Latest record for a station, or ErrStationNotFound
//   - Put(id, record) - Store or replace a station's record
//   - List() - All known station ids, sorted
//   - Stats() - Station count and total record size
//   - Snapshot() / Restore(map) - Copy out and replace for persistence
//
// # Implementations
//
// MemoryStore: in-memory map behind a sync.RWMutex
//   - Reads take the shared lock, writes the exclusive lock
//   - Snapshot and Restore copy, so callers never share the live map
//
// # Concurrency
//
// All Store methods are safe for concurrent use. The aggregation server
// additionally serializes PUT processing with its own lock so that the
// archive and the database change together; the store's lock only protects
// the map itself.
//
// # Usage Example
//
//	db := storage.NewMemoryStore()
//	db.Put("A0", record)
//
//	record, err := db.Get("A0")
//	if errors.Is(err, storage.ErrStationNotFound) {
//	    // respond 404
//	}
package storage
