// Package archive implements the freshness window over accepted PUTs.
//
// The archive maps remote IP -> file name -> {Value, Timestamp}. Alongside
// it an update queue records every accepted PUT in arrival order. The queue
// is bounded to the freshness count: once it grows past the bound, the
// oldest update is popped and its archive entry removed, but only if the
// entry still carries the popped timestamp. A newer PUT to the same
// (ip, file) key overwrites the timestamp, so popping its predecessor leaves
// the newer entry alone. Time-based expiry pops with the same rule.
//
// Producer submaps are kept once created, even when every file in them has
// been evicted; a producer that has ever written is never "new" again.
package archive

import (
	"cmp"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// DefaultFreshCount is the number of most recent PUTs kept when no bound
// is configured.
const DefaultFreshCount = 20

// Entry is the archived body of one PUT and the Lamport timestamp the
// server assigned when accepting it.
type Entry struct {
	Value     string `json:"Value"`
	Timestamp uint64 `json:"Timestamp"`
}

// Update is one accepted PUT as recorded in the update queue.
type Update struct {
	RemoteIP   string
	FileName   string
	Timestamp  uint64
	AcceptedAt time.Time
}

// Archive holds the per-producer history and its update queue.
// Thread-safe: all methods may be called concurrently.
type Archive struct {
	entries    map[string]map[string]Entry // remoteIP -> fileName -> entry
	now        func() time.Time
	queue      []Update // oldest first
	freshCount int
	mu         sync.Mutex
}

// New returns an empty archive bounded to freshCount updates. A
// non-positive count selects DefaultFreshCount.
func New(freshCount int) *Archive {
	if freshCount <= 0 {
		freshCount = DefaultFreshCount
	}
	return &Archive{
		entries:    make(map[string]map[string]Entry),
		freshCount: freshCount,
		now:        time.Now,
	}
}

// FreshCount returns the queue bound.
func (a *Archive) FreshCount() int {
	return a.freshCount
}

// Accept records a PUT of body to fileName from remoteIP at Lamport time ts.
// In order it enqueues the update, pops and conditionally evicts while the
// queue exceeds the bound, then writes the entry. It reports whether this
// was the first PUT ever seen from remoteIP.
func (a *Archive) Accept(remoteIP, fileName, body string, ts uint64) (first bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, known := a.entries[remoteIP]

	a.queue = append(a.queue, Update{
		RemoteIP:   remoteIP,
		FileName:   fileName,
		Timestamp:  ts,
		AcceptedAt: a.now(),
	})
	for len(a.queue) > a.freshCount {
		a.evictLocked(a.popLocked())
	}

	files, ok := a.entries[remoteIP]
	if !ok {
		files = make(map[string]Entry)
		a.entries[remoteIP] = files
	}
	files[fileName] = Entry{Value: body, Timestamp: ts}

	return !known
}

// Expire pops every queued update accepted more than maxAge ago and
// conditionally evicts it. It returns how many updates were popped and how
// many archive entries were actually removed. A non-positive maxAge
// disables expiry.
func (a *Archive) Expire(maxAge time.Duration) (popped, removed int) {
	if maxAge <= 0 {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for len(a.queue) > 0 && now.Sub(a.queue[0].AcceptedAt) > maxAge {
		popped++
		if a.evictLocked(a.popLocked()) {
			removed++
		}
	}
	return popped, removed
}

// popLocked removes and returns the queue head. Caller holds mu and has
// checked the queue is non-empty.
func (a *Archive) popLocked() Update {
	head := a.queue[0]
	a.queue[0] = Update{}
	a.queue = a.queue[1:]
	return head
}

// evictLocked removes the entry for u only if it still carries u's
// timestamp. Caller holds mu.
func (a *Archive) evictLocked(u Update) bool {
	files, ok := a.entries[u.RemoteIP]
	if !ok {
		return false
	}
	entry, ok := files[u.FileName]
	if !ok || entry.Timestamp != u.Timestamp {
		return false
	}
	delete(files, u.FileName)
	return true
}

// HasProducer reports whether remoteIP has ever had a PUT accepted.
func (a *Archive) HasProducer(remoteIP string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[remoteIP]
	return ok
}

// Lookup returns the archived entry for (remoteIP, fileName).
func (a *Archive) Lookup(remoteIP, fileName string) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[remoteIP][fileName]
	return entry, ok
}

// Producer returns a copy of remoteIP's files. The map is empty, not nil,
// for a producer whose files have all been evicted.
func (a *Archive) Producer(remoteIP string) (map[string]Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	files, ok := a.entries[remoteIP]
	if !ok {
		return nil, false
	}
	out := make(map[string]Entry, len(files))
	for name, entry := range files {
		out[name] = entry
	}
	return out, true
}

// Len returns the number of archived entries across all producers.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, files := range a.entries {
		n += len(files)
	}
	return n
}

// Queue returns a copy of the update queue, oldest first.
func (a *Archive) Queue() []Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.queue)
}

// Snapshot returns a deep copy of the archive map.
func (a *Archive) Snapshot() map[string]map[string]Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]map[string]Entry, len(a.entries))
	for ip, files := range a.entries {
		copied := make(map[string]Entry, len(files))
		for name, entry := range files {
			copied[name] = entry
		}
		out[ip] = copied
	}
	return out
}

// Restore replaces the archive with entries and rebuilds the update queue
// from them in timestamp order, evicting whatever falls outside the
// freshness bound. Restored updates count as accepted now. It returns the
// largest restored timestamp so the caller can advance its clock.
func (a *Archive) Restore(entries map[string]map[string]Entry) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = make(map[string]map[string]Entry, len(entries))
	a.queue = nil
	now := a.now()
	var maxTS uint64

	for ip, files := range entries {
		copied := make(map[string]Entry, len(files))
		for name, entry := range files {
			copied[name] = entry
			a.queue = append(a.queue, Update{
				RemoteIP:   ip,
				FileName:   name,
				Timestamp:  entry.Timestamp,
				AcceptedAt: now,
			})
			maxTS = max(maxTS, entry.Timestamp)
		}
		a.entries[ip] = copied
	}

	slices.SortFunc(a.queue, func(x, y Update) int {
		return cmp.Compare(x.Timestamp, y.Timestamp)
	})
	for len(a.queue) > a.freshCount {
		a.evictLocked(a.popLocked())
	}
	return maxTS
}
