// Package statistics tracks proxy-wide counters and leaderboards,
// snapshotted on demand for the management API.
package statistics

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	topBlockedPathsCapacity = 1000
	entriesPerTable         = 50
)

// Snapshot is the serializable view of Statistics returned by Get.
type Snapshot struct {
	ProxiedRequests   uint64        `json:"proxied_requests"`
	BlockedRequests   uint64        `json:"blocked_requests"`
	ModifiedResponses uint64        `json:"modified_responses"`
	TopBlockedPaths   []CountEntry  `json:"top_blocked_paths"`
	TopClients        []CountEntry  `json:"top_clients"`
}

// CountEntry is one (key, count) pair in a sorted leaderboard.
type CountEntry struct {
	Key   string `json:"key"`
	Count uint64 `json:"count"`
}

// Statistics holds every counter with its own mutex, so a hot-path
// increment on one field never contends with a read of another.
type Statistics struct {
	proxiedMu   sync.Mutex
	proxied     uint64
	blockedMu   sync.Mutex
	blocked     uint64
	modifiedMu  sync.Mutex
	modified    uint64

	pathsMu sync.Mutex
	paths   *lru.Cache[string, uint64]

	clientsMu sync.Mutex
	clients   map[string]uint64
}

// New returns a zeroed Statistics.
func New() *Statistics {
	paths, err := lru.New[string, uint64](topBlockedPathsCapacity)
	if err != nil {
		panic("statistics: unexpected lru.New error: " + err.Error())
	}
	return &Statistics{
		paths:   paths,
		clients: make(map[string]uint64),
	}
}

func (s *Statistics) IncrementProxiedRequests() uint64 {
	s.proxiedMu.Lock()
	defer s.proxiedMu.Unlock()
	s.proxied++
	return s.proxied
}

func (s *Statistics) IncrementBlockedRequests() uint64 {
	s.blockedMu.Lock()
	defer s.blockedMu.Unlock()
	s.blocked++
	return s.blocked
}

func (s *Statistics) IncrementModifiedResponses() uint64 {
	s.modifiedMu.Lock()
	defer s.modifiedMu.Unlock()
	s.modified++
	return s.modified
}

// IncrementTopBlockedPath bumps path's hit count, least-recently-touched
// entries evicted once the LRU exceeds its capacity.
func (s *Statistics) IncrementTopBlockedPath(path string) {
	s.pathsMu.Lock()
	defer s.pathsMu.Unlock()
	count, _ := s.paths.Get(path)
	s.paths.Add(path, count+1)
}

// IncrementTopClient bumps client's request count. Unlike top blocked
// paths this has no eviction: distinct client IPs are assumed bounded in
// practice by the deployment's address space.
func (s *Statistics) IncrementTopClient(client string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[client]++
}

// Get returns a point-in-time snapshot with each leaderboard capped to the
// top 50 entries by count, descending.
func (s *Statistics) Get() Snapshot {
	s.proxiedMu.Lock()
	proxied := s.proxied
	s.proxiedMu.Unlock()

	s.blockedMu.Lock()
	blocked := s.blocked
	s.blockedMu.Unlock()

	s.modifiedMu.Lock()
	modified := s.modified
	s.modifiedMu.Unlock()

	s.pathsMu.Lock()
	paths := make([]CountEntry, 0, s.paths.Len())
	for _, key := range s.paths.Keys() {
		if count, ok := s.paths.Peek(key); ok {
			paths = append(paths, CountEntry{Key: key, Count: count})
		}
	}
	s.pathsMu.Unlock()

	s.clientsMu.Lock()
	clients := make([]CountEntry, 0, len(s.clients))
	for key, count := range s.clients {
		clients = append(clients, CountEntry{Key: key, Count: count})
	}
	s.clientsMu.Unlock()

	return Snapshot{
		ProxiedRequests:   proxied,
		BlockedRequests:   blocked,
		ModifiedResponses: modified,
		TopBlockedPaths:   topN(paths, entriesPerTable),
		TopClients:        topN(clients, entriesPerTable),
	}
}

func topN(entries []CountEntry, n int) []CountEntry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Count > entries[j].Count })
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
