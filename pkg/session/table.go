package session

import (
	"hash/fnv"
	"sync"
	"time"
)

// shardCount controls the session table's lock striping; sized small
// since session counts per gateway instance are modest relative to
// request concurrency.
const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Table is a sharded session store: shard by session-id hash, per-shard
// mutual exclusion, no cross-shard operations, per §5 Concurrency model.
type Table struct {
	shards [shardCount]*shard
}

// NewTable builds an empty session Table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return t
}

func (t *Table) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return t.shards[h.Sum32()%shardCount]
}

// Put registers s in the table, keyed by s.ID.
func (t *Table) Put(s *Session) {
	sh := t.shardFor(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sessions[s.ID] = s
}

// Get returns the session with the given id, or nil if none exists.
func (t *Table) Get(id string) *Session {
	sh := t.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.sessions[id]
}

// Delete removes the session with the given id, releasing its backend
// sub-sessions first.
func (t *Table) Delete(id string) {
	sh := t.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.sessions[id]; ok {
		s.backends.Release()
		delete(sh.sessions, id)
	}
}

// ReapIdle removes and releases every session idle longer than ttl,
// returning the number reaped.
func (t *Table) ReapIdle(ttl time.Duration) int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if s.Idle(ttl) {
				s.backends.Release()
				delete(sh.sessions, id)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}
