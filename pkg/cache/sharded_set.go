// Package cache provides a sharded in-memory set of keys with expiry.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedSet remembers keys until they expire. Lookups on different keys
// rarely contend because each shard has its own lock.
type ShardedSet struct {
	shards [numShards]*shard
	now    func() time.Time
}

type shard struct {
	mu    sync.Mutex
	items map[string]time.Time // key -> expiry
}

// NewShardedSet creates an empty set.
func NewShardedSet() *ShardedSet {
	c := &ShardedSet{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{items: make(map[string]time.Time)}
	}
	return c
}

func (c *ShardedSet) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Add stores key for ttl and reports whether it was absent or expired.
func (c *ShardedSet) Add(key string, ttl time.Duration) bool {
	s := c.getShard(key)
	now := c.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.items[key]; ok && now.Before(exp) {
		return false
	}
	s.items[key] = now.Add(ttl)
	return true
}

// Contains reports whether key is present and unexpired.
func (c *ShardedSet) Contains(key string) bool {
	s := c.getShard(key)
	s.mu.Lock()
	exp, ok := s.items[key]
	s.mu.Unlock()
	return ok && c.now().Before(exp)
}

// Len returns total items across all shards, expired ones included.
func (c *ShardedSet) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}

// Cleanup removes expired entries and returns how many were removed.
func (c *ShardedSet) Cleanup() int {
	removed := 0
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for key, exp := range s.items {
			if !now.Before(exp) {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
