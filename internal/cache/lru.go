// Package cache holds the in-process availability cache used when Redis is off.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	value   []byte
	expires time.Time
}

// LRU is a size-bounded cache. The constructor TTL caps every entry; a shorter per-call TTL is honoured on read.
// Generation counters live outside the LRU and are never evicted.
type LRU struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time

	mu   sync.Mutex
	gens map[string]int64
}

func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 512
	}
	return &LRU{
		lru:  expirable.NewLRU[string, entry](size, nil, ttl),
		now:  time.Now,
		gens: make(map[string]int64),
	}
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
	return nil
}

func (c *LRU) Generation(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key], nil
}

func (c *LRU) Bump(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	return c.gens[key], nil
}

func (c *LRU) Len() int {
	return c.lru.Len()
}
