package detector

import (
	"hash/fnv"
	"sync"

	"xrpl-token-watch/internal/domain"
)

const catalogShards = 16

// Catalog is the shared token map, keyed by (currency, issuer). Mutation is
// serialized per key via shard locks; callers never hold a shard lock across
// a network query. Tokens are never deleted.
type Catalog struct {
	shards [catalogShards]catalogShard
}

type catalogShard struct {
	mu     sync.RWMutex
	tokens map[string]*domain.Token
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{}
	for i := range c.shards {
		c.shards[i].tokens = make(map[string]*domain.Token)
	}
	return c
}

func (c *Catalog) shard(key string) *catalogShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%catalogShards]
}

// Get returns a copy of the token for the key.
func (c *Catalog) Get(key string) (*domain.Token, bool) {
	s := c.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[key]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Put inserts or replaces the token under its key.
func (c *Catalog) Put(t *domain.Token) {
	key := t.Key()
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.tokens[key] = &cp
}

// Update applies fn to the stored token under the shard lock. Returns false
// when the key is not tracked. Last write wins when a refresh and an
// enrichment race on the same key.
func (c *Catalog) Update(key string, fn func(*domain.Token)) bool {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[key]
	if !ok {
		return false
	}
	fn(t)
	return true
}

// Len returns the number of tracked tokens.
func (c *Catalog) Len() int {
	n := 0
	for i := range c.shards {
		c.shards[i].mu.RLock()
		n += len(c.shards[i].tokens)
		c.shards[i].mu.RUnlock()
	}
	return n
}

// All returns copies of every tracked token, in no particular order.
func (c *Catalog) All() []*domain.Token {
	var out []*domain.Token
	for i := range c.shards {
		c.shards[i].mu.RLock()
		for _, t := range c.shards[i].tokens {
			cp := *t
			out = append(out, &cp)
		}
		c.shards[i].mu.RUnlock()
	}
	return out
}
