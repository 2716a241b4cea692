// Package cache provides the shared block cache used for persisted-layer
// reads: an LRU with TinyLFU admission, so a scan cannot evict blocks that
// are read frequently.
package cache

import (
	"sync"

	"github.com/dgryski/go-metro"

	"layerkv/utils"
)

type node struct {
	key        uint64
	value      interface{}
	prev, next *node
}

type list struct {
	head *node
	tail *node
	sz   int
}

func newList() *list {
	head := &node{}
	tail := &node{}
	head.next = tail
	tail.prev = head
	return &list{head: head, tail: tail}
}

func (l *list) remove(n *node) *node {
	l.sz--
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
	return n
}

func (l *list) pushFront(n *node) {
	l.sz++
	next := l.head.next
	n.next = next
	next.prev = n
	n.prev = l.head
	l.head.next = n
}

func (l *list) back() *node {
	if l.tail.prev == l.head {
		return nil
	}
	return l.tail.prev
}

// BlockCache caches decoded blocks keyed by (fid, block index) packed into
// a uint64.
type BlockCache struct {
	mu        sync.Mutex
	data      map[uint64]*node
	lru       *list
	sketch    *cmSketch
	capacity  int
	w         int
	threshold int
}

func NewBlockCache(capacity int) *BlockCache {
	if capacity < 1 {
		capacity = 1
	}
	// The sketch holds many more counters than the cache holds blocks, so
	// one-shot scan traffic does not collide into the counters of resident
	// keys; the aging window scales with it.
	return &BlockCache{
		data:      make(map[uint64]*node, capacity),
		lru:       newList(),
		sketch:    newCmSketch(int64(capacity) * 10),
		capacity:  capacity,
		threshold: capacity * 80,
	}
}

func (c *BlockCache) Get(key uint64) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(key)
	n, ok := c.data[key]
	if !ok {
		return nil, false
	}
	c.lru.remove(n)
	c.lru.pushFront(n)
	return n.value, true
}

func (c *BlockCache) Add(key uint64, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(key)
	if n, ok := c.data[key]; ok {
		n.value = value
		c.lru.remove(n)
		c.lru.pushFront(n)
		return
	}
	if len(c.data) >= c.capacity {
		victim := c.lru.back()
		// Admit only when the candidate has been seen more often than the
		// LRU victim.
		if c.sketch.Estimate(keyToHash(key)) <= c.sketch.Estimate(keyToHash(victim.key)) {
			return
		}
		c.lru.remove(victim)
		delete(c.data, victim.key)
	}
	n := &node{key: key, value: value}
	c.lru.pushFront(n)
	c.data[key] = n
}

// Len returns the number of cached blocks.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// touch records an access in the frequency sketch, aging it periodically.
func (c *BlockCache) touch(key uint64) {
	c.w++
	if c.w >= c.threshold {
		c.sketch.Reset()
		c.w = 0
	}
	c.sketch.Increment(keyToHash(key))
}

func keyToHash(key uint64) uint64 {
	return metro.Hash64(utils.U64ToBytes(key), 0)
}
