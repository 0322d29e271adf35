package service

import (
	"encoding/json"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/classify"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/request"
)

type lruEntry struct {
	key     uint64
	verdict classify.Verdict
	prev    *lruEntry
	next    *lruEntry
}

// VerdictCache is a bounded LRU of evaluator verdicts keyed by request
// content. Get and Put both reorder the list, so a plain Mutex is used.
type VerdictCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewVerdictCache creates a cache holding at most maxSize verdicts.
func NewVerdictCache(maxSize int) *VerdictCache {
	return &VerdictCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get returns a copy of the cached verdict and promotes it.
func (c *VerdictCache) Get(key uint64) (classify.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.verdict.Clone(), true
	}
	return classify.Verdict{}, false
}

// Put stores a copy of v, evicting the least recently used entry when full.
func (c *VerdictCache) Put(key uint64, v classify.Verdict) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.verdict = v.Clone()
		c.moveToHeadLocked(e)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}
	e := &lruEntry{key: key, verdict: v.Clone()}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache.
func (c *VerdictCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns the number of cached verdicts.
func (c *VerdictCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *VerdictCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *VerdictCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *VerdictCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *VerdictCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// verdictKey hashes everything the evaluator sees. encoding/json sorts map
// keys, so equal inputs always produce the same key.
func verdictKey(prompt string, reqContext map[string]any, tools []request.ToolRequest) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(prompt)
	_, _ = h.Write([]byte{0})
	if len(reqContext) > 0 {
		b, _ := json.Marshal(reqContext)
		_, _ = h.Write(b)
	}
	_, _ = h.Write([]byte{0})
	if len(tools) > 0 {
		b, _ := json.Marshal(tools)
		_, _ = h.Write(b)
	}
	return h.Sum64()
}
