// Package sigcache implements the thinking-signature cache (C1): a small,
// process-local, bounded store of opaque signature strings keyed by either
// a tool-use id or a model-family name, so the proxy can re-inject a
// signature the client dropped between turns.
package sigcache

import (
	"container/list"
	"sync"
)

// MinSignatureLength is the minimum accepted signature byte length.
// Signatures shorter than this are almost certainly truncated or corrupted
// and are rejected at Put (spec.md §4.1).
const MinSignatureLength = 8

// DefaultMaxEntries bounds each namespace's entry count before
// least-recently-inserted eviction kicks in (spec.md §4.1: "e.g. 1024").
const DefaultMaxEntries = 1024

// Cache holds two independent namespaces: signatures keyed by tool-use id,
// and signatures keyed by model family (the fallback namespace). Each
// namespace is bounded and evicted independently so a burst of tool calls
// for one model can't starve the other model's family entry.
type Cache struct {
	mu         sync.RWMutex
	byToolID   *namespace
	byModelFam *namespace
}

// New creates a Cache with both namespaces bounded to maxEntries. A
// maxEntries <= 0 uses DefaultMaxEntries.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		byToolID:   newNamespace(maxEntries),
		byModelFam: newNamespace(maxEntries),
	}
}

// PutToolID stores sig under toolUseID. Signatures shorter than
// MinSignatureLength are silently rejected (not an error — callers do not
// need to branch on "was this signature worth caching").
func (c *Cache) PutToolID(toolUseID, sig string) {
	if len(sig) < MinSignatureLength || toolUseID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byToolID.put(toolUseID, sig)
}

// GetToolID returns the signature cached for toolUseID, if any.
func (c *Cache) GetToolID(toolUseID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byToolID.get(toolUseID)
}

// PutModelFamily stores sig under modelFamily.
func (c *Cache) PutModelFamily(modelFamily, sig string) {
	if len(sig) < MinSignatureLength || modelFamily == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byModelFam.put(modelFamily, sig)
}

// GetModelFamily returns the signature cached for modelFamily, if any.
func (c *Cache) GetModelFamily(modelFamily string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byModelFam.get(modelFamily)
}

// Resolve looks up toolUseID first, falling back to modelFamily, matching
// the resolution order spec.md §4.2's "signature re-injection" describes.
func (c *Cache) Resolve(toolUseID, modelFamily string) (string, bool) {
	if toolUseID != "" {
		if sig, ok := c.GetToolID(toolUseID); ok {
			return sig, true
		}
	}
	if modelFamily != "" {
		if sig, ok := c.GetModelFamily(modelFamily); ok {
			return sig, true
		}
	}
	return "", false
}

// Stats reports cumulative hit/miss counts across both namespaces.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byToolID.hits + c.byModelFam.hits, c.byToolID.misses + c.byModelFam.misses
}

// namespace is a bounded map with least-recently-inserted eviction, backed
// by a doubly-linked list tracking insertion order. Unlike an LRU cache,
// reading an entry never moves it — only insertion order matters here,
// per spec.md §4.1's "evict least-recently-inserted on overflow".
type namespace struct {
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = oldest insertion, back = newest

	hits   int64
	misses int64
}

type namespaceEntry struct {
	key   string
	value string
}

func newNamespace(maxEntries int) *namespace {
	return &namespace{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (n *namespace) get(key string) (string, bool) {
	el, ok := n.entries[key]
	if !ok {
		n.misses++
		return "", false
	}
	n.hits++
	return el.Value.(*namespaceEntry).value, true
}

// put overwrites an existing key's value without changing its insertion
// position, and otherwise evicts the oldest entry if at capacity before
// inserting the new one at the back.
func (n *namespace) put(key, value string) {
	if el, ok := n.entries[key]; ok {
		el.Value.(*namespaceEntry).value = value
		return
	}
	if n.order.Len() >= n.maxEntries {
		oldest := n.order.Front()
		if oldest != nil {
			n.order.Remove(oldest)
			delete(n.entries, oldest.Value.(*namespaceEntry).key)
		}
	}
	el := n.order.PushBack(&namespaceEntry{key: key, value: value})
	n.entries[key] = el
}
