package overpass

import "sync"

type elementKey struct {
	id   int64
	kind string
}

// ElementCache holds fetched geometries for the lifetime of a process so a
// candidate scored during resolution is not downloaded again for export.
type ElementCache struct {
	mu       sync.Mutex
	elements map[elementKey]Element
}

// NewElementCache returns an empty cache.
func NewElementCache() *ElementCache {
	return &ElementCache{elements: make(map[elementKey]Element)}
}

// Get returns a cached element.
func (c *ElementCache) Get(id int64, kind string) (Element, bool) {
	if c == nil {
		return Element{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[elementKey{id: id, kind: kind}]
	return el, ok
}

// Put stores an element.
func (c *ElementCache) Put(id int64, kind string, el Element) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elements[elementKey{id: id, kind: kind}] = el
}

// Len reports the number of cached elements.
func (c *ElementCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.elements)
}

// Clear drops every cached element.
func (c *ElementCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elements = make(map[elementKey]Element)
}
